package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowweave/transport/cmn/config"
)

func writeTemp(dir, contents string) string {
	path := filepath.Join(dir, "config.yaml")
	Expect(os.WriteFile(path, []byte(contents), 0o600)).To(Succeed())
	return path
}

var _ = Describe("Load", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "flowctl-config-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("applies defaults for an empty config file", func() {
		path := writeTemp(dir, "")
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Queue.DefaultLength).To(Equal(4))
		Expect(cfg.Tunnel.DialTimeout).To(Equal(3 * time.Second))
		Expect(cfg.Monitor.Tick).To(Equal(50 * time.Millisecond))
		Expect(cfg.Logging.Level).To(Equal("info"))
	})

	It("honors explicit values over defaults", func() {
		path := writeTemp(dir, `
queue:
  default_length: 16
tunnel:
  compression: true
  bulk_bytes_per_sec: 1048576
  dial_timeout: 10s
monitor:
  tick: 100ms
logging:
  level: warning
`)
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Queue.DefaultLength).To(Equal(16))
		Expect(cfg.Tunnel.Compression).To(BeTrue())
		Expect(cfg.Tunnel.BulkBytesPerSec).To(Equal(1048576.0))
		Expect(cfg.Tunnel.DialTimeout).To(Equal(10 * time.Second))
		Expect(cfg.Monitor.Tick).To(Equal(100 * time.Millisecond))
		Expect(cfg.Logging.Level).To(Equal("warning"))
	})

	It("rejects a negative bulk byte rate", func() {
		path := writeTemp(dir, "tunnel:\n  bulk_bytes_per_sec: -1\n")
		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown logging level", func() {
		path := writeTemp(dir, "logging:\n  level: verbose\n")
		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("errors when the file doesn't exist", func() {
		_, err := config.Load(filepath.Join(dir, "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
