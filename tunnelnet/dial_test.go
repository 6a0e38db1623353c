package tunnelnet_test

import (
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowweave/transport/tunnelnet"
)

func listen() (net.Listener, string) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	return l, l.Addr().String()
}

var _ = Describe("Dial", func() {
	It("connects over a single address", func() {
		l, addr := listen()
		defer l.Close()
		go func() {
			c, err := l.Accept()
			if err == nil {
				defer c.Close()
			}
		}()

		h := &recordingHandler{}
		conn, err := tunnelnet.Dial("peerX", []string{addr}, h)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()
		Expect(conn.PeerNodeID()).To(Equal("peerX"))
	})

	It("races multiple addresses and keeps the first success", func() {
		l, addr := listen()
		defer l.Close()
		go func() {
			c, err := l.Accept()
			if err == nil {
				defer c.Close()
			}
		}()

		h := &recordingHandler{}
		// one unreachable address (nothing listening) plus the real one;
		// Dial should still succeed via the real listener.
		conn, err := tunnelnet.Dial("peerY", []string{"127.0.0.1:1", addr}, h)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()
		Expect(conn.PeerNodeID()).To(Equal("peerY"))
	})

	It("fails when given no addresses", func() {
		h := &recordingHandler{}
		_, err := tunnelnet.Dial("peerZ", nil, h)
		Expect(err).To(MatchError(tunnelnet.ErrNoAddresses))
	})

	It("fails when every address is unreachable", func() {
		h := &recordingHandler{}
		_, err := tunnelnet.Dial("peerW", []string{"127.0.0.1:1", "127.0.0.1:2"}, h)
		Expect(err).To(HaveOccurred())
	}, 5)

	It("SendToken returns ErrWouldBlock once the outbound buffer is saturated", func() {
		l, addr := listen()
		defer l.Close()
		acceptedCh := make(chan net.Conn, 1)
		go func() {
			c, err := l.Accept()
			if err == nil {
				acceptedCh <- c
			}
		}()

		h := &recordingHandler{}
		conn, err := tunnelnet.Dial("peerFull", []string{addr}, h)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		var server net.Conn
		Eventually(acceptedCh, time.Second).Should(Receive(&server))
		defer server.Close()

		// Don't read from server: let the OS+internal buffers fill, then
		// saturate the internal outCh itself by sending far more than its
		// capacity in a tight loop without yielding to the writer.
		var lastErr error
		for i := 0; i < 100000; i++ {
			lastErr = conn.SendToken(emptyToken(i))
			if lastErr != nil {
				break
			}
		}
		Expect(lastErr).To(HaveOccurred())
	}, 10)
})
