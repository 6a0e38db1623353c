package monitor_test

import (
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowweave/transport/monitor"
)

type countingComm struct {
	calls  int64
	panics bool
}

func (c *countingComm) Communicate() bool {
	atomic.AddInt64(&c.calls, 1)
	if c.panics {
		panic("boom")
	}
	return true
}

func (c *countingComm) count() int64 { return atomic.LoadInt64(&c.calls) }

var _ = Describe("Monitor", func() {
	var m *monitor.Monitor

	BeforeEach(func() {
		m = monitor.New(5 * time.Millisecond)
		go m.Run()
	})

	AfterEach(func() {
		m.Stop()
	})

	It("drives a registered endpoint's Communicate on every tick", func() {
		c := &countingComm{}
		m.RegisterEndpoint("ep1", c)

		Eventually(c.count, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 3))
	})

	It("stops driving an unregistered endpoint", func() {
		c := &countingComm{}
		m.RegisterEndpoint("ep1", c)
		Eventually(c.count, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))

		m.UnregisterEndpoint("ep1")
		time.Sleep(20 * time.Millisecond)
		n := c.count()
		time.Sleep(30 * time.Millisecond)
		Expect(c.count()).To(Equal(n))
	})

	It("does not register the same id twice", func() {
		c1 := &countingComm{}
		c2 := &countingComm{}
		m.RegisterEndpoint("dup", c1)
		m.RegisterEndpoint("dup", c2)

		Eventually(c1.count, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))
		Expect(c2.count()).To(BeZero())
	})

	It("survives a panicking Communicate without stopping the loop", func() {
		bad := &countingComm{panics: true}
		good := &countingComm{}
		m.RegisterEndpoint("bad", bad)
		m.RegisterEndpoint("good", good)

		Eventually(good.count, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 3))
		Expect(bad.count()).To(BeNumerically(">=", 1))
	})

	It("ignores unregistering an id that was never registered", func() {
		Expect(func() { m.UnregisterEndpoint("nope") }).NotTo(Panic())
	})
})
