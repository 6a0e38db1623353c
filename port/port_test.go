package port_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowweave/transport/endpoint"
	"github.com/flowweave/transport/port"
	"github.com/flowweave/transport/queue"
	"github.com/flowweave/transport/token"
)

var _ = Describe("Port", func() {
	var p *port.Port

	BeforeEach(func() {
		p = port.New("port1", "actor1", "out", port.Out)
		Expect(p.SetQueue(queue.NewFanoutFIFO(4))).To(Succeed())
	})

	It("attaching a new endpoint for a fresh peer returns no displaced endpoint", func() {
		ep := endpoint.NewLocalOutEndpoint(p.ID(), "peer1", p.Queue(), queue.NewFanoutFIFO(4), nil)
		displaced := p.AttachEndpoint(ep)
		Expect(displaced).To(BeNil())
		Expect(p.Endpoints()).To(HaveLen(1))
	})

	It("attaching a second endpoint for the same peer displaces the first", func() {
		ep1 := endpoint.NewLocalOutEndpoint(p.ID(), "peer1", p.Queue(), queue.NewFanoutFIFO(4), nil)
		p.AttachEndpoint(ep1)

		ep2 := endpoint.NewLocalOutEndpoint(p.ID(), "peer1", p.Queue(), queue.NewFanoutFIFO(4), nil)
		displaced := p.AttachEndpoint(ep2)

		Expect(displaced).To(Equal(endpoint.Endpoint(ep1)))
		Expect(p.Endpoints()).To(HaveLen(1))
	})

	It("refuses to replace the queue while reads are uncommitted", func() {
		ep := endpoint.NewLocalOutEndpoint(p.ID(), "peer1", p.Queue(), queue.NewFanoutFIFO(4), nil)
		p.AttachEndpoint(ep)
		Expect(p.Queue().Write(token.New("int", 1))).To(Succeed())
		_, _ = p.Queue().Peek("peer1")

		err := p.SetQueue(queue.NewFanoutFIFO(4))
		Expect(err).To(HaveOccurred())
	})

	It("refuses to replace an in-port's queue while reads are uncommitted", func() {
		// An in-endpoint registers its reader under the port's own id, not
		// the peer id p.endpoints is keyed by, so this exercises the branch
		// the out-port case above doesn't.
		inPort := port.New("port2", "actor2", "in", port.In)
		Expect(inPort.SetQueue(queue.NewFanoutFIFO(4))).To(Succeed())
		ep := endpoint.NewLocalInEndpoint(inPort.ID(), "peer2", inPort.Queue())
		inPort.AttachEndpoint(ep)
		Expect(inPort.Queue().Write(token.New("int", 1))).To(Succeed())
		_, _ = inPort.Queue().Peek(inPort.ID())

		err := inPort.SetQueue(queue.NewFanoutFIFO(4))
		Expect(err).To(HaveOccurred())
	})

	It("feeds exhausted tokens into the queue in ascending sequence order", func() {
		residual := map[int64]token.Token{
			2: token.New("int", 2),
			0: token.New("int", 0),
			1: token.New("int", 1),
		}
		p.ExhaustedTokens(residual)
		Expect(p.Queue().AddReader("r")).To(Succeed())

		got, err := p.Queue().Peek("r")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Value()).To(Equal(0))
		got, _ = p.Queue().Peek("r")
		Expect(got.Value()).To(Equal(1))
		got, _ = p.Queue().Peek("r")
		Expect(got.Value()).To(Equal(2))
	})

	It("disconnect detaches and returns the targeted endpoints", func() {
		ep := endpoint.NewLocalOutEndpoint(p.ID(), "peer1", p.Queue(), queue.NewFanoutFIFO(4), nil)
		p.AttachEndpoint(ep)

		removed := p.Disconnect([]string{"peer1"}, port.Full)
		Expect(removed).To(HaveLen(1))
		Expect(p.Endpoints()).To(BeEmpty())
	})
})
