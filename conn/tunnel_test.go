package conn_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowweave/transport/conn"
	"github.com/flowweave/transport/directory"
	"github.com/flowweave/transport/directory/buntstore"
	"github.com/flowweave/transport/monitor"
	"github.com/flowweave/transport/port"
)

var _ = Describe("TunnelConnection", func() {
	var (
		outPort   *port.Port
		dir       *buntstore.Store
		mon       *monitor.Monitor
		sched     *fakeHandle
		dialer    *fakeDialer
		allocator *fakeAllocator
	)

	BeforeEach(func() {
		var err error
		dir, err = buntstore.Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
		mon = monitor.New(0)
		sched = &fakeHandle{}
		outPort = port.New("p-out", "actorA", "out", port.Out)
		dialer = &fakeDialer{transport: &fakeTransport{peerNodeID: "node2"}}
		allocator = &fakeAllocator{}

		Expect(dir.Put("p-peer-in", directory.PortRecord{NodeID: "node2", ActorID: "actorB"})).To(Succeed())
	})

	AfterEach(func() { Expect(dir.Close()).To(Succeed()) })

	It("dials the peer node, requests remote allocation, and attaches a TunnelOutEndpoint", func() {
		var gotInfo conn.ConnectInfo
		var gotErr error
		tc := &conn.TunnelConnection{
			NodeID: "node1", Port: outPort, PeerPortID: "p-peer-in", PeerActorID: "actorB",
			Dir: dir, Mon: mon, Sched: sched, Dialer: dialer, Allocator: allocator,
			Callback: func(info conn.ConnectInfo, err error) { gotInfo, gotErr = info, err },
		}
		Expect(tc.Connect()).To(Succeed())
		Expect(gotErr).NotTo(HaveOccurred())
		Expect(gotInfo.PeerNodeID).To(Equal("node2"))
		Expect(dialer.dialed).To(Equal([]string{"node2"}))
		Expect(allocator.allocateRequests).To(HaveLen(1))
		Expect(allocator.allocateRequests[0].PeerPortID).To(Equal("p-peer-in"))
		Expect(outPort.Endpoints()).To(HaveLen(1))
	})

	It("fails with an error when the peer port is not in the directory", func() {
		var gotErr error
		tc := &conn.TunnelConnection{
			NodeID: "node1", Port: outPort, PeerPortID: "unknown", Dir: dir, Mon: mon, Sched: sched,
			Dialer: dialer, Allocator: allocator,
			Callback: func(_ conn.ConnectInfo, err error) { gotErr = err },
		}
		err := tc.Connect()
		Expect(err).To(HaveOccurred())
		Expect(gotErr).To(HaveOccurred())
		Expect(outPort.Endpoints()).To(BeEmpty())
	})

	It("fails with an error when the dial fails", func() {
		dialer.err = errors.New("unreachable")
		var gotErr error
		tc := &conn.TunnelConnection{
			NodeID: "node1", Port: outPort, PeerPortID: "p-peer-in", Dir: dir, Mon: mon, Sched: sched,
			Dialer: dialer, Allocator: allocator,
			Callback: func(_ conn.ConnectInfo, err error) { gotErr = err },
		}
		err := tc.Connect()
		Expect(err).To(HaveOccurred())
		Expect(gotErr).To(HaveOccurred())
		Expect(outPort.Endpoints()).To(BeEmpty())
	})

	It("fails with an error when the peer refuses allocation", func() {
		allocator.allocateErr = errors.New("refused")
		var gotErr error
		tc := &conn.TunnelConnection{
			NodeID: "node1", Port: outPort, PeerPortID: "p-peer-in", Dir: dir, Mon: mon, Sched: sched,
			Dialer: dialer, Allocator: allocator,
			Callback: func(_ conn.ConnectInfo, err error) { gotErr = err },
		}
		err := tc.Connect()
		Expect(err).To(HaveOccurred())
		Expect(gotErr).To(HaveOccurred())
		Expect(outPort.Endpoints()).To(BeEmpty())
	})

	It("disconnects, asking the peer to symmetrically tear down its side", func() {
		tc := &conn.TunnelConnection{
			NodeID: "node1", Port: outPort, PeerPortID: "p-peer-in", Dir: dir, Mon: mon, Sched: sched,
			Dialer: dialer, Allocator: allocator,
		}
		Expect(tc.Connect()).To(Succeed())
		Expect(tc.Disconnect(port.Full)).To(Succeed())
		Expect(outPort.Endpoints()).To(BeEmpty())
	})
})
