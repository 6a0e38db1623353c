package tunnelnet_test

import (
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowweave/transport/tunnel"
	"github.com/flowweave/transport/tunnelnet"
)

type recordingHandler struct {
	mu      sync.Mutex
	tokens  []tunnel.Token
	replies []tunnel.TokenReply
}

func (h *recordingHandler) RecvToken(t tunnel.Token) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens = append(h.tokens, t)
}

func (h *recordingHandler) RecvReply(r tunnel.TokenReply) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies = append(h.replies, r)
}

func (h *recordingHandler) tokenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tokens)
}

func (h *recordingHandler) replyCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.replies)
}

func pipeConns() (*tunnelnet.Conn, *tunnelnet.Conn, *recordingHandler, *recordingHandler) {
	c1, c2 := net.Pipe()
	h1 := &recordingHandler{}
	h2 := &recordingHandler{}
	return tunnelnet.NewConn(c1, "peerA", h1), tunnelnet.NewConn(c2, "peerB", h2), h1, h2
}

var _ = Describe("Conn", func() {
	var a, b *tunnelnet.Conn
	var ha, hb *recordingHandler

	BeforeEach(func() {
		a, b, ha, hb = pipeConns()
	})

	AfterEach(func() {
		_ = a.Close()
		_ = b.Close()
	})

	It("delivers a token sent on one side to the other side's handler", func() {
		Expect(a.SendToken(tunnel.NewToken("p1", "p2", 1, []byte(`{"type":"int","value":7}`)))).To(Succeed())
		Eventually(hb.tokenCount, time.Second, 10*time.Millisecond).Should(Equal(1))
		Expect(hb.tokens[0].SequenceNbr).To(BeEquivalentTo(1))
		Expect(hb.tokens[0].PortID).To(Equal("p1"))
	})

	It("delivers a reply sent on one side to the other side's handler", func() {
		Expect(b.SendReply(tunnel.NewTokenReply("p2", "p1", 1, tunnel.ACK))).To(Succeed())
		Eventually(ha.replyCount, time.Second, 10*time.Millisecond).Should(Equal(1))
		Expect(ha.replies[0].Value).To(Equal(tunnel.ACK))
	})

	It("reports PeerNodeID", func() {
		Expect(a.PeerNodeID()).To(Equal("peerA"))
		Expect(b.PeerNodeID()).To(Equal("peerB"))
	})

	It("marks itself Closed after Close", func() {
		Expect(a.Closed()).To(BeFalse())
		Expect(a.Close()).To(Succeed())
		Eventually(a.Closed, time.Second, 10*time.Millisecond).Should(BeTrue())
	})
})
