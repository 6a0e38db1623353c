package queue_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowweave/transport/queue"
	"github.com/flowweave/transport/token"
)

func tok(v int) token.Token { return token.New("int", v) }

var _ = Describe("FanoutFIFO", func() {
	var q *queue.FanoutFIFO

	BeforeEach(func() {
		q = queue.NewFanoutFIFO(4)
		Expect(q.AddReader("r1")).To(Succeed())
	})

	Describe("write and peek", func() {
		It("delivers tokens to a reader in order", func() {
			Expect(q.Write(tok(1))).To(Succeed())
			Expect(q.Write(tok(2))).To(Succeed())

			got, err := q.Peek("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Value()).To(Equal(1))

			got, err = q.Peek("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Value()).To(Equal(2))
		})

		It("returns QueueEmpty when nothing new is available", func() {
			_, err := q.Peek("r1")
			Expect(err).To(HaveOccurred())
		})

		It("resolves a nil reader when there is exactly one", func() {
			Expect(q.Write(tok(7))).To(Succeed())
			got, err := q.Peek("")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Value()).To(Equal(7))
		})
	})

	Describe("slots_available / queue full", func() {
		It("rejects writes once the slowest reader would be lapped", func() {
			for i := 0; i < 4; i++ {
				Expect(q.Write(tok(i))).To(Succeed())
			}
			Expect(q.SlotsAvailable(1)).To(BeFalse())
			Expect(q.Write(tok(99))).To(HaveOccurred())
		})

		It("frees a slot once the slow reader commits", func() {
			for i := 0; i < 4; i++ {
				Expect(q.Write(tok(i))).To(Succeed())
			}
			_, _ = q.Peek("r1")
			q.Commit("r1")
			Expect(q.SlotsAvailable(1)).To(BeTrue())
		})
	})

	Describe("tentative vs committed reads", func() {
		It("rolls back tentative reads on cancel", func() {
			Expect(q.Write(tok(1))).To(Succeed())
			Expect(q.Write(tok(2))).To(Succeed())
			_, _ = q.Peek("r1")
			_, _ = q.Peek("r1")
			q.Cancel("r1")

			got, err := q.Peek("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Value()).To(Equal(1))
		})

		It("does not re-deliver a committed read", func() {
			Expect(q.Write(tok(1))).To(Succeed())
			_, _ = q.Peek("r1")
			q.Commit("r1")
			q.Cancel("r1")
			Expect(q.TokensAvailable(1, "r1")).To(BeFalse())
		})
	})

	Describe("fanout across multiple readers", func() {
		It("delivers every token to every reader independently", func() {
			Expect(q.AddReader("r2")).To(Succeed())
			Expect(q.Write(tok(1))).To(Succeed())

			got1, err := q.Peek("r1")
			Expect(err).NotTo(HaveOccurred())
			got2, err := q.Peek("r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(got1.Value()).To(Equal(got2.Value()))
		})

		It("removing a reader forgets its positions", func() {
			Expect(q.AddReader("r2")).To(Succeed())
			Expect(q.RemoveReader("r2")).To(Succeed())
			Expect(q.AddReader("r2")).To(Succeed())
			Expect(q.Write(tok(5))).To(Succeed())
			got, err := q.Peek("r2")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Value()).To(Equal(5))
		})
	})

	Describe("sequence-numbered protocol", func() {
		It("com_write handles the expected next sequence number", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
		})

		It("com_write treats a stale sequence number as a harmless duplicate", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Unhandled))
		})

		It("com_write rejects an out-of-order future sequence number", func() {
			Expect(q.ComWrite(tok(1), 5)).To(Equal(queue.Invalid))
		})

		It("com_peek reports the pre-advance tentative position", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
			seq, got, err := q.ComPeek("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(seq).To(Equal(int64(0)))
			Expect(got.Value()).To(Equal(1))
		})

		It("com_commit advances read_pos only for the next uncommitted seq", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
			Expect(q.ComWrite(tok(2), 1)).To(Equal(queue.Handled))
			_, _, _ = q.ComPeek("r1")
			_, _, _ = q.ComPeek("r1")

			// out-of-order ack for seq 1 while seq 0 is still outstanding
			Expect(q.ComCommit("r1", 1)).To(Equal(queue.Unhandled))
			Expect(q.ComCommit("r1", 0)).To(Equal(queue.Handled))
			Expect(q.ComCommit("r1", 1)).To(Equal(queue.Handled))
		})

		It("com_commit rejects committing beyond what's been tentatively read", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
			Expect(q.ComCommit("r1", 0)).To(Equal(queue.Invalid))
		})

		It("com_cancel rewinds tentative reads for re-send", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
			Expect(q.ComWrite(tok(2), 1)).To(Equal(queue.Handled))
			_, _, _ = q.ComPeek("r1")
			_, _, _ = q.ComPeek("r1")

			Expect(q.ComCancel("r1", 0)).To(Equal(queue.Handled))
			seq, got, err := q.ComPeek("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(seq).To(Equal(int64(0)))
			Expect(got.Value()).To(Equal(1))
		})

		It("com_cancel rejects a seq already committed (the corrected guard)", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
			_, _, _ = q.ComPeek("r1")
			Expect(q.ComCommit("r1", 0)).To(Equal(queue.Handled))
			Expect(q.ComCancel("r1", 0)).To(Equal(queue.Invalid))
		})

		It("com_cancel rejects a seq beyond the tentative position", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
			Expect(q.ComCancel("r1", 5)).To(Equal(queue.Invalid))
		})

		It("com_is_committed is true only when no tentative reads are outstanding", func() {
			Expect(q.ComWrite(tok(1), 0)).To(Equal(queue.Handled))
			Expect(q.ComIsCommitted("r1")).To(BeTrue())
			_, _, _ = q.ComPeek("r1")
			Expect(q.ComIsCommitted("r1")).To(BeFalse())
			Expect(q.ComCommit("r1", 0)).To(Equal(queue.Handled))
			Expect(q.ComIsCommitted("r1")).To(BeTrue())
		})
	})

	Describe("snapshot and restore", func() {
		It("round-trips full state for migration", func() {
			Expect(q.Write(tok(1))).To(Succeed())
			Expect(q.Write(tok(2))).To(Succeed())
			_, _ = q.Peek("r1")

			snap := q.Snapshot()
			restored, err := queue.Restore(snap)
			Expect(err).NotTo(HaveOccurred())

			got, err := restored.Peek("r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Value()).To(Equal(2))
		})
	})
})
