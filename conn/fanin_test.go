package conn_test

import (
	"sync/atomic"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/flowweave/transport/conn"
)

var _ = Describe("FanIn", func() {
	It("invokes the shared callback exactly once, after the last attempt completes", func() {
		var calls int32
		var lastInfo conn.ConnectInfo
		fi := conn.NewFanIn(3, func(info conn.ConnectInfo, err error) {
			atomic.AddInt32(&calls, 1)
			lastInfo = info
		})
		for i := 0; i < 3; i++ {
			i := i
			fi.Run(func() (conn.ConnectInfo, error) {
				return conn.ConnectInfo{PortID: "attempt"}, nil
			})
			_ = i
		}
		Expect(fi.Wait()).NotTo(HaveOccurred())
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
		Expect(lastInfo.PortID).To(Equal("attempt"))
	})

	It("surfaces the first error from Wait even though the callback still only fires once", func() {
		var calls int32
		fi := conn.NewFanIn(2, func(conn.ConnectInfo, error) { atomic.AddInt32(&calls, 1) })
		fi.Run(func() (conn.ConnectInfo, error) { return conn.ConnectInfo{}, nil })
		fi.Run(func() (conn.ConnectInfo, error) { return conn.ConnectInfo{}, errFailed })
		Expect(fi.Wait()).To(MatchError(errFailed))
		Expect(atomic.LoadInt32(&calls)).To(Equal(int32(1)))
	})
})

var errFailed = &fanInTestError{}

type fanInTestError struct{}

func (*fanInTestError) Error() string { return "attempt failed" }
