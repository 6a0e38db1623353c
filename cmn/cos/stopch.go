package cos

import "sync"

// StopCh is a close-once stop signal, adapted from the teacher's
// cos.StopCh usage pattern (collector, long-running xactions): Listen()
// returns a channel that closes exactly once, however many goroutines call
// Close().
type StopCh struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopCh() *StopCh {
	return &StopCh{ch: make(chan struct{})}
}

// Init is the zero-value-friendly counterpart to NewStopCh, for embedding.
func (s *StopCh) Init() {
	s.once = sync.Once{}
	s.ch = make(chan struct{})
}

func (s *StopCh) Listen() <-chan struct{} { return s.ch }

func (s *StopCh) Close() {
	s.once.Do(func() { close(s.ch) })
}
