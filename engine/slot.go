package engine

import (
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/vkharness/engine/core"
)

// Slot is how the signal and window-close paths find the engine. main owns
// it; the engine is published once, after construction succeeded, so those
// paths never see a partially built engine.
type Slot struct {
	engine atomic.Pointer[Engine]
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func NewSlot() *Slot {
	return &Slot{done: make(chan struct{})}
}

// Publish stores e. A second publish is refused. Publishing after Close
// terminates e right away.
func (s *Slot) Publish(e *Engine) bool {
	if !s.engine.CompareAndSwap(nil, e) {
		core.LogError("engine slot already holds an engine")
		return false
	}
	if s.closed.Load() {
		core.LogInfo("engine published after close, terminating")
		e.Terminate()
	}
	return true
}

func (s *Slot) Engine() *Engine {
	return s.engine.Load()
}

// Close terminates the published engine, if any, and releases everything
// waiting on Done. It is safe to call from any goroutine, any number of
// times.
func (s *Slot) Close() {
	s.closed.Store(true)
	if e := s.engine.Load(); e != nil {
		e.Terminate()
	}
	s.once.Do(func() { close(s.done) })
}

func (s *Slot) Closed() bool {
	return s.closed.Load()
}

// Done is closed by the first Close.
func (s *Slot) Done() <-chan struct{} {
	return s.done
}
