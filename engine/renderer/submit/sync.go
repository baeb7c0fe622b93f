package submit

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
)

type FenceState int

const (
	FenceUnsignaled FenceState = iota
	// FencePending means the fence was handed to a submit or acquire and
	// has not been observed signaled yet.
	FencePending
	FenceSignaled
)

type Fence struct {
	h      *handles.Set
	Handle driver.Fence
	state  FenceState
	// command buffers that complete when the fence signals
	covers []*CommandBuffer
}

func NewFence(h *handles.Set, signaled bool) (*Fence, error) {
	f := &Fence{h: h}
	if signaled {
		f.state = FenceSignaled
	}
	err := h.Locks.SafeCall(handles.SynchronizationManagement, func() error {
		handle, err := h.Driver.CreateFence(h.Device, signaled, h.CB(hostalloc.SynchronizationObjects))
		f.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fence")
	}
	return f, nil
}

func (f *Fence) Destroy() {
	if f == nil || f.Handle == 0 {
		return
	}
	_ = f.h.Locks.SafeCall(handles.SynchronizationManagement, func() error {
		f.h.Driver.DestroyFence(f.h.Device, f.Handle, f.h.CB(hostalloc.SynchronizationObjects))
		return nil
	})
	f.Handle = 0
	f.covers = nil
}

func (f *Fence) State() FenceState {
	return f.state
}

// arm hands the fence to a submit or acquire. Only an unsignaled fence is
// accepted.
func (f *Fence) arm(op string) error {
	if f.state != FenceUnsignaled {
		return core.Violation(core.ErrFenceNotReset, "%s with a fence that was not reset", op)
	}
	f.state = FencePending
	return nil
}

// Wait blocks until the fence signals. A wait that times out is fatal: the
// device is presumed lost.
func (f *Fence) Wait(timeout time.Duration) error {
	if f.state == FenceSignaled {
		return nil
	}
	if f.state == FenceUnsignaled {
		return core.Violation(core.ErrInvalidState, "wait on a fence nothing will signal")
	}
	err := f.h.Driver.WaitForFences(f.h.Device, []driver.Fence{f.Handle}, true, timeout)
	if err != nil {
		if errors.Is(err, core.ErrTimeout) {
			return core.Fatal(errors.Mark(err, core.ErrDeviceLost), "fence wait timed out after %s", timeout)
		}
		return core.Fatal(err, "fence wait failed")
	}
	f.state = FenceSignaled
	for _, cb := range f.covers {
		cb.complete()
	}
	f.covers = nil
	return nil
}

// Reset makes a signaled fence usable again.
func (f *Fence) Reset() error {
	if f.state == FencePending {
		return core.Violation(core.ErrInvalidState, "reset of a fence that is still pending")
	}
	if f.state == FenceUnsignaled {
		return nil
	}
	err := f.h.Locks.SafeCall(handles.SynchronizationManagement, func() error {
		return f.h.Driver.ResetFences(f.h.Device, []driver.Fence{f.Handle})
	})
	if err != nil {
		return core.Fatal(err, "failed to reset fence")
	}
	f.state = FenceUnsignaled
	return nil
}

type Semaphore struct {
	h      *handles.Set
	Handle driver.Semaphore
}

func NewSemaphore(h *handles.Set) (*Semaphore, error) {
	s := &Semaphore{h: h}
	err := h.Locks.SafeCall(handles.SynchronizationManagement, func() error {
		handle, err := h.Driver.CreateSemaphore(h.Device, h.CB(hostalloc.SynchronizationObjects))
		s.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create semaphore")
	}
	return s, nil
}

func (s *Semaphore) Destroy() {
	if s == nil || s.Handle == 0 {
		return
	}
	_ = s.h.Locks.SafeCall(handles.SynchronizationManagement, func() error {
		s.h.Driver.DestroySemaphore(s.h.Device, s.Handle, s.h.CB(hostalloc.SynchronizationObjects))
		return nil
	})
	s.Handle = 0
}

func semaphores(sems []*Semaphore) []driver.Semaphore {
	out := make([]driver.Semaphore, 0, len(sems))
	for _, s := range sems {
		out = append(out, s.Handle)
	}
	return out
}
