package submit

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
)

// Submission is one batch handed to a queue.
type Submission struct {
	Buffers    []*CommandBuffer
	Wait       []*Semaphore
	WaitStages []driver.PipelineStageFlags
	Signal     []*Semaphore
}

// Submit queues s on q. The fence is required: it is the only way the host
// learns that the buffers completed, and it must be unsignaled.
func Submit(h *handles.Set, q handles.Queue, s Submission, fence *Fence) error {
	if fence == nil {
		return core.Violation(core.ErrInvalidState, "submit without a fence")
	}
	if len(s.Wait) != len(s.WaitStages) {
		return core.Violation(core.ErrInvalidState, "%d wait semaphores with %d wait stages", len(s.Wait), len(s.WaitStages))
	}
	info := driver.SubmitInfo{
		WaitSemaphores:   semaphores(s.Wait),
		WaitStages:       s.WaitStages,
		SignalSemaphores: semaphores(s.Signal),
	}
	for _, cb := range s.Buffers {
		if cb.state != StateExecutable {
			return core.Violation(core.ErrInvalidState, "submit of command buffer 0x%x in state %s", uint64(cb.Handle), cb.state)
		}
		if cb.pool.Queue.Family != q.Family {
			return core.Violation(core.ErrInvalidState, "command buffer from family %d submitted to family %d", cb.pool.Queue.Family, q.Family)
		}
		info.CommandBuffers = append(info.CommandBuffers, cb.Handle)
	}
	if err := fence.arm("submit"); err != nil {
		return err
	}

	err := h.Submit(q, func(d driver.Driver, queue driver.Queue) error {
		return d.QueueSubmit(queue, []driver.SubmitInfo{info}, fence.Handle)
	})
	if err != nil {
		fence.state = FenceUnsignaled
		return core.Fatal(err, "queue submit to family %d failed", q.Family)
	}
	for _, cb := range s.Buffers {
		cb.state = StatePending
		fence.covers = append(fence.covers, cb)
	}
	return nil
}

// OneShot records a single-use command buffer with record, submits it to
// the pool's queue and waits on fence before freeing it. The fence is left
// reset.
func OneShot(pool *CommandPool, fence *Fence, timeout time.Duration, record func(cb *CommandBuffer)) error {
	cb, err := pool.Allocate()
	if err != nil {
		return err
	}
	defer pool.Free(cb)

	if err := cb.Begin(driver.CommandBufferUsageOneTimeSubmitBit); err != nil {
		return err
	}
	record(cb)
	if err := cb.End(); err != nil {
		return errors.Wrap(err, "one-shot recording failed")
	}
	if err := Submit(pool.h, pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, fence); err != nil {
		return err
	}
	if err := fence.Wait(timeout); err != nil {
		return err
	}
	return fence.Reset()
}
