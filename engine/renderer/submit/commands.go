// Package submit records command buffers, submits them to queues, gates
// completion with fences and drives the present path.
package submit

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
)

type CommandBufferState int

const (
	StateNotAllocated CommandBufferState = iota
	StateInitial
	StateRecording
	StateExecutable
	StatePending
	StateInvalid
)

func (s CommandBufferState) String() string {
	switch s {
	case StateNotAllocated:
		return "not allocated"
	case StateInitial:
		return "initial"
	case StateRecording:
		return "recording"
	case StateExecutable:
		return "executable"
	case StatePending:
		return "pending"
	case StateInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CommandPool allocates command buffers for the queue it was created for.
type CommandPool struct {
	h      *handles.Set
	Handle driver.CommandPool
	Queue  handles.Queue
	Flags  driver.CommandPoolCreateFlags
}

func NewCommandPool(h *handles.Set, q handles.Queue, flags driver.CommandPoolCreateFlags) (*CommandPool, error) {
	p := &CommandPool{h: h, Queue: q, Flags: flags}
	err := h.Locks.SafeCall(handles.CommandPoolManagement, func() error {
		handle, err := h.Driver.CreateCommandPool(h.Device, q.Family, flags, h.CB(hostalloc.CommandObjects))
		p.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create command pool for family %d", q.Family)
	}
	core.LogDebug("command pool created for queue family %d", q.Family)
	return p, nil
}

// Destroy also frees every buffer allocated from the pool.
func (p *CommandPool) Destroy() {
	if p == nil || p.Handle == 0 {
		return
	}
	_ = p.h.Locks.SafeCall(handles.CommandPoolManagement, func() error {
		p.h.Driver.DestroyCommandPool(p.h.Device, p.Handle, p.h.CB(hostalloc.CommandObjects))
		return nil
	})
	p.Handle = 0
}

func (p *CommandPool) Allocate() (*CommandBuffer, error) {
	var bufs []driver.CommandBuffer
	err := p.h.Locks.SafeCall(handles.CommandBufferManagement, func() error {
		var err error
		bufs, err = p.h.Driver.AllocateCommandBuffers(p.h.Device, p.Handle, 1)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate command buffer")
	}
	return &CommandBuffer{
		pool:      p,
		Handle:    bufs[0],
		state:     StateInitial,
		pipelines: make(map[driver.PipelineBindPoint]*pipeline.Pipeline),
		sets:      make(map[uint32]bool),
	}, nil
}

// Free returns cb to the pool. A pending buffer is kept; it is released
// with the pool.
func (p *CommandPool) Free(cb *CommandBuffer) {
	if cb == nil || cb.state == StateNotAllocated {
		return
	}
	if cb.state == StatePending {
		core.LogWarn("command buffer 0x%x freed while pending, leaving it to the pool", uint64(cb.Handle))
		return
	}
	_ = p.h.Locks.SafeCall(handles.CommandBufferManagement, func() error {
		p.h.Driver.FreeCommandBuffers(p.h.Device, p.Handle, []driver.CommandBuffer{cb.Handle})
		return nil
	})
	cb.Handle = 0
	cb.state = StateNotAllocated
}

// CommandBuffer tracks the recording state on the host side. The first
// recording error sticks: later commands are dropped and End returns it.
type CommandBuffer struct {
	pool   *CommandPool
	Handle driver.CommandBuffer
	state  CommandBufferState
	usage  driver.CommandBufferUsageFlags
	err    error

	pipelines map[driver.PipelineBindPoint]*pipeline.Pipeline
	sets      map[uint32]bool
	inPass    bool
}

func (cb *CommandBuffer) State() CommandBufferState {
	return cb.state
}

// Err returns the sticky recording error, if any.
func (cb *CommandBuffer) Err() error {
	return cb.err
}

func (cb *CommandBuffer) Begin(usage driver.CommandBufferUsageFlags) error {
	if cb.state != StateInitial {
		return core.Violation(core.ErrInvalidState, "begin of command buffer in state %s", cb.state)
	}
	if err := cb.pool.h.Driver.BeginCommandBuffer(cb.Handle, usage); err != nil {
		return errors.Wrap(err, "failed to begin command buffer")
	}
	cb.state = StateRecording
	cb.usage = usage
	cb.err = nil
	cb.inPass = false
	clear(cb.pipelines)
	clear(cb.sets)
	return nil
}

// End finishes recording. When a recording error stuck, the buffer becomes
// invalid instead of executable and the error is returned.
func (cb *CommandBuffer) End() error {
	if cb.state != StateRecording {
		return core.Violation(core.ErrInvalidState, "end of command buffer in state %s", cb.state)
	}
	if cb.inPass && cb.err == nil {
		cb.fail(core.Violation(core.ErrInvalidState, "command buffer ended inside a render pass"))
	}
	if err := cb.pool.h.Driver.EndCommandBuffer(cb.Handle); err != nil {
		cb.state = StateInvalid
		return errors.Wrap(err, "failed to end command buffer")
	}
	if cb.err != nil {
		cb.state = StateInvalid
		return cb.err
	}
	cb.state = StateExecutable
	return nil
}

// Reset returns the buffer to the initial state. The pool must have been
// created with individual reset.
func (cb *CommandBuffer) Reset() error {
	switch {
	case cb.state == StatePending:
		return core.Violation(core.ErrInvalidState, "reset of a pending command buffer")
	case cb.pool.Flags&driver.CommandPoolCreateResetCommandBufferBit == 0:
		return core.Violation(core.ErrInvalidState, "reset of a command buffer whose pool has no individual reset")
	}
	if err := cb.pool.h.Driver.ResetCommandBuffer(cb.Handle); err != nil {
		return errors.Wrap(err, "failed to reset command buffer")
	}
	cb.state = StateInitial
	cb.err = nil
	return nil
}

// complete is called once the fence covering the submission signals.
func (cb *CommandBuffer) complete() {
	if cb.state != StatePending {
		return
	}
	if cb.usage&driver.CommandBufferUsageOneTimeSubmitBit != 0 {
		cb.state = StateInvalid
		return
	}
	cb.state = StateExecutable
}

func (cb *CommandBuffer) fail(err error) {
	if cb.err == nil {
		cb.err = err
		core.LogError("command buffer 0x%x: %s", uint64(cb.Handle), err)
	}
}

// recording reports whether a command named op may be recorded now.
func (cb *CommandBuffer) recording(op string) bool {
	if cb.err != nil {
		return false
	}
	if cb.state != StateRecording {
		cb.fail(core.Violation(core.ErrInvalidState, "%s recorded in state %s", op, cb.state))
		return false
	}
	return true
}

func (cb *CommandBuffer) BindPipeline(p *pipeline.Pipeline) {
	if !cb.recording("bind pipeline") {
		return
	}
	cb.pool.h.Driver.CmdBindPipeline(cb.Handle, p.BindPoint, p.Handle)
	cb.pipelines[p.BindPoint] = p
}

// BindDescriptorSet binds set at index for the pipeline currently bound at
// bp. Every slot of the set must have been written.
func (cb *CommandBuffer) BindDescriptorSet(bp driver.PipelineBindPoint, index uint32, set *pipeline.DescriptorSet) {
	if !cb.recording("bind descriptor set") {
		return
	}
	p := cb.pipelines[bp]
	switch {
	case p == nil:
		cb.fail(core.Violation(core.ErrInvalidState, "descriptor set bound before a pipeline"))
		return
	case !set.Complete():
		cb.fail(core.Violation(core.ErrUnboundResource, "descriptor set bound with unwritten slots %v", set.Missing()))
		return
	}
	cb.pool.h.Driver.CmdBindDescriptorSets(cb.Handle, bp, p.Layout.Handle, index, []driver.DescriptorSet{set.Handle})
	cb.sets[index] = true
}

// PushConstants writes data at offset. The bytes must fall inside one of
// the ranges the bound pipeline's layout declares.
func (cb *CommandBuffer) PushConstants(layout *pipeline.Layout, stages driver.ShaderStageFlags, offset uint32, data []byte) {
	if !cb.recording("push constants") {
		return
	}
	end := offset + uint32(len(data))
	covered := false
	for _, r := range layout.PushConstants {
		if r.Stages&stages == stages && offset >= r.Offset && end <= r.Offset+r.Size {
			covered = true
			break
		}
	}
	if !covered {
		cb.fail(errors.Mark(errors.Newf("push constants %d+%d outside the layout ranges", offset, len(data)), core.ErrPushConstantRange))
		return
	}
	cb.pool.h.Driver.CmdPushConstants(cb.Handle, layout.Handle, stages, offset, data)
}

// BufferBarrier makes the access described by hz visible across the
// boundary it names, for the whole buffer.
func (cb *CommandBuffer) BufferBarrier(buf *resources.Buffer, hz Hazard) {
	if !cb.recording("buffer barrier") {
		return
	}
	if !buf.Bound() {
		cb.fail(core.Violation(core.ErrUnboundResource, "barrier on %s before its memory was bound", buf))
		return
	}
	cb.pool.h.Driver.CmdPipelineBarrier(cb.Handle, hz.buffer(buf))
}

// Transition moves img between layouts.
func (cb *CommandBuffer) Transition(img *resources.Image, t Transition) {
	if !cb.recording("image transition") {
		return
	}
	if !img.Usable() {
		cb.fail(core.Violation(core.ErrUnboundResource, "layout transition of %s before its memory was bound", img))
		return
	}
	cb.pool.h.Driver.CmdPipelineBarrier(cb.Handle, t.image(img))
}

func (cb *CommandBuffer) Dispatch(x, y, z uint32) {
	if !cb.recording("dispatch") {
		return
	}
	p := cb.pipelines[driver.PipelineBindPointCompute]
	if p == nil {
		cb.fail(core.Violation(core.ErrInvalidState, "dispatch without a compute pipeline"))
		return
	}
	for i := range p.Layout.Sets {
		if !cb.sets[uint32(i)] {
			cb.fail(core.Violation(core.ErrUnboundResource, "dispatch without descriptor set %d", i))
			return
		}
	}
	cb.pool.h.Driver.CmdDispatch(cb.Handle, x, y, z)
}

// ClearColor clears the whole image, which must be in a transfer
// destination or general layout.
func (cb *CommandBuffer) ClearColor(img *resources.Image, layout driver.ImageLayout, color driver.ClearColor) {
	if !cb.recording("clear color") {
		return
	}
	if !img.Usable() {
		cb.fail(core.Violation(core.ErrUnboundResource, "clear of %s before its memory was bound", img))
		return
	}
	cb.pool.h.Driver.CmdClearColorImage(cb.Handle, img.Handle, layout, color, []driver.ImageSubresourceRange{fullRange(img)})
}

func (cb *CommandBuffer) BeginRenderPass(pass *pipeline.RenderPass, fb *pipeline.Framebuffer, color driver.ClearColor) {
	if !cb.recording("begin render pass") {
		return
	}
	if cb.inPass {
		cb.fail(core.Violation(core.ErrInvalidState, "render pass begun inside a render pass"))
		return
	}
	cb.pool.h.Driver.CmdBeginRenderPass(cb.Handle, driver.RenderPassBeginInfo{
		RenderPass:  pass.Handle,
		Framebuffer: fb.Handle,
		Area:        driver.Rect2D{Extent: fb.Extent},
		ClearColors: []driver.ClearColor{color},
	})
	cb.inPass = true
}

func (cb *CommandBuffer) EndRenderPass() {
	if !cb.recording("end render pass") {
		return
	}
	if !cb.inPass {
		cb.fail(core.Violation(core.ErrInvalidState, "render pass ended outside a render pass"))
		return
	}
	cb.pool.h.Driver.CmdEndRenderPass(cb.Handle)
	cb.inPass = false
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount uint32) {
	if !cb.recording("draw") {
		return
	}
	if !cb.inPass || cb.pipelines[driver.PipelineBindPointGraphics] == nil {
		cb.fail(core.Violation(core.ErrInvalidState, "draw outside a render pass or without a graphics pipeline"))
		return
	}
	cb.pool.h.Driver.CmdDraw(cb.Handle, vertexCount, instanceCount, 0, 0)
}

func fullRange(img *resources.Image) driver.ImageSubresourceRange {
	return driver.ImageSubresourceRange{
		AspectMask: img.Info.Format.Aspect(),
		LevelCount: img.Info.MipLevels,
		LayerCount: img.Info.ArrayLayers,
	}
}
