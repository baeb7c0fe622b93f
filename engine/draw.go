package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkharness/engine/renderer/submit"
)

type presentState struct {
	commands     *submit.CommandPool
	swapchain    *submit.Swapchain
	pass         *pipeline.RenderPass
	framebuffers []*pipeline.Framebuffer
	layout       *pipeline.Layout
	graphics     *pipeline.Pipeline

	// acquired is waited on by Acquire, rendered by the frame submission.
	acquired, rendered  *submit.Fence
	available, finished *submit.Semaphore
	presented           uint64
	// stranded is set once a frame fails between acquire and present. The
	// image is never returned and available stays signaled, so no further
	// frame can be drawn; teardown reclaims both with the swapchain.
	stranded bool
}

// Draw renders and presents one frame. Without graphics shaders the frame is
// the configured clear color.
func (e *Engine) Draw() error {
	e.frame.Lock()
	defer e.frame.Unlock()
	if err := e.ready("draw"); err != nil {
		return err
	}
	p := e.present
	if p == nil {
		return errors.Wrap(errors.New("engine runs in compute mode"), "draw")
	}
	if p.stranded {
		return core.Fatal(core.ErrInvalidState, "an earlier frame kept its swapchain image, presentation is stopped")
	}

	index, err := p.swapchain.Acquire(e.cfg.Timeouts.Acquire.Duration, p.available, p.acquired)
	if err != nil {
		return err
	}
	if err := e.renderFrame(p, index); err != nil {
		p.stranded = true
		return core.Fatal(err, "frame for swapchain image %d failed before present", index)
	}
	p.presented++
	e.tick()
	return nil
}

// renderFrame records, submits and presents the frame for an acquired image.
func (e *Engine) renderFrame(p *presentState, index uint32) error {
	cb, err := p.commands.Allocate()
	if err != nil {
		return err
	}
	defer p.commands.Free(cb)
	if err := cb.Begin(driver.CommandBufferUsageOneTimeSubmitBit); err != nil {
		return err
	}

	color := e.cfg.ClearColor()
	stage := driver.PipelineStageTransferBit
	if p.graphics != nil {
		cb.BeginRenderPass(p.pass, p.framebuffers[index], color)
		cb.BindPipeline(p.graphics)
		cb.Draw(3, 1)
		cb.EndRenderPass()
		stage = driver.PipelineStageColorAttachmentOutputBit
	} else {
		img := p.swapchain.Images[index]
		cb.Transition(img, submit.UndefinedToTransferDst)
		cb.ClearColor(img, driver.ImageLayoutTransferDstOptimal, color)
		cb.Transition(img, submit.TransferDstToPresent)
	}
	if err := cb.End(); err != nil {
		return errors.Wrapf(err, "recording frame for image %d", index)
	}

	err = submit.Submit(e.h, e.h.Queues.Primary, submit.Submission{
		Buffers:    []*submit.CommandBuffer{cb},
		Wait:       []*submit.Semaphore{p.available},
		WaitStages: []driver.PipelineStageFlags{stage},
		Signal:     []*submit.Semaphore{p.finished},
	}, p.rendered)
	if err != nil {
		return err
	}
	if err := p.rendered.Wait(e.cfg.Timeouts.Fence.Duration); err != nil {
		return err
	}
	if err := p.rendered.Reset(); err != nil {
		return err
	}
	return p.swapchain.Present(e.h.Queues.Present, index, p.finished)
}

// Presented counts the frames handed to the presentation engine.
func (e *Engine) Presented() uint64 {
	e.frame.Lock()
	defer e.frame.Unlock()
	if e.present == nil {
		return 0
	}
	return e.present.presented
}
