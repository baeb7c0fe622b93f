package engine

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
	"github.com/spaghettifunk/vkharness/engine/renderer/submit"
)

// workgroupSize matches local_size_x of the copy shader.
const workgroupSize = 64

type computeState struct {
	src, dst       *resources.Buffer
	srcMem, dstMem *resources.Memory
	image          *resources.Image
	imageMem       *resources.Memory
	view           *resources.ImageView
	sparse         *resources.Image

	setLayout  *pipeline.SetLayout
	layout     *pipeline.Layout
	module     *pipeline.ShaderModule
	pipeline   *pipeline.Pipeline
	generation uint64
	pool       *pipeline.DescriptorPool
	set        *pipeline.DescriptorSet

	commands *submit.CommandPool
	fence    *submit.Fence
	elements uint32
}

// Compute runs the copy kernel once over buffer a into buffer b and waits for
// it. A shader that was reloaded since the last dispatch is rebuilt first.
func (e *Engine) Compute() error {
	e.frame.Lock()
	defer e.frame.Unlock()
	if err := e.ready("compute"); err != nil {
		return err
	}
	e.reloadCompute()

	c := &e.compute
	push := make([]byte, 4)
	binary.LittleEndian.PutUint32(push, c.elements)
	groups := (c.elements + workgroupSize - 1) / workgroupSize

	err := submit.OneShot(c.commands, c.fence, e.cfg.Timeouts.Fence.Duration, func(cb *submit.CommandBuffer) {
		cb.BufferBarrier(c.src, submit.HostWriteToComputeRead)
		cb.BindPipeline(c.pipeline)
		cb.BindDescriptorSet(driver.PipelineBindPointCompute, 0, c.set)
		cb.PushConstants(c.layout, driver.ShaderStageComputeBit, 0, push)
		cb.Dispatch(groups, 1, 1)
		cb.BufferBarrier(c.dst, submit.ComputeWriteToHostRead)
	})
	if err != nil {
		return errors.Wrap(err, "compute dispatch failed")
	}
	e.tick()
	return nil
}

// Output reads buffer b back to the host.
func (e *Engine) Output() ([]byte, error) {
	e.frame.Lock()
	defer e.frame.Unlock()
	if err := e.ready("output"); err != nil {
		return nil, err
	}
	return e.factory.Read(e.compute.dstMem, 0, driver.DeviceSize(e.cfg.Buffers.Size))
}

// reloadCompute swaps in a new pipeline when the compute shader changed. The
// previous dispatch was waited on, so the old objects are idle. A shader that
// fails to build leaves the running pipeline in place.
func (e *Engine) reloadCompute() {
	c := &e.compute
	name := e.cfg.Shaders.Compute
	gen := e.library.Generation(name)
	if gen == c.generation {
		return
	}
	shader, ok := e.library.Get(name)
	if !ok {
		return
	}

	module, err := e.builder.CreateShaderModule(shader.Name, shader.Code, driver.ShaderStageComputeBit)
	if err != nil {
		core.LogError("shader %s generation %d rejected: %v", name, gen, err)
		c.generation = gen
		return
	}
	p, err := e.builder.CreateComputePipeline(module, "main", c.layout)
	if err != nil {
		core.LogError("pipeline for shader %s generation %d rejected: %v", name, gen, err)
		e.builder.DestroyShaderModule(module)
		c.generation = gen
		return
	}

	e.builder.DestroyPipeline(c.pipeline)
	e.builder.DestroyShaderModule(c.module)
	c.module, c.pipeline, c.generation = module, p, gen
	core.LogInfo("compute pipeline rebuilt from %s generation %d", name, gen)
}

func (e *Engine) tick() {
	e.clock.Update()
	e.metrics.Update(e.clock.Elapsed())
	e.clock.Start()
}
