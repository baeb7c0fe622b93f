package submit

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkharness/engine/renderer/rendertest"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
	"github.com/spaghettifunk/vkharness/engine/renderer/soft"
)

const wait = time.Second

// copyJob is everything a dispatch of the copy shader needs.
type copyJob struct {
	rig    *rendertest.Rig
	f      *resources.Factory
	src    *resources.Buffer
	dst    *resources.Buffer
	memSrc *resources.Memory
	memDst *resources.Memory
	set    *pipeline.DescriptorSet
	layout *pipeline.Layout
	pipe   *pipeline.Pipeline
	pool   *CommandPool
	fence  *Fence
}

func spirv(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func newCopyJob(t *testing.T, memoryType uint32) *copyJob {
	rig := rendertest.Default(t)
	j := &copyJob{rig: rig, f: resources.NewFactory(rig.Handles, rig.Snapshot)}
	b := pipeline.NewBuilder(rig.Handles, rig.Snapshot)

	var err error
	j.src, err = j.f.CreateBuffer("a", 1024, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)
	j.dst, err = j.f.CreateBuffer("b", 1024, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)
	j.memSrc, err = j.f.AllocateAndBindMemory(j.src, memoryType)
	require.NoError(t, err)
	j.memDst, err = j.f.AllocateAndBindMemory(j.dst, memoryType)
	require.NoError(t, err)

	setLayout, err := b.CreateDescriptorSetLayout([]pipeline.Binding{
		{Slot: 0, Type: driver.DescriptorTypeStorageBuffer, Stages: driver.ShaderStageComputeBit},
		{Slot: 1, Type: driver.DescriptorTypeStorageBuffer, Stages: driver.ShaderStageComputeBit},
	})
	require.NoError(t, err)
	j.layout, err = b.CreatePipelineLayout([]*pipeline.SetLayout{setLayout}, []driver.PushConstantRange{{Stages: driver.ShaderStageComputeBit, Size: 4}})
	require.NoError(t, err)
	module, err := b.CreateShaderModule("copy", spirv(soft.CopyShader()), driver.ShaderStageComputeBit)
	require.NoError(t, err)
	j.pipe, err = b.CreateComputePipeline(module, "main", j.layout)
	require.NoError(t, err)

	pool, err := b.CreateDescriptorPool(1, pipeline.PoolSizesFor(setLayout))
	require.NoError(t, err)
	j.set, err = b.AllocateDescriptorSet(pool, setLayout)
	require.NoError(t, err)
	require.NoError(t, b.WriteBuffer(j.set, 0, j.src))
	require.NoError(t, b.WriteBuffer(j.set, 1, j.dst))

	j.pool, err = NewCommandPool(rig.Handles, rig.Handles.Queues.Primary, driver.CommandPoolCreateResetCommandBufferBit)
	require.NoError(t, err)
	j.fence, err = NewFence(rig.Handles, false)
	require.NoError(t, err)
	return j
}

func (j *copyJob) record(cb *CommandBuffer, elements uint32) {
	push := make([]byte, 4)
	binary.LittleEndian.PutUint32(push, elements)

	cb.BufferBarrier(j.src, HostWriteToComputeRead)
	cb.BindPipeline(j.pipe)
	cb.BindDescriptorSet(driver.PipelineBindPointCompute, 0, j.set)
	cb.PushConstants(j.layout, driver.ShaderStageComputeBit, 0, push)
	cb.Dispatch((elements+soft.CopyLocalSize-1)/soft.CopyLocalSize, 1, 1)
	cb.BufferBarrier(j.dst, ComputeWriteToHostRead)
}

func TestCopyRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name       string
		memoryType uint32
	}{
		{"coherent", soft.MemoryTypeHostCoherent},
		{"non-coherent", soft.MemoryTypeHostNonCoherent},
	} {
		t.Run(tc.name, func(t *testing.T) {
			j := newCopyJob(t, tc.memoryType)

			require.NoError(t, j.f.MapAndWrite(j.memSrc, j.src.Offset(), j.src.Size, []byte{0x03}))
			require.NoError(t, j.f.Flush(j.memSrc))

			cb, err := j.pool.Allocate()
			require.NoError(t, err)
			require.NoError(t, cb.Begin(0))
			j.record(cb, 256)
			require.NoError(t, cb.End())
			assert.Equal(t, StateExecutable, cb.State())

			require.NoError(t, Submit(j.rig.Handles, j.pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, j.fence))
			assert.Equal(t, StatePending, cb.State())
			assert.Equal(t, FencePending, j.fence.State())

			require.NoError(t, j.fence.Wait(wait))
			assert.Equal(t, FenceSignaled, j.fence.State())
			assert.Equal(t, StateExecutable, cb.State())

			out, err := j.f.Read(j.memDst, j.dst.Offset(), j.dst.Size)
			require.NoError(t, err)
			assert.Equal(t, bytes.Repeat([]byte{0x03}, 1024), out)

			require.NoError(t, j.fence.Reset())
			assert.Equal(t, 1, j.rig.Soft.Stats().Dispatches)
			assert.Empty(t, j.rig.Soft.Violations())
		})
	}
}

func TestFenceMustBeResetBeforeReuse(t *testing.T) {
	j := newCopyJob(t, soft.MemoryTypeHostCoherent)

	cb, err := j.pool.Allocate()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(0))
	j.record(cb, 256)
	require.NoError(t, cb.End())

	require.NoError(t, Submit(j.rig.Handles, j.pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, j.fence))
	require.NoError(t, j.fence.Wait(wait))

	err = Submit(j.rig.Handles, j.pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, j.fence)
	assert.True(t, errors.Is(err, core.ErrFenceNotReset))
	assert.True(t, core.IsViolation(err))
	assert.Equal(t, StateExecutable, cb.State())

	require.NoError(t, j.fence.Reset())
	require.NoError(t, Submit(j.rig.Handles, j.pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, j.fence))
	require.NoError(t, j.fence.Wait(wait))

	signaled, err := NewFence(j.rig.Handles, true)
	require.NoError(t, err)
	require.NoError(t, j.fence.Reset())
	err = Submit(j.rig.Handles, j.pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, signaled)
	assert.True(t, errors.Is(err, core.ErrFenceNotReset))
	signaled.Destroy()

	assert.Equal(t, 2, j.rig.Soft.Stats().Submits)
	assert.Empty(t, j.rig.Soft.Violations())
}

func TestRecordingRejectsUnboundResources(t *testing.T) {
	j := newCopyJob(t, soft.MemoryTypeHostCoherent)

	unbound, err := j.f.CreateBuffer("unbound", 1024, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)

	cb, err := j.pool.Allocate()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(0))
	cb.BufferBarrier(unbound, HostWriteToComputeRead)
	// Dropped: the first error sticks.
	cb.BindPipeline(j.pipe)

	err = cb.End()
	assert.True(t, errors.Is(err, core.ErrUnboundResource))
	assert.Equal(t, StateInvalid, cb.State())

	err = Submit(j.rig.Handles, j.pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, j.fence)
	assert.True(t, errors.Is(err, core.ErrInvalidState))
	assert.Equal(t, FenceUnsignaled, j.fence.State())
	assert.Equal(t, 0, j.rig.Soft.Stats().Submits)
	assert.Empty(t, j.rig.Soft.Violations())
}

func TestRecordingRejectsIncompleteDescriptorSets(t *testing.T) {
	j := newCopyJob(t, soft.MemoryTypeHostCoherent)
	b := pipeline.NewBuilder(j.rig.Handles, j.rig.Snapshot)

	pool, err := b.CreateDescriptorPool(1, pipeline.PoolSizesFor(j.set.Layout))
	require.NoError(t, err)
	partial, err := b.AllocateDescriptorSet(pool, j.set.Layout)
	require.NoError(t, err)
	require.NoError(t, b.WriteBuffer(partial, 0, j.src))

	cb, err := j.pool.Allocate()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(0))
	cb.BindPipeline(j.pipe)
	cb.BindDescriptorSet(driver.PipelineBindPointCompute, 0, partial)
	assert.True(t, errors.Is(cb.End(), core.ErrUnboundResource))

	require.NoError(t, cb.Reset())
	require.NoError(t, cb.Begin(0))
	cb.BindPipeline(j.pipe)
	cb.Dispatch(1, 1, 1)
	assert.True(t, errors.Is(cb.End(), core.ErrUnboundResource))
	assert.Empty(t, j.rig.Soft.Violations())
}

func TestCommandBufferStateMachine(t *testing.T) {
	j := newCopyJob(t, soft.MemoryTypeHostCoherent)

	cb, err := j.pool.Allocate()
	require.NoError(t, err)
	assert.Equal(t, StateInitial, cb.State())

	assert.True(t, errors.Is(cb.End(), core.ErrInvalidState))
	cb.Dispatch(1, 1, 1)
	assert.True(t, errors.Is(cb.Err(), core.ErrInvalidState))

	require.NoError(t, cb.Begin(driver.CommandBufferUsageOneTimeSubmitBit))
	assert.NoError(t, cb.Err())
	assert.True(t, errors.Is(cb.Begin(0), core.ErrInvalidState))
	j.record(cb, 64)
	require.NoError(t, cb.End())

	require.NoError(t, Submit(j.rig.Handles, j.pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, j.fence))
	assert.True(t, errors.Is(cb.Reset(), core.ErrInvalidState))
	require.NoError(t, j.fence.Wait(wait))
	// A one-time buffer is spent once it completes.
	assert.Equal(t, StateInvalid, cb.State())
	require.NoError(t, j.fence.Reset())
	err = Submit(j.rig.Handles, j.pool.Queue, Submission{Buffers: []*CommandBuffer{cb}}, j.fence)
	assert.True(t, errors.Is(err, core.ErrInvalidState))

	require.NoError(t, cb.Reset())
	assert.Equal(t, StateInitial, cb.State())
	j.pool.Free(cb)
	assert.Equal(t, StateNotAllocated, cb.State())
	assert.Empty(t, j.rig.Soft.Violations())
}

func TestResetNeedsResettablePool(t *testing.T) {
	j := newCopyJob(t, soft.MemoryTypeHostCoherent)
	pool, err := NewCommandPool(j.rig.Handles, j.rig.Handles.Queues.Primary, 0)
	require.NoError(t, err)
	defer pool.Destroy()

	cb, err := pool.Allocate()
	require.NoError(t, err)
	assert.True(t, errors.Is(cb.Reset(), core.ErrInvalidState))
}

func TestPushConstantsMustFitTheLayout(t *testing.T) {
	j := newCopyJob(t, soft.MemoryTypeHostCoherent)
	cb, err := j.pool.Allocate()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(0))
	cb.BindPipeline(j.pipe)
	cb.PushConstants(j.layout, driver.ShaderStageComputeBit, 4, []byte{1, 2, 3, 4})
	assert.True(t, errors.Is(cb.End(), core.ErrPushConstantRange))
}

func TestOneShot(t *testing.T) {
	j := newCopyJob(t, soft.MemoryTypeHostCoherent)
	require.NoError(t, j.f.MapAndWrite(j.memSrc, 0, 1024, []byte{0x07}))

	err := OneShot(j.pool, j.fence, wait, func(cb *CommandBuffer) {
		j.record(cb, 128)
	})
	require.NoError(t, err)
	assert.Equal(t, FenceUnsignaled, j.fence.State())

	out, err := j.f.Read(j.memDst, 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x07}, 512), out[:512])
	assert.Equal(t, make([]byte, 512), out[512:])

	err = OneShot(j.pool, j.fence, wait, func(cb *CommandBuffer) {
		cb.Dispatch(1, 1, 1)
	})
	assert.True(t, errors.Is(err, core.ErrInvalidState))
	assert.Equal(t, FenceUnsignaled, j.fence.State())
	assert.Equal(t, 1, j.rig.Soft.Stats().Submits)
	assert.Empty(t, j.rig.Soft.Violations())
}

func TestWaitTimeoutIsFatal(t *testing.T) {
	j := newCopyJob(t, soft.MemoryTypeHostCoherent)

	assert.True(t, errors.Is(j.fence.Wait(wait), core.ErrInvalidState))

	// Armed but never submitted: the soft driver reports a timeout.
	require.NoError(t, j.fence.arm("test"))
	err := j.fence.Wait(time.Millisecond)
	assert.True(t, core.IsFatal(err))
	assert.True(t, errors.Is(err, core.ErrTimeout))
	assert.True(t, errors.Is(err, core.ErrDeviceLost))
}

func TestBarrierMasks(t *testing.T) {
	buf := &resources.Buffer{Handle: 42}
	tests := []struct {
		hz       Hazard
		srcStage driver.PipelineStageFlags
		dstStage driver.PipelineStageFlags
		src      driver.AccessFlags
		dst      driver.AccessFlags
	}{
		{HostWriteToComputeRead, driver.PipelineStageHostBit, driver.PipelineStageComputeShaderBit, driver.AccessHostWriteBit, driver.AccessShaderReadBit},
		{ComputeWriteToHostRead, driver.PipelineStageComputeShaderBit, driver.PipelineStageHostBit, driver.AccessShaderWriteBit, driver.AccessHostReadBit},
		{ComputeWriteToComputeRead, driver.PipelineStageComputeShaderBit, driver.PipelineStageComputeShaderBit, driver.AccessShaderWriteBit, driver.AccessShaderReadBit},
		{TransferWriteToHostRead, driver.PipelineStageTransferBit, driver.PipelineStageHostBit, driver.AccessTransferWriteBit, driver.AccessHostReadBit},
	}
	for _, tc := range tests {
		t.Run(tc.hz.Name, func(t *testing.T) {
			b := tc.hz.buffer(buf)
			assert.Equal(t, tc.srcStage, b.SrcStage)
			assert.Equal(t, tc.dstStage, b.DstStage)
			require.Len(t, b.Buffers, 1)
			assert.Equal(t, tc.src, b.Buffers[0].SrcAccess)
			assert.Equal(t, tc.dst, b.Buffers[0].DstAccess)
			assert.Equal(t, driver.WholeSize, b.Buffers[0].Size)
			assert.Equal(t, driver.QueueFamilyIgnored, b.Buffers[0].SrcQueueFamily)
		})
	}

	img := &resources.Image{Handle: 7, Info: driver.ImageCreateInfo{Format: driver.FormatB8g8r8a8Srgb, MipLevels: 1, ArrayLayers: 1}}
	b := TransferDstToPresent.image(img)
	require.Len(t, b.Images, 1)
	assert.Equal(t, driver.ImageLayoutTransferDstOptimal, b.Images[0].OldLayout)
	assert.Equal(t, driver.ImageLayoutPresentSrc, b.Images[0].NewLayout)
	assert.Equal(t, driver.AccessTransferWriteBit, b.Images[0].SrcAccess)
	assert.Zero(t, b.Images[0].DstAccess)
	assert.Equal(t, driver.ImageAspectColorBit, b.Images[0].Range.AspectMask)

	b = UndefinedToTransferDst.image(img)
	assert.Zero(t, b.Images[0].SrcAccess)
	assert.Equal(t, driver.PipelineStageTopOfPipeBit, b.SrcStage)
	assert.Equal(t, driver.AccessTransferWriteBit, b.Images[0].DstAccess)
}
