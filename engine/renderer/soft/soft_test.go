package soft

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

type fixture struct {
	d      *Driver
	cbs    *hostalloc.Set
	inst   driver.Instance
	pd     driver.PhysicalDevice
	dev    driver.Device
	queue  driver.Queue
	family uint32
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	cbs, err := hostalloc.NewSet()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cbs.Close() })

	d := New(cfg)
	inst, err := d.CreateInstance(driver.InstanceCreateInfo{ApplicationName: "test"}, cbs.For(hostalloc.InstanceCreation))
	require.NoError(t, err)
	pds, err := d.EnumeratePhysicalDevices(inst)
	require.NoError(t, err)
	require.NotEmpty(t, pds)
	dev, err := d.CreateDevice(pds[0], driver.DeviceCreateInfo{
		Queues: []driver.DeviceQueueCreateInfo{{Family: 0, Priorities: []float32{1}}},
	}, cbs.For(hostalloc.DeviceCreation))
	require.NoError(t, err)
	return &fixture{d: d, cbs: cbs, inst: inst, pd: pds[0], dev: dev, queue: d.GetDeviceQueue(dev, 0, 0)}
}

func (f *fixture) hostBuffer(t *testing.T, size driver.DeviceSize, memType uint32) (driver.Buffer, driver.DeviceMemory) {
	t.Helper()
	b, err := f.d.CreateBuffer(f.dev, driver.BufferCreateInfo{Size: size, Usage: driver.BufferUsageStorageBufferBit}, nil)
	require.NoError(t, err)
	req := f.d.GetBufferMemoryRequirements(f.dev, b)
	require.NotZero(t, req.MemoryTypeBits&(1<<memType))
	m, err := f.d.AllocateMemory(f.dev, driver.MemoryAllocateInfo{Size: req.Size, MemoryTypeIndex: memType}, nil)
	require.NoError(t, err)
	require.NoError(t, f.d.BindBufferMemory(f.dev, b, m, 0))
	return b, m
}

func TestJournalAndHostAllocations(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	fence, err := f.d.CreateFence(f.dev, false, f.cbs.For(hostalloc.SynchronizationObjects))
	require.NoError(t, err)
	blocks, _ := f.cbs.Live()
	assert.Equal(t, 3, blocks)

	f.d.DestroyFence(f.dev, fence, f.cbs.For(hostalloc.SynchronizationObjects))
	f.d.DestroyDevice(f.dev, f.cbs.For(hostalloc.DeviceDestruction))
	f.d.DestroyInstance(f.inst, f.cbs.For(hostalloc.InstanceDestruction))

	blocks, _ = f.cbs.Live()
	assert.Zero(t, blocks)
	assert.Zero(t, f.d.Live())
	assert.Empty(t, f.d.Violations())

	var kinds []string
	for _, e := range f.d.Journal() {
		kinds = append(kinds, e.Kind.String()+" "+e.Type)
	}
	assert.Equal(t, []string{
		"create instance", "create device", "create fence",
		"destroy fence", "destroy device", "destroy instance",
	}, kinds)
}

func TestDestroyOrderViolation(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.d.DestroyInstance(f.inst, nil)
	require.NotEmpty(t, f.d.Violations())
	assert.Contains(t, f.d.Violations()[0], "live children")
}

func TestHostExhaustion(t *testing.T) {
	cbs, err := hostalloc.NewSet(hostalloc.WithBudget(512))
	require.NoError(t, err)
	defer cbs.Close()

	d := New(DefaultConfig())
	_, err = d.CreateInstance(driver.InstanceCreateInfo{}, cbs.For(hostalloc.InstanceCreation))
	require.Error(t, err)
	r, ok := driver.ResultOf(err)
	require.True(t, ok)
	assert.Equal(t, driver.ErrorOutOfHostMemory, r)
	assert.Zero(t, d.Live())
}

func TestFailNext(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.d.FailNext("vkCreateBuffer", driver.ErrorOutOfDeviceMemory)
	_, err := f.d.CreateBuffer(f.dev, driver.BufferCreateInfo{Size: 64, Usage: driver.BufferUsageStorageBufferBit}, nil)
	require.Error(t, err)
	_, err = f.d.CreateBuffer(f.dev, driver.BufferCreateInfo{Size: 64, Usage: driver.BufferUsageStorageBufferBit}, nil)
	require.NoError(t, err)
}

func TestNonCoherentMemoryNeedsFlush(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, m := f.hostBuffer(t, 256, MemoryTypeHostNonCoherent)

	mapped, err := f.d.MapMemory(f.dev, m, 0, driver.WholeSize)
	require.NoError(t, err)
	for i := range mapped {
		mapped[i] = 0xAB
	}
	mem, _ := lookup[*memory](f.d, uint64(m))
	assert.Zero(t, mem.data[0], "device must not see unflushed writes")

	err = f.d.FlushMappedMemoryRanges(f.dev, []driver.MappedMemoryRange{{Memory: m, Offset: 0, Size: 100}})
	require.Error(t, err, "ranges must be atom aligned")

	require.NoError(t, f.d.FlushMappedMemoryRanges(f.dev, []driver.MappedMemoryRange{{Memory: m, Offset: 0, Size: driver.WholeSize}}))
	assert.Equal(t, byte(0xAB), mem.data[255])
	f.d.UnmapMemory(f.dev, m)
}

func TestSparseRequirements(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	img, err := f.d.CreateImage(f.dev, driver.ImageCreateInfo{
		Flags:       driver.ImageCreateSparseBindingBit | driver.ImageCreateSparseResidencyBit,
		Type:        driver.ImageType2D,
		Format:      driver.FormatR8g8b8a8Unorm,
		Extent:      driver.Extent3D{Width: 4096, Height: 4096, Depth: 1},
		MipLevels:   13,
		ArrayLayers: 1,
		Samples:     1,
		Usage:       driver.ImageUsageSampledBit,
	}, nil)
	require.NoError(t, err)

	reqs := f.d.GetImageSparseMemoryRequirements(f.dev, img)
	require.Len(t, reqs, 1)
	r := reqs[0]
	assert.Equal(t, driver.ImageAspectColorBit, r.FormatProperties.AspectMask)
	assert.Equal(t, driver.Extent3D{Width: 128, Height: 128, Depth: 1}, r.FormatProperties.ImageGranularity)
	assert.NotZero(t, r.FormatProperties.Flags&driver.SparseImageFormatSingleMiptailBit)
	assert.Equal(t, uint32(6), r.MipTailFirstLod)
	assert.Equal(t, sparseTileSize, r.MipTailSize)
	assert.Equal(t, 1365*sparseTileSize, r.MipTailOffset)
	assert.Zero(t, r.MipTailStride)

	depth, err := f.d.CreateImage(f.dev, driver.ImageCreateInfo{
		Flags: driver.ImageCreateSparseResidencyBit, Type: driver.ImageType2D, Format: driver.FormatD32Sfloat,
		Extent: driver.Extent3D{Width: 512, Height: 512, Depth: 1}, MipLevels: 1, ArrayLayers: 1, Samples: 1,
	}, nil)
	require.NoError(t, err)
	reqs = f.d.GetImageSparseMemoryRequirements(f.dev, depth)
	require.Len(t, reqs, 1)
	assert.Equal(t, driver.ImageAspectDepthBit, reqs[0].FormatProperties.AspectMask)
	assert.Equal(t, uint32(1), reqs[0].MipTailFirstLod)
	assert.Zero(t, reqs[0].MipTailSize)
}

func TestImageViewNeedsBoundImage(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	img, err := f.d.CreateImage(f.dev, driver.ImageCreateInfo{
		Type: driver.ImageType2D, Format: driver.FormatR8g8b8a8Unorm,
		Extent: driver.Extent3D{Width: 64, Height: 64, Depth: 1}, MipLevels: 1, ArrayLayers: 1, Samples: 1,
		Usage: driver.ImageUsageTransferDstBit,
	}, nil)
	require.NoError(t, err)
	info := driver.ImageViewCreateInfo{Image: img, ViewType: driver.ImageViewType2D, Format: driver.FormatR8g8b8a8Unorm,
		Range: driver.ImageSubresourceRange{AspectMask: driver.ImageAspectColorBit, LevelCount: 1, LayerCount: 1}}
	_, err = f.d.CreateImageView(f.dev, info, nil)
	require.Error(t, err)

	req := f.d.GetImageMemoryRequirements(f.dev, img)
	assert.Zero(t, req.MemoryTypeBits&(1<<MemoryTypeHostCoherent), "optimal images need device local memory")
	m, err := f.d.AllocateMemory(f.dev, driver.MemoryAllocateInfo{Size: req.Size, MemoryTypeIndex: MemoryTypeDeviceLocal}, nil)
	require.NoError(t, err)
	require.NoError(t, f.d.BindImageMemory(f.dev, img, m, 0))
	_, err = f.d.CreateImageView(f.dev, info, nil)
	require.NoError(t, err)
}

type computeRig struct {
	layout   driver.PipelineLayout
	pipeline driver.Pipeline
	set      driver.DescriptorSet
	pool     driver.CommandPool
	cmd      driver.CommandBuffer
}

func (f *fixture) computeRig(t *testing.T, a, b driver.Buffer) computeRig {
	t.Helper()
	d := f.d
	bindings := []driver.DescriptorSetLayoutBinding{
		{Binding: 0, Type: driver.DescriptorTypeStorageBuffer, Count: 1, Stages: driver.ShaderStageComputeBit},
		{Binding: 1, Type: driver.DescriptorTypeStorageBuffer, Count: 1, Stages: driver.ShaderStageComputeBit},
	}
	dsl, err := d.CreateDescriptorSetLayout(f.dev, bindings, nil)
	require.NoError(t, err)
	layout, err := d.CreatePipelineLayout(f.dev, driver.PipelineLayoutCreateInfo{
		SetLayouts:    []driver.DescriptorSetLayout{dsl},
		PushConstants: []driver.PushConstantRange{{Stages: driver.ShaderStageComputeBit, Size: 4}},
	}, nil)
	require.NoError(t, err)
	mod, err := d.CreateShaderModule(f.dev, CopyShader(), nil)
	require.NoError(t, err)
	pl, err := d.CreateComputePipeline(f.dev, driver.ComputePipelineCreateInfo{
		Stage:  driver.ShaderStage{Stage: driver.ShaderStageComputeBit, Module: mod, EntryPoint: "main"},
		Layout: layout,
	}, nil)
	require.NoError(t, err)
	pool, err := d.CreateDescriptorPool(f.dev, driver.DescriptorPoolCreateInfo{MaxSets: 1, Sizes: []driver.DescriptorPoolSize{{Type: driver.DescriptorTypeStorageBuffer, Count: 2}}}, nil)
	require.NoError(t, err)
	sets, err := d.AllocateDescriptorSets(f.dev, pool, []driver.DescriptorSetLayout{dsl})
	require.NoError(t, err)
	d.UpdateDescriptorSets(f.dev, []driver.WriteDescriptorSet{
		{Set: sets[0], Binding: 0, Type: driver.DescriptorTypeStorageBuffer, Buffers: []driver.DescriptorBufferInfo{{Buffer: a, Range: driver.WholeSize}}},
		{Set: sets[0], Binding: 1, Type: driver.DescriptorTypeStorageBuffer, Buffers: []driver.DescriptorBufferInfo{{Buffer: b, Range: driver.WholeSize}}},
	})
	cp, err := d.CreateCommandPool(f.dev, 0, driver.CommandPoolCreateResetCommandBufferBit, nil)
	require.NoError(t, err)
	cmds, err := d.AllocateCommandBuffers(f.dev, cp, 1)
	require.NoError(t, err)
	return computeRig{layout: layout, pipeline: pl, set: sets[0], pool: cp, cmd: cmds[0]}
}

func (f *fixture) recordCopy(t *testing.T, rig computeRig, elements uint32) {
	t.Helper()
	d := f.d
	require.NoError(t, d.BeginCommandBuffer(rig.cmd, driver.CommandBufferUsageOneTimeSubmitBit))
	d.CmdBindPipeline(rig.cmd, driver.PipelineBindPointCompute, rig.pipeline)
	d.CmdBindDescriptorSets(rig.cmd, driver.PipelineBindPointCompute, rig.layout, 0, []driver.DescriptorSet{rig.set})
	push := make([]byte, 4)
	binary.LittleEndian.PutUint32(push, elements)
	d.CmdPushConstants(rig.cmd, rig.layout, driver.ShaderStageComputeBit, 0, push)
	d.CmdDispatch(rig.cmd, (elements+CopyLocalSize-1)/CopyLocalSize, 1, 1)
	require.NoError(t, d.EndCommandBuffer(rig.cmd))
}

func TestCopyKernelRoundTrip(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, am := f.hostBuffer(t, 1024, MemoryTypeHostCoherent)
	b, bm := f.hostBuffer(t, 1024, MemoryTypeHostCoherent)
	rig := f.computeRig(t, a, b)

	src, err := f.d.MapMemory(f.dev, am, 0, 1024)
	require.NoError(t, err)
	copy(src, bytes.Repeat([]byte{0x03}, 1024))
	f.d.UnmapMemory(f.dev, am)

	f.recordCopy(t, rig, 256)
	fence, err := f.d.CreateFence(f.dev, false, nil)
	require.NoError(t, err)
	require.NoError(t, f.d.QueueSubmit(f.queue, []driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{rig.cmd}}}, fence))
	require.NoError(t, f.d.WaitForFences(f.dev, []driver.Fence{fence}, true, 0))

	dst, err := f.d.MapMemory(f.dev, bm, 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x03}, 1024), dst)
	assert.Equal(t, 1, f.d.Stats().Dispatches)
	assert.Empty(t, f.d.Violations())

	// Resubmitting without a reset fence is rejected.
	require.NoError(t, f.d.ResetCommandBuffer(rig.cmd))
	f.recordCopy(t, rig, 256)
	err = f.d.QueueSubmit(f.queue, []driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{rig.cmd}}}, fence)
	require.Error(t, err)
	assert.Contains(t, f.d.Violations()[0], "not reset")

	require.NoError(t, f.d.ResetFences(f.dev, []driver.Fence{fence}))
	require.NoError(t, f.d.QueueSubmit(f.queue, []driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{rig.cmd}}}, fence))
}

func TestDispatchOnUnboundBufferFails(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, _ := f.hostBuffer(t, 1024, MemoryTypeHostCoherent)
	b, err := f.d.CreateBuffer(f.dev, driver.BufferCreateInfo{Size: 1024, Usage: driver.BufferUsageStorageBufferBit}, nil)
	require.NoError(t, err)
	rig := f.computeRig(t, a, b)
	f.recordCopy(t, rig, 256)

	err = f.d.QueueSubmit(f.queue, []driver.SubmitInfo{{CommandBuffers: []driver.CommandBuffer{rig.cmd}}}, 0)
	require.Error(t, err)
	assert.Zero(t, f.d.Stats().Dispatches)
	assert.NotEmpty(t, f.d.Violations())
}

func TestWaitTimesOutAndDeviceLoss(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	fence, err := f.d.CreateFence(f.dev, false, nil)
	require.NoError(t, err)

	err = f.d.WaitForFences(f.dev, []driver.Fence{fence}, true, 0)
	assert.True(t, errors.Is(err, core.ErrTimeout))

	f.d.LoseDevice()
	err = f.d.WaitForFences(f.dev, []driver.Fence{fence}, true, 0)
	assert.True(t, errors.Is(err, core.ErrDeviceLost))
}

func TestSwapchainAcquirePresent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AcquireNotReady = 1
	cfg.PresentSuboptimal = true
	f := newFixture(t, cfg)

	surf, err := f.d.CreateSurface(f.inst, nil, nil)
	require.NoError(t, err)
	sc, err := f.d.CreateSwapchain(f.dev, driver.SwapchainCreateInfo{
		Surface: surf, MinImageCount: 3, Format: driver.FormatB8g8r8a8Srgb, ColorSpace: driver.ColorSpaceSrgbNonlinear,
		Extent: driver.Extent2D{Width: 640, Height: 480}, Usage: driver.ImageUsageColorAttachmentBit | driver.ImageUsageTransferDstBit,
		PresentMode: driver.PresentModeFifo, Clipped: true,
	}, nil)
	require.NoError(t, err)
	images, err := f.d.GetSwapchainImages(f.dev, sc)
	require.NoError(t, err)
	require.Len(t, images, 3)

	fence, err := f.d.CreateFence(f.dev, false, nil)
	require.NoError(t, err)
	sem, err := f.d.CreateSemaphore(f.dev, nil)
	require.NoError(t, err)

	_, res := f.d.AcquireNextImage(f.dev, sc, 0, sem, fence)
	assert.Equal(t, driver.NotReady, res)
	require.NoError(t, f.d.WaitForFences(f.dev, []driver.Fence{fence}, true, 0))

	// The fence is still signaled, so a second acquire must be rejected.
	_, res = f.d.AcquireNextImage(f.dev, sc, 0, sem, fence)
	assert.Equal(t, driver.ErrorValidationFailed, res)

	require.NoError(t, f.d.ResetFences(f.dev, []driver.Fence{fence}))
	idx, res := f.d.AcquireNextImage(f.dev, sc, 0, sem, fence)
	require.Equal(t, driver.Success, res)

	cp, err := f.d.CreateCommandPool(f.dev, 0, 0, nil)
	require.NoError(t, err)
	cmds, err := f.d.AllocateCommandBuffers(f.dev, cp, 1)
	require.NoError(t, err)
	rng := []driver.ImageSubresourceRange{{AspectMask: driver.ImageAspectColorBit, LevelCount: 1, LayerCount: 1}}
	require.NoError(t, f.d.BeginCommandBuffer(cmds[0], driver.CommandBufferUsageOneTimeSubmitBit))
	f.d.CmdPipelineBarrier(cmds[0], driver.PipelineBarrier{
		SrcStage: driver.PipelineStageTopOfPipeBit, DstStage: driver.PipelineStageTransferBit,
		Images: []driver.ImageMemoryBarrier{{DstAccess: driver.AccessTransferWriteBit, OldLayout: driver.ImageLayoutUndefined,
			NewLayout: driver.ImageLayoutTransferDstOptimal, Image: images[idx], Range: rng[0]}},
	})
	f.d.CmdClearColorImage(cmds[0], images[idx], driver.ImageLayoutTransferDstOptimal, driver.ClearColor{0, 0, 0, 1}, rng)
	f.d.CmdPipelineBarrier(cmds[0], driver.PipelineBarrier{
		SrcStage: driver.PipelineStageTransferBit, DstStage: driver.PipelineStageBottomOfPipeBit,
		Images: []driver.ImageMemoryBarrier{{SrcAccess: driver.AccessTransferWriteBit, OldLayout: driver.ImageLayoutTransferDstOptimal,
			NewLayout: driver.ImageLayoutPresentSrc, Image: images[idx], Range: rng[0]}},
	})
	require.NoError(t, f.d.EndCommandBuffer(cmds[0]))

	done, err := f.d.CreateSemaphore(f.dev, nil)
	require.NoError(t, err)
	require.NoError(t, f.d.QueueSubmit(f.queue, []driver.SubmitInfo{{
		WaitSemaphores:   []driver.Semaphore{sem},
		WaitStages:       []driver.PipelineStageFlags{driver.PipelineStageTransferBit},
		CommandBuffers:   cmds,
		SignalSemaphores: []driver.Semaphore{done},
	}}, 0))

	res = f.d.QueuePresent(f.queue, driver.PresentInfo{WaitSemaphores: []driver.Semaphore{done}, Swapchain: sc, ImageIndex: idx})
	assert.Equal(t, driver.Suboptimal, res)
	assert.Equal(t, 1, f.d.Stats().Clears)
	assert.Equal(t, 1, f.d.Stats().Presents)
	require.Len(t, f.d.Violations(), 1)
	assert.Contains(t, f.d.Violations()[0], "not reset")
}
