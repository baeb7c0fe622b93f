package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/assets"
	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
	"github.com/spaghettifunk/vkharness/engine/renderer/submit"
)

var sparseFeatures = []string{"sparse_binding", "sparse_residency_image2d"}

func (e *Engine) createCallbacks() error {
	if e.callbacks == nil {
		cbs, err := hostalloc.NewSet()
		if err != nil {
			return errors.Wrap(err, "failed to create the host allocator")
		}
		e.callbacks = cbs
		e.ownsCallbacks = true
	}
	e.owned.push("host allocator", func() {
		e.callbacks.LogReport()
		if e.ownsCallbacks {
			if err := e.callbacks.Close(); err != nil {
				core.LogWarn("host allocator did not close cleanly: %v", err)
			}
		}
	})
	e.h = handles.New(e.drv, e.callbacks)
	return nil
}

func (e *Engine) openLibrary() error {
	if e.library == nil {
		e.library = assets.NewLibrary(e.cfg.Shaders.Directory)
		e.ownsLibrary = true
	}
	if e.cfg.Shaders.Watch {
		if err := e.library.Watch(); err != nil {
			core.LogWarn("shader hot reload disabled: %v", err)
		}
	}
	e.owned.push("shader library", func() {
		if e.ownsLibrary {
			_ = e.library.Close()
		}
	})
	return nil
}

func (e *Engine) createInstance() error {
	exts, layers := probe.InstanceSupport(e.drv)
	core.LogInfo("%d instance extensions and %d layers available", len(exts), len(layers))

	info := driver.InstanceCreateInfo{
		ApplicationName:    e.cfg.Application.Name,
		ApplicationVersion: driver.MakeVersion(1, 0, 0),
		EngineName:         "vkharness",
		APIVersion:         driver.MakeVersion(1, 1, 0),
	}
	if e.surfaceSource != nil && e.cfg.Graphics() {
		info.Extensions = append(info.Extensions, e.surfaceSource.GetRequiredInstanceExtensions()...)
	}
	if e.cfg.Application.Validation {
		if probe.HasLayer(layers, validationLayer) {
			info.Layers = append(info.Layers, validationLayer)
		} else {
			core.LogWarn("validation requested but %s is not installed", validationLayer)
		}
	}

	err := e.h.Locks.SafeCall(handles.InstanceManagement, func() error {
		instance, err := e.drv.CreateInstance(info, e.h.CB(hostalloc.InstanceCreation))
		e.h.Instance = instance
		return err
	})
	if err != nil {
		return core.Fatal(err, "failed to create instance")
	}
	e.owned.push("instance", func() {
		_ = e.h.Locks.SafeCall(handles.InstanceManagement, func() error {
			e.drv.DestroyInstance(e.h.Instance, e.h.CB(hostalloc.InstanceDestruction))
			return nil
		})
		e.h.Instance = 0
	})
	core.LogInfo("Vulkan instance created")
	return nil
}

func (e *Engine) createSurface() error {
	if !e.cfg.Graphics() {
		return nil
	}
	surface, err := e.drv.CreateSurface(e.h.Instance, e.surfaceSource, e.h.CB(hostalloc.SurfaceCreation))
	if err != nil {
		return core.Fatal(err, "failed to create the window surface")
	}
	e.h.Surface = surface
	e.owned.push("surface", func() {
		e.drv.DestroySurface(e.h.Instance, e.h.Surface, e.h.CB(hostalloc.SurfaceDestruction))
		e.h.Surface = 0
	})
	return nil
}

// requirements translates the configuration for the prober.
func (e *Engine) requirements() probe.Requirements {
	cfg := e.cfg
	req := probe.Requirements{
		Features:         append([]string(nil), cfg.Device.RequiredFeatures...),
		DeviceExtensions: append([]string(nil), cfg.Device.Extensions...),
		MinAPIVersion:    cfg.Device.MinAPIVersion,
		Capability:       driver.QueueComputeBit,
		Selection:        cfg.Selection(),
		Memory:           []probe.MemoryUsage{probe.DeviceLocal, e.bufferUsage()},
		ImageFormat:      cfg.ImageFormat(),
	}
	if cfg.Sparse.Enabled {
		req.Features = append(req.Features, sparseFeatures...)
		req.SparseFormat = cfg.SparseFormat()
	}
	if cfg.Graphics() {
		req.Capability |= driver.QueueGraphicsBit
		req.DeviceExtensions = append(req.DeviceExtensions, "VK_KHR_swapchain")
		req.SurfaceFormat = cfg.SurfaceFormat()
		req.PresentMode = cfg.PresentMode()
	}
	return req
}

func (e *Engine) bufferUsage() probe.MemoryUsage {
	if e.cfg.Buffers.HostCoherent {
		return probe.HostVisible
	}
	return probe.HostCached
}

func (e *Engine) createDevice() error {
	req := e.requirements()
	snap, err := probe.Probe(e.h, req)
	if err != nil {
		return err
	}
	e.snap = snap
	e.h.PhysicalDevice = snap.PhysicalDevice

	info := driver.DeviceCreateInfo{Extensions: req.DeviceExtensions}
	info.Features.Enable(req.Features)
	for _, family := range snap.Families() {
		info.Queues = append(info.Queues, driver.DeviceQueueCreateInfo{Family: family, Priorities: []float32{1}})
		e.h.Locks.SetQueueFamily(family)
	}

	err = e.h.Locks.SafeCall(handles.DeviceManagement, func() error {
		device, err := e.drv.CreateDevice(snap.PhysicalDevice, info, e.h.CB(hostalloc.DeviceCreation))
		e.h.Device = device
		return err
	})
	if err != nil {
		return core.Fatal(err, "failed to create logical device")
	}
	e.owned.push("device", func() {
		_ = e.h.Locks.SafeCall(handles.DeviceManagement, func() error {
			e.drv.DestroyDevice(e.h.Device, e.h.CB(hostalloc.DeviceDestruction))
			return nil
		})
		e.h.Device = 0
	})

	queue := func(family uint32) handles.Queue {
		return handles.Queue{Handle: e.drv.GetDeviceQueue(e.h.Device, family, 0), Family: family}
	}
	e.h.Queues = handles.Queues{
		Primary:  queue(snap.PrimaryFamily),
		Transfer: queue(snap.TransferFamily),
		Present:  queue(snap.PresentFamily),
	}
	e.factory = resources.NewFactory(e.h, snap)
	e.builder = pipeline.NewBuilder(e.h, snap)
	core.LogInfo("logical device created on '%s'", snap.Properties.DeviceName)
	return nil
}

func (e *Engine) createCommandPools() error {
	pool, err := submit.NewCommandPool(e.h, e.h.Queues.Primary, driver.CommandPoolCreateResetCommandBufferBit|driver.CommandPoolCreateTransientBit)
	if err != nil {
		return err
	}
	e.compute.commands = pool
	e.owned.push("compute command pool", pool.Destroy)

	if e.cfg.Graphics() {
		p, err := submit.NewCommandPool(e.h, e.h.Queues.Primary, driver.CommandPoolCreateResetCommandBufferBit|driver.CommandPoolCreateTransientBit)
		if err != nil {
			return err
		}
		e.present = &presentState{commands: p}
		e.owned.push("frame command pool", p.Destroy)
	}
	return nil
}

func (e *Engine) createBuffers() error {
	c := &e.compute
	size := driver.DeviceSize(e.cfg.Buffers.Size)
	usage := driver.BufferUsageStorageBufferBit | driver.BufferUsageTransferSrcBit | driver.BufferUsageTransferDstBit

	var err error
	if c.src, err = e.factory.CreateBuffer("a", size, usage); err != nil {
		return err
	}
	e.owned.push("buffer a", func() { e.factory.DestroyBuffer(c.src) })
	if c.dst, err = e.factory.CreateBuffer("b", size, usage); err != nil {
		return err
	}
	e.owned.push("buffer b", func() { e.factory.DestroyBuffer(c.dst) })
	c.elements = uint32(size / 4)
	return nil
}

func (e *Engine) createImages() error {
	c := &e.compute
	img, err := e.factory.CreateImage("storage", resources.ImageDesc{
		Width:  e.cfg.Image.Width,
		Height: e.cfg.Image.Height,
		Format: e.cfg.ImageFormat(),
		Usage:  driver.ImageUsageStorageBit | driver.ImageUsageSampledBit | driver.ImageUsageTransferDstBit,
		Tiling: driver.ImageTilingOptimal,
	})
	if err != nil {
		return err
	}
	c.image = img
	e.owned.push("image", func() { e.factory.DestroyImage(c.image) })
	return nil
}

func (e *Engine) createSparseImage() error {
	if !e.cfg.Sparse.Enabled {
		return nil
	}
	c := &e.compute
	img, err := e.factory.CreateSparseImage("sparse", resources.ImageDesc{
		Width:     e.cfg.Sparse.Width,
		Height:    e.cfg.Sparse.Height,
		Format:    e.cfg.SparseFormat(),
		MipLevels: e.cfg.Sparse.MipLevels,
		Usage:     driver.ImageUsageSampledBit,
		Tiling:    driver.ImageTilingOptimal,
	})
	if err != nil {
		return err
	}
	c.sparse = img
	e.owned.push("sparse image", func() { e.factory.DestroyImage(c.sparse) })
	return nil
}

// bindMemory gives every non-sparse resource its own allocation. Sparse
// images stay unbound: residency is never committed.
func (e *Engine) bindMemory() error {
	c := &e.compute

	bind := func(name string, r resources.Resource, usage probe.MemoryUsage, out **resources.Memory) error {
		typeIndex, err := e.factory.MemoryTypeFor(r, usage)
		if err != nil {
			return err
		}
		mem, err := e.factory.AllocateAndBindMemory(r, typeIndex)
		if err != nil {
			return err
		}
		*out = mem
		e.owned.push(name, func() { e.factory.FreeMemory(mem) })
		return nil
	}
	if err := bind("memory a", c.src, e.bufferUsage(), &c.srcMem); err != nil {
		return err
	}
	if err := bind("memory b", c.dst, e.bufferUsage(), &c.dstMem); err != nil {
		return err
	}
	if err := bind("image memory", c.image, probe.DeviceLocal, &c.imageMem); err != nil {
		return err
	}
	core.LogInfo("memory bound: buffers in types %d/%d, image in type %d", c.srcMem.TypeIndex, c.dstMem.TypeIndex, c.imageMem.TypeIndex)
	return nil
}

func (e *Engine) createImageViews() error {
	c := &e.compute
	view, err := e.factory.CreateImageView(c.image, c.image.Info.Format.Aspect())
	if err != nil {
		return err
	}
	c.view = view
	e.owned.push("image view", func() { e.factory.DestroyImageView(c.view) })
	return nil
}

func (e *Engine) createPipelineObjects() error {
	c := &e.compute
	b := e.builder

	setLayout, err := b.CreateDescriptorSetLayout([]pipeline.Binding{
		{Slot: 0, Type: driver.DescriptorTypeStorageBuffer, Stages: driver.ShaderStageComputeBit},
		{Slot: 1, Type: driver.DescriptorTypeStorageBuffer, Stages: driver.ShaderStageComputeBit},
	})
	if err != nil {
		return err
	}
	c.setLayout = setLayout
	e.owned.push("descriptor set layout", func() { b.DestroyDescriptorSetLayout(setLayout) })

	layout, err := b.CreatePipelineLayout([]*pipeline.SetLayout{setLayout}, []driver.PushConstantRange{
		{Stages: driver.ShaderStageComputeBit, Offset: 0, Size: 4},
	})
	if err != nil {
		return err
	}
	c.layout = layout
	e.owned.push("compute pipeline layout", func() { b.DestroyPipelineLayout(layout) })

	shader, err := e.library.Load(e.cfg.Shaders.Compute)
	if err != nil {
		return core.Fatal(err, "compute shader unavailable")
	}
	module, err := b.CreateShaderModule(shader.Name, shader.Code, driver.ShaderStageComputeBit)
	if err != nil {
		return err
	}
	c.module = module
	// the closures read c so that a reloaded module and pipeline are the
	// ones released
	e.owned.push("compute shader module", func() { b.DestroyShaderModule(c.module) })

	p, err := b.CreateComputePipeline(module, "main", layout)
	if err != nil {
		return err
	}
	c.pipeline = p
	c.generation = shader.Generation
	e.owned.push("compute pipeline", func() { b.DestroyPipeline(c.pipeline) })

	pool, err := b.CreateDescriptorPool(1, pipeline.PoolSizesFor(setLayout))
	if err != nil {
		return err
	}
	c.pool = pool
	e.owned.push("descriptor pool", func() { b.DestroyDescriptorPool(pool) })

	if c.set, err = b.AllocateDescriptorSet(pool, setLayout); err != nil {
		return err
	}
	if err := b.WriteBuffer(c.set, 0, c.src); err != nil {
		return err
	}
	return b.WriteBuffer(c.set, 1, c.dst)
}

func (e *Engine) createSyncPrimitives() error {
	fence, err := submit.NewFence(e.h, false)
	if err != nil {
		return err
	}
	e.compute.fence = fence
	e.owned.push("compute fence", fence.Destroy)

	if !e.cfg.Graphics() {
		return nil
	}
	p := e.present
	if p.acquired, err = submit.NewFence(e.h, false); err != nil {
		return err
	}
	e.owned.push("acquire fence", p.acquired.Destroy)
	if p.rendered, err = submit.NewFence(e.h, false); err != nil {
		return err
	}
	e.owned.push("frame fence", p.rendered.Destroy)
	if p.available, err = submit.NewSemaphore(e.h); err != nil {
		return err
	}
	e.owned.push("image available semaphore", p.available.Destroy)
	if p.finished, err = submit.NewSemaphore(e.h); err != nil {
		return err
	}
	e.owned.push("render finished semaphore", p.finished.Destroy)
	return nil
}

func (e *Engine) createSwapchain() error {
	if !e.cfg.Graphics() {
		return nil
	}
	p := e.present
	width, height := e.surfaceSource.GetFramebufferSize()
	if width <= 0 || height <= 0 {
		width, height = int(e.cfg.Window.Width), int(e.cfg.Window.Height)
	}
	sc, err := submit.NewSwapchain(e.h, e.snap, e.factory, uint32(width), uint32(height))
	if err != nil {
		return err
	}
	p.swapchain = sc
	e.owned.push("swapchain", func() { sc.Destroy(e.factory) })

	b := e.builder
	pass, err := b.CreateRenderPass(sc.Format.Format)
	if err != nil {
		return err
	}
	p.pass = pass
	e.owned.push("render pass", func() { b.DestroyRenderPass(pass) })

	for i, view := range sc.Views {
		fb, err := b.CreateFramebuffer(pass, []*resources.ImageView{view}, sc.Extent)
		if err != nil {
			return errors.Wrapf(err, "framebuffer %d", i)
		}
		p.framebuffers = append(p.framebuffers, fb)
		e.owned.push("framebuffer", func() { b.DestroyFramebuffer(fb) })
	}

	if e.cfg.Shaders.Vertex == "" {
		core.LogInfo("no graphics shaders configured, frames are cleared to %v", e.cfg.Presentation.ClearColor)
		return nil
	}
	return e.createGraphicsPipeline(sc.Extent)
}

func (e *Engine) createGraphicsPipeline(extent driver.Extent2D) error {
	p := e.present
	b := e.builder

	var stages []pipeline.Stage
	for _, s := range []struct {
		name  string
		stage driver.ShaderStageFlags
	}{
		{e.cfg.Shaders.Vertex, driver.ShaderStageVertexBit},
		{e.cfg.Shaders.Fragment, driver.ShaderStageFragmentBit},
	} {
		shader, err := e.library.Load(s.name)
		if err != nil {
			return core.Fatal(err, "graphics shader unavailable")
		}
		module, err := b.CreateShaderModule(shader.Name, shader.Code, s.stage)
		if err != nil {
			return err
		}
		e.owned.push("graphics shader module "+shader.Name, func() { b.DestroyShaderModule(module) })
		stages = append(stages, pipeline.Stage{Module: module, EntryPoint: "main"})
	}

	layout, err := b.CreatePipelineLayout(nil, nil)
	if err != nil {
		return err
	}
	p.layout = layout
	e.owned.push("graphics pipeline layout", func() { b.DestroyPipelineLayout(layout) })

	gp, err := b.CreateGraphicsPipeline(stages, pipeline.FullscreenState(extent), p.pass, layout)
	if err != nil {
		return err
	}
	p.graphics = gp
	e.owned.push("graphics pipeline", func() { b.DestroyPipeline(gp) })
	return nil
}

// initialSubmission fills buffer a with the configured pattern and moves the
// storage image into the general layout.
func (e *Engine) initialSubmission() error {
	c := &e.compute
	if err := e.factory.MapAndWrite(c.srcMem, 0, driver.DeviceSize(e.cfg.Buffers.Size), []byte{e.cfg.Buffers.Pattern}); err != nil {
		return err
	}
	if err := e.factory.Flush(c.srcMem); err != nil {
		return err
	}
	if err := e.factory.Unmap(c.srcMem); err != nil {
		return err
	}

	err := submit.OneShot(c.commands, c.fence, e.cfg.Timeouts.Fence.Duration, func(cb *submit.CommandBuffer) {
		cb.Transition(c.image, submit.UndefinedToGeneral)
	})
	if err != nil {
		return errors.Wrap(err, "failed to transition the storage image")
	}
	core.LogInfo("buffer a filled with 0x%02x", e.cfg.Buffers.Pattern)
	return nil
}
