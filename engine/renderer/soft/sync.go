package soft

import (
	"slices"
	"time"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

type fence struct {
	*object
	signaled bool
}

type semaphore struct {
	*object
	signaled bool
}

type swapchain struct {
	*object
	info   driver.SwapchainCreateInfo
	images []*image
	next   int
}

func (d *Driver) CreateFence(h driver.Device, signaled bool, cb *hostalloc.Adapter) (driver.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.track("vkCreateFence", "fence", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &fence{object: o, signaled: signaled}
	return driver.Fence(o.handle), nil
}

func (d *Driver) DestroyFence(_ driver.Device, h driver.Fence, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*fence](d, "fence", uint64(h), cb)
}

// WaitForFences never blocks: work completes at submit, so an unsignaled
// fence can only be signaled by a later call and the wait times out.
func (d *Driver) WaitForFences(_ driver.Device, fences []driver.Fence, waitAll bool, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return driver.Check("vkWaitForFences", driver.ErrorDeviceLost)
	}
	signaled := 0
	for _, h := range fences {
		f, ok := lookup[*fence](d, uint64(h))
		if !ok {
			d.violate("wait on unknown fence 0x%x", uint64(h))
			return driver.Check("vkWaitForFences", driver.ErrorValidationFailed)
		}
		if f.signaled {
			signaled++
		}
	}
	if (waitAll && signaled == len(fences)) || (!waitAll && signaled > 0) {
		return nil
	}
	return driver.Check("vkWaitForFences", driver.Timeout)
}

func (d *Driver) ResetFences(_ driver.Device, fences []driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range fences {
		f, ok := lookup[*fence](d, uint64(h))
		if !ok {
			d.violate("reset of unknown fence 0x%x", uint64(h))
			return driver.Check("vkResetFences", driver.ErrorValidationFailed)
		}
		f.signaled = false
	}
	return nil
}

// FenceSignaled reports the state of a fence, for tests.
func (d *Driver) FenceSignaled(h driver.Fence) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := lookup[*fence](d, uint64(h))
	return ok && f.signaled
}

func (d *Driver) CreateSemaphore(h driver.Device, cb *hostalloc.Adapter) (driver.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, err := d.track("vkCreateSemaphore", "semaphore", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &semaphore{object: o}
	return driver.Semaphore(o.handle), nil
}

func (d *Driver) DestroySemaphore(_ driver.Device, h driver.Semaphore, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*semaphore](d, "semaphore", uint64(h), cb)
}

// unsignaledFence validates a fence handed to submit or acquire.
func (d *Driver) unsignaledFence(op string, h driver.Fence) (*fence, error) {
	if h == 0 {
		return nil, nil
	}
	f, ok := lookup[*fence](d, uint64(h))
	if !ok {
		d.violate("%s with unknown fence 0x%x", op, uint64(h))
		return nil, driver.Check(op, driver.ErrorValidationFailed)
	}
	if f.signaled {
		d.violate("%s with fence 0x%x that was not reset", op, uint64(h))
		return nil, driver.Check(op, driver.ErrorValidationFailed)
	}
	return f, nil
}

func (d *Driver) waitSemaphores(op string, sems []driver.Semaphore) error {
	for _, h := range sems {
		s, ok := lookup[*semaphore](d, uint64(h))
		if !ok || !s.signaled {
			d.violate("%s waits on semaphore 0x%x that will never signal", op, uint64(h))
			return driver.Check(op, driver.ErrorValidationFailed)
		}
		s.signaled = false
	}
	return nil
}

func (d *Driver) signalSemaphores(op string, sems []driver.Semaphore) error {
	for _, h := range sems {
		s, ok := lookup[*semaphore](d, uint64(h))
		if !ok || s.signaled {
			d.violate("%s signals semaphore 0x%x that is already signaled", op, uint64(h))
			return driver.Check(op, driver.ErrorValidationFailed)
		}
		s.signaled = true
	}
	return nil
}

// QueueSubmit executes the command buffers immediately.
func (d *Driver) QueueSubmit(q driver.Queue, submits []driver.SubmitInfo, fh driver.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	const op = "vkQueueSubmit"
	if d.lost {
		return driver.Check(op, driver.ErrorDeviceLost)
	}
	qu, ok := lookup[*queue](d, uint64(q))
	if !ok {
		d.violate("submit to unknown queue 0x%x", uint64(q))
		return driver.Check(op, driver.ErrorValidationFailed)
	}
	f, err := d.unsignaledFence(op, fh)
	if err != nil {
		return err
	}
	if err := d.injected(op); err != nil {
		return err
	}
	for _, s := range submits {
		if len(s.WaitSemaphores) != len(s.WaitStages) {
			d.violate("submit with %d wait semaphores and %d wait stages", len(s.WaitSemaphores), len(s.WaitStages))
			return driver.Check(op, driver.ErrorValidationFailed)
		}
		if err := d.waitSemaphores(op, s.WaitSemaphores); err != nil {
			return err
		}
		for _, ch := range s.CommandBuffers {
			c, err := d.commandBuffer(op, ch)
			if err != nil {
				return err
			}
			if c.state != cmdExecutable {
				d.violate("submit of command buffer 0x%x that is not executable", uint64(ch))
				return driver.Check(op, driver.ErrorValidationFailed)
			}
			if c.pool.family != qu.family {
				d.violate("command buffer 0x%x from family %d submitted to family %d", uint64(ch), c.pool.family, qu.family)
				return driver.Check(op, driver.ErrorValidationFailed)
			}
			r := &replay{
				d:         d,
				pipelines: make(map[driver.PipelineBindPoint]*pipeline),
				sets:      make(map[uint32]*descriptorSet),
				push:      make([]byte, qu.device.pd.cfg.Properties.Limits.MaxPushConstantsSize),
			}
			for _, o := range c.ops {
				if err := o(r); err != nil {
					return err
				}
			}
			if c.usage&driver.CommandBufferUsageOneTimeSubmitBit != 0 {
				c.state = cmdInvalid
			}
		}
		if err := d.signalSemaphores(op, s.SignalSemaphores); err != nil {
			return err
		}
	}
	if f != nil {
		f.signaled = true
	}
	d.stats.Submits++
	return nil
}

func (d *Driver) QueueWaitIdle(q driver.Queue) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return driver.Check("vkQueueWaitIdle", driver.ErrorDeviceLost)
	}
	if _, ok := lookup[*queue](d, uint64(q)); !ok {
		d.violate("wait idle on unknown queue 0x%x", uint64(q))
		return driver.Check("vkQueueWaitIdle", driver.ErrorValidationFailed)
	}
	return nil
}

func (d *Driver) CreateSwapchain(h driver.Device, info driver.SwapchainCreateInfo, cb *hostalloc.Adapter) (driver.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	const op = "vkCreateSwapchainKHR"
	dev, ok := d.device(h)
	if !ok {
		return 0, driver.Check(op, driver.ErrorInitializationFailed)
	}
	if _, ok := lookup[*surface](d, uint64(info.Surface)); !ok {
		return 0, driver.Check(op, driver.ErrorSurfaceLost)
	}
	cfg := dev.pd.cfg
	caps := cfg.Surface
	switch {
	case !slices.Contains(cfg.SurfaceFormats, driver.SurfaceFormat{Format: info.Format, ColorSpace: info.ColorSpace}):
		d.violate("swapchain format %s/%s is not supported by the surface", info.Format, info.ColorSpace)
	case !slices.Contains(cfg.PresentModes, info.PresentMode):
		d.violate("present mode %s is not supported by the surface", info.PresentMode)
	case info.MinImageCount < caps.MinImageCount || (caps.MaxImageCount > 0 && info.MinImageCount > caps.MaxImageCount):
		d.violate("swapchain image count %d outside [%d, %d]", info.MinImageCount, caps.MinImageCount, caps.MaxImageCount)
	case info.Extent.Width == 0 || info.Extent.Height == 0 ||
		info.Extent.Width > caps.MaxImageExtent.Width || info.Extent.Height > caps.MaxImageExtent.Height:
		d.violate("swapchain extent %dx%d outside the surface limits", info.Extent.Width, info.Extent.Height)
	default:
		o, err := d.track(op, "swapchain", uint64(h), cb)
		if err != nil {
			return 0, err
		}
		sc := &swapchain{object: o, info: info}
		for i := uint32(0); i < info.MinImageCount; i++ {
			ih := d.handle()
			img := &image{
				object: &object{kind: "swapchain_image", handle: ih},
				info: driver.ImageCreateInfo{
					Type:        driver.ImageType2D,
					Format:      info.Format,
					Extent:      driver.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: 1},
					MipLevels:   1,
					ArrayLayers: 1,
					Samples:     1,
					Usage:       info.Usage,
				},
				swapchain: true,
				layout:    driver.ImageLayoutUndefined,
			}
			d.objects[ih] = img
			sc.images = append(sc.images, img)
		}
		d.objects[o.handle] = sc
		return driver.Swapchain(o.handle), nil
	}
	return 0, driver.Check(op, driver.ErrorValidationFailed)
}

func (d *Driver) DestroySwapchain(_ driver.Device, h driver.Swapchain, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := destroy[*swapchain](d, "swapchain", uint64(h), cb)
	if !ok {
		return
	}
	for _, img := range sc.images {
		delete(d.objects, img.handle)
	}
}

func (d *Driver) GetSwapchainImages(_ driver.Device, h driver.Swapchain) ([]driver.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc, ok := lookup[*swapchain](d, uint64(h))
	if !ok {
		d.violate("images of unknown swapchain 0x%x", uint64(h))
		return nil, driver.Check("vkGetSwapchainImagesKHR", driver.ErrorValidationFailed)
	}
	out := make([]driver.Image, 0, len(sc.images))
	for _, img := range sc.images {
		out = append(out, driver.Image(img.handle))
	}
	return out, nil
}

// AcquireNextImage hands out images round-robin. While AcquireNotReady is
// positive it reports VK_NOT_READY and signals only the fence.
func (d *Driver) AcquireNextImage(_ driver.Device, h driver.Swapchain, timeout time.Duration, sh driver.Semaphore, fh driver.Fence) (uint32, driver.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	const op = "vkAcquireNextImageKHR"
	if d.lost {
		return 0, driver.ErrorDeviceLost
	}
	sc, ok := lookup[*swapchain](d, uint64(h))
	if !ok {
		d.violate("acquire from unknown swapchain 0x%x", uint64(h))
		return 0, driver.ErrorValidationFailed
	}
	f, err := d.unsignaledFence(op, fh)
	if err != nil {
		return 0, driver.ErrorValidationFailed
	}
	if d.notReady > 0 {
		d.notReady--
		if f != nil {
			f.signaled = true
		}
		return 0, driver.NotReady
	}
	n := len(sc.images)
	for i := 0; i < n; i++ {
		idx := (sc.next + i) % n
		img := sc.images[idx]
		if img.acquired {
			continue
		}
		if sh != 0 {
			if err := d.signalSemaphores(op, []driver.Semaphore{sh}); err != nil {
				return 0, driver.ErrorValidationFailed
			}
		}
		img.acquired = true
		sc.next = (idx + 1) % n
		if f != nil {
			f.signaled = true
		}
		return uint32(idx), driver.Success
	}
	if timeout == 0 {
		return 0, driver.NotReady
	}
	return 0, driver.Timeout
}

func (d *Driver) QueuePresent(q driver.Queue, info driver.PresentInfo) driver.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	const op = "vkQueuePresentKHR"
	if d.lost {
		return driver.ErrorDeviceLost
	}
	if _, ok := lookup[*queue](d, uint64(q)); !ok {
		d.violate("present on unknown queue 0x%x", uint64(q))
		return driver.ErrorValidationFailed
	}
	sc, ok := lookup[*swapchain](d, uint64(info.Swapchain))
	if !ok || int(info.ImageIndex) >= len(sc.images) {
		d.violate("present of image %d from swapchain 0x%x", info.ImageIndex, uint64(info.Swapchain))
		return driver.ErrorValidationFailed
	}
	img := sc.images[info.ImageIndex]
	if !img.acquired {
		d.violate("present of image %d that was not acquired", info.ImageIndex)
		return driver.ErrorValidationFailed
	}
	if img.layout != driver.ImageLayoutPresentSrc {
		d.violate("present of image %d in layout %s", info.ImageIndex, img.layout)
		return driver.ErrorValidationFailed
	}
	if err := d.waitSemaphores(op, info.WaitSemaphores); err != nil {
		return driver.ErrorValidationFailed
	}
	img.acquired = false
	d.stats.Presents++
	if d.cfg.PresentSuboptimal {
		return driver.Suboptimal
	}
	return driver.Success
}
