package submit

import (
	"fmt"
	stdmath "math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/math"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
)

// maxAcquireAttempts bounds how often a not-ready acquire is retried.
const maxAcquireAttempts = 64

type Swapchain struct {
	h           *handles.Set
	Handle      driver.Swapchain
	Format      driver.SurfaceFormat
	PresentMode driver.PresentMode
	Extent      driver.Extent2D
	Images      []*resources.Image
	Views       []*resources.ImageView
}

// ChooseExtent picks the surface's current extent when it has one and the
// requested size otherwise, clamped to what the surface allows.
func ChooseExtent(caps driver.SurfaceCapabilities, width, height uint32) driver.Extent2D {
	extent := driver.Extent2D{Width: width, Height: height}
	if caps.CurrentExtent.Width != stdmath.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = math.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = math.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	return extent
}

// ImageCount asks for one image more than the minimum, bounded by the
// maximum when the surface has one.
func ImageCount(caps driver.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

// NewSwapchain creates the swapchain with the format and present mode the
// prober selected, wraps its images and creates a view for each.
func NewSwapchain(h *handles.Set, snap *probe.Snapshot, f *resources.Factory, width, height uint32) (*Swapchain, error) {
	if !snap.Presenting {
		return nil, core.Violation(core.ErrInvalidState, "swapchain requested without a surface")
	}
	caps := snap.SurfaceCapabilities
	sc := &Swapchain{
		h:           h,
		Format:      snap.SurfaceFormat,
		PresentMode: snap.PresentMode,
		Extent:      ChooseExtent(caps, width, height),
	}
	info := driver.SwapchainCreateInfo{
		Surface:       h.Surface,
		MinImageCount: ImageCount(caps),
		Format:        sc.Format.Format,
		ColorSpace:    sc.Format.ColorSpace,
		Extent:        sc.Extent,
		Usage:         driver.ImageUsageColorAttachmentBit | driver.ImageUsageTransferDstBit,
		SharingMode:   driver.SharingModeExclusive,
		PreTransform:  caps.CurrentTransform,
		PresentMode:   sc.PresentMode,
		Clipped:       true,
	}
	if snap.PrimaryFamily != snap.PresentFamily {
		info.SharingMode = driver.SharingModeConcurrent
		info.QueueFamilies = []uint32{snap.PrimaryFamily, snap.PresentFamily}
	}

	var images []driver.Image
	err := h.Locks.SafeCall(handles.SwapchainManagement, func() error {
		handle, err := h.Driver.CreateSwapchain(h.Device, info, h.CB(hostalloc.SwapchainCreation))
		if err != nil {
			return err
		}
		sc.Handle = handle
		images, err = h.Driver.GetSwapchainImages(h.Device, handle)
		return err
	})
	if err != nil {
		sc.Destroy(f)
		return nil, core.Fatal(err, "failed to create swapchain")
	}

	for i, handle := range images {
		img := &resources.Image{
			ID:     uuid.New(),
			Name:   fmt.Sprintf("swapchain[%d]", i),
			Handle: handle,
			Info: driver.ImageCreateInfo{
				Type:        driver.ImageType2D,
				Format:      info.Format,
				Extent:      driver.Extent3D{Width: sc.Extent.Width, Height: sc.Extent.Height, Depth: 1},
				MipLevels:   1,
				ArrayLayers: 1,
				Samples:     1,
				Usage:       info.Usage,
			},
			Presentable: true,
		}
		view, err := f.CreateImageView(img, driver.ImageAspectColorBit)
		if err != nil {
			sc.Destroy(f)
			return nil, core.Fatal(err, "failed to create swapchain image view")
		}
		sc.Images = append(sc.Images, img)
		sc.Views = append(sc.Views, view)
	}
	core.LogInfo("swapchain created: %d images, %dx%d, %s", len(sc.Images), sc.Extent.Width, sc.Extent.Height, sc.PresentMode)
	return sc, nil
}

// Destroy releases the views and then the swapchain, which owns the images.
func (sc *Swapchain) Destroy(f *resources.Factory) {
	for i := len(sc.Views) - 1; i >= 0; i-- {
		f.DestroyImageView(sc.Views[i])
	}
	sc.Views = nil
	sc.Images = nil
	if sc.Handle == 0 {
		return
	}
	_ = sc.h.Locks.SafeCall(handles.SwapchainManagement, func() error {
		sc.h.Driver.DestroySwapchain(sc.h.Device, sc.Handle, sc.h.CB(hostalloc.SwapchainDestruction))
		return nil
	})
	sc.Handle = 0
}

// Acquire returns the index of the next presentable image. The fence must
// be unsignaled; it is waited on and reset before Acquire returns. A
// not-ready answer waits on the fence and asks again.
func (sc *Swapchain) Acquire(timeout time.Duration, available *Semaphore, fence *Fence) (uint32, error) {
	if fence == nil {
		return 0, core.Violation(core.ErrInvalidState, "acquire without a fence")
	}
	var sem driver.Semaphore
	if available != nil {
		sem = available.Handle
	}
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		if err := fence.arm("acquire"); err != nil {
			return 0, err
		}
		var index uint32
		var result driver.Result
		_ = sc.h.Locks.SafeCall(handles.SwapchainManagement, func() error {
			index, result = sc.h.Driver.AcquireNextImage(sc.h.Device, sc.Handle, timeout, sem, fence.Handle)
			return nil
		})

		switch result {
		case driver.Success, driver.Suboptimal:
			if result == driver.Suboptimal {
				core.LogWarn("swapchain is suboptimal for the surface, acquired image %d anyway", index)
			}
			if err := fence.Wait(timeout); err != nil {
				return 0, err
			}
			return index, fence.Reset()
		case driver.NotReady:
			core.LogDebug("acquire not ready, waiting on the fence (attempt %d)", attempt+1)
			if err := fence.Wait(timeout); err != nil {
				return 0, err
			}
			if err := fence.Reset(); err != nil {
				return 0, err
			}
		case driver.Timeout:
			fence.state = FenceUnsignaled
			err := errors.Mark(driver.Check("vkAcquireNextImageKHR", result), core.ErrDeviceLost)
			return 0, core.Fatal(err, "image acquire timed out after %s", timeout)
		default:
			fence.state = FenceUnsignaled
			return 0, core.Fatal(driver.Check("vkAcquireNextImageKHR", result), "failed to acquire swapchain image")
		}
	}
	return 0, core.Fatal(errors.Mark(errors.Newf("no image after %d attempts", maxAcquireAttempts), core.ErrNotReady), "failed to acquire swapchain image")
}

// Present queues image index for display once wait has signaled. A
// suboptimal swapchain is reported as a warning only.
func (sc *Swapchain) Present(q handles.Queue, index uint32, wait ...*Semaphore) error {
	info := driver.PresentInfo{
		WaitSemaphores: semaphores(wait),
		Swapchain:      sc.Handle,
		ImageIndex:     index,
	}
	var result driver.Result
	_ = sc.h.Submit(q, func(d driver.Driver, queue driver.Queue) error {
		result = d.QueuePresent(queue, info)
		return nil
	})
	switch result {
	case driver.Success:
		return nil
	case driver.Suboptimal:
		core.LogWarn("present of image %d: %s", index, result.Describe())
		return nil
	default:
		return core.Fatal(driver.Check("vkQueuePresentKHR", result), "failed to present swapchain image %d", index)
	}
}
