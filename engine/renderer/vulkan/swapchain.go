package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

func (d *Driver) CreateSwapchain(device driver.Device, info driver.SwapchainCreateInfo, cb *hostalloc.Adapter) (driver.Swapchain, error) {
	createInfo := vk.SwapchainCreateInfo{
		SType:                 vk.StructureTypeSwapchainCreateInfo,
		Surface:               lookup[vk.Surface](d, uint64(info.Surface)),
		MinImageCount:         info.MinImageCount,
		ImageFormat:           vk.Format(info.Format),
		ImageColorSpace:       vk.ColorSpace(info.ColorSpace),
		ImageExtent:           vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
		ImageArrayLayers:      1,
		ImageUsage:            vk.ImageUsageFlags(info.Usage),
		ImageSharingMode:      vk.SharingMode(info.SharingMode),
		QueueFamilyIndexCount: uint32(len(info.QueueFamilies)),
		PQueueFamilyIndices:   info.QueueFamilies,
		PreTransform:          vk.SurfaceTransformFlagBits(info.PreTransform),
		CompositeAlpha:        vk.CompositeAlphaOpaqueBit,
		PresentMode:           vk.PresentMode(info.PresentMode),
		Clipped:               bool32(info.Clipped),
		OldSwapchain:          lookup[vk.Swapchain](d, uint64(info.OldSwapchain)),
	}
	var swapchain vk.Swapchain
	if err := check("vkCreateSwapchainKHR", vk.CreateSwapchain(d.device(device), &createInfo, d.allocator(cb), &swapchain)); err != nil {
		return 0, err
	}
	return driver.Swapchain(d.put(swapchain)), nil
}

// DestroySwapchain also forgets the swapchain's images.
func (d *Driver) DestroySwapchain(device driver.Device, swapchain driver.Swapchain, cb *hostalloc.Adapter) {
	vk.DestroySwapchain(d.device(device), lookup[vk.Swapchain](d, uint64(swapchain)), d.allocator(cb))
	d.drop(uint64(swapchain))
}

func (d *Driver) GetSwapchainImages(device driver.Device, swapchain driver.Swapchain) ([]driver.Image, error) {
	sc := lookup[vk.Swapchain](d, uint64(swapchain))
	images, err := enumerate("vkGetSwapchainImagesKHR", func(count *uint32, out []vk.Image) vk.Result {
		return vk.GetSwapchainImages(d.device(device), sc, count, out)
	})
	if err != nil {
		return nil, err
	}
	out := make([]driver.Image, 0, len(images))
	for _, img := range images {
		out = append(out, driver.Image(d.adopt(uint64(swapchain), img)))
	}
	return out, nil
}

func (d *Driver) AcquireNextImage(device driver.Device, swapchain driver.Swapchain, timeout time.Duration, semaphore driver.Semaphore, fence driver.Fence) (uint32, driver.Result) {
	var index uint32
	res := vk.AcquireNextImage(d.device(device), lookup[vk.Swapchain](d, uint64(swapchain)), nanos(timeout),
		lookup[vk.Semaphore](d, uint64(semaphore)), lookup[vk.Fence](d, uint64(fence)), &index)
	return index, driver.Result(res)
}

func (d *Driver) QueuePresent(queue driver.Queue, info driver.PresentInfo) driver.Result {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(info.WaitSemaphores)),
		PWaitSemaphores:    lookupAll[vk.Semaphore](d, info.WaitSemaphores),
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{lookup[vk.Swapchain](d, uint64(info.Swapchain))},
		PImageIndices:      []uint32{info.ImageIndex},
	}
	return driver.Result(vk.QueuePresent(lookup[vk.Queue](d, uint64(queue)), &presentInfo))
}
