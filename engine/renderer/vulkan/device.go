package vulkan

import (
	"slices"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

func (d *Driver) CreateDevice(pd driver.PhysicalDevice, info driver.DeviceCreateInfo, cb *hostalloc.Adapter) (driver.Device, error) {
	queues := make([]vk.DeviceQueueCreateInfo, len(info.Queues))
	for i, q := range info.Queues {
		queues[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: q.Family,
			QueueCount:       uint32(len(q.Priorities)),
			PQueuePriorities: q.Priorities,
		}
	}

	// Portability implementations must have the subset extension enabled
	// whenever they expose it.
	exts := slices.Clone(info.Extensions)
	if available, err := d.EnumerateDeviceExtensionProperties(pd); err == nil && !slices.Contains(exts, portabilitySubset) {
		if slices.ContainsFunc(available, func(e driver.ExtensionProperties) bool { return e.Name == portabilitySubset }) {
			core.LogInfo("Adding required extension '%s'.", portabilitySubset)
			exts = append(exts, portabilitySubset)
		}
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queues)),
		PQueueCreateInfos:       queues,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features(info.Features)},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: safeStrings(exts),
	}

	var device vk.Device
	if err := check("vkCreateDevice", vk.CreateDevice(d.physical(pd), &createInfo, d.allocator(cb), &device)); err != nil {
		return 0, err
	}
	return driver.Device(d.put(device)), nil
}

func (d *Driver) device(device driver.Device) vk.Device {
	return lookup[vk.Device](d, uint64(device))
}

func (d *Driver) DestroyDevice(device driver.Device, cb *hostalloc.Adapter) {
	vk.DestroyDevice(d.device(device), d.allocator(cb))
	d.drop(uint64(device))
}

func (d *Driver) GetDeviceQueue(device driver.Device, family, index uint32) driver.Queue {
	var queue vk.Queue
	vk.GetDeviceQueue(d.device(device), family, index, &queue)
	if queue == nil {
		return 0
	}
	return driver.Queue(d.adopt(uint64(device), queue))
}

func (d *Driver) DeviceWaitIdle(device driver.Device) error {
	return check("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.device(device)))
}

func (d *Driver) CreateFence(device driver.Device, signaled bool, cb *hostalloc.Adapter) (driver.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := check("vkCreateFence", vk.CreateFence(d.device(device), &info, d.allocator(cb), &fence)); err != nil {
		return 0, err
	}
	return driver.Fence(d.put(fence)), nil
}

func (d *Driver) DestroyFence(device driver.Device, fence driver.Fence, cb *hostalloc.Adapter) {
	vk.DestroyFence(d.device(device), lookup[vk.Fence](d, uint64(fence)), d.allocator(cb))
	d.drop(uint64(fence))
}

func (d *Driver) WaitForFences(device driver.Device, fences []driver.Fence, waitAll bool, timeout time.Duration) error {
	handles := lookupAll[vk.Fence](d, fences)
	res := vk.WaitForFences(d.device(device), uint32(len(handles)), handles, bool32(waitAll), nanos(timeout))
	return check("vkWaitForFences", res)
}

func (d *Driver) ResetFences(device driver.Device, fences []driver.Fence) error {
	handles := lookupAll[vk.Fence](d, fences)
	return check("vkResetFences", vk.ResetFences(d.device(device), uint32(len(handles)), handles))
}

func (d *Driver) CreateSemaphore(device driver.Device, cb *hostalloc.Adapter) (driver.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var sem vk.Semaphore
	if err := check("vkCreateSemaphore", vk.CreateSemaphore(d.device(device), &info, d.allocator(cb), &sem)); err != nil {
		return 0, err
	}
	return driver.Semaphore(d.put(sem)), nil
}

func (d *Driver) DestroySemaphore(device driver.Device, semaphore driver.Semaphore, cb *hostalloc.Adapter) {
	vk.DestroySemaphore(d.device(device), lookup[vk.Semaphore](d, uint64(semaphore)), d.allocator(cb))
	d.drop(uint64(semaphore))
}

func (d *Driver) QueueSubmit(queue driver.Queue, submits []driver.SubmitInfo, fence driver.Fence) error {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		stages := make([]vk.PipelineStageFlags, len(s.WaitStages))
		for j, st := range s.WaitStages {
			stages[j] = vk.PipelineStageFlags(st)
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(s.WaitSemaphores)),
			PWaitSemaphores:      lookupAll[vk.Semaphore](d, s.WaitSemaphores),
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(s.CommandBuffers)),
			PCommandBuffers:      lookupAll[vk.CommandBuffer](d, s.CommandBuffers),
			SignalSemaphoreCount: uint32(len(s.SignalSemaphores)),
			PSignalSemaphores:    lookupAll[vk.Semaphore](d, s.SignalSemaphores),
		}
	}
	res := vk.QueueSubmit(lookup[vk.Queue](d, uint64(queue)), uint32(len(infos)), infos, lookup[vk.Fence](d, uint64(fence)))
	return check("vkQueueSubmit", res)
}

func (d *Driver) QueueWaitIdle(queue driver.Queue) error {
	return check("vkQueueWaitIdle", vk.QueueWaitIdle(lookup[vk.Queue](d, uint64(queue))))
}
