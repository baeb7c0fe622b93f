// Package driver is the seam between the harness and the GPU API. Types carry
// Vulkan's numeric values so a backend converts by cast.
package driver

import (
	"time"
	"unsafe"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
)

// SurfaceSource is the window the presentation surface is created from.
// *glfw.Window satisfies it.
type SurfaceSource interface {
	CreateWindowSurface(instance interface{}, allocCallbacks unsafe.Pointer) (uintptr, error)
	GetRequiredInstanceExtensions() []string
	GetFramebufferSize() (width, height int)
}

// Driver mirrors the entry points the harness calls. Every create and destroy
// takes the allocation adapter for its category; nil means driver default.
// Enumerations return complete slices.
type Driver interface {
	Name() string

	EnumerateInstanceExtensionProperties() ([]ExtensionProperties, error)
	EnumerateInstanceLayerProperties() ([]LayerProperties, error)
	CreateInstance(info InstanceCreateInfo, cb *hostalloc.Adapter) (Instance, error)
	DestroyInstance(instance Instance, cb *hostalloc.Adapter)

	EnumeratePhysicalDevices(instance Instance) ([]PhysicalDevice, error)
	GetPhysicalDeviceProperties(pd PhysicalDevice) PhysicalDeviceProperties
	GetPhysicalDeviceFeatures(pd PhysicalDevice) PhysicalDeviceFeatures
	GetPhysicalDeviceQueueFamilyProperties(pd PhysicalDevice) []QueueFamilyProperties
	GetPhysicalDeviceMemoryProperties(pd PhysicalDevice) MemoryProperties
	GetPhysicalDeviceFormatProperties(pd PhysicalDevice, format Format) FormatProperties
	GetPhysicalDeviceImageFormatProperties(pd PhysicalDevice, query ImageFormatQuery) (ImageFormatProperties, error)
	GetPhysicalDeviceSparseImageFormatProperties(pd PhysicalDevice, query ImageFormatQuery) []SparseImageFormatProperties
	EnumerateDeviceExtensionProperties(pd PhysicalDevice) ([]ExtensionProperties, error)

	CreateSurface(instance Instance, src SurfaceSource, cb *hostalloc.Adapter) (Surface, error)
	DestroySurface(instance Instance, surface Surface, cb *hostalloc.Adapter)
	GetPhysicalDeviceSurfaceSupport(pd PhysicalDevice, family uint32, surface Surface) (bool, error)
	GetPhysicalDeviceSurfaceCapabilities(pd PhysicalDevice, surface Surface) (SurfaceCapabilities, error)
	GetPhysicalDeviceSurfaceFormats(pd PhysicalDevice, surface Surface) ([]SurfaceFormat, error)
	GetPhysicalDeviceSurfacePresentModes(pd PhysicalDevice, surface Surface) ([]PresentMode, error)

	CreateDevice(pd PhysicalDevice, info DeviceCreateInfo, cb *hostalloc.Adapter) (Device, error)
	DestroyDevice(device Device, cb *hostalloc.Adapter)
	GetDeviceQueue(device Device, family, index uint32) Queue
	DeviceWaitIdle(device Device) error

	CreateBuffer(device Device, info BufferCreateInfo, cb *hostalloc.Adapter) (Buffer, error)
	DestroyBuffer(device Device, buffer Buffer, cb *hostalloc.Adapter)
	GetBufferMemoryRequirements(device Device, buffer Buffer) MemoryRequirements
	BindBufferMemory(device Device, buffer Buffer, memory DeviceMemory, offset DeviceSize) error

	CreateImage(device Device, info ImageCreateInfo, cb *hostalloc.Adapter) (Image, error)
	DestroyImage(device Device, image Image, cb *hostalloc.Adapter)
	GetImageMemoryRequirements(device Device, image Image) MemoryRequirements
	GetImageSparseMemoryRequirements(device Device, image Image) []SparseImageMemoryRequirements
	BindImageMemory(device Device, image Image, memory DeviceMemory, offset DeviceSize) error
	CreateImageView(device Device, info ImageViewCreateInfo, cb *hostalloc.Adapter) (ImageView, error)
	DestroyImageView(device Device, view ImageView, cb *hostalloc.Adapter)

	AllocateMemory(device Device, info MemoryAllocateInfo, cb *hostalloc.Adapter) (DeviceMemory, error)
	FreeMemory(device Device, memory DeviceMemory, cb *hostalloc.Adapter)
	MapMemory(device Device, memory DeviceMemory, offset, size DeviceSize) ([]byte, error)
	UnmapMemory(device Device, memory DeviceMemory)
	FlushMappedMemoryRanges(device Device, ranges []MappedMemoryRange) error
	InvalidateMappedMemoryRanges(device Device, ranges []MappedMemoryRange) error
	GetDeviceMemoryCommitment(device Device, memory DeviceMemory) DeviceSize

	CreateShaderModule(device Device, code []uint32, cb *hostalloc.Adapter) (ShaderModule, error)
	DestroyShaderModule(device Device, module ShaderModule, cb *hostalloc.Adapter)
	CreateDescriptorSetLayout(device Device, bindings []DescriptorSetLayoutBinding, cb *hostalloc.Adapter) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(device Device, layout DescriptorSetLayout, cb *hostalloc.Adapter)
	CreatePipelineLayout(device Device, info PipelineLayoutCreateInfo, cb *hostalloc.Adapter) (PipelineLayout, error)
	DestroyPipelineLayout(device Device, layout PipelineLayout, cb *hostalloc.Adapter)
	CreateDescriptorPool(device Device, info DescriptorPoolCreateInfo, cb *hostalloc.Adapter) (DescriptorPool, error)
	DestroyDescriptorPool(device Device, pool DescriptorPool, cb *hostalloc.Adapter)
	AllocateDescriptorSets(device Device, pool DescriptorPool, layouts []DescriptorSetLayout) ([]DescriptorSet, error)
	UpdateDescriptorSets(device Device, writes []WriteDescriptorSet)
	CreateComputePipeline(device Device, info ComputePipelineCreateInfo, cb *hostalloc.Adapter) (Pipeline, error)
	CreateGraphicsPipeline(device Device, info GraphicsPipelineCreateInfo, cb *hostalloc.Adapter) (Pipeline, error)
	DestroyPipeline(device Device, pipeline Pipeline, cb *hostalloc.Adapter)
	CreateRenderPass(device Device, info RenderPassCreateInfo, cb *hostalloc.Adapter) (RenderPass, error)
	DestroyRenderPass(device Device, pass RenderPass, cb *hostalloc.Adapter)
	CreateFramebuffer(device Device, info FramebufferCreateInfo, cb *hostalloc.Adapter) (Framebuffer, error)
	DestroyFramebuffer(device Device, framebuffer Framebuffer, cb *hostalloc.Adapter)

	CreateCommandPool(device Device, family uint32, flags CommandPoolCreateFlags, cb *hostalloc.Adapter) (CommandPool, error)
	DestroyCommandPool(device Device, pool CommandPool, cb *hostalloc.Adapter)
	AllocateCommandBuffers(device Device, pool CommandPool, count uint32) ([]CommandBuffer, error)
	FreeCommandBuffers(device Device, pool CommandPool, buffers []CommandBuffer)
	BeginCommandBuffer(cmd CommandBuffer, usage CommandBufferUsageFlags) error
	EndCommandBuffer(cmd CommandBuffer) error
	ResetCommandBuffer(cmd CommandBuffer) error

	CmdBindPipeline(cmd CommandBuffer, bindPoint PipelineBindPoint, pipeline Pipeline)
	CmdBindDescriptorSets(cmd CommandBuffer, bindPoint PipelineBindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet)
	CmdPushConstants(cmd CommandBuffer, layout PipelineLayout, stages ShaderStageFlags, offset uint32, data []byte)
	CmdPipelineBarrier(cmd CommandBuffer, barrier PipelineBarrier)
	CmdDispatch(cmd CommandBuffer, x, y, z uint32)
	CmdClearColorImage(cmd CommandBuffer, image Image, layout ImageLayout, color ClearColor, ranges []ImageSubresourceRange)
	CmdBeginRenderPass(cmd CommandBuffer, info RenderPassBeginInfo)
	CmdEndRenderPass(cmd CommandBuffer)
	CmdDraw(cmd CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32)

	CreateFence(device Device, signaled bool, cb *hostalloc.Adapter) (Fence, error)
	DestroyFence(device Device, fence Fence, cb *hostalloc.Adapter)
	// WaitForFences returns a *ResultError carrying Timeout when the wait expires.
	WaitForFences(device Device, fences []Fence, waitAll bool, timeout time.Duration) error
	ResetFences(device Device, fences []Fence) error
	CreateSemaphore(device Device, cb *hostalloc.Adapter) (Semaphore, error)
	DestroySemaphore(device Device, semaphore Semaphore, cb *hostalloc.Adapter)
	QueueSubmit(queue Queue, submits []SubmitInfo, fence Fence) error
	QueueWaitIdle(queue Queue) error

	CreateSwapchain(device Device, info SwapchainCreateInfo, cb *hostalloc.Adapter) (Swapchain, error)
	DestroySwapchain(device Device, swapchain Swapchain, cb *hostalloc.Adapter)
	GetSwapchainImages(device Device, swapchain Swapchain) ([]Image, error)
	// AcquireNextImage reports NotReady, Timeout and Suboptimal through the
	// result rather than as errors.
	AcquireNextImage(device Device, swapchain Swapchain, timeout time.Duration, semaphore Semaphore, fence Fence) (uint32, Result)
	QueuePresent(queue Queue, info PresentInfo) Result
}
