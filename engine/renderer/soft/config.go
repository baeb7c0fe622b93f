package soft

import (
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

// DeviceConfig is everything a fake physical device reports.
type DeviceConfig struct {
	Properties     driver.PhysicalDeviceProperties
	Features       driver.PhysicalDeviceFeatures
	QueueFamilies  []driver.QueueFamilyProperties
	Memory         driver.MemoryProperties
	Formats        map[driver.Format]driver.FormatProperties
	SparseFlags    driver.SparseImageFormatFlags
	Extensions     []string
	SurfaceSupport []bool // per queue family; nil means every family can present
	SurfaceFormats []driver.SurfaceFormat
	PresentModes   []driver.PresentMode
	Surface        driver.SurfaceCapabilities
	// ImageMemoryTypes, when non-zero, narrows the memory types optimal
	// images accept.
	ImageMemoryTypes uint32
}

// Config shapes the whole fake driver.
type Config struct {
	Devices            []DeviceConfig
	InstanceExtensions []string
	Layers             []driver.LayerProperties

	// FailEnumeration makes extension and layer enumeration report
	// VK_ERROR_OUT_OF_HOST_MEMORY.
	FailEnumeration bool
	// AcquireNotReady is how many acquires report VK_NOT_READY before one
	// succeeds. The fence passed to a not-ready acquire is signaled.
	AcquireNotReady int
	// PresentSuboptimal makes every present return VK_SUBOPTIMAL_KHR.
	PresentSuboptimal bool
	// FallbackKernel runs for compute pipelines whose SPIR-V was never
	// registered. Nil rejects such pipelines.
	FallbackKernel Kernel
}

const (
	MemoryTypeDeviceLocal = iota
	MemoryTypeHostCoherent
	MemoryTypeDeviceLocalHostVisible
	MemoryTypeHostNonCoherent
)

// DefaultDevice is a discrete GPU with a universal family 0 and a
// transfer-only family 1.
func DefaultDevice() DeviceConfig {
	colorFeatures := driver.FormatFeatureSampledImageBit | driver.FormatFeatureStorageImageBit |
		driver.FormatFeatureColorAttachmentBit | driver.FormatFeatureTransferSrcBit | driver.FormatFeatureTransferDstBit
	return DeviceConfig{
		Properties: driver.PhysicalDeviceProperties{
			APIVersion:    driver.MakeVersion(1, 3, 275),
			DriverVersion: driver.MakeVersion(1, 0, 0),
			VendorID:      0x10de,
			DeviceID:      0x2204,
			DeviceType:    driver.PhysicalDeviceTypeDiscreteGpu,
			DeviceName:    "Soft Discrete GPU",
			Limits: driver.PhysicalDeviceLimits{
				MaxImageDimension2D:      16384,
				MaxPushConstantsSize:     128,
				MaxBoundDescriptorSets:   8,
				MaxMemoryAllocationCount: 4096,
				MaxComputeWorkGroupCount: [3]uint32{65535, 65535, 65535},
				NonCoherentAtomSize:      64,
				BufferImageGranularity:   1024,
			},
		},
		Features: driver.PhysicalDeviceFeatures{
			GeometryShader:         true,
			TessellationShader:     true,
			SparseBinding:          true,
			SparseResidencyBuffer:  true,
			SparseResidencyImage2D: true,
			SamplerAnisotropy:      true,
			FillModeNonSolid:       true,
		},
		QueueFamilies: []driver.QueueFamilyProperties{
			{Flags: driver.QueueGraphicsBit | driver.QueueComputeBit | driver.QueueTransferBit | driver.QueueSparseBindingBit, Count: 16, TimestampValidBits: 64},
			{Flags: driver.QueueTransferBit, Count: 2, TimestampValidBits: 64},
		},
		Memory: driver.MemoryProperties{
			Types: []driver.MemoryType{
				MemoryTypeDeviceLocal:            {PropertyFlags: driver.MemoryPropertyDeviceLocalBit, HeapIndex: 0},
				MemoryTypeHostCoherent:           {PropertyFlags: driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit, HeapIndex: 1},
				MemoryTypeDeviceLocalHostVisible: {PropertyFlags: driver.MemoryPropertyDeviceLocalBit | driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit, HeapIndex: 0},
				MemoryTypeHostNonCoherent:        {PropertyFlags: driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCachedBit, HeapIndex: 1},
			},
			Heaps: []driver.MemoryHeap{
				{Size: 4 << 30, Flags: driver.MemoryHeapDeviceLocalBit},
				{Size: 8 << 30},
			},
		},
		Formats: map[driver.Format]driver.FormatProperties{
			driver.FormatR8g8b8a8Unorm: {OptimalTiling: colorFeatures, LinearTiling: colorFeatures},
			driver.FormatR8g8b8a8Srgb:  {OptimalTiling: colorFeatures},
			driver.FormatB8g8r8a8Unorm: {OptimalTiling: colorFeatures},
			driver.FormatB8g8r8a8Srgb:  {OptimalTiling: colorFeatures},
			driver.FormatR32Sfloat:     {OptimalTiling: colorFeatures, Buffer: driver.FormatFeatureStorageImageBit},
			driver.FormatD32Sfloat:     {OptimalTiling: driver.FormatFeatureDepthStencilAttachmentBit | driver.FormatFeatureSampledImageBit},
		},
		SparseFlags: driver.SparseImageFormatSingleMiptailBit,
		Extensions:  []string{"VK_KHR_swapchain", "VK_KHR_maintenance1"},
		SurfaceFormats: []driver.SurfaceFormat{
			{Format: driver.FormatB8g8r8a8Srgb, ColorSpace: driver.ColorSpaceSrgbNonlinear},
			{Format: driver.FormatB8g8r8a8Unorm, ColorSpace: driver.ColorSpaceSrgbNonlinear},
		},
		PresentModes: []driver.PresentMode{driver.PresentModeFifo, driver.PresentModeMailbox, driver.PresentModeImmediate},
		Surface: driver.SurfaceCapabilities{
			MinImageCount:       2,
			MaxImageCount:       8,
			CurrentExtent:       driver.Extent2D{Width: 1280, Height: 720},
			MinImageExtent:      driver.Extent2D{Width: 1, Height: 1},
			MaxImageExtent:      driver.Extent2D{Width: 16384, Height: 16384},
			MaxImageArrayLayers: 1,
			SupportedUsage:      driver.ImageUsageColorAttachmentBit | driver.ImageUsageTransferDstBit,
			CurrentTransform:    1,
		},
	}
}

func DefaultConfig() Config {
	return Config{
		Devices:            []DeviceConfig{DefaultDevice()},
		InstanceExtensions: []string{"VK_KHR_surface", "VK_EXT_debug_report", "VK_EXT_debug_utils"},
		Layers: []driver.LayerProperties{
			{Name: "VK_LAYER_KHRONOS_validation", Description: "Khronos Validation Layer", SpecVersion: driver.MakeVersion(1, 3, 275), ImplementationVersion: 1},
		},
		FallbackKernel: CopyKernel,
	}
}
