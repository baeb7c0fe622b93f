package vulkan

import (
	"runtime"
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

func (d *Driver) EnumerateInstanceExtensionProperties() ([]driver.ExtensionProperties, error) {
	props, err := enumerate("vkEnumerateInstanceExtensionProperties", func(count *uint32, out []vk.ExtensionProperties) vk.Result {
		return vk.EnumerateInstanceExtensionProperties("", count, out)
	})
	if err != nil {
		return nil, err
	}
	return extensions(props), nil
}

func (d *Driver) EnumerateInstanceLayerProperties() ([]driver.LayerProperties, error) {
	props, err := enumerate("vkEnumerateInstanceLayerProperties", func(count *uint32, out []vk.LayerProperties) vk.Result {
		return vk.EnumerateInstanceLayerProperties(count, out)
	})
	if err != nil {
		return nil, err
	}
	out := make([]driver.LayerProperties, 0, len(props))
	for i := range props {
		props[i].Deref()
		out = append(out, driver.LayerProperties{
			Name:                  fromFixed(props[i].LayerName[:]),
			Description:           fromFixed(props[i].Description[:]),
			SpecVersion:           driver.Version(props[i].SpecVersion),
			ImplementationVersion: props[i].ImplementationVersion,
		})
	}
	return out, nil
}

func extensions(props []vk.ExtensionProperties) []driver.ExtensionProperties {
	out := make([]driver.ExtensionProperties, 0, len(props))
	for i := range props {
		props[i].Deref()
		out = append(out, driver.ExtensionProperties{
			Name:        fromFixed(props[i].ExtensionName[:]),
			SpecVersion: props[i].SpecVersion,
		})
	}
	return out
}

func (d *Driver) CreateInstance(info driver.InstanceCreateInfo, cb *hostalloc.Adapter) (driver.Instance, error) {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString(info.ApplicationName),
		ApplicationVersion: uint32(info.ApplicationVersion),
		PEngineName:        safeString(info.EngineName),
		EngineVersion:      uint32(info.ApplicationVersion),
		ApiVersion:         uint32(info.APIVersion),
	}

	exts := slices.Clone(info.Extensions)
	var flags vk.InstanceCreateFlags
	if runtime.GOOS == "darwin" && d.instanceHas(portabilityEnumeration) {
		if !slices.Contains(exts, portabilityEnumeration) {
			exts = append(exts, portabilityEnumeration)
		}
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		flags |= 1
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		Flags:                   flags,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: safeStrings(exts),
		EnabledLayerCount:       uint32(len(info.Layers)),
		PpEnabledLayerNames:     safeStrings(info.Layers),
	}

	var instance vk.Instance
	if err := check("vkCreateInstance", vk.CreateInstance(&createInfo, d.allocator(cb), &instance)); err != nil {
		return 0, err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, d.allocator(cb))
		return 0, errors.Wrap(err, "loading instance entry points")
	}
	return driver.Instance(d.put(instance)), nil
}

func (d *Driver) instanceHas(name string) bool {
	exts, err := d.EnumerateInstanceExtensionProperties()
	if err != nil {
		return false
	}
	return slices.ContainsFunc(exts, func(e driver.ExtensionProperties) bool { return e.Name == name })
}

func (d *Driver) DestroyInstance(instance driver.Instance, cb *hostalloc.Adapter) {
	vk.DestroyInstance(lookup[vk.Instance](d, uint64(instance)), d.allocator(cb))
	d.drop(uint64(instance))
}

func (d *Driver) EnumeratePhysicalDevices(instance driver.Instance) ([]driver.PhysicalDevice, error) {
	inst := lookup[vk.Instance](d, uint64(instance))
	devices, err := enumerate("vkEnumeratePhysicalDevices", func(count *uint32, out []vk.PhysicalDevice) vk.Result {
		return vk.EnumeratePhysicalDevices(inst, count, out)
	})
	if err != nil {
		return nil, err
	}
	out := make([]driver.PhysicalDevice, 0, len(devices))
	for _, pd := range devices {
		out = append(out, driver.PhysicalDevice(d.adopt(uint64(instance), pd)))
	}
	return out, nil
}

func (d *Driver) physical(pd driver.PhysicalDevice) vk.PhysicalDevice {
	return lookup[vk.PhysicalDevice](d, uint64(pd))
}

func (d *Driver) GetPhysicalDeviceProperties(pd driver.PhysicalDevice) driver.PhysicalDeviceProperties {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(d.physical(pd), &props)
	props.Deref()
	props.Limits.Deref()
	l := props.Limits
	return driver.PhysicalDeviceProperties{
		APIVersion:    driver.Version(props.ApiVersion),
		DriverVersion: driver.Version(props.DriverVersion),
		VendorID:      props.VendorID,
		DeviceID:      props.DeviceID,
		DeviceType:    driver.PhysicalDeviceType(props.DeviceType),
		DeviceName:    fromFixed(props.DeviceName[:]),
		Limits: driver.PhysicalDeviceLimits{
			MaxImageDimension2D:      l.MaxImageDimension2D,
			MaxPushConstantsSize:     l.MaxPushConstantsSize,
			MaxBoundDescriptorSets:   l.MaxBoundDescriptorSets,
			MaxMemoryAllocationCount: l.MaxMemoryAllocationCount,
			MaxComputeWorkGroupCount: l.MaxComputeWorkGroupCount,
			NonCoherentAtomSize:      driver.DeviceSize(l.NonCoherentAtomSize),
			BufferImageGranularity:   driver.DeviceSize(l.BufferImageGranularity),
		},
	}
}

func (d *Driver) GetPhysicalDeviceFeatures(pd driver.PhysicalDevice) driver.PhysicalDeviceFeatures {
	var f vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(d.physical(pd), &f)
	f.Deref()
	return driver.PhysicalDeviceFeatures{
		GeometryShader:         f.GeometryShader == vk.True,
		TessellationShader:     f.TessellationShader == vk.True,
		SparseBinding:          f.SparseBinding == vk.True,
		SparseResidencyBuffer:  f.SparseResidencyBuffer == vk.True,
		SparseResidencyImage2D: f.SparseResidencyImage2D == vk.True,
		SamplerAnisotropy:      f.SamplerAnisotropy == vk.True,
		FillModeNonSolid:       f.FillModeNonSolid == vk.True,
		ShaderFloat64:          f.ShaderFloat64 == vk.True,
	}
}

func features(f driver.PhysicalDeviceFeatures) vk.PhysicalDeviceFeatures {
	return vk.PhysicalDeviceFeatures{
		GeometryShader:         bool32(f.GeometryShader),
		TessellationShader:     bool32(f.TessellationShader),
		SparseBinding:          bool32(f.SparseBinding),
		SparseResidencyBuffer:  bool32(f.SparseResidencyBuffer),
		SparseResidencyImage2D: bool32(f.SparseResidencyImage2D),
		SamplerAnisotropy:      bool32(f.SamplerAnisotropy),
		FillModeNonSolid:       bool32(f.FillModeNonSolid),
		ShaderFloat64:          bool32(f.ShaderFloat64),
	}
}

func (d *Driver) GetPhysicalDeviceQueueFamilyProperties(pd driver.PhysicalDevice) []driver.QueueFamilyProperties {
	props, _ := enumerate("vkGetPhysicalDeviceQueueFamilyProperties", func(count *uint32, out []vk.QueueFamilyProperties) vk.Result {
		vk.GetPhysicalDeviceQueueFamilyProperties(d.physical(pd), count, out)
		return vk.Success
	})
	out := make([]driver.QueueFamilyProperties, 0, len(props))
	for i := range props {
		props[i].Deref()
		out = append(out, driver.QueueFamilyProperties{
			Flags:              driver.QueueFlags(props[i].QueueFlags),
			Count:              props[i].QueueCount,
			TimestampValidBits: props[i].TimestampValidBits,
		})
	}
	return out
}

func (d *Driver) GetPhysicalDeviceMemoryProperties(pd driver.PhysicalDevice) driver.MemoryProperties {
	var mem vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(d.physical(pd), &mem)
	mem.Deref()

	var out driver.MemoryProperties
	for i := uint32(0); i < mem.MemoryTypeCount; i++ {
		mem.MemoryTypes[i].Deref()
		out.Types = append(out.Types, driver.MemoryType{
			PropertyFlags: driver.MemoryPropertyFlags(mem.MemoryTypes[i].PropertyFlags),
			HeapIndex:     mem.MemoryTypes[i].HeapIndex,
		})
	}
	for i := uint32(0); i < mem.MemoryHeapCount; i++ {
		mem.MemoryHeaps[i].Deref()
		out.Heaps = append(out.Heaps, driver.MemoryHeap{
			Size:  driver.DeviceSize(mem.MemoryHeaps[i].Size),
			Flags: driver.MemoryHeapFlags(mem.MemoryHeaps[i].Flags),
		})
	}
	return out
}

func (d *Driver) GetPhysicalDeviceFormatProperties(pd driver.PhysicalDevice, format driver.Format) driver.FormatProperties {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(d.physical(pd), vk.Format(format), &props)
	props.Deref()
	return driver.FormatProperties{
		LinearTiling:  driver.FormatFeatureFlags(props.LinearTilingFeatures),
		OptimalTiling: driver.FormatFeatureFlags(props.OptimalTilingFeatures),
		Buffer:        driver.FormatFeatureFlags(props.BufferFeatures),
	}
}

func (d *Driver) GetPhysicalDeviceImageFormatProperties(pd driver.PhysicalDevice, q driver.ImageFormatQuery) (driver.ImageFormatProperties, error) {
	var props vk.ImageFormatProperties
	res := vk.GetPhysicalDeviceImageFormatProperties(d.physical(pd), vk.Format(q.Format), vk.ImageType(q.Type),
		vk.ImageTiling(q.Tiling), vk.ImageUsageFlags(q.Usage), vk.ImageCreateFlags(q.Flags), &props)
	if err := check("vkGetPhysicalDeviceImageFormatProperties", res); err != nil {
		return driver.ImageFormatProperties{}, err
	}
	props.Deref()
	props.MaxExtent.Deref()
	return driver.ImageFormatProperties{
		MaxExtent:       extent3D(props.MaxExtent),
		MaxMipLevels:    props.MaxMipLevels,
		MaxArrayLayers:  props.MaxArrayLayers,
		SampleCounts:    uint32(props.SampleCounts),
		MaxResourceSize: driver.DeviceSize(props.MaxResourceSize),
	}, nil
}

func (d *Driver) GetPhysicalDeviceSparseImageFormatProperties(pd driver.PhysicalDevice, q driver.ImageFormatQuery) []driver.SparseImageFormatProperties {
	props, _ := enumerate("vkGetPhysicalDeviceSparseImageFormatProperties", func(count *uint32, out []vk.SparseImageFormatProperties) vk.Result {
		// this binding takes the count as a one-element slice
		c := []uint32{*count}
		vk.GetPhysicalDeviceSparseImageFormatProperties(d.physical(pd), vk.Format(q.Format), vk.ImageType(q.Type),
			vk.SampleCount1Bit, vk.ImageUsageFlags(q.Usage), vk.ImageTiling(q.Tiling), c, out)
		*count = c[0]
		return vk.Success
	})
	out := make([]driver.SparseImageFormatProperties, 0, len(props))
	for i := range props {
		out = append(out, sparseFormat(props[i]))
	}
	return out
}

func sparseFormat(p vk.SparseImageFormatProperties) driver.SparseImageFormatProperties {
	p.Deref()
	p.ImageGranularity.Deref()
	return driver.SparseImageFormatProperties{
		AspectMask:       driver.ImageAspectFlags(p.AspectMask),
		ImageGranularity: extent3D(p.ImageGranularity),
		Flags:            driver.SparseImageFormatFlags(p.Flags),
	}
}

func extent3D(e vk.Extent3D) driver.Extent3D {
	return driver.Extent3D{Width: e.Width, Height: e.Height, Depth: e.Depth}
}

func extent2D(e vk.Extent2D) driver.Extent2D {
	e.Deref()
	return driver.Extent2D{Width: e.Width, Height: e.Height}
}

func (d *Driver) EnumerateDeviceExtensionProperties(pd driver.PhysicalDevice) ([]driver.ExtensionProperties, error) {
	props, err := enumerate("vkEnumerateDeviceExtensionProperties", func(count *uint32, out []vk.ExtensionProperties) vk.Result {
		return vk.EnumerateDeviceExtensionProperties(d.physical(pd), "", count, out)
	})
	if err != nil {
		return nil, err
	}
	return extensions(props), nil
}

func (d *Driver) CreateSurface(instance driver.Instance, src driver.SurfaceSource, cb *hostalloc.Adapter) (driver.Surface, error) {
	inst := lookup[vk.Instance](d, uint64(instance))
	ptr, err := src.CreateWindowSurface(inst, unsafe.Pointer(d.allocator(cb)))
	if err != nil {
		return 0, errors.Wrap(err, "vkCreateSurfaceKHR")
	}
	if ptr == 0 {
		return 0, errors.New("vkCreateSurfaceKHR: window returned a null surface")
	}
	core.LogDebug("vulkan surface created")
	return driver.Surface(d.put(vk.SurfaceFromPointer(ptr))), nil
}

func (d *Driver) DestroySurface(instance driver.Instance, surface driver.Surface, cb *hostalloc.Adapter) {
	vk.DestroySurface(lookup[vk.Instance](d, uint64(instance)), lookup[vk.Surface](d, uint64(surface)), d.allocator(cb))
	d.drop(uint64(surface))
}

func (d *Driver) GetPhysicalDeviceSurfaceSupport(pd driver.PhysicalDevice, family uint32, surface driver.Surface) (bool, error) {
	var supported vk.Bool32
	res := vk.GetPhysicalDeviceSurfaceSupport(d.physical(pd), family, lookup[vk.Surface](d, uint64(surface)), &supported)
	if err := check("vkGetPhysicalDeviceSurfaceSupportKHR", res); err != nil {
		return false, err
	}
	return supported == vk.True, nil
}

func (d *Driver) GetPhysicalDeviceSurfaceCapabilities(pd driver.PhysicalDevice, surface driver.Surface) (driver.SurfaceCapabilities, error) {
	var caps vk.SurfaceCapabilities
	res := vk.GetPhysicalDeviceSurfaceCapabilities(d.physical(pd), lookup[vk.Surface](d, uint64(surface)), &caps)
	if err := check("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res); err != nil {
		return driver.SurfaceCapabilities{}, err
	}
	caps.Deref()
	return driver.SurfaceCapabilities{
		MinImageCount:       caps.MinImageCount,
		MaxImageCount:       caps.MaxImageCount,
		CurrentExtent:       extent2D(caps.CurrentExtent),
		MinImageExtent:      extent2D(caps.MinImageExtent),
		MaxImageExtent:      extent2D(caps.MaxImageExtent),
		MaxImageArrayLayers: caps.MaxImageArrayLayers,
		SupportedUsage:      driver.ImageUsageFlags(caps.SupportedUsageFlags),
		CurrentTransform:    uint32(caps.CurrentTransform),
	}, nil
}

func (d *Driver) GetPhysicalDeviceSurfaceFormats(pd driver.PhysicalDevice, surface driver.Surface) ([]driver.SurfaceFormat, error) {
	s := lookup[vk.Surface](d, uint64(surface))
	formats, err := enumerate("vkGetPhysicalDeviceSurfaceFormatsKHR", func(count *uint32, out []vk.SurfaceFormat) vk.Result {
		return vk.GetPhysicalDeviceSurfaceFormats(d.physical(pd), s, count, out)
	})
	if err != nil {
		return nil, err
	}
	out := make([]driver.SurfaceFormat, 0, len(formats))
	for i := range formats {
		formats[i].Deref()
		out = append(out, driver.SurfaceFormat{
			Format:     driver.Format(formats[i].Format),
			ColorSpace: driver.ColorSpace(formats[i].ColorSpace),
		})
	}
	return out, nil
}

func (d *Driver) GetPhysicalDeviceSurfacePresentModes(pd driver.PhysicalDevice, surface driver.Surface) ([]driver.PresentMode, error) {
	s := lookup[vk.Surface](d, uint64(surface))
	modes, err := enumerate("vkGetPhysicalDeviceSurfacePresentModesKHR", func(count *uint32, out []vk.PresentMode) vk.Result {
		return vk.GetPhysicalDeviceSurfacePresentModes(d.physical(pd), s, count, out)
	})
	if err != nil {
		return nil, err
	}
	out := make([]driver.PresentMode, 0, len(modes))
	for _, m := range modes {
		out = append(out, driver.PresentMode(m))
	}
	return out, nil
}
