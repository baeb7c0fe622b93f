// Package probe enumerates what the driver offers and chooses the device,
// queue families, memory types and presentation settings the harness uses.
package probe

import (
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
)

// InstanceSupport logs the instance extensions and layers. Failures are
// reported and yield empty lists; they never stop the caller.
func InstanceSupport(drv driver.Driver) ([]driver.ExtensionProperties, []driver.LayerProperties) {
	exts, err := drv.EnumerateInstanceExtensionProperties()
	if err != nil {
		core.LogWarn("could not enumerate instance extensions: %v", err)
		exts = nil
	}
	for _, e := range exts {
		core.LogDebug("instance extension %s (rev %d)", e.Name, e.SpecVersion)
	}
	layers, err := drv.EnumerateInstanceLayerProperties()
	if err != nil {
		core.LogWarn("could not enumerate instance layers: %v", err)
		layers = nil
	}
	for _, l := range layers {
		core.LogDebug("instance layer %s %d.%d.%d: %s", l.Name, l.SpecVersion.Major(), l.SpecVersion.Minor(), l.SpecVersion.Patch(), l.Description)
	}
	return exts, layers
}

// HasLayer reports whether name is among layers.
func HasLayer(layers []driver.LayerProperties, name string) bool {
	for _, l := range layers {
		if l.Name == name {
			return true
		}
	}
	return false
}

// Probe selects a physical device and resolves everything downstream
// components need. Configuration and capability failures are fatal.
func Probe(h *handles.Set, req Requirements) (*Snapshot, error) {
	drv := h.Driver

	var constraint *semver.Constraints
	if req.MinAPIVersion != "" {
		c, err := semver.NewConstraint(req.MinAPIVersion)
		if err != nil {
			return nil, core.Fatal(err, "invalid minimum API version %q", req.MinAPIVersion)
		}
		constraint = c
	}
	if req.Selection == SelectParity {
		core.LogWarn("queue families selected by flag parity, only bit 0 (%s) is tested", driver.QueueGraphicsBit)
	}

	devices, err := drv.EnumeratePhysicalDevices(h.Instance)
	if err != nil {
		return nil, core.Fatal(err, "failed to enumerate physical devices")
	}
	if len(devices) == 0 {
		return nil, core.Fatal(core.ErrNoSuitableDevice, "no devices which support Vulkan were found")
	}

	snap := &Snapshot{memoryTypes: make(map[MemoryUsage]uint32)}
	found := false
	for _, pd := range devices {
		props := drv.GetPhysicalDeviceProperties(pd)
		features := drv.GetPhysicalDeviceFeatures(pd)
		if deviceQualifies(drv, pd, props, features, constraint, req) {
			snap.PhysicalDevice, snap.Properties, snap.Features = pd, props, features
			found = true
			break
		}
	}
	if !found {
		return nil, core.Fatal(core.ErrNoSuitableDevice, "no physical device has the required features %v", req.Features)
	}
	logDevice(snap.Properties)

	snap.Memory = drv.GetPhysicalDeviceMemoryProperties(snap.PhysicalDevice)
	logMemory(snap.Memory)

	snap.QueueFamilies = drv.GetPhysicalDeviceQueueFamilyProperties(snap.PhysicalDevice)
	if err := selectQueues(drv, h.Surface, snap, req); err != nil {
		return nil, err
	}
	logQueueFamilies(snap)

	if err := selectMemoryTypes(snap, req.Memory); err != nil {
		return nil, err
	}

	if h.Surface != 0 {
		if err := selectPresentation(drv, h.Surface, snap, req); err != nil {
			return nil, err
		}
	}

	if req.ImageFormat != driver.FormatUndefined {
		limits, err := drv.GetPhysicalDeviceImageFormatProperties(snap.PhysicalDevice, driver.ImageFormatQuery{
			Format: req.ImageFormat,
			Type:   driver.ImageType2D,
			Tiling: driver.ImageTilingOptimal,
			Usage:  driver.ImageUsageTransferDstBit | driver.ImageUsageSampledBit,
		})
		if err != nil {
			core.LogWarn("image format %s is not supported: %v", req.ImageFormat, err)
		} else {
			snap.ImageFormatLimits = limits
			core.LogInfo("image format %s: max extent %dx%d, %d mip levels, %d layers, max resource size %d",
				req.ImageFormat, limits.MaxExtent.Width, limits.MaxExtent.Height, limits.MaxMipLevels, limits.MaxArrayLayers, limits.MaxResourceSize)
		}
	}

	if req.SparseFormat != driver.FormatUndefined && snap.Features.SparseResidencyImage2D {
		snap.Sparse = drv.GetPhysicalDeviceSparseImageFormatProperties(snap.PhysicalDevice, driver.ImageFormatQuery{
			Format: req.SparseFormat,
			Type:   driver.ImageType2D,
			Tiling: driver.ImageTilingOptimal,
			Usage:  driver.ImageUsageSampledBit,
			Flags:  driver.ImageCreateSparseBindingBit | driver.ImageCreateSparseResidencyBit,
		})
		for _, s := range snap.Sparse {
			core.LogDebug("sparse %s aspect %s granularity %dx%dx%d flags %s", req.SparseFormat, s.AspectMask,
				s.ImageGranularity.Width, s.ImageGranularity.Height, s.ImageGranularity.Depth, s.Flags)
		}
	}

	return snap, nil
}

func deviceQualifies(drv driver.Driver, pd driver.PhysicalDevice, props driver.PhysicalDeviceProperties, features driver.PhysicalDeviceFeatures, constraint *semver.Constraints, req Requirements) bool {
	if missing := features.Missing(req.Features); len(missing) > 0 {
		core.LogInfo("device '%s' lacks features %v, skipping", props.DeviceName, missing)
		return false
	}
	if constraint != nil {
		v := semver.New(uint64(props.APIVersion.Major()), uint64(props.APIVersion.Minor()), uint64(props.APIVersion.Patch()), "", "")
		if !constraint.Check(v) {
			core.LogInfo("device '%s' API version %s does not satisfy %s, skipping", props.DeviceName, v, constraint)
			return false
		}
	}
	if len(req.DeviceExtensions) == 0 {
		return true
	}
	exts, err := drv.EnumerateDeviceExtensionProperties(pd)
	if err != nil {
		core.LogWarn("could not enumerate extensions of '%s': %v", props.DeviceName, err)
		return false
	}
	for _, want := range req.DeviceExtensions {
		ok := false
		for _, e := range exts {
			ok = ok || e.Name == want
		}
		if !ok {
			core.LogInfo("required extension not found: '%s', skipping device '%s'", want, props.DeviceName)
			return false
		}
	}
	return true
}

func selectQueues(drv driver.Driver, surface driver.Surface, snap *Snapshot, req Requirements) error {
	primary := -1
	for i, f := range snap.QueueFamilies {
		if f.Count > 0 && req.Selection.matches(f.Flags, req.Capability) {
			primary = i
			break
		}
	}
	if primary < 0 {
		return core.Fatal(core.ErrNoQueueFamily, "no queue family supports %s (%s selection)", req.Capability, req.Selection)
	}
	snap.PrimaryFamily = uint32(primary)
	snap.PrimaryQueueCount = snap.QueueFamilies[primary].Count

	// Prefer the family with the fewest other capabilities, which is most
	// likely a dedicated transfer queue.
	snap.TransferFamily = snap.PrimaryFamily
	minScore := 3
	for i, f := range snap.QueueFamilies {
		if f.Flags&driver.QueueTransferBit == 0 || f.Count == 0 {
			continue
		}
		score := 0
		if f.Flags&driver.QueueGraphicsBit != 0 {
			score++
		}
		if f.Flags&driver.QueueComputeBit != 0 {
			score++
		}
		if score < minScore {
			minScore = score
			snap.TransferFamily = uint32(i)
		}
	}

	if surface == 0 {
		snap.PresentFamily = snap.PrimaryFamily
		return nil
	}
	present := -1
	for i := range snap.QueueFamilies {
		ok, err := drv.GetPhysicalDeviceSurfaceSupport(snap.PhysicalDevice, uint32(i), surface)
		if err != nil {
			return core.Fatal(err, "failed to query presentation support of family %d", i)
		}
		if ok && (present < 0 || uint32(i) == snap.PrimaryFamily) {
			present = i
		}
	}
	if present < 0 {
		return core.Fatal(core.ErrNoQueueFamily, "no queue family can present to the surface")
	}
	snap.PresentFamily = uint32(present)
	snap.Presenting = true
	return nil
}

func selectMemoryTypes(snap *Snapshot, required []MemoryUsage) error {
	all := uint32(1)<<len(snap.Memory.Types) - 1
	for u := MemoryUsage(0); u < memoryUsageCount; u++ {
		idx, err := findMemoryType(snap.Memory, all, u.Flags())
		if err == nil {
			snap.memoryTypes[u] = idx
			core.LogDebug("memory usage %s -> type %d (%s)", u, idx, snap.Memory.Types[idx].PropertyFlags)
		}
	}
	for _, u := range required {
		if _, ok := snap.memoryTypes[u]; !ok {
			return core.Fatal(core.ErrNoMemoryType, "no memory type provides %s (%s)", u, u.Flags())
		}
	}
	return nil
}

func selectPresentation(drv driver.Driver, surface driver.Surface, snap *Snapshot, req Requirements) error {
	caps, err := drv.GetPhysicalDeviceSurfaceCapabilities(snap.PhysicalDevice, surface)
	if err != nil {
		return core.Fatal(err, "failed to query surface capabilities")
	}
	snap.SurfaceCapabilities = caps

	formats, err := drv.GetPhysicalDeviceSurfaceFormats(snap.PhysicalDevice, surface)
	if err != nil {
		return core.Fatal(err, "failed to enumerate surface formats")
	}
	found := false
	for _, f := range formats {
		if f == req.SurfaceFormat {
			found = true
			break
		}
	}
	if !found {
		return core.Fatal(core.ErrSurfaceFormatUnavailable, "surface does not offer %s/%s", req.SurfaceFormat.Format, req.SurfaceFormat.ColorSpace)
	}
	snap.SurfaceFormat = req.SurfaceFormat

	modes, err := drv.GetPhysicalDeviceSurfacePresentModes(snap.PhysicalDevice, surface)
	if err != nil {
		return core.Fatal(err, "failed to enumerate present modes")
	}
	found = false
	for _, m := range modes {
		if m == req.PresentMode {
			found = true
			break
		}
	}
	if !found {
		return core.Fatal(core.ErrPresentModeUnavailable, "surface does not offer present mode %s", req.PresentMode)
	}
	snap.PresentMode = req.PresentMode
	core.LogInfo("surface: %s/%s, %s, %d-%d images, extent %dx%d", snap.SurfaceFormat.Format, snap.SurfaceFormat.ColorSpace,
		snap.PresentMode, caps.MinImageCount, caps.MaxImageCount, caps.CurrentExtent.Width, caps.CurrentExtent.Height)
	return nil
}

func logDevice(props driver.PhysicalDeviceProperties) {
	core.LogInfo("Selected device: '%s'.", props.DeviceName)
	core.LogInfo("GPU type is %s.", props.DeviceType)
	core.LogInfo("GPU Driver version: %d.%d.%d", props.DriverVersion.Major(), props.DriverVersion.Minor(), props.DriverVersion.Patch())
	core.LogInfo("Vulkan API version: %d.%d.%d", props.APIVersion.Major(), props.APIVersion.Minor(), props.APIVersion.Patch())
}

func logMemory(mem driver.MemoryProperties) {
	for _, heap := range mem.Heaps {
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if heap.Flags&driver.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", gib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", gib)
		}
	}
}

func logQueueFamilies(snap *Snapshot) {
	core.LogInfo("Family | Count | Capabilities")
	for i, f := range snap.QueueFamilies {
		var roles []string
		if uint32(i) == snap.PrimaryFamily {
			roles = append(roles, "primary")
		}
		if uint32(i) == snap.TransferFamily {
			roles = append(roles, "transfer")
		}
		if snap.Presenting && uint32(i) == snap.PresentFamily {
			roles = append(roles, "present")
		}
		core.LogInfo("%6d | %5d | %s %s", i, f.Count, f.Flags, strings.Join(roles, ","))
	}
}
