package soft

import (
	"slices"
	"strings"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

type instance struct {
	*object
	devices []driver.PhysicalDevice
}

type physicalDevice struct {
	instance uint64
	cfg      *DeviceConfig
}

type surface struct {
	*object
	extent driver.Extent2D
}

type device struct {
	*object
	pd       *physicalDevice
	queues   map[[2]uint32]driver.Queue
	heapUsed []driver.DeviceSize
}

type queue struct {
	device *device
	family uint32
}

func (d *Driver) EnumerateInstanceExtensionProperties() ([]driver.ExtensionProperties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.FailEnumeration {
		return nil, driver.Check("vkEnumerateInstanceExtensionProperties", driver.ErrorOutOfHostMemory)
	}
	out := make([]driver.ExtensionProperties, 0, len(d.cfg.InstanceExtensions))
	for _, e := range d.cfg.InstanceExtensions {
		out = append(out, driver.ExtensionProperties{Name: e, SpecVersion: 1})
	}
	return out, nil
}

func (d *Driver) EnumerateInstanceLayerProperties() ([]driver.LayerProperties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.FailEnumeration {
		return nil, driver.Check("vkEnumerateInstanceLayerProperties", driver.ErrorOutOfHostMemory)
	}
	return slices.Clone(d.cfg.Layers), nil
}

// windowSystemExtension matches the platform surface extensions a window
// library asks for, which the fake instance accepts without listing.
func windowSystemExtension(name string) bool {
	return strings.HasPrefix(name, "VK_KHR_") && strings.HasSuffix(name, "_surface")
}

func (d *Driver) CreateInstance(info driver.InstanceCreateInfo, cb *hostalloc.Adapter) (driver.Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range info.Extensions {
		if !slices.Contains(d.cfg.InstanceExtensions, e) && !windowSystemExtension(e) {
			return 0, driver.Check("vkCreateInstance", driver.ErrorExtensionNotPresent)
		}
	}
	for _, l := range info.Layers {
		if !slices.ContainsFunc(d.cfg.Layers, func(p driver.LayerProperties) bool { return p.Name == l }) {
			return 0, driver.Check("vkCreateInstance", driver.ErrorLayerNotPresent)
		}
	}
	o, err := d.track("vkCreateInstance", "instance", 0, cb)
	if err != nil {
		return 0, err
	}
	inst := &instance{object: o}
	for i := range d.cfg.Devices {
		h := d.handle()
		d.objects[h] = &physicalDevice{instance: o.handle, cfg: &d.cfg.Devices[i]}
		inst.devices = append(inst.devices, driver.PhysicalDevice(h))
	}
	d.objects[o.handle] = inst
	return driver.Instance(o.handle), nil
}

func (d *Driver) DestroyInstance(h driver.Instance, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if kids := d.childrenOf(uint64(h)); len(kids) > 0 {
		d.violate("instance destroyed with live children %v", kids)
	}
	inst, ok := destroy[*instance](d, "instance", uint64(h), cb)
	if !ok {
		return
	}
	for _, pd := range inst.devices {
		delete(d.objects, uint64(pd))
	}
}

func (d *Driver) EnumeratePhysicalDevices(h driver.Instance) ([]driver.PhysicalDevice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.injected("vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	inst, ok := lookup[*instance](d, uint64(h))
	if !ok {
		return nil, driver.Check("vkEnumeratePhysicalDevices", driver.ErrorInitializationFailed)
	}
	return slices.Clone(inst.devices), nil
}

func (d *Driver) physical(h driver.PhysicalDevice) *DeviceConfig {
	pd, ok := lookup[*physicalDevice](d, uint64(h))
	if !ok {
		d.violate("unknown physical device 0x%x", uint64(h))
		return &DeviceConfig{}
	}
	return pd.cfg
}

func (d *Driver) GetPhysicalDeviceProperties(h driver.PhysicalDevice) driver.PhysicalDeviceProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.physical(h).Properties
}

func (d *Driver) GetPhysicalDeviceFeatures(h driver.PhysicalDevice) driver.PhysicalDeviceFeatures {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.physical(h).Features
}

func (d *Driver) GetPhysicalDeviceQueueFamilyProperties(h driver.PhysicalDevice) []driver.QueueFamilyProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.physical(h).QueueFamilies)
}

func (d *Driver) GetPhysicalDeviceMemoryProperties(h driver.PhysicalDevice) driver.MemoryProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.physical(h).Memory
	return driver.MemoryProperties{Types: slices.Clone(m.Types), Heaps: slices.Clone(m.Heaps)}
}

func (d *Driver) GetPhysicalDeviceFormatProperties(h driver.PhysicalDevice, format driver.Format) driver.FormatProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.physical(h).Formats[format]
}

func (d *Driver) GetPhysicalDeviceImageFormatProperties(h driver.PhysicalDevice, q driver.ImageFormatQuery) (driver.ImageFormatProperties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := d.physical(h)
	if _, ok := cfg.Formats[q.Format]; !ok {
		return driver.ImageFormatProperties{}, driver.Check("vkGetPhysicalDeviceImageFormatProperties", driver.ErrorFormatNotSupported)
	}
	if q.Flags&driver.ImageCreateSparseResidencyBit != 0 && !cfg.Features.SparseResidencyImage2D {
		return driver.ImageFormatProperties{}, driver.Check("vkGetPhysicalDeviceImageFormatProperties", driver.ErrorFormatNotSupported)
	}
	dim := cfg.Properties.Limits.MaxImageDimension2D
	return driver.ImageFormatProperties{
		MaxExtent:       driver.Extent3D{Width: dim, Height: dim, Depth: 1},
		MaxMipLevels:    mipCount(dim, dim),
		MaxArrayLayers:  2048,
		SampleCounts:    1,
		MaxResourceSize: 1 << 40,
	}, nil
}

func (d *Driver) GetPhysicalDeviceSparseImageFormatProperties(h driver.PhysicalDevice, q driver.ImageFormatQuery) []driver.SparseImageFormatProperties {
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg := d.physical(h)
	if _, ok := cfg.Formats[q.Format]; !ok || !cfg.Features.SparseResidencyImage2D || q.Type != driver.ImageType2D {
		return nil
	}
	return sparseFormatProperties(q.Format, cfg.SparseFlags)
}

func (d *Driver) EnumerateDeviceExtensionProperties(h driver.PhysicalDevice) ([]driver.ExtensionProperties, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg.FailEnumeration {
		return nil, driver.Check("vkEnumerateDeviceExtensionProperties", driver.ErrorOutOfHostMemory)
	}
	cfg := d.physical(h)
	out := make([]driver.ExtensionProperties, 0, len(cfg.Extensions))
	for _, e := range cfg.Extensions {
		out = append(out, driver.ExtensionProperties{Name: e, SpecVersion: 1})
	}
	return out, nil
}

func (d *Driver) CreateSurface(h driver.Instance, src driver.SurfaceSource, cb *hostalloc.Adapter) (driver.Surface, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := lookup[*instance](d, uint64(h)); !ok {
		return 0, driver.Check("vkCreateSurfaceKHR", driver.ErrorInitializationFailed)
	}
	o, err := d.track("vkCreateSurfaceKHR", "surface", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	s := &surface{object: o}
	if src != nil {
		w, hgt := src.GetFramebufferSize()
		s.extent = driver.Extent2D{Width: uint32(w), Height: uint32(hgt)}
	}
	d.objects[o.handle] = s
	return driver.Surface(o.handle), nil
}

func (d *Driver) DestroySurface(_ driver.Instance, h driver.Surface, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*surface](d, "surface", uint64(h), cb)
}

func (d *Driver) GetPhysicalDeviceSurfaceSupport(h driver.PhysicalDevice, family uint32, s driver.Surface) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := lookup[*surface](d, uint64(s)); !ok {
		return false, driver.Check("vkGetPhysicalDeviceSurfaceSupportKHR", driver.ErrorSurfaceLost)
	}
	cfg := d.physical(h)
	if int(family) >= len(cfg.QueueFamilies) {
		return false, nil
	}
	if cfg.SurfaceSupport == nil {
		return true, nil
	}
	return int(family) < len(cfg.SurfaceSupport) && cfg.SurfaceSupport[family], nil
}

func (d *Driver) GetPhysicalDeviceSurfaceCapabilities(h driver.PhysicalDevice, s driver.Surface) (driver.SurfaceCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sf, ok := lookup[*surface](d, uint64(s))
	if !ok {
		return driver.SurfaceCapabilities{}, driver.Check("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", driver.ErrorSurfaceLost)
	}
	caps := d.physical(h).Surface
	if sf.extent.Width > 0 && sf.extent.Height > 0 {
		caps.CurrentExtent = sf.extent
	}
	return caps, nil
}

func (d *Driver) GetPhysicalDeviceSurfaceFormats(h driver.PhysicalDevice, s driver.Surface) ([]driver.SurfaceFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := lookup[*surface](d, uint64(s)); !ok {
		return nil, driver.Check("vkGetPhysicalDeviceSurfaceFormatsKHR", driver.ErrorSurfaceLost)
	}
	return slices.Clone(d.physical(h).SurfaceFormats), nil
}

func (d *Driver) GetPhysicalDeviceSurfacePresentModes(h driver.PhysicalDevice, s driver.Surface) ([]driver.PresentMode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := lookup[*surface](d, uint64(s)); !ok {
		return nil, driver.Check("vkGetPhysicalDeviceSurfacePresentModesKHR", driver.ErrorSurfaceLost)
	}
	return slices.Clone(d.physical(h).PresentModes), nil
}

func (d *Driver) CreateDevice(h driver.PhysicalDevice, info driver.DeviceCreateInfo, cb *hostalloc.Adapter) (driver.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pd, ok := lookup[*physicalDevice](d, uint64(h))
	if !ok {
		return 0, driver.Check("vkCreateDevice", driver.ErrorInitializationFailed)
	}
	for _, q := range info.Queues {
		if int(q.Family) >= len(pd.cfg.QueueFamilies) || uint32(len(q.Priorities)) > pd.cfg.QueueFamilies[q.Family].Count || len(q.Priorities) == 0 {
			d.violate("invalid queue create info for family %d", q.Family)
			return 0, driver.Check("vkCreateDevice", driver.ErrorInitializationFailed)
		}
	}
	for _, e := range info.Extensions {
		if !slices.Contains(pd.cfg.Extensions, e) {
			return 0, driver.Check("vkCreateDevice", driver.ErrorExtensionNotPresent)
		}
	}
	var want []string
	for _, name := range driver.FeatureNames() {
		if len(info.Features.Missing([]string{name})) == 0 {
			want = append(want, name)
		}
	}
	if len(pd.cfg.Features.Missing(want)) > 0 {
		return 0, driver.Check("vkCreateDevice", driver.ErrorFeatureNotPresent)
	}
	o, err := d.track("vkCreateDevice", "device", pd.instance, cb)
	if err != nil {
		return 0, err
	}
	dev := &device{
		object:   o,
		pd:       pd,
		queues:   make(map[[2]uint32]driver.Queue),
		heapUsed: make([]driver.DeviceSize, len(pd.cfg.Memory.Heaps)),
	}
	for _, q := range info.Queues {
		for i := range q.Priorities {
			qh := d.handle()
			d.objects[qh] = &queue{device: dev, family: q.Family}
			dev.queues[[2]uint32{q.Family, uint32(i)}] = driver.Queue(qh)
		}
	}
	d.objects[o.handle] = dev
	return driver.Device(o.handle), nil
}

func (d *Driver) DestroyDevice(h driver.Device, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if kids := d.childrenOf(uint64(h)); len(kids) > 0 {
		d.violate("device destroyed with live children %v", kids)
	}
	dev, ok := destroy[*device](d, "device", uint64(h), cb)
	if !ok {
		return
	}
	for _, q := range dev.queues {
		delete(d.objects, uint64(q))
	}
}

func (d *Driver) GetDeviceQueue(h driver.Device, family, index uint32) driver.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := lookup[*device](d, uint64(h))
	if !ok {
		d.violate("queue requested from unknown device 0x%x", uint64(h))
		return 0
	}
	q, ok := dev.queues[[2]uint32{family, index}]
	if !ok {
		d.violate("queue %d/%d was not requested at device creation", family, index)
	}
	return q
}

func (d *Driver) DeviceWaitIdle(h driver.Device) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.WaitIdles++
	if d.lost {
		return driver.Check("vkDeviceWaitIdle", driver.ErrorDeviceLost)
	}
	if _, ok := lookup[*device](d, uint64(h)); !ok {
		d.violate("wait idle on unknown device 0x%x", uint64(h))
	}
	return nil
}

func (d *Driver) device(h driver.Device) (*device, bool) {
	dev, ok := lookup[*device](d, uint64(h))
	if !ok {
		d.violate("unknown device 0x%x", uint64(h))
	}
	return dev, ok
}
