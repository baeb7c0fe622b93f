package driver

// Opaque object handles. Zero is the null handle for every kind.
type (
	Instance            uint64
	PhysicalDevice      uint64
	Device              uint64
	Queue               uint64
	Surface             uint64
	Swapchain           uint64
	Buffer              uint64
	Image               uint64
	ImageView           uint64
	DeviceMemory        uint64
	ShaderModule        uint64
	DescriptorSetLayout uint64
	PipelineLayout      uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
	Pipeline            uint64
	RenderPass          uint64
	Framebuffer         uint64
	CommandPool         uint64
	CommandBuffer       uint64
	Fence               uint64
	Semaphore           uint64
)

type DeviceSize uint64

const (
	WholeSize          DeviceSize = ^DeviceSize(0)
	QueueFamilyIgnored uint32     = ^uint32(0)
)

// Version packs major.minor.patch the way the API does.
type Version uint32

func MakeVersion(major, minor, patch uint32) Version {
	return Version(major<<22 | minor<<12 | patch)
}

func (v Version) Major() uint32 {
	return uint32(v) >> 22
}

func (v Version) Minor() uint32 {
	return (uint32(v) >> 12) & 0x3ff
}

func (v Version) Patch() uint32 {
	return uint32(v) & 0xfff
}
