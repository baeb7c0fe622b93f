package driver

import "sort"

type Extent2D struct {
	Width  uint32
	Height uint32
}

type Extent3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

type Offset2D struct {
	X int32
	Y int32
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

type ExtensionProperties struct {
	Name        string
	SpecVersion uint32
}

type LayerProperties struct {
	Name                  string
	Description           string
	SpecVersion           Version
	ImplementationVersion uint32
}

type PhysicalDeviceLimits struct {
	MaxImageDimension2D      uint32
	MaxPushConstantsSize     uint32
	MaxBoundDescriptorSets   uint32
	MaxMemoryAllocationCount uint32
	MaxComputeWorkGroupCount [3]uint32
	NonCoherentAtomSize      DeviceSize
	BufferImageGranularity   DeviceSize
}

type PhysicalDeviceProperties struct {
	APIVersion    Version
	DriverVersion Version
	VendorID      uint32
	DeviceID      uint32
	DeviceType    PhysicalDeviceType
	DeviceName    string
	Limits        PhysicalDeviceLimits
}

// PhysicalDeviceFeatures holds the subset of core features the harness reads.
type PhysicalDeviceFeatures struct {
	GeometryShader         bool
	TessellationShader     bool
	SparseBinding          bool
	SparseResidencyBuffer  bool
	SparseResidencyImage2D bool
	SamplerAnisotropy      bool
	FillModeNonSolid       bool
	ShaderFloat64          bool
}

func (f *PhysicalDeviceFeatures) lookup() map[string]*bool {
	return map[string]*bool{
		"geometry_shader":          &f.GeometryShader,
		"tessellation_shader":      &f.TessellationShader,
		"sparse_binding":           &f.SparseBinding,
		"sparse_residency_buffer":  &f.SparseResidencyBuffer,
		"sparse_residency_image2d": &f.SparseResidencyImage2D,
		"sampler_anisotropy":       &f.SamplerAnisotropy,
		"fill_mode_non_solid":      &f.FillModeNonSolid,
		"shader_float64":           &f.ShaderFloat64,
	}
}

// Missing returns the names in required that are unknown or not supported.
func (f PhysicalDeviceFeatures) Missing(required []string) []string {
	table := f.lookup()
	var missing []string
	for _, name := range required {
		if v, ok := table[name]; !ok || !*v {
			missing = append(missing, name)
		}
	}
	return missing
}

// Enable switches on the named features. Unknown names are returned.
func (f *PhysicalDeviceFeatures) Enable(names []string) []string {
	table := f.lookup()
	var unknown []string
	for _, name := range names {
		v, ok := table[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		*v = true
	}
	return unknown
}

// FeatureNames lists every feature name Missing and Enable understand.
func FeatureNames() []string {
	var f PhysicalDeviceFeatures
	names := make([]string, 0, 8)
	for n := range f.lookup() {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type QueueFamilyProperties struct {
	Flags              QueueFlags
	Count              uint32
	TimestampValidBits uint32
}

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     uint32
}

type MemoryHeap struct {
	Size  DeviceSize
	Flags MemoryHeapFlags
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

type FormatProperties struct {
	LinearTiling  FormatFeatureFlags
	OptimalTiling FormatFeatureFlags
	Buffer        FormatFeatureFlags
}

type ImageFormatQuery struct {
	Format Format
	Type   ImageType
	Tiling ImageTiling
	Usage  ImageUsageFlags
	Flags  ImageCreateFlags
}

type ImageFormatProperties struct {
	MaxExtent       Extent3D
	MaxMipLevels    uint32
	MaxArrayLayers  uint32
	SampleCounts    uint32
	MaxResourceSize DeviceSize
}

type SparseImageFormatProperties struct {
	AspectMask       ImageAspectFlags
	ImageGranularity Extent3D
	Flags            SparseImageFormatFlags
}

type SparseImageMemoryRequirements struct {
	FormatProperties SparseImageFormatProperties
	MipTailFirstLod  uint32
	MipTailSize      DeviceSize
	MipTailOffset    DeviceSize
	MipTailStride    DeviceSize
}

type SurfaceCapabilities struct {
	MinImageCount       uint32
	MaxImageCount       uint32
	CurrentExtent       Extent2D
	MinImageExtent      Extent2D
	MaxImageExtent      Extent2D
	MaxImageArrayLayers uint32
	SupportedUsage      ImageUsageFlags
	CurrentTransform    uint32
}

type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type InstanceCreateInfo struct {
	ApplicationName    string
	ApplicationVersion Version
	EngineName         string
	APIVersion         Version
	Extensions         []string
	Layers             []string
}

type DeviceQueueCreateInfo struct {
	Family     uint32
	Priorities []float32
}

type DeviceCreateInfo struct {
	Queues     []DeviceQueueCreateInfo
	Extensions []string
	Features   PhysicalDeviceFeatures
}

type BufferCreateInfo struct {
	Size          DeviceSize
	Usage         BufferUsageFlags
	SharingMode   SharingMode
	QueueFamilies []uint32
}

type ImageCreateInfo struct {
	Flags         ImageCreateFlags
	Type          ImageType
	Format        Format
	Extent        Extent3D
	MipLevels     uint32
	ArrayLayers   uint32
	Samples       uint32
	Tiling        ImageTiling
	Usage         ImageUsageFlags
	SharingMode   SharingMode
	InitialLayout ImageLayout
}

type ImageSubresourceRange struct {
	AspectMask     ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

type ImageViewCreateInfo struct {
	Image    Image
	ViewType ImageViewType
	Format   Format
	Range    ImageSubresourceRange
}

type MemoryRequirements struct {
	Size           DeviceSize
	Alignment      DeviceSize
	MemoryTypeBits uint32
}

type MemoryAllocateInfo struct {
	Size            DeviceSize
	MemoryTypeIndex uint32
}

type MappedMemoryRange struct {
	Memory DeviceMemory
	Offset DeviceSize
	Size   DeviceSize
}

type DescriptorSetLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStageFlags
}

type PushConstantRange struct {
	Stages ShaderStageFlags
	Offset uint32
	Size   uint32
}

type PipelineLayoutCreateInfo struct {
	SetLayouts    []DescriptorSetLayout
	PushConstants []PushConstantRange
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorPoolCreateInfo struct {
	MaxSets           uint32
	Sizes             []DescriptorPoolSize
	FreeDescriptorSet bool
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset DeviceSize
	Range  DeviceSize
}

type DescriptorImageInfo struct {
	View   ImageView
	Layout ImageLayout
}

type WriteDescriptorSet struct {
	Set          DescriptorSet
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Buffers      []DescriptorBufferInfo
	Images       []DescriptorImageInfo
}

type ShaderStage struct {
	Stage      ShaderStageFlags
	Module     ShaderModule
	EntryPoint string
}

type ComputePipelineCreateInfo struct {
	Stage  ShaderStage
	Layout PipelineLayout
}

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// FixedFunctionState is the non-programmable part of a graphics pipeline.
// Vertex input is always empty; geometry is generated in the vertex stage.
type FixedFunctionState struct {
	Topology    PrimitiveTopology
	PolygonMode PolygonMode
	CullMode    CullMode
	FrontFace   FrontFace
	LineWidth   float32
	Viewport    Viewport
	Scissor     Rect2D
	BlendEnable bool
}

type GraphicsPipelineCreateInfo struct {
	Stages     []ShaderStage
	State      FixedFunctionState
	Layout     PipelineLayout
	RenderPass RenderPass
	Subpass    uint32
}

type AttachmentDescription struct {
	Format        Format
	LoadOp        AttachmentLoadOp
	StoreOp       AttachmentStoreOp
	InitialLayout ImageLayout
	FinalLayout   ImageLayout
}

// RenderPassCreateInfo describes a single-subpass pass writing every
// attachment as a color target.
type RenderPassCreateInfo struct {
	ColorAttachments []AttachmentDescription
}

type FramebufferCreateInfo struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

type ClearColor [4]float32

type RenderPassBeginInfo struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Area        Rect2D
	ClearColors []ClearColor
}

type MemoryBarrier struct {
	SrcAccess AccessFlags
	DstAccess AccessFlags
}

type BufferMemoryBarrier struct {
	SrcAccess      AccessFlags
	DstAccess      AccessFlags
	SrcQueueFamily uint32
	DstQueueFamily uint32
	Buffer         Buffer
	Offset         DeviceSize
	Size           DeviceSize
}

type ImageMemoryBarrier struct {
	SrcAccess      AccessFlags
	DstAccess      AccessFlags
	OldLayout      ImageLayout
	NewLayout      ImageLayout
	SrcQueueFamily uint32
	DstQueueFamily uint32
	Image          Image
	Range          ImageSubresourceRange
}

type PipelineBarrier struct {
	SrcStage PipelineStageFlags
	DstStage PipelineStageFlags
	Memory   []MemoryBarrier
	Buffers  []BufferMemoryBarrier
	Images   []ImageMemoryBarrier
}

type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStageFlags
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type SwapchainCreateInfo struct {
	Surface       Surface
	MinImageCount uint32
	Format        Format
	ColorSpace    ColorSpace
	Extent        Extent2D
	Usage         ImageUsageFlags
	SharingMode   SharingMode
	QueueFamilies []uint32
	PreTransform  uint32
	PresentMode   PresentMode
	Clipped       bool
	OldSwapchain  Swapchain
}

type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchain      Swapchain
	ImageIndex     uint32
}
