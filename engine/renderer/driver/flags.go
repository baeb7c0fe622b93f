package driver

import (
	"fmt"
	"strings"
)

type QueueFlags uint32

const (
	QueueGraphicsBit      QueueFlags = 0x1
	QueueComputeBit       QueueFlags = 0x2
	QueueTransferBit      QueueFlags = 0x4
	QueueSparseBindingBit QueueFlags = 0x8
)

func (f QueueFlags) String() string {
	return flagString(uint32(f), []flagName{
		{uint32(QueueGraphicsBit), "GRAPHICS"},
		{uint32(QueueComputeBit), "COMPUTE"},
		{uint32(QueueTransferBit), "TRANSFER"},
		{uint32(QueueSparseBindingBit), "SPARSE_BINDING"},
	})
}

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocalBit     MemoryPropertyFlags = 0x1
	MemoryPropertyHostVisibleBit     MemoryPropertyFlags = 0x2
	MemoryPropertyHostCoherentBit    MemoryPropertyFlags = 0x4
	MemoryPropertyHostCachedBit      MemoryPropertyFlags = 0x8
	MemoryPropertyLazilyAllocatedBit MemoryPropertyFlags = 0x10
)

func (f MemoryPropertyFlags) String() string {
	return flagString(uint32(f), []flagName{
		{uint32(MemoryPropertyDeviceLocalBit), "DEVICE_LOCAL"},
		{uint32(MemoryPropertyHostVisibleBit), "HOST_VISIBLE"},
		{uint32(MemoryPropertyHostCoherentBit), "HOST_COHERENT"},
		{uint32(MemoryPropertyHostCachedBit), "HOST_CACHED"},
		{uint32(MemoryPropertyLazilyAllocatedBit), "LAZILY_ALLOCATED"},
	})
}

type MemoryHeapFlags uint32

const MemoryHeapDeviceLocalBit MemoryHeapFlags = 0x1

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrcBit   BufferUsageFlags = 0x1
	BufferUsageTransferDstBit   BufferUsageFlags = 0x2
	BufferUsageUniformBufferBit BufferUsageFlags = 0x10
	BufferUsageStorageBufferBit BufferUsageFlags = 0x20
	BufferUsageIndexBufferBit   BufferUsageFlags = 0x40
	BufferUsageVertexBufferBit  BufferUsageFlags = 0x80
)

func (f BufferUsageFlags) String() string {
	return flagString(uint32(f), []flagName{
		{uint32(BufferUsageTransferSrcBit), "TRANSFER_SRC"},
		{uint32(BufferUsageTransferDstBit), "TRANSFER_DST"},
		{uint32(BufferUsageUniformBufferBit), "UNIFORM_BUFFER"},
		{uint32(BufferUsageStorageBufferBit), "STORAGE_BUFFER"},
		{uint32(BufferUsageIndexBufferBit), "INDEX_BUFFER"},
		{uint32(BufferUsageVertexBufferBit), "VERTEX_BUFFER"},
	})
}

type ImageUsageFlags uint32

const (
	ImageUsageTransferSrcBit            ImageUsageFlags = 0x1
	ImageUsageTransferDstBit            ImageUsageFlags = 0x2
	ImageUsageSampledBit                ImageUsageFlags = 0x4
	ImageUsageStorageBit                ImageUsageFlags = 0x8
	ImageUsageColorAttachmentBit        ImageUsageFlags = 0x10
	ImageUsageDepthStencilAttachmentBit ImageUsageFlags = 0x20
)

type ImageCreateFlags uint32

const (
	ImageCreateSparseBindingBit   ImageCreateFlags = 0x1
	ImageCreateSparseResidencyBit ImageCreateFlags = 0x2
	ImageCreateSparseAliasedBit   ImageCreateFlags = 0x4
	ImageCreateMutableFormatBit   ImageCreateFlags = 0x8
)

type ImageAspectFlags uint32

const (
	ImageAspectColorBit    ImageAspectFlags = 0x1
	ImageAspectDepthBit    ImageAspectFlags = 0x2
	ImageAspectStencilBit  ImageAspectFlags = 0x4
	ImageAspectMetadataBit ImageAspectFlags = 0x8
)

func (f ImageAspectFlags) String() string {
	return flagString(uint32(f), []flagName{
		{uint32(ImageAspectColorBit), "COLOR"},
		{uint32(ImageAspectDepthBit), "DEPTH"},
		{uint32(ImageAspectStencilBit), "STENCIL"},
		{uint32(ImageAspectMetadataBit), "METADATA"},
	})
}

type SparseImageFormatFlags uint32

const (
	SparseImageFormatSingleMiptailBit        SparseImageFormatFlags = 0x1
	SparseImageFormatAlignedMipSizeBit       SparseImageFormatFlags = 0x2
	SparseImageFormatNonstandardBlockSizeBit SparseImageFormatFlags = 0x4
)

func (f SparseImageFormatFlags) String() string {
	return flagString(uint32(f), []flagName{
		{uint32(SparseImageFormatSingleMiptailBit), "SINGLE_MIPTAIL"},
		{uint32(SparseImageFormatAlignedMipSizeBit), "ALIGNED_MIP_SIZE"},
		{uint32(SparseImageFormatNonstandardBlockSizeBit), "NONSTANDARD_BLOCK_SIZE"},
	})
}

type FormatFeatureFlags uint32

const (
	FormatFeatureSampledImageBit           FormatFeatureFlags = 0x1
	FormatFeatureStorageImageBit           FormatFeatureFlags = 0x2
	FormatFeatureColorAttachmentBit        FormatFeatureFlags = 0x80
	FormatFeatureDepthStencilAttachmentBit FormatFeatureFlags = 0x200
	FormatFeatureTransferSrcBit            FormatFeatureFlags = 0x4000
	FormatFeatureTransferDstBit            FormatFeatureFlags = 0x8000
)

func (f FormatFeatureFlags) String() string {
	return flagString(uint32(f), []flagName{
		{uint32(FormatFeatureSampledImageBit), "SAMPLED_IMAGE"},
		{uint32(FormatFeatureStorageImageBit), "STORAGE_IMAGE"},
		{uint32(FormatFeatureColorAttachmentBit), "COLOR_ATTACHMENT"},
		{uint32(FormatFeatureDepthStencilAttachmentBit), "DEPTH_STENCIL_ATTACHMENT"},
		{uint32(FormatFeatureTransferSrcBit), "TRANSFER_SRC"},
		{uint32(FormatFeatureTransferDstBit), "TRANSFER_DST"},
	})
}

type ShaderStageFlags uint32

const (
	ShaderStageVertexBit                 ShaderStageFlags = 0x1
	ShaderStageTessellationControlBit    ShaderStageFlags = 0x2
	ShaderStageTessellationEvaluationBit ShaderStageFlags = 0x4
	ShaderStageGeometryBit               ShaderStageFlags = 0x8
	ShaderStageFragmentBit               ShaderStageFlags = 0x10
	ShaderStageComputeBit                ShaderStageFlags = 0x20
)

type PipelineStageFlags uint32

const (
	PipelineStageTopOfPipeBit             PipelineStageFlags = 0x1
	PipelineStageVertexShaderBit          PipelineStageFlags = 0x8
	PipelineStageFragmentShaderBit        PipelineStageFlags = 0x80
	PipelineStageColorAttachmentOutputBit PipelineStageFlags = 0x400
	PipelineStageComputeShaderBit         PipelineStageFlags = 0x800
	PipelineStageTransferBit              PipelineStageFlags = 0x1000
	PipelineStageBottomOfPipeBit          PipelineStageFlags = 0x2000
	PipelineStageHostBit                  PipelineStageFlags = 0x4000
	PipelineStageAllCommandsBit           PipelineStageFlags = 0x10000
)

type AccessFlags uint32

const (
	AccessUniformReadBit          AccessFlags = 0x8
	AccessShaderReadBit           AccessFlags = 0x20
	AccessShaderWriteBit          AccessFlags = 0x40
	AccessColorAttachmentReadBit  AccessFlags = 0x80
	AccessColorAttachmentWriteBit AccessFlags = 0x100
	AccessTransferReadBit         AccessFlags = 0x800
	AccessTransferWriteBit        AccessFlags = 0x1000
	AccessHostReadBit             AccessFlags = 0x2000
	AccessHostWriteBit            AccessFlags = 0x4000
	AccessMemoryReadBit           AccessFlags = 0x8000
	AccessMemoryWriteBit          AccessFlags = 0x10000
)

type CommandBufferUsageFlags uint32

const (
	CommandBufferUsageOneTimeSubmitBit      CommandBufferUsageFlags = 0x1
	CommandBufferUsageRenderPassContinueBit CommandBufferUsageFlags = 0x2
	CommandBufferUsageSimultaneousUseBit    CommandBufferUsageFlags = 0x4
)

type CommandPoolCreateFlags uint32

const (
	CommandPoolCreateTransientBit          CommandPoolCreateFlags = 0x1
	CommandPoolCreateResetCommandBufferBit CommandPoolCreateFlags = 0x2
)

type flagName struct {
	bit  uint32
	name string
}

func flagString(v uint32, names []flagName) string {
	if v == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range names {
		if v&n.bit != 0 {
			parts = append(parts, n.name)
			v &^= n.bit
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", v))
	}
	return strings.Join(parts, "|")
}
