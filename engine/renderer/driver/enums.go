package driver

import (
	"fmt"
	"strings"
)

type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR8g8b8a8Unorm      Format = 37
	FormatR8g8b8a8Srgb       Format = 43
	FormatB8g8r8a8Unorm      Format = 44
	FormatB8g8r8a8Srgb       Format = 50
	FormatR16g16b16a16Sfloat Format = 97
	FormatR32Sfloat          Format = 100
	FormatR32g32b32a32Sfloat Format = 109
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

var formatNames = map[Format]string{
	FormatUndefined:          "UNDEFINED",
	FormatR8g8b8a8Unorm:      "R8G8B8A8_UNORM",
	FormatR8g8b8a8Srgb:       "R8G8B8A8_SRGB",
	FormatB8g8r8a8Unorm:      "B8G8R8A8_UNORM",
	FormatB8g8r8a8Srgb:       "B8G8R8A8_SRGB",
	FormatR16g16b16a16Sfloat: "R16G16B16A16_SFLOAT",
	FormatR32Sfloat:          "R32_SFLOAT",
	FormatR32g32b32a32Sfloat: "R32G32B32A32_SFLOAT",
	FormatD32Sfloat:          "D32_SFLOAT",
	FormatD24UnormS8Uint:     "D24_UNORM_S8_UINT",
	FormatD32SfloatS8Uint:    "D32_SFLOAT_S8_UINT",
}

func (f Format) String() string {
	if n, ok := formatNames[f]; ok {
		return n
	}
	return fmt.Sprintf("format(%d)", uint32(f))
}

// ParseFormat accepts the names printed by String, case-insensitively.
func ParseFormat(s string) (Format, bool) {
	s = strings.TrimPrefix(strings.ToUpper(s), "VK_FORMAT_")
	for f, n := range formatNames {
		if n == s {
			return f, true
		}
	}
	return FormatUndefined, false
}

// BytesPerTexel is zero for formats the harness does not know.
func (f Format) BytesPerTexel() uint32 {
	switch f {
	case FormatR8g8b8a8Unorm, FormatR8g8b8a8Srgb, FormatB8g8r8a8Unorm, FormatB8g8r8a8Srgb,
		FormatR32Sfloat, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatD32SfloatS8Uint, FormatR16g16b16a16Sfloat:
		return 8
	case FormatR32g32b32a32Sfloat:
		return 16
	}
	return 0
}

func (f Format) Aspect() ImageAspectFlags {
	switch f {
	case FormatD32Sfloat:
		return ImageAspectDepthBit
	case FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return ImageAspectDepthBit | ImageAspectStencilBit
	}
	return ImageAspectColorBit
}

type ColorSpace uint32

const ColorSpaceSrgbNonlinear ColorSpace = 0

func (c ColorSpace) String() string {
	if c == ColorSpaceSrgbNonlinear {
		return "SRGB_NONLINEAR"
	}
	return fmt.Sprintf("colorspace(%d)", uint32(c))
}

type PresentMode uint32

const (
	PresentModeImmediate   PresentMode = 0
	PresentModeMailbox     PresentMode = 1
	PresentModeFifo        PresentMode = 2
	PresentModeFifoRelaxed PresentMode = 3
)

var presentModeNames = map[PresentMode]string{
	PresentModeImmediate:   "IMMEDIATE",
	PresentModeMailbox:     "MAILBOX",
	PresentModeFifo:        "FIFO",
	PresentModeFifoRelaxed: "FIFO_RELAXED",
}

func (p PresentMode) String() string {
	if n, ok := presentModeNames[p]; ok {
		return n
	}
	return fmt.Sprintf("presentmode(%d)", uint32(p))
}

func ParsePresentMode(s string) (PresentMode, bool) {
	s = strings.ToUpper(s)
	for p, n := range presentModeNames {
		if n == s {
			return p, true
		}
	}
	return PresentModeFifo, false
}

type PhysicalDeviceType uint32

const (
	PhysicalDeviceTypeOther         PhysicalDeviceType = 0
	PhysicalDeviceTypeIntegratedGpu PhysicalDeviceType = 1
	PhysicalDeviceTypeDiscreteGpu   PhysicalDeviceType = 2
	PhysicalDeviceTypeVirtualGpu    PhysicalDeviceType = 3
	PhysicalDeviceTypeCpu           PhysicalDeviceType = 4
)

func (t PhysicalDeviceType) String() string {
	switch t {
	case PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case PhysicalDeviceTypeCpu:
		return "cpu"
	}
	return "other"
}

type SharingMode uint32

const (
	SharingModeExclusive  SharingMode = 0
	SharingModeConcurrent SharingMode = 1
)

type ImageType uint32

const (
	ImageType1D ImageType = 0
	ImageType2D ImageType = 1
	ImageType3D ImageType = 2
)

type ImageViewType uint32

const (
	ImageViewType1D ImageViewType = 0
	ImageViewType2D ImageViewType = 1
	ImageViewType3D ImageViewType = 2
)

type ImageTiling uint32

const (
	ImageTilingOptimal ImageTiling = 0
	ImageTilingLinear  ImageTiling = 1
)

type ImageLayout uint32

const (
	ImageLayoutUndefined              ImageLayout = 0
	ImageLayoutGeneral                ImageLayout = 1
	ImageLayoutColorAttachmentOptimal ImageLayout = 2
	ImageLayoutShaderReadOnlyOptimal  ImageLayout = 5
	ImageLayoutTransferSrcOptimal     ImageLayout = 6
	ImageLayoutTransferDstOptimal     ImageLayout = 7
	ImageLayoutPresentSrc             ImageLayout = 1000001002
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "UNDEFINED"
	case ImageLayoutGeneral:
		return "GENERAL"
	case ImageLayoutColorAttachmentOptimal:
		return "COLOR_ATTACHMENT_OPTIMAL"
	case ImageLayoutShaderReadOnlyOptimal:
		return "SHADER_READ_ONLY_OPTIMAL"
	case ImageLayoutTransferSrcOptimal:
		return "TRANSFER_SRC_OPTIMAL"
	case ImageLayoutTransferDstOptimal:
		return "TRANSFER_DST_OPTIMAL"
	case ImageLayoutPresentSrc:
		return "PRESENT_SRC"
	}
	return fmt.Sprintf("layout(%d)", uint32(l))
}

type DescriptorType uint32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeStorageImage         DescriptorType = 3
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
)

// IsBuffer reports whether writes of this type carry buffer infos.
func (t DescriptorType) IsBuffer() bool {
	return t == DescriptorTypeUniformBuffer || t == DescriptorTypeStorageBuffer
}

type PipelineBindPoint uint32

const (
	PipelineBindPointGraphics PipelineBindPoint = 0
	PipelineBindPointCompute  PipelineBindPoint = 1
)

type PrimitiveTopology uint32

const (
	PrimitiveTopologyPointList    PrimitiveTopology = 0
	PrimitiveTopologyLineList     PrimitiveTopology = 1
	PrimitiveTopologyTriangleList PrimitiveTopology = 3
)

type PolygonMode uint32

const (
	PolygonModeFill PolygonMode = 0
	PolygonModeLine PolygonMode = 1
)

type CullMode uint32

const (
	CullModeNone  CullMode = 0
	CullModeFront CullMode = 1
	CullModeBack  CullMode = 2
)

type FrontFace uint32

const (
	FrontFaceCounterClockwise FrontFace = 0
	FrontFaceClockwise        FrontFace = 1
)

type AttachmentLoadOp uint32

const (
	AttachmentLoadOpLoad     AttachmentLoadOp = 0
	AttachmentLoadOpClear    AttachmentLoadOp = 1
	AttachmentLoadOpDontCare AttachmentLoadOp = 2
)

type AttachmentStoreOp uint32

const (
	AttachmentStoreOpStore    AttachmentStoreOp = 0
	AttachmentStoreOpDontCare AttachmentStoreOp = 1
)
