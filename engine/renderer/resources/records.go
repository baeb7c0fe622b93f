// Package resources creates buffers, images and device memory and binds them
// together. A resource is unusable until memory has been bound to it.
package resources

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

// Resource is anything device memory can be bound to.
type Resource interface {
	fmt.Stringer
	MemoryRequirements() driver.MemoryRequirements
	Bound() bool
	bindTo(f *Factory, mem *Memory, offset driver.DeviceSize) error
}

type binding struct {
	memory *Memory
	offset driver.DeviceSize
}

func (b *binding) Bound() bool {
	return b.memory != nil && !b.memory.freed()
}

func (b *binding) Memory() *Memory {
	return b.memory
}

func (b *binding) Offset() driver.DeviceSize {
	return b.offset
}

type Buffer struct {
	binding
	ID           uuid.UUID
	Name         string
	Handle       driver.Buffer
	Size         driver.DeviceSize
	Usage        driver.BufferUsageFlags
	Requirements driver.MemoryRequirements
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer %q (%d bytes, %s)", b.Name, b.Size, b.Usage)
}

func (b *Buffer) MemoryRequirements() driver.MemoryRequirements {
	return b.Requirements
}

func (b *Buffer) bindTo(f *Factory, mem *Memory, offset driver.DeviceSize) error {
	return f.BindBufferMemory(b, mem, offset)
}

// Descriptor is the whole-buffer range a descriptor write refers to.
func (b *Buffer) Descriptor() driver.DescriptorBufferInfo {
	return driver.DescriptorBufferInfo{Buffer: b.Handle, Offset: 0, Range: b.Size}
}

// ImageDesc is what callers ask for; the factory fills in the rest of the
// create info.
type ImageDesc struct {
	Width       uint32
	Height      uint32
	Format      driver.Format
	MipLevels   uint32
	ArrayLayers uint32
	Usage       driver.ImageUsageFlags
	Tiling      driver.ImageTiling
}

type Image struct {
	binding
	ID           uuid.UUID
	Name         string
	Handle       driver.Image
	Info         driver.ImageCreateInfo
	Requirements driver.MemoryRequirements
	// Sparse holds one entry per aspect the driver reported. Nil for
	// regular images.
	Sparse []driver.SparseImageMemoryRequirements
	// Presentable images belong to a swapchain and are never bound or
	// destroyed by the application.
	Presentable bool
}

func (i *Image) String() string {
	kind := "image"
	if i.IsSparse() {
		kind = "sparse image"
	}
	return fmt.Sprintf("%s %q (%dx%d %s, %d mips)", kind, i.Name, i.Info.Extent.Width, i.Info.Extent.Height, i.Info.Format, i.Info.MipLevels)
}

func (i *Image) MemoryRequirements() driver.MemoryRequirements {
	return i.Requirements
}

func (i *Image) IsSparse() bool {
	return i.Info.Flags&driver.ImageCreateSparseResidencyBit != 0
}

// Usable reports whether commands and views may reference the image.
func (i *Image) Usable() bool {
	return i.Presentable || i.Bound()
}

func (i *Image) Extent() driver.Extent2D {
	return driver.Extent2D{Width: i.Info.Extent.Width, Height: i.Info.Extent.Height}
}

func (i *Image) bindTo(f *Factory, mem *Memory, offset driver.DeviceSize) error {
	return f.BindImageMemory(i, mem, offset)
}

type ImageView struct {
	ID     uuid.UUID
	Handle driver.ImageView
	Image  *Image
	Aspect driver.ImageAspectFlags
}
