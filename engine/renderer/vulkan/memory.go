package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

// allocation remembers the size of device memory so mappings of the whole
// range can be sliced.
type allocation struct {
	handle vk.DeviceMemory
	size   driver.DeviceSize
}

func (d *Driver) memory(memory driver.DeviceMemory) vk.DeviceMemory {
	var none vk.DeviceMemory
	if a := lookup[*allocation](d, uint64(memory)); a != nil {
		return a.handle
	}
	return none
}

func (d *Driver) CreateBuffer(device driver.Device, info driver.BufferCreateInfo, cb *hostalloc.Adapter) (driver.Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:                 vk.StructureTypeBufferCreateInfo,
		Size:                  vk.DeviceSize(info.Size),
		Usage:                 vk.BufferUsageFlags(info.Usage),
		SharingMode:           vk.SharingMode(info.SharingMode),
		QueueFamilyIndexCount: uint32(len(info.QueueFamilies)),
		PQueueFamilyIndices:   info.QueueFamilies,
	}
	var buf vk.Buffer
	if err := check("vkCreateBuffer", vk.CreateBuffer(d.device(device), &createInfo, d.allocator(cb), &buf)); err != nil {
		return 0, err
	}
	return driver.Buffer(d.put(buf)), nil
}

func (d *Driver) DestroyBuffer(device driver.Device, buffer driver.Buffer, cb *hostalloc.Adapter) {
	vk.DestroyBuffer(d.device(device), lookup[vk.Buffer](d, uint64(buffer)), d.allocator(cb))
	d.drop(uint64(buffer))
}

func requirements(r vk.MemoryRequirements) driver.MemoryRequirements {
	r.Deref()
	return driver.MemoryRequirements{
		Size:           driver.DeviceSize(r.Size),
		Alignment:      driver.DeviceSize(r.Alignment),
		MemoryTypeBits: r.MemoryTypeBits,
	}
}

func (d *Driver) GetBufferMemoryRequirements(device driver.Device, buffer driver.Buffer) driver.MemoryRequirements {
	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.device(device), lookup[vk.Buffer](d, uint64(buffer)), &reqs)
	return requirements(reqs)
}

func (d *Driver) BindBufferMemory(device driver.Device, buffer driver.Buffer, memory driver.DeviceMemory, offset driver.DeviceSize) error {
	res := vk.BindBufferMemory(d.device(device), lookup[vk.Buffer](d, uint64(buffer)), d.memory(memory), vk.DeviceSize(offset))
	return check("vkBindBufferMemory", res)
}

func (d *Driver) CreateImage(device driver.Device, info driver.ImageCreateInfo, cb *hostalloc.Adapter) (driver.Image, error) {
	createInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		Flags:         vk.ImageCreateFlags(info.Flags),
		ImageType:     vk.ImageType(info.Type),
		Format:        vk.Format(info.Format),
		Extent:        vk.Extent3D{Width: info.Extent.Width, Height: info.Extent.Height, Depth: info.Extent.Depth},
		MipLevels:     info.MipLevels,
		ArrayLayers:   info.ArrayLayers,
		Samples:       vk.SampleCountFlagBits(info.Samples),
		Tiling:        vk.ImageTiling(info.Tiling),
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingMode(info.SharingMode),
		InitialLayout: vk.ImageLayout(info.InitialLayout),
	}
	if createInfo.Samples == 0 {
		createInfo.Samples = vk.SampleCount1Bit
	}
	var img vk.Image
	if err := check("vkCreateImage", vk.CreateImage(d.device(device), &createInfo, d.allocator(cb), &img)); err != nil {
		return 0, err
	}
	return driver.Image(d.put(img)), nil
}

func (d *Driver) DestroyImage(device driver.Device, image driver.Image, cb *hostalloc.Adapter) {
	vk.DestroyImage(d.device(device), lookup[vk.Image](d, uint64(image)), d.allocator(cb))
	d.drop(uint64(image))
}

func (d *Driver) GetImageMemoryRequirements(device driver.Device, image driver.Image) driver.MemoryRequirements {
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.device(device), lookup[vk.Image](d, uint64(image)), &reqs)
	return requirements(reqs)
}

func (d *Driver) GetImageSparseMemoryRequirements(device driver.Device, image driver.Image) []driver.SparseImageMemoryRequirements {
	img := lookup[vk.Image](d, uint64(image))
	reqs, _ := enumerate("vkGetImageSparseMemoryRequirements", func(count *uint32, out []vk.SparseImageMemoryRequirements) vk.Result {
		c := []uint32{*count}
		vk.GetImageSparseMemoryRequirements(d.device(device), img, c, out)
		*count = c[0]
		return vk.Success
	})
	out := make([]driver.SparseImageMemoryRequirements, 0, len(reqs))
	for i := range reqs {
		r := reqs[i]
		r.Deref()
		out = append(out, driver.SparseImageMemoryRequirements{
			FormatProperties: sparseFormat(r.FormatProperties),
			MipTailFirstLod:  r.ImageMipTailFirstLod,
			MipTailSize:      driver.DeviceSize(r.ImageMipTailSize),
			MipTailOffset:    driver.DeviceSize(r.ImageMipTailOffset),
			MipTailStride:    driver.DeviceSize(r.ImageMipTailStride),
		})
	}
	return out
}

func (d *Driver) BindImageMemory(device driver.Device, image driver.Image, memory driver.DeviceMemory, offset driver.DeviceSize) error {
	res := vk.BindImageMemory(d.device(device), lookup[vk.Image](d, uint64(image)), d.memory(memory), vk.DeviceSize(offset))
	return check("vkBindImageMemory", res)
}

func subresourceRange(r driver.ImageSubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(r.AspectMask),
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.LevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.LayerCount,
	}
}

func (d *Driver) CreateImageView(device driver.Device, info driver.ImageViewCreateInfo, cb *hostalloc.Adapter) (driver.ImageView, error) {
	createInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            lookup[vk.Image](d, uint64(info.Image)),
		ViewType:         vk.ImageViewType(info.ViewType),
		Format:           vk.Format(info.Format),
		SubresourceRange: subresourceRange(info.Range),
	}
	var view vk.ImageView
	if err := check("vkCreateImageView", vk.CreateImageView(d.device(device), &createInfo, d.allocator(cb), &view)); err != nil {
		return 0, err
	}
	return driver.ImageView(d.put(view)), nil
}

func (d *Driver) DestroyImageView(device driver.Device, view driver.ImageView, cb *hostalloc.Adapter) {
	vk.DestroyImageView(d.device(device), lookup[vk.ImageView](d, uint64(view)), d.allocator(cb))
	d.drop(uint64(view))
}

func (d *Driver) AllocateMemory(device driver.Device, info driver.MemoryAllocateInfo, cb *hostalloc.Adapter) (driver.DeviceMemory, error) {
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(info.Size),
		MemoryTypeIndex: info.MemoryTypeIndex,
	}
	var mem vk.DeviceMemory
	if err := check("vkAllocateMemory", vk.AllocateMemory(d.device(device), &allocInfo, d.allocator(cb), &mem)); err != nil {
		return 0, err
	}
	return driver.DeviceMemory(d.put(&allocation{handle: mem, size: info.Size})), nil
}

func (d *Driver) FreeMemory(device driver.Device, memory driver.DeviceMemory, cb *hostalloc.Adapter) {
	vk.FreeMemory(d.device(device), d.memory(memory), d.allocator(cb))
	d.drop(uint64(memory))
}

func (d *Driver) MapMemory(device driver.Device, memory driver.DeviceMemory, offset, size driver.DeviceSize) ([]byte, error) {
	a := lookup[*allocation](d, uint64(memory))
	if a == nil {
		return nil, errors.Newf("vkMapMemory: unknown memory %d", memory)
	}
	length := size
	if size == driver.WholeSize {
		length = a.size - offset
	}
	var data unsafe.Pointer
	if err := check("vkMapMemory", vk.MapMemory(d.device(device), a.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &data)); err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(data), int(length)), nil
}

func (d *Driver) UnmapMemory(device driver.Device, memory driver.DeviceMemory) {
	vk.UnmapMemory(d.device(device), d.memory(memory))
}

func (d *Driver) mappedRanges(ranges []driver.MappedMemoryRange) []vk.MappedMemoryRange {
	out := make([]vk.MappedMemoryRange, len(ranges))
	for i, r := range ranges {
		out[i] = vk.MappedMemoryRange{
			SType:  vk.StructureTypeMappedMemoryRange,
			Memory: d.memory(r.Memory),
			Offset: vk.DeviceSize(r.Offset),
			Size:   vk.DeviceSize(r.Size),
		}
	}
	return out
}

func (d *Driver) FlushMappedMemoryRanges(device driver.Device, ranges []driver.MappedMemoryRange) error {
	vr := d.mappedRanges(ranges)
	return check("vkFlushMappedMemoryRanges", vk.FlushMappedMemoryRanges(d.device(device), uint32(len(vr)), vr))
}

func (d *Driver) InvalidateMappedMemoryRanges(device driver.Device, ranges []driver.MappedMemoryRange) error {
	vr := d.mappedRanges(ranges)
	return check("vkInvalidateMappedMemoryRanges", vk.InvalidateMappedMemoryRanges(d.device(device), uint32(len(vr)), vr))
}

func (d *Driver) GetDeviceMemoryCommitment(device driver.Device, memory driver.DeviceMemory) driver.DeviceSize {
	var committed vk.DeviceSize
	vk.GetDeviceMemoryCommitment(d.device(device), d.memory(memory), &committed)
	return driver.DeviceSize(committed)
}
