package soft

import (
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

const (
	sparseTileSize  driver.DeviceSize = 64 << 10
	bufferAlignment driver.DeviceSize = 256
	imageAlignment  driver.DeviceSize = 4096
)

type buffer struct {
	*object
	info   driver.BufferCreateInfo
	memory *memory
	offset driver.DeviceSize
}

type image struct {
	*object
	info      driver.ImageCreateInfo
	memory    *memory
	offset    driver.DeviceSize
	swapchain bool
	acquired  bool
	layout    driver.ImageLayout
}

func (i *image) sparse() bool {
	return i.info.Flags&driver.ImageCreateSparseResidencyBit != 0
}

// usable reports whether commands may reference the image.
func (i *image) usable() bool {
	return i.swapchain || i.memory != nil
}

type imageView struct {
	*object
	image *image
}

type memory struct {
	*object
	dev    *device
	info   driver.MemoryAllocateInfo
	typ    driver.MemoryType
	data   []byte
	shadow []byte // host copy of non-coherent memory
	mapped bool
}

func (m *memory) coherent() bool {
	return m.typ.PropertyFlags&driver.MemoryPropertyHostCoherentBit != 0
}

func (m *memory) hostVisible() bool {
	return m.typ.PropertyFlags&driver.MemoryPropertyHostVisibleBit != 0
}

func alignUp(v, a driver.DeviceSize) driver.DeviceSize {
	if a == 0 {
		return v
	}
	return (v + a - 1) / a * a
}

func mipCount(w, h uint32) uint32 {
	n := uint32(1)
	for m := max(w, h); m > 1; m >>= 1 {
		n++
	}
	return n
}

func levelSize(info driver.ImageCreateInfo, level uint32) driver.DeviceSize {
	w := max(info.Extent.Width>>level, 1)
	h := max(info.Extent.Height>>level, 1)
	return driver.DeviceSize(w) * driver.DeviceSize(h) * driver.DeviceSize(info.Format.BytesPerTexel())
}

func imageSize(info driver.ImageCreateInfo) driver.DeviceSize {
	var total driver.DeviceSize
	for l := uint32(0); l < max(info.MipLevels, 1); l++ {
		total += levelSize(info, l)
	}
	return total * driver.DeviceSize(max(info.ArrayLayers, 1))
}

// granularity is the texel extent of one 64 KiB sparse tile.
func granularity(format driver.Format) driver.Extent3D {
	switch format.BytesPerTexel() {
	case 1:
		return driver.Extent3D{Width: 256, Height: 256, Depth: 1}
	case 2:
		return driver.Extent3D{Width: 256, Height: 128, Depth: 1}
	case 8:
		return driver.Extent3D{Width: 128, Height: 64, Depth: 1}
	case 16:
		return driver.Extent3D{Width: 64, Height: 64, Depth: 1}
	}
	return driver.Extent3D{Width: 128, Height: 128, Depth: 1}
}

func sparseFormatProperties(format driver.Format, flags driver.SparseImageFormatFlags) []driver.SparseImageFormatProperties {
	var out []driver.SparseImageFormatProperties
	aspects := format.Aspect()
	for _, bit := range []driver.ImageAspectFlags{driver.ImageAspectColorBit, driver.ImageAspectDepthBit, driver.ImageAspectStencilBit, driver.ImageAspectMetadataBit} {
		if aspects&bit == 0 {
			continue
		}
		out = append(out, driver.SparseImageFormatProperties{
			AspectMask:       bit,
			ImageGranularity: granularity(format),
			Flags:            flags,
		})
	}
	return out
}

func (d *Driver) CreateBuffer(h driver.Device, info driver.BufferCreateInfo, cb *hostalloc.Adapter) (driver.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.device(h); !ok {
		return 0, driver.Check("vkCreateBuffer", driver.ErrorInitializationFailed)
	}
	if info.Size == 0 || info.Usage == 0 {
		d.violate("buffer created with size %d usage 0x%x", info.Size, uint32(info.Usage))
		return 0, driver.Check("vkCreateBuffer", driver.ErrorValidationFailed)
	}
	o, err := d.track("vkCreateBuffer", "buffer", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &buffer{object: o, info: info}
	return driver.Buffer(o.handle), nil
}

func (d *Driver) DestroyBuffer(_ driver.Device, h driver.Buffer, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*buffer](d, "buffer", uint64(h), cb)
}

func (d *Driver) allTypes(dev *device) uint32 {
	return uint32(1)<<len(dev.pd.cfg.Memory.Types) - 1
}

func (d *Driver) GetBufferMemoryRequirements(h driver.Device, b driver.Buffer) driver.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.device(h)
	buf, found := lookup[*buffer](d, uint64(b))
	if !ok || !found {
		d.violate("memory requirements of unknown buffer 0x%x", uint64(b))
		return driver.MemoryRequirements{}
	}
	return driver.MemoryRequirements{
		Size:           alignUp(buf.info.Size, bufferAlignment),
		Alignment:      bufferAlignment,
		MemoryTypeBits: d.allTypes(dev),
	}
}

func (d *Driver) BindBufferMemory(_ driver.Device, b driver.Buffer, m driver.DeviceMemory, offset driver.DeviceSize) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := lookup[*buffer](d, uint64(b))
	mem, found := lookup[*memory](d, uint64(m))
	switch {
	case !ok || !found:
		d.violate("bind of unknown buffer 0x%x or memory 0x%x", uint64(b), uint64(m))
	case buf.memory != nil:
		d.violate("buffer 0x%x bound twice", uint64(b))
	case offset%bufferAlignment != 0:
		d.violate("buffer 0x%x bound at unaligned offset %d", uint64(b), offset)
	case offset+alignUp(buf.info.Size, bufferAlignment) > mem.info.Size:
		d.violate("buffer 0x%x does not fit memory 0x%x at offset %d", uint64(b), uint64(m), offset)
	default:
		if err := d.injected("vkBindBufferMemory"); err != nil {
			return err
		}
		buf.memory, buf.offset = mem, offset
		return nil
	}
	return driver.Check("vkBindBufferMemory", driver.ErrorValidationFailed)
}

func (d *Driver) CreateImage(h driver.Device, info driver.ImageCreateInfo, cb *hostalloc.Adapter) (driver.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.device(h)
	if !ok {
		return 0, driver.Check("vkCreateImage", driver.ErrorInitializationFailed)
	}
	cfg := dev.pd.cfg
	if _, ok := cfg.Formats[info.Format]; !ok {
		return 0, driver.Check("vkCreateImage", driver.ErrorFormatNotSupported)
	}
	if info.Extent.Width == 0 || info.Extent.Height == 0 || info.MipLevels == 0 || info.ArrayLayers == 0 ||
		info.MipLevels > mipCount(info.Extent.Width, info.Extent.Height) {
		d.violate("image created with extent %dx%d mips %d layers %d", info.Extent.Width, info.Extent.Height, info.MipLevels, info.ArrayLayers)
		return 0, driver.Check("vkCreateImage", driver.ErrorValidationFailed)
	}
	if info.Flags&driver.ImageCreateSparseResidencyBit != 0 && !cfg.Features.SparseResidencyImage2D {
		return 0, driver.Check("vkCreateImage", driver.ErrorFeatureNotPresent)
	}
	o, err := d.track("vkCreateImage", "image", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &image{object: o, info: info, layout: info.InitialLayout}
	return driver.Image(o.handle), nil
}

func (d *Driver) DestroyImage(_ driver.Device, h driver.Image, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := lookup[*image](d, uint64(h)); ok && img.swapchain {
		d.violate("swapchain image 0x%x destroyed by the application", uint64(h))
		return
	}
	destroy[*image](d, "image", uint64(h), cb)
}

func (d *Driver) GetImageMemoryRequirements(h driver.Device, i driver.Image) driver.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.device(h)
	img, found := lookup[*image](d, uint64(i))
	if !ok || !found {
		d.violate("memory requirements of unknown image 0x%x", uint64(i))
		return driver.MemoryRequirements{}
	}
	align := imageAlignment
	if img.sparse() {
		align = sparseTileSize
	}
	bits := d.allTypes(dev)
	if img.info.Tiling == driver.ImageTilingOptimal {
		bits = 0
		for idx, t := range dev.pd.cfg.Memory.Types {
			if t.PropertyFlags&driver.MemoryPropertyDeviceLocalBit != 0 {
				bits |= 1 << idx
			}
		}
		if mask := dev.pd.cfg.ImageMemoryTypes; mask != 0 {
			bits &= mask
		}
	}
	return driver.MemoryRequirements{
		Size:           alignUp(imageSize(img.info), align),
		Alignment:      align,
		MemoryTypeBits: bits,
	}
}

func (d *Driver) GetImageSparseMemoryRequirements(h driver.Device, i driver.Image) []driver.SparseImageMemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.device(h)
	img, found := lookup[*image](d, uint64(i))
	if !ok || !found || !img.sparse() {
		return nil
	}
	flags := dev.pd.cfg.SparseFlags
	if img.info.ArrayLayers == 1 {
		flags |= driver.SparseImageFormatSingleMiptailBit
	}
	var out []driver.SparseImageMemoryRequirements
	for _, props := range sparseFormatProperties(img.info.Format, flags) {
		gran := props.ImageGranularity
		first := uint32(0)
		var body driver.DeviceSize
		for ; first < img.info.MipLevels; first++ {
			w, hgt := img.info.Extent.Width>>first, img.info.Extent.Height>>first
			if w < gran.Width || hgt < gran.Height {
				break
			}
			tiles := driver.DeviceSize((w+gran.Width-1)/gran.Width) * driver.DeviceSize((hgt+gran.Height-1)/gran.Height)
			body += tiles * sparseTileSize
		}
		var tail driver.DeviceSize
		for l := first; l < img.info.MipLevels; l++ {
			tail += levelSize(img.info, l)
		}
		tail = alignUp(tail, sparseTileSize)
		req := driver.SparseImageMemoryRequirements{
			FormatProperties: props,
			MipTailFirstLod:  first,
			MipTailSize:      tail,
			MipTailOffset:    body,
		}
		if flags&driver.SparseImageFormatSingleMiptailBit == 0 {
			req.MipTailStride = body + tail
		}
		out = append(out, req)
	}
	return out
}

func (d *Driver) BindImageMemory(_ driver.Device, i driver.Image, m driver.DeviceMemory, offset driver.DeviceSize) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := lookup[*image](d, uint64(i))
	mem, found := lookup[*memory](d, uint64(m))
	switch {
	case !ok || !found:
		d.violate("bind of unknown image 0x%x or memory 0x%x", uint64(i), uint64(m))
	case img.memory != nil || img.swapchain:
		d.violate("image 0x%x bound twice", uint64(i))
	case img.sparse():
		d.violate("sparse image 0x%x bound with vkBindImageMemory", uint64(i))
	case offset%imageAlignment != 0:
		d.violate("image 0x%x bound at unaligned offset %d", uint64(i), offset)
	case offset+alignUp(imageSize(img.info), imageAlignment) > mem.info.Size:
		d.violate("image 0x%x does not fit memory 0x%x at offset %d", uint64(i), uint64(m), offset)
	default:
		if err := d.injected("vkBindImageMemory"); err != nil {
			return err
		}
		img.memory, img.offset = mem, offset
		return nil
	}
	return driver.Check("vkBindImageMemory", driver.ErrorValidationFailed)
}

func (d *Driver) CreateImageView(h driver.Device, info driver.ImageViewCreateInfo, cb *hostalloc.Adapter) (driver.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := lookup[*image](d, uint64(info.Image))
	if !ok {
		d.violate("view of unknown image 0x%x", uint64(info.Image))
		return 0, driver.Check("vkCreateImageView", driver.ErrorValidationFailed)
	}
	if !img.usable() {
		d.violate("view of image 0x%x created before its memory was bound", uint64(info.Image))
		return 0, driver.Check("vkCreateImageView", driver.ErrorValidationFailed)
	}
	o, err := d.track("vkCreateImageView", "image_view", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &imageView{object: o, image: img}
	return driver.ImageView(o.handle), nil
}

func (d *Driver) DestroyImageView(_ driver.Device, h driver.ImageView, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*imageView](d, "image_view", uint64(h), cb)
}

func (d *Driver) AllocateMemory(h driver.Device, info driver.MemoryAllocateInfo, cb *hostalloc.Adapter) (driver.DeviceMemory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.device(h)
	if !ok {
		return 0, driver.Check("vkAllocateMemory", driver.ErrorInitializationFailed)
	}
	types := dev.pd.cfg.Memory.Types
	if int(info.MemoryTypeIndex) >= len(types) || info.Size == 0 {
		d.violate("allocation of %d bytes from memory type %d", info.Size, info.MemoryTypeIndex)
		return 0, driver.Check("vkAllocateMemory", driver.ErrorValidationFailed)
	}
	typ := types[info.MemoryTypeIndex]
	heap := dev.pd.cfg.Memory.Heaps[typ.HeapIndex]
	if dev.heapUsed[typ.HeapIndex]+info.Size > heap.Size {
		return 0, driver.Check("vkAllocateMemory", driver.ErrorOutOfDeviceMemory)
	}
	o, err := d.track("vkAllocateMemory", "memory", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	dev.heapUsed[typ.HeapIndex] += info.Size
	mem := &memory{object: o, dev: dev, info: info, typ: typ, data: make([]byte, info.Size)}
	if mem.hostVisible() && !mem.coherent() {
		mem.shadow = make([]byte, info.Size)
	}
	d.objects[o.handle] = mem
	return driver.DeviceMemory(o.handle), nil
}

func (d *Driver) FreeMemory(_ driver.Device, h driver.DeviceMemory, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := destroy[*memory](d, "memory", uint64(h), cb)
	if !ok {
		return
	}
	mem.dev.heapUsed[mem.typ.HeapIndex] -= mem.info.Size
	// Resources may outlive their memory but can no longer be used.
	for _, o := range d.objects {
		switch r := o.(type) {
		case *buffer:
			if r.memory == mem {
				r.memory = nil
			}
		case *image:
			if r.memory == mem {
				r.memory = nil
			}
		}
	}
}

func (d *Driver) memoryRange(op string, m driver.DeviceMemory, offset, size driver.DeviceSize) (*memory, driver.DeviceSize, error) {
	mem, ok := lookup[*memory](d, uint64(m))
	if !ok {
		d.violate("%s on unknown memory 0x%x", op, uint64(m))
		return nil, 0, driver.Check(op, driver.ErrorValidationFailed)
	}
	if size == driver.WholeSize {
		size = mem.info.Size - offset
	}
	if offset > mem.info.Size || offset+size > mem.info.Size {
		d.violate("%s range %d+%d outside memory 0x%x of %d bytes", op, offset, size, uint64(m), mem.info.Size)
		return nil, 0, driver.Check(op, driver.ErrorValidationFailed)
	}
	return mem, size, nil
}

// MapMemory returns the device bytes for coherent memory and the host shadow
// otherwise, so unflushed writes stay invisible to the device.
func (d *Driver) MapMemory(_ driver.Device, m driver.DeviceMemory, offset, size driver.DeviceSize) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, size, err := d.memoryRange("vkMapMemory", m, offset, size)
	if err != nil {
		return nil, err
	}
	if !mem.hostVisible() || mem.mapped {
		return nil, driver.Check("vkMapMemory", driver.ErrorMemoryMapFailed)
	}
	if err := d.injected("vkMapMemory"); err != nil {
		return nil, err
	}
	mem.mapped = true
	src := mem.data
	if mem.shadow != nil {
		src = mem.shadow
	}
	return src[offset : offset+size : offset+size], nil
}

func (d *Driver) UnmapMemory(_ driver.Device, m driver.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := lookup[*memory](d, uint64(m))
	if !ok || !mem.mapped {
		d.violate("unmap of memory 0x%x that is not mapped", uint64(m))
		return
	}
	mem.mapped = false
}

func (d *Driver) syncRanges(op string, ranges []driver.MappedMemoryRange, toDevice bool) error {
	for _, r := range ranges {
		mem, size, err := d.memoryRange(op, r.Memory, r.Offset, r.Size)
		if err != nil {
			return err
		}
		if !mem.mapped {
			d.violate("%s on memory 0x%x that is not mapped", op, uint64(r.Memory))
			return driver.Check(op, driver.ErrorValidationFailed)
		}
		if mem.shadow == nil {
			continue
		}
		atom := mem.dev.pd.cfg.Properties.Limits.NonCoherentAtomSize
		end := r.Offset + size
		if atom > 0 && (r.Offset%atom != 0 || (end%atom != 0 && end != mem.info.Size)) {
			d.violate("%s range %d+%d not aligned to the non-coherent atom %d", op, r.Offset, size, atom)
			return driver.Check(op, driver.ErrorValidationFailed)
		}
		if toDevice {
			copy(mem.data[r.Offset:end], mem.shadow[r.Offset:end])
		} else {
			copy(mem.shadow[r.Offset:end], mem.data[r.Offset:end])
		}
	}
	return nil
}

func (d *Driver) FlushMappedMemoryRanges(_ driver.Device, ranges []driver.MappedMemoryRange) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncRanges("vkFlushMappedMemoryRanges", ranges, true)
}

func (d *Driver) InvalidateMappedMemoryRanges(_ driver.Device, ranges []driver.MappedMemoryRange) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncRanges("vkInvalidateMappedMemoryRanges", ranges, false)
}

func (d *Driver) GetDeviceMemoryCommitment(_ driver.Device, m driver.DeviceMemory) driver.DeviceSize {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := lookup[*memory](d, uint64(m))
	if !ok {
		d.violate("commitment of unknown memory 0x%x", uint64(m))
		return 0
	}
	if mem.typ.PropertyFlags&driver.MemoryPropertyLazilyAllocatedBit != 0 {
		return 0
	}
	return mem.info.Size
}
