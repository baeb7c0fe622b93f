package resources

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
)

// Factory creates resources on the device described by h and snap. Every
// driver call runs under the lock of the handle kind it touches; logging and
// bookkeeping happen outside the lock.
type Factory struct {
	h    *handles.Set
	snap *probe.Snapshot
}

func NewFactory(h *handles.Set, snap *probe.Snapshot) *Factory {
	return &Factory{h: h, snap: snap}
}

func (f *Factory) CreateBuffer(name string, size driver.DeviceSize, usage driver.BufferUsageFlags) (*Buffer, error) {
	if size == 0 {
		return nil, errors.Newf("buffer %q: size must be greater than zero", name)
	}
	if usage == 0 {
		return nil, errors.Newf("buffer %q: no usage flags", name)
	}

	info := driver.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: driver.SharingModeExclusive,
	}
	b := &Buffer{ID: uuid.New(), Name: name, Size: size, Usage: usage}
	err := f.h.Locks.SafeCall(handles.BufferManagement, func() error {
		handle, err := f.h.Driver.CreateBuffer(f.h.Device, info, f.h.CB(hostalloc.BufferCreation))
		if err != nil {
			return err
		}
		b.Handle = handle
		b.Requirements = f.h.Driver.GetBufferMemoryRequirements(f.h.Device, handle)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create buffer %q", name)
	}
	core.LogDebug("created %s, requires %d bytes aligned to %d (types 0x%x)", b, b.Requirements.Size, b.Requirements.Alignment, b.Requirements.MemoryTypeBits)
	return b, nil
}

func (f *Factory) DestroyBuffer(b *Buffer) {
	if b == nil || b.Handle == 0 {
		return
	}
	_ = f.h.Locks.SafeCall(handles.BufferManagement, func() error {
		f.h.Driver.DestroyBuffer(f.h.Device, b.Handle, f.h.CB(hostalloc.BufferDestruction))
		return nil
	})
	b.Handle = 0
	b.memory = nil
}

func (f *Factory) imageInfo(desc ImageDesc, flags driver.ImageCreateFlags) driver.ImageCreateInfo {
	return driver.ImageCreateInfo{
		Flags:         flags,
		Type:          driver.ImageType2D,
		Format:        desc.Format,
		Extent:        driver.Extent3D{Width: desc.Width, Height: desc.Height, Depth: 1},
		MipLevels:     max(desc.MipLevels, 1),
		ArrayLayers:   max(desc.ArrayLayers, 1),
		Samples:       1,
		Tiling:        desc.Tiling,
		Usage:         desc.Usage,
		SharingMode:   driver.SharingModeExclusive,
		InitialLayout: driver.ImageLayoutUndefined,
	}
}

// checkImage validates the create info against what the device reports for
// the format.
func (f *Factory) checkImage(name string, info driver.ImageCreateInfo) error {
	limits, err := f.h.Driver.GetPhysicalDeviceImageFormatProperties(f.snap.PhysicalDevice, driver.ImageFormatQuery{
		Format: info.Format,
		Type:   info.Type,
		Tiling: info.Tiling,
		Usage:  info.Usage,
		Flags:  info.Flags,
	})
	if err != nil {
		return errors.Wrapf(err, "image %q: format %s is not supported for this usage", name, info.Format)
	}
	switch {
	case info.Extent.Width == 0 || info.Extent.Height == 0:
		return errors.Newf("image %q: empty extent %dx%d", name, info.Extent.Width, info.Extent.Height)
	case info.Extent.Width > limits.MaxExtent.Width || info.Extent.Height > limits.MaxExtent.Height:
		return errors.Newf("image %q: extent %dx%d exceeds %dx%d", name, info.Extent.Width, info.Extent.Height, limits.MaxExtent.Width, limits.MaxExtent.Height)
	case info.MipLevels > limits.MaxMipLevels:
		return errors.Newf("image %q: %d mip levels exceed %d", name, info.MipLevels, limits.MaxMipLevels)
	case info.ArrayLayers > limits.MaxArrayLayers:
		return errors.Newf("image %q: %d array layers exceed %d", name, info.ArrayLayers, limits.MaxArrayLayers)
	}
	return nil
}

func (f *Factory) createImage(name string, info driver.ImageCreateInfo, category hostalloc.Category) (*Image, error) {
	if err := f.checkImage(name, info); err != nil {
		return nil, err
	}
	img := &Image{ID: uuid.New(), Name: name, Info: info}
	err := f.h.Locks.SafeCall(handles.ImageManagement, func() error {
		handle, err := f.h.Driver.CreateImage(f.h.Device, info, f.h.CB(category))
		if err != nil {
			return err
		}
		img.Handle = handle
		img.Requirements = f.h.Driver.GetImageMemoryRequirements(f.h.Device, handle)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create image %q", name)
	}
	return img, nil
}

func (f *Factory) CreateImage(name string, desc ImageDesc) (*Image, error) {
	img, err := f.createImage(name, f.imageInfo(desc, 0), hostalloc.ImageCreation)
	if err != nil {
		return nil, err
	}
	core.LogDebug("created %s, requires %d bytes aligned to %d (types 0x%x)", img, img.Requirements.Size, img.Requirements.Alignment, img.Requirements.MemoryTypeBits)
	return img, nil
}

// CreateSparseImage creates a partially resident image and reads back the
// sparse requirements of every aspect the driver reports.
func (f *Factory) CreateSparseImage(name string, desc ImageDesc) (*Image, error) {
	if !f.snap.Features.SparseBinding || !f.snap.Features.SparseResidencyImage2D {
		return nil, errors.Wrapf(core.ErrSparseUnsupported, "image %q", name)
	}
	info := f.imageInfo(desc, driver.ImageCreateSparseBindingBit|driver.ImageCreateSparseResidencyBit)
	img, err := f.createImage(name, info, hostalloc.SparseImageCreation)
	if err != nil {
		return nil, err
	}

	_ = f.h.Locks.SafeCall(handles.ImageManagement, func() error {
		img.Sparse = f.h.Driver.GetImageSparseMemoryRequirements(f.h.Device, img.Handle)
		return nil
	})
	if len(img.Sparse) == 0 {
		f.destroyImage(img, hostalloc.SparseImageDestruction)
		return nil, errors.Wrapf(core.ErrSparseUnsupported, "image %q: driver reported no sparse requirements", name)
	}

	features := f.h.Driver.GetPhysicalDeviceFormatProperties(f.snap.PhysicalDevice, info.Format)
	core.LogInfo("created %s, %d bytes, %d sparse requirement(s)", img, img.Requirements.Size, len(img.Sparse))
	for _, r := range img.Sparse {
		g := r.FormatProperties.ImageGranularity
		core.LogInfo("  aspect %s: granularity %dx%dx%d, flags %s, features %s", r.FormatProperties.AspectMask, g.Width, g.Height, g.Depth, r.FormatProperties.Flags, features.OptimalTiling)
		core.LogInfo("  mip tail: first lod %d, size %d, offset %d, stride %d", r.MipTailFirstLod, r.MipTailSize, r.MipTailOffset, r.MipTailStride)
	}
	return img, nil
}

func (f *Factory) destroyImage(img *Image, category hostalloc.Category) {
	_ = f.h.Locks.SafeCall(handles.ImageManagement, func() error {
		f.h.Driver.DestroyImage(f.h.Device, img.Handle, f.h.CB(category))
		return nil
	})
	img.Handle = 0
	img.memory = nil
}

// DestroyImage releases an application-owned image. Presentable images are
// left to their swapchain.
func (f *Factory) DestroyImage(img *Image) {
	if img == nil || img.Handle == 0 || img.Presentable {
		return
	}
	category := hostalloc.ImageDestruction
	if img.IsSparse() {
		category = hostalloc.SparseImageDestruction
	}
	f.destroyImage(img, category)
}

// AllocateMemory allocates size bytes from the given memory type.
func (f *Factory) AllocateMemory(size driver.DeviceSize, typeIndex uint32) (*Memory, error) {
	if int(typeIndex) >= len(f.snap.Memory.Types) {
		return nil, errors.Wrapf(core.ErrNoMemoryType, "memory type %d out of range", typeIndex)
	}
	mem := &Memory{
		ID:        uuid.New(),
		Size:      size,
		TypeIndex: typeIndex,
		Flags:     f.snap.Memory.Types[typeIndex].PropertyFlags,
	}
	err := f.h.Locks.SafeCall(handles.MemoryManagement, func() error {
		handle, err := f.h.Driver.AllocateMemory(f.h.Device, driver.MemoryAllocateInfo{Size: size, MemoryTypeIndex: typeIndex}, f.h.CB(hostalloc.MemoryAllocation))
		mem.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d bytes of memory type %d", size, typeIndex)
	}
	core.LogDebug("allocated %s, committed %d bytes", mem, f.Commitment(mem))
	return mem, nil
}

func (f *Factory) FreeMemory(mem *Memory) {
	if mem == nil || mem.Handle == 0 {
		return
	}
	_ = f.h.Locks.SafeCall(handles.MemoryManagement, func() error {
		f.h.Driver.FreeMemory(f.h.Device, mem.Handle, f.h.CB(hostalloc.MemoryDeallocation))
		return nil
	})
	mem.mu.Lock()
	mem.Handle = 0
	mem.mapped = nil
	mem.released = true
	mem.mu.Unlock()
}

// Commitment is the number of bytes the driver actually backs, which can be
// lower than the allocation for lazily allocated memory.
func (f *Factory) Commitment(mem *Memory) driver.DeviceSize {
	var committed driver.DeviceSize
	_ = f.h.Locks.SafeCall(handles.MemoryManagement, func() error {
		committed = f.h.Driver.GetDeviceMemoryCommitment(f.h.Device, mem.Handle)
		return nil
	})
	return committed
}

// MemoryTypeFor is the first memory type r accepts that provides u.
func (f *Factory) MemoryTypeFor(r Resource, u probe.MemoryUsage) (uint32, error) {
	req := r.MemoryRequirements()
	idx, err := f.snap.FindMemoryType(req.MemoryTypeBits, u.Flags())
	if err != nil {
		return 0, core.Fatal(err, "%s has no %s memory type among 0x%x", r, u, req.MemoryTypeBits)
	}
	return idx, nil
}

// AllocateAndBindMemory allocates exactly what r requires from the given
// memory type and binds it. The allocation size comes from the driver's
// requirements, not from the size the resource was created with.
func (f *Factory) AllocateAndBindMemory(r Resource, typeIndex uint32) (*Memory, error) {
	req := r.MemoryRequirements()
	if req.MemoryTypeBits&(1<<typeIndex) == 0 {
		return nil, core.Violation(core.ErrIncompatibleMemoryType, "%s cannot live in memory type %d (allowed 0x%x)", r, typeIndex, req.MemoryTypeBits)
	}
	mem, err := f.AllocateMemory(req.Size, typeIndex)
	if err != nil {
		return nil, err
	}
	offset, err := mem.Suballocate(req)
	if err == nil {
		err = r.bindTo(f, mem, offset)
	}
	if err != nil {
		f.FreeMemory(mem)
		return nil, err
	}
	return mem, nil
}

func (f *Factory) checkBind(r Resource, mem *Memory, offset driver.DeviceSize) error {
	req := r.MemoryRequirements()
	switch {
	case r.Bound():
		return core.Violation(core.ErrInvalidState, "%s is already bound", r)
	case mem == nil || mem.freed():
		return core.Violation(core.ErrInvalidState, "%s bound to released memory", r)
	case req.MemoryTypeBits&(1<<mem.TypeIndex) == 0:
		return core.Violation(core.ErrIncompatibleMemoryType, "%s cannot live in memory type %d (allowed 0x%x)", r, mem.TypeIndex, req.MemoryTypeBits)
	case req.Alignment != 0 && offset%req.Alignment != 0:
		return core.Violation(core.ErrInvalidState, "%s bound at offset %d, not a multiple of %d", r, offset, req.Alignment)
	case offset+req.Size > mem.Size:
		return core.Violation(core.ErrInvalidState, "%s needs %d bytes at offset %d, memory has %d", r, req.Size, offset, mem.Size)
	}
	return nil
}

func (f *Factory) BindBufferMemory(b *Buffer, mem *Memory, offset driver.DeviceSize) error {
	if err := f.checkBind(b, mem, offset); err != nil {
		return err
	}
	err := f.h.Locks.SafeCall(handles.BufferManagement, func() error {
		return f.h.Driver.BindBufferMemory(f.h.Device, b.Handle, mem.Handle, offset)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to bind %s", b)
	}
	b.memory, b.offset = mem, offset
	core.LogDebug("bound %s to %s at offset %d", b, mem, offset)
	return nil
}

func (f *Factory) BindImageMemory(img *Image, mem *Memory, offset driver.DeviceSize) error {
	if img.IsSparse() {
		return core.Violation(core.ErrSparseUnsupported, "%s needs sparse binding, not a memory bind", img)
	}
	if img.Presentable {
		return core.Violation(core.ErrInvalidState, "%s is owned by its swapchain", img)
	}
	if err := f.checkBind(img, mem, offset); err != nil {
		return err
	}
	err := f.h.Locks.SafeCall(handles.ImageManagement, func() error {
		return f.h.Driver.BindImageMemory(f.h.Device, img.Handle, mem.Handle, offset)
	})
	if err != nil {
		return errors.Wrapf(err, "failed to bind %s", img)
	}
	img.memory, img.offset = mem, offset
	core.LogDebug("bound %s to %s at offset %d", img, mem, offset)
	return nil
}

// CreateImageView makes a 2D view over every level and layer of img.
func (f *Factory) CreateImageView(img *Image, aspect driver.ImageAspectFlags) (*ImageView, error) {
	if !img.Usable() {
		return nil, core.Violation(core.ErrUnboundResource, "view of %s requested before its memory was bound", img)
	}
	info := driver.ImageViewCreateInfo{
		Image:    img.Handle,
		ViewType: driver.ImageViewType2D,
		Format:   img.Info.Format,
		Range: driver.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: img.Info.MipLevels,
			LayerCount: img.Info.ArrayLayers,
		},
	}
	view := &ImageView{ID: uuid.New(), Image: img, Aspect: aspect}
	err := f.h.Locks.SafeCall(handles.ImageManagement, func() error {
		handle, err := f.h.Driver.CreateImageView(f.h.Device, info, f.h.CB(hostalloc.ImageViewCreation))
		view.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create view of %s", img)
	}
	return view, nil
}

func (f *Factory) DestroyImageView(v *ImageView) {
	if v == nil || v.Handle == 0 {
		return
	}
	_ = f.h.Locks.SafeCall(handles.ImageManagement, func() error {
		f.h.Driver.DestroyImageView(f.h.Device, v.Handle, f.h.CB(hostalloc.ImageViewDestruction))
		return nil
	})
	v.Handle = 0
}
