package resources

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
)

// Map maps the whole allocation once; later calls return the same bytes.
func (f *Factory) Map(mem *Memory) ([]byte, error) {
	if !mem.HostVisible() {
		return nil, core.Violation(core.ErrInvalidState, "%s is not host visible", mem)
	}
	mem.mu.Lock()
	mapped, released := mem.mapped, mem.released
	mem.mu.Unlock()
	if released {
		return nil, core.Violation(core.ErrInvalidState, "%s was freed", mem)
	}
	if mapped != nil {
		return mapped, nil
	}

	var data []byte
	err := f.h.Locks.SafeCall(handles.MemoryManagement, func() error {
		var err error
		data, err = f.h.Driver.MapMemory(f.h.Device, mem.Handle, 0, driver.WholeSize)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to map %s", mem)
	}
	mem.mu.Lock()
	mem.mapped = data
	mem.mu.Unlock()
	return data, nil
}

// MapAndWrite fills [offset, offset+size) with pattern repeated. Writes to
// non-coherent memory stay pending until Flush.
func (f *Factory) MapAndWrite(mem *Memory, offset, size driver.DeviceSize, pattern []byte) error {
	if len(pattern) == 0 {
		return errors.New("empty write pattern")
	}
	if size == driver.WholeSize {
		size = mem.Size - offset
	}
	if offset+size > mem.Size {
		return core.Violation(core.ErrInvalidState, "write of %d bytes at offset %d overflows %s", size, offset, mem)
	}
	data, err := f.Map(mem)
	if err != nil {
		return err
	}
	dst := data[offset : offset+size]
	for i := 0; i < len(dst); i += len(pattern) {
		copy(dst[i:], pattern)
	}
	mem.mu.Lock()
	mem.markDirty(offset, size)
	mem.mu.Unlock()
	return nil
}

// Flush makes host writes to the whole allocation visible to the device.
func (f *Factory) Flush(mem *Memory) error {
	return f.FlushRange(mem, 0, driver.WholeSize)
}

// FlushRange flushes a sub-range, widened to the device's non-coherent atom.
// Flushing coherent memory is a no-op.
func (f *Factory) FlushRange(mem *Memory, offset, size driver.DeviceSize) error {
	if mem.Coherent() {
		return nil
	}
	if !mem.Mapped() {
		return core.Violation(core.ErrInvalidState, "flush of %s which is not mapped", mem)
	}
	start, length := atomRange(offset, size, f.snap.NonCoherentAtomSize(), mem.Size)
	err := f.h.Locks.SafeCall(handles.MemoryManagement, func() error {
		return f.h.Driver.FlushMappedMemoryRanges(f.h.Device, []driver.MappedMemoryRange{{Memory: mem.Handle, Offset: start, Size: length}})
	})
	if err != nil {
		return errors.Wrapf(err, "failed to flush %s", mem)
	}
	mem.mu.Lock()
	mem.clearDirty(start, start+length)
	mem.mu.Unlock()
	return nil
}

// Invalidate makes device writes to the whole allocation visible to the host.
func (f *Factory) Invalidate(mem *Memory) error {
	if mem.Coherent() {
		return nil
	}
	if !mem.Mapped() {
		return core.Violation(core.ErrInvalidState, "invalidate of %s which is not mapped", mem)
	}
	start, length := atomRange(0, driver.WholeSize, f.snap.NonCoherentAtomSize(), mem.Size)
	err := f.h.Locks.SafeCall(handles.MemoryManagement, func() error {
		return f.h.Driver.InvalidateMappedMemoryRanges(f.h.Device, []driver.MappedMemoryRange{{Memory: mem.Handle, Offset: start, Size: length}})
	})
	return errors.Wrapf(err, "failed to invalidate %s", mem)
}

// Read copies size bytes at offset out of the allocation, invalidating
// non-coherent memory first.
func (f *Factory) Read(mem *Memory, offset, size driver.DeviceSize) ([]byte, error) {
	if offset+size > mem.Size {
		return nil, core.Violation(core.ErrInvalidState, "read of %d bytes at offset %d overflows %s", size, offset, mem)
	}
	data, err := f.Map(mem)
	if err != nil {
		return nil, err
	}
	if err := f.Invalidate(mem); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, data[offset:offset+size])
	return out, nil
}

// Unmap refuses to drop a mapping whose writes were never flushed.
func (f *Factory) Unmap(mem *Memory) error {
	if mem.Dirty() {
		return core.Violation(core.ErrUnflushedWrites, "%s unmapped with unflushed writes", mem)
	}
	if !mem.Mapped() {
		return nil
	}
	_ = f.h.Locks.SafeCall(handles.MemoryManagement, func() error {
		f.h.Driver.UnmapMemory(f.h.Device, mem.Handle)
		return nil
	})
	mem.mu.Lock()
	mem.mapped = nil
	mem.mu.Unlock()
	return nil
}
