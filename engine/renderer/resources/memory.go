package resources

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/math"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

// Memory is one device allocation. Resources are placed in it linearly;
// space is only reclaimed by freeing the whole block.
type Memory struct {
	ID        uuid.UUID
	Handle    driver.DeviceMemory
	Size      driver.DeviceSize
	TypeIndex uint32
	Flags     driver.MemoryPropertyFlags

	mu     sync.Mutex
	used   driver.DeviceSize
	mapped []byte
	// Host writes not yet made visible to the device.
	dirtyLo, dirtyHi driver.DeviceSize
	released         bool
}

func (m *Memory) String() string {
	return fmt.Sprintf("memory %s (%d bytes, type %d %s)", m.ID, m.Size, m.TypeIndex, m.Flags)
}

func (m *Memory) HostVisible() bool {
	return m.Flags&driver.MemoryPropertyHostVisibleBit != 0
}

func (m *Memory) Coherent() bool {
	return m.Flags&driver.MemoryPropertyHostCoherentBit != 0
}

func (m *Memory) Mapped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mapped != nil
}

// Dirty reports whether host writes are waiting for a flush.
func (m *Memory) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirtyHi > m.dirtyLo
}

func (m *Memory) Used() driver.DeviceSize {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *Memory) freed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Suballocate reserves room for a resource with the given requirements and
// returns its offset.
func (m *Memory) Suballocate(req driver.MemoryRequirements) (driver.DeviceSize, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.MemoryTypeBits&(1<<m.TypeIndex) == 0 {
		return 0, core.Violation(core.ErrIncompatibleMemoryType, "memory type %d is not in the allowed set 0x%x", m.TypeIndex, req.MemoryTypeBits)
	}
	offset := math.AlignUp(m.used, req.Alignment)
	if offset+req.Size > m.Size {
		return 0, errors.Newf("%d bytes at offset %d do not fit in %d bytes of memory", req.Size, offset, m.Size)
	}
	m.used = offset + req.Size
	return offset, nil
}

func (m *Memory) markDirty(offset, size driver.DeviceSize) {
	if m.Coherent() {
		return
	}
	if m.dirtyHi <= m.dirtyLo {
		m.dirtyLo, m.dirtyHi = offset, offset+size
		return
	}
	m.dirtyLo = min(m.dirtyLo, offset)
	m.dirtyHi = max(m.dirtyHi, offset+size)
}

func (m *Memory) clearDirty(offset, end driver.DeviceSize) {
	if offset <= m.dirtyLo && end >= m.dirtyHi {
		m.dirtyLo, m.dirtyHi = 0, 0
	}
}

// atomRange widens [offset, offset+size) to the non-coherent atom and clamps
// the end to the allocation.
func atomRange(offset, size, atom, total driver.DeviceSize) (driver.DeviceSize, driver.DeviceSize) {
	if size == driver.WholeSize {
		size = total - offset
	}
	start := math.AlignDown(offset, atom)
	end := math.Clamp(math.AlignUp(offset+size, atom), start, total)
	return start, end - start
}
