package probe

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

// Snapshot is the immutable result of probing. It is built once and lent to
// every component by pointer; nothing writes to it afterwards.
type Snapshot struct {
	PhysicalDevice driver.PhysicalDevice
	Properties     driver.PhysicalDeviceProperties
	Features       driver.PhysicalDeviceFeatures
	QueueFamilies  []driver.QueueFamilyProperties
	Memory         driver.MemoryProperties

	PrimaryFamily     uint32
	PrimaryQueueCount uint32
	TransferFamily    uint32
	PresentFamily     uint32
	Presenting        bool

	SurfaceFormat       driver.SurfaceFormat
	PresentMode         driver.PresentMode
	SurfaceCapabilities driver.SurfaceCapabilities

	ImageFormatLimits driver.ImageFormatProperties
	Sparse            []driver.SparseImageFormatProperties

	memoryTypes map[MemoryUsage]uint32
}

// MemoryType returns the index resolved for u.
func (s *Snapshot) MemoryType(u MemoryUsage) (uint32, bool) {
	idx, ok := s.memoryTypes[u]
	return idx, ok
}

// FindMemoryType returns the first type allowed by typeBits whose property
// flags contain flags.
func (s *Snapshot) FindMemoryType(typeBits uint32, flags driver.MemoryPropertyFlags) (uint32, error) {
	return findMemoryType(s.Memory, typeBits, flags)
}

func (s *Snapshot) SparseSupported() bool {
	return len(s.Sparse) > 0
}

func (s *Snapshot) NonCoherentAtomSize() driver.DeviceSize {
	return s.Properties.Limits.NonCoherentAtomSize
}

// Families lists the distinct queue families the device must be created with.
func (s *Snapshot) Families() []uint32 {
	out := []uint32{s.PrimaryFamily}
	for _, f := range []uint32{s.TransferFamily, s.PresentFamily} {
		dup := false
		for _, o := range out {
			dup = dup || o == f
		}
		if !dup {
			out = append(out, f)
		}
	}
	return out
}

func findMemoryType(props driver.MemoryProperties, typeBits uint32, flags driver.MemoryPropertyFlags) (uint32, error) {
	for i, t := range props.Types {
		if typeBits&(1<<i) != 0 && t.PropertyFlags&flags == flags {
			return uint32(i), nil
		}
	}
	return 0, errors.Mark(errors.Newf("no memory type with %s among 0x%x", flags, typeBits), core.ErrNoMemoryType)
}
