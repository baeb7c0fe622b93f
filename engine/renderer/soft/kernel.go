package soft

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

// CopyLocalSize is the workgroup width CopyKernel assumes, matching
// shaders/copy.comp.
const CopyLocalSize = 64

// Kernel stands in for a compute shader when a dispatch executes.
type Kernel func(inv *Invocation) error

// Invocation is the state one dispatch sees.
type Invocation struct {
	Groups [3]uint32
	Push   []byte

	sets map[uint32]*descriptorSet
	d    *Driver
}

// StorageBuffer returns the device bytes behind a buffer descriptor.
func (inv *Invocation) StorageBuffer(set, binding uint32) ([]byte, error) {
	s, ok := inv.sets[set]
	if !ok {
		return nil, errors.Newf("descriptor set %d is not bound", set)
	}
	w, ok := s.writes[binding]
	if !ok || len(w.Buffers) == 0 {
		return nil, errors.Newf("binding %d of set %d was never written", binding, set)
	}
	info := w.Buffers[0]
	buf, ok := lookup[*buffer](inv.d, uint64(info.Buffer))
	if !ok {
		return nil, errors.Newf("binding %d of set %d references a destroyed buffer", binding, set)
	}
	if buf.memory == nil {
		return nil, errors.Newf("buffer 0x%x has no memory bound", uint64(info.Buffer))
	}
	size := info.Range
	if size == driver.WholeSize {
		size = buf.info.Size - info.Offset
	}
	start := buf.offset + info.Offset
	return buf.memory.data[start : start+size], nil
}

// CopyKernel copies set 0 binding 0 into set 0 binding 1. The first push
// constant word, when present, is the number of 32-bit elements to copy.
func CopyKernel(inv *Invocation) error {
	src, err := inv.StorageBuffer(0, 0)
	if err != nil {
		return err
	}
	dst, err := inv.StorageBuffer(0, 1)
	if err != nil {
		return err
	}
	n := min(len(src), len(dst))
	if len(inv.Push) >= 4 {
		n = min(n, int(binary.LittleEndian.Uint32(inv.Push))*4)
	}
	n = min(n, int(inv.Groups[0])*CopyLocalSize*4)
	copy(dst[:n], src[:n])
	return nil
}

// CopyShader is a minimal SPIR-V header that soft drivers map to CopyKernel.
func CopyShader() []uint32 {
	return []uint32{spirvMagic, 0x00010000, 0x00080001, 0x0000000a, 0x00000000}
}
