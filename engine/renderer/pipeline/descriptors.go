package pipeline

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
)

func (b *Builder) CreateDescriptorPool(maxSets uint32, sizes []driver.DescriptorPoolSize) (*DescriptorPool, error) {
	if maxSets == 0 {
		return nil, errors.New("descriptor pool must allow at least one set")
	}
	p := &DescriptorPool{MaxSets: maxSets}
	err := b.h.Locks.SafeCall(handles.ResourceManagement, func() error {
		handle, err := b.h.Driver.CreateDescriptorPool(b.h.Device, driver.DescriptorPoolCreateInfo{MaxSets: maxSets, Sizes: sizes}, b.cb())
		p.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create descriptor pool")
	}
	return p, nil
}

// PoolSizesFor counts the descriptors each layout needs, one set per layout.
func PoolSizesFor(layouts ...*SetLayout) []driver.DescriptorPoolSize {
	counts := make(map[driver.DescriptorType]uint32)
	var order []driver.DescriptorType
	for _, l := range layouts {
		for _, bd := range l.Bindings {
			if _, ok := counts[bd.Type]; !ok {
				order = append(order, bd.Type)
			}
			counts[bd.Type] += max(bd.Count, 1)
		}
	}
	out := make([]driver.DescriptorPoolSize, 0, len(order))
	for _, t := range order {
		out = append(out, driver.DescriptorPoolSize{Type: t, Count: counts[t]})
	}
	return out
}

// DestroyDescriptorPool also frees every set allocated from the pool.
func (b *Builder) DestroyDescriptorPool(p *DescriptorPool) {
	if p == nil || p.Handle == 0 {
		return
	}
	_ = b.h.Locks.SafeCall(handles.ResourceManagement, func() error {
		b.h.Driver.DestroyDescriptorPool(b.h.Device, p.Handle, b.cb())
		return nil
	})
	p.Handle = 0
}

func (b *Builder) AllocateDescriptorSet(pool *DescriptorPool, layout *SetLayout) (*DescriptorSet, error) {
	if pool.sets >= pool.MaxSets {
		return nil, errors.Newf("descriptor pool exhausted (%d sets)", pool.MaxSets)
	}
	var sets []driver.DescriptorSet
	err := b.h.Locks.SafeCall(handles.ResourceManagement, func() error {
		var err error
		sets, err = b.h.Driver.AllocateDescriptorSets(b.h.Device, pool.Handle, []driver.DescriptorSetLayout{layout.Handle})
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to allocate descriptor set")
	}
	pool.sets++
	return &DescriptorSet{Handle: sets[0], Layout: layout, written: make(map[uint32]bool)}, nil
}

func (b *Builder) checkSlot(set *DescriptorSet, slot uint32, buffer bool) (Binding, error) {
	bd, ok := set.Layout.binding(slot)
	if !ok {
		return Binding{}, core.Violation(core.ErrInvalidState, "descriptor set has no binding %d", slot)
	}
	if bd.Type.IsBuffer() != buffer {
		return Binding{}, core.Violation(core.ErrInvalidState, "binding %d holds descriptor type %d", slot, bd.Type)
	}
	return bd, nil
}

// WriteBuffer points slot at buf. The buffer must already be bound to
// memory; the write is rejected otherwise.
func (b *Builder) WriteBuffer(set *DescriptorSet, slot uint32, buf *resources.Buffer) error {
	bd, err := b.checkSlot(set, slot, true)
	if err != nil {
		return err
	}
	if !buf.Bound() {
		return core.Violation(core.ErrUnboundResource, "descriptor write of %s before its memory was bound", buf)
	}
	write := driver.WriteDescriptorSet{
		Set:     set.Handle,
		Binding: slot,
		Type:    bd.Type,
		Buffers: []driver.DescriptorBufferInfo{buf.Descriptor()},
	}
	_ = b.h.Locks.SafeCall(handles.ResourceManagement, func() error {
		b.h.Driver.UpdateDescriptorSets(b.h.Device, []driver.WriteDescriptorSet{write})
		return nil
	})
	set.written[slot] = true
	return nil
}

func (b *Builder) WriteImage(set *DescriptorSet, slot uint32, view *resources.ImageView, layout driver.ImageLayout) error {
	bd, err := b.checkSlot(set, slot, false)
	if err != nil {
		return err
	}
	if view == nil || view.Handle == 0 || !view.Image.Usable() {
		return core.Violation(core.ErrUnboundResource, "descriptor write of an image view that is not live")
	}
	write := driver.WriteDescriptorSet{
		Set:     set.Handle,
		Binding: slot,
		Type:    bd.Type,
		Images:  []driver.DescriptorImageInfo{{View: view.Handle, Layout: layout}},
	}
	_ = b.h.Locks.SafeCall(handles.ResourceManagement, func() error {
		b.h.Driver.UpdateDescriptorSets(b.h.Device, []driver.WriteDescriptorSet{write})
		return nil
	})
	set.written[slot] = true
	return nil
}
