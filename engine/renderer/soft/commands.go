package soft

import (
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

type cmdState int

const (
	cmdInitial cmdState = iota
	cmdRecording
	cmdExecutable
	cmdInvalid
)

type commandPool struct {
	*object
	family  uint32
	flags   driver.CommandPoolCreateFlags
	buffers map[driver.CommandBuffer]*commandBuffer
}

type commandBuffer struct {
	pool  *commandPool
	state cmdState
	usage driver.CommandBufferUsageFlags
	ops   []op
}

type op func(r *replay) error

// replay is the queue state while one command buffer executes.
type replay struct {
	d         *Driver
	pipelines map[driver.PipelineBindPoint]*pipeline
	sets      map[uint32]*descriptorSet
	push      []byte
	pass      *framebuffer
}

func (d *Driver) CreateCommandPool(h driver.Device, family uint32, flags driver.CommandPoolCreateFlags, cb *hostalloc.Adapter) (driver.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.device(h)
	if !ok || int(family) >= len(dev.pd.cfg.QueueFamilies) {
		d.violate("command pool for family %d", family)
		return 0, driver.Check("vkCreateCommandPool", driver.ErrorValidationFailed)
	}
	o, err := d.track("vkCreateCommandPool", "command_pool", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &commandPool{object: o, family: family, flags: flags, buffers: make(map[driver.CommandBuffer]*commandBuffer)}
	return driver.CommandPool(o.handle), nil
}

func (d *Driver) DestroyCommandPool(_ driver.Device, h driver.CommandPool, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := destroy[*commandPool](d, "command_pool", uint64(h), cb)
	if !ok {
		return
	}
	for c := range pool.buffers {
		delete(d.objects, uint64(c))
	}
}

func (d *Driver) AllocateCommandBuffers(_ driver.Device, p driver.CommandPool, count uint32) ([]driver.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := lookup[*commandPool](d, uint64(p))
	if !ok {
		d.violate("allocation from unknown command pool 0x%x", uint64(p))
		return nil, driver.Check("vkAllocateCommandBuffers", driver.ErrorValidationFailed)
	}
	if err := d.injected("vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	out := make([]driver.CommandBuffer, 0, count)
	for i := uint32(0); i < count; i++ {
		h := driver.CommandBuffer(d.handle())
		c := &commandBuffer{pool: pool}
		d.objects[uint64(h)] = c
		pool.buffers[h] = c
		out = append(out, h)
	}
	return out, nil
}

func (d *Driver) FreeCommandBuffers(_ driver.Device, p driver.CommandPool, buffers []driver.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := lookup[*commandPool](d, uint64(p))
	if !ok {
		d.violate("free into unknown command pool 0x%x", uint64(p))
		return
	}
	for _, c := range buffers {
		if _, ok := pool.buffers[c]; !ok {
			d.violate("command buffer 0x%x does not belong to pool 0x%x", uint64(c), uint64(p))
			continue
		}
		delete(pool.buffers, c)
		delete(d.objects, uint64(c))
	}
}

func (d *Driver) commandBuffer(op string, h driver.CommandBuffer) (*commandBuffer, error) {
	c, ok := lookup[*commandBuffer](d, uint64(h))
	if !ok {
		d.violate("%s on unknown command buffer 0x%x", op, uint64(h))
		return nil, driver.Check(op, driver.ErrorValidationFailed)
	}
	return c, nil
}

func (d *Driver) BeginCommandBuffer(h driver.CommandBuffer, usage driver.CommandBufferUsageFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.commandBuffer("vkBeginCommandBuffer", h)
	if err != nil {
		return err
	}
	if c.state == cmdRecording {
		d.violate("command buffer 0x%x begun while recording", uint64(h))
		return driver.Check("vkBeginCommandBuffer", driver.ErrorValidationFailed)
	}
	if c.state != cmdInitial && c.pool.flags&driver.CommandPoolCreateResetCommandBufferBit == 0 {
		d.violate("command buffer 0x%x re-begun from a pool without individual reset", uint64(h))
		return driver.Check("vkBeginCommandBuffer", driver.ErrorValidationFailed)
	}
	c.state, c.usage, c.ops = cmdRecording, usage, nil
	return nil
}

func (d *Driver) EndCommandBuffer(h driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.commandBuffer("vkEndCommandBuffer", h)
	if err != nil {
		return err
	}
	if c.state != cmdRecording {
		d.violate("command buffer 0x%x ended while not recording", uint64(h))
		return driver.Check("vkEndCommandBuffer", driver.ErrorValidationFailed)
	}
	c.state = cmdExecutable
	return nil
}

func (d *Driver) ResetCommandBuffer(h driver.CommandBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.commandBuffer("vkResetCommandBuffer", h)
	if err != nil {
		return err
	}
	if c.pool.flags&driver.CommandPoolCreateResetCommandBufferBit == 0 {
		d.violate("command buffer 0x%x reset from a pool without individual reset", uint64(h))
		return driver.Check("vkResetCommandBuffer", driver.ErrorValidationFailed)
	}
	c.state, c.ops = cmdInitial, nil
	return nil
}

func (d *Driver) record(name string, h driver.CommandBuffer, o op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.commandBuffer(name, h)
	if err != nil {
		return
	}
	if c.state != cmdRecording {
		d.violate("%s recorded into command buffer 0x%x outside recording", name, uint64(h))
		return
	}
	c.ops = append(c.ops, o)
}

func (r *replay) fail(format string, args ...interface{}) error {
	r.d.violate(format, args...)
	return driver.Check("vkQueueSubmit", driver.ErrorValidationFailed)
}

func (d *Driver) CmdBindPipeline(h driver.CommandBuffer, bp driver.PipelineBindPoint, p driver.Pipeline) {
	d.record("vkCmdBindPipeline", h, func(r *replay) error {
		pl, ok := lookup[*pipeline](r.d, uint64(p))
		if !ok || pl.bindPoint != bp {
			return r.fail("bind of pipeline 0x%x at the wrong bind point", uint64(p))
		}
		r.pipelines[bp] = pl
		return nil
	})
}

// complete checks that every layout binding was written with live, bound
// resources.
func (r *replay) complete(s *descriptorSet) error {
	for _, b := range s.layout.bindings {
		w, ok := s.writes[b.Binding]
		if !ok {
			return r.fail("descriptor binding %d used before it was written", b.Binding)
		}
		for _, info := range w.Buffers {
			buf, ok := lookup[*buffer](r.d, uint64(info.Buffer))
			if !ok || buf.memory == nil {
				return r.fail("buffer 0x%x used before its memory was bound", uint64(info.Buffer))
			}
		}
		for _, info := range w.Images {
			v, ok := lookup[*imageView](r.d, uint64(info.View))
			if !ok || !v.image.usable() {
				return r.fail("image view 0x%x used before its memory was bound", uint64(info.View))
			}
		}
	}
	return nil
}

func (d *Driver) CmdBindDescriptorSets(h driver.CommandBuffer, _ driver.PipelineBindPoint, _ driver.PipelineLayout, firstSet uint32, sets []driver.DescriptorSet) {
	sets = append([]driver.DescriptorSet(nil), sets...)
	d.record("vkCmdBindDescriptorSets", h, func(r *replay) error {
		for i, sh := range sets {
			s, ok := lookup[*descriptorSet](r.d, uint64(sh))
			if !ok {
				return r.fail("bind of unknown descriptor set 0x%x", uint64(sh))
			}
			if err := r.complete(s); err != nil {
				return err
			}
			r.sets[firstSet+uint32(i)] = s
		}
		return nil
	})
}

func (d *Driver) CmdPushConstants(h driver.CommandBuffer, _ driver.PipelineLayout, _ driver.ShaderStageFlags, offset uint32, data []byte) {
	data = append([]byte(nil), data...)
	d.record("vkCmdPushConstants", h, func(r *replay) error {
		if int(offset)+len(data) > len(r.push) {
			return r.fail("push constants %d+%d overflow", offset, len(data))
		}
		copy(r.push[offset:], data)
		return nil
	})
}

func (d *Driver) CmdPipelineBarrier(h driver.CommandBuffer, b driver.PipelineBarrier) {
	b.Memory = append([]driver.MemoryBarrier(nil), b.Memory...)
	b.Buffers = append([]driver.BufferMemoryBarrier(nil), b.Buffers...)
	b.Images = append([]driver.ImageMemoryBarrier(nil), b.Images...)
	d.record("vkCmdPipelineBarrier", h, func(r *replay) error {
		if b.SrcStage == 0 || b.DstStage == 0 {
			return r.fail("pipeline barrier with an empty stage mask")
		}
		for _, bb := range b.Buffers {
			buf, ok := lookup[*buffer](r.d, uint64(bb.Buffer))
			if !ok || buf.memory == nil {
				return r.fail("barrier on buffer 0x%x before its memory was bound", uint64(bb.Buffer))
			}
		}
		for _, ib := range b.Images {
			img, ok := lookup[*image](r.d, uint64(ib.Image))
			if !ok || !img.usable() {
				return r.fail("barrier on image 0x%x before its memory was bound", uint64(ib.Image))
			}
			if ib.OldLayout != driver.ImageLayoutUndefined && ib.OldLayout != img.layout {
				return r.fail("image 0x%x transitioned from %s but is in %s", uint64(ib.Image), ib.OldLayout, img.layout)
			}
			img.layout = ib.NewLayout
		}
		r.d.stats.Barriers++
		return nil
	})
}

func (d *Driver) CmdDispatch(h driver.CommandBuffer, x, y, z uint32) {
	d.record("vkCmdDispatch", h, func(r *replay) error {
		p := r.pipelines[driver.PipelineBindPointCompute]
		if p == nil {
			return r.fail("dispatch without a compute pipeline")
		}
		for i := range p.layout.sets {
			if _, ok := r.sets[uint32(i)]; !ok {
				return r.fail("dispatch without descriptor set %d", i)
			}
		}
		inv := &Invocation{Groups: [3]uint32{x, y, z}, Push: r.push, sets: r.sets, d: r.d}
		if err := p.kernel(inv); err != nil {
			return r.fail("compute kernel: %v", err)
		}
		r.d.stats.Dispatches++
		return nil
	})
}

func (d *Driver) CmdClearColorImage(h driver.CommandBuffer, i driver.Image, layout driver.ImageLayout, color driver.ClearColor, ranges []driver.ImageSubresourceRange) {
	d.record("vkCmdClearColorImage", h, func(r *replay) error {
		img, ok := lookup[*image](r.d, uint64(i))
		if !ok || !img.usable() {
			return r.fail("clear of image 0x%x before its memory was bound", uint64(i))
		}
		if layout != img.layout || (layout != driver.ImageLayoutTransferDstOptimal && layout != driver.ImageLayoutGeneral) {
			return r.fail("clear of image 0x%x in layout %s", uint64(i), img.layout)
		}
		r.d.stats.Clears++
		return nil
	})
}

func (d *Driver) CmdBeginRenderPass(h driver.CommandBuffer, info driver.RenderPassBeginInfo) {
	d.record("vkCmdBeginRenderPass", h, func(r *replay) error {
		fb, ok := lookup[*framebuffer](r.d, uint64(info.Framebuffer))
		if !ok || r.pass != nil {
			return r.fail("render pass begun with framebuffer 0x%x", uint64(info.Framebuffer))
		}
		for _, v := range fb.views {
			if !v.image.usable() {
				return r.fail("framebuffer attachment image 0x%x has no memory", v.image.handle)
			}
		}
		r.pass = fb
		return nil
	})
}

func (d *Driver) CmdEndRenderPass(h driver.CommandBuffer) {
	d.record("vkCmdEndRenderPass", h, func(r *replay) error {
		if r.pass == nil {
			return r.fail("render pass ended outside a render pass")
		}
		for i, v := range r.pass.views {
			v.image.layout = r.pass.pass.info.ColorAttachments[i].FinalLayout
		}
		r.pass = nil
		return nil
	})
}

func (d *Driver) CmdDraw(h driver.CommandBuffer, vertexCount, instanceCount, _, _ uint32) {
	d.record("vkCmdDraw", h, func(r *replay) error {
		if r.pass == nil || r.pipelines[driver.PipelineBindPointGraphics] == nil {
			return r.fail("draw outside a render pass or without a graphics pipeline")
		}
		if vertexCount > 0 && instanceCount > 0 {
			r.d.stats.Draws++
		}
		return nil
	})
}
