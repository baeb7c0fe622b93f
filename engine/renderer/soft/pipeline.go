package soft

import (
	"crypto/sha256"
	"encoding/binary"
	"slices"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

const spirvMagic = 0x07230203

type shaderModule struct {
	*object
	key [32]byte
}

type setLayout struct {
	*object
	bindings []driver.DescriptorSetLayoutBinding
}

func (l *setLayout) binding(slot uint32) (driver.DescriptorSetLayoutBinding, bool) {
	for _, b := range l.bindings {
		if b.Binding == slot {
			return b, true
		}
	}
	return driver.DescriptorSetLayoutBinding{}, false
}

type pipelineLayout struct {
	*object
	sets []*setLayout
	push []driver.PushConstantRange
}

type descriptorPool struct {
	*object
	info driver.DescriptorPoolCreateInfo
	sets []driver.DescriptorSet
}

type descriptorSet struct {
	pool   *descriptorPool
	layout *setLayout
	writes map[uint32]driver.WriteDescriptorSet
}

type pipeline struct {
	*object
	bindPoint driver.PipelineBindPoint
	layout    *pipelineLayout
	kernel    Kernel
}

type renderPass struct {
	*object
	info driver.RenderPassCreateInfo
}

type framebuffer struct {
	*object
	pass  *renderPass
	views []*imageView
}

func spirvKey(code []uint32) [32]byte {
	buf := make([]byte, 4*len(code))
	for i, w := range code {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return sha256.Sum256(buf)
}

// RegisterKernel binds a Go kernel to the SPIR-V words it stands in for.
func (d *Driver) RegisterKernel(code []uint32, k Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[spirvKey(code)] = k
}

func (d *Driver) CreateShaderModule(h driver.Device, code []uint32, cb *hostalloc.Adapter) (driver.ShaderModule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.device(h); !ok {
		return 0, driver.Check("vkCreateShaderModule", driver.ErrorInitializationFailed)
	}
	if len(code) < 5 || code[0] != spirvMagic {
		d.violate("shader module from %d words without a SPIR-V header", len(code))
		return 0, driver.Check("vkCreateShaderModule", driver.ErrorValidationFailed)
	}
	o, err := d.track("vkCreateShaderModule", "shader_module", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &shaderModule{object: o, key: spirvKey(code)}
	return driver.ShaderModule(o.handle), nil
}

func (d *Driver) DestroyShaderModule(_ driver.Device, h driver.ShaderModule, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*shaderModule](d, "shader_module", uint64(h), cb)
}

func (d *Driver) CreateDescriptorSetLayout(h driver.Device, bindings []driver.DescriptorSetLayoutBinding, cb *hostalloc.Adapter) (driver.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[uint32]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.Binding] {
			d.violate("descriptor set layout declares binding %d twice", b.Binding)
			return 0, driver.Check("vkCreateDescriptorSetLayout", driver.ErrorValidationFailed)
		}
		seen[b.Binding] = true
	}
	o, err := d.track("vkCreateDescriptorSetLayout", "descriptor_set_layout", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &setLayout{object: o, bindings: slices.Clone(bindings)}
	return driver.DescriptorSetLayout(o.handle), nil
}

func (d *Driver) DestroyDescriptorSetLayout(_ driver.Device, h driver.DescriptorSetLayout, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*setLayout](d, "descriptor_set_layout", uint64(h), cb)
}

func (d *Driver) CreatePipelineLayout(h driver.Device, info driver.PipelineLayoutCreateInfo, cb *hostalloc.Adapter) (driver.PipelineLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.device(h)
	if !ok {
		return 0, driver.Check("vkCreatePipelineLayout", driver.ErrorInitializationFailed)
	}
	var sets []*setLayout
	for _, s := range info.SetLayouts {
		l, ok := lookup[*setLayout](d, uint64(s))
		if !ok {
			d.violate("pipeline layout references unknown set layout 0x%x", uint64(s))
			return 0, driver.Check("vkCreatePipelineLayout", driver.ErrorValidationFailed)
		}
		sets = append(sets, l)
	}
	limit := dev.pd.cfg.Properties.Limits.MaxPushConstantsSize
	for _, r := range info.PushConstants {
		if r.Offset%4 != 0 || r.Size%4 != 0 || r.Size == 0 || r.Offset+r.Size > limit {
			d.violate("push constant range %d+%d exceeds the %d byte limit", r.Offset, r.Size, limit)
			return 0, driver.Check("vkCreatePipelineLayout", driver.ErrorValidationFailed)
		}
	}
	o, err := d.track("vkCreatePipelineLayout", "pipeline_layout", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &pipelineLayout{object: o, sets: sets, push: slices.Clone(info.PushConstants)}
	return driver.PipelineLayout(o.handle), nil
}

func (d *Driver) DestroyPipelineLayout(_ driver.Device, h driver.PipelineLayout, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*pipelineLayout](d, "pipeline_layout", uint64(h), cb)
}

func (d *Driver) CreateDescriptorPool(h driver.Device, info driver.DescriptorPoolCreateInfo, cb *hostalloc.Adapter) (driver.DescriptorPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info.MaxSets == 0 {
		d.violate("descriptor pool with zero max sets")
		return 0, driver.Check("vkCreateDescriptorPool", driver.ErrorValidationFailed)
	}
	o, err := d.track("vkCreateDescriptorPool", "descriptor_pool", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &descriptorPool{object: o, info: info}
	return driver.DescriptorPool(o.handle), nil
}

func (d *Driver) DestroyDescriptorPool(_ driver.Device, h driver.DescriptorPool, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := destroy[*descriptorPool](d, "descriptor_pool", uint64(h), cb)
	if !ok {
		return
	}
	for _, s := range pool.sets {
		delete(d.objects, uint64(s))
	}
}

func (d *Driver) AllocateDescriptorSets(_ driver.Device, p driver.DescriptorPool, layouts []driver.DescriptorSetLayout) ([]driver.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := lookup[*descriptorPool](d, uint64(p))
	if !ok {
		d.violate("allocation from unknown descriptor pool 0x%x", uint64(p))
		return nil, driver.Check("vkAllocateDescriptorSets", driver.ErrorValidationFailed)
	}
	if len(pool.sets)+len(layouts) > int(pool.info.MaxSets) {
		return nil, driver.Check("vkAllocateDescriptorSets", driver.ErrorOutOfPoolMemory)
	}
	if err := d.injected("vkAllocateDescriptorSets"); err != nil {
		return nil, err
	}
	out := make([]driver.DescriptorSet, 0, len(layouts))
	for _, lh := range layouts {
		l, ok := lookup[*setLayout](d, uint64(lh))
		if !ok {
			d.violate("descriptor set with unknown layout 0x%x", uint64(lh))
			return nil, driver.Check("vkAllocateDescriptorSets", driver.ErrorValidationFailed)
		}
		h := d.handle()
		d.objects[h] = &descriptorSet{pool: pool, layout: l, writes: make(map[uint32]driver.WriteDescriptorSet)}
		pool.sets = append(pool.sets, driver.DescriptorSet(h))
		out = append(out, driver.DescriptorSet(h))
	}
	return out, nil
}

func (d *Driver) UpdateDescriptorSets(_ driver.Device, writes []driver.WriteDescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		set, ok := lookup[*descriptorSet](d, uint64(w.Set))
		if !ok {
			d.violate("write to unknown descriptor set 0x%x", uint64(w.Set))
			continue
		}
		b, ok := set.layout.binding(w.Binding)
		if !ok || b.Type != w.Type {
			d.violate("write to binding %d does not match the set layout", w.Binding)
			continue
		}
		for _, info := range w.Buffers {
			buf, ok := lookup[*buffer](d, uint64(info.Buffer))
			if !ok || buf.memory == nil {
				d.violate("descriptor write references unbound buffer 0x%x", uint64(info.Buffer))
			}
		}
		for _, info := range w.Images {
			v, ok := lookup[*imageView](d, uint64(info.View))
			if !ok || !v.image.usable() {
				d.violate("descriptor write references unbound image view 0x%x", uint64(info.View))
			}
		}
		w.Buffers = slices.Clone(w.Buffers)
		w.Images = slices.Clone(w.Images)
		set.writes[w.Binding] = w
	}
}

func (d *Driver) CreateComputePipeline(h driver.Device, info driver.ComputePipelineCreateInfo, cb *hostalloc.Adapter) (driver.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod, ok := lookup[*shaderModule](d, uint64(info.Stage.Module))
	layout, found := lookup[*pipelineLayout](d, uint64(info.Layout))
	if !ok || !found || info.Stage.Stage != driver.ShaderStageComputeBit || info.Stage.EntryPoint == "" {
		d.violate("compute pipeline with module 0x%x layout 0x%x stage 0x%x", uint64(info.Stage.Module), uint64(info.Layout), uint32(info.Stage.Stage))
		return 0, driver.Check("vkCreateComputePipelines", driver.ErrorValidationFailed)
	}
	k, ok := d.kernels[mod.key]
	if !ok {
		k = d.cfg.FallbackKernel
	}
	if k == nil {
		return 0, driver.Check("vkCreateComputePipelines", driver.ErrorInitializationFailed)
	}
	o, err := d.track("vkCreateComputePipelines", "pipeline", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &pipeline{object: o, bindPoint: driver.PipelineBindPointCompute, layout: layout, kernel: k}
	return driver.Pipeline(o.handle), nil
}

func (d *Driver) CreateGraphicsPipeline(h driver.Device, info driver.GraphicsPipelineCreateInfo, cb *hostalloc.Adapter) (driver.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	layout, ok := lookup[*pipelineLayout](d, uint64(info.Layout))
	_, found := lookup[*renderPass](d, uint64(info.RenderPass))
	if !ok || !found || len(info.Stages) == 0 {
		d.violate("graphics pipeline with layout 0x%x render pass 0x%x and %d stages", uint64(info.Layout), uint64(info.RenderPass), len(info.Stages))
		return 0, driver.Check("vkCreateGraphicsPipelines", driver.ErrorValidationFailed)
	}
	for _, s := range info.Stages {
		if _, ok := lookup[*shaderModule](d, uint64(s.Module)); !ok {
			d.violate("graphics pipeline stage 0x%x uses unknown module 0x%x", uint32(s.Stage), uint64(s.Module))
			return 0, driver.Check("vkCreateGraphicsPipelines", driver.ErrorValidationFailed)
		}
	}
	o, err := d.track("vkCreateGraphicsPipelines", "pipeline", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &pipeline{object: o, bindPoint: driver.PipelineBindPointGraphics, layout: layout}
	return driver.Pipeline(o.handle), nil
}

func (d *Driver) DestroyPipeline(_ driver.Device, h driver.Pipeline, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*pipeline](d, "pipeline", uint64(h), cb)
}

func (d *Driver) CreateRenderPass(h driver.Device, info driver.RenderPassCreateInfo, cb *hostalloc.Adapter) (driver.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(info.ColorAttachments) == 0 {
		d.violate("render pass without attachments")
		return 0, driver.Check("vkCreateRenderPass", driver.ErrorValidationFailed)
	}
	o, err := d.track("vkCreateRenderPass", "render_pass", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	info.ColorAttachments = slices.Clone(info.ColorAttachments)
	d.objects[o.handle] = &renderPass{object: o, info: info}
	return driver.RenderPass(o.handle), nil
}

func (d *Driver) DestroyRenderPass(_ driver.Device, h driver.RenderPass, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*renderPass](d, "render_pass", uint64(h), cb)
}

func (d *Driver) CreateFramebuffer(h driver.Device, info driver.FramebufferCreateInfo, cb *hostalloc.Adapter) (driver.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pass, ok := lookup[*renderPass](d, uint64(info.RenderPass))
	if !ok || len(info.Attachments) != len(pass.info.ColorAttachments) {
		d.violate("framebuffer does not match render pass 0x%x", uint64(info.RenderPass))
		return 0, driver.Check("vkCreateFramebuffer", driver.ErrorValidationFailed)
	}
	views := make([]*imageView, 0, len(info.Attachments))
	for _, a := range info.Attachments {
		v, ok := lookup[*imageView](d, uint64(a))
		if !ok {
			d.violate("framebuffer attachment 0x%x is not an image view", uint64(a))
			return 0, driver.Check("vkCreateFramebuffer", driver.ErrorValidationFailed)
		}
		views = append(views, v)
	}
	o, err := d.track("vkCreateFramebuffer", "framebuffer", uint64(h), cb)
	if err != nil {
		return 0, err
	}
	d.objects[o.handle] = &framebuffer{object: o, pass: pass, views: views}
	return driver.Framebuffer(o.handle), nil
}

func (d *Driver) DestroyFramebuffer(_ driver.Device, h driver.Framebuffer, cb *hostalloc.Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	destroy[*framebuffer](d, "framebuffer", uint64(h), cb)
}
