package pipeline

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
)

const spirvMagic = 0x07230203

type Builder struct {
	h    *handles.Set
	snap *probe.Snapshot
}

func NewBuilder(h *handles.Set, snap *probe.Snapshot) *Builder {
	return &Builder{h: h, snap: snap}
}

func (b *Builder) cb() *hostalloc.Adapter {
	return b.h.CB(hostalloc.PipelineObjects)
}

// ParseSPIRV converts shader bytecode into words. The code must be a whole
// number of words and start with the SPIR-V magic number.
func ParseSPIRV(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("shader code of %d bytes is not a whole number of words", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[4*i:])
	}
	if len(words) < 5 || words[0] != spirvMagic {
		return nil, errors.Newf("shader code does not start with a SPIR-V header (magic 0x%08x)", words[0])
	}
	return words, nil
}

func (b *Builder) CreateShaderModule(name string, code []byte, stage driver.ShaderStageFlags) (*ShaderModule, error) {
	words, err := ParseSPIRV(code)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %q", name)
	}
	m := &ShaderModule{Name: name, Stage: stage, Words: len(words)}
	err = b.h.Locks.SafeCall(handles.ShaderManagement, func() error {
		handle, err := b.h.Driver.CreateShaderModule(b.h.Device, words, b.cb())
		m.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create shader module %q", name)
	}
	core.LogDebug("shader module %q created (%d words)", name, len(words))
	return m, nil
}

func (b *Builder) DestroyShaderModule(m *ShaderModule) {
	if m == nil || m.Handle == 0 {
		return
	}
	_ = b.h.Locks.SafeCall(handles.ShaderManagement, func() error {
		b.h.Driver.DestroyShaderModule(b.h.Device, m.Handle, b.cb())
		return nil
	})
	m.Handle = 0
}

func (b *Builder) CreateDescriptorSetLayout(bindings []Binding) (*SetLayout, error) {
	seen := make(map[uint32]bool, len(bindings))
	infos := make([]driver.DescriptorSetLayoutBinding, 0, len(bindings))
	for _, bd := range bindings {
		if seen[bd.Slot] {
			return nil, errors.Mark(errors.Newf("descriptor binding %d declared twice", bd.Slot), core.ErrDuplicateBinding)
		}
		seen[bd.Slot] = true
		infos = append(infos, driver.DescriptorSetLayoutBinding{
			Binding: bd.Slot,
			Type:    bd.Type,
			Count:   max(bd.Count, 1),
			Stages:  bd.Stages,
		})
	}
	l := &SetLayout{Bindings: append([]Binding(nil), bindings...)}
	err := b.h.Locks.SafeCall(handles.PipelineManagement, func() error {
		handle, err := b.h.Driver.CreateDescriptorSetLayout(b.h.Device, infos, b.cb())
		l.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create descriptor set layout")
	}
	return l, nil
}

func (b *Builder) DestroyDescriptorSetLayout(l *SetLayout) {
	if l == nil || l.Handle == 0 {
		return
	}
	_ = b.h.Locks.SafeCall(handles.PipelineManagement, func() error {
		b.h.Driver.DestroyDescriptorSetLayout(b.h.Device, l.Handle, b.cb())
		return nil
	})
	l.Handle = 0
}

// checkPushConstants rejects ranges that are misaligned, overlap each other
// or run past the device limit.
func checkPushConstants(ranges []driver.PushConstantRange, limit uint32) error {
	sorted := append([]driver.PushConstantRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	for i, r := range sorted {
		switch {
		case r.Size == 0 || r.Offset%4 != 0 || r.Size%4 != 0:
			return errors.Mark(errors.Newf("push constant range %d+%d is not a non-empty multiple of 4", r.Offset, r.Size), core.ErrPushConstantRange)
		case r.Offset+r.Size > limit:
			return errors.Mark(errors.Newf("push constant range %d+%d exceeds the device limit of %d bytes", r.Offset, r.Size, limit), core.ErrPushConstantRange)
		case i > 0 && sorted[i-1].Offset+sorted[i-1].Size > r.Offset:
			return errors.Mark(errors.Newf("push constant ranges %d+%d and %d+%d overlap", sorted[i-1].Offset, sorted[i-1].Size, r.Offset, r.Size), core.ErrPushConstantRange)
		}
	}
	return nil
}

func (b *Builder) CreatePipelineLayout(sets []*SetLayout, push []driver.PushConstantRange) (*Layout, error) {
	if err := checkPushConstants(push, b.snap.Properties.Limits.MaxPushConstantsSize); err != nil {
		return nil, err
	}
	info := driver.PipelineLayoutCreateInfo{PushConstants: push}
	for _, s := range sets {
		info.SetLayouts = append(info.SetLayouts, s.Handle)
	}
	l := &Layout{Sets: sets, PushConstants: push}
	err := b.h.Locks.SafeCall(handles.PipelineManagement, func() error {
		handle, err := b.h.Driver.CreatePipelineLayout(b.h.Device, info, b.cb())
		l.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create pipeline layout")
	}
	return l, nil
}

func (b *Builder) DestroyPipelineLayout(l *Layout) {
	if l == nil || l.Handle == 0 {
		return
	}
	_ = b.h.Locks.SafeCall(handles.PipelineManagement, func() error {
		b.h.Driver.DestroyPipelineLayout(b.h.Device, l.Handle, b.cb())
		return nil
	})
	l.Handle = 0
}

func (b *Builder) CreateComputePipeline(module *ShaderModule, entryPoint string, layout *Layout) (*Pipeline, error) {
	if module == nil || module.Stage != driver.ShaderStageComputeBit {
		return nil, core.Violation(core.ErrInvalidState, "compute pipeline needs a compute shader module")
	}
	info := driver.ComputePipelineCreateInfo{
		Stage:  Stage{Module: module, EntryPoint: entryPoint}.info(),
		Layout: layout.Handle,
	}
	p := &Pipeline{BindPoint: driver.PipelineBindPointCompute, Layout: layout}
	err := b.h.Locks.SafeCall(handles.PipelineManagement, func() error {
		handle, err := b.h.Driver.CreateComputePipeline(b.h.Device, info, b.cb())
		p.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create compute pipeline from %q", module.Name)
	}
	core.LogDebug("Compute pipeline created!")
	return p, nil
}

func (b *Builder) CreateGraphicsPipeline(stages []Stage, state driver.FixedFunctionState, pass *RenderPass, layout *Layout) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, core.Violation(core.ErrInvalidState, "graphics pipeline without stages")
	}
	info := driver.GraphicsPipelineCreateInfo{
		State:      state,
		Layout:     layout.Handle,
		RenderPass: pass.Handle,
	}
	for _, s := range stages {
		info.Stages = append(info.Stages, s.info())
	}
	p := &Pipeline{BindPoint: driver.PipelineBindPointGraphics, Layout: layout}
	err := b.h.Locks.SafeCall(handles.PipelineManagement, func() error {
		handle, err := b.h.Driver.CreateGraphicsPipeline(b.h.Device, info, b.cb())
		p.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create graphics pipeline")
	}
	core.LogDebug("Graphics pipeline created!")
	return p, nil
}

// FullscreenState is the fixed-function state for a triangle generated in
// the vertex shader that covers the whole target.
func FullscreenState(extent driver.Extent2D) driver.FixedFunctionState {
	return driver.FixedFunctionState{
		Topology:    driver.PrimitiveTopologyTriangleList,
		PolygonMode: driver.PolygonModeFill,
		CullMode:    driver.CullModeNone,
		FrontFace:   driver.FrontFaceCounterClockwise,
		LineWidth:   1.0,
		Viewport: driver.Viewport{
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MaxDepth: 1.0,
		},
		Scissor: driver.Rect2D{Extent: extent},
	}
}

func (b *Builder) DestroyPipeline(p *Pipeline) {
	if p == nil || p.Handle == 0 {
		return
	}
	_ = b.h.Locks.SafeCall(handles.PipelineManagement, func() error {
		b.h.Driver.DestroyPipeline(b.h.Device, p.Handle, b.cb())
		return nil
	})
	p.Handle = 0
}

// CreateRenderPass builds a single-subpass pass that clears one color
// attachment and leaves it ready for presentation.
func (b *Builder) CreateRenderPass(format driver.Format) (*RenderPass, error) {
	info := driver.RenderPassCreateInfo{
		ColorAttachments: []driver.AttachmentDescription{{
			Format:        format,
			LoadOp:        driver.AttachmentLoadOpClear,
			StoreOp:       driver.AttachmentStoreOpStore,
			InitialLayout: driver.ImageLayoutUndefined,
			FinalLayout:   driver.ImageLayoutPresentSrc,
		}},
	}
	rp := &RenderPass{Format: format}
	err := b.h.Locks.SafeCall(handles.RenderpassManagement, func() error {
		handle, err := b.h.Driver.CreateRenderPass(b.h.Device, info, b.cb())
		rp.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create render pass")
	}
	return rp, nil
}

func (b *Builder) DestroyRenderPass(rp *RenderPass) {
	if rp == nil || rp.Handle == 0 {
		return
	}
	_ = b.h.Locks.SafeCall(handles.RenderpassManagement, func() error {
		b.h.Driver.DestroyRenderPass(b.h.Device, rp.Handle, b.cb())
		return nil
	})
	rp.Handle = 0
}

func (b *Builder) CreateFramebuffer(pass *RenderPass, views []*resources.ImageView, extent driver.Extent2D) (*Framebuffer, error) {
	info := driver.FramebufferCreateInfo{
		RenderPass: pass.Handle,
		Width:      extent.Width,
		Height:     extent.Height,
		Layers:     1,
	}
	for _, v := range views {
		info.Attachments = append(info.Attachments, v.Handle)
	}
	fb := &Framebuffer{Pass: pass, Extent: extent}
	err := b.h.Locks.SafeCall(handles.RenderpassManagement, func() error {
		handle, err := b.h.Driver.CreateFramebuffer(b.h.Device, info, b.cb())
		fb.Handle = handle
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create framebuffer")
	}
	return fb, nil
}

func (b *Builder) DestroyFramebuffer(fb *Framebuffer) {
	if fb == nil || fb.Handle == 0 {
		return
	}
	_ = b.h.Locks.SafeCall(handles.RenderpassManagement, func() error {
		b.h.Driver.DestroyFramebuffer(b.h.Device, fb.Handle, b.cb())
		return nil
	})
	fb.Handle = 0
}
