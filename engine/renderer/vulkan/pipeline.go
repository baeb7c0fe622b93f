package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

func (d *Driver) CreateShaderModule(device driver.Device, code []uint32, cb *hostalloc.Adapter) (driver.ShaderModule, error) {
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}
	var module vk.ShaderModule
	if err := check("vkCreateShaderModule", vk.CreateShaderModule(d.device(device), &createInfo, d.allocator(cb), &module)); err != nil {
		return 0, err
	}
	return driver.ShaderModule(d.put(module)), nil
}

func (d *Driver) DestroyShaderModule(device driver.Device, module driver.ShaderModule, cb *hostalloc.Adapter) {
	vk.DestroyShaderModule(d.device(device), lookup[vk.ShaderModule](d, uint64(module)), d.allocator(cb))
	d.drop(uint64(module))
}

func (d *Driver) CreateDescriptorSetLayout(device driver.Device, bindings []driver.DescriptorSetLayoutBinding, cb *hostalloc.Adapter) (driver.DescriptorSetLayout, error) {
	vb := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vb[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
	}
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vb)),
		PBindings:    vb,
	}
	var layout vk.DescriptorSetLayout
	if err := check("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.device(device), &createInfo, d.allocator(cb), &layout)); err != nil {
		return 0, err
	}
	return driver.DescriptorSetLayout(d.put(layout)), nil
}

func (d *Driver) DestroyDescriptorSetLayout(device driver.Device, layout driver.DescriptorSetLayout, cb *hostalloc.Adapter) {
	vk.DestroyDescriptorSetLayout(d.device(device), lookup[vk.DescriptorSetLayout](d, uint64(layout)), d.allocator(cb))
	d.drop(uint64(layout))
}

func (d *Driver) CreatePipelineLayout(device driver.Device, info driver.PipelineLayoutCreateInfo, cb *hostalloc.Adapter) (driver.PipelineLayout, error) {
	ranges := make([]vk.PushConstantRange, len(info.PushConstants))
	for i, r := range info.PushConstants {
		ranges[i] = vk.PushConstantRange{
			StageFlags: vk.ShaderStageFlags(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	createInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(info.SetLayouts)),
		PSetLayouts:            lookupAll[vk.DescriptorSetLayout](d, info.SetLayouts),
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	var layout vk.PipelineLayout
	if err := check("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.device(device), &createInfo, d.allocator(cb), &layout)); err != nil {
		return 0, err
	}
	return driver.PipelineLayout(d.put(layout)), nil
}

func (d *Driver) DestroyPipelineLayout(device driver.Device, layout driver.PipelineLayout, cb *hostalloc.Adapter) {
	vk.DestroyPipelineLayout(d.device(device), lookup[vk.PipelineLayout](d, uint64(layout)), d.allocator(cb))
	d.drop(uint64(layout))
}

func (d *Driver) CreateDescriptorPool(device driver.Device, info driver.DescriptorPoolCreateInfo, cb *hostalloc.Adapter) (driver.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, len(info.Sizes))
	for i, s := range info.Sizes {
		sizes[i] = vk.DescriptorPoolSize{Type: vk.DescriptorType(s.Type), DescriptorCount: s.Count}
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       info.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	if info.FreeDescriptorSet {
		createInfo.Flags = vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit)
	}
	var pool vk.DescriptorPool
	if err := check("vkCreateDescriptorPool", vk.CreateDescriptorPool(d.device(device), &createInfo, d.allocator(cb), &pool)); err != nil {
		return 0, err
	}
	return driver.DescriptorPool(d.put(pool)), nil
}

// DestroyDescriptorPool also forgets the sets allocated from the pool.
func (d *Driver) DestroyDescriptorPool(device driver.Device, pool driver.DescriptorPool, cb *hostalloc.Adapter) {
	vk.DestroyDescriptorPool(d.device(device), lookup[vk.DescriptorPool](d, uint64(pool)), d.allocator(cb))
	d.drop(uint64(pool))
}

func (d *Driver) AllocateDescriptorSets(device driver.Device, pool driver.DescriptorPool, layouts []driver.DescriptorSetLayout) ([]driver.DescriptorSet, error) {
	if len(layouts) == 0 {
		return nil, nil
	}
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     lookup[vk.DescriptorPool](d, uint64(pool)),
		DescriptorSetCount: uint32(len(layouts)),
		PSetLayouts:        lookupAll[vk.DescriptorSetLayout](d, layouts),
	}
	sets := make([]vk.DescriptorSet, len(layouts))
	if err := check("vkAllocateDescriptorSets", vk.AllocateDescriptorSets(d.device(device), &allocInfo, &sets[0])); err != nil {
		return nil, err
	}
	out := make([]driver.DescriptorSet, len(sets))
	for i, s := range sets {
		out[i] = driver.DescriptorSet(d.adopt(uint64(pool), s))
	}
	return out, nil
}

func (d *Driver) UpdateDescriptorSets(device driver.Device, writes []driver.WriteDescriptorSet) {
	vw := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vw[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          lookup[vk.DescriptorSet](d, uint64(w.Set)),
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  vk.DescriptorType(w.Type),
		}
		if len(w.Buffers) > 0 {
			infos := make([]vk.DescriptorBufferInfo, len(w.Buffers))
			for j, b := range w.Buffers {
				infos[j] = vk.DescriptorBufferInfo{
					Buffer: lookup[vk.Buffer](d, uint64(b.Buffer)),
					Offset: vk.DeviceSize(b.Offset),
					Range:  vk.DeviceSize(b.Range),
				}
			}
			vw[i].DescriptorCount = uint32(len(infos))
			vw[i].PBufferInfo = infos
		} else {
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for j, img := range w.Images {
				infos[j] = vk.DescriptorImageInfo{
					ImageView:   lookup[vk.ImageView](d, uint64(img.View)),
					ImageLayout: vk.ImageLayout(img.Layout),
				}
			}
			vw[i].DescriptorCount = uint32(len(infos))
			vw[i].PImageInfo = infos
		}
	}
	vk.UpdateDescriptorSets(d.device(device), uint32(len(vw)), vw, 0, nil)
}

func (d *Driver) shaderStage(s driver.ShaderStage) vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFlagBits(s.Stage),
		Module: lookup[vk.ShaderModule](d, uint64(s.Module)),
		PName:  safeString(s.EntryPoint),
	}
}

func (d *Driver) CreateComputePipeline(device driver.Device, info driver.ComputePipelineCreateInfo, cb *hostalloc.Adapter) (driver.Pipeline, error) {
	createInfo := vk.ComputePipelineCreateInfo{
		SType:             vk.StructureTypeComputePipelineCreateInfo,
		Stage:             d.shaderStage(info.Stage),
		Layout:            lookup[vk.PipelineLayout](d, uint64(info.Layout)),
		BasePipelineIndex: -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateComputePipelines(d.device(device), vk.NullPipelineCache, 1,
		[]vk.ComputePipelineCreateInfo{createInfo}, d.allocator(cb), pipelines)
	if err := check("vkCreateComputePipelines", res); err != nil {
		return 0, err
	}
	return driver.Pipeline(d.put(pipelines[0])), nil
}

func (d *Driver) CreateGraphicsPipeline(device driver.Device, info driver.GraphicsPipelineCreateInfo, cb *hostalloc.Adapter) (driver.Pipeline, error) {
	st := info.State
	stages := make([]vk.PipelineShaderStageCreateInfo, len(info.Stages))
	for i, s := range info.Stages {
		stages[i] = d.shaderStage(s)
	}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports: []vk.Viewport{{
			X: st.Viewport.X, Y: st.Viewport.Y,
			Width: st.Viewport.Width, Height: st.Viewport.Height,
			MinDepth: st.Viewport.MinDepth, MaxDepth: st.Viewport.MaxDepth,
		}},
		ScissorCount: 1,
		PScissors: []vk.Rect2D{{
			Offset: vk.Offset2D{X: st.Scissor.Offset.X, Y: st.Scissor.Offset.Y},
			Extent: vk.Extent2D{Width: st.Scissor.Extent.Width, Height: st.Scissor.Extent.Height},
		}},
	}

	lineWidth := st.LineWidth
	if lineWidth == 0 {
		lineWidth = 1.0
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonMode(st.PolygonMode),
		CullMode:                vk.CullModeFlags(st.CullMode),
		FrontFace:               vk.FrontFace(st.FrontFace),
		DepthBiasEnable:         vk.False,
		LineWidth:               lineWidth,
	}

	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	blend := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         bool32(st.BlendEnable),
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{blend},
	}

	// Geometry comes from the vertex stage, so there is nothing to bind.
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopology(st.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	createInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PColorBlendState:    &colorBlend,
		Layout:              lookup[vk.PipelineLayout](d, uint64(info.Layout)),
		RenderPass:          lookup[vk.RenderPass](d, uint64(info.RenderPass)),
		Subpass:             info.Subpass,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	res := vk.CreateGraphicsPipelines(d.device(device), vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{createInfo}, d.allocator(cb), pipelines)
	if err := check("vkCreateGraphicsPipelines", res); err != nil {
		return 0, err
	}
	return driver.Pipeline(d.put(pipelines[0])), nil
}

func (d *Driver) DestroyPipeline(device driver.Device, pipeline driver.Pipeline, cb *hostalloc.Adapter) {
	vk.DestroyPipeline(d.device(device), lookup[vk.Pipeline](d, uint64(pipeline)), d.allocator(cb))
	d.drop(uint64(pipeline))
}

func (d *Driver) CreateRenderPass(device driver.Device, info driver.RenderPassCreateInfo, cb *hostalloc.Adapter) (driver.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, len(info.ColorAttachments))
	refs := make([]vk.AttachmentReference, len(info.ColorAttachments))
	for i, a := range info.ColorAttachments {
		attachments[i] = vk.AttachmentDescription{
			Format:         vk.Format(a.Format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOp(a.LoadOp),
			StoreOp:        vk.AttachmentStoreOp(a.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayout(a.InitialLayout),
			FinalLayout:    vk.ImageLayout(a.FinalLayout),
		}
		refs[i] = vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(refs)),
		PColorAttachments:    refs,
	}
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var pass vk.RenderPass
	if err := check("vkCreateRenderPass", vk.CreateRenderPass(d.device(device), &createInfo, d.allocator(cb), &pass)); err != nil {
		return 0, err
	}
	return driver.RenderPass(d.put(pass)), nil
}

func (d *Driver) DestroyRenderPass(device driver.Device, pass driver.RenderPass, cb *hostalloc.Adapter) {
	vk.DestroyRenderPass(d.device(device), lookup[vk.RenderPass](d, uint64(pass)), d.allocator(cb))
	d.drop(uint64(pass))
}

func (d *Driver) CreateFramebuffer(device driver.Device, info driver.FramebufferCreateInfo, cb *hostalloc.Adapter) (driver.Framebuffer, error) {
	views := lookupAll[vk.ImageView](d, info.Attachments)
	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      lookup[vk.RenderPass](d, uint64(info.RenderPass)),
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           info.Width,
		Height:          info.Height,
		Layers:          info.Layers,
	}
	var fb vk.Framebuffer
	if err := check("vkCreateFramebuffer", vk.CreateFramebuffer(d.device(device), &createInfo, d.allocator(cb), &fb)); err != nil {
		return 0, err
	}
	return driver.Framebuffer(d.put(fb)), nil
}

func (d *Driver) DestroyFramebuffer(device driver.Device, framebuffer driver.Framebuffer, cb *hostalloc.Adapter) {
	vk.DestroyFramebuffer(d.device(device), lookup[vk.Framebuffer](d, uint64(framebuffer)), d.allocator(cb))
	d.drop(uint64(framebuffer))
}
