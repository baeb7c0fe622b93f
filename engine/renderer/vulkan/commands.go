package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

func (d *Driver) CreateCommandPool(device driver.Device, family uint32, flags driver.CommandPoolCreateFlags, cb *hostalloc.Adapter) (driver.CommandPool, error) {
	createInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(flags),
		QueueFamilyIndex: family,
	}
	var pool vk.CommandPool
	if err := check("vkCreateCommandPool", vk.CreateCommandPool(d.device(device), &createInfo, d.allocator(cb), &pool)); err != nil {
		return 0, err
	}
	return driver.CommandPool(d.put(pool)), nil
}

// DestroyCommandPool also forgets the command buffers still allocated from it.
func (d *Driver) DestroyCommandPool(device driver.Device, pool driver.CommandPool, cb *hostalloc.Adapter) {
	vk.DestroyCommandPool(d.device(device), lookup[vk.CommandPool](d, uint64(pool)), d.allocator(cb))
	d.drop(uint64(pool))
}

func (d *Driver) AllocateCommandBuffers(device driver.Device, pool driver.CommandPool, count uint32) ([]driver.CommandBuffer, error) {
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        lookup[vk.CommandPool](d, uint64(pool)),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	}
	buffers := make([]vk.CommandBuffer, count)
	if err := check("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.device(device), &allocInfo, buffers)); err != nil {
		return nil, err
	}
	out := make([]driver.CommandBuffer, count)
	for i, b := range buffers {
		out[i] = driver.CommandBuffer(d.adopt(uint64(pool), b))
	}
	return out, nil
}

func (d *Driver) FreeCommandBuffers(device driver.Device, pool driver.CommandPool, buffers []driver.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	handles := lookupAll[vk.CommandBuffer](d, buffers)
	vk.FreeCommandBuffers(d.device(device), lookup[vk.CommandPool](d, uint64(pool)), uint32(len(handles)), handles)
	ids := make([]uint64, len(buffers))
	for i, b := range buffers {
		ids[i] = uint64(b)
	}
	d.disown(uint64(pool), ids)
}

func (d *Driver) cmd(cmd driver.CommandBuffer) vk.CommandBuffer {
	return lookup[vk.CommandBuffer](d, uint64(cmd))
}

func (d *Driver) BeginCommandBuffer(cmd driver.CommandBuffer, usage driver.CommandBufferUsageFlags) error {
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(usage),
	}
	return check("vkBeginCommandBuffer", vk.BeginCommandBuffer(d.cmd(cmd), &beginInfo))
}

func (d *Driver) EndCommandBuffer(cmd driver.CommandBuffer) error {
	return check("vkEndCommandBuffer", vk.EndCommandBuffer(d.cmd(cmd)))
}

func (d *Driver) ResetCommandBuffer(cmd driver.CommandBuffer) error {
	return check("vkResetCommandBuffer", vk.ResetCommandBuffer(d.cmd(cmd), 0))
}

func (d *Driver) CmdBindPipeline(cmd driver.CommandBuffer, bindPoint driver.PipelineBindPoint, pipeline driver.Pipeline) {
	vk.CmdBindPipeline(d.cmd(cmd), vk.PipelineBindPoint(bindPoint), lookup[vk.Pipeline](d, uint64(pipeline)))
}

func (d *Driver) CmdBindDescriptorSets(cmd driver.CommandBuffer, bindPoint driver.PipelineBindPoint, layout driver.PipelineLayout, firstSet uint32, sets []driver.DescriptorSet) {
	handles := lookupAll[vk.DescriptorSet](d, sets)
	vk.CmdBindDescriptorSets(d.cmd(cmd), vk.PipelineBindPoint(bindPoint), lookup[vk.PipelineLayout](d, uint64(layout)),
		firstSet, uint32(len(handles)), handles, 0, nil)
}

func (d *Driver) CmdPushConstants(cmd driver.CommandBuffer, layout driver.PipelineLayout, stages driver.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(d.cmd(cmd), lookup[vk.PipelineLayout](d, uint64(layout)), vk.ShaderStageFlags(stages),
		offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (d *Driver) CmdPipelineBarrier(cmd driver.CommandBuffer, b driver.PipelineBarrier) {
	memory := make([]vk.MemoryBarrier, len(b.Memory))
	for i, m := range b.Memory {
		memory[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(m.SrcAccess),
			DstAccessMask: vk.AccessFlags(m.DstAccess),
		}
	}
	buffers := make([]vk.BufferMemoryBarrier, len(b.Buffers))
	for i, m := range b.Buffers {
		buffers[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(m.SrcAccess),
			DstAccessMask:       vk.AccessFlags(m.DstAccess),
			SrcQueueFamilyIndex: m.SrcQueueFamily,
			DstQueueFamilyIndex: m.DstQueueFamily,
			Buffer:              lookup[vk.Buffer](d, uint64(m.Buffer)),
			Offset:              vk.DeviceSize(m.Offset),
			Size:                vk.DeviceSize(m.Size),
		}
	}
	images := make([]vk.ImageMemoryBarrier, len(b.Images))
	for i, m := range b.Images {
		images[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(m.SrcAccess),
			DstAccessMask:       vk.AccessFlags(m.DstAccess),
			OldLayout:           vk.ImageLayout(m.OldLayout),
			NewLayout:           vk.ImageLayout(m.NewLayout),
			SrcQueueFamilyIndex: m.SrcQueueFamily,
			DstQueueFamilyIndex: m.DstQueueFamily,
			Image:               lookup[vk.Image](d, uint64(m.Image)),
			SubresourceRange:    subresourceRange(m.Range),
		}
	}
	vk.CmdPipelineBarrier(d.cmd(cmd), vk.PipelineStageFlags(b.SrcStage), vk.PipelineStageFlags(b.DstStage), 0,
		uint32(len(memory)), memory, uint32(len(buffers)), buffers, uint32(len(images)), images)
}

func (d *Driver) CmdDispatch(cmd driver.CommandBuffer, x, y, z uint32) {
	vk.CmdDispatch(d.cmd(cmd), x, y, z)
}

func (d *Driver) CmdClearColorImage(cmd driver.CommandBuffer, image driver.Image, layout driver.ImageLayout, color driver.ClearColor, ranges []driver.ImageSubresourceRange) {
	var value vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&value)) = color
	vr := make([]vk.ImageSubresourceRange, len(ranges))
	for i, r := range ranges {
		vr[i] = subresourceRange(r)
	}
	vk.CmdClearColorImage(d.cmd(cmd), lookup[vk.Image](d, uint64(image)), vk.ImageLayout(layout), &value, uint32(len(vr)), vr)
}

func (d *Driver) CmdBeginRenderPass(cmd driver.CommandBuffer, info driver.RenderPassBeginInfo) {
	clearValues := make([]vk.ClearValue, len(info.ClearColors))
	for i, c := range info.ClearColors {
		clearValues[i].SetColor(c[:])
	}
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  lookup[vk.RenderPass](d, uint64(info.RenderPass)),
		Framebuffer: lookup[vk.Framebuffer](d, uint64(info.Framebuffer)),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: info.Area.Offset.X, Y: info.Area.Offset.Y},
			Extent: vk.Extent2D{Width: info.Area.Extent.Width, Height: info.Area.Extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(d.cmd(cmd), &beginInfo, vk.SubpassContentsInline)
}

func (d *Driver) CmdEndRenderPass(cmd driver.CommandBuffer) {
	vk.CmdEndRenderPass(d.cmd(cmd))
}

func (d *Driver) CmdDraw(cmd driver.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(d.cmd(cmd), vertexCount, instanceCount, firstVertex, firstInstance)
}
