package submit

import (
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
)

// Access is one side of a barrier: the stage that performs the access and
// the access type itself.
type Access struct {
	Stage driver.PipelineStageFlags
	Mask  driver.AccessFlags
}

var (
	HostWrite     = Access{Stage: driver.PipelineStageHostBit, Mask: driver.AccessHostWriteBit}
	HostRead      = Access{Stage: driver.PipelineStageHostBit, Mask: driver.AccessHostReadBit}
	ComputeRead   = Access{Stage: driver.PipelineStageComputeShaderBit, Mask: driver.AccessShaderReadBit}
	ComputeWrite  = Access{Stage: driver.PipelineStageComputeShaderBit, Mask: driver.AccessShaderWriteBit}
	TransferWrite = Access{Stage: driver.PipelineStageTransferBit, Mask: driver.AccessTransferWriteBit}

	// pipeline ends used when there is no earlier or later access to order
	topOfPipe    = Access{Stage: driver.PipelineStageTopOfPipeBit}
	bottomOfPipe = Access{Stage: driver.PipelineStageBottomOfPipeBit}
)

/**
 * @brief A buffer hazard: the access that produced the data and the access
 * that consumes it next.
 */
type Hazard struct {
	Name string
	Src  Access
	Dst  Access
}

var (
	HostWriteToComputeRead    = Hazard{Name: "host write -> compute read", Src: HostWrite, Dst: ComputeRead}
	ComputeWriteToHostRead    = Hazard{Name: "compute write -> host read", Src: ComputeWrite, Dst: HostRead}
	ComputeWriteToComputeRead = Hazard{Name: "compute write -> compute read", Src: ComputeWrite, Dst: ComputeRead}
	TransferWriteToHostRead   = Hazard{Name: "transfer write -> host read", Src: TransferWrite, Dst: HostRead}
)

func (hz Hazard) buffer(buf *resources.Buffer) driver.PipelineBarrier {
	return driver.PipelineBarrier{
		SrcStage: hz.Src.Stage,
		DstStage: hz.Dst.Stage,
		Buffers: []driver.BufferMemoryBarrier{{
			SrcAccess:      hz.Src.Mask,
			DstAccess:      hz.Dst.Mask,
			SrcQueueFamily: driver.QueueFamilyIgnored,
			DstQueueFamily: driver.QueueFamilyIgnored,
			Buffer:         buf.Handle,
			Size:           driver.WholeSize,
		}},
	}
}

/**
 * @brief An image layout change together with the accesses it orders.
 */
type Transition struct {
	Name string
	Old  driver.ImageLayout
	New  driver.ImageLayout
	Src  Access
	Dst  Access
}

var (
	UndefinedToTransferDst = Transition{
		Name: "undefined -> transfer dst",
		Old:  driver.ImageLayoutUndefined,
		New:  driver.ImageLayoutTransferDstOptimal,
		Src:  topOfPipe,
		Dst:  TransferWrite,
	}
	TransferDstToPresent = Transition{
		Name: "transfer dst -> present src",
		Old:  driver.ImageLayoutTransferDstOptimal,
		New:  driver.ImageLayoutPresentSrc,
		Src:  TransferWrite,
		Dst:  bottomOfPipe,
	}
	UndefinedToGeneral = Transition{
		Name: "undefined -> general",
		Old:  driver.ImageLayoutUndefined,
		New:  driver.ImageLayoutGeneral,
		Src:  topOfPipe,
		Dst:  Access{Stage: driver.PipelineStageComputeShaderBit, Mask: driver.AccessShaderReadBit | driver.AccessShaderWriteBit},
	}
)

func (t Transition) image(img *resources.Image) driver.PipelineBarrier {
	return driver.PipelineBarrier{
		SrcStage: t.Src.Stage,
		DstStage: t.Dst.Stage,
		Images: []driver.ImageMemoryBarrier{{
			SrcAccess:      t.Src.Mask,
			DstAccess:      t.Dst.Mask,
			OldLayout:      t.Old,
			NewLayout:      t.New,
			SrcQueueFamily: driver.QueueFamilyIgnored,
			DstQueueFamily: driver.QueueFamilyIgnored,
			Image:          img.Handle,
			Range:          fullRange(img),
		}},
	}
}
