// Package pipeline builds descriptor layouts, pools and sets, shader modules
// and the compute and graphics pipelines that use them.
package pipeline

import (
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

/**
 * @brief A single slot of a descriptor set layout.
 */
type Binding struct {
	/** @brief The binding index. Unique within a set. */
	Slot uint32
	/** @brief The kind of resource the slot holds. */
	Type driver.DescriptorType
	/** @brief The shader stages that can see the slot. */
	Stages driver.ShaderStageFlags
	/** @brief Array size; 0 means 1. */
	Count uint32
}

type SetLayout struct {
	Handle   driver.DescriptorSetLayout
	Bindings []Binding
}

func (l *SetLayout) binding(slot uint32) (Binding, bool) {
	for _, b := range l.Bindings {
		if b.Slot == slot {
			return b, true
		}
	}
	return Binding{}, false
}

/**
 * @brief A pipeline layout and the set layouts it was built from.
 */
type Layout struct {
	Handle        driver.PipelineLayout
	Sets          []*SetLayout
	PushConstants []driver.PushConstantRange
}

type ShaderModule struct {
	Handle driver.ShaderModule
	Name   string
	Stage  driver.ShaderStageFlags
	Words  int
}

// Stage pairs a module with the entry point to run.
type Stage struct {
	Module     *ShaderModule
	EntryPoint string
}

func (s Stage) info() driver.ShaderStage {
	entry := s.EntryPoint
	if entry == "" {
		entry = "main"
	}
	return driver.ShaderStage{Stage: s.Module.Stage, Module: s.Module.Handle, EntryPoint: entry}
}

type Pipeline struct {
	Handle    driver.Pipeline
	BindPoint driver.PipelineBindPoint
	Layout    *Layout
}

type RenderPass struct {
	Handle driver.RenderPass
	Format driver.Format
}

type Framebuffer struct {
	Handle driver.Framebuffer
	Pass   *RenderPass
	Extent driver.Extent2D
}

type DescriptorPool struct {
	Handle  driver.DescriptorPool
	MaxSets uint32
	sets    uint32
}

// DescriptorSet remembers which slots have been written so an incomplete set
// is never bound.
type DescriptorSet struct {
	Handle  driver.DescriptorSet
	Layout  *SetLayout
	written map[uint32]bool
}

// Complete reports whether every slot of the layout has been written.
func (s *DescriptorSet) Complete() bool {
	for _, b := range s.Layout.Bindings {
		if !s.written[b.Slot] {
			return false
		}
	}
	return true
}

// Missing lists the slots not written yet.
func (s *DescriptorSet) Missing() []uint32 {
	var out []uint32
	for _, b := range s.Layout.Bindings {
		if !s.written[b.Slot] {
			out = append(out, b.Slot)
		}
	}
	return out
}
