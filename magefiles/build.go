//go:build mage

package main

import (
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Compiles every GLSL source under shaders/ to SPIR-V next to it.
func (Build) Shaders() error {
	return compileShaders()
}

// Tidies the module.
func (Build) Tidy() error {
	return goRun("mod", "tidy")
}

// Builds the harness binary into bin/.
func (Build) Harness() error {
	mg.Deps(Build.Shaders)
	return goRun("build", "-o", filepath.Join("bin", "vkharness"), ".")
}
