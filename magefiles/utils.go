//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/magefile/mage/sh"
)

const shaderDir = "shaders"

// shaderOutputs maps each GLSL source to the SPIR-V file the harness loads.
var shaderOutputs = map[string]string{
	"copy.comp":   "copy.spv",
	"shader.vert": "vert.spv",
	"shader.frag": "frag.spv",
}

// goRun streams the output of a go subcommand.
func goRun(args ...string) error {
	if err := sh.RunV("go", args...); err != nil {
		return errors.Wrapf(err, "go %s", args[0])
	}
	return nil
}

// compileShaders skips sources that are absent so a compute-only checkout
// still builds.
func compileShaders() error {
	for src, out := range shaderOutputs {
		in := filepath.Join(shaderDir, src)
		if _, err := os.Stat(in); os.IsNotExist(err) {
			continue
		}
		if err := sh.RunV("glslc", in, "-o", filepath.Join(shaderDir, out)); err != nil {
			return errors.Wrapf(err, "compile %s", src)
		}
	}
	return nil
}
