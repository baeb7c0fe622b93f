//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the compute harness on the GPU for a single frame.
func (Run) Compute() error {
	if err := compileShaders(); err != nil {
		return err
	}
	fmt.Println("Run compute harness...")
	return goRun("run", ".", "-config", "config.toml", "-frames", "1")
}

// Runs the harness with the window open until it is closed.
func (Run) Graphics() error {
	if err := compileShaders(); err != nil {
		return err
	}
	fmt.Println("Run graphics harness...")
	return goRun("run", ".", "-config", "graphics.toml")
}

// Runs the unit tests against the software driver.
func (Run) Tests() error {
	return goRun("test", "./...")
}
