package assets

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/renderer/pipeline"
)

// Shader is one compiled SPIR-V module as read from disk. A Shader is never
// modified; a reload produces a new value with the next generation.
type Shader struct {
	Name       string
	Path       string
	Code       []byte
	Words      []uint32
	Generation uint64
	Checksum   [sha256.Size]byte
}

// Loader reads a shader file. The default loader accepts SPIR-V binaries.
type Loader interface {
	Load(path string) (*Shader, error)
}

type SPIRVLoader struct{}

func (SPIRVLoader) Load(path string) (*Shader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read shader %s", path)
	}
	words, err := pipeline.ParseSPIRV(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "shader %s", path)
	}

	return &Shader{
		Name:     shaderName(path),
		Path:     path,
		Code:     buf,
		Words:    words,
		Checksum: sha256.Sum256(buf),
	}, nil
}

func shaderName(path string) string {
	return filepath.Base(path)
}

func isShader(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".spv")
}
