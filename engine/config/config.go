package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
)

type Mode string

const (
	ModeCompute  Mode = "compute"
	ModeGraphics Mode = "graphics"
)

type Backend string

const (
	BackendVulkan Backend = "vulkan"
	BackendSoft   Backend = "soft"
)

// Duration decodes TOML strings such as "5s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Application struct {
	Name       string  `toml:"name"`
	Mode       Mode    `toml:"mode"`
	Backend    Backend `toml:"backend"`
	LogLevel   string  `toml:"log_level"`
	Validation bool    `toml:"validation"`
}

type Window struct {
	X      int32  `toml:"x"`
	Y      int32  `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type Device struct {
	RequiredFeatures []string `toml:"required_features"`
	Extensions       []string `toml:"extensions"`
	QueueSelection   string   `toml:"queue_selection"`
	// MinAPIVersion is a semver constraint, e.g. ">= 1.1".
	MinAPIVersion string `toml:"min_api_version"`
}

type Buffers struct {
	Size    uint64 `toml:"size"`
	Pattern uint8  `toml:"pattern"`
	// HostCoherent selects host-coherent memory for the buffers. When false
	// the writes go through an explicit flush.
	HostCoherent bool `toml:"host_coherent"`
}

type Image struct {
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
	Format string `toml:"format"`
}

type Sparse struct {
	Enabled   bool   `toml:"enabled"`
	Width     uint32 `toml:"width"`
	Height    uint32 `toml:"height"`
	MipLevels uint32 `toml:"mip_levels"`
	Format    string `toml:"format"`
}

type Presentation struct {
	SurfaceFormat string     `toml:"surface_format"`
	ColorSpace    string     `toml:"color_space"`
	PresentMode   string     `toml:"present_mode"`
	ClearColor    [4]float32 `toml:"clear_color"`
}

type Shaders struct {
	Directory string `toml:"directory"`
	Compute   string `toml:"compute"`
	Vertex    string `toml:"vertex"`
	Fragment  string `toml:"fragment"`
	Watch     bool   `toml:"watch"`
}

type Timeouts struct {
	Fence   Duration `toml:"fence"`
	Acquire Duration `toml:"acquire"`
}

type Config struct {
	Application  Application  `toml:"application"`
	Window       Window       `toml:"window"`
	Device       Device       `toml:"device"`
	Buffers      Buffers      `toml:"buffers"`
	Image        Image        `toml:"image"`
	Sparse       Sparse       `toml:"sparse"`
	Presentation Presentation `toml:"presentation"`
	Shaders      Shaders      `toml:"shaders"`
	Timeouts     Timeouts     `toml:"timeouts"`
}

func Default() *Config {
	return &Config{
		Application: Application{
			Name:     "vkharness",
			Mode:     ModeCompute,
			Backend:  BackendVulkan,
			LogLevel: "info",
		},
		Window: Window{X: 100, Y: 100, Width: 1280, Height: 720},
		Device: Device{
			QueueSelection: probe.SelectBitmask.String(),
			MinAPIVersion:  ">= 1.1",
		},
		Buffers: Buffers{Size: 1024, Pattern: 0x03, HostCoherent: true},
		Image:   Image{Width: 1024, Height: 1024, Format: driver.FormatR8g8b8a8Unorm.String()},
		Sparse: Sparse{
			Width:     4096,
			Height:    4096,
			MipLevels: 13,
			Format:    driver.FormatR8g8b8a8Unorm.String(),
		},
		Presentation: Presentation{
			SurfaceFormat: driver.FormatB8g8r8a8Srgb.String(),
			ColorSpace:    driver.ColorSpaceSrgbNonlinear.String(),
			PresentMode:   driver.PresentModeFifo.String(),
			ClearColor:    [4]float32{0, 0, 0.2, 1},
		},
		Shaders: Shaders{
			Directory: "shaders",
			Compute:   "copy.spv",
		},
		Timeouts: Timeouts{
			Fence:   Duration{10 * time.Second},
			Acquire: Duration{time.Second},
		},
	}
}

// Load reads the TOML file at path over the defaults and validates the
// result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open configuration %s", path)
	}
	defer f.Close()

	cfg := Default()
	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, errors.Newf("configuration %s: %s", path, strict.String())
		}
		return nil, errors.Wrapf(err, "failed to parse configuration %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration %s", path)
	}
	core.LogInfo("configuration loaded from %s (mode=%s backend=%s)", path, cfg.Application.Mode, cfg.Application.Backend)
	return cfg, nil
}

// Validate reports every problem found, not only the first.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Application.Mode {
	case ModeCompute, ModeGraphics:
	default:
		add("application.mode must be compute or graphics, got %q", c.Application.Mode)
	}
	switch c.Application.Backend {
	case BackendVulkan, BackendSoft:
	default:
		add("application.backend must be vulkan or soft, got %q", c.Application.Backend)
	}
	switch strings.ToLower(c.Application.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("application.log_level %q is not one of debug, info, warn, error", c.Application.LogLevel)
	}

	if c.Graphics() && (c.Window.Width == 0 || c.Window.Height == 0) {
		add("window size must be positive in graphics mode")
	}

	if _, err := probe.ParseQueueSelection(c.Device.QueueSelection); err != nil {
		add("device.queue_selection: %v", err)
	}
	if c.Device.MinAPIVersion != "" {
		if _, err := semver.NewConstraint(c.Device.MinAPIVersion); err != nil {
			add("device.min_api_version %q: %v", c.Device.MinAPIVersion, err)
		}
	}
	var features driver.PhysicalDeviceFeatures
	if unknown := features.Enable(c.Device.RequiredFeatures); len(unknown) > 0 {
		add("device.required_features: unknown features %v (known: %v)", unknown, driver.FeatureNames())
	}

	if c.Buffers.Size == 0 || c.Buffers.Size%4 != 0 {
		add("buffers.size must be a positive multiple of 4, got %d", c.Buffers.Size)
	}

	if c.Image.Width == 0 || c.Image.Height == 0 {
		add("image size must be positive")
	}
	if _, ok := driver.ParseFormat(c.Image.Format); !ok {
		add("image.format %q is unknown", c.Image.Format)
	}
	if c.Sparse.Enabled {
		if c.Sparse.Width == 0 || c.Sparse.Height == 0 || c.Sparse.MipLevels == 0 {
			add("sparse image size and mip_levels must be positive")
		}
		if _, ok := driver.ParseFormat(c.Sparse.Format); !ok {
			add("sparse.format %q is unknown", c.Sparse.Format)
		}
	}

	if c.Graphics() {
		if _, ok := driver.ParseFormat(c.Presentation.SurfaceFormat); !ok {
			add("presentation.surface_format %q is unknown", c.Presentation.SurfaceFormat)
		}
		if !strings.EqualFold(c.Presentation.ColorSpace, driver.ColorSpaceSrgbNonlinear.String()) {
			add("presentation.color_space %q is not supported", c.Presentation.ColorSpace)
		}
		if _, ok := driver.ParsePresentMode(c.Presentation.PresentMode); !ok {
			add("presentation.present_mode %q is unknown", c.Presentation.PresentMode)
		}
		if (c.Shaders.Vertex == "") != (c.Shaders.Fragment == "") {
			add("shaders.vertex and shaders.fragment must be set together")
		}
	}
	if c.Shaders.Compute == "" {
		add("shaders.compute is required")
	}

	if c.Timeouts.Fence.Duration <= 0 || c.Timeouts.Acquire.Duration <= 0 {
		add("timeouts must be positive")
	}
	if len(problems) > 0 {
		return errors.Newf("%d configuration problem(s): %s", len(problems), strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Graphics() bool {
	return c.Application.Mode == ModeGraphics
}

// Selection is the parsed queue selection. Validate has already accepted it.
func (c *Config) Selection() probe.QueueSelection {
	s, _ := probe.ParseQueueSelection(c.Device.QueueSelection)
	return s
}

func (c *Config) ImageFormat() driver.Format {
	f, _ := driver.ParseFormat(c.Image.Format)
	return f
}

func (c *Config) SparseFormat() driver.Format {
	f, _ := driver.ParseFormat(c.Sparse.Format)
	return f
}

func (c *Config) SurfaceFormat() driver.SurfaceFormat {
	f, _ := driver.ParseFormat(c.Presentation.SurfaceFormat)
	return driver.SurfaceFormat{Format: f, ColorSpace: driver.ColorSpaceSrgbNonlinear}
}

func (c *Config) PresentMode() driver.PresentMode {
	m, _ := driver.ParsePresentMode(c.Presentation.PresentMode)
	return m
}

func (c *Config) ClearColor() driver.ClearColor {
	return driver.ClearColor(c.Presentation.ClearColor)
}
