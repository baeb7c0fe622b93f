/*
vkharness brings up a GPU device, runs the copy kernel over a pair of storage
buffers and, in graphics mode, presents frames to a window until it is closed.
*/
package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unsafe"

	"github.com/spaghettifunk/vkharness/engine"
	"github.com/spaghettifunk/vkharness/engine/config"
	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/platform"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/soft"
	"github.com/spaghettifunk/vkharness/engine/renderer/vulkan"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration")
	frames := flag.Uint64("frames", 0, "frames to run before exiting, 0 runs until interrupted")
	flag.Parse()

	if err := run(*configPath, *frames); err != nil {
		fatal(err)
	}
}

func run(configPath string, frames uint64) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return core.Fatal(err, "configuration")
	}
	core.SetLogLevel(core.ParseLogLevel(cfg.Application.LogLevel))

	slot := engine.NewSlot()

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			core.LogInfo("received %s, shutting down", sig)
			slot.Close()
		case <-slot.Done():
		}
	}()

	onQuit := func(core.EventContext) bool {
		slot.Close()
		return true
	}
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, slot, onQuit)
	core.EventRegister(core.EVENT_CODE_WINDOW_CLOSED, slot, onQuit)
	defer core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, slot)
	defer core.EventUnregister(core.EVENT_CODE_WINDOW_CLOSED, slot)

	var (
		plat *platform.Platform
		opts []engine.Option
	)
	if cfg.Graphics() {
		plat = platform.New()
		w := cfg.Window
		if err := plat.Startup(cfg.Application.Name, w.X, w.Y, w.Width, w.Height); err != nil {
			return core.Fatal(err, "window creation failed")
		}
		defer plat.Shutdown()
		opts = append(opts, engine.WithSurfaceSource(plat.Surface()))
	}

	drv, release, err := newDriver(cfg, plat)
	if err != nil {
		return err
	}
	defer release()

	e, err := engine.New(cfg, drv, opts...)
	if err != nil {
		return err
	}
	defer e.Terminate()
	if !slot.Publish(e) {
		return nil
	}

	app := engine.NewApplication(slot, frames)
	if !cfg.Graphics() {
		app.OnFrame = func(e *engine.Engine, frame uint64) error {
			if frame == 0 {
				return summarize(e)
			}
			return nil
		}
		if err := app.Run(); err != nil {
			return err
		}
		if frames > 1 && !slot.Closed() {
			return summarize(e)
		}
		return nil
	}

	// GLFW needs its events pumped on the main thread while frames render
	// elsewhere.
	done := make(chan error, 1)
	go func() {
		done <- app.Run()
		plat.Wake()
	}()
	for {
		select {
		case err := <-done:
			return err
		default:
		}
		plat.PumpMessages()
		if plat.ShouldClose() {
			slot.Close()
		}
	}
}

// loadConfig falls back to the defaults when the default file is absent.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && path == "config.toml" {
		core.LogWarn("no %s found, using the default configuration", path)
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func newDriver(cfg *config.Config, plat *platform.Platform) (driver.Driver, func(), error) {
	if cfg.Application.Backend == config.BackendSoft {
		core.LogInfo("using the software driver")
		return soft.New(soft.DefaultConfig()), func() {}, nil
	}
	var procAddr unsafe.Pointer
	if plat != nil {
		procAddr = plat.ProcAddr()
	}
	d, err := vulkan.New(procAddr)
	if err != nil {
		return nil, nil, core.Fatal(err, "vulkan is unavailable")
	}
	return d, d.Close, nil
}

func summarize(e *engine.Engine) error {
	out, err := e.Output()
	if err != nil {
		return err
	}
	if len(out) > 0 && bytes.Count(out, out[:1]) == len(out) {
		fmt.Printf("buffer b: %d bytes, every byte 0x%02x\n", len(out), out[0])
		return nil
	}
	head := out[:min(len(out), 16)]
	fmt.Printf("buffer b: %d bytes, starts %s\n", len(out), hex.EncodeToString(head))
	return nil
}

// fatal reports err and blocks until Enter is pressed, then exits with a
// failure status.
func fatal(err error) {
	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	core.LogDebug("%+v", err)
	fmt.Fprintln(os.Stderr, "press Enter to exit")
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
	os.Exit(1)
}
