// Package viewer opens a generated composite in a local image viewer.
package viewer

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/pders01/covers/internal/config"
)

type Launcher struct {
	registry *Registry
	viewer   string

	lookPath func(string) (string, error)
	start    func(*exec.Cmd) error
}

// NewLauncher picks the first installed viewer configured for this
// platform, falling back to the default opener.
func NewLauncher(cfg config.ViewerConfig) *Launcher {
	registry, err := NewRegistry()
	if err != nil {
		// Continue with bare invocations if definitions can't be loaded
		registry = &Registry{viewers: make(map[string]Definition), goos: runtime.GOOS}
	}
	return newLauncher(cfg, registry, exec.LookPath, startDetached)
}

func newLauncher(cfg config.ViewerConfig, registry *Registry, lookPath func(string) (string, error), start func(*exec.Cmd) error) *Launcher {
	l := &Launcher{registry: registry, lookPath: lookPath, start: start}

	var candidates []string
	switch registry.goos {
	case "darwin":
		candidates = cfg.Darwin
	case "windows":
		candidates = cfg.Windows
	default:
		candidates = cfg.Linux
	}
	l.viewer = l.find(candidates...)
	if l.viewer == "" {
		l.viewer = cfg.DefaultOpener
	}
	return l
}

func (l *Launcher) find(viewers ...string) string {
	for _, v := range viewers {
		if _, err := l.lookPath(l.registry.Executable(v)); err == nil {
			return v
		}
	}
	return ""
}

// Viewer is the chosen viewer name, empty when none is available.
func (l *Launcher) Viewer() string {
	return l.viewer
}

// Open starts the viewer on the image at path without waiting for it.
func (l *Launcher) Open(path string) error {
	if l.viewer == "" {
		return fmt.Errorf("no image viewer found")
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("detecting type of %s: %w", path, err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return fmt.Errorf("%s is not an image (%s)", path, mt.String())
	}

	cmd, err := l.registry.Command(l.viewer, path)
	if err != nil {
		cmd = exec.Command(l.viewer, path)
	}
	if err := l.start(cmd); err != nil {
		return fmt.Errorf("failed to start %s: %w", l.viewer, err)
	}
	return nil
}

// startDetached starts GUI applications without blocking on them.
func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}
