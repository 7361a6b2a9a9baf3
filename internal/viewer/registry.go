package viewer

import (
	_ "embed"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

//go:embed viewers.toml
var viewersTOML []byte

// Definition describes how to invoke one viewer.
type Definition struct {
	Description string   `toml:"description"`
	Platforms   []string `toml:"platforms"`
	// Command overrides the executable when it differs from the viewer name.
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args"`
}

type viewersFile struct {
	Viewers map[string]Definition `toml:"viewers"`
}

// Registry holds viewer definitions by name.
type Registry struct {
	viewers map[string]Definition
	goos    string
}

// NewRegistry loads the built-in definitions, then any user overrides.
func NewRegistry() (*Registry, error) {
	r, err := parseRegistry(viewersTOML)
	if err != nil {
		return nil, err
	}

	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "covers", "viewers.toml"))
	}
	paths = append(paths, "viewers.toml")
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := r.merge(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return r, nil
}

func parseRegistry(data []byte) (*Registry, error) {
	r := &Registry{viewers: make(map[string]Definition), goos: runtime.GOOS}
	if err := r.merge(data); err != nil {
		return nil, fmt.Errorf("parsing viewers.toml: %w", err)
	}
	return r, nil
}

func (r *Registry) merge(data []byte) error {
	var file viewersFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return err
	}
	for name, def := range file.Viewers {
		r.viewers[name] = def
	}
	return nil
}

// Command builds the invocation of viewer for path. Unknown viewers are run
// with the path as their only argument.
func (r *Registry) Command(viewer, path string) (*exec.Cmd, error) {
	def, ok := r.viewers[viewer]
	if !ok {
		return exec.Command(viewer, path), nil
	}
	if !r.supports(def) {
		return nil, fmt.Errorf("%s not supported on %s", viewer, r.goos)
	}

	name := viewer
	if def.Command != "" {
		name = def.Command
	}
	args := append(append([]string(nil), def.Args...), path)
	return exec.Command(name, args...), nil
}

func (r *Registry) supports(def Definition) bool {
	if len(def.Platforms) == 0 {
		return true
	}
	for _, p := range def.Platforms {
		if p == r.goos {
			return true
		}
	}
	return false
}

// Executable is the binary that must be on PATH for viewer to run.
func (r *Registry) Executable(viewer string) string {
	if def, ok := r.viewers[viewer]; ok && def.Command != "" {
		return def.Command
	}
	return viewer
}
