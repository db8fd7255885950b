package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlasrisk/atlas/internal/risk"
)

var modelLoads = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "atlas",
		Subsystem: "model",
		Name:      "loads_total",
		Help:      "Model artifact load attempts by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(modelLoads)
}

// Registry loads model artifacts from wherever the training pipeline
// publishes them.
type Registry interface {
	Load(ctx context.Context) (*Artifact, error)
}

// FileRegistry reads a JSON artifact from local disk.
type FileRegistry struct {
	path string
}

var _ Registry = (*FileRegistry)(nil)

// NewFileRegistry returns a registry reading the artifact at path.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

// Load reads and validates the artifact file.
func (r *FileRegistry) Load(ctx context.Context) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", r.path, err)
	}
	return Parse(data)
}

// DirRegistry serves the newest .json artifact in a directory. The
// training pipeline publishes versioned files and leaves old ones in
// place for rollback; newest means last published (mtime, name as the
// tiebreak).
type DirRegistry struct {
	dir string
}

var _ Registry = (*DirRegistry)(nil)

// NewDirRegistry returns a registry reading artifacts from dir.
func NewDirRegistry(dir string) *DirRegistry {
	return &DirRegistry{dir: dir}
}

// Load reads and validates the newest artifact in the directory.
func (r *DirRegistry) Load(ctx context.Context) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read model directory %s: %w", r.dir, err)
	}

	var newest string
	var newestAt time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		switch {
		case newest == "",
			info.ModTime().After(newestAt),
			info.ModTime().Equal(newestAt) && e.Name() > newest:
			newest = e.Name()
			newestAt = info.ModTime()
		}
	}
	if newest == "" {
		return nil, fmt.Errorf("no model artifact in %s: %w", r.dir, risk.ErrModelUnavailable)
	}

	data, err := os.ReadFile(filepath.Join(r.dir, newest))
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", newest, err)
	}
	return Parse(data)
}

// RegistryFor picks the registry matching path: a DirRegistry for a
// directory, a FileRegistry for anything else, and the built-in demo
// artifact when path is empty.
func RegistryFor(path string) Registry {
	if path == "" {
		return NewStaticRegistry(Builtin())
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return NewDirRegistry(path)
	}
	return NewFileRegistry(path)
}

// StaticRegistry serves a fixed in-memory artifact. Used for the
// built-in model and in tests.
type StaticRegistry struct {
	artifact *Artifact
}

var _ Registry = (*StaticRegistry)(nil)

// NewStaticRegistry returns a registry that always serves a.
func NewStaticRegistry(a *Artifact) *StaticRegistry {
	return &StaticRegistry{artifact: a}
}

// Load returns the fixed artifact.
func (r *StaticRegistry) Load(ctx context.Context) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.artifact == nil {
		return nil, risk.ErrModelUnavailable
	}
	return r.artifact, nil
}

// Handle is the scoring path's view of the currently servable artifact.
// Swaps are atomic; in-flight scores keep the artifact they started
// with.
type Handle struct {
	cur atomic.Pointer[Artifact]
}

// NewHandle returns a handle serving a, which may be nil until the
// first successful Reload.
func NewHandle(a *Artifact) *Handle {
	h := &Handle{}
	if a != nil {
		h.cur.Store(a)
	}
	return h
}

// Current returns the servable artifact, or ErrModelUnavailable when
// none is loaded.
func (h *Handle) Current() (*Artifact, error) {
	a := h.cur.Load()
	if a == nil {
		return nil, risk.ErrModelUnavailable
	}
	return a, nil
}

// Version returns the loaded artifact's version, or "" when none is.
func (h *Handle) Version() string {
	if a := h.cur.Load(); a != nil {
		return a.Version
	}
	return ""
}

// Swap installs a new artifact and returns the previous one.
func (h *Handle) Swap(a *Artifact) *Artifact {
	return h.cur.Swap(a)
}

// Reload pulls the registry's current artifact into the handle. On
// failure the previously loaded artifact keeps serving.
func (h *Handle) Reload(ctx context.Context, r Registry) error {
	a, err := r.Load(ctx)
	if err != nil {
		modelLoads.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load model artifact: %w", err)
	}
	modelLoads.WithLabelValues("ok").Inc()
	h.Swap(a)
	return nil
}
