// Package toolchain materializes pinned compiler builds and runs candidate
// programs against them.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lulan-cc/RICE/internal/logging"
)

// Handle identifies a usable compiler binary for one source revision.
type Handle struct {
	Revision  string
	RustcPath string
}

// BuildError is an infrastructure failure of the build itself. It is never a
// discovered defect and must never be classified as one.
type BuildError struct {
	Revision string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build for revision %s failed: %v", e.Revision, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Builder performs the external build procedure for one revision and returns
// the path to the produced rustc binary.
type Builder interface {
	Build(ctx context.Context, revision string) (string, error)
}

// Manager caches toolchain handles per revision. Concurrent EnsureBuilt calls
// for the same revision share a single in-flight build.
type Manager struct {
	builder Builder

	mu    sync.Mutex
	cache map[string]*Handle
	group singleflight.Group
}

func NewManager(builder Builder) *Manager {
	return &Manager{builder: builder, cache: make(map[string]*Handle)}
}

// EnsureBuilt returns a handle for the revision, building it when absent from
// the cache. At most one underlying build per revision is ever in flight.
func (m *Manager) EnsureBuilt(ctx context.Context, revision string) (*Handle, error) {
	m.mu.Lock()
	if h, ok := m.cache[revision]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(revision, func() (any, error) {
		start := time.Now()
		logging.New("toolchain").Info("building compiler", "revision", revision)
		path, err := m.builder.Build(ctx, revision)
		if err != nil {
			return nil, &BuildError{Revision: revision, Err: err}
		}
		h := &Handle{Revision: revision, RustcPath: path}
		m.mu.Lock()
		m.cache[revision] = h
		m.mu.Unlock()
		logging.New("toolchain").Info("compiler ready", "revision", revision, "rustc", path, "elapsed", time.Since(start))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// ScriptBuilder builds the compiler from a source checkout the way the rust
// repo expects: checkout the revision, then ./x.py build, then resolve the
// stage1 rustc under build/.
type ScriptBuilder struct {
	RepoDir string
	// BuildArgs overrides the default "./x.py build --stage 1" invocation.
	BuildArgs []string
}

func (b *ScriptBuilder) Build(ctx context.Context, revision string) (string, error) {
	checkout := exec.CommandContext(ctx, "git", "checkout", revision)
	checkout.Dir = b.RepoDir
	if out, err := checkout.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git checkout %s: %v: %s", revision, err, out)
	}

	args := b.BuildArgs
	if len(args) == 0 {
		args = []string{"./x.py", "build", "--stage", "1"}
	}
	build := exec.CommandContext(ctx, args[0], args[1:]...)
	build.Dir = b.RepoDir
	if out, err := build.CombinedOutput(); err != nil {
		return "", fmt.Errorf("%v: %v: %s", args, err, tail(out, 2048))
	}

	rustc, err := b.findStage1Rustc()
	if err != nil {
		return "", err
	}
	return rustc, nil
}

// findStage1Rustc locates build/<host-triple>/stage1/bin/rustc.
func (b *ScriptBuilder) findStage1Rustc() (string, error) {
	buildDir := filepath.Join(b.RepoDir, "build")
	entries, err := os.ReadDir(buildDir)
	if err != nil {
		return "", fmt.Errorf("read build dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(buildDir, e.Name(), "stage1", "bin", "rustc")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no stage1 rustc under %s", buildDir)
}

// PrebuiltBuilder short-circuits the build with an existing binary, used for
// nightly-channel runs and tests.
type PrebuiltBuilder struct {
	RustcPath string
}

func (b *PrebuiltBuilder) Build(ctx context.Context, revision string) (string, error) {
	if _, err := os.Stat(b.RustcPath); err != nil {
		return "", fmt.Errorf("prebuilt rustc %s: %w", b.RustcPath, err)
	}
	return b.RustcPath, nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
