package toolchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingBuilder records how many underlying builds actually ran.
type countingBuilder struct {
	builds atomic.Int32
	delay  time.Duration
	fail   bool
}

func (b *countingBuilder) Build(ctx context.Context, revision string) (string, error) {
	b.builds.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.fail {
		return "", fmt.Errorf("x.py exploded")
	}
	return "/fake/build/" + revision + "/stage1/bin/rustc", nil
}

func TestEnsureBuilt_CachesPerRevision(t *testing.T) {
	cb := &countingBuilder{}
	m := NewManager(cb)

	h1, err := m.EnsureBuilt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("EnsureBuilt: %v", err)
	}
	h2, err := m.EnsureBuilt(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("EnsureBuilt cached: %v", err)
	}
	if h1 != h2 {
		t.Error("cached call should return the same handle")
	}
	if got := cb.builds.Load(); got != 1 {
		t.Errorf("want 1 build, got %d", got)
	}
}

func TestEnsureBuilt_SingleFlightUnderConcurrency(t *testing.T) {
	cb := &countingBuilder{delay: 50 * time.Millisecond}
	m := NewManager(cb)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.EnsureBuilt(context.Background(), "deadbeef")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := cb.builds.Load(); got != 1 {
		t.Errorf("want exactly 1 build under concurrency, got %d", got)
	}
}

func TestEnsureBuilt_DistinctRevisionsBuildSeparately(t *testing.T) {
	cb := &countingBuilder{}
	m := NewManager(cb)

	if _, err := m.EnsureBuilt(context.Background(), "rev-a"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.EnsureBuilt(context.Background(), "rev-b"); err != nil {
		t.Fatal(err)
	}
	if got := cb.builds.Load(); got != 2 {
		t.Errorf("want 2 builds, got %d", got)
	}
}

func TestEnsureBuilt_WrapsBuildError(t *testing.T) {
	m := NewManager(&countingBuilder{fail: true})

	_, err := m.EnsureBuilt(context.Background(), "bad")
	var berr *BuildError
	if !errors.As(err, &berr) {
		t.Fatalf("want BuildError, got %v", err)
	}
	if berr.Revision != "bad" {
		t.Errorf("revision: %q", berr.Revision)
	}
}

func TestPrebuiltBuilder_MissingBinary(t *testing.T) {
	b := &PrebuiltBuilder{RustcPath: "/no/such/rustc"}
	if _, err := b.Build(context.Background(), "nightly"); err == nil {
		t.Fatal("want error for missing prebuilt binary")
	}
}
