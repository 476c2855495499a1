// Package corpus indexes the compiler's test-suite checkout as a pool of
// host programs ("contexts") into which a buggy pattern can be transplanted.
//
// The pool is scanned once at startup to build a path-derived tag index;
// source text is loaded lazily on first use and shared read-only afterwards.
package corpus

import (
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lulan-cc/RICE/internal/logging"
	"github.com/lulan-cc/RICE/internal/pattern"
)

// Context is one candidate host file. Immutable; safe for concurrent reads.
type Context struct {
	ID   string   // path relative to the corpus root
	Path string   // absolute path
	Tags []string // lowercase categories derived from the relative path

	once sync.Once
	src  string
	err  error
}

// Source returns the file's text, reading it on first call.
func (c *Context) Source() (string, error) {
	c.once.Do(func() {
		data, err := os.ReadFile(c.Path)
		if err != nil {
			c.err = fmt.Errorf("read context %s: %w", c.ID, err)
			return
		}
		c.src = string(data)
	})
	return c.src, c.err
}

// Pool is the indexed context corpus.
type Pool struct {
	root     string
	contexts []*Context
	byTag    map[string][]int // tag -> indices into contexts

	mu  sync.Mutex
	rng *rand.Rand
}

// Scan walks root for .rs files and builds the tag index. Directories named
// like tests/ui/<category>/... contribute their path segments as tags.
func Scan(root string, seed int64) (*Pool, error) {
	p := &Pool{
		root:  root,
		byTag: make(map[string][]int),
		rng:   rand.New(rand.NewSource(seed)),
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".rs") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		ctx := &Context{ID: rel, Path: path, Tags: tagsFromPath(rel)}
		idx := len(p.contexts)
		p.contexts = append(p.contexts, ctx)
		for _, tag := range ctx.Tags {
			p.byTag[tag] = append(p.byTag[tag], idx)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan corpus %s: %w", root, err)
	}
	if len(p.contexts) == 0 {
		return nil, fmt.Errorf("corpus %s contains no .rs files", root)
	}
	logging.New("corpus").Info("corpus indexed", "root", root, "contexts", len(p.contexts), "tags", len(p.byTag))
	return p, nil
}

// Size reports the number of indexed contexts.
func (p *Pool) Size() int { return len(p.contexts) }

// Sample draws up to k contexts for the pattern, preferring contexts whose
// tags overlap the pattern's applicability hints and falling back to uniform
// sampling over the remainder. Contexts in exclude are never returned, which
// gives the caller sampling without replacement across rounds.
func (p *Pool) Sample(pat *pattern.BuggyPattern, k int, exclude map[string]bool) []*Context {
	if k <= 0 {
		return nil
	}

	hinted := map[int]bool{}
	if pat != nil {
		for _, hint := range pat.Hints {
			for _, idx := range p.byTag[hint] {
				hinted[idx] = true
			}
		}
	}

	var preferred, rest []*Context
	for i, ctx := range p.contexts {
		if exclude[ctx.ID] {
			continue
		}
		if hinted[i] {
			preferred = append(preferred, ctx)
		} else {
			rest = append(rest, ctx)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.rng.Shuffle(len(preferred), func(i, j int) { preferred[i], preferred[j] = preferred[j], preferred[i] })
	p.rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	out := preferred
	if len(out) > k {
		return out[:k]
	}
	need := k - len(out)
	if need > len(rest) {
		need = len(rest)
	}
	return append(out, rest[:need]...)
}

// tagsFromPath turns "traits/assoc-type-ice.rs" into tags
// ["traits", "assoc", "type", "ice"].
func tagsFromPath(rel string) []string {
	rel = strings.TrimSuffix(rel, ".rs")
	seen := map[string]bool{}
	var tags []string
	for _, seg := range strings.FieldsFunc(rel, func(r rune) bool {
		return r == '/' || r == '\\' || r == '-' || r == '_' || r == '.'
	}) {
		seg = strings.ToLower(seg)
		if len(seg) < 3 || seen[seg] {
			continue
		}
		seen[seg] = true
		tags = append(tags, seg)
	}
	return tags
}
