package entries

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Op describes a filesystem change, several ops may be set at once.
type Op uint32

const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
)

func (op Op) Has(o Op) bool {
	return op&o == o
}

func (op Op) String() string {
	var parts []string
	if op.Has(Create) {
		parts = append(parts, "CREATE")
	}
	if op.Has(Write) {
		parts = append(parts, "WRITE")
	}
	if op.Has(Remove) {
		parts = append(parts, "REMOVE")
	}
	if op.Has(Rename) {
		parts = append(parts, "RENAME")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Event is a change observed on Path (absolute or relative to the working directory).
type Event struct {
	Path string
	Op   Op
}

// Change is the outcome of applying events to a Tracker.
type Change struct {
	Set *Set

	Added    []string // Keys that appeared
	Removed  []string // Keys that disappeared
	Modified []string // Keys whose template content changed, key unchanged

	// PartialsChanged is set when an excluded template was touched. Any page may
	// include it, so every page needs a new render.
	PartialsChanged bool
}

// Empty reports whether nothing needs to be regenerated.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Modified) == 0 && !c.PartialsChanged
}

// Tracker keeps the current Set of a template root up to date.
type Tracker struct {
	root  string
	rules Rules

	// Held from discovery to swap
	scanMu sync.Mutex

	mu      sync.RWMutex
	current *Set
}

// NewTracker runs a first discovery of root.
func NewTracker(root string, rules Rules) (*Tracker, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	t := &Tracker{root: abs, rules: rules}
	if _, err := t.Rescan(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) Root() string {
	return t.root
}

func (t *Tracker) Rules() Rules {
	return t.rules
}

// Current returns the latest snapshot.
func (t *Tracker) Current() *Set {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Rescan rediscovers the root. The previous snapshot is kept on error.
func (t *Tracker) Rescan() (*Set, error) {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()
	return t.rescan()
}

func (t *Tracker) rescan() (*Set, error) {
	set, err := Discover(t.root, t.rules.Include, t.rules.Exclude)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.current = set
	t.mu.Unlock()
	return set, nil
}

// Relative returns the slash separated path of p inside the root, false when p lies
// outside of it.
func (t *Tracker) Relative(p string) (string, bool) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// OnChange applies a batch of events. The root is rediscovered once per call so the
// result always matches the filesystem at the time of the call, whatever the order
// or number of events in the batch.
func (t *Tracker) OnChange(events ...Event) (Change, error) {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	prev := t.Current()

	type touched struct {
		rel string
		op  Op
	}
	var inRoot []touched
	for _, ev := range events {
		if rel, ok := t.Relative(ev.Path); ok {
			inRoot = append(inRoot, touched{rel: rel, op: ev.Op})
		}
	}
	if len(inRoot) == 0 {
		return Change{Set: prev}, nil
	}

	next, err := t.rescan()
	if err != nil {
		return Change{Set: prev}, err
	}

	change := Change{Set: next}
	change.Added, change.Removed = prev.Diff(next)
	// A directory of partials moved in or out of the root only reports the directory
	change.PartialsChanged = !samePartials(prev.Partials(), next.Partials())

	added := make(map[string]struct{}, len(change.Added))
	for _, k := range change.Added {
		added[k] = struct{}{}
	}

	seen := make(map[string]struct{})
	for _, ev := range inRoot {
		if prev.IsPartial(ev.rel) || next.IsPartial(ev.rel) {
			change.PartialsChanged = true
			continue
		}
		if !ev.op.Has(Write) && !ev.op.Has(Create) {
			continue
		}
		e, ok := next.Lookup(ev.rel)
		if !ok {
			continue
		}
		if _, isNew := added[e.Key]; isNew {
			continue
		}
		if _, dup := seen[e.Key]; dup {
			continue
		}
		seen[e.Key] = struct{}{}
		change.Modified = append(change.Modified, e.Key)
	}
	sort.Strings(change.Modified)

	return change, nil
}

func samePartials(a, b []TemplateFile) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].RelPath != b[i].RelPath {
			return false
		}
	}
	return true
}
