// Package entries discovers page templates under a template root and maps each real
// page to its output document.
//
// A discovery pass produces an immutable Set. Watch mode never patches a Set in place:
// the Tracker rediscovers the root and swaps in a new snapshot.
package entries

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// TemplateFile is a template source found while scanning the root.
type TemplateFile struct {
	Path    string // Absolute path
	RelPath string // Slash separated path relative to the template root
}

// Entry is one page to generate: template in, <Key>.html out.
type Entry struct {
	Key      string
	Template TemplateFile
	Output   string // Slash separated path relative to the output root
}

// KeyFor derives the page key of a template from its path relative to the root:
// the extension of the file name is stripped and separators are normalised to "/".
func KeyFor(rel string) string {
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, path.Ext(rel))
}

// OutputFor returns the output document path of a page key.
func OutputFor(key string) string {
	return key + ".html"
}

// Set maps page keys to entries. It is never modified once built.
type Set struct {
	root     string
	entries  map[string]Entry
	keys     []string
	byPath   map[string]string
	partials []TemplateFile
	partial  map[string]struct{}
}

func newSet(root string, pages []Entry, partials []TemplateFile) *Set {
	s := &Set{
		root:     root,
		entries:  make(map[string]Entry, len(pages)),
		keys:     make([]string, 0, len(pages)),
		byPath:   make(map[string]string, len(pages)),
		partials: partials,
		partial:  make(map[string]struct{}, len(partials)),
	}
	for _, e := range pages {
		s.entries[e.Key] = e
		s.keys = append(s.keys, e.Key)
		s.byPath[e.Template.RelPath] = e.Key
	}
	sort.Strings(s.keys)
	sort.Slice(s.partials, func(i, j int) bool { return s.partials[i].RelPath < s.partials[j].RelPath })
	for _, p := range partials {
		s.partial[p.RelPath] = struct{}{}
	}
	return s
}

// Root is the absolute template root the set was discovered from.
func (s *Set) Root() string {
	return s.root
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the page keys in lexical order.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Entries returns every entry ordered by key.
func (s *Set) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.entries[k])
	}
	return out
}

func (s *Set) Get(key string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	e, ok := s.entries[key]
	return e, ok
}

// Lookup finds the entry generated from the template at relPath.
func (s *Set) Lookup(relPath string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	key, ok := s.byPath[relPath]
	if !ok {
		return Entry{}, false
	}
	return s.entries[key], true
}

// Partials returns the templates that matched an include rule but were excluded.
func (s *Set) Partials() []TemplateFile {
	if s == nil {
		return nil
	}
	out := make([]TemplateFile, len(s.partials))
	copy(out, s.partials)
	return out
}

func (s *Set) IsPartial(relPath string) bool {
	if s == nil {
		return false
	}
	_, ok := s.partial[relPath]
	return ok
}

// Equal compares keys, template paths and output paths.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, k := range s.Keys() {
		a := s.entries[k]
		b, ok := o.Get(k)
		if !ok || a.Template.RelPath != b.Template.RelPath || a.Output != b.Output {
			return false
		}
	}
	return true
}

// Diff lists the keys present only in next (added) and only in s (removed).
func (s *Set) Diff(next *Set) (added, removed []string) {
	for _, k := range next.Keys() {
		if _, ok := s.Get(k); !ok {
			added = append(added, k)
		}
	}
	for _, k := range s.Keys() {
		if _, ok := next.Get(k); !ok {
			removed = append(removed, k)
		}
	}
	return added, removed
}
