package entries

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	berrors "github.com/toastate/toastpage/internal/errors"
)

// Rules selects page templates. Patterns are matched against slash separated paths
// relative to the template root; an exclude match always wins over an include match.
type Rules struct {
	Include []string
	Exclude []string
}

// DefaultRules treats every .html template as a page, except "_" prefixed partials.
func DefaultRules() Rules {
	return Rules{
		Include: []string{"**/*.html"},
		Exclude: []string{"**/_*.html"},
	}
}

// Validate rejects malformed glob patterns.
func (r Rules) Validate() error {
	for _, list := range [][]string{r.Include, r.Exclude} {
		for _, p := range list {
			if p == "" || !doublestar.ValidatePattern(p) {
				return berrors.WrapConfiguration(fmt.Errorf("%w: %q", ErrInvalidPattern, p), "invalid glob pattern")
			}
		}
	}
	return nil
}

// IsCandidate reports whether rel matches an include pattern.
func (r Rules) IsCandidate(rel string) bool {
	return matchAny(r.Include, rel)
}

// IsExcluded reports whether rel matches an exclude pattern.
func (r Rules) IsExcluded(rel string) bool {
	return matchAny(r.Exclude, rel)
}

// IsPage reports whether rel is included and not excluded.
func (r Rules) IsPage(rel string) bool {
	return r.IsCandidate(rel) && !r.IsExcluded(rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		// Validate has already run, the error can only be ErrBadPattern
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
