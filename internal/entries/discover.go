package entries

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	berrors "github.com/toastate/toastpage/internal/errors"
	"github.com/toastate/toastpage/internal/tlogger"
)

// Discover walks rootDir and returns the pages selected by the include and exclude
// patterns. Any failure is a configuration error: a missing or unreadable root, a
// malformed pattern, or two templates deriving the same key.
func Discover(rootDir string, include, exclude []string) (*Set, error) {
	rules := Rules{Include: include, Exclude: exclude}
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, berrors.WrapConfiguration(fmt.Errorf("%w: %w", ErrRootUnreadable, err), "cannot resolve template root", rootDir)
	}

	info, err := os.Stat(root)
	switch {
	case os.IsNotExist(err):
		return nil, berrors.WrapConfiguration(ErrRootNotFound, "template root not found", root)
	case err != nil:
		return nil, berrors.WrapConfiguration(fmt.Errorf("%w: %w", ErrRootUnreadable, err), "template root unreadable", root)
	case !info.IsDir():
		return nil, berrors.WrapConfiguration(ErrRootNotDir, "template root is not a directory", root)
	}

	var (
		pages    []Entry
		partials []TemplateFile
		owners   = make(map[string]string)
	)

	err = filepath.WalkDir(root, func(absolutepath string, d fs.DirEntry, err error) error {
		if err != nil {
			return berrors.WrapConfiguration(fmt.Errorf("%w: %w", ErrWalkFailed, err), "cannot read template root", absolutepath)
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, absolutepath)
		if err != nil {
			return berrors.WrapConfiguration(fmt.Errorf("%w: %w", ErrWalkFailed, err), "cannot resolve template path", absolutepath)
		}
		rel = filepath.ToSlash(rel)

		if !rules.IsCandidate(rel) {
			return nil
		}

		file := TemplateFile{Path: absolutepath, RelPath: rel}
		if rules.IsExcluded(rel) {
			tlogger.Debug("entries", "discover", "msg", "partial", "file", rel)
			partials = append(partials, file)
			return nil
		}

		key := KeyFor(rel)
		if key == "" || key[len(key)-1] == '/' {
			return berrors.WrapConfiguration(ErrEmptyKey, "cannot derive page key", absolutepath)
		}
		if other, ok := owners[key]; ok {
			return berrors.WrapConfiguration(ErrDuplicateKey, fmt.Sprintf("page key %q derived from two templates", key), other, absolutepath)
		}
		owners[key] = absolutepath

		pages = append(pages, Entry{
			Key:      key,
			Template: file,
			Output:   OutputFor(key),
		})
		tlogger.Debug("entries", "discover", "msg", "page", "file", rel, "key", key)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return newSet(root, pages, partials), nil
}
