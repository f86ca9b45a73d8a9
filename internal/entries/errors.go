package entries

import "errors"

var (
	// ErrRootNotFound indicates the template root does not exist.
	ErrRootNotFound = errors.New("template root not found")

	// ErrRootNotDir indicates the template root is a file.
	ErrRootNotDir = errors.New("template root is not a directory")

	// ErrRootUnreadable indicates the template root exists but cannot be accessed.
	ErrRootUnreadable = errors.New("template root unreadable")

	// ErrWalkFailed indicates traversal of the template root failed part way.
	ErrWalkFailed = errors.New("template root walk failed")

	// ErrInvalidPattern indicates a malformed include or exclude glob.
	ErrInvalidPattern = errors.New("invalid glob pattern")

	// ErrDuplicateKey indicates two templates derive the same page key.
	ErrDuplicateKey = errors.New("duplicate page key")

	// ErrEmptyKey indicates a template name leaves nothing once its extension is removed.
	ErrEmptyKey = errors.New("empty page key")
)
