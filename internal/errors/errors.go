// Package errors classifies build failures. Configuration errors abort a build before
// any output is written, render errors are isolated to a single page and asset errors
// to a single pipeline stage.
package errors

import (
	"errors"
	"strings"
)

// Kind is the category of a BuildError.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindRender        Kind = "render"
	KindAsset         Kind = "asset"
)

// ContextFields carries structured context for BuildError
type ContextFields map[string]any

// BuildError is a structured error with a kind and the page or stage it belongs to.
type BuildError struct {
	Kind    Kind          `json:"kind"`
	Message string        `json:"message"`
	Key     string        `json:"key,omitempty"`
	Stage   string        `json:"stage,omitempty"`
	Paths   []string      `json:"paths,omitempty"`
	Cause   error         `json:"cause,omitempty"`
	Context ContextFields `json:"context,omitempty"`
}

func (e *BuildError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Stage != "" {
		sb.WriteString(" [" + e.Stage + "]")
	}
	if e.Key != "" {
		sb.WriteString(" [" + e.Key + "]")
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.Paths) > 0 {
		sb.WriteString(" (" + strings.Join(e.Paths, ", ") + ")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *BuildError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *BuildError) WithContext(key string, value any) *BuildError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// Configuration creates a fatal configuration error naming the offending paths.
func Configuration(message string, paths ...string) *BuildError {
	return &BuildError{
		Kind:    KindConfiguration,
		Message: message,
		Paths:   paths,
	}
}

// WrapConfiguration is Configuration with an underlying cause.
func WrapConfiguration(err error, message string, paths ...string) *BuildError {
	return &BuildError{
		Kind:    KindConfiguration,
		Message: message,
		Paths:   paths,
		Cause:   err,
	}
}

// Render creates an error for a single page that failed to render or to be written.
func Render(key, path string, err error) *BuildError {
	return &BuildError{
		Kind:    KindRender,
		Message: "page generation failed",
		Key:     key,
		Paths:   []string{path},
		Cause:   err,
	}
}

// Asset creates an error for a style, script or image stage failure.
func Asset(stage, path string, err error) *BuildError {
	e := &BuildError{
		Kind:    KindAsset,
		Message: "asset pipeline failed",
		Stage:   stage,
		Cause:   err,
	}
	if path != "" {
		e.Paths = []string{path}
	}
	return e
}

// KindOf returns the kind of the first BuildError in err's chain, or "" if none.
func KindOf(err error) Kind {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsKind checks if err wraps a BuildError of the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsFatal reports whether err must abort the build.
func IsFatal(err error) bool {
	return IsKind(err, KindConfiguration)
}
