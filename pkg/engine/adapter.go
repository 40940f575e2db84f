// Package engine defines the black-box interface the worker runtime
// calls into to actually parse a document, plus a name-based registry
// of adapters and a handful of stub implementations that make the
// orchestration core exercisable without real GPU engines present.
package engine

import (
	"context"
	"fmt"
)

// ParseInput carries everything an adapter needs to process one task.
type ParseInput struct {
	TaskID    string
	FilePath  string
	Options   map[string]any
	OutputDir string
	// CancelRequested is polled by adapters that can check cooperatively
	// between processing steps; adapters that cannot check (e.g. a
	// single blocking subprocess call) may ignore it, in which case the
	// worker discards the artifact post-hoc instead.
	CancelRequested func() bool
}

// ParseResult names the artifacts an adapter produced, relative to
// OutputDir. JSONFile is empty if the adapter produces markdown only.
type ParseResult struct {
	MarkdownFile string
	JSONFile     string
}

// Adapter is the engine-facing contract. A nil error means success; a
// plain error is permanent, a *TransientError is retryable.
type Adapter interface {
	Parse(ctx context.Context, in ParseInput) (ParseResult, error)
}

// TransientError marks an adapter failure as retryable (network blip,
// OOM, model warm-up, I/O hiccup), resolving the ambiguity spec.md §9
// left about explicit-vs-inferred retry classification: the adapter
// itself decides, not a string-matching heuristic on its error text.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient engine error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a
// *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return asTransient(err, &te)
}

func asTransient(err error, target **TransientError) bool {
	for err != nil {
		if te, ok := err.(*TransientError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
