package cacher

import (
	"fmt"

	"github.com/any-hub/fetchcache/internal/fetch"
	"github.com/any-hub/fetchcache/internal/index"
)

// Errors re-exported from internal packages.
var (
	// ErrCorruptIndex is returned by New when the index file exists but cannot be parsed.
	ErrCorruptIndex = index.ErrCorruptIndex
)

type (
	// FetchExhaustedError is returned once the retry budget is spent.
	FetchExhaustedError = fetch.FetchExhaustedError
	// StatusError reports a non-2xx upstream response.
	StatusError = fetch.StatusError
)

// MaterializeError is returned by Download when neither a hard link nor a
// copy could produce the destination file.
type MaterializeError struct {
	Dest    string
	LinkErr error
	Err     error
}

func (e *MaterializeError) Error() string {
	return fmt.Sprintf("materialize %s: link: %v; copy: %v", e.Dest, e.LinkErr, e.Err)
}

func (e *MaterializeError) Unwrap() error {
	return e.Err
}
