package catalog

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates a repository, tag or manifest is absent. Treated as
// item absence, never fatal to a fetch.
var ErrNotFound = errors.New("not found")

// ErrStaleGeneration indicates a fetch result arrived after its generation
// was cancelled or refreshed away; the result has been discarded.
var ErrStaleGeneration = errors.New("fetch generation is stale")

// ErrLocalUnavailable indicates no local container runtime binary was found.
// The local source renders as empty rather than failed.
var ErrLocalUnavailable = errors.New("no local container runtime available")

// ErrUnknownRegistry indicates a registry ID with no configured descriptor.
var ErrUnknownRegistry = errors.New("unknown registry")

// AuthError is a non-retryable credential failure. It surfaces distinctly
// because resolving it requires reconfiguration, not a retry.
type AuthError struct {
	Registry string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %s", e.Registry, e.Reason)
}

// NetworkError is a transient transport failure, already retried with
// bounded backoff by the time it propagates.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError is a malformed server or CLI payload. The offending item is
// skipped and logged; aggregation continues.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed payload from %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
