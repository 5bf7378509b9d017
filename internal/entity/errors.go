package entity

import "errors"

// Sentinel errors forming the caller-visible taxonomy. External fetch
// failures are deliberately not a sentinel: the source's own error text is
// passed through verbatim in the response envelope.
var (
	// ErrMissingContext means a required context value (e.g. a twitter
	// handle) could not be resolved before calling a source.
	ErrMissingContext = errors.New("missing context")

	// ErrNoFetchFunction means no source is registered for the
	// (entity type, field) pair.
	ErrNoFetchFunction = errors.New("no fetch function")

	// ErrRefreshTool means the external refresh tool reported failure
	// before a forced voting_record fetch.
	ErrRefreshTool = errors.New("refresh tool failed")

	// ErrStorage wraps failures from the underlying store. Distinct from
	// a miss: unknown fields return found=false without error.
	ErrStorage = errors.New("storage error")

	// ErrNotFound means the entity row does not exist (or its stored type
	// does not match the requested type).
	ErrNotFound = errors.New("entity not found")

	// ErrUnknownRequestType means the router has no handler for the
	// request's type.
	ErrUnknownRequestType = errors.New("unknown request type")
)
