package errors

import "errors"

// Credential errors.
var (
	ErrNoCredential = errors.New("no stored credential")
)

// Local state errors.
var (
	ErrDraftNotFound = errors.New("draft not found")
)

// Portal metadata errors.
var (
	ErrNoListSeries = errors.New("portal metadata has no list components")
)
