package store

import "errors"

// Sentinel errors returned by Store implementations. Callers type-switch or
// use errors.Is against these rather than matching on message text.
var (
	ErrNotFound           = errors.New("store: not found")
	ErrUniqueViolation    = errors.New("store: unique constraint violation")
	ErrNoIdentifier       = errors.New("store: no identifier supplied")
	ErrExperimentNotFound = errors.New("store: experiment not found")
	ErrProjectNotFound    = errors.New("store: project not found")
)
