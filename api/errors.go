package api

import "errors"

// Failure kinds of a merge run. Every failure aborts the run before any
// output is written; callers match them with errors.Is.
var (
	ErrInputNotFound         = errors.New("input not found")
	ErrMalformedTemplate     = errors.New("malformed template")
	ErrMalformedManifest     = errors.New("malformed manifest")
	ErrBrokenHierarchy       = errors.New("broken directory hierarchy")
	ErrBrokenIdentifierChain = errors.New("broken identifier chain")
	ErrDuplicateIdentifier   = errors.New("duplicate identifier")
	ErrIdentifierOverflow    = errors.New("identifier exceeds length limit")
	ErrSerialization         = errors.New("serialization failure")
	ErrExtension             = errors.New("extension transform failed")
	ErrInvalidConfig         = errors.New("invalid configuration")
)
