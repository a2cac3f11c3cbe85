package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures.
// Last-write-wins rejections are deliberately silent at the store layer, so
// there is no conflict sentinel. For validation errors (bad input, missing
// fields), use pkg/domain-errors directly.
var (
	// ErrNotFound reports that a row does not exist in the store.
	ErrNotFound = errors.New("not found")
)
