package store

import "errors"

// ErrNotFound is returned when a lookup matches no record. For key-by-hash
// lookups it deliberately covers disabled and rotated keys too.
var ErrNotFound = errors.New("not found")

// ErrTxRetriesExhausted is returned when a quota transaction kept conflicting
// past the configured attempt budget. The caller may safely retry the whole
// request: consume and refund are idempotent on requestId.
var ErrTxRetriesExhausted = errors.New("transaction retries exhausted")
