package sampler

import "errors"

// ErrMalformedCandidate marks a candidate row whose node and edge slices do
// not line up for the requested hop count. Such rows are logged and skipped,
// never fatal.
var ErrMalformedCandidate = errors.New("malformed candidate row")
