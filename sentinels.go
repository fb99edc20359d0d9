package partconsumer

import "errors"

// Fixed sentinel errors: plain errors.New values for conditions that
// need no per-call context.
var (
	errIncompleteResponse = errors.New("partconsumer: broker response missing requested partition")
	errNoOffsetsReturned  = errors.New("partconsumer: broker returned no offsets")
)
