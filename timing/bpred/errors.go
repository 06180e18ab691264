package bpred

import "errors"

// Construction-time configuration errors. These are the only error
// class the predictor surfaces; everything else (mispredictions,
// structural hazards) is handled by the squash/stall protocol, not by
// a Go error.
var (
	ErrBadAssociativity    = errors.New("bpred: numEntries must be a positive multiple of numWays")
	ErrHalfAlignedAhead    = errors.New("bpred: half-aligned lookup is incompatible with ahead-pipelined access")
	ErrBadTableGeometry    = errors.New("bpred: table size, tag bits, and history length must all be positive")
	ErrBadRASGeometry      = errors.New("bpred: RAS entry and inflight counts must be positive")
	ErrBadQueueCapacity    = errors.New("bpred: queue capacity must be positive")
	ErrBadHistoryBits      = errors.New("bpred: historyBits must be positive")
	ErrMismatchedComponent = errors.New("bpred: prediction metadata does not match component configuration")
)
