package rangesync

import "errors"

var errUnknownChain = errors.New("rangesync: chain id not found")

// BatchOutcome is returned by Batch.OnBlock to tell the chain what to do
// next.
type BatchOutcome int

const (
	// OutcomeContinue: the batch accepted a block and is still
	// downloading; no action required.
	OutcomeContinue BatchOutcome = iota
	// OutcomeComplete: the stream terminator arrived; the batch moved to
	// AwaitingProcessing.
	OutcomeComplete
	// OutcomeIgnoredStale: the block/terminator arrived for a request
	// that is no longer current (wrong req id, already complete, or out
	// of the batch's slot range).
	OutcomeIgnoredStale
)
