// Package rangesync implements the long-range block synchronization
// engine: the range coordinator, chain collection and per-chain batch
// pipeline that catch a node up to the network's finalized and head
// blocks. The package runs as a single logical task — none of its
// exported methods are safe to call concurrently from more than one
// goroutine; the caller (a sync manager, out of scope here) is
// responsible for serializing events onto one goroutine.
package rangesync

import "time"

// Protocol constants. These mirror the values the spec calls out as
// "typical" — a deployment tuning them does not change any invariant
// below.
const (
	// SlotsPerEpoch is the number of slots in one epoch.
	SlotsPerEpoch = 32

	// EpochsPerBatch is the number of epochs a single Batch covers.
	EpochsPerBatch = 1

	// BatchParallelism bounds the number of batches a chain may have
	// concurrently in the Downloading state.
	BatchParallelism = 2

	// MaxBatchDownloadAttempts is the total (across all peers) count of
	// download attempts a batch may make before it is Failed.
	MaxBatchDownloadAttempts = 5

	// MaxBatchProcessingAttempts is the count of processing attempts a
	// batch may make before it is Failed.
	MaxBatchProcessingAttempts = 3

	// SlotImportTolerance is how far ahead a peer's head/finalized slot
	// must be before it is considered worth syncing against.
	SlotImportTolerance = 32

	// FailedChainsExpiry is how long a failed finalized chain's target
	// root is denylisted before it may be retried.
	FailedChainsExpiry = 30 * time.Second
)

// Slot is a single consensus-protocol time unit.
type Slot uint64

// Epoch returns the epoch this slot falls within.
func (s Slot) Epoch() Epoch { return Epoch(uint64(s) / SlotsPerEpoch) }

// Epoch is a fixed span of SlotsPerEpoch slots.
type Epoch uint64

// StartSlot returns the first slot of this epoch.
func (e Epoch) StartSlot() Slot { return Slot(uint64(e) * SlotsPerEpoch) }

// Add returns the epoch n epochs after e.
func (e Epoch) Add(n uint64) Epoch { return Epoch(uint64(e) + n) }

// Root identifies a block by content hash. The concrete hash algorithm
// is irrelevant to range sync; Root is opaque and only ever compared for
// equality or used as a map key.
type Root [32]byte

// PeerId identifies a connected network peer. Distinct from ChainId,
// BatchId and ReqId so that passing the wrong kind of identifier at a
// call site is a compile error, not a runtime bug.
type PeerId string

// ReqId identifies one outstanding wire request. Scoped to a single
// batch's lifetime; a new Downloading attempt gets a new ReqId so that
// late responses for a superseded request are discarded by comparison.
type ReqId uint64

// ForkVersion names the active consensus fork at some slot, used to
// decide whether a by-range request must also fetch blob sidecars.
type ForkVersion string

// SyncInfo is a peer's (or the local node's) self-reported view of
// chain progress.
type SyncInfo struct {
	FinalizedEpoch Epoch
	FinalizedRoot  Root
	HeadSlot       Slot
	HeadRoot       Root
}

// SyncType classifies why a chain is being synced.
type SyncType int

const (
	// SyncFinalized chains race each other for election; only one syncs
	// at a time (see ChainCollection priority rule).
	SyncFinalized SyncType = iota
	// SyncHead chains may all sync concurrently.
	SyncHead
)

func (t SyncType) String() string {
	if t == SyncFinalized {
		return "finalized"
	}
	return "head"
}

// GoodbyeReason is passed to NetworkContext.GoodbyePeer.
type GoodbyeReason int

const (
	GoodbyeFault GoodbyeReason = iota
	GoodbyeIrrelevantNetwork
)

func (r GoodbyeReason) String() string {
	switch r {
	case GoodbyeIrrelevantNetwork:
		return "irrelevant_network"
	default:
		return "fault"
	}
}
