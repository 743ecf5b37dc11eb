package rangesync

import (
	"encoding/binary"
	"hash/fnv"
)

// BatchId is the epoch that begins a batch. Batches cover exactly
// EpochsPerBatch epochs and consecutive batches never overlap, so the
// start epoch alone identifies the batch within its chain.
type BatchId Epoch

// Next returns the BatchId immediately following this one in the same
// chain.
func (b BatchId) Next() BatchId { return BatchId(uint64(b) + EpochsPerBatch) }

// RequestRange is the wire-level slot range a batch asks a peer for.
type RequestRange struct {
	StartSlot Slot
	Count     uint64
}

// ChainId is a stable identifier derived from a chain's target, so that
// two peers proposing the same (start_epoch, target_root, target_slot)
// triple coalesce into the same chain's peer pool instead of spawning
// duplicate chains.
type ChainId uint64

// NewChainId derives a ChainId deterministically from a chain's target.
func NewChainId(startEpoch Epoch, targetRoot Root, targetSlot Slot) ChainId {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(startEpoch))
	h.Write(buf[:])
	h.Write(targetRoot[:])
	binary.BigEndian.PutUint64(buf[:], uint64(targetSlot))
	h.Write(buf[:])
	return ChainId(h.Sum64())
}
