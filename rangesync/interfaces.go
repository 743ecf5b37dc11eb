package rangesync

// Block is an opaque handle to a downloaded block. Range sync never
// inspects its contents — parsing, hashing and validity checks belong to
// the beacon chain / block-verification pipeline (out of scope, §1).
type Block interface {
	Slot() Slot
}

// NetworkContext is the core's only way to talk to the networking layer.
// It is mutable but touched only from the coordinator's goroutine.
type NetworkContext interface {
	// SendBlocksByRange starts a streaming BlocksByRange request. The
	// response arrives later via RangeCoordinator.BlocksByRangeResponse.
	SendBlocksByRange(peer PeerId, req ReqId, r RequestRange) error
	// SendBlobsByRange starts a streaming BlobsByRange request,
	// alongside a blocks request, when the active fork requires blob
	// sidecars.
	SendBlobsByRange(peer PeerId, req ReqId, r RequestRange) error
	// GoodbyePeer disconnects a peer with the given reason.
	GoodbyePeer(peer PeerId, reason GoodbyeReason)
	// StatusPeers triggers a fresh STATUS exchange with the given peers,
	// letting the sync manager reclassify them afterwards.
	StatusPeers(peers []PeerId)
}

// ChainSegment is one batch's downloaded blocks, handed to the block
// processor as a single unit of work.
type ChainSegment struct {
	ChainId  ChainId
	BatchId  BatchId
	Blocks   []Block
	Sidecars bool
}

// BatchProcessResult is returned by the block processor once it has
// attempted to import a ChainSegment.
type BatchProcessResult struct {
	// Ok is true when the processor accepted the segment (subject to
	// optimistic validation by the segment's successor).
	Ok bool
	// Faulty is only meaningful when Ok is false: it distinguishes
	// "the block content was invalid" (true — blame the peer) from
	// "the processor could not keep up right now" (false — retry
	// without blame).
	Faulty bool
	// ImportedAny records whether any block in the segment was actually
	// imported. Range sync itself does not read it.
	ImportedAny bool
}

// BlockProcessor accepts chain segments for asynchronous verification.
// The actual result arrives later via RangeCoordinator.HandleBlockProcessResult
// — Submit only enqueues work, it never blocks on the segment's outcome.
type BlockProcessor interface {
	Submit(segment ChainSegment)
}

// BeaconChain is the read-only local-chain collaborator.
type BeaconChain interface {
	// StatusMessage reports the local node's own SyncInfo.
	StatusMessage() SyncInfo
	// ForkAtSlot reports which consensus fork is active at slot, used to
	// decide whether a by-range request must also fetch blob sidecars.
	ForkAtSlot(slot Slot) ForkVersion
	// RequiresSidecars reports whether fork requires blobs alongside blocks.
	RequiresSidecars(fork ForkVersion) bool
}

// MetricsSink receives counters indexed by sync-type string, per §6.
type MetricsSink interface {
	IncChainsDropped(syncType string)
	AddBlocksDropped(syncType string, count int64)
	IncBatchesAttempted(syncType string)
	IncBatchesFailed(syncType string)
}
