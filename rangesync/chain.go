package rangesync

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set"

	"github.com/sigp/go-rangesync/internal/gethlog"
)

// ChainState mirrors the data model's `state ∈ {Stopped, Syncing}`: a
// chain the collection has not (yet) elected to run stays Stopped and
// schedules no new downloads, but keeps whatever peers/batches it has.
type ChainState int

const (
	Stopped ChainState = iota
	Syncing
)

// RemoveReasonKind names why a chain's public operations asked for the
// chain to be torn down.
type RemoveReasonKind int

const (
	ReasonCompleted RemoveReasonKind = iota
	ReasonChainFailed
	ReasonEmptyPeerPool
)

// RemoveChain is returned by every SyncingChain public operation that
// may terminate the chain.
type RemoveChain struct {
	Kind      RemoveReasonKind
	Blacklist bool
}

func (r RemoveChain) String() string {
	switch r.Kind {
	case ReasonCompleted:
		return "Completed"
	case ReasonEmptyPeerPool:
		return "EmptyPeerPool"
	default:
		return fmt.Sprintf("ChainFailed{blacklist:%v}", r.Blacklist)
	}
}

// IsCritical reports whether this removal should be logged at a higher
// severity (coordinator's on_chain_removed step 1, spec §4.4.1).
func (r RemoveChain) IsCritical() bool {
	return r.Kind == ReasonChainFailed && r.Blacklist
}

// SyncingChain is a download target: a sequence of batches covering
// start_epoch through target_head, backed by a pool of peers claiming
// that same target.
type SyncingChain struct {
	id             ChainId
	startEpoch     Epoch
	targetHeadSlot Slot
	targetHeadRoot Root
	syncType       SyncType

	peerSet   mapset.Set
	peerOrder []PeerId
	rrIndex   int

	batches           map[BatchId]*Batch
	processingTarget  BatchId
	toBeDownloaded    BatchId
	currentProcessing *BatchId
	validatedBatches  uint64

	state  ChainState
	paused bool

	net       NetworkContext
	processor BlockProcessor
	chain     BeaconChain
	metrics   MetricsSink
}

// NewSyncingChain creates a chain targeting targetHeadRoot/targetHeadSlot,
// covering batches from startEpoch onward. The chain starts Stopped, and
// paused unless eeOnline is true (see Resume); ChainCollection.Update
// decides when to start it and the coordinator calls Resume once the
// execution engine is online.
func NewSyncingChain(
	id ChainId,
	startEpoch Epoch,
	targetHeadSlot Slot,
	targetHeadRoot Root,
	syncType SyncType,
	net NetworkContext,
	processor BlockProcessor,
	chain BeaconChain,
	metrics MetricsSink,
	eeOnline bool,
) *SyncingChain {
	return &SyncingChain{
		id:               id,
		startEpoch:       startEpoch,
		targetHeadSlot:   targetHeadSlot,
		targetHeadRoot:   targetHeadRoot,
		syncType:         syncType,
		peerSet:          mapset.NewSet(),
		batches:          make(map[BatchId]*Batch),
		processingTarget: BatchId(startEpoch),
		toBeDownloaded:   BatchId(startEpoch),
		state:            Stopped,
		paused:           !eeOnline,
		net:              net,
		processor:        processor,
		chain:            chain,
		metrics:          metrics,
	}
}

func (c *SyncingChain) Id() ChainId              { return c.id }
func (c *SyncingChain) SyncType() SyncType       { return c.syncType }
func (c *SyncingChain) TargetHeadRoot() Root     { return c.targetHeadRoot }
func (c *SyncingChain) TargetHeadSlot() Slot     { return c.targetHeadSlot }
func (c *SyncingChain) PeerCount() int           { return c.peerSet.Cardinality() }
func (c *SyncingChain) State() ChainState        { return c.state }
func (c *SyncingChain) ProcessingTarget() BatchId { return c.processingTarget }

// Peers returns the chain's current peer pool.
func (c *SyncingChain) Peers() []PeerId {
	out := make([]PeerId, len(c.peerOrder))
	copy(out, c.peerOrder)
	return out
}

// PendingBlocks reports how many blocks are currently buffered across
// all batches, for metrics on chain removal (spec §6).
func (c *SyncingChain) PendingBlocks() int {
	total := 0
	for _, b := range c.batches {
		total += len(b.receivedBlocks)
	}
	return total
}

// targetEpoch is the epoch boundary beyond which the chain is complete.
func (c *SyncingChain) targetEpoch() Epoch { return c.targetHeadSlot.Epoch() }

func (c *SyncingChain) isComplete() bool {
	return uint64(c.processingTarget) > uint64(c.targetEpoch())
}

// SetSyncing flips the chain between Stopped and Syncing, starting
// downloads the moment it becomes Syncing (ChainCollection's priority
// election, spec §4.3).
func (c *SyncingChain) SetSyncing(syncing bool) {
	if syncing {
		c.state = Syncing
		c.scheduleDownloads()
	} else {
		c.state = Stopped
	}
}

// AddPeer inserts peer into the pool; if the chain is already Syncing
// it may immediately open a download slot for the new peer.
func (c *SyncingChain) AddPeer(peer PeerId) {
	if c.peerSet.Contains(peer) {
		return
	}
	c.peerSet.Add(peer)
	c.peerOrder = append(c.peerOrder, peer)
	if c.state == Syncing {
		c.scheduleDownloads()
	}
}

// RemovePeer drops peer from the pool, failing (without blame) any
// batch it was downloading. Returns RemoveChain{EmptyPeerPool} if the
// pool is now empty.
func (c *SyncingChain) RemovePeer(peer PeerId) *RemoveChain {
	if !c.peerSet.Contains(peer) {
		return nil
	}
	c.peerSet.Remove(peer)
	for i, p := range c.peerOrder {
		if p == peer {
			c.peerOrder = append(c.peerOrder[:i], c.peerOrder[i+1:]...)
			break
		}
	}
	for _, b := range c.batches {
		if b.OnPeerDisconnect(peer) {
			gethlog.Debug("Batch download cancelled by peer disconnect", "chain", c.id, "batch", b.Id(), "peer", peer)
		}
	}
	if c.peerSet.Cardinality() == 0 {
		return &RemoveChain{Kind: ReasonEmptyPeerPool}
	}
	c.scheduleDownloads()
	return nil
}

// pickPeer chooses the next peer not currently holding a download slot
// for this chain, by round robin over the pool.
func (c *SyncingChain) pickPeer() (PeerId, bool) {
	if len(c.peerOrder) == 0 {
		return "", false
	}
	busy := make(map[PeerId]bool)
	for _, b := range c.batches {
		if b.State() == Downloading {
			busy[b.downloadPeer] = true
		}
	}
	for i := 0; i < len(c.peerOrder); i++ {
		idx := (c.rrIndex + i) % len(c.peerOrder)
		p := c.peerOrder[idx]
		if !busy[p] {
			c.rrIndex = (idx + 1) % len(c.peerOrder)
			return p, true
		}
	}
	return "", false
}

// ensureBatches lazily creates AwaitingDownload batches up to a small
// window ahead of the processing target, without exceeding the chain's
// target epoch.
func (c *SyncingChain) ensureBatches() {
	window := uint64(BatchParallelism + 1)
	for uint64(c.toBeDownloaded)-uint64(c.processingTarget) < window && uint64(c.toBeDownloaded) <= uint64(c.targetEpoch()) {
		startSlot := Epoch(c.toBeDownloaded).StartSlot()
		fork := c.chain.ForkAtSlot(startSlot)
		sidecars := c.chain.RequiresSidecars(fork)
		c.batches[c.toBeDownloaded] = NewBatch(c.toBeDownloaded, sidecars)
		c.toBeDownloaded = c.toBeDownloaded.Next()
	}
}

// scheduleDownloads fills idle download slots up to BatchParallelism,
// picking the lowest-BatchId AwaitingDownload batch each time (spec
// §4.2 "Scheduling policy").
func (c *SyncingChain) scheduleDownloads() {
	if c.state != Syncing {
		return
	}
	c.ensureBatches()
	downloading := 0
	for _, b := range c.batches {
		if b.State() == Downloading {
			downloading++
		}
	}
	for downloading < BatchParallelism {
		id, ok := c.lowestAwaitingDownload()
		if !ok {
			break
		}
		peer, ok := c.pickPeer()
		if !ok {
			break
		}
		b := c.batches[id]
		reqId, reqRange, started := b.StartDownloading(peer)
		if !started {
			break
		}
		if err := c.net.SendBlocksByRange(peer, reqId, reqRange); err != nil {
			gethlog.Warn("SendBlocksByRange failed", "chain", c.id, "batch", id, "peer", peer, "err", err)
		}
		if b.withSidecars {
			if err := c.net.SendBlobsByRange(peer, reqId, reqRange); err != nil {
				gethlog.Warn("SendBlobsByRange failed", "chain", c.id, "batch", id, "peer", peer, "err", err)
			}
		}
		c.metrics.IncBatchesAttempted(c.syncType.String())
		downloading++
	}
}

func (c *SyncingChain) lowestAwaitingDownload() (BatchId, bool) {
	ids := make([]BatchId, 0, len(c.batches))
	for id, b := range c.batches {
		if b.State() == AwaitingDownload {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, false
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], true
}

// trySubmitProcessing hands the batch at processingTarget to the
// processor if it is ready, the execution engine is online, and no
// other batch is currently Processing (spec §4.2 "Processing ordering").
func (c *SyncingChain) trySubmitProcessing() {
	if c.currentProcessing != nil || c.paused {
		return
	}
	b, ok := c.batches[c.processingTarget]
	if !ok || b.State() != AwaitingProcessing {
		return
	}
	blocks, ok := b.StartProcessing()
	if !ok {
		return
	}
	id := c.processingTarget
	c.currentProcessing = &id
	c.processor.Submit(ChainSegment{
		ChainId:  c.id,
		BatchId:  id,
		Blocks:   blocks,
		Sidecars: b.withSidecars,
	})
}

// OnBlockResponse forwards a wire response to the named batch.
func (c *SyncingChain) OnBlockResponse(batchId BatchId, peer PeerId, req ReqId, block Block, terminal bool) *RemoveChain {
	b, ok := c.batches[batchId]
	if !ok {
		gethlog.Trace("Block response for unknown batch", "chain", c.id, "batch", batchId)
		return nil
	}
	switch b.OnBlock(peer, req, block, terminal) {
	case OutcomeComplete:
		c.trySubmitProcessing()
		c.scheduleDownloads()
	case OutcomeIgnoredStale:
		gethlog.Trace("Ignored stale block response", "chain", c.id, "batch", batchId, "peer", peer)
	}
	return nil
}

func (c *SyncingChain) predecessorOf(id BatchId) BatchId {
	return BatchId(uint64(id) - EpochsPerBatch)
}

// OnBatchProcessResult consumes a processor result for batchId.
func (c *SyncingChain) OnBatchProcessResult(batchId BatchId, result BatchProcessResult) *RemoveChain {
	if c.currentProcessing == nil || *c.currentProcessing != batchId {
		gethlog.Trace("Batch process result for unexpected batch", "chain", c.id, "batch", batchId)
		return nil
	}
	b, ok := c.batches[batchId]
	if !ok {
		return nil
	}
	c.currentProcessing = nil

	switch b.OnProcessResult(result) {
	case ProcessAwaitingValidation:
		c.validatedBatches++
		pred := c.predecessorOf(batchId)
		if pb, ok := c.batches[pred]; ok {
			pb.OnSuccessorValidated()
		}
		delete(c.batches, pred)
		c.processingTarget = batchId.Next()
		if c.isComplete() {
			return &RemoveChain{Kind: ReasonCompleted}
		}
		c.trySubmitProcessing()
		c.scheduleDownloads()
		return nil

	case ProcessRetry:
		pred := c.predecessorOf(batchId)
		if pb, ok := c.batches[pred]; ok && pb.State() == AwaitingValidation {
			pb.Resuspect()
			c.processingTarget = pred
		}
		c.scheduleDownloads()
		return nil

	default: // ProcessFailed
		c.metrics.IncBatchesFailed(c.syncType.String())
		blacklist := b.DistinctProcessingFailurePeers() >= 2
		return &RemoveChain{Kind: ReasonChainFailed, Blacklist: blacklist}
	}
}

// InjectError handles a transport-reported RPC error for batchId.
func (c *SyncingChain) InjectError(batchId BatchId, peer PeerId, req ReqId) *RemoveChain {
	b, ok := c.batches[batchId]
	if !ok {
		gethlog.Trace("RPC error for unknown batch", "chain", c.id, "batch", batchId)
		return nil
	}
	if b.OnRpcError(peer, req) {
		c.metrics.IncBatchesFailed(c.syncType.String())
		return &RemoveChain{Kind: ReasonChainFailed, Blacklist: true}
	}
	c.scheduleDownloads()
	return nil
}

// Resume re-enables processing submission after the execution engine
// (or whatever paused the chain) comes back online, and retries
// scheduling downloads.
func (c *SyncingChain) Resume() *RemoveChain {
	c.paused = false
	c.trySubmitProcessing()
	c.scheduleDownloads()
	return nil
}

func (c *SyncingChain) String() string {
	return fmt.Sprintf("SyncingChain{id=%d type=%s start=%d target=%d peers=%d processingTarget=%d}",
		c.id, c.syncType, c.startEpoch, c.targetHeadSlot, c.peerSet.Cardinality(), c.processingTarget)
}
