package rangesync

import (
	"time"

	"github.com/sigp/go-rangesync/internal/gethlog"
)

// ClassifyPeer implements spec §4.4.1: decide whether a newly (re-)
// status'd peer is worth a finalized sync, a head sync, or not a range
// sync candidate at all (in which case ok is false and the peer should
// be silently dropped — the spec's own recommendation for its Open
// Question on this path, see DESIGN.md).
func ClassifyPeer(local, remote SyncInfo) (syncType SyncType, startEpoch Epoch, targetRoot Root, targetSlot Slot, ok bool) {
	remoteFinalizedSlot := remote.FinalizedEpoch.StartSlot()

	if remote.FinalizedEpoch > local.FinalizedEpoch &&
		uint64(remote.FinalizedEpoch) <= uint64(local.HeadSlot.Epoch())+SlotImportTolerance {
		target := remoteFinalizedSlot + Slot(2*SlotsPerEpoch+1)
		return SyncFinalized, local.FinalizedEpoch, remote.FinalizedRoot, target, true
	}

	if uint64(remote.HeadSlot) > uint64(local.HeadSlot)+SlotImportTolerance {
		start := local.HeadSlot
		if remoteFinalizedSlot < start {
			start = remoteFinalizedSlot
		}
		return SyncHead, start.Epoch(), remote.HeadRoot, remote.HeadSlot, true
	}

	return 0, 0, Root{}, 0, false
}

// RangeCoordinator is the single entry point for all external events
// touching range sync (spec §4.4). It is not safe for concurrent use —
// the sync manager (out of scope) serializes every call onto one
// goroutine.
type RangeCoordinator struct {
	chains            *ChainCollection
	failedChains      *FailedChainCache
	awaitingHeadPeers map[PeerId]SyncInfo

	beaconChain BeaconChain
	net         NetworkContext
	metrics     MetricsSink

	// eeOnline gates whether newly created chains start able to submit
	// work to the processor; Resume sets it to true and unpauses every
	// existing chain. See DESIGN.md "Open Question resolutions" #3.
	eeOnline bool
}

// NewRangeCoordinator wires the four external collaborators (§6) into a
// fresh coordinator. Chains created before the first Resume() call
// start paused, matching a node that has not yet confirmed its
// execution engine is reachable.
func NewRangeCoordinator(net NetworkContext, processor BlockProcessor, chain BeaconChain, metrics MetricsSink) *RangeCoordinator {
	return &RangeCoordinator{
		chains:            NewChainCollection(net, processor, chain, metrics),
		failedChains:      NewFailedChainCache(1024, FailedChainsExpiry, time.Now),
		awaitingHeadPeers: make(map[PeerId]SyncInfo),
		beaconChain:       chain,
		net:               net,
		metrics:           metrics,
	}
}

// AddPeer classifies a newly useful peer and starts/extends whichever
// chain it belongs to.
func (rc *RangeCoordinator) AddPeer(peer PeerId, remote SyncInfo) {
	local := rc.beaconChain.StatusMessage()
	syncType, startEpoch, targetRoot, targetSlot, ok := ClassifyPeer(local, remote)
	if !ok {
		gethlog.Trace("Peer not a range sync candidate", "peer", peer)
		return
	}

	if syncType == SyncFinalized {
		if rc.failedChains.Contains(targetRoot) {
			gethlog.Debug("Disconnecting peer belonging to a recently failed chain", "peer", peer, "root", targetRoot)
			rc.net.GoodbyePeer(peer, GoodbyeIrrelevantNetwork)
			return
		}
		delete(rc.awaitingHeadPeers, peer)
		rc.chains.AddPeerOrCreateChain(startEpoch, targetRoot, targetSlot, peer, SyncFinalized, rc.eeOnline)
		rc.afterChange()
		return
	}

	if rc.chains.IsFinalizingSync() {
		gethlog.Trace("Parking head peer while finalized sync is in progress", "peer", peer)
		rc.awaitingHeadPeers[peer] = remote
		return
	}
	delete(rc.awaitingHeadPeers, peer)
	// A peer re-classified against a new head target is first stripped
	// from every chain it previously belonged to (original's add_peer
	// calls remove_peer before adding), so it never lingers as a phantom
	// pool member of a chain it has moved on from.
	for _, r := range rc.chains.RemovePeerFromAll(peer) {
		rc.onChainRemoved(r)
	}
	rc.chains.AddPeerOrCreateChain(startEpoch, targetRoot, targetSlot, peer, SyncHead, rc.eeOnline)
	rc.afterChange()
}

// BlocksByRangeResponse forwards one streamed block (or, when terminal
// is true, the stream's end) from the network layer to the chain that
// owns this request.
func (rc *RangeCoordinator) BlocksByRangeResponse(peer PeerId, chainId ChainId, batchId BatchId, req ReqId, block Block, terminal bool) {
	removed, err := rc.chains.CallById(chainId, func(c *SyncingChain) *RemoveChain {
		return c.OnBlockResponse(batchId, peer, req, block, terminal)
	})
	if err != nil {
		gethlog.Trace("BlocksByRange response for unknown chain", "chain", chainId)
		return
	}
	if removed != nil {
		rc.onChainRemoved(*removed)
	}
	rc.afterChange()
}

// HandleBlockProcessResult forwards the block processor's verdict on a
// chain segment back to the chain that submitted it.
func (rc *RangeCoordinator) HandleBlockProcessResult(chainId ChainId, batchId BatchId, result BatchProcessResult) {
	removed, err := rc.chains.CallById(chainId, func(c *SyncingChain) *RemoveChain {
		return c.OnBatchProcessResult(batchId, result)
	})
	if err != nil {
		gethlog.Trace("Batch process result for unknown chain", "chain", chainId)
		return
	}
	if removed != nil {
		rc.onChainRemoved(*removed)
	}
	rc.afterChange()
}

// PeerDisconnect removes peer from every chain's pool (and from the
// parked head-peer map), failing whatever it was downloading.
func (rc *RangeCoordinator) PeerDisconnect(peer PeerId) {
	delete(rc.awaitingHeadPeers, peer)
	for _, r := range rc.chains.RemovePeerFromAll(peer) {
		rc.onChainRemoved(r)
	}
	rc.afterChange()
}

// InjectError reports a transport-level RPC error for an outstanding
// request.
func (rc *RangeCoordinator) InjectError(peer PeerId, batchId BatchId, chainId ChainId, req ReqId) {
	removed, err := rc.chains.CallById(chainId, func(c *SyncingChain) *RemoveChain {
		return c.InjectError(batchId, peer, req)
	})
	if err != nil {
		gethlog.Trace("RPC error for unknown chain", "chain", chainId)
		return
	}
	if removed != nil {
		rc.onChainRemoved(*removed)
	}
	rc.afterChange()
}

// Resume re-enables every chain's work, used when the execution engine
// transitions back online.
func (rc *RangeCoordinator) Resume() {
	rc.eeOnline = true
	for _, r := range rc.chains.CallAll(func(c *SyncingChain) *RemoveChain { return c.Resume() }) {
		rc.onChainRemoved(r)
	}
	rc.afterChange()
}

// State reports the collection's overall status, for observability.
func (rc *RangeCoordinator) State() SyncStatus {
	return rc.chains.State()
}

// onChainRemoved implements spec §4.4.1 "Terminal chain outcomes".
func (rc *RangeCoordinator) onChainRemoved(r Removed) {
	if r.Reason.IsCritical() {
		gethlog.Crit("Chain removed", "sync_type", r.SyncType, "chain", r.Chain.Id(), "reason", r.Reason)
	} else {
		gethlog.Debug("Chain removed", "sync_type", r.SyncType, "chain", r.Chain.Id(), "reason", r.Reason)
	}

	if r.Reason.Kind == ReasonChainFailed && r.Reason.Blacklist && r.SyncType == SyncFinalized {
		gethlog.Warn("Chain failed, denylisting target root",
			"root", r.Chain.TargetHeadRoot(), "seconds", FailedChainsExpiry.Seconds())
		rc.failedChains.Insert(r.Chain.TargetHeadRoot())
	}

	rc.metrics.IncChainsDropped(r.SyncType.String())
	rc.metrics.AddBlocksDropped(r.SyncType.String(), int64(r.Chain.PendingBlocks()))
	rc.net.StatusPeers(r.Chain.Peers())
}

// afterChange re-runs ChainCollection.Update until it stops producing
// removals, draining parked head-peers whenever no finalized chain
// remains — this is what lets a single event (like a chain's terminal
// outcome, or a newly caught-up local head) cascade through promotion
// of the next finalized chain and reclassification of parked peers.
func (rc *RangeCoordinator) afterChange() {
	for {
		local := rc.beaconChain.StatusMessage()
		removed, drain := rc.chains.Update(local)
		for _, r := range removed {
			rc.onChainRemoved(r)
		}

		drained := false
		if drain && len(rc.awaitingHeadPeers) > 0 {
			rc.drainAwaitingHeadPeers()
			drained = true
		}

		if len(removed) == 0 && !drained {
			return
		}
	}
}

// drainAwaitingHeadPeers re-offers parked head peers once no finalized
// chain remains to sync, per spec §9 "Parked head peers". Each entry
// holds the peer's most recent SyncInfo (most-recent-info-wins, since a
// reconnecting peer replaces its prior entry in AddPeer).
func (rc *RangeCoordinator) drainAwaitingHeadPeers() {
	pending := rc.awaitingHeadPeers
	rc.awaitingHeadPeers = make(map[PeerId]SyncInfo)

	local := rc.beaconChain.StatusMessage()
	for peer, remote := range pending {
		syncType, startEpoch, targetRoot, targetSlot, ok := ClassifyPeer(local, remote)
		if !ok || syncType != SyncHead {
			continue
		}
		rc.chains.AddPeerOrCreateChain(startEpoch, targetRoot, targetSlot, peer, SyncHead, rc.eeOnline)
	}
}
