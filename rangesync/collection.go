package rangesync

import (
	"sort"
)

// Removed describes one chain's terminal outcome, surfaced by the
// collection so the coordinator can log, re-status peers and update the
// failed-chain cache.
type Removed struct {
	Chain    *SyncingChain
	SyncType SyncType
	Reason   RemoveChain
}

// EpochRange is a half-open [Start, End) epoch span, used only for
// State()'s observability report.
type EpochRange struct {
	Start Epoch
	End   Epoch
}

// SyncStatusKind tags ChainCollection.State()'s result.
type SyncStatusKind int

const (
	StatusIdle SyncStatusKind = iota
	StatusSyncingFinalized
	StatusSyncingHead
)

// SyncStatus is the overall status report spec'd in §4.3 `state()`.
type SyncStatus struct {
	Kind           SyncStatusKind
	FinalizedRange EpochRange
	HeadRanges     []EpochRange
}

// ChainCollection multiplexes every active chain, classifying each as
// finalized or head, enforcing that at most one finalized chain syncs
// at a time, and garbage-collecting chains whose peer pools drained.
type ChainCollection struct {
	finalizedChains map[ChainId]*SyncingChain
	headChains      map[ChainId]*SyncingChain
	electedFinalized *ChainId

	net       NetworkContext
	processor BlockProcessor
	chain     BeaconChain
	metrics   MetricsSink
}

// NewChainCollection constructs an empty collection. The four
// collaborators are threaded through to every chain it creates.
func NewChainCollection(net NetworkContext, processor BlockProcessor, chain BeaconChain, metrics MetricsSink) *ChainCollection {
	return &ChainCollection{
		finalizedChains: make(map[ChainId]*SyncingChain),
		headChains:      make(map[ChainId]*SyncingChain),
		net:             net,
		processor:       processor,
		chain:           chain,
		metrics:         metrics,
	}
}

// AddPeerOrCreateChain adds peer to the chain matching this target's
// ChainId, creating a new chain first if none exists.
func (cc *ChainCollection) AddPeerOrCreateChain(startEpoch Epoch, targetRoot Root, targetSlot Slot, peer PeerId, syncType SyncType, eeOnline bool) {
	id := NewChainId(startEpoch, targetRoot, targetSlot)
	m := cc.mapFor(syncType)
	if c, ok := m[id]; ok {
		c.AddPeer(peer)
		return
	}
	c := NewSyncingChain(id, startEpoch, targetSlot, targetRoot, syncType, cc.net, cc.processor, cc.chain, cc.metrics, eeOnline)
	c.AddPeer(peer)
	m[id] = c
}

func (cc *ChainCollection) mapFor(t SyncType) map[ChainId]*SyncingChain {
	if t == SyncFinalized {
		return cc.finalizedChains
	}
	return cc.headChains
}

// CallById dispatches f to the named chain (searching both maps — a
// ChainId never appears in both, per invariant), removing it from the
// collection if f returns a terminal outcome.
func (cc *ChainCollection) CallById(id ChainId, f func(*SyncingChain) *RemoveChain) (*Removed, error) {
	if c, ok := cc.finalizedChains[id]; ok {
		return cc.apply(c, SyncFinalized, f), nil
	}
	if c, ok := cc.headChains[id]; ok {
		return cc.apply(c, SyncHead, f), nil
	}
	return nil, errUnknownChain
}

func (cc *ChainCollection) apply(c *SyncingChain, t SyncType, f func(*SyncingChain) *RemoveChain) *Removed {
	reason := f(c)
	if reason == nil {
		return nil
	}
	delete(cc.mapFor(t), c.Id())
	if cc.electedFinalized != nil && *cc.electedFinalized == c.Id() {
		cc.electedFinalized = nil
	}
	return &Removed{Chain: c, SyncType: t, Reason: *reason}
}

// CallAll fans f out to every chain (finalized first, then head, each
// in ChainId order for determinism), collecting terminal outcomes.
func (cc *ChainCollection) CallAll(f func(*SyncingChain) *RemoveChain) []Removed {
	var out []Removed
	for _, id := range sortedIds(cc.finalizedChains) {
		c := cc.finalizedChains[id]
		if r := cc.apply(c, SyncFinalized, f); r != nil {
			out = append(out, *r)
		}
	}
	for _, id := range sortedIds(cc.headChains) {
		c := cc.headChains[id]
		if r := cc.apply(c, SyncHead, f); r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// RemovePeerFromAll fans RemovePeer(peer) out to every chain in both
// maps, the same way spec §4.4 "peer_disconnect" fans out `remove_peer`
// to every chain: a single disconnecting (or reclassified) peer can
// drain more than one chain's pool to empty, so this collects every
// resulting terminal outcome rather than stopping at the first.
func (cc *ChainCollection) RemovePeerFromAll(peer PeerId) []Removed {
	return cc.CallAll(func(c *SyncingChain) *RemoveChain { return c.RemovePeer(peer) })
}

func sortedIds(m map[ChainId]*SyncingChain) []ChainId {
	ids := make([]ChainId, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsFinalizingSync is true when an elected finalized chain exists.
func (cc *ChainCollection) IsFinalizingSync() bool {
	return cc.electedFinalized != nil
}

// Update re-evaluates classification and priority: chains whose target
// is now at or behind local finalization are removed; the finalized
// chain with the largest peer pool is elected Syncing (others Stopped);
// every head chain is started/continued. Returns the chains removed by
// this pass, and whether the caller should drain its parked head-peer
// map (true exactly when no finalized chain remains to sync).
func (cc *ChainCollection) Update(local SyncInfo) (removed []Removed, drainHeadPeers bool) {
	for _, id := range sortedIds(cc.finalizedChains) {
		c := cc.finalizedChains[id]
		if uint64(c.targetEpoch()) <= uint64(local.FinalizedEpoch) {
			delete(cc.finalizedChains, id)
			if cc.electedFinalized != nil && *cc.electedFinalized == id {
				cc.electedFinalized = nil
			}
			removed = append(removed, Removed{Chain: c, SyncType: SyncFinalized, Reason: RemoveChain{Kind: ReasonCompleted}})
		}
	}
	for _, id := range sortedIds(cc.headChains) {
		c := cc.headChains[id]
		if uint64(c.targetEpoch()) <= uint64(local.FinalizedEpoch) {
			delete(cc.headChains, id)
			removed = append(removed, Removed{Chain: c, SyncType: SyncHead, Reason: RemoveChain{Kind: ReasonCompleted}})
		}
	}

	cc.electFinalized()

	for _, id := range sortedIds(cc.headChains) {
		cc.headChains[id].SetSyncing(true)
	}

	return removed, !cc.IsFinalizingSync()
}

// electFinalized picks the finalized chain with the strictly largest
// peer pool (ties broken by smallest ChainId) and marks it Syncing;
// every other finalized chain is Stopped.
func (cc *ChainCollection) electFinalized() {
	var best ChainId
	bestCount := -1
	for _, id := range sortedIds(cc.finalizedChains) {
		n := cc.finalizedChains[id].PeerCount()
		if n > bestCount {
			bestCount = n
			best = id
		}
	}
	if bestCount < 0 {
		cc.electedFinalized = nil
		return
	}
	cc.electedFinalized = &best
	for id, c := range cc.finalizedChains {
		c.SetSyncing(id == best)
	}
}

// State reports overall status for observability (spec §4.3).
func (cc *ChainCollection) State() SyncStatus {
	if cc.electedFinalized != nil {
		c := cc.finalizedChains[*cc.electedFinalized]
		return SyncStatus{
			Kind:           StatusSyncingFinalized,
			FinalizedRange: EpochRange{Start: c.startEpoch, End: c.targetEpoch()},
		}
	}
	if len(cc.headChains) > 0 {
		ranges := make([]EpochRange, 0, len(cc.headChains))
		for _, id := range sortedIds(cc.headChains) {
			c := cc.headChains[id]
			ranges = append(ranges, EpochRange{Start: c.startEpoch, End: c.targetEpoch()})
		}
		return SyncStatus{Kind: StatusSyncingHead, HeadRanges: ranges}
	}
	return SyncStatus{Kind: StatusIdle}
}

// FinalizedChain and HeadChain expose read access for tests and metrics; not part of the
// core event-handling surface.
func (cc *ChainCollection) FinalizedChain(id ChainId) (*SyncingChain, bool) {
	c, ok := cc.finalizedChains[id]
	return c, ok
}

func (cc *ChainCollection) HeadChain(id ChainId) (*SyncingChain, bool) {
	c, ok := cc.headChains[id]
	return c, ok
}
