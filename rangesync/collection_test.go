package rangesync

import "testing"

func newTestCollection() (*ChainCollection, *testNet, *testProcessor, *testMetrics) {
	net := newTestNet()
	proc := &testProcessor{}
	metrics := &testMetrics{}
	chain := &testChain{}
	return NewChainCollection(net, proc, chain, metrics), net, proc, metrics
}

func TestAddPeerOrCreateChainCoalescesSameTarget(t *testing.T) {
	cc, _, _, _ := newTestCollection()
	root := Root{1}
	cc.AddPeerOrCreateChain(Epoch(0), root, Slot(64), "p1", SyncFinalized, true)
	cc.AddPeerOrCreateChain(Epoch(0), root, Slot(64), "p2", SyncFinalized, true)

	id := NewChainId(Epoch(0), root, Slot(64))
	c, ok := cc.FinalizedChain(id)
	if !ok {
		t.Fatalf("expected a chain for id %d", id)
	}
	if c.PeerCount() != 2 {
		t.Fatalf("got %d peers, want 2 peers coalesced into one chain", c.PeerCount())
	}
}

// TestElectFinalizedPicksLargestPeerPool covers the scenario where two
// finalized chains race for election: the chain with the larger peer
// pool wins, regardless of creation order.
func TestElectFinalizedPicksLargestPeerPool(t *testing.T) {
	cc, _, _, _ := newTestCollection()
	rootA := Root{0xa}
	rootB := Root{0xb}
	cc.AddPeerOrCreateChain(Epoch(0), rootA, Slot(64), "p1", SyncFinalized, true)

	cc.AddPeerOrCreateChain(Epoch(0), rootB, Slot(64), "p2", SyncFinalized, true)
	cc.AddPeerOrCreateChain(Epoch(0), rootB, Slot(64), "p3", SyncFinalized, true)

	cc.electFinalized()

	idB := NewChainId(Epoch(0), rootB, Slot(64))
	chainB, _ := cc.FinalizedChain(idB)
	if chainB.State() != Syncing {
		t.Fatalf("chain with the larger peer pool should be elected Syncing")
	}

	idA := NewChainId(Epoch(0), rootA, Slot(64))
	chainA, _ := cc.FinalizedChain(idA)
	if chainA.State() != Stopped {
		t.Fatalf("the smaller-pool chain should be Stopped while another is elected")
	}
}

func TestElectFinalizedTieBrokenBySmallestChainId(t *testing.T) {
	cc, _, _, _ := newTestCollection()
	rootA := Root{0xa}
	rootB := Root{0xb}
	cc.AddPeerOrCreateChain(Epoch(0), rootA, Slot(64), "p1", SyncFinalized, true)
	cc.AddPeerOrCreateChain(Epoch(0), rootB, Slot(64), "p2", SyncFinalized, true)

	cc.electFinalized()

	idA := NewChainId(Epoch(0), rootA, Slot(64))
	idB := NewChainId(Epoch(0), rootB, Slot(64))
	winner := idA
	if idB < idA {
		winner = idB
	}

	chain, _ := cc.FinalizedChain(winner)
	if chain.State() != Syncing {
		t.Fatalf("tie should be broken in favor of the smallest ChainId")
	}
}

func TestUpdateRemovesChainsAtOrBehindLocalFinalization(t *testing.T) {
	cc, _, _, _ := newTestCollection()
	root := Root{1}
	cc.AddPeerOrCreateChain(Epoch(0), root, Slot(64), "p1", SyncFinalized, true)

	removed, _ := cc.Update(SyncInfo{FinalizedEpoch: Epoch(5)})
	if len(removed) != 1 || removed[0].Reason.Kind != ReasonCompleted {
		t.Fatalf("expected the chain to be removed as Completed, got %v", removed)
	}
	if _, ok := cc.FinalizedChain(NewChainId(Epoch(0), root, Slot(64))); ok {
		t.Fatalf("removed chain should no longer be in the collection")
	}
}

func TestUpdateDrainsHeadPeersOnlyWhenNoFinalizedChainRemains(t *testing.T) {
	cc, _, _, _ := newTestCollection()
	_, drain := cc.Update(SyncInfo{})
	if !drain {
		t.Fatalf("with no finalized chain at all, drain should be true")
	}

	cc.AddPeerOrCreateChain(Epoch(0), Root{1}, Slot(6400), "p1", SyncFinalized, true)
	_, drain = cc.Update(SyncInfo{})
	if drain {
		t.Fatalf("with an elected finalized chain, drain should be false")
	}
}

func TestIsFinalizingSync(t *testing.T) {
	cc, _, _, _ := newTestCollection()
	if cc.IsFinalizingSync() {
		t.Fatalf("empty collection should not report IsFinalizingSync")
	}
	cc.AddPeerOrCreateChain(Epoch(0), Root{1}, Slot(6400), "p1", SyncFinalized, true)
	cc.Update(SyncInfo{})
	if !cc.IsFinalizingSync() {
		t.Fatalf("after Update elects a finalized chain, IsFinalizingSync should be true")
	}
}

func TestStateReportsIdleThenFinalizedThenHead(t *testing.T) {
	cc, _, _, _ := newTestCollection()
	if cc.State().Kind != StatusIdle {
		t.Fatalf("empty collection should report StatusIdle")
	}

	cc.AddPeerOrCreateChain(Epoch(0), Root{1}, Slot(6400), "p1", SyncFinalized, true)
	cc.Update(SyncInfo{})
	if cc.State().Kind != StatusSyncingFinalized {
		t.Fatalf("got %v, want StatusSyncingFinalized", cc.State().Kind)
	}

	cc2, _, _, _ := newTestCollection()
	cc2.AddPeerOrCreateChain(Epoch(0), Root{2}, Slot(6400), "p1", SyncHead, true)
	cc2.Update(SyncInfo{})
	if cc2.State().Kind != StatusSyncingHead {
		t.Fatalf("got %v, want StatusSyncingHead", cc2.State().Kind)
	}
}
