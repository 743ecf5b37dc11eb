package rangesync

import "testing"

type fakeBlock struct{ slot Slot }

func (b fakeBlock) Slot() Slot { return b.slot }

func TestNewBatchStartsAwaitingDownload(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	if b.State() != AwaitingDownload {
		t.Fatalf("got state %s, want AwaitingDownload", b.State())
	}
	if got, want := b.RequestRange().Count, uint64(EpochsPerBatch*SlotsPerEpoch); got != want {
		t.Fatalf("RequestRange().Count = %d, want %d", got, want)
	}
}

func TestStartDownloadingRejectsWrongState(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	if _, _, ok := b.StartDownloading("p1"); !ok {
		t.Fatalf("StartDownloading from AwaitingDownload should succeed")
	}
	if _, _, ok := b.StartDownloading("p2"); ok {
		t.Fatalf("StartDownloading from Downloading should fail")
	}
}

func TestOnBlockIgnoresStaleRequests(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	req, _, _ := b.StartDownloading("p1")

	if got := b.OnBlock("p1", req+1, fakeBlock{slot: 0}, false); got != OutcomeIgnoredStale {
		t.Fatalf("wrong req id: got %v, want OutcomeIgnoredStale", got)
	}
	if got := b.OnBlock("p2", req, fakeBlock{slot: 0}, false); got != OutcomeIgnoredStale {
		t.Fatalf("wrong peer: got %v, want OutcomeIgnoredStale", got)
	}
}

func TestOnBlockRejectsOutOfRangeSlots(t *testing.T) {
	b := NewBatch(BatchId(1), false) // epoch 1 -> slots [32, 64)
	req, reqRange, _ := b.StartDownloading("p1")

	if got := b.OnBlock("p1", req, fakeBlock{slot: reqRange.StartSlot - 1}, false); got != OutcomeIgnoredStale {
		t.Fatalf("below range: got %v, want OutcomeIgnoredStale", got)
	}
	if got := b.OnBlock("p1", req, fakeBlock{slot: reqRange.StartSlot + Slot(reqRange.Count)}, false); got != OutcomeIgnoredStale {
		t.Fatalf("above range: got %v, want OutcomeIgnoredStale", got)
	}
	if got := b.OnBlock("p1", req, fakeBlock{slot: reqRange.StartSlot}, false); got != OutcomeContinue {
		t.Fatalf("in range: got %v, want OutcomeContinue", got)
	}
}

func TestOnBlockTerminalMovesToAwaitingProcessing(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	req, _, _ := b.StartDownloading("p1")
	b.OnBlock("p1", req, fakeBlock{slot: 0}, false)

	if got := b.OnBlock("p1", req, nil, true); got != OutcomeComplete {
		t.Fatalf("terminal: got %v, want OutcomeComplete", got)
	}
	if b.State() != AwaitingProcessing {
		t.Fatalf("got state %s, want AwaitingProcessing", b.State())
	}

	blocks, ok := b.StartProcessing()
	if !ok {
		t.Fatalf("StartProcessing should succeed from AwaitingProcessing")
	}
	if len(blocks) != 1 {
		t.Fatalf("got %d buffered blocks, want 1", len(blocks))
	}
	if b.State() != Processing {
		t.Fatalf("got state %s, want Processing", b.State())
	}
}

func completeDownload(b *Batch, peer PeerId) {
	req, _, _ := b.StartDownloading(peer)
	b.OnBlock(peer, req, nil, true)
	b.StartProcessing()
}

func TestOnProcessResultSuccessMovesToAwaitingValidation(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	completeDownload(b, "p1")

	if got := b.OnProcessResult(BatchProcessResult{Ok: true}); got != ProcessAwaitingValidation {
		t.Fatalf("got %v, want ProcessAwaitingValidation", got)
	}
	if b.State() != AwaitingValidation {
		t.Fatalf("got state %s, want AwaitingValidation", b.State())
	}
}

func TestOnProcessResultRetryThenFailed(t *testing.T) {
	b := NewBatch(BatchId(0), false)

	for i := 0; i < MaxBatchProcessingAttempts-1; i++ {
		completeDownload(b, "p1")
		if got := b.OnProcessResult(BatchProcessResult{Ok: false, Faulty: true}); got != ProcessRetry {
			t.Fatalf("attempt %d: got %v, want ProcessRetry", i, got)
		}
		if b.State() != AwaitingDownload {
			t.Fatalf("attempt %d: got state %s, want AwaitingDownload", i, b.State())
		}
	}

	completeDownload(b, "p1")
	if got := b.OnProcessResult(BatchProcessResult{Ok: false, Faulty: true}); got != ProcessFailed {
		t.Fatalf("final attempt: got %v, want ProcessFailed", got)
	}
	if b.State() != Failed {
		t.Fatalf("got state %s, want Failed", b.State())
	}
	if b.DistinctProcessingFailurePeers() != 1 {
		t.Fatalf("got %d distinct processing-failure peers, want 1", b.DistinctProcessingFailurePeers())
	}
}

func TestDistinctProcessingFailurePeersCountsUniquePeers(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	peers := []PeerId{"p1", "p2", "p3"}
	for i := 0; i < MaxBatchProcessingAttempts; i++ {
		completeDownload(b, peers[i])
		b.OnProcessResult(BatchProcessResult{Ok: false, Faulty: true})
	}
	if got := b.DistinctProcessingFailurePeers(); got != 3 {
		t.Fatalf("got %d distinct peers, want 3", got)
	}
}

func TestResuspectResetsAwaitingValidationWithoutBlame(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	completeDownload(b, "p1")
	b.OnProcessResult(BatchProcessResult{Ok: true})

	b.Resuspect()
	if b.State() != AwaitingDownload {
		t.Fatalf("got state %s, want AwaitingDownload", b.State())
	}
	if _, blamed := b.BlameFor(); blamed {
		t.Fatalf("Resuspect should not record blame")
	}
}

func TestResuspectNoopOutsideAwaitingValidation(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	b.Resuspect()
	if b.State() != AwaitingDownload {
		t.Fatalf("got state %s, want unchanged AwaitingDownload", b.State())
	}
}

func TestOnPeerDisconnectResetsDownloadingBatch(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	b.StartDownloading("p1")

	if !b.OnPeerDisconnect("p1") {
		t.Fatalf("OnPeerDisconnect should report the batch was affected")
	}
	if b.State() != AwaitingDownload {
		t.Fatalf("got state %s, want AwaitingDownload", b.State())
	}
	if b.OnPeerDisconnect("p2") {
		t.Fatalf("disconnect of an unrelated peer should report false")
	}
}

// TestOnRpcErrorExhaustionAcrossDistinctPeers mirrors the scenario where
// five RPC errors from four distinct peers fail the batch: the retry
// budget is a total across all peers, not a per-peer count (see
// DESIGN.md "Open Question resolutions" #1).
func TestOnRpcErrorExhaustionAcrossDistinctPeers(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	peers := []PeerId{"p1", "p2", "p3", "p4", "p1"}

	for i, peer := range peers {
		req, _, _ := b.StartDownloading(peer)
		failed := b.OnRpcError(peer, req)
		if i < len(peers)-1 && failed {
			t.Fatalf("attempt %d: batch failed early", i+1)
		}
		if i == len(peers)-1 && !failed {
			t.Fatalf("attempt %d: batch should be Failed once attempts reach %d", i+1, MaxBatchDownloadAttempts)
		}
	}
	if b.State() != Failed {
		t.Fatalf("got state %s, want Failed", b.State())
	}
}

func TestOnRpcErrorIgnoresMismatchedRequest(t *testing.T) {
	b := NewBatch(BatchId(0), false)
	b.StartDownloading("p1")

	if b.OnRpcError("p1", 999) {
		t.Fatalf("mismatched req id should not be treated as an error for this batch")
	}
	if b.State() != Downloading {
		t.Fatalf("got state %s, want unchanged Downloading", b.State())
	}
}
