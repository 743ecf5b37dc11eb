package rangesync

import "fmt"

// BatchState tags the Batch state machine described in spec §4.1. Only
// the fields meaningful for the current tag are populated; each
// transition method checks the tag first and, when called out of state,
// refuses (returns ok=false / a stale outcome) or does nothing, leaving
// the batch unchanged. Nothing panics on a wrong tag.
type BatchState int

const (
	AwaitingDownload BatchState = iota
	Downloading
	AwaitingProcessing
	Processing
	AwaitingValidation
	Failed
)

func (s BatchState) String() string {
	switch s {
	case AwaitingDownload:
		return "AwaitingDownload"
	case Downloading:
		return "Downloading"
	case AwaitingProcessing:
		return "AwaitingProcessing"
	case Processing:
		return "Processing"
	case AwaitingValidation:
		return "AwaitingValidation"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Batch drives one contiguous epoch range of blocks from nothing to
// processed-and-validated, attributing failures to the peers that
// served it.
type Batch struct {
	id           BatchId
	reqRange     RequestRange
	withSidecars bool
	state        BatchState

	// Downloading{peer, reqId}
	downloadPeer PeerId
	downloadReq  ReqId
	reqCounter   ReqId

	// AwaitingProcessing / Processing payload
	receivedBlocks   []Block
	isBlocksComplete bool
	// lastDownloadPeer is the peer that served the blocks currently
	// buffered or in Processing — the blame target if processing fails.
	lastDownloadPeer PeerId

	downloadAttempts int
	processAttempts  int
	peerBlame        map[PeerId]int
	// processFailurePeers is the set of distinct peers whose delivered
	// blocks were blamed for a processing failure on this batch; used to
	// decide whether a Failed-by-processing-exhaustion batch implicates
	// the chain itself (distinct peers all failed) or just one bad peer.
	processFailurePeers map[PeerId]bool
}

// NewBatch creates a batch in AwaitingDownload for the given epoch
// range. withSidecars is decided by the chain from the active fork at
// the batch's start slot (BeaconChain.RequiresSidecars).
func NewBatch(id BatchId, withSidecars bool) *Batch {
	return &Batch{
		id:   id,
		state: AwaitingDownload,
		reqRange: RequestRange{
			StartSlot: Epoch(id).StartSlot(),
			Count:     EpochsPerBatch * SlotsPerEpoch,
		},
		withSidecars:        withSidecars,
		peerBlame:           make(map[PeerId]int),
		processFailurePeers: make(map[PeerId]bool),
	}
}

func (b *Batch) Id() BatchId        { return b.id }
func (b *Batch) State() BatchState  { return b.state }
func (b *Batch) RequestRange() RequestRange { return b.reqRange }

// BlameFor returns the peer with the highest blame count on this batch,
// and whether any peer has nonzero blame.
func (b *Batch) BlameFor() (PeerId, bool) {
	var worst PeerId
	best := -1
	for p, n := range b.peerBlame {
		if n > best {
			best = n
			worst = p
		}
	}
	return worst, best > 0
}

// StartDownloading transitions AwaitingDownload -> Downloading{peer,
// req_id} and returns the wire request descriptor.
func (b *Batch) StartDownloading(peer PeerId) (ReqId, RequestRange, bool) {
	if b.state != AwaitingDownload {
		return 0, RequestRange{}, false
	}
	b.reqCounter++
	b.downloadPeer = peer
	b.downloadReq = b.reqCounter
	b.state = Downloading
	b.receivedBlocks = nil
	b.isBlocksComplete = false
	return b.downloadReq, b.reqRange, true
}

// OnBlock appends an incoming block (or, when terminal is true, closes
// the stream) for the named request. See BatchOutcome for the return
// contract.
func (b *Batch) OnBlock(peer PeerId, req ReqId, block Block, terminal bool) BatchOutcome {
	if b.state != Downloading || peer != b.downloadPeer || req != b.downloadReq {
		return OutcomeIgnoredStale
	}
	if terminal {
		b.isBlocksComplete = true
		b.lastDownloadPeer = b.downloadPeer
		b.state = AwaitingProcessing
		return OutcomeComplete
	}
	if block != nil {
		if block.Slot() < b.reqRange.StartSlot || uint64(block.Slot()) >= uint64(b.reqRange.StartSlot)+b.reqRange.Count {
			return OutcomeIgnoredStale
		}
		b.receivedBlocks = append(b.receivedBlocks, block)
	}
	return OutcomeContinue
}

// StartProcessing transitions AwaitingProcessing -> Processing and
// returns the buffered blocks to be submitted to the processor.
func (b *Batch) StartProcessing() ([]Block, bool) {
	if b.state != AwaitingProcessing {
		return nil, false
	}
	b.state = Processing
	return b.receivedBlocks, true
}

// ProcessOutcome tells the chain what to do after a processing result.
type ProcessOutcome int

const (
	// ProcessAwaitingValidation: success, optimistically accepted —
	// pending confirmation by the successor's own success.
	ProcessAwaitingValidation ProcessOutcome = iota
	// ProcessRetry: recoverable failure, batch reset to AwaitingDownload.
	ProcessRetry
	// ProcessFailed: retry budget exhausted, batch is terminal.
	ProcessFailed
)

// OnProcessResult consumes a processor result for a batch in Processing.
func (b *Batch) OnProcessResult(result BatchProcessResult) ProcessOutcome {
	if b.state != Processing {
		return ProcessRetry
	}
	if result.Ok {
		b.state = AwaitingValidation
		return ProcessAwaitingValidation
	}
	b.processAttempts++
	if result.Faulty && b.lastDownloadPeer != "" {
		b.peerBlame[b.lastDownloadPeer]++
		b.processFailurePeers[b.lastDownloadPeer] = true
	}
	if b.processAttempts >= MaxBatchProcessingAttempts {
		b.state = Failed
		return ProcessFailed
	}
	b.state = AwaitingDownload
	return ProcessRetry
}

// DistinctProcessingFailurePeers reports how many distinct peers were
// blamed for a processing failure of this batch — used by the chain to
// decide ChainFailed{blacklist}.
func (b *Batch) DistinctProcessingFailurePeers() int {
	return len(b.processFailurePeers)
}

// OnSuccessorValidated marks a batch in AwaitingValidation as confirmed;
// the chain destroys it immediately after calling this.
func (b *Batch) OnSuccessorValidated() {
	// No state transition needed: the chain removes the batch from its
	// map right after calling this. Kept as an explicit method (rather
	// than inlining the removal) so the state-machine intent is named at
	// the call site, matching spec §4.1.
}

// Resuspect resets a batch out of AwaitingValidation back to
// AwaitingDownload without blame: its successor's processing failure
// means this batch's earlier "success" can no longer be trusted, but
// that is not this batch's peer's fault per se (see SPEC_FULL.md
// "Validation-by-successor").
func (b *Batch) Resuspect() {
	if b.state != AwaitingValidation {
		return
	}
	b.state = AwaitingDownload
	b.downloadPeer = ""
	b.downloadReq = 0
}

// OnPeerDisconnect resets a batch being downloaded from the disconnected
// peer back to AwaitingDownload without blame. Returns true if the
// batch was affected.
func (b *Batch) OnPeerDisconnect(peer PeerId) bool {
	if b.state == Downloading && b.downloadPeer == peer {
		b.state = AwaitingDownload
		b.downloadPeer = ""
		b.downloadReq = 0
		return true
	}
	return false
}

// OnRpcError handles a transport-reported RPC error for the given
// request. Returns whether the batch's download budget is now
// exhausted (Failed).
func (b *Batch) OnRpcError(peer PeerId, req ReqId) bool {
	if b.state != Downloading || peer != b.downloadPeer || req != b.downloadReq {
		return false
	}
	b.peerBlame[peer]++
	b.downloadAttempts++
	b.downloadPeer = ""
	b.downloadReq = 0
	if b.downloadAttempts >= MaxBatchDownloadAttempts {
		b.state = Failed
		return true
	}
	b.state = AwaitingDownload
	return false
}

func (b *Batch) String() string {
	return fmt.Sprintf("Batch{id=%d state=%s dlAttempts=%d procAttempts=%d}", b.id, b.state, b.downloadAttempts, b.processAttempts)
}
