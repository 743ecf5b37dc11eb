package rangesync

import "github.com/davecgh/go-spew/spew"

// dumpState renders a batch/chain struct for failure messages, the same
// way a pack repo's test helpers lean on go-spew instead of bespoke
// %+v formatting for nested unexported fields.
func dumpState(v interface{}) string {
	return spew.Sdump(v)
}

// testNet records every call instead of touching a real transport.
type testNet struct {
	sent       []RequestRange
	goodbyes   map[PeerId]GoodbyeReason
	statusedAt [][]PeerId
}

func newTestNet() *testNet {
	return &testNet{goodbyes: make(map[PeerId]GoodbyeReason)}
}

func (n *testNet) SendBlocksByRange(peer PeerId, req ReqId, r RequestRange) error {
	n.sent = append(n.sent, r)
	return nil
}

func (n *testNet) SendBlobsByRange(peer PeerId, req ReqId, r RequestRange) error {
	return nil
}

func (n *testNet) GoodbyePeer(peer PeerId, reason GoodbyeReason) {
	n.goodbyes[peer] = reason
}

func (n *testNet) StatusPeers(peers []PeerId) {
	n.statusedAt = append(n.statusedAt, peers)
}

// testProcessor buffers submitted segments for the test to drive results on.
type testProcessor struct {
	submitted []ChainSegment
}

func (p *testProcessor) Submit(segment ChainSegment) {
	p.submitted = append(p.submitted, segment)
}

// testChain is a fixed local SyncInfo, never advances on its own.
type testChain struct {
	status    SyncInfo
	fork      ForkVersion
	sidecars  bool
}

func (c *testChain) StatusMessage() SyncInfo { return c.status }
func (c *testChain) ForkAtSlot(slot Slot) ForkVersion { return c.fork }
func (c *testChain) RequiresSidecars(fork ForkVersion) bool { return c.sidecars }

// testMetrics counts every sink call by kind, ignoring sync-type.
type testMetrics struct {
	chainsDropped   int
	blocksDropped   int64
	batchesAttempt  int
	batchesFailed   int
}

func (m *testMetrics) IncChainsDropped(syncType string)              { m.chainsDropped++ }
func (m *testMetrics) AddBlocksDropped(syncType string, count int64) { m.blocksDropped += count }
func (m *testMetrics) IncBatchesAttempted(syncType string)           { m.batchesAttempt++ }
func (m *testMetrics) IncBatchesFailed(syncType string)              { m.batchesFailed++ }
