package main

import (
	"github.com/sigp/go-rangesync/internal/gethlog"
	"github.com/sigp/go-rangesync/rangesync"
)

// demoChain is a minimal BeaconChain: it never actually imports blocks,
// it just reports a fixed local status. A real node's beacon chain
// store is an out-of-scope external collaborator (spec §1).
type demoChain struct {
	status rangesync.SyncInfo
}

func (d *demoChain) StatusMessage() rangesync.SyncInfo { return d.status }

func (d *demoChain) ForkAtSlot(slot rangesync.Slot) rangesync.ForkVersion {
	return "deneb"
}

func (d *demoChain) RequiresSidecars(fork rangesync.ForkVersion) bool {
	return fork == "deneb"
}

// demoNetwork logs every call instead of touching a real libp2p swarm;
// wire encoding and transport are out of scope (spec §1/§6).
type demoNetwork struct{}

func newDemoNetwork() *demoNetwork { return &demoNetwork{} }

func (n *demoNetwork) SendBlocksByRange(peer rangesync.PeerId, req rangesync.ReqId, r rangesync.RequestRange) error {
	gethlog.Debug("SendBlocksByRange", "peer", peer, "req", req, "start", r.StartSlot, "count", r.Count)
	return nil
}

func (n *demoNetwork) SendBlobsByRange(peer rangesync.PeerId, req rangesync.ReqId, r rangesync.RequestRange) error {
	gethlog.Debug("SendBlobsByRange", "peer", peer, "req", req, "start", r.StartSlot, "count", r.Count)
	return nil
}

func (n *demoNetwork) GoodbyePeer(peer rangesync.PeerId, reason rangesync.GoodbyeReason) {
	gethlog.Info("GoodbyePeer", "peer", peer, "reason", reason)
}

func (n *demoNetwork) StatusPeers(peers []rangesync.PeerId) {
	gethlog.Debug("StatusPeers", "count", len(peers))
}

// demoProcessor accepts chain segments and immediately reports success,
// standing in for the out-of-scope block-processor worker pool.
type demoProcessor struct {
	coord *rangesync.RangeCoordinator
}

func newDemoProcessor() *demoProcessor { return &demoProcessor{} }

func (p *demoProcessor) Submit(segment rangesync.ChainSegment) {
	gethlog.Debug("Processing chain segment", "chain", segment.ChainId, "batch", segment.BatchId, "blocks", len(segment.Blocks))
	if p.coord != nil {
		p.coord.HandleBlockProcessResult(segment.ChainId, segment.BatchId, rangesync.BatchProcessResult{Ok: true, ImportedAny: len(segment.Blocks) > 0})
	}
}
