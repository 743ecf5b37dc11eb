// Package rangemetrics mirrors the teacher's registered-meter metrics
// idiom (abey/downloader/metrics.go, abey/fetcher/metrics.go) but backs
// the counters with rcrowley/go-metrics and exports them through a
// Prometheus registry, matching the real dependency set go-ethereum
// itself builds its metrics package on.
package rangemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"
)

var registry = gometrics.NewRegistry()

// perType holds the four counters the spec's metrics sink (§6) requires,
// one set per sync_type string ("finalized" / "head").
type perType struct {
	chainsDropped   gometrics.Counter
	blocksDropped   gometrics.Counter
	batchesAttempt  gometrics.Counter
	batchesFailed   gometrics.Counter
}

var byType = map[string]*perType{}

func forType(syncType string) *perType {
	if p, ok := byType[syncType]; ok {
		return p
	}
	p := &perType{
		chainsDropped:  gometrics.NewRegisteredCounter("rangesync/"+syncType+"/chains/dropped", registry),
		blocksDropped:  gometrics.NewRegisteredCounter("rangesync/"+syncType+"/blocks/dropped", registry),
		batchesAttempt: gometrics.NewRegisteredCounter("rangesync/"+syncType+"/batches/attempted", registry),
		batchesFailed:  gometrics.NewRegisteredCounter("rangesync/"+syncType+"/batches/failed", registry),
	}
	byType[syncType] = p
	return p
}

// IncChainsDropped records one chain of the given sync type being torn down.
func IncChainsDropped(syncType string) { forType(syncType).chainsDropped.Inc(1) }

// AddBlocksDropped records count pending blocks discarded with a removed chain.
func AddBlocksDropped(syncType string, count int64) { forType(syncType).blocksDropped.Inc(count) }

// IncBatchesAttempted records a batch download attempt being issued.
func IncBatchesAttempted(syncType string) { forType(syncType).batchesAttempt.Inc(1) }

// IncBatchesFailed records a batch reaching its terminal Failed state.
func IncBatchesFailed(syncType string) { forType(syncType).batchesFailed.Inc(1) }

// Sink adapts the package-level counters to rangesync.MetricsSink
// without rangesync needing to import this package's concrete types.
type Sink struct{}

func (Sink) IncChainsDropped(syncType string)            { IncChainsDropped(syncType) }
func (Sink) AddBlocksDropped(syncType string, count int64) { AddBlocksDropped(syncType, count) }
func (Sink) IncBatchesAttempted(syncType string)          { IncBatchesAttempted(syncType) }
func (Sink) IncBatchesFailed(syncType string)             { IncBatchesFailed(syncType) }

// Collector exposes the registry as a Prometheus collector for
// cmd/rangesyncd to register against an HTTP /metrics handler.
type Collector struct{}

func (Collector) Describe(ch chan<- *prometheus.Desc) {}

func (Collector) Collect(ch chan<- prometheus.Metric) {
	registry.Each(func(name string, i interface{}) {
		if c, ok := i.(gometrics.Counter); ok {
			desc := prometheus.NewDesc(sanitize(name), name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(c.Count()))
		}
	})
}

func sanitize(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' || c == '-' {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
