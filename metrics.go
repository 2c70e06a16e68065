package hvdetect

import (
	"sync/atomic"
	"time"
)

// Counters for monitoring detection passes
var (
	// Query counters
	queryCount        uint64
	queryAttempts     uint64
	reallocations     uint64
	retryExhaustions  uint64
	queryFailures     uint64
	topologyFallbacks uint64

	// Decode/evaluate counters
	decodedThreads uint64
	passCount      uint64
	detections     uint64

	// Timing metrics (nanoseconds)
	totalQueryTime uint64
	totalPassTime  uint64
)

// Metrics provides access to detection metrics
type Metrics struct {
	Queries           uint64 `json:"queries"`
	QueryAttempts     uint64 `json:"query_attempts"`
	Reallocations     uint64 `json:"reallocations"`
	RetryExhaustions  uint64 `json:"retry_exhaustions"`
	QueryFailures     uint64 `json:"query_failures"`
	TopologyFallbacks uint64 `json:"topology_fallbacks"`
	DecodedThreads    uint64 `json:"decoded_threads"`
	Passes            uint64 `json:"passes"`
	Detections        uint64 `json:"detections"`
	AvgQueryTimeNs    uint64 `json:"avg_query_time_ns"`
	AvgPassTimeNs     uint64 `json:"avg_pass_time_ns"`
}

// GetMetrics returns current metrics
func GetMetrics() Metrics {
	queries := atomic.LoadUint64(&queryCount)
	passes := atomic.LoadUint64(&passCount)

	var avgQuery, avgPass uint64
	if queries > 0 {
		avgQuery = atomic.LoadUint64(&totalQueryTime) / queries
	}
	if passes > 0 {
		avgPass = atomic.LoadUint64(&totalPassTime) / passes
	}

	return Metrics{
		Queries:           queries,
		QueryAttempts:     atomic.LoadUint64(&queryAttempts),
		Reallocations:     atomic.LoadUint64(&reallocations),
		RetryExhaustions:  atomic.LoadUint64(&retryExhaustions),
		QueryFailures:     atomic.LoadUint64(&queryFailures),
		TopologyFallbacks: atomic.LoadUint64(&topologyFallbacks),
		DecodedThreads:    atomic.LoadUint64(&decodedThreads),
		Passes:            passes,
		Detections:        atomic.LoadUint64(&detections),
		AvgQueryTimeNs:    avgQuery,
		AvgPassTimeNs:     avgPass,
	}
}

// ResetMetrics clears all metrics
func ResetMetrics() {
	atomic.StoreUint64(&queryCount, 0)
	atomic.StoreUint64(&queryAttempts, 0)
	atomic.StoreUint64(&reallocations, 0)
	atomic.StoreUint64(&retryExhaustions, 0)
	atomic.StoreUint64(&queryFailures, 0)
	atomic.StoreUint64(&topologyFallbacks, 0)
	atomic.StoreUint64(&decodedThreads, 0)
	atomic.StoreUint64(&passCount, 0)
	atomic.StoreUint64(&detections, 0)
	atomic.StoreUint64(&totalQueryTime, 0)
	atomic.StoreUint64(&totalPassTime, 0)
}

// Internal metric recording functions
func recordQuery(duration time.Duration) {
	atomic.AddUint64(&queryCount, 1)
	atomic.AddUint64(&totalQueryTime, uint64(duration.Nanoseconds()))
}

func recordAttempt() {
	atomic.AddUint64(&queryAttempts, 1)
}

func recordReallocation() {
	atomic.AddUint64(&reallocations, 1)
}

func recordRetryExhausted() {
	atomic.AddUint64(&retryExhaustions, 1)
}

func recordQueryFailure() {
	atomic.AddUint64(&queryFailures, 1)
}

func recordTopologyFallback() {
	atomic.AddUint64(&topologyFallbacks, 1)
}

func recordDecodedThreads(n int) {
	atomic.AddUint64(&decodedThreads, uint64(n))
}

func recordPass(duration time.Duration) {
	atomic.AddUint64(&passCount, 1)
	atomic.AddUint64(&totalPassTime, uint64(duration.Nanoseconds()))
}

func recordDetection() {
	atomic.AddUint64(&detections, 1)
}
