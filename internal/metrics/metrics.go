package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace of every exported metric
const Namespace = "peerweaver"

// Summary is the run summary exported on exit
type Summary struct {
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	NodesVisited      int       `json:"nodes_visited"`
	IPsDiscovered     int       `json:"ips_discovered"`
	Observations      int       `json:"observations"`
	RequestsSent      int       `json:"requests_sent"`
	RequestsFailed    int       `json:"requests_failed"`
	RequestsTimedOut  int       `json:"requests_timed_out"`
	TotalFetchTimeMs  int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs    int64     `json:"avg_fetch_time_ms"`
	TerminationReason string    `json:"termination_reason"`
}

// Tracker holds crawl metrics, mirrored into a private prometheus registry
type Tracker struct {
	mu               sync.Mutex
	data             Summary
	totalFetchTimeMs int64
	fetchCount       int

	registry      *prometheus.Registry
	nodesVisited  prometheus.Counter
	ipsDiscovered prometheus.Counter
	observations  prometheus.Counter
	requests      *prometheus.CounterVec
	fetchDuration prometheus.Histogram
}

// NewTracker creates a new metrics tracker
func NewTracker() *Tracker {
	t := &Tracker{
		data: Summary{
			StartTime: time.Now(),
		},
		registry: prometheus.NewRegistry(),
		nodesVisited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "nodes_visited_total",
			Help:      "Nodes whose admin endpoint was queried during IP discovery.",
		}),
		ipsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ips_discovered_total",
			Help:      "Distinct peer IPs discovered.",
		}),
		observations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "observations_total",
			Help:      "Identity/IP observations recorded.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Admin and RPC requests by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of admin and RPC requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	t.registry.MustRegister(t.nodesVisited, t.ipsDiscovered, t.observations, t.requests, t.fetchDuration)
	return t
}

// IncrementNodesVisited increments the visited nodes counter
func (t *Tracker) IncrementNodesVisited() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.NodesVisited++
	t.nodesVisited.Inc()
}

// IncrementIPsDiscovered increments the discovered IPs counter
func (t *Tracker) IncrementIPsDiscovered() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.IPsDiscovered++
	t.ipsDiscovered.Inc()
}

// IncrementObservations increments the identity/IP observation counter
func (t *Tracker) IncrementObservations() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data.Observations++
	t.observations.Inc()
}

// RecordRequest records one finished request and its duration
func (t *Tracker) RecordRequest(duration time.Duration, err error, timedOut bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.RequestsSent++
	t.totalFetchTimeMs += duration.Milliseconds()
	t.fetchCount++
	t.fetchDuration.Observe(duration.Seconds())

	switch {
	case timedOut:
		t.data.RequestsTimedOut++
		t.requests.WithLabelValues("timeout").Inc()
	case err != nil:
		t.data.RequestsFailed++
		t.requests.WithLabelValues("error").Inc()
	default:
		t.requests.WithLabelValues("ok").Inc()
	}
}

// GetSnapshot returns a copy of current metrics
func (t *Tracker) GetSnapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.data
	snapshot.TotalFetchTimeMs = t.totalFetchTimeMs

	// Calculate average fetch time
	if t.fetchCount > 0 {
		snapshot.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	return snapshot
}

// Handler serves the tracker's registry in the prometheus text format
func (t *Tracker) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying prometheus registry
func (t *Tracker) Registry() *prometheus.Registry {
	return t.registry
}

// WriteToFile exports the run summary to a JSON file
func (t *Tracker) WriteToFile(path, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Finalize metrics
	t.data.EndTime = time.Now()
	t.data.TerminationReason = reason
	t.data.TotalFetchTimeMs = t.totalFetchTimeMs

	// Calculate average
	if t.fetchCount > 0 {
		t.data.AvgFetchTimeMs = t.totalFetchTimeMs / int64(t.fetchCount)
	}

	// Marshal to JSON
	jsonData, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}

	return nil
}

// LogProgress formats current metrics for periodic console updates
func (t *Tracker) LogProgress() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return fmt.Sprintf("Nodes: %d visited | IPs: %d discovered | Observations: %d | Requests: %d sent, %d failed, %d timed out",
		t.data.NodesVisited,
		t.data.IPsDiscovered,
		t.data.Observations,
		t.data.RequestsSent,
		t.data.RequestsFailed,
		t.data.RequestsTimedOut,
	)
}
