package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/leadcast/internal/campaign"
)

// AssignmentStatsProvider reports assignment counts for the status gauges
type AssignmentStatsProvider interface {
	CountByStatus(ctx context.Context) (map[campaign.Status]int64, error)
}

var bucketMetrics = []byte("metrics")

// counterSample is one persisted counter series
type counterSample struct {
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// Collector persists counters across restarts and updates system gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	assignments   AssignmentStatsProvider
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a new metrics collector and restores persisted counters
func NewCollector(db *bolt.DB, m *Metrics, assignments AssignmentStatsProvider, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		assignments:   assignments,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

// persistent lists the counters whose values survive a restart, by family name
func (m *Metrics) persistent() map[string]*prometheus.CounterVec {
	return map[string]*prometheus.CounterVec{
		"leadcast_dispatch_batches_total":  m.DispatchBatchesTotal,
		"leadcast_dispatch_leads_total":    m.DispatchLeadsTotal,
		"leadcast_dispatch_skipped_total":  m.DispatchSkippedTotal,
		"leadcast_selections_total":        m.SelectionsTotal,
		"leadcast_content_generated_total": m.ContentGeneratedTotal,
		"leadcast_transport_sends_total":   m.TransportSendsTotal,
		"leadcast_quota_exceeded_total":    m.QuotaExceededTotal,
		"leadcast_events_ingested_total":   m.EventsIngestedTotal,
		"leadcast_stats_increments_total":  m.StatsIncrementsTotal,
		"leadcast_api_requests_total":      m.APIRequestsTotal,
		"leadcast_api_errors_total":        m.APIErrorsTotal,
	}
}

// loadCounters restores persisted counter values from BoltDB
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte("counters"))
		if data == nil {
			return nil
		}

		var saved map[string][]counterSample
		if err := json.Unmarshal(data, &saved); err != nil {
			return nil // Skip invalid data
		}

		vecs := c.metrics.persistent()
		for name, samples := range saved {
			vec, ok := vecs[name]
			if !ok {
				continue
			}
			for _, s := range samples {
				counter, err := vec.GetMetricWith(s.Labels)
				if err != nil {
					continue // label set changed between versions
				}
				counter.Add(s.Value)
			}
		}
		return nil
	})
}

// snapshot reads the current values of all persistent counters
func (c *Collector) snapshot() (map[string][]counterSample, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	vecs := c.metrics.persistent()
	out := make(map[string][]counterSample)
	for _, mf := range families {
		if _, ok := vecs[mf.GetName()]; !ok || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out[mf.GetName()] = append(out[mf.GetName()], counterSample{
				Labels: labels,
				Value:  metric.GetCounter().GetValue(),
			})
		}
	}
	return out, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.snapshot()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data, err := json.Marshal(snap)
		if err != nil {
			return err
		}

		return bucket.Put([]byte("counters"), data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics(ctx)
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.assignments != nil {
		counts, err := c.assignments.CountByStatus(ctx)
		if err == nil {
			for _, s := range []campaign.Status{
				campaign.StatusPending, campaign.StatusSent,
				campaign.StatusDelivered, campaign.StatusFailed,
			} {
				c.metrics.AssignmentsByStatus.WithLabelValues(string(s)).Set(float64(counts[s]))
			}
		}
	}
}
