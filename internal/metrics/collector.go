package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketMetrics = []byte("metrics")
	keyCounters   = []byte("counters")
)

// Persisted metric families
const (
	familyEvents        = "acme_dns_sidecar_events_total"
	familyRecords       = "acme_dns_sidecar_records_total"
	familyWatchRestarts = "acme_dns_sidecar_watch_restarts_total"
)

// ShadowCounters stores counter values for persistence
type ShadowCounters struct {
	Events        map[string]float64 `json:"events"`
	Records       map[string]float64 `json:"records"`
	WatchRestarts float64            `json:"watch_restarts"`
}

// EntryCounter reports how many entries the reconcile journal holds
type EntryCounter interface {
	Count() (int, error)
}

// CollectorOptions configures the metrics collector
type CollectorOptions struct {
	DB            *bolt.DB      // nil disables counter persistence
	DatabasePath  string        // acme-dns database file to report the size of
	FlushInterval time.Duration // Default: 10s
	Journal       EntryCounter  // nil leaves the journal gauge unset
}

// Collector keeps pipeline counters across restarts and updates system gauges
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	databasePath  string
	flushInterval time.Duration
	journal       EntryCounter
	startTime     time.Time
	logger        *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new metrics collector and restores persisted counters
func NewCollector(m *Metrics, opts CollectorOptions, logger *slog.Logger) (*Collector, error) {
	if opts.FlushInterval == 0 {
		opts.FlushInterval = 10 * time.Second
	}

	c := &Collector{
		db:            opts.DB,
		metrics:       m,
		databasePath:  opts.DatabasePath,
		flushInterval: opts.FlushInterval,
		journal:       opts.Journal,
		logger:        logger,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if c.db != nil {
		err := c.db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketMetrics)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics bucket: %w", err)
		}
		if err := c.loadCounters(); err != nil {
			return nil, err
		}
	}

	c.collectSystemMetrics()
	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return c.persistCounters()
}

// loadCounters adds persisted counter values to the live counters
func (c *Collector) loadCounters() error {
	return c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data := bucket.Get(keyCounters)
		if data == nil {
			return nil
		}

		var shadow ShadowCounters
		if err := json.Unmarshal(data, &shadow); err != nil {
			return nil // Skip invalid data
		}

		for k, v := range shadow.Events {
			c.metrics.EventsTotal.WithLabelValues(k).Add(v)
		}
		for k, v := range shadow.Records {
			c.metrics.RecordsTotal.WithLabelValues(k).Add(v)
		}
		c.metrics.WatchRestartsTotal.Add(shadow.WatchRestarts)

		return nil
	})
}

// snapshot reads the current counter values from the registry
func (c *Collector) snapshot() (ShadowCounters, error) {
	shadow := ShadowCounters{
		Events:  make(map[string]float64),
		Records: make(map[string]float64),
	}

	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return shadow, fmt.Errorf("failed to gather metrics: %w", err)
	}

	for _, family := range families {
		switch family.GetName() {
		case familyEvents:
			for _, metric := range family.GetMetric() {
				shadow.Events[labelValue(metric, "type")] = metric.GetCounter().GetValue()
			}
		case familyRecords:
			for _, metric := range family.GetMetric() {
				shadow.Records[labelValue(metric, "outcome")] = metric.GetCounter().GetValue()
			}
		case familyWatchRestarts:
			for _, metric := range family.GetMetric() {
				shadow.WatchRestarts = metric.GetCounter().GetValue()
			}
		}
	}

	return shadow, nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	if c.db == nil {
		return nil
	}

	shadow, err := c.snapshot()
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}

		data, err := json.Marshal(shadow)
		if err != nil {
			return err
		}

		return bucket.Put(keyCounters, data)
	})
}

// flush persists counters from the background loop, where a failure only
// delays persistence until the next tick
func (c *Collector) flush() {
	if err := c.persistCounters(); err != nil {
		c.logger.Warn("failed to persist metrics counters", "error", err)
	}
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	flush := time.NewTicker(c.flushInterval)
	defer flush.Stop()
	system := time.NewTicker(5 * time.Second)
	defer system.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-flush.C:
			c.flush()
		case <-system.C:
			c.collectSystemMetrics()
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.databasePath != "" {
		if info, err := os.Stat(c.databasePath); err == nil {
			c.metrics.DatabaseSizeBytes.Set(float64(info.Size()))
		}
	}

	if c.journal != nil {
		if n, err := c.journal.Count(); err == nil {
			c.metrics.JournalEntries.Set(float64(n))
		}
	}
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}
