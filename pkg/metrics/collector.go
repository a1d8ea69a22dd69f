package metrics

import (
	"context"
	"time"

	"github.com/cocosip/locus/pkg/types"
)

// DefaultSampleInterval is how often the collector refreshes gauges
const DefaultSampleInterval = 15 * time.Second

// VolumeStat is one volume's sampled capacity snapshot
type VolumeStat struct {
	VolumeID       string
	TotalBytes     uint64
	AvailableBytes uint64
	Healthy        bool
}

// PoolStats is the view of the pool the collector samples. The pool
// implements it; the indirection keeps the metrics package free of a
// dependency on the data path it instruments.
type PoolStats interface {
	// Tenants lists every known tenant ID
	Tenants(ctx context.Context) ([]string, error)

	// StatusCounts returns the record count per status for one tenant
	StatusCounts(ctx context.Context, tenantID string) (map[types.FileStatus]int64, error)

	// VolumeStats snapshots every configured volume
	VolumeStats(ctx context.Context) []VolumeStat
}

// Collector periodically samples pool state into the queue-depth and
// volume gauges
type Collector struct {
	stats    PoolStats
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector over stats; interval <= 0 selects
// DefaultSampleInterval
func NewCollector(stats PoolStats, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Collector{
		stats:    stats,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), c.interval)
	defer cancel()

	c.collectFileMetrics(ctx)
	c.collectVolumeMetrics(ctx)
}

func (c *Collector) collectFileMetrics(ctx context.Context) {
	tenants, err := c.stats.Tenants(ctx)
	if err != nil {
		return
	}

	for _, tenantID := range tenants {
		counts, err := c.stats.StatusCounts(ctx, tenantID)
		if err != nil {
			continue
		}
		for _, status := range []types.FileStatus{
			types.FilePending,
			types.FileProcessing,
			types.FilePermanentlyFailed,
		} {
			FilesByStatus.WithLabelValues(tenantID, string(status)).Set(float64(counts[status]))
		}
	}
}

func (c *Collector) collectVolumeMetrics(ctx context.Context) {
	for _, stat := range c.stats.VolumeStats(ctx) {
		VolumeTotalBytes.WithLabelValues(stat.VolumeID).Set(float64(stat.TotalBytes))
		VolumeAvailableBytes.WithLabelValues(stat.VolumeID).Set(float64(stat.AvailableBytes))
		if stat.Healthy {
			VolumeHealthy.WithLabelValues(stat.VolumeID).Set(1)
		} else {
			VolumeHealthy.WithLabelValues(stat.VolumeID).Set(0)
		}
	}
}
