package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cocosip/locus/pkg/events"
	"github.com/cocosip/locus/pkg/log"
	"github.com/cocosip/locus/pkg/metrics"
)

// componentFor maps a check type to its metrics component name
func componentFor(t CheckType) string {
	switch t {
	case CheckTypeVolume:
		return "volumes"
	case CheckTypeMetadata:
		return "metastore"
	case CheckTypeQuota:
		return "quota"
	default:
		return string(t)
	}
}

// Monitor runs a set of checkers on a fixed cadence, tracks their
// consecutive-failure status, feeds the metrics component registry,
// and publishes an event when a volume turns unhealthy.
type Monitor struct {
	checkers []Checker
	config   Config
	broker   *events.Broker
	logger   zerolog.Logger

	mu       sync.RWMutex
	statuses map[Checker]*Status

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a monitor over the given checkers. A nil broker
// disables event publishing.
func NewMonitor(checkers []Checker, config Config, broker *events.Broker) *Monitor {
	statuses := make(map[Checker]*Status, len(checkers))
	for _, c := range checkers {
		statuses[c] = NewStatus()
	}
	return &Monitor{
		checkers: checkers,
		config:   config,
		broker:   broker,
		logger:   log.WithComponent("health"),
		statuses: statuses,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the monitoring loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop stops the monitor and waits for the loop to exit
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	interval := m.config.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Check immediately on start
	m.checkAll()

	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case <-m.stopCh:
			return
		}
	}
}

// checkAll runs every checker once and folds the results into the
// per-type component health
func (m *Monitor) checkAll() {
	type agg struct {
		healthy bool
		message string
	}
	components := make(map[string]*agg)

	timeout := m.config.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	for _, c := range m.checkers {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		result := c.Check(ctx)
		cancel()

		m.mu.Lock()
		status := m.statuses[c]
		wasHealthy := status.Healthy
		status.Update(result, m.config)
		nowHealthy := status.Healthy
		m.mu.Unlock()

		if wasHealthy && !nowHealthy {
			m.logger.Warn().
				Str("check_type", string(c.Type())).
				Str("message", result.Message).
				Msg("Health check target became unhealthy")

			if vc, ok := c.(*VolumeChecker); ok && m.broker != nil {
				m.broker.Publish(&events.Event{
					Type:     events.EventVolumeUnhealthy,
					VolumeID: vc.VolumeID(),
					Message:  result.Message,
				})
			}
		}

		name := componentFor(c.Type())
		a, ok := components[name]
		if !ok {
			a = &agg{healthy: true}
			components[name] = a
		}
		if !nowHealthy {
			a.healthy = false
			if a.message == "" {
				a.message = result.Message
			}
		}
	}

	for name, a := range components {
		metrics.UpdateComponent(name, a.healthy, a.message)
	}
}

// StatusOf returns a copy of the tracked status for a checker
func (m *Monitor) StatusOf(c Checker) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[c]
	if !ok {
		return Status{}, false
	}
	return *s, true
}
