package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ProbeFunc samples the sensor. The platform supplies it; the monitor
// only needs a boolean answer per poll.
type ProbeFunc func() bool

type ChangeHandler func(value bool)

// Monitor is a generic edge-triggered poller: it samples the probe on an
// interval and invokes the change handler exactly once per transition.
// Repeated identical readings never re-fire. The interval is adjustable
// at runtime through a reset signal without restarting the loop, and the
// loop can be paused without being stopped.
type Monitor struct {
	mu       sync.RWMutex
	logger   *log.Logger
	probe    ProbeFunc
	interval time.Duration
	value    bool
	enabled  bool
	onChange ChangeHandler

	resetCh chan struct{}
}

func NewMonitor(logger *log.Logger, interval time.Duration, probe ProbeFunc) *Monitor {
	return &Monitor{
		logger:   logger.WithPrefix("sensor"),
		probe:    probe,
		interval: interval,
		enabled:  true,
		resetCh:  make(chan struct{}, 1),
	}
}

func (m *Monitor) OnChange(handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = handler
}

func (m *Monitor) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *Monitor) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Value returns the last observed sensor reading.
func (m *Monitor) Value() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.value
}

// SetInterval adjusts the polling cadence. The running loop picks it up
// via the reset signal; no restart needed.
func (m *Monitor) SetInterval(d time.Duration) {
	m.mu.Lock()
	m.interval = d
	m.mu.Unlock()

	select {
	case m.resetCh <- struct{}{}:
	default:
	}
}

// Start runs the polling loop until ctx is cancelled. Call it from its
// own goroutine.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.RLock()
	interval := m.interval
	m.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("monitor started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return
		case <-m.resetCh:
			m.mu.RLock()
			newInterval := m.interval
			m.mu.RUnlock()
			ticker.Reset(newInterval)
			m.logger.Debug("interval updated", "interval", newInterval)
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	m.mu.RLock()
	enabled := m.enabled
	m.mu.RUnlock()

	if !enabled {
		return
	}

	value := m.probe()

	m.mu.Lock()
	changed := m.value != value
	m.value = value
	handler := m.onChange
	m.mu.Unlock()

	if changed {
		m.logger.Info("sensor state changed", "value", value)
		if handler != nil {
			handler(value)
		}
	}
}

// CheckNow bypasses the schedule: it probes immediately, updates the
// stored value, and returns it. It does not go through the loop's edge
// gate, so the change handler does not fire here.
func (m *Monitor) CheckNow() bool {
	value := m.probe()
	m.logger.Debug("on-demand check", "value", value)

	m.mu.Lock()
	m.value = value
	m.mu.Unlock()

	return value
}
