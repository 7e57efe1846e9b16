// Package health implements periodic checks of the services Blockgate
// depends on: the access database, the session server and the data disk.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/config"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/util"
)

// Status values reported by checks.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusUnknown  = "unknown"
)

// Result is the outcome of one check run.
type Result struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// CheckFunc runs one check.
type CheckFunc func(ctx context.Context) (status, message string)

type check struct {
	name string
	fn   CheckFunc
}

// Manager runs registered checks on an interval and keeps the latest
// result of each.
type Manager struct {
	cfg      *config.Config
	eventBus *events.EventBus

	mu      sync.RWMutex
	checks  []check
	results map[string]Result
}

// NewManager creates a health manager. eventBus may be nil.
func NewManager(cfg *config.Config, eventBus *events.EventBus) *Manager {
	return &Manager{
		cfg:      cfg,
		eventBus: eventBus,
		results:  make(map[string]Result),
	}
}

// Add registers a check. Checks added after Start are picked up on the next
// round.
func (m *Manager) Add(name string, fn CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks = append(m.checks, check{name: name, fn: fn})
	m.results[name] = Result{Name: name, Status: StatusUnknown}
}

// Start runs every check immediately and then once per interval until ctx
// is cancelled.
func (m *Manager) Start(ctx context.Context) {
	interval := time.Duration(m.cfg.GetHealth().IntervalSec) * time.Second
	if interval <= 0 {
		log.Info().Msg("health checks disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("health check manager started")
	m.RunAll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health check manager stopped")
			return
		case <-ticker.C:
			m.RunAll(ctx)
		}
	}
}

// RunAll runs every check once, concurrently.
func (m *Manager) RunAll(ctx context.Context) {
	m.mu.RLock()
	checks := append([]check(nil), m.checks...)
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, c := range checks {
		wg.Add(1)
		go func(c check) {
			defer wg.Done()
			m.run(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (m *Manager) run(ctx context.Context, c check) {
	status, message := c.fn(ctx)
	result := Result{Name: c.name, Status: status, Message: message, CheckedAt: time.Now()}

	m.mu.Lock()
	previous := m.results[c.name].Status
	m.results[c.name] = result
	m.mu.Unlock()

	if previous == status {
		return
	}

	event := log.Info()
	if status != StatusOK {
		event = log.Warn()
	}
	event.Str("check", c.name).Str("status", status).Str("previous", previous).Str("message", message).
		Msg("health status changed")

	if m.eventBus != nil {
		m.eventBus.Emit(ctx, events.New(events.EventHealthChanged, "health", events.HealthPayload{
			Check:    c.name,
			Status:   status,
			Previous: previous,
			Message:  message,
		}))
	}
}

// Report returns the latest results sorted by name and the overall status:
// down when any check is down, degraded when any is not ok.
func (m *Manager) Report() ([]Result, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	overall := StatusOK
	results := make([]Result, 0, len(m.results))
	for _, r := range m.results {
		results = append(results, r)
		switch {
		case r.Status == StatusDown:
			overall = StatusDown
		case r.Status != StatusOK && overall == StatusOK:
			overall = StatusDegraded
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, overall
}

// Pinger is anything with a context aware liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports down when p fails to answer within timeout.
func PingCheck(p Pinger, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) (string, string) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return StatusDown, err.Error()
		}
		return StatusOK, ""
	}
}

// HTTPCheck reports whether url answers at all. Any HTTP response counts
// as reachable; server errors are reported as degraded.
func HTTPCheck(client *http.Client, url string) CheckFunc {
	return func(ctx context.Context) (string, string) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return StatusDown, err.Error()
		}
		resp, err := client.Do(req)
		if err != nil {
			return StatusDown, err.Error()
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return StatusDegraded, fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return StatusOK, ""
	}
}

// DiskCheck reports degraded when the disk holding dir is fuller than
// warnPercent, and down at 99%.
func DiskCheck(dir string, warnPercent float64) CheckFunc {
	return diskCheck(func() float64 { return util.GetHostLoad(dir).DiskPercent }, warnPercent)
}

func diskCheck(usage func() float64, warnPercent float64) CheckFunc {
	return func(ctx context.Context) (string, string) {
		used := usage()
		message := fmt.Sprintf("%.1f%% used", used)
		switch {
		case used >= 99:
			return StatusDown, message
		case warnPercent > 0 && used >= warnPercent:
			return StatusDegraded, message
		default:
			return StatusOK, message
		}
	}
}
