package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status classifies component health.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// A quiet header stream means the node stopped producing or we stopped
// listening; either way order state is going stale.
const headerStaleAfter = 2 * time.Minute

// Check probes one component. A nil error means healthy.
type Check func(ctx context.Context) error

// ComponentHealth is one component's state in a report.
type ComponentHealth struct {
	Component string `json:"component"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Report is the service health at one point in time. Status is the worst
// component status; LastHeader tracks the most recent accepted chain header.
type Report struct {
	Status     Status            `json:"status"`
	Components []ComponentHealth `json:"components"`
	LastHeader uint64            `json:"last_header,omitempty"`
	HeaderAge  float64           `json:"header_age_seconds,omitempty"`
}

// Monitor aggregates health from registered component checks and from the
// accepted header stream. Critical components take the whole report down;
// others only degrade it.
type Monitor struct {
	mu         sync.Mutex
	checks     map[string]Check
	critical   map[string]bool
	lastCheck  time.Time
	lastReport []ComponentHealth

	tipMu        sync.Mutex
	lastHeader   uint64
	lastHeaderAt time.Time
}

// NewMonitor creates an empty health monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks:   make(map[string]Check),
		critical: make(map[string]bool),
	}
}

// Register adds a component check. Critical components make the service
// unhealthy when failing; non-critical ones only degrade it.
func (m *Monitor) Register(component string, critical bool, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
	m.critical[component] = critical
}

// ObserveHeader records an accepted chain header. The report degrades to
// critical when the stream goes quiet for too long.
func (m *Monitor) ObserveHeader(number uint64) {
	m.tipMu.Lock()
	defer m.tipMu.Unlock()
	m.lastHeader = number
	m.lastHeaderAt = time.Now()
}

// Report probes all components and folds in header stream liveness.
func (m *Monitor) Report(ctx context.Context) Report {
	components := m.checkComponents(ctx)

	m.tipMu.Lock()
	lastHeader, lastHeaderAt := m.lastHeader, m.lastHeaderAt
	m.tipMu.Unlock()

	report := Report{Status: StatusHealthy, Components: components, LastHeader: lastHeader}
	if !lastHeaderAt.IsZero() {
		age := time.Since(lastHeaderAt)
		report.HeaderAge = age.Seconds()
		stream := ComponentHealth{Component: "header_stream", Status: StatusHealthy}
		if age > headerStaleAfter {
			stream.Status = StatusCritical
			stream.Error = fmt.Sprintf("no header accepted for %s", age.Round(time.Second))
		}
		report.Components = append(report.Components, stream)
	}

	for _, c := range report.Components {
		if c.Status == StatusCritical {
			report.Status = StatusCritical
			break
		}
		if c.Status == StatusDegraded {
			report.Status = StatusDegraded
		}
	}
	return report
}

// checkComponents runs the registered probes, caching results briefly so
// they cannot be spammed through the HTTP endpoint.
func (m *Monitor) checkComponents(ctx context.Context) []ComponentHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport != nil {
		return m.lastReport
	}

	components := make([]ComponentHealth, 0, len(m.checks))
	for component, check := range m.checks {
		health := ComponentHealth{Component: component, Status: StatusHealthy}
		if err := check(ctx); err != nil {
			health.Error = err.Error()
			if m.critical[component] {
				health.Status = StatusCritical
			} else {
				health.Status = StatusDegraded
			}
		}
		components = append(components, health)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Component < components[j].Component })

	m.lastCheck = time.Now()
	m.lastReport = components
	return components
}
