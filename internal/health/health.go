package health

import (
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/deskdup/internal/duplication"
	"github.com/breeze-rmm/deskdup/internal/logging"
)

var log = logging.L("health")

// Status represents the health status of a component.
type Status string

const (
	Unknown   Status = "unknown"
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// Check is the latest state of one component. Since is when the status last
// changed; UpdatedAt is the most recent report.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Since     time.Time `json:"since"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Report is a point-in-time view of all components.
type Report struct {
	Status     Status  `json:"status"`
	Components []Check `json:"components"`
}

// Monitor tracks health for named components. Transitions are logged once;
// repeated reports of the same status only refresh UpdatedAt.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]*Check
	now    func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]*Check),
		now:    time.Now,
	}
}

// Update records the status for a named component and reports whether the
// status changed.
func (m *Monitor) Update(name string, status Status, message string) bool {
	m.mu.Lock()
	now := m.now()
	c, ok := m.checks[name]
	changed := !ok || c.Status != status
	if !ok {
		c = &Check{Name: name}
		m.checks[name] = c
	}
	if changed {
		c.Since = now
	}
	c.Status = status
	c.Message = message
	c.UpdatedAt = now
	m.mu.Unlock()

	if changed {
		switch status {
		case Healthy:
			log.Info("component healthy", "component", name)
		default:
			log.Warn("component health changed", "component", name, "status", string(status), "message", message)
		}
	}
	return changed
}

// ObserveCapture maps a capture result onto the named component. Successful
// frames mark it healthy, non-terminal failures degraded and terminal
// notifications unhealthy. Timeouts leave it unchanged.
func (m *Monitor) ObserveCapture(name string, res duplication.CaptureResult) {
	switch {
	case res.Terminal:
		m.Update(name, Unhealthy, res.Message())
	case res.Status == duplication.StatusSuccess:
		m.Update(name, Healthy, "")
	case res.Status == duplication.StatusError, res.Status == duplication.StatusAccessLost:
		m.Update(name, Degraded, res.Message())
	}
}

// Get returns the check for a named component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	if !ok {
		return Check{}, false
	}
	return *c, true
}

// Overall returns the worst status across all components, or Unknown when
// nothing has reported yet.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if rank(c.Status) > rank(worst) {
			worst = c.Status
		}
	}
	return worst
}

// Report returns all components sorted by name.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r := Report{
		Status:     m.overallLocked(),
		Components: make([]Check, 0, len(m.checks)),
	}
	for _, c := range m.checks {
		r.Components = append(r.Components, *c)
	}
	sort.Slice(r.Components, func(i, j int) bool {
		return r.Components[i].Name < r.Components[j].Name
	})
	return r
}

func rank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	default:
		return 3
	}
}
