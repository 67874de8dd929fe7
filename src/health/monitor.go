package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kimchi-observer/src/interfaces"
	"kimchi-observer/src/logger"
	"kimchi-observer/src/models"
)

// Monitor holds named checks and runs them on demand.
type Monitor struct {
	Service string
	Logger  *logger.Logger

	mu      sync.RWMutex
	checks  map[string]interfaces.IHealthCheck
	started time.Time
	now     func() time.Time
}

// -----------------------------------------------------------------------------

func NewMonitor(service string, log *logger.Logger) *Monitor {
	return &Monitor{
		Service: service,
		Logger:  log,
		checks:  make(map[string]interfaces.IHealthCheck),
		started: time.Now(),
		now:     time.Now,
	}
}

// -----------------------------------------------------------------------------

// Register adds or replaces a check under its name.
func (m *Monitor) Register(check interfaces.IHealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[check.Name()] = check
}

// -----------------------------------------------------------------------------

func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// -----------------------------------------------------------------------------

// Names lists the registered checks in order.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// -----------------------------------------------------------------------------

// Report runs every check concurrently and aggregates the result.
func (m *Monitor) Report(ctx context.Context) models.MHealthReport {
	m.mu.RLock()
	checks := make([]interfaces.IHealthCheck, 0, len(m.checks))
	for _, c := range m.checks {
		checks = append(checks, c)
	}
	m.mu.RUnlock()

	results := make(map[string]models.MCheckResult, len(checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range checks {
		wg.Add(1)
		go func(c interfaces.IHealthCheck) {
			defer wg.Done()
			res := m.run(ctx, c)
			mu.Lock()
			results[c.Name()] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	now := m.now()
	return models.MHealthReport{
		Service:       m.Service,
		Status:        Aggregate(results),
		Timestamp:     now.UnixMilli(),
		UptimeSeconds: int64(now.Sub(m.started).Seconds()),
		Checks:        results,
	}
}

// -----------------------------------------------------------------------------

func (m *Monitor) run(ctx context.Context, c interfaces.IHealthCheck) (res models.MCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			m.Logger.Error("Health check %s panicked: %v", c.Name(), r)
			res = models.MCheckResult{Status: models.HealthUnknown, Message: fmt.Sprintf("check panicked: %v", r)}
		}
	}()
	return c.Check(ctx)
}

// -----------------------------------------------------------------------------

// Aggregate folds check results into one status: healthy when all are
// healthy, degraded when some but not all are unhealthy, unknown otherwise,
// including when there are no checks.
func Aggregate(results map[string]models.MCheckResult) models.HealthStatus {
	if len(results) == 0 {
		return models.HealthUnknown
	}

	var healthy, unhealthy int
	for _, r := range results {
		switch r.Status {
		case models.HealthHealthy:
			healthy++
		case models.HealthUnhealthy:
			unhealthy++
		}
	}

	switch {
	case healthy == len(results):
		return models.HealthHealthy
	case unhealthy > 0 && unhealthy < len(results):
		return models.HealthDegraded
	default:
		return models.HealthUnknown
	}
}
