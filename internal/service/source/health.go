package source

import (
	"context"
	"sync"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/domain/repository"
	"FinSight/pkg/logger"
)

// MonitorConfig holds health monitor tuning.
type MonitorConfig struct {
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int // consecutive failures per downward step
	SuccessThreshold int // consecutive successes for degraded -> healthy
	CooldownBase     time.Duration
	CooldownMax      time.Duration
}

func (c *MonitorConfig) applyDefaults() {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 60 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.CooldownBase <= 0 {
		c.CooldownBase = 30 * time.Second
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = 10 * time.Minute
	}
}

// adapterHealth is the mutable health state for one adapter. Each record
// has its own lock so probes never contend with foreground calls on
// other adapters.
type adapterHealth struct {
	mu sync.Mutex

	id       string
	dataType models.DataType

	status               models.HealthStatus
	lastCheckedAt        time.Time
	lastResponseTime     time.Duration
	consecutiveFailures  int
	consecutiveSuccesses int

	circuitOpenUntil time.Time
	circuitOpens     int  // consecutive opens, drives backoff
	trialInFlight    bool // half-open: one probe call admitted

	rateLimitedUntil time.Time
}

// Monitor tracks adapter health, drives the per-adapter circuit breaker
// and runs the background probe loop.
type Monitor struct {
	mu     sync.RWMutex
	states map[string]*adapterHealth

	cfg     MonitorConfig
	log     *logger.Logger
	metrics repository.Metrics
	now     func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a health monitor.
func NewMonitor(cfg MonitorConfig, log *logger.Logger, metrics repository.Metrics) *Monitor {
	cfg.applyDefaults()
	return &Monitor{
		states:  make(map[string]*adapterHealth),
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Track registers an adapter with status unknown. Idempotent by id.
func (m *Monitor) Track(id string, dataType models.DataType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; ok {
		return
	}
	m.states[id] = &adapterHealth{
		id:       id,
		dataType: dataType,
		status:   models.HealthUnknown,
	}
}

// Allow reports whether a foreground call to the adapter is admitted.
// While the circuit is open it returns false until the cooldown elapses,
// then admits exactly one trial call (half-open).
func (m *Monitor) Allow(id string) bool {
	s := m.state(id)
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := m.now()
	if now.Before(s.rateLimitedUntil) {
		return false
	}
	if s.circuitOpenUntil.IsZero() {
		return true
	}
	if now.Before(s.circuitOpenUntil) {
		return false
	}
	// Half-open: admit a single trial until its outcome is recorded.
	if s.trialInFlight {
		return false
	}
	s.trialInFlight = true
	return true
}

// RecordSuccess feeds a successful probe or real call into the state
// machine. A success from unhealthy moves to degraded, never straight to
// healthy, so a flapping provider has to earn its way back.
func (m *Monitor) RecordSuccess(id string, responseTime time.Duration) {
	s := m.state(id)
	if s == nil {
		return
	}

	s.mu.Lock()
	prev := s.status
	s.lastCheckedAt = m.now()
	s.lastResponseTime = responseTime
	s.consecutiveFailures = 0
	s.consecutiveSuccesses++
	s.trialInFlight = false

	switch s.status {
	case models.HealthUnknown:
		s.status = models.HealthHealthy
		s.circuitOpens = 0
	case models.HealthUnhealthy:
		s.status = models.HealthDegraded
		s.circuitOpenUntil = time.Time{}
		s.consecutiveSuccesses = 1
	case models.HealthDegraded:
		if s.consecutiveSuccesses >= m.cfg.SuccessThreshold {
			s.status = models.HealthHealthy
			s.circuitOpens = 0
		}
	}
	status := s.status
	s.mu.Unlock()

	if prev != status {
		m.log.Info("adapter health changed",
			logger.String("adapter", id),
			logger.String("from", string(prev)),
			logger.String("to", string(status)),
		)
	}
	m.metrics.RecordHealthStatus(id, status)
}

// RecordFailure feeds a failed probe or real call into the state
// machine. Rate-limited failures only back the adapter off until the
// provider's retry window passes; they never open the circuit.
func (m *Monitor) RecordFailure(id string, kind ErrorKind, retryAfter time.Duration) {
	s := m.state(id)
	if s == nil {
		return
	}

	s.mu.Lock()
	prev := s.status
	now := m.now()
	s.lastCheckedAt = now

	if kind == ErrKindRateLimited {
		if retryAfter <= 0 {
			retryAfter = m.cfg.CooldownBase
		}
		s.rateLimitedUntil = now.Add(retryAfter)
		s.trialInFlight = false
		s.mu.Unlock()
		m.metrics.RecordError("rate_limited")
		return
	}

	s.consecutiveSuccesses = 0
	s.consecutiveFailures++

	wasTrial := s.trialInFlight
	s.trialInFlight = false

	switch s.status {
	case models.HealthUnknown, models.HealthHealthy:
		if s.consecutiveFailures >= m.cfg.FailureThreshold {
			s.status = models.HealthDegraded
			s.consecutiveFailures = 0
		}
	case models.HealthDegraded:
		if s.consecutiveFailures >= m.cfg.FailureThreshold {
			s.status = models.HealthUnhealthy
			m.openCircuitLocked(s, now)
		}
	case models.HealthUnhealthy:
		if wasTrial || !now.Before(s.circuitOpenUntil) {
			m.openCircuitLocked(s, now)
		}
	}
	status := s.status
	until := s.circuitOpenUntil
	s.mu.Unlock()

	if prev != status {
		m.log.Warn("adapter health changed",
			logger.String("adapter", id),
			logger.String("from", string(prev)),
			logger.String("to", string(status)),
			logger.Any("circuit_open_until", until),
		)
	}
	m.metrics.RecordHealthStatus(id, status)
	m.metrics.RecordError(string(kind))
}

// openCircuitLocked opens the circuit with exponential backoff across
// consecutive opens. Caller holds s.mu.
func (m *Monitor) openCircuitLocked(s *adapterHealth, now time.Time) {
	cooldown := m.cfg.CooldownBase << s.circuitOpens
	if cooldown > m.cfg.CooldownMax || cooldown <= 0 {
		cooldown = m.cfg.CooldownMax
	}
	s.circuitOpens++
	s.circuitOpenUntil = now.Add(cooldown)
}

// Snapshot returns a point-in-time copy of every health record.
func (m *Monitor) Snapshot() []models.HealthRecord {
	m.mu.RLock()
	states := make([]*adapterHealth, 0, len(m.states))
	for _, s := range m.states {
		states = append(states, s)
	}
	m.mu.RUnlock()

	out := make([]models.HealthRecord, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		rec := models.HealthRecord{
			AdapterID:           s.id,
			DataType:            s.dataType,
			Status:              s.status,
			LastCheckedAt:       s.lastCheckedAt,
			LastResponseTime:    s.lastResponseTime.Milliseconds(),
			ConsecutiveFailures: s.consecutiveFailures,
		}
		if !s.circuitOpenUntil.IsZero() {
			t := s.circuitOpenUntil
			rec.CircuitOpenUntil = &t
		}
		if m.now().Before(s.rateLimitedUntil) {
			t := s.rateLimitedUntil
			rec.RateLimitedUntil = &t
		}
		s.mu.Unlock()
		out = append(out, rec)
	}
	return out
}

// Status returns the current status for one adapter.
func (m *Monitor) Status(id string) models.HealthStatus {
	s := m.state(id)
	if s == nil {
		return models.HealthUnknown
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start launches the background probe loop. Probes run on their own
// timer and never hold locks across the probe call itself.
func (m *Monitor) Start(ctx context.Context, adapters func() []Adapter) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.probeAll(ctx, adapters())
			}
		}
	}()
}

// Stop terminates the probe loop and waits for in-flight probes.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Monitor) probeAll(ctx context.Context, adapters []Adapter) {
	var wg sync.WaitGroup
	for _, a := range adapters {
		wg.Add(1)
		go func(a Adapter) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			defer cancel()

			rt, err := a.Probe(probeCtx)
			if err != nil {
				m.log.Debug("probe failed",
					logger.String("adapter", a.ID()),
					logger.Error(err),
				)
				m.RecordFailure(a.ID(), Classify(err), 0)
				return
			}
			m.RecordSuccess(a.ID(), rt)
		}(a)
	}
	wg.Wait()
}

func (m *Monitor) state(id string) *adapterHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id]
}
