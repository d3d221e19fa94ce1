package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSight/internal/domain/models"
	"FinSight/pkg/logger"
)

type noopMetrics struct{}

func (noopMetrics) RecordFetch(string, models.DataType, string, float64) {}
func (noopMetrics) RecordCacheLookup(string, string)                     {}
func (noopMetrics) RecordBudgetConsumed(string, float64, float64)        {}
func (noopMetrics) RecordBudgetDenied(string, string)                    {}
func (noopMetrics) RecordAnalysis(string, float64)                       {}
func (noopMetrics) RecordHealthStatus(string, models.HealthStatus)       {}
func (noopMetrics) RecordLastPrice(string, float64)                      {}
func (noopMetrics) RecordError(string)                                   {}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

type clock struct {
	t time.Time
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor(t *testing.T) (*Monitor, *clock) {
	t.Helper()
	m := NewMonitor(MonitorConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		CooldownBase:     time.Second,
		CooldownMax:      4 * time.Second,
	}, testLogger(t), noopMetrics{})
	c := &clock{t: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	m.now = c.now
	return m, c
}

func TestUnknownBecomesHealthyOnFirstSuccess(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Track("p1", models.DataTypePrice)

	assert.Equal(t, models.HealthUnknown, m.Status("p1"))
	m.RecordSuccess("p1", 50*time.Millisecond)
	assert.Equal(t, models.HealthHealthy, m.Status("p1"))
}

func TestConsecutiveFailuresStepDownward(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Track("p1", models.DataTypePrice)
	m.RecordSuccess("p1", time.Millisecond)

	for i := 0; i < 2; i++ {
		m.RecordFailure("p1", ErrKindUnavailable, 0)
	}
	assert.Equal(t, models.HealthHealthy, m.Status("p1"), "below threshold stays healthy")

	m.RecordFailure("p1", ErrKindUnavailable, 0)
	assert.Equal(t, models.HealthDegraded, m.Status("p1"))

	for i := 0; i < 3; i++ {
		m.RecordFailure("p1", ErrKindUnavailable, 0)
	}
	assert.Equal(t, models.HealthUnhealthy, m.Status("p1"))
	assert.False(t, m.Allow("p1"), "circuit opens with unhealthy")
}

func TestFailureStreakBrokenBySuccess(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Track("p1", models.DataTypePrice)
	m.RecordSuccess("p1", time.Millisecond)

	m.RecordFailure("p1", ErrKindUnavailable, 0)
	m.RecordFailure("p1", ErrKindUnavailable, 0)
	m.RecordSuccess("p1", time.Millisecond)
	m.RecordFailure("p1", ErrKindUnavailable, 0)
	m.RecordFailure("p1", ErrKindUnavailable, 0)

	assert.Equal(t, models.HealthHealthy, m.Status("p1"))
}

func TestRecoveryRequiresSuccessStreak(t *testing.T) {
	m, c := newTestMonitor(t)
	m.Track("p1", models.DataTypePrice)
	driveTo(m, "p1", models.HealthUnhealthy)

	c.advance(2 * time.Second)
	require.True(t, m.Allow("p1"), "half-open admits a trial after cooldown")

	m.RecordSuccess("p1", time.Millisecond)
	assert.Equal(t, models.HealthDegraded, m.Status("p1"), "one success never jumps to healthy")

	m.RecordSuccess("p1", time.Millisecond)
	assert.Equal(t, models.HealthHealthy, m.Status("p1"))
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	m, c := newTestMonitor(t)
	m.Track("p1", models.DataTypePrice)
	driveTo(m, "p1", models.HealthUnhealthy)

	assert.False(t, m.Allow("p1"), "circuit open during cooldown")

	c.advance(2 * time.Second)
	assert.True(t, m.Allow("p1"))
	assert.False(t, m.Allow("p1"), "only one trial in flight")

	// Failed trial re-opens the circuit with a longer cooldown.
	m.RecordFailure("p1", ErrKindUnavailable, 0)
	assert.False(t, m.Allow("p1"))
	c.advance(time.Second)
	assert.False(t, m.Allow("p1"), "backoff doubled after second open")
	c.advance(time.Second)
	assert.True(t, m.Allow("p1"))
}

func TestCooldownBackoffIsCapped(t *testing.T) {
	m, c := newTestMonitor(t)
	m.Track("p1", models.DataTypePrice)
	driveTo(m, "p1", models.HealthUnhealthy)

	// Fail the trial several times; cooldown must not exceed the cap.
	for i := 0; i < 5; i++ {
		c.advance(10 * time.Second)
		require.True(t, m.Allow("p1"), "trial %d", i)
		m.RecordFailure("p1", ErrKindUnavailable, 0)
	}

	c.advance(4 * time.Second)
	assert.True(t, m.Allow("p1"), "cooldown capped at CooldownMax")
}

func TestRateLimitedBacksOffWithoutOpeningCircuit(t *testing.T) {
	m, c := newTestMonitor(t)
	m.Track("p1", models.DataTypePrice)
	m.RecordSuccess("p1", time.Millisecond)

	m.RecordFailure("p1", ErrKindRateLimited, 30*time.Second)

	assert.Equal(t, models.HealthHealthy, m.Status("p1"), "rate limiting is not unhealthiness")
	assert.False(t, m.Allow("p1"), "backed off during the retry window")

	c.advance(31 * time.Second)
	assert.True(t, m.Allow("p1"))
}

func TestSnapshotReportsCircuitWindow(t *testing.T) {
	m, _ := newTestMonitor(t)
	m.Track("p1", models.DataTypePrice)
	m.Track("p2", models.DataTypeNews)
	driveTo(m, "p1", models.HealthUnhealthy)

	records := m.Snapshot()
	require.Len(t, records, 2)

	byID := map[string]models.HealthRecord{}
	for _, r := range records {
		byID[r.AdapterID] = r
	}
	require.NotNil(t, byID["p1"].CircuitOpenUntil)
	assert.Equal(t, models.HealthUnhealthy, byID["p1"].Status)
	assert.Equal(t, models.HealthUnknown, byID["p2"].Status)
	assert.Nil(t, byID["p2"].CircuitOpenUntil)
}

// driveTo pushes an adapter down to the target status via repeated
// failures.
func driveTo(m *Monitor, id string, target models.HealthStatus) {
	for i := 0; i < 12; i++ {
		if m.Status(id) == target {
			return
		}
		m.RecordFailure(id, ErrKindUnavailable, 0)
	}
}
