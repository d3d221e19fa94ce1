package budget

import (
	"fmt"
	"sync"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/domain/repository"
	"FinSight/pkg/config"
	"FinSight/pkg/logger"
	"FinSight/pkg/util"
)

// Denial reasons distinguish which window is exhausted so callers can
// pick a free fallback.
const (
	ReasonDailyExceeded   = "daily_budget_exceeded"
	ReasonMonthlyExceeded = "monthly_budget_exceeded"
	ReasonUnknownCenter   = "unknown_cost_center"
)

// ledger tracks one cost center's consumption. Period keys are
// wall-clock dates, so a process restart never resets a window early.
type ledger struct {
	limits config.BudgetLimits

	dayKey      string // YYYY-MM-DD
	dayConsumed float64
	dayStart    time.Time

	monthKey      string // YYYY-MM
	monthConsumed float64
	monthStart    time.Time
}

// Controller gates paid calls against per-cost-center daily and monthly
// budgets. All mutation goes through one mutex; Approve and Record are
// safe under concurrent callers.
type Controller struct {
	mu      sync.Mutex
	ledgers map[string]*ledger

	metrics repository.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// NewController creates a cost controller from configured limits.
func NewController(limits map[string]config.BudgetLimits, metrics repository.Metrics, log *logger.Logger) *Controller {
	c := &Controller{
		ledgers: make(map[string]*ledger),
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
	for center, l := range limits {
		c.ledgers[center] = &ledger{limits: l}
	}
	return c
}

// Approve reports whether a prospective call costing estimatedCost fits
// inside both remaining windows. Denial never mutates consumption.
func (c *Controller) Approve(costCenter string, estimatedCost float64) (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.ledgers[costCenter]
	if !ok {
		return false, ReasonUnknownCenter
	}
	c.rollLocked(l)

	if l.limits.DailyLimit > 0 && l.dayConsumed+estimatedCost > l.limits.DailyLimit {
		c.metrics.RecordBudgetDenied(costCenter, ReasonDailyExceeded)
		return false, ReasonDailyExceeded
	}
	if l.limits.MonthlyLimit > 0 && l.monthConsumed+estimatedCost > l.limits.MonthlyLimit {
		c.metrics.RecordBudgetDenied(costCenter, ReasonMonthlyExceeded)
		return false, ReasonMonthlyExceeded
	}
	return true, ""
}

// Record adds the actual cost of a completed call to both windows. It
// is called after the gated operation finishes, with the real cost,
// which may differ from the approved estimate.
func (c *Controller) Record(costCenter string, actualCost float64) {
	if actualCost <= 0 {
		return
	}

	c.mu.Lock()
	l, ok := c.ledgers[costCenter]
	if !ok {
		c.mu.Unlock()
		c.log.Warn("cost recorded for unknown cost center",
			logger.String("cost_center", costCenter),
			logger.Float64("cost", actualCost),
		)
		return
	}
	c.rollLocked(l)
	l.dayConsumed += actualCost
	l.monthConsumed += actualCost
	consumed, limit := l.dayConsumed, l.limits.DailyLimit
	c.mu.Unlock()

	c.metrics.RecordBudgetConsumed(costCenter, consumed, limit)
}

// Status returns the introspection view of one cost center.
func (c *Controller) Status(costCenter string) (models.BudgetLedger, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.ledgers[costCenter]
	if !ok {
		return models.BudgetLedger{}, fmt.Errorf("unknown cost center %q", costCenter)
	}
	c.rollLocked(l)

	return models.BudgetLedger{
		CostCenter: costCenter,
		Daily: models.BudgetWindow{
			Limit:       l.limits.DailyLimit,
			Consumed:    l.dayConsumed,
			PeriodStart: l.dayStart,
		},
		Monthly: models.BudgetWindow{
			Limit:       l.limits.MonthlyLimit,
			Consumed:    l.monthConsumed,
			PeriodStart: l.monthStart,
		},
	}, nil
}

// Centers lists all known cost centers.
func (c *Controller) Centers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ledgers))
	for center := range c.ledgers {
		out = append(out, center)
	}
	return out
}

// UpdateLimits hot-reloads budget limits. Consumption already recorded
// in the current windows is preserved; in-flight computations are not
// interrupted.
func (c *Controller) UpdateLimits(costCenter string, limits config.BudgetLimits) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.ledgers[costCenter]
	if !ok {
		l = &ledger{}
		c.ledgers[costCenter] = l
	}
	l.limits = limits
	c.log.Info("budget limits updated",
		logger.String("cost_center", costCenter),
		logger.Float64("daily_limit", limits.DailyLimit),
		logger.Float64("monthly_limit", limits.MonthlyLimit),
	)
}

// rollLocked resets windows whose wall-clock period key changed.
// Caller holds c.mu.
func (c *Controller) rollLocked(l *ledger) {
	now := c.now()
	day := util.DayKey(now)
	month := util.MonthKey(now)

	if l.dayKey != day {
		l.dayKey = day
		l.dayConsumed = 0
		l.dayStart = util.StartOfDay(now)
	}
	if l.monthKey != month {
		l.monthKey = month
		l.monthConsumed = 0
		l.monthStart = util.StartOfMonth(now)
	}
}
