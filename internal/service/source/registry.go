package source

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"FinSight/internal/domain/models"
	"FinSight/internal/domain/repository"
	"FinSight/pkg/logger"
)

// registration pairs a descriptor with its adapter. All fields are
// guarded by the registry mutex; Execute never touches a registration
// directly, it works on value snapshots taken under the read lock.
type registration struct {
	desc    Descriptor
	adapter Adapter
	seq     int // registration order, tie-break for equal priority
}

// candidate is an immutable copy of a registration handed to Execute,
// so runtime Register/SetEnabled calls cannot race an in-flight fetch.
type candidate struct {
	desc    Descriptor
	adapter Adapter
}

// Registry holds all adapters grouped by data type and executes fetches
// with automatic failover in strict priority order.
type Registry struct {
	mu     sync.RWMutex
	byType map[models.DataType][]*registration
	byID   map[string]*registration
	nextSeq int

	monitor *Monitor
	metrics repository.Metrics
	audit   repository.AuditStore // nil when auditing is disabled
	log     *logger.Logger

	attemptTimeout time.Duration
	now            func() time.Time
}

// NewRegistry creates a source registry backed by the given monitor.
func NewRegistry(monitor *Monitor, metrics repository.Metrics, audit repository.AuditStore, log *logger.Logger, attemptTimeout time.Duration) *Registry {
	if attemptTimeout <= 0 {
		attemptTimeout = 8 * time.Second
	}
	return &Registry{
		byType:         make(map[models.DataType][]*registration),
		byID:           make(map[string]*registration),
		monitor:        monitor,
		metrics:        metrics,
		audit:          audit,
		log:            log,
		attemptTimeout: attemptTimeout,
		now:            time.Now,
	}
}

// Register adds an adapter under its descriptor. Idempotent by id:
// re-registering replaces the previous entry but keeps its slot in the
// stable tie-break order.
func (r *Registry) Register(desc Descriptor, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[desc.ID]; ok {
		prev.desc = desc
		prev.adapter = adapter
		r.resortLocked(desc.DataType)
		return
	}

	reg := &registration{desc: desc, adapter: adapter, seq: r.nextSeq}
	r.nextSeq++
	r.byID[desc.ID] = reg
	r.byType[desc.DataType] = append(r.byType[desc.DataType], reg)
	r.resortLocked(desc.DataType)

	r.monitor.Track(desc.ID, desc.DataType)
	r.log.Info("adapter registered",
		logger.String("adapter", desc.ID),
		logger.String("data_type", string(desc.DataType)),
		logger.Int("priority", desc.Priority),
	)
}

// SetEnabled flips an adapter's enabled flag at runtime.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("adapter %q not registered", id)
	}
	reg.desc.Enabled = enabled
	return nil
}

// Adapters returns every registered adapter; the monitor probe loop
// uses this to enumerate probe targets.
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.byID))
	for _, reg := range r.byID {
		if reg.desc.Enabled {
			out = append(out, reg.adapter)
		}
	}
	return out
}

// Execute fetches dataType for params, trying candidates strictly in
// priority order and failing over on any classified error. The
// candidate list is snapshotted up front so concurrent Register calls
// cannot race an in-flight execute.
func (r *Registry) Execute(ctx context.Context, dataType models.DataType, params FetchParams) (*FetchResult, string, error) {
	candidates := r.snapshot(dataType)

	var attempts []AttemptFailure
	for _, cand := range candidates {
		select {
		case <-ctx.Done():
			return nil, "", &DeadlineError{DataType: dataType, Attempts: attempts}
		default:
		}

		id := cand.desc.ID
		if !r.monitor.Allow(id) {
			attempts = append(attempts, AttemptFailure{AdapterID: id, Kind: ErrKindCircuitOpen})
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
		start := r.now()
		res, err := cand.adapter.Fetch(attemptCtx, params)
		dur := r.now().Sub(start)
		cancel()

		if err != nil {
			kind := Classify(err)
			var retryAfter time.Duration
			if fe, ok := err.(*FetchError); ok {
				retryAfter = fe.RetryAfter
			}
			r.monitor.RecordFailure(id, kind, retryAfter)
			r.metrics.RecordFetch(id, dataType, string(kind), dur.Seconds())
			r.recordAudit(models.FetchAudit{
				AdapterID:  id,
				DataType:   dataType,
				Symbol:     params.Symbol,
				Outcome:    string(kind),
				DurationMs: dur.Milliseconds(),
				At:         start,
			})
			attempts = append(attempts, AttemptFailure{AdapterID: id, Kind: kind, Err: err})

			r.log.Warn("fetch failed, trying next adapter",
				logger.String("adapter", id),
				logger.String("data_type", string(dataType)),
				logger.String("symbol", params.Symbol),
				logger.String("kind", string(kind)),
			)

			if ctx.Err() != nil {
				return nil, "", &DeadlineError{DataType: dataType, Attempts: attempts}
			}
			continue
		}

		r.monitor.RecordSuccess(id, dur)
		r.metrics.RecordFetch(id, dataType, "ok", dur.Seconds())
		r.recordAudit(models.FetchAudit{
			AdapterID:  id,
			DataType:   dataType,
			Symbol:     params.Symbol,
			Outcome:    "ok",
			DurationMs: dur.Milliseconds(),
			Cost:       res.Cost,
			At:         start,
		})
		return res, id, nil
	}

	return nil, "", &ExhaustedError{DataType: dataType, Attempts: attempts}
}

// snapshot copies the enabled candidate list for a data type under the
// read lock, already sorted by (priority, registration order). The
// copies are values; concurrent re-registration cannot reach them.
func (r *Registry) snapshot(dataType models.DataType) []candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.byType[dataType]
	out := make([]candidate, 0, len(regs))
	for _, reg := range regs {
		if reg.desc.Enabled {
			out = append(out, candidate{desc: reg.desc, adapter: reg.adapter})
		}
	}
	return out
}

func (r *Registry) resortLocked(dataType models.DataType) {
	regs := r.byType[dataType]
	sort.SliceStable(regs, func(i, j int) bool {
		if regs[i].desc.Priority != regs[j].desc.Priority {
			return regs[i].desc.Priority < regs[j].desc.Priority
		}
		return regs[i].seq < regs[j].seq
	})
}

// recordAudit persists an attempt record without blocking the caller.
func (r *Registry) recordAudit(rec models.FetchAudit) {
	if r.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.audit.RecordFetch(ctx, rec); err != nil {
			r.log.Debug("audit write failed", logger.Error(err))
		}
	}()
}
