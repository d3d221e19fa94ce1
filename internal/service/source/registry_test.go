package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinSight/internal/domain/models"
)

// fakeAdapter replays a scripted error per call; a nil entry (or an
// exhausted script) means success.
type fakeAdapter struct {
	mu     sync.Mutex
	id     string
	dt     models.DataType
	script []error
	calls  int
	data   any
}

func (f *fakeAdapter) ID() string                { return f.id }
func (f *fakeAdapter) DataType() models.DataType { return f.dt }

func (f *fakeAdapter) Fetch(_ context.Context, _ FetchParams) (*FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.script) && f.script[idx] != nil {
		return nil, f.script[idx]
	}
	return &FetchResult{Data: f.data, Provider: f.id}, nil
}

func (f *fakeAdapter) Probe(context.Context) (time.Duration, error) {
	return time.Millisecond, nil
}

func newTestRegistry(t *testing.T) (*Registry, *Monitor) {
	t.Helper()
	m, _ := newTestMonitor(t)
	return NewRegistry(m, noopMetrics{}, nil, testLogger(t), time.Second), m
}

func register(r *Registry, a *fakeAdapter, priority int) {
	r.Register(Descriptor{
		ID:       a.id,
		DataType: a.dt,
		Priority: priority,
		Enabled:  true,
	}, a)
}

func TestExecuteFailsOverInPriorityOrder(t *testing.T) {
	r, _ := newTestRegistry(t)

	p1 := &fakeAdapter{id: "p1", dt: models.DataTypePrice, script: []error{NewTimeout("p1", context.DeadlineExceeded)}}
	p2 := &fakeAdapter{id: "p2", dt: models.DataTypePrice, script: []error{NewInvalidResponse("p2", errors.New("bad payload"))}}
	p3 := &fakeAdapter{id: "p3", dt: models.DataTypePrice, data: "quote"}

	// Register out of priority order; execution must still follow priority.
	register(r, p3, 3)
	register(r, p1, 1)
	register(r, p2, 2)

	res, provider, err := r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "p3", provider)
	assert.Equal(t, "quote", res.Data)
	assert.Equal(t, 1, p1.calls)
	assert.Equal(t, 1, p2.calls)
	assert.Equal(t, 1, p3.calls)
}

func TestExecutePrefersEarlierRegistrationOnEqualPriority(t *testing.T) {
	r, _ := newTestRegistry(t)

	a := &fakeAdapter{id: "a", dt: models.DataTypeNews, data: "first"}
	b := &fakeAdapter{id: "b", dt: models.DataTypeNews, data: "second"}
	register(r, a, 1)
	register(r, b, 1)

	_, provider, err := r.Execute(context.Background(), models.DataTypeNews, FetchParams{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "a", provider)
	assert.Zero(t, b.calls)
}

func TestExecuteSkipsOpenCircuit(t *testing.T) {
	r, m := newTestRegistry(t)

	p1 := &fakeAdapter{id: "p1", dt: models.DataTypePrice, data: "stale-provider"}
	p2 := &fakeAdapter{id: "p2", dt: models.DataTypePrice, data: "quote"}
	register(r, p1, 1)
	register(r, p2, 2)

	driveTo(m, "p1", models.HealthUnhealthy)

	_, provider, err := r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "p2", provider)
	assert.Zero(t, p1.calls, "open circuit must not be called")
}

func TestExecuteExhaustedCollectsAttempts(t *testing.T) {
	r, m := newTestRegistry(t)

	p1 := &fakeAdapter{id: "p1", dt: models.DataTypePrice}
	p2 := &fakeAdapter{id: "p2", dt: models.DataTypePrice, script: []error{NewUnavailable("p2", errors.New("503"))}}
	register(r, p1, 1)
	register(r, p2, 2)

	driveTo(m, "p1", models.HealthUnhealthy)

	_, _, err := r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, ErrKindCircuitOpen, exhausted.Attempts[0].Kind)
	assert.Equal(t, "p1", exhausted.Attempts[0].AdapterID)
	assert.Equal(t, ErrKindUnavailable, exhausted.Attempts[1].Kind)
}

func TestExecuteNoAdaptersForType(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, _, err := r.Execute(context.Background(), models.DataTypeFinancials, FetchParams{Symbol: "AAPL"})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, exhausted.Attempts)
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	r, _ := newTestRegistry(t)

	p1 := &fakeAdapter{id: "p1", dt: models.DataTypePrice, data: "quote"}
	register(r, p1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Execute(ctx, models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	var deadline *DeadlineError
	require.ErrorAs(t, err, &deadline)
	assert.Zero(t, p1.calls)
}

func TestExecuteFeedsHealthMonitor(t *testing.T) {
	r, m := newTestRegistry(t)

	p1 := &fakeAdapter{id: "p1", dt: models.DataTypePrice, data: "quote"}
	register(r, p1, 1)

	_, _, err := r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, m.Status("p1"))
}

func TestExecuteHonorsRateLimitBackoff(t *testing.T) {
	r, m := newTestRegistry(t)

	p1 := &fakeAdapter{id: "p1", dt: models.DataTypePrice, script: []error{NewRateLimited("p1", time.Minute, errors.New("429"))}}
	register(r, p1, 1)

	_, _, err := r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, models.HealthHealthy, m.Status("p1"), "rate limiting never degrades health")

	// Backed off: the next execute skips the adapter entirely.
	_, _, err = r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, ErrKindCircuitOpen, exhausted.Attempts[0].Kind)
	assert.Equal(t, 1, p1.calls)
}

func TestSetEnabled(t *testing.T) {
	r, _ := newTestRegistry(t)

	p1 := &fakeAdapter{id: "p1", dt: models.DataTypePrice, data: "one"}
	p2 := &fakeAdapter{id: "p2", dt: models.DataTypePrice, data: "two"}
	register(r, p1, 1)
	register(r, p2, 2)

	require.NoError(t, r.SetEnabled("p1", false))

	_, provider, err := r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "p2", provider)
	assert.Zero(t, p1.calls)

	require.NoError(t, r.SetEnabled("p1", true))
	_, provider, err = r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "p1", provider)

	assert.Error(t, r.SetEnabled("nope", true))
}

func TestReRegisterReplacesAdapterInPlace(t *testing.T) {
	r, _ := newTestRegistry(t)

	old := &fakeAdapter{id: "a", dt: models.DataTypePrice, data: "old"}
	other := &fakeAdapter{id: "b", dt: models.DataTypePrice, data: "other"}
	register(r, old, 1)
	register(r, other, 1)

	repl := &fakeAdapter{id: "a", dt: models.DataTypePrice, data: "new"}
	register(r, repl, 1)

	res, provider, err := r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "a", provider, "replacement keeps the original tie-break slot")
	assert.Equal(t, "new", res.Data)
	assert.Zero(t, old.calls)
}

func TestExecuteUnaffectedByConcurrentReRegister(t *testing.T) {
	r, _ := newTestRegistry(t)
	register(r, &fakeAdapter{id: "p1", dt: models.DataTypePrice, data: "quote"}, 1)

	stop := make(chan struct{})
	var churn sync.WaitGroup
	churn.Add(1)
	go func() {
		defer churn.Done()
		for {
			select {
			case <-stop:
				return
			default:
				register(r, &fakeAdapter{id: "p1", dt: models.DataTypePrice, data: "quote"}, 1)
			}
		}
	}()

	const workers, iters = 4, 2000
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				res, _, err := r.Execute(context.Background(), models.DataTypePrice, FetchParams{Symbol: "AAPL"})
				if err != nil {
					errs[w] = err
					return
				}
				if res.Data != "quote" {
					errs[w] = errors.New("unexpected payload")
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	churn.Wait()

	for w := 0; w < workers; w++ {
		require.NoError(t, errs[w])
	}
}

func TestAdaptersExcludesDisabled(t *testing.T) {
	r, _ := newTestRegistry(t)

	p1 := &fakeAdapter{id: "p1", dt: models.DataTypePrice}
	p2 := &fakeAdapter{id: "p2", dt: models.DataTypeNews}
	register(r, p1, 1)
	register(r, p2, 1)
	require.NoError(t, r.SetEnabled("p2", false))

	adapters := r.Adapters()
	require.Len(t, adapters, 1)
	assert.Equal(t, "p1", adapters[0].ID())
}
