package flow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLimiter struct {
	rateAllowed     bool
	rateErr         error
	rateKeys        []string
	throttleAllowed bool
	throttleDelay   time.Duration
	throttleErr     error
}

func (l *stubLimiter) AllowRate(ctx context.Context, key string, limit int, period time.Duration) (bool, error) {
	l.rateKeys = append(l.rateKeys, key)
	return l.rateAllowed, l.rateErr
}

func (l *stubLimiter) AllowThrottle(ctx context.Context, key string, limit int, period time.Duration) (bool, time.Duration, error) {
	return l.throttleAllowed, l.throttleDelay, l.throttleErr
}

type recordPublisher struct {
	published []string
}

func (p *recordPublisher) PublishRun(ctx context.Context, runID string) error {
	p.published = append(p.published, runID)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *stubLimiter, *recordPublisher) {
	t.Helper()
	store := NewMemoryStore()
	limiter := &stubLimiter{rateAllowed: true, throttleAllowed: true}
	publisher := &recordPublisher{}
	engine := NewEngine(EngineConfig{
		AppID:     "test-app",
		Events:    store,
		Runs:      store,
		Steps:     store,
		Limiter:   limiter,
		Publisher: publisher,
	})
	return engine, store, limiter, publisher
}

func TestRegisterValidation(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	err := engine.Register(&Function{ID: "", EventName: "e", Handler: func(fctx *Context) (interface{}, error) { return nil, nil }})
	assert.ErrorContains(t, err, "function id is required")

	err = engine.Register(&Function{ID: "fn", Handler: func(fctx *Context) (interface{}, error) { return nil, nil }})
	assert.ErrorContains(t, err, "no trigger event")

	err = engine.Register(&Function{ID: "fn", EventName: "e"})
	assert.ErrorContains(t, err, "no handler")

	fn := &Function{ID: "fn", EventName: "e", Handler: func(fctx *Context) (interface{}, error) { return nil, nil }}
	require.NoError(t, engine.Register(fn))
	assert.ErrorContains(t, engine.Register(fn), "already registered")
}

func TestRegisterNormalizesRetries(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	handler := func(fctx *Context) (interface{}, error) { return nil, nil }

	byDefault := &Function{ID: "fn-default", EventName: "e", Handler: handler}
	require.NoError(t, engine.Register(byDefault))
	assert.Equal(t, DefaultRetries, byDefault.Retries)

	explicit := &Function{ID: "fn-two", EventName: "e", Retries: 2, Handler: handler}
	require.NoError(t, engine.Register(explicit))
	assert.Equal(t, 2, explicit.Retries)

	disabled := &Function{ID: "fn-none", EventName: "e", Retries: -1, Handler: handler}
	require.NoError(t, engine.Register(disabled))
	assert.Equal(t, 0, disabled.Retries)
}

func TestSendCreatesRunAndPublishes(t *testing.T) {
	engine, store, _, publisher := newTestEngine(t)
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-1",
		EventName: "test/event",
		Handler:   func(fctx *Context) (interface{}, error) { return nil, nil },
	}))

	event, runIDs, err := engine.Send(context.Background(), "test/event", json.RawMessage(`{"k":"v"}`))
	require.NoError(t, err)
	require.Len(t, runIDs, 1)
	assert.Equal(t, runIDs, publisher.published)

	stored, err := store.GetEvent(event.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "test/event", stored.Name)
	assert.JSONEq(t, `{"k":"v"}`, stored.Data)

	run, err := store.GetRun(runIDs[0])
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, StatusQueued, run.Status)
	assert.Equal(t, event.ID, run.EventID)
	assert.Equal(t, "fn-1", run.FunctionID)
}

func TestSendWithoutMatchingFunction(t *testing.T) {
	engine, store, _, publisher := newTestEngine(t)

	event, runIDs, err := engine.Send(context.Background(), "nobody/listens", nil)
	require.NoError(t, err)
	assert.Empty(t, runIDs)
	assert.Empty(t, publisher.published)

	stored, err := store.GetEvent(event.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "{}", stored.Data)
}

func TestSendEmptyName(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	_, _, err := engine.Send(context.Background(), "  ", nil)
	assert.ErrorContains(t, err, "event name is empty")
}

func TestSendRateLimited(t *testing.T) {
	engine, store, limiter, publisher := newTestEngine(t)
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-limited",
		EventName: "test/event",
		RateLimit: &RateLimit{Limit: 1, Period: 4 * time.Hour, Key: "event.data.source_id"},
		Handler:   func(fctx *Context) (interface{}, error) { return nil, nil },
	}))

	limiter.rateAllowed = false
	event, runIDs, err := engine.Send(context.Background(), "test/event", json.RawMessage(`{"source_id":"doc.pdf"}`))
	require.NoError(t, err)

	// event is stored but no run is created
	assert.Empty(t, runIDs)
	assert.Empty(t, publisher.published)
	runs, err := store.ListRunsByEventID(event.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)

	require.Len(t, limiter.rateKeys, 1)
	assert.Equal(t, "fn-limited:doc.pdf", limiter.rateKeys[0])
}

func TestSendRateLimiterErrorFailsOpen(t *testing.T) {
	engine, _, limiter, publisher := newTestEngine(t)
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-limited",
		EventName: "test/event",
		RateLimit: &RateLimit{Limit: 1, Period: time.Hour},
		Handler:   func(fctx *Context) (interface{}, error) { return nil, nil },
	}))

	limiter.rateAllowed = false
	limiter.rateErr = errors.New("redis down")

	_, runIDs, err := engine.Send(context.Background(), "test/event", nil)
	require.NoError(t, err)
	assert.Len(t, runIDs, 1)
	assert.Len(t, publisher.published, 1)
}

func TestExecuteRunCompletes(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	calls := 0
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-1",
		EventName: "test/event",
		Handler: func(fctx *Context) (interface{}, error) {
			calls++
			var data struct {
				K string `json:"k"`
			}
			if err := fctx.UnmarshalData(&data); err != nil {
				return nil, err
			}
			return map[string]interface{}{"echo": data.K}, nil
		},
	}))

	_, runIDs, err := engine.Send(context.Background(), "test/event", json.RawMessage(`{"k":"v"}`))
	require.NoError(t, err)

	retry, err := engine.ExecuteRun(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Nil(t, retry)
	assert.Equal(t, 1, calls)

	run, err := store.GetRun(runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, 1, run.Attempt)
	assert.JSONEq(t, `{"echo":"v"}`, run.Output)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.EndedAt)

	// redelivery of a settled run is a no-op
	retry, err = engine.ExecuteRun(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Nil(t, retry)
	assert.Equal(t, 1, calls)
}

func TestExecuteRunUnknownRun(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	_, err := engine.ExecuteRun(context.Background(), "missing")
	assert.ErrorContains(t, err, "not found")
}

func TestExecuteRunRetriesThenFails(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	calls := 0
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-flaky",
		EventName: "test/event",
		Retries:   1,
		Handler: func(fctx *Context) (interface{}, error) {
			calls++
			return nil, errors.New("llm unavailable")
		},
	}))

	_, runIDs, err := engine.Send(context.Background(), "test/event", nil)
	require.NoError(t, err)
	runID := runIDs[0]

	retry, err := engine.ExecuteRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Greater(t, retry.Delay, time.Duration(0))

	run, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, run.Status)
	assert.Equal(t, 1, run.Attempt)
	assert.Equal(t, "llm unavailable", run.Error)

	retry, err = engine.ExecuteRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Nil(t, retry)
	assert.Equal(t, 2, calls)

	run, err = store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 2, run.Attempt)
	assert.Equal(t, "llm unavailable", run.Error)
	assert.NotNil(t, run.EndedAt)
}

func TestExecuteRunNoRetriesFailsImmediately(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-fragile",
		EventName: "test/event",
		Retries:   -1,
		Handler: func(fctx *Context) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}))

	_, runIDs, err := engine.Send(context.Background(), "test/event", nil)
	require.NoError(t, err)

	retry, err := engine.ExecuteRun(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Nil(t, retry)

	run, err := store.GetRun(runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "boom", run.Error)
}

func TestExecuteRunRecoversPanic(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-panics",
		EventName: "test/event",
		Retries:   -1,
		Handler: func(fctx *Context) (interface{}, error) {
			panic("nil map write")
		},
	}))

	_, runIDs, err := engine.Send(context.Background(), "test/event", nil)
	require.NoError(t, err)

	retry, err := engine.ExecuteRun(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Nil(t, retry)

	run, err := store.GetRun(runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "function panic")
}

func TestExecuteRunThrottled(t *testing.T) {
	engine, store, limiter, _ := newTestEngine(t)
	calls := 0
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-throttled",
		EventName: "test/event",
		Throttle:  &Throttle{Limit: 2, Period: time.Minute},
		Handler: func(fctx *Context) (interface{}, error) {
			calls++
			return nil, nil
		},
	}))

	_, runIDs, err := engine.Send(context.Background(), "test/event", nil)
	require.NoError(t, err)

	limiter.throttleAllowed = false
	limiter.throttleDelay = 42 * time.Second

	retry, err := engine.ExecuteRun(context.Background(), runIDs[0])
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.Equal(t, 42*time.Second, retry.Delay)
	assert.Equal(t, 0, calls)

	// the attempt was not consumed
	run, err := store.GetRun(runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, run.Status)
	assert.Equal(t, 0, run.Attempt)

	limiter.throttleAllowed = true
	retry, err = engine.ExecuteRun(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Nil(t, retry)
	assert.Equal(t, 1, calls)
}

func TestExecuteRunSkipsCancelled(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)
	calls := 0
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-1",
		EventName: "test/event",
		Handler: func(fctx *Context) (interface{}, error) {
			calls++
			return nil, nil
		},
	}))

	_, runIDs, err := engine.Send(context.Background(), "test/event", nil)
	require.NoError(t, err)
	require.NoError(t, engine.CancelRun(runIDs[0]))

	retry, err := engine.ExecuteRun(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Nil(t, retry)
	assert.Equal(t, 0, calls)

	run, err := store.GetRun(runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, run.Status)
}

func TestCancelRunStates(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-1",
		EventName: "test/event",
		Handler:   func(fctx *Context) (interface{}, error) { return "ok", nil },
	}))

	assert.ErrorIs(t, engine.CancelRun("missing"), ErrRunNotFound)

	_, runIDs, err := engine.Send(context.Background(), "test/event", nil)
	require.NoError(t, err)
	_, err = engine.ExecuteRun(context.Background(), runIDs[0])
	require.NoError(t, err)

	assert.ErrorIs(t, engine.CancelRun(runIDs[0]), ErrRunNotCancellable)
}

func TestStepMemoizationSurvivesRetry(t *testing.T) {
	engine, store, _, _ := newTestEngine(t)

	loadCalls := 0
	attempt := 0
	require.NoError(t, engine.Register(&Function{
		ID:        "fn-pipeline",
		EventName: "test/event",
		Retries:   2,
		Handler: func(fctx *Context) (interface{}, error) {
			chunks, err := Step(fctx, "load", func(ctx context.Context) ([]string, error) {
				loadCalls++
				return []string{"a", "b"}, nil
			})
			if err != nil {
				return nil, err
			}
			_, err = Step(fctx, "upsert", func(ctx context.Context) (int, error) {
				attempt++
				if attempt == 1 {
					return 0, errors.New("qdrant unavailable")
				}
				return len(chunks), nil
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"ingested": len(chunks)}, nil
		},
	}))

	_, runIDs, err := engine.Send(context.Background(), "test/event", nil)
	require.NoError(t, err)
	runID := runIDs[0]

	retry, err := engine.ExecuteRun(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, retry)

	run, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, run.Status)
	assert.Contains(t, run.Error, `step "upsert"`)

	retry, err = engine.ExecuteRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Nil(t, retry)

	run, err = store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.JSONEq(t, `{"ingested":2}`, run.Output)
	assert.Equal(t, 1, loadCalls, "first step must not re-run on retry")
}

func TestLookupEventField(t *testing.T) {
	data := json.RawMessage(`{"source_id":"doc.pdf","nested":{"id":7},"flag":true}`)

	assert.Equal(t, "doc.pdf", lookupEventField(data, "event.data.source_id"))
	assert.Equal(t, "doc.pdf", lookupEventField(data, "data.source_id"))
	assert.Equal(t, "doc.pdf", lookupEventField(data, "source_id"))
	assert.Equal(t, "7", lookupEventField(data, "event.data.nested.id"))
	assert.Equal(t, "true", lookupEventField(data, "event.data.flag"))
	assert.Equal(t, "", lookupEventField(data, "event.data.missing"))
	assert.Equal(t, "", lookupEventField(json.RawMessage(`not json`), "event.data.source_id"))
}

func TestRetryBackoffGrowsAndCaps(t *testing.T) {
	assert.Equal(t, retryBackoffBase, retryBackoff(1))
	assert.Equal(t, 2*retryBackoffBase, retryBackoff(2))
	assert.Equal(t, 4*retryBackoffBase, retryBackoff(3))
	assert.Equal(t, time.Minute, retryBackoff(10))
	assert.Equal(t, retryBackoffBase, retryBackoff(0))
}
