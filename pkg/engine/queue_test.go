package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "reconflow/pkg/errors"
	"reconflow/pkg/logger"
	"reconflow/pkg/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestScheduler(t *testing.T, opts Options) *Scheduler {
	t.Helper()
	opts.Logger = logger.Discard()
	s := NewScheduler(opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func TestScheduler_BoundsConcurrencyPerPool(t *testing.T) {
	s := newTestScheduler(t, Options{PipelineWorkers: 2, VulnWorkers: 1})

	var current, peak atomic.Int32
	task := func(ctx context.Context) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		current.Add(-1)
		return nil
	}

	for i := 0; i < 6; i++ {
		_, err := s.Submit(KindPipeline, "bounded", task)
		require.NoError(t, err)
	}

	require.NoError(t, s.Wait(context.Background()))
	assert.Equal(t, int32(2), peak.Load())
	for _, st := range s.Status() {
		assert.Zero(t, st.Running)
		assert.Zero(t, st.Queued)
	}
}

func TestScheduler_PoolsAreIndependent(t *testing.T) {
	s := newTestScheduler(t, Options{PipelineWorkers: 1, VulnWorkers: 1})

	release := make(chan struct{})
	_, err := s.Submit(KindPipeline, "blocker", func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)

	vulnRan := make(chan struct{})
	_, err = s.Submit(KindVuln, "vuln", func(ctx context.Context) error {
		close(vulnRan)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-vulnRan:
	case <-time.After(2 * time.Second):
		t.Fatal("vuln task starved by a busy pipeline pool")
	}

	status := s.Status()
	require.Len(t, status, 2)
	assert.Equal(t, PoolStatus{Kind: KindPipeline, Workers: 1, Running: 1}, status[0])

	close(release)
	require.NoError(t, s.Wait(context.Background()))
}

func TestScheduler_TaskIDInContext(t *testing.T) {
	s := newTestScheduler(t, Options{})

	got := make(chan interface{}, 1)
	id, err := s.Submit(KindVuln, "id", func(ctx context.Context) error {
		got <- ctx.Value(logger.TaskIDKey)
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, <-got)
}

func TestScheduler_RecoversPanics(t *testing.T) {
	m := metrics.New()
	s := newTestScheduler(t, Options{PipelineWorkers: 1, Metrics: m})

	_, err := s.Submit(KindPipeline, "panics", func(ctx context.Context) error {
		panic("boom")
	})
	require.NoError(t, err)

	var ran atomic.Bool
	_, err = s.Submit(KindPipeline, "after", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.Wait(context.Background()))
	assert.True(t, ran.Load(), "slot must be released after a panic")
}

func TestScheduler_TaskTimeout(t *testing.T) {
	s := newTestScheduler(t, Options{TaskTimeout: 50 * time.Millisecond})

	errCh := make(chan error, 1)
	_, err := s.Submit(KindPipeline, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("task timeout not applied")
	}
}

func TestScheduler_SubmitAfterStop(t *testing.T) {
	s := newTestScheduler(t, Options{})
	require.NoError(t, s.Stop(context.Background()))

	_, err := s.Submit(KindPipeline, "late", func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, err, apperrors.ErrSchedulerClosed)
}

func TestScheduler_UnknownKind(t *testing.T) {
	s := newTestScheduler(t, Options{})

	_, err := s.Submit(TaskKind("cron"), "x", func(ctx context.Context) error { return nil })

	assert.Error(t, err)
	require.NoError(t, s.Wait(context.Background()))
}

func TestScheduler_StopWaitsForRunningTasks(t *testing.T) {
	s := newTestScheduler(t, Options{PipelineWorkers: 1})

	var finished atomic.Int32
	for i := 0; i < 3; i++ {
		_, err := s.Submit(KindPipeline, "work", func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, int32(3), finished.Load())
}

func TestScheduler_StopDeadlineCancelsTasks(t *testing.T) {
	s := newTestScheduler(t, Options{PipelineWorkers: 1})

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	started := make(chan struct{})
	_, err := s.Submit(KindPipeline, "running", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		record(ctx.Err())
		return ctx.Err()
	})
	require.NoError(t, err)
	<-started

	_, err = s.Submit(KindPipeline, "queued", func(ctx context.Context) error {
		record(ctx.Err())
		return ctx.Err()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = s.Stop(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 2, "queued task is still told about the cancellation")
	for _, e := range errs {
		assert.True(t, errors.Is(e, context.Canceled))
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, OutcomeOK, classify(nil))
	assert.Equal(t, OutcomeTimeout, classify(context.DeadlineExceeded))
	assert.Equal(t, OutcomeCancelled, classify(context.Canceled))
	assert.Equal(t, OutcomePanic, classify(&PanicError{Value: "x"}))
	assert.Equal(t, OutcomeFailed, classify(errors.New("store down")))
}
