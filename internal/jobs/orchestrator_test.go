package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/types"
)

// memJobRepo mirrors the pgx store's status predicates in memory.
type memJobRepo struct {
	mu   sync.Mutex
	jobs map[types.ID]*Job
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[types.ID]*Job)}
}

func (r *memJobRepo) Create(_ context.Context, j *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *memJobRepo) Get(_ context.Context, id types.ID) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *memJobRepo) List(_ context.Context, kind Kind, statuses []Status, limit int) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Job
	for _, j := range r.jobs {
		if kind != "" && j.Kind != kind {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, st := range statuses {
				if j.Status == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memJobRepo) MarkRunning(_ context.Context, id types.ID) (bool, error) {
	return r.shift(id, []Status{StatusQueued}, StatusRunning), nil
}

func (r *memJobRepo) MarkCancelling(_ context.Context, id types.ID) (bool, error) {
	return r.shift(id, []Status{StatusRunning}, StatusCancelling), nil
}

func (r *memJobRepo) shift(id types.ID, from []Status, to Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false
	}
	for _, st := range from {
		if j.Status == st {
			j.Status = to
			now := time.Now().UTC()
			if to == StatusRunning {
				j.StartedAt = &now
				j.HeartbeatAt = &now
			}
			return true
		}
	}
	return false
}

func (r *memJobRepo) UpdateProgress(_ context.Context, id types.ID, progress int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok && (j.Status == StatusRunning || j.Status == StatusCancelling) {
		j.Progress = progress
		j.Message = message
		now := time.Now().UTC()
		j.HeartbeatAt = &now
	}
	return nil
}

func (r *memJobRepo) Finish(_ context.Context, id types.ID, to Status, result []byte, errCode, errText string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok || (j.Status != StatusRunning && j.Status != StatusCancelling) {
		return false, nil
	}
	j.Status = to
	j.Result = result
	j.ErrorCode = errCode
	j.ErrorText = errText
	if to == StatusSucceeded {
		j.Progress = 100
	}
	now := time.Now().UTC()
	j.FinishedAt = &now
	return true, nil
}

func (r *memJobRepo) CancelQueued(_ context.Context, id types.ID) (bool, error) {
	return r.shift(id, []Status{StatusQueued}, StatusCancelled), nil
}

func (r *memJobRepo) SweepOrphans(_ context.Context, olderThan time.Duration) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, j := range r.jobs {
		if (j.Status == StatusRunning || j.Status == StatusCancelling) &&
			j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			j.Status = StatusFailed
			j.ErrorCode = ErrCodeOrphaned
			n++
		}
	}
	return n, nil
}

// funcHandler adapts a function to Handler for tests.
type funcHandler struct {
	kind Kind
	run  func(ctx context.Context, job *Job, report ReportFunc) (any, error)
}

func (h funcHandler) Kind() Kind { return h.kind }
func (h funcHandler) Run(ctx context.Context, job *Job, report ReportFunc) (any, error) {
	return h.run(ctx, job, report)
}

func startOrchestrator(t *testing.T, repo Repository, handlers ...Handler) (*Orchestrator, context.CancelFunc) {
	t.Helper()
	reg, err := NewRegistry(handlers...)
	require.NoError(t, err)
	o := NewOrchestrator(repo, reg, bus.NopPublisher{}, Options{
		Workers:          4,
		CancelDeadline:   100 * time.Millisecond,
		StaleThreshold:   time.Minute,
		ProgressInterval: time.Millisecond,
	}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = o.Run(ctx) }()
	t.Cleanup(cancel)
	return o, cancel
}

func waitStatus(t *testing.T, repo Repository, id types.ID, want Status) *Job {
	t.Helper()
	var got *Job
	require.Eventually(t, func() bool {
		j, err := repo.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 3*time.Second, 5*time.Millisecond, "job never reached %s", want)
	return got
}

func TestJobCompletesWithResult(t *testing.T) {
	repo := newMemJobRepo()
	o, _ := startOrchestrator(t, repo, funcHandler{
		kind: KindBulkImport,
		run: func(ctx context.Context, job *Job, report ReportFunc) (any, error) {
			report(50, "halfway")
			return map[string]int{"imported": 7}, nil
		},
	})

	id, err := o.Submit(context.Background(), KindBulkImport, "customers", json.RawMessage(`{}`))
	require.NoError(t, err)

	j := waitStatus(t, repo, id, StatusSucceeded)
	require.Equal(t, 100, j.Progress)
	require.JSONEq(t, `{"imported":7}`, string(j.Result))
	require.Empty(t, j.ErrorCode)
}

func TestJobFailureKeepsCode(t *testing.T) {
	repo := newMemJobRepo()
	o, _ := startOrchestrator(t, repo, funcHandler{
		kind: KindOptimizeDay,
		run: func(ctx context.Context, job *Job, report ReportFunc) (any, error) {
			return nil, &CodedError{Code: ErrCodeConflict, Err: context.DeadlineExceeded}
		},
	})

	id, err := o.Submit(context.Background(), KindOptimizeDay, "2026-03-02", json.RawMessage(`{}`))
	require.NoError(t, err)

	j := waitStatus(t, repo, id, StatusFailed)
	require.Equal(t, ErrCodeConflict, j.ErrorCode)
}

func TestSameTargetRunsSerially(t *testing.T) {
	repo := newMemJobRepo()
	release := make(chan struct{})
	started := make(chan types.ID, 2)
	o, _ := startOrchestrator(t, repo, funcHandler{
		kind: KindOptimizeDay,
		run: func(ctx context.Context, job *Job, report ReportFunc) (any, error) {
			started <- job.ID
			<-release
			return nil, nil
		},
	})

	first, err := o.Submit(context.Background(), KindOptimizeDay, "2026-03-02", json.RawMessage(`{}`))
	require.NoError(t, err)
	second, err := o.Submit(context.Background(), KindOptimizeDay, "2026-03-02", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.Equal(t, first, <-started)
	// The second job must not start while the first holds the lane.
	select {
	case id := <-started:
		t.Fatalf("job %s started before the lane was free", id)
	case <-time.After(100 * time.Millisecond):
	}
	j, _ := repo.Get(context.Background(), second)
	require.Equal(t, StatusQueued, j.Status)

	close(release)
	require.Equal(t, second, <-started)
	waitStatus(t, repo, second, StatusSucceeded)
}

func TestDifferentTargetsRunConcurrently(t *testing.T) {
	repo := newMemJobRepo()
	release := make(chan struct{})
	started := make(chan types.ID, 2)
	o, _ := startOrchestrator(t, repo, funcHandler{
		kind: KindOptimizeDay,
		run: func(ctx context.Context, job *Job, report ReportFunc) (any, error) {
			started <- job.ID
			<-release
			return nil, nil
		},
	})

	_, err := o.Submit(context.Background(), KindOptimizeDay, "2026-03-02", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), KindOptimizeDay, "2026-03-03", json.RawMessage(`{}`))
	require.NoError(t, err)

	got := map[types.ID]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-started:
			got[id] = true
		case <-time.After(time.Second):
			t.Fatal("jobs on different targets did not run concurrently")
		}
	}
	require.Len(t, got, 2)
	close(release)
}

func TestCancelQueuedJob(t *testing.T) {
	repo := newMemJobRepo()
	release := make(chan struct{})
	defer close(release)
	o, _ := startOrchestrator(t, repo, funcHandler{
		kind: KindOptimizeDay,
		run: func(ctx context.Context, job *Job, report ReportFunc) (any, error) {
			<-release
			return nil, nil
		},
	})

	// First job occupies the lane; the second stays queued.
	_, err := o.Submit(context.Background(), KindOptimizeDay, "2026-03-02", json.RawMessage(`{}`))
	require.NoError(t, err)
	queued, err := o.Submit(context.Background(), KindOptimizeDay, "2026-03-02", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, o.Cancel(context.Background(), queued))
	j, _ := repo.Get(context.Background(), queued)
	require.Equal(t, StatusCancelled, j.Status)
}

func TestCancelRunningJobCooperative(t *testing.T) {
	repo := newMemJobRepo()
	started := make(chan struct{})
	o, _ := startOrchestrator(t, repo, funcHandler{
		kind: KindOptimizeDay,
		run: func(ctx context.Context, job *Job, report ReportFunc) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	id, err := o.Submit(context.Background(), KindOptimizeDay, "2026-03-02", json.RawMessage(`{}`))
	require.NoError(t, err)
	<-started

	require.NoError(t, o.Cancel(context.Background(), id))
	waitStatus(t, repo, id, StatusCancelled)
}

func TestCancelDeadlineFailsStuckJob(t *testing.T) {
	repo := newMemJobRepo()
	started := make(chan struct{})
	o, _ := startOrchestrator(t, repo, funcHandler{
		kind: KindOptimizeDay,
		run: func(ctx context.Context, job *Job, report ReportFunc) (any, error) {
			close(started)
			// Ignores cancellation on purpose.
			time.Sleep(2 * time.Second)
			return nil, nil
		},
	})

	id, err := o.Submit(context.Background(), KindOptimizeDay, "2026-03-02", json.RawMessage(`{}`))
	require.NoError(t, err)
	<-started

	require.NoError(t, o.Cancel(context.Background(), id))
	j := waitStatus(t, repo, id, StatusFailed)
	require.Equal(t, ErrCodeCancelTimeout, j.ErrorCode)
}

func TestStartupSweepFailsOrphans(t *testing.T) {
	repo := newMemJobRepo()
	stale := time.Now().Add(-time.Hour)
	repo.jobs["dead"] = &Job{
		ID:          "dead",
		Kind:        KindOptimizeDay,
		TargetKey:   "2026-03-01",
		Status:      StatusRunning,
		HeartbeatAt: &stale,
	}

	startOrchestrator(t, repo)
	j := waitStatus(t, repo, "dead", StatusFailed)
	require.Equal(t, ErrCodeOrphaned, j.ErrorCode)
}

func TestSubmitUnknownKind(t *testing.T) {
	repo := newMemJobRepo()
	o, _ := startOrchestrator(t, repo, funcHandler{
		kind: KindOptimizeDay,
		run:  func(ctx context.Context, job *Job, report ReportFunc) (any, error) { return nil, nil },
	})
	_, err := o.Submit(context.Background(), Kind("bogus"), "x", nil)
	require.ErrorIs(t, err, ErrUnknownKind)
}
