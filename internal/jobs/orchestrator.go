// README: Job orchestrator: a fixed worker pool with per-(kind, target)
// FIFO lanes, throttled progress events, cooperative cancel with a hard
// deadline, and an orphan sweep at startup.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/cheez95/luckygas/internal/bus"
	"github.com/cheez95/luckygas/internal/metrics"
	"github.com/cheez95/luckygas/internal/types"
)

var (
	ErrUnknownKind  = errors.New("unknown job kind")
	ErrNotCancel    = errors.New("job not cancellable")
	ErrShuttingDown = errors.New("orchestrator shutting down")
)

// CodedError lets a handler attach a stable error code to a failure, e.g.
// an assembly conflict.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string { return e.Code + ": " + e.Err.Error() }
func (e *CodedError) Unwrap() error { return e.Err }

type Options struct {
	Workers          int
	CancelDeadline   time.Duration
	StaleThreshold   time.Duration
	ProgressInterval time.Duration
}

// JobPayload is the wire payload for job.* events.
type JobPayload struct {
	JobID     types.ID `json:"job_id"`
	Kind      Kind     `json:"kind"`
	TargetKey string   `json:"target_key"`
	Status    Status   `json:"status"`
	Progress  int      `json:"progress"`
	Message   string   `json:"message,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
}

type laneKey struct {
	Kind   Kind
	Target string
}

type lane struct {
	queue []*Job
	busy  bool
}

type Orchestrator struct {
	store Repository
	reg   *Registry
	pub   bus.Publisher
	opts  Options
	log   zerolog.Logger

	mu      sync.Mutex
	lanes   map[uint64]*lane
	running map[types.ID]context.CancelFunc
	closed  bool

	runCh chan *Job
	wg    sync.WaitGroup
}

func NewOrchestrator(store Repository, reg *Registry, pub bus.Publisher, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.CancelDeadline <= 0 {
		opts.CancelDeadline = 30 * time.Second
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 15 * time.Minute
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = time.Second
	}
	return &Orchestrator{
		store:   store,
		reg:     reg,
		pub:     pub,
		opts:    opts,
		log:     log.With().Str("component", "jobs").Logger(),
		lanes:   make(map[uint64]*lane),
		running: make(map[types.ID]context.CancelFunc),
		runCh:   make(chan *Job, 1024),
	}
}

// Run sweeps orphans, starts the worker pool, and blocks until ctx is
// done and in-flight jobs have returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	swept, err := o.store.SweepOrphans(ctx, o.opts.StaleThreshold)
	if err != nil {
		return err
	}
	if swept > 0 {
		o.log.Warn().Int("jobs", swept).Msg("orphaned jobs failed at startup")
	}
	if err := o.requeue(ctx); err != nil {
		return err
	}

	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
	<-ctx.Done()

	o.mu.Lock()
	o.closed = true
	for _, cancel := range o.running {
		cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
	return nil
}

// requeue puts jobs left queued by a previous process back into their
// lanes, oldest first.
func (o *Orchestrator) requeue(ctx context.Context) error {
	queued, err := o.store.List(ctx, "", []Status{StatusQueued}, 1000)
	if err != nil {
		return err
	}
	sort.Slice(queued, func(i, j int) bool { return queued[i].CreatedAt.Before(queued[j].CreatedAt) })
	for _, j := range queued {
		h, err := hashstructure.Hash(laneKey{Kind: j.Kind, Target: j.TargetKey}, hashstructure.FormatV2, nil)
		if err != nil {
			return err
		}
		var dispatch *Job
		o.mu.Lock()
		l := o.lanes[h]
		if l == nil {
			l = &lane{}
			o.lanes[h] = l
		}
		l.queue = append(l.queue, j)
		if !l.busy {
			l.busy = true
			dispatch = l.queue[0]
			l.queue = l.queue[1:]
		}
		o.mu.Unlock()
		if dispatch != nil {
			o.runCh <- dispatch
		}
	}
	return nil
}

// Submit enqueues a job. Jobs with the same kind and target key run one
// at a time in submission order.
func (o *Orchestrator) Submit(ctx context.Context, kind Kind, targetKey string, params json.RawMessage) (types.ID, error) {
	if _, ok := o.reg.Lookup(kind); !ok {
		return "", ErrUnknownKind
	}
	j := &Job{
		ID:        types.NewID(),
		Kind:      kind,
		TargetKey: targetKey,
		Params:    params,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.store.Create(ctx, j); err != nil {
		return "", err
	}

	h, err := hashstructure.Hash(laneKey{Kind: kind, Target: targetKey}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	var dispatch *Job
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	l := o.lanes[h]
	if l == nil {
		l = &lane{}
		o.lanes[h] = l
	}
	l.queue = append(l.queue, j)
	if !l.busy {
		l.busy = true
		dispatch = l.queue[0]
		l.queue = l.queue[1:]
	}
	o.mu.Unlock()

	o.publish(bus.KindJobProgress, j, StatusQueued, 0, "", "")
	if dispatch != nil {
		o.runCh <- dispatch
	}
	return j.ID, nil
}

// Cancel requests cancellation. Queued jobs cancel immediately; running
// jobs get their context cancelled and a deadline after which the job is
// failed with cancel_timeout even if the handler never returned.
func (o *Orchestrator) Cancel(ctx context.Context, id types.ID) error {
	j, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}
	switch j.Status {
	case StatusQueued:
		ok, err := o.store.CancelQueued(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			o.publish(bus.KindJobCompleted, j, StatusCancelled, j.Progress, "", "")
		}
		return nil
	case StatusRunning:
		if _, err := o.store.MarkCancelling(ctx, id); err != nil {
			return err
		}
		o.mu.Lock()
		cancel := o.running[id]
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		go o.enforceCancelDeadline(id)
		return nil
	case StatusCancelling:
		return nil
	default:
		return ErrNotCancel
	}
}

func (o *Orchestrator) Get(ctx context.Context, id types.ID) (*Job, error) {
	return o.store.Get(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context, kind Kind, statuses []Status, limit int) ([]*Job, error) {
	return o.store.List(ctx, kind, statuses, limit)
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.runCh:
			o.execute(ctx, j)
			o.laneDone(j)
		}
	}
}

func (o *Orchestrator) laneDone(j *Job) {
	h, err := hashstructure.Hash(laneKey{Kind: j.Kind, Target: j.TargetKey}, hashstructure.FormatV2, nil)
	if err != nil {
		return
	}
	var next *Job
	o.mu.Lock()
	l := o.lanes[h]
	if l != nil {
		if len(l.queue) > 0 && !o.closed {
			next = l.queue[0]
			l.queue = l.queue[1:]
		} else {
			l.busy = false
			if len(l.queue) == 0 {
				delete(o.lanes, h)
			}
		}
	}
	o.mu.Unlock()
	if next != nil {
		o.runCh <- next
	}
}

func (o *Orchestrator) execute(ctx context.Context, j *Job) {
	ok, err := o.store.MarkRunning(ctx, j.ID)
	if err != nil || !ok {
		// Cancelled while queued, or the store is unreachable.
		return
	}
	handler, found := o.reg.Lookup(j.Kind)
	if !found {
		o.store.Finish(ctx, j.ID, StatusFailed, nil, ErrCodeHandler, "no handler registered")
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.running[j.ID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.running, j.ID)
		o.mu.Unlock()
	}()

	metrics.JobsStarted.WithLabelValues(string(j.Kind)).Inc()
	started := time.Now()
	o.publish(bus.KindJobProgress, j, StatusRunning, 0, "", "")

	limiter := rate.NewLimiter(rate.Every(o.opts.ProgressInterval), 1)
	lastProgress := 0
	report := func(progress int, message string) {
		lastProgress = progress
		if progress < 100 && !limiter.Allow() {
			return
		}
		if err := o.store.UpdateProgress(ctx, j.ID, progress, message); err != nil {
			o.log.Warn().Err(err).Str("job", string(j.ID)).Msg("progress write failed")
		}
		o.publish(bus.KindJobProgress, j, StatusRunning, progress, message, "")
	}

	result, runErr := handler.Run(jobCtx, j, report)
	elapsed := time.Since(started)
	metrics.JobDuration.WithLabelValues(string(j.Kind)).Observe(elapsed.Seconds())

	var (
		to      Status
		errCode string
		errText string
		raw     []byte
	)
	switch {
	case runErr == nil:
		to = StatusSucceeded
		if result != nil {
			raw, _ = json.Marshal(result)
		}
	case jobCtx.Err() != nil && errors.Is(runErr, jobCtx.Err()):
		to = StatusCancelled
	default:
		to = StatusFailed
		errCode = ErrCodeHandler
		var coded *CodedError
		if errors.As(runErr, &coded) {
			errCode = coded.Code
		}
		errText = runErr.Error()
	}

	committed, err := o.store.Finish(ctx, j.ID, to, raw, errCode, errText)
	if err != nil {
		o.log.Error().Err(err).Str("job", string(j.ID)).Msg("finish write failed")
		return
	}
	if !committed {
		// A cancel deadline or sweep already decided this job's fate.
		return
	}
	metrics.JobsFinished.WithLabelValues(string(j.Kind), string(to)).Inc()
	o.publish(bus.KindJobCompleted, j, to, lastProgress, "", errCode)
	o.log.Info().Str("job", string(j.ID)).Str("kind", string(j.Kind)).
		Str("status", string(to)).Dur("elapsed", elapsed).Msg("job finished")
}

func (o *Orchestrator) enforceCancelDeadline(id types.ID) {
	time.Sleep(o.opts.CancelDeadline)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, err := o.store.Get(ctx, id)
	if err != nil || j.Status != StatusCancelling {
		return
	}
	committed, err := o.store.Finish(ctx, id, StatusFailed, nil, ErrCodeCancelTimeout, "handler ignored cancellation")
	if err != nil || !committed {
		return
	}
	metrics.JobsFinished.WithLabelValues(string(j.Kind), string(StatusFailed)).Inc()
	o.publish(bus.KindJobCompleted, j, StatusFailed, j.Progress, "", ErrCodeCancelTimeout)
	o.log.Warn().Str("job", string(id)).Msg("cancel deadline expired")
}

func (o *Orchestrator) publish(kind bus.Kind, j *Job, status Status, progress int, message, errCode string) {
	o.pub.Publish(kind, JobPayload{
		JobID:     j.ID,
		Kind:      j.Kind,
		TargetKey: j.TargetKey,
		Status:    status,
		Progress:  progress,
		Message:   message,
		ErrorCode: errCode,
	})
}
