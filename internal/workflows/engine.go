// Package workflows drives the fixed research graph: it runs steps in order,
// merges their partial states, checkpoints after every transition and pauses
// before human review.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/srujansrutha/amri/internal/activities"
	"github.com/srujansrutha/amri/internal/checkpoint"
	ometrics "github.com/srujansrutha/amri/internal/metrics"
	"github.com/srujansrutha/amri/internal/semcache"
	"github.com/srujansrutha/amri/internal/state"
	"github.com/srujansrutha/amri/internal/tracing"
)

const (
	// MaxTopicRunes bounds accepted topics.
	MaxTopicRunes = 2000
	// FailurePrefix starts the report of a failed run.
	FailurePrefix = "Research failed: "

	modeStart  = "start"
	modeResume = "resume"
)

// Config wires the engine. Steps and Store are required.
type Config struct {
	Steps *activities.Steps
	Store checkpoint.Store
	// Cache receives the report of completed live runs. Optional.
	Cache semcache.Cache
	// Leaser defaults to an in-process LocalLeaser.
	Leaser Leaser
	Logger *zap.Logger
	// Backend labels checkpoint metrics (memory, redis, postgres, sqlite3).
	Backend string
	// SaveTimeout bounds a background cache save.
	SaveTimeout time.Duration
	// NewID mints thread ids; defaults to UUIDv4.
	NewID func() string
}

// Engine executes research threads.
type Engine struct {
	steps       *activities.Steps
	store       checkpoint.Store
	cache       semcache.Cache
	leaser      Leaser
	logger      *zap.Logger
	backend     string
	saveTimeout time.Duration
	newID       func() string

	saves sync.WaitGroup
}

// NewEngine validates cfg and applies defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Steps == nil {
		return nil, errors.New("engine: steps are required")
	}
	if err := cfg.Steps.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: checkpoint store is required")
	}
	e := &Engine{
		steps:       cfg.Steps,
		store:       cfg.Store,
		cache:       cfg.Cache,
		leaser:      cfg.Leaser,
		logger:      cfg.Logger,
		backend:     cfg.Backend,
		saveTimeout: cfg.SaveTimeout,
		newID:       cfg.NewID,
	}
	if e.leaser == nil {
		e.leaser = NewLocalLeaser()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.backend == "" {
		e.backend = "unknown"
	}
	if e.saveTimeout <= 0 {
		e.saveTimeout = 30 * time.Second
	}
	if e.newID == nil {
		e.newID = func() string { return uuid.New().String() }
	}
	return e, nil
}

// ValidateTopic rejects empty or oversized topics.
func ValidateTopic(topic string) error {
	t := strings.TrimSpace(topic)
	if t == "" {
		return errors.New("topic must not be empty")
	}
	if utf8.RuneCountInString(t) > MaxTopicRunes {
		return fmt.Errorf("topic exceeds %d characters", MaxTopicRunes)
	}
	return nil
}

// Start mints a thread and runs it until it completes, fails or pauses for
// human review. A step failure is reported through the returned state
// (status=error); the Go error is reserved for rejected input and
// persistence failures.
func (e *Engine) Start(ctx context.Context, topic string, enableHITL bool) (*state.ThreadState, error) {
	if err := ValidateTopic(topic); err != nil {
		return nil, newError(ErrInvalidState, "", "", err)
	}
	st := state.New(e.newID(), strings.TrimSpace(topic), enableHITL)

	release, err := e.acquire(ctx, st.ThreadID)
	if err != nil {
		return nil, err
	}
	defer release()

	ometrics.RunsStarted.WithLabelValues(modeStart).Inc()
	e.logger.Info("Research started",
		zap.String("thread_id", st.ThreadID),
		zap.Bool("enable_hitl", enableHITL),
	)
	if err := e.persist(ctx, st); err != nil {
		return st, newError(ErrPersistence, st.ThreadID, "", err)
	}
	return e.run(ctx, st, state.StepCheckCache, modeStart)
}

// Resume continues a paused thread with the reviewer's feedback. Unknown
// threads yield ErrNotFound and non-paused ones ErrInvalidState; neither
// touches the stored checkpoint. The paused -> running transition is a
// conditional write on the checkpoint version, so when several processes
// share one store only the first resume of a thread proceeds; the others get
// ErrThreadBusy.
func (e *Engine) Resume(ctx context.Context, threadID, feedback string) (*state.ThreadState, error) {
	release, err := e.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	defer release()

	cp, err := e.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, newError(ErrNotFound, threadID, "", nil)
	}
	if err != nil {
		return nil, newError(ErrPersistence, threadID, "", err)
	}

	st := cp.State
	if st.Status != state.StatusPaused {
		return st, newError(ErrInvalidState, threadID, "",
			fmt.Errorf("thread is %s, only paused threads can be resumed", st.Status))
	}
	next := state.StepHumanReview
	if len(cp.PendingSteps) > 0 {
		next = cp.PendingSteps[0]
	}

	st.HumanFeedback = feedback
	st.Status = state.StatusRunning
	st.PendingSteps = nil
	if err := e.claim(ctx, st, cp.Version); err != nil {
		return nil, err
	}

	ometrics.RunsStarted.WithLabelValues(modeResume).Inc()
	e.logger.Info("Research resumed",
		zap.String("thread_id", threadID),
		zap.String("step", next.String()),
		zap.Bool("has_feedback", feedback != ""),
	)
	return e.run(ctx, st, next, modeResume)
}

// Get returns the latest checkpointed state of a thread.
func (e *Engine) Get(ctx context.Context, threadID string) (*state.ThreadState, error) {
	cp, err := e.store.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, newError(ErrNotFound, threadID, "", nil)
	}
	if err != nil {
		return nil, newError(ErrPersistence, threadID, "", err)
	}
	st := cp.State
	st.PendingSteps = cp.PendingSteps
	return st, nil
}

// Wait blocks until background cache saves have finished.
func (e *Engine) Wait() {
	e.saves.Wait()
}

func (e *Engine) acquire(ctx context.Context, threadID string) (func(), error) {
	release, err := e.leaser.Acquire(ctx, threadID)
	if errors.Is(err, ErrThreadBusy) {
		return nil, newError(ErrInvalidState, threadID, "", ErrThreadBusy)
	}
	if err != nil {
		return nil, newError(ErrPersistence, threadID, "", err)
	}
	return release, nil
}

// run drives the graph from step. On resume the first step is human_review
// itself, so the pause check is skipped for it.
func (e *Engine) run(ctx context.Context, st *state.ThreadState, step state.Step, mode string) (out *state.ThreadState, err error) {
	start := time.Now()
	defer func() {
		ometrics.RecordRunMetrics(mode, string(st.Status), string(st.Source), time.Since(start).Seconds())
	}()

	resuming := mode == modeResume
	for step != state.StepEnd {
		if step == state.StepHumanReview && st.EnableHITL && !st.HumanReviewed && !resuming {
			return e.pause(ctx, st, step)
		}
		resuming = false

		if cerr := ctx.Err(); cerr != nil {
			return e.fail(ctx, st, step, cerr)
		}
		partial, serr := e.execute(ctx, st, step)
		if serr != nil {
			return e.fail(ctx, st, step, serr)
		}
		st.Merge(partial)

		next := Next(step, st)
		if perr := e.persist(ctx, st); perr != nil {
			return e.abort(st, step, perr)
		}
		step = next
	}
	return e.complete(ctx, st)
}

func (e *Engine) execute(ctx context.Context, st *state.ThreadState, step state.Step) (state.Partial, error) {
	act, ok := e.steps.Get(step)
	if !ok {
		return state.Partial{}, fmt.Errorf("no activity for step %s", step)
	}

	ctx, span := tracing.StartStepSpan(ctx, st.ThreadID, step.String(), st.RevisionNumber)
	defer span.End()

	began := time.Now()
	partial, err := act.Execute(ctx, st.Clone())
	took := time.Since(began)
	ometrics.RecordStepMetrics(step.String(), took.Seconds(), err != nil)
	if err != nil {
		span.RecordError(err)
		return state.Partial{}, err
	}
	e.logger.Debug("Step completed",
		zap.String("thread_id", st.ThreadID),
		zap.String("step", step.String()),
		zap.Int("revision", st.RevisionNumber),
		zap.Duration("took", took),
	)
	return partial, nil
}

func (e *Engine) pause(ctx context.Context, st *state.ThreadState, before state.Step) (*state.ThreadState, error) {
	st.Status = state.StatusPaused
	st.PendingSteps = []state.Step{before}
	if err := e.persist(ctx, st); err != nil {
		return e.abort(st, before, err)
	}
	ometrics.Pauses.Inc()
	e.logger.Info("Research paused for human review",
		zap.String("thread_id", st.ThreadID),
		zap.String("step", before.String()),
	)
	return st, nil
}

func (e *Engine) complete(ctx context.Context, st *state.ThreadState) (*state.ThreadState, error) {
	st.Status = state.StatusCompleted
	st.PendingSteps = nil
	if err := e.persist(ctx, st); err != nil {
		return e.abort(st, state.StepEnd, err)
	}
	ometrics.Revisions.Observe(float64(st.RevisionNumber))
	e.logger.Info("Research completed",
		zap.String("thread_id", st.ThreadID),
		zap.String("source", string(st.Source)),
		zap.Int("revision", st.RevisionNumber),
	)
	if st.Source == state.SourceLive {
		e.saveToCache(ctx, st.ThreadID, st.Topic, st.FinalReport)
	}
	return st, nil
}

// fail records a step failure on the thread and persists it. The caller
// sees the failure in the returned state, not as a Go error.
func (e *Engine) fail(ctx context.Context, st *state.ThreadState, step state.Step, cause error) (*state.ThreadState, error) {
	stepErr := newError(ErrStepExecution, st.ThreadID, step, cause)
	markFailed(st, stepErr)
	e.logger.Error("Research step failed",
		zap.String("thread_id", st.ThreadID),
		zap.String("step", step.String()),
		zap.Error(cause),
	)
	if err := e.persist(ctx, st); err != nil {
		return st, newError(ErrPersistence, st.ThreadID, step, err)
	}
	return st, nil
}

// abort handles a checkpoint write failure. The in-memory state is marked
// failed and returned with the persistence error; nothing more is written.
func (e *Engine) abort(st *state.ThreadState, step state.Step, cause error) (*state.ThreadState, error) {
	perr := newError(ErrPersistence, st.ThreadID, step, cause)
	markFailed(st, perr)
	e.logger.Error("Checkpoint write failed",
		zap.String("thread_id", st.ThreadID),
		zap.String("step", step.String()),
		zap.Error(cause),
	)
	return st, perr
}

func markFailed(st *state.ThreadState, err error) {
	st.Status = state.StatusError
	st.Error = err.Error()
	st.PendingSteps = nil
	st.Merge(state.Partial{
		Source:      state.Ptr(state.SourceError),
		FinalReport: state.Ptr(FailurePrefix + err.Error()),
	})
}

// claim writes the running state only if the checkpoint is still at version.
func (e *Engine) claim(ctx context.Context, st *state.ThreadState, version int64) error {
	cp := &checkpoint.Checkpoint{ThreadID: st.ThreadID, State: st.Clone()}
	err := e.store.PutIfVersion(context.WithoutCancel(ctx), cp, version)
	ometrics.RecordCheckpointWrite(e.backend, err)
	switch {
	case errors.Is(err, checkpoint.ErrVersionConflict):
		e.logger.Info("Resume lost the race for thread", zap.String("thread_id", st.ThreadID))
		return newError(ErrInvalidState, st.ThreadID, "", ErrThreadBusy)
	case err != nil:
		return newError(ErrPersistence, st.ThreadID, "", err)
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, st *state.ThreadState) error {
	cp := &checkpoint.Checkpoint{
		ThreadID:     st.ThreadID,
		State:        st.Clone(),
		PendingSteps: append([]state.Step(nil), st.PendingSteps...),
	}
	// a cancelled caller must not leave the last transition unwritten
	err := e.store.Put(context.WithoutCancel(ctx), cp)
	ometrics.RecordCheckpointWrite(e.backend, err)
	return err
}

// saveToCache stores the report in the background. Failures are logged and
// counted, never surfaced.
func (e *Engine) saveToCache(ctx context.Context, threadID, topic, report string) {
	if e.cache == nil {
		return
	}
	e.saves.Add(1)
	go func() {
		defer e.saves.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.saveTimeout)
		defer cancel()
		if err := e.cache.Save(sctx, topic, report); err != nil {
			ometrics.CacheSaveFailures.Inc()
			e.logger.Warn("Semantic cache save failed",
				zap.String("thread_id", threadID),
				zap.Error(err),
			)
		}
	}()
}
