package timer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/notify"
	"github.com/davidchanminpark/time-my-life/internal/schema"
)

var (
	// ErrNothingToStop is returned by Stop when no timer is running.
	// It reports a no-op, not a failure.
	ErrNothingToStop = errors.New("nothing to stop")

	// ErrAlreadyRunning is returned by Resume when a timer is running.
	ErrAlreadyRunning = errors.New("timer already running")

	// ErrCommitFailed wraps a ledger failure after the timer itself stopped.
	// The returned Session holds the time that still needs recording.
	ErrCommitFailed = errors.New("failed to commit session to ledger")
)

// Store persists the active-timer record. *store.DB implements it.
type Store interface {
	LoadActiveTimer(ctx context.Context) (*schema.ActiveTimerRecord, int, error)
	SaveActiveTimer(ctx context.Context, rec *schema.ActiveTimerRecord) error
}

// Recorder receives completed sessions. *ledger.Ledger implements it.
type Recorder interface {
	Accumulate(ctx context.Context, activityID string, day time.Time, d time.Duration) (*schema.LedgerEntry, error)
}

// Session is a completed stretch of timed work.
type Session struct {
	ActivityID string
	Day        string
	Elapsed    time.Duration
}

// State is a snapshot of the engine.
type State struct {
	Running    bool
	ActivityID string
	StartTime  time.Time
	StartDay   string
}

// Config configures an Engine. Store is required.
type Config struct {
	Store     Store
	Recorder  Recorder
	Host      ExecutionHost
	Publisher notify.Publisher
	Clock     Clock

	// Location is the calendar used to derive start days (default: time.Local)
	Location *time.Location

	// Logger for timer activity (default: stderr logger)
	Logger *log.Logger
}

// Engine is the device's timer state machine.
type Engine struct {
	store     Store
	recorder  Recorder
	host      ExecutionHost
	publisher notify.Publisher
	clock     Clock
	loc       *time.Location
	logger    *log.Logger

	mu    sync.RWMutex
	state State
}

// New creates an idle engine. Call Restore to pick up a persisted timer.
func New(cfg Config) *Engine {
	e := &Engine{
		store:     cfg.Store,
		recorder:  cfg.Recorder,
		host:      cfg.Host,
		publisher: cfg.Publisher,
		clock:     cfg.Clock,
		loc:       cfg.Location,
		logger:    cfg.Logger,
	}
	if e.host == nil {
		e.host = NopHost{}
	}
	if e.publisher == nil {
		e.publisher = notify.Nop{}
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.logger == nil {
		e.logger = log.New(os.Stderr, "[timer] ", log.LstdFlags)
	}
	return e
}

// Start begins timing activityID, filing the session under targetDay (the
// current day when zero). A running timer is stopped and committed first;
// that session is returned. If only its commit fails the new timer still
// starts and the error wraps ErrCommitFailed.
func (e *Engine) Start(ctx context.Context, activityID string, targetDay time.Time) (*Session, error) {
	if activityID == "" {
		return nil, fmt.Errorf("%w: activity id is required", schema.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var prev *Session
	var commitErr error
	wasRunning := e.state.Running
	if wasRunning {
		sess, err := e.stopLocked(ctx, false)
		switch {
		case errors.Is(err, ErrCommitFailed):
			commitErr = err
		case err != nil:
			if !e.state.Running {
				e.endHost()
			}
			return sess, err
		}
		prev = sess
	}

	now := e.clock.Now()
	if targetDay.IsZero() {
		targetDay = now
	}
	next := State{
		Running:    true,
		ActivityID: activityID,
		StartTime:  now,
		StartDay:   schema.FormatDay(targetDay, e.loc),
	}
	if err := e.persist(ctx, next); err != nil {
		if wasRunning {
			e.endHost()
		}
		return prev, errors.Join(commitErr, fmt.Errorf("failed to persist timer start: %w", err))
	}
	e.state = next

	if !wasRunning {
		e.beginHost()
	}
	e.logger.Printf("Started timer: %s (day %s)", activityID, next.StartDay)
	e.publisher.Publish(notify.Event{Type: notify.TimerStarted, Time: now, ActivityID: activityID, Day: next.StartDay})
	return prev, commitErr
}

// Stop ends the running timer and commits elapsed time to the recorder.
// Returns ErrNothingToStop when idle.
func (e *Engine) Stop(ctx context.Context) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked(ctx, true)
}

func (e *Engine) stopLocked(ctx context.Context, endHost bool) (*Session, error) {
	if !e.state.Running {
		return nil, ErrNothingToStop
	}

	now := e.clock.Now()
	sess := &Session{
		ActivityID: e.state.ActivityID,
		Day:        e.state.StartDay,
		Elapsed:    clampElapsed(now.Sub(e.state.StartTime)),
	}

	if err := e.persist(ctx, State{}); err != nil {
		return nil, fmt.Errorf("failed to persist timer stop: %w", err)
	}
	e.state = State{}

	if endHost {
		e.endHost()
	}
	e.logger.Printf("Stopped timer: %s after %s", sess.ActivityID, sess.Elapsed.Round(time.Second))
	e.publisher.Publish(notify.Event{
		Type:       notify.TimerStopped,
		Time:       now,
		ActivityID: sess.ActivityID,
		Day:        sess.Day,
		Elapsed:    sess.Elapsed,
	})

	if err := e.commit(ctx, sess); err != nil {
		return sess, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return sess, nil
}

// Commit records sess in the recorder. Use it to retry after ErrCommitFailed.
func (e *Engine) Commit(ctx context.Context, sess *Session) error {
	return e.commit(ctx, sess)
}

func (e *Engine) commit(ctx context.Context, sess *Session) error {
	if e.recorder == nil {
		return nil
	}
	day, err := schema.ParseDay(sess.Day, e.loc)
	if err != nil {
		return err
	}
	_, err = e.recorder.Accumulate(ctx, sess.ActivityID, day, sess.Elapsed)
	return err
}

// Resume reconstructs a running timer from a persisted start instant without
// moving it, so time spent while the process was gone is still counted.
func (e *Engine) Resume(ctx context.Context, activityID string, startTime time.Time, targetDay time.Time) error {
	if activityID == "" || startTime.IsZero() {
		return fmt.Errorf("%w: resume needs an activity and a start time", schema.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Running {
		return ErrAlreadyRunning
	}
	if targetDay.IsZero() {
		targetDay = startTime
	}
	next := State{
		Running:    true,
		ActivityID: activityID,
		StartTime:  startTime,
		StartDay:   schema.FormatDay(targetDay, e.loc),
	}
	if err := e.persist(ctx, next); err != nil {
		return fmt.Errorf("failed to persist timer resume: %w", err)
	}
	e.state = next
	e.beginHost()

	e.logger.Printf("Resumed timer: %s (started %s)", activityID, startTime.Format(time.RFC3339))
	e.publisher.Publish(notify.Event{Type: notify.TimerStarted, ActivityID: activityID, Day: next.StartDay})
	return nil
}

// Restore loads the persisted record and resumes it if it was running.
// An inconsistent record is reset.
func (e *Engine) Restore(ctx context.Context) (State, error) {
	rec, err := e.load(ctx)
	if err != nil {
		return State{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.applyRecordLocked(rec)
	return e.state, nil
}

// Refresh re-reads the persisted record and adopts it. Another process
// sharing the database (the CLI) may have started or stopped the timer.
func (e *Engine) Refresh(ctx context.Context) (State, error) {
	return e.Restore(ctx)
}

func (e *Engine) load(ctx context.Context) (*schema.ActiveTimerRecord, error) {
	rec, collapsed, err := e.store.LoadActiveTimer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active timer: %w", err)
	}
	if collapsed > 0 {
		e.logger.Printf("Warning: collapsed %d duplicate active timer records", collapsed)
	}
	if rec.Repair() {
		e.logger.Println("Warning: active timer record was inconsistent, reset to idle")
		if err := e.store.SaveActiveTimer(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to save repaired active timer: %w", err)
		}
	}
	return rec, nil
}

func (e *Engine) applyRecordLocked(rec *schema.ActiveTimerRecord) {
	next := State{}
	if rec.Running {
		next = State{
			Running:    true,
			ActivityID: rec.ActivityID,
			StartTime:  *rec.StartTime,
			StartDay:   rec.StartDay,
		}
		if next.StartDay == "" {
			next.StartDay = schema.FormatDay(next.StartTime, e.loc)
		}
	}

	switch {
	case next.Running && !e.state.Running:
		e.beginHost()
	case !next.Running && e.state.Running:
		e.endHost()
	}
	e.state = next
}

// Reset forces the engine to Idle without committing anything.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.persist(ctx, State{}); err != nil {
		return fmt.Errorf("failed to persist timer reset: %w", err)
	}
	wasRunning := e.state.Running
	e.state = State{}
	if wasRunning {
		e.endHost()
	}

	e.logger.Println("Timer reset")
	e.publisher.Publish(notify.Event{Type: notify.TimerReset})
	return nil
}

// CurrentElapsed returns the running session's elapsed time, or zero when
// idle. It never changes state.
func (e *Engine) CurrentElapsed() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.state.Running {
		return 0
	}
	return clampElapsed(e.clock.Now().Sub(e.state.StartTime))
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// RunTicker publishes a tick with the current elapsed time every interval
// while a timer runs, until ctx is cancelled. Each tick first refreshes from
// the store.
func (e *Engine) RunTicker(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			prev := e.State()
			state, err := e.Refresh(ctx)
			if err != nil {
				e.logger.Printf("Error refreshing timer: %v", err)
				continue
			}
			if !state.Running {
				// Stopped by another process sharing the database.
				if prev.Running {
					e.publisher.Publish(notify.Event{Type: notify.TimerStopped, ActivityID: prev.ActivityID, Day: prev.StartDay})
				}
				continue
			}
			e.publisher.Publish(notify.Event{
				Type:       notify.TimerTick,
				ActivityID: state.ActivityID,
				Day:        state.StartDay,
				Elapsed:    e.CurrentElapsed(),
			})
		}
	}
}

func (e *Engine) persist(ctx context.Context, s State) error {
	rec := &schema.ActiveTimerRecord{}
	if s.Running {
		start := s.StartTime
		rec = &schema.ActiveTimerRecord{
			ActivityID: s.ActivityID,
			StartTime:  &start,
			StartDay:   s.StartDay,
			Running:    true,
		}
	}
	return e.store.SaveActiveTimer(ctx, rec)
}

func (e *Engine) beginHost() {
	if err := e.host.Begin(); err != nil {
		e.logger.Printf("Warning: extended execution begin failed: %v", err)
	}
}

func (e *Engine) endHost() {
	if err := e.host.End(); err != nil {
		e.logger.Printf("Warning: extended execution end failed: %v", err)
	}
}

func clampElapsed(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
