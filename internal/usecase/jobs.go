package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"AIFlash/internal/domain"
	"AIFlash/internal/metrics"
	"AIFlash/internal/ports"
)

const defaultHistorySize = 20

// ErrUnknownJob is returned when a trigger names a job that was never registered.
var ErrUnknownJob = errors.New("unknown job")

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) (domain.JobResult, error)

// JobSchedulerDeps wires the tick driver and observability.
type JobSchedulerDeps struct {
	Driver      ports.Scheduler
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Location    *time.Location
	HistorySize int
	Now         func() time.Time
}

// JobScheduler runs registered jobs on their schedules and on demand.
// Runs of the same job never overlap; different jobs are independent.
type JobScheduler struct {
	driver  ports.Scheduler
	metrics *metrics.Metrics
	logger  *slog.Logger
	loc     *time.Location
	keep    int
	now     func() time.Time
	parser  cron.Parser

	mu    sync.RWMutex
	jobs  map[string]*scheduledJob
	order []string
}

type scheduledJob struct {
	name     string
	expr     string
	schedule cron.Schedule
	fn       JobFunc

	// run serializes scheduled and manual executions.
	run sync.Mutex

	state       domain.JobState
	lastState   domain.JobState
	lastRun     time.Time
	lastSuccess time.Time
	lastError   string
	next        time.Time
	history     []domain.JobRun
}

// NewJobScheduler constructs an empty scheduler.
func NewJobScheduler(deps JobSchedulerDeps) *JobScheduler {
	s := &JobScheduler{
		driver:  deps.Driver,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		loc:     deps.Location,
		keep:    deps.HistorySize,
		now:     deps.Now,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:    make(map[string]*scheduledJob),
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.keep <= 0 {
		s.keep = defaultHistorySize
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Register adds a job. An empty expression registers it for manual triggers only.
func (s *JobScheduler) Register(name, expr string, fn JobFunc) error {
	if name == "" || fn == nil {
		return errors.New("register job: name and function are required")
	}

	j := &scheduledJob{name: name, expr: expr, fn: fn, state: domain.JobIdle}
	if expr != "" {
		schedule, err := s.parser.Parse(expr)
		if err != nil {
			return fmt.Errorf("parse schedule %q for %s: %w", expr, name, err)
		}
		j.schedule = schedule
		j.next = schedule.Next(s.now().In(s.loc))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("register job: %s already registered", name)
	}
	s.jobs[name] = j
	s.order = append(s.order, name)

	s.debug("job registered", "job", name, "schedule", expr)
	return nil
}

// Start hands the tick loop to the driver.
func (s *JobScheduler) Start(ctx context.Context) error {
	if s.driver == nil {
		return errors.New("job scheduler has no driver")
	}
	s.info("scheduler started", "jobs", len(s.order))
	return s.driver.Start(ctx, func(t time.Time) {
		s.RunDue(ctx, t)
	})
}

// Stop tears down the driver. A run in progress finishes on its own.
func (s *JobScheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// RunDue runs every job whose next fire time has passed, one after another.
// It returns the names of the jobs it ran.
func (s *JobScheduler) RunDue(ctx context.Context, now time.Time) []string {
	s.mu.RLock()
	var due []*scheduledJob
	for _, name := range s.order {
		j := s.jobs[name]
		if j.schedule != nil && !now.Before(j.next) {
			due = append(due, j)
		}
	}
	s.mu.RUnlock()

	ran := make([]string, 0, len(due))
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		s.mu.Lock()
		j.next = j.schedule.Next(now.In(s.loc))
		s.mu.Unlock()

		_, _ = s.execute(ctx, j, false)
		ran = append(ran, j.name)
	}
	return ran
}

// Trigger runs a job now and waits for it. A scheduled run of the same job in progress
// finishes first.
func (s *JobScheduler) Trigger(ctx context.Context, name string) (domain.JobResult, error) {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return domain.JobResult{Success: false, Message: "unknown job " + name}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, j, true)
}

// Jobs lists registered job names in registration order.
func (s *JobScheduler) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// LastSuccess reports when the named job last completed successfully.
func (s *JobScheduler) LastSuccess(name string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	if !ok || j.lastSuccess.IsZero() {
		return time.Time{}, false
	}
	return j.lastSuccess, true
}

// Status snapshots every job, sorted by name.
func (s *JobScheduler) Status() []domain.JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := domain.JobStatus{
			Name:      j.name,
			Schedule:  j.expr,
			State:     j.state,
			LastState: j.lastState,
			LastError: j.lastError,
			History:   append([]domain.JobRun(nil), j.history...),
		}
		st.LastRun = timePtr(j.lastRun)
		st.LastSuccess = timePtr(j.lastSuccess)
		if j.schedule != nil {
			st.NextRun = timePtr(j.next)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *JobScheduler) execute(ctx context.Context, j *scheduledJob, manual bool) (domain.JobResult, error) {
	j.run.Lock()
	defer j.run.Unlock()

	run := domain.JobRun{
		ID:        uuid.NewString(),
		Job:       j.name,
		Manual:    manual,
		StartedAt: s.now(),
		State:     domain.JobRunning,
	}

	s.mu.Lock()
	j.state = domain.JobRunning
	s.mu.Unlock()
	s.metrics.JobStarted()

	logger := s.logger
	if logger != nil {
		logger = logger.With("job", j.name, "run_id", run.ID)
		logger.Info("job started", "manual", manual)
	}

	result, err := invoke(ctx, j)

	run.FinishedAt = s.now()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	if err != nil {
		result.Success = false
		if result.Message == "" {
			result.Message = err.Error()
		}
		run.Error = err.Error()
	} else if !result.Success && result.Message != "" {
		run.Error = result.Message
	}
	run.Result = result
	run.State = domain.JobSucceeded
	if !result.Success {
		run.State = domain.JobFailed
	}

	s.mu.Lock()
	j.state = domain.JobIdle
	j.lastState = run.State
	j.lastRun = run.StartedAt
	if run.State == domain.JobSucceeded {
		j.lastSuccess = run.FinishedAt
		j.lastError = ""
	} else {
		j.lastError = run.Error
	}
	j.history = append(j.history, run)
	if len(j.history) > s.keep {
		j.history = j.history[len(j.history)-s.keep:]
	}
	s.mu.Unlock()
	s.metrics.JobFinished(j.name, string(run.State), run.Duration)

	if logger != nil {
		if run.State == domain.JobSucceeded {
			logger.Info("job finished", "duration", run.Duration, "message", result.Message)
		} else {
			logger.Error("job failed", "duration", run.Duration, "error", run.Error)
		}
	}

	return result, err
}

func invoke(ctx context.Context, j *scheduledJob) (result domain.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = domain.JobResult{Success: false}
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
		}
	}()
	return j.fn(ctx)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *JobScheduler) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *JobScheduler) info(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}
