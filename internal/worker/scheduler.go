// Package worker contains the aggregator workers and the interval
// scheduler that drives them.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erezos/flappyjet-backend-sub000/internal/logger"
)

// Task is one periodically executed aggregation job. RunOnce must be
// idempotent: the scheduler re-runs it on every tick and on every kick.
type Task interface {
	Name() string
	RunOnce(ctx context.Context) error
}

// JobStatus is the execution history the stats endpoint exposes. Tracking
// it as data (not just process state) is what makes restarts and
// monitoring safe: an operator can see a wedged or failing job without
// attaching to the process.
type JobStatus struct {
	Name                string     `json:"name"`
	Interval            string     `json:"interval"`
	InFlight            bool       `json:"in_flight"`
	Runs                int64      `json:"runs"`
	LastRun             *time.Time `json:"last_run,omitempty"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

type job struct {
	task     Task
	interval time.Duration
	kick     chan struct{}

	mu     sync.Mutex
	status JobStatus
}

// Scheduler runs each registered task in its own goroutine: once at
// startup, then on a fixed per-task interval, plus on-demand kicks from
// the ingest hand-off. A task never overlaps itself; kicks arriving while
// a run is in flight coalesce into at most one follow-up run.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// Add registers task to run every interval. Must be called before Start.
func (s *Scheduler) Add(task Task, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &job{
		task:     task,
		interval: interval,
		kick:     make(chan struct{}, 1),
		status: JobStatus{
			Name:     task.Name(),
			Interval: interval.String(),
		},
	}
	s.jobs[task.Name()] = j
	s.order = append(s.order, task.Name())
}

// Start launches every registered job. Each runs once immediately to catch
// up on events persisted while the process was down.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		j := s.jobs[name]
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Kick schedules an immediate run of the named job. Non-blocking: if a run
// is already pending the kick is dropped, the ticker being the correctness
// backstop.
func (s *Scheduler) Kick(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case j.kick <- struct{}{}:
	default:
	}
}

// Statuses snapshots every job's execution history, in registration order.
func (s *Scheduler) Statuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		j := s.jobs[name]
		j.mu.Lock()
		out = append(out, j.status)
		j.mu.Unlock()
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	s.runJob(ctx, j)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, j)
		case <-j.kick:
			s.runJob(ctx, j)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	started := time.Now().UTC()
	j.mu.Lock()
	j.status.InFlight = true
	j.status.LastRun = &started
	j.status.Runs++
	j.mu.Unlock()

	err := j.task.RunOnce(ctx)

	finished := time.Now().UTC()
	j.mu.Lock()
	j.status.InFlight = false
	if err != nil {
		j.status.LastError = err.Error()
		j.status.ConsecutiveFailures++
	} else {
		j.status.LastSuccess = &finished
		j.status.LastError = ""
		j.status.ConsecutiveFailures = 0
	}
	j.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		logger.Error(err, zap.String("job", j.task.Name()))
	}
}
