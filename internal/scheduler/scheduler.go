package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	commonerrors "memberdeals-notifications/internal/common/errors"
	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/common/metrics"
)

// JobFunc is one run of a periodic job. The scheduler owns recovery: a
// returned error or a panic is logged and counted, and never affects other
// jobs or future runs of the same job.
type JobFunc func(ctx context.Context) error

// Schedule decides when a job runs next.
type Schedule interface {
	Next(after time.Time) time.Time
	Describe() string
}

// Every runs a job on a fixed interval.
type Every struct {
	Interval time.Duration
}

func (e Every) Next(after time.Time) time.Time { return after.Add(e.Interval) }
func (e Every) Describe() string               { return fmt.Sprintf("every %s", e.Interval) }

// DailyAt runs a job once a day at the given hour (UTC).
type DailyAt struct {
	Hour int
}

func (d DailyAt) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), d.Hour, 0, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (d DailyAt) Describe() string { return fmt.Sprintf("daily at %02d:00 UTC", d.Hour) }

// MonthlyOn runs a job once a month on the given day at the given hour
// (UTC). Days past a month's end clamp to its last day.
type MonthlyOn struct {
	Day  int
	Hour int
}

func (m MonthlyOn) Next(after time.Time) time.Time {
	next := monthlyAt(after.Year(), after.Month(), m.Day, m.Hour)
	if !next.After(after) {
		next = monthlyAt(after.Year(), after.Month()+1, m.Day, m.Hour)
	}
	return next
}

func monthlyAt(year int, month time.Month, day, hour int) time.Time {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func (m MonthlyOn) Describe() string {
	return fmt.Sprintf("monthly on day %d at %02d:00 UTC", m.Day, m.Hour)
}

// JobStatus is the administrative view of one registered job.
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	IsRunning bool       `json:"isRunning"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
}

type job struct {
	name     string
	schedule Schedule
	fn       JobFunc

	mu      sync.Mutex
	running bool
	lastRun *time.Time
	stop    chan struct{}
}

// Scheduler owns a fixed registry of named periodic jobs, each on its own
// goroutine. Jobs are registered before Start and never removed.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*job
	byName map[string]*job
	wg     sync.WaitGroup
	logger logger.Logger
}

func New(log logger.Logger) *Scheduler {
	return &Scheduler{
		byName: make(map[string]*job),
		logger: log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

// Register adds a named job. Registering a duplicate name replaces nothing
// and returns an error.
func (s *Scheduler) Register(name string, schedule Schedule, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	j := &job{name: name, schedule: schedule, fn: fn}
	s.jobs = append(s.jobs, j)
	s.byName[name] = j
	return nil
}

// StartAll launches every registered job that is not already running.
func (s *Scheduler) StartAll() {
	s.mu.Lock()
	jobs := make([]*job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, j := range jobs {
		s.startJob(j)
	}
}

// Start launches one job by name.
func (s *Scheduler) Start(name string) error {
	j, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.startJob(j)
	return nil
}

// Stop halts one job by name. The current run, if any, completes.
func (s *Scheduler) Stop(name string) error {
	j, err := s.lookup(name)
	if err != nil {
		return err
	}
	s.stopJob(j)
	return nil
}

// StopAll halts every running job and waits for their loops to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	jobs := make([]*job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	for _, j := range jobs {
		s.stopJob(j)
	}
	s.wg.Wait()
}

// RunNow triggers one synchronous run of a job, independent of its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, err := s.lookup(name)
	if err != nil {
		return err
	}
	return s.runOnce(ctx, j)
}

// Status reports every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		status := JobStatus{
			Name:      j.name,
			Schedule:  j.schedule.Describe(),
			IsRunning: j.running,
			LastRun:   j.lastRun,
		}
		j.mu.Unlock()
		out = append(out, status)
	}
	return out
}

func (s *Scheduler) lookup(name string) (*job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %q", name)
	}
	return j, nil
}

func (s *Scheduler) startJob(j *job) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return
	}
	j.running = true
	j.stop = make(chan struct{})
	stop := j.stop
	j.mu.Unlock()

	s.wg.Add(1)
	go s.loop(j, stop)

	s.logger.Info("job started", map[string]interface{}{
		"job":      j.name,
		"schedule": j.schedule.Describe(),
	})
}

func (s *Scheduler) stopJob(j *job) {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	close(j.stop)
	j.mu.Unlock()

	s.logger.Info("job stopped", map[string]interface{}{"job": j.name})
}

func (s *Scheduler) loop(j *job, stop chan struct{}) {
	defer s.wg.Done()

	for {
		next := j.schedule.Next(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			// failures are logged inside runOnce; the loop keeps its schedule
			s.runOnce(context.Background(), j)
		}
	}
}

// runOnce executes a single job run under the recovery guard.
func (s *Scheduler) runOnce(ctx context.Context, j *job) (runErr error) {
	started := time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			runErr = commonerrors.NewSchedulerJobError(j.name, fmt.Errorf("panic: %v", r))
		}
		result := "success"
		if runErr != nil {
			result = "failure"
			s.logger.Error("job run failed", map[string]interface{}{
				"job":   j.name,
				"error": runErr.Error(),
			})
		}
		metrics.SchedulerJobRuns.WithLabelValues(j.name, result).Inc()

		j.mu.Lock()
		t := started
		j.lastRun = &t
		j.mu.Unlock()
	}()

	if err := j.fn(ctx); err != nil {
		return commonerrors.NewSchedulerJobError(j.name, err)
	}
	return nil
}
