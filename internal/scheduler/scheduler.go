// Package scheduler runs background maintenance jobs on cron schedules.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of background work.
type Job interface {
	Run() error
	Name() string
}

// JobStatus describes one registered job.
type JobStatus struct {
	Name      string        `json:"name"`
	Schedule  string        `json:"schedule"`
	Next      time.Time     `json:"next"`
	LastRun   time.Time     `json:"last_run,omitzero"`
	LastError string        `json:"last_error,omitempty"`
	Duration  time.Duration `json:"duration_ns,omitempty"`
}

// Scheduler runs jobs on cron schedules with a leading seconds field.
// A job still running when its next tick arrives skips that tick.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	mu   sync.Mutex
	jobs map[cron.EntryID]*JobStatus
}

// New creates a scheduler; it does nothing until Start.
func New(log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	clog := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		log:  log,
		jobs: make(map[cron.EntryID]*JobStatus),
	}
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", s.Jobs()).Msg("Scheduler started")
}

// Stop halts scheduling and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers job under schedule, e.g. "0 0 6 * * *" (06:00 daily),
// "@hourly" or "@every 30m".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	status := &JobStatus{Name: job.Name(), Schedule: schedule}
	id, err := s.cron.AddFunc(schedule, func() { s.record(status, job) })
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.jobs[id] = status
	s.mu.Unlock()

	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("Job registered")
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Status lists registered jobs by name with their next and last runs.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.cron.Entries() {
		st, ok := s.jobs[e.ID]
		if !ok {
			continue
		}
		cp := *st
		cp.Next = e.Next
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RunNow executes job synchronously, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

func (s *Scheduler) record(status *JobStatus, job Job) {
	started := time.Now()
	err := s.run(job)

	s.mu.Lock()
	defer s.mu.Unlock()
	status.LastRun = started
	status.Duration = time.Since(started)
	status.LastError = ""
	if err != nil {
		status.LastError = err.Error()
	}
}

// run executes job and logs, rather than returns, its failure.
func (s *Scheduler) run(job Job) error {
	log := s.log.With().Str("job", job.Name()).Logger()
	log.Debug().Msg("Running job")

	started := time.Now()
	if err := job.Run(); err != nil {
		log.Error().Err(err).Dur("took", time.Since(started)).Msg("Job failed")
		return err
	}
	log.Debug().Dur("took", time.Since(started)).Msg("Job completed")
	return nil
}

// cronLogger routes cron's own messages (skipped ticks, recovered panics)
// into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
