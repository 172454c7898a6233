/*
scheduler.go - Background batch jobs

PURPOSE:
  Periodically runs the hours bank batches:
    finalize-day      close yesterday for every active user
    recovery-sweep    book due recoveries
    monthly-accrual   vacation and permission accrual for the current month
    year-carryover    carry last year's balances into this one (January)

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Every job derives a run key from the current time (the date, the
    month, the hour). A key that already completed is skipped, a failed
    one is retried on the next tick.
  - A job holds a named lock while it runs. With the Redis locker only one
    replica runs a job at a time; a held lock means skip, not wait.
  - Runs are recorded through JobRunStore for audit (GET /api/admin/jobs)

USAGE:
  scheduler := NewScheduler(service, store, lock.NewLocal(), logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - attendance/daily.go, recovery.go, accrual.go: the batches
  - store/sqlite/attendance.go: job_runs
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/generic"
)

// JobLocker is satisfied by lock.Local and lock.Redis.
type JobLocker interface {
	TryLock(ctx context.Context, key string) (func(), error)
}

// Job is one scheduled batch. RunKey returns false when the job is not
// due at now.
type Job struct {
	Name   string
	RunKey func(now time.Time) (string, bool)
	Run    func(ctx context.Context, now time.Time) (attendance.BatchSummary, error)
}

// JobResult describes one attempt.
type JobResult struct {
	Job     string
	RunKey  string
	Ran     bool
	Reason  string // why it did not run
	Summary attendance.BatchSummary
	Err     error
}

type Scheduler struct {
	Service       *attendance.Service
	Runs          JobRunStore
	Locker        JobLocker
	Logger        logrus.FieldLogger
	CheckInterval time.Duration
	Enabled       bool

	jobs   []Job
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewScheduler(svc *attendance.Service, runs JobRunStore, locker JobLocker, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Scheduler{
		Service:       svc,
		Runs:          runs,
		Locker:        locker,
		Logger:        logger.WithField("module", "scheduler"),
		CheckInterval: time.Hour,
		Enabled:       true,
		stop:          make(chan struct{}),
	}
	s.jobs = DefaultJobs(svc)
	return s
}

// DefaultJobs are the hours bank batches.
func DefaultJobs(svc *attendance.Service) []Job {
	loc := svc.Location()
	return []Job{
		{
			Name: "finalize-day",
			RunKey: func(now time.Time) (string, bool) {
				return generic.DateOf(now, loc).AddDays(-1).String(), true
			},
			Run: func(ctx context.Context, now time.Time) (attendance.BatchSummary, error) {
				return svc.FinalizeAll(ctx, generic.DateOf(now, loc).AddDays(-1))
			},
		},
		{
			Name: "recovery-sweep",
			RunKey: func(now time.Time) (string, bool) {
				return now.In(loc).Format("2006-01-02T15"), true
			},
			Run: func(ctx context.Context, _ time.Time) (attendance.BatchSummary, error) {
				return svc.SweepRecoveries(ctx)
			},
		},
		{
			Name: "monthly-accrual",
			RunKey: func(now time.Time) (string, bool) {
				return now.In(loc).Format("2006-01"), true
			},
			Run: func(ctx context.Context, now time.Time) (attendance.BatchSummary, error) {
				local := now.In(loc)
				return svc.RunMonthlyAccrual(ctx, local.Year(), local.Month())
			},
		},
		{
			Name: "year-carryover",
			RunKey: func(now time.Time) (string, bool) {
				local := now.In(loc)
				return fmt.Sprintf("%d", local.Year()-1), local.Month() == time.January
			},
			Run: func(ctx context.Context, now time.Time) (attendance.BatchSummary, error) {
				sum, err := svc.RunCarryover(ctx, now.In(loc).Year()-1)
				return sum.BatchSummary, err
			},
		},
	}
}

// Jobs returns the configured jobs.
func (s *Scheduler) Jobs() []Job { return s.jobs }

// SetJobs replaces the job list. Call before Start.
func (s *Scheduler) SetJobs(jobs []Job) { s.jobs = jobs }

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	s.Logger.WithField("interval", s.CheckInterval.String()).Info("scheduler started")
}

// Stop stops the scheduler and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow runs every due job once, in order.
func (s *Scheduler) RunNow(ctx context.Context) []JobResult {
	now := s.Service.Now()
	results := make([]JobResult, 0, len(s.jobs))
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			break
		}
		results = append(results, s.runJob(ctx, job, now))
	}
	return results
}

func (s *Scheduler) runJob(ctx context.Context, job Job, now time.Time) JobResult {
	res := JobResult{Job: job.Name}
	key, due := job.RunKey(now)
	res.RunKey = key
	if !due {
		res.Reason = "not due"
		return res
	}
	log := s.Logger.WithFields(logrus.Fields{"job": job.Name, "run_key": key})

	unlock, err := s.Locker.TryLock(ctx, "job:"+job.Name)
	if err != nil {
		if errors.Is(err, generic.ErrConcurrentModification) {
			res.Reason = "held by another runner"
			log.Debug("job lock held elsewhere")
			return res
		}
		res.Err = err
		log.WithError(err).Error("failed to take job lock")
		return res
	}
	defer unlock()

	claimed, err := s.Runs.BeginJobRun(ctx, uuid.NewString(), job.Name, key)
	if err != nil {
		res.Err = err
		log.WithError(err).Error("failed to record job run")
		return res
	}
	if !claimed {
		res.Reason = "already done"
		return res
	}

	res.Ran = true
	res.Summary, res.Err = job.Run(ctx, now)
	if err := s.Runs.FinishJobRun(ctx, job.Name, key, res.Summary.Processed, res.Summary.Skipped, res.Summary.Failed, res.Err); err != nil {
		log.WithError(err).Error("failed to update job run")
	}

	entry := log.WithFields(logrus.Fields{
		"processed": res.Summary.Processed,
		"skipped":   res.Summary.Skipped,
		"failed":    res.Summary.Failed,
	})
	if res.Err != nil {
		entry.WithError(res.Err).Error("job failed")
	} else {
		entry.Info("job completed")
	}
	return res
}
