package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	JobNotify          = "submission_notify"
	JobPeriodAutoLock  = "period_autolock"
	defaultQueueLength = 128
)

type RunFunc func(context.Context) (any, error)

// Service runs jobs on one background worker. Runs are recorded in job_runs
// when a database is configured.
type Service struct {
	DB     *pgxpool.Pool
	logger *zap.Logger
	queue  chan job
	now    func() time.Time
}

type job struct {
	Type string
	Run  RunFunc
}

func New(db *pgxpool.Pool, queueSize int, logger *zap.Logger) *Service {
	if queueSize <= 0 {
		queueSize = defaultQueueLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		DB:     db,
		logger: logger,
		queue:  make(chan job, queueSize),
		now:    time.Now,
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
}

// Enqueue reports false when the queue is full and the job was dropped.
func (s *Service) Enqueue(jobType string, run RunFunc) bool {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
		return true
	default:
		s.logger.Warn("job queue full", zap.String("jobType", jobType))
		return false
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run RunFunc) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				s.logger.Warn("job run failed", zap.String("jobType", j.Type), zap.Error(err))
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if s.DB != nil {
		if err := s.DB.QueryRow(ctx, `
      INSERT INTO job_runs (job_type, status)
      VALUES ($1,$2)
      RETURNING id
    `, j.Type, "running").Scan(&runID); err != nil {
			s.logger.Warn("job run insert failed", zap.Error(err))
		}
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	if runID == "" {
		return details, err
	}

	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		s.logger.Warn("job details marshal failed", zap.Error(marshalErr))
		detailsJSON = []byte("{}")
	}
	if _, updErr := s.DB.Exec(ctx, `
    UPDATE job_runs
    SET status = $1, details_json = $2, completed_at = now()
    WHERE id = $3
  `, status, detailsJSON, runID); updErr != nil {
		s.logger.Warn("job run update failed", zap.Error(updErr))
	}
	return details, err
}

// PeriodLocker locks every active period that ended before cutoff.
type PeriodLocker interface {
	LockEndedPeriods(ctx context.Context, cutoff time.Time) (int, error)
}

// SchedulePeriodAutoLock enqueues an auto-lock run every interval, locking
// periods that ended more than grace ago. A non-positive interval disables it.
func (s *Service) SchedulePeriodAutoLock(ctx context.Context, locker PeriodLocker, interval, grace time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Enqueue(JobPeriodAutoLock, autoLockRun(locker, s.now, grace))
			}
		}
	}()
}

func autoLockRun(locker PeriodLocker, now func() time.Time, grace time.Duration) RunFunc {
	return func(ctx context.Context) (any, error) {
		cutoff := now().Add(-grace)
		locked, err := locker.LockEndedPeriods(ctx, cutoff)
		return map[string]any{
			"cutoff": cutoff,
			"locked": locked,
		}, err
	}
}
