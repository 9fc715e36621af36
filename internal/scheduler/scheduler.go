package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/config"
)

// TaskHandler is the unit of work run on a schedule
type TaskHandler interface {
	Execute(ctx context.Context) error
	Name() string
}

// Scheduler runs periodic maintenance tasks
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	runs     map[string]int64
	failures map[string]int64
}

// NewScheduler creates a scheduler with second precision in UTC
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		logger:   logger.Named("scheduler"),
		timeout:  10 * time.Minute,
		runs:     make(map[string]int64),
		failures: make(map[string]int64),
	}
}

// AddTask registers handler under a six-field cron spec. A run still in
// progress when the next one is due is skipped.
func (s *Scheduler) AddTask(spec string, handler TaskHandler) error {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.execute(handler)
	}))

	if _, err := s.cron.AddJob(spec, job); err != nil {
		return errors.Wrapf(err, "failed to schedule task %s", handler.Name())
	}

	s.logger.Info("Task scheduled", zap.String("task", handler.Name()), zap.String("schedule", spec))
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", zap.Int("tasks", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop stops the scheduler and waits for running tasks to finish
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Runs returns how many times a task has run and how many of those failed
func (s *Scheduler) Runs(name string) (runs, failures int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[name], s.failures[name]
}

func (s *Scheduler) execute(handler TaskHandler) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := handler.Execute(ctx)

	s.mu.Lock()
	s.runs[handler.Name()]++
	if err != nil {
		s.failures[handler.Name()]++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled task failed",
			zap.String("task", handler.Name()),
			zap.Duration("execution_time", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled task completed",
		zap.String("task", handler.Name()),
		zap.Duration("execution_time", time.Since(start)))
}

// OverdueSweeper persists OVERDUE for pending citations past their due date
type OverdueSweeper interface {
	SweepOverdue(ctx context.Context, limit int) (int, error)
}

// OverdueSweepHandler drains past-due citations in batches
type OverdueSweepHandler struct {
	sweeper   OverdueSweeper
	batchSize int
	logger    *zap.Logger
}

// NewOverdueSweepHandler creates the overdue sweep task
func NewOverdueSweepHandler(sweeper OverdueSweeper, cfg config.SchedulerConfig, logger *zap.Logger) *OverdueSweepHandler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &OverdueSweepHandler{
		sweeper:   sweeper,
		batchSize: batchSize,
		logger:    logger.Named("overdue_sweep"),
	}
}

func (h *OverdueSweepHandler) Name() string { return "overdue_sweep" }

// Execute sweeps batch after batch until one comes back short
func (h *OverdueSweepHandler) Execute(ctx context.Context) error {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := h.sweeper.SweepOverdue(ctx, h.batchSize)
		total += n
		if err != nil {
			return errors.Wrapf(err, "overdue sweep stopped after %d citations", total)
		}
		if n < h.batchSize {
			break
		}
	}

	if total > 0 {
		h.logger.Info("Marked citations overdue", zap.Int("count", total))
	}
	return nil
}
