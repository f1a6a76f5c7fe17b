// Package scheduler fires the weekly fleet sync and writes its summary.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcal/internal/bus"
	"github.com/matheus3301/wppcal/internal/config"
	wsync "github.com/matheus3301/wppcal/internal/sync"
)

// Lookback is the window each weekly run covers, ending at the fire time.
const Lookback = 7 * 24 * time.Hour

// FleetRunner runs a fleet sync over a window.
type FleetRunner interface {
	SyncAllMarked(ctx context.Context, from, to time.Time) (*wsync.FleetReport, error)
}

// Scheduler owns the weekly cron entry. Runs missed while the daemon was
// down are not made up.
type Scheduler struct {
	runner    FleetRunner
	reportDir string
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	expr    string
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a scheduler that writes summaries under reportDir.
func New(runner FleetRunner, reportDir string, b *bus.Bus, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:    runner,
		reportDir: reportDir,
		bus:       b,
		logger:    logger,
		now:       time.Now,
		cron: cron.New(
			cron.WithLocation(time.Local),
			cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start schedules the weekly run with a standard five-field expression in
// local time and starts the cron loop.
func (s *Scheduler) Start(expr string) error {
	if err := s.Reschedule(expr); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.cron.Start()
		s.started = true
	}
	return nil
}

// Reschedule replaces the weekly entry. An unchanged expression is a no-op.
func (s *Scheduler) Reschedule(expr string) error {
	sched, err := config.ParseCron(expr)
	if err != nil {
		return &config.Error{Field: "WEEKLY_RUN_CRON", Reason: err.Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if expr == s.expr && s.entry != 0 {
		return nil
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry = s.cron.Schedule(sched, cron.FuncJob(s.fire))
	s.expr = expr
	s.logger.Info("weekly run scheduled", zap.String("cron", expr), zap.Time("next", sched.Next(s.now())))
	return nil
}

// Next returns the next fire time, or zero when nothing is scheduled.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 {
		return time.Time{}
	}
	e := s.cron.Entry(s.entry)
	if !e.Next.IsZero() {
		return e.Next
	}
	return e.Schedule.Next(s.now())
}

// Stop halts the cron loop and cancels a run in progress between chats.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if started {
		<-s.cron.Stop().Done()
	}
}

func (s *Scheduler) fire() {
	if _, err := s.RunNow(s.ctx); err != nil {
		s.logger.Error("weekly run failed", zap.Error(err))
	}
}

// RunNow runs the weekly job immediately over [now-7d, now] and writes the
// summary. The summary is returned whenever the fleet produced a report,
// even when the run itself failed.
func (s *Scheduler) RunNow(ctx context.Context) (*WeeklySummary, error) {
	now := s.now()
	to := now.UTC()
	from := to.Add(-Lookback)
	s.logger.Info("weekly run starting", zap.Time("from", from), zap.Time("to", to))

	report, runErr := s.runner.SyncAllMarked(ctx, from, to)
	if report == nil {
		return nil, runErr
	}
	summary := Summarize(report, now)
	path, err := WriteSummary(s.reportDir, summary)
	if err != nil {
		return &summary, fmt.Errorf("weekly summary: %w", err)
	}

	fields := []zap.Field{
		zap.String("run_id", summary.RunID),
		zap.String("report", path),
		zap.Int("chats", summary.Totals.Chats),
		zap.Int("failed", summary.Totals.Failed),
		zap.Int("events_created", summary.Totals.Events),
	}
	for _, b := range []string{BucketHigh, BucketMedium, BucketLow} {
		fields = append(fields, zap.Int("events_"+b, summary.ByPriority[b].Events))
	}
	s.logger.Info("weekly summary written", fields...)
	s.bus.Emit(bus.KindWeeklyReport, path)
	return &summary, runErr
}
