// Package scheduler sends trading-session boundary signals on a cron schedule
// in the exchange timezone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"intradayBot/internal/ports"
)

// Controls is the part of the engine the scheduler drives.
type Controls interface {
	NewTradingDay()
	NewTradingWeek()
}

// Config holds the cron expressions (minute hour dom month dow).
type Config struct {
	DayOpen  string // Trading-day open, e.g. "30 9 * * 1-5"
	WeekOpen string // First session of the week, e.g. "30 9 * * 1"
	Location *time.Location
}

// DefaultConfig fires at 09:30 exchange time on weekdays and on Mondays.
func DefaultConfig(loc *time.Location) Config {
	return Config{
		DayOpen:  "30 9 * * 1-5",
		WeekOpen: "30 9 * * 1",
		Location: loc,
	}
}

// Scheduler manages the boundary cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	controls Controls
	logger   ports.Logger
	dayID    cron.EntryID
	weekID   cron.EntryID
}

// NewScheduler registers the day and week jobs. The week job runs before the
// day job when both fire at the same minute.
func NewScheduler(cfg Config, controls Controls, logger ports.Logger) (*Scheduler, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if controls == nil {
		return nil, errors.New("controls are required")
	}
	if cfg.Location == nil {
		return nil, fmt.Errorf("%w: scheduler location is required", ports.ErrInvalidConfig)
	}

	cl := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		controls: controls,
		logger:   logger,
	}

	var err error
	if s.weekID, err = s.cron.AddFunc(cfg.WeekOpen, s.weekOpen); err != nil {
		return nil, fmt.Errorf("%w: register week open %q: %v", ports.ErrInvalidConfig, cfg.WeekOpen, err)
	}
	if s.dayID, err = s.cron.AddFunc(cfg.DayOpen, s.dayOpen); err != nil {
		return nil, fmt.Errorf("%w: register day open %q: %v", ports.ErrInvalidConfig, cfg.DayOpen, err)
	}
	return s, nil
}

// Start starts the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(context.Background(), "Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info(context.Background(), "Scheduler stopped")
}

// Next reports when each job fires next after t.
func (s *Scheduler) Next(t time.Time) (weekOpen, dayOpen time.Time) {
	return s.cron.Entry(s.weekID).Schedule.Next(t), s.cron.Entry(s.dayID).Schedule.Next(t)
}

func (s *Scheduler) dayOpen() {
	s.controls.NewTradingDay()
	s.logger.Info(context.Background(), "Trading day boundary sent")
}

func (s *Scheduler) weekOpen() {
	s.controls.NewTradingWeek()
	s.logger.Info(context.Background(), "Trading week boundary sent")
}

// cronLogger adapts ports.Logger to cron.Logger.
type cronLogger struct {
	logger ports.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(context.Background(), "cron: "+msg, fields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(context.Background(), err, "cron: "+msg, fields(keysAndValues))
}

func fields(keysAndValues []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
