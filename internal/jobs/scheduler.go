// Package jobs runs the server's periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs named jobs on cron specs. A job still running when its
// next tick arrives is skipped, and a panicking job is recovered.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	log     zerolog.Logger
	runs    *prometheus.CounterVec
	timeout time.Duration
}

// New creates a scheduler. runs may be nil.
func New(log zerolog.Logger, runs *prometheus.CounterVec) *Scheduler {
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(log.WithContext(context.Background()))
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
		runs:    runs,
		timeout: 10 * time.Minute,
	}
}

// Add schedules fn under name. spec accepts standard five-field cron
// expressions and descriptors such as "@hourly" or "@every 5m".
func (s *Scheduler) Add(name, spec string, fn func(context.Context) error) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	log := s.log.With().Str("job", name).Dur("duration", time.Since(start)).Logger()

	result := "ok"
	if err != nil {
		result = "error"
		log.Error().Err(err).Msg("job failed")
	} else {
		log.Debug().Msg("job finished")
	}
	if s.runs != nil {
		s.runs.WithLabelValues(name, result).Inc()
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

func loggerFrom(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}
