package pipeline

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"weather-pipeline/pkg/logging"
)

// PipelineRunner runs one full pipeline pass
type PipelineRunner interface {
	Run(ctx context.Context) (*RunReport, error)
}

// cronLogger adapts the structured logger to cron's logging interface
type cronLogger struct {
	logger *logging.StructuredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(context.Background(), "[SCHEDULER] "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(context.Background(), "[SCHEDULER] "+msg, kvFields(keysAndValues), err)
}

func kvFields(keysAndValues []interface{}) logging.Fields {
	fields := logging.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

// Scheduler triggers pipeline runs on a cron schedule. A tick that fires
// while a run is still in progress is skipped.
type Scheduler struct {
	cron   *cron.Cron
	job    cron.Job
	spec   string
	runner PipelineRunner
	logger *logging.StructuredLogger
	ctx    context.Context
}

// NewScheduler validates spec and prepares the cron entry
func NewScheduler(spec string, runner PipelineRunner, logger *logging.StructuredLogger) (*Scheduler, error) {
	l := cronLogger{logger: logger}
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l))),
		spec:   spec,
		runner: runner,
		logger: logger,
		ctx:    context.Background(),
	}
	s.job = cron.NewChain(cron.SkipIfStillRunning(l)).Then(cron.FuncJob(s.tick))

	if _, err := s.cron.AddJob(spec, s.job); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	report, err := s.runner.Run(s.ctx)
	if err != nil {
		// The runner already logged the failure; the next tick retries.
		return
	}
	if !report.Succeeded() {
		s.logger.Warn(s.ctx, "[SCHEDULER] Run finished with failed files", logging.Fields{
			"run_id":       report.RunID,
			"files_failed": report.Ingestion.FilesFailed,
		})
	}
}

// Start begins firing the schedule. Runs use ctx, so cancelling it aborts
// an in-flight run.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.Info(ctx, "[SCHEDULER] Scheduler started", logging.Fields{"schedule": s.spec})
	s.cron.Start()
}

// Stop halts the schedule and waits for a running job to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info(context.Background(), "[SCHEDULER] Scheduler stopped", nil)
}

// Trigger runs the job immediately, subject to the same overlap guard as
// scheduled ticks.
func (s *Scheduler) Trigger() {
	s.job.Run()
}
