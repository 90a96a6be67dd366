// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ai-orchestrator/internal/domain"
)

// Parser accepts standard five-field specs, an optional leading seconds
// field and descriptors such as "@every 30s".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Submitter enqueues a task.
type Submitter interface {
	Submit(ctx context.Context, taskName string, args []any, kwargs map[string]any, queue string) (string, error)
}

// cronScheduler only triggers submissions; workers run the tasks.
type cronScheduler struct {
	cron      *cron.Cron
	submitter Submitter
	logger    *slog.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	entries map[string]cron.EntryID
	stop    chan struct{}
}

// NewCronScheduler creates a scheduler submitting through submitter.
func NewCronScheduler(submitter Submitter, logger *slog.Logger) domain.Scheduler {
	return &cronScheduler{
		cron:      cron.New(cron.WithParser(Parser)),
		submitter: submitter,
		entries:   make(map[string]cron.EntryID),
		stop:      make(chan struct{}),
		logger:    logger.With("component", "cron-scheduler"),
		tracer:    otel.Tracer("ai-orchestrator-scheduler"),
	}
}

// Start runs the schedule until ctx is done or Stop is called. A Stop that
// races ahead of Start still ends the run.
func (s *cronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.stop == stop {
			select {
			case <-stop:
				s.stop = make(chan struct{})
			default:
			}
		}
		s.mu.Unlock()
	}()

	s.logger.Info("cron scheduler started")
	s.cron.Start()
	select {
	case <-ctx.Done():
	case <-stop:
	}
	s.logger.Info("cron scheduler stopping...")
	<-s.cron.Stop().Done()
	s.logger.Info("cron scheduler stopped")
	return ctx.Err()
}

func (s *cronScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// AddTask schedules task, replacing an earlier task of the same name.
func (s *cronScheduler) AddTask(task domain.PeriodicTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[task.Name]; ok {
		s.cron.Remove(entryID)
	}

	job := &submitJob{
		task:      task,
		submitter: s.submitter,
		logger:    s.logger.With("task_name", task.Name),
		tracer:    s.tracer,
	}
	entryID, err := s.cron.AddJob(task.Schedule, job)
	if err != nil {
		s.logger.Error("failed to add task to cron", "task_name", task.Name, "error", err)
		return err
	}

	s.entries[task.Name] = entryID
	s.logger.Info("added periodic task", "task_name", task.Name, "schedule", task.Schedule)
	return nil
}

// RemoveTask unschedules the task called name.
func (s *cronScheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
		s.logger.Info("removed periodic task", "task_name", name)
	}
	return nil
}

type submitJob struct {
	task      domain.PeriodicTask
	submitter Submitter
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Run is called by the cron library on every tick.
func (j *submitJob) Run() {
	ctx, span := j.tracer.Start(context.Background(), "scheduler.Submit",
		trace.WithAttributes(attribute.String("task.name", j.task.Name)))
	defer span.End()

	taskID, err := j.submitter.Submit(ctx, j.task.Name, j.task.Args, nil, j.task.Queue)
	if err != nil {
		j.logger.Error("failed to submit periodic task", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
		return
	}
	j.logger.Debug("periodic task submitted", "task_id", taskID)
}
