package usecase

import (
	"context"
	"log/slog"
	"time"

	"ai-orchestrator/internal/domain"
)

// SchedulerService runs the periodic task scheduler on the elected leader
// only, so every periodic task is submitted once per tick cluster-wide.
type SchedulerService struct {
	leaderManager domain.LeaderElectionManager
	scheduler     domain.Scheduler
	tasks         []domain.PeriodicTask
	nodeID        string
	retryDelay    time.Duration
	logger        *slog.Logger
}

func NewSchedulerService(leaderManager domain.LeaderElectionManager, scheduler domain.Scheduler, tasks []domain.PeriodicTask, nodeID string, logger *slog.Logger) *SchedulerService {
	return &SchedulerService{
		leaderManager: leaderManager,
		scheduler:     scheduler,
		tasks:         tasks,
		nodeID:        nodeID,
		retryDelay:    5 * time.Second,
		logger:        logger.With("component", "scheduler-service", "node_id", nodeID),
	}
}

// Start campaigns for leadership until ctx is done, running the scheduler
// for as long as this node leads.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.logger.Info("scheduler service starting")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler service shutting down")
			s.scheduler.Stop()
			return ctx.Err()
		default:
		}

		s.logger.Info("campaigning for leadership")
		lostLeadershipCh, err := s.leaderManager.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			s.logger.Error("leadership campaign failed, retrying", "error", err, "retry_in", s.retryDelay)
			select {
			case <-time.After(s.retryDelay):
			case <-ctx.Done():
			}
			continue
		}

		s.logger.Info("became leader, starting scheduler")
		done := s.runScheduler(ctx)

		select {
		case <-lostLeadershipCh:
			s.logger.Warn("leadership lost, stopping scheduler")
			s.scheduler.Stop()
			<-done
		case <-ctx.Done():
			s.scheduler.Stop()
			<-done
			return ctx.Err()
		}
	}
}

// runScheduler registers the periodic tasks and starts the scheduler. The
// returned channel is closed once the scheduler has stopped.
func (s *SchedulerService) runScheduler(ctx context.Context) <-chan struct{} {
	for _, task := range s.tasks {
		if err := s.scheduler.AddTask(task); err != nil {
			s.logger.Error("failed to schedule periodic task", "task_name", task.Name, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.scheduler.Start(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler stopped with error", "error", err)
		}
	}()
	return done
}
