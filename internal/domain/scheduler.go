package domain

import "context"

// PeriodicTask is a task submitted on a fixed schedule.
type PeriodicTask struct {
	Name     string
	Schedule string
	Queue    string
	Args     []any
}

type Scheduler interface {
	Start(ctx context.Context) error
	Stop()

	AddTask(task PeriodicTask) error
	RemoveTask(name string) error
}
