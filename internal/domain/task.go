// internal/domain/task.go
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskState is the externally visible state of a submitted task.
// It is a closed set: no other values are ever reported.
type TaskState string

const (
	TaskStatePending TaskState = "PENDING"
	TaskStateSuccess TaskState = "SUCCESS"
	TaskStateFailure TaskState = "FAILURE"
)

// TaskMessage is the unit of work written to a queue. It is the wire
// contract between the router and the workers, serialized as JSON.
type TaskMessage struct {
	ID          string         `json:"id"`
	TaskName    string         `json:"task_name"`
	Args        []any          `json:"args"`
	Kwargs      map[string]any `json:"kwargs"`
	Queue       string         `json:"queue"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Validate checks if the task message can be published.
func (m *TaskMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("task message ID cannot be empty")
	}
	if m.TaskName == "" {
		return fmt.Errorf("task name cannot be empty")
	}
	if m.Queue == "" {
		return fmt.Errorf("task queue cannot be empty")
	}
	return nil
}

// TaskTicket is returned immediately when a task is enqueued.
type TaskTicket struct {
	TaskID string    `json:"task_id"`
	Status TaskState `json:"status"`
}

// NewTaskTicket returns the provisional ticket for a freshly submitted task.
func NewTaskTicket(taskID string) TaskTicket {
	return TaskTicket{TaskID: taskID, Status: TaskStatePending}
}

// TaskStatus is the resolved state of a ticket. Result is set only on
// SUCCESS, Error only on FAILURE; both marshal as null otherwise.
type TaskStatus struct {
	TaskID string          `json:"task_id"`
	Status TaskState       `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`

	// Kind classifies a FAILURE. It is not part of the wire format.
	Kind ErrorKind `json:"-"`
}

// TaskResult is the completion record a worker stores in the broker's
// result backend. The broker owns it; this service never persists it.
type TaskResult struct {
	TaskID      string          `json:"task_id"`
	TaskName    string          `json:"task_name"`
	Successful  bool            `json:"successful"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Validate checks if the result record is well formed.
func (r *TaskResult) Validate() error {
	if r.TaskID == "" {
		return fmt.Errorf("task result ID cannot be empty")
	}
	if r.Successful && r.Error != "" {
		return fmt.Errorf("successful task result %s cannot carry an error", r.TaskID)
	}
	if !r.Successful && r.Error == "" {
		return fmt.Errorf("failed task result %s must carry an error message", r.TaskID)
	}
	return nil
}

// Task names served by the workers.
const (
	TaskGenerateProductDescription = "text.generate_product_description"
	TaskProcessAnimationScript     = "text.process_animation_script"
	TaskSimpleTest                 = "text.simple_test_task"
	TaskProcessProductImage        = "vision.process_product_image"
	TaskAnalyzeSprite              = "vision.analyze_sprite"
	TaskMonitorSpritesDirectory    = "vision.monitor_sprites_directory"
)
