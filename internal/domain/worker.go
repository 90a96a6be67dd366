// internal/domain/worker.go
package domain

import "time"

// WorkerInfo is what a worker publishes about itself while it is alive.
type WorkerInfo struct {
	ID        string    `json:"id"`
	Hostname  string    `json:"hostname"`
	Queues    []string  `json:"queues"`
	Tasks     []string  `json:"tasks"`
	StartedAt time.Time `json:"started_at"`
}

// WorkerDirectory lists the workers currently alive.
type WorkerDirectory interface {
	Workers() []WorkerInfo
}
