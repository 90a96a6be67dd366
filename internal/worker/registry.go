// internal/worker/registry.go
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	clientv3 "go.etcd.io/etcd/client/v3"

	"ai-orchestrator/internal/domain"
)

// WorkersDir is the directory under the key prefix where workers register.
const WorkersDir = "workers"

// RegistryKey returns the etcd key holding the registration of workerID.
func RegistryKey(prefix, workerID string) string {
	return path.Join(prefix, WorkersDir, workerID)
}

// Registry handles the registration of a worker in etcd.
type Registry struct {
	client  *clientv3.Client
	prefix  string
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
}

// NewRegistry creates a new worker registry.
func NewRegistry(client *clientv3.Client, prefix string, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "worker-registry"),
	}
}

// Register publishes info under a lease with the given TTL in seconds and
// keeps the lease alive until Deregister or process exit.
func (r *Registry) Register(ctx context.Context, info domain.WorkerInfo, ttl int64) error {
	r.key = RegistryKey(r.prefix, info.ID)
	value, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal worker info: %w", err)
	}

	leaseResp, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	if _, err = r.client.Put(ctx, r.key, string(value), clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put worker registration key: %w", err)
	}

	keepAliveCh, err := r.client.KeepAlive(context.Background(), r.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	go func() {
		for {
			// A closed channel means the lease was revoked or expired.
			ka, ok := <-keepAliveCh
			if !ok {
				r.logger.Warn("keep-alive channel closed, worker registration may have expired")
				return
			}
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
	}()

	r.logger.Info("worker registered", "key", r.key, "queues", info.Queues)
	return nil
}

// Deregister removes the worker's registration from etcd.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering worker", "key", r.key)
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
