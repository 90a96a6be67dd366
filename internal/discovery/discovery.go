// internal/discovery/discovery.go
package discovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"ai-orchestrator/internal/domain"
)

// WorkerDiscovery tracks the workers registered under {prefix}/workers/.
type WorkerDiscovery struct {
	client  *clientv3.Client
	dir     string
	logger  *slog.Logger
	workers map[string]domain.WorkerInfo // keyed by etcd key
	mu      sync.RWMutex
}

var _ domain.WorkerDirectory = (*WorkerDiscovery)(nil)

// NewWorkerDiscovery creates a new discovery service.
func NewWorkerDiscovery(client *clientv3.Client, prefix string, logger *slog.Logger) *WorkerDiscovery {
	return &WorkerDiscovery{
		client:  client,
		dir:     path.Join(prefix, "workers") + "/",
		logger:  logger.With("component", "worker-discovery"),
		workers: make(map[string]domain.WorkerInfo),
	}
}

// WatchWorkers loads the current registrations and follows changes until
// ctx is done. It blocks and should be run in a goroutine.
func (d *WorkerDiscovery) WatchWorkers(ctx context.Context) {
	d.logger.Info("starting to watch for workers")

	rev, err := d.loadInitialWorkers(ctx)
	if err != nil {
		d.logger.Error("failed to perform initial worker load", "error", err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	for watchResp := range d.client.Watch(ctx, d.dir, opts...) {
		for _, event := range watchResp.Events {
			key := string(event.Kv.Key)
			switch event.Type {
			case clientv3.EventTypePut:
				d.put(key, event.Kv.Value)
			case clientv3.EventTypeDelete:
				d.mu.Lock()
				d.logger.Info("worker deregistered", "id", d.workers[key].ID)
				delete(d.workers, key)
				d.mu.Unlock()
			}
		}
	}
	d.logger.Info("stopped watching for workers")
}

func (d *WorkerDiscovery) loadInitialWorkers(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, d.dir, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}
	for _, kv := range resp.Kvs {
		d.put(string(kv.Key), kv.Value)
	}
	return resp.Header.Revision, nil
}

func (d *WorkerDiscovery) put(key string, value []byte) {
	var info domain.WorkerInfo
	if err := json.Unmarshal(value, &info); err != nil {
		d.logger.Warn("ignoring malformed worker registration", "key", key, "error", err)
		return
	}
	if info.ID == "" {
		info.ID = strings.TrimPrefix(key, d.dir)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[key]; !ok {
		d.logger.Info("worker discovered", "id", info.ID, "queues", info.Queues)
	}
	d.workers[key] = info
}

// Workers returns a snapshot of the registered workers, sorted by ID.
func (d *WorkerDiscovery) Workers() []domain.WorkerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]domain.WorkerInfo, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Static is a fixed directory, used when workers run in-process.
type Static []domain.WorkerInfo

func (s Static) Workers() []domain.WorkerInfo {
	return append([]domain.WorkerInfo(nil), s...)
}

// ByQueue groups worker IDs by the queues they consume.
func ByQueue(workers []domain.WorkerInfo) map[string][]string {
	out := make(map[string][]string)
	for _, w := range workers {
		for _, q := range w.Queues {
			out[q] = append(out[q], w.ID)
		}
	}
	for q := range out {
		sort.Strings(out[q])
	}
	return out
}
