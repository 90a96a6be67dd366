package discovery

import (
	"reflect"
	"testing"

	"ai-orchestrator/internal/domain"
)

func TestByQueue(t *testing.T) {
	workers := Static{
		{ID: "w2", Queues: []string{"text_queue"}},
		{ID: "w1", Queues: []string{"text_queue", "vision_queue"}},
	}
	got := ByQueue(workers.Workers())
	want := map[string][]string{
		"text_queue":   {"w1", "w2"},
		"vision_queue": {"w1"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ByQueue() = %v, want %v", got, want)
	}
}

func TestWatcherPutIgnoresMalformed(t *testing.T) {
	d := &WorkerDiscovery{dir: "/orchestrator/workers/", logger: discardLogger(), workers: map[string]domain.WorkerInfo{}}
	d.put("/orchestrator/workers/w1", []byte(`{"queues":["text_queue"]}`))
	d.put("/orchestrator/workers/w2", []byte(`not json`))

	got := d.Workers()
	if len(got) != 1 || got[0].ID != "w1" {
		t.Fatalf("Workers() = %+v, want only w1 with ID taken from the key", got)
	}
}
