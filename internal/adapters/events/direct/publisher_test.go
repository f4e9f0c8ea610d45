package direct

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/storage/memory"
)

type failingStore struct{}

func (failingStore) AppendAuditEvent(ctx context.Context, event *domain.AuditEvent) error {
	return errors.New("disk full")
}

func (failingStore) ListAuditEvents(ctx context.Context, limit int) ([]*domain.AuditEvent, error) {
	return nil, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewPublisher_NilStorage(t *testing.T) {
	_, err := NewPublisher(nil)
	if err == nil {
		t.Fatal("Expected error for nil storage")
	}
	if err.Error() != "audit store required" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestRecord(t *testing.T) {
	store := memory.New()
	publisher, err := NewPublisher(store)
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}

	ctx := domain.WithActor(context.Background(), "alice")
	publisher.Record(ctx, domain.AuditEvent{Action: "provider.create", ResourceType: "provider", ResourceID: "1"})
	publisher.Record(context.Background(), domain.AuditEvent{Action: "provider.delete", ResourceType: "provider", ResourceID: "1"})

	if err := publisher.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events, _ := store.ListAuditEvents(context.Background(), 10)
	if len(events) != 2 {
		t.Fatalf("stored %d events, want 2", len(events))
	}

	actors := map[string]string{}
	for _, e := range events {
		actors[e.Action] = e.Actor
		if e.Timestamp.IsZero() {
			t.Errorf("event %s has zero timestamp", e.Action)
		}
	}
	if actors["provider.create"] != "alice" {
		t.Errorf("create actor = %q, want alice", actors["provider.create"])
	}
	if actors["provider.delete"] != domain.SystemActor {
		t.Errorf("delete actor = %q, want %q", actors["provider.delete"], domain.SystemActor)
	}
}

func TestRecord_CancelledContext(t *testing.T) {
	store := memory.New()
	publisher, _ := NewPublisher(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	publisher.Record(ctx, domain.AuditEvent{Action: "rule.set"})
	publisher.Close()

	events, _ := store.ListAuditEvents(context.Background(), 10)
	if len(events) != 1 {
		t.Errorf("stored %d events, want 1", len(events))
	}
}

func TestRecord_StorageFailureIsLogged(t *testing.T) {
	var buf lockedBuffer
	publisher, _ := NewPublisher(failingStore{}, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	publisher.Record(context.Background(), domain.AuditEvent{Action: "secret.upsert"})
	publisher.Close()

	out := buf.String()
	if !strings.Contains(out, "failed to write audit event") || !strings.Contains(out, "disk full") {
		t.Errorf("expected logged failure, got %q", out)
	}
}

func TestRecord_AfterClose(t *testing.T) {
	store := memory.New()
	var buf lockedBuffer
	publisher, _ := NewPublisher(store, WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	publisher.Close()

	publisher.Record(context.Background(), domain.AuditEvent{Action: "late"})

	events, _ := store.ListAuditEvents(context.Background(), 10)
	if len(events) != 0 {
		t.Errorf("stored %d events after close, want 0", len(events))
	}
	if !strings.Contains(buf.String(), "dropping event") {
		t.Errorf("expected drop warning, got %q", buf.String())
	}
}
