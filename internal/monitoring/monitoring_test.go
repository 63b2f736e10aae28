package monitoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/store/memstore"
)

func newTestAuditEngine(clock clockid.Clock) *audit.Engine {
	return audit.NewEngine(memstore.New(), clock, &seqIDs{pre: "audit-"}, zerolog.Nop())
}

type memAlertStore struct {
	mu      sync.Mutex
	byKey   map[string]model.Alert
	created []model.Alert
}

func newMemAlertStore() *memAlertStore {
	return &memAlertStore{byKey: map[string]model.Alert{}}
}

func (s *memAlertStore) FindAlertByDedupeKey(ctx context.Context, dedupeKey string) (*model.Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byKey[dedupeKey]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (s *memAlertStore) InsertAlert(ctx context.Context, a model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[a.DedupeKey] = a
	s.created = append(s.created, a)
	return nil
}

type seqIDs struct {
	mu  sync.Mutex
	n   int
	pre string
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.pre + string(rune('0'+s.n))
}

func strp(s string) *string { return &s }

func TestProcessSecurityEventIgnoresUnmatchedSourceEvent(t *testing.T) {
	store := newMemAlertStore()
	clock := clockid.Fixed{At: time.Unix(0, 0)}
	e := NewEngine(store, nil, newTestAuditEngine(clock), clock, &seqIDs{pre: "alert-"}, nil)
	alert, err := e.ProcessSecurityEvent(context.Background(), "backup_processing_started", nil, nil, nil)
	if err != nil {
		t.Fatalf("ProcessSecurityEvent: %v", err)
	}
	if alert != nil {
		t.Fatalf("expected no alert for an unmatched source event, got %+v", alert)
	}
}

func TestProcessSecurityEventRaisesAlertAtThreshold(t *testing.T) {
	store := newMemAlertStore()
	clock := &clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := NewEngine(store, nil, newTestAuditEngine(clock), clock, &seqIDs{pre: "alert-"}, nil)
	ctx := context.Background()
	actor := strp("key-1")

	for i := 0; i < 2; i++ {
		alert, err := e.ProcessSecurityEvent(ctx, "restore_failed", actor, nil, nil)
		if err != nil {
			t.Fatalf("ProcessSecurityEvent: %v", err)
		}
		if alert != nil {
			t.Fatalf("expected no alert before threshold, got %+v", alert)
		}
	}

	alert, err := e.ProcessSecurityEvent(ctx, "restore_failed", actor, nil, nil)
	if err != nil {
		t.Fatalf("ProcessSecurityEvent: %v", err)
	}
	if alert == nil {
		t.Fatal("expected an alert once threshold is crossed")
	}
	if alert.RuleID != "RESTORE_FAILURE_SPIKE" || alert.Severity != model.AlertSeverityMedium {
		t.Fatalf("unexpected alert: %+v", alert)
	}
}

func TestProcessSecurityEventDedupesWithinSameWindow(t *testing.T) {
	store := newMemAlertStore()
	clock := &clockid.Fixed{At: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)}
	e := NewEngine(store, nil, newTestAuditEngine(clock), clock, &seqIDs{pre: "alert-"}, nil)
	ctx := context.Background()
	actor := strp("key-1")

	for i := 0; i < 3; i++ {
		if _, err := e.ProcessSecurityEvent(ctx, "restore_failed", actor, nil, nil); err != nil {
			t.Fatalf("ProcessSecurityEvent: %v", err)
		}
	}
	first := len(store.created)
	if first != 1 {
		t.Fatalf("expected exactly one alert created, got %d", first)
	}

	clock.At = clock.At.Add(30 * time.Second)
	if _, err := e.ProcessSecurityEvent(ctx, "restore_failed", actor, nil, nil); err != nil {
		t.Fatalf("ProcessSecurityEvent: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected dedupe to suppress a second alert within the same window, got %d created", len(store.created))
	}
}

type fakeCounter struct {
	count int
}

func (f *fakeCounter) CountEvents(ctx context.Context, action string, actorKeyID *string, since time.Time) (int, error) {
	return f.count, nil
}

func TestProcessSecurityEventUsesEventCounterFastPathWhenAvailable(t *testing.T) {
	store := newMemAlertStore()
	counter := &fakeCounter{count: 5}
	clock := &clockid.Fixed{At: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := NewEngine(store, counter, newTestAuditEngine(clock), clock, &seqIDs{pre: "alert-"}, nil)

	alert, err := e.ProcessSecurityEvent(context.Background(), "restore_restricted_blocked", strp("key-2"), nil, nil)
	if err != nil {
		t.Fatalf("ProcessSecurityEvent: %v", err)
	}
	if alert == nil {
		t.Fatal("expected an alert since the fast-path counter already exceeds threshold")
	}
	if alert.RuleID != "RESTORE_RESTRICTED_SPIKE" {
		t.Fatalf("RuleID = %q, want RESTORE_RESTRICTED_SPIKE", alert.RuleID)
	}
}
