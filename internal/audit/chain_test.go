package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
)

// memStore is an in-memory Store test double, guarded by a mutex the way a
// single-writer bbolt transaction would serialize access in production.
type memStore struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	index   map[int64]bool
	hashes  map[string]bool
	failCursor int
}

func newMemStore() *memStore {
	return &memStore{index: map[int64]bool{}, hashes: map[string]bool{}}
}

func (s *memStore) Cursor(ctx context.Context) (int64, *string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return 0, nil, nil
	}
	last := s.entries[len(s.entries)-1]
	h := last.EntryHash
	return last.ChainIndex, &h, nil
}

func (s *memStore) Insert(ctx context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index[entry.ChainIndex] || s.hashes[entry.EntryHash] {
		return ErrConflict
	}
	s.index[entry.ChainIndex] = true
	s.hashes[entry.EntryHash] = true
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memStore) Entries(ctx context.Context, after int64, limit int) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range s.entries {
		if e.ChainIndex > after {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

type seqIDs struct {
	mu  sync.Mutex
	n   int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return "evt-" + string(rune('0'+s.n))
}

func newTestEngine(store Store) *Engine {
	clock := clockid.Fixed{}
	return NewEngine(store, clock, &seqIDs{}, zerolog.Nop())
}

func TestEngineAppendChainsSequentially(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)
	ctx := context.Background()

	first, err := engine.Append(ctx, FailSecure, Event{Action: "backup_processing_started", Resource: "backup"})
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if first.ChainIndex != 1 || first.PrevHash != "" {
		t.Fatalf("unexpected first entry: %+v", first)
	}

	second, err := engine.Append(ctx, FailSecure, Event{Action: "backup_processing_succeeded", Resource: "backup"})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if second.ChainIndex != 2 || second.PrevHash != first.EntryHash {
		t.Fatalf("second entry does not chain from first: %+v", second)
	}

	result, err := engine.Validate(ctx)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || result.CheckedEntries != 2 {
		t.Fatalf("expected valid chain of 2, got %+v", result)
	}
}

func TestEngineAppendConcurrent(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := engine.Append(ctx, FailSecure, Event{Action: "backup_processing_started", Resource: "backup"})
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	result, err := engine.Validate(ctx)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || result.CheckedEntries != n {
		t.Fatalf("expected valid chain of %d, got %+v", n, result)
	}
}

// alwaysConflict always reports a conflict, exercising the bounded retry
// and fail-secure/best-effort branches.
type alwaysConflict struct{}

func (alwaysConflict) Cursor(ctx context.Context) (int64, *string, error) { return 0, nil, nil }
func (alwaysConflict) Insert(ctx context.Context, entry model.AuditEntry) error { return ErrConflict }
func (alwaysConflict) Entries(ctx context.Context, after int64, limit int) ([]model.AuditEntry, error) {
	return nil, nil
}

func TestEngineAppendExhaustsRetriesFailSecure(t *testing.T) {
	engine := newTestEngine(alwaysConflict{})
	_, err := engine.Append(context.Background(), FailSecure, Event{Action: "x", Resource: "y"})
	if err == nil {
		t.Fatal("expected a WriteError after exhausting retries")
	}
	var writeErr *WriteError
	if !isWriteError(err, &writeErr) {
		t.Fatalf("expected *WriteError, got %T: %v", err, err)
	}
}

func TestEngineAppendExhaustsRetriesBestEffort(t *testing.T) {
	engine := newTestEngine(alwaysConflict{})
	entry, err := engine.Append(context.Background(), BestEffort, Event{Action: "auth_success", Resource: "principal"})
	if err != nil {
		t.Fatalf("best-effort append must never return an error, got %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry on swallowed failure, got %+v", entry)
	}
}

func isWriteError(err error, target **WriteError) bool {
	we, ok := err.(*WriteError)
	if ok {
		*target = we
	}
	return ok
}

func TestEngineValidateDetectsTamperedHash(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store)
	ctx := context.Background()

	if _, err := engine.Append(ctx, FailSecure, Event{Action: "a", Resource: "r"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := engine.Append(ctx, FailSecure, Event{Action: "b", Resource: "r"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	store.entries[1].EntryHash = "tampered"

	result, err := engine.Validate(ctx)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("expected validation to detect the tampered entry")
	}
	if result.Failure == nil || result.Failure.Reason != ReasonEntryHashMismatch {
		t.Fatalf("expected entry_hash_mismatch failure, got %+v", result.Failure)
	}
	if result.CheckedEntries != 1 {
		t.Fatalf("expected 1 entry checked before the failure, got %d", result.CheckedEntries)
	}
}

func TestEngineValidateEmptyChain(t *testing.T) {
	engine := newTestEngine(newMemStore())
	result, err := engine.Validate(context.Background())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || result.CheckedEntries != 0 {
		t.Fatalf("expected an empty chain to validate trivially, got %+v", result)
	}
}
