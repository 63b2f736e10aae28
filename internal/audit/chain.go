// Package audit implements the hash-chained, append-only audit log: the
// canonical entry encoding (canonical.go), the append protocol with
// bounded conflict retry, fail-secure/best-effort classification, and
// full-chain validation.
package audit

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"

	"github.com/rs/zerolog"

	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/telemetry"
)

// maxAppendRetries bounds the cursor-read/insert/retry loop; exceeding it
// on unique-constraint conflicts is a persistent-contention failure.
const maxAppendRetries = 10

// ErrConflict is returned by Store.Insert when chain_index or entry_hash
// lost a race to a concurrent writer. The engine retries on this specific
// error; any other error from Insert or Cursor aborts the append attempt.
var ErrConflict = errors.New("audit: chain index or entry hash conflict")

// WriteError is raised when an append cannot be committed in fail-secure
// mode: either persistent conflict after exhausting retries, or any other
// store I/O failure.
type WriteError struct {
	Action string
	Cause  error
}

func (e *WriteError) Error() string {
	return "audit: write failed for action " + e.Action + ": " + e.Cause.Error()
}

func (e *WriteError) Unwrap() error { return e.Cause }

// Store is the capability interface the chain engine depends on. A single
// production implementation lives in internal/store/boltstore; tests use
// an in-memory implementation.
type Store interface {
	// Cursor returns the most recently appended entry's (chain_index,
	// entry_hash), or (0, nil) if the chain is empty.
	Cursor(ctx context.Context) (lastIndex int64, lastHash *string, err error)

	// Insert persists entry. It must return ErrConflict (wrapped or bare,
	// checked with errors.Is) if chain_index or entry_hash already exists.
	Insert(ctx context.Context, entry model.AuditEntry) error

	// Entries returns up to limit entries in ascending chain_index order,
	// starting at chain_index >= after+1. Used by validate_chain and the
	// paginated listing endpoint.
	Entries(ctx context.Context, after int64, limit int) ([]model.AuditEntry, error)
}

// Mode selects fail-secure versus best-effort append semantics.
type Mode int

const (
	// FailSecure propagates a *WriteError to the caller on any failure to
	// commit. Used for backup/restore events, admin actions, policy
	// decisions, authorization denials, and MFA outcomes.
	FailSecure Mode = iota
	// BestEffort swallows and logs failures so a broken audit store
	// cannot itself deny a login-time decision. Used only for
	// authentication success/failure telemetry.
	BestEffort
)

// Event is the caller-supplied content of one audit append; ChainIndex,
// PrevHash, CreatedAt and EventID are filled in by the engine.
type Event struct {
	Action     string
	Resource   string
	ResourceID *string
	ActorKeyID *string
	ActorRole  *string
	Status     *string
	Reason     *string
}

// Engine appends and validates hash-chained audit entries.
type Engine struct {
	store  Store
	clock  clockid.Clock
	ids    clockid.IDProvider
	logger zerolog.Logger
}

// NewEngine builds an Engine over store, using clock and ids for
// deterministic testing injection and logger for best-effort failure logs.
func NewEngine(store Store, clock clockid.Clock, ids clockid.IDProvider, logger zerolog.Logger) *Engine {
	return &Engine{store: store, clock: clock, ids: ids, logger: logger.With().Str("component", "audit").Logger()}
}

// Append records ev, retrying on chain contention up to maxAppendRetries
// times. In FailSecure mode a persistent failure returns a *WriteError. In
// BestEffort mode every failure is swallowed (and logged) and Append
// returns (nil, nil).
func (e *Engine) Append(ctx context.Context, mode Mode, ev Event) (*model.AuditEntry, error) {
	var lastErr error
	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		entry, err := e.tryAppend(ctx, ev)
		if err == nil {
			return entry, nil
		}
		if errors.Is(err, ErrConflict) {
			lastErr = err
			telemetry.AuditAppendRetriesTotal.Inc()
			continue
		}
		return e.fail(mode, ev.Action, err)
	}
	return e.fail(mode, ev.Action, lastErr)
}

func (e *Engine) fail(mode Mode, action string, cause error) (*model.AuditEntry, error) {
	if mode == BestEffort {
		e.logger.Warn().Err(cause).Str("action", action).Msg("audit append failed, continuing best-effort")
		return nil, nil
	}
	return nil, &WriteError{Action: action, Cause: cause}
}

func (e *Engine) tryAppend(ctx context.Context, ev Event) (*model.AuditEntry, error) {
	lastIndex, lastHash, err := e.store.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	chainIndex := lastIndex + 1
	createdAt := e.clock.Now().UTC()
	eventID := e.ids.NewID()

	fields := Fields{
		ChainIndex: chainIndex,
		PrevHash:   lastHash,
		CreatedAt:  createdAt,
		EventID:    eventID,
		Action:     ev.Action,
		Resource:   ev.Resource,
		ResourceID: ev.ResourceID,
		ActorKeyID: ev.ActorKeyID,
		ActorRole:  ev.ActorRole,
		Status:     ev.Status,
		Reason:     ev.Reason,
	}
	entryHash := hashFields(fields)

	entry := model.AuditEntry{
		ChainIndex: chainIndex,
		EntryHash:  entryHash,
		CreatedAt:  createdAt,
		EventID:    eventID,
		Action:     ev.Action,
		Resource:   ev.Resource,
		ResourceID: ev.ResourceID,
		ActorKeyID: ev.ActorKeyID,
		ActorRole:  ev.ActorRole,
		Status:     ev.Status,
		Reason:     ev.Reason,
	}
	if lastHash != nil {
		entry.PrevHash = *lastHash
	}

	if err := e.store.Insert(ctx, entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// hashFields computes entry_hash: SHA-512 hex of the canonical UTF-8
// encoding of f.
func hashFields(f Fields) string {
	sum := sha512.Sum512([]byte(canonicalJSON(f)))
	return hex.EncodeToString(sum[:])
}

// FailureReason enumerates why validate_chain stopped short of the end.
type FailureReason string

const (
	ReasonOutOfSequence    FailureReason = "chain_index_out_of_sequence"
	ReasonPrevHashMismatch FailureReason = "prev_hash_mismatch"
	ReasonEntryHashMismatch FailureReason = "entry_hash_mismatch"
)

// Failure describes the first invalid entry found by Validate.
type Failure struct {
	ChainIndex int64
	EventID    string
	Reason     FailureReason
}

// Result is the outcome of a full chain validation pass.
type Result struct {
	Valid         bool
	CheckedEntries int64
	Failure       *Failure
}

const validatePageSize = 500

// Validate scans the chain in ascending chain_index order without
// mutating any row, verifying sequence, prev_hash linkage, and recomputed
// entry_hash for every entry. An empty chain is valid.
func (e *Engine) Validate(ctx context.Context) (Result, error) {
	var (
		expectedIndex int64 = 1
		expectedPrev  *string
		checked       int64
	)

	for {
		page, err := e.store.Entries(ctx, expectedIndex-1, validatePageSize)
		if err != nil {
			return Result{}, err
		}
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			if entry.ChainIndex != expectedIndex {
				telemetry.AuditChainValid.Set(0)
				return Result{Valid: false, CheckedEntries: checked, Failure: &Failure{
					ChainIndex: entry.ChainIndex, EventID: entry.EventID, Reason: ReasonOutOfSequence,
				}}, nil
			}
			if !samePrevHash(expectedPrev, entry.PrevHash) {
				telemetry.AuditChainValid.Set(0)
				return Result{Valid: false, CheckedEntries: checked, Failure: &Failure{
					ChainIndex: entry.ChainIndex, EventID: entry.EventID, Reason: ReasonPrevHashMismatch,
				}}, nil
			}
			recomputed := hashFields(entryToFields(entry))
			if recomputed != entry.EntryHash {
				telemetry.AuditChainValid.Set(0)
				return Result{Valid: false, CheckedEntries: checked, Failure: &Failure{
					ChainIndex: entry.ChainIndex, EventID: entry.EventID, Reason: ReasonEntryHashMismatch,
				}}, nil
			}
			checked++
			expectedIndex++
			hash := entry.EntryHash
			expectedPrev = &hash
		}
		if len(page) < validatePageSize {
			break
		}
	}

	telemetry.AuditChainValid.Set(1)
	return Result{Valid: true, CheckedEntries: checked}, nil
}

func samePrevHash(expected *string, actual string) bool {
	if expected == nil {
		return actual == ""
	}
	return *expected == actual
}

func entryToFields(entry model.AuditEntry) Fields {
	var prevHash *string
	if entry.PrevHash != "" {
		h := entry.PrevHash
		prevHash = &h
	}
	return Fields{
		ChainIndex: entry.ChainIndex,
		PrevHash:   prevHash,
		CreatedAt:  entry.CreatedAt,
		EventID:    entry.EventID,
		Action:     entry.Action,
		Resource:   entry.Resource,
		ResourceID: entry.ResourceID,
		ActorKeyID: entry.ActorKeyID,
		ActorRole:  entry.ActorRole,
		Status:     entry.Status,
		Reason:     entry.Reason,
	}
}
