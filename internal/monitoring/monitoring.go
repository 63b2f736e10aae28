// Package monitoring implements threshold-based security alerting
// (spec.md §4.8): count matching events in a sliding window, and raise a
// deduplicated Alert once a rule's threshold is crossed.
package monitoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/warrenguard/internal/audit"
	"github.com/cuemby/warrenguard/internal/clockid"
	"github.com/cuemby/warrenguard/internal/model"
	"github.com/cuemby/warrenguard/internal/telemetry"
)

// Rule is one threshold definition: source_event crossing threshold
// occurrences within windowMinutes raises an alert of severity.
type Rule struct {
	RuleID        string
	SourceEvent   string
	Threshold     int
	WindowMinutes int
	Severity      model.AlertSeverity
	Reason        string
}

// DefaultRules returns the two built-in rules from spec.md §4.8.
func DefaultRules() []Rule {
	return []Rule{
		{
			RuleID: "RESTORE_RESTRICTED_SPIKE", SourceEvent: "restore_restricted_blocked",
			Threshold: 3, WindowMinutes: 10, Severity: model.AlertSeverityHigh,
			Reason: "Repeated restore restrictions detected",
		},
		{
			RuleID: "RESTORE_FAILURE_SPIKE", SourceEvent: "restore_failed",
			Threshold: 3, WindowMinutes: 10, Severity: model.AlertSeverityMedium,
			Reason: "Repeated restore failures detected",
		},
	}
}

// Store is the persistence seam monitoring needs for alert dedupe/creation.
type Store interface {
	FindAlertByDedupeKey(ctx context.Context, dedupeKey string) (*model.Alert, bool, error)
	InsertAlert(ctx context.Context, a model.Alert) error
}

// EventCounter is the optional fast-path capability an audit store may
// provide (store.EventCounter). Declared locally so monitoring doesn't
// import internal/store just for this one method.
type EventCounter interface {
	CountEvents(ctx context.Context, action string, actorKeyID *string, since time.Time) (int, error)
}

// Engine evaluates incoming security events against its rule set.
type Engine struct {
	store    Store
	counter  EventCounter // may be nil; falls back to the local window
	auditEng *audit.Engine
	clock    clockid.Clock
	ids      clockid.IDProvider
	rules    []Rule

	mu      sync.Mutex
	history map[string][]time.Time // counterKey -> recent event timestamps, local fallback only
}

// NewEngine builds an Engine. counter may be nil to force the local
// sliding-window fallback path.
func NewEngine(store Store, counter EventCounter, auditEng *audit.Engine, clock clockid.Clock, ids clockid.IDProvider, rules []Rule) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Engine{
		store: store, counter: counter, auditEng: auditEng, clock: clock, ids: ids, rules: rules,
		history: map[string][]time.Time{},
	}
}

// ProcessSecurityEvent evaluates sourceEvent against the rule set. If no
// rule matches, or the matching rule's window count is below threshold,
// it returns (nil, nil). If the threshold is crossed, it returns the
// existing Alert if one was already raised for this window (dedupe), or a
// newly created Alert otherwise.
func (e *Engine) ProcessSecurityEvent(ctx context.Context, sourceEvent string, actorKeyID *string, backupID *string, metadata map[string]any) (*model.Alert, error) {
	rule := e.matchRule(sourceEvent)
	if rule == nil {
		return nil, nil
	}

	now := e.clock.Now()
	count, err := e.eventCount(ctx, *rule, actorKeyID, now)
	if err != nil {
		return nil, fmt.Errorf("monitoring: count events: %w", err)
	}
	if count < rule.Threshold {
		return nil, nil
	}

	windowBucket := windowBucket(now, rule.WindowMinutes)
	dedupeKey := dedupeKey(rule.RuleID, actorKeyID, windowBucket)

	existing, found, err := e.store.FindAlertByDedupeKey(ctx, dedupeKey)
	if err != nil {
		return nil, fmt.Errorf("monitoring: find alert by dedupe key: %w", err)
	}
	if found {
		return existing, nil
	}

	metadataJSON, err := canonicalMetadataJSON(metadata)
	if err != nil {
		return nil, fmt.Errorf("monitoring: encode alert metadata: %w", err)
	}

	alert := model.Alert{
		AlertID:         e.ids.NewID(),
		RuleID:          rule.RuleID,
		Severity:        rule.Severity,
		Status:          model.AlertStatusOpen,
		SourceEvent:     sourceEvent,
		ActorKeyID:      actorKeyID,
		RelatedBackupID: backupID,
		Reason:          rule.Reason,
		MetadataJSON:    &metadataJSON,
		DedupeKey:       dedupeKey,
		CreatedAt:       now,
	}
	if err := e.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("monitoring: insert alert: %w", err)
	}
	openStatus := string(model.AlertStatusOpen)
	if _, err := e.auditEng.Append(ctx, audit.FailSecure, audit.Event{
		Action:     "alert_created",
		Resource:   "alert",
		ResourceID: &alert.AlertID,
		ActorKeyID: actorKeyID,
		Status:     &openStatus,
		Reason:     &rule.Reason,
	}); err != nil {
		return nil, fmt.Errorf("monitoring: audit alert_created: %w", err)
	}
	telemetry.AlertsCreatedTotal.WithLabelValues(rule.RuleID, string(rule.Severity)).Inc()
	return &alert, nil
}

func (e *Engine) matchRule(sourceEvent string) *Rule {
	for i := range e.rules {
		if e.rules[i].SourceEvent == sourceEvent {
			return &e.rules[i]
		}
	}
	return nil
}

func (e *Engine) eventCount(ctx context.Context, rule Rule, actorKeyID *string, now time.Time) (int, error) {
	since := now.Add(-time.Duration(rule.WindowMinutes) * time.Minute)
	if e.counter != nil {
		return e.counter.CountEvents(ctx, rule.SourceEvent, actorKeyID, since)
	}
	return e.localWindowCount(counterKey(rule.RuleID, actorKeyID), now, since), nil
}

// localWindowCount is the fallback path when no EventCounter capability is
// available: an in-process append-and-trim sliding window per
// (rule, actor), matching _event_count's in-memory branch exactly.
func (e *Engine) localWindowCount(key string, now, since time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.history[key][:0]
	for _, ts := range e.history[key] {
		if !ts.Before(since) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	e.history[key] = kept
	return len(kept)
}

func counterKey(ruleID string, actorKeyID *string) string {
	return fmt.Sprintf("%s:%s", ruleID, actorLabel(actorKeyID))
}

func dedupeKey(ruleID string, actorKeyID *string, windowBucket string) string {
	base := fmt.Sprintf("%s:%s:%s", ruleID, actorLabel(actorKeyID), windowBucket)
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func actorLabel(actorKeyID *string) string {
	if actorKeyID == nil || *actorKeyID == "" {
		return "anonymous"
	}
	return *actorKeyID
}

// windowBucket floors now to the start of its windowMinutes-sized bucket
// and formats it as a stable string, matching _window_bucket's
// minute-flooring. Bucket boundaries are anchored to the top of the hour,
// not to an arbitrary start time, so every caller computing the same
// rule+instant lands on the same bucket independently.
func windowBucket(now time.Time, windowMinutes int) string {
	utc := now.UTC()
	minuteBucket := (utc.Minute() / windowMinutes) * windowMinutes
	bucket := time.Date(utc.Year(), utc.Month(), utc.Day(), utc.Hour(), minuteBucket, 0, 0, time.UTC)
	return bucket.Format(time.RFC3339)
}

// canonicalMetadataJSON encodes metadata for storage. encoding/json
// already emits map keys in sorted order, giving deterministic output
// without a manual sort step; the dedupe key itself never includes
// metadata, so this only needs to be stable for storage, not
// byte-identical to any other system.
func canonicalMetadataJSON(metadata map[string]any) (string, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	buf, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
