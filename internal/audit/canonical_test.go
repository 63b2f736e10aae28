package audit

import (
	"testing"
	"time"
)

func strp(s string) *string { return &s }

// TestCanonicalJSONGoldenVectors fixes inputs and asserts exact canonical
// bytes and the resulting SHA-512 hex digest. These vectors were produced
// by the reference canonicalization (sorted-key, separator-free JSON, SHA-512)
// and must stay byte-identical across any implementation replaying the same
// fields, including the migration backfill.
func TestCanonicalJSONGoldenVectors(t *testing.T) {
	tests := []struct {
		name        string
		fields      Fields
		wantJSON    string
		wantHashHex string
	}{
		{
			name: "first entry, all optional fields null",
			fields: Fields{
				ChainIndex: 1,
				PrevHash:   nil,
				CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				EventID:    "evt-1",
				Action:     "backup_processing_started",
				Resource:   "backup",
				ResourceID: strp("backup-1"),
				ActorKeyID: strp("key-1"),
				ActorRole:  strp("operator"),
				Status:     nil,
				Reason:     nil,
			},
			wantJSON:    `{"action":"backup_processing_started","actor_key_id":"key-1","actor_role":"operator","chain_index":1,"created_at":"2026-01-01T00:00:00+00:00","event_id":"evt-1","prev_hash":null,"reason":null,"resource":"backup","resource_id":"backup-1","status":null}`,
			wantHashHex: "1b7dabc2b5c0a086e66b80a7f5438fd27ca85de729d756bce84a89c676a38976afbf5e8df7bcb2478d94100539f9ad8dd6872a7fdcfedb0ba5a4bf639af7dc31",
		},
		{
			name: "second entry, sub-second timestamp and non-ASCII reason",
			fields: Fields{
				ChainIndex: 2,
				PrevHash:   strp("1b7dabc2b5c0a086e66b80a7f5438fd27ca85de729d756bce84a89c676a38976afbf5e8df7bcb2478d94100539f9ad8dd6872a7fdcfedb0ba5a4bf639af7dc31"),
				CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 500000000, time.UTC),
				EventID:    "evt-2",
				Action:     "restore_failed",
				Resource:   "backup",
				ResourceID: nil,
				ActorKeyID: nil,
				ActorRole:  nil,
				Status:     strp("denied"),
				Reason:     strp("café ünicøde"),
			},
			wantJSON:    `{"action":"restore_failed","actor_key_id":null,"actor_role":null,"chain_index":2,"created_at":"2026-01-01T00:00:00.500000+00:00","event_id":"evt-2","prev_hash":"1b7dabc2b5c0a086e66b80a7f5438fd27ca85de729d756bce84a89c676a38976afbf5e8df7bcb2478d94100539f9ad8dd6872a7fdcfedb0ba5a4bf639af7dc31","reason":"caf\u00e9 \u00fcnic\u00f8de","resource":"backup","resource_id":null,"status":"denied"}`,
			wantHashHex: "f1d4007db182253d9631eac3c500f8e88d6378539b330e6070ea7aa8896409ade5d53cd4bed7c0675f4d2c45696ee41ebce6c54aece9e244debde56b6f83249c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotJSON := canonicalJSON(tt.fields)
			if gotJSON != tt.wantJSON {
				t.Fatalf("canonicalJSON() = %q, want %q", gotJSON, tt.wantJSON)
			}
			gotHash := hashFields(tt.fields)
			if gotHash != tt.wantHashHex {
				t.Fatalf("hashFields() = %s, want %s", gotHash, tt.wantHashHex)
			}
		})
	}
}

func TestFormatUTCISO(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"whole second", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-01-01T00:00:00+00:00"},
		{"microsecond precision", time.Date(2026, 1, 1, 0, 0, 0, 500000000, time.UTC), "2026-01-01T00:00:00.500000+00:00"},
		{"non-UTC location converted", time.Date(2026, 1, 1, 5, 0, 0, 0, time.FixedZone("X", 5*3600)), "2026-01-01T00:00:00+00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatUTCISO(tt.in); got != tt.want {
				t.Fatalf("formatUTCISO() = %s, want %s", got, tt.want)
			}
		})
	}
}
