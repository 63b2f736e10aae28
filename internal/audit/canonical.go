package audit

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fields is the fixed key set hashed into an entry, mirroring the original
// system's `_build_entry_hash` payload field-for-field. Pointer fields are
// nil for JSON null; ChainIndex/CreatedAt/EventID/Action/Resource are never
// absent in a persisted entry.
type Fields struct {
	ChainIndex int64
	PrevHash   *string
	CreatedAt  time.Time
	EventID    string
	Action     string
	Resource   string
	ResourceID *string
	ActorKeyID *string
	ActorRole  *string
	Status     *string
	Reason     *string
}

// canonicalJSON renders f as the deterministic JSON-shaped byte sequence
// that entry_hash is computed over: lexicographically sorted keys, no
// insignificant whitespace, explicit nulls, non-ASCII escaped to \uXXXX and
// created_at rendered as ISO-8601 with an explicit UTC offset — matching
// Python's json.dumps(payload, sort_keys=True, separators=(',', ':'))
// byte-for-byte so the audit chain is a valid cross-language interop
// contract (this is the exact algorithm the migration backfill replays).
func canonicalJSON(f Fields) string {
	var b strings.Builder
	b.WriteByte('{')

	writeKey := func(first bool, key string) {
		if !first {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(key)
		b.WriteString(`":`)
	}

	// Keys in lexicographic order of the fixed set:
	// action, actor_key_id, actor_role, chain_index, created_at, event_id,
	// prev_hash, reason, resource, resource_id, status
	writeKey(true, "action")
	writeJSONString(&b, f.Action)

	writeKey(false, "actor_key_id")
	writeJSONStringPtr(&b, f.ActorKeyID)

	writeKey(false, "actor_role")
	writeJSONStringPtr(&b, f.ActorRole)

	writeKey(false, "chain_index")
	b.WriteString(strconv.FormatInt(f.ChainIndex, 10))

	writeKey(false, "created_at")
	writeJSONString(&b, formatUTCISO(f.CreatedAt))

	writeKey(false, "event_id")
	writeJSONString(&b, f.EventID)

	writeKey(false, "prev_hash")
	writeJSONStringPtr(&b, f.PrevHash)

	writeKey(false, "reason")
	writeJSONStringPtr(&b, f.Reason)

	writeKey(false, "resource")
	writeJSONString(&b, f.Resource)

	writeKey(false, "resource_id")
	writeJSONStringPtr(&b, f.ResourceID)

	writeKey(false, "status")
	writeJSONStringPtr(&b, f.Status)

	b.WriteByte('}')
	return b.String()
}

// formatUTCISO renders t as ISO-8601 with an explicit "+00:00" UTC offset,
// converting any aware instant to UTC and treating a zero-value Location as
// already UTC — matching `_as_utc_iso` in the migration backfill.
func formatUTCISO(t time.Time) string {
	u := t.UTC()
	// RFC3339Nano with "Z" replaced: Python's datetime.isoformat() always
	// emits an explicit numeric offset, never "Z", and keeps microsecond
	// (not nanosecond) precision, trimming trailing zero fractional digits
	// entirely when the value has none.
	base := u.Format("2006-01-02T15:04:05")
	micro := u.Nanosecond() / 1000
	if micro != 0 {
		base += fmt.Sprintf(".%06d", micro)
	}
	return base + "+00:00"
}

// writeJSONStringPtr writes `null` for a nil pointer, else the quoted,
// escaped string value.
func writeJSONStringPtr(b *strings.Builder, s *string) {
	if s == nil {
		b.WriteString("null")
		return
	}
	writeJSONString(b, *s)
}

// writeJSONString quotes and escapes s the way Python's json.dumps does
// with its default ensure_ascii=True: '"', '\\' and control characters get
// short or \u00XX escapes, and every code point above U+007F is escaped to
// \uXXXX (with a surrogate pair above the BMP) rather than emitted as raw
// UTF-8 — the opposite of encoding/json's default, which is why this is
// hand-rolled instead of relying on the standard library encoder.
func writeJSONString(b *strings.Builder, s string) {
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20:
				fmt.Fprintf(b, `\u%04x`, r)
			case r < 0x7f:
				b.WriteRune(r)
			case r <= 0xffff:
				fmt.Fprintf(b, `\u%04x`, r)
			default:
				// Encode as a UTF-16 surrogate pair, as Python does for
				// astral-plane code points under ensure_ascii.
				r -= 0x10000
				hi := 0xd800 + (r >> 10)
				lo := 0xdc00 + (r & 0x3ff)
				fmt.Fprintf(b, `\u%04x\u%04x`, hi, lo)
			}
		}
	}
	b.WriteByte('"')
}
