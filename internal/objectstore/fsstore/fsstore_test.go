package fsstore

import (
	"context"
	"testing"
)

func TestPutGetDeleteRoundTrip(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "backup-1.bin", []byte("blob-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, "backup-1.bin")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "blob-bytes" {
		t.Fatalf("Get() = %q, want %q", got, "blob-bytes")
	}

	if err := store.Delete(ctx, "backup-1.bin"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "backup-1.bin"); err == nil {
		t.Fatal("expected an error after delete")
	}
}

func TestGetMissingObjectReturnsNotFound(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = store.Get(context.Background(), "missing.bin")
	if err == nil {
		t.Fatal("expected an error for a missing object")
	}
}

func TestPathRejectsTraversal(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []string{"../escape.bin", "/etc/passwd", "a/../../b"}
	for _, name := range tests {
		if err := store.Put(context.Background(), name, []byte("x")); err == nil {
			t.Fatalf("expected Put(%q) to be rejected", name)
		}
	}
}
