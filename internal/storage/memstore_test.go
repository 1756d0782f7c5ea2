package storage

import (
	"testing"
	"time"
)

func TestMemStoreRoundTrip(t *testing.T) {
	s := NewMemStore(0)
	ctx := t.Context()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != "v" {
		t.Errorf("value = %q, want %q", got, "v")
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("deleted key should be absent")
	}
}

func TestMemStoreMissingKey(t *testing.T) {
	s := NewMemStore(time.Minute)

	_, ok, err := s.Get(t.Context(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("missing key should report absent, not error")
	}
}

func TestMemStoreExpiry(t *testing.T) {
	s := NewMemStore(20 * time.Millisecond)
	ctx := t.Context()

	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("entry should have expired")
	}
}
