package storage

import (
	"context"
	"errors"
	"testing"
)

func TestIsObjectKey(t *testing.T) {
	cases := map[string]bool{
		"uploads/a.png":                true,
		"https://cdn.example/a.png":    false,
		"HTTP://cdn.example/a.png":     false,
		"   ":                          false,
		"servers/s1/attachments/x.pdf": true,
	}
	for ref, want := range cases {
		if got := IsObjectKey(ref); got != want {
			t.Fatalf("IsObjectKey(%q)=%v want %v", ref, got, want)
		}
	}
}

func TestMemoryStoreExistsAndDelete(t *testing.T) {
	s := NewMemoryStore("uploads/a.png")
	ctx := context.Background()
	if ok, _ := s.Exists(ctx, "uploads/a.png"); !ok {
		t.Fatalf("expected seeded key to exist")
	}
	if err := s.Delete(ctx, "uploads/a.png"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "uploads/a.png"); ok {
		t.Fatalf("expected key to be gone")
	}
	if err := s.Delete(ctx, "uploads/a.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}
