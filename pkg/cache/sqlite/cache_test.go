package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/steer/pkg/cache"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "sc:abc", []byte("hello"), time.Hour); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "sc:abc")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("expected hello, got %q", got)
	}

	if _, err := s.Get(ctx, "sc:missing"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v1"), time.Hour)
	_ = s.Set(ctx, "k", []byte("v2"), time.Hour)
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Errorf("expected last write to win, got %q", got)
	}
}

func TestExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "sc:old", []byte("x"), time.Minute)
	_ = s.Set(ctx, "sc:new", []byte("y"), time.Hour)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := s.Get(ctx, "sc:old"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected expired entry to miss, got %v", err)
	}
	keys, err := s.Keys(ctx, "sc:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "sc:new" {
		t.Errorf("expected only sc:new, got %v", keys)
	}

	n, err := s.Purge(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
}

func TestKeysPrefixIsLiteral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "a_b:1", []byte("x"), time.Hour)
	_ = s.Set(ctx, "axb:2", []byte("y"), time.Hour)
	_ = s.Set(ctx, "other:3", []byte("z"), time.Hour)

	keys, err := s.Keys(ctx, "a_b:")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "a_b:1" {
		t.Errorf("underscore must not act as a wildcard, got %v", keys)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"p:1", "p:2", "p:3"} {
		_ = s.Set(ctx, k, []byte(k), time.Hour)
	}
	if err := s.Delete(ctx, "p:1", "p:2"); err != nil {
		t.Fatal(err)
	}
	keys, _ := s.Keys(ctx, "p:")
	if len(keys) != 1 || keys[0] != "p:3" {
		t.Errorf("expected p:3 to remain, got %v", keys)
	}
	if err := s.Delete(ctx); err != nil {
		t.Errorf("empty delete: %v", err)
	}
}
