package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MrWong99/cardrip/internal/storage"
)

// stores returns one of each KV implementation for conformance testing.
func stores(t *testing.T) map[string]storage.KV {
	t.Helper()

	sq, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]storage.KV{
		"mem":    storage.NewMemStore(),
		"sqlite": sq,
	}
}

func TestKV_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, kv := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := kv.Set(ctx, storage.KeyCurrentSession, []byte(`{"id":"s1"}`)); err != nil {
				t.Fatalf("Set: %v", err)
			}
			got, err := kv.Get(ctx, storage.KeyCurrentSession)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != `{"id":"s1"}` {
				t.Errorf("Get = %s, want stored value", got)
			}
		})
	}
}

func TestKV_GetMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, kv := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := kv.Get(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestKV_Overwrite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, kv := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := kv.Set(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := kv.Set(ctx, "k", []byte("v2")); err != nil {
				t.Fatalf("Set overwrite: %v", err)
			}
			got, err := kv.Get(ctx, "k")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != "v2" {
				t.Errorf("Get after overwrite = %s, want v2", got)
			}
		})
	}
}

func TestKV_Remove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, kv := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := kv.Set(ctx, "k", []byte("v")); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if err := kv.Remove(ctx, "k"); err != nil {
				t.Fatalf("Remove: %v", err)
			}
			if _, err := kv.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("Get after Remove error = %v, want ErrNotFound", err)
			}
			// Removing a missing key is not an error.
			if err := kv.Remove(ctx, "k"); err != nil {
				t.Errorf("Remove(missing) = %v, want nil", err)
			}
		})
	}
}
