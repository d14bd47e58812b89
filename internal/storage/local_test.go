package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStorage_PutGet(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	key := "snapshots/appdb/1-a.json.sz"
	content := []byte("hello world")
	if err := storage.Put(ctx, key, content); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := storage.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	got, err := storage.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	if err := storage.Put(ctx, key, []byte("replaced")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, _ = storage.Get(ctx, key)
	if string(got) != "replaced" {
		t.Errorf("expected replaced content, got %q", got)
	}

	if err := storage.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ = storage.Exists(ctx, key)
	if exists {
		t.Error("expected object to be deleted")
	}
}

func TestLocalStorage_GetNotFound(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	_, err = storage.Get(context.Background(), "nonexistent")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_DeleteNonExistent(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	if err := storage.Delete(context.Background(), "nonexistent"); err != nil {
		t.Errorf("Delete of non-existent object should not error: %v", err)
	}
}

func TestLocalStorage_List(t *testing.T) {
	base := t.TempDir()
	storage, err := NewLocalStorage(base)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"snapshots/b/2", "snapshots/a/2", "snapshots/a/1", "other/x"} {
		if err := storage.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}
	// A leftover temporary file is not an object.
	if err := os.WriteFile(filepath.Join(base, "snapshots", "a", ".put-123"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	keys, err := storage.List(ctx, "snapshots/a/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"snapshots/a/1", "snapshots/a/2"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}

	empty, err := storage.List(ctx, "missing/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no keys, got %v", empty)
	}
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	if err := storage.Put(context.Background(), "../escape", []byte("x")); err == nil {
		t.Error("expected error for key outside base path")
	}
}
