package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/riku-miura/wiki-rag/internal/rag"
)

func newFSForTest(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func Test_FS_PutThenGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := newFSForTest(t)
	ctx := context.Background()
	key := IndexKey("11111111-2222-3333-4444-555555555555")

	if err := s.Put(ctx, key, strings.NewReader("payload bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "payload bytes" {
		t.Fatalf("blob = %q, want %q", data, "payload bytes")
	}
}

func Test_FS_PutReplacesExistingBlob(t *testing.T) {
	t.Parallel()

	s := newFSForTest(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", strings.NewReader("old")); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	if err := s.Put(ctx, "k", strings.NewReader("new")); err != nil {
		t.Fatalf("second Put: %v", err)
	}

	r, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "new" {
		t.Fatalf("blob = %q, want %q", data, "new")
	}
}

func Test_FS_GetMissingKeyIsNotFound(t *testing.T) {
	t.Parallel()

	s := newFSForTest(t)
	_, err := s.Get(context.Background(), "indices/nope/index.bin")
	if !errors.Is(err, rag.ErrNotFound) {
		t.Fatalf("err = %v, want rag.ErrNotFound", err)
	}
}

func Test_FS_Exists(t *testing.T) {
	t.Parallel()

	s := newFSForTest(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "k")
	if err != nil || ok {
		t.Fatalf("Exists before Put = %v, %v; want false, nil", ok, err)
	}
	if err := s.Put(ctx, "k", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err = s.Exists(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Exists after Put = %v, %v; want true, nil", ok, err)
	}
}

func Test_FS_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newFSForTest(t)
	ctx := context.Background()

	if err := s.Put(ctx, "k", strings.NewReader("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, "k"); ok {
		t.Fatal("blob still exists after Delete")
	}
}

func Test_FS_RejectsTraversalKeys(t *testing.T) {
	t.Parallel()

	s := newFSForTest(t)
	ctx := context.Background()

	for _, key := range []string{"../escape", "/abs/path", "a/../../b", "."} {
		if err := s.Put(ctx, key, strings.NewReader("x")); !errors.Is(err, rag.ErrInvalidInput) {
			t.Errorf("Put(%q) err = %v, want rag.ErrInvalidInput", key, err)
		}
	}
}

func Test_FS_Ping(t *testing.T) {
	t.Parallel()

	s := newFSForTest(t)
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping on fresh store: %v", err)
	}

	missing := &FS{root: "/nonexistent/wikirag-test-root"}
	if err := missing.Ping(ctx); err == nil {
		t.Fatal("Ping on missing root did not fail")
	}
}

func Test_StorageKeys_Layout(t *testing.T) {
	t.Parallel()

	id := "abc"
	if got := IndexKey(id); got != "indices/abc/index.bin" {
		t.Errorf("IndexKey = %q", got)
	}
	if got := ChunksKey(id); got != "indices/abc/chunks.json" {
		t.Errorf("ChunksKey = %q", got)
	}
}
