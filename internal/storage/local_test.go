package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	ls, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	return ls
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshot.snappy")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLocalUploadAndDownload(t *testing.T) {
	ls := newTestLocal(t)
	ctx := context.Background()

	src := writeTempFile(t, "quarantine snapshot bytes")
	if err := ls.Upload(ctx, src, "quarantine/velt.db.corrupt.snappy"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	exists, err := ls.Exists(ctx, "quarantine/velt.db.corrupt.snappy")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("object should exist after upload")
	}

	dest := filepath.Join(t.TempDir(), "restored.snappy")
	if err := ls.Download(ctx, "quarantine/velt.db.corrupt.snappy", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "quarantine snapshot bytes" {
		t.Errorf("downloaded content = %q", data)
	}
}

func TestLocalDownloadMissing(t *testing.T) {
	ls := newTestLocal(t)
	err := ls.Download(context.Background(), "quarantine/nope", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalDelete(t *testing.T) {
	ls := newTestLocal(t)
	ctx := context.Background()

	src := writeTempFile(t, "x")
	if err := ls.Upload(ctx, src, "quarantine/a"); err != nil {
		t.Fatal(err)
	}
	if err := ls.Delete(ctx, "quarantine/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, _ := ls.Exists(ctx, "quarantine/a")
	if exists {
		t.Error("object should not exist after delete")
	}

	if err := ls.Delete(ctx, "quarantine/a"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("deleting missing object should return ErrObjectNotFound, got %v", err)
	}
}

func TestLocalListObjects(t *testing.T) {
	ls := newTestLocal(t)
	ctx := context.Background()

	src := writeTempFile(t, "x")
	for _, key := range []string{"quarantine/a", "quarantine/b", "other/c"} {
		if err := ls.Upload(ctx, src, key); err != nil {
			t.Fatal(err)
		}
	}

	objects, err := ls.ListObjects(ctx, "quarantine/")
	if err != nil {
		t.Fatalf("ListObjects: %v", err)
	}
	if len(objects) != 2 {
		t.Errorf("got %d objects under quarantine/, want 2: %v", len(objects), objects)
	}
}

func TestLocalCanceledContext(t *testing.T) {
	ls := newTestLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := writeTempFile(t, "x")
	if err := ls.Upload(ctx, src, "quarantine/a"); err == nil {
		t.Error("upload with canceled context should fail")
	}
}
