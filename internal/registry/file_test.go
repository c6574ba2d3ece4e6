package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

func testRecord(hash string) Record {
	return Record{
		ConfigHash: hash,
		Pid:        1234,
		StartTime:  time.Now().UTC().Truncate(time.Second),
		Executable: "bin/app",
		Args:       []string{"serve"},
		BaseURL:    "http://localhost:5005",
		UpdatedAt:  time.Now().UTC(),
	}
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	rec := testRecord("abc123")
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := s.Load(ctx, "abc123")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Pid != rec.Pid || got.BaseURL != rec.BaseURL || got.Healthy {
		t.Fatalf("loaded %+v", got)
	}
}

func TestFileStoreLoadAbsent(t *testing.T) {
	s := newTestFileStore(t)
	_, ok, err := s.Load(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("absent record: ok=%v err=%v", ok, err)
	}
}

func TestFileStoreCorruptFileDiscarded(t *testing.T) {
	s := newTestFileStore(t)
	path := filepath.Join(s.Dir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, ok, err := s.Load(context.Background(), "bad")
	if err != nil || ok {
		t.Fatalf("corrupt record should read as absent: ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("corrupt file should be deleted")
	}
}

func TestFileStoreDeleteIdempotent(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, testRecord("h1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "h1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.Delete(ctx, "h1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestFileStoreList(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	for _, h := range []string{"h1", "h2", "h3"} {
		if err := s.Save(ctx, testRecord(h)); err != nil {
			t.Fatal(err)
		}
	}
	// leftover temp file must be ignored
	if err := os.WriteFile(filepath.Join(s.Dir(), "h4.12345.tmp"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	recs, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	s := newTestFileStore(t)
	ctx := context.Background()
	rec := testRecord("h1")
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Healthy = true
	rec.Pid = 4321
	if err := s.Save(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, ok, _ := s.Load(ctx, "h1")
	if !ok || !got.Healthy || got.Pid != 4321 {
		t.Fatalf("overwrite lost: %+v", got)
	}
}
