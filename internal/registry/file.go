package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// FileStore keeps one JSON file per configuration hash in a per-user runtime
// directory, so concurrent unrelated test suites on the same machine do not
// collide. Writes go to a temp file in the same directory followed by a
// rename, which keeps a record readable even if the test runner crashes
// mid-write.
type FileStore struct {
	dir string
}

// DefaultDir picks a platform-appropriate per-user runtime directory:
// LOCALAPPDATA on Windows, XDG_RUNTIME_DIR elsewhere, with a uid-scoped
// tmp fallback.
func DefaultDir() string {
	if runtime.GOOS == "windows" {
		if d := os.Getenv("LOCALAPPDATA"); d != "" {
			return filepath.Join(d, "testserve", "servers")
		}
	}
	if d := os.Getenv("XDG_RUNTIME_DIR"); d != "" {
		return filepath.Join(d, "testserve")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("testserve-%d", os.Getuid()))
}

// NewFileStore creates the directory if needed. An empty dir selects
// DefaultDir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create registry dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(hash string) string {
	return filepath.Join(s.dir, hash+".json")
}

func (s *FileStore) Load(_ context.Context, hash string) (Record, bool, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.ConfigHash == "" {
		// Corrupt or foreign file: discard it and report absence.
		_ = os.Remove(s.path(hash))
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	if rec.ConfigHash == "" {
		return fmt.Errorf("record without config hash")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, rec.ConfigHash+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path(rec.ConfigHash)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish record: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		hash := strings.TrimSuffix(name, ".json")
		rec, ok, err := s.Load(ctx, hash)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, hash string) error {
	err := os.Remove(s.path(hash))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
