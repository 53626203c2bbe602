package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HanTheDev/phone-checker/internal/models"
)

// FileStore keeps one JSON document per entry in a directory. Writes go to a
// temporary file first and are renamed into place.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

var _ Store = (*FileStore)(nil)
var _ Pinger = (*FileStore)(nil)

// staleTempAge is how old a leftover temporary file must be before it is
// removed. Younger ones may belong to a write still in progress.
const staleTempAge = time.Minute

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileStore{dir: dir, logger: logger}
	s.removeStaleTemps(time.Now())
	return s, nil
}

// removeStaleTemps drops temporary files left by writes that never reached
// the rename.
func (s *FileStore) removeStaleTemps(now time.Time) int {
	matches, err := filepath.Glob(filepath.Join(s.dir, ".tmp-*"))
	if err != nil {
		return 0
	}
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || now.Sub(info.ModTime()) < staleTempAge {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove stale cache temp file", "file", filepath.Base(path), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed stale cache temp files", "count", removed)
	}
	return removed
}

func (s *FileStore) hashKey(key string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, s.hashKey(key)+".json")
}

func (s *FileStore) Get(_ context.Context, key string) (*models.CacheEntry, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var e models.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("corrupt cache file for %s: %w", key, err)
	}
	return &e, nil
}

func (s *FileStore) Put(_ context.Context, e *models.CacheEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	path := s.path(e.Key())
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns every readable entry. Corrupt files are removed.
func (s *FileStore) List(ctx context.Context) ([]*models.CacheEntry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var out []*models.CacheEntry
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e models.CacheEntry
		if err := json.Unmarshal(data, &e); err != nil || e.Phone == "" {
			s.logger.Warn("removing unreadable cache file", "file", name)
			os.Remove(path)
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *FileStore) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}
