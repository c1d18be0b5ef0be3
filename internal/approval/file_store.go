package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore keeps one JSON document per request under Dir.
type FileStore struct {
	Dir string
}

// NewFileStore returns a store rooted at dir. The directory is created lazily.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) path(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: invalid request id %q", ErrValidation, id)
	}
	return filepath.Join(s.Dir, id+".json"), nil
}

// Save writes req atomically through a temp file and rename.
func (s *FileStore) Save(_ context.Context, req Request) error {
	target, err := s.path(req.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return err
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Delete removes a persisted request. Missing files are not an error.
func (s *FileStore) Delete(_ context.Context, id string) error {
	target, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LoadAll reads every persisted request ordered by creation time. Unreadable
// files are skipped and reported in the returned error only when nothing
// could be loaded.
func (s *FileStore) LoadAll(_ context.Context) ([]Request, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	requests := make([]Request, 0, len(entries))
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, entry.Name()))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", entry.Name(), err)
			}
			continue
		}
		if req.ID == "" {
			continue
		}
		requests = append(requests, req)
	}

	if len(requests) == 0 && firstErr != nil {
		return nil, firstErr
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}
