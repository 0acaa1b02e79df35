// Package saver writes mock records to the mock tree. Existing files are never
// overwritten by Save.
package saver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapp-incubator/mokzi/internal/fileurl"
	"github.com/snapp-incubator/mokzi/internal/mock"
)

// Saver serializes every write to the mock tree.
type Saver struct {
	builder *fileurl.Builder
	logger  *zap.Logger

	mu sync.Mutex
}

func New(builder *fileurl.Builder, logger *zap.Logger) *Saver {
	return &Saver{builder: builder, logger: logger}
}

// Save writes r to its canonical path in domain. When a file is already there
// nothing is written and saved is false.
func (s *Saver) Save(r *mock.Record, domain string) (path string, saved bool, err error) {
	folder, err := s.builder.MockListFolder(domain, r.Path(), r.Method)
	if err != nil {
		return "", false, err
	}
	return s.SaveAt(r, folder)
}

// SaveAt is Save into an explicit folder, used for wildcard path rule folders.
func (s *Saver) SaveAt(r *mock.Record, folder string) (path string, saved bool, err error) {
	path = filepath.Join(folder, r.ExpectedFileName())

	s.mu.Lock()
	defer s.mu.Unlock()

	err = writeNew(path, r)
	if errors.Is(err, mock.ErrAlreadyExists) {
		s.logger.Debug("mock already saved", zap.String("file", path))
		return path, false, nil
	}
	if err != nil {
		return "", false, err
	}

	s.logger.Info("mock saved", zap.String("file", path), zap.String("id", r.ID))
	return path, true, nil
}

// Update replaces original with edited. The file moves when the path, method
// or scenario changed; a move onto an existing file fails with
// mock.ErrAlreadyExists. The returned record carries the new file path.
func (s *Saver) Update(original, edited *mock.Record, domain string) (*mock.Record, error) {
	if original.ID != edited.ID {
		return nil, fmt.Errorf("%w: id changed from %s to %s", mock.ErrWrite, original.ID, edited.ID)
	}
	if original.FilePath == "" {
		return nil, fmt.Errorf("%w: record %s was never saved", mock.ErrNotFound, original.ID)
	}

	updated := edited.Clone()
	updated.UpdateTime = time.Now().UTC().Truncate(time.Millisecond)

	folder := filepath.Dir(original.FilePath)
	if original.Path() != edited.Path() || !strings.EqualFold(original.Method, edited.Method) {
		var err error
		folder, err = s.builder.MockListFolder(domain, edited.Path(), edited.Method)
		if err != nil {
			return nil, err
		}
	}
	target := filepath.Join(folder, updated.ExpectedFileName())

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(original.FilePath); err != nil {
		return nil, fmt.Errorf("%w: %s", mock.ErrNotFound, original.FilePath)
	}

	if target == original.FilePath {
		if err := overwrite(target, updated); err != nil {
			return nil, err
		}
		updated.FilePath = target
		return updated, nil
	}

	if err := writeNew(target, updated); err != nil {
		return nil, err
	}
	if err := os.Remove(original.FilePath); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", mock.ErrDelete, original.FilePath, err)
	}
	removeEmptyParents(filepath.Dir(original.FilePath), 2)

	s.logger.Info("mock moved", zap.String("from", original.FilePath), zap.String("to", target))
	updated.FilePath = target
	return updated, nil
}

// Delete removes the file of r.
func (s *Saver) Delete(r *mock.Record) error {
	if r.FilePath == "" {
		return fmt.Errorf("%w: record %s was never saved", mock.ErrNotFound, r.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(r.FilePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", mock.ErrNotFound, r.FilePath)
		}
		return fmt.Errorf("%w: %s: %v", mock.ErrDelete, r.FilePath, err)
	}
	removeEmptyParents(filepath.Dir(r.FilePath), 2)

	s.logger.Info("mock deleted", zap.String("file", r.FilePath), zap.String("id", r.ID))
	return nil
}

// writeNew creates path exclusively and writes r into it.
func writeNew(path string, r *mock.Record) error {
	data, err := mock.Encode(r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %s: %v", mock.ErrWrite, path, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", mock.ErrAlreadyExists, path)
		}
		return fmt.Errorf("%w: %s: %v", mock.ErrWrite, path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("%w: %s: %v", mock.ErrWrite, path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("%w: %s: %v", mock.ErrWrite, path, err)
	}
	return nil
}

// overwrite replaces path through a temporary file in the same folder.
func overwrite(path string, r *mock.Record) error {
	data, err := mock.Encode(r)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".mock-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", mock.ErrWrite, path, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %s: %v", mock.ErrWrite, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %s: %v", mock.ErrWrite, path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %s: %v", mock.ErrWrite, path, err)
	}
	return nil
}

// removeEmptyParents removes dir and up to depth-1 of its parents while they are empty.
func removeEmptyParents(dir string, depth int) {
	for i := 0; i < depth; i++ {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
