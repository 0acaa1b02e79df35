package domainconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source serves the configuration of one domain from its configs.json. The file
// is reloaded in full whenever its modification time or size changes.
type Source struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	current *Configuration
	modTime time.Time
	size    int64
	loaded  bool
}

// NewSource binds a source to a configuration file. The file may not exist yet.
func NewSource(path string, logger *zap.Logger) *Source {
	return &Source{
		path:   path,
		logger: logger.With(zap.String("config_file", path)),
	}
}

// Path returns the backing file.
func (s *Source) Path() string {
	return s.path
}

// Configuration returns the current configuration. Callers must treat it as read-only.
func (s *Source) Configuration() *Configuration {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("error in checking the domain configuration", zap.Error(err))
		}
		if !s.loaded || !s.modTime.IsZero() {
			s.setLocked(Default(), time.Time{}, 0)
		}
		return s.current
	}

	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.current
	}

	if err := s.reloadLocked(info); err != nil {
		s.logger.Error("error in reloading the domain configuration, keeping the previous one", zap.Error(err))
		if !s.loaded {
			s.setLocked(Default(), info.ModTime(), info.Size())
		}
	}
	return s.current
}

// Reload forces a full re-read of the backing file.
func (s *Source) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.setLocked(Default(), time.Time{}, 0)
			return nil
		}
		return fmt.Errorf("error in checking the domain configuration: %w", err)
	}
	return s.reloadLocked(info)
}

func (s *Source) reloadLocked(info fs.FileInfo) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("error in reading the domain configuration: %w", err)
	}
	c, err := Decode(data)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		s.logger.Warn("domain configuration has invalid rules", zap.Error(err))
	}
	s.setLocked(c, info.ModTime(), info.Size())
	s.logger.Debug("domain configuration loaded",
		zap.Int("path_rules", len(c.PathRules)),
		zap.Int("query_rules", len(c.QueryRules)),
		zap.Int("header_rules", len(c.HeaderRules)),
		zap.Int("save_filters", len(c.SaveFilters)),
	)
	return nil
}

func (s *Source) setLocked(c *Configuration, modTime time.Time, size int64) {
	s.current = c
	s.modTime = modTime
	s.size = size
	s.loaded = true
}

// Save validates and persists c, replacing the file atomically.
func (s *Source) Save(c *Configuration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data, err := Encode(c)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("error in creating the configuration folder: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".configs-*.json")
	if err != nil {
		return fmt.Errorf("error in writing the domain configuration: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("error in writing the domain configuration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error in writing the domain configuration: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("error in replacing the domain configuration: %w", err)
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("error in checking the domain configuration: %w", err)
	}
	// cache an independent copy so later edits by the caller stay invisible
	stored, err := Decode(data)
	if err != nil {
		return err
	}
	s.setLocked(stored, info.ModTime(), info.Size())
	return nil
}
