package discover

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/snapp-incubator/mokzi/internal/mock"
)

const mockFilePattern = "**/*.json"

// scan reads every mock under mocksFolder, one unit of work per top-level
// folder. Files whose path, size and modification time match an entry of
// reuse are not read again. A folder that cannot be read is logged and left
// out; only cancellation fails the scan.
func scan(ctx context.Context, mocksFolder string, reuse map[string]*Entry, workers int, logger *zap.Logger) (map[string]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(mocksFolder)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("error in listing the mocks folder", zap.String("folder", mocksFolder), zap.Error(err))
	}

	var folders []string
	for _, de := range dirEntries {
		if de.IsDir() {
			folders = append(folders, filepath.Join(mocksFolder, de.Name()))
		}
	}

	results := make([][]*Entry, len(folders))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, folder := range folders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = scanFolder(gctx, folder, reuse, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	catalog := make(map[string]*Entry)
	for _, folderEntries := range results {
		for _, e := range folderEntries {
			if prev, ok := catalog[e.Record.ID]; ok {
				logger.Warn("duplicate mock id, keeping the first file",
					zap.String("id", e.Record.ID),
					zap.String("kept", prev.Record.FilePath),
					zap.String("skipped", e.Record.FilePath))
				continue
			}
			catalog[e.Record.ID] = e
		}
	}
	return catalog, nil
}

func scanFolder(ctx context.Context, folder string, reuse map[string]*Entry, logger *zap.Logger) []*Entry {
	matches, err := doublestar.Glob(os.DirFS(folder), mockFilePattern)
	if err != nil {
		logger.Warn("error in enumerating the mock folder", zap.String("folder", folder), zap.Error(err))
		return nil
	}

	out := make([]*Entry, 0, len(matches))
	for _, m := range matches {
		if ctx.Err() != nil {
			return out
		}
		if !mock.IsMockFile(filepath.Base(m)) {
			continue
		}
		if e := readEntry(filepath.Join(folder, filepath.FromSlash(m)), reuse, logger); e != nil {
			out = append(out, e)
		}
	}
	return out
}

// readEntry loads the mock at path, reusing a known entry when the file is
// unchanged. It returns nil for files that are gone or unreadable.
func readEntry(path string, reuse map[string]*Entry, logger *zap.Logger) *Entry {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	if prev, ok := reuse[path]; ok && prev.unchanged(info) {
		return prev
	}

	r, err := mock.ReadFile(path, true)
	if err != nil {
		logger.Warn("error in loading the mock file, skipping it", zap.String("file", path), zap.Error(err))
		return nil
	}
	return newEntry(r, info)
}
