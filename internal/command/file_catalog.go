package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/glizzus/cmdcron/internal/util"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 250 * time.Millisecond

type catalogFile struct {
	Commands []Definition `yaml:"commands"`
}

// FileCatalog is a Catalog read from a YAML file. Watch keeps it in sync
// with the file so commands added after startup become schedulable.
type FileCatalog struct {
	path string
	log  *slog.Logger

	mu   sync.RWMutex
	defs []Definition
}

// NewFileCatalog reads the catalog at path.
func NewFileCatalog(path string, logger *slog.Logger) (*FileCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &FileCatalog{path: path, log: logger}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseCatalog decodes catalog YAML. Command names must be unique and non-empty.
func ParseCatalog(data []byte) ([]Definition, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Commands))
	for i, d := range f.Commands {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("catalog entry %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("catalog lists %q more than once", name)
		}
		seen[name] = struct{}{}
		f.Commands[i].Name = name
	}
	return f.Commands, nil
}

// Reload re-reads the file. On failure the previous contents are kept.
func (c *FileCatalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog %s: %w", c.path, err)
	}
	defs, err := ParseCatalog(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.defs = defs
	c.mu.Unlock()
	return nil
}

func (c *FileCatalog) ListCommands(_ context.Context) (map[string]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.defs))
	for _, d := range c.defs {
		out[d.Name] = d.App
	}
	return out, nil
}

func (c *FileCatalog) ArgumentSchema(_ context.Context, name string) ([]ArgumentSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := util.FindFirst(c.defs, func(d Definition) bool { return d.Name == name })
	if !ok {
		return nil, &UnknownCommandError{Name: name}
	}
	return slices.Clone(d.Arguments), nil
}

var _ Catalog = (*FileCatalog)(nil)

// Watch reloads the catalog whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up too.
func (c *FileCatalog) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(c.path)
	file := filepath.Base(c.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if err := c.Reload(); err != nil {
				c.log.Warn("catalog reload failed; keeping previous commands", "path", c.path, "error", err)
				return
			}
			c.log.Info("catalog reloaded", "path", c.path)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn("catalog watch error", "path", c.path, "error", err)
		}
	}
}
