// Package hotfolder submits job tickets dropped into a watched directory.
package hotfolder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brianly1003/pressd/internal/domain/ports"
	"github.com/brianly1003/pressd/internal/intake"
	"github.com/brianly1003/pressd/internal/queue"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Subfolders that receive tickets once handled.
const (
	DoneDir     = "done"
	RejectedDir = "rejected"
)

// Submitter accepts tickets read from the folder.
type Submitter interface {
	Submit(ctx context.Context, t intake.Ticket) (*ports.JobRecord, *queue.Entry, error)
}

// Config holds hot folder settings.
type Config struct {
	Dir        string
	DebounceMS int
	Extensions []string
}

// Watcher moves each new ticket file through the submitter and then into
// the done or rejected subfolder.
type Watcher struct {
	dir        string
	debounce   time.Duration
	extensions []string
	submitter  Submitter
	logger     zerolog.Logger

	debouncer *debouncer
	ctx       context.Context
}

// New creates a hot folder watcher.
func New(cfg Config, submitter Submitter, logger zerolog.Logger) *Watcher {
	debounce := time.Duration(cfg.DebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	exts := lo.Map(cfg.Extensions, func(e string, _ int) string {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		return e
	})
	if len(exts) == 0 {
		exts = []string{".yaml", ".yml", ".json"}
	}
	return &Watcher{
		dir:        cfg.Dir,
		debounce:   debounce,
		extensions: exts,
		submitter:  submitter,
		logger:     logger.With().Str("component", "hotfolder").Str("dir", cfg.Dir).Logger(),
	}
}

// Run watches the folder until ctx is done. Files already present are
// submitted first.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{w.dir, filepath.Join(w.dir, DoneDir), filepath.Join(w.dir, RejectedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("create hot folder: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.ctx = ctx
	w.debouncer = newDebouncer(w.debounce, w.handle)
	defer w.debouncer.stop()

	w.scanExisting()
	w.logger.Info().Dur("debounce", w.debounce).Msg("hot folder watching")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("hot folder stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn().Err(err).Msg("initial scan failed")
		return
	}
	for _, e := range entries {
		if e.IsDir() || !w.accepts(e.Name()) {
			continue
		}
		w.debouncer.add(filepath.Join(w.dir, e.Name()))
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !w.accepts(event.Name) {
		return
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.debouncer.add(event.Name)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.debouncer.forget(event.Name)
	}
}

// accepts reports whether name looks like a ticket. Hidden and partial
// files are skipped.
func (w *Watcher) accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".part") {
		return false
	}
	return lo.Contains(w.extensions, strings.ToLower(filepath.Ext(base)))
}

func (w *Watcher) handle(path string) {
	log := w.logger.With().Str("file", filepath.Base(path)).Logger()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	body, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read ticket")
		return
	}

	rec, entry, err := w.submitter.Submit(w.ctx, intake.Ticket{
		Name:        filepath.Base(path),
		ContentType: contentType(path),
		Body:        body,
	})

	target := DoneDir
	if err != nil {
		target = RejectedDir
		log.Warn().Err(err).Msg("ticket not queued")
	} else {
		log.Info().Str("job_id", rec.ID).Str("entry_id", entry.ID).Msg("ticket queued")
	}

	if err := w.move(path, target); err != nil {
		log.Error().Err(err).Msg("failed to move ticket")
	}
}

// move renames path into sub, adding a timestamp when the name is taken.
func (w *Watcher) move(path, sub string) error {
	dest := filepath.Join(w.dir, sub, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(dest, ext), time.Now().UnixNano(), ext)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return os.Rename(path, dest)
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	return "application/octet-stream"
}
