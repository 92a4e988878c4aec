package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/crucible-dev/crucible/pkg/events"
)

// Follow streams envelopes appended after the current end of the
// store until the context is cancelled. Each new well-formed record
// is passed to fn; malformed lines are logged and skipped, same as a
// scan. The store file does not have to exist yet.
func (l *Ledger) Follow(ctx context.Context, fn func(env *events.Envelope)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directory so creation and the rename done by
	// compaction are both observed.
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newIOError("follow", l.path, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	offset := int64(0)
	if info, err := os.Stat(l.path); err == nil {
		offset = info.Size()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != l.path {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				next, err := l.readFrom(offset, fn)
				if err != nil {
					return err
				}
				offset = next
			case event.Op&(fsnotify.Rename|fsnotify.Remove) != 0:
				// Compaction replaced the file. Resume from the new
				// end rather than replaying retained history.
				offset = 0
				if info, err := os.Stat(l.path); err == nil {
					offset = info.Size()
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Error().Err(err).Str("path", l.path).Msg("Ledger watcher error")
		}
	}
}

// readFrom parses complete lines starting at offset and returns the
// offset just past the last complete line. A trailing partial line is
// left for the next read.
func (l *Ledger) readFrom(offset int64, fn func(env *events.Envelope)) (int64, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return offset, nil
		}
		return offset, newIOError("follow", l.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, newIOError("follow", l.path, err)
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// Partial trailing line; pick it up on the next write.
			return offset, nil
		}
		offset += int64(len(line))

		line = line[:len(line)-1]
		if len(line) == 0 {
			continue
		}

		var env events.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			l.log.Warn().Err(err).Str("path", l.path).Msg("Skipping malformed ledger record")
			continue
		}
		fn(&env)
	}
}
