package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/crucible-dev/crucible/pkg/events"
	"github.com/crucible-dev/crucible/pkg/telemetry"
)

const (
	// DefaultLockTimeout bounds the wait for the exclusive append
	// lock. Conservative; configurable via WithLockTimeout.
	DefaultLockTimeout = 5 * time.Second

	// lockRetryDelay is the poll interval while waiting for the lock.
	lockRetryDelay = 25 * time.Millisecond

	// autoCompactInterval triggers best-effort compaction every N
	// events observed after an append.
	autoCompactInterval = 100

	// autoCompactRetentionDays is the retention window used by
	// auto-compaction.
	autoCompactRetentionDays = 90

	// maxLineBytes caps a single scanned record. Envelopes are short;
	// anything beyond this is treated as a malformed line.
	maxLineBytes = 1 << 20
)

// Status is the derived latest-state view for one extension. It is
// always computed by folding events, never persisted.
type Status struct {
	ExtensionName string       `json:"extension_name"`
	CurrentState  events.State `json:"current_state"`
	LastEventTime time.Time    `json:"last_event_time"`
	LastEventID   string       `json:"last_event_id"`
	Version       string       `json:"version,omitempty"`
}

// Stats summarizes the backing store.
type Stats struct {
	TotalEvents     int                 `json:"total_events"`
	Extensions      int                 `json:"extensions"`
	FileSizeBytes   int64               `json:"file_size_bytes"`
	OldestTimestamp *time.Time          `json:"oldest_timestamp,omitempty"`
	NewestTimestamp *time.Time          `json:"newest_timestamp,omitempty"`
	EventTypeCounts map[events.Type]int `json:"event_type_counts"`
}

// Filter selects events for Query.
type Filter struct {
	// ExtensionName restricts to one extension when non-empty.
	ExtensionName string

	// Types restricts to the given event types when non-empty.
	Types []events.Type

	// Since keeps events at or after this time when set.
	Since time.Time

	// Until keeps events at or before this time when set.
	Until time.Time

	// Limit caps the result when positive.
	Limit int

	// Tail returns the most recent Limit events in chronological
	// order instead of the first Limit.
	Tail bool
}

// Ledger is the append-only store of event envelopes.
type Ledger struct {
	path        string
	lockTimeout time.Duration
	autoCompact bool
	log         zerolog.Logger
	metrics     *telemetry.Metrics
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLockTimeout sets the bound on waiting for the append lock.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.lockTimeout = d
		}
	}
}

// WithLogger sets the logger used for scan warnings and
// auto-compaction diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithMetrics attaches a metrics collector. Appends, scans, and
// compactions are counted, and the file-size gauge is refreshed after
// every write.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithoutAutoCompact disables the best-effort compaction that runs
// after every appendth event. Tests use this to control file contents
// exactly.
func WithoutAutoCompact() Option {
	return func(l *Ledger) { l.autoCompact = false }
}

// DefaultPath returns the conventional ledger location,
// ~/.crucible/status_ledger.jsonl.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".crucible", "status_ledger.jsonl"), nil
}

// Open returns a ledger backed by the given file. The file does not
// have to exist yet; it is created on first append.
func Open(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path:        path,
		lockTimeout: DefaultLockTimeout,
		autoCompact: true,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}

// Append serializes the envelope to one line and writes it durably
// under an exclusive advisory lock. The critical section is kept as
// small as possible: open in append mode, lock, write one line, sync,
// unlock. A line is either fully present or absent after a crash.
func (l *Ledger) Append(ctx context.Context, env *events.Envelope) error {
	if err := l.recordAppend(l.writeEnvelope(ctx, env)); err != nil {
		return err
	}

	// Runs outside the append lock so it can take its own.
	if l.autoCompact {
		l.maybeAutoCompact(ctx)
	}
	return nil
}

func (l *Ledger) writeEnvelope(ctx context.Context, env *events.Envelope) error {
	line, err := json.Marshal(env)
	if err != nil {
		return newSerializationError("append", err)
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return newIOError("append", l.path, err)
		}
	}

	return l.withLock(ctx, "append", func() error {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return newIOError("append", l.path, err)
		}
		defer f.Close()

		if _, err := f.Write(append(line, '\n')); err != nil {
			return newIOError("append", l.path, err)
		}
		if err := f.Sync(); err != nil {
			return newIOError("append", l.path, err)
		}
		if l.metrics != nil {
			if info, err := f.Stat(); err == nil {
				l.metrics.SetLedgerSize(info.Size())
			}
		}
		return nil
	})
}

// recordAppend notes the append outcome on the attached metrics and
// passes the error through unchanged.
func (l *Ledger) recordAppend(err error) error {
	if l.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		l.metrics.RecordLedgerAppend(status)
	}
	return err
}

// withLock runs fn while holding the exclusive advisory lock on the
// backing file, waiting at most the configured bound.
func (l *Ledger) withLock(ctx context.Context, op string, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, l.lockTimeout)
	defer cancel()

	fl := flock.New(l.path)
	locked, err := fl.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && lockCtx.Err() == nil {
		return newIOError(op, l.path, err)
	}
	if !locked {
		return newLockTimeoutError(op, l.path)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			l.log.Warn().Err(err).Str("path", l.path).Msg("Failed to release ledger lock")
		}
	}()

	return fn()
}

// scan walks every well-formed envelope in file order. Malformed
// lines (including a truncated trailing line from a concurrent
// in-flight write) are logged as warnings and skipped. fn returning
// false stops the scan early.
func (l *Ledger) scan(fn func(env *events.Envelope) bool) error {
	if l.metrics != nil {
		l.metrics.RecordLedgerScan()
	}

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return newIOError("scan", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env events.Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			l.log.Warn().
				Err(err).
				Str("path", l.path).
				Int("line", lineNo).
				Msg("Skipping malformed ledger record")
			if l.metrics != nil {
				l.metrics.RecordError(string(ErrorClassParse))
			}
			continue
		}
		if !fn(&env) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return newIOError("scan", l.path, err)
	}
	return nil
}

// AllLatestStatus folds the whole stream into the latest-known status
// per extension. Latest is the envelope with the greatest timestamp;
// ties resolve to the later line (append order). Single linear scan,
// no locks, no filesystem verification.
func (l *Ledger) AllLatestStatus() (map[string]Status, error) {
	statuses := make(map[string]Status)

	err := l.scan(func(env *events.Envelope) bool {
		cur, seen := statuses[env.ExtensionName]
		if seen && env.Timestamp.Before(cur.LastEventTime) {
			return true
		}
		st := Status{
			ExtensionName: env.ExtensionName,
			CurrentState:  env.StateAfter,
			LastEventTime: env.Timestamp,
			LastEventID:   env.EventID,
			Version:       cur.Version,
		}
		if v := events.EventVersion(env.Event); v != "" {
			st.Version = v
		}
		statuses[env.ExtensionName] = st
		return true
	})
	if err != nil {
		return nil, err
	}
	return statuses, nil
}

// ExtensionHistory returns the events naming the extension, newest
// first. A positive limit truncates to the most recent events. An
// untracked extension yields an empty slice, not an error.
func (l *Ledger) ExtensionHistory(name string, limit int) ([]*events.Envelope, error) {
	var history []*events.Envelope

	err := l.scan(func(env *events.Envelope) bool {
		if env.ExtensionName == name {
			history = append(history, env)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	// Reverse first so that, after the stable sort, equal timestamps
	// keep the later-appended event first.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.After(history[j].Timestamp)
	})

	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

// EventsSince returns events strictly newer than the given bound, in
// file order. Used for audit export and time-windowed queries.
func (l *Ledger) EventsSince(since time.Time) ([]*events.Envelope, error) {
	var out []*events.Envelope

	err := l.scan(func(env *events.Envelope) bool {
		if env.Timestamp.After(since) {
			out = append(out, env)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Query returns events matching the filter, in file order. With Tail
// set, the last Limit matches are returned instead of the first.
func (l *Ledger) Query(filter Filter) ([]*events.Envelope, error) {
	var out []*events.Envelope

	err := l.scan(func(env *events.Envelope) bool {
		if filter.ExtensionName != "" && env.ExtensionName != filter.ExtensionName {
			return true
		}
		if len(filter.Types) > 0 {
			match := false
			for _, t := range filter.Types {
				if env.Event.EventType() == t {
					match = true
					break
				}
			}
			if !match {
				return true
			}
		}
		if !filter.Since.IsZero() && env.Timestamp.Before(filter.Since) {
			return true
		}
		if !filter.Until.IsZero() && env.Timestamp.After(filter.Until) {
			return true
		}
		out = append(out, env)
		return true
	})
	if err != nil {
		return nil, err
	}

	if filter.Limit > 0 && len(out) > filter.Limit {
		if filter.Tail {
			out = out[len(out)-filter.Limit:]
		} else {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

// Count returns the number of non-empty lines without parsing JSON.
func (l *Ledger) Count() (int, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, newIOError("count", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	count := 0
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, newIOError("count", l.path, err)
	}
	return count, nil
}

// Stats reports store-level statistics from one full scan.
func (l *Ledger) Stats() (Stats, error) {
	stats := Stats{EventTypeCounts: make(map[events.Type]int)}
	extensions := make(map[string]struct{})

	err := l.scan(func(env *events.Envelope) bool {
		stats.TotalEvents++
		extensions[env.ExtensionName] = struct{}{}
		stats.EventTypeCounts[env.Event.EventType()]++

		ts := env.Timestamp
		if stats.OldestTimestamp == nil || ts.Before(*stats.OldestTimestamp) {
			stats.OldestTimestamp = &ts
		}
		if stats.NewestTimestamp == nil || ts.After(*stats.NewestTimestamp) {
			stats.NewestTimestamp = &ts
		}
		return true
	})
	if err != nil {
		return Stats{}, err
	}
	stats.Extensions = len(extensions)

	if info, err := os.Stat(l.path); err == nil {
		stats.FileSizeBytes = info.Size()
	}
	return stats, nil
}

// Compact removes events older than the retention window, keeping for
// each extension at least its most recent event (the carry-forward)
// so that latest-status is unchanged. The retained set is written to
// a temp file and renamed over the live store; a failure before the
// rename leaves the original untouched. Returns the number of events
// removed.
func (l *Ledger) Compact(ctx context.Context, retentionDays int) (int, error) {
	if _, err := os.Stat(l.path); os.IsNotExist(err) {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	latest, err := l.AllLatestStatus()
	if err != nil {
		return 0, err
	}
	carryForward := make(map[string]string, len(latest))
	for name, st := range latest {
		carryForward[name] = st.LastEventID
	}

	removed := 0
	err = l.withLock(ctx, "compact", func() error {
		tmpPath := l.path + ".tmp"
		tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return newIOError("compact", tmpPath, err)
		}
		defer func() {
			tmp.Close()
			os.Remove(tmpPath)
		}()

		var writeErr error
		scanErr := l.scan(func(env *events.Envelope) bool {
			keep := !env.Timestamp.Before(cutoff) || carryForward[env.ExtensionName] == env.EventID
			if !keep {
				removed++
				return true
			}
			line, err := json.Marshal(env)
			if err != nil {
				l.log.Warn().Err(err).Str("event_id", env.EventID).
					Msg("Dropping unencodable record during compaction")
				return true
			}
			if _, err := tmp.Write(append(line, '\n')); err != nil {
				writeErr = newIOError("compact", tmpPath, err)
				return false
			}
			return true
		})
		if scanErr != nil {
			return scanErr
		}
		if writeErr != nil {
			return writeErr
		}

		if err := tmp.Sync(); err != nil {
			return newIOError("compact", tmpPath, err)
		}
		if err := tmp.Close(); err != nil {
			return newIOError("compact", tmpPath, err)
		}
		if err := os.Rename(tmpPath, l.path); err != nil {
			return newIOError("compact", l.path, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if l.metrics != nil {
		l.metrics.RecordLedgerCompaction(removed)
		if info, err := os.Stat(l.path); err == nil {
			l.metrics.SetLedgerSize(info.Size())
		}
	}
	return removed, nil
}

// Export writes events (all, or only those strictly after since) to
// an external file as a pretty-printed JSON array. Returns the number
// of events exported.
func (l *Ledger) Export(path string, since time.Time) (int, error) {
	evs, err := l.EventsSince(since)
	if err != nil {
		return 0, err
	}
	if evs == nil {
		evs = []*events.Envelope{}
	}

	data, err := json.MarshalIndent(evs, "", "  ")
	if err != nil {
		return 0, newSerializationError("export", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return 0, newIOError("export", path, err)
	}
	return len(evs), nil
}

// maybeAutoCompact compacts when the event count reaches a multiple
// of the compaction interval. Best effort: failures are logged, never
// propagated, and never affect the append that triggered it.
func (l *Ledger) maybeAutoCompact(ctx context.Context) {
	count, err := l.Count()
	if err != nil {
		l.log.Warn().Err(err).Msg("Auto-compaction skipped: failed to count events")
		return
	}
	if count == 0 || count%autoCompactInterval != 0 {
		return
	}

	l.log.Debug().Int("events", count).Msg("Auto-compacting ledger")
	removed, err := l.Compact(ctx, autoCompactRetentionDays)
	if err != nil {
		l.log.Warn().Err(err).Msg("Auto-compaction failed")
		return
	}
	if removed > 0 {
		l.log.Info().Int("removed", removed).Msg("Auto-compacted ledger")
	}
}
