// Package wal is the local write-ahead log of view attempts. Each line is
// "<unix-epoch-seconds>,<item_id>,<viewer_id>". Recovery replays the newest
// entries into the fast counter store and truncates the file.
package wal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/viewstats"
)

const (
	// DefaultReplayLimit is the number of most recent entries replayed by RecoverPending.
	DefaultReplayLimit = 1000

	// DefaultReplayTimeout bounds one RecoverPending pass.
	DefaultReplayTimeout = 30 * time.Second

	// MaxIDLength is the longest item or viewer id Append accepts.
	MaxIDLength = 255

	// maxLineLength fits the timestamp, two ids of MaxIDLength and the separators.
	maxLineLength = 64 + 2*MaxIDLength
)

// Replayer receives recovered entries. storage.FastCounterStore satisfies it.
type Replayer interface {
	RecordView(ctx context.Context, itemID, viewerID string) error
}

// Entry is a single logged view attempt.
type Entry struct {
	Timestamp time.Time
	ItemID    string
	ViewerID  string
}

// Config holds write-ahead log configuration.
type Config struct {
	Path        string
	ReplayLimit int
	SyncWrites  bool

	// ReplayTimeout is the deadline for a whole recovery pass. Entries not
	// replayed before it expires are logged as failed and dropped with the rest.
	ReplayTimeout time.Duration
}

// Log is a mutex-serialized append-only file. Append and RecoverPending never interleave.
type Log struct {
	config Config
	file   *os.File
	log    *logrus.Logger
	mu     sync.Mutex
}

// Open creates the parent directory if needed and opens the log for appending.
func Open(cfg Config, log *logrus.Logger) (*Log, error) {
	if log == nil {
		log = logrus.New()
	}
	if cfg.ReplayLimit <= 0 {
		cfg.ReplayLimit = DefaultReplayLimit
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = DefaultReplayTimeout
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create wal directory: %w: %w", viewstats.ErrWALIO, err)
	}

	file, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w: %w", viewstats.ErrWALIO, err)
	}

	return &Log{config: cfg, file: file, log: log}, nil
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.config.Path
}

// Append writes one entry. Ids containing the field or record separators, or
// longer than MaxIDLength, are rejected.
func (l *Log) Append(ts time.Time, itemID, viewerID string) error {
	if err := validateID(itemID); err != nil {
		return fmt.Errorf("wal append item: %w: %w", viewstats.ErrWALIO, err)
	}
	if err := validateID(viewerID); err != nil {
		return fmt.Errorf("wal append viewer: %w: %w", viewstats.ErrWALIO, err)
	}

	line := formatEntry(Entry{Timestamp: ts, ItemID: itemID, ViewerID: viewerID})

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("wal append: %w: %w", viewstats.ErrWALIO, err)
	}
	if l.config.SyncWrites {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("wal sync: %w: %w", viewstats.ErrWALIO, err)
		}
	}
	return nil
}

// RecoverPending replays the newest ReplayLimit entries into r, then truncates the log.
// Per-entry replay failures are logged and skipped; the log is cleared regardless.
// A log that cannot be read completely is left untouched and reported as ErrWALIO.
// It returns the number of entries replayed successfully.
func (l *Log) RecoverPending(ctx context.Context, r Replayer) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readTail()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, l.config.ReplayTimeout)
	defer cancel()

	replayed := 0
	for _, e := range entries {
		err := ctx.Err()
		if err == nil {
			err = r.RecordView(ctx, e.ItemID, e.ViewerID)
		}
		if err != nil {
			l.log.WithError(err).WithFields(logrus.Fields{
				"item_id":   e.ItemID,
				"viewer_id": e.ViewerID,
			}).Error("Failed to replay wal entry")
			continue
		}
		replayed++
	}

	if err := l.file.Truncate(0); err != nil {
		return replayed, fmt.Errorf("wal truncate: %w: %w", viewstats.ErrWALIO, err)
	}

	l.log.WithFields(logrus.Fields{
		"entries":  len(entries),
		"replayed": replayed,
	}).Info("Recovered pending wal entries")

	return replayed, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// readTail returns the last ReplayLimit entries. Caller holds mu.
func (l *Log) readTail() ([]Entry, error) {
	data, err := os.ReadFile(l.config.Path)
	if err != nil {
		return nil, fmt.Errorf("wal read: %w: %w", viewstats.ErrWALIO, err)
	}

	entries, err := l.parse(data)
	if err != nil {
		return nil, err
	}
	if len(entries) > l.config.ReplayLimit {
		entries = entries[len(entries)-l.config.ReplayLimit:]
	}
	return entries, nil
}

// parse reads every line of data. Lines are bounded by the whole buffer so an
// oversized line from an older writer is skipped as malformed instead of
// stopping the scan.
func (l *Log) parse(data []byte) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, maxLineLength+1), len(data)+maxLineLength+1)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := parseEntry(line)
		if err != nil {
			l.log.WithError(err).WithField("line_bytes", len(line)).Warn("Skipping malformed wal line")
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("wal scan: %w: %w", viewstats.ErrWALIO, err)
	}
	return entries, nil
}

func validateID(id string) error {
	if len(id) > MaxIDLength {
		return fmt.Errorf("id exceeds %d bytes", MaxIDLength)
	}
	if strings.ContainsAny(id, ",\n") {
		return fmt.Errorf("id %q contains a separator", id)
	}
	return nil
}

func formatEntry(e Entry) string {
	secs := float64(e.Timestamp.UnixNano()) / float64(time.Second)
	return strconv.FormatFloat(secs, 'f', 6, 64) + "," + e.ItemID + "," + e.ViewerID + "\n"
}

func parseEntry(line string) (Entry, error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) != 3 {
		return Entry{}, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}

	secs, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse timestamp: %w", err)
	}
	if parts[1] == "" {
		return Entry{}, fmt.Errorf("empty item id")
	}
	if len(parts[1]) > MaxIDLength || len(parts[2]) > MaxIDLength {
		return Entry{}, fmt.Errorf("id exceeds %d bytes", MaxIDLength)
	}

	return Entry{
		Timestamp: time.Unix(0, int64(secs*float64(time.Second))).UTC(),
		ItemID:    parts[1],
		ViewerID:  parts[2],
	}, nil
}
