// Package events provides event sinks: an hourly rotated, zstd compressed
// JSONL journal on disk and an in-memory sink.
package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"kittycore/pkg/domain"
)

const hourLayout = "2006-01-02-15"

// Journal appends one JSON line per event to <dir>/<prefix>-<hour>.jsonl.zst.
// Each rotation opens a new zstd frame so reopened files stay decodable.
type Journal struct {
	dir    string
	prefix string
	now    func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// JournalOption configures a Journal.
type JournalOption func(*Journal)

// WithPrefix changes the file name prefix (default "events").
func WithPrefix(prefix string) JournalOption {
	return func(j *Journal) {
		if prefix != "" {
			j.prefix = prefix
		}
	}
}

// WithNow overrides the clock used for rotation.
func WithNow(now func() time.Time) JournalOption {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// NewJournal constructs a journal writing below dir. Files are created lazily.
func NewJournal(dir string, opts ...JournalOption) *Journal {
	j := &Journal{
		dir:    dir,
		prefix: "events",
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Publish implements the core event sink. Events without an ID get a random
// UUID.
func (j *Journal) Publish(_ context.Context, event domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	hour := j.now().UTC().Format(hourLayout)
	if hour != j.curHour {
		if err := j.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	return j.w.Flush()
}

// Path returns the file used for the hour containing t.
func (j *Journal) Path(t time.Time) string {
	return j.pathForHour(t.UTC().Format(hourLayout))
}

// Close flushes and closes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o750); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(j.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f = f
	j.enc = enc
	j.w = bufio.NewWriterSize(enc, 64*1024)
	j.curHour = hour
	return nil
}

func (j *Journal) closeLocked() error {
	var errs []error
	if j.w != nil {
		errs = append(errs, j.w.Flush())
	}
	if j.enc != nil {
		errs = append(errs, j.enc.Close())
		j.enc = nil
	}
	if j.f != nil {
		errs = append(errs, j.f.Close())
		j.f = nil
	}
	j.w = nil
	j.curHour = ""
	return errors.Join(errs...)
}

func (j *Journal) pathForHour(hour string) string {
	return filepath.Join(j.dir, fmt.Sprintf("%s-%s.jsonl.zst", j.prefix, hour))
}

// ReadJournal decodes every event stored in a journal file.
func ReadJournal(path string) ([]domain.Event, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied journal path
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return DecodeJournal(f)
}

// DecodeJournal reads zstd compressed JSON lines from r.
func DecodeJournal(r io.Reader) ([]domain.Event, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var out []domain.Event
	jd := json.NewDecoder(dec)
	for {
		var ev domain.Event
		if err := jd.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, fmt.Errorf("decode event %d: %w", len(out), err)
		}
		out = append(out, ev)
	}
}
