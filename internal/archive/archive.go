// Package archive exports and restores zstd compressed JSON snapshots of the
// key-value state through a blob store.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"kittycore/internal/blob"
	"kittycore/pkg/domain"
)

const (
	// DefaultPrefix is the key prefix of every archived snapshot.
	DefaultPrefix = "snapshots/"
	suffix        = ".json.zst"
	contentType   = "application/zstd"
	entriesMeta   = "entries"
	stampLayout   = "20060102T150405.000000000Z"
)

// ErrNoSnapshots is returned by Latest when nothing has been archived.
var ErrNoSnapshots = errors.New("archive: no snapshots")

// Archiver writes and reads snapshots under a key prefix.
type Archiver struct {
	store  blob.Store
	prefix string
	now    func() time.Time
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(a *Archiver) { a.prefix = prefix }
}

// WithNow overrides the clock used to name unlabelled snapshots.
func WithNow(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// New constructs an archiver over store.
func New(store blob.Store, opts ...Option) *Archiver {
	a := &Archiver{store: store, prefix: DefaultPrefix, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key returns the blob key used for label. An empty label uses the current
// time.
func (a *Archiver) Key(label string) string {
	if label == "" {
		label = a.now().UTC().Format(stampLayout)
	}
	return a.prefix + label + suffix
}

// Export writes the committed state of src under Key(label).
func (a *Archiver) Export(ctx context.Context, src domain.Snapshotter, label string) (blob.Info, error) {
	snap := src.ExportState()
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return blob.Info{}, err
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		return blob.Info{}, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return blob.Info{}, err
	}
	key := a.Key(label)
	info, err := a.store.Put(ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{entriesMeta: strconv.Itoa(len(snap.Entries))},
	})
	if err != nil {
		return blob.Info{}, fmt.Errorf("store snapshot %s: %w", key, err)
	}
	return info, nil
}

// Load reads and decodes the snapshot at key.
func (a *Archiver) Load(ctx context.Context, key string) (domain.Snapshot, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer func() { _ = rc.Close() }()
	dec, err := zstd.NewReader(rc)
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer dec.Close()
	var snap domain.Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", key, err)
	}
	seen := make(map[string]struct{}, len(snap.Entries))
	for _, e := range snap.Entries {
		if len(e.Key) == 0 {
			return domain.Snapshot{}, fmt.Errorf("snapshot %s: empty key", key)
		}
		if _, dup := seen[string(e.Key)]; dup {
			return domain.Snapshot{}, fmt.Errorf("snapshot %s: duplicate key %x", key, e.Key)
		}
		seen[string(e.Key)] = struct{}{}
	}
	return snap, nil
}

// Restore replaces the state of dst with the snapshot at key and returns the
// number of entries restored.
func (a *Archiver) Restore(ctx context.Context, dst domain.Snapshotter, key string) (int, error) {
	snap, err := a.Load(ctx, key)
	if err != nil {
		return 0, err
	}
	if err := dst.ReplaceState(ctx, snap); err != nil {
		return 0, fmt.Errorf("replace state: %w", err)
	}
	return len(snap.Entries), nil
}

// List returns the archived snapshots ordered by key.
func (a *Archiver) List(ctx context.Context) ([]blob.Info, error) {
	infos, err := a.store.List(ctx, a.prefix)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Key, suffix) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Latest returns the key of the most recent unlabelled snapshot, ordered by
// the timestamp in its key. Labelled snapshots are only considered when no
// unlabelled one exists, and then the last modified wins.
func (a *Archiver) Latest(ctx context.Context) (string, error) {
	infos, err := a.List(ctx)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", ErrNoSnapshots
	}
	var (
		latest string
		newest time.Time
	)
	for _, info := range infos {
		at, ok := a.stamp(info.Key)
		if ok && (latest == "" || at.After(newest)) {
			latest, newest = info.Key, at
		}
	}
	if latest != "" {
		return latest, nil
	}
	pick := infos[0]
	for _, info := range infos[1:] {
		if info.LastModified.After(pick.LastModified) {
			pick = info
		}
	}
	return pick.Key, nil
}

// stamp parses the creation time out of an unlabelled snapshot key.
func (a *Archiver) stamp(key string) (time.Time, bool) {
	label := strings.TrimSuffix(strings.TrimPrefix(key, a.prefix), suffix)
	at, err := time.Parse(stampLayout, label)
	return at, err == nil
}

// Stat returns the stored metadata of the snapshot at key.
func (a *Archiver) Stat(ctx context.Context, key string) (blob.Info, error) {
	return a.store.Head(ctx, key)
}

// Delete removes the snapshot at key and reports whether it existed.
func (a *Archiver) Delete(ctx context.Context, key string) (bool, error) {
	return a.store.Delete(ctx, key)
}

// Prune deletes every unlabelled snapshot except the keep most recent ones
// and returns the deleted keys. Labelled snapshots are left alone.
func (a *Archiver) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("archive: keep must not be negative, got %d", keep)
	}
	infos, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	type stamped struct {
		key string
		at  time.Time
	}
	var unlabelled []stamped
	for _, info := range infos {
		if at, ok := a.stamp(info.Key); ok {
			unlabelled = append(unlabelled, stamped{info.Key, at})
		}
	}
	sort.Slice(unlabelled, func(i, j int) bool { return unlabelled[i].at.After(unlabelled[j].at) })
	var deleted []string
	for i := keep; i < len(unlabelled); i++ {
		key := unlabelled[i].key
		if _, err := a.store.Delete(ctx, key); err != nil {
			return deleted, fmt.Errorf("delete snapshot %s: %w", key, err)
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}
