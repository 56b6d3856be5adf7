package domain

import "context"

// KV is the key-value surface consumed by the state machine. Reads observe
// writes made earlier in the same transaction.
type KV interface {
	Get(key []byte) ([]byte, bool)
	Put(key, value []byte)
	Remove(key []byte)
	Exists(key []byte) bool
}

// Transaction is a mutable unit of work. Nothing it writes becomes visible
// outside until the surrounding RunInTransaction commits.
type Transaction interface {
	KV
	Snapshot() TransactionView
}

// TransactionView provides read-only access to committed or in-flight state.
type TransactionView interface {
	Get(key []byte) ([]byte, bool)
	Exists(key []byte) bool
}

// PersistentStore is the abstraction over durable backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}

// Snapshotter is implemented by stores that can export and replace their full
// state, used by the archive.
type Snapshotter interface {
	ExportState() Snapshot
	ReplaceState(ctx context.Context, snapshot Snapshot) error
}

// Change captures a single key mutation recorded by a transaction. A nil
// Before means the key did not exist; a nil After means it was removed.
type Change struct {
	Key    []byte
	Before []byte
	After  []byte
}

// Write is one entry of a committed write set handed to durable backends.
type Write struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Entry is a key/value pair of a Snapshot.
type Entry struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// Snapshot is a point-in-time copy of the full state ordered by key.
type Snapshot struct {
	Entries []Entry `json:"entries"`
}
