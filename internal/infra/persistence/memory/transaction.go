package memory

import "kittycore/pkg/domain"

// overlayValue is a pending write; deleted marks a removal.
type overlayValue struct {
	value   []byte
	deleted bool
}

type transaction struct {
	base    map[string][]byte
	writes  map[string]overlayValue
	changes []domain.Change
}

var _ domain.Transaction = (*transaction)(nil)

func newTransaction(base map[string][]byte) *transaction {
	return &transaction{
		base:   base,
		writes: make(map[string]overlayValue),
	}
}

func (tx *transaction) Get(key []byte) ([]byte, bool) {
	if w, ok := tx.writes[string(key)]; ok {
		if w.deleted {
			return nil, false
		}
		return cloneBytes(w.value), true
	}
	v, ok := tx.base[string(key)]
	if !ok {
		return nil, false
	}
	return cloneBytes(v), true
}

func (tx *transaction) Exists(key []byte) bool {
	if w, ok := tx.writes[string(key)]; ok {
		return !w.deleted
	}
	_, ok := tx.base[string(key)]
	return ok
}

func (tx *transaction) Put(key, value []byte) {
	before, _ := tx.Get(key)
	after := cloneBytes(value)
	if after == nil {
		after = []byte{}
	}
	tx.writes[string(key)] = overlayValue{value: after}
	tx.changes = append(tx.changes, domain.Change{Key: cloneBytes(key), Before: before, After: cloneBytes(after)})
}

func (tx *transaction) Remove(key []byte) {
	before, existed := tx.Get(key)
	if !existed {
		return
	}
	tx.writes[string(key)] = overlayValue{deleted: true}
	tx.changes = append(tx.changes, domain.Change{Key: cloneBytes(key), Before: before})
}

// Snapshot returns a read-only view including the pending writes.
func (tx *transaction) Snapshot() domain.TransactionView {
	return tx
}

// writeSet collapses the overlay into ordered writes, dropping entries that
// leave the committed value unchanged.
func (tx *transaction) writeSet() []domain.Write {
	out := make([]domain.Write, 0, len(tx.writes))
	for k, w := range tx.writes {
		base, existed := tx.base[k]
		if w.deleted {
			if existed {
				out = append(out, domain.Write{Key: []byte(k), Deleted: true})
			}
			continue
		}
		if existed && string(base) == string(w.value) {
			continue
		}
		out = append(out, domain.Write{Key: []byte(k), Value: cloneBytes(w.value)})
	}
	sortWrites(out)
	return out
}
