// Package memory provides the in-memory transactional key-value store. It is
// used directly for tests and ephemeral runs and embedded by the durable
// backends, which persist each committed write set.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"kittycore/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Snapshotter     = (*Store)(nil)
)

// CommitHook runs with the ordered write set of a transaction that passed
// rule evaluation. A hook error aborts the commit; the in-memory state is left
// untouched.
type CommitHook func(ctx context.Context, writes []domain.Write) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook registers a hook invoked before each commit.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) {
		if hook != nil {
			s.hooks = append(s.hooks, hook)
		}
	}
}

// Store keeps the committed state in a map and serializes transactions.
type Store struct {
	mu     sync.RWMutex
	state  map[string][]byte
	engine *domain.RulesEngine
	hooks  []CommitHook
}

// NewStore constructs an empty store evaluating the given rules on commit.
func NewStore(engine *domain.RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  make(map[string][]byte),
		engine: engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RulesEngine exposes the engine evaluated on commit.
func (s *Store) RulesEngine() *domain.RulesEngine {
	return s.engine
}

// RunInTransaction executes fn against a write overlay of the committed
// state. The overlay is applied only when fn returns nil, no rule blocks and
// every commit hook succeeds.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTransaction(s.state)
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	writes := tx.writeSet()
	if len(writes) == 0 {
		return result, nil
	}
	for _, hook := range s.hooks {
		if err := hook(ctx, writes); err != nil {
			return result, err
		}
	}
	for _, w := range writes {
		if w.Deleted {
			delete(s.state, string(w.Key))
			continue
		}
		s.state[string(w.Key)] = w.Value
	}
	return result, nil
}

// View runs fn against the committed state under a shared lock.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(committedView{state: s.state})
}

// Len returns the number of committed keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state)
}

// ExportState returns a copy of the committed state ordered by key.
func (s *Store) ExportState() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotOf(s.state)
}

// ImportState replaces the committed state with the snapshot contents.
func (s *Store) ImportState(snapshot domain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateOf(snapshot)
}

// ReplaceState implements domain.Snapshotter. Commit hooks see the removal of
// every existing key followed by the snapshot entries.
func (s *Store) ReplaceState(ctx context.Context, snapshot domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := stateOf(snapshot)
	writes := make([]domain.Write, 0, len(s.state)+len(next))
	for k := range s.state {
		if _, keep := next[k]; !keep {
			writes = append(writes, domain.Write{Key: []byte(k), Deleted: true})
		}
	}
	for k, v := range next {
		writes = append(writes, domain.Write{Key: []byte(k), Value: v})
	}
	sortWrites(writes)
	for _, hook := range s.hooks {
		if err := hook(ctx, writes); err != nil {
			return err
		}
	}
	s.state = next
	return nil
}

func snapshotOf(state map[string][]byte) domain.Snapshot {
	entries := make([]domain.Entry, 0, len(state))
	for k, v := range state {
		entries = append(entries, domain.Entry{Key: []byte(k), Value: cloneBytes(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].Key, entries[j].Key) < 0 })
	return domain.Snapshot{Entries: entries}
}

func stateOf(snapshot domain.Snapshot) map[string][]byte {
	state := make(map[string][]byte, len(snapshot.Entries))
	for _, e := range snapshot.Entries {
		state[string(e.Key)] = cloneBytes(e.Value)
	}
	return state
}

func sortWrites(writes []domain.Write) {
	sort.Slice(writes, func(i, j int) bool { return bytes.Compare(writes[i].Key, writes[j].Key) < 0 })
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

type committedView struct {
	state map[string][]byte
}

func (v committedView) Get(key []byte) ([]byte, bool) {
	val, ok := v.state[string(key)]
	if !ok {
		return nil, false
	}
	return cloneBytes(val), true
}

func (v committedView) Exists(key []byte) bool {
	_, ok := v.state[string(key)]
	return ok
}
