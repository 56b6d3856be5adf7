package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"kittycore/internal/balances"
	"kittycore/internal/infra/persistence/memory"
	"kittycore/pkg/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureSink) Publish(_ context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *captureSink) kinds() []domain.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.EventKind, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Kind)
	}
	return out
}

func (c *captureSink) last() Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return Event{}
	}
	return c.events[len(c.events)-1]
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) record(prefix, msg string) {
	c.mu.Lock()
	c.calls = append(c.calls, prefix+msg)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.record("d:", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.record("i:", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.record("w:", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.record("e:", msg) }

func (c *captureLogger) has(call string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

type harness struct {
	t      *testing.T
	svc    *Service
	store  *memory.Store
	clock  *ManualClock
	ledger *balances.Ledger
	sink   *captureSink
	logger *captureLogger
}

const (
	admin AccountID = "admin"
	alice AccountID = "alice"
	bob   AccountID = "bob"
)

func newHarness(t *testing.T, opts ...ServiceOption) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  memory.NewStore(NewDefaultRulesEngine()),
		clock:  NewManualClock(1),
		ledger: balances.NewLedger(1),
		sink:   &captureSink{},
		logger: &captureLogger{},
	}
	base := []ServiceOption{
		WithBlockClock(h.clock),
		WithCurrency(h.ledger),
		WithSeedSource(FixedSeed{1, 2, 3}),
		WithEventSink(h.sink),
		WithLogger(h.logger),
	}
	h.svc = NewService(h.store, append(base, opts...)...)
	return h
}

// initialized returns a harness with min=2, maxBreed=10, maxAge=20.
func initialized(t *testing.T, opts ...ServiceOption) *harness {
	t.Helper()
	h := newHarness(t, opts...)
	if err := h.svc.Init(as(admin), 2, 10, 20); err != nil {
		t.Fatalf("init: %v", err)
	}
	return h
}

func as(who AccountID) context.Context {
	return WithCaller(context.Background(), who)
}

func (h *harness) create(who AccountID) KittyIndex {
	h.t.Helper()
	id, err := h.svc.Create(as(who))
	if err != nil {
		h.t.Fatalf("create for %s: %v", who, err)
	}
	return id
}

func (h *harness) fund(who AccountID, amount Balance) {
	h.t.Helper()
	if _, err := h.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return h.ledger.Deposit(tx, who, amount)
	}); err != nil {
		h.t.Fatalf("fund %s: %v", who, err)
	}
}

func (h *harness) balance(who AccountID) Balance {
	h.t.Helper()
	var bal Balance
	if err := h.store.View(context.Background(), func(v TransactionView) error {
		var err error
		bal, err = h.ledger.Balance(v, who)
		return err
	}); err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (h *harness) owned(who AccountID) []KittyIndex {
	h.t.Helper()
	ids, err := h.svc.OwnedKitties(context.Background(), who)
	if err != nil {
		h.t.Fatalf("owned kitties of %s: %v", who, err)
	}
	return ids
}

func (h *harness) ownerOf(id KittyIndex) AccountID {
	h.t.Helper()
	owner, err := h.svc.OwnerOf(context.Background(), id)
	if err != nil {
		h.t.Fatalf("owner of %d: %v", id, err)
	}
	return owner
}

func (h *harness) priceOf(id KittyIndex) *Balance {
	h.t.Helper()
	price, err := h.svc.PriceOf(context.Background(), id)
	if err != nil {
		h.t.Fatalf("price of %d: %v", id, err)
	}
	return price
}

func expectKind(t *testing.T, err, kind error) *domain.TransitionError {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
	var te *domain.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %T", err)
	}
	return te
}

func equalIDs(a, b []KittyIndex) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
