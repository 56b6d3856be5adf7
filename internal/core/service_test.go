package core

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"kittycore/internal/balances"
	"kittycore/pkg/domain"
)

func TestInitValidatesAndRunsOnce(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Create(as(alice)); !errors.Is(err, domain.ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	for _, tc := range [][3]BlockNumber{{0, 5, 10}, {6, 5, 10}, {2, 10, 10}, {2, 11, 10}} {
		expectKind(t, h.svc.Init(as(admin), tc[0], tc[1], tc[2]), domain.ErrInvalidParameters)
	}
	if err := h.svc.Init(as(admin), 2, 10, 20); err != nil {
		t.Fatalf("init: %v", err)
	}
	te := expectKind(t, h.svc.Init(as(alice), 2, 10, 20), domain.ErrAlreadyInitialized)
	if te.Op != OpInit {
		t.Fatalf("expected op %s, got %s", OpInit, te.Op)
	}
	params, err := h.svc.Params(context.Background())
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	want := Params{MinBreedAge: 2, MaxBreedAge: 10, MaxAge: 20, Admin: admin, Initialized: true}
	if params != want {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestOperationsRequireAuthenticatedCaller(t *testing.T) {
	h := initialized(t)
	expectKind(t, h.svc.Init(context.Background(), 1, 2, 3), domain.ErrBadOrigin)
	_, err := h.svc.Create(context.Background())
	expectKind(t, err, domain.ErrBadOrigin)
	if !errors.Is(err, ErrNoCaller) {
		t.Fatalf("expected cause to be ErrNoCaller, got %v", err)
	}
}

func TestCreateMintsToCaller(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	if id != 0 {
		t.Fatalf("expected first id 0, got %d", id)
	}
	kitty, err := h.svc.Kitty(context.Background(), id)
	if err != nil {
		t.Fatalf("kitty: %v", err)
	}
	if want := randomValue([32]byte{1, 2, 3}, alice, 0, 1); kitty.DNA != want {
		t.Fatalf("unexpected dna %s, want %s", kitty.DNA, want)
	}
	if kitty.CreatedAt != 1 {
		t.Fatalf("expected created at block 1, got %d", kitty.CreatedAt)
	}
	if owner := h.ownerOf(id); owner != alice {
		t.Fatalf("expected alice to own kitty, got %s", owner)
	}
	if got := h.owned(alice); !equalIDs(got, []KittyIndex{0}) {
		t.Fatalf("expected [0], got %v", got)
	}
	count, err := h.svc.KittiesCount(context.Background())
	if err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d (%v)", count, err)
	}
	ev := h.sink.last()
	if ev.Kind != domain.EventCreated || ev.Owner != alice || ev.Kitty != 0 || ev.Block != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestCreateThenTransfer(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	if err := h.svc.Transfer(as(alice), bob, id); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if owner := h.ownerOf(id); owner != bob {
		t.Fatalf("expected bob, got %s", owner)
	}
	if got := h.owned(alice); len(got) != 0 {
		t.Fatalf("alice should own nothing, got %v", got)
	}
	if got := h.owned(bob); !equalIDs(got, []KittyIndex{id}) {
		t.Fatalf("bob should own [%d], got %v", id, got)
	}
	ev := h.sink.last()
	if ev.Kind != domain.EventTransferred || ev.From != alice || ev.To != bob || ev.Kitty != id {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestTransferPreconditions(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	te := expectKind(t, h.svc.Transfer(as(bob), alice, id), domain.ErrUnauthorized)
	if te.Kitty == nil || *te.Kitty != id || te.Account != bob {
		t.Fatalf("expected kitty and account on error, got %+v", te)
	}
	expectKind(t, h.svc.Transfer(as(alice), bob, 99), domain.ErrNotFound)
	expectKind(t, h.svc.Transfer(as(alice), "", id), domain.ErrInvalidAccount)
}

func TestTransferClearsListing(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	if err := h.svc.Ask(as(alice), id, domain.BalancePtr(50)); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if err := h.svc.Transfer(as(alice), bob, id); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if price := h.priceOf(id); price != nil {
		t.Fatalf("expected listing cleared, got %d", *price)
	}
}

func TestTransferToSelfKeepsSingleEntry(t *testing.T) {
	h := initialized(t)
	first := h.create(alice)
	second := h.create(alice)
	if err := h.svc.Transfer(as(alice), alice, first); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if got := h.owned(alice); !equalIDs(got, []KittyIndex{second, first}) {
		t.Fatalf("expected [%d %d], got %v", second, first, got)
	}
}

func TestBreedSameParentRegardlessOfAge(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	_, err := h.svc.Breed(as(alice), id, id)
	expectKind(t, err, domain.ErrSameParent)
}

func TestBreedRequiresEligibleOwnedParents(t *testing.T) {
	h := initialized(t)
	p1 := h.create(alice)
	p2 := h.create(alice)
	other := h.create(bob)

	_, err := h.svc.Breed(as(alice), p1, p2)
	expectKind(t, err, domain.ErrIneligibleAge)

	h.clock.Advance(2)
	_, err = h.svc.Breed(as(alice), p1, other)
	expectKind(t, err, domain.ErrUnauthorized)
	_, err = h.svc.Breed(as(alice), p1, 42)
	expectKind(t, err, domain.ErrNotFound)

	child, err := h.svc.Breed(as(alice), p1, p2)
	if err != nil {
		t.Fatalf("breed: %v", err)
	}
	if child != 3 {
		t.Fatalf("expected child id 3, got %d", child)
	}
	k1, _ := h.svc.Kitty(context.Background(), p1)
	k2, _ := h.svc.Kitty(context.Background(), p2)
	kc, err := h.svc.Kitty(context.Background(), child)
	if err != nil {
		t.Fatalf("child: %v", err)
	}
	selector := randomValue([32]byte{1, 2, 3}, alice, 0, 3)
	if want := combineDNA(k1.DNA, k2.DNA, selector); kc.DNA != want {
		t.Fatalf("child dna %s, want %s", kc.DNA, want)
	}
	if kc.CreatedAt != 3 {
		t.Fatalf("child created at %d, want 3", kc.CreatedAt)
	}
	if got := h.owned(alice); !equalIDs(got, []KittyIndex{p1, p2, child}) {
		t.Fatalf("unexpected alice list %v", got)
	}
}

func TestBreedDeadParentFails(t *testing.T) {
	h := initialized(t)
	p1 := h.create(alice)
	h.clock.Advance(15)
	p2 := h.create(alice)
	h.clock.Advance(5)
	_, err := h.svc.Breed(as(alice), p1, p2)
	te := expectKind(t, err, domain.ErrDead)
	if te.Kitty == nil || *te.Kitty != p1 {
		t.Fatalf("expected dead kitty %d, got %+v", p1, te.Kitty)
	}
}

func TestAskSetsAndClearsListing(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	if err := h.svc.Ask(as(alice), id, domain.BalancePtr(70)); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if price := h.priceOf(id); price == nil || *price != 70 {
		t.Fatalf("expected price 70, got %v", price)
	}
	ev := h.sink.last()
	if ev.Kind != domain.EventAsk || ev.Price == nil || *ev.Price != 70 {
		t.Fatalf("unexpected ask event %+v", ev)
	}
	expectKind(t, h.svc.Ask(as(bob), id, domain.BalancePtr(1)), domain.ErrUnauthorized)
	if err := h.svc.Ask(as(alice), id, nil); err != nil {
		t.Fatalf("delist: %v", err)
	}
	if price := h.priceOf(id); price != nil {
		t.Fatalf("expected no listing, got %d", *price)
	}
	if ev := h.sink.last(); ev.Kind != domain.EventAsk || ev.Price != nil {
		t.Fatalf("expected delist event, got %+v", ev)
	}
}

func TestBuyBelowPriceKeepsListing(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	h.fund(bob, 1000)
	if err := h.svc.Ask(as(alice), id, domain.BalancePtr(100)); err != nil {
		t.Fatalf("ask: %v", err)
	}
	before := h.store.ExportState()
	events := len(h.sink.kinds())
	expectKind(t, h.svc.Buy(as(bob), id, 99), domain.ErrPriceTooLow)
	if after := h.store.ExportState(); !reflect.DeepEqual(before, after) {
		t.Fatalf("failed buy changed state")
	}
	if price := h.priceOf(id); price == nil || *price != 100 {
		t.Fatalf("expected listing kept at 100, got %v", price)
	}
	if got := len(h.sink.kinds()); got != events {
		t.Fatalf("failed buy emitted events")
	}
}

func TestBuyPaysListedPriceAndTransfers(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	h.fund(bob, 1000)
	if err := h.svc.Ask(as(alice), id, domain.BalancePtr(100)); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if err := h.svc.Buy(as(bob), id, 150); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got := h.balance(alice); got != 100 {
		t.Fatalf("seller should receive listed price, got %d", got)
	}
	if got := h.balance(bob); got != 900 {
		t.Fatalf("buyer should pay listed price, got %d", got)
	}
	if owner := h.ownerOf(id); owner != bob {
		t.Fatalf("expected bob to own kitty, got %s", owner)
	}
	if price := h.priceOf(id); price != nil {
		t.Fatalf("sale must consume listing")
	}
	ev := h.sink.last()
	if ev.Kind != domain.EventSold || ev.From != alice || ev.To != bob || ev.Price == nil || *ev.Price != 100 {
		t.Fatalf("unexpected sold event %+v", ev)
	}
}

func TestBuyFailures(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	h.fund(bob, 50)
	expectKind(t, h.svc.Buy(as(bob), id, 10), domain.ErrNotForSale)
	expectKind(t, h.svc.Buy(as(bob), 77, 10), domain.ErrNotFound)

	if err := h.svc.Ask(as(alice), id, domain.BalancePtr(100)); err != nil {
		t.Fatalf("ask: %v", err)
	}
	before := h.store.ExportState()
	err := h.svc.Buy(as(bob), id, 100)
	expectKind(t, err, domain.ErrPaymentFailed)
	if !errors.Is(err, balances.ErrInsufficientBalance) {
		t.Fatalf("expected ledger cause, got %v", err)
	}
	if after := h.store.ExportState(); !reflect.DeepEqual(before, after) {
		t.Fatalf("failed payment changed state")
	}
}

func TestBuyWithoutCurrencyFails(t *testing.T) {
	h := initialized(t, WithCurrency(noCurrency{}))
	id := h.create(alice)
	if err := h.svc.Ask(as(alice), id, domain.BalancePtr(0)); err != nil {
		t.Fatalf("ask: %v", err)
	}
	err := h.svc.Buy(as(bob), id, 0)
	expectKind(t, err, domain.ErrPaymentFailed)
	if !errors.Is(err, ErrNoCurrency) {
		t.Fatalf("expected ErrNoCurrency cause, got %v", err)
	}
}

func TestDeadKittyIsDelistedOnDiscovery(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	h.fund(bob, 1000)
	if err := h.svc.Ask(as(alice), id, domain.BalancePtr(10)); err != nil {
		t.Fatalf("ask: %v", err)
	}
	h.clock.Advance(20)
	alive, err := h.svc.IsAlive(context.Background(), id)
	if err != nil || alive {
		t.Fatalf("expected dead kitty, alive=%v err=%v", alive, err)
	}
	expectKind(t, h.svc.Buy(as(bob), id, 10), domain.ErrDead)
	if price := h.priceOf(id); price != nil {
		t.Fatalf("expected dead kitty delisted")
	}
	if got := h.balance(bob); got != 1000 {
		t.Fatalf("buyer must not be charged, got %d", got)
	}
	if owner := h.ownerOf(id); owner != alice {
		t.Fatalf("ownership must not change, got %s", owner)
	}
	if !h.logger.has("i:delisted dead kitty") {
		t.Fatalf("expected delisting to be logged")
	}
	expectKind(t, h.svc.Transfer(as(alice), bob, id), domain.ErrDead)
	expectKind(t, h.svc.Ask(as(alice), id, domain.BalancePtr(5)), domain.ErrDead)
}

func TestCounterOverflowLeavesStateUntouched(t *testing.T) {
	h := initialized(t)
	if _, err := h.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return domain.Save(tx, domain.KittiesCountKey(), domain.MaxKittyIndex)
	}); err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	before := h.store.ExportState()
	_, err := h.svc.Create(as(alice))
	expectKind(t, err, domain.ErrCounterOverflow)
	if after := h.store.ExportState(); !reflect.DeepEqual(before, after) {
		t.Fatalf("overflow changed state")
	}
}

func TestAdminParameterUpdates(t *testing.T) {
	h := initialized(t)
	ctx := as(admin)
	expectKind(t, h.svc.UpdateMinBreedAge(as(alice), 3), domain.ErrUnauthorized)
	expectKind(t, h.svc.UpdateMinBreedAge(ctx, 0), domain.ErrInvalidParameters)
	expectKind(t, h.svc.UpdateMinBreedAge(ctx, 11), domain.ErrInvalidParameters)
	if err := h.svc.UpdateMinBreedAge(ctx, 5); err != nil {
		t.Fatalf("update min: %v", err)
	}
	expectKind(t, h.svc.UpdateMaxBreedAge(ctx, 4), domain.ErrInvalidParameters)
	expectKind(t, h.svc.UpdateMaxBreedAge(ctx, 20), domain.ErrInvalidParameters)
	if err := h.svc.UpdateMaxBreedAge(ctx, 15); err != nil {
		t.Fatalf("update max breed: %v", err)
	}
	expectKind(t, h.svc.UpdateMaxAge(ctx, 15), domain.ErrInvalidParameters)
	if err := h.svc.UpdateMaxAge(ctx, 30); err != nil {
		t.Fatalf("update max age: %v", err)
	}
	params, _ := h.svc.Params(context.Background())
	if params.MinBreedAge != 5 || params.MaxBreedAge != 15 || params.MaxAge != 30 {
		t.Fatalf("unexpected params %+v", params)
	}

	expectKind(t, h.svc.UpdateOwner(ctx, ""), domain.ErrInvalidAccount)
	if err := h.svc.UpdateOwner(ctx, bob); err != nil {
		t.Fatalf("update owner: %v", err)
	}
	expectKind(t, h.svc.UpdateMaxAge(ctx, 40), domain.ErrUnauthorized)
	if err := h.svc.UpdateMaxAge(as(bob), 40); err != nil {
		t.Fatalf("new admin update: %v", err)
	}
}

func TestEventPublishFailureIsLoggedOnly(t *testing.T) {
	h := initialized(t)
	h.sink.err = errors.New("sink down")
	if _, err := h.svc.Create(as(alice)); err != nil {
		t.Fatalf("create should succeed despite sink failure: %v", err)
	}
	if !h.logger.has("w:publish event failed") {
		t.Fatalf("expected publish failure to be logged")
	}
}

func TestQueriesReportMissingKitty(t *testing.T) {
	h := initialized(t)
	ctx := context.Background()
	if _, err := h.svc.Kitty(ctx, 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("kitty: expected not found, got %v", err)
	}
	if _, err := h.svc.OwnerOf(ctx, 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("owner: expected not found, got %v", err)
	}
	if _, err := h.svc.PriceOf(ctx, 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("price: expected not found, got %v", err)
	}
	id := h.create(alice)
	h.clock.Advance(4)
	if got, err := h.svc.Age(ctx, id); err != nil || got != 4 {
		t.Fatalf("expected age 4, got %d (%v)", got, err)
	}
}

func TestConcurrentCreatesKeepListsConsistent(t *testing.T) {
	h := initialized(t)
	owners := []AccountID{alice, bob, "carol"}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(who AccountID) {
			defer wg.Done()
			if _, err := h.svc.Create(as(who)); err != nil {
				t.Errorf("create: %v", err)
			}
		}(owners[i%len(owners)])
	}
	wg.Wait()
	total := 0
	seen := make(map[KittyIndex]bool)
	for _, who := range owners {
		for _, id := range h.owned(who) {
			if seen[id] {
				t.Fatalf("kitty %d listed twice", id)
			}
			seen[id] = true
			if owner := h.ownerOf(id); owner != who {
				t.Fatalf("kitty %d listed under %s but owned by %s", id, who, owner)
			}
			total++
		}
	}
	if total != 30 {
		t.Fatalf("expected 30 kitties, got %d", total)
	}
}
