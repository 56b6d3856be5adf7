package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/pkg/domain"
)

func blockedBy(t *testing.T, err error, rule string) {
	t.Helper()
	var violation RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	for _, v := range violation.Result.Violations {
		if v.Rule == rule && v.Severity == SeverityBlock {
			return
		}
	}
	t.Fatalf("expected blocking violation from %s, got %+v", rule, violation.Result.Violations)
}

func TestOwnershipRuleRejectsOwnerWithoutListEntry(t *testing.T) {
	h := initialized(t)
	id := h.create(alice)
	_, err := h.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return domain.Save(tx, domain.OwnerKey(id), bob)
	})
	blockedBy(t, err, ownershipConsistencyName)
	if owner := h.ownerOf(id); owner != alice {
		t.Fatalf("blocked write must not commit, owner=%s", owner)
	}
}

func TestOwnershipRuleRejectsListingForMissingKitty(t *testing.T) {
	h := initialized(t)
	_, err := h.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return domain.Save(tx, domain.PriceKey(12), Balance(5))
	})
	blockedBy(t, err, ownershipConsistencyName)
}

func TestOwnedListRuleRejectsUnreachableItem(t *testing.T) {
	h := initialized(t)
	h.create(alice)
	_, err := h.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return domain.Save(tx, domain.OwnedKey(alice, domain.IndexPtr(9)), LinkedItem{})
	})
	blockedBy(t, err, ownedListIntegrityName)
}

func TestOwnedListRuleRejectsBrokenChain(t *testing.T) {
	h := initialized(t)
	h.create(alice)
	h.create(alice)
	_, err := h.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		tx.Remove(domain.OwnedKey(alice, domain.IndexPtr(0)))
		return nil
	})
	var violation RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected violation, got %v", err)
	}
	if !strings.Contains(violation.Error(), "corrupt") {
		t.Fatalf("expected corrupt index message, got %v", violation)
	}
}

func TestDefaultRulesEngineRegistersInvariants(t *testing.T) {
	names := map[string]bool{}
	for _, rule := range NewDefaultRulesEngine().Rules() {
		names[rule.Name()] = true
	}
	if !names[ownedListIntegrityName] || !names[ownershipConsistencyName] {
		t.Fatalf("missing default rules: %v", names)
	}
}

type countingView struct {
	TransactionView
	reads int
}

func (v *countingView) Get(key []byte) ([]byte, bool) {
	v.reads++
	return v.TransactionView.Get(key)
}

func (v *countingView) Exists(key []byte) bool {
	v.reads++
	return v.TransactionView.Exists(key)
}

// appendReads builds a list of size kitties for alice and counts the reads
// the rule issues for a commit that appended the last one.
func appendReads(t *testing.T, size int) int {
	t.Helper()
	store := memory.NewStore(nil)
	runList(t, store, func(tx Transaction) error {
		for i := 0; i < size; i++ {
			if err := appendOwned(tx, alice, KittyIndex(i)); err != nil {
				return err
			}
		}
		return nil
	})
	last := KittyIndex(size - 1)
	keys := [][]byte{
		domain.OwnedKey(alice, nil),
		domain.OwnedKey(alice, domain.IndexPtr(last-1)),
		domain.OwnedKey(alice, &last),
	}
	var reads int
	if err := store.View(context.Background(), func(v TransactionView) error {
		changes := make([]domain.Change, 0, len(keys))
		for _, key := range keys {
			after, _ := v.Get(key)
			changes = append(changes, domain.Change{Key: key, After: after})
		}
		counter := &countingView{TransactionView: v}
		res, err := NewOwnedListIntegrityRule().Evaluate(context.Background(), counter, changes)
		if err != nil {
			return err
		}
		if len(res.Violations) != 0 {
			t.Fatalf("unexpected violations: %+v", res.Violations)
		}
		reads = counter.reads
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	return reads
}

func TestOwnedListRuleReadsDoNotGrowWithHoldings(t *testing.T) {
	small := appendReads(t, 10)
	large := appendReads(t, 1000)
	if small != large {
		t.Fatalf("reads grew with list size: %d at 10, %d at 1000", small, large)
	}
	if large > 20 {
		t.Fatalf("too many reads for a three-key commit: %d", large)
	}
}

func TestOwnedListRuleRejectsHeadRemovedWithItemsLeft(t *testing.T) {
	h := initialized(t)
	h.create(alice)
	h.create(alice)
	_, err := h.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		tx.Remove(domain.OwnedKey(alice, nil))
		return nil
	})
	blockedBy(t, err, ownedListIntegrityName)
}

func TestOwnedListRuleRejectsOneSidedLink(t *testing.T) {
	h := initialized(t)
	h.create(alice)
	h.create(alice)
	h.create(alice)
	_, err := h.store.RunInTransaction(context.Background(), func(tx Transaction) error {
		return domain.Save(tx, domain.OwnedKey(alice, domain.IndexPtr(1)), LinkedItem{Prev: domain.IndexPtr(0), Next: domain.IndexPtr(0)})
	})
	blockedBy(t, err, ownedListIntegrityName)
}
