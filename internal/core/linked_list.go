package core

import (
	"fmt"

	"kittycore/pkg/domain"
)

// appendOwned links id as the new tail of owner's list. The id must not
// already be present under owner.
func appendOwned(kv domain.KV, owner AccountID, id KittyIndex) error {
	headKey := domain.OwnedKey(owner, nil)
	head, ok, err := domain.Load[LinkedItem](kv, headKey)
	if err != nil {
		return err
	}
	if !ok {
		if err := domain.Save(kv, headKey, LinkedItem{Prev: domain.IndexPtr(id), Next: domain.IndexPtr(id)}); err != nil {
			return err
		}
		return domain.Save(kv, domain.OwnedKey(owner, &id), LinkedItem{})
	}
	if head.Prev == nil {
		return fmt.Errorf("%w: owner %s head has no tail", domain.ErrCorruptIndex, owner)
	}
	lastKey := domain.OwnedKey(owner, head.Prev)
	last, ok, err := domain.Load[LinkedItem](kv, lastKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: owner %s tail %d missing", domain.ErrCorruptIndex, owner, *head.Prev)
	}
	last.Next = domain.IndexPtr(id)
	if err := domain.Save(kv, lastKey, last); err != nil {
		return err
	}
	if err := domain.Save(kv, domain.OwnedKey(owner, &id), LinkedItem{Prev: head.Prev}); err != nil {
		return err
	}
	head.Prev = domain.IndexPtr(id)
	return domain.Save(kv, headKey, head)
}

// removeOwned splices id out of owner's list. Removing an absent id is a
// no-op. The head entry is deleted together with the last element.
func removeOwned(kv domain.KV, owner AccountID, id KittyIndex) error {
	itemKey := domain.OwnedKey(owner, &id)
	item, ok, err := domain.Load[LinkedItem](kv, itemKey)
	if err != nil || !ok {
		return err
	}
	headKey := domain.OwnedKey(owner, nil)
	head, hasHead, err := domain.Load[LinkedItem](kv, headKey)
	if err != nil {
		return err
	}
	if !hasHead {
		return fmt.Errorf("%w: owner %s has item %d but no head", domain.ErrCorruptIndex, owner, id)
	}

	if item.Prev == nil {
		head.Next = item.Next
	} else if err := relink(kv, owner, *item.Prev, func(n *LinkedItem) { n.Next = item.Next }); err != nil {
		return err
	}
	if item.Next == nil {
		head.Prev = item.Prev
	} else if err := relink(kv, owner, *item.Next, func(n *LinkedItem) { n.Prev = item.Prev }); err != nil {
		return err
	}

	if head.Next == nil && head.Prev == nil {
		kv.Remove(headKey)
	} else if err := domain.Save(kv, headKey, head); err != nil {
		return err
	}
	kv.Remove(itemKey)
	return nil
}

func relink(kv domain.KV, owner AccountID, id KittyIndex, mutate func(*LinkedItem)) error {
	key := domain.OwnedKey(owner, &id)
	n, ok, err := domain.Load[LinkedItem](kv, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: owner %s neighbor %d missing", domain.ErrCorruptIndex, owner, id)
	}
	mutate(&n)
	return domain.Save(kv, key, n)
}

// walkOwned returns owner's ids from first to last. It verifies back links,
// the tail recorded on the head entry and the absence of cycles.
func walkOwned(view domain.TransactionView, owner AccountID) ([]KittyIndex, error) {
	head, ok, err := domain.Load[LinkedItem](view, domain.OwnedKey(owner, nil))
	if err != nil || !ok {
		return nil, err
	}
	var (
		out  []KittyIndex
		prev *KittyIndex
		seen = make(map[KittyIndex]struct{})
	)
	for cur := head.Next; cur != nil; {
		if _, dup := seen[*cur]; dup {
			return nil, fmt.Errorf("%w: owner %s cycle at %d", domain.ErrCorruptIndex, owner, *cur)
		}
		seen[*cur] = struct{}{}
		item, ok, err := domain.Load[LinkedItem](view, domain.OwnedKey(owner, cur))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: owner %s dangling link to %d", domain.ErrCorruptIndex, owner, *cur)
		}
		if !sameIndex(item.Prev, prev) {
			return nil, fmt.Errorf("%w: owner %s item %d has wrong back link", domain.ErrCorruptIndex, owner, *cur)
		}
		out = append(out, *cur)
		prev, cur = cur, item.Next
	}
	if !sameIndex(head.Prev, prev) {
		return nil, fmt.Errorf("%w: owner %s head tail mismatch", domain.ErrCorruptIndex, owner)
	}
	return out, nil
}

func sameIndex(a, b *KittyIndex) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
