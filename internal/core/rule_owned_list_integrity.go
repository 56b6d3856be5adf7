package core

import (
	"context"
	"encoding/json"
	"fmt"

	"kittycore/pkg/domain"
)

const ownedListIntegrityName = "owned_list_integrity"

// NewOwnedListIntegrityRule verifies the links around every owned-list entry
// touched by a transaction. Only the touched entries, their immediate
// neighbours and the owner's head are read, so the cost does not depend on
// how many kitties the owner holds. walkOwned remains the full check.
func NewOwnedListIntegrityRule() domain.Rule {
	return ownedListIntegrityRule{}
}

type ownedListIntegrityRule struct{}

func (ownedListIntegrityRule) Name() string { return ownedListIntegrityName }

type ownedTouch struct {
	ids     []KittyIndex
	seen    map[KittyIndex]struct{}
	before  map[KittyIndex]LinkedItem
	oldHead *LinkedItem
}

func (ownedListIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	touched := make(map[AccountID]*ownedTouch)
	var order []AccountID
	for _, change := range changes {
		if len(change.Key) == 0 || change.Key[0] != domain.PrefixOwnedKitties {
			continue
		}
		owner, id, err := domain.ParseOwnedKey(change.Key)
		if err != nil {
			res.Violations = append(res.Violations, listViolation(change.Key, err.Error()))
			continue
		}
		tt, ok := touched[owner]
		if !ok {
			tt = &ownedTouch{seen: make(map[KittyIndex]struct{}), before: make(map[KittyIndex]LinkedItem)}
			touched[owner] = tt
			order = append(order, owner)
		}
		var before *LinkedItem
		if change.Before != nil {
			var item LinkedItem
			if err := json.Unmarshal(change.Before, &item); err == nil {
				before = &item
			}
		}
		if id == nil {
			if before != nil {
				tt.oldHead = before
			}
			continue
		}
		if _, ok := tt.seen[*id]; !ok {
			tt.seen[*id] = struct{}{}
			tt.ids = append(tt.ids, *id)
		}
		if before != nil {
			tt.before[*id] = *before
		}
	}

	for _, owner := range order {
		c := &localCheck{view: view, owner: owner}
		c.run(touched[owner])
		res.Violations = append(res.Violations, c.violations...)
	}
	return res, nil
}

type localCheck struct {
	view       domain.TransactionView
	owner      AccountID
	violations []domain.Violation
}

func (c *localCheck) fail(id *KittyIndex, format string, args ...any) {
	msg := fmt.Sprintf("%s: owner %s ", domain.ErrCorruptIndex, c.owner) + fmt.Sprintf(format, args...)
	c.violations = append(c.violations, listViolation(domain.OwnedKey(c.owner, id), msg))
}

func (c *localCheck) load(id *KittyIndex) (LinkedItem, bool) {
	item, ok, err := domain.Load[LinkedItem](c.view, domain.OwnedKey(c.owner, id))
	if err != nil {
		c.fail(id, "undecodable entry: %v", err)
		return LinkedItem{}, false
	}
	return item, ok
}

func (c *localCheck) run(tt *ownedTouch) {
	var present, removed []KittyIndex
	for _, id := range tt.ids {
		if c.view.Exists(domain.OwnedKey(c.owner, &id)) {
			present = append(present, id)
		} else {
			removed = append(removed, id)
		}
	}

	head, hasHead := c.load(nil)
	if !hasHead {
		for _, id := range present {
			c.fail(domain.IndexPtr(id), "item %d exists without a head", id)
		}
		if tt.oldHead != nil {
			for _, end := range []*KittyIndex{tt.oldHead.Next, tt.oldHead.Prev} {
				if end != nil && c.view.Exists(domain.OwnedKey(c.owner, end)) {
					c.fail(nil, "head removed while item %d remains", *end)
				}
			}
		}
		return
	}

	if head.Next == nil || head.Prev == nil {
		c.fail(nil, "head is missing an end")
		return
	}
	if first, ok := c.load(head.Next); !ok {
		c.fail(head.Next, "first item %d missing", *head.Next)
	} else if first.Prev != nil {
		c.fail(head.Next, "first item %d has a back link", *head.Next)
	}
	if last, ok := c.load(head.Prev); !ok {
		c.fail(head.Prev, "last item %d missing", *head.Prev)
	} else if last.Next != nil {
		c.fail(head.Prev, "last item %d has a forward link", *head.Prev)
	}

	for _, id := range present {
		item, ok := c.load(&id)
		if !ok {
			continue
		}
		if item.Prev == nil {
			if !sameIndex(head.Next, &id) {
				c.fail(&id, "item %d has no back link but is not first", id)
			}
		} else if prev, ok := c.load(item.Prev); !ok || !sameIndex(prev.Next, &id) {
			c.fail(&id, "item %d back link to %d is not reciprocated", id, *item.Prev)
		}
		if item.Next == nil {
			if !sameIndex(head.Prev, &id) {
				c.fail(&id, "item %d has no forward link but is not last", id)
			}
		} else if next, ok := c.load(item.Next); !ok || !sameIndex(next.Prev, &id) {
			c.fail(&id, "item %d forward link to %d is not reciprocated", id, *item.Next)
		}
	}

	for _, id := range removed {
		if sameIndex(head.Next, &id) || sameIndex(head.Prev, &id) {
			c.fail(nil, "head still links removed item %d", id)
		}
		before, ok := tt.before[id]
		if !ok {
			continue
		}
		if before.Prev != nil {
			if prev, ok := c.load(before.Prev); ok && sameIndex(prev.Next, &id) {
				c.fail(before.Prev, "item %d still links removed item %d", *before.Prev, id)
			}
		}
		if before.Next != nil {
			if next, ok := c.load(before.Next); ok && sameIndex(next.Prev, &id) {
				c.fail(before.Next, "item %d still links removed item %d", *before.Next, id)
			}
		}
	}
}

func listViolation(key []byte, message string) domain.Violation {
	return domain.Violation{
		Rule:     ownedListIntegrityName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Key:      key,
	}
}
