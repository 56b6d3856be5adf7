package core

import (
	"context"
	"fmt"

	"kittycore/pkg/domain"
)

const ownershipConsistencyName = "ownership_consistency"

// NewOwnershipConsistencyRule checks the maps touched by a transaction agree:
// every kitty has an owner, an owner entry is mirrored by an item in that
// owner's list and listings exist only for minted kitties.
func NewOwnershipConsistencyRule() domain.Rule {
	return ownershipConsistencyRule{}
}

type ownershipConsistencyRule struct{}

func (ownershipConsistencyRule) Name() string { return ownershipConsistencyName }

func (ownershipConsistencyRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[string]struct{}, len(changes))
	for _, change := range changes {
		if _, dup := checked[string(change.Key)]; dup || len(change.Key) == 0 {
			continue
		}
		checked[string(change.Key)] = struct{}{}
		var msg string
		switch change.Key[0] {
		case domain.PrefixKitties, domain.PrefixKittyOwners:
			msg = checkKittyOwner(view, change.Key)
		case domain.PrefixKittyPrices:
			msg = checkPrice(view, change.Key)
		case domain.PrefixOwnedKitties:
			msg = checkOwnedItem(view, change.Key)
		}
		if msg != "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     ownershipConsistencyName,
				Severity: domain.SeverityBlock,
				Message:  msg,
				Key:      change.Key,
			})
		}
	}
	return res, nil
}

func checkKittyOwner(view domain.TransactionView, key []byte) string {
	_, id, err := domain.ParseIndexKey(key)
	if err != nil {
		return err.Error()
	}
	hasKitty := view.Exists(domain.KittyKey(id))
	owner, hasOwner, err := loadOwner(view, id)
	if err != nil {
		return err.Error()
	}
	switch {
	case hasKitty && !hasOwner:
		return fmt.Sprintf("kitty %d has no owner", id)
	case !hasKitty && hasOwner:
		return fmt.Sprintf("owner entry for missing kitty %d", id)
	case hasOwner && !view.Exists(domain.OwnedKey(owner, &id)):
		return fmt.Sprintf("kitty %d missing from list of owner %s", id, owner)
	}
	return ""
}

func checkPrice(view domain.TransactionView, key []byte) string {
	_, id, err := domain.ParseIndexKey(key)
	if err != nil {
		return err.Error()
	}
	if view.Exists(key) && !view.Exists(domain.KittyKey(id)) {
		return fmt.Sprintf("listing for missing kitty %d", id)
	}
	return ""
}

func checkOwnedItem(view domain.TransactionView, key []byte) string {
	owner, id, err := domain.ParseOwnedKey(key)
	if err != nil {
		return err.Error()
	}
	if id == nil || !view.Exists(key) {
		return ""
	}
	actual, ok, err := loadOwner(view, *id)
	if err != nil {
		return err.Error()
	}
	if !ok || actual != owner {
		return fmt.Sprintf("list of %s holds kitty %d owned by %q", owner, *id, actual)
	}
	return ""
}
