package core

import (
	"kittycore/pkg/domain"
)

// nextKittyID returns the id the next minted kitty receives.
func nextKittyID(view domain.TransactionView) (KittyIndex, error) {
	count, _, err := domain.Load[KittyIndex](view, domain.KittiesCountKey())
	if err != nil {
		return 0, err
	}
	if count == domain.MaxKittyIndex {
		return 0, domain.Fail(domain.ErrCounterOverflow)
	}
	return count, nil
}

// insertKitty stores the record, advances the counter and assigns ownership.
// Every mint goes through here.
func insertKitty(kv domain.KV, owner AccountID, id KittyIndex, dna DNA, now BlockNumber) error {
	if err := domain.Save(kv, domain.KittyKey(id), Kitty{DNA: dna, CreatedAt: now}); err != nil {
		return err
	}
	if err := domain.Save(kv, domain.KittiesCountKey(), id+1); err != nil {
		return err
	}
	if err := domain.Save(kv, domain.OwnerKey(id), owner); err != nil {
		return err
	}
	return appendOwned(kv, owner, id)
}

// moveKitty hands id from one owner to another and drops any listing.
func moveKitty(kv domain.KV, from, to AccountID, id KittyIndex) error {
	if err := removeOwned(kv, from, id); err != nil {
		return err
	}
	if err := appendOwned(kv, to, id); err != nil {
		return err
	}
	if err := domain.Save(kv, domain.OwnerKey(id), to); err != nil {
		return err
	}
	kv.Remove(domain.PriceKey(id))
	return nil
}

func loadKitty(view domain.TransactionView, id KittyIndex) (Kitty, error) {
	kitty, ok, err := domain.Load[Kitty](view, domain.KittyKey(id))
	if err != nil {
		return Kitty{}, err
	}
	if !ok {
		return Kitty{}, domain.Fail(domain.ErrNotFound).WithKitty(id)
	}
	return kitty, nil
}

func loadOwner(view domain.TransactionView, id KittyIndex) (AccountID, bool, error) {
	return domain.Load[AccountID](view, domain.OwnerKey(id))
}

func loadPrice(view domain.TransactionView, id KittyIndex) (*Balance, error) {
	price, ok, err := domain.Load[Balance](view, domain.PriceKey(id))
	if err != nil || !ok {
		return nil, err
	}
	return &price, nil
}

func loadParams(view domain.TransactionView) (Params, error) {
	params, _, err := domain.Load[Params](view, domain.ParamsKey())
	return params, err
}

// requireInitialized loads the parameters and fails when init has not run.
func requireInitialized(view domain.TransactionView) (Params, error) {
	params, err := loadParams(view)
	if err != nil {
		return Params{}, err
	}
	if !params.Initialized {
		return Params{}, domain.Fail(domain.ErrNotInitialized)
	}
	return params, nil
}
