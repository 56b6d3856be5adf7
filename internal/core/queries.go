package core

import (
	"context"

	"kittycore/pkg/domain"
)

// Kitty returns the stored record of id.
func (s *Service) Kitty(ctx context.Context, id KittyIndex) (Kitty, error) {
	var kitty Kitty
	err := s.store.View(ctx, func(view TransactionView) error {
		var err error
		kitty, err = loadKitty(view, id)
		return err
	})
	return kitty, err
}

// OwnerOf returns the owner of id.
func (s *Service) OwnerOf(ctx context.Context, id KittyIndex) (AccountID, error) {
	var owner AccountID
	err := s.store.View(ctx, func(view TransactionView) error {
		var (
			ok  bool
			err error
		)
		owner, ok, err = loadOwner(view, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Fail(domain.ErrNotFound).WithKitty(id)
		}
		return nil
	})
	return owner, err
}

// PriceOf returns the listing of id, nil when it is not for sale.
func (s *Service) PriceOf(ctx context.Context, id KittyIndex) (*Balance, error) {
	var price *Balance
	err := s.store.View(ctx, func(view TransactionView) error {
		if _, err := loadKitty(view, id); err != nil {
			return err
		}
		var err error
		price, err = loadPrice(view, id)
		return err
	})
	return price, err
}

// KittiesCount returns how many kitties were ever minted.
func (s *Service) KittiesCount(ctx context.Context) (KittyIndex, error) {
	var count KittyIndex
	err := s.store.View(ctx, func(view TransactionView) error {
		var err error
		count, _, err = domain.Load[KittyIndex](view, domain.KittiesCountKey())
		return err
	})
	return count, err
}

// OwnedKitties lists the ids held by owner in acquisition order.
func (s *Service) OwnedKitties(ctx context.Context, owner AccountID) ([]KittyIndex, error) {
	var ids []KittyIndex
	err := s.store.View(ctx, func(view TransactionView) error {
		var err error
		ids, err = walkOwned(view, owner)
		return err
	})
	return ids, err
}

// Params returns the configuration record.
func (s *Service) Params(ctx context.Context) (Params, error) {
	var params Params
	err := s.store.View(ctx, func(view TransactionView) error {
		var err error
		params, err = requireInitialized(view)
		return err
	})
	return params, err
}

// Age returns the age of id at the current block.
func (s *Service) Age(ctx context.Context, id KittyIndex) (BlockNumber, error) {
	kitty, err := s.Kitty(ctx, id)
	if err != nil {
		return 0, err
	}
	return age(kitty, s.blocks.BlockNumber(ctx)), nil
}

// IsAlive reports whether id is younger than the configured max age.
func (s *Service) IsAlive(ctx context.Context, id KittyIndex) (bool, error) {
	var alive bool
	err := s.store.View(ctx, func(view TransactionView) error {
		params, err := requireInitialized(view)
		if err != nil {
			return err
		}
		kitty, err := loadKitty(view, id)
		if err != nil {
			return err
		}
		alive = isAlive(params, kitty, s.blocks.BlockNumber(ctx))
		return nil
	})
	return alive, err
}
