// Package balances keeps free balances in the shared key-value state and
// implements the currency collaborator used by the marketplace.
package balances

import (
	"context"
	"errors"
	"fmt"

	"kittycore/pkg/domain"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrKeepAlive           = errors.New("transfer would reap the payer")
	ErrExistentialDeposit  = errors.New("amount below existential deposit")
	ErrOverflow            = errors.New("balance overflow")
)

// Ledger stores one balance entry per account. Accounts whose balance falls
// below the existential deposit are removed.
type Ledger struct {
	existentialDeposit domain.Balance
}

// NewLedger constructs a ledger with the given existential deposit.
func NewLedger(existentialDeposit domain.Balance) *Ledger {
	return &Ledger{existentialDeposit: existentialDeposit}
}

// ExistentialDeposit returns the minimum balance of a live account.
func (l *Ledger) ExistentialDeposit() domain.Balance { return l.existentialDeposit }

// Balance returns the free balance of who, zero for unknown accounts.
func (l *Ledger) Balance(view domain.TransactionView, who domain.AccountID) (domain.Balance, error) {
	bal, _, err := domain.Load[domain.Balance](view, domain.BalanceKey(who))
	return bal, err
}

// Deposit credits amount to who.
func (l *Ledger) Deposit(kv domain.KV, who domain.AccountID, amount domain.Balance) error {
	if !who.Valid() {
		return fmt.Errorf("deposit: %w", domain.ErrInvalidAccount)
	}
	bal, err := l.Balance(kv, who)
	if err != nil {
		return err
	}
	next, err := l.credit(bal, amount)
	if err != nil {
		return fmt.Errorf("deposit to %s: %w", who, err)
	}
	return l.set(kv, who, next)
}

// Transfer moves amount from one account to another. With KeepAlive the
// payer must keep at least the existential deposit; with AllowDeath a payer
// left below it is removed and the remainder is burned.
func (l *Ledger) Transfer(_ context.Context, kv domain.KV, from, to domain.AccountID, amount domain.Balance, req domain.ExistenceRequirement) error {
	if amount == 0 || from == to {
		return nil
	}
	fromBal, err := l.Balance(kv, from)
	if err != nil {
		return err
	}
	if fromBal < amount {
		return fmt.Errorf("%s has %d, needs %d: %w", from, fromBal, amount, ErrInsufficientBalance)
	}
	remaining := fromBal - amount
	if remaining < l.existentialDeposit && req == domain.KeepAlive {
		return fmt.Errorf("%s would keep %d: %w", from, remaining, ErrKeepAlive)
	}
	toBal, err := l.Balance(kv, to)
	if err != nil {
		return err
	}
	next, err := l.credit(toBal, amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	if err := l.set(kv, from, remaining); err != nil {
		return err
	}
	return l.set(kv, to, next)
}

func (l *Ledger) credit(bal, amount domain.Balance) (domain.Balance, error) {
	next := bal + amount
	if next < bal {
		return 0, ErrOverflow
	}
	if bal == 0 && next < l.existentialDeposit {
		return 0, ErrExistentialDeposit
	}
	return next, nil
}

func (l *Ledger) set(kv domain.KV, who domain.AccountID, bal domain.Balance) error {
	if bal == 0 || bal < l.existentialDeposit {
		kv.Remove(domain.BalanceKey(who))
		return nil
	}
	return domain.Save(kv, domain.BalanceKey(who), bal)
}
