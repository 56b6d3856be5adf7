// Package genesis loads a YAML description of the initial chain state and
// applies it to a fresh service.
package genesis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"kittycore/internal/balances"
	"kittycore/internal/core"
	"kittycore/pkg/domain"
)

// Params mirrors the breeding parameters written by Init.
type Params struct {
	MinBreedAge domain.BlockNumber `yaml:"min_breed_age"`
	MaxBreedAge domain.BlockNumber `yaml:"max_breed_age"`
	MaxAge      domain.BlockNumber `yaml:"max_age"`
}

// Genesis is the decoded document.
type Genesis struct {
	Admin    domain.AccountID                    `yaml:"admin"`
	Params   Params                              `yaml:"params"`
	Balances map[domain.AccountID]domain.Balance `yaml:"balances"`
	// Kitties maps an owner to the number of kitties minted for it.
	Kitties map[domain.AccountID]int `yaml:"kitties"`
}

// Load reads the document at path.
func Load(path string) (Genesis, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- operator supplied genesis file
	if err != nil {
		return Genesis{}, err
	}
	return Decode(bytes.NewReader(b))
}

// Decode parses a document and rejects unknown fields.
func Decode(r io.Reader) (Genesis, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var g Genesis
	if err := dec.Decode(&g); err != nil && !errors.Is(err, io.EOF) {
		return Genesis{}, fmt.Errorf("decode genesis: %w", err)
	}
	return g, g.Validate()
}

// Validate checks the document without touching state.
func (g Genesis) Validate() error {
	if !g.Admin.Valid() {
		return fmt.Errorf("genesis: invalid admin %q", g.Admin)
	}
	if !domain.ValidAges(g.Params.MinBreedAge, g.Params.MaxBreedAge, g.Params.MaxAge) {
		return fmt.Errorf("genesis: invalid params %+v", g.Params)
	}
	for who := range g.Balances {
		if !who.Valid() {
			return fmt.Errorf("genesis: invalid balance account %q", who)
		}
	}
	for who, n := range g.Kitties {
		if !who.Valid() || n < 0 {
			return fmt.Errorf("genesis: invalid kitty allocation %q=%d", who, n)
		}
	}
	return nil
}

// Result summarises what Apply wrote.
type Result struct {
	Endowed int
	Minted  []domain.KittyIndex
}

// Sequencer hands out extrinsic indexes. *core.ManualClock satisfies it.
type Sequencer interface {
	ExtrinsicIndex(ctx context.Context) uint32
	SetExtrinsic(index uint32)
}

// ApplyOption configures Apply.
type ApplyOption func(*applyConfig)

type applyConfig struct {
	seq Sequencer
}

// WithSequencer advances seq by one extrinsic before every mint, so kitties
// minted in the same block draw distinct randomness. It should be the clock
// the service reads.
func WithSequencer(seq Sequencer) ApplyOption {
	return func(c *applyConfig) { c.seq = seq }
}

// Apply initializes svc as the genesis admin, endows balances through ledger
// in one transaction and mints the listed kitties in owner order.
//
// Endowments are checked against the existential deposit before anything is
// written. Init, the endowment and each mint still commit separately, so a
// later failure leaves the earlier steps applied and Result reports them.
func Apply(ctx context.Context, svc *core.Service, ledger *balances.Ledger, g Genesis, opts ...ApplyOption) (Result, error) {
	var cfg applyConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := g.Validate(); err != nil {
		return Result{}, err
	}
	accounts := sortedAccounts(g.Balances)
	for _, who := range accounts {
		if g.Balances[who] < ledger.ExistentialDeposit() || g.Balances[who] == 0 {
			return Result{}, fmt.Errorf("endow %s with %d: %w", who, g.Balances[who], balances.ErrExistentialDeposit)
		}
	}
	if err := svc.Init(core.WithCaller(ctx, g.Admin), g.Params.MinBreedAge, g.Params.MaxBreedAge, g.Params.MaxAge); err != nil {
		return Result{}, err
	}
	var res Result
	if len(accounts) > 0 {
		if _, err := svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
			for _, who := range accounts {
				if err := ledger.Deposit(tx, who, g.Balances[who]); err != nil {
					return fmt.Errorf("endow %s: %w", who, err)
				}
			}
			return nil
		}); err != nil {
			return res, err
		}
		res.Endowed = len(accounts)
	}
	for _, who := range sortedAccounts(g.Kitties) {
		for i := 0; i < g.Kitties[who]; i++ {
			if cfg.seq != nil {
				cfg.seq.SetExtrinsic(cfg.seq.ExtrinsicIndex(ctx) + 1)
			}
			id, err := svc.Create(core.WithCaller(ctx, who))
			if err != nil {
				return res, fmt.Errorf("mint for %s: %w", who, err)
			}
			res.Minted = append(res.Minted, id)
		}
	}
	return res, nil
}

func sortedAccounts[V any](m map[domain.AccountID]V) []domain.AccountID {
	out := make([]domain.AccountID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
