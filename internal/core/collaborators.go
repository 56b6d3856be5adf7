package core

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"

	"kittycore/pkg/domain"
)

// Currency moves funds between accounts. It receives the transaction state so
// the payment commits or aborts together with the operation that triggered it.
type Currency interface {
	Transfer(ctx context.Context, state domain.KV, from, to AccountID, amount Balance, req ExistenceRequirement) error
}

// Authenticator resolves the account on whose behalf an operation runs.
type Authenticator interface {
	Authenticate(ctx context.Context) (AccountID, error)
}

// SeedSource supplies the 32 byte randomness seed mixed into DNA generation.
type SeedSource interface {
	RandomSeed(ctx context.Context) [32]byte
}

// BlockClock reports the logical position of the current call.
type BlockClock interface {
	BlockNumber(ctx context.Context) BlockNumber
	ExtrinsicIndex(ctx context.Context) uint32
}

// EventSink receives events after their transition committed.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// ErrNoCaller is returned by ContextAuthenticator when the context carries no
// caller.
var ErrNoCaller = errors.New("no caller on context")

// ErrNoCurrency is returned when Buy runs without a configured currency.
var ErrNoCurrency = errors.New("no currency configured")

type callerKey struct{}

// WithCaller returns a context carrying the calling account.
func WithCaller(ctx context.Context, who AccountID) context.Context {
	return context.WithValue(ctx, callerKey{}, who)
}

// CallerFrom extracts the account set by WithCaller.
func CallerFrom(ctx context.Context) (AccountID, bool) {
	who, ok := ctx.Value(callerKey{}).(AccountID)
	return who, ok
}

// ContextAuthenticator trusts the caller placed on the context.
type ContextAuthenticator struct{}

// Authenticate implements Authenticator.
func (ContextAuthenticator) Authenticate(ctx context.Context) (AccountID, error) {
	who, ok := CallerFrom(ctx)
	if !ok {
		return "", ErrNoCaller
	}
	return who, nil
}

// ManualClock is a BlockClock whose position is set explicitly.
type ManualClock struct {
	mu        sync.Mutex
	block     BlockNumber
	extrinsic uint32
}

// NewManualClock starts at the given block.
func NewManualClock(block BlockNumber) *ManualClock {
	return &ManualClock{block: block}
}

// BlockNumber implements BlockClock.
func (c *ManualClock) BlockNumber(context.Context) BlockNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// ExtrinsicIndex implements BlockClock.
func (c *ManualClock) ExtrinsicIndex(context.Context) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.extrinsic
}

// Set moves the clock to block and resets the extrinsic index.
func (c *ManualClock) Set(block BlockNumber) {
	c.mu.Lock()
	c.block, c.extrinsic = block, 0
	c.mu.Unlock()
}

// SetExtrinsic changes the index reported within the current block.
func (c *ManualClock) SetExtrinsic(index uint32) {
	c.mu.Lock()
	c.extrinsic = index
	c.mu.Unlock()
}

// Advance moves forward n blocks.
func (c *ManualClock) Advance(n BlockNumber) {
	c.mu.Lock()
	c.block += n
	c.extrinsic = 0
	c.mu.Unlock()
}

// FixedSeed always returns the same seed.
type FixedSeed [32]byte

// RandomSeed implements SeedSource.
func (s FixedSeed) RandomSeed(context.Context) [32]byte { return s }

// CryptoSeed draws a fresh seed from crypto/rand for every call.
type CryptoSeed struct{}

// RandomSeed implements SeedSource.
func (CryptoSeed) RandomSeed(context.Context) [32]byte {
	var seed [32]byte
	_, _ = rand.Read(seed[:])
	return seed
}

type noopSink struct{}

func (noopSink) Publish(context.Context, Event) error { return nil }

type noCurrency struct{}

func (noCurrency) Transfer(context.Context, domain.KV, AccountID, AccountID, Balance, ExistenceRequirement) error {
	return ErrNoCurrency
}
