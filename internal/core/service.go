// Package core implements the kitty state machine: the per-owner linked index,
// the record registry, breeding and the marketplace transitions, each executed
// as one atomic transaction against a domain.PersistentStore.
package core

import (
	"context"
	"errors"

	"kittycore/internal/infra/persistence/memory"
	"kittycore/pkg/domain"
)

// Operation names used for tracing, metrics, audit and errors.
const (
	OpInit              = "init"
	OpCreate            = "create"
	OpBreed             = "breed"
	OpTransfer          = "transfer"
	OpAsk               = "ask"
	OpBuy               = "buy"
	OpUpdateMinBreedAge = "update_min_breed_age"
	OpUpdateMaxBreedAge = "update_max_breed_age"
	OpUpdateMaxAge      = "update_max_age"
	OpUpdateOwner       = "update_owner"
)

// Service exposes the state transitions and read queries over a store.
type Service struct {
	store    PersistentStore
	clock    Clock
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	currency Currency
	auth     Authenticator
	seeds    SeedSource
	blocks   BlockClock
	events   EventSink
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		store:    store,
		clock:    cfg.clock,
		logger:   cfg.logger,
		audit:    cfg.audit,
		metrics:  cfg.metrics,
		tracer:   cfg.tracer,
		currency: cfg.currency,
		auth:     cfg.auth,
		seeds:    cfg.seeds,
		blocks:   cfg.blocks,
		events:   cfg.events,
	}
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// call carries the per-operation context through run and the transaction body.
type call struct {
	op        string
	caller    AccountID
	authErr   error
	block     BlockNumber
	extrinsic uint32
	kitty     *KittyIndex
	events    []Event
}

// origin returns the authenticated caller or a BadOrigin failure.
func (c *call) origin() (AccountID, error) {
	if c.authErr != nil {
		return "", domain.Fail(domain.ErrBadOrigin).WithCause(c.authErr)
	}
	if !c.caller.Valid() {
		return "", domain.Fail(domain.ErrBadOrigin).WithCause(domain.ErrInvalidAccount)
	}
	return c.caller, nil
}

func (c *call) emit(event Event) {
	event.Block = c.block
	c.events = append(c.events, event)
}

func (c *call) touch(id KittyIndex) {
	c.kitty = &id
}

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, c *call) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := s.clock.Now()
	c := &call{
		op:        op,
		block:     s.blocks.BlockNumber(ctx),
		extrinsic: s.blocks.ExtrinsicIndex(ctx),
	}
	c.caller, c.authErr = s.auth.Authenticate(ctx)

	err := fn(ctx, c)
	var te *domain.TransitionError
	if errors.As(err, &te) && te.Op == "" {
		te.Op = op
	}

	duration := s.clock.Now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	span.End(err)

	entry := AuditEntry{
		Operation: op,
		Status:    AuditStatusSuccess,
		Caller:    c.caller,
		Kitty:     c.kitty,
		Block:     c.block,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.audit.Record(ctx, entry)
		s.logger.Warn("kitty operation failed", "operation", op, "caller", c.caller, "block", c.block, "error", err)
		return err
	}
	s.audit.Record(ctx, entry)
	s.logger.Debug("kitty operation completed", "operation", op, "caller", c.caller, "block", c.block, "duration", duration)

	for _, event := range c.events {
		if perr := s.events.Publish(ctx, event); perr != nil {
			s.logger.Warn("publish event failed", "operation", op, "kind", event.Kind, "kitty", event.Kitty, "error", perr)
		}
	}
	return nil
}

// transact runs fn in one store transaction. Events emitted by a failed body
// are dropped. A Dead failure commits the removal of the kitty's listing in a
// separate transaction before returning.
func (s *Service) transact(ctx context.Context, c *call, fn func(tx Transaction) error) error {
	_, err := s.store.RunInTransaction(ctx, fn)
	if err == nil {
		return nil
	}
	c.events = nil
	var te *domain.TransitionError
	if errors.As(err, &te) && errors.Is(te.Kind, domain.ErrDead) && te.Kitty != nil {
		s.delistDead(ctx, *te.Kitty)
	}
	return err
}

func (s *Service) delistDead(ctx context.Context, id KittyIndex) {
	var removed bool
	_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		key := domain.PriceKey(id)
		if removed = tx.Exists(key); removed {
			tx.Remove(key)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("delist dead kitty failed", "kitty", id, "error", err)
		return
	}
	if removed {
		s.logger.Info("delisted dead kitty", "kitty", id)
	}
}

// liveKitty loads id and fails when it is missing or past its max age.
func liveKitty(view TransactionView, params Params, id KittyIndex, now BlockNumber) (Kitty, error) {
	kitty, err := loadKitty(view, id)
	if err != nil {
		return Kitty{}, err
	}
	if !isAlive(params, kitty, now) {
		return Kitty{}, domain.Fail(domain.ErrDead).WithKitty(id)
	}
	return kitty, nil
}

func requireOwner(view TransactionView, id KittyIndex, who AccountID) error {
	owner, ok, err := loadOwner(view, id)
	if err != nil {
		return err
	}
	if !ok || owner != who {
		return domain.Fail(domain.ErrUnauthorized).WithKitty(id).WithAccount(who)
	}
	return nil
}

func requireAdmin(params Params, who AccountID) error {
	if params.Admin != who {
		return domain.Fail(domain.ErrUnauthorized).WithAccount(who)
	}
	return nil
}

// Init writes the breeding parameters and makes the caller admin. It can run
// only once.
func (s *Service) Init(ctx context.Context, minBreedAge, maxBreedAge, maxAge BlockNumber) error {
	return s.run(ctx, OpInit, func(ctx context.Context, c *call) error {
		return s.transact(ctx, c, func(tx Transaction) error {
			who, err := c.origin()
			if err != nil {
				return err
			}
			params, err := loadParams(tx)
			if err != nil {
				return err
			}
			if params.Initialized {
				return domain.Fail(domain.ErrAlreadyInitialized)
			}
			if !domain.ValidAges(minBreedAge, maxBreedAge, maxAge) {
				return domain.Fail(domain.ErrInvalidParameters)
			}
			return domain.Save(tx, domain.ParamsKey(), Params{
				MinBreedAge: minBreedAge,
				MaxBreedAge: maxBreedAge,
				MaxAge:      maxAge,
				Admin:       who,
				Initialized: true,
			})
		})
	})
}

// Create mints a kitty with random DNA owned by the caller.
func (s *Service) Create(ctx context.Context) (KittyIndex, error) {
	var id KittyIndex
	err := s.run(ctx, OpCreate, func(ctx context.Context, c *call) error {
		seed := s.seeds.RandomSeed(ctx)
		return s.transact(ctx, c, func(tx Transaction) error {
			if _, err := requireInitialized(tx); err != nil {
				return err
			}
			who, err := c.origin()
			if err != nil {
				return err
			}
			next, err := nextKittyID(tx)
			if err != nil {
				return err
			}
			dna := randomValue(seed, who, c.extrinsic, c.block)
			if err := insertKitty(tx, who, next, dna, c.block); err != nil {
				return err
			}
			id = next
			c.touch(next)
			c.emit(domain.CreatedEvent(who, next))
			return nil
		})
	})
	return id, err
}

// Breed mints a child of two distinct, live, breed-age kitties owned by the
// caller. The child's DNA mixes the parents under a random selector.
func (s *Service) Breed(ctx context.Context, parent1, parent2 KittyIndex) (KittyIndex, error) {
	var id KittyIndex
	err := s.run(ctx, OpBreed, func(ctx context.Context, c *call) error {
		seed := s.seeds.RandomSeed(ctx)
		return s.transact(ctx, c, func(tx Transaction) error {
			params, err := requireInitialized(tx)
			if err != nil {
				return err
			}
			who, err := c.origin()
			if err != nil {
				return err
			}
			if parent1 == parent2 {
				return domain.Fail(domain.ErrSameParent).WithKitty(parent1)
			}
			k1, err := loadKitty(tx, parent1)
			if err != nil {
				return err
			}
			k2, err := loadKitty(tx, parent2)
			if err != nil {
				return err
			}
			if !isAlive(params, k1, c.block) {
				return domain.Fail(domain.ErrDead).WithKitty(parent1)
			}
			if !isAlive(params, k2, c.block) {
				return domain.Fail(domain.ErrDead).WithKitty(parent2)
			}
			if err := requireOwner(tx, parent1, who); err != nil {
				return err
			}
			if err := requireOwner(tx, parent2, who); err != nil {
				return err
			}
			if !canBreed(params, k1, c.block) {
				return domain.Fail(domain.ErrIneligibleAge).WithKitty(parent1)
			}
			if !canBreed(params, k2, c.block) {
				return domain.Fail(domain.ErrIneligibleAge).WithKitty(parent2)
			}
			next, err := nextKittyID(tx)
			if err != nil {
				return err
			}
			selector := randomValue(seed, who, c.extrinsic, c.block)
			if err := insertKitty(tx, who, next, combineDNA(k1.DNA, k2.DNA, selector), c.block); err != nil {
				return err
			}
			id = next
			c.touch(next)
			c.emit(domain.CreatedEvent(who, next))
			return nil
		})
	})
	return id, err
}

// Transfer moves a live kitty from the caller to another account, clearing
// any listing.
func (s *Service) Transfer(ctx context.Context, to AccountID, id KittyIndex) error {
	return s.run(ctx, OpTransfer, func(ctx context.Context, c *call) error {
		c.touch(id)
		return s.transact(ctx, c, func(tx Transaction) error {
			params, err := requireInitialized(tx)
			if err != nil {
				return err
			}
			who, err := c.origin()
			if err != nil {
				return err
			}
			if !to.Valid() {
				return domain.Fail(domain.ErrInvalidAccount).WithAccount(to)
			}
			if _, err := liveKitty(tx, params, id, c.block); err != nil {
				return err
			}
			if err := requireOwner(tx, id, who); err != nil {
				return err
			}
			if err := moveKitty(tx, who, to, id); err != nil {
				return err
			}
			c.emit(domain.TransferredEvent(who, to, id))
			return nil
		})
	})
}

// Ask lists a live kitty for sale at price, or delists it when price is nil.
func (s *Service) Ask(ctx context.Context, id KittyIndex, price *Balance) error {
	return s.run(ctx, OpAsk, func(ctx context.Context, c *call) error {
		c.touch(id)
		return s.transact(ctx, c, func(tx Transaction) error {
			params, err := requireInitialized(tx)
			if err != nil {
				return err
			}
			who, err := c.origin()
			if err != nil {
				return err
			}
			if _, err := liveKitty(tx, params, id, c.block); err != nil {
				return err
			}
			if err := requireOwner(tx, id, who); err != nil {
				return err
			}
			if price == nil {
				tx.Remove(domain.PriceKey(id))
			} else if err := domain.Save(tx, domain.PriceKey(id), *price); err != nil {
				return err
			}
			var listed *Balance
			if price != nil {
				listed = domain.BalancePtr(*price)
			}
			c.emit(domain.AskEvent(who, id, listed))
			return nil
		})
	})
}

// Buy pays the listed price to the owner and takes the kitty. offered must
// be at least the listed price; only the listed price is charged.
func (s *Service) Buy(ctx context.Context, id KittyIndex, offered Balance) error {
	return s.run(ctx, OpBuy, func(ctx context.Context, c *call) error {
		c.touch(id)
		return s.transact(ctx, c, func(tx Transaction) error {
			params, err := requireInitialized(tx)
			if err != nil {
				return err
			}
			who, err := c.origin()
			if err != nil {
				return err
			}
			if _, err := liveKitty(tx, params, id, c.block); err != nil {
				return err
			}
			owner, ok, err := loadOwner(tx, id)
			if err != nil {
				return err
			}
			if !ok {
				return domain.Fail(domain.ErrNotFound).WithKitty(id)
			}
			price, err := loadPrice(tx, id)
			if err != nil {
				return err
			}
			if price == nil {
				return domain.Fail(domain.ErrNotForSale).WithKitty(id)
			}
			if offered < *price {
				return domain.Fail(domain.ErrPriceTooLow).WithKitty(id).WithAccount(who)
			}
			if err := s.currency.Transfer(ctx, tx, who, owner, *price, KeepAlive); err != nil {
				return domain.Fail(domain.ErrPaymentFailed).WithKitty(id).WithAccount(who).WithCause(err)
			}
			if err := moveKitty(tx, owner, who, id); err != nil {
				return err
			}
			c.emit(domain.SoldEvent(owner, who, id, *price))
			return nil
		})
	})
}

// UpdateMinBreedAge changes the lower breeding bound.
func (s *Service) UpdateMinBreedAge(ctx context.Context, value BlockNumber) error {
	return s.updateParams(ctx, OpUpdateMinBreedAge, func(p *Params) { p.MinBreedAge = value })
}

// UpdateMaxBreedAge changes the upper breeding bound.
func (s *Service) UpdateMaxBreedAge(ctx context.Context, value BlockNumber) error {
	return s.updateParams(ctx, OpUpdateMaxBreedAge, func(p *Params) { p.MaxBreedAge = value })
}

// UpdateMaxAge changes the lifespan.
func (s *Service) UpdateMaxAge(ctx context.Context, value BlockNumber) error {
	return s.updateParams(ctx, OpUpdateMaxAge, func(p *Params) { p.MaxAge = value })
}

// UpdateOwner hands the admin role to another account.
func (s *Service) UpdateOwner(ctx context.Context, admin AccountID) error {
	return s.run(ctx, OpUpdateOwner, func(ctx context.Context, c *call) error {
		return s.transact(ctx, c, func(tx Transaction) error {
			params, err := requireInitialized(tx)
			if err != nil {
				return err
			}
			who, err := c.origin()
			if err != nil {
				return err
			}
			if err := requireAdmin(params, who); err != nil {
				return err
			}
			if !admin.Valid() {
				return domain.Fail(domain.ErrInvalidAccount).WithAccount(admin)
			}
			params.Admin = admin
			return domain.Save(tx, domain.ParamsKey(), params)
		})
	})
}

func (s *Service) updateParams(ctx context.Context, op string, mutate func(*Params)) error {
	return s.run(ctx, op, func(ctx context.Context, c *call) error {
		return s.transact(ctx, c, func(tx Transaction) error {
			params, err := requireInitialized(tx)
			if err != nil {
				return err
			}
			who, err := c.origin()
			if err != nil {
				return err
			}
			if err := requireAdmin(params, who); err != nil {
				return err
			}
			mutate(&params)
			if !params.Valid() {
				return domain.Fail(domain.ErrInvalidParameters)
			}
			return domain.Save(tx, domain.ParamsKey(), params)
		})
	})
}
