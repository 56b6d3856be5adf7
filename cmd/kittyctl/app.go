package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"kittycore/internal/archive"
	"kittycore/internal/balances"
	"kittycore/internal/blob"
	"kittycore/internal/core"
	"kittycore/internal/infra/events"
	"kittycore/internal/platform/config"
	"kittycore/pkg/domain"
)

// app holds the collaborators of a single invocation.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    core.PersistentStore
	ledger   *balances.Ledger
	clock    *core.ManualClock
	journal  *events.Journal
	raised   *events.MemorySink
	registry *prometheus.Registry
	svc      *core.Service
}

type globalFlags struct {
	caller     string
	block      uint64
	extrinsic  uint32
	trace      bool
	showEvents bool
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openApp(cfg config.Config, flags globalFlags, stderr io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   newLogger(stderr, cfg),
		ledger:   balances.NewLedger(cfg.ExistentialDeposit()),
		clock:    core.NewManualClock(domain.BlockNumber(flags.block)),
		journal:  events.NewJournal(cfg.JournalDir),
		raised:   events.NewMemorySink(),
		registry: prometheus.NewRegistry(),
	}
	a.clock.SetExtrinsic(flags.extrinsic)

	store, err := core.OpenPersistentStore(cfg.Storage(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store

	metrics, err := core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	var seeds core.SeedSource = core.CryptoSeed{}
	if seed, ok, _ := cfg.SeedBytes(); ok {
		seeds = core.FixedSeed(seed)
	}
	opts := []core.ServiceOption{
		core.WithLogger(a.logger),
		core.WithAuditRecorder(core.LoggerAuditRecorder{Logger: a.logger}),
		core.WithMetricsRecorder(metrics),
		core.WithBlockClock(a.clock),
		core.WithCurrency(a.ledger),
		core.WithSeedSource(seeds),
		core.WithEventSink(events.Fanout{a.journal, a.raised}),
	}
	if flags.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	a.svc = core.NewService(store, opts...)
	return a, nil
}

// close flushes the journal, writes the metrics textfile and releases the
// store.
func (a *app) close() error {
	var errs []error
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.cfg.MetricsFile != "" && a.registry != nil {
		errs = append(errs, prometheus.WriteToTextfile(a.cfg.MetricsFile, a.registry))
	}
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// writeRaised prints the events published during this invocation, one JSON
// object per line.
func (a *app) writeRaised(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, ev := range a.raised.Events() {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) snapshotter() (domain.Snapshotter, error) {
	snap, ok := a.store.(domain.Snapshotter)
	if !ok {
		return nil, fmt.Errorf("storage driver %s does not support snapshots", a.cfg.StorageDriver)
	}
	return snap, nil
}

func (a *app) archiver(ctx context.Context) (*archive.Archiver, error) {
	store, err := blob.Open(ctx, a.cfg.Blob())
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return archive.New(store), nil
}

func (a *app) balance(ctx context.Context, who domain.AccountID) (domain.Balance, error) {
	var bal domain.Balance
	err := a.store.View(ctx, func(v domain.TransactionView) error {
		var err error
		bal, err = a.ledger.Balance(v, who)
		return err
	})
	return bal, err
}
