package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kittycore/internal/blob"
	"kittycore/internal/core"
	"kittycore/internal/genesis"
	"kittycore/internal/infra/events"
	"kittycore/internal/platform/config"
	"kittycore/pkg/domain"
)

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "kittyctl",
		Short:         "Run kitty state transitions against a persistent store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.caller, "caller", "", "account the transition runs as")
	pf.Uint64Var(&flags.block, "block", 0, "current block number")
	pf.Uint32Var(&flags.extrinsic, "extrinsic", 0, "extrinsic index within the block")
	pf.BoolVar(&flags.trace, "trace", false, "write a JSON trace line per transition to stderr")
	pf.BoolVar(&flags.showEvents, "show-events", false, "write the events raised by this invocation to stderr as JSON lines")

	// withApp opens the collaborators for one command and always releases them.
	withApp := func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); err == nil {
					err = cerr
				}
			}()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if flags.caller != "" {
				ctx = core.WithCaller(ctx, domain.AccountID(flags.caller))
			}
			if err := fn(ctx, cmd, a, args); err != nil {
				return err
			}
			if flags.showEvents {
				return a.writeRaised(cmd.ErrOrStderr())
			}
			return nil
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "genesis FILE",
			Short: "Initialize from a YAML genesis document",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				g, err := genesis.Load(args[0])
				if err != nil {
					return err
				}
				res, err := genesis.Apply(ctx, a.svc, a.ledger, g, genesis.WithSequencer(a.clock))
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"admin": g.Admin, "endowed": res.Endowed, "minted": res.Minted})
			}),
		},
		&cobra.Command{
			Use:   "init MIN_BREED_AGE MAX_BREED_AGE MAX_AGE",
			Short: "Set breeding parameters and make the caller admin",
			Args:  cobra.ExactArgs(3),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				ages, err := parseBlocks(args)
				if err != nil {
					return err
				}
				return a.svc.Init(ctx, ages[0], ages[1], ages[2])
			}),
		},
		&cobra.Command{
			Use:   "create",
			Short: "Mint a kitty for the caller",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
				id, err := a.svc.Create(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"kitty": id})
			}),
		},
		&cobra.Command{
			Use:   "breed PARENT1 PARENT2",
			Short: "Breed two kitties owned by the caller",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				p1, err := parseIndex(args[0])
				if err != nil {
					return err
				}
				p2, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				id, err := a.svc.Breed(ctx, p1, p2)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"kitty": id})
			}),
		},
		&cobra.Command{
			Use:   "transfer TO KITTY",
			Short: "Give a kitty to another account",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				id, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				return a.svc.Transfer(ctx, domain.AccountID(args[0]), id)
			}),
		},
		&cobra.Command{
			Use:   "ask KITTY [PRICE]",
			Short: "List a kitty for sale, or delist it when PRICE is omitted",
			Args:  cobra.RangeArgs(1, 2),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				id, err := parseIndex(args[0])
				if err != nil {
					return err
				}
				var price *domain.Balance
				if len(args) == 2 {
					p, err := parseBalance(args[1])
					if err != nil {
						return err
					}
					price = &p
				}
				return a.svc.Ask(ctx, id, price)
			}),
		},
		&cobra.Command{
			Use:   "buy KITTY MAX_PRICE",
			Short: "Buy a listed kitty paying at most MAX_PRICE",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				id, err := parseIndex(args[0])
				if err != nil {
					return err
				}
				offered, err := parseBalance(args[1])
				if err != nil {
					return err
				}
				return a.svc.Buy(ctx, id, offered)
			}),
		},
		updateBlockCmd("update-min-breed-age", "Set the minimum breeding age", withApp, (*core.Service).UpdateMinBreedAge),
		updateBlockCmd("update-max-breed-age", "Set the maximum breeding age", withApp, (*core.Service).UpdateMaxBreedAge),
		updateBlockCmd("update-max-age", "Set the maximum age", withApp, (*core.Service).UpdateMaxAge),
		&cobra.Command{
			Use:   "update-owner ACCOUNT",
			Short: "Hand the admin role to ACCOUNT",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				return a.svc.UpdateOwner(ctx, domain.AccountID(args[0]))
			}),
		},
		&cobra.Command{
			Use:   "show KITTY",
			Short: "Print a kitty with its owner, price and age",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				id, err := parseIndex(args[0])
				if err != nil {
					return err
				}
				return showKitty(ctx, cmd, a.svc, id)
			}),
		},
		&cobra.Command{
			Use:   "owned ACCOUNT",
			Short: "List the kitties of ACCOUNT in list order",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				ids, err := a.svc.OwnedKitties(ctx, domain.AccountID(args[0]))
				if err != nil {
					return err
				}
				if ids == nil {
					ids = []domain.KittyIndex{}
				}
				return printJSON(cmd, ids)
			}),
		},
		&cobra.Command{
			Use:   "params",
			Short: "Print the breeding parameters",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
				params, err := a.svc.Params(ctx)
				if err != nil {
					return err
				}
				count, err := a.svc.KittiesCount(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"params": params, "kitties_count": count})
			}),
		},
		&cobra.Command{
			Use:   "balance ACCOUNT",
			Short: "Print the free balance of ACCOUNT",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				bal, err := a.balance(ctx, domain.AccountID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"account": args[0], "balance": bal})
			}),
		},
		newSnapshotCmd(withApp),
		newEventsCmd(),
	)
	return root
}

type appRunner func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func updateBlockCmd(use, short string, withApp appRunner, op func(*core.Service, context.Context, domain.BlockNumber) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " BLOCKS",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			v, err := parseBlocks(args)
			if err != nil {
				return err
			}
			return op(a.svc, ctx, v[0])
		}),
	}
}

func newSnapshotCmd(withApp appRunner) *cobra.Command {
	snap := &cobra.Command{Use: "snapshot", Short: "Archive or restore the full state"}
	snap.AddCommand(
		&cobra.Command{
			Use:   "export [LABEL]",
			Short: "Write a compressed snapshot to the blob store",
			Args:  cobra.MaximumNArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				src, err := a.snapshotter()
				if err != nil {
					return err
				}
				arch, err := a.archiver(ctx)
				if err != nil {
					return err
				}
				label := ""
				if len(args) == 1 {
					label = args[0]
				}
				info, err := arch.Export(ctx, src, label)
				if err != nil {
					return err
				}
				a.logger.Info("snapshot exported", "key", info.Key, "size", info.Size)
				return printJSON(cmd, info)
			}),
		},
		&cobra.Command{
			Use:   "restore [KEY]",
			Short: "Replace the state with a snapshot, the latest by default",
			Args:  cobra.MaximumNArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				dst, err := a.snapshotter()
				if err != nil {
					return err
				}
				arch, err := a.archiver(ctx)
				if err != nil {
					return err
				}
				var key string
				if len(args) == 1 {
					key = args[0]
				} else if key, err = arch.Latest(ctx); err != nil {
					return err
				}
				n, err := arch.Restore(ctx, dst, key)
				if err != nil {
					return err
				}
				a.logger.Info("snapshot restored", "key", key, "entries", n)
				return printJSON(cmd, map[string]any{"key": key, "entries": n})
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List archived snapshots",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
				arch, err := a.archiver(ctx)
				if err != nil {
					return err
				}
				infos, err := arch.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, infos)
			}),
		},
		&cobra.Command{
			Use:   "show KEY",
			Short: "Print the stored metadata of a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				arch, err := a.archiver(ctx)
				if err != nil {
					return err
				}
				info, err := arch.Stat(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, info)
			}),
		},
		&cobra.Command{
			Use:   "delete KEY",
			Short: "Remove a snapshot",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				arch, err := a.archiver(ctx)
				if err != nil {
					return err
				}
				existed, err := arch.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				if !existed {
					return fmt.Errorf("%w: %s", blob.ErrNotFound, args[0])
				}
				a.logger.Info("snapshot deleted", "key", args[0])
				return printJSON(cmd, map[string]any{"deleted": args[0]})
			}),
		},
		newPruneCmd(withApp),
	)
	return snap
}

func newPruneCmd(withApp appRunner) *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest unlabelled snapshots",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			arch, err := a.archiver(ctx)
			if err != nil {
				return err
			}
			deleted, err := arch.Prune(ctx, keep)
			if err != nil {
				return err
			}
			a.logger.Info("snapshots pruned", "deleted", len(deleted), "keep", keep)
			if deleted == nil {
				deleted = []string{}
			}
			return printJSON(cmd, map[string]any{"deleted": deleted})
		}),
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "number of unlabelled snapshots to keep")
	return cmd
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events FILE",
		Short: "Decode a journal file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			evs, err := events.ReadJournal(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, ev := range evs {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

type kittyView struct {
	ID    domain.KittyIndex  `json:"id"`
	DNA   string             `json:"dna"`
	Owner domain.AccountID   `json:"owner"`
	Price *domain.Balance    `json:"price"`
	Born  domain.BlockNumber `json:"created_at"`
	Age   domain.BlockNumber `json:"age"`
	Alive bool               `json:"alive"`
}

func showKitty(ctx context.Context, cmd *cobra.Command, svc *core.Service, id domain.KittyIndex) error {
	kitty, err := svc.Kitty(ctx, id)
	if err != nil {
		return err
	}
	owner, err := svc.OwnerOf(ctx, id)
	if err != nil {
		return err
	}
	price, err := svc.PriceOf(ctx, id)
	if err != nil {
		return err
	}
	age, err := svc.Age(ctx, id)
	if err != nil {
		return err
	}
	alive, err := svc.IsAlive(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(cmd, kittyView{ID: id, DNA: kitty.DNA.String(), Owner: owner, Price: price, Born: kitty.CreatedAt, Age: age, Alive: alive})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseIndex(s string) (domain.KittyIndex, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid kitty index %q", s)
	}
	return domain.KittyIndex(v), nil
}

func parseBalance(s string) (domain.Balance, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return domain.Balance(v), nil
}

func parseBlocks(args []string) ([]domain.BlockNumber, error) {
	out := make([]domain.BlockNumber, 0, len(args))
	for _, s := range args {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, errors.New("invalid block count " + strconv.Quote(s))
		}
		out = append(out, domain.BlockNumber(v))
	}
	return out, nil
}
