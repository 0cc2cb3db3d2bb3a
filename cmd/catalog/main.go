// Package main is the catalog upload tool: it replaces the vehicle or fixture
// catalog in Neo4j from a JSON or YAML dataset and tells running API
// instances to refresh.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/spf13/cobra"

	"github.com/motolight/motolight/engine/catalog"
	"github.com/motolight/motolight/engine/domain"
	"github.com/motolight/motolight/pkg/config"
	"github.com/motolight/motolight/pkg/natsutil"
)

// Replacer swaps a whole catalog.
type Replacer interface {
	ReplaceVehicles(ctx context.Context, makes []domain.Make) (catalog.ReplaceResult, error)
	ReplaceFixtures(ctx context.Context, fixtures []domain.Fixture) (catalog.ReplaceResult, error)
}

// backend is what an upload talks to. events may be nil.
type backend struct {
	store  Replacer
	events natsutil.Publisher
	close  func()
}

type dialFunc func(ctx context.Context, cfg config.Config) (*backend, error)

func dial(ctx context.Context, cfg config.Config) (*backend, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connect %s: %w", cfg.Neo4jURL, err)
	}
	nc, err := natsutil.Connect(cfg.NATSURL, "catalog-upload")
	if err != nil {
		driver.Close(ctx)
		return nil, err
	}

	b := &backend{store: catalog.NewStore(driver)}
	if nc != nil {
		b.events = nc
	}
	b.close = func() {
		if nc != nil {
			nc.Drain()
		}
		driver.Close(context.Background())
	}
	return b, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.Load(), dial, logger).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// dataset is one uploadable catalog: how to load and validate it, and how to
// write it.
type dataset struct {
	kind    string
	load    func(path string) (any, int, error)
	replace func(ctx context.Context, r Replacer, data any) (catalog.ReplaceResult, error)
}

var vehicles = dataset{
	kind: catalog.KindVehicles,
	load: func(path string) (any, int, error) {
		makes, err := catalog.LoadVehicles(path)
		return makes, len(makes), err
	},
	replace: func(ctx context.Context, r Replacer, data any) (catalog.ReplaceResult, error) {
		return r.ReplaceVehicles(ctx, data.([]domain.Make))
	},
}

var fixtures = dataset{
	kind: catalog.KindFixtures,
	load: func(path string) (any, int, error) {
		fs, err := catalog.LoadFixtures(path)
		return fs, len(fs), err
	},
	replace: func(ctx context.Context, r Replacer, data any) (catalog.ReplaceResult, error) {
		return r.ReplaceFixtures(ctx, data.([]domain.Fixture))
	},
}

type uploader struct {
	cfg    config.Config
	dial   dialFunc
	logger *slog.Logger
	dryRun bool
}

func newRootCmd(cfg config.Config, d dialFunc, logger *slog.Logger) *cobra.Command {
	u := &uploader{cfg: cfg, dial: d, logger: logger}

	root := &cobra.Command{
		Use:           "catalog",
		Short:         "Replace the motolight reference catalogs",
		Long:          `Reads a JSON or YAML dataset, validates it and replaces the matching catalog in Neo4j in one transaction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&u.dryRun, "dry-run", false, "Validate the dataset without writing it")

	root.AddCommand(
		&cobra.Command{
			Use:   "vehicles <file>",
			Short: "Replace the vehicle catalog (makes, models and model years)",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return u.run(cmd, vehicles, args[0]) },
		},
		&cobra.Command{
			Use:   "fixtures <file>",
			Short: "Replace the fog-light fixture catalog",
			Args:  cobra.ExactArgs(1),
			RunE:  func(cmd *cobra.Command, args []string) error { return u.run(cmd, fixtures, args[0]) },
		},
	)
	return root
}

func (u *uploader) run(cmd *cobra.Command, ds dataset, path string) error {
	data, n, err := ds.load(path)
	if err != nil {
		u.logger.Error("dataset rejected", "kind", ds.kind, "file", path, "err", err)
		return err
	}
	if u.dryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Dataset valid. Records: %d\n", n)
		return nil
	}

	ctx := cmd.Context()
	b, err := u.dial(ctx, u.cfg)
	if err != nil {
		u.logger.Error("connect failed", "err", err)
		return err
	}
	defer b.close()

	res, err := ds.replace(ctx, b.store, data)
	if err != nil {
		u.logger.Error("upload failed", "kind", ds.kind, "err", err)
		return err
	}

	if b.events != nil {
		ev := catalog.ChangedEvent{Kind: ds.kind, Inserted: res.Inserted, Deleted: res.Deleted, At: time.Now().UTC()}
		if err := natsutil.Publish(ctx, b.events, catalog.SubjectChanged, ev); err != nil {
			u.logger.Warn("catalog change publish failed", "kind", ds.kind, "err", err)
		}
	}
	u.logger.Info("catalog replaced", "kind", ds.kind, "inserted", res.Inserted, "deleted", res.Deleted)
	fmt.Fprintf(cmd.OutOrStdout(), "Upload complete. Inserted: %d, Deleted: %d\n", res.Inserted, res.Deleted)
	return nil
}
