package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bobbercheng/remit-demo-sub001/service/bootstrap"
	"github.com/bobbercheng/remit-demo-sub001/service/config"
	natspkg "github.com/bobbercheng/remit-demo-sub001/service/nats"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/urfave/cli/v2"
)

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run one recovery sweep over stalled and ambiguous transactions",
		Description: `Runs the same pass the scheduled ReconcileWorkflow runs: stale pre-execution
transactions are re-dispatched, abandoned EXECUTING transfers are moved to
UNKNOWN_RECONCILING and due UNKNOWN_RECONCILING transfers are checked with
their provider.

Reads the full service configuration from the environment.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Maximum transactions per status per pass (0 uses RECONCILE_BATCH_SIZE)",
			},
		},
		Action: func(c *cli.Context) error {
			ctx := context.Background()
			core, cfg, cleanup, err := loadCore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			batch := c.Int("batch-size")
			if batch <= 0 {
				batch = cfg.ReconcileBatchSize
			}

			res, err := remittance.NewReconciler(core.Orchestrator, batch).RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("recovery sweep failed: %w", err)
			}

			if jsonOutput(c) {
				return outputJSON(c, res)
			}
			fmt.Printf("Resumed:    %d\n", res.Resumed)
			fmt.Printf("Suspended:  %d\n", res.Suspended)
			fmt.Printf("Reconciled: %d\n", res.Reconciled)
			fmt.Printf("Unresolved: %d\n", res.Unresolved)
			fmt.Printf("Errors:     %d\n", res.Errors)
			return nil
		},
	}
}

func reconcileTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "transaction",
		Usage:     "Query the provider for one UNKNOWN_RECONCILING transaction",
		Aliases:   []string{"tx"},
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			ctx := context.Background()
			core, _, cleanup, err := loadCore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			tx, err := core.Orchestrator.Reconcile(ctx, c.Args().First())
			if err != nil && !errors.Is(err, remittance.ErrReconciliationUnresolved) {
				return fmt.Errorf("reconcile failed: %w", err)
			}
			if errors.Is(err, remittance.ErrReconciliationUnresolved) {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}

			if jsonOutput(c) {
				return outputJSON(c, tx)
			}
			printTransaction(tx)
			return nil
		},
	}
}

// loadCore wires the orchestrator from the service configuration. Events are
// published when NATS is reachable.
func loadCore(ctx context.Context) (*bootstrap.Core, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var publisher natspkg.Publisher
	js, err := natspkg.NewPublisher(cfg.NATSURL, nil, logger)
	if err != nil {
		logger.Warn("NATS unavailable, events will not be published", "error", err)
	} else {
		publisher = js
	}

	core, err := bootstrap.New(ctx, cfg, publisher, nil, logger)
	if err != nil {
		if js != nil {
			js.Close()
		}
		return nil, nil, nil, err
	}

	cleanup := func() {
		core.Close()
		if js != nil {
			js.Close()
		}
	}
	return core, cfg, cleanup, nil
}
