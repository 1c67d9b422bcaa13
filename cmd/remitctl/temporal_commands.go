package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/temporal"
	"github.com/urfave/cli/v2"
	"go.temporal.io/sdk/client"
)

func describeScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:    "describe-schedule",
		Usage:   "Describe the recovery sweep schedule",
		Aliases: []string{"desc"},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx := context.Background()
			handle := tc.SDKClient().ScheduleClient().GetHandle(ctx, temporal.ReconcileScheduleID)
			desc, err := handle.Describe(ctx)
			if err != nil {
				return fmt.Errorf("failed to describe schedule: %w", err)
			}

			var interval time.Duration
			if len(desc.Schedule.Spec.Intervals) > 0 {
				interval = desc.Schedule.Spec.Intervals[0].Every
			}

			if jsonOutput(c) {
				var last *time.Time
				if n := len(desc.Info.RecentActions); n > 0 {
					last = &desc.Info.RecentActions[n-1].ActualTime
				}
				return outputJSON(c, map[string]interface{}{
					"schedule_id":    temporal.ReconcileScheduleID,
					"interval":       interval.String(),
					"paused":         desc.Schedule.State.Paused,
					"recent_actions": len(desc.Info.RecentActions),
					"last_action":    last,
				})
			}

			// Pretty output
			fmt.Printf("Schedule ID:    %s\n", temporal.ReconcileScheduleID)
			fmt.Printf("Interval:       %v\n", interval)
			fmt.Printf("Paused:         %v\n", desc.Schedule.State.Paused)

			if action := desc.Schedule.Action; action != nil {
				if wa, ok := action.(*client.ScheduleWorkflowAction); ok {
					fmt.Printf("\nWorkflow:\n")
					fmt.Printf("  Workflow:     %v\n", wa.Workflow)
					fmt.Printf("  Task Queue:   %s\n", wa.TaskQueue)
				}
			}

			fmt.Printf("\nRecent Actions: %d\n", len(desc.Info.RecentActions))
			if len(desc.Info.RecentActions) > 0 {
				lastAction := desc.Info.RecentActions[len(desc.Info.RecentActions)-1]
				fmt.Printf("Last Action:  %s\n", lastAction.ActualTime.Format(time.RFC3339))
			}

			return nil
		},
	}
}

func ensureScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "ensure-schedule",
		Usage: "Create or update the recovery sweep schedule; an interval of 0 deletes it",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Usage:   "How often the sweep runs",
				EnvVars: []string{"RECONCILE_INTERVAL"},
				Value:   time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			interval := c.Duration("interval")
			if err := temporal.EnsureReconcileSchedule(context.Background(), tc, interval); err != nil {
				return err
			}

			if interval <= 0 {
				fmt.Printf("✓ Schedule %s deleted\n", temporal.ReconcileScheduleID)
			} else {
				fmt.Printf("✓ Schedule %s runs every %v\n", temporal.ReconcileScheduleID, interval)
			}
			return nil
		},
	}
}

func deleteScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-schedule",
		Usage: "Delete the recovery sweep schedule",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip confirmation prompt",
			},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				fmt.Printf("Are you sure you want to delete schedule %s? (y/N): ", temporal.ReconcileScheduleID)
				var response string
				fmt.Scanln(&response)
				if response != "y" && response != "Y" {
					fmt.Println("Cancelled")
					return nil
				}
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteReconcileSchedule(context.Background()); err != nil {
				return err
			}
			fmt.Printf("✓ Schedule %s deleted\n", temporal.ReconcileScheduleID)
			return nil
		},
	}
}

func startTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "start-transfer",
		Usage:     "Start the transfer workflow for a transaction (no-op if one is running)",
		ArgsUsage: "<transaction-id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Wait between settlement checks",
				Value: 30 * time.Second,
			},
			&cli.IntFlag{
				Name:  "max-polls",
				Usage: "Settlement checks before handing over to the sweep",
				Value: 20,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			id := c.Args().First()
			d := tc.Dispatcher(c.Duration("poll-interval"), c.Int("max-polls"))
			if err := d.Enqueue(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("✓ Workflow %s started\n", temporal.TransferWorkflowID(id))
			return nil
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	host := c.String("temporal-host")
	if host == "" {
		host = "localhost:7233" // Default value
	}
	namespace := c.String("temporal-namespace")
	if namespace == "" {
		namespace = "default" // Default value
	}
	taskQueue := c.String("temporal-task-queue")
	if taskQueue == "" {
		taskQueue = "remit-transfers"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return temporal.NewClient(host, namespace, taskQueue, logger)
}
