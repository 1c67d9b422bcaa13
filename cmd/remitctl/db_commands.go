package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/service/db"
	"github.com/bobbercheng/remit-demo-sub001/service/provider"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:      "migrate",
		Usage:     "Apply or roll back schema migrations",
		ArgsUsage: "up|down|version",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "steps",
				Usage: "Number of migrations to roll back (down only)",
				Value: 1,
			},
		},
		Action: func(c *cli.Context) error {
			dbURL, err := databaseURL(c)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			var res db.MigrationResult
			switch c.Args().First() {
			case "up", "":
				res, err = db.MigrateUp(dbURL, logger)
			case "down":
				res, err = db.MigrateDown(dbURL, c.Int("steps"), logger)
			case "version":
				res, err = db.MigrationVersion(dbURL)
			default:
				return fmt.Errorf("unknown migrate direction %q: use up, down or version", c.Args().First())
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			if jsonOutput(c) {
				return outputJSON(c, res)
			}
			fmt.Printf("Schema version: %d -> %d (dirty: %v)\n", res.Before, res.After, res.Dirty)
			return nil
		},
	}
}

func getTransactionCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transaction",
		Usage:     "Get transaction details with its latest quote",
		Aliases:   []string{"get"},
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			tx, err := store.Get(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}
			quote, err := store.LatestQuote(ctx, tx.ID)
			if err != nil && !isNotFound(err) {
				return fmt.Errorf("failed to get quote: %w", err)
			}

			if jsonOutput(c) {
				return outputJSON(c, map[string]interface{}{
					"transaction": tx,
					"quote":       quote,
				})
			}

			printTransaction(tx)
			if quote != nil {
				fmt.Printf("\nQuote:\n")
				fmt.Printf("  Provider:     %s\n", quote.Provider)
				fmt.Printf("  Rate:         %s\n", quote.ExchangeRate)
				fmt.Printf("  Fee:          %s\n", provider.Display(quote.Fee, tx.SourceCurrency))
				fmt.Printf("  Receives:     %s\n", provider.Display(quote.DestinationAmount, tx.DestinationCurrency))
				fmt.Printf("  Expires:      %s\n", quote.ExpiresAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List transactions by sender or by status",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Filter by sender ID",
			},
			&cli.StringSliceFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (repeatable), e.g. UNKNOWN_RECONCILING",
			},
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "With --status, only transactions not updated for this long",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			user := c.String("user")
			statuses := c.StringSlice("status")
			if (user == "") == (len(statuses) == 0) {
				return fmt.Errorf("specify exactly one of --user or --status")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			var txs []*remittance.Transaction
			if user != "" {
				txs, err = store.ListByUser(ctx, user, c.Int("limit"), 0)
			} else {
				parsed := make([]remittance.Status, 0, len(statuses))
				for _, s := range statuses {
					st := remittance.Status(strings.ToUpper(s))
					if !st.Valid() {
						return fmt.Errorf("unknown status %q", s)
					}
					parsed = append(parsed, st)
				}
				txs, err = store.ListByStatus(ctx, parsed, time.Now().Add(-c.Duration("older-than")), c.Int("limit"))
			}
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if jsonOutput(c) {
				return outputJSON(c, txs)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSENDER\tAMOUNT\tCORRIDOR\tPROVIDER\tSTATUS\tUPDATED")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s->%s\t%s\t%s\t%s\n",
					tx.ID,
					tx.SenderID,
					provider.Display(tx.SourceAmount, tx.SourceCurrency),
					tx.SourceCurrency,
					tx.DestinationCurrency,
					tx.SelectedProvider,
					tx.Status,
					tx.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(txs))
			return nil
		},
	}
}

func paymentsCommand() *cli.Command {
	return &cli.Command{
		Name:      "payments",
		Usage:     "List every provider execution attempt for a transaction",
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			payments, err := store.Payments(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to list payments: %w", err)
			}

			if jsonOutput(c) {
				return outputJSON(c, payments)
			}

			return printPayments(payments)
		},
	}
}

func printPayments(payments []*remittance.Payment) error {
	if len(payments) == 0 {
		fmt.Println("No payment attempts")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ATTEMPT\tPROVIDER\tREFERENCE\tSTATUS\tREQUESTED\tLAST CHECKED\tFAILURE")
	for _, p := range payments {
		checked := "never"
		if p.LastCheckedAt != nil {
			checked = p.LastCheckedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.AttemptNumber,
			p.Provider,
			orNone(p.ProviderReference),
			p.Status,
			p.RequestedAt.Format(time.RFC3339),
			checked,
			orNone(p.FailureReason),
		)
	}
	return w.Flush()
}

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:      "usage",
		Usage:     "Show how much of a sender's daily limit is reserved",
		ArgsUsage: "<user-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "day",
				Usage: "UTC day (YYYY-MM-DD), defaults to today",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: user ID")
			}

			day := c.String("day")
			if day == "" {
				day = remittance.Day(time.Now())
			} else if _, err := time.Parse("2006-01-02", day); err != nil {
				return fmt.Errorf("invalid day %q: use YYYY-MM-DD", day)
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			used, err := store.Usage(context.Background(), c.Args().First(), day)
			if err != nil {
				return fmt.Errorf("failed to read usage: %w", err)
			}

			if jsonOutput(c) {
				return outputJSON(c, map[string]interface{}{
					"user_id":  c.Args().First(),
					"day":      day,
					"reserved": used,
				})
			}
			fmt.Printf("User:     %s\n", c.Args().First())
			fmt.Printf("Day:      %s (UTC)\n", day)
			fmt.Printf("Reserved: %d (minor units)\n", used)
			return nil
		},
	}
}

func printTransaction(tx *remittance.Transaction) {
	fmt.Printf("ID:             %s\n", tx.ID)
	fmt.Printf("Status:         %s\n", tx.Status)
	if tx.StatusReason != "" {
		fmt.Printf("Reason:         %s\n", tx.StatusReason)
	}
	fmt.Printf("Sender:         %s\n", tx.SenderID)
	fmt.Printf("Recipient:      %s (%s)\n", tx.RecipientID, tx.Recipient.Name)
	fmt.Printf("Amount:         %s\n", provider.Display(tx.SourceAmount, tx.SourceCurrency))
	fmt.Printf("Corridor:       %s -> %s\n", tx.SourceCurrency, tx.DestinationCurrency)
	fmt.Printf("Provider:       %s\n", tx.SelectedProvider)
	fmt.Printf("Quote Attempts: %d\n", tx.QuoteAttempts)
	fmt.Printf("Idempotency:    %s\n", tx.IdempotencyKey)
	fmt.Printf("Created:        %s\n", tx.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:        %s\n", tx.UpdatedAt.Format(time.RFC3339))
}

func databaseURL(c *cli.Context) (string, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return "", fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}
	return dbURL, nil
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL, err := databaseURL(c)
	if err != nil {
		return nil, nil, err
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

func isNotFound(err error) bool {
	return err != nil && (errors.Is(err, remittance.ErrQuoteNotFound) || errors.Is(err, remittance.ErrTransactionNotFound))
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
