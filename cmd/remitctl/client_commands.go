package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bobbercheng/remit-demo-sub001/client"
	"github.com/bobbercheng/remit-demo-sub001/service/remittance"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the remittance API",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 30 * time.Second,
			},
		},
		Subcommands: []*cli.Command{
			submitCommand(),
			getCommand(),
			cancelCommand(),
			listCommand(),
			clientPaymentsCommand(),
			rateCommand(),
		},
	}
}

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit a transfer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Usage: "Idempotency key (derived by the server if empty)"},
			&cli.StringFlag{Name: "sender", Usage: "Sender ID", Required: true},
			&cli.StringFlag{Name: "recipient", Usage: "Recipient ID", Required: true},
			&cli.StringFlag{Name: "name", Usage: "Recipient name", Required: true},
			&cli.StringFlag{Name: "account", Usage: "Recipient account number", Required: true},
			&cli.StringFlag{Name: "bank", Usage: "Recipient bank code", Required: true},
			&cli.Int64Flag{Name: "amount", Usage: "Source amount in minor units", Required: true},
			&cli.StringFlag{Name: "source", Usage: "Source currency", Value: "USD"},
			&cli.StringFlag{Name: "dest", Usage: "Destination currency", Value: "INR"},
		},
		Action: func(c *cli.Context) error {
			req := remittance.SubmitRequest{
				IdempotencyKey: c.String("key"),
				SenderID:       c.String("sender"),
				RecipientID:    c.String("recipient"),
				Recipient: remittance.Recipient{
					Name:          c.String("name"),
					AccountNumber: c.String("account"),
					BankCode:      c.String("bank"),
				},
				SourceAmount:        c.Int64("amount"),
				SourceCurrency:      strings.ToUpper(c.String("source")),
				DestinationCurrency: strings.ToUpper(c.String("dest")),
			}

			res, err := newAPIClient(c).Submit(context.Background(), req)
			if err != nil {
				return fmt.Errorf("failed to submit transfer: %w", err)
			}

			if jsonOutput(c) {
				return outputJSON(c, res)
			}
			if res.Duplicate {
				fmt.Printf("✓ Existing transaction %s (%s)\n", res.TransactionID, res.Status)
			} else {
				fmt.Printf("✓ Transaction %s accepted (%s)\n", res.TransactionID, res.Status)
			}
			return nil
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a transaction and its latest quote",
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			tx, err := newAPIClient(c).Get(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}
			if jsonOutput(c) {
				return outputJSON(c, tx)
			}
			printClientTransaction(tx)
			return nil
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a transaction that has not started executing",
		ArgsUsage: "<transaction-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "reason", Usage: "Cancellation reason"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			tx, err := newAPIClient(c).Cancel(context.Background(), c.Args().First(), c.String("reason"))
			if err != nil {
				return fmt.Errorf("failed to cancel transaction: %w", err)
			}
			if jsonOutput(c) {
				return outputJSON(c, tx)
			}
			fmt.Printf("✓ Transaction %s is %s\n", tx.ID, tx.Status)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List a sender's transactions, newest first",
		ArgsUsage: "<sender-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Usage: "Maximum number of transactions", Value: 50},
			&cli.IntFlag{Name: "offset", Usage: "Number of transactions to skip"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: sender ID")
			}

			txs, err := newAPIClient(c).ListByUser(context.Background(), c.Args().First(), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			if jsonOutput(c) {
				return outputJSON(c, txs)
			}

			if len(txs) == 0 {
				fmt.Println("No transactions found")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tAMOUNT\tCORRIDOR\tPROVIDER\tCREATED")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s→%s\t%s\t%s\n",
					tx.ID,
					tx.Status,
					tx.SourceAmountDisplay,
					tx.SourceCurrency,
					tx.DestinationCurrency,
					orNone(tx.SelectedProvider),
					tx.CreatedAt.Format(time.RFC3339),
				)
			}
			return w.Flush()
		},
	}
}

func clientPaymentsCommand() *cli.Command {
	return &cli.Command{
		Name:      "payments",
		Usage:     "List a transaction's execution attempts",
		ArgsUsage: "<transaction-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction ID")
			}

			payments, err := newAPIClient(c).Payments(context.Background(), c.Args().First())
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

func rateCommand() *cli.Command {
	return &cli.Command{
		Name:  "rate",
		Usage: "Get an indicative quote for a corridor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Usage: "Source currency", Value: "USD"},
			&cli.StringFlag{Name: "dest", Usage: "Destination currency", Value: "INR"},
			&cli.Int64Flag{Name: "amount", Usage: "Source amount in minor units", Required: true},
		},
		Action: func(c *cli.Context) error {
			q, err := newAPIClient(c).Rate(context.Background(),
				strings.ToUpper(c.String("source")),
				strings.ToUpper(c.String("dest")),
				c.Int64("amount"),
			)
			if err != nil {
				return fmt.Errorf("failed to get rate: %w", err)
			}
			if jsonOutput(c) {
				return outputJSON(c, q)
			}

			fmt.Printf("Provider:     %s\n", q.Provider)
			fmt.Printf("Rate:         %s\n", q.ExchangeRate.String())
			fmt.Printf("Fee:          %s\n", q.FeeDisplay)
			fmt.Printf("Recipient:    %s\n", q.DestinationAmountDisplay)
			fmt.Printf("Valid until:  %s\n", q.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	httpClient := &http.Client{Timeout: c.Duration("timeout")}
	return client.NewClient(strings.TrimRight(c.String("server-url"), "/"), httpClient, logger)
}

func printClientTransaction(tx *client.Transaction) {
	fmt.Printf("ID:           %s\n", tx.ID)
	fmt.Printf("Status:       %s\n", tx.Status)
	if tx.StatusReason != "" {
		fmt.Printf("Reason:       %s\n", tx.StatusReason)
	}
	fmt.Printf("Sender:       %s\n", tx.SenderID)
	fmt.Printf("Recipient:    %s (%s, %s %s)\n", tx.RecipientID, tx.Recipient.Name, tx.Recipient.BankCode, tx.Recipient.AccountNumber)
	fmt.Printf("Amount:       %s\n", tx.SourceAmountDisplay)
	fmt.Printf("Corridor:     %s→%s\n", tx.SourceCurrency, tx.DestinationCurrency)
	fmt.Printf("Provider:     %s\n", orNone(tx.SelectedProvider))
	fmt.Printf("Created:      %s\n", tx.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:      %s\n", tx.UpdatedAt.Format(time.RFC3339))
	if q := tx.Quote; q != nil {
		fmt.Printf("\nQuote:\n")
		fmt.Printf("  Rate:       %s\n", q.ExchangeRate.String())
		fmt.Printf("  Fee:        %s\n", q.FeeDisplay)
		fmt.Printf("  Recipient:  %s\n", q.DestinationAmountDisplay)
		fmt.Printf("  Expires:    %s\n", q.ExpiresAt.Format(time.RFC3339))
	}
}
