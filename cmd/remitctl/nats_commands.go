package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/bobbercheng/remit-demo-sub001/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// tailCommand streams status events and reconciliation alerts from JetStream.
func tailCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Stream transaction status events",
		ArgsUsage: "[transaction-id]",
		Description: `Stream status events published to NATS JetStream.

Events for one transaction are published to remit.txns.{transaction_id}; with no
argument every transaction is followed. --alerts adds reconciliation alerts.
--jq filters events: only those for which the expression is truthy are shown.

Example:
  remitctl nats tail --alerts --jq '.status == "UNKNOWN_RECONCILING"'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "alerts",
				Usage: "Also stream reconciliation alerts",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay retained events instead of only new ones",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 runs until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("accepts at most one argument: transaction ID")
			}

			var filter *gojq.Code
			if expr := c.String("jq"); expr != "" {
				code, err := compileJQ(expr)
				if err != nil {
					return err
				}
				filter = code
			}

			subjects := []string{natspkg.TransactionSubject("*")}
			if id := c.Args().First(); id != "" {
				subjects[0] = natspkg.TransactionSubject(id)
			}
			if c.Bool("alerts") {
				subjects = append(subjects, natspkg.AlertSubject)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if t := c.Duration("timeout"); t > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, t)
				defer cancel()
			}

			return tailEvents(ctx, c.String("nats-url"), subjects, c.Bool("all"), filter, c.Bool("json"))
		},
	}
}

func tailEvents(ctx context.Context, natsURL string, subjects []string, replay bool, filter *gojq.Code, asJSON bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	deliver := jetstream.DeliverNewPolicy
	if replay {
		deliver = jetstream.DeliverAllPolicy
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubjects:    subjects,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     deliver,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !asJSON && filter == nil {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %v\n", subjects)
		fmt.Fprintf(os.Stderr, "   NATS: %s\n\nWaiting for events... (Ctrl-C to exit)\n\n", natsURL)
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var payload map[string]interface{}
			if err := json.Unmarshal(msg.Data(), &payload); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}
			msg.Ack()

			if filter != nil && !matchJQ(filter, payload) {
				continue
			}
			count++

			if asJSON || filter != nil {
				fmt.Println(string(msg.Data()))
				continue
			}
			printEvent(msg.Subject(), msg.Data())

		case <-ctx.Done():
			if !asJSON {
				fmt.Fprintf(os.Stderr, "\n%d event(s) received\n", count)
			}
			return nil
		}
	}
}

func printEvent(subject string, data []byte) {
	if subject == natspkg.AlertSubject {
		var alert natspkg.ReconciliationAlert
		if err := json.Unmarshal(data, &alert); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing alert: %v\n", err)
			return
		}
		fmt.Printf("%s  ALERT  %s  provider=%s ref=%s unresolved=%s %s\n",
			alert.PublishedAt.Format(time.RFC3339),
			alert.TransactionID,
			alert.Provider,
			orNone(alert.ProviderReference),
			alert.Unresolved.Round(time.Second),
			alert.LastError,
		)
		return
	}

	var event natspkg.TransactionEvent
	if err := json.Unmarshal(data, &event); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
		return
	}
	line := fmt.Sprintf("%s  %s  %s -> %s",
		event.OccurredAt.Format(time.RFC3339),
		event.TransactionID,
		orNone(event.PreviousStatus),
		event.Status,
	)
	if event.Reason != "" {
		line += "  (" + event.Reason + ")"
	}
	fmt.Println(line)
}
