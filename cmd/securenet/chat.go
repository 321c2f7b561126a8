package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/securenet/factory"
	"github.com/opd-ai/securenet/identity"
	"github.com/opd-ai/securenet/messenger"
	"github.com/opd-ai/securenet/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// textMessage is the one message type the CLI speaks.
const textMessage = "text"

var chatProtocol = []messenger.MessageSchema{
	{
		MessageType: textMessage,
		Schema:      schema.Object(schema.Field("body", schema.String().Min(1).Max(4096))),
	},
}

type textContent struct {
	Body string `json:"body"`
}

func newListenCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print text messages sent to the local identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			claim, keys, err := loadClaim(cfg, false)
			if err != nil {
				return err
			}
			defer keys.Wipe()

			f := factory.NewNodeFactory(cfg)
			defer f.Close()
			dir, err := f.OpenDirectory()
			if err != nil {
				return err
			}

			pm, net, err := f.NewMessenger(dir, claim, chatProtocol, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer net.Close()

			out := cmd.OutOrStdout()
			if err := pm.On(textMessage, func(content json.RawMessage, sender *identity.ID) {
				printText(out, content, sender)
			}); err != nil {
				return err
			}
			pm.OnError(func(err error) {
				logrus.WithFields(logrus.Fields{
					"function": "listen",
					"error":    err.Error(),
				}).Warn("Rejected inbound message")
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := pm.Initialize(ctx); err != nil {
				return err
			}
			serveMetrics(cfg.Metrics.Address)
			fmt.Fprintf(out, "listening as %s\n", claim.ID)

			<-ctx.Done()
			return nil
		},
	}
}

func printText(w io.Writer, content json.RawMessage, sender *identity.ID) {
	var msg textContent
	if err := json.Unmarshal(content, &msg); err != nil {
		return
	}
	from := "(anonymous)"
	if sender != nil {
		from = sender.String()
	}
	fmt.Fprintf(w, "%s: %s\n", from, msg.Body)
}

func newSendCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send <recipient> <text>",
		Short: "Send a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			recipient, err := identity.Parse(args[0])
			if err != nil {
				return err
			}
			claim, keys, err := loadClaim(cfg, false)
			if err != nil {
				return err
			}
			defer keys.Wipe()

			f := factory.NewNodeFactory(cfg)
			defer f.Close()
			dir, err := f.OpenDirectory()
			if err != nil {
				return err
			}

			pm, net, err := f.NewMessenger(dir, claim, chatProtocol, nil)
			if err != nil {
				return err
			}
			defer net.Close()

			msg := messenger.Message{Type: textMessage, Content: textContent{Body: args[1]}}
			if err := pm.Send(cmd.Context(), msg, recipient); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent to %s\n", recipient)
			return nil
		},
	}
}
