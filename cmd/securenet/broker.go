package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/opd-ai/securenet/broker"
	"github.com/spf13/cobra"
)

func newBrokerCommand(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run an embedded NATS broker",
		Long: `broker runs a NATS server that nodes connect to with the "nats"
transport backend. Any other NATS server can be used instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}

			srv, err := broker.Listen(listen)
			if err != nil {
				return err
			}
			serveMetrics(cfg.Metrics.Address)

			haltCh := make(chan os.Signal, 1)
			signal.Notify(haltCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-haltCh
				srv.Close()
			}()

			srv.Wait()
			return nil
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "127.0.0.1:4222", "host:port to accept clients on")
	return cmd
}
