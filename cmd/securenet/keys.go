package main

import (
	"context"
	"fmt"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/directory"
	"github.com/opd-ai/securenet/factory"
	"github.com/opd-ai/securenet/identity"
	"github.com/spf13/cobra"
)

func newKeygenCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create (or show) the key bundle for the local identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			_, keys, err := loadClaim(cfg, true)
			if err != nil {
				return err
			}
			defer keys.Wipe()

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.ID(), keys.PublicKey())
			return nil
		},
	}
}

func newRegisterCommand(g *globalFlags) *cobra.Command {
	var self, update bool

	cmd := &cobra.Command{
		Use:   "register [identity public-key]",
		Short: "Add an identity to the directory",
		Example: `  securenet register --self --identity alice@example
  securenet register bob@example <sign-hex>:<box-hex>`,
		Args: func(cmd *cobra.Command, args []string) error {
			if self {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}

			var entry directory.Entry
			if self {
				claim, keys, err := loadClaim(cfg, false)
				if err != nil {
					return err
				}
				defer keys.Wipe()
				entry = directory.Entry{ID: claim.ID, PublicKey: keys.PublicKey()}
			} else {
				id, err := identity.Parse(args[0])
				if err != nil {
					return err
				}
				pk, err := crypto.ParsePublicKey(args[1])
				if err != nil {
					return err
				}
				entry = directory.Entry{ID: id, PublicKey: pk}
			}

			f := factory.NewNodeFactory(cfg)
			defer f.Close()
			dir, err := f.OpenDirectory()
			if err != nil {
				return err
			}
			if err := dir.Register(context.Background(), entry, update); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s\n", entry.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&self, "self", false, "register the local identity with its own key")
	cmd.Flags().BoolVar(&update, "update", false, "replace an existing entry")
	return cmd
}

func newListCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the identities in the directory database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			db, err := directory.OpenBolt(cfg.DirectoryPath())
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := db.List()
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", e.ID, e.PublicKey)
			}
			return nil
		},
	}
}
