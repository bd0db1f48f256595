package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"marketplace.mini/mkt/internal/identity"
)

func (c *cli) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create a signing key (kept if it already exists)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, statErr := os.Stat(c.keyFile)
			id, err := identity.LoadOrCreateIdentity(c.keyFile)
			if err != nil {
				return err
			}
			if statErr == nil {
				fmt.Fprintf(c.out, "Key %s already exists\n", c.keyFile)
			} else {
				fmt.Fprintf(c.out, "Created %s\n", c.keyFile)
			}
			fmt.Fprintln(c.out, id.PublicKeyHex())
			return nil
		},
	}
}

func (c *cli) addressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "address",
		Short: "Print the account address of the signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.identity()
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, id.PublicKeyHex())
			return nil
		},
	}
}
