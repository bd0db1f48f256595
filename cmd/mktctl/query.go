package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"marketplace.mini/mkt/internal/types"
)

func (c *cli) printListings(listings []types.Listing) error {
	if c.asJSON {
		return c.printJSON(listings)
	}
	if len(listings) == 0 {
		fmt.Fprintln(c.out, "No listings")
		return nil
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tASSET\tPRICE\tSELLER\tHOLDER\tSTATE")
	for _, l := range listings {
		state := "sold"
		if l.Listed {
			state = "listed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", l.ID, l.Key(), c.format(l.Price), abbrev(l.Seller), abbrev(l.Holder), state)
	}
	return w.Flush()
}

func (c *cli) printAssets(assets []types.Asset) error {
	if c.asJSON {
		return c.printJSON(assets)
	}
	if len(assets) == 0 {
		fmt.Fprintln(c.out, "No assets")
		return nil
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tOWNER\tMETADATA")
	for _, a := range assets {
		key := types.AssetKey{ContractRef: a.ContractRef, AssetID: a.ID}
		fmt.Fprintf(w, "%s\t%s\t%s\n", key, abbrev(a.Owner), a.MetadataRef)
	}
	return w.Flush()
}

// address returns args[0] if given, otherwise the signing key's address.
func (c *cli) address(args []string) (types.Address, error) {
	if len(args) > 0 {
		return types.Address(args[0]), nil
	}
	id, err := c.identity()
	if err != nil {
		return "", err
	}
	return types.Address(id.PublicKeyHex()), nil
}

func (c *cli) listingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listings",
		Short: "Show every active listing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			listings, err := c.client().Listings(ctx)
			if err != nil {
				return err
			}
			return c.printListings(listings)
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show every listing record, sold ones included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			listings, err := c.client().ListingHistory(ctx)
			if err != nil {
				return err
			}
			return c.printListings(listings)
		},
	}
}

func (c *cli) mineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mine [address]",
		Short: "Show the active listings of an account (default: the signing key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := c.address(args)
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			listings, err := c.client().MyListings(ctx, addr)
			if err != nil {
				return err
			}
			return c.printListings(listings)
		},
	}
}

func (c *cli) assetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assets [address]",
		Short: "Show the assets an account bought through the marketplace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := c.address(args)
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			listings, err := c.client().MyAssets(ctx, addr)
			if err != nil {
				return err
			}
			return c.printListings(listings)
		},
	}
}

func (c *cli) heldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "held [address]",
		Short: "Show the registry assets an account owns",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := c.address(args)
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			assets, err := c.client().Holdings(ctx, addr)
			if err != nil {
				return err
			}
			return c.printAssets(assets)
		},
	}
}

func (c *cli) listingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listing <id>",
		Short: "Show one listing record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			l, err := c.client().Listing(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printListings([]types.Listing{*l})
		},
	}
}

func (c *cli) assetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "asset <contract> <asset-id>",
		Short: "Show the registry record of one asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := parseAssetID(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			a, err := c.client().Asset(ctx, types.AssetKey{ContractRef: args[0], AssetID: assetID})
			if err != nil {
				return err
			}
			return c.printAssets([]types.Asset{*a})
		},
	}
}

func (c *cli) feeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fee",
		Short: "Show the listing fee",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()
			fee, err := c.client().Fee(ctx)
			if err != nil {
				return err
			}
			if c.asJSON {
				return c.printJSON(fee)
			}
			fmt.Fprintf(c.out, "Listing fee: %s (paid to %s, escrow %s)\n", c.format(fee.ListingFee), fee.Operator, fee.Escrow)
			return nil
		},
	}
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show the settlement balance of an account (default: the signing key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := c.address(args)
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			bal, err := c.client().Balance(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, c.format(bal))
			return nil
		},
	}
}

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show client and node versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(c.out, "mktctl %s\n", types.Version)
			ctx, cancel := c.context()
			defer cancel()
			v, err := c.client().Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "node   %s (%s mode, %s)\n", v["version"], v["mode"], v["hostname"])
			return nil
		},
	}
}

func abbrev(a types.Address) string {
	if len(a) > 16 {
		return string(a[:8]) + ".." + string(a[len(a)-6:])
	}
	return string(a)
}
