package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"marketplace.mini/mkt/internal/api"
	"marketplace.mini/mkt/internal/identity"
	"marketplace.mini/mkt/internal/registry"
	"marketplace.mini/mkt/internal/types"
)

// submit signs and submits a transaction. A rejected transaction is
// reported as an error carrying the result code name.
func (c *cli) submit(txType types.TransactionType, payload interface{}) (*api.TxReply, error) {
	id, err := c.identity()
	if err != nil {
		return nil, err
	}
	return c.submitAs(id, txType, payload)
}

func (c *cli) submitAs(id *identity.Identity, txType types.TransactionType, payload interface{}) (*api.TxReply, error) {
	tx, err := types.NewTransaction(txType, payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.context()
	defer cancel()
	client := c.client()
	nonce, err := client.Nonce(ctx, types.Address(id.PublicKeyHex()))
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	tx.Nonce = nonce
	stx, err := tx.Sign(id)
	if err != nil {
		return nil, err
	}

	reply, err := client.Submit(ctx, stx)
	if err != nil {
		return nil, err
	}
	log.Debugf("%s tx %s: code %d", txType, reply.Hash, reply.Code)

	if c.asJSON {
		if err := c.printJSON(reply); err != nil {
			return nil, err
		}
	}
	if reply.Code != 0 {
		return reply, fmt.Errorf("%s rejected: %s: %s", txType, reply.CodeName, reply.Log)
	}
	return reply, nil
}

func (c *cli) mintCmd() *cobra.Command {
	var metadataFile string
	cmd := &cobra.Command{
		Use:   "mint <contract> [metadata-ref]",
		Short: "Mint an asset owned by the signing key",
		Long: `Mint an asset in a registry. The metadata reference is a CID; with
--metadata-file the CID of that file is used instead.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ref string
			switch {
			case metadataFile != "":
				doc, err := os.ReadFile(metadataFile)
				if err != nil {
					return err
				}
				if ref, err = registry.MetadataRefFor(doc); err != nil {
					return err
				}
			case len(args) == 2:
				ref = args[1]
			default:
				return errors.New("a metadata ref or --metadata-file is required")
			}

			reply, err := c.submit(types.TxMint, types.MintPayload{ContractRef: args[0], MetadataRef: ref})
			if err != nil || c.asJSON {
				return err
			}
			fmt.Fprintf(c.out, "Minted %s/%d (%s) at height %d\n", args[0], reply.AssetID, ref, reply.Height)
			return nil
		},
	}
	cmd.Flags().StringVar(&metadataFile, "metadata-file", "", "compute the metadata ref from this file")
	return cmd
}

func (c *cli) approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <contract> <asset-id> [operator]",
		Short: "Approve an operator (default: the marketplace escrow) for one asset",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := parseAssetID(args[1])
			if err != nil {
				return err
			}
			var operator types.Address
			if len(args) == 3 {
				operator = types.Address(args[2])
			} else {
				ctx, cancel := c.context()
				defer cancel()
				fee, err := c.client().Fee(ctx)
				if err != nil {
					return err
				}
				operator = fee.Escrow
			}

			reply, err := c.submit(types.TxApprove, types.ApprovePayload{ContractRef: args[0], AssetID: assetID, Operator: operator})
			if err != nil || c.asJSON {
				return err
			}
			fmt.Fprintf(c.out, "Approved %s for %s/%d at height %d\n", operator, args[0], assetID, reply.Height)
			return nil
		},
	}
}

// listCmd builds list, or resell when resell is set. Both attach the
// listing fee unless --value overrides it.
func (c *cli) listCmd(resell bool) *cobra.Command {
	use, short, txType := "list", "List an owned asset for sale", types.TxList
	if resell {
		use, short, txType = "resell", "List an asset bought earlier for sale again", types.TxResell
	}

	var value string
	cmd := &cobra.Command{
		Use:   use + " <contract> <asset-id> <price>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := parseAssetID(args[1])
			if err != nil {
				return err
			}
			price, err := c.amount(args[2])
			if err != nil {
				return err
			}

			var attached uint64
			if value != "" {
				if attached, err = c.amount(value); err != nil {
					return err
				}
			} else {
				ctx, cancel := c.context()
				defer cancel()
				fee, err := c.client().Fee(ctx)
				if err != nil {
					return err
				}
				attached = fee.ListingFee
			}

			reply, err := c.submit(txType, types.ListPayload{ContractRef: args[0], AssetID: assetID, Price: price, Value: attached})
			if err != nil || c.asJSON {
				return err
			}
			fmt.Fprintf(c.out, "Listed %s/%d for %s as %s at height %d\n", args[0], assetID, c.format(price), reply.ListingID, reply.Height)
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "amount to attach (default: the listing fee)")
	return cmd
}

func (c *cli) buyCmd() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "buy <contract> <asset-id>",
		Short: "Buy the active listing of an asset",
		Long: `Buy the active listing of an asset. The listing price is attached
unless --value is given. Anything attached above the price goes to the seller.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			assetID, err := parseAssetID(args[1])
			if err != nil {
				return err
			}

			var attached uint64
			if value != "" {
				if attached, err = c.amount(value); err != nil {
					return err
				}
			} else {
				listing, err := c.activeListing(args[0], assetID)
				if err != nil {
					return err
				}
				attached = listing.Price
			}

			reply, err := c.submit(types.TxBuy, types.BuyPayload{ContractRef: args[0], AssetID: assetID, Value: attached})
			if err != nil || c.asJSON {
				return err
			}
			fmt.Fprintf(c.out, "Bought %s/%d for %s (listing %s) at height %d\n", args[0], assetID, c.format(attached), reply.ListingID, reply.Height)
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "amount to pay (default: the listing price)")
	return cmd
}

func (c *cli) transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <to> <amount>",
		Short: "Send settlement balance to another account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := c.amount(args[1])
			if err != nil {
				return err
			}
			reply, err := c.submit(types.TxTransfer, types.TransferPayload{To: types.Address(args[0]), Amount: amount})
			if err != nil || c.asJSON {
				return err
			}
			fmt.Fprintf(c.out, "Sent %s to %s at height %d\n", c.format(amount), args[0], reply.Height)
			return nil
		},
	}
}

func (c *cli) activeListing(contract string, assetID uint64) (*types.Listing, error) {
	ctx, cancel := c.context()
	defer cancel()
	listings, err := c.client().Listings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range listings {
		if listings[i].ContractRef == contract && listings[i].AssetID == assetID {
			return &listings[i], nil
		}
	}
	return nil, fmt.Errorf("%s/%d has no active listing", contract, assetID)
}

func parseAssetID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid asset id %q", s)
	}
	return id, nil
}
