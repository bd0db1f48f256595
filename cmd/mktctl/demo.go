package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"marketplace.mini/mkt/internal/identity"
	"marketplace.mini/mkt/internal/registry"
	"marketplace.mini/mkt/internal/types"
)

func (c *cli) demoCmd() *cobra.Command {
	var (
		buyerKey string
		contract string
		price    string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through a full sale cycle against the node",
		Long: `demo mints and lists three assets with the signing key, funds a second
key, buys two of the listings with it and resells one. It prints the
listing counts at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			seller, err := c.identity()
			if err != nil {
				return err
			}
			buyer, err := identity.LoadOrCreateIdentity(buyerKey)
			if err != nil {
				return err
			}
			sellerAddr := types.Address(seller.PublicKeyHex())
			buyerAddr := types.Address(buyer.PublicKeyHex())

			amount, err := c.amount(price)
			if err != nil {
				return err
			}
			ctx, cancel := c.context()
			defer cancel()
			fee, err := c.client().Fee(ctx)
			if err != nil {
				return err
			}

			var assets []uint64
			for i := 1; i <= 3; i++ {
				ref, err := registry.MetadataRefFor([]byte(fmt.Sprintf(`{"name":"demo %d","seller":%q}`, i, sellerAddr)))
				if err != nil {
					return err
				}
				minted, err := c.submitAs(seller, types.TxMint, types.MintPayload{ContractRef: contract, MetadataRef: ref})
				if err != nil {
					return err
				}
				if _, err := c.submitAs(seller, types.TxList, types.ListPayload{
					ContractRef: contract, AssetID: minted.AssetID, Price: amount, Value: fee.ListingFee,
				}); err != nil {
					return err
				}
				assets = append(assets, minted.AssetID)
				fmt.Fprintf(c.out, "Listed %s/%d for %s\n", contract, minted.AssetID, c.format(amount))
			}

			// The buyer pays for two assets and one resale fee.
			need := 2*amount + fee.ListingFee
			if _, err := c.submitAs(seller, types.TxTransfer, types.TransferPayload{To: buyerAddr, Amount: need}); err != nil {
				return err
			}

			for _, id := range assets[:2] {
				if _, err := c.submitAs(buyer, types.TxBuy, types.BuyPayload{ContractRef: contract, AssetID: id, Value: amount}); err != nil {
					return err
				}
				fmt.Fprintf(c.out, "Bought %s/%d\n", contract, id)
			}

			resold := assets[0]
			if _, err := c.submitAs(buyer, types.TxApprove, types.ApprovePayload{ContractRef: contract, AssetID: resold, Operator: fee.Escrow}); err != nil {
				return err
			}
			if _, err := c.submitAs(buyer, types.TxResell, types.ListPayload{
				ContractRef: contract, AssetID: resold, Price: 2 * amount, Value: fee.ListingFee,
			}); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Resold %s/%d for %s\n", contract, resold, c.format(2*amount))

			client := c.client()
			active, err := client.Listings(ctx)
			if err != nil {
				return err
			}
			history, err := client.ListingHistory(ctx)
			if err != nil {
				return err
			}
			owned, err := client.MyAssets(ctx, buyerAddr)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Active listings: %d\nListing records: %d\nBuyer assets: %d\n", len(active), len(history), len(owned))
			return nil
		},
	}
	cmd.Flags().StringVar(&buyerKey, "buyer-key", "mkt_buyer.pem", "key file of the demo buyer (created if missing)")
	cmd.Flags().StringVar(&contract, "contract", "pets", "registry to mint in")
	cmd.Flags().StringVar(&price, "price", "1", "listing price")
	return cmd
}
