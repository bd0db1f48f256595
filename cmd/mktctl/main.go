// Command mktctl is the command line client for an mkt node. It signs
// marketplace transactions with a local ed25519 key and talks to the node's
// HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"

	"marketplace.mini/mkt/internal/api"
	"marketplace.mini/mkt/internal/identity"
	"marketplace.mini/mkt/internal/types"
)

var log = logging.Logger("mktctl")

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	out      io.Writer
	node     string
	keyFile  string
	decimals int32
	asJSON   bool
	debug    bool
	timeout  time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:   "mktctl",
		Short: "Command line client for the mkt marketplace",
		Long: `mktctl signs marketplace transactions (mint, list, buy, resell, ...) with
a local ed25519 key and submits them to an mkt node. Amounts are given in
display units and converted with --decimals.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.debug {
				logging.SetAllLoggers(logging.LevelDebug)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.node, "node", "n", envOr("MKT_NODE", "http://localhost:8080"), "node API address")
	flags.StringVarP(&c.keyFile, "key", "k", envOr("MKT_KEY", "mkt_key.pem"), "ed25519 key file")
	flags.Int32Var(&c.decimals, "decimals", types.DefaultDecimals, "fractional digits of the display unit")
	flags.BoolVar(&c.asJSON, "json", false, "print raw JSON")
	flags.BoolVarP(&c.debug, "debug", "d", false, "enable debug logging")
	flags.DurationVar(&c.timeout, "timeout", 60*time.Second, "request timeout")

	rootCmd.AddCommand(
		c.keygenCmd(), c.addressCmd(),
		c.mintCmd(), c.approveCmd(), c.listCmd(false), c.listCmd(true), c.buyCmd(), c.transferCmd(),
		c.listingsCmd(), c.historyCmd(), c.mineCmd(), c.assetsCmd(), c.heldCmd(),
		c.listingCmd(), c.assetCmd(), c.feeCmd(), c.balanceCmd(), c.versionCmd(), c.nodesCmd(), c.demoCmd(),
	)
	return rootCmd
}

func main() {
	logging.SetAllLoggers(logging.LevelWarn)

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *cli) client() *api.Client {
	return api.NewClient(c.node)
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) identity() (*identity.Identity, error) {
	id, err := identity.LoadIdentity(c.keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key %s (run 'mktctl keygen' first): %w", c.keyFile, err)
	}
	return id, nil
}

func (c *cli) amount(s string) (uint64, error) {
	return types.ParseAmount(s, c.decimals)
}

func (c *cli) format(v uint64) string {
	return types.FormatAmount(v, c.decimals)
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
