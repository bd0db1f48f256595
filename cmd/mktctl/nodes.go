package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"marketplace.mini/mkt/internal/api"
	"marketplace.mini/mkt/internal/discovery"
	"marketplace.mini/mkt/internal/types"
)

func (c *cli) nodesCmd() *cobra.Command {
	var (
		lan  bool
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "List marketplace nodes on the local network",
		Long: `Without --lan the node given by --node reports the peers it has seen.
With --lan mktctl browses for _mkt._tcp over mDNS itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context()
			defer cancel()

			var nodes []api.PeerInfo
			if lan {
				found, err := discovery.Lookup(ctx, discovery.ServiceName, wait)
				if err != nil {
					return err
				}
				for _, p := range found {
					nodes = append(nodes, api.PeerInfo{
						Instance: p.Instance,
						Hostname: p.Hostname,
						Version:  p.Version(),
						Mode:     p.Txt["mode"],
						Operator: p.Operator(),
						URL:      p.APIURL(),
					})
				}
			} else {
				var err error
				if nodes, err = c.client().Peers(ctx); err != nil {
					return err
				}
			}
			return c.printNodes(nodes)
		},
	}
	cmd.Flags().BoolVar(&lan, "lan", false, "browse mDNS from this machine instead of asking the node")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to browse with --lan")
	return cmd
}

func (c *cli) printNodes(nodes []api.PeerInfo) error {
	if c.asJSON {
		if nodes == nil {
			nodes = []api.PeerInfo{}
		}
		return c.printJSON(nodes)
	}
	if len(nodes) == 0 {
		fmt.Fprintln(c.out, "No nodes found")
		return nil
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tURL\tVERSION\tMODE\tOPERATOR")
	for _, n := range nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", n.Instance, n.URL, n.Version, n.Mode, abbrev(types.Address(n.Operator)))
	}
	return w.Flush()
}
