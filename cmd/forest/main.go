// Command forest is the chain daemon entrypoint, adapted from the
// teacher's cmd/synnergy/main.go (cobra root command plus subcommands)
// and generalized from its mock testnet/token demo commands to this
// repo's real daemon/chain/mpool/net/snapshot surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{Use: "forest", Short: "forest chain daemon and CLI"}
	root.PersistentFlags().String("config-dir", "", "directory containing config.toml (defaults to data-dir)")
	root.PersistentFlags().String("data-dir", "./data", "node data directory")
	root.PersistentFlags().String("rpc-addr", "http://127.0.0.1:1234", "forest daemon rpcapi address")
	root.PersistentFlags().String("token", "", "bearer token for the rpcapi server")

	root.AddCommand(daemonCmd())
	root.AddCommand(chainCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(mpoolCmd())
	root.AddCommand(netCmd())
	root.AddCommand(snapshotCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
