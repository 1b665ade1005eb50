package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func netCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "net", Short: "inspect p2p networking"}
	cmd.AddCommand(netPeersCmd())
	return cmd
}

func netPeersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "list currently ranked peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rpcClientFromFlags(cmd)
			var peers []string
			if err := c.call("Net.Peers", nil, &peers); err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Println("no peers")
				return nil
			}
			for _, p := range peers {
				fmt.Println(p)
			}
			return nil
		},
	}
}
