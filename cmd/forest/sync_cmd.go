package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sync", Short: "inspect chain synchronization"}
	cmd.AddCommand(syncStatusCmd())
	return cmd
}

func syncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print the syncer's current state machine phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rpcClientFromFlags(cmd)
			var out struct {
				State string `json:"state"`
			}
			if err := c.call("Sync.Status", nil, &out); err != nil {
				return err
			}
			fmt.Println(out.State)
			return nil
		},
	}
}
