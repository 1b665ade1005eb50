package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func mpoolCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "mpool", Short: "inspect and submit mempool messages"}
	cmd.AddCommand(mpoolPendingCmd())
	cmd.AddCommand(mpoolPushCmd())
	return cmd
}

func mpoolPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending <sender-hex>",
		Short: "list a sender's pending messages (sender as hex-encoded address bytes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rpcClientFromFlags(cmd)
			var out []json.RawMessage
			if err := c.call("Mpool.Pending", struct {
				Sender string `json:"sender"`
			}{Sender: args[0]}, &out); err != nil {
				return err
			}
			for _, m := range out {
				if err := printJSON(m); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func mpoolPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <signed-message.json>",
		Short: "submit a signed message (JSON-encoded types.SignedMessage) to the mempool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			c := rpcClientFromFlags(cmd)
			var cidStr string
			if err := c.call("Mpool.Push", json.RawMessage(data), &cidStr); err != nil {
				return err
			}
			fmt.Println(cidStr)
			return nil
		},
	}
}
