package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// chainCmd groups read-only chain inspection subcommands, talking to a
// running daemon's rpcapi server the way the teacher's cmd/cli commands
// talk to their in-process Ledger (core/common_structs.go) — here through
// the wire boundary instead of a shared global.
func chainCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chain", Short: "inspect chain state"}
	cmd.AddCommand(chainHeadCmd())
	cmd.AddCommand(chainGetCmd())
	return cmd
}

func chainHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "print the current heaviest tipset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rpcClientFromFlags(cmd)
			var out json.RawMessage
			if err := c.call("Chain.Head", nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func chainGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <cid> [cid...]",
		Short: "resolve a tipset by its block CIDs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rpcClientFromFlags(cmd)
			var out json.RawMessage
			if err := c.call("Chain.GetTipset", struct {
				Cids []string `json:"cids"`
			}{Cids: args}, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func printJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		fmt.Println("null")
		return nil
	}
	pretty, err := json.MarshalIndent(json.RawMessage(raw), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
