package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"forest/internal/blockstore"
	"forest/internal/chainstore"
	"forest/internal/config"
	"forest/internal/types"
)

// snapshotCmd mirrors the teacher's cmd/cli export/import pairs, but
// operates directly on data_dir's blockstore rather than through the RPC
// boundary: a snapshot is an offline/cold operation, typically run while
// the daemon is stopped, so it has no business going through rpcapi.
func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "snapshot", Short: "export or import a chain snapshot"}
	cmd.AddCommand(snapshotExportCmd())
	cmd.AddCommand(snapshotImportCmd())
	return cmd
}

func snapshotExportCmd() *cobra.Command {
	var depth int64
	cmd := &cobra.Command{
		Use:   "export <output.forest.car.zst>",
		Short: "walk back from the heaviest tipset and write a forest-car archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			cfg, err := config.Load(dataDir)
			if err != nil {
				return err
			}
			cfg.DataDir = dataDir

			log := logrus.New()
			engine, _, err := blockstore.NewEngine(filepath.Join(cfg.DataDir, cfg.Storage.BlockstorePath))
			if err != nil {
				return err
			}
			bs := blockstore.NewLayeredStore(engine, nil, log)

			cs, err := chainstore.New(bs, log)
			if err != nil {
				return err
			}

			head := cs.Heaviest()
			if head == nil {
				return fmt.Errorf("no head tipset to snapshot")
			}

			ctx := context.Background()
			roots, entries, err := walkSnapshot(ctx, cs, bs, head, depth)
			if err != nil {
				return err
			}

			if err := blockstore.WriteArchive(args[0], roots, entries); err != nil {
				return err
			}
			fmt.Printf("wrote %s: %d blocks from height %d\n", args[0], len(entries), head.Height())
			return nil
		},
	}
	cmd.Flags().Int64Var(&depth, "depth", 900, "number of tipset epochs to walk back from head (0 = walk to genesis)")
	return cmd
}

// walkSnapshot collects the head tipset's block headers, message manifests
// and parent state roots, then walks parent tipsets back depth epochs (or
// to genesis when depth is 0). It does not descend into the state trie's
// actor-level data: a snapshot preserves chain history, not a full state
// export, matching the shallow retention the blockstore's GC collector
// already keeps resident (internal/blockstore/gc.go).
func walkSnapshot(ctx context.Context, cs *chainstore.Store, bs blockstore.Store, head *types.Tipset, depth int64) ([]cid.Cid, []blockstore.Entry, error) {
	seen := make(map[cid.Cid]bool)
	var entries []blockstore.Entry
	var roots []cid.Cid

	add := func(c cid.Cid, data []byte) {
		if seen[c] {
			return
		}
		seen[c] = true
		entries = append(entries, blockstore.Entry{Cid: c, Data: data})
	}

	cur := head
	for i := int64(0); cur != nil && (depth <= 0 || i < depth); i++ {
		for _, b := range cur.Blocks() {
			hc, err := b.Cid()
			if err != nil {
				return nil, nil, err
			}
			if cur == head {
				roots = append(roots, hc)
			}
			if data, err := types.Encode(b); err == nil {
				add(hc, data)
			}
			if b.Messages.Defined() {
				if data, err := bs.Get(ctx, b.Messages); err == nil {
					add(b.Messages, data)
				}
			}
			if b.ParentStateRoot.Defined() {
				if data, err := bs.Get(ctx, b.ParentStateRoot); err == nil {
					add(b.ParentStateRoot, data)
				}
			}
		}

		parents := cur.Parents()
		if len(parents) == 0 {
			break
		}
		parent, err := cs.LoadTipset(ctx, types.NewTipsetKey(parents))
		if err != nil {
			break
		}
		cur = parent
	}

	return roots, entries, nil
}

func snapshotImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot.forest.car.zst>",
		Short: "describe a forest-car archive's contents without loading it into the live blockstore",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := blockstore.OpenArchive(args[0])
			if err != nil {
				return err
			}
			roots := archive.Roots()
			fmt.Printf("roots: %d\n", len(roots))
			for _, r := range roots {
				fmt.Println(" ", r.String())
			}
			return nil
		},
	}
}
