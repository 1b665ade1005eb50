package main

import (
	"context"
	"fmt"

	"forest/internal/blockstore"
	"forest/internal/chainstore"
	"forest/internal/types"
)

// loadGenesis imports cfg.Chain.GenesisFile's forest-car archive into bs,
// records its tipset as cs's genesis and makes it cs's first head, skipping
// all of this if cs already has a genesis (chainstore.SetGenesis is
// write-once) — matching the "cold sync from genesis" scenario's
// precondition that an empty data_dir plus a known genesis produces a
// bootstrappable node. The chain store keeps genesis and head in memory
// only, so every daemon start imports the archive again.
func loadGenesis(ctx context.Context, bs blockstore.Store, cs *chainstore.Store, genesisFile string) error {
	if !cs.Genesis().Equals(types.TipsetKey{}) {
		return nil
	}
	if genesisFile == "" {
		return nil
	}

	archive, err := blockstore.OpenArchive(genesisFile)
	if err != nil {
		return fmt.Errorf("open genesis archive: %w", err)
	}

	entries := make([]blockstore.Entry, 0, len(archive.CIDs()))
	for _, c := range archive.CIDs() {
		data, ok := archive.Get(c)
		if !ok {
			continue
		}
		entries = append(entries, blockstore.Entry{Cid: c, Data: data})
	}
	if err := bs.PutMany(ctx, entries); err != nil {
		return fmt.Errorf("import genesis blocks: %w", err)
	}

	roots := archive.Roots()
	if len(roots) == 0 {
		return fmt.Errorf("genesis archive %s has no root", genesisFile)
	}

	blocks := make([]*types.BlockHeader, 0, len(roots))
	for _, r := range roots {
		data, err := bs.Get(ctx, r)
		if err != nil {
			return fmt.Errorf("read genesis root %s: %w", r, err)
		}
		var h types.BlockHeader
		if err := types.Decode(data, &h); err != nil {
			return fmt.Errorf("decode genesis header %s: %w", r, err)
		}
		blocks = append(blocks, &h)
	}

	ts, err := types.NewTipset(blocks)
	if err != nil {
		return fmt.Errorf("build genesis tipset: %w", err)
	}
	if err := cs.SetGenesis(ts); err != nil {
		return err
	}
	_, err = cs.SetHeaviest(ctx, ts)
	return err
}
