package sync

import (
	"context"

	"forest/internal/types"
)

// bridge walks from target toward genesis via the fetcher, requesting
// parents one tipset at a time, until the local chain store already has the
// walked-to tipset (the common ancestor), per §4.4 point 2. It returns the
// bridged chain in height order, oldest (just above the ancestor) first,
// ending with target itself.
func (s *Syncer) bridge(ctx context.Context, target *types.Tipset) ([]*types.Tipset, error) {
	chain := []*types.Tipset{target}
	cur := target

	for i := 0; i < MaxBridgeLength; i++ {
		if len(cur.Parents()) == 0 {
			// Reached genesis without ever finding a locally-known ancestor;
			// that's fine as long as genesis itself is the local genesis.
			if cur.Key().Equals(s.cs.Genesis()) {
				return chain, nil
			}
			return nil, ErrBridgeTooLong
		}

		parentKey := types.NewTipsetKey(cur.Parents())
		if _, err := s.cs.LoadTipset(ctx, parentKey); err == nil {
			// Parent already known locally: this is the join point.
			return chain, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		parent, err := s.fetcher.GetTipset(ctx, parentKey)
		if err != nil {
			return nil, err
		}
		chain = append([]*types.Tipset{parent}, chain...)
		cur = parent
	}
	return nil, ErrBridgeTooLong
}
