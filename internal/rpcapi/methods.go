package rpcapi

import (
	"context"
	"encoding/hex"
	"encoding/json"

	"github.com/ipfs/go-cid"

	"forest/internal/chainstore"
	"forest/internal/mempool"
	"forest/internal/types"
)

// RegisterChainMethods wires §6's read-only chain methods: Chain.Head
// returns the current heaviest tipset, Chain.GetTipset resolves one by key.
func RegisterChainMethods(s *Server, store *chainstore.Store) {
	s.Register("Chain.Head", CapRead, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		ts := store.Heaviest()
		if ts == nil {
			return nil, nil
		}
		return tipsetDTO(ts), nil
	})

	s.Register("Chain.GetTipset", CapRead, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			Cids []string `json:"cids"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		key, err := parseTipsetKey(req.Cids)
		if err != nil {
			return nil, err
		}
		ts, err := store.LoadTipset(ctx, key)
		if err != nil {
			return nil, err
		}
		return tipsetDTO(ts), nil
	})
}

// RegisterMpoolMethods wires §6's mempool read/write methods:
// Mpool.Pending lists a sender's queued messages, Mpool.Push submits one.
func RegisterMpoolMethods(s *Server, pool *mempool.Pool) {
	s.Register("Mpool.Pending", CapRead, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var req struct {
			Sender string `json:"sender"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, err
		}
		addr, err := parseAddress(req.Sender)
		if err != nil {
			return nil, err
		}
		pending := pool.Pending(addr)
		out := make([]json.RawMessage, 0, len(pending))
		for _, sm := range pending {
			d, err := json.Marshal(messageDTO(sm))
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	})

	s.Register("Mpool.Push", CapWrite, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var sm types.SignedMessage
		if err := json.Unmarshal(params, &sm); err != nil {
			return nil, err
		}
		if err := pool.Add(ctx, &sm); err != nil {
			return nil, err
		}
		c, err := sm.Cid()
		if err != nil {
			return nil, err
		}
		return c.String(), nil
	})
}

func tipsetDTO(ts *types.Tipset) map[string]interface{} {
	blocks := ts.Blocks()
	cids := make([]string, len(blocks))
	for i, b := range blocks {
		c, err := b.Cid()
		if err == nil {
			cids[i] = c.String()
		}
	}
	return map[string]interface{}{
		"height": ts.Height(),
		"cids":   cids,
	}
}

func messageDTO(sm *types.SignedMessage) map[string]interface{} {
	return map[string]interface{}{
		"from":        sm.Message.From.String(),
		"to":          sm.Message.To.String(),
		"nonce":       sm.Message.Nonce,
		"value":       sm.Message.Value.String(),
		"gas_limit":   sm.Message.GasLimit,
		"gas_fee_cap": sm.Message.GasFeeCap.String(),
		"method":      sm.Message.Method,
	}
}

// parseAddress accepts the hex encoding of Address.Bytes() rather than the
// "f1.."-style text format: this boundary is this repo's own JSON-RPC
// clients, not a requirement to parse Filecoin's human-readable address
// strings, and hex round-trips through Address.Bytes/AddressFromBytes
// exactly with no separate base32/checksum parser to write.
func parseAddress(s string) (types.Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Undef, err
	}
	return types.AddressFromBytes(b)
}

func parseTipsetKey(cidStrings []string) (types.TipsetKey, error) {
	cids := make([]cid.Cid, len(cidStrings))
	for i, s := range cidStrings {
		c, err := cid.Decode(s)
		if err != nil {
			return types.TipsetKey{}, err
		}
		cids[i] = c
	}
	return types.NewTipsetKey(cids), nil
}
