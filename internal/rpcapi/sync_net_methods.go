package rpcapi

import (
	"context"
	"encoding/json"

	"forest/internal/p2p"
	"forest/internal/sync"
)

// SyncStatus reports the syncer's current state machine phase (§4.4),
// read-only so it only needs CapRead.
type SyncStatus interface {
	State() sync.State
}

// RegisterSyncMethods wires Sync.Status, letting a CLI poll bridge/validate
// progress without tailing daemon logs.
func RegisterSyncMethods(s *Server, syncer SyncStatus) {
	s.Register("Sync.Status", CapRead, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return map[string]interface{}{"state": syncer.State().String()}, nil
	})
}

// RegisterNetMethods wires Net.Peers, listing the node's currently ranked
// peer table (internal/p2p.PeerTable.Ranked).
func RegisterNetMethods(s *Server, node *p2p.Node) {
	s.Register("Net.Peers", CapRead, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		ids := node.Peers()()
		peers := make([]string, len(ids))
		for i, id := range ids {
			peers[i] = id.String()
		}
		return peers, nil
	})
}
