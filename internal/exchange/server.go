package exchange

import (
	"context"
	"encoding/json"
	"io"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/sirupsen/logrus"

	"forest/internal/chainstore"
	"forest/internal/types"
)

// MessageProvider resolves a tipset's deduplicated BLS/Secp message lists,
// mirroring the retrieved go-filecoin syncer's MessageProvider boundary
// (LoadMessages/LoadReceipts) so this package stays independent of however
// message lists end up represented on disk (AMT root under Messages).
type MessageProvider interface {
	LoadTipsetMessages(ctx context.Context, ts *types.Tipset) (bls, secp []*types.SignedMessage, err error)
}

// MaxServedTipsets bounds a single request regardless of what the peer asks
// for, so a malicious Count can't force an unbounded walk.
const MaxServedTipsets = 2880

// Server answers chain-exchange requests from the local chain store.
type Server struct {
	cs       *chainstore.Store
	messages MessageProvider
	log      *logrus.Entry
}

func NewServer(cs *chainstore.Store, messages MessageProvider, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{cs: cs, messages: messages, log: log.WithField("component", "exchange.server")}
}

// Register installs the chain-exchange stream handler on h.
func (s *Server) Register(h host.Host) {
	h.SetStreamHandler(ProtocolID, s.handleStream)
}

func (s *Server) handleStream(str network.Stream) {
	defer str.Close()
	ctx := context.Background()

	var req Request
	if err := json.NewDecoder(str).Decode(&req); err != nil {
		s.log.WithError(err).Warn("malformed chain-exchange request")
		return
	}
	count := req.Count
	if count > MaxServedTipsets {
		count = MaxServedTipsets
	}

	ts, err := s.cs.LoadTipset(ctx, req.Anchor)
	if err != nil {
		s.log.WithError(err).WithField("anchor", req.Anchor.String()).Warn("unknown anchor requested")
		return
	}

	for i := 0; i < count; i++ {
		bundle, err := s.buildBundle(ctx, ts, req.Options)
		if err != nil {
			s.log.WithError(err).Warn("failed to build bundle")
			return
		}
		if err := writeBundle(str, bundle); err != nil {
			if err != io.EOF {
				s.log.WithError(err).Debug("stream write failed, peer likely disconnected")
			}
			return
		}

		if len(ts.Parents()) == 0 {
			return
		}
		parentKey := types.NewTipsetKey(ts.Parents())
		parent, err := s.cs.LoadTipset(ctx, parentKey)
		if err != nil {
			return
		}
		ts = parent
	}
}

func (s *Server) buildBundle(ctx context.Context, ts *types.Tipset, opts Options) (TipsetBundle, error) {
	var bundle TipsetBundle
	if opts.Headers {
		for _, b := range ts.Blocks() {
			data, err := types.Encode(b)
			if err != nil {
				return TipsetBundle{}, err
			}
			bundle.HeaderBytes = append(bundle.HeaderBytes, data)
		}
	}
	if opts.Messages && s.messages != nil {
		bls, secp, err := s.messages.LoadTipsetMessages(ctx, ts)
		if err != nil {
			return TipsetBundle{}, err
		}
		for _, m := range bls {
			data, err := types.Encode(m)
			if err != nil {
				return TipsetBundle{}, err
			}
			bundle.BlsMessageBytes = append(bundle.BlsMessageBytes, data)
		}
		for _, m := range secp {
			data, err := types.Encode(m)
			if err != nil {
				return TipsetBundle{}, err
			}
			bundle.SecpMessageBytes = append(bundle.SecpMessageBytes, data)
		}
	}
	return bundle, nil
}
