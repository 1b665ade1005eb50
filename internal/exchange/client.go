package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"forest/internal/types"
)

// ErrBadData is returned when a peer's response fails CID verification —
// grounds for the §4.3 penalize-peer rule.
var ErrBadData = errors.New("exchange: peer returned data not matching declared CID")

// PerPeerConcurrency bounds simultaneous in-flight chain-exchange requests
// to a single peer, per §4.3.
const PerPeerConcurrency = 4

// Scorer is the subset of peer scoring the client needs to apply the
// penalize/ban rule on bad data.
type Scorer interface {
	Penalize(peer string, reason string)
}

// Client issues chain-exchange requests to specific peers over a shared
// libp2p host.
type Client struct {
	h      host.Host
	scorer Scorer
	log    *logrus.Entry

	mu   sync.Mutex
	sems map[peer.ID]chan struct{}
}

func NewClient(h host.Host, scorer Scorer, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{h: h, scorer: scorer, log: log.WithField("component", "exchange.client"), sems: make(map[peer.ID]chan struct{})}
}

func (c *Client) acquire(p peer.ID) chan struct{} {
	c.mu.Lock()
	sem, ok := c.sems[p]
	if !ok {
		sem = make(chan struct{}, PerPeerConcurrency)
		c.sems[p] = sem
	}
	c.mu.Unlock()
	return sem
}

// Request performs one chain-exchange round trip against p, decoding each
// bundle off the wire one at a time (bounded memory) and checking that every
// header decodes and hashes to a CID before returning it. The CIDs are not
// compared with the requested anchor or with the previous bundle's parents.
func (c *Client) Request(ctx context.Context, p peer.ID, req Request) ([]TipsetBundle, error) {
	sem := c.acquire(p)
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	str, err := c.h.NewStream(ctx, p, ProtocolID)
	if err != nil {
		return nil, errors.Wrap(err, "open chain-exchange stream")
	}
	defer str.Close()

	if err := json.NewEncoder(str).Encode(req); err != nil {
		return nil, errors.Wrap(err, "send chain-exchange request")
	}

	dec := json.NewDecoder(str)
	var bundles []TipsetBundle
	for i := 0; i < req.Count; i++ {
		bundle, err := readBundle(dec)
		if err != nil {
			break
		}
		if err := c.verify(bundle); err != nil {
			if c.scorer != nil {
				c.scorer.Penalize(p.String(), err.Error())
			}
			return nil, err
		}
		bundles = append(bundles, bundle)
	}
	if len(bundles) == 0 {
		return nil, fmt.Errorf("exchange: peer %s returned no tipsets", p)
	}
	return bundles, nil
}

// verify decodes the bundle and re-derives each header's CID from its
// bytes, failing if either step fails. Headers declare no CID of their own,
// so the derived CID is not compared with anything.
func (c *Client) verify(b TipsetBundle) error {
	headers, _, _, err := b.Decode()
	if err != nil {
		return errors.Wrap(ErrBadData, err.Error())
	}
	for _, h := range headers {
		if _, err := h.Cid(); err != nil {
			return errors.Wrap(ErrBadData, err.Error())
		}
	}
	return nil
}

// GetTipset implements sync.Fetcher: it asks every already-known peer in
// order until one answers with the requested tipset, assembling it from the
// single returned bundle.
func (c *Client) GetTipset(ctx context.Context, key types.TipsetKey, peers []peer.ID) (*types.Tipset, error) {
	var lastErr error
	for _, p := range peers {
		bundles, err := c.Request(ctx, p, Request{Anchor: key, Count: 1, Options: Options{Headers: true}})
		if err != nil {
			lastErr = err
			continue
		}
		headers, _, _, err := bundles[0].Decode()
		if err != nil {
			lastErr = err
			continue
		}
		ts, err := types.NewTipset(headers)
		if err != nil {
			lastErr = err
			continue
		}
		return ts, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("exchange: no peers available for tipset %s", key)
	}
	return nil, lastErr
}
