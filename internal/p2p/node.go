// Package p2p provides the concrete libp2p transport §4.3 and §6 name: a
// gossipsub-backed host with mDNS discovery and bootstrap dialing, a peer
// table, and a scoring/banning table shared by internal/sync and
// internal/exchange. It generalizes the teacher's core/network.go (single
// pubsub-only Node) to also register the chain-exchange stream protocol and
// persist a stable peer identity across restarts.
package p2p

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config mirrors the teacher's core.Config, extended with the target-peer
// count §6 names.
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []string
	DiscoveryTag   string
	TargetPeers    int
	IdentityPath   string // data_dir/peer.key, per SPEC_FULL.md's persisted layout
}

const (
	BlockTopic   = "/forest/blocks"
	MessageTopic = "/forest/messages"
)

// Node wraps a libp2p host plus gossipsub, mirroring core.Node's shape
// (topics/subs maps guarded by dedicated locks) generalized with a Scorer
// and the two block/message gossip topics this chain needs.
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	scorer *Scorer
	table  *PeerTable

	topicLock sync.RWMutex
	topics    map[string]*pubsub.Topic

	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry
}

// New creates and bootstraps a node: loads or generates a persisted
// identity, opens the libp2p host (TCP+QUIC with Noise/Yamux are
// go-libp2p's defaults when no transport options are given), joins
// gossipsub, starts mDNS discovery, and dials configured bootstrap peers.
func New(cfg Config, log *logrus.Logger) (*Node, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("component", "p2p.node")

	priv, err := loadOrCreateIdentity(cfg.IdentityPath)
	if err != nil {
		return nil, errors.Wrap(err, "load peer identity")
	}

	opts := []libp2p.Option{libp2p.Identity(priv)}
	for _, a := range cfg.ListenAddrs {
		opts = append(opts, libp2p.ListenAddrStrings(a))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create libp2p host")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, errors.Wrap(err, "create gossipsub")
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		scorer: NewScorer(),
		table:  NewPeerTable(cfg.TargetPeers),
		topics: make(map[string]*pubsub.Topic),
		ctx:    ctx,
		cancel: cancel,
		log:    entry,
	}

	mdns.NewMdnsService(h, cfg.DiscoveryTag, n)

	for _, addr := range cfg.BootstrapPeers {
		if err := n.Dial(addr); err != nil {
			entry.WithError(err).WithField("addr", addr).Warn("bootstrap dial failed")
		}
	}

	return n, nil
}

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: connect to a newly discovered
// peer and register it in the peer table, per the teacher's
// core.Node.HandlePeerFound.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	if n.table.Has(info.ID) {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		n.log.WithError(err).WithField("peer", info.ID.String()).Warn("mdns connect failed")
		return
	}
	n.table.Add(info.ID)
	n.log.WithField("peer", info.ID.String()).Info("connected via mdns")
}

// Dial connects to a bootstrap or manually configured peer address.
func (n *Node) Dial(addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return errors.Wrapf(err, "parse peer addr %s", addr)
	}
	if err := n.host.Connect(n.ctx, *pi); err != nil {
		return errors.Wrapf(err, "connect %s", addr)
	}
	n.table.Add(pi.ID)
	return nil
}

// Host returns the underlying libp2p host, for registering protocol stream
// handlers (internal/exchange.Server.Register) or constructing a client.
func (n *Node) Host() host.Host { return n.host }

// Scorer returns the shared peer scoring/banning table.
func (n *Node) Scorer() *Scorer { return n.scorer }

// Peers returns a PeerLister closure over the node's peer table, ordered
// best-trust-first, for internal/exchange.PeerFetcher.
func (n *Node) Peers() func() []peer.ID {
	return func() []peer.ID { return n.table.Ranked(n.scorer) }
}

func (n *Node) joinTopic(topic string) (*pubsub.Topic, error) {
	n.topicLock.Lock()
	defer n.topicLock.Unlock()
	t, ok := n.topics[topic]
	if ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topic)
	if err != nil {
		return nil, errors.Wrapf(err, "join topic %s", topic)
	}
	n.topics[topic] = t
	return t, nil
}

// Publish gossips data on topic, joining it on first use.
func (n *Node) Publish(topic string, data []byte) error {
	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	return t.Publish(n.ctx, data)
}

// Subscription is a simplified gossipsub subscription delivering raw
// payloads plus the publishing peer, matching the shape internal/sync and
// the block-gossip admission path need.
type Subscription struct {
	From peer.ID
	Data []byte
}

// Subscribe joins topic (if not already joined) and returns a channel of
// incoming messages, closed when the subscription's context is done.
func (n *Node) Subscribe(topic string) (<-chan Subscription, error) {
	t, err := n.joinTopic(topic)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe topic %s", topic)
	}
	out := make(chan Subscription)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			if msg.GetFrom() == n.host.ID() {
				continue
			}
			out <- Subscription{From: msg.GetFrom(), Data: msg.Data}
		}
	}()
	return out, nil
}

// Close tears the node down.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

func loadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	if path == "" {
		priv, _, err := crypto.GenerateEd25519Key(nil)
		return priv, err
	}
	if data, err := os.ReadFile(path); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	data, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}
