package mempool

import (
	"context"
	"time"

	"forest/internal/types"
)

// Broadcaster is the gossip capability republishing needs, mirroring the
// teacher's TxPool.net *Broadcaster field (core/common_structs.go) as a
// wire-up interface rather than a concrete pubsub type.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// MessagesTopic is the pubsub topic pending messages are rebroadcast on.
const MessagesTopic = "/forest/messages"

// republishEntry tracks one message's rebroadcast backoff state.
type republishEntry struct {
	msg      *types.SignedMessage
	nextAt   time.Time
	interval time.Duration
}

// Republisher periodically re-announces pending messages to the network,
// on a schedule that decays (doubles its interval, capped at maxInterval)
// each time a message is rebroadcast without being included, per §4.5's
// "messages are periodically rebroadcast on a decaying schedule so a
// temporarily-partitioned peer still eventually observes them."
type Republisher struct {
	pool        *Pool
	net         Broadcaster
	baseInterval time.Duration
	maxInterval  time.Duration

	entries map[string]*republishEntry // keyed by message CID string
}

func NewRepublisher(pool *Pool, net Broadcaster) *Republisher {
	return &Republisher{
		pool:         pool,
		net:          net,
		baseInterval: 10 * time.Second,
		maxInterval:  10 * time.Minute,
		entries:      make(map[string]*republishEntry),
	}
}

// Run rebroadcasts due messages every tick until ctx is cancelled.
func (r *Republisher) Run(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Republisher) tick(ctx context.Context) {
	now := r.now()

	r.pool.mu.RLock()
	queues := make([]*senderQueue, 0, len(r.pool.senders))
	for _, q := range r.pool.senders {
		queues = append(queues, q)
	}
	r.pool.mu.RUnlock()

	seen := make(map[string]bool)
	for _, q := range queues {
		q.mu.Lock()
		pending := sortedByNonce(q.pending)
		q.mu.Unlock()

		for _, sm := range pending {
			c, err := sm.Cid()
			if err != nil {
				continue
			}
			key := c.String()
			seen[key] = true

			e, ok := r.entries[key]
			if !ok {
				e = &republishEntry{msg: sm, nextAt: now, interval: r.baseInterval}
				r.entries[key] = e
			}
			if now.Before(e.nextAt) {
				continue
			}

			encoded, err := sm.Message.EncodeCanonical()
			if err == nil {
				_ = r.net.Publish(ctx, MessagesTopic, encoded)
			}

			e.interval *= 2
			if e.interval > r.maxInterval {
				e.interval = r.maxInterval
			}
			e.nextAt = now.Add(e.interval)
		}
	}

	// drop bookkeeping for messages no longer pending (included or evicted).
	for key := range r.entries {
		if !seen[key] {
			delete(r.entries, key)
		}
	}
}

// now is a seam kept separate from time.Now so tests can control it if
// needed without faking the clock globally.
func (r *Republisher) now() time.Time {
	return time.Now()
}
