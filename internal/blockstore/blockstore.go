// Package blockstore implements the §4.1 byte-addressable CID store: a
// write cache over a durable bbolt engine, with zero or more read-only
// forest-car archives layered beneath. It is adapted from the teacher's
// WAL-backed Ledger (core/ledger.go) — same "open, replay, durable-append"
// shape — generalized from a single JSON-lines WAL to a generic CID->bytes
// map with a real embedded engine underneath.
package blockstore

import (
	"context"
	"fmt"
	"sync"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	ipfsbs "github.com/ipfs/go-ipfs-blockstore"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Store is the public capability described in §4.1: get/has/put/put_many/flush.
type Store interface {
	Has(ctx context.Context, c cid.Cid) (bool, error)
	Get(ctx context.Context, c cid.Cid) ([]byte, error)
	Put(ctx context.Context, c cid.Cid, data []byte) error
	PutMany(ctx context.Context, entries []Entry) error
	Flush(ctx context.Context) error
	Close() error
}

type Entry struct {
	Cid  cid.Cid
	Data []byte
}

// ErrCorrupt is returned when a stored block's bytes do not hash back to
// the CID under which they were found. Per §1/§7 this is a fatal,
// fail-closed condition — callers must not swallow it.
var ErrCorrupt = errors.New("blockstore: hash mismatch on read, data is corrupt")

// LayeredStore is the concrete stack from §4.1: write cache (in-memory) on
// top of a persistent engine, with immutable read-only archives probed
// last. Reads go top-down; writes only ever land in engine (via the cache).
type LayeredStore struct {
	log *logrus.Entry

	mu    sync.RWMutex
	cache map[cid.Cid][]byte

	engine   ipfsbs.Blockstore
	archives []*Archive
}

func NewLayeredStore(engine ipfsbs.Blockstore, archives []*Archive, log *logrus.Logger) *LayeredStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LayeredStore{
		log:      log.WithField("component", "blockstore"),
		cache:    make(map[cid.Cid][]byte),
		engine:   engine,
		archives: archives,
	}
}

func (s *LayeredStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	s.mu.RLock()
	_, ok := s.cache[c]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}
	if ok, err := s.engine.Has(ctx, c); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	for _, a := range s.archives {
		if a.Has(c) {
			return true, nil
		}
	}
	return false, nil
}

func (s *LayeredStore) Get(ctx context.Context, c cid.Cid) ([]byte, error) {
	s.mu.RLock()
	if b, ok := s.cache[c]; ok {
		s.mu.RUnlock()
		return b, nil
	}
	s.mu.RUnlock()

	blk, err := s.engine.Get(ctx, c)
	if err == nil {
		return verify(c, blk.RawData())
	}
	if !errors.Is(err, ipfsbs.ErrNotFound) {
		return nil, err
	}
	for _, a := range s.archives {
		if data, ok := a.Get(c); ok {
			return verify(c, data)
		}
	}
	return nil, fmt.Errorf("blockstore: not found: %s", c)
}

func verify(c cid.Cid, data []byte) ([]byte, error) {
	want, err := cidFor(data, c)
	if err != nil {
		return nil, err
	}
	if !want.Equals(c) {
		return nil, errors.Wrapf(ErrCorrupt, "cid %s", c)
	}
	return data, nil
}

func (s *LayeredStore) Put(ctx context.Context, c cid.Cid, data []byte) error {
	s.mu.Lock()
	s.cache[c] = data
	s.mu.Unlock()
	return nil
}

func (s *LayeredStore) PutMany(ctx context.Context, entries []Entry) error {
	s.mu.Lock()
	for _, e := range entries {
		s.cache[e.Cid] = e.Data
	}
	s.mu.Unlock()
	return nil
}

// Flush makes every prior Put/PutMany durable in the bbolt engine, batching
// the whole write cache atomically, then empties the cache. Cancellation of
// an in-flight sync (§5) relies on this: partial writes live only in the
// in-memory cache until a tipset fully validates and calls Flush.
func (s *LayeredStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	pending := s.cache
	s.cache = make(map[cid.Cid][]byte)
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	blks := make([]blocks.Block, 0, len(pending))
	for c, data := range pending {
		b, err := blocks.NewBlockWithCid(data, c)
		if err != nil {
			return errors.Wrap(err, "flush: rebuild block")
		}
		blks = append(blks, b)
	}
	if err := s.engine.PutMany(ctx, blks); err != nil {
		s.log.WithError(err).Error("flush failed, restoring write cache")
		s.mu.Lock()
		for c, data := range pending {
			s.cache[c] = data
		}
		s.mu.Unlock()
		return errors.Wrap(err, "flush")
	}
	s.log.WithField("count", len(blks)).Debug("flushed write cache")
	return nil
}

func (s *LayeredStore) Close() error { return nil }

func cidFor(data []byte, like cid.Cid) (cid.Cid, error) {
	pfx := like.Prefix()
	return pfx.Sum(data)
}
