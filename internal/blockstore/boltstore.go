package blockstore

import (
	"context"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	ipfsbs "github.com/ipfs/go-ipfs-blockstore"
	bolt "go.etcd.io/bbolt"
)

var blocksBucket = []byte("blocks")

// BoltDatastore adapts go.etcd.io/bbolt to the go-datastore.Batching
// contract so it can back an ipfs/go-ipfs-blockstore.Blockstore, per the
// durable-backend decision recorded in DESIGN.md (§9 open question).
type BoltDatastore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltDatastore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDatastore{db: db}, nil
}

func (b *BoltDatastore) Get(ctx context.Context, key ds.Key) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(key.Bytes())
		if v == nil {
			return ds.ErrNotFound
		}
		out = append([]byte{}, v...)
		return nil
	})
	return out, err
}

func (b *BoltDatastore) Has(ctx context.Context, key ds.Key) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(blocksBucket).Get(key.Bytes()) != nil
		return nil
	})
	return found, err
}

func (b *BoltDatastore) GetSize(ctx context.Context, key ds.Key) (int, error) {
	data, err := b.Get(ctx, key)
	if err != nil {
		return -1, err
	}
	return len(data), nil
}

func (b *BoltDatastore) Put(ctx context.Context, key ds.Key, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(key.Bytes(), value)
	})
}

func (b *BoltDatastore) Delete(ctx context.Context, key ds.Key) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).Delete(key.Bytes())
	})
}

func (b *BoltDatastore) Sync(ctx context.Context, prefix ds.Key) error {
	return b.db.Sync()
}

func (b *BoltDatastore) Close() error {
	return b.db.Close()
}

// Query is a minimal full-bucket scan; the blockstore never issues prefix
// or ordered queries, it only needs AllKeysChan for garbage collection.
func (b *BoltDatastore) Query(ctx context.Context, q dsq.Query) (dsq.Results, error) {
	var entries []dsq.Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(blocksBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			entries = append(entries, dsq.Entry{Key: string(k), Value: append([]byte{}, v...)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dsq.ResultsWithEntries(q, entries), nil
}

// Batch supports the go-datastore Batching contract so PutMany can commit
// as a single bbolt transaction instead of one fsync per block.
func (b *BoltDatastore) Batch(ctx context.Context) (ds.Batch, error) {
	return &boltBatch{parent: b}, nil
}

type boltBatch struct {
	parent *BoltDatastore
	puts   []dsEntry
	dels   []ds.Key
}

type dsEntry struct {
	key   ds.Key
	value []byte
}

func (bb *boltBatch) Put(ctx context.Context, key ds.Key, value []byte) error {
	bb.puts = append(bb.puts, dsEntry{key, value})
	return nil
}

func (bb *boltBatch) Delete(ctx context.Context, key ds.Key) error {
	bb.dels = append(bb.dels, key)
	return nil
}

func (bb *boltBatch) Commit(ctx context.Context) error {
	return bb.parent.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blocksBucket)
		for _, e := range bb.puts {
			if err := bucket.Put(e.key.Bytes(), e.value); err != nil {
				return err
			}
		}
		for _, k := range bb.dels {
			if err := bucket.Delete(k.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewEngine wraps a BoltDatastore as an ipfs/go-ipfs-blockstore.Blockstore,
// the "persistent key-value engine" layer of §4.1.
func NewEngine(path string) (ipfsbs.Blockstore, *BoltDatastore, error) {
	bds, err := OpenBolt(path)
	if err != nil {
		return nil, nil, err
	}
	return ipfsbs.NewBlockstore(bds), bds, nil
}
