package blockstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

func testCid(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return cid.NewCidV1(cid.Raw, sum)
}

func newTestStore(t *testing.T) *LayeredStore {
	t.Helper()
	dir := t.TempDir()
	engine, _, err := NewEngine(filepath.Join(dir, "blocks.db"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return NewLayeredStore(engine, nil, nil)
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := []byte("hello forest")
	c := testCid(t, data)

	if err := s.Put(ctx, c, data); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.Get(ctx, c)
	if err != nil {
		t.Fatalf("get before flush: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q want %q", got, data)
	}

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got, err = s.Get(ctx, c)
	if err != nil {
		t.Fatalf("get after flush: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q want %q after flush", got, data)
	}
}

func TestHasReflectsAllLayers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := []byte("layered")
	c := testCid(t, data)

	if ok, _ := s.Has(ctx, c); ok {
		t.Fatalf("expected absent before put")
	}
	_ = s.Put(ctx, c, data)
	if ok, err := s.Has(ctx, c); err != nil || !ok {
		t.Fatalf("expected present in write cache, ok=%v err=%v", ok, err)
	}
	_ = s.Flush(ctx)
	if ok, err := s.Has(ctx, c); err != nil || !ok {
		t.Fatalf("expected present in engine after flush, ok=%v err=%v", ok, err)
	}
}

func TestPutManyAtomicAtFlush(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	var entries []Entry
	for i := 0; i < 10; i++ {
		data := []byte{byte(i), byte(i + 1)}
		entries = append(entries, Entry{Cid: testCid(t, data), Data: data})
	}
	if err := s.PutMany(ctx, entries); err != nil {
		t.Fatalf("put many: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	for _, e := range entries {
		got, err := s.Get(ctx, e.Cid)
		if err != nil {
			t.Fatalf("get %s: %v", e.Cid, err)
		}
		if string(got) != string(e.Data) {
			t.Fatalf("mismatch for %s", e.Cid)
		}
	}
}
