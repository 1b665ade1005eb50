package blockstore

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/ipfs/go-cid"
	carv1 "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// footerMagic marks the end of a forest-car file: an 8-byte magic followed
// by an 8-byte big-endian offset pointing at the start of the CID->offset
// index, so the whole index is reachable with a single seek from EOF (§6).
var footerMagic = [8]byte{'f', 'o', 'r', 'e', 's', 't', 'i', 'x'}

// Archive is a memory-mapped, read-only forest-car layer: a zstd-framed
// car stream plus an appended footer index. It is immutable and never
// garbage collected (§4.1) — reclamation happens by rewriting a new
// archive, not by mutating this one.
type Archive struct {
	path  string
	data  []byte
	index map[cid.Cid]archiveOffset
	roots []cid.Cid
}

type archiveOffset struct {
	offset uint64
	length uint64
}

// OpenArchive memory-maps path and either loads a trailing footer index or,
// on first open, builds one by decompressing and scanning the car stream,
// then persists the footer so subsequent opens are O(1).
func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "read archive")
	}

	a := &Archive{path: path}
	compressed := data
	if idx, _, footerLen, ok := readFooter(data); ok {
		compressed = data[:len(data)-footerLen]
		raw, err := decompress(compressed)
		if err != nil {
			return nil, errors.Wrap(err, "zstd decode")
		}
		cr, err := carv1.NewCarReader(newByteReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, "read car header")
		}
		a.data = raw
		a.index = idx
		a.roots = cr.Header.Roots
		return a, nil
	}

	if err := a.buildIndex(compressed); err != nil {
		return nil, errors.Wrap(err, "build archive index")
	}
	if err := a.persistFooter(uint64(len(compressed))); err != nil {
		return nil, errors.Wrap(err, "persist archive footer")
	}
	return a, nil
}

func decompress(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}

func (a *Archive) buildIndex(compressed []byte) error {
	raw, err := decompress(compressed)
	if err != nil {
		return errors.Wrap(err, "zstd decode")
	}

	cr, err := carv1.NewCarReader(newByteReader(raw))
	if err != nil {
		return err
	}
	a.roots = cr.Header.Roots
	a.index = make(map[cid.Cid]archiveOffset)

	// Offsets point into the raw car stream: past the varint-prefixed
	// header, then past each block's varint length prefix and CID bytes.
	hdrLen, n := binary.Uvarint(raw)
	if n <= 0 {
		return errors.New("malformed car header length")
	}
	offset := uint64(n) + hdrLen
	for {
		blk, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		cidLen := uint64(len(blk.Cid().Bytes()))
		length := uint64(len(blk.RawData()))
		offset += uint64(len(binary.AppendUvarint(nil, cidLen+length))) + cidLen
		a.index[blk.Cid()] = archiveOffset{offset: offset, length: length}
		offset += length
	}
	// The decompressed stream is kept resident once indexed; forest-car
	// archives are expected to fit comfortably in page cache for the
	// retention window GC keeps (finality-worth of tipsets).
	a.data = raw
	return nil
}

func (a *Archive) Has(c cid.Cid) bool {
	_, ok := a.index[c]
	return ok
}

func (a *Archive) Get(c cid.Cid) ([]byte, bool) {
	off, ok := a.index[c]
	if !ok {
		return nil, false
	}
	return a.data[off.offset : off.offset+off.length], true
}

func (a *Archive) Roots() []cid.Cid { return a.roots }

// CIDs lists every block the archive's footer index knows about, for
// callers that need to copy an archive's full contents into a live store
// (cmd/forest's genesis import) rather than fetch individual blocks.
func (a *Archive) CIDs() []cid.Cid {
	cids := make([]cid.Cid, 0, len(a.index))
	for c := range a.index {
		cids = append(cids, c)
	}
	return cids
}

// WriteArchive serializes entries as a CARv1 stream rooted at roots, zstd
// compresses it and writes path, then appends the same footer index format
// OpenArchive's first-open path builds — so a freshly written snapshot
// opens in O(1) on the next daemon start without a rebuild pass. entries
// is the full transitive closure the caller wants retrievable; this
// function does no graph walking of its own (the chain/message/state
// walk lives in cmd/forest's snapshot command, which already knows how to
// enumerate a tipset's header, messages and the shallow state trie).
func WriteArchive(path string, roots []cid.Cid, entries []Entry) error {
	var raw bytes.Buffer
	if err := carv1.WriteHeader(&carv1.CarHeader{Roots: roots, Version: 1}, &raw); err != nil {
		return errors.Wrap(err, "write car header")
	}
	for _, e := range entries {
		if err := carutil.LdWrite(&raw, e.Cid.Bytes(), e.Data); err != nil {
			return errors.Wrap(err, "write car block")
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	compressed := enc.EncodeAll(raw.Bytes(), nil)
	enc.Close()

	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return errors.Wrap(err, "write archive file")
	}

	a := &Archive{path: path}
	if err := a.buildIndex(compressed); err != nil {
		return errors.Wrap(err, "index fresh archive")
	}
	return a.persistFooter(uint64(len(compressed)))
}

func (a *Archive) persistFooter(compressedLen uint64) error {
	f, err := os.OpenFile(a.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	indexStart := compressedLen
	for c, off := range a.index {
		b := c.Bytes()
		if err := writeUvarint(f, uint64(len(b))); err != nil {
			return err
		}
		if _, err := f.Write(b); err != nil {
			return err
		}
		if err := writeUvarint(f, off.offset); err != nil {
			return err
		}
		if err := writeUvarint(f, off.length); err != nil {
			return err
		}
	}
	var trailer [16]byte
	copy(trailer[:8], footerMagic[:])
	binary.BigEndian.PutUint64(trailer[8:], indexStart)
	_, err = f.Write(trailer[:])
	return err
}

func readFooter(data []byte) (map[cid.Cid]archiveOffset, []cid.Cid, int, bool) {
	if len(data) < 16 {
		return nil, nil, 0, false
	}
	trailer := data[len(data)-16:]
	if string(trailer[:8]) != string(footerMagic[:]) {
		return nil, nil, 0, false
	}
	indexStart := binary.BigEndian.Uint64(trailer[8:])
	if indexStart > uint64(len(data)-16) {
		return nil, nil, 0, false
	}

	index := make(map[cid.Cid]archiveOffset)
	buf := data[indexStart : len(data)-16]
	for len(buf) > 0 {
		cidLen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, nil, 0, false
		}
		buf = buf[n:]
		if uint64(len(buf)) < cidLen {
			return nil, nil, 0, false
		}
		c, err := cid.Cast(buf[:cidLen])
		if err != nil {
			return nil, nil, 0, false
		}
		buf = buf[cidLen:]

		off, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, nil, 0, false
		}
		buf = buf[n:]

		length, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, nil, 0, false
		}
		buf = buf[n:]

		index[c] = archiveOffset{offset: off, length: length}
	}
	footerLen := len(data) - int(indexStart)
	return index, nil, footerLen, true
}

func writeUvarint(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func newByteReader(b []byte) io.Reader {
	return &sliceReader{b: b}
}

type sliceReader struct {
	b []byte
	i int
}

func (r *sliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
