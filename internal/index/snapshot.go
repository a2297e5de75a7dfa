package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/klauspost/compress/zstd"
)

const (
	// snapshotMagic identifies earmark index files (ASCII "EMKF").
	snapshotMagic = 0x454D4B46
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1
)

var (
	ErrInvalidMagic   = errors.New("invalid index file magic")
	ErrInvalidVersion = errors.New("unsupported index file version")
	ErrChecksum       = errors.New("index file checksum mismatch")
	ErrBodyLength     = errors.New("index body length mismatch")
)

// snapshotHeader is the fixed-size uncompressed prefix of every index file.
// The body that follows is a zstd frame covered by the CRC32 field.
type snapshotHeader struct {
	Magic       uint32
	Version     uint32
	HashBits    uint32
	Depth       uint32
	MaxTimeBits uint32
	SampleRate  int32
	BodyLen     uint64
	Checksum    uint32
}

// Save writes the table to path atomically, holding an advisory lock so
// concurrent runs against the same index serialize their writes. A successful
// save clears the dirty flag.
func (t *Table) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure index directory: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	defer lock.Unlock()

	body, err := t.encodeBody()
	if err != nil {
		return err
	}

	header := snapshotHeader{
		Magic:       snapshotMagic,
		Version:     snapshotVersion,
		HashBits:    uint32(t.hashBits),
		Depth:       uint32(t.depth),
		MaxTimeBits: uint32(t.maxTimeBits),
		SampleRate:  int32(t.sampleRate),
		BodyLen:     uint64(len(body)),
		Checksum:    crc32.ChecksumIEEE(body),
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := binary.Write(tmp, binary.LittleEndian, header); err != nil {
		tmp.Close()
		return fmt.Errorf("write index header: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write index body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}

	t.dirty = false
	return nil
}

// Load reads a table previously written by Save.
func Load(path string) (*Table, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	var header snapshotHeader
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if header.Magic != snapshotMagic {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidMagic, header.Magic)
	}
	if header.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, header.Version)
	}

	// The declared body length sizes an allocation, so check it against the
	// actual file size before trusting it.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index file: %w", err)
	}
	rest := info.Size() - int64(binary.Size(header))
	if rest < 0 || header.BodyLen != uint64(rest) {
		return nil, fmt.Errorf("%w: header declares %d bytes, file carries %d",
			ErrBodyLength, header.BodyLen, rest)
	}

	body := make([]byte, header.BodyLen)
	if _, err := io.ReadFull(f, body); err != nil {
		return nil, fmt.Errorf("read index body: %w", err)
	}
	if crc32.ChecksumIEEE(body) != header.Checksum {
		return nil, ErrChecksum
	}

	t := New(uint(header.HashBits), int(header.Depth), uint(header.MaxTimeBits))
	t.sampleRate = int(header.SampleRate)
	if err := t.decodeBody(body); err != nil {
		return nil, err
	}
	return t, nil
}

// encodeBody serializes live names in id order and buckets in ascending hash
// order, then compresses with a single-threaded zstd encoder. Both choices
// keep snapshots byte-identical for identical ingest order.
func (t *Table) encodeBody() ([]byte, error) {
	var raw bytes.Buffer

	remap := make([]uint32, len(t.names))
	live := uint32(0)
	for id, name := range t.names {
		if name == "" {
			continue
		}
		remap[id] = live
		live++
	}

	writeU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		raw.Write(b[:])
	}
	writeU64 := func(v uint64) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		raw.Write(b[:])
	}

	writeU32(live)
	for id, name := range t.names {
		if name == "" {
			continue
		}
		writeU32(uint32(len(name)))
		raw.WriteString(name)
		writeU64(t.counts[id])
	}

	liveCount := func(bucket []Hit) uint32 {
		n := uint32(0)
		for _, hit := range bucket {
			if t.names[hit.ID] != "" {
				n++
			}
		}
		return n
	}

	hashes := t.sortedHashes()
	emitted := uint32(0)
	for _, hash := range hashes {
		if liveCount(t.buckets[hash]) > 0 {
			emitted++
		}
	}
	writeU32(emitted)
	for _, hash := range hashes {
		bucket := t.buckets[hash]
		n := liveCount(bucket)
		if n == 0 {
			continue
		}
		writeU32(hash)
		writeU32(n)
		for _, hit := range bucket {
			if t.names[hit.ID] == "" {
				continue
			}
			writeU32(remap[hit.ID])
			writeU32(hit.Time)
		}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

func (t *Table) decodeBody(body []byte) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return fmt.Errorf("init zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(body, nil)
	if err != nil {
		return fmt.Errorf("decompress index body: %w", err)
	}

	r := bytes.NewReader(raw)
	readU32 := func() (uint32, error) {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(b[:]), nil
	}
	readU64 := func() (uint64, error) {
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	}

	nameCount, err := readU32()
	if err != nil {
		return fmt.Errorf("decode name count: %w", err)
	}
	for i := uint32(0); i < nameCount; i++ {
		nameLen, err := readU32()
		if err != nil {
			return fmt.Errorf("decode name length: %w", err)
		}
		if int64(nameLen) > int64(r.Len()) {
			return fmt.Errorf("%w: name length %d exceeds %d remaining bytes",
				ErrBodyLength, nameLen, r.Len())
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return fmt.Errorf("decode name: %w", err)
		}
		count, err := readU64()
		if err != nil {
			return fmt.Errorf("decode name hash count: %w", err)
		}
		id := t.idFor(string(name))
		t.counts[id] = count
	}

	bucketCount, err := readU32()
	if err != nil {
		return fmt.Errorf("decode bucket count: %w", err)
	}
	for i := uint32(0); i < bucketCount; i++ {
		hash, err := readU32()
		if err != nil {
			return fmt.Errorf("decode bucket hash: %w", err)
		}
		n, err := readU32()
		if err != nil {
			return fmt.Errorf("decode bucket size: %w", err)
		}
		if int64(n) > int64(r.Len())/8 {
			return fmt.Errorf("%w: bucket of %d entries exceeds %d remaining bytes",
				ErrBodyLength, n, r.Len())
		}
		bucket := make([]Hit, 0, n)
		for j := uint32(0); j < n; j++ {
			id, err := readU32()
			if err != nil {
				return fmt.Errorf("decode bucket entry: %w", err)
			}
			time, err := readU32()
			if err != nil {
				return fmt.Errorf("decode bucket entry: %w", err)
			}
			bucket = append(bucket, Hit{ID: id, Time: time})
		}
		t.buckets[hash] = bucket
		t.stored[hash] = uint64(len(bucket))
	}

	t.dirty = false
	return nil
}
