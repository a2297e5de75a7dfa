package index

import (
	"errors"
	"fmt"
	"sort"

	"earmark/internal/landmark"
)

// ErrSampleRateMismatch marks a merge between indexes built at different
// sample rates.
var ErrSampleRateMismatch = errors.New("sample rate mismatch")

// Hit is one stored occurrence of a landmark hash.
type Hit struct {
	ID   uint32
	Time uint32
}

// Table is an in-memory fingerprint index. It is not safe for concurrent
// mutation; the executors guarantee single-owner access.
type Table struct {
	hashBits    uint
	depth       int
	maxTimeBits uint
	sampleRate  int // 0 until stamped or adopted

	names   []string       // id -> name; removed slots become ""
	ids     map[string]int // name -> id
	counts  []uint64       // id -> hashes ever stored for that id
	buckets map[uint32][]Hit
	stored  map[uint32]uint64 // per-bucket insertion counter for ring overwrite

	dirty bool
}

// New creates an empty table with the given geometry. maxTimeBits bounds the
// stored time offsets; times wrap modulo 1<<maxTimeBits.
func New(hashBits uint, depth int, maxTimeBits uint) *Table {
	return &Table{
		hashBits:    hashBits,
		depth:       depth,
		maxTimeBits: maxTimeBits,
		ids:         make(map[string]int),
		buckets:     make(map[uint32][]Hit),
		stored:      make(map[uint32]uint64),
	}
}

// BitsForTime returns the number of bits needed to represent values below
// maxTime (16384 -> 14).
func BitsForTime(maxTime int) uint {
	bits := uint(0)
	for v := maxTime - 1; v > 0; v >>= 1 {
		bits++
	}
	if bits == 0 {
		bits = 1
	}
	return bits
}

func (t *Table) HashBits() uint    { return t.hashBits }
func (t *Table) Depth() int        { return t.depth }
func (t *Table) MaxTimeBits() uint { return t.maxTimeBits }
func (t *Table) SampleRate() int   { return t.sampleRate }
func (t *Table) Dirty() bool       { return t.dirty }

// SetSampleRate stamps the rate an analyzer produced this index at. Stamping
// alone does not dirty the table; an empty index is never worth persisting.
func (t *Table) SetSampleRate(rate int) { t.sampleRate = rate }

func (t *Table) hashMask() uint32 { return uint32(1)<<t.hashBits - 1 }
func (t *Table) timeMask() uint32 { return uint32(1)<<t.maxTimeBits - 1 }

func (t *Table) idFor(name string) uint32 {
	if id, ok := t.ids[name]; ok {
		return uint32(id)
	}
	id := len(t.names)
	t.names = append(t.names, name)
	t.counts = append(t.counts, 0)
	t.ids[name] = id
	return uint32(id)
}

// Store records every hash under the given file name. Buckets past depth
// overwrite the oldest entry in ring order, which keeps insertion
// deterministic for a deterministic input order.
func (t *Table) Store(name string, recs []landmark.Record) error {
	id := t.idFor(name)
	for _, rec := range recs {
		hash := rec.Hash & t.hashMask()
		hit := Hit{ID: id, Time: rec.Time & t.timeMask()}
		bucket := t.buckets[hash]
		if len(bucket) < t.depth {
			t.buckets[hash] = append(bucket, hit)
		} else {
			bucket[t.stored[hash]%uint64(t.depth)] = hit
		}
		t.stored[hash]++
	}
	t.counts[id] += uint64(len(recs))
	if len(recs) > 0 {
		t.dirty = true
	}
	return nil
}

// Merge folds another table into this one. If the receiver has no sample rate
// it adopts the other's; once set, a differing incoming rate is a hard
// consistency error. Other geometry differences are not checked. The table
// dirties only when the incoming table contributes stored hashes; adopting
// names alone does not.
func (t *Table) Merge(other *Table) error {
	if other == nil {
		return nil
	}
	if other.sampleRate != 0 {
		if t.sampleRate == 0 {
			t.sampleRate = other.sampleRate
		} else if t.sampleRate != other.sampleRate {
			return fmt.Errorf("%w: index has %d, incoming has %d",
				ErrSampleRateMismatch, t.sampleRate, other.sampleRate)
		}
	}

	var added uint64
	remap := make([]uint32, len(other.names))
	for otherID, name := range other.names {
		if name == "" {
			continue
		}
		id := t.idFor(name)
		remap[otherID] = id
		t.counts[id] += other.counts[otherID]
		added += other.counts[otherID]
	}

	for _, hash := range other.sortedHashes() {
		for _, hit := range other.buckets[hash] {
			if other.names[hit.ID] == "" {
				continue
			}
			mapped := Hit{ID: remap[hit.ID], Time: hit.Time & t.timeMask()}
			bucket := t.buckets[hash]
			if len(bucket) < t.depth {
				t.buckets[hash] = append(bucket, mapped)
			} else {
				bucket[t.stored[hash]%uint64(t.depth)] = mapped
			}
			t.stored[hash]++
		}
	}

	if added > 0 {
		t.dirty = true
	}
	return nil
}

// Remove drops every occurrence of the named file. Removing an unknown name
// is a no-op and leaves the dirty flag untouched.
func (t *Table) Remove(name string) bool {
	id, ok := t.ids[name]
	if !ok {
		return false
	}
	for hash, bucket := range t.buckets {
		kept := bucket[:0]
		for _, hit := range bucket {
			if hit.ID != uint32(id) {
				kept = append(kept, hit)
			}
		}
		if len(kept) == 0 {
			delete(t.buckets, hash)
			delete(t.stored, hash)
		} else if len(kept) != len(bucket) {
			t.buckets[hash] = kept
		}
	}
	t.names[id] = ""
	t.counts[id] = 0
	delete(t.ids, name)
	t.dirty = true
	return true
}

// Hits returns the stored occurrences for one hash. The returned slice is
// owned by the table and must not be mutated.
func (t *Table) Hits(hash uint32) []Hit {
	return t.buckets[hash&t.hashMask()]
}

// NameOf resolves a file id back to its name; removed slots yield "".
func (t *Table) NameOf(id uint32) string {
	if int(id) >= len(t.names) {
		return ""
	}
	return t.names[id]
}

// CountOf reports how many hashes were stored for a file id.
func (t *Table) CountOf(id uint32) uint64 {
	if int(id) >= len(t.counts) {
		return 0
	}
	return t.counts[id]
}

// Names calls fn for every stored file name in id order.
func (t *Table) Names(fn func(name string, hashes uint64)) {
	for id, name := range t.names {
		if name == "" {
			continue
		}
		fn(name, t.counts[id])
	}
}

// NumNames reports how many live file names the table holds.
func (t *Table) NumNames() int {
	return len(t.ids)
}

// TotalHashes sums the stored hash counts across all live names.
func (t *Table) TotalHashes() uint64 {
	var total uint64
	for id, name := range t.names {
		if name == "" {
			continue
		}
		total += t.counts[id]
	}
	return total
}

func (t *Table) sortedHashes() []uint32 {
	hashes := make([]uint32, 0, len(t.buckets))
	for hash := range t.buckets {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	return hashes
}
