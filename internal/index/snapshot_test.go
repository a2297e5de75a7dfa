package index_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"earmark/internal/index"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fprints.emk")

	tab := index.New(20, 100, 14)
	tab.SetSampleRate(11025)
	if err := tab.Store("one.wav", syntheticRecords(1, 40)); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if err := tab.Store("two.wav", syntheticRecords(2, 60)); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}

	if err := tab.Save(path); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if tab.Dirty() {
		t.Fatal("save must clear dirty flag")
	}

	loaded, err := index.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Dirty() {
		t.Fatal("loaded table must start clean")
	}
	if loaded.SampleRate() != 11025 {
		t.Fatalf("sample rate lost in round trip: %d", loaded.SampleRate())
	}
	if loaded.NumNames() != 2 {
		t.Fatalf("unexpected name count: %d", loaded.NumNames())
	}
	if loaded.TotalHashes() != tab.TotalHashes() {
		t.Fatalf("hash counts diverge: %d vs %d", loaded.TotalHashes(), tab.TotalHashes())
	}
	if loaded.HashBits() != 20 || loaded.Depth() != 100 || loaded.MaxTimeBits() != 14 {
		t.Fatal("geometry lost in round trip")
	}
}

func TestSaveIsByteIdenticalForIdenticalIngest(t *testing.T) {
	dir := t.TempDir()

	build := func(path string) []byte {
		tab := index.New(20, 100, 14)
		tab.SetSampleRate(11025)
		for i := 0; i < 5; i++ {
			if err := tab.Store("f"+string(rune('a'+i)), syntheticRecords(i, 25)); err != nil {
				t.Fatalf("Store returned error: %v", err)
			}
		}
		if err := tab.Save(path); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		return data
	}

	first := build(filepath.Join(dir, "a.emk"))
	second := build(filepath.Join(dir, "b.emk"))
	if !bytes.Equal(first, second) {
		t.Fatal("identical ingest order must produce byte-identical snapshots")
	}
}

func TestLoadRejectsCorruptBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fprints.emk")

	tab := index.New(20, 100, 14)
	if err := tab.Store("one.wav", syntheticRecords(1, 40)); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if err := tab.Save(path); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write corrupt snapshot: %v", err)
	}

	if _, err := index.Load(path); !errors.Is(err, index.ErrChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

// The header's body length sizes an allocation, so a corrupt or hostile
// header must be rejected against the real file size instead of trusted.
func TestLoadRejectsOverstatedBodyLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fprints.emk")

	tab := index.New(20, 100, 14)
	if err := tab.Store("one.wav", syntheticRecords(1, 40)); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if err := tab.Save(path); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	// BodyLen sits after five uint32 geometry fields and the int32 rate.
	inflated := make([]byte, len(data))
	copy(inflated, data)
	binary.LittleEndian.PutUint64(inflated[24:32], 1<<40)
	if err := os.WriteFile(path, inflated, 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, err := index.Load(path); !errors.Is(err, index.ErrBodyLength) {
		t.Fatalf("expected body length error for inflated header, got %v", err)
	}

	if err := os.WriteFile(path, data[:len(data)-4], 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if _, err := index.Load(path); !errors.Is(err, index.ErrBodyLength) {
		t.Fatalf("expected body length error for truncated file, got %v", err)
	}
}

// A body that passes the checksum can still lie about record sizes inside
// the compressed stream.
func TestLoadRejectsOverstatedNameLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fprints.emk")

	var raw bytes.Buffer
	binary.Write(&raw, binary.LittleEndian, uint32(1))          // name count
	binary.Write(&raw, binary.LittleEndian, uint32(0xFFFFFFFF)) // name length

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		t.Fatalf("init encoder: %v", err)
	}
	body := enc.EncodeAll(raw.Bytes(), nil)
	enc.Close()

	var buf bytes.Buffer
	for _, field := range []uint32{0x454D4B46, 1, 20, 100, 14, 0} {
		binary.Write(&buf, binary.LittleEndian, field)
	}
	binary.Write(&buf, binary.LittleEndian, uint64(len(body)))
	binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(body))
	buf.Write(body)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	if _, err := index.Load(path); !errors.Is(err, index.ErrBodyLength) {
		t.Fatalf("expected body length error, got %v", err)
	}
}

func TestLoadRejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-an-index")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 64), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := index.Load(path); !errors.Is(err, index.ErrInvalidMagic) {
		t.Fatalf("expected magic error, got %v", err)
	}
}

func TestRemovedNamesDoNotSurviveSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fprints.emk")

	tab := index.New(20, 100, 14)
	if err := tab.Store("keep.wav", syntheticRecords(1, 30)); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if err := tab.Store("drop.wav", syntheticRecords(2, 30)); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	tab.Remove("drop.wav")
	if err := tab.Save(path); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, err := index.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.NumNames() != 1 {
		t.Fatalf("expected one surviving name, got %d", loaded.NumNames())
	}
	loaded.Names(func(name string, _ uint64) {
		if name != "keep.wav" {
			t.Fatalf("unexpected surviving name %q", name)
		}
	})
}
