package analyzer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"earmark/internal/landmark"
)

// Artifact files cache one file's analysis output so later runs can skip the
// signal path. Same header + zstd + CRC32 family as index snapshots.
const (
	artifactMagic   = 0x454D4B41 // "EMKA"
	artifactVersion = 1
)

var (
	ErrArtifactMagic   = errors.New("invalid artifact file magic")
	ErrArtifactVersion = errors.New("unsupported artifact file version")
	ErrArtifactKind    = errors.New("artifact kind mismatch")
	ErrArtifactCRC     = errors.New("artifact checksum mismatch")
	ErrArtifactLength  = errors.New("artifact body length mismatch")
)

type artifactHeader struct {
	Magic    uint32
	Version  uint32
	Kind     uint32
	Count    uint32
	BodyLen  uint64
	Checksum uint32
}

// SaveHashes writes hash records as a hashes artifact.
func SaveHashes(path string, recs []landmark.Record) error {
	raw := make([]byte, 0, len(recs)*8)
	var b [8]byte
	for _, rec := range recs {
		binary.LittleEndian.PutUint32(b[0:4], rec.Time)
		binary.LittleEndian.PutUint32(b[4:8], rec.Hash)
		raw = append(raw, b[:]...)
	}
	return writeArtifact(path, landmark.ArtifactHashes, uint32(len(recs)), raw)
}

// SavePeaks writes spectral peaks as a peaks artifact.
func SavePeaks(path string, peaks []landmark.Peak) error {
	raw := make([]byte, 0, len(peaks)*6)
	var b [6]byte
	for _, p := range peaks {
		binary.LittleEndian.PutUint32(b[0:4], p.Time)
		binary.LittleEndian.PutUint16(b[4:6], p.Bin)
		raw = append(raw, b[:]...)
	}
	return writeArtifact(path, landmark.ArtifactPeaks, uint32(len(peaks)), raw)
}

// LoadHashes reads a hashes artifact.
func LoadHashes(path string) ([]landmark.Record, error) {
	count, raw, err := readArtifact(path, landmark.ArtifactHashes)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)) < uint64(count)*8 {
		return nil, fmt.Errorf("artifact %s: truncated hash payload", path)
	}
	recs := make([]landmark.Record, count)
	for i := range recs {
		off := i * 8
		recs[i] = landmark.Record{
			Time: binary.LittleEndian.Uint32(raw[off : off+4]),
			Hash: binary.LittleEndian.Uint32(raw[off+4 : off+8]),
		}
	}
	return recs, nil
}

// LoadPeaks reads a peaks artifact.
func LoadPeaks(path string) ([]landmark.Peak, error) {
	count, raw, err := readArtifact(path, landmark.ArtifactPeaks)
	if err != nil {
		return nil, err
	}
	if uint64(len(raw)) < uint64(count)*6 {
		return nil, fmt.Errorf("artifact %s: truncated peak payload", path)
	}
	peaks := make([]landmark.Peak, count)
	for i := range peaks {
		off := i * 6
		peaks[i] = landmark.Peak{
			Time: binary.LittleEndian.Uint32(raw[off : off+4]),
			Bin:  binary.LittleEndian.Uint16(raw[off+4 : off+6]),
		}
	}
	return peaks, nil
}

func writeArtifact(path string, kind landmark.ArtifactKind, count uint32, raw []byte) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("init zstd encoder: %w", err)
	}
	defer enc.Close()
	body := enc.EncodeAll(raw, nil)

	header := artifactHeader{
		Magic:    artifactMagic,
		Version:  artifactVersion,
		Kind:     uint32(kind),
		Count:    count,
		BodyLen:  uint64(len(body)),
		Checksum: crc32.ChecksumIEEE(body),
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("encode artifact header: %w", err)
	}
	buf.Write(body)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func readArtifact(path string, kind landmark.ArtifactKind) (uint32, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	var header artifactHeader
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return 0, nil, fmt.Errorf("read artifact header: %w", err)
	}
	if header.Magic != artifactMagic {
		return 0, nil, fmt.Errorf("%w: %#x", ErrArtifactMagic, header.Magic)
	}
	if header.Version != artifactVersion {
		return 0, nil, fmt.Errorf("%w: %d", ErrArtifactVersion, header.Version)
	}
	if header.Kind != uint32(kind) {
		return 0, nil, fmt.Errorf("%w: have %d, want %d", ErrArtifactKind, header.Kind, kind)
	}

	// Bound the body allocation by the actual file size, not the header's
	// claim.
	info, err := f.Stat()
	if err != nil {
		return 0, nil, fmt.Errorf("stat artifact: %w", err)
	}
	rest := info.Size() - int64(binary.Size(header))
	if rest < 0 || header.BodyLen != uint64(rest) {
		return 0, nil, fmt.Errorf("%w: header declares %d bytes, file carries %d",
			ErrArtifactLength, header.BodyLen, rest)
	}

	body := make([]byte, header.BodyLen)
	if _, err := io.ReadFull(f, body); err != nil {
		return 0, nil, fmt.Errorf("read artifact body: %w", err)
	}
	if crc32.ChecksumIEEE(body) != header.Checksum {
		return 0, nil, ErrArtifactCRC
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(body, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("decompress artifact: %w", err)
	}
	return header.Count, raw, nil
}
