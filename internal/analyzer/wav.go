package analyzer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var errNotWav = errors.New("not a RIFF/WAVE file")

// readWav decodes a PCM WAV file into mono samples at the requested rate.
// Multi-channel input is averaged; rate conversion is linear interpolation,
// which is plenty for landmark extraction.
func readWav(path string, targetRate int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errNotWav
	}

	var (
		format     uint16
		channels   uint16
		sampleRate uint32
		bitDepth   uint16
		data       []byte
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(f, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(f, body); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			format = binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitDepth = binary.LittleEndian.Uint16(body[14:16])
		case "data":
			data = make([]byte, size)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, fmt.Errorf("read data chunk: %w", err)
			}
		default:
			// chunks are word aligned
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skip %s chunk: %w", id, err)
			}
		}
		if data != nil && sampleRate != 0 {
			break
		}
	}

	if format != 1 {
		return nil, fmt.Errorf("unsupported WAV format code %d (PCM only)", format)
	}
	if bitDepth != 16 {
		return nil, fmt.Errorf("unsupported WAV bit depth %d (16-bit only)", bitDepth)
	}
	if channels == 0 || sampleRate == 0 || data == nil {
		return nil, errors.New("incomplete WAV file")
	}

	frameCount := len(data) / (2 * int(channels))
	mono := make([]float64, frameCount)
	for i := 0; i < frameCount; i++ {
		var sum float64
		for c := 0; c < int(channels); c++ {
			off := (i*int(channels) + c) * 2
			sum += float64(int16(binary.LittleEndian.Uint16(data[off : off+2])))
		}
		mono[i] = sum / (float64(channels) * 32768.0)
	}

	if int(sampleRate) == targetRate || targetRate <= 0 {
		return mono, nil
	}
	return resample(mono, int(sampleRate), targetRate), nil
}

func resample(in []float64, from, to int) []float64 {
	if len(in) == 0 {
		return nil
	}
	outLen := int(float64(len(in)) * float64(to) / float64(from))
	out := make([]float64, outLen)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j+1 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
