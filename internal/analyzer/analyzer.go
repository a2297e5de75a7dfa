package analyzer

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"earmark/internal/landmark"
	"earmark/internal/logging"
)

// Hash packing layout: 8 bits anchor frequency, 6 bits signed frequency
// delta, 6 bits time delta = 20-bit hashes.
const (
	freqBits  = 8
	dfBits    = 6
	dtBits    = 6
	maxPairDT = 1<<dtBits - 1
	dfBias    = 1 << (dfBits - 1)
)

// Analyzer is the concrete landmark.Analyzer. Safe for use by concurrent
// workers.
type Analyzer struct {
	params landmark.AnalyzerParams
	logger *slog.Logger

	mu    sync.Mutex
	stats landmark.AnalyzerStats
}

// New constructs an analyzer. Callers resolve the shift default (0 means
// command-dependent) before constructing.
func New(params landmark.AnalyzerParams, logger *slog.Logger) *Analyzer {
	if params.Shifts <= 0 {
		params.Shifts = 1
	}
	return &Analyzer{
		params: params,
		logger: logging.NewComponentLogger(logger, "analyzer"),
	}
}

// Params exposes the effective analyzer configuration.
func (a *Analyzer) Params() landmark.AnalyzerParams { return a.params }

// SetSampleRate overrides the target rate, used when a loaded index was built
// at a different rate than configured.
func (a *Analyzer) SetSampleRate(rate int) { a.params.SampleRate = rate }

func (a *Analyzer) Stats() landmark.AnalyzerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Analyzer) addDuration(dur float64) {
	a.mu.Lock()
	a.stats.FileCount++
	a.stats.LastDuration = dur
	a.stats.TotalDuration += dur
	a.mu.Unlock()
}

func (a *Analyzer) Hashes(ctx context.Context, path string) ([]landmark.Record, float64, error) {
	return a.analyze(ctx, path)
}

func (a *Analyzer) Peaks(ctx context.Context, path string) ([]landmark.Peak, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if strings.HasSuffix(path, landmark.ArtifactPeaks.Ext()) {
		peaks, err := LoadPeaks(path)
		if err != nil {
			return nil, 0, a.swallow(path, err)
		}
		dur := peakDuration(peaks, a.params.SampleRate)
		a.addDuration(dur)
		return peaks, dur, nil
	}
	samples, err := readWav(path, a.params.SampleRate)
	if err != nil {
		return nil, 0, a.swallow(path, err)
	}
	dur := float64(len(samples)) / float64(a.params.SampleRate)
	a.addDuration(dur)
	return a.pickPeaks(spectrogram(samples, 0)), dur, nil
}

func (a *Analyzer) Ingest(ctx context.Context, dst landmark.Storer, path string) (float64, int, error) {
	recs, dur, err := a.analyze(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	if err := dst.Store(path, recs); err != nil {
		return dur, 0, err
	}
	return dur, len(recs), nil
}

func (a *Analyzer) analyze(ctx context.Context, path string) ([]landmark.Record, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	switch {
	case strings.HasSuffix(path, landmark.ArtifactHashes.Ext()):
		recs, err := LoadHashes(path)
		if err != nil {
			return nil, 0, a.swallow(path, err)
		}
		dur := recordDuration(recs, a.params.SampleRate)
		a.addDuration(dur)
		return recs, dur, nil
	case strings.HasSuffix(path, landmark.ArtifactPeaks.Ext()):
		peaks, err := LoadPeaks(path)
		if err != nil {
			return nil, 0, a.swallow(path, err)
		}
		dur := peakDuration(peaks, a.params.SampleRate)
		a.addDuration(dur)
		return a.pairPeaks(peaks), dur, nil
	}

	samples, err := readWav(path, a.params.SampleRate)
	if err != nil {
		return nil, 0, a.swallow(path, err)
	}
	dur := float64(len(samples)) / float64(a.params.SampleRate)
	a.addDuration(dur)

	var recs []landmark.Record
	for shift := 0; shift < a.params.Shifts; shift++ {
		offset := shift * nHop / a.params.Shifts
		peaks := a.pickPeaks(spectrogram(samples, offset))
		recs = append(recs, a.pairPeaks(peaks)...)
	}
	return dedupe(recs), dur, nil
}

// swallow converts per-file failures into empty results when the analyzer is
// configured to continue on error.
func (a *Analyzer) swallow(path string, err error) error {
	if a.params.FailOnError {
		return err
	}
	a.logger.Warn("analysis failed; continuing",
		logging.String(logging.FieldFile, path),
		logging.Error(err))
	return nil
}

// pickPeaks selects up to PeaksPerFrame prominent bins per frame. A decaying
// spectral envelope suppresses repeats of sustained tones; the density knob
// sets how fast the envelope forgets.
func (a *Analyzer) pickPeaks(frames [][]float64) []landmark.Peak {
	if len(frames) == 0 {
		return nil
	}
	nBins := len(frames[0])
	envelope := make([]float64, nBins)
	sigma2 := 2 * a.params.FreqSD * a.params.FreqSD
	decay := math.Exp(-1.0 / math.Max(a.params.Density, 1))

	var peaks []landmark.Peak
	for t, mags := range frames {
		for i := range envelope {
			envelope[i] *= decay
		}
		for picked := 0; picked < a.params.PeaksPerFrame; picked++ {
			best := -1
			bestMag := 0.0
			for bin, mag := range mags {
				if mag > envelope[bin] && mag > bestMag {
					best = bin
					bestMag = mag
				}
			}
			if best < 0 {
				break
			}
			peaks = append(peaks, landmark.Peak{Time: uint32(t), Bin: uint16(best)})
			for bin := range envelope {
				d := float64(bin - best)
				spread := bestMag * math.Exp(-d*d/sigma2)
				if spread > envelope[bin] {
					envelope[bin] = spread
				}
			}
		}
	}
	return peaks
}

// pairPeaks combines each anchor peak with up to Fanout later peaks inside
// the pairing window into packed hash records.
func (a *Analyzer) pairPeaks(peaks []landmark.Peak) []landmark.Record {
	var recs []landmark.Record
	for i, anchor := range peaks {
		paired := 0
		for _, target := range peaks[i+1:] {
			dt := int(target.Time) - int(anchor.Time)
			if dt < 1 {
				continue
			}
			if dt > maxPairDT {
				break
			}
			df := int(target.Bin) - int(anchor.Bin) + dfBias
			if df < 0 || df >= 1<<dfBits {
				continue
			}
			hash := (uint32(anchor.Bin)&(1<<freqBits-1))<<(dfBits+dtBits) |
				uint32(df)<<dtBits |
				uint32(dt)
			recs = append(recs, landmark.Record{Time: anchor.Time, Hash: hash})
			paired++
			if paired >= a.params.Fanout {
				break
			}
		}
	}
	return recs
}

func dedupe(recs []landmark.Record) []landmark.Record {
	if len(recs) < 2 {
		return recs
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Time != recs[j].Time {
			return recs[i].Time < recs[j].Time
		}
		return recs[i].Hash < recs[j].Hash
	})
	out := recs[:1]
	for _, rec := range recs[1:] {
		last := out[len(out)-1]
		if rec != last {
			out = append(out, rec)
		}
	}
	return out
}

func recordDuration(recs []landmark.Record, rate int) float64 {
	var maxTime uint32
	for _, rec := range recs {
		if rec.Time > maxTime {
			maxTime = rec.Time
		}
	}
	return float64(maxTime) * float64(nHop) / float64(rate)
}

func peakDuration(peaks []landmark.Peak, rate int) float64 {
	var maxTime uint32
	for _, p := range peaks {
		if p.Time > maxTime {
			maxTime = p.Time
		}
	}
	return float64(maxTime) * float64(nHop) / float64(rate)
}
