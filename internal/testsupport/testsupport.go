// Package testsupport provides shared fixtures for executor, planner, and
// matcher tests: a deterministic fake analyzer and small file helpers.
package testsupport

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"earmark/internal/landmark"
)

// FakeAnalyzer yields deterministic synthetic records per path without
// touching any audio. Safe for concurrent use, like the real analyzer.
type FakeAnalyzer struct {
	// RecordsPerFile controls how many records each path yields.
	RecordsPerFile int
	// FileDuration is the duration reported per file, in seconds.
	FileDuration float64
	// FailPaths lists paths whose analysis fails.
	FailPaths map[string]bool

	mu    sync.Mutex
	stats landmark.AnalyzerStats
	calls []string
}

// Records derives the synthetic landmark records for a path. Exported so
// tests can assert what ingestion should have stored.
func (f *FakeAnalyzer) Records(path string) []landmark.Record {
	n := f.RecordsPerFile
	if n <= 0 {
		n = 10
	}
	seed := uint32(0)
	for _, c := range path {
		seed = seed*31 + uint32(c)
	}
	recs := make([]landmark.Record, n)
	for i := range recs {
		recs[i] = landmark.Record{
			Time: uint32(i),
			Hash: (seed + uint32(i)*2654435761) & 0xFFFFF,
		}
	}
	return recs
}

func (f *FakeAnalyzer) analyze(ctx context.Context, path string) ([]landmark.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.FailPaths[path] {
		return nil, errors.New("synthetic analysis failure: " + path)
	}
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.stats.FileCount++
	f.stats.LastDuration = f.FileDuration
	f.stats.TotalDuration += f.FileDuration
	f.mu.Unlock()
	return f.Records(path), nil
}

func (f *FakeAnalyzer) Hashes(ctx context.Context, path string) ([]landmark.Record, float64, error) {
	recs, err := f.analyze(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	return recs, f.FileDuration, nil
}

func (f *FakeAnalyzer) Peaks(ctx context.Context, path string) ([]landmark.Peak, float64, error) {
	recs, err := f.analyze(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	peaks := make([]landmark.Peak, len(recs))
	for i, rec := range recs {
		peaks[i] = landmark.Peak{Time: rec.Time, Bin: uint16(rec.Hash & 0xFF)}
	}
	return peaks, f.FileDuration, nil
}

func (f *FakeAnalyzer) Ingest(ctx context.Context, dst landmark.Storer, path string) (float64, int, error) {
	recs, err := f.analyze(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	if err := dst.Store(path, recs); err != nil {
		return 0, 0, err
	}
	return f.FileDuration, len(recs), nil
}

func (f *FakeAnalyzer) Stats() landmark.AnalyzerStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Calls returns the analyzed paths in call order.
func (f *FakeAnalyzer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

var _ landmark.Analyzer = (*FakeAnalyzer)(nil)

// WriteListFile writes one entry per line and returns the list path.
func WriteListFile(t testing.TB, dir string, entries ...string) string {
	t.Helper()
	path := filepath.Join(dir, "filelist.txt")
	if err := os.WriteFile(path, []byte(strings.Join(entries, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write list file: %v", err)
	}
	return path
}
