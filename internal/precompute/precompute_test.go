package precompute_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"earmark/internal/analyzer"
	"earmark/internal/landmark"
	"earmark/internal/precompute"
	"earmark/internal/testsupport"
)

func TestOutputPathCanonicalization(t *testing.T) {
	w := &precompute.Writer{
		OutDir:      "/cache",
		Kind:        landmark.ArtifactHashes,
		StripPrefix: "/music/",
	}
	cases := []struct {
		in   string
		want string
	}{
		{"/music/album/track.wav", "/cache/album/track" + landmark.ArtifactHashes.Ext()},
		{"/music/./a/../b/track.wav", "/cache/a/b/track" + landmark.ArtifactHashes.Ext()},
		{"other/track.wav", "/cache/other/track" + landmark.ArtifactHashes.Ext()},
	}
	for _, tc := range cases {
		if got := w.OutputPath(tc.in); got != tc.want {
			t.Fatalf("OutputPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProcessWritesArtifact(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "cache")
	a := &testsupport.FakeAnalyzer{RecordsPerFile: 12, FileDuration: 3}
	w := &precompute.Writer{Analyzer: a, OutDir: outDir, Kind: landmark.ArtifactHashes}

	msg, err := w.Process(context.Background(), "song.wav")
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !strings.HasPrefix(msg, "wrote ") {
		t.Fatalf("unexpected message: %q", msg)
	}

	outPath := w.OutputPath("song.wav")
	recs, err := analyzer.LoadHashes(outPath)
	if err != nil {
		t.Fatalf("LoadHashes returned error: %v", err)
	}
	if len(recs) != 12 {
		t.Fatalf("artifact holds %d records, want 12", len(recs))
	}
}

func TestSkipExistingPerformsNoAnalysis(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "cache")
	a := &testsupport.FakeAnalyzer{RecordsPerFile: 12, FileDuration: 3}
	w := &precompute.Writer{Analyzer: a, OutDir: outDir, Kind: landmark.ArtifactHashes, SkipExisting: true}

	if _, err := w.Process(context.Background(), "song.wav"); err != nil {
		t.Fatalf("first Process returned error: %v", err)
	}
	firstData, err := os.ReadFile(w.OutputPath("song.wav"))
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}

	msg, err := w.Process(context.Background(), "song.wav")
	if err != nil {
		t.Fatalf("second Process returned error: %v", err)
	}
	if !strings.Contains(msg, "skipping") {
		t.Fatalf("expected skip message, got %q", msg)
	}
	if got := len(a.Calls()); got != 1 {
		t.Fatalf("second run must not analyze, saw %d analysis calls", got)
	}

	secondData, err := os.ReadFile(w.OutputPath("song.wav"))
	if err != nil {
		t.Fatalf("re-read artifact: %v", err)
	}
	if string(firstData) != string(secondData) {
		t.Fatal("artifact changed across an idempotent rerun")
	}
}

func TestZeroLengthAnalysisWritesNothing(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "cache")
	a := &testsupport.FakeAnalyzer{FileDuration: 0}
	w := &precompute.Writer{Analyzer: emptyAnalyzer{a}, OutDir: outDir, Kind: landmark.ArtifactHashes}

	msg, err := w.Process(context.Background(), "silence.wav")
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !strings.Contains(msg, "zero-length") {
		t.Fatalf("expected zero-length message, got %q", msg)
	}
	if _, err := os.Stat(w.OutputPath("silence.wav")); !os.IsNotExist(err) {
		t.Fatal("zero-length analysis must not write an artifact")
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Fatal("zero-length analysis must not create the output directory")
	}
}

func TestPeaksArtifactKind(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "cache")
	a := &testsupport.FakeAnalyzer{RecordsPerFile: 8, FileDuration: 2}
	w := &precompute.Writer{Analyzer: a, OutDir: outDir, Kind: landmark.ArtifactPeaks}

	if _, err := w.Process(context.Background(), "song.wav"); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	peaks, err := analyzer.LoadPeaks(w.OutputPath("song.wav"))
	if err != nil {
		t.Fatalf("LoadPeaks returned error: %v", err)
	}
	if len(peaks) != 8 {
		t.Fatalf("artifact holds %d peaks, want 8", len(peaks))
	}
}

// crosstalkAnalyzer lets another file's analysis land on the shared analyzer
// before a result is reported, the interleaving parallel precompute produces.
type crosstalkAnalyzer struct{ *testsupport.FakeAnalyzer }

func (c crosstalkAnalyzer) Hashes(ctx context.Context, path string) ([]landmark.Record, float64, error) {
	recs, dur, err := c.FakeAnalyzer.Hashes(ctx, path)
	c.FakeAnalyzer.FileDuration = 99
	if _, _, oerr := c.FakeAnalyzer.Hashes(ctx, "other.wav"); oerr != nil {
		return nil, 0, oerr
	}
	return recs, dur, err
}

func TestProcessReportsOwnFileDuration(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "cache")
	a := &testsupport.FakeAnalyzer{RecordsPerFile: 12, FileDuration: 3}
	w := &precompute.Writer{Analyzer: crosstalkAnalyzer{a}, OutDir: outDir, Kind: landmark.ArtifactHashes}

	msg, err := w.Process(context.Background(), "song.wav")
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if !strings.Contains(msg, "3.000 sec") {
		t.Fatalf("message should carry song.wav's duration, got %q", msg)
	}
}

type emptyAnalyzer struct{ *testsupport.FakeAnalyzer }

func (emptyAnalyzer) Hashes(context.Context, string) ([]landmark.Record, float64, error) {
	return nil, 0, nil
}

func (emptyAnalyzer) Peaks(context.Context, string) ([]landmark.Peak, float64, error) {
	return nil, 0, nil
}
