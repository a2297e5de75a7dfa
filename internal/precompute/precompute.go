// Package precompute caches per-file analysis artifacts so later runs can
// skip the signal path entirely.
//
// Output naming is canonical: the configured prefix is stripped, relative
// path segments ("." / "..") and empty components are dropped, and the input
// extension is replaced with the artifact kind's fixed extension. With
// skip-existing enabled a second run over the same inputs performs zero
// analysis, which is what makes large precompute batches resumable.
package precompute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"earmark/internal/analyzer"
	"earmark/internal/landmark"
)

// Writer converts one input file into its cached artifact.
type Writer struct {
	Analyzer     landmark.Analyzer
	OutDir       string
	Kind         landmark.ArtifactKind
	SkipExisting bool
	StripPrefix  string
}

// OutputPath derives the canonical artifact path for an input file.
func (w *Writer) OutputPath(path string) string {
	tail := path
	if w.StripPrefix != "" && strings.HasPrefix(tail, w.StripPrefix) {
		tail = tail[len(w.StripPrefix):]
	}

	parts := strings.Split(filepath.ToSlash(tail), "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	rel := strings.Join(kept, "/")
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + w.Kind.Ext()
	return filepath.Join(w.OutDir, filepath.FromSlash(rel))
}

// Process analyzes one file and writes its artifact, returning the outcome
// message. Empty analysis output is reported, not written, and never fails
// the run.
func (w *Writer) Process(ctx context.Context, path string) (string, error) {
	outPath := w.OutputPath(path)

	if w.SkipExisting {
		if info, err := os.Stat(outPath); err == nil && !info.IsDir() {
			return fmt.Sprintf("file %s exists (and --skip-existing); skipping", outPath), nil
		}
	}

	var count int
	var dur float64
	var save func() error
	if w.Kind == landmark.ArtifactPeaks {
		peaks, d, err := w.Analyzer.Peaks(ctx, path)
		if err != nil {
			return "", err
		}
		count, dur = len(peaks), d
		save = func() error { return analyzer.SavePeaks(outPath, peaks) }
	} else {
		recs, d, err := w.Analyzer.Hashes(ctx, path)
		if err != nil {
			return "", err
		}
		count, dur = len(recs), d
		save = func() error { return analyzer.SaveHashes(outPath, recs) }
	}

	if count == 0 {
		return fmt.Sprintf("zero-length analysis for %s -- not saving", path), nil
	}

	if err := ensureDir(filepath.Dir(outPath)); err != nil {
		return "", err
	}
	if err := save(); err != nil {
		return "", err
	}

	return fmt.Sprintf("wrote %s (%d %s, %.3f sec)", outPath, count, w.Kind, dur), nil
}

// ensureDir tolerates the mkdir race between concurrent workers writing into
// the same output subtree.
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	err := os.MkdirAll(dir, 0o755)
	if err == nil || errors.Is(err, os.ErrExist) {
		return nil
	}
	return fmt.Errorf("ensure artifact directory: %w", err)
}
