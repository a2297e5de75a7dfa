package exec_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"earmark/internal/exec"
	"earmark/internal/filelist"
	"earmark/internal/index"
	"earmark/internal/landmark"
	"earmark/internal/matcher"
	"earmark/internal/report"
	"earmark/internal/testsupport"
)

func TestParseCommand(t *testing.T) {
	for _, raw := range []string{"new", "add", "precompute", "merge", "newmerge", "match", "list", "remove"} {
		cmd, err := exec.ParseCommand(raw)
		if err != nil {
			t.Fatalf("ParseCommand(%q): %v", raw, err)
		}
		if string(cmd) != raw {
			t.Fatalf("ParseCommand(%q) = %q", raw, cmd)
		}
	}
	if _, err := exec.ParseCommand("frobnicate"); !errors.Is(err, exec.ErrUnrecognizedCommand) {
		t.Fatalf("expected ErrUnrecognizedCommand, got %v", err)
	}
}

func TestCommandEligibility(t *testing.T) {
	tests := []struct {
		cmd      exec.Command
		multi    bool
		index    bool
		analyzer bool
	}{
		{exec.CommandNew, true, true, true},
		{exec.CommandAdd, true, true, true},
		{exec.CommandPrecompute, true, false, true},
		{exec.CommandMerge, false, true, false},
		{exec.CommandNewMerge, false, true, false},
		{exec.CommandMatch, true, true, true},
		{exec.CommandList, false, true, false},
		{exec.CommandRemove, false, true, false},
	}
	for _, tt := range tests {
		if got := tt.cmd.MultiprocessEligible(); got != tt.multi {
			t.Errorf("%s: MultiprocessEligible = %v, want %v", tt.cmd, got, tt.multi)
		}
		if got := tt.cmd.NeedsIndex(); got != tt.index {
			t.Errorf("%s: NeedsIndex = %v, want %v", tt.cmd, got, tt.index)
		}
		if got := tt.cmd.UsesAnalyzer(); got != tt.analyzer {
			t.Errorf("%s: UsesAnalyzer = %v, want %v", tt.cmd, got, tt.analyzer)
		}
	}
}

func files(paths ...string) *filelist.Resolver {
	return filelist.New(paths, "", "", false)
}

func TestSequentialIngestOrderAndSummary(t *testing.T) {
	fake := &testsupport.FakeAnalyzer{RecordsPerFile: 4, FileDuration: 2.0}
	tab := index.New(20, 100, 14)
	sink := &report.CaptureSink{}
	req := &exec.Request{
		Command:  exec.CommandNew,
		Table:    tab,
		Analyzer: fake,
		Files:    files("a.wav", "b.wav", "c.wav").All(),
		Sink:     sink,
	}
	if err := exec.NewSequential(nil).Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	calls := fake.Calls()
	if want := []string{"a.wav", "b.wav", "c.wav"}; len(calls) != 3 || calls[0] != want[0] || calls[1] != want[1] || calls[2] != want[2] {
		t.Fatalf("analysis order %v, want %v", calls, want)
	}
	lines := sink.Lines()
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "ingesting #0: a.wav") {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[2], "ingesting #2: c.wav") {
		t.Fatalf("line 2 = %q", lines[2])
	}
	// 12 hashes over 6 seconds of analyzed audio.
	if lines[3] != "added 12 hashes (2.0 hashes/sec)" {
		t.Fatalf("summary = %q", lines[3])
	}
	if !tab.Dirty() {
		t.Fatal("ingest should mark the index dirty")
	}
}

func TestSequentialRemoveOutcomes(t *testing.T) {
	fake := &testsupport.FakeAnalyzer{RecordsPerFile: 3}
	tab := index.New(20, 100, 14)
	if _, _, err := fake.Ingest(context.Background(), tab, "keep.wav"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := fake.Ingest(context.Background(), tab, "drop.wav"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sink := &report.CaptureSink{}
	req := &exec.Request{
		Command: exec.CommandRemove,
		Table:   tab,
		Files:   files("drop.wav", "ghost.wav").All(),
		Sink:    sink,
	}
	if err := exec.NewSequential(nil).Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := sink.Lines()
	if lines[0] != "removed drop.wav" {
		t.Fatalf("line 0 = %q", lines[0])
	}
	if lines[1] != "no entry for ghost.wav; nothing removed" {
		t.Fatalf("line 1 = %q", lines[1])
	}
	if tab.NumNames() != 1 {
		t.Fatalf("NumNames = %d, want 1", tab.NumNames())
	}
}

func TestSequentialMergeSnapshots(t *testing.T) {
	dir := t.TempDir()
	fake := &testsupport.FakeAnalyzer{RecordsPerFile: 5}
	var snapPaths []string
	for i := range 2 {
		part := index.New(20, 100, 14)
		part.SetSampleRate(11025)
		if _, _, err := fake.Ingest(context.Background(), part, fmt.Sprintf("track%d.wav", i)); err != nil {
			t.Fatalf("seed: %v", err)
		}
		path := filepath.Join(dir, fmt.Sprintf("part%d.emkdb", i))
		if err := part.Save(path); err != nil {
			t.Fatalf("Save: %v", err)
		}
		snapPaths = append(snapPaths, path)
	}

	tab := index.New(20, 100, 14)
	sink := &report.CaptureSink{}
	req := &exec.Request{
		Command: exec.CommandNewMerge,
		Table:   tab,
		Files:   files(snapPaths...).All(),
		Sink:    sink,
	}
	if err := exec.NewSequential(nil).Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tab.NumNames() != 2 {
		t.Fatalf("NumNames = %d, want 2", tab.NumNames())
	}
	if tab.TotalHashes() != 10 {
		t.Fatalf("TotalHashes = %d, want 10", tab.TotalHashes())
	}
	if tab.SampleRate() != 11025 {
		t.Fatalf("SampleRate = %d, want 11025", tab.SampleRate())
	}
	if got := sink.Lines(); len(got) != 2 || !strings.HasPrefix(got[0], "merged "+snapPaths[0]) {
		t.Fatalf("lines = %v", got)
	}
}

func TestSequentialListCallback(t *testing.T) {
	fake := &testsupport.FakeAnalyzer{RecordsPerFile: 2}
	tab := index.New(20, 100, 14)
	for _, name := range []string{"x.wav", "y.wav"} {
		if _, _, err := fake.Ingest(context.Background(), tab, name); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	var got []string
	req := &exec.Request{
		Command: exec.CommandList,
		Table:   tab,
		List: func(name string, hashes uint64) {
			got = append(got, fmt.Sprintf("%s:%d", name, hashes))
		},
	}
	if err := exec.NewSequential(nil).Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 2 || got[0] != "x.wav:2" || got[1] != "y.wav:2" {
		t.Fatalf("list callback saw %v", got)
	}
}

func matchFixture(t *testing.T) (*testsupport.FakeAnalyzer, *index.Table, exec.Matcher) {
	t.Helper()
	fake := &testsupport.FakeAnalyzer{RecordsPerFile: 30, FileDuration: 5.0}
	tab := index.New(20, 100, 14)
	tab.SetSampleRate(11025)
	for _, name := range []string{"ref0.wav", "ref1.wav", "ref2.wav"} {
		if _, _, err := fake.Ingest(context.Background(), tab, name); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	m := matcher.New(landmark.DefaultMatcherParams(), 11025, nil)
	return fake, tab, m
}

// Fan-out must not change what the user reads: report lines come out in
// submission order no matter which worker finishes first.
func TestParallelMatchPreservesOutputOrder(t *testing.T) {
	queries := []string{"ref1.wav", "nosuch.wav", "ref0.wav", "ref2.wav", "other.wav", "ref1.wav"}

	run := func(par bool) []string {
		fake, tab, m := matchFixture(t)
		sink := &report.CaptureSink{}
		req := &exec.Request{
			Command:  exec.CommandMatch,
			Table:    tab,
			Analyzer: fake,
			Matcher:  m,
			Files:    files(queries...).All(),
			Sink:     sink,
		}
		var err error
		if par {
			err = exec.NewParallel(4, nil).Run(context.Background(), req)
		} else {
			err = exec.NewSequential(nil).Run(context.Background(), req)
		}
		if err != nil {
			t.Fatalf("Run(parallel=%v): %v", par, err)
		}
		return sink.Lines()
	}

	seq := run(false)
	par := run(true)
	if len(seq) != len(par) {
		t.Fatalf("line count differs: sequential %d, parallel %d", len(seq), len(par))
	}
	for i := range seq {
		if seq[i] != par[i] {
			t.Fatalf("line %d differs:\n  sequential: %q\n  parallel:   %q", i, seq[i], par[i])
		}
	}
	if !strings.Contains(seq[0], "#0 ref1.wav") {
		t.Fatalf("first line = %q", seq[0])
	}
}

// A worker count of N must produce the same index contents as a worker
// count of one.
func TestParallelIngestMatchesSequential(t *testing.T) {
	var paths []string
	for i := range 13 {
		paths = append(paths, fmt.Sprintf("clip%02d.wav", i))
	}

	build := func(par bool) *index.Table {
		fake := &testsupport.FakeAnalyzer{RecordsPerFile: 8, FileDuration: 1.5}
		tab := index.New(20, 100, 14)
		tab.SetSampleRate(11025)
		req := &exec.Request{
			Command:  exec.CommandNew,
			Table:    tab,
			Analyzer: fake,
			Files:    files(paths...).All(),
		}
		var err error
		if par {
			err = exec.NewParallel(5, nil).Run(context.Background(), req)
		} else {
			err = exec.NewSequential(nil).Run(context.Background(), req)
		}
		if err != nil {
			t.Fatalf("Run(parallel=%v): %v", par, err)
		}
		return tab
	}

	one := build(false)
	many := build(true)
	if one.TotalHashes() != many.TotalHashes() {
		t.Fatalf("TotalHashes: sequential %d, parallel %d", one.TotalHashes(), many.TotalHashes())
	}
	counts := func(tab *index.Table) map[string]uint64 {
		out := make(map[string]uint64)
		tab.Names(func(name string, hashes uint64) { out[name] = hashes })
		return out
	}
	oneCounts, manyCounts := counts(one), counts(many)
	if len(oneCounts) != len(manyCounts) {
		t.Fatalf("name count: sequential %d, parallel %d", len(oneCounts), len(manyCounts))
	}
	for name, n := range oneCounts {
		if manyCounts[name] != n {
			t.Fatalf("count for %s: sequential %d, parallel %d", name, n, manyCounts[name])
		}
	}
}

// silentAnalyzer registers every file with zero records, the shape a batch
// of unreadable inputs takes under a non-failing analyzer.
type silentAnalyzer struct {
	testsupport.FakeAnalyzer
}

func (s *silentAnalyzer) Ingest(ctx context.Context, dst landmark.Storer, path string) (float64, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if err := dst.Store(path, nil); err != nil {
		return 0, 0, err
	}
	return 0, 0, nil
}

// When every file yields zero hashes there is nothing to persist, and the
// partition merge must not claim otherwise.
func TestParallelIngestWithoutHashesStaysClean(t *testing.T) {
	paths := []string{"hush0.wav", "hush1.wav", "hush2.wav", "hush3.wav"}

	build := func(par bool) *index.Table {
		fake := &silentAnalyzer{}
		tab := index.New(20, 100, 14)
		req := &exec.Request{
			Command:  exec.CommandNew,
			Table:    tab,
			Analyzer: fake,
			Files:    files(paths...).All(),
		}
		var err error
		if par {
			err = exec.NewParallel(2, nil).Run(context.Background(), req)
		} else {
			err = exec.NewSequential(nil).Run(context.Background(), req)
		}
		if err != nil {
			t.Fatalf("Run(parallel=%v): %v", par, err)
		}
		return tab
	}

	seq := build(false)
	par := build(true)
	if seq.Dirty() {
		t.Fatal("sequential ingest of zero hashes must not dirty the index")
	}
	if par.Dirty() {
		t.Fatal("parallel ingest of zero hashes must not dirty the index")
	}
	if seq.NumNames() != par.NumNames() {
		t.Fatalf("NumNames: sequential %d, parallel %d", seq.NumNames(), par.NumNames())
	}
}

// One failing partition must not poison the run: completed partitions still
// merge, the skipped files are reported, and the error surfaces.
func TestParallelIngestIsolatesFailedPartition(t *testing.T) {
	paths := []string{"p0.wav", "p1.wav", "p2.wav", "p3.wav", "p4.wav", "p5.wav"}
	fake := &testsupport.FakeAnalyzer{
		RecordsPerFile: 6,
		FailPaths:      map[string]bool{"p1.wav": true},
	}
	tab := index.New(20, 100, 14)
	sink := &report.CaptureSink{}
	req := &exec.Request{
		Command:  exec.CommandAdd,
		Table:    tab,
		Analyzer: fake,
		Files:    files(paths...).All(),
		Sink:     sink,
	}
	err := exec.NewParallel(3, nil).Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected an error from the failed partition")
	}
	// Round-robin over 3 partitions puts p1 and p4 together; both are lost.
	if tab.NumNames() != 4 {
		t.Fatalf("NumNames = %d, want 4", tab.NumNames())
	}
	if tab.CountOf(0) == 0 {
		t.Fatal("surviving partitions should have merged")
	}
	joined := strings.Join(sink.Lines(), "\n")
	for _, lost := range []string{"not processed: p1.wav", "not processed: p4.wav"} {
		if !strings.Contains(joined, lost) {
			t.Fatalf("report missing %q:\n%s", lost, joined)
		}
	}
	if strings.Contains(joined, "not processed: p0.wav") {
		t.Fatalf("p0.wav wrongly reported unprocessed:\n%s", joined)
	}
}

type blockingAnalyzer struct {
	testsupport.FakeAnalyzer
}

func (b *blockingAnalyzer) Ingest(ctx context.Context, dst landmark.Storer, path string) (float64, int, error) {
	<-ctx.Done()
	return 0, 0, ctx.Err()
}

// A stalled worker must turn into a deadline error, never a hang.
func TestParallelIngestHonorsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tab := index.New(20, 100, 14)
	req := &exec.Request{
		Command:  exec.CommandNew,
		Table:    tab,
		Analyzer: &blockingAnalyzer{},
		Files:    files("stuck0.wav", "stuck1.wav", "stuck2.wav").All(),
	}
	done := make(chan error, 1)
	go func() { done <- exec.NewParallel(3, nil).Run(ctx, req) }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a context error")
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("executor hung past the context deadline")
	}
}

// Ineligible commands degrade to sequential execution inside Parallel.
func TestParallelDegradesForIneligibleCommand(t *testing.T) {
	fake := &testsupport.FakeAnalyzer{RecordsPerFile: 2}
	tab := index.New(20, 100, 14)
	if _, _, err := fake.Ingest(context.Background(), tab, "solo.wav"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sink := &report.CaptureSink{}
	req := &exec.Request{
		Command: exec.CommandRemove,
		Table:   tab,
		Files:   files("solo.wav").All(),
		Sink:    sink,
	}
	if err := exec.NewParallel(4, nil).Run(context.Background(), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sink.Lines(); len(got) != 1 || got[0] != "removed solo.wav" {
		t.Fatalf("lines = %v", got)
	}
}
