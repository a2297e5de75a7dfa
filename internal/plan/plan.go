// Package plan turns a parsed command line into a runnable Plan. Building a
// plan validates the request, loads or creates the fingerprint index, wires
// the analyzer, matcher, precompute writer, and file resolver the command
// needs, and selects an executor. Running it executes the command and owns
// the single end-of-run snapshot write.
package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"earmark/internal/analyzer"
	"earmark/internal/exec"
	"earmark/internal/filelist"
	"earmark/internal/index"
	"earmark/internal/landmark"
	"earmark/internal/logging"
	"earmark/internal/matcher"
	"earmark/internal/precompute"
	"earmark/internal/report"
)

// Options is the full surface a command line can configure.
type Options struct {
	Command   string
	IndexPath string

	// Args are file names or, in list mode, names of files that list one
	// input per line.
	Args     []string
	ListMode bool
	WavDir   string
	WavExt   string

	// Index geometry, used only when a fresh index is created.
	HashBits    uint
	BucketSize  int
	MaxTime     int
	MaxTimeBits uint

	Analyzer landmark.AnalyzerParams
	Matcher  landmark.MatcherParams

	// Precompute writer settings.
	OutDir          string
	PrecomputePeaks bool
	SkipExisting    bool

	Workers int

	// Output receives the report stream; defaults to os.Stdout.
	Output io.Writer
	// List, when set, receives every stored name instead of the report
	// stream rendering them.
	List func(name string, hashes uint64)

	Logger *slog.Logger
}

type executor interface {
	Run(ctx context.Context, req *exec.Request) error
}

// Plan is an immutable, validated run. Build constructs it; Run executes it
// exactly once.
type Plan struct {
	opts     Options
	cmd      exec.Command
	tab      *index.Table
	analyzer landmark.Analyzer
	matcher  *matcher.Matcher
	writer   *precompute.Writer
	exec     executor
	sink     report.Sink
	runID    string
	logger   *slog.Logger
}

// validateParams rejects analyzer and matcher settings the run cannot honor.
// Config files are checked at load time, but flag values arrive here unseen.
func validateParams(cmd exec.Command, opts Options) error {
	if cmd.UsesAnalyzer() {
		a := opts.Analyzer
		if a.Density <= 0 {
			return errors.New("density must be positive")
		}
		if a.PeaksPerFrame < 1 {
			return errors.New("peaks per frame must be at least 1")
		}
		if a.Fanout < 1 {
			return errors.New("fanout must be at least 1")
		}
		if a.FreqSD <= 0 {
			return errors.New("freq-sd must be positive")
		}
		if a.Shifts < 0 {
			return errors.New("shifts must not be negative")
		}
	}
	if cmd == exec.CommandMatch {
		m := opts.Matcher
		if m.Window < 0 {
			return errors.New("match window must not be negative")
		}
		if m.MinCount < 1 {
			return errors.New("min-count must be at least 1")
		}
		if m.MaxMatches < 1 {
			return errors.New("max-matches must be at least 1")
		}
		if m.SearchDepth < 1 {
			return errors.New("search-depth must be at least 1")
		}
		if m.TimeQuantile < 0 || m.TimeQuantile >= 0.5 {
			return fmt.Errorf("time-quantile must be in [0, 0.5), got %g", m.TimeQuantile)
		}
	}
	return nil
}

// Build validates the options and assembles every collaborator the command
// needs. It fails fast: a plan that builds is expected to run.
func Build(opts Options) (*Plan, error) {
	cmd, err := exec.ParseCommand(opts.Command)
	if err != nil {
		return nil, Wrap(ErrValidation, opts.Command, "parse", "", err)
	}

	runID := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(
		logging.String(logging.FieldCommand, string(cmd)),
		logging.String(logging.FieldRunID, runID))

	p := &Plan{opts: opts, cmd: cmd, runID: runID, logger: logger}

	if cmd.NeedsIndex() && opts.IndexPath == "" {
		return nil, Wrap(ErrValidation, string(cmd), "validate", "an index path is required", nil)
	}
	if err := validateParams(cmd, opts); err != nil {
		return nil, Wrap(ErrValidation, string(cmd), "validate", "", err)
	}

	if err := p.buildTable(); err != nil {
		return nil, err
	}
	if err := p.buildAnalyzer(); err != nil {
		return nil, err
	}
	if cmd == exec.CommandMatch {
		p.matcher = matcher.New(opts.Matcher, p.tab.SampleRate(), logger)
	}
	if cmd == exec.CommandPrecompute {
		kind := landmark.ArtifactHashes
		if opts.PrecomputePeaks {
			kind = landmark.ArtifactPeaks
		}
		outDir := opts.OutDir
		if outDir == "" {
			outDir = "."
		}
		p.writer = &precompute.Writer{
			Analyzer:     p.analyzer,
			OutDir:       outDir,
			Kind:         kind,
			SkipExisting: opts.SkipExisting,
			StripPrefix:  opts.WavDir,
		}
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	p.sink = report.NewWriterSink(out)

	if opts.Workers > 1 && cmd.MultiprocessEligible() {
		p.exec = exec.NewParallel(opts.Workers, logger)
	} else {
		p.exec = exec.NewSequential(logger)
	}
	return p, nil
}

// buildTable creates a fresh index or loads the named snapshot, depending on
// the command. The parent directory of a fresh index is created up front so a
// bad destination fails before hours of analysis.
func (p *Plan) buildTable() error {
	switch {
	case p.cmd.FreshIndex():
		if dir := filepath.Dir(p.opts.IndexPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return Wrap(ErrConfiguration, string(p.cmd), "create index directory", dir, err)
			}
		}
		hashBits := p.opts.HashBits
		if hashBits == 0 {
			hashBits = 20
		}
		depth := p.opts.BucketSize
		if depth <= 0 {
			depth = 100
		}
		timeBits := p.opts.MaxTimeBits
		if timeBits == 0 {
			maxTime := p.opts.MaxTime
			if maxTime <= 0 {
				maxTime = 16384
			}
			timeBits = index.BitsForTime(maxTime)
		}
		p.tab = index.New(hashBits, depth, timeBits)
	case p.cmd.NeedsIndex():
		tab, err := index.Load(p.opts.IndexPath)
		if err != nil {
			return Wrap(ErrExternalData, string(p.cmd), "load index", p.opts.IndexPath, err)
		}
		p.tab = tab
		p.logger.Info("loaded index",
			logging.String(logging.FieldIndexPath, p.opts.IndexPath),
			logging.Int("names", tab.NumNames()),
			logging.Uint64("hashes", tab.TotalHashes()))
	}
	return nil
}

// buildAnalyzer constructs the analyzer for commands that analyze audio and
// reconciles its sample rate with the index: an existing index's stored rate
// wins, a fresh or unstamped index adopts the analyzer's rate.
func (p *Plan) buildAnalyzer() error {
	if !p.cmd.UsesAnalyzer() {
		return nil
	}
	params := p.opts.Analyzer
	if params.SampleRate <= 0 {
		params.SampleRate = landmark.DefaultAnalyzerParams().SampleRate
	}
	if params.Shifts <= 0 {
		if p.cmd == exec.CommandMatch {
			params.Shifts = 4
		} else {
			params.Shifts = 1
		}
	}
	a := analyzer.New(params, p.logger)

	if p.tab != nil {
		switch stored := p.tab.SampleRate(); {
		case stored > 0 && stored != params.SampleRate:
			p.logger.Warn("index sample rate overrides configured rate",
				logging.Int("index_rate", stored),
				logging.Int("configured_rate", params.SampleRate))
			a.SetSampleRate(stored)
		case stored == 0:
			p.tab.SetSampleRate(params.SampleRate)
		}
	}
	p.analyzer = a
	return nil
}

// Table exposes the plan's index for inspection after a run.
func (p *Plan) Table() *index.Table { return p.tab }

// RunID returns the correlation identifier stamped on this run's logs.
func (p *Plan) RunID() string { return p.runID }

// Run executes the plan and, when the command mutated the index, writes the
// snapshot back to the originally named path. The snapshot is written at most
// once per run and only when the dirty flag is set, so read-only commands
// never touch the file.
func (p *Plan) Run(ctx context.Context) error {
	start := time.Now()
	req := &exec.Request{
		Command:  p.cmd,
		Table:    p.tab,
		Analyzer: p.analyzer,
		Matcher:  p.matcher,
		Writer:   p.writer,
		Files:    filelist.New(p.opts.Args, p.opts.WavDir, p.opts.WavExt, p.opts.ListMode).All(),
		Sink:     p.sink,
		List:     p.opts.List,
	}

	runErr := p.exec.Run(ctx, req)
	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled) {
			runErr = Wrap(ErrTimeout, string(p.cmd), "execute", "", runErr)
		}
		p.logger.Error("run failed", logging.Error(runErr))
	}

	// Partial progress from an isolated partition failure is still worth
	// keeping: the unprocessed files were reported, so saving lets the user
	// re-run just those.
	if p.tab != nil && p.tab.Dirty() {
		if err := p.tab.Save(p.opts.IndexPath); err != nil {
			saveErr := Wrap(ErrExternalData, string(p.cmd), "save index", p.opts.IndexPath, err)
			if runErr != nil {
				return errors.Join(runErr, saveErr)
			}
			return saveErr
		}
		p.logger.Info("saved index",
			logging.String(logging.FieldIndexPath, p.opts.IndexPath),
			logging.Int("names", p.tab.NumNames()),
			logging.Uint64("hashes", p.tab.TotalHashes()))
	}

	p.logStats(time.Since(start))
	return runErr
}

func (p *Plan) logStats(wall time.Duration) {
	attrs := []any{logging.Duration("wall", wall)}
	if p.analyzer != nil {
		stats := p.analyzer.Stats()
		ratio := 0.0
		if secs := wall.Seconds(); secs > 0 {
			ratio = stats.TotalDuration / secs
		}
		attrs = append(attrs,
			logging.Int("files", stats.FileCount),
			logging.Float64("audio_sec", stats.TotalDuration),
			logging.String("speed", fmt.Sprintf("%.1fx realtime", ratio)))
	}
	p.logger.Info("run complete", attrs...)
}
