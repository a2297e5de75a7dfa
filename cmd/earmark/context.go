package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"earmark/internal/config"
	"earmark/internal/landmark"
	"earmark/internal/logging"
	"earmark/internal/plan"
)

// rootFlags holds every persistent flag value. A flag only overrides the
// loaded configuration when it was set explicitly.
type rootFlags struct {
	configPath string
	dbase      string
	opfile     string
	verbose    bool

	hashBits    int
	bucketSize  int
	maxTime     int
	maxTimeBits int

	density         float64
	peaksPerFrame   int
	fanout          int
	freqSD          float64
	shifts          int
	sampleRate      int
	continueOnError bool

	wavDir   string
	wavExt   string
	listMode bool
	ncores   int

	matchWin      int
	minCount      int
	maxMatches    int
	searchDepth   int
	exactCount    bool
	findTimeRange bool
	timeQuantile  float64
	sortByTime    bool
	illustrate    bool
	illustrateHPF bool

	precompDir      string
	precomputePeaks bool
	skipExisting    bool
}

type commandContext struct {
	flags rootFlags

	cfg    *config.Config
	logger *slog.Logger
}

// ensureConfig loads the configuration once per invocation and builds the
// root logger from it.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, _, _, err := config.Load(c.flags.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if c.flags.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	c.cfg = cfg
	c.logger = logger
	return cfg, nil
}

// planOptions assembles the plan for one command: configuration first, then
// any explicitly set flags on top.
func (c *commandContext) planOptions(cmd *cobra.Command, command string, args []string, output io.Writer) (plan.Options, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return plan.Options{}, err
	}
	set := cmd.Flags()
	f := &c.flags

	analyzerParams := landmark.AnalyzerParams{
		Density:       pickFloat(set, "density", f.density, cfg.Analyzer.Density),
		PeaksPerFrame: pickInt(set, "pks-per-frame", f.peaksPerFrame, cfg.Analyzer.PeaksPerFrame),
		Fanout:        pickInt(set, "fanout", f.fanout, cfg.Analyzer.Fanout),
		FreqSD:        pickFloat(set, "freq-sd", f.freqSD, cfg.Analyzer.FreqSD),
		Shifts:        pickInt(set, "shifts", f.shifts, cfg.Analyzer.Shifts),
		SampleRate:    pickInt(set, "samplerate", f.sampleRate, cfg.Analyzer.SampleRate),
		FailOnError:   !pickBool(set, "continue-on-error", f.continueOnError, cfg.Analyzer.ContinueOnError),
	}
	matcherParams := landmark.MatcherParams{
		Window:        pickInt(set, "match-win", f.matchWin, cfg.Matcher.MatchWin),
		MinCount:      pickInt(set, "min-count", f.minCount, cfg.Matcher.MinCount),
		MaxMatches:    pickInt(set, "max-matches", f.maxMatches, cfg.Matcher.MaxMatches),
		SearchDepth:   pickInt(set, "search-depth", f.searchDepth, cfg.Matcher.SearchDepth),
		ExactCount:    pickBool(set, "exact-count", f.exactCount, cfg.Matcher.ExactCount),
		FindTimeRange: pickBool(set, "find-time-range", f.findTimeRange, cfg.Matcher.FindTimeRange),
		TimeQuantile:  pickFloat(set, "time-quantile", f.timeQuantile, cfg.Matcher.TimeQuantile),
		SortByTime:    pickBool(set, "sortbytime", f.sortByTime, cfg.Matcher.SortByTime),
		Illustrate:    f.illustrate,
		IllustrateHPF: f.illustrateHPF,
	}

	opts := plan.Options{
		Command:   command,
		IndexPath: f.dbase,
		Args:      args,
		ListMode:  f.listMode,
		WavDir:    pickString(set, "wavdir", f.wavDir, cfg.Runtime.WavDir),
		WavExt:    pickString(set, "wavext", f.wavExt, cfg.Runtime.WavExt),

		HashBits:    uint(pickInt(set, "hashbits", f.hashBits, cfg.Index.HashBits)),
		BucketSize:  pickInt(set, "bucketsize", f.bucketSize, cfg.Index.BucketSize),
		MaxTime:     pickInt(set, "maxtime", f.maxTime, cfg.Index.MaxTime),
		MaxTimeBits: uint(pickInt(set, "maxtimebits", f.maxTimeBits, cfg.Index.MaxTimeBits)),

		Analyzer: analyzerParams,
		Matcher:  matcherParams,

		OutDir:          pickString(set, "precompdir", f.precompDir, cfg.Runtime.PrecompDir),
		PrecomputePeaks: f.precomputePeaks,
		SkipExisting:    f.skipExisting,

		Workers: pickInt(set, "ncores", f.ncores, cfg.Runtime.Workers),

		Output: output,
		Logger: c.logger,
	}
	return opts, nil
}

func pickInt(set *pflag.FlagSet, name string, flagValue, cfgValue int) int {
	if set.Changed(name) {
		return flagValue
	}
	return cfgValue
}

func pickFloat(set *pflag.FlagSet, name string, flagValue, cfgValue float64) float64 {
	if set.Changed(name) {
		return flagValue
	}
	return cfgValue
}

func pickBool(set *pflag.FlagSet, name string, flagValue, cfgValue bool) bool {
	if set.Changed(name) {
		return flagValue
	}
	return cfgValue
}

func pickString(set *pflag.FlagSet, name string, flagValue, cfgValue string) string {
	if set.Changed(name) {
		return flagValue
	}
	return cfgValue
}
