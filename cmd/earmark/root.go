package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}
	f := &ctx.flags

	rootCmd := &cobra.Command{
		Use:           "earmark",
		Short:         "Audio landmark fingerprinting",
		Long:          "earmark builds, queries, and maintains landmark fingerprint indexes for audio files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "Configuration file path")
	pf.StringVarP(&f.dbase, "dbase", "d", "", "Fingerprint index file")
	pf.StringVarP(&f.opfile, "opfile", "o", "", "Write report lines to this file instead of stdout")
	pf.BoolVar(&f.verbose, "verbose", false, "Enable debug logging")

	pf.IntVar(&f.hashBits, "hashbits", 20, "Hash width in bits for a fresh index")
	pf.IntVar(&f.bucketSize, "bucketsize", 100, "Entries kept per hash bucket in a fresh index")
	pf.IntVar(&f.maxTime, "maxtime", 16384, "Largest landmark time, in frames, for a fresh index")
	pf.IntVar(&f.maxTimeBits, "maxtimebits", 0, "Bit-width form of --maxtime (0 derives from --maxtime)")

	pf.Float64Var(&f.density, "density", 20.0, "Target landmark density per second")
	pf.IntVar(&f.peaksPerFrame, "pks-per-frame", 5, "Maximum peaks per analysis frame")
	pf.IntVar(&f.fanout, "fanout", 3, "Landmark pairs per anchor peak")
	pf.Float64Var(&f.freqSD, "freq-sd", 30.0, "Gaussian suppression width in frequency bins")
	pf.IntVar(&f.shifts, "shifts", 0, "Sub-frame alignments to analyze (0 picks per command)")
	pf.IntVar(&f.sampleRate, "samplerate", 11025, "Analysis sample rate")
	pf.BoolVar(&f.continueOnError, "continue-on-error", false, "Skip unreadable inputs instead of failing")

	pf.StringVar(&f.wavDir, "wavdir", "", "Base directory joined to relative input names")
	pf.StringVar(&f.wavExt, "wavext", "", "Extension appended to input names")
	pf.BoolVar(&f.listMode, "list", false, "Treat arguments as files listing one input per line")
	pf.IntVar(&f.ncores, "ncores", 1, "Worker count for commands that can fan out")

	rootCmd.AddCommand(newNewCommand(ctx))
	rootCmd.AddCommand(newAddCommand(ctx))
	rootCmd.AddCommand(newPrecomputeCommand(ctx))
	rootCmd.AddCommand(newMergeCommand(ctx))
	rootCmd.AddCommand(newNewMergeCommand(ctx))
	rootCmd.AddCommand(newMatchCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newRemoveCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}

// addMatchFlags registers the query ranking knobs on the match command.
func addMatchFlags(cmd *cobra.Command, f *rootFlags) {
	cmd.Flags().IntVar(&f.matchWin, "match-win", 2, "Time tolerance, in frames, when counting aligned hashes")
	cmd.Flags().IntVar(&f.minCount, "min-count", 5, "Minimum aligned hashes before a match is reported")
	cmd.Flags().IntVar(&f.maxMatches, "max-matches", 1, "Maximum references reported per query")
	cmd.Flags().IntVar(&f.searchDepth, "search-depth", 100, "Candidate references examined per query")
	cmd.Flags().BoolVar(&f.exactCount, "exact-count", false, "Use exact (slower) aligned-hash counting")
	cmd.Flags().BoolVar(&f.findTimeRange, "find-time-range", false, "Report the matched time range")
	cmd.Flags().Float64Var(&f.timeQuantile, "time-quantile", 0.05, "Quantile trimmed from each end of the time range")
	cmd.Flags().BoolVar(&f.sortByTime, "sortbytime", false, "Order reported matches by match time")
	cmd.Flags().BoolVar(&f.illustrate, "illustrate", false, "Force exact counting, as the match illustration mode did")
	cmd.Flags().BoolVar(&f.illustrateHPF, "illustrate-hpf", false, "Force exact counting with the high-pass illustration variant")
}

// addPrecomputeFlags registers the artifact writer knobs.
func addPrecomputeFlags(cmd *cobra.Command, f *rootFlags) {
	cmd.Flags().StringVar(&f.precompDir, "precompdir", ".", "Output directory for precomputed artifacts")
	cmd.Flags().BoolVar(&f.precomputePeaks, "precompute-peaks", false, "Cache spectral peaks instead of hashes")
	cmd.Flags().BoolVar(&f.skipExisting, "skip-existing", false, "Skip inputs whose artifact already exists")
}
