package config

const (
	defaultHashBits      = 20
	defaultBucketSize    = 100
	defaultMaxTime       = 16384
	defaultDensity       = 20.0
	defaultPeaksPerFrame = 5
	defaultFanout        = 3
	defaultFreqSD        = 30.0
	defaultSampleRate    = 11025
	defaultMatchWin      = 2
	defaultMinCount      = 5
	defaultMaxMatches    = 1
	defaultSearchDepth   = 100
	defaultTimeQuantile  = 0.05
	defaultWorkers       = 1
	defaultPrecompDir    = "."
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Index: Index{
			HashBits:   defaultHashBits,
			BucketSize: defaultBucketSize,
			MaxTime:    defaultMaxTime,
		},
		Analyzer: Analyzer{
			Density:       defaultDensity,
			PeaksPerFrame: defaultPeaksPerFrame,
			Fanout:        defaultFanout,
			FreqSD:        defaultFreqSD,
			SampleRate:    defaultSampleRate,
		},
		Matcher: Matcher{
			MatchWin:     defaultMatchWin,
			MinCount:     defaultMinCount,
			MaxMatches:   defaultMaxMatches,
			SearchDepth:  defaultSearchDepth,
			TimeQuantile: defaultTimeQuantile,
		},
		Runtime: Runtime{
			Workers:    defaultWorkers,
			PrecompDir: defaultPrecompDir,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
