// Package landmark defines the vocabulary shared by the fingerprinting
// pipeline: landmark hash records, analyzer and matcher parameters with their
// documented defaults, and the collaborator interfaces the executors consume.
package landmark

import "context"

// Record is one landmark hash occurrence: the frame time at which the
// landmark's anchor peak occurs and the packed hash derived from the peak pair.
type Record struct {
	Time uint32
	Hash uint32
}

// Peak is one salient time-frequency point, the raw material for hashes.
type Peak struct {
	Time uint32
	Bin  uint16
}

// AnalyzerParams carries the tunable knobs of the acoustic analyzer.
// Zero Shifts means "pick by command": 4 for match queries, 1 otherwise.
type AnalyzerParams struct {
	Density       float64
	PeaksPerFrame int
	Fanout        int
	FreqSD        float64
	Shifts        int
	SampleRate    int
	FailOnError   bool
}

// DefaultAnalyzerParams returns the documented analyzer defaults.
func DefaultAnalyzerParams() AnalyzerParams {
	return AnalyzerParams{
		Density:       20.0,
		PeaksPerFrame: 5,
		Fanout:        3,
		FreqSD:        30.0,
		Shifts:        0,
		SampleRate:    11025,
		FailOnError:   true,
	}
}

// MatcherParams carries the tunable knobs of the matcher.
type MatcherParams struct {
	Window        int
	MinCount      int
	MaxMatches    int
	SearchDepth   int
	ExactCount    bool
	FindTimeRange bool
	TimeQuantile  float64
	SortByTime    bool
	Illustrate    bool
	IllustrateHPF bool
}

// DefaultMatcherParams returns the documented matcher defaults.
func DefaultMatcherParams() MatcherParams {
	return MatcherParams{
		Window:       2,
		MinCount:     5,
		MaxMatches:   1,
		SearchDepth:  100,
		TimeQuantile: 0.05,
	}
}

// ArtifactKind selects what a precompute run caches for each input file.
type ArtifactKind int

const (
	ArtifactHashes ArtifactKind = iota
	ArtifactPeaks
)

// Ext returns the fixed filename extension for artifacts of this kind.
func (k ArtifactKind) Ext() string {
	if k == ArtifactPeaks {
		return ".emkp"
	}
	return ".emkh"
}

func (k ArtifactKind) String() string {
	if k == ArtifactPeaks {
		return "peaks"
	}
	return "hashes"
}

// Storer accepts the hash records extracted from one named file.
// *index.Table satisfies it; partial indexes built by fan-out workers do too.
type Storer interface {
	Store(name string, recs []Record) error
}

// AnalyzerStats accumulates across every file an analyzer has touched.
type AnalyzerStats struct {
	FileCount     int
	LastDuration  float64
	TotalDuration float64
}

// Analyzer turns one audio file into landmark records.
//
// Implementations must recognize precomputed artifact files and load them
// instead of re-analyzing. A non-failing analyzer (FailOnError false) swallows
// per-file read errors and yields zero records so batch runs continue.
type Analyzer interface {
	// Hashes analyzes one file into landmark hash records, also reporting
	// the file's audio duration in seconds.
	Hashes(ctx context.Context, path string) ([]Record, float64, error)
	// Peaks analyzes one file into raw spectral peaks, also reporting the
	// file's audio duration in seconds.
	Peaks(ctx context.Context, path string) ([]Peak, float64, error)
	// Ingest analyzes one file and stores its records under the file's name,
	// returning the audio duration in seconds and the stored hash count.
	Ingest(ctx context.Context, dst Storer, path string) (float64, int, error)
	// Stats reports cumulative counters for rate reporting.
	Stats() AnalyzerStats
}
