// Package analyzer turns audio files into landmark hash records.
//
// The pipeline mirrors the classic landmark scheme: resample to the target
// rate, 512-point STFT with half-overlap, per-frame spectral peak picking with
// frequency spreading, then pairing nearby peaks into packed
// (freq, Δfreq, Δtime) hashes. Files carrying a precomputed artifact extension
// are loaded directly instead of re-analyzed.
//
// One Analyzer may be shared by concurrent workers; the cumulative duration
// counters are the only mutable state and are mutex-guarded.
package analyzer
