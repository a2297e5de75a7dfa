// Package index implements the persistent fingerprint index: a bucketed map
// from landmark hash to (file id, time offset) occurrences.
//
// The Table tracks a dirty flag set by any store/merge/remove and cleared only
// by a successful save, so callers can persist exactly once per run. Snapshots
// are written atomically under an advisory file lock; serialization visits
// buckets in ascending hash order so identical ingest order yields
// byte-identical files.
package index
