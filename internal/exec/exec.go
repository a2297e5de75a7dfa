// Package exec runs fingerprint commands to completion.
//
// Two executors share one Request shape. Sequential processes every file on
// the calling goroutine, one at a time. Parallel fans file-level work across
// a bounded worker pool: precompute and match as independent per-file tasks
// whose messages are replayed in submission order, new and add as a
// partition/build/merge pipeline whose partial indexes are merged strictly
// sequentially in partition order. Only the orchestrating goroutine ever
// mutates the primary index.
package exec

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"earmark/internal/index"
	"earmark/internal/landmark"
	"earmark/internal/precompute"
	"earmark/internal/report"
)

// Command selects one fingerprint operation.
type Command string

const (
	CommandNew        Command = "new"
	CommandAdd        Command = "add"
	CommandPrecompute Command = "precompute"
	CommandMerge      Command = "merge"
	CommandNewMerge   Command = "newmerge"
	CommandMatch      Command = "match"
	CommandList       Command = "list"
	CommandRemove     Command = "remove"
)

// ErrUnrecognizedCommand marks a command name outside the fixed set.
var ErrUnrecognizedCommand = errors.New("unrecognized command")

// ParseCommand validates a raw command name.
func ParseCommand(raw string) (Command, error) {
	cmd := Command(raw)
	switch cmd {
	case CommandNew, CommandAdd, CommandPrecompute, CommandMerge,
		CommandNewMerge, CommandMatch, CommandList, CommandRemove:
		return cmd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedCommand, raw)
}

// NeedsIndex reports whether the command requires a named index path.
// Only precompute runs without one.
func (c Command) NeedsIndex() bool { return c != CommandPrecompute }

// FreshIndex reports whether the command starts from an empty index instead
// of loading one.
func (c Command) FreshIndex() bool { return c == CommandNew || c == CommandNewMerge }

// UsesAnalyzer reports whether the command performs acoustic analysis.
func (c Command) UsesAnalyzer() bool {
	switch c {
	case CommandMerge, CommandNewMerge, CommandList, CommandRemove:
		return false
	}
	return true
}

// MultiprocessEligible reports whether the command may fan out across
// workers. merge, newmerge, list, and remove stay single-process even when
// more workers were requested: they either are not file-parallel or mutate
// shared state without a merge step.
func (c Command) MultiprocessEligible() bool {
	switch c {
	case CommandNew, CommandAdd, CommandPrecompute, CommandMatch:
		return true
	}
	return false
}

// Matcher renders the ranked report block for one query file.
type Matcher interface {
	Messages(ctx context.Context, a landmark.Analyzer, tab *index.Table, path string, seq int) ([]string, error)
}

// Request carries everything an executor needs for one run. Built once by
// the planner and treated as immutable.
type Request struct {
	Command  Command
	Table    *index.Table      // nil for precompute
	Analyzer landmark.Analyzer // nil for merge/newmerge/list/remove
	Matcher  Matcher           // match only
	Writer   *precompute.Writer
	Files    iter.Seq2[string, error]
	Sink     report.Sink
	// List receives every stored name for the list command.
	List func(name string, hashes uint64)
}

func (r *Request) sink() report.Sink {
	if r.Sink != nil {
		return r.Sink
	}
	return noopSink{}
}

type noopSink struct{}

func (noopSink) Emit(...string) {}

func ingestSummary(total uint64, stats landmark.AnalyzerStats) string {
	if stats.TotalDuration <= 0 {
		return fmt.Sprintf("added %d hashes", total)
	}
	return fmt.Sprintf("added %d hashes (%.1f hashes/sec)",
		total, float64(total)/stats.TotalDuration)
}
