package exec

import (
	"context"
	"fmt"
	"log/slog"

	"earmark/internal/index"
	"earmark/internal/logging"
)

// Sequential runs every file on the calling goroutine in input order.
type Sequential struct {
	logger *slog.Logger
}

// NewSequential builds a sequential executor. A nil logger disables logging.
func NewSequential(logger *slog.Logger) *Sequential {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Sequential{logger: logger}
}

// Run dispatches the request's command and returns the first failure.
func (s *Sequential) Run(ctx context.Context, req *Request) error {
	switch req.Command {
	case CommandNew, CommandAdd:
		return s.ingest(ctx, req)
	case CommandPrecompute:
		return s.precompute(ctx, req)
	case CommandMatch:
		return s.match(ctx, req)
	case CommandMerge, CommandNewMerge:
		return s.merge(ctx, req)
	case CommandList:
		return s.list(req)
	case CommandRemove:
		return s.remove(ctx, req)
	}
	return fmt.Errorf("%w: %q", ErrUnrecognizedCommand, req.Command)
}

func (s *Sequential) ingest(ctx context.Context, req *Request) error {
	sink := req.sink()
	var total uint64
	seq := 0
	for path, err := range req.Files {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		dur, count, err := req.Analyzer.Ingest(ctx, req.Table, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		total += uint64(count)
		sink.Emit(fmt.Sprintf("ingesting #%d: %s (%.3f sec, %d hashes)", seq, path, dur, count))
		s.logger.Debug("ingested file",
			logging.String(logging.FieldFile, path),
			logging.Int("hashes", count))
		seq++
	}
	sink.Emit(ingestSummary(total, req.Analyzer.Stats()))
	return nil
}

func (s *Sequential) precompute(ctx context.Context, req *Request) error {
	sink := req.sink()
	for path, err := range req.Files {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := req.Writer.Process(ctx, path)
		if err != nil {
			return fmt.Errorf("precompute %s: %w", path, err)
		}
		sink.Emit(msg)
	}
	return nil
}

func (s *Sequential) match(ctx context.Context, req *Request) error {
	sink := req.sink()
	seq := 0
	for path, err := range req.Files {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := req.Matcher.Messages(ctx, req.Analyzer, req.Table, path, seq)
		if err != nil {
			return fmt.Errorf("match %s: %w", path, err)
		}
		sink.Emit(msgs...)
		seq++
	}
	return nil
}

func (s *Sequential) merge(ctx context.Context, req *Request) error {
	sink := req.sink()
	for path, err := range req.Files {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		other, err := index.Load(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if err := req.Table.Merge(other); err != nil {
			return fmt.Errorf("merge %s: %w", path, err)
		}
		sink.Emit(fmt.Sprintf("merged %s (%d names, %d hashes)",
			path, other.NumNames(), other.TotalHashes()))
	}
	return nil
}

func (s *Sequential) list(req *Request) error {
	if req.List != nil {
		req.Table.Names(req.List)
		return nil
	}
	sink := req.sink()
	req.Table.Names(func(name string, hashes uint64) {
		sink.Emit(fmt.Sprintf("%s (%d hashes)", name, hashes))
	})
	return nil
}

func (s *Sequential) remove(ctx context.Context, req *Request) error {
	sink := req.sink()
	for name, err := range req.Files {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.Table.Remove(name) {
			sink.Emit(fmt.Sprintf("removed %s", name))
		} else {
			sink.Emit(fmt.Sprintf("no entry for %s; nothing removed", name))
		}
	}
	return nil
}
