package exec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"earmark/internal/index"
	"earmark/internal/logging"
)

// Parallel fans file-level work across a bounded pool of goroutines.
//
// precompute and match run as independent per-file tasks; their report lines
// are buffered and emitted in submission order once all tasks finish, so the
// output is indistinguishable from a sequential run. new and add split the
// input round-robin into one partition per worker, build a private index per
// partition, and merge the partials into the primary index strictly in
// partition order on the orchestrating goroutine.
type Parallel struct {
	workers int
	logger  *slog.Logger
}

// NewParallel builds an executor with the given worker count (minimum 2).
func NewParallel(workers int, logger *slog.Logger) *Parallel {
	if workers < 2 {
		workers = 2
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Parallel{workers: workers, logger: logger}
}

// Run dispatches the request's command. Commands that are not eligible for
// fan-out degrade to sequential execution.
func (p *Parallel) Run(ctx context.Context, req *Request) error {
	switch req.Command {
	case CommandPrecompute, CommandMatch:
		return p.tasks(ctx, req)
	case CommandNew, CommandAdd:
		return p.partitioned(ctx, req)
	}
	return NewSequential(p.logger).Run(ctx, req)
}

// collect drains the file sequence up front so workers never share the
// resolver. A bad list file fails the run before any work starts.
func collect(req *Request) ([]string, error) {
	var paths []string
	for path, err := range req.Files {
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (p *Parallel) tasks(ctx context.Context, req *Request) error {
	paths, err := collect(req)
	if err != nil {
		return err
	}

	results := make([][]string, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			switch req.Command {
			case CommandPrecompute:
				msg, err := req.Writer.Process(gctx, path)
				if err != nil {
					return fmt.Errorf("precompute %s: %w", path, err)
				}
				results[i] = []string{msg}
			case CommandMatch:
				msgs, err := req.Matcher.Messages(gctx, req.Analyzer, req.Table, path, i)
				if err != nil {
					return fmt.Errorf("match %s: %w", path, err)
				}
				results[i] = msgs
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sink := req.sink()
	for _, msgs := range results {
		sink.Emit(msgs...)
	}
	return nil
}

type partial struct {
	tab    *index.Table
	msgs   []string
	hashes uint64
	files  int
}

func (p *Parallel) partitioned(ctx context.Context, req *Request) error {
	paths, err := collect(req)
	if err != nil {
		return err
	}
	sink := req.sink()
	if len(paths) == 0 {
		sink.Emit(ingestSummary(0, req.Analyzer.Stats()))
		return nil
	}

	nparts := min(p.workers, len(paths))
	parts := make([][]string, nparts)
	seqs := make([][]int, nparts)
	for i, path := range paths {
		parts[i%nparts] = append(parts[i%nparts], path)
		seqs[i%nparts] = append(seqs[i%nparts], i)
	}

	primary := req.Table
	chans := make([]chan *partial, nparts)
	partErrs := make([]error, nparts)
	for i := range parts {
		chans[i] = make(chan *partial, 1)
		go func() {
			defer close(chans[i])
			part, err := p.buildPartition(ctx, req, primary, parts[i], seqs[i])
			if err != nil {
				partErrs[i] = err
				p.logger.Error("partition failed",
					logging.Int(logging.FieldPartition, i),
					logging.Error(err))
				return
			}
			chans[i] <- part
		}()
	}

	// Receive and merge in partition order so the primary index is
	// byte-identical regardless of which partition finishes first.
	var total uint64
	var unprocessed []string
	var errs []error
	for i := range chans {
		select {
		case part, ok := <-chans[i]:
			if !ok {
				unprocessed = append(unprocessed, parts[i]...)
				errs = append(errs, fmt.Errorf("partition %d: %w", i, partErrs[i]))
				continue
			}
			if err := primary.Merge(part.tab); err != nil {
				return fmt.Errorf("merge partition %d: %w", i, err)
			}
			sink.Emit(part.msgs...)
			sink.Emit(fmt.Sprintf("partition %d: %d files, %d hashes", i, part.files, part.hashes))
			total += part.hashes
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	sink.Emit(ingestSummary(total, req.Analyzer.Stats()))
	if len(errs) > 0 {
		for _, path := range unprocessed {
			sink.Emit(fmt.Sprintf("not processed: %s", path))
		}
		return errors.Join(errs...)
	}
	return nil
}

// buildPartition ingests one partition's files into a private index with the
// primary's geometry and sample rate.
func (p *Parallel) buildPartition(ctx context.Context, req *Request, primary *index.Table, paths []string, seqs []int) (*partial, error) {
	tab := index.New(primary.HashBits(), primary.Depth(), primary.MaxTimeBits())
	tab.SetSampleRate(primary.SampleRate())

	part := &partial{tab: tab}
	for j, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dur, count, err := req.Analyzer.Ingest(ctx, tab, path)
		if err != nil {
			return nil, fmt.Errorf("ingest %s: %w", path, err)
		}
		part.hashes += uint64(count)
		part.files++
		part.msgs = append(part.msgs,
			fmt.Sprintf("ingesting #%d: %s (%.3f sec, %d hashes)", seqs[j], path, dur, count))
	}
	return part, nil
}
