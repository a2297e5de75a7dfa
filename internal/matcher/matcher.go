// Package matcher scores query hashes against a fingerprint index.
//
// Matching is offset-histogram voting: every query hash that appears in the
// index votes for (file id, time skew) pairs, candidates are ranked by raw
// common hash count, and the winner's skew histogram is inspected within the
// configured window. The numeric scoring formula is deliberately simple; the
// ranked-report shape is the contract.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"earmark/internal/index"
	"earmark/internal/landmark"
	"earmark/internal/logging"
)

const frameHop = 256 // STFT hop in samples, fixed by the analyzer

// Result is one ranked match for a query file.
type Result struct {
	Name      string
	Count     int // common hashes within the skew window
	RawCount  int // all common hashes regardless of skew
	Skew      int // query-to-reference frame offset
	TimeStart float64
	TimeEnd   float64
}

// Matcher holds the query-time configuration.
type Matcher struct {
	params     landmark.MatcherParams
	sampleRate int
	logger     *slog.Logger
}

// New constructs a matcher. Illustration flags force exact counting, as the
// plots they once fed needed hash-accurate counts.
func New(params landmark.MatcherParams, sampleRate int, logger *slog.Logger) *Matcher {
	if params.Illustrate || params.IllustrateHPF {
		params.ExactCount = true
	}
	if sampleRate <= 0 {
		sampleRate = landmark.DefaultAnalyzerParams().SampleRate
	}
	return &Matcher{
		params:     params,
		sampleRate: sampleRate,
		logger:     logging.NewComponentLogger(logger, "matcher"),
	}
}

func (m *Matcher) frameSeconds(frames int) float64 {
	return float64(frames) * frameHop / float64(m.sampleRate)
}

// Match analyzes the query file and returns ranked results.
func (m *Matcher) Match(ctx context.Context, a landmark.Analyzer, tab *index.Table, path string) ([]Result, []landmark.Record, error) {
	recs, _, err := a.Hashes(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("analyze query %s: %w", path, err)
	}
	return m.rank(tab, recs), recs, nil
}

type candidate struct {
	id       uint32
	raw      int
	skewVote map[int]int
	hitTimes map[int][]uint32 // skew -> query times, kept for range reporting
}

func (m *Matcher) rank(tab *index.Table, recs []landmark.Record) []Result {
	byID := make(map[uint32]*candidate)
	for _, rec := range recs {
		for _, hit := range tab.Hits(rec.Hash) {
			c := byID[hit.ID]
			if c == nil {
				c = &candidate{
					id:       hit.ID,
					skewVote: make(map[int]int),
					hitTimes: make(map[int][]uint32),
				}
				byID[hit.ID] = c
			}
			skew := int(hit.Time) - int(rec.Time)
			c.raw++
			c.skewVote[skew]++
			c.hitTimes[skew] = append(c.hitTimes[skew], rec.Time)
		}
	}

	candidates := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].raw != candidates[j].raw {
			return candidates[i].raw > candidates[j].raw
		}
		return candidates[i].id < candidates[j].id
	})
	if len(candidates) > m.params.SearchDepth {
		candidates = candidates[:m.params.SearchDepth]
	}

	var results []Result
	for _, c := range candidates {
		skew, count := m.windowedCount(c)
		if count < m.params.MinCount {
			continue
		}
		result := Result{
			Name:     tab.NameOf(c.id),
			Count:    count,
			RawCount: c.raw,
			Skew:     skew,
		}
		if m.params.FindTimeRange {
			result.TimeStart, result.TimeEnd = m.timeRange(c, skew)
		}
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		if m.params.SortByTime && results[i].Skew != results[j].Skew {
			return results[i].Skew < results[j].Skew
		}
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Name < results[j].Name
	})
	if len(results) > m.params.MaxMatches {
		results = results[:m.params.MaxMatches]
	}
	return results
}

// windowedCount finds the best skew and counts common hashes whose skew falls
// within the match window of it. Exact counting deduplicates query times so a
// dense reference bucket cannot inflate the score.
func (m *Matcher) windowedCount(c *candidate) (int, int) {
	bestSkew, bestVotes := 0, -1
	for skew, votes := range c.skewVote {
		if votes > bestVotes || (votes == bestVotes && skew < bestSkew) {
			bestSkew, bestVotes = skew, votes
		}
	}

	count := 0
	for skew := bestSkew - m.params.Window; skew <= bestSkew+m.params.Window; skew++ {
		if m.params.ExactCount {
			seen := make(map[uint32]struct{})
			for _, qt := range c.hitTimes[skew] {
				seen[qt] = struct{}{}
			}
			count += len(seen)
		} else {
			count += c.skewVote[skew]
		}
	}
	return bestSkew, count
}

// timeRange reports the query-time support of the match, trimmed by the
// configured quantile at each extreme.
func (m *Matcher) timeRange(c *candidate, bestSkew int) (float64, float64) {
	var times []uint32
	for skew := bestSkew - m.params.Window; skew <= bestSkew+m.params.Window; skew++ {
		times = append(times, c.hitTimes[skew]...)
	}
	if len(times) == 0 {
		return 0, 0
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	trim := int(math.Floor(m.params.TimeQuantile * float64(len(times))))
	// A quantile at or beyond 0.5 would trim past the midpoint and invert
	// the range; clamp so lo never crosses hi.
	if max := (len(times) - 1) / 2; trim > max {
		trim = max
	}
	if trim < 0 {
		trim = 0
	}
	lo := times[trim]
	hi := times[len(times)-1-trim]
	return m.frameSeconds(int(lo)), m.frameSeconds(int(hi))
}

// Messages renders the ranked report block for one query file. seq is the
// query's position in the submission order and appears in every line so
// interleaved batch output stays attributable.
func (m *Matcher) Messages(ctx context.Context, a landmark.Analyzer, tab *index.Table, path string, seq int) ([]string, error) {
	results, recs, err := m.Match(ctx, a, tab, path)
	if err != nil {
		return nil, err
	}

	var maxTime uint32
	for _, rec := range recs {
		if rec.Time > maxTime {
			maxTime = rec.Time
		}
	}
	dur := m.frameSeconds(int(maxTime))

	if len(results) == 0 {
		return []string{fmt.Sprintf("NOMATCH #%d %s %.1f sec %d raw hashes", seq, path, dur, len(recs))}, nil
	}

	msgs := make([]string, 0, len(results))
	for rank, r := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "Matched #%d %s %.1f sec %d raw hashes as %s at %.1f s with %d of %d common hashes at rank %d",
			seq, path, dur, len(recs), r.Name, m.frameSeconds(r.Skew), r.Count, r.RawCount, rank)
		if m.params.FindTimeRange {
			fmt.Fprintf(&b, " (matched from %.1f s to %.1f s)", r.TimeStart, r.TimeEnd)
		}
		msgs = append(msgs, b.String())
	}
	return msgs, nil
}
