package spatial

import (
	"container/heap"
	"context"
	"io"
	"math"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// RecordSource yields tagged, aligned records, returning io.EOF after
// the last one.
type RecordSource interface {
	Next() (*sam.Record, error)
}

// RecordSink receives the kept records, re-tagged with their corrected
// coordinates. It is optional; without one the pipeline only counts.
type RecordSink interface {
	Write(*sam.Record) error
}

type req struct {
	seq uint64
	rec *sam.Record
}

// invalidSeq marks a res carrying a worker's final local stats rather
// than a read.
const invalidSeq = math.MaxUint64

type res struct {
	seq  uint64
	rec  *sam.Record
	keep bool
	spot SpotID
	gene string
	umi  string

	stats *Stats
}

// resHeap orders pending results by sequence number so the collector can
// restore input order before deduplicating.
type resHeap []res

func (h resHeap) Len() int            { return len(h) }
func (h resHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h resHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resHeap) Push(x interface{}) { *h = append(*h, x.(res)) }
func (h *resHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// memoHit caches one correction result for a worker-local fragment
// cache.
type memoHit struct {
	entry   *BarcodeEntry
	edits   int
	outcome Outcome
}

// memoCap bounds each worker's per-round fragment cache. Real runs see
// a small set of distinct error fragments per round, far below the cap.
const memoCap = 1 << 20

// Pipeline streams records through barcode correction and spot
// resolution in parallel workers, then aggregates (spot, gene, umi)
// triples in a single owning collector. The legend and options must not
// change during a run.
type Pipeline struct {
	Legend *Legend
	Opts   Opts
	Source RecordSource
	// Sink, when non-nil, receives every kept record in input order.
	Sink RecordSink
}

// Result is the outcome of one pipeline run.
type Result struct {
	Matrix *CountMatrix
	Stats  *Stats
}

// Run consumes the source to exhaustion (or ctx cancellation) and
// returns the finalized matrix and run statistics. Per-read failures
// only tally; Run fails only on source/sink I/O errors or cancellation.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.Legend == nil {
		return nil, errors.New("pipeline: no legend")
	}
	if p.Source == nil {
		return nil, errors.New("pipeline: no source")
	}
	opts := &p.Opts
	tags := newTagSet(opts)
	corrector := NewCorrector(p.Legend, opts)
	resolver := NewResolver(p.Legend)
	dedup := NewDeduplicator(opts)
	asm := NewAssembler(p.Legend.HasRound(RoundZ))
	stats := NewStats()

	reqCh := make(chan req, opts.queueLength())
	resCh := make(chan res, 1024)

	// Workers: no shared mutable state; each owns its stats and caches.
	go func() {
		_ = traverse.Each(opts.parallelism(), func(_ int) error {
			p.worker(corrector, resolver, tags, reqCh, resCh)
			return nil
		})
		close(resCh)
	}()

	// Collector: the single owner of the deduplicator, the assembler,
	// and the sink.
	var (
		collectWg  sync.WaitGroup
		collectErr error
	)
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		collectErr = p.collect(resCh, dedup, asm, tags, stats)
	}()

	var readErr error
	seq := uint64(0)
loop:
	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
			break loop
		default:
		}
		rec, err := p.Source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = errors.Wrap(err, "read input")
			break
		}
		reqCh <- req{seq: seq, rec: rec}
		seq++
		if opts.LogEvery > 0 && seq%uint64(opts.LogEvery) == 0 {
			log.Printf("processed %d reads", seq)
		}
	}
	close(reqCh)
	collectWg.Wait()
	if readErr != nil {
		return nil, readErr
	}
	if collectErr != nil {
		return nil, collectErr
	}
	stats.Molecules = dedup.Molecules()
	stats.Duplicates = dedup.Duplicates()
	stats.OverflowKeys = dedup.OverflowKeys()
	return &Result{Matrix: asm.Finalize(), Stats: stats}, nil
}

func (p *Pipeline) worker(corrector *Corrector, resolver *Resolver, tags *tagSet, reqCh chan req, resCh chan res) {
	stats := NewStats()
	var memo [numRounds]map[string]memoHit
	for r := range memo {
		memo[r] = map[string]memoHit{}
	}
	correct := func(r Round, frag string) (*BarcodeEntry, Outcome) {
		if hit, ok := memo[r][frag]; ok {
			return hit.entry, hit.outcome
		}
		entry, edits, outcome := corrector.Correct(r, frag)
		if len(memo[r]) < memoCap {
			memo[r][frag] = memoHit{entry: entry, edits: edits, outcome: outcome}
		}
		return entry, outcome
	}
	rounds := p.Legend.Rounds()
	for rq := range reqCh {
		stats.TotalReads++
		out := res{seq: rq.seq, rec: rq.rec}
		obs := parseRecord(rq.rec, tags)
		switch {
		case rq.rec.Flags&(sam.Secondary|sam.Supplementary) != 0:
			stats.Secondary++
		case int(obs.MapQ) < p.Opts.MinMapQ:
			stats.LowMapQ++
		default:
			var entries [numRounds]*BarcodeEntry
			missing, rejected := false, false
			allExact := true
			for _, r := range rounds {
				frag := obs.Fragments[r]
				if frag == "" {
					missing = true
					allExact = false
					continue
				}
				entry, outcome := correct(r, frag)
				rs := &stats.Rounds[r]
				switch outcome {
				case MatchExact:
					rs.Exact++
				case MatchCorrected:
					rs.Corrected++
					allExact = false
				case NoMatch:
					rs.NoMatch++
					rejected = true
					allExact = false
				case Ambiguous:
					rs.Ambiguous++
					rejected = true
					allExact = false
				}
				if outcome.Matched() {
					rs.WellCounts[entry.Well]++
					entries[r] = entry
				}
			}
			switch {
			case missing:
				stats.SpotUnresolved++
			case rejected:
				stats.BarcodeRejected++
			default:
				spot, ok := resolver.Resolve(entries)
				if !ok {
					stats.SpotUnresolved++
					break
				}
				if allExact {
					stats.AllExact++
				}
				if obs.Gene == "" {
					stats.NoGene++
					break
				}
				stats.Kept++
				out.keep = true
				out.spot = spot
				out.gene = obs.Gene
				out.umi = obs.UMI
			}
		}
		resCh <- out
	}
	resCh <- res{seq: invalidSeq, stats: stats}
}

func (p *Pipeline) collect(resCh chan res, dedup *Deduplicator, asm *Assembler, tags *tagSet, stats *Stats) error {
	rounds := p.Legend.Rounds()
	var pending resHeap
	var sinkErr error
	next := uint64(0)
	for r := range resCh {
		if r.seq == invalidSeq {
			stats.Merge(r.stats)
			continue
		}
		heap.Push(&pending, r)
		for len(pending) > 0 && pending[0].seq == next {
			cur := heap.Pop(&pending).(res)
			next++
			if !cur.keep {
				continue
			}
			if dedup.Observe(cur.spot, cur.gene, cur.umi) {
				asm.Increment(cur.spot, cur.gene)
			}
			if p.Sink != nil && sinkErr == nil {
				if err := tagResolved(cur.rec, cur.spot, rounds, tags); err != nil {
					sinkErr = errors.Wrap(err, "tag filtered record")
					continue
				}
				if err := p.Sink.Write(cur.rec); err != nil {
					sinkErr = errors.Wrap(err, "write filtered record")
				}
			}
		}
	}
	return sinkErr
}
