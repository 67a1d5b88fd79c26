package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/medcortex/medcortex/cache"
	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/metrics"
	"github.com/medcortex/medcortex/retriever"
	"github.com/medcortex/medcortex/schema"
)

// SourceError records one degraded search source. The run proceeds with
// whatever the other sources returned.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s search degraded: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Result carries the per-source fragments of one gather, already
// reweighted and cut to top_k, plus the sources that failed.
type Result struct {
	Expert   []schema.Fragment
	Personal []schema.Fragment
	Degraded []*SourceError
}

// Coordinator fans a question out to every knowledge source in
// parallel and joins the branches. A branch that errors or panics is
// reported in Result.Degraded; Gather itself always returns.
type Coordinator struct {
	searchers      []retriever.Searcher
	cache          *cache.Fragments
	topK           int
	priorityWeight float64
	threshold      float64
	log            *zap.Logger
}

// NewCoordinator wires the searchers under the knowledge settings.
// results may be nil to disable caching.
func NewCoordinator(cfg config.KnowledgeConfig, searchers []retriever.Searcher, results *cache.Fragments, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	pw := cfg.PriorityWeight
	if pw < 0 {
		pw = DefaultPriorityWeight
	}
	return &Coordinator{
		searchers:      searchers,
		cache:          results,
		topK:           topK,
		priorityWeight: pw,
		threshold:      cfg.Threshold,
		log:            log,
	}
}

type branchOutcome struct {
	source    string
	fragments []schema.Fragment
	err       error
}

// Gather runs every source concurrently and merges the outcomes.
// Sources are over-fetched at twice top_k when reweighting is active so
// authoritative fragments ranked below the cutoff can climb into it.
func (c *Coordinator) Gather(ctx context.Context, q retriever.Query) Result {
	fetchK := c.topK
	if c.priorityWeight > 0 {
		fetchK = c.topK * 2
	}
	q.TopK = fetchK

	outcomes := make(chan branchOutcome, len(c.searchers))
	var wg sync.WaitGroup
	for _, s := range c.searchers {
		searcher := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes <- branchOutcome{
						source: searcher.Source(),
						err:    fmt.Errorf("search panicked: %v", r),
					}
				}
			}()
			start := time.Now()
			fragments, err := c.searchOne(ctx, searcher, q)
			metrics.ObserveBranch(searcher.Source(), start, err != nil)
			outcomes <- branchOutcome{source: searcher.Source(), fragments: fragments, err: err}
		}()
	}
	wg.Wait()
	close(outcomes)

	var res Result
	for out := range outcomes {
		if out.err != nil {
			c.log.Warn("knowledge branch degraded",
				zap.String("source", out.source),
				zap.Error(out.err))
			res.Degraded = append(res.Degraded, &SourceError{Source: out.source, Err: out.err})
			continue
		}
		kept := c.keepAboveThreshold(out.fragments)
		ranked := Reweight(kept, c.priorityWeight)
		if len(ranked) > c.topK {
			ranked = ranked[:c.topK]
		}
		switch out.source {
		case schema.SourceExpert:
			res.Expert = append(res.Expert, ranked...)
		case schema.SourcePersonal:
			res.Personal = append(res.Personal, ranked...)
		default:
			// Unknown sources rank with personal records.
			res.Personal = append(res.Personal, ranked...)
		}
	}
	return res
}

func (c *Coordinator) searchOne(ctx context.Context, s retriever.Searcher, q retriever.Query) ([]schema.Fragment, error) {
	key := ""
	if c.cache != nil {
		key = cache.Key(s.Source(), q.Text, q.SubjectID, q.TopK)
		if fragments, ok := c.cache.Get(key); ok {
			metrics.IncCache(true)
			return fragments, nil
		}
		metrics.IncCache(false)
	}

	fragments, err := s.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Set(key, fragments)
	}
	return fragments, nil
}

func (c *Coordinator) keepAboveThreshold(fragments []schema.Fragment) []schema.Fragment {
	if c.threshold <= 0 {
		return fragments
	}
	kept := fragments[:0:0]
	for _, f := range fragments {
		if f.Score >= c.threshold {
			kept = append(kept, f)
		}
	}
	return kept
}
