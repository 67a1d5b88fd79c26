package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/medcortex/medcortex/cache"
	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/retriever"
	"github.com/medcortex/medcortex/schema"
)

func knowledgeConfig(topK int, pw float64) config.KnowledgeConfig {
	return config.KnowledgeConfig{Provider: "static", TopK: topK, PriorityWeight: pw}
}

type countingSearcher struct {
	retriever.Static
	calls atomic.Int64
	lastK atomic.Int64
}

func (s *countingSearcher) Search(ctx context.Context, q retriever.Query) ([]schema.Fragment, error) {
	s.calls.Inc()
	s.lastK.Store(int64(q.TopK))
	return s.Static.Search(ctx, q)
}

type panicSearcher struct{ name string }

func (s *panicSearcher) Source() string { return s.name }

func (s *panicSearcher) Search(ctx context.Context, q retriever.Query) ([]schema.Fragment, error) {
	panic("searcher exploded")
}

func expertFrags(n int) []schema.Fragment {
	out := make([]schema.Fragment, n)
	for i := range out {
		out[i] = schema.Fragment{
			Content: string(rune('a' + i)),
			Source:  schema.SourceExpert,
			Score:   1.0 - float64(i)*0.05,
		}
	}
	return out
}

func TestGather_MergesBySource(t *testing.T) {
	expert := &retriever.Static{Name: schema.SourceExpert, Fragments: []schema.Fragment{
		{Content: "guideline", Source: schema.SourceExpert, Score: 0.9},
	}}
	personal := &retriever.Static{Name: schema.SourcePersonal, Fragments: []schema.Fragment{
		{Content: "lab result", Source: schema.SourcePersonal, Score: 0.8},
	}}

	c := NewCoordinator(knowledgeConfig(5, 0.2), []retriever.Searcher{expert, personal}, nil, nil)
	res := c.Gather(context.Background(), retriever.Query{Text: "chest pain", SubjectID: 7})

	if len(res.Degraded) != 0 {
		t.Fatalf("unexpected degraded branches: %v", res.Degraded)
	}
	if len(res.Expert) != 1 || res.Expert[0].Content != "guideline" {
		t.Fatalf("expert fragments wrong: %+v", res.Expert)
	}
	if len(res.Personal) != 1 || res.Personal[0].Content != "lab result" {
		t.Fatalf("personal fragments wrong: %+v", res.Personal)
	}
}

func TestGather_BranchFailureLeavesOthersIntact(t *testing.T) {
	expert := &retriever.Static{Name: schema.SourceExpert, Err: errors.New("milvus down")}
	personal := &retriever.Static{Name: schema.SourcePersonal, Fragments: []schema.Fragment{
		{Content: "lab result", Source: schema.SourcePersonal, Score: 0.8},
	}}

	c := NewCoordinator(knowledgeConfig(5, 0.2), []retriever.Searcher{expert, personal}, nil, nil)
	res := c.Gather(context.Background(), retriever.Query{Text: "q", SubjectID: 7})

	if len(res.Personal) != 1 {
		t.Fatalf("surviving branch lost its results: %+v", res.Personal)
	}
	if len(res.Degraded) != 1 || res.Degraded[0].Source != schema.SourceExpert {
		t.Fatalf("expected one degraded expert branch, got %v", res.Degraded)
	}
	if !errors.Is(res.Degraded[0], expert.Err) {
		t.Fatalf("degraded error does not wrap the cause: %v", res.Degraded[0])
	}
}

func TestGather_AllBranchesFailStillReturns(t *testing.T) {
	expert := &retriever.Static{Name: schema.SourceExpert, Err: errors.New("down")}
	personal := &retriever.Static{Name: schema.SourcePersonal, Err: errors.New("also down")}

	c := NewCoordinator(knowledgeConfig(5, 0.2), []retriever.Searcher{expert, personal}, nil, nil)

	done := make(chan Result, 1)
	go func() { done <- c.Gather(context.Background(), retriever.Query{Text: "q"}) }()

	select {
	case res := <-done:
		if len(res.Expert)+len(res.Personal) != 0 {
			t.Fatalf("expected no fragments, got %+v", res)
		}
		if len(res.Degraded) != 2 {
			t.Fatalf("expected both branches degraded, got %v", res.Degraded)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("gather did not return with every branch failing")
	}
}

func TestGather_PanicReportsAsDegraded(t *testing.T) {
	bad := &panicSearcher{name: schema.SourceExpert}
	personal := &retriever.Static{Name: schema.SourcePersonal, Fragments: []schema.Fragment{
		{Content: "note", Source: schema.SourcePersonal, Score: 0.7},
	}}

	c := NewCoordinator(knowledgeConfig(5, 0.2), []retriever.Searcher{bad, personal}, nil, nil)
	res := c.Gather(context.Background(), retriever.Query{Text: "q"})

	if len(res.Degraded) != 1 || res.Degraded[0].Source != schema.SourceExpert {
		t.Fatalf("panic not surfaced as degraded branch: %v", res.Degraded)
	}
	if len(res.Personal) != 1 {
		t.Fatalf("healthy branch was affected by the panic: %+v", res.Personal)
	}
}

func TestGather_OverFetchesOnlyWhenReweighting(t *testing.T) {
	s := &countingSearcher{Static: retriever.Static{Name: schema.SourceExpert}}

	NewCoordinator(knowledgeConfig(5, 0.2), []retriever.Searcher{s}, nil, nil).
		Gather(context.Background(), retriever.Query{Text: "q"})
	if got := s.lastK.Load(); got != 10 {
		t.Fatalf("expected over-fetch of 10, searcher saw top_k=%d", got)
	}

	NewCoordinator(knowledgeConfig(5, 0), []retriever.Searcher{s}, nil, nil).
		Gather(context.Background(), retriever.Query{Text: "q"})
	if got := s.lastK.Load(); got != 5 {
		t.Fatalf("expected plain top_k of 5, searcher saw %d", got)
	}
}

func TestGather_CutsToTopKAfterReweighting(t *testing.T) {
	fragments := expertFrags(10)
	// Tag the last fragment authoritative so reweighting pulls it in.
	fragments[9].Priority = 1
	expert := &retriever.Static{Name: schema.SourceExpert, Fragments: fragments}

	c := NewCoordinator(knowledgeConfig(3, 0.5), []retriever.Searcher{expert}, nil, nil)
	res := c.Gather(context.Background(), retriever.Query{Text: "q"})

	if len(res.Expert) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(res.Expert))
	}
	found := false
	for _, f := range res.Expert {
		if f.Priority == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("authoritative fragment did not climb into the cutoff: %+v", res.Expert)
	}
}

func TestGather_ServesRepeatedQuestionsFromCache(t *testing.T) {
	s := &countingSearcher{Static: retriever.Static{
		Name:      schema.SourceExpert,
		Fragments: expertFrags(3),
	}}
	results := cache.NewFragments(16, time.Minute)
	c := NewCoordinator(knowledgeConfig(3, 0.2), []retriever.Searcher{s}, results, nil)

	q := retriever.Query{Text: "chest pain", SubjectID: 7}
	first := c.Gather(context.Background(), q)
	second := c.Gather(context.Background(), q)

	if got := s.calls.Load(); got != 1 {
		t.Fatalf("expected one backend call, got %d", got)
	}
	if len(first.Expert) != len(second.Expert) {
		t.Fatalf("cached gather differs: %d vs %d", len(first.Expert), len(second.Expert))
	}

	// A different subject must not reuse the entry.
	c.Gather(context.Background(), retriever.Query{Text: "chest pain", SubjectID: 8})
	if got := s.calls.Load(); got != 2 {
		t.Fatalf("expected a fresh backend call per subject, got %d", got)
	}
}

func TestGather_DropsFragmentsBelowThreshold(t *testing.T) {
	expert := &retriever.Static{Name: schema.SourceExpert, Fragments: []schema.Fragment{
		{Content: "strong", Source: schema.SourceExpert, Score: 0.9},
		{Content: "weak", Source: schema.SourceExpert, Score: 0.2},
	}}
	cfg := knowledgeConfig(5, 0.2)
	cfg.Threshold = 0.5

	c := NewCoordinator(cfg, []retriever.Searcher{expert}, nil, nil)
	res := c.Gather(context.Background(), retriever.Query{Text: "q"})

	if len(res.Expert) != 1 || res.Expert[0].Content != "strong" {
		t.Fatalf("threshold filter failed: %+v", res.Expert)
	}
}
