package retriever

import (
	"context"
	"time"

	"github.com/medcortex/medcortex/schema"
)

// Static serves a fixed fragment set. It backs the "static" knowledge
// provider for offline runs and doubles as the searcher used in tests.
type Static struct {
	Name      string
	Fragments []schema.Fragment
	Err       error
	// Delay is applied before answering, for timeout tests.
	Delay time.Duration
}

func (s *Static) Source() string { return s.Name }

func (s *Static) Search(ctx context.Context, q Query) ([]schema.Fragment, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	limit := q.TopK
	if limit <= 0 || limit > len(s.Fragments) {
		limit = len(s.Fragments)
	}
	out := make([]schema.Fragment, limit)
	copy(out, s.Fragments[:limit])
	return out, nil
}
