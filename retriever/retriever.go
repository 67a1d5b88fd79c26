package retriever

import (
	"context"

	"github.com/medcortex/medcortex/schema"
)

// Query is one search request against a knowledge source. SubjectID and
// ConversationID narrow the search for sources that partition by owner;
// sources without such filters ignore them.
type Query struct {
	Text           string
	SubjectID      int
	ConversationID string
	TopK           int
}

// Searcher is a unified search interface across knowledge backends.
type Searcher interface {
	Source() string
	Search(ctx context.Context, q Query) ([]schema.Fragment, error)
}
