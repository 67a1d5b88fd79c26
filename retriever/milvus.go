package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/embedding"
	"github.com/medcortex/medcortex/schema"
)

// Collection field layout shared by every medcortex collection.
const (
	FieldContent      = "content"
	FieldPriority     = "priority"
	FieldSubject      = "subject_id"
	FieldConversation = "conversation_id"
	FieldVector       = "vector"
)

// Connect dials Milvus with the configured connection settings.
func Connect(ctx context.Context, cfg config.MilvusConfig) (client.Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address(),
		Username: cfg.Username,
		Password: cfg.Password,
		DBName:   cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus at %s: %w", cfg.Address(), err)
	}
	return c, nil
}

// Milvus searches one collection through an embedding of the query text.
type Milvus struct {
	source     string
	collection string
	client     client.Client
	embed      embedding.Provider
	metric     entity.MetricType
	bySubject  bool
	byConvo    bool
	log        *zap.Logger
}

type MilvusOption func(*Milvus)

// WithSubjectFilter restricts results to the querying subject.
func WithSubjectFilter() MilvusOption {
	return func(m *Milvus) { m.bySubject = true }
}

// WithConversationFilter restricts results to the active conversation.
func WithConversationFilter() MilvusOption {
	return func(m *Milvus) { m.byConvo = true }
}

// WithMetricType overrides the similarity metric, COSINE by default.
func WithMetricType(mt entity.MetricType) MilvusOption {
	return func(m *Milvus) { m.metric = mt }
}

// NewMilvus builds a searcher over one collection.
func NewMilvus(source, collection string, c client.Client, embed embedding.Provider, log *zap.Logger, opts ...MilvusOption) *Milvus {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Milvus{
		source:     source,
		collection: collection,
		client:     c,
		embed:      embed,
		metric:     entity.COSINE,
		log:        log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Milvus) Source() string { return m.source }

func (m *Milvus) Search(ctx context.Context, q Query) ([]schema.Fragment, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	vector, err := m.embed.GetEmbedding(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query for %s: %w", m.source, err)
	}

	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, fmt.Errorf("build search param: %w", err)
	}

	var res []client.SearchResult
	err = retry.Do(
		func() error {
			var searchErr error
			res, searchErr = m.client.Search(ctx, m.collection, nil, m.filterExpr(q),
				[]string{FieldContent, FieldPriority},
				[]entity.Vector{entity.FloatVector(vector)},
				FieldVector, m.metric, topK, sp)
			return searchErr
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", m.collection, err)
	}

	fragments := make([]schema.Fragment, 0, topK)
	for _, rs := range res {
		contentCol := rs.Fields.GetColumn(FieldContent)
		if contentCol == nil {
			m.log.Warn("collection is missing the content field",
				zap.String("collection", m.collection))
			continue
		}
		priorityCol := rs.Fields.GetColumn(FieldPriority)
		for i := 0; i < rs.ResultCount; i++ {
			content, err := contentCol.GetAsString(i)
			if err != nil || content == "" {
				continue
			}
			frag := schema.Fragment{
				Content: content,
				Source:  m.source,
				Score:   float64(rs.Scores[i]),
			}
			if priorityCol != nil {
				if p, err := priorityCol.GetAsInt64(i); err == nil {
					frag.Priority = int(p)
				}
			}
			fragments = append(fragments, frag)
		}
	}
	return fragments, nil
}

func (m *Milvus) filterExpr(q Query) string {
	var parts []string
	if m.bySubject && q.SubjectID > 0 {
		parts = append(parts, fmt.Sprintf("%s == %d", FieldSubject, q.SubjectID))
	}
	if m.byConvo && q.ConversationID != "" {
		parts = append(parts, fmt.Sprintf("%s == %q", FieldConversation, q.ConversationID))
	}
	return strings.Join(parts, " && ")
}
