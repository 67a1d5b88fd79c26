package memory

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/medcortex/medcortex/embedding"
	"github.com/medcortex/medcortex/retriever"
	"github.com/medcortex/medcortex/schema"
)

// MilvusIndex keeps archive summaries searchable by meaning. Writes
// embed the summary and insert it into the memory collection; reads
// go through the shared retriever scoped to the conversation.
type MilvusIndex struct {
	client     client.Client
	embed      embedding.Provider
	collection string
	searcher   *retriever.Milvus
}

func NewMilvusIndex(c client.Client, embed embedding.Provider, collection string, log *zap.Logger) *MilvusIndex {
	return &MilvusIndex{
		client:     c,
		embed:      embed,
		collection: collection,
		searcher: retriever.NewMilvus(schema.SourceMemory, collection, c, embed, log,
			retriever.WithConversationFilter()),
	}
}

func (x *MilvusIndex) Index(ctx context.Context, rec ArchiveRecord) error {
	vector, err := x.embed.GetEmbedding(ctx, rec.Summary)
	if err != nil {
		return fmt.Errorf("embed archive summary: %w", err)
	}
	_, err = x.client.Insert(ctx, x.collection, "",
		entity.NewColumnVarChar("id", []string{rec.ID}),
		entity.NewColumnVarChar(retriever.FieldConversation, []string{rec.ConversationID}),
		entity.NewColumnInt64(retriever.FieldSubject, []int64{int64(rec.SubjectID)}),
		entity.NewColumnVarChar(retriever.FieldContent, []string{rec.Summary}),
		entity.NewColumnFloatVector(retriever.FieldVector, len(vector), [][]float32{vector}),
	)
	if err != nil {
		return fmt.Errorf("insert archive summary into %s: %w", x.collection, err)
	}
	return nil
}

func (x *MilvusIndex) Search(ctx context.Context, q retriever.Query) ([]schema.Fragment, error) {
	return x.searcher.Search(ctx, q)
}
