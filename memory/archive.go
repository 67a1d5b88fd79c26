package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/medcortex/medcortex/retriever"
	"github.com/medcortex/medcortex/schema"
)

// ArchiveRecord is one eviction summary. SQLite is the system of
// record; the vector index only mirrors rows for semantic recall.
type ArchiveRecord struct {
	ID             string `gorm:"primaryKey;size:36"`
	ConversationID string `gorm:"index;size:128"`
	SubjectID      int    `gorm:"index"`
	Summary        string `gorm:"type:text"`
	TurnCount      int
	CreatedAt      time.Time
}

func (ArchiveRecord) TableName() string { return "memory_archive" }

// VectorIndex mirrors archive records into a vector store and answers
// semantic recall queries over them.
type VectorIndex interface {
	Index(ctx context.Context, rec ArchiveRecord) error
	Search(ctx context.Context, q retriever.Query) ([]schema.Fragment, error)
}

// Archive persists eviction summaries and serves recall over them.
// Semantic search through the vector index is preferred; when the
// index is missing, errors out, or has nothing for the conversation,
// recall degrades to a keyword match over the SQLite rows.
type Archive struct {
	db    *gorm.DB
	index VectorIndex
	log   *zap.Logger
}

// OpenArchive opens (creating if needed) the archive database at path.
// index may be nil, in which case recall is lexical only.
func OpenArchive(path string, index VectorIndex, log *zap.Logger) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&ArchiveRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive schema: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{db: db, index: index, log: log}, nil
}

// Write stores the record and mirrors it into the vector index. An
// indexing failure is logged, not returned: the row is safe in SQLite
// and lexical recall can still surface it.
func (a *Archive) Write(ctx context.Context, rec ArchiveRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("write archive record: %w", err)
	}
	if a.index != nil {
		if err := a.index.Index(ctx, rec); err != nil {
			a.log.Warn("archive record not mirrored to vector index",
				zap.String("record_id", rec.ID),
				zap.String("conversation_id", rec.ConversationID),
				zap.Error(err))
		}
	}
	return nil
}

// Search returns up to topK archived fragments relevant to input for
// the session's conversation.
func (a *Archive) Search(ctx context.Context, session schema.Session, input string, topK int) ([]schema.Fragment, error) {
	if topK <= 0 {
		topK = 3
	}
	if a.index != nil {
		fragments, err := a.index.Search(ctx, retriever.Query{
			Text:           input,
			SubjectID:      session.SubjectID,
			ConversationID: session.ConversationID,
			TopK:           topK,
		})
		if err != nil {
			a.log.Warn("semantic recall failed, trying lexical match",
				zap.String("conversation_id", session.ConversationID),
				zap.Error(err))
		} else if len(fragments) > 0 {
			return fragments, nil
		}
	}
	return a.lexicalSearch(ctx, session, input, topK)
}

// lexicalSearch matches recall keywords against stored summaries with
// LIKE, newest rows first. With no usable keywords it returns the
// newest rows outright so the caller still sees the recent archive.
func (a *Archive) lexicalSearch(ctx context.Context, session schema.Session, input string, topK int) ([]schema.Fragment, error) {
	tx := a.db.WithContext(ctx).
		Where("conversation_id = ? AND subject_id = ?", session.ConversationID, session.SubjectID)

	if terms := recallTerms(input); len(terms) > 0 {
		match := a.db.Where("summary LIKE ?", "%"+terms[0]+"%")
		for _, term := range terms[1:] {
			match = match.Or("summary LIKE ?", "%"+term+"%")
		}
		tx = tx.Where(match)
	}

	var rows []ArchiveRecord
	if err := tx.Order("created_at DESC").Limit(topK).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lexical recall: %w", err)
	}

	fragments := make([]schema.Fragment, 0, len(rows))
	for i, row := range rows {
		fragments = append(fragments, schema.Fragment{
			Content: row.Summary,
			Source:  schema.SourceMemory,
			Score:   0.5 - 0.01*float64(i),
		})
	}
	return fragments, nil
}

// recallTerms picks the words worth matching on, at most four. Short
// words are noise in a LIKE query and are skipped.
func recallTerms(input string) []string {
	const maxTerms = 4
	terms := make([]string, 0, maxTerms)
	for _, word := range strings.Fields(input) {
		word = strings.Trim(word, ".,;:!?\"'()[]")
		if len(word) < 4 {
			continue
		}
		terms = append(terms, word)
		if len(terms) == maxTerms {
			break
		}
	}
	return terms
}
