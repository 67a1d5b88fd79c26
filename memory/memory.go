package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/medcortex/medcortex/metrics"
	"github.com/medcortex/medcortex/schema"
)

// WorkingStore holds the recent turns of each conversation, ordered
// oldest first. Implementations must return copies.
type WorkingStore interface {
	Append(ctx context.Context, conversationID string, turn schema.Turn) error
	Turns(ctx context.Context, conversationID string) ([]schema.Turn, error)
	// Drop removes the n oldest turns.
	Drop(ctx context.Context, conversationID string, n int) error
	Clear(ctx context.Context, conversationID string) error
}

// ArchiveStore persists eviction summaries and serves recall over them.
type ArchiveStore interface {
	Write(ctx context.Context, rec ArchiveRecord) error
	Search(ctx context.Context, session schema.Session, input string, topK int) ([]schema.Fragment, error)
}

// Recall is what the memory read branch contributes to a run.
type Recall struct {
	// WorkingText is the most recent turns verbatim, one
	// "role: content" line per turn.
	WorkingText string
	// Summary is archived context relevant to the current input,
	// empty when recall found nothing.
	Summary string
}

// Text returns the memory part of the assembled context: relevant
// archive summaries when recall found any, recent turns otherwise.
func (r Recall) Text() string {
	if r.Summary != "" {
		return r.Summary
	}
	return r.WorkingText
}

// Manager owns conversation memory. Reads serve the gather phase;
// Ingest appends turns and runs the eviction policy. Turn mutation is
// serialized per conversation, so concurrent turns queue up instead of
// interleaving.
type Manager struct {
	working      WorkingStore
	archive      ArchiveStore
	maxTurns     int
	recallBudget int
	archiveTopK  int
	log          *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires the stores under the memory settings.
func NewManager(working WorkingStore, archive ArchiveStore, maxTurns, recallBudget, archiveTopK int, log *zap.Logger) *Manager {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	if recallBudget <= 0 {
		recallBudget = 1500
	}
	if archiveTopK <= 0 {
		archiveTopK = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		working:      working,
		archive:      archive,
		maxTurns:     maxTurns,
		recallBudget: recallBudget,
		archiveTopK:  archiveTopK,
		log:          log,
		locks:        make(map[string]*sync.Mutex),
	}
}

// Process loads conversation memory for the current input. A brand-new
// conversation yields an empty Recall and no error. Archive recall
// failures degrade to the recent turns and are not returned as errors.
func (m *Manager) Process(ctx context.Context, session schema.Session, currentInput string) (Recall, error) {
	turns, err := m.working.Turns(ctx, session.ConversationID)
	if err != nil {
		return Recall{}, fmt.Errorf("read working memory: %w", err)
	}
	if len(turns) == 0 {
		return Recall{}, nil
	}

	recent := turns[keepIndex(turns, m.maxTurns):]
	recall := Recall{WorkingText: capText(formatTurns(recent), m.recallBudget)}

	fragments, err := m.archive.Search(ctx, session, currentInput, m.archiveTopK)
	if err != nil {
		m.log.Warn("archive recall failed, serving recent turns",
			zap.String("conversation_id", session.ConversationID),
			zap.Error(err))
		return recall, nil
	}
	recall.Summary = packFragments(fragments, m.recallBudget)
	return recall, nil
}

// Ingest appends one turn and applies the eviction policy. Eviction
// failures are logged and swallowed; the turn itself must land.
func (m *Manager) Ingest(ctx context.Context, session schema.Session, turn schema.Turn) error {
	lock := m.lockFor(session.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.working.Append(ctx, session.ConversationID, turn); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	m.evict(ctx, session)
	return nil
}

func (m *Manager) evict(ctx context.Context, session schema.Session) {
	turns, err := m.working.Turns(ctx, session.ConversationID)
	if err != nil {
		m.log.Warn("eviction skipped, working memory unreadable",
			zap.String("conversation_id", session.ConversationID),
			zap.Error(err))
		metrics.IncEviction(false)
		return
	}

	cut := keepIndex(turns, m.maxTurns)
	if cut <= 0 {
		return
	}
	evicted := turns[:cut]

	record := Summarize(session, evicted)
	if err := m.archive.Write(ctx, record); err != nil {
		// Keep the turns in working memory; retry on the next ingest.
		m.log.Warn("archive write failed, eviction deferred",
			zap.String("conversation_id", session.ConversationID),
			zap.Error(err))
		metrics.IncEviction(false)
		return
	}
	if err := m.working.Drop(ctx, session.ConversationID, cut); err != nil {
		m.log.Warn("drop of evicted turns failed",
			zap.String("conversation_id", session.ConversationID),
			zap.Error(err))
		metrics.IncEviction(false)
		return
	}
	m.log.Debug("evicted turns to archive",
		zap.String("conversation_id", session.ConversationID),
		zap.Int("turns", len(evicted)))
	metrics.IncEviction(true)
}

func (m *Manager) lockFor(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	return lock
}

// keepIndex returns the index of the first turn to keep so that at most
// maxTurns user turns remain, counting from the end. Assistant turns
// travel with the user turn they follow.
func keepIndex(turns []schema.Turn, maxTurns int) int {
	users := 0
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == schema.RoleUser {
			users++
			if users == maxTurns {
				return i
			}
		}
	}
	return 0
}

func formatTurns(turns []schema.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
	}
	return strings.Join(lines, "\n")
}

// packFragments appends fragments in relevance order until the budget
// is spent; the overflowing fragment is cut and suffix-marked.
func packFragments(fragments []schema.Fragment, budget int) string {
	var b strings.Builder
	for _, f := range fragments {
		if f.Content == "" {
			continue
		}
		piece := f.Content
		if b.Len() > 0 {
			piece = "\n\n" + piece
		}
		remaining := budget - b.Len()
		if remaining <= 0 {
			break
		}
		if len(piece) > remaining {
			b.WriteString(schema.TruncateAt(piece, remaining))
			b.WriteString(schema.TruncationMarker)
			break
		}
		b.WriteString(piece)
	}
	return b.String()
}

func capText(text string, budget int) string {
	if len(text) <= budget {
		return text
	}
	return schema.TruncateAt(text, budget) + schema.TruncationMarker
}
