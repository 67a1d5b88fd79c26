package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/medcortex/medcortex/schema"
)

type scriptedArchive struct {
	mu        sync.Mutex
	records   []ArchiveRecord
	writeErr  error
	fragments []schema.Fragment
	searchErr error
}

func (s *scriptedArchive) Write(ctx context.Context, rec ArchiveRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *scriptedArchive) Search(ctx context.Context, session schema.Session, input string, topK int) ([]schema.Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.fragments, nil
}

func (s *scriptedArchive) written() []ArchiveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ArchiveRecord(nil), s.records...)
}

func ingestPair(t *testing.T, m *Manager, session schema.Session, question, answer string) {
	t.Helper()
	ctx := context.Background()
	if err := m.Ingest(ctx, session, schema.Turn{Role: schema.RoleUser, Content: question}); err != nil {
		t.Fatalf("ingest user turn: %v", err)
	}
	if err := m.Ingest(ctx, session, schema.Turn{Role: schema.RoleAssistant, Content: answer}); err != nil {
		t.Fatalf("ingest assistant turn: %v", err)
	}
}

// Four question/answer pairs with maxTurns=3: ingesting the fourth
// question pushes the first pair out of working memory into a single
// archive record, and the read serving the fifth question sees exactly
// the last three questions with their answers.
func TestManager_EvictionKeepsRecentWindow(t *testing.T) {
	archive := &scriptedArchive{}
	m := NewManager(NewInMemoryStore(), archive, 3, 1500, 3, nil)
	session := schema.Session{SubjectID: 7, ConversationID: "conv-1"}

	ingestPair(t, m, session, "I get headaches every morning", "How long has this been going on?")
	ingestPair(t, m, session, "About two weeks now", "Any changes to sleep or screen time?")
	ingestPair(t, m, session, "I sleep less since the new job", "That can contribute, tell me more")
	ingestPair(t, m, session, "Should I take medication for it", "Let us review what you have tried first")

	recall, err := m.Process(context.Background(), session, "what did I say about sleep")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	working := recall.WorkingText
	if strings.Contains(working, "headaches every morning") {
		t.Fatalf("evicted turn still in working memory: %q", working)
	}
	for _, want := range []string{"About two weeks now", "new job", "medication", "review what you have tried"} {
		if !strings.Contains(working, want) {
			t.Fatalf("recent turn %q missing from working memory: %q", want, working)
		}
	}

	records := archive.written()
	if len(records) != 1 {
		t.Fatalf("expected one archive record, got %d", len(records))
	}
	if records[0].TurnCount != 2 {
		t.Fatalf("record should cover the first pair, covers %d turns", records[0].TurnCount)
	}
	if !strings.Contains(records[0].Summary, "headaches") {
		t.Fatalf("evicted clinical content not summarized: %q", records[0].Summary)
	}
}

func TestManager_ArchiveWriteFailureDefersEviction(t *testing.T) {
	archive := &scriptedArchive{writeErr: errors.New("archive down")}
	store := NewInMemoryStore()
	m := NewManager(store, archive, 3, 1500, 3, nil)
	session := schema.Session{SubjectID: 7, ConversationID: "conv-1"}

	for i := 1; i <= 4; i++ {
		ingestPair(t, m, session, fmt.Sprintf("question %d about my medication", i), fmt.Sprintf("answer %d", i))
	}

	// Nothing was archived, so nothing may be dropped.
	turns, _ := store.Turns(context.Background(), "conv-1")
	if len(turns) != 8 {
		t.Fatalf("expected all 8 turns retained while archive is down, got %d", len(turns))
	}
	if len(archive.written()) != 0 {
		t.Fatal("no record should be written while archive is down")
	}

	// Once the archive recovers the next ingest catches up in one batch.
	archive.mu.Lock()
	archive.writeErr = nil
	archive.mu.Unlock()
	if err := m.Ingest(context.Background(), session, schema.Turn{Role: schema.RoleUser, Content: "question 5 about my medication"}); err != nil {
		t.Fatalf("ingest after recovery: %v", err)
	}

	records := archive.written()
	if len(records) != 1 {
		t.Fatalf("expected one catch-up record, got %d", len(records))
	}
	if records[0].TurnCount != 4 {
		t.Fatalf("catch-up record should cover 4 deferred turns, covers %d", records[0].TurnCount)
	}
	turns, _ = store.Turns(context.Background(), "conv-1")
	if len(turns) != 5 {
		t.Fatalf("expected 5 turns after catch-up eviction, got %d", len(turns))
	}
}

func TestManager_ProcessPrefersArchiveSummary(t *testing.T) {
	archive := &scriptedArchive{fragments: []schema.Fragment{
		{Content: "Earlier the patient reported morning headaches", Source: schema.SourceMemory, Score: 0.9},
	}}
	m := NewManager(NewInMemoryStore(), archive, 3, 1500, 3, nil)
	session := schema.Session{SubjectID: 7, ConversationID: "conv-1"}
	ingestPair(t, m, session, "any update on my results", "They came back normal")

	recall, err := m.Process(context.Background(), session, "remind me about the headaches")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if recall.Summary == "" {
		t.Fatal("archive hit should populate the summary")
	}
	if recall.Text() != recall.Summary {
		t.Fatalf("text should prefer the summary, got %q", recall.Text())
	}
	if recall.WorkingText == "" {
		t.Fatal("recent turns should still be available")
	}
}

func TestManager_ArchiveSearchFailureFallsBackToRecentTurns(t *testing.T) {
	archive := &scriptedArchive{searchErr: errors.New("index offline")}
	m := NewManager(NewInMemoryStore(), archive, 3, 1500, 3, nil)
	session := schema.Session{SubjectID: 7, ConversationID: "conv-1"}
	ingestPair(t, m, session, "my knee still hurts", "Keep icing it twice a day")

	recall, err := m.Process(context.Background(), session, "what did you suggest")
	if err != nil {
		t.Fatalf("recall failure must not fail the read: %v", err)
	}
	if recall.Summary != "" {
		t.Fatalf("summary should be empty on search failure, got %q", recall.Summary)
	}
	if !strings.Contains(recall.Text(), "icing") {
		t.Fatalf("fallback should serve recent turns, got %q", recall.Text())
	}
}

func TestManager_EmptyConversation(t *testing.T) {
	m := NewManager(NewInMemoryStore(), &scriptedArchive{}, 3, 1500, 3, nil)
	recall, err := m.Process(context.Background(), schema.Session{ConversationID: "fresh"}, "first question")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if recall.Text() != "" {
		t.Fatalf("empty conversation should yield empty recall, got %q", recall.Text())
	}
}

func TestManager_RecallBudgetCapsWorkingText(t *testing.T) {
	const budget = 120
	m := NewManager(NewInMemoryStore(), &scriptedArchive{}, 5, budget, 3, nil)
	session := schema.Session{ConversationID: "conv-1"}
	ingestPair(t, m, session, strings.Repeat("a long description of symptoms ", 10), "noted")

	recall, err := m.Process(context.Background(), session, "summary please")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.HasSuffix(recall.WorkingText, schema.TruncationMarker) {
		t.Fatalf("capped text should carry the marker: %q", recall.WorkingText)
	}
	if len(recall.WorkingText) > budget+len(schema.TruncationMarker) {
		t.Fatalf("working text exceeds budget: %d", len(recall.WorkingText))
	}
}
