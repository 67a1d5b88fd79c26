package medcortex

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/engine"
	"github.com/medcortex/medcortex/generation"
	"github.com/medcortex/medcortex/ingest"
	"github.com/medcortex/medcortex/memory"
	"github.com/medcortex/medcortex/pool"
	"github.com/medcortex/medcortex/retrieval"
	"github.com/medcortex/medcortex/retriever"
	"github.com/medcortex/medcortex/schema"
)

// newTestClient wires a client from in-process parts: an in-memory working
// store, a real SQLite archive in a temp dir, a static searcher and a
// scripted generation driver.
func newTestClient(t *testing.T) *Client {
	t.Helper()

	archive, err := memory.OpenArchive(filepath.Join(t.TempDir(), "archive.db"), nil, nil)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	mem := memory.NewManager(memory.NewInMemoryStore(), archive, 10, 1500, 3, nil)

	coordinator := retrieval.NewCoordinator(
		config.KnowledgeConfig{Provider: "static", TopK: 5, PriorityWeight: 0.2},
		[]retriever.Searcher{&retriever.Static{
			Name: schema.SourceExpert,
			Fragments: []schema.Fragment{{
				Content:  "Metformin is first line treatment for type 2 diabetes.",
				Source:   schema.SourceExpert,
				Priority: 5,
				Score:    0.9,
			}},
		}},
		nil, nil)

	workers := pool.New(2, nil)
	workers.Start()
	t.Cleanup(func() { _ = workers.Close() })

	engCfg := config.EngineConfig{MaxContextLength: 4000, Workers: 2, BranchTimeoutMs: 2000, PersistTimeoutMs: 2000}
	eng := engine.New(engCfg, mem, coordinator,
		ingest.New(ingest.NewLocalReader(0), nil),
		&generation.Static{Answer: "scripted answer"},
		workers, nil)

	return &Client{cfg: *config.Default(), engine: eng, memory: mem, pool: workers}
}

func callToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("tool result content is %T, want text", res.Content[0])
	}
	return tc.Text
}

func TestHandleAsk_ReturnsAnswerJSON(t *testing.T) {
	c := newTestClient(t)
	handler := HandleAsk(c)

	res, err := handler(context.Background(), callToolRequest("ask", map[string]any{
		"question":        "How should metformin be taken?",
		"subject_id":      7,
		"conversation_id": "conv-1",
		"user_role":       "subject",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}

	var result schema.AnswerResult
	if err := json.Unmarshal([]byte(textOf(t, res)), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Answer != "scripted answer" {
		t.Fatalf("answer = %q", result.Answer)
	}
	if result.Err != "" {
		t.Fatalf("unexpected degradation: %s", result.Err)
	}
	if result.ContextLengthUsed == 0 {
		t.Fatal("context length not reported")
	}
}

func TestHandleAsk_InvalidRequestIsToolError(t *testing.T) {
	c := newTestClient(t)
	handler := HandleAsk(c)

	res, err := handler(context.Background(), callToolRequest("ask", map[string]any{
		"subject_id":      7,
		"conversation_id": "conv-1",
		"user_role":       "subject",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("blank question should be a tool error")
	}
	if text := textOf(t, res); !strings.Contains(text, "question") {
		t.Fatalf("error text %q does not name the bad field", text)
	}
}

func TestHandleRecallMemory_ReflectsConversation(t *testing.T) {
	c := newTestClient(t)
	ask := HandleAsk(c)
	recall := HandleRecallMemory(c)

	if _, err := ask(context.Background(), callToolRequest("ask", map[string]any{
		"question":        "Does metformin upset the stomach?",
		"subject_id":      7,
		"conversation_id": "conv-1",
		"user_role":       "subject",
	})); err != nil {
		t.Fatalf("ask: %v", err)
	}

	// Turn persistence runs on the pool after the answer returns.
	session := schema.Session{SubjectID: 7, ConversationID: "conv-1"}
	waitForRecall(t, c, session)

	res, err := recall(context.Background(), callToolRequest("recall-memory", map[string]any{
		"subject_id":      7,
		"conversation_id": "conv-1",
	}))
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}

	var payload struct {
		WorkingText string `json:"working_text"`
		Text        string `json:"text"`
	}
	if err := json.Unmarshal([]byte(textOf(t, res)), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !strings.Contains(payload.WorkingText, "Does metformin upset the stomach?") {
		t.Fatalf("working text %q is missing the persisted question", payload.WorkingText)
	}
	if payload.Text == "" {
		t.Fatal("recall text empty after a persisted turn")
	}
}

func TestHandleRecallMemory_MissingSubjectIsToolError(t *testing.T) {
	c := newTestClient(t)
	handler := HandleRecallMemory(c)

	res, err := handler(context.Background(), callToolRequest("recall-memory", map[string]any{
		"conversation_id": "conv-1",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("missing subject_id should be a tool error")
	}
}

func TestServe_UnknownTransport(t *testing.T) {
	c := newTestClient(t)
	c.cfg.Server.Transport = "carrier-pigeon"

	if err := Serve(context.Background(), c); err == nil {
		t.Fatal("unknown transport should fail")
	}
}

func waitForRecall(t *testing.T, c *Client, session schema.Session) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recall, err := c.Recall(context.Background(), session, "")
		if err == nil && recall.WorkingText != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for turns to persist")
}
