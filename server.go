package medcortex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/medcortex/medcortex/schema"
)

const Version = "1.0.0"

// NewServer exposes the client over the MCP tool surface.
func NewServer(c *Client) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		c.cfg.Server.Name,
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("This is a medical question answering server that grounds answers in the subject's personal records, conversation memory and curated expert knowledge"),
	)

	mcpServer.AddTool(
		mcp.NewToolWithRawSchema("ask", "Answer a medical question using the subject's personal records, conversation memory, attached files and expert knowledge", GetAskSchema()),
		HandleAsk(c),
	)
	mcpServer.AddTool(
		mcp.NewToolWithRawSchema("recall-memory", "Inspect the conversation memory that would back a question, without generating an answer", GetRecallMemorySchema()),
		HandleRecallMemory(c),
	)

	return mcpServer
}

// Serve runs the MCP server on the configured transport and blocks until
// the context is cancelled or the transport stops.
func Serve(ctx context.Context, c *Client) error {
	mcpServer := NewServer(c)

	switch c.cfg.Server.Transport {
	case "sse":
		sseServer := server.NewSSEServer(mcpServer)
		errc := make(chan error, 1)
		go func() {
			errc <- sseServer.Start(c.cfg.Server.Address)
		}()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return sseServer.Shutdown(shutdownCtx)
		case err := <-errc:
			return err
		}
	case "stdio", "":
		return server.NewStdioServer(mcpServer).Listen(ctx, os.Stdin, os.Stdout)
	default:
		return fmt.Errorf("unknown server transport: %s", c.cfg.Server.Transport)
	}
}

func GetAskSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The medical question to answer"},
			"subject_id": {"type": "integer", "description": "Identifier of the subject the question is about"},
			"conversation_id": {"type": "string", "description": "Conversation the question belongs to"},
			"user_role": {"type": "string", "enum": ["doctor", "subject"], "description": "Audience for the answer: doctor gets clinical terminology, subject gets plain language"},
			"file_handles": {"type": "array", "items": {"type": "string"}, "description": "Handles of documents attached to the question"}
		},
		"required": ["question", "subject_id", "conversation_id", "user_role"]
	}`)
}

// HandleAsk runs the full orchestration cycle for one question. Degraded
// branches are reported inside the result, not as a tool error.
func HandleAsk(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req schema.AnswerRequest
		if err := request.BindArguments(&req); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("parse ask arguments failed, err: %v", err)), nil
		}

		result, err := c.Answer(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal answer failed, err: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func GetRecallMemorySchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"subject_id": {"type": "integer", "description": "Identifier of the subject the conversation belongs to"},
			"conversation_id": {"type": "string", "description": "Conversation to read memory for"},
			"question": {"type": "string", "description": "Optional current input used to rank archived summaries"}
		},
		"required": ["subject_id", "conversation_id"]
	}`)
}

// HandleRecallMemory reads working memory and relevant archive summaries
// for a conversation.
func HandleRecallMemory(c *Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		subjectID, err := request.RequireInt("subject_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		conversationID, err := request.RequireString("conversation_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		input := request.GetString("question", "")

		recall, err := c.Recall(ctx, schema.Session{SubjectID: subjectID, ConversationID: conversationID}, input)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("recall memory failed, err: %v", err)), nil
		}

		payload, err := json.Marshal(struct {
			WorkingText string `json:"working_text,omitempty"`
			Summary     string `json:"summary,omitempty"`
			Text        string `json:"text"`
		}{recall.WorkingText, recall.Summary, recall.Text()})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal recall failed, err: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
