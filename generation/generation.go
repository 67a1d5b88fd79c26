// Package generation drives the answer model. The orchestration core
// treats the model as a black box behind the Driver interface.
package generation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/medcortex/medcortex/config"
	"github.com/medcortex/medcortex/schema"
)

// Request is one generation call: the question plus whatever context
// assembly produced, possibly none.
type Request struct {
	Question string
	Context  string
	Role     schema.UserRole
}

// StreamHandler receives answer text incrementally. Returning an error
// stops consumption of the stream.
type StreamHandler func(chunk string) error

// Driver produces answers. Stream returns the full accumulated answer
// so callers persist the same text they emitted.
type Driver interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, handler StreamHandler) (string, error)
}

// NewDriver builds the configured driver.
func NewDriver(cfg config.GenerationConfig, log *zap.Logger) (Driver, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAIDriver(cfg, log)
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

const doctorSystemPrompt = `You are a clinical decision-support assistant answering a physician.
Ground every statement in the provided context sections when they are present.
Use precise clinical terminology, cite which context section supports each claim, and state plainly when the context does not cover the question.`

const subjectSystemPrompt = `You are a medical assistant answering a patient.
Ground every statement in the provided context sections when they are present.
Use plain, non-alarming language, avoid jargon, and recommend consulting a clinician for anything the context does not cover.
Never present a diagnosis as certain.`

func systemPromptFor(role schema.UserRole) string {
	if role == schema.UserRoleDoctor {
		return doctorSystemPrompt
	}
	return subjectSystemPrompt
}

func userPromptFor(req Request) string {
	if req.Context == "" {
		return req.Question
	}
	return fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", req.Context, req.Question)
}
