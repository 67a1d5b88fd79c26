package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"

	"github.com/medcortex/medcortex/config"
)

type openAIDriver struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	log         *zap.Logger
}

func newOpenAIDriver(cfg config.GenerationConfig, log *zap.Logger) (*openAIDriver, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generation api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &openAIDriver{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         log,
	}, nil
}

func (d *openAIDriver) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(d.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPromptFor(req.Role)),
			openai.UserMessage(userPromptFor(req)),
		},
		Temperature: openai.Float(d.temperature),
	}
	if d.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(d.maxTokens))
	}
	return params
}

func (d *openAIDriver) Generate(ctx context.Context, req Request) (string, error) {
	var answer string
	err := retry.Do(
		func() error {
			completion, err := d.client.Chat.Completions.New(ctx, d.params(req))
			if err != nil {
				return err
			}
			if len(completion.Choices) == 0 {
				return fmt.Errorf("completion has no choices")
			}
			answer = completion.Choices[0].Message.Content
			return nil
		},
		retry.Attempts(3),
		retry.Delay(300*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	return answer, nil
}

// Stream emits deltas as they arrive. No retry here: replaying a
// partially emitted answer would duplicate text at the caller.
func (d *openAIDriver) Stream(ctx context.Context, req Request, handler StreamHandler) (string, error) {
	stream := d.client.Chat.Completions.NewStreaming(ctx, d.params(req))
	defer stream.Close()

	var b strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		if err := handler(delta); err != nil {
			return b.String(), fmt.Errorf("stream consumer stopped: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), fmt.Errorf("openai stream: %w", err)
	}
	return b.String(), nil
}
