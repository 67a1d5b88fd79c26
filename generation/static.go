package generation

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Static is a scripted driver for tests and offline runs. Generate
// returns Answer; Stream emits Chunks (or Answer in one piece) through
// the handler. Requests records every call for assertions.
type Static struct {
	Answer string
	Chunks []string
	Err    error
	Delay  time.Duration

	mu    sync.Mutex
	calls []Request
}

func (s *Static) Generate(ctx context.Context, req Request) (string, error) {
	s.record(req)
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	return s.Answer, nil
}

func (s *Static) Stream(ctx context.Context, req Request, handler StreamHandler) (string, error) {
	s.record(req)
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	if s.Err != nil {
		return "", s.Err
	}
	chunks := s.Chunks
	if len(chunks) == 0 && s.Answer != "" {
		chunks = []string{s.Answer}
	}
	var b strings.Builder
	for _, chunk := range chunks {
		b.WriteString(chunk)
		if err := handler(chunk); err != nil {
			return b.String(), err
		}
	}
	return b.String(), nil
}

func (s *Static) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

func (s *Static) record(req Request) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
}

func (s *Static) wait(ctx context.Context) error {
	if s.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
