// Package direct runs payloads synchronously against a chat model while
// presenting the same submit/poll surface as the hosted batch backend.
package direct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"etikett/internal/batch"
	"etikett/internal/llm"
	"etikett/internal/models"
	"etikett/internal/payload"
)

// Generator is the chat capability the backend needs.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// Service answers each payload line with a chat model at submit time and
// serves the finished result on the first poll. Handles are process-local,
// so an interrupted direct run resubmits its open shards on resume instead
// of polling dead handles.
type Service struct {
	gen Generator

	mu      sync.Mutex
	results map[string]batch.PollResult
}

var _ batch.Service = (*Service)(nil)

// NewService creates a synchronous backend over the given generator.
func NewService(gen Generator) *Service {
	return &Service{
		gen:     gen,
		results: make(map[string]batch.PollResult),
	}
}

// Submit answers every request line in the payload and stores the combined
// output under a fresh local handle. Request-level model failures become
// error lines in the output; fatal provider errors abort the whole
// submission.
func (s *Service) Submit(ctx context.Context, shardID string, body []byte) (string, error) {
	reqs, err := payload.ParseRequests(body)
	if err != nil {
		return "", fmt.Errorf("parse payload of %s: %w", shardID, err)
	}

	var out bytes.Buffer
	start := time.Now()
	for _, req := range reqs {
		system, user := splitMessages(req)
		content, err := s.gen.GenerateWithSystem(ctx, system, user, req.Body.Temperature, req.Body.MaxCompletionTokens)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(err, llm.ErrFatalAPI) {
				return "", fmt.Errorf("%w: %v", batch.ErrFatal, err)
			}
			slog.Warn("request failed", "custom_id", req.CustomID, "error", err)
			line, encErr := payload.EncodeError(req.CustomID, err.Error())
			if encErr != nil {
				return "", fmt.Errorf("encode error line: %w", encErr)
			}
			out.Write(line)
			out.WriteByte('\n')
			continue
		}

		line, err := payload.EncodeResult(req.CustomID, content)
		if err != nil {
			return "", fmt.Errorf("encode result line: %w", err)
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	slog.Info("shard processed", "shard", shardID, "requests", len(reqs), "duration", time.Since(start).Round(time.Millisecond))

	handle := "direct_" + uuid.New().String()[:8]
	s.mu.Lock()
	s.results[handle] = batch.PollResult{Status: models.JobSucceeded, Output: out.Bytes()}
	s.mu.Unlock()
	return handle, nil
}

// Poll returns the stored result for a handle. Handles from other
// processes are unknown and fail fatally so the monitor does not spin on
// them.
func (s *Service) Poll(ctx context.Context, handle string) (batch.PollResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.results[handle]
	if !ok {
		return batch.PollResult{}, fmt.Errorf("%w: unknown handle %s", batch.ErrFatal, handle)
	}
	return res, nil
}

// splitMessages pulls the system and user content out of a request.
func splitMessages(req payload.Request) (system, user string) {
	for _, m := range req.Body.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			user = m.Content
		}
	}
	return system, user
}
