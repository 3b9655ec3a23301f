package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"etikett/internal/batch"
	"etikett/internal/models"
)

// Service adapts the file and batch endpoints to the submit/poll boundary
// the pipeline monitors.
type Service struct {
	client *Client
}

// Compile-time check that Service satisfies the pipeline boundary.
var _ batch.Service = (*Service)(nil)

// NewService creates a batch service backed by the given client.
func NewService(client *Client) *Service {
	return &Service{client: client}
}

// Submit uploads the payload as a batch input file and starts a batch over
// it. The batch ID becomes the job handle.
func (s *Service) Submit(ctx context.Context, shardID string, body []byte) (string, error) {
	fileID, err := s.client.UploadFile(ctx, shardID+".jsonl", body)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", shardID, err)
	}
	slog.Debug("payload uploaded", "shard", shardID, "file_id", fileID)

	b, err := s.client.CreateBatch(ctx, fileID)
	if err != nil {
		return "", fmt.Errorf("create batch for %s: %w", shardID, err)
	}
	return b.ID, nil
}

// Poll maps the remote batch lifecycle onto job statuses: validating,
// in_progress, finalizing and cancelling count as running; completed
// downloads the output file and succeeds; failed and cancelled fail with
// the reported reason; expired batches expire.
func (s *Service) Poll(ctx context.Context, handle string) (batch.PollResult, error) {
	b, err := s.client.RetrieveBatch(ctx, handle)
	if err != nil {
		return batch.PollResult{}, fmt.Errorf("retrieve batch %s: %w", handle, err)
	}

	switch b.Status {
	case "validating", "in_progress", "finalizing", "cancelling":
		return batch.PollResult{Status: models.JobRunning}, nil

	case "completed":
		if b.OutputFileID == "" {
			return batch.PollResult{Status: models.JobFailed, Reason: "batch completed without an output file"}, nil
		}
		output, err := s.client.FileContent(ctx, b.OutputFileID)
		if err != nil {
			return batch.PollResult{}, fmt.Errorf("download output of %s: %w", handle, err)
		}
		return batch.PollResult{Status: models.JobSucceeded, Output: output}, nil

	case "failed", "cancelled":
		return batch.PollResult{Status: models.JobFailed, Reason: batchErrors(b)}, nil

	case "expired":
		return batch.PollResult{Status: models.JobExpired, Reason: "processing window elapsed"}, nil

	default:
		slog.Warn("unknown batch status, treating as running", "handle", handle, "status", b.Status)
		return batch.PollResult{Status: models.JobRunning}, nil
	}
}

// batchErrors flattens the reported errors of a dead batch.
func batchErrors(b Batch) string {
	if b.Errors == nil || len(b.Errors.Data) == 0 {
		return "batch " + b.Status
	}
	parts := make([]string, 0, len(b.Errors.Data))
	for _, e := range b.Errors.Data {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Code, e.Message))
	}
	return strings.Join(parts, "; ")
}
