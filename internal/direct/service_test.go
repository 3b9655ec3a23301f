package direct

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etikett/internal/batch"
	"etikett/internal/llm"
	"etikett/internal/models"
	"etikett/internal/payload"
	"etikett/internal/prompt"
)

// scriptedGenerator answers by echoing the SKUs it receives, or fails per
// script.
type scriptedGenerator struct {
	calls int
	fail  func(call int) error
}

func (g *scriptedGenerator) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error) {
	g.calls++
	if g.fail != nil {
		if err := g.fail(g.calls); err != nil {
			return "", err
		}
	}

	var items []struct {
		SKU string `json:"sku"`
	}
	if err := json.Unmarshal([]byte(userPrompt), &items); err != nil {
		return "", fmt.Errorf("unexpected user prompt: %w", err)
	}
	rows := make([]string, len(items))
	for i, it := range items {
		rows[i] = fmt.Sprintf(`{"sku":%q,"product_type_de":"Bohrer"}`, it.SKU)
	}
	return "[" + strings.Join(rows, ",") + "]", nil
}

func buildPayload(t *testing.T, records int, requestSize int) payload.Payload {
	t.Helper()
	recs := make([]models.Record, records)
	for i := range recs {
		recs[i] = models.Record{ID: fmt.Sprintf("SKU-%d", i), Text: fmt.Sprintf("Produkt %d", i)}
	}
	sh := models.Shard{Index: 0, ID: "shard_0", Records: recs, ContentHash: "hash"}
	p, err := payload.Build(sh, prompt.Default(), payload.Config{RequestSize: requestSize})
	require.NoError(t, err)
	return p
}

func TestDirectSubmitAndPoll(t *testing.T) {
	gen := &scriptedGenerator{}
	svc := NewService(gen)
	p := buildPayload(t, 5, 2)

	handle, err := svc.Submit(context.Background(), "shard_0", p.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(handle, "direct_"), "handle = %q", handle)
	assert.Equal(t, 3, gen.calls, "5 records at request size 2 need 3 calls")

	res, err := svc.Poll(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, res.Status)

	responses, err := payload.DecodeOutput(res.Output)
	require.NoError(t, err)
	require.Len(t, responses, 3)

	var skus []string
	for _, resp := range responses {
		require.Empty(t, resp.Err)
		rows, err := payload.ParseRows(resp.Content)
		require.NoError(t, err)
		for _, row := range rows {
			skus = append(skus, row.SKU)
		}
	}
	assert.Len(t, skus, 5)
}

func TestDirectRequestFailureBecomesErrorLine(t *testing.T) {
	gen := &scriptedGenerator{
		fail: func(call int) error {
			if call == 2 {
				return errors.New("model timed out")
			}
			return nil
		},
	}
	svc := NewService(gen)
	p := buildPayload(t, 4, 2)

	handle, err := svc.Submit(context.Background(), "shard_0", p.Body)
	require.NoError(t, err)

	res, err := svc.Poll(context.Background(), handle)
	require.NoError(t, err)

	responses, err := payload.DecodeOutput(res.Output)
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Empty(t, responses[0].Err)
	assert.Contains(t, responses[1].Err, "model timed out")
}

func TestDirectFatalAbortsSubmission(t *testing.T) {
	gen := &scriptedGenerator{
		fail: func(call int) error {
			return fmt.Errorf("%w: invalid api key", llm.ErrFatalAPI)
		},
	}
	svc := NewService(gen)
	p := buildPayload(t, 2, 2)

	_, err := svc.Submit(context.Background(), "shard_0", p.Body)
	require.Error(t, err)
	assert.True(t, errors.Is(err, batch.ErrFatal), "fatal model errors must surface as fatal service errors, got %v", err)
}

func TestDirectCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &scriptedGenerator{
		fail: func(call int) error {
			cancel()
			return ctx.Err()
		},
	}
	svc := NewService(gen)
	p := buildPayload(t, 2, 1)

	_, err := svc.Submit(ctx, "shard_0", p.Body)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDirectPollUnknownHandle(t *testing.T) {
	svc := NewService(&scriptedGenerator{})

	_, err := svc.Poll(context.Background(), "direct_deadbeef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, batch.ErrFatal))
}
