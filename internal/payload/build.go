// Package payload serializes shards into batch request files and decodes
// the result files that come back.
package payload

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"

	"etikett/internal/models"
	"etikett/internal/prompt"
)

// Config bounds payload construction.
type Config struct {
	// RequestSize caps how many records share one chat request line.
	RequestSize int
	// ByteLimit caps the serialized payload size. Builds beyond it fail so
	// the caller can re-chunk with a smaller shard size; zero disables the
	// check.
	ByteLimit int
}

// PayloadTooLargeError reports a serialized payload over the byte ceiling.
// Never handled internally: the shard must be split smaller, not truncated.
type PayloadTooLargeError struct {
	ShardID string
	Size    int
	Limit   int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload for %s is %d bytes, limit is %d: reduce the shard size", e.ShardID, e.Size, e.Limit)
}

// ChatMessage is one message of a chat request body.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatBody is the chat-completions request carried by one payload line.
type ChatBody struct {
	Model               string        `json:"model"`
	Temperature         float64       `json:"temperature"`
	MaxCompletionTokens int           `json:"max_completion_tokens"`
	Messages            []ChatMessage `json:"messages"`
}

// Request is one line of a batch payload.
type Request struct {
	CustomID string   `json:"custom_id"`
	Method   string   `json:"method"`
	URL      string   `json:"url"`
	Body     ChatBody `json:"body"`
}

// RequestIDs lists the record IDs behind one request line, in the order
// they appear in its user content.
type RequestIDs struct {
	CustomID string
	IDs      []string
}

// Mapping ties every position in a payload back to the record it carries.
// Requests appear in payload line order.
type Mapping struct {
	ShardID  string
	Requests []RequestIDs
}

// Lookup returns the record IDs behind a custom id.
func (m Mapping) Lookup(customID string) ([]string, bool) {
	for _, r := range m.Requests {
		if r.CustomID == customID {
			return r.IDs, true
		}
	}
	return nil, false
}

// IDs returns every record ID in payload order.
func (m Mapping) IDs() []string {
	var ids []string
	for _, r := range m.Requests {
		ids = append(ids, r.IDs...)
	}
	return ids
}

// Payload is a serialized job ready for submission.
type Payload struct {
	ShardID string
	Body    []byte
	Mapping Mapping
}

// Build serializes one shard into a batch request file: JSONL with up to
// cfg.RequestSize records per chat request line, custom ids of the form
// "shard_<index>_req_<n>". The returned mapping covers every shard record
// exactly once; Build fails rather than emit a payload whose mapping is
// not a bijection over the shard.
func Build(s models.Shard, tmpl prompt.Template, cfg Config) (Payload, error) {
	if cfg.RequestSize <= 0 {
		return Payload{}, fmt.Errorf("request size must be positive, got %d", cfg.RequestSize)
	}

	var buf bytes.Buffer
	mapping := Mapping{ShardID: s.ID}

	for start := 0; start < len(s.Records); start += cfg.RequestSize {
		end := start + cfg.RequestSize
		if end > len(s.Records) {
			end = len(s.Records)
		}
		group := s.Records[start:end]

		user, err := tmpl.UserContent(group)
		if err != nil {
			return Payload{}, fmt.Errorf("render request %d of %s: %w", len(mapping.Requests), s.ID, err)
		}

		customID := fmt.Sprintf("%s_req_%d", s.ID, len(mapping.Requests))
		req := Request{
			CustomID: customID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body: ChatBody{
				Model:               tmpl.Model,
				Temperature:         tmpl.Temperature,
				MaxCompletionTokens: tmpl.MaxCompletionTokens,
				Messages: []ChatMessage{
					{Role: "system", Content: tmpl.System},
					{Role: "user", Content: user},
				},
			},
		}
		line, err := json.Marshal(req)
		if err != nil {
			return Payload{}, fmt.Errorf("marshal request %s: %w", customID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')

		ids := make([]string, len(group))
		for i, r := range group {
			ids[i] = r.ID
		}
		mapping.Requests = append(mapping.Requests, RequestIDs{CustomID: customID, IDs: ids})
	}

	if cfg.ByteLimit > 0 && buf.Len() > cfg.ByteLimit {
		return Payload{}, &PayloadTooLargeError{ShardID: s.ID, Size: buf.Len(), Limit: cfg.ByteLimit}
	}

	if err := checkBijection(s, mapping); err != nil {
		return Payload{}, err
	}

	return Payload{ShardID: s.ID, Body: buf.Bytes(), Mapping: mapping}, nil
}

// checkBijection verifies the mapping covers each shard record exactly
// once, in shard order.
func checkBijection(s models.Shard, m Mapping) error {
	ids := m.IDs()
	if len(ids) != len(s.Records) {
		return fmt.Errorf("mapping for %s covers %d records, shard holds %d", s.ID, len(ids), len(s.Records))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("mapping for %s lists %q twice", s.ID, id)
		}
		seen[id] = struct{}{}
	}
	for i, r := range s.Records {
		if ids[i] != r.ID {
			return fmt.Errorf("mapping for %s out of order at %d: %q != %q", s.ID, i, ids[i], r.ID)
		}
	}
	return nil
}

// ParseRequests reads a payload body back into its request lines. The
// synchronous backend uses this to process the same wire format the batch
// service consumes.
func ParseRequests(body []byte) ([]Request, error) {
	var reqs []Request
	sc := bufio.NewScanner(bytes.NewReader(body))
	// Lines carry whole system prompts plus dozens of titles.
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r Request
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("parse request line %d: %w", len(reqs)+1, err)
		}
		reqs = append(reqs, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan payload: %w", err)
	}
	return reqs, nil
}
