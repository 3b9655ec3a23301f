package payload

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Row is one sku/label pair extracted from a model answer.
type Row struct {
	SKU   string `json:"sku"`
	Label string `json:"product_type_de"`
}

// Response is the decoded outcome of one request line: either the model's
// raw answer or the request-level error the service reported.
type Response struct {
	CustomID string
	Content  string
	Err      string
}

// outputLine mirrors one line of a batch output file.
type outputLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeOutput splits a job's raw output file into per-request responses.
// Lines that cannot be read at all come back as responses with Err set;
// decoding never drops a request silently.
func DecodeOutput(raw []byte) ([]Response, error) {
	var out []Response
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ol outputLine
		if err := json.Unmarshal(line, &ol); err != nil {
			out = append(out, Response{Err: fmt.Sprintf("unreadable output line %d: %v", lineNum, err)})
			continue
		}

		resp := Response{CustomID: ol.CustomID}
		switch {
		case ol.Error != nil:
			resp.Err = fmt.Sprintf("service error %s: %s", ol.Error.Code, ol.Error.Message)
		case ol.Response == nil || len(ol.Response.Body.Choices) == 0:
			resp.Err = "response carries no choices"
		case ol.Response.StatusCode != 0 && ol.Response.StatusCode != 200:
			resp.Err = fmt.Sprintf("request returned status %d", ol.Response.StatusCode)
		default:
			resp.Content = ol.Response.Body.Choices[0].Message.Content
		}
		out = append(out, resp)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan output: %w", err)
	}
	return out, nil
}

// ParseRows extracts the sku/label array from one model answer. Models wrap
// answers in markdown fences or chatter around the array often enough that
// parsing strips fences first and then falls back to the outermost [...]
// span before giving up. Rows without both keys are dropped.
func ParseRows(content string) ([]Row, error) {
	cleaned := stripFences(content)
	if cleaned == "" {
		return nil, fmt.Errorf("empty answer")
	}

	var rows []Row
	if err := json.Unmarshal([]byte(cleaned), &rows); err != nil {
		var single Row
		if err := json.Unmarshal([]byte(cleaned), &single); err == nil {
			rows = []Row{single}
		} else {
			arr := extractJSONArray(cleaned)
			if arr == "" {
				return nil, fmt.Errorf("no JSON array in answer")
			}
			if err := json.Unmarshal([]byte(arr), &rows); err != nil {
				return nil, fmt.Errorf("parse answer array: %w", err)
			}
		}
	}

	valid := rows[:0]
	for _, r := range rows {
		if r.SKU == "" || r.Label == "" {
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("answer contained no usable rows")
	}
	return valid, nil
}

// stripFences removes markdown code fences around an answer.
func stripFences(content string) string {
	c := strings.TrimSpace(content)
	if strings.HasPrefix(c, "```json") {
		c = c[len("```json"):]
	} else if strings.HasPrefix(c, "```") {
		c = c[3:]
	}
	c = strings.TrimSuffix(strings.TrimSpace(c), "```")
	c = strings.ReplaceAll(c, "```", "")
	return strings.TrimSpace(c)
}

// extractJSONArray returns the outermost [...] span, or "" when none
// exists.
func extractJSONArray(content string) string {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || start >= end {
		return ""
	}
	return content[start : end+1]
}

// EncodeResult renders one synthetic output line in the batch output file
// format, letting the synchronous backend feed the shared decode path.
func EncodeResult(customID, content string) ([]byte, error) {
	line := map[string]any{
		"custom_id": customID,
		"response": map[string]any{
			"status_code": 200,
			"body": map[string]any{
				"choices": []any{
					map[string]any{"message": map[string]any{"content": content}},
				},
			},
		},
	}
	return json.Marshal(line)
}

// EncodeError renders a synthetic output line for a request the backend
// could not answer.
func EncodeError(customID, message string) ([]byte, error) {
	line := map[string]any{
		"custom_id": customID,
		"error": map[string]any{
			"code":    "request_failed",
			"message": message,
		},
	}
	return json.Marshal(line)
}
