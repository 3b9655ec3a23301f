package payload

import (
	"strings"
	"testing"
)

func TestDecodeOutput(t *testing.T) {
	raw := strings.Join([]string{
		`{"custom_id":"shard_0_req_0","response":{"status_code":200,"body":{"choices":[{"message":{"content":"[{\"sku\":\"A\",\"product_type_de\":\"Bohrer\"}]"}}]}}}`,
		``,
		`{"custom_id":"shard_0_req_1","error":{"code":"server_error","message":"upstream unavailable"}}`,
		`{"custom_id":"shard_0_req_2","response":{"status_code":500,"body":{"choices":[{"message":{"content":"irrelevant"}}]}}}`,
		`{"custom_id":"shard_0_req_3","response":{"status_code":200,"body":{"choices":[]}}}`,
		`not json at all`,
	}, "\n")

	responses, err := DecodeOutput([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeOutput returned error: %v", err)
	}
	if len(responses) != 5 {
		t.Fatalf("got %d responses, want 5", len(responses))
	}

	if responses[0].Err != "" || !strings.Contains(responses[0].Content, "Bohrer") {
		t.Errorf("response 0 = %+v", responses[0])
	}
	if !strings.Contains(responses[1].Err, "upstream unavailable") {
		t.Errorf("response 1 should carry the service error, got %+v", responses[1])
	}
	if !strings.Contains(responses[2].Err, "500") {
		t.Errorf("response 2 should report the status, got %+v", responses[2])
	}
	if !strings.Contains(responses[3].Err, "no choices") {
		t.Errorf("response 3 should report missing choices, got %+v", responses[3])
	}
	if responses[4].Err == "" {
		t.Errorf("response 4 should report the unreadable line, got %+v", responses[4])
	}
}

func TestParseRows(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{
			name:    "plain array",
			content: `[{"sku":"A","product_type_de":"Bohrer"},{"sku":"B","product_type_de":"Kleber"}]`,
			want:    2,
		},
		{
			name:    "json fence",
			content: "```json\n[{\"sku\":\"A\",\"product_type_de\":\"Bohrer\"}]\n```",
			want:    1,
		},
		{
			name:    "bare fence",
			content: "```\n[{\"sku\":\"A\",\"product_type_de\":\"Bohrer\"}]\n```",
			want:    1,
		},
		{
			name:    "chatter around the array",
			content: `Here is the classification: [{"sku":"A","product_type_de":"Bohrer"}] Hope that helps!`,
			want:    1,
		},
		{
			name:    "single object instead of array",
			content: `{"sku":"A","product_type_de":"Bohrer"}`,
			want:    1,
		},
		{
			name:    "rows missing keys are dropped",
			content: `[{"sku":"A","product_type_de":"Bohrer"},{"sku":"B"},{"product_type_de":"Kleber"}]`,
			want:    1,
		},
		{
			name:    "empty answer",
			content: "",
			wantErr: true,
		},
		{
			name:    "whitespace only",
			content: "   \n  ",
			wantErr: true,
		},
		{
			name:    "no array at all",
			content: "I could not classify these products.",
			wantErr: true,
		},
		{
			name:    "array of unusable rows",
			content: `[{"name":"A"}]`,
			wantErr: true,
		},
		{
			name:    "broken json inside array",
			content: `[{"sku":"A","product_type_de":}]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := ParseRows(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRows error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(rows) != tt.want {
				t.Errorf("got %d rows, want %d", len(rows), tt.want)
			}
		})
	}
}

func TestParseRowsKeepsValues(t *testing.T) {
	rows, err := ParseRows(`[{"sku":"SKU-1","product_type_de":"Diamant-Sägeblatt"}]`)
	if err != nil {
		t.Fatalf("ParseRows returned error: %v", err)
	}
	if rows[0].SKU != "SKU-1" || rows[0].Label != "Diamant-Sägeblatt" {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestEncodeResultRoundTrip(t *testing.T) {
	line, err := EncodeResult("shard_0_req_0", `[{"sku":"A","product_type_de":"Bohrer"}]`)
	if err != nil {
		t.Fatalf("EncodeResult returned error: %v", err)
	}

	responses, err := DecodeOutput(line)
	if err != nil {
		t.Fatalf("DecodeOutput returned error: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	if responses[0].CustomID != "shard_0_req_0" || responses[0].Err != "" {
		t.Errorf("response = %+v", responses[0])
	}
	rows, err := ParseRows(responses[0].Content)
	if err != nil {
		t.Fatalf("ParseRows returned error: %v", err)
	}
	if rows[0].Label != "Bohrer" {
		t.Errorf("label = %q, want Bohrer", rows[0].Label)
	}
}

func TestEncodeErrorRoundTrip(t *testing.T) {
	line, err := EncodeError("shard_0_req_1", "model timed out")
	if err != nil {
		t.Fatalf("EncodeError returned error: %v", err)
	}

	responses, err := DecodeOutput(line)
	if err != nil {
		t.Fatalf("DecodeOutput returned error: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	if !strings.Contains(responses[0].Err, "model timed out") {
		t.Errorf("Err = %q, want the original message", responses[0].Err)
	}
}
