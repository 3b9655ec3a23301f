package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"etikett/internal/batch"
	"etikett/internal/models"
)

// fakeAPI emulates the file and batch endpoints.
type fakeAPI struct {
	t *testing.T

	uploads  int
	batches  map[string]Batch
	files    map[string][]byte
	failWith int // when non-zero, every request returns this status
}

func newFakeAPI(t *testing.T) *fakeAPI {
	return &fakeAPI{
		t:       t,
		batches: make(map[string]Batch),
		files:   make(map[string][]byte),
	}
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		if f.failWith != 0 {
			http.Error(w, `{"error":{"message":"induced failure"}}`, f.failWith)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			http.Error(w, `{"error":{"message":"missing bearer token"}}`, http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			f.t.Errorf("parse multipart: %v", err)
		}
		if purpose := r.FormValue("purpose"); purpose != "batch" {
			f.t.Errorf("purpose = %q, want batch", purpose)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			f.t.Fatalf("form file: %v", err)
		}
		content, _ := io.ReadAll(file)

		f.uploads++
		id := fmt.Sprintf("file-%d", f.uploads)
		f.files[id] = content
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})

	mux.HandleFunc("POST /batches", func(w http.ResponseWriter, r *http.Request) {
		var req createBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			f.t.Fatalf("decode create batch: %v", err)
		}
		if req.Endpoint != "/v1/chat/completions" {
			f.t.Errorf("endpoint = %q", req.Endpoint)
		}
		if req.CompletionWindow != "24h" {
			f.t.Errorf("completion_window = %q", req.CompletionWindow)
		}
		if _, ok := f.files[req.InputFileID]; !ok {
			http.Error(w, `{"error":{"message":"unknown file"}}`, http.StatusBadRequest)
			return
		}

		b := Batch{ID: "batch-" + req.InputFileID, Status: "validating", InputFileID: req.InputFileID}
		f.batches[b.ID] = b
		json.NewEncoder(w).Encode(b)
	})

	mux.HandleFunc("GET /batches/{id}", func(w http.ResponseWriter, r *http.Request) {
		b, ok := f.batches[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"error":{"message":"no such batch"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(b)
	})

	mux.HandleFunc("GET /files/{id}/content", func(w http.ResponseWriter, r *http.Request) {
		content, ok := f.files[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"error":{"message":"no such file"}}`, http.StatusNotFound)
			return
		}
		w.Write(content)
	})

	return mux
}

func testService(t *testing.T) (*Service, *fakeAPI) {
	t.Helper()
	api := newFakeAPI(t)
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient("test-key", srv.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return NewService(client), api
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestSubmitUploadsAndCreatesBatch(t *testing.T) {
	svc, api := testService(t)

	handle, err := svc.Submit(context.Background(), "shard_0", []byte(`{"custom_id":"shard_0_req_0"}`+"\n"))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if handle != "batch-file-1" {
		t.Errorf("handle = %q, want batch-file-1", handle)
	}
	if got := string(api.files["file-1"]); !strings.Contains(got, "shard_0_req_0") {
		t.Errorf("uploaded content = %q", got)
	}
}

func TestSubmitFatalOnAuthFailure(t *testing.T) {
	svc, api := testService(t)
	api.failWith = http.StatusUnauthorized

	_, err := svc.Submit(context.Background(), "shard_0", []byte("payload"))
	if !errors.Is(err, batch.ErrFatal) {
		t.Errorf("401 should wrap ErrFatal, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 401") {
		t.Errorf("error should carry the status, got %v", err)
	}
}

func TestSubmitTransientOnServerError(t *testing.T) {
	svc, api := testService(t)
	api.failWith = http.StatusInternalServerError

	_, err := svc.Submit(context.Background(), "shard_0", []byte("payload"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, batch.ErrFatal) {
		t.Errorf("500 must stay retryable, got %v", err)
	}
}

func TestPollStatusMapping(t *testing.T) {
	tests := []struct {
		remote     string
		wantStatus models.JobStatus
	}{
		{"validating", models.JobRunning},
		{"in_progress", models.JobRunning},
		{"finalizing", models.JobRunning},
		{"cancelling", models.JobRunning},
		{"failed", models.JobFailed},
		{"cancelled", models.JobFailed},
		{"expired", models.JobExpired},
		{"something_new", models.JobRunning},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			svc, api := testService(t)
			api.batches["batch-1"] = Batch{ID: "batch-1", Status: tt.remote}

			res, err := svc.Poll(context.Background(), "batch-1")
			if err != nil {
				t.Fatalf("Poll returned error: %v", err)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %v, want %v", res.Status, tt.wantStatus)
			}
		})
	}
}

func TestPollCompletedDownloadsOutput(t *testing.T) {
	svc, api := testService(t)
	api.files["file-out"] = []byte(`{"custom_id":"shard_0_req_0"}` + "\n")
	api.batches["batch-1"] = Batch{ID: "batch-1", Status: "completed", OutputFileID: "file-out"}

	res, err := svc.Poll(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if res.Status != models.JobSucceeded {
		t.Fatalf("status = %v, want succeeded", res.Status)
	}
	if !strings.Contains(string(res.Output), "shard_0_req_0") {
		t.Errorf("output = %q", res.Output)
	}
}

func TestPollCompletedWithoutOutputFails(t *testing.T) {
	svc, api := testService(t)
	api.batches["batch-1"] = Batch{ID: "batch-1", Status: "completed"}

	res, err := svc.Poll(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if res.Status != models.JobFailed {
		t.Errorf("status = %v, want failed", res.Status)
	}
	if !strings.Contains(res.Reason, "without an output file") {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestPollFailedCarriesReasons(t *testing.T) {
	svc, api := testService(t)
	b := Batch{ID: "batch-1", Status: "failed"}
	b.Errors = &struct {
		Data []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"data"`
	}{
		Data: []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}{
			{Code: "invalid_request", Message: "line 3 is malformed"},
		},
	}
	api.batches["batch-1"] = b

	res, err := svc.Poll(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if res.Status != models.JobFailed {
		t.Fatalf("status = %v, want failed", res.Status)
	}
	if !strings.Contains(res.Reason, "line 3 is malformed") {
		t.Errorf("reason = %q", res.Reason)
	}
}

func TestPollUnknownBatch(t *testing.T) {
	svc, _ := testService(t)

	_, err := svc.Poll(context.Background(), "batch-missing")
	if err == nil {
		t.Fatal("expected error for unknown batch")
	}
	// 404 can clear up (eventual consistency after submission), so it must
	// not be marked fatal.
	if errors.Is(err, batch.ErrFatal) {
		t.Errorf("404 should stay retryable, got %v", err)
	}
}
