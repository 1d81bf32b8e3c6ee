package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ternarybob/autobolt/internal/breaker"
	"github.com/ternarybob/autobolt/internal/models"
)

func fastRetry() ClientOption {
	return WithRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
}

func TestClient_GetNextJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/next" {
			t.Errorf("path = %q, want /api/jobs/next", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key = %q, want test-key", got)
		}
		if got := r.Header.Get("X-Worker-ID"); got != "worker-abc123" {
			t.Errorf("X-Worker-ID = %q, want worker-abc123", got)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"data": {
				"jobId": "job-42",
				"customerId": "cust-7",
				"businessData": {"businessName": "Acme", "email": "a@acme.example"},
				"packageSize": "growth"
			}
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", WithWorkerID("worker-abc123"), fastRetry())

	job, paused, err := client.GetNextJob(context.Background())
	if err != nil {
		t.Fatalf("GetNextJob failed: %v", err)
	}
	if paused {
		t.Error("paused = true, want false")
	}
	if job == nil {
		t.Fatal("job = nil, want a job")
	}
	if job.ID != "job-42" {
		t.Errorf("job.ID = %q, want job-42", job.ID)
	}
	if job.Business.BusinessName != "Acme" {
		t.Errorf("businessName = %q, want Acme", job.Business.BusinessName)
	}
	if job.Budget() != 150 {
		t.Errorf("Budget() = %d, want 150 for growth", job.Budget())
	}
}

func TestClient_GetNextJob_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "data": null}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", fastRetry())

	job, paused, err := client.GetNextJob(context.Background())
	if err != nil {
		t.Fatalf("GetNextJob failed: %v", err)
	}
	if job != nil {
		t.Errorf("job = %+v, want nil for empty queue", job)
	}
	if paused {
		t.Error("paused = true, want false")
	}
}

func TestClient_GetNextJob_Paused(t *testing.T) {
	// The pause marker arrives in several shapes; any message containing
	// "queue paused" counts, underscores included
	messages := []string{
		"queue_paused",
		"Queue paused",
		"Queue paused for maintenance",
		"queue_paused until further notice",
	}
	for _, message := range messages {
		t.Run(message, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"success": true, "data": null, "message": %q}`, message)
			}))
			defer server.Close()

			client := NewClient(server.URL, "test-key", fastRetry())

			job, paused, err := client.GetNextJob(context.Background())
			if err != nil {
				t.Fatalf("GetNextJob failed: %v", err)
			}
			if !paused {
				t.Errorf("paused = false for %q, want true", message)
			}
			if job != nil {
				t.Error("paused response must not carry a job")
			}
		})
	}
}

func TestClient_UpdateProgress(t *testing.T) {
	var received updateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/update" {
			t.Errorf("path = %q, want /api/jobs/update", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", fastRetry())

	results := []models.DirectoryResult{
		{DirectoryID: "dir-1", DirectoryName: "Yelp", Status: models.StatusSubmitted, Message: "ok", Timestamp: "2026-01-15T10:00:00Z"},
	}
	err := client.UpdateProgress(context.Background(), "job-42", results, models.JobStatusInProgress, "")
	if err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	if received.JobID != "job-42" {
		t.Errorf("jobId = %q, want job-42", received.JobID)
	}
	if len(received.DirectoryResults) != 1 || received.DirectoryResults[0].DirectoryName != "Yelp" {
		t.Errorf("unexpected directoryResults: %+v", received.DirectoryResults)
	}
	if received.Status != models.JobStatusInProgress {
		t.Errorf("status = %q, want in_progress", received.Status)
	}
}

func TestClient_UpdateProgress_NilResults(t *testing.T) {
	var rawBody map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&rawBody)
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", fastRetry())

	if err := client.UpdateProgress(context.Background(), "job-1", nil, models.JobStatusInProgress, ""); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	// Acquisition acknowledgements send an empty array, not null
	if string(rawBody["directoryResults"]) != "[]" {
		t.Errorf("directoryResults = %s, want []", rawBody["directoryResults"])
	}
}

func TestClient_CompleteJob(t *testing.T) {
	var received completeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/jobs/complete" {
			t.Errorf("path = %q, want /api/jobs/complete", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"success": true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", fastRetry())

	summary := models.JobSummary{
		TotalDirectories:      50,
		SuccessfulSubmissions: 40,
		FailedSubmissions:     4,
		SkippedSubmissions:    6,
		ProcessingTimeSeconds: 321.5,
	}
	err := client.CompleteJob(context.Background(), "job-42", models.JobStatusComplete, summary, "")
	if err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	if received.JobID != "job-42" {
		t.Errorf("jobId = %q, want job-42", received.JobID)
	}
	if received.FinalStatus != models.JobStatusComplete {
		t.Errorf("finalStatus = %q, want complete", received.FinalStatus)
	}
	if received.Summary.TotalDirectories != 50 || received.Summary.SuccessfulSubmissions != 40 {
		t.Errorf("unexpected summary: %+v", received.Summary)
	}
}

func TestClient_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success": true, "data": null}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", fastRetry())

	_, _, err := client.GetNextJob(context.Background())
	if err != nil {
		t.Fatalf("GetNextJob should succeed after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`bad key`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", fastRetry())

	_, _, err := client.GetNextJob(context.Background())
	if err == nil {
		t.Fatal("expected error for 401")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1 (4xx must not retry)", got)
	}
}

func TestClient_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", fastRetry())

	_, _, err := client.GetNextJob(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3 attempts", got)
	}
}

func TestClient_BreakerBlocksAfterFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	breakers := breaker.NewManager(2, time.Minute, nil)
	client := NewClient(server.URL, "test-key",
		WithBreakers(breakers),
		WithRetryPolicy(1, time.Millisecond, time.Millisecond))

	ctx := context.Background()

	// Two failing calls trip the breaker
	for i := 0; i < 2; i++ {
		if _, _, err := client.GetNextJob(ctx); err == nil {
			t.Fatal("expected failure")
		}
	}

	before := calls.Load()
	_, _, err := client.GetNextJob(ctx)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if calls.Load() != before {
		t.Error("open breaker must not reach the server")
	}
}
