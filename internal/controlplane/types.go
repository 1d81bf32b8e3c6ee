// Package controlplane provides the client for the AutoBolt job API.
// This package centralizes all control-plane interactions for the worker.
package controlplane

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/autobolt/internal/models"
)

// ErrCircuitOpen is returned when the endpoint's circuit breaker is
// blocking calls. Callers treat it as a transient condition.
var ErrCircuitOpen = errors.New("control plane circuit breaker open")

// APIError represents an error response from the control plane.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Retryable reports whether the error is worth another attempt
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// RateLimitError represents a 429 from the control plane.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("control plane rate limit exceeded, retry after %v", e.RetryAfter)
}

// envelope is the uniform response wrapper used by every endpoint
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// updateRequest is the body for POST /api/jobs/update
type updateRequest struct {
	JobID            string                   `json:"jobId"`
	DirectoryResults []models.DirectoryResult `json:"directoryResults"`
	Status           models.JobStatus         `json:"status,omitempty"`
	ErrorMessage     string                   `json:"errorMessage,omitempty"`
}

// completeRequest is the body for POST /api/jobs/complete
type completeRequest struct {
	JobID        string            `json:"jobId"`
	FinalStatus  models.JobStatus  `json:"finalStatus"`
	Summary      models.JobSummary `json:"summary"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
}
