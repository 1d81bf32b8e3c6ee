// Package httpdriver is the alternate submission path: directories whose
// escalation score crosses the configured threshold are handed to an
// external submission service over HTTP instead of the local browser.
// The remote service runs its own browser fleet with login and CAPTCHA
// handling, which the local driver does not advertise.
package httpdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// submitRequest is the wire shape sent to the escalation endpoint
type submitRequest struct {
	Directory *models.Directory      `json:"directory"`
	Profile   models.BusinessProfile `json:"profile"`
	Mapping   models.FormMapping     `json:"mapping,omitempty"`
}

// submitResponse is what the escalation endpoint answers with
type submitResponse struct {
	Status       string         `json:"status"` // "submitted", "failed", "skipped"
	Message      string         `json:"message"`
	FilledFields int            `json:"filledFields,omitempty"`
	Diagnostics  map[string]any `json:"diagnostics,omitempty"`
}

// Driver submits through the external escalation service
type Driver struct {
	endpoint string
	client   *http.Client
	logger   arbor.ILogger
}

// NewDriver creates the alternate HTTP driver
func NewDriver(config *common.EscalationConfig, logger arbor.ILogger) *Driver {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Driver{
		endpoint: config.Endpoint,
		client:   &http.Client{Timeout: config.Timeout},
		logger:   logger,
	}
}

// Initialize validates the endpoint. The remote service is not probed;
// a dead endpoint surfaces per-attempt and falls back to the local driver.
func (d *Driver) Initialize(ctx context.Context) error {
	if d.endpoint == "" {
		return fmt.Errorf("escalation endpoint not configured")
	}
	parsed, err := url.Parse(d.endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid escalation endpoint %q", d.endpoint)
	}
	return nil
}

// Capabilities advertises the remote fleet's login and CAPTCHA handling
func (d *Driver) Capabilities() interfaces.DriverCapabilities {
	return interfaces.DriverCapabilities{
		HandlesLogin:  true,
		SolvesCaptcha: true,
	}
}

// Close is a no-op; the driver holds no persistent connections
func (d *Driver) Close() error {
	return nil
}

// Submit hands the directory to the escalation service and maps its
// response onto a submission outcome. Transport failures come back as
// failed outcomes with a network-error message so the retry classifier
// treats them as transient.
func (d *Driver) Submit(ctx context.Context, directory *models.Directory, profile models.BusinessProfile, mapping models.FormMapping, options models.SubmissionOptions) (*models.SubmissionOutcome, error) {
	started := time.Now().UTC()

	body, err := json.Marshal(submitRequest{
		Directory: directory,
		Profile:   profile,
		Mapping:   mapping,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode escalation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build escalation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return d.failed(started, fmt.Sprintf("network error: escalation call failed: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return d.failed(started, fmt.Sprintf("escalation service returned status %d", resp.StatusCode)), nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return d.failed(started, fmt.Sprintf("network error: reading escalation response: %v", err)), nil
	}

	var parsed submitResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return d.failed(started, "escalation service returned an unreadable response"), nil
	}

	outcome := &models.SubmissionOutcome{
		Message:           parsed.Message,
		StartedAt:         started,
		FinishedAt:        time.Now().UTC(),
		FilledFieldsCount: parsed.FilledFields,
		Diagnostics:       parsed.Diagnostics,
	}
	switch models.SubmissionStatus(parsed.Status) {
	case models.StatusSubmitted:
		outcome.Status = models.StatusSubmitted
	case models.StatusSkipped:
		outcome.Status = models.StatusSkipped
	default:
		outcome.Status = models.StatusFailed
		if outcome.Message == "" {
			outcome.Message = fmt.Sprintf("escalation service reported %q", parsed.Status)
		}
	}
	if outcome.Message == "" {
		outcome.Message = "submission accepted by escalation service"
	}
	return outcome, nil
}

func (d *Driver) failed(started time.Time, message string) *models.SubmissionOutcome {
	return &models.SubmissionOutcome{
		Status:     models.StatusFailed,
		Message:    message,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
}
