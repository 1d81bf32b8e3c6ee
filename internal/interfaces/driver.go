package interfaces

import (
	"context"

	"github.com/ternarybob/autobolt/internal/models"
)

// DriverCapabilities advertises what a submission driver can handle.
// The catalog filter drops directories requiring capabilities the active
// driver does not advertise.
type DriverCapabilities struct {
	HandlesLogin  bool // Driver can authenticate against login-walled directories
	SolvesCaptcha bool // Driver can pass CAPTCHA challenges
}

// Merge combines two capability sets. A capability either driver
// advertises stays selectable; escalation routing picks the driver that
// actually handles it at attempt time.
func (c DriverCapabilities) Merge(other DriverCapabilities) DriverCapabilities {
	return DriverCapabilities{
		HandlesLogin:  c.HandlesLogin || other.HandlesLogin,
		SolvesCaptcha: c.SolvesCaptcha || other.SolvesCaptcha,
	}
}

// SubmissionDriver performs one directory submission as a single opaque
// operation. Everything about form detection, field filling, and
// success-indicator checks lives behind this contract.
//
// Guarantees the caller relies on:
//   - Submit is blocking but cancellable via ctx.
//   - Submit completes within the caller's deadline or returns a failed
//     outcome with a "timeout" message.
//   - Submit is reentrancy-safe across different (job, directory) pairs,
//     but not idempotent on the external directory.
//   - Failure modes surface as StatusFailed plus a message. An error return
//     means the driver itself is broken and is fatal for the current job.
type SubmissionDriver interface {
	// Initialize prepares driver resources. Called once before the first
	// Submit; failure is a fatal startup error.
	Initialize(ctx context.Context) error

	// Submit attempts one directory submission with the given profile
	Submit(ctx context.Context, directory *models.Directory, profile models.BusinessProfile, mapping models.FormMapping, options models.SubmissionOptions) (*models.SubmissionOutcome, error)

	// Capabilities reports what this driver advertises to the catalog filter
	Capabilities() DriverCapabilities

	// Close releases driver resources. Idempotent.
	Close() error
}
