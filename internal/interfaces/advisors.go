package interfaces

import (
	"context"

	"github.com/ternarybob/autobolt/internal/models"
)

// Advisors are optional collaborators consulted before a submission.
// Each produces advice or nothing within the advisor timeout; absence or
// failure of an advisor must never block a submission.

// ProbabilityAdvisor estimates the chance a submission will succeed
type ProbabilityAdvisor interface {
	// ScoreProbability returns a success probability in [0,1]
	ScoreProbability(ctx context.Context, directory *models.Directory, profile models.BusinessProfile) (float64, error)
}

// DescriptionAdvisor rewrites the business description for one directory
type DescriptionAdvisor interface {
	// CustomizeDescription returns a per-directory rewrite of the
	// description. Callers fall back to the original on error.
	CustomizeDescription(ctx context.Context, directory *models.Directory, profile models.BusinessProfile) (string, error)
}

// MappingAdvisor synthesises a form mapping when the catalog has none.
// Implementations drop fields below their confidence floor before returning.
type MappingAdvisor interface {
	MapFormFields(ctx context.Context, directory *models.Directory, formHTML string) (models.FormMapping, error)
}

// RetryAdvice is the analyser's judgement on a failed attempt
type RetryAdvice struct {
	Retry  bool   `json:"retry"`
	Reason string `json:"reason,omitempty"`
}

// RetryAdvisor reviews failed attempts flagged retryable by message
// classification. It may veto a retry; it can never promote a
// non-retryable failure.
type RetryAdvisor interface {
	AnalyzeFailure(ctx context.Context, directory *models.Directory, failureMessage string) (*RetryAdvice, error)
}
