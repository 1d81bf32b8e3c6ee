// Package catalog loads the directory catalog and produces the ordered,
// filtered selection for each job. The catalog is loaded once per worker
// and read-only afterwards; rolling statistics live with the health monitor.
package catalog

import (
	"math"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// Composite score weights
const (
	weightDomainAuthority = 0.30
	weightTraffic         = 0.25
	weightCategory        = 0.25
	weightSuccessRate     = 0.20
)

// Catalog holds the normalised directory list
type Catalog struct {
	directories []*models.Directory
	logger      arbor.ILogger
}

// New builds a catalog from pre-normalised directories. Used by tests and
// by callers that source directories elsewhere.
func New(directories []*models.Directory, logger arbor.ILogger) *Catalog {
	return &Catalog{directories: directories, logger: logger}
}

// Len returns the number of usable directories
func (c *Catalog) Len() int {
	return len(c.directories)
}

// Directories returns the full normalised list. Callers must not mutate it.
func (c *Catalog) Directories() []*models.Directory {
	return c.directories
}

// Get returns a directory by id
func (c *Catalog) Get(directoryID string) (*models.Directory, bool) {
	for _, d := range c.directories {
		if d.ID == directoryID {
			return d, true
		}
	}
	return nil, false
}

// ScoredDirectory pairs a directory with its composite priority
type ScoredDirectory struct {
	*models.Directory
	Score  float64
	Bucket models.PriorityBucket
}

// Score computes the composite priority for one directory:
// 0.30 * normalised domain authority
// + 0.25 * log10(traffic+1)/6
// + 0.25 * category bonus
// + 0.20 * rolling success rate.
// The rolling rate comes from the health monitor when the directory has
// been observed, otherwise from the catalog's static value.
func Score(directory *models.Directory, health interfaces.HealthView) float64 {
	daNorm := clamp01(directory.DomainAuthority / 100)

	traffic := directory.TrafficVolume
	if traffic < 0 {
		traffic = 0
	}
	trafficNorm := clamp01(math.Log10(traffic+1) / 6)

	categoryBonus := 0.0
	if directory.IsPriorityCategory() {
		categoryBonus = 1.0
	}

	successRate := directory.SuccessRate
	if health != nil {
		if rolling, observed := health.SuccessRate(directory.ID); observed {
			successRate = rolling
		}
	}

	return weightDomainAuthority*daNorm +
		weightTraffic*trafficNorm +
		weightCategory*categoryBonus +
		weightSuccessRate*clamp01(successRate)
}

// SelectForJob returns the scored, ordered selection for one job:
// filtered by driver capability, package tier, and health; sorted by
// composite score descending with directory id as the deterministic
// tie-break; truncated to the job's budget.
func (c *Catalog) SelectForJob(job *models.Job, capabilities interfaces.DriverCapabilities, health interfaces.HealthView) []ScoredDirectory {
	budget := job.Budget()
	if budget <= 0 {
		return nil
	}

	eligible := c.filter(job, capabilities, health)

	scored := make([]ScoredDirectory, 0, len(eligible))
	for _, directory := range eligible {
		score := Score(directory, health)
		scored = append(scored, ScoredDirectory{
			Directory: directory,
			Score:     score,
			Bucket:    models.BucketForScore(score),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) < budget {
		if c.logger != nil {
			c.logger.Warn().
				Str("job_id", job.ID).
				Int("budget", budget).
				Int("eligible", len(scored)).
				Msg("Eligible directories under job budget")
		}
		return scored
	}
	return scored[:budget]
}

// filter drops directories the driver cannot handle, directories above
// the job's package tier, and directories flagged unhealthy.
func (c *Catalog) filter(job *models.Job, capabilities interfaces.DriverCapabilities, health interfaces.HealthView) []*models.Directory {
	tierCeiling := job.Tier()

	eligible := make([]*models.Directory, 0, len(c.directories))
	for _, directory := range c.directories {
		if directory.RequiresLogin && !capabilities.HandlesLogin {
			continue
		}
		if directory.HasCaptcha && !capabilities.SolvesCaptcha {
			continue
		}
		if directory.Tier > tierCeiling {
			continue
		}
		if health != nil && health.IsUnhealthy(directory.ID) {
			continue
		}
		eligible = append(eligible, directory)
	}
	return eligible
}
