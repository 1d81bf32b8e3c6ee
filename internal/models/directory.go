package models

import (
	"strings"
)

// Canonical business field keys used across form mappings and profiles
const (
	FieldBusinessName = "businessName"
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldWebsite      = "website"
	FieldAddress      = "address"
	FieldCity         = "city"
	FieldState        = "state"
	FieldZip          = "zip"
	FieldCountry      = "country"
	FieldDescription  = "description"
	FieldCategory     = "category"
)

// fieldAliases collapses the key variants seen in catalog files onto the
// canonical field keys. Lookup is case-insensitive on the lowered form.
var fieldAliases = map[string]string{
	"businessname":  FieldBusinessName,
	"business_name": FieldBusinessName,
	"company":       FieldBusinessName,
	"company_name":  FieldBusinessName,
	"name":          FieldBusinessName,
	"email":         FieldEmail,
	"email_address": FieldEmail,
	"contact_email": FieldEmail,
	"phone":         FieldPhone,
	"phone_number":  FieldPhone,
	"telephone":     FieldPhone,
	"tel":           FieldPhone,
	"website":       FieldWebsite,
	"website_url":   FieldWebsite,
	"url":           FieldWebsite,
	"site":          FieldWebsite,
	"address":       FieldAddress,
	"street":        FieldAddress,
	"address1":      FieldAddress,
	"city":          FieldCity,
	"town":          FieldCity,
	"state":         FieldState,
	"region":        FieldState,
	"province":      FieldState,
	"zip":           FieldZip,
	"zipcode":       FieldZip,
	"zip_code":      FieldZip,
	"postal_code":   FieldZip,
	"postcode":      FieldZip,
	"country":       FieldCountry,
	"description":   FieldDescription,
	"desc":          FieldDescription,
	"about":         FieldDescription,
	"bio":           FieldDescription,
	"category":      FieldCategory,
	"business_type": FieldCategory,
	"industry":      FieldCategory,
}

// CanonicalFieldKey maps a catalog field key onto its canonical form.
// Unknown keys pass through lowered so novel fields survive normalisation.
func CanonicalFieldKey(key string) string {
	lowered := strings.ToLower(strings.TrimSpace(key))
	if canonical, ok := fieldAliases[lowered]; ok {
		return canonical
	}
	return lowered
}

// Tier represents the minimum package a directory belongs to
type Tier int

const (
	TierStarter Tier = iota + 1
	TierGrowth
	TierProfessional
	TierEnterprise
)

var tierNames = map[Tier]string{
	TierStarter:      "starter",
	TierGrowth:       "growth",
	TierProfessional: "professional",
	TierEnterprise:   "enterprise",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "starter"
}

// ParseTier accepts tier names or legacy numeric strings ("1".."4")
func ParseTier(raw string) Tier {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "2", "growth":
		return TierGrowth
	case "3", "professional":
		return TierProfessional
	case "4", "enterprise":
		return TierEnterprise
	default:
		return TierStarter
	}
}

// Difficulty grades how hostile a directory's submission flow is
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// FormMapping maps a canonical business field to an ordered sequence of
// candidate CSS selectors, tried in order until one matches.
type FormMapping map[string][]string

// SelectorCount returns the total number of candidate selectors
func (m FormMapping) SelectorCount() int {
	count := 0
	for _, selectors := range m {
		count += len(selectors)
	}
	return count
}

// Directory is a read-only catalog entry. Rolling statistics live in
// HealthRecord, keyed by ID, and are updated only by the health monitor.
type Directory struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	SubmissionURL string      `json:"submission_url"`
	Category      string      `json:"category,omitempty"`

	// Capability flags
	RequiresLogin bool       `json:"requires_login,omitempty"`
	HasCaptcha    bool       `json:"has_captcha,omitempty"`
	HasAntiBot    bool       `json:"has_anti_bot,omitempty"`
	Difficulty    Difficulty `json:"difficulty,omitempty"`
	Tier          Tier       `json:"tier,omitempty"`

	// Scoring inputs
	Priority              float64 `json:"priority,omitempty"`        // 0-1
	FailureRate           float64 `json:"failure_rate,omitempty"`    // 0-1, rolling
	DomainAuthority       float64 `json:"domain_authority,omitempty"`
	TrafficVolume         float64 `json:"traffic_volume,omitempty"`
	SuccessRate           float64 `json:"success_rate,omitempty"` // 0-1, rolling EWMA
	AverageResponseTimeMs float64 `json:"average_response_time_ms,omitempty"`

	FormMapping FormMapping `json:"form_mapping,omitempty"`
}

// priorityCategories earn the full category bonus in the composite score
var priorityCategories = map[string]bool{
	"search-engines": true,
	"social-media":   true,
	"review-sites":   true,
	"maps-services":  true,
}

// IsPriorityCategory reports whether the directory's category earns the
// composite-score category bonus
func (d *Directory) IsPriorityCategory() bool {
	return priorityCategories[strings.ToLower(strings.TrimSpace(d.Category))]
}

// EscalationScore counts the traits that make a directory a poor fit for
// the local browser driver. One point per trait:
// login wall, captcha, anti-bot, hard difficulty, failure rate >= 0.60,
// fewer than 3 mapped selectors.
func (d *Directory) EscalationScore() int {
	score := 0
	if d.RequiresLogin {
		score++
	}
	if d.HasCaptcha {
		score++
	}
	if d.HasAntiBot {
		score++
	}
	if d.Difficulty == DifficultyHard {
		score++
	}
	if d.FailureRate >= 0.60 {
		score++
	}
	if d.FormMapping.SelectorCount() < 3 {
		score++
	}
	return score
}

// PriorityBucket partitions directories by composite score for strict-priority scheduling
type PriorityBucket string

const (
	BucketCritical PriorityBucket = "critical"
	BucketHigh     PriorityBucket = "high"
	BucketMedium   PriorityBucket = "medium"
	BucketLow      PriorityBucket = "low"
)

// BucketForScore maps a composite score onto its priority bucket
func BucketForScore(score float64) PriorityBucket {
	switch {
	case score >= 0.80:
		return BucketCritical
	case score >= 0.60:
		return BucketHigh
	case score >= 0.40:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Buckets lists the priority buckets in strict scheduling order
func Buckets() []PriorityBucket {
	return []PriorityBucket{BucketCritical, BucketHigh, BucketMedium, BucketLow}
}
