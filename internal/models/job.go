package models

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle state reported to the control plane
type JobStatus string

const (
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// PackageSize is the job budget expressed as a named plan
type PackageSize string

const (
	PackageStarter      PackageSize = "starter"
	PackageGrowth       PackageSize = "growth"
	PackageProfessional PackageSize = "professional"
	PackageEnterprise   PackageSize = "enterprise"
)

// packageLimits maps each plan to its directory count
var packageLimits = map[PackageSize]int{
	PackageStarter:      50,
	PackageGrowth:       150,
	PackageProfessional: 300,
	PackageEnterprise:   500,
}

// Limit returns the directory count for the package. Unknown packages
// fall back to the starter allocation.
func (p PackageSize) Limit() int {
	if limit, ok := packageLimits[normalizePackage(p)]; ok {
		return limit
	}
	return packageLimits[PackageStarter]
}

// Job is the immutable input record describing one customer's submission batch.
// It is created remotely; the worker only reads it.
type Job struct {
	ID             string          `json:"jobId"`
	CustomerID     string          `json:"customerId,omitempty"`
	Business       BusinessProfile `json:"businessData"`
	PackageSize    PackageSize     `json:"packageSize,omitempty"`    // Named plan budget
	DirectoryLimit int             `json:"directoryLimit,omitempty"` // Explicit budget; wins over PackageSize when set
	CreatedAt      time.Time       `json:"createdAt,omitempty"`
}

// Budget resolves the number of directories this job may consume.
// An explicit directory limit wins over the package mapping. A job with
// neither has a budget of zero and completes immediately.
func (j *Job) Budget() int {
	if j.DirectoryLimit > 0 {
		return j.DirectoryLimit
	}
	if j.PackageSize == "" {
		return 0
	}
	return j.PackageSize.Limit()
}

// Tier returns the directory tier ceiling implied by the job's package
func (j *Job) Tier() Tier {
	switch normalizePackage(j.PackageSize) {
	case PackageEnterprise:
		return TierEnterprise
	case PackageProfessional:
		return TierProfessional
	case PackageGrowth:
		return TierGrowth
	default:
		return TierStarter
	}
}

func normalizePackage(p PackageSize) PackageSize {
	return PackageSize(strings.ToLower(strings.TrimSpace(string(p))))
}

// BusinessProfile is the normalised business payload submitted to directories.
// All fields are optional; directories requiring a missing field are skipped.
type BusinessProfile struct {
	BusinessName string `json:"businessName,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Website      string `json:"website,omitempty"`
	Address      string `json:"address,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Zip          string `json:"zip,omitempty"`
	Country      string `json:"country,omitempty"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
}

// Field returns the profile value for a canonical field key
func (b *BusinessProfile) Field(key string) string {
	switch key {
	case FieldBusinessName:
		return b.BusinessName
	case FieldEmail:
		return b.Email
	case FieldPhone:
		return b.Phone
	case FieldWebsite:
		return b.Website
	case FieldAddress:
		return b.Address
	case FieldCity:
		return b.City
	case FieldState:
		return b.State
	case FieldZip:
		return b.Zip
	case FieldCountry:
		return b.Country
	case FieldDescription:
		return b.Description
	case FieldCategory:
		return b.Category
	}
	return ""
}

// WithDescription returns a copy of the profile carrying a rewritten description
func (b BusinessProfile) WithDescription(description string) BusinessProfile {
	if description != "" {
		b.Description = description
	}
	return b
}

// JobSummary is the aggregate reported by the final completion call
type JobSummary struct {
	TotalDirectories      int     `json:"totalDirectories"`
	SuccessfulSubmissions int     `json:"successfulSubmissions"`
	FailedSubmissions     int     `json:"failedSubmissions"`
	SkippedSubmissions    int     `json:"skippedSubmissions"`
	ProcessingTimeSeconds float64 `json:"processingTimeSeconds"`
}
