package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/models"
)

// defaultSearchPaths is the documented fallback order when no explicit
// catalog path is configured
var defaultSearchPaths = []string{
	"./directories.json",
	"./config/directories.json",
	"./data/directories.json",
	"/etc/autobolt/directories.json",
}

// rawDirectory tolerates the field variants seen in catalog exports.
// Numeric fields may arrive as numbers or quoted strings; tiers as
// integers or names; mapping values as one selector or a list.
type rawDirectory struct {
	ID                    string                     `json:"id"`
	DirectoryID           string                     `json:"directory_id"`
	Name                  string                     `json:"name"`
	SubmissionURL         string                     `json:"submission_url"`
	URL                   string                     `json:"url"`
	Category              string                     `json:"category"`
	RequiresLogin         bool                       `json:"requires_login"`
	HasCaptcha            bool                       `json:"has_captcha"`
	HasAntiBot            bool                       `json:"has_anti_bot"`
	Difficulty            string                     `json:"difficulty"`
	Tier                  json.RawMessage            `json:"tier"`
	Priority              json.RawMessage            `json:"priority"`
	FailureRate           json.RawMessage            `json:"failure_rate"`
	DomainAuthority       json.RawMessage            `json:"domain_authority"`
	TrafficVolume         json.RawMessage            `json:"traffic_volume"`
	SuccessRate           json.RawMessage            `json:"success_rate"`
	AverageResponseTimeMs json.RawMessage            `json:"average_response_time_ms"`
	FormMapping           map[string]json.RawMessage `json:"form_mapping"`
}

// catalogFile is the object form of the catalog document
type catalogFile struct {
	Directories []rawDirectory `json:"directories"`
	Items       []rawDirectory `json:"items"`
}

// ResolvePath returns the catalog file to load: the explicit path when
// set, otherwise the first existing default path.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("catalog file %s not readable: %w", explicit, err)
		}
		return explicit, nil
	}
	for _, path := range defaultSearchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no catalog file found in search paths %v", defaultSearchPaths)
}

// Load reads, validates, and normalises the directory catalog. Entries
// without a submission URL are rejected and counted.
func Load(path string, logger arbor.ILogger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	raws, err := parseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}

	directories := make([]*models.Directory, 0, len(raws))
	rejected := 0
	for i := range raws {
		directory, ok := normalize(&raws[i])
		if !ok {
			rejected++
			continue
		}
		directories = append(directories, directory)
	}

	if logger != nil {
		logger.Info().
			Str("path", path).
			Int("loaded", len(directories)).
			Int("rejected", rejected).
			Msg("Directory catalog loaded")
	}
	if len(directories) == 0 {
		return nil, fmt.Errorf("catalog file %s contains no usable directories", path)
	}

	return &Catalog{directories: directories, logger: logger}, nil
}

// parseCatalog accepts either a bare array or an object with a
// directories / items key
func parseCatalog(data []byte) ([]rawDirectory, error) {
	var asArray []rawDirectory
	if err := json.Unmarshal(data, &asArray); err == nil {
		return asArray, nil
	}

	var asObject catalogFile
	if err := json.Unmarshal(data, &asObject); err != nil {
		return nil, err
	}
	if len(asObject.Directories) > 0 {
		return asObject.Directories, nil
	}
	return asObject.Items, nil
}

// normalize converts one raw entry into a Directory. Returns false when
// the entry has no submission URL.
func normalize(raw *rawDirectory) (*models.Directory, bool) {
	submissionURL := raw.SubmissionURL
	if submissionURL == "" {
		submissionURL = raw.URL
	}
	if submissionURL == "" {
		return nil, false
	}

	id := raw.ID
	if id == "" {
		id = raw.DirectoryID
	}
	if id == "" {
		id = slugify(raw.Name)
	}

	directory := &models.Directory{
		ID:                    id,
		Name:                  raw.Name,
		SubmissionURL:         submissionURL,
		Category:              strings.ToLower(strings.TrimSpace(raw.Category)),
		RequiresLogin:         raw.RequiresLogin,
		HasCaptcha:            raw.HasCaptcha,
		HasAntiBot:            raw.HasAntiBot,
		Difficulty:            models.Difficulty(strings.ToLower(strings.TrimSpace(raw.Difficulty))),
		Tier:                  coerceTier(raw.Tier),
		Priority:              clamp01(coerceFloat(raw.Priority)),
		FailureRate:           clamp01(coerceFloat(raw.FailureRate)),
		DomainAuthority:       coerceFloat(raw.DomainAuthority),
		TrafficVolume:         coerceFloat(raw.TrafficVolume),
		SuccessRate:           clamp01(coerceFloat(raw.SuccessRate)),
		AverageResponseTimeMs: coerceFloat(raw.AverageResponseTimeMs),
		FormMapping:           normalizeMapping(raw.FormMapping),
	}
	if directory.Name == "" {
		directory.Name = directory.ID
	}
	return directory, true
}

// normalizeMapping collapses alias keys onto canonical field names and
// accepts either a single selector or a selector list per field. When the
// same canonical key appears under several aliases the selector lists are
// appended in input order, deduplicated.
func normalizeMapping(raw map[string]json.RawMessage) models.FormMapping {
	if len(raw) == 0 {
		return nil
	}

	mapping := make(models.FormMapping, len(raw))
	for key, value := range raw {
		canonical := models.CanonicalFieldKey(key)
		selectors := coerceSelectors(value)
		if len(selectors) == 0 {
			continue
		}
		mapping[canonical] = appendUnique(mapping[canonical], selectors...)
	}
	if len(mapping) == 0 {
		return nil
	}
	return mapping
}

func coerceSelectors(raw json.RawMessage) []string {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		single = strings.TrimSpace(single)
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	out := make([]string, 0, len(many))
	for _, s := range many {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func appendUnique(existing []string, extra ...string) []string {
	for _, candidate := range extra {
		seen := false
		for _, have := range existing {
			if have == candidate {
				seen = true
				break
			}
		}
		if !seen {
			existing = append(existing, candidate)
		}
	}
	return existing
}

// coerceFloat accepts JSON numbers and quoted numeric strings
func coerceFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return number
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
			return parsed
		}
	}
	return 0
}

// coerceTier accepts tier numbers (1-4), numeric strings, and tier names
func coerceTier(raw json.RawMessage) models.Tier {
	if len(raw) == 0 {
		return models.TierStarter
	}

	var number int
	if err := json.Unmarshal(raw, &number); err == nil {
		return models.ParseTier(strconv.Itoa(number))
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return models.ParseTier(str)
	}
	return models.TierStarter
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	return slug
}
