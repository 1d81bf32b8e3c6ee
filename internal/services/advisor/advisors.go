package advisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// maxFormHTML bounds the page HTML handed to the mapping prompt
const maxFormHTML = 20000

// ProbabilityOracle scores the chance one submission succeeds
type ProbabilityOracle struct {
	provider Provider
	logger   arbor.ILogger
}

// NewProbabilityOracle creates the success-probability advisor
func NewProbabilityOracle(provider Provider, logger arbor.ILogger) *ProbabilityOracle {
	return &ProbabilityOracle{provider: provider, logger: logger}
}

// ScoreProbability returns a success probability in [0,1]
func (o *ProbabilityOracle) ScoreProbability(ctx context.Context, directory *models.Directory, profile models.BusinessProfile) (float64, error) {
	prompt := fmt.Sprintf(`Estimate the probability that an automated form submission to this web directory succeeds.

Directory: %s
Category: %s
Difficulty: %s
Requires login: %t
Has CAPTCHA: %t
Has anti-bot protection: %t
Historical failure rate: %.2f
Mapped form selectors: %d

Business completeness: name=%t email=%t phone=%t website=%t address=%t description=%t

Answer with a single number between 0.0 and 1.0 and nothing else.`,
		directory.Name, directory.Category, directory.Difficulty,
		directory.RequiresLogin, directory.HasCaptcha, directory.HasAntiBot,
		directory.FailureRate, directory.FormMapping.SelectorCount(),
		profile.BusinessName != "", profile.Email != "", profile.Phone != "",
		profile.Website != "", profile.Address != "", profile.Description != "")

	response, err := o.provider.Generate(ctx, "You estimate automated form submission success rates.", prompt)
	if err != nil {
		return 0, err
	}
	return parseProbability(response)
}

// DescriptionCustomizer rewrites the business description per directory
type DescriptionCustomizer struct {
	provider Provider
	logger   arbor.ILogger
}

// NewDescriptionCustomizer creates the description advisor
func NewDescriptionCustomizer(provider Provider, logger arbor.ILogger) *DescriptionCustomizer {
	return &DescriptionCustomizer{provider: provider, logger: logger}
}

// CustomizeDescription returns a per-directory rewrite of the description.
// Callers fall back to the original on error.
func (c *DescriptionCustomizer) CustomizeDescription(ctx context.Context, directory *models.Directory, profile models.BusinessProfile) (string, error) {
	if profile.Description == "" {
		return "", fmt.Errorf("no description to customise")
	}
	prompt := fmt.Sprintf(`Rewrite this business description for a listing on "%s" (category: %s).
Keep it factual, under 400 characters, no markdown, no quotes.

Business: %s
Category: %s
Description: %s

Answer with the rewritten description only.`,
		directory.Name, directory.Category,
		profile.BusinessName, profile.Category, profile.Description)

	response, err := c.provider.Generate(ctx, "You write concise business directory listings.", prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(stripCodeFence(response))
	if text == "" {
		return "", fmt.Errorf("customiser returned empty description")
	}
	return text, nil
}

// mappedField is one entry of the mapper's YAML response
type mappedField struct {
	Field      string  `yaml:"field"`
	Selector   string  `yaml:"selector"`
	Confidence float64 `yaml:"confidence"`
}

type mappingResponse struct {
	Fields []mappedField `yaml:"fields"`
}

// FormMapper synthesises a form mapping from the live page when the
// catalog has none. Fields below the confidence floor are dropped before
// the mapping is returned.
type FormMapper struct {
	provider      Provider
	httpClient    *http.Client
	confidenceMin float64
	converter     *md.Converter
	logger        arbor.ILogger
}

// NewFormMapper creates the form-field mapping advisor
func NewFormMapper(provider Provider, httpClient *http.Client, confidenceMin float64, logger arbor.ILogger) *FormMapper {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &FormMapper{
		provider:      provider,
		httpClient:    httpClient,
		confidenceMin: confidenceMin,
		converter:     md.NewConverter("", true, nil),
		logger:        logger,
	}
}

// MapFormFields synthesises a mapping for the directory's submission form.
// When formHTML is empty the mapper fetches the submission page itself.
func (m *FormMapper) MapFormFields(ctx context.Context, directory *models.Directory, formHTML string) (models.FormMapping, error) {
	if formHTML == "" {
		fetched, err := m.fetchPage(ctx, directory.SubmissionURL)
		if err != nil {
			return nil, err
		}
		formHTML = fetched
	}
	if len(formHTML) > maxFormHTML {
		formHTML = formHTML[:maxFormHTML]
	}

	prompt := fmt.Sprintf(`This is the HTML of a business directory submission page. Map each business field to the CSS selector of its form input.

Known field keys: businessName, email, phone, website, address, city, state, zip, country, description, category.

Respond in YAML:
fields:
  - field: businessName
    selector: "#company-name"
    confidence: 0.9

HTML:
%s`, formHTML)

	response, err := m.provider.Generate(ctx, "You map HTML form inputs to business fields.", prompt)
	if err != nil {
		return nil, err
	}

	var parsed mappingResponse
	if err := yaml.Unmarshal([]byte(stripCodeFence(response)), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable mapping response: %w", err)
	}

	mapping := models.FormMapping{}
	for _, field := range parsed.Fields {
		if field.Selector == "" || field.Confidence < m.confidenceMin {
			continue
		}
		key := models.CanonicalFieldKey(field.Field)
		mapping[key] = append(mapping[key], field.Selector)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("mapper produced no fields above confidence %.2f", m.confidenceMin)
	}
	return mapping, nil
}

func (m *FormMapper) fetchPage(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build page request: %w", err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch submission page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submission page returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read submission page: %w", err)
	}
	return string(data), nil
}

// retryAnalysis is the analyser's YAML response
type retryAnalysis struct {
	Retry  bool   `yaml:"retry"`
	Reason string `yaml:"reason"`
}

// RetryAnalyser reviews failures already classified retryable by message
// substring. It may veto the retry; it can never promote a non-retryable
// failure, so the substring classification stays the gate.
type RetryAnalyser struct {
	provider Provider
	logger   arbor.ILogger
}

// NewRetryAnalyser creates the failure-analysis advisor
func NewRetryAnalyser(provider Provider, logger arbor.ILogger) *RetryAnalyser {
	return &RetryAnalyser{provider: provider, logger: logger}
}

// AnalyzeFailure judges whether the failure class is worth retrying
func (a *RetryAnalyser) AnalyzeFailure(ctx context.Context, directory *models.Directory, failureMessage string) (*interfaces.RetryAdvice, error) {
	prompt := fmt.Sprintf(`A form submission to the directory "%s" failed with:

%s

Is retrying this submission likely to help? Respond in YAML:
retry: true
reason: one short sentence`,
		directory.Name, failureMessage)

	response, err := a.provider.Generate(ctx, "You classify automated submission failures.", prompt)
	if err != nil {
		return nil, err
	}

	var parsed retryAnalysis
	if err := yaml.Unmarshal([]byte(stripCodeFence(response)), &parsed); err != nil {
		return nil, fmt.Errorf("unparseable retry analysis: %w", err)
	}
	return &interfaces.RetryAdvice{Retry: parsed.Retry, Reason: parsed.Reason}, nil
}
