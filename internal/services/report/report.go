// Package report renders per-job artifacts after completion: a markdown
// summary converted to HTML and PDF, written under the configured output
// directory. Artifacts are a local operator convenience; the control
// plane never sees them.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/models"
)

// Renderer writes job reports to disk
type Renderer struct {
	config *common.ReportsConfig
	md     goldmark.Markdown
	logger arbor.ILogger
}

// NewRenderer creates the report renderer
func NewRenderer(config *common.ReportsConfig, logger arbor.ILogger) *Renderer {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Renderer{
		config: config,
		md: goldmark.New(
			goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		),
		logger: logger,
	}
}

// Render writes the HTML and PDF artifacts for one finished job
func (r *Renderer) Render(job *models.Job, summary models.JobSummary, finalStatus models.JobStatus, results []models.DirectoryResult) error {
	if !r.config.Enabled {
		return nil
	}
	if err := os.MkdirAll(r.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	markdown := buildMarkdown(job, summary, finalStatus, results)
	base := filepath.Join(r.config.OutputDir, fmt.Sprintf("job-%s-%s", job.ID, time.Now().UTC().Format("20060102-150405")))

	if err := r.writeHTML(base+".html", markdown, job); err != nil {
		return err
	}
	if err := r.writePDF(base+".pdf", job, summary, finalStatus, results); err != nil {
		return err
	}

	r.logger.Info().
		Str("job", job.ID).
		Str("path", base).
		Msg("Job report written")
	return nil
}

// buildMarkdown assembles the report body. The same markdown feeds the
// HTML artifact; the PDF is laid out directly.
func buildMarkdown(job *models.Job, summary models.JobSummary, finalStatus models.JobStatus, results []models.DirectoryResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Submission Report — %s\n\n", job.Business.BusinessName)
	fmt.Fprintf(&b, "Job `%s` finished **%s** at %s.\n\n", job.ID, finalStatus, time.Now().UTC().Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Directories selected | %d |\n", summary.TotalDirectories)
	fmt.Fprintf(&b, "| Submitted | %d |\n", summary.SuccessfulSubmissions)
	fmt.Fprintf(&b, "| Failed | %d |\n", summary.FailedSubmissions)
	fmt.Fprintf(&b, "| Skipped | %d |\n", summary.SkippedSubmissions)
	fmt.Fprintf(&b, "| Processing time | %.0fs |\n\n", summary.ProcessingTimeSeconds)

	b.WriteString("## Directory Outcomes\n\n")
	b.WriteString("| Directory | Status | Detail |\n|---|---|---|\n")
	for _, result := range results {
		detail := result.Message
		if result.ViaAlternate {
			detail += " (via escalation)"
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", escapePipes(result.DirectoryName), result.Status, escapePipes(detail))
	}
	return b.String()
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

func (r *Renderer) writeHTML(path, markdown string, job *models.Job) error {
	var body bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &body); err != nil {
		return fmt.Errorf("failed to render report HTML: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>Submission Report %s</title>\n", job.ID)
	page.WriteString("<style>body{font-family:sans-serif;max-width:60em;margin:2em auto;padding:0 1em}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:4px 8px;text-align:left}</style>\n</head>\n<body>\n")
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")

	if err := os.WriteFile(path, page.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write HTML report: %w", err)
	}
	return nil
}
