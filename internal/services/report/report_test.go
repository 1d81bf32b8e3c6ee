package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/models"
)

func testJob() *models.Job {
	return &models.Job{
		ID: "job-42",
		Business: models.BusinessProfile{
			BusinessName: "Acme Plumbing",
			Email:        "info@acme.test",
		},
		PackageSize: models.PackageStarter,
	}
}

func testResults() []models.DirectoryResult {
	return []models.DirectoryResult{
		{DirectoryName: "Biz Hub", Status: models.StatusSubmitted, Message: "submission accepted"},
		{DirectoryName: "Local Index", Status: models.StatusFailed, Message: "no success indicator on response page"},
		{DirectoryName: "Hard Directory", Status: models.StatusSubmitted, Message: "listing accepted", ViaAlternate: true},
	}
}

func TestRenderWritesArtifacts(t *testing.T) {
	dir := t.TempDir()
	renderer := NewRenderer(&common.ReportsConfig{Enabled: true, OutputDir: dir}, common.GetLogger())

	summary := models.JobSummary{
		TotalDirectories:      3,
		SuccessfulSubmissions: 2,
		FailedSubmissions:     1,
		ProcessingTimeSeconds: 12,
	}
	require.NoError(t, renderer.Render(testJob(), summary, models.JobStatusComplete, testResults()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var htmlPath, pdfPath string
	for _, entry := range entries {
		switch filepath.Ext(entry.Name()) {
		case ".html":
			htmlPath = filepath.Join(dir, entry.Name())
		case ".pdf":
			pdfPath = filepath.Join(dir, entry.Name())
		}
		assert.True(t, strings.HasPrefix(entry.Name(), "job-job-42-"), "unexpected artifact name %s", entry.Name())
	}
	require.NotEmpty(t, htmlPath)
	require.NotEmpty(t, pdfPath)

	html, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "Acme Plumbing")
	assert.Contains(t, string(html), "Biz Hub")
	assert.Contains(t, string(html), "(via escalation)")

	pdf, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF-"), "PDF artifact lacks header")
}

func TestRenderDisabledIsNoOp(t *testing.T) {
	dir := t.TempDir()
	renderer := NewRenderer(&common.ReportsConfig{Enabled: false, OutputDir: dir}, common.GetLogger())

	require.NoError(t, renderer.Render(testJob(), models.JobSummary{}, models.JobStatusComplete, nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildMarkdownEscapesPipes(t *testing.T) {
	markdown := buildMarkdown(testJob(), models.JobSummary{}, models.JobStatusComplete, []models.DirectoryResult{
		{DirectoryName: "Pipe | Directory", Status: models.StatusFailed, Message: "selector a|b not found"},
	})
	assert.Contains(t, markdown, `Pipe \| Directory`)
	assert.Contains(t, markdown, `selector a\|b not found`)
}
