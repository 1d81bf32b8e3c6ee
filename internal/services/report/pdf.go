package report

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/ternarybob/autobolt/internal/models"
)

// statusColors shade the status cell of each outcome row
var statusColors = map[models.SubmissionStatus][3]int{
	models.StatusSubmitted: {0, 128, 0},
	models.StatusFailed:    {178, 34, 34},
	models.StatusSkipped:   {128, 128, 128},
}

func (r *Renderer) writePDF(path string, job *models.Job, summary models.JobSummary, finalStatus models.JobStatus, results []models.DirectoryResult) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(true, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.MultiCell(0, 8, fmt.Sprintf("Submission Report — %s", job.Business.BusinessName), "", "L", false)

	pdf.SetFont("Arial", "", 9)
	pdf.MultiCell(0, 5, fmt.Sprintf("Job %s finished %s at %s", job.ID, finalStatus, time.Now().UTC().Format(time.RFC3339)), "", "L", false)
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 6, "Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	summaryRows := [][2]string{
		{"Directories selected", fmt.Sprintf("%d", summary.TotalDirectories)},
		{"Submitted", fmt.Sprintf("%d", summary.SuccessfulSubmissions)},
		{"Failed", fmt.Sprintf("%d", summary.FailedSubmissions)},
		{"Skipped", fmt.Sprintf("%d", summary.SkippedSubmissions)},
		{"Processing time", fmt.Sprintf("%.0fs", summary.ProcessingTimeSeconds)},
	}
	for _, row := range summaryRows {
		pdf.CellFormat(50, 5, row[0], "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 5, row[1], "1", 1, "R", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 6, "Directory Outcomes", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "B", 8)
	pdf.CellFormat(60, 5, "Directory", "1", 0, "L", false, 0, "")
	pdf.CellFormat(22, 5, "Status", "1", 0, "L", false, 0, "")
	pdf.CellFormat(108, 5, "Detail", "1", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 8)
	for _, result := range results {
		color := statusColors[result.Status]
		detail := result.Message
		if result.ViaAlternate {
			detail += " (via escalation)"
		}
		pdf.CellFormat(60, 5, truncate(result.DirectoryName, 40), "1", 0, "L", false, 0, "")
		pdf.SetTextColor(color[0], color[1], color[2])
		pdf.CellFormat(22, 5, string(result.Status), "1", 0, "L", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(108, 5, truncate(detail, 80), "1", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return fmt.Errorf("failed to generate PDF output: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write PDF report: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
