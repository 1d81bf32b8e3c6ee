package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/autobolt/internal/models"
)

// submitCandidates are tried in order when looking for the form's submit
// control
var submitCandidates = []string{
	"form button[type=submit]",
	"form input[type=submit]",
	"button[type=submit]",
	"input[type=submit]",
	"form button",
}

// baseSuccessIndicators are always checked on the post-submit page; the
// config list extends them
var baseSuccessIndicators = []string{
	"thank you",
	"thanks for",
	"submission received",
	"successfully submitted",
	"has been submitted",
	"confirmation",
	"we have received",
}

// PageScan is what the driver learned from one captured page
type PageScan struct {
	HasForm        bool
	Fields         map[string]string // canonical field -> first matching selector
	SubmitSelector string
}

// ScanPage parses the captured HTML and resolves the form mapping: for
// each canonical field, the first candidate selector present on the page
// wins. Fields with no matching selector are dropped.
func ScanPage(html string, mapping models.FormMapping) (*PageScan, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	scan := &PageScan{
		HasForm: doc.Find("form").Length() > 0,
		Fields:  make(map[string]string),
	}

	for field, selectors := range mapping {
		for _, selector := range selectors {
			if matches(doc, selector) {
				scan.Fields[field] = selector
				break
			}
		}
	}

	for _, candidate := range submitCandidates {
		if matches(doc, candidate) {
			scan.SubmitSelector = candidate
			break
		}
	}

	return scan, nil
}

// matches reports whether the selector finds at least one node. Invalid
// selectors count as no match; catalog data is not trusted to be valid CSS.
func matches(doc *goquery.Document, selector string) bool {
	defer func() {
		// goquery panics on selectors cascadia cannot compile
		_ = recover()
	}()
	return doc.Find(selector).Length() > 0
}

// DetectSuccess reports whether the post-submit page text carries a
// success indicator. Matching is case-insensitive substring.
func DetectSuccess(pageText string, extraIndicators []string) bool {
	lowered := strings.ToLower(pageText)
	for _, indicator := range baseSuccessIndicators {
		if strings.Contains(lowered, indicator) {
			return true
		}
	}
	for _, indicator := range extraIndicators {
		if indicator != "" && strings.Contains(lowered, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}
