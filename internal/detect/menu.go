package detect

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
)

const (
	MenuIssueMissingInfo     = "missing_required_info"
	MenuIssueLowConfidence   = "low_confidence_text"
	MenuIssueIncompleteText  = "incomplete_text"
	MenuIssueInsufficientTxt = "insufficient_content"
)

const (
	menuMissingPenalty     = 20
	menuReadabilityPenalty = 10
	menuSparsePenalty      = 10
	menuMinBlocks          = 5
	menuMinConfidence      = 0.7
	menuMinTextLen         = 3
)

type menuElement struct {
	name     string
	keywords []string
}

var requiredMenuElements = []menuElement{
	{"prices", []string{"$", "price", "cost"}},
	{"nutritional_info", []string{"calories", "cal", "nutrition"}},
	{"allergen_info", []string{"allergen", "contains", "may contain"}},
}

type MenuIssue struct {
	Type        string              `json:"type"`
	Element     string              `json:"element,omitempty"`
	Text        string              `json:"text,omitempty"`
	Description string              `json:"description"`
	Severity    compliance.Severity `json:"severity"`
}

type MenuReport struct {
	Text            TextReport  `json:"detected_text"`
	Issues          []MenuIssue `json:"compliance_issues"`
	ComplianceScore float64     `json:"compliance_score"`
}

// MenuCompliance scores OCR output of a menu board: required pricing,
// nutrition and allergen information, readable text and enough content.
func MenuCompliance(blocks []TextBlock) MenuReport {
	text := NewTextReport(blocks)
	all := strings.ToLower(text.AllText)
	score := 100.0
	var issues []MenuIssue

	for _, el := range requiredMenuElements {
		if ContainsAny(all, el.keywords...) {
			continue
		}
		issues = append(issues, MenuIssue{
			Type:        MenuIssueMissingInfo,
			Element:     el.name,
			Description: fmt.Sprintf("Missing %s information", strings.ReplaceAll(el.name, "_", " ")),
			Severity:    compliance.SeverityMedium,
		})
		score -= menuMissingPenalty
	}

	for _, b := range blocks {
		if b.Confidence < menuMinConfidence {
			issues = append(issues, MenuIssue{
				Type:        MenuIssueLowConfidence,
				Text:        b.Text,
				Description: fmt.Sprintf("Text %q has low OCR confidence", b.Text),
				Severity:    compliance.SeverityMedium,
			})
			score -= menuReadabilityPenalty
		}
		trimmed := strings.TrimSpace(b.Text)
		if len(trimmed) < menuMinTextLen && isAlpha(trimmed) {
			issues = append(issues, MenuIssue{
				Type:        MenuIssueIncompleteText,
				Text:        b.Text,
				Description: fmt.Sprintf("Text %q appears incomplete", b.Text),
				Severity:    compliance.SeverityLow,
			})
			score -= menuReadabilityPenalty
		}
	}

	if len(blocks) < menuMinBlocks {
		issues = append(issues, MenuIssue{
			Type:        MenuIssueInsufficientTxt,
			Description: "Menu board appears to have insufficient content",
			Severity:    compliance.SeverityLow,
		})
		score -= menuSparsePenalty
	}

	if score < 0 {
		score = 0
	}
	return MenuReport{Text: text, Issues: issues, ComplianceScore: score}
}

// isAlpha reports whether s is non-empty and made of letters only.
func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
