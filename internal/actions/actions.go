// Package actions derives remediation action items from an inspection's
// consolidated findings.
package actions

import (
	"fmt"
	"strings"
	"time"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
)

const (
	criticalDue    = 4 * time.Hour
	highDue        = 24 * time.Hour
	mediumDue      = 72 * time.Hour
	mediumGrouping = 3
)

// Finding is the part of a persisted finding the rules look at.
type Finding struct {
	ID                string
	Category          compliance.Category
	Severity          compliance.Severity
	Title             string
	Description       string
	RecommendedAction string
}

// Item is a new action item. FindingID is empty for category summaries.
type Item struct {
	FindingID   string
	Title       string
	Description string
	Priority    compliance.Priority
	Status      compliance.ActionStatus
	DueDate     time.Time
}

// Generate applies the action rules: one urgent item per critical finding,
// one high item per high finding, and one review item per category with at
// least three medium findings. Low findings produce nothing.
func Generate(findings []Finding, now time.Time) []Item {
	var critical, high []Item
	mediumByCategory := make(map[compliance.Category]int)

	for _, f := range findings {
		switch f.Severity {
		case compliance.SeverityCritical:
			critical = append(critical, Item{
				FindingID:   f.ID,
				Title:       "Address Critical Issue: " + f.Title,
				Description: describe(f),
				Priority:    compliance.PriorityUrgent,
				Status:      compliance.ActionOpen,
				DueDate:     now.Add(criticalDue),
			})
		case compliance.SeverityHigh:
			high = append(high, Item{
				FindingID:   f.ID,
				Title:       "Address High Priority Issue: " + f.Title,
				Description: describe(f),
				Priority:    compliance.PriorityHigh,
				Status:      compliance.ActionOpen,
				DueDate:     now.Add(highDue),
			})
		case compliance.SeverityMedium:
			mediumByCategory[f.Category]++
		}
	}

	out := append(critical, high...)
	for c := compliance.CategoryPPE; c <= compliance.CategoryOther; c++ {
		if mediumByCategory[c] < mediumGrouping {
			continue
		}
		out = append(out, Item{
			Title: fmt.Sprintf("Review %s Compliance", c),
			Description: fmt.Sprintf("Multiple %s issues detected. Review and address all findings in this category.",
				strings.ToLower(c.String())),
			Priority: compliance.PriorityMedium,
			Status:   compliance.ActionOpen,
			DueDate:  now.Add(mediumDue),
		})
	}
	return out
}

func describe(f Finding) string {
	if f.RecommendedAction != "" {
		return f.RecommendedAction
	}
	return f.Description
}
