// Package findings turns frame analyses into compliance findings and merges
// repeated findings across frames.
package findings

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/heimdex/heimdex-inspect/internal/analyzer"
	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/detect"
	"github.com/heimdex/heimdex-inspect/internal/frames"
)

// Raw is a finding observed on a single frame.
type Raw struct {
	Category          compliance.Category     `json:"category"`
	Severity          compliance.Severity     `json:"severity"`
	Title             string                  `json:"title"`
	Description       string                  `json:"description"`
	Confidence        float64                 `json:"confidence"`
	Box               *compliance.BoundingBox `json:"bounding_box,omitempty"`
	Frame             frames.Ref              `json:"frame"`
	RecommendedAction string                  `json:"recommended_action"`
}

const (
	uniformFindingThreshold = 80
	menuFindingThreshold    = 80
	foodPresentationMinConf = 0.85
)

var (
	expirationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`exp.*\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`),
		regexp.MustCompile(`use by.*\d{1,2}[/-]\d{1,2}`),
		regexp.MustCompile(`best before.*\d{1,2}[/-]\d{1,2}`),
	}
	temperatureReading = regexp.MustCompile(`\d{2,3}[°\s]*[fc]`)

	chemicalKeywords = []string{"bleach", "cleaner", "sanitizer", "chemical", "caution", "warning", "poison"}
	allergenKeywords = []string{"allergen", "contains", "may contain", "peanut", "tree nut", "dairy", "soy", "wheat"}

	titleCaser = cases.Title(language.English)
)

// objectRule emits one finding per matching object.
type objectRule struct {
	keywords []string
	exclude  []string
	severity compliance.Severity
	title    string
	describe string
	action   string
	minConf  float64
}

var objectRules = map[compliance.Category][]objectRule{
	compliance.CategorySafety: {
		{keywords: []string{"blocked", "obstruction"}, severity: compliance.SeverityCritical,
			title: "Blocked Exit/Pathway", describe: "Detected blocked exit or pathway: %s",
			action: "Immediately clear blocked exits and pathways"},
	},
	compliance.CategoryCleanliness: {
		{keywords: []string{"spill", "mess"}, severity: compliance.SeverityMedium,
			title: "Spill or Mess Detected", describe: "Potential spill or mess detected: %s",
			action: "Clean up spill immediately and check for slip hazards"},
	},
	compliance.CategoryFoodSafety: {
		{keywords: []string{"container"}, exclude: []string{"cover"}, severity: compliance.SeverityMedium,
			title: "Uncovered Food Container", describe: "Detected uncovered food container: %s",
			action: "Ensure all food containers are properly covered to prevent contamination"},
		{keywords: []string{"cutting board"}, severity: compliance.SeverityLow,
			title: "Cutting Board Detected", describe: "Review cutting board usage for proper color-coding: %s",
			action: "Verify cutting boards are color-coded and used properly (raw vs. cooked)"},
	},
	compliance.CategoryEquipment: {
		{keywords: []string{"rust", "damage", "broken", "crack"}, severity: compliance.SeverityHigh,
			title: "Equipment Damage Detected", describe: "Damaged equipment detected: %s",
			action: "Inspect and repair or replace damaged equipment immediately"},
		{keywords: []string{"grease"}, severity: compliance.SeverityMedium,
			title: "Grease Buildup Detected", describe: "Grease accumulation detected: %s",
			action: "Clean grease from hoods, filters, and surfaces to prevent fire hazards"},
		{keywords: []string{"leak", "drip", "moisture"}, severity: compliance.SeverityMedium,
			title: "Leak or Moisture Detected", describe: "Water or moisture issue detected: %s",
			action: "Identify source of leak and repair to prevent slip hazards and equipment damage"},
	},
	compliance.CategoryOperational: {
		{keywords: []string{"queue", "line", "crowd"}, severity: compliance.SeverityLow,
			title: "Customer Queue Detected", describe: "Review queue management: %s",
			action: "Monitor queue length and adjust staffing as needed"},
	},
	compliance.CategoryFoodQuality: {
		{keywords: []string{"plate", "plating"}, severity: compliance.SeverityLow, minConf: foodPresentationMinConf,
			title: "Review Food Presentation", describe: "Plated food detected - verify presentation meets standards: %s",
			action: "Review plate presentation for consistency with brand standards"},
	},
	compliance.CategoryStaffBehavior: {
		{keywords: []string{"jewelry", "watch", "ring", "bracelet"}, severity: compliance.SeverityMedium,
			title: "Jewelry Compliance Issue", describe: "Jewelry or accessories detected: %s",
			action: "Ensure staff remove jewelry and accessories per food safety policy"},
		{keywords: []string{"phone", "mobile", "cell"}, severity: compliance.SeverityMedium,
			title: "Phone in Food Prep Area", describe: "Phone detected in work area: %s",
			action: "Remove phones from food preparation areas to maintain hygiene"},
		{keywords: []string{"eating", "drinking", "beverage", "cup"}, severity: compliance.SeverityLow,
			title: "Food/Beverage in Work Area", describe: "Employee food/beverage detected: %s",
			action: "Ensure employees only eat/drink in designated areas"},
	},
}

// Generator applies the finding rules to frame analyses.
type Generator struct {
	maxPeople int
}

func NewGenerator(maxPeopleInKitchen int) *Generator {
	if maxPeopleInKitchen <= 0 {
		maxPeopleInKitchen = analyzer.DefaultMaxPeopleInKitchen
	}
	return &Generator{maxPeople: maxPeopleInKitchen}
}

// Generate returns the raw findings of one frame. It is pure: the same
// analysis always yields the same findings in the same order.
func (g *Generator) Generate(a analyzer.FrameAnalysis, ref frames.Ref) []Raw {
	var out []Raw
	add := func(r Raw) {
		r.Frame = ref
		out = append(out, r)
	}

	if a.PPE.TotalPersons > 0 {
		if missing := a.PPE.TotalPersons - a.PPE.WithFaceCover; missing > 0 {
			add(Raw{
				Category:          compliance.CategoryPPE,
				Severity:          compliance.SeverityHigh,
				Title:             "Missing Face Covers",
				Description:       fmt.Sprintf("%d person(s) not wearing proper face covers", missing),
				Confidence:        0.9,
				RecommendedAction: "Ensure all staff wear appropriate face covers per company policy",
			})
		}
	}

	for _, c := range detect.ObjectCategories() {
		objs := a.Objects[c]
		if c == compliance.CategoryOperational && a.PeopleCount > g.maxPeople {
			add(Raw{
				Category:          compliance.CategoryOperational,
				Severity:          compliance.SeverityMedium,
				Title:             "Overcrowding Detected",
				Description:       fmt.Sprintf("%d people detected in frame (max recommended: %d)", a.PeopleCount, g.maxPeople),
				Confidence:        0.85,
				RecommendedAction: "Manage staff scheduling to reduce overcrowding and improve workflow",
			})
		}
		for _, obj := range objs {
			name := strings.ToLower(obj.Name)
			conf := detect.NormalizeConfidence(obj.Confidence)
			for _, rule := range objectRules[c] {
				if !detect.ContainsAny(name, rule.keywords...) || detect.ContainsAny(name, rule.exclude...) {
					continue
				}
				if rule.minConf > 0 && conf <= rule.minConf {
					continue
				}
				add(Raw{
					Category:          c,
					Severity:          rule.severity,
					Title:             rule.title,
					Description:       fmt.Sprintf(rule.describe, name),
					Confidence:        conf,
					Box:               obj.Box,
					RecommendedAction: rule.action,
				})
			}
		}
	}

	for _, r := range textFindings(a.Text.AllText) {
		add(r)
	}

	if a.Uniform != nil && a.Uniform.ComplianceScore < uniformFindingThreshold {
		add(Raw{
			Category:          compliance.CategoryUniform,
			Severity:          compliance.SeverityMedium,
			Title:             "Uniform Compliance Issue",
			Description:       fmt.Sprintf("Uniform compliance score: %.1f%%", a.Uniform.ComplianceScore),
			Confidence:        0.8,
			RecommendedAction: "Review staff uniform compliance with company standards",
		})
	}

	if a.Menu != nil && a.Menu.ComplianceScore < menuFindingThreshold {
		for _, issue := range a.Menu.Issues {
			sev := issue.Severity
			if sev == "" {
				sev = compliance.SeverityLow
			}
			desc := issue.Description
			if desc == "" {
				desc = "Menu board compliance issue detected"
			}
			add(Raw{
				Category:          compliance.CategoryMenuBoard,
				Severity:          sev,
				Title:             "Menu Board: " + menuIssueTitle(issue.Type),
				Description:       desc,
				Confidence:        0.8,
				RecommendedAction: "Update menu board to meet compliance requirements",
			})
		}
	}

	return out
}

func textFindings(allText string) []Raw {
	text := strings.ToLower(allText)
	if text == "" {
		return nil
	}
	var out []Raw

	for _, re := range expirationPatterns {
		if re.MatchString(text) {
			out = append(out, Raw{
				Category:          compliance.CategoryFoodSafety,
				Severity:          compliance.SeverityLow,
				Title:             "Expiration Date Detected",
				Description:       "Verify expiration date is current and product is properly rotated",
				Confidence:        0.75,
				RecommendedAction: "Check expiration dates and ensure FIFO rotation",
			})
			break
		}
	}

	if strings.Contains(text, "temp") && temperatureReading.MatchString(text) {
		out = append(out, Raw{
			Category:          compliance.CategoryFoodSafety,
			Severity:          compliance.SeverityLow,
			Title:             "Temperature Log Detected",
			Description:       "Temperature monitoring detected - verify logs are current and complete",
			Confidence:        0.8,
			RecommendedAction: "Review temperature logs for completeness and compliance",
		})
	}

	if detect.ContainsAny(text, chemicalKeywords...) {
		out = append(out, Raw{
			Category:          compliance.CategorySafety,
			Severity:          compliance.SeverityLow,
			Title:             "Chemical Label Detected",
			Description:       "Verify chemicals are properly labeled and stored away from food",
			Confidence:        0.75,
			RecommendedAction: "Ensure all chemicals are labeled and stored in designated areas",
		})
	}

	if detect.ContainsAny(text, allergenKeywords...) {
		out = append(out, Raw{
			Category:          compliance.CategoryFoodSafety,
			Severity:          compliance.SeverityLow,
			Title:             "Allergen Information Detected",
			Description:       "Allergen labeling found - verify accuracy and visibility",
			Confidence:        0.7,
			RecommendedAction: "Verify allergen information is accurate and clearly posted",
		})
	}
	return out
}

func menuIssueTitle(issueType string) string {
	if issueType == "" {
		issueType = "issue"
	}
	return titleCaser.String(strings.ReplaceAll(issueType, "_", " "))
}
