// Package recommend produces a remediation action and a time estimate for each
// consolidated finding. A generative text provider is tried first; any
// failure falls back to fixed per-category tables.
package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/logging"
)

const (
	MinMinutes = 1
	MaxMinutes = 60

	maxTokens   = 200
	temperature = 0.3

	persistentFrameCount = 5
	persistentMultiplier = 1.5
	defaultBaseMinutes   = 15
)

// TextProvider completes a single user prompt.
type TextProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Request struct {
	Category       compliance.Category
	Severity       compliance.Severity
	Title          string
	Description    string
	IsConsolidated bool
	FrameCount     int
}

type Recommendation struct {
	Action           string `json:"recommended_action"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	// Fallback is set when the rule tables produced the answer.
	Fallback bool `json:"-"`
}

// Generator never fails: provider problems are logged and answered from the
// fallback tables.
type Generator struct {
	provider TextProvider
	logger   *slog.Logger
}

// New returns a generator. A nil provider means generative recommendations
// are disabled.
func New(provider TextProvider, logger *slog.Logger) *Generator {
	return &Generator{provider: provider, logger: logging.OrDiscard(logger)}
}

func (g *Generator) Enabled() bool {
	return g.provider != nil
}

func (g *Generator) Recommend(ctx context.Context, req Request) Recommendation {
	if g.provider == nil {
		return Fallback(req)
	}

	text, err := g.provider.Complete(ctx, BuildPrompt(req))
	if err != nil {
		g.logger.Warn("recommendation provider failed, using fallback", "title", req.Title, "error", err)
		return Fallback(req)
	}
	rec, err := ParseResponse(text)
	if err != nil {
		g.logger.Warn("recommendation response unusable, using fallback", "title", req.Title, "error", err)
		return Fallback(req)
	}
	g.logger.Debug("generated recommendation", "title", req.Title, "estimated_minutes", rec.EstimatedMinutes)
	return rec
}

// BuildPrompt encodes the finding, a persistence hint and the severity
// guidance.
func BuildPrompt(req Request) string {
	var persistence string
	if req.IsConsolidated && req.FrameCount > 1 {
		persistence = fmt.Sprintf("\n- This issue was detected in %d different video frames, indicating it's a persistent/systemic problem", req.FrameCount)
	}

	return fmt.Sprintf(`You are an assistant helping generate actionable recommendations for restaurant/store inspection findings.

Given this inspection finding:
- Category: %s
- Severity: %s
- Issue Title: %s
- Description: %s%s

Generate:
1. A specific, actionable recommendation (1-2 sentences) that tells staff exactly what to do
2. A realistic time estimate in minutes to address this issue

Guidelines:
- Be specific and actionable (not vague)
- Consider severity: CRITICAL requires immediate action, LOW can be scheduled
- Persistent issues (multiple frames) may need systemic fixes, not just spot corrections
- Time estimates should be realistic for restaurant/retail staff
- CRITICAL: 2-10 minutes (immediate action)
- HIGH: 5-15 minutes (priority action)
- MEDIUM: 10-30 minutes (scheduled action)
- LOW: 15-45 minutes (ongoing improvement)

Respond ONLY with a JSON object in this exact format:
{"recommended_action": "specific action here", "estimated_minutes": 10}`,
		req.Category, req.Severity, req.Title, req.Description, persistence)
}

var errMissingField = errors.New("missing required field")

// ParseResponse reads the provider's JSON answer, optionally wrapped in a
// markdown code fence.
func ParseResponse(text string) (Recommendation, error) {
	body := stripFence(strings.TrimSpace(text))

	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Recommendation{}, fmt.Errorf("decode response: %w", err)
	}

	action, _ := raw["recommended_action"].(string)
	action = strings.TrimSpace(action)
	if action == "" {
		return Recommendation{}, fmt.Errorf("%w: recommended_action", errMissingField)
	}

	minutesRaw, ok := raw["estimated_minutes"]
	if !ok {
		return Recommendation{}, fmt.Errorf("%w: estimated_minutes", errMissingField)
	}
	minutes, err := toInt(minutesRaw)
	if err != nil {
		return Recommendation{}, fmt.Errorf("estimated_minutes: %w", err)
	}

	return Recommendation{Action: action, EstimatedMinutes: ClampMinutes(minutes)}, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	if end := strings.Index(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", n)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func ClampMinutes(m int) int {
	if m < MinMinutes {
		return MinMinutes
	}
	if m > MaxMinutes {
		return MaxMinutes
	}
	return m
}

var fallbackActions = map[compliance.Category]string{
	compliance.CategoryPPE:           "Ensure all staff wear required personal protective equipment per company policy",
	compliance.CategorySafety:        "Address safety hazard immediately and review safety protocols",
	compliance.CategoryCleanliness:   "Clean affected area and implement regular cleaning schedule",
	compliance.CategoryFoodSafety:    "Address food safety issue immediately and review food handling procedures",
	compliance.CategoryEquipment:     "Inspect and repair equipment as needed, schedule maintenance if required",
	compliance.CategoryOperational:   "Review operational procedures and adjust staffing or processes as needed",
	compliance.CategoryFoodQuality:   "Review food presentation standards with kitchen staff",
	compliance.CategoryStaffBehavior: "Counsel staff on professional behavior and company policy compliance",
	compliance.CategoryUniform:       "Review and correct staff uniform compliance with company standards",
	compliance.CategoryMenuBoard:     "Update menu board to meet current compliance requirements",
	compliance.CategoryOther:         "Review and address identified issue according to company standards",
}

var baseMinutes = map[compliance.Severity]int{
	compliance.SeverityCritical: 5,
	compliance.SeverityHigh:     10,
	compliance.SeverityMedium:   15,
	compliance.SeverityLow:      20,
}

// Fallback answers from the fixed tables. Persistent issues (consolidated
// over more than five frames) get 1.5x the base time, truncated.
func Fallback(req Request) Recommendation {
	action, ok := fallbackActions[req.Category]
	if !ok {
		action = fallbackActions[compliance.CategoryOther]
	}
	base, ok := baseMinutes[req.Severity]
	if !ok {
		base = defaultBaseMinutes
	}
	minutes := float64(base)
	if req.IsConsolidated && req.FrameCount > persistentFrameCount {
		minutes *= persistentMultiplier
	}
	return Recommendation{
		Action:           action,
		EstimatedMinutes: ClampMinutes(int(minutes)),
		Fallback:         true,
	}
}
