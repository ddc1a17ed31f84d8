// Package inspection owns the inspection lifecycle: persistence of
// inspections, their frames, findings and action items, the reviewer
// operations, and the runner that drives PENDING inspections through the
// analysis pipeline.
package inspection

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
}

// Mode selects how long an inspection is kept. Coaching inspections expire.
type Mode string

const (
	ModeEnterprise Mode = "ENTERPRISE"
	ModeCoaching   Mode = "COACHING"
)

func ParseMode(s string) (Mode, error) {
	if strings.TrimSpace(s) == "" {
		return ModeEnterprise, nil
	}
	switch m := Mode(strings.ToUpper(strings.TrimSpace(s))); m {
	case ModeEnterprise, ModeCoaching:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, s)
	}
}

const InterruptedMessage = "interrupted by restart"

type Inspection struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Mode   Mode   `json:"mode"`
	Status Status `json:"status"`

	// Scorecard is nil until the inspection has been analyzed.
	Scorecard      *compliance.Scorecard `json:"-"`
	FramesAnalyzed int                   `json:"frames_analyzed"`
	Warnings       []string              `json:"warnings"`

	ErrorMessage  string     `json:"error_message,omitempty"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type Finding struct {
	ID           string `json:"id"`
	InspectionID string `json:"inspection_id"`
	FrameID      string `json:"frame_id,omitempty"`

	Category    compliance.Category     `json:"category"`
	Severity    compliance.Severity     `json:"severity"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Box         *compliance.BoundingBox `json:"bounding_box,omitempty"`

	Confidence         float64 `json:"confidence"`
	AverageConfidence  float64 `json:"average_confidence"`
	AffectedFrameCount int     `json:"affected_frame_count"`
	FirstTimestamp     float64 `json:"first_timestamp"`
	LastTimestamp      float64 `json:"last_timestamp"`

	RecommendedAction string `json:"recommended_action"`
	EstimatedMinutes  int    `json:"estimated_minutes"`

	IsResolved      bool   `json:"is_resolved"`
	IsApproved      bool   `json:"is_approved"`
	IsRejected      bool   `json:"is_rejected"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type ActionItem struct {
	ID           string                  `json:"id"`
	InspectionID string                  `json:"inspection_id"`
	FindingID    string                  `json:"finding_id,omitempty"`
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	Priority     compliance.Priority     `json:"priority"`
	Status       compliance.ActionStatus `json:"status"`
	DueDate      *time.Time              `json:"due_date,omitempty"`
	Notes        string                  `json:"notes,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

// Results is what one pipeline run writes back, before action items.
type Results struct {
	Scorecard      compliance.Scorecard
	FramesAnalyzed int
	Warnings       []string
	Findings       []*Finding
}

type ListFilter struct {
	Status Status
	Mode   Mode
	Limit  int
}

func NewID() string {
	return uuid.NewString()
}
