package inspection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/frames"
)

const DefaultCoachingRetention = 7 * 24 * time.Hour

// FrameInput registers one sampled frame. Either Path points at an existing
// image on disk or Data carries the image bytes to store.
type FrameInput struct {
	Number    int
	Timestamp float64
	Path      string
	Data      []byte
}

type CreateRequest struct {
	Title  string
	Mode   Mode
	Frames []FrameInput
}

// ReviewDecision is a reviewer verdict on a finding.
type ReviewDecision string

const (
	ReviewApprove ReviewDecision = "approve"
	ReviewReject  ReviewDecision = "reject"
	ReviewResolve ReviewDecision = "resolve"
)

type ActionItemUpdate struct {
	Status *compliance.ActionStatus
	Notes  *string
}

type Service struct {
	repo              Repository
	store             *frames.Store
	logger            *slog.Logger
	coachingRetention time.Duration
	now               func() time.Time
}

func NewService(repo Repository, store *frames.Store, coachingRetention time.Duration, logger *slog.Logger) *Service {
	if coachingRetention <= 0 {
		coachingRetention = DefaultCoachingRetention
	}
	return &Service{
		repo:              repo,
		store:             store,
		logger:            logger,
		coachingRetention: coachingRetention,
		now:               time.Now,
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Inspection, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeEnterprise
	}
	if mode != ModeEnterprise && mode != ModeCoaching {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, mode)
	}

	seen := make(map[int]bool, len(req.Frames))
	for _, f := range req.Frames {
		if seen[f.Number] {
			return nil, fmt.Errorf("%w: duplicate frame number %d", ErrInvalidInput, f.Number)
		}
		seen[f.Number] = true
		if f.Path == "" && len(f.Data) == 0 {
			return nil, fmt.Errorf("%w: frame %d has no image", ErrInvalidInput, f.Number)
		}
		if f.Timestamp < 0 {
			return nil, fmt.Errorf("%w: frame %d has a negative timestamp", ErrInvalidInput, f.Number)
		}
	}

	now := s.now().UTC()
	insp := &Inspection{
		ID:        NewID(),
		Title:     title,
		Mode:      mode,
		Status:    StatusPending,
		Warnings:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if mode == ModeCoaching {
		expires := now.Add(s.coachingRetention)
		insp.ExpiresAt = &expires
	}

	// Frame images are written before any row exists; the inspection only
	// becomes visible to the runner once it commits together with its frames.
	registered := make([]frames.Frame, 0, len(req.Frames))
	for _, in := range req.Frames {
		f := frames.Frame{
			ID:           NewID(),
			InspectionID: insp.ID,
			Number:       in.Number,
			Timestamp:    in.Timestamp,
			Path:         in.Path,
			CreatedAt:    now,
		}
		if len(in.Data) > 0 {
			if s.store == nil {
				return nil, errors.New("frame store not configured")
			}
			path, err := s.store.Save(insp.ID, f.ID, in.Data)
			if err != nil {
				s.removeStoredFrames(insp.ID)
				return nil, fmt.Errorf("store frame %d: %w", in.Number, err)
			}
			f.Path = path
		}
		registered = append(registered, f)
	}

	if err := s.repo.CreateWithFrames(ctx, insp, registered); err != nil {
		s.removeStoredFrames(insp.ID)
		return nil, fmt.Errorf("create inspection: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("inspection created", "inspection_id", insp.ID, "mode", insp.Mode, "frames", len(registered))
	}
	return insp, nil
}

func (s *Service) removeStoredFrames(id string) {
	if s.store == nil {
		return
	}
	if err := s.store.RemoveInspection(id); err != nil && s.logger != nil {
		s.logger.Warn("failed to remove stored frames", "inspection_id", id, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, id string) (*Inspection, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Inspection, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) Findings(ctx context.Context, inspectionID string) ([]*Finding, error) {
	if _, err := s.repo.Get(ctx, inspectionID); err != nil {
		return nil, err
	}
	return s.repo.ListFindings(ctx, inspectionID)
}

func (s *Service) ActionItems(ctx context.Context, inspectionID string) ([]*ActionItem, error) {
	if _, err := s.repo.Get(ctx, inspectionID); err != nil {
		return nil, err
	}
	return s.repo.ListActionItems(ctx, inspectionID)
}

func (s *Service) CountByStatus(ctx context.Context) (map[Status]int, error) {
	return s.repo.CountByStatus(ctx)
}

// Reprocess discards an inspection's results and queues it again.
func (s *Service) Reprocess(ctx context.Context, id string) (*Inspection, error) {
	if err := s.repo.ResetForReprocess(ctx, id, s.now()); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("inspection queued for reprocessing", "inspection_id", id)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) ReviewFinding(ctx context.Context, id string, decision ReviewDecision, reason string) (*Finding, error) {
	f, err := s.repo.GetFinding(ctx, id)
	if err != nil {
		return nil, err
	}

	switch ReviewDecision(strings.ToLower(string(decision))) {
	case ReviewApprove:
		f.IsApproved, f.IsRejected, f.RejectionReason = true, false, ""
	case ReviewReject:
		f.IsApproved, f.IsRejected, f.RejectionReason = false, true, strings.TrimSpace(reason)
	case ReviewResolve:
		f.IsResolved = true
	default:
		return nil, fmt.Errorf("%w: unknown review decision %q", ErrInvalidInput, decision)
	}
	f.UpdatedAt = s.now().UTC()

	if err := s.repo.UpdateFindingReview(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) UpdateActionItem(ctx context.Context, id string, upd ActionItemUpdate) (*ActionItem, error) {
	it, err := s.repo.GetActionItem(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	if upd.Status != nil {
		if _, err := compliance.ParseActionStatus(string(*upd.Status)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		it.Status = *upd.Status
		if it.Status == compliance.ActionCompleted {
			if it.CompletedAt == nil {
				it.CompletedAt = &now
			}
		} else {
			it.CompletedAt = nil
		}
	}
	if upd.Notes != nil {
		it.Notes = *upd.Notes
	}
	it.UpdatedAt = now

	if err := s.repo.UpdateActionItem(ctx, it); err != nil {
		return nil, err
	}
	return it, nil
}

// RecoverInterrupted fails inspections left PROCESSING by a previous process
// and schedules their retry.
func (s *Service) RecoverInterrupted(ctx context.Context, retryDelay time.Duration) (int, error) {
	now := s.now()
	n, err := s.repo.MarkInterrupted(ctx, now.Add(retryDelay), now)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted inspections: %w", err)
	}
	if n > 0 && s.logger != nil {
		s.logger.Warn("marked interrupted inspections", "count", n)
	}
	return n, nil
}
