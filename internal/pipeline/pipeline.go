// Package pipeline runs one inspection end to end: frame analysis, finding
// generation and consolidation, scoring, recommendations and action items.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-inspect/internal/actions"
	"github.com/heimdex/heimdex-inspect/internal/analyzer"
	"github.com/heimdex/heimdex-inspect/internal/findings"
	"github.com/heimdex/heimdex-inspect/internal/frames"
	"github.com/heimdex/heimdex-inspect/internal/inspection"
	"github.com/heimdex/heimdex-inspect/internal/logging"
	"github.com/heimdex/heimdex-inspect/internal/recommend"
)

const DefaultRecommendConcurrency = 4

// FrameSource lists the frames of an inspection in timestamp order.
type FrameSource interface {
	Frames(ctx context.Context, inspectionID string) ([]frames.Frame, error)
}

// ResultStore is the part of the inspection repository the pipeline writes to.
type ResultStore interface {
	SaveResults(ctx context.Context, inspectionID string, results *inspection.Results, now time.Time) ([]*inspection.Finding, error)
	CompleteWithActionItems(ctx context.Context, inspectionID string, items []*inspection.ActionItem, now time.Time) error
}

type Pipeline struct {
	frames      FrameSource
	analyzer    *analyzer.Analyzer
	findings    *findings.Generator
	recommender *recommend.Generator
	store       ResultStore
	logger      *slog.Logger
	now         func() time.Time

	recommendConcurrency int
}

func New(src FrameSource, an *analyzer.Analyzer, rec *recommend.Generator, store ResultStore, logger *slog.Logger) *Pipeline {
	if rec == nil {
		rec = recommend.New(nil, logger)
	}
	return &Pipeline{
		frames:               src,
		analyzer:             an,
		findings:             findings.NewGenerator(an.Config().MaxPeopleInKitchen),
		recommender:          rec,
		store:                store,
		logger:               logging.OrDiscard(logger),
		now:                  time.Now,
		recommendConcurrency: DefaultRecommendConcurrency,
	}
}

var _ inspection.Processor = (*Pipeline)(nil)

// Process analyzes a claimed inspection and completes it. Any returned error
// leaves the inspection for the runner to fail and retry.
func (p *Pipeline) Process(ctx context.Context, insp *inspection.Inspection) error {
	logger := logging.WithInspectionID(p.logger, insp.ID)
	started := time.Now()

	frameList, err := p.frames.Frames(ctx, insp.ID)
	if err != nil {
		return fmt.Errorf("load frames: %w", err)
	}
	logger.Info("analyzing frames", "frames", len(frameList))

	analyses, err := p.analyzer.AnalyzeAll(ctx, frameList)
	if err != nil {
		return err
	}

	var raw []findings.Raw
	for _, a := range analyses {
		raw = append(raw, p.findings.Generate(a, a.Frame)...)
	}
	consolidated := findings.Consolidate(raw)

	results := &inspection.Results{
		Scorecard:      analyzer.Aggregate(analyses),
		FramesAnalyzed: len(analyses),
		Warnings:       analyzer.Warnings(analyses),
	}
	results.Findings, err = p.recommend(ctx, consolidated)
	if err != nil {
		return err
	}

	saved, err := p.store.SaveResults(ctx, insp.ID, results, p.now())
	if err != nil {
		return fmt.Errorf("save results: %w", err)
	}

	now := p.now()
	items := actions.Generate(actionInputs(saved), now)
	if err := p.store.CompleteWithActionItems(ctx, insp.ID, toActionItems(items), now); err != nil {
		return fmt.Errorf("save action items: %w", err)
	}

	logger.Info("inspection analyzed",
		"frames_analyzed", len(analyses),
		"frames_skipped", len(frameList)-len(analyses),
		"raw_findings", len(raw),
		"findings", len(saved),
		"action_items", len(items),
		"overall_score", results.Scorecard.Overall,
		"warnings", len(results.Warnings),
		"duration", time.Since(started))
	return nil
}

// recommend asks the recommender about every consolidated finding with
// bounded concurrency. Recommendations never fail; only cancellation does.
func (p *Pipeline) recommend(ctx context.Context, consolidated []findings.Consolidated) ([]*inspection.Finding, error) {
	out := make([]*inspection.Finding, len(consolidated))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.recommendConcurrency)
	for i, c := range consolidated {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := p.recommender.Recommend(gctx, recommend.Request{
				Category:       c.Category,
				Severity:       c.Severity,
				Title:          c.Title,
				Description:    c.Description,
				IsConsolidated: c.IsConsolidated(),
				FrameCount:     c.AffectedFrameCount,
			})
			out[i] = toFinding(c, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("recommend: %w", err)
	}
	return out, nil
}

// toFinding keeps the rule's own action text unless the provider answered.
func toFinding(c findings.Consolidated, rec recommend.Recommendation) *inspection.Finding {
	action := c.RecommendedAction
	if !rec.Fallback || action == "" {
		action = rec.Action
	}
	return &inspection.Finding{
		FrameID:            c.Frame.ID,
		Category:           c.Category,
		Severity:           c.Severity,
		Title:              c.Title,
		Description:        c.Description,
		Box:                c.Box,
		Confidence:         c.Confidence,
		AverageConfidence:  c.AverageConfidence,
		AffectedFrameCount: c.AffectedFrameCount,
		FirstTimestamp:     c.FirstTimestamp,
		LastTimestamp:      c.LastTimestamp,
		RecommendedAction:  action,
		EstimatedMinutes:   rec.EstimatedMinutes,
	}
}

func actionInputs(saved []*inspection.Finding) []actions.Finding {
	out := make([]actions.Finding, len(saved))
	for i, f := range saved {
		out[i] = actions.Finding{
			ID:                f.ID,
			Category:          f.Category,
			Severity:          f.Severity,
			Title:             f.Title,
			Description:       f.Description,
			RecommendedAction: f.RecommendedAction,
		}
	}
	return out
}

func toActionItems(items []actions.Item) []*inspection.ActionItem {
	out := make([]*inspection.ActionItem, len(items))
	for i, it := range items {
		due := it.DueDate
		out[i] = &inspection.ActionItem{
			FindingID:   it.FindingID,
			Title:       it.Title,
			Description: it.Description,
			Priority:    it.Priority,
			Status:      it.Status,
			DueDate:     &due,
		}
	}
	return out
}
