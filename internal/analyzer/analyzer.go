// Package analyzer runs the detection providers over frames and turns their
// answers into per-category scores.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/detect"
	"github.com/heimdex/heimdex-inspect/internal/frames"
	"github.com/heimdex/heimdex-inspect/internal/logging"
)

const (
	DefaultMaxPeopleInKitchen = 10
	DefaultConcurrency        = 4
)

type Config struct {
	MaxPeopleInKitchen int
	Concurrency        int
}

func (c Config) withDefaults() Config {
	if c.MaxPeopleInKitchen <= 0 {
		c.MaxPeopleInKitchen = DefaultMaxPeopleInKitchen
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Providers wires the detection sources. Nil sources behave as disabled.
type Providers struct {
	Equipment    detect.EquipmentDetector
	CloudObjects detect.ObjectDetector
	CloudText    detect.TextDetector
	LocalObjects detect.ObjectDetector
	Uniform      detect.UniformDetector
	Menu         detect.MenuReader
}

func (p Providers) withDefaults() Providers {
	off := detect.Disabled{}
	if p.Equipment == nil {
		p.Equipment = off
	}
	if p.CloudObjects == nil {
		p.CloudObjects = off
	}
	if p.CloudText == nil {
		p.CloudText = off
	}
	if p.LocalObjects == nil {
		p.LocalObjects = off
	}
	if p.Uniform == nil {
		p.Uniform = off
	}
	if p.Menu == nil {
		p.Menu = off
	}
	return p
}

// FrameAnalysis is everything learned about a single frame.
type FrameAnalysis struct {
	Frame frames.Ref

	PPE         detect.PPESummary
	Objects     map[compliance.Category][]detect.Object
	Text        detect.TextReport
	PeopleCount int
	Uniform     *detect.UniformReport
	Menu        *detect.MenuReport

	Scores  compliance.Scores
	Overall float64

	// Available is indexed by detect.Family. A family is available when at
	// least one of its sources answered Ok.
	Available      [detect.NumFamilies]bool
	CloudAvailable bool
	Warnings       []string
}

type Analyzer struct {
	cfg       Config
	providers Providers
	logger    *slog.Logger
}

func New(cfg Config, providers Providers, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:       cfg.withDefaults(),
		providers: providers.withDefaults(),
		logger:    logging.OrDiscard(logger),
	}
}

func (a *Analyzer) Config() Config {
	return a.cfg
}

// Analyze loads the frame image and runs every provider on it. Provider
// failures become warnings; only an unreadable frame is an error.
func (a *Analyzer) Analyze(ctx context.Context, frame frames.Frame) (FrameAnalysis, error) {
	image, err := frame.Load()
	if err != nil {
		return FrameAnalysis{}, err
	}
	return a.AnalyzeImage(ctx, frame.Ref(), image), nil
}

// AnalyzeImage runs the providers on already-loaded image bytes.
func (a *Analyzer) AnalyzeImage(ctx context.Context, ref frames.Ref, image []byte) FrameAnalysis {
	p := a.providers
	fa := FrameAnalysis{
		Frame:          ref,
		CloudAvailable: true,
	}
	warn := func(family detect.Family, source detect.Source, status detect.Status, reason string) {
		fa.Warnings = append(fa.Warnings, fmt.Sprintf("%s/%s %s: %s", family, source, status, reason))
	}

	// Cloud group: equipment first, then labels, then text. Once the group
	// is down the remaining cloud calls are skipped.
	ppe := p.Equipment.DetectEquipment(ctx, image)
	if ppe.OK() {
		fa.PPE = ppe.Value.Summary
		fa.Available[detect.FamilyEquipment] = true
	} else {
		fa.CloudAvailable = false
		warn(detect.FamilyEquipment, detect.SourceCloud, ppe.Status, ppe.Reason)
	}

	var objects []detect.Object
	labels := detect.Unavailable[detect.ObjectReport]("cloud group unavailable")
	if fa.CloudAvailable {
		labels = p.CloudObjects.DetectObjects(ctx, image)
	}
	if labels.OK() {
		objects = append(objects, labels.Value.Objects...)
		fa.PeopleCount = labels.Value.PeopleCount
		fa.Available[detect.FamilyObjects] = true
	} else {
		fa.CloudAvailable = false
		warn(detect.FamilyObjects, detect.SourceCloud, labels.Status, labels.Reason)
	}

	text := detect.Unavailable[detect.TextReport]("cloud group unavailable")
	if fa.CloudAvailable {
		text = p.CloudText.DetectText(ctx, image)
	}
	if text.OK() {
		fa.Text = text.Value
		fa.Available[detect.FamilyText] = true
	} else {
		warn(detect.FamilyText, detect.SourceCloud, text.Status, text.Reason)
	}

	// Local sources never change the cloud group state.
	local := p.LocalObjects.DetectObjects(ctx, image)
	if local.OK() {
		objects = append(objects, local.Value.Objects...)
		fa.Available[detect.FamilyObjects] = true
	} else {
		warn(detect.FamilyObjects, detect.SourceLocal, local.Status, local.Reason)
	}

	uniform := p.Uniform.DetectUniform(ctx, image)
	if uniform.OK() {
		fa.Uniform = &uniform.Value
		fa.Available[detect.FamilyUniform] = true
	} else {
		warn(detect.FamilyUniform, detect.SourceLocal, uniform.Status, uniform.Reason)
	}

	menu := p.Menu.ReadMenu(ctx, image)
	if menu.OK() {
		fa.Menu = &menu.Value
		fa.Available[detect.FamilyText] = true
	} else {
		warn(detect.FamilyText, detect.SourceLocal, menu.Status, menu.Reason)
	}

	fa.Objects = detect.GroupObjects(objects)
	fa.Scores = categoryScores(&fa, a.cfg.MaxPeopleInKitchen)
	fa.Overall = WeightsFor(fa.CloudAvailable).Overall(fa.Scores)
	return fa
}

// AnalyzeAll analyzes frames with at most Config.Concurrency in flight and
// returns the results in frame order. Frames that cannot be analyzed are
// logged and left out. Only context cancellation fails the whole call.
func (a *Analyzer) AnalyzeAll(ctx context.Context, frameList []frames.Frame) ([]FrameAnalysis, error) {
	slots := make([]*FrameAnalysis, len(frameList))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for i, frame := range frameList {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fa, err := a.analyzeRecover(gctx, frame)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logging.WithFrame(a.logger, frame.ID, frame.Number).Warn("frame skipped", "error", err)
				return nil
			}
			slots[i] = &fa
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("analyze frames: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("analyze frames: %w", err)
	}

	out := make([]FrameAnalysis, 0, len(frameList))
	for _, fa := range slots {
		if fa != nil {
			out = append(out, *fa)
		}
	}
	return out, nil
}

func (a *Analyzer) analyzeRecover(ctx context.Context, frame frames.Frame) (fa FrameAnalysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("frame %d: panic: %v", frame.Number, r)
		}
	}()
	return a.Analyze(ctx, frame)
}

// Aggregate averages frame scores into the inspection scorecard. No frames
// yields an all-zero scorecard.
func Aggregate(analyses []FrameAnalysis) compliance.Scorecard {
	var card compliance.Scorecard
	if len(analyses) == 0 {
		return card
	}
	n := float64(len(analyses))
	for _, fa := range analyses {
		card.Overall += fa.Overall
		for i, v := range fa.Scores {
			card.Scores[i] += v
		}
	}
	card.Overall /= n
	for i := range card.Scores {
		card.Scores[i] /= n
	}
	return card
}

// Warnings collects the distinct provider warnings of all frames, in first
// seen order.
func Warnings(analyses []FrameAnalysis) []string {
	seen := make(map[string]bool)
	var out []string
	for _, fa := range analyses {
		for _, w := range fa.Warnings {
			if !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	return out
}
