package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/detect"
	"github.com/heimdex/heimdex-inspect/internal/frames"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeCloud implements the cloud detectors with optional hooks.
type fakeCloud struct {
	ppeCalls   atomic.Int32
	labelCalls atomic.Int32
	textCalls  atomic.Int32

	ppe    detect.Result[detect.PPEReport]
	labels detect.Result[detect.ObjectReport]
	text   detect.Result[detect.TextReport]
}

func (f *fakeCloud) DetectEquipment(ctx context.Context, image []byte) detect.Result[detect.PPEReport] {
	f.ppeCalls.Add(1)
	return f.ppe
}

func (f *fakeCloud) DetectObjects(ctx context.Context, image []byte) detect.Result[detect.ObjectReport] {
	f.labelCalls.Add(1)
	return f.labels
}

func (f *fakeCloud) DetectText(ctx context.Context, image []byte) detect.Result[detect.TextReport] {
	f.textCalls.Add(1)
	return f.text
}

type fakeLocal struct {
	objects detect.Result[detect.ObjectReport]
	uniform detect.Result[detect.UniformReport]
	menu    detect.Result[detect.MenuReport]

	objectsFn func(image []byte) detect.Result[detect.ObjectReport]
}

func (f *fakeLocal) DetectObjects(ctx context.Context, image []byte) detect.Result[detect.ObjectReport] {
	if f.objectsFn != nil {
		return f.objectsFn(image)
	}
	return f.objects
}

func (f *fakeLocal) DetectUniform(ctx context.Context, image []byte) detect.Result[detect.UniformReport] {
	return f.uniform
}

func (f *fakeLocal) ReadMenu(ctx context.Context, image []byte) detect.Result[detect.MenuReport] {
	return f.menu
}

func healthyCloud() *fakeCloud {
	return &fakeCloud{
		ppe: detect.Ok(detect.PPEReport{Summary: detect.PPESummary{TotalPersons: 4, WithFaceCover: 2, WithHandCover: 4}}),
		labels: detect.Ok(detect.ObjectReport{
			PeopleCount: 12,
			Objects: []detect.Object{
				{Name: "Fire Extinguisher", Confidence: 0.9, Source: detect.SourceCloud},
				{Name: "Blocked Door", Confidence: 0.8, Source: detect.SourceCloud},
				{Name: "Spill", Confidence: 0.7, Source: detect.SourceCloud},
				{Name: "Rust", Confidence: 0.75, Source: detect.SourceCloud},
				{Name: "Cell Phone", Confidence: 0.88, Source: detect.SourceCloud},
			},
		}),
		text: detect.Ok(detect.NewTextReport([]detect.TextBlock{{Text: "USE BY 10/12/26", Confidence: 0.9}})),
	}
}

func healthyLocal() *fakeLocal {
	return &fakeLocal{
		objects: detect.Ok(detect.ObjectReport{Objects: []detect.Object{{Name: "trash", Confidence: 0.6, Source: detect.SourceLocal}}}),
		uniform: detect.Ok(detect.UniformReport{ComplianceScore: 60}),
		menu:    detect.Ok(detect.MenuReport{ComplianceScore: 80}),
	}
}

func newTestAnalyzer(cloud *fakeCloud, local *fakeLocal, cfg Config) *Analyzer {
	return New(cfg, Providers{
		Equipment:    cloud,
		CloudObjects: cloud,
		CloudText:    cloud,
		LocalObjects: local,
		Uniform:      local,
		Menu:         local,
	}, testLogger())
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWeightPresetsSumToOne(t *testing.T) {
	for name, w := range map[string]Weights{"full": FullWeights, "degraded": DegradedWeights} {
		if !approx(w.Sum(), 1.0) {
			t.Errorf("%s weights sum = %v", name, w.Sum())
		}
	}
	if WeightsFor(true) != FullWeights || WeightsFor(false) != DegradedWeights {
		t.Error("WeightsFor picked the wrong preset")
	}
}

func TestAnalyzeImage_AllProvidersHealthy(t *testing.T) {
	a := newTestAnalyzer(healthyCloud(), healthyLocal(), Config{})
	fa := a.AnalyzeImage(context.Background(), frames.Ref{ID: "f1", Number: 1}, []byte("img"))

	if !fa.CloudAvailable {
		t.Fatalf("cloud unavailable, warnings %v", fa.Warnings)
	}
	for fam, ok := range fa.Available {
		if !ok {
			t.Errorf("family %v unavailable", detect.Family(fam))
		}
	}
	if len(fa.Warnings) != 0 {
		t.Errorf("warnings = %v", fa.Warnings)
	}

	want := map[compliance.Category]float64{
		compliance.CategoryPPE:           65, // (2/4*0.7 + 4/4*0.3) * 100
		compliance.CategorySafety:        60, // blocked -30, exit sign missing -10
		compliance.CategoryCleanliness:   65, // spill -20, trash -15
		compliance.CategoryFoodSafety:    100,
		compliance.CategoryEquipment:     75,
		compliance.CategoryOperational:   90, // 2 over max
		compliance.CategoryFoodQuality:   100,
		compliance.CategoryStaffBehavior: 85,
		compliance.CategoryUniform:       60,
		compliance.CategoryMenuBoard:     80,
	}
	for c, w := range want {
		if got := fa.Scores.Get(c); !approx(got, w) {
			t.Errorf("%s score = %v, want %v", c, got, w)
		}
	}

	var overall float64
	for c, w := range want {
		overall += FullWeights[c] * w
	}
	if !approx(fa.Overall, overall) {
		t.Errorf("overall = %v, want %v", fa.Overall, overall)
	}

	if n := len(fa.Objects[compliance.CategoryCleanliness]); n != 2 {
		t.Errorf("cleanliness objects = %d, want 2 (cloud + local)", n)
	}
	if fa.PeopleCount != 12 {
		t.Errorf("people = %d", fa.PeopleCount)
	}
}

func TestAnalyzeImage_CloudDownSkipsRemainingCalls(t *testing.T) {
	cloud := healthyCloud()
	cloud.ppe = detect.Failed[detect.PPEReport](errors.New("AccessDenied"))
	a := newTestAnalyzer(cloud, healthyLocal(), Config{})

	fa := a.AnalyzeImage(context.Background(), frames.Ref{Number: 1}, []byte("img"))
	if fa.CloudAvailable {
		t.Fatal("cloud group should be unavailable")
	}
	if cloud.labelCalls.Load() != 0 || cloud.textCalls.Load() != 0 {
		t.Errorf("cloud calls after group down: labels=%d text=%d", cloud.labelCalls.Load(), cloud.textCalls.Load())
	}
	if fa.Available[detect.FamilyEquipment] {
		t.Error("equipment family marked available")
	}
	if !fa.Available[detect.FamilyObjects] {
		t.Error("objects family should be available through the local detector")
	}
	if !approx(fa.Overall, 0.5*60+0.5*80) {
		t.Errorf("degraded overall = %v, want 70", fa.Overall)
	}
	if len(fa.Warnings) != 3 {
		t.Errorf("warnings = %v, want 3", fa.Warnings)
	}
}

func TestAnalyzeImage_LabelFailureFlipsGroup(t *testing.T) {
	cloud := healthyCloud()
	cloud.labels = detect.Unavailable[detect.ObjectReport]("no credentials")
	a := newTestAnalyzer(cloud, healthyLocal(), Config{})

	fa := a.AnalyzeImage(context.Background(), frames.Ref{}, []byte("img"))
	if fa.CloudAvailable {
		t.Error("cloud group should be unavailable after label failure")
	}
	if cloud.textCalls.Load() != 0 {
		t.Error("text called after group down")
	}
}

func TestAnalyzeImage_TextFailureOnlyWarns(t *testing.T) {
	cloud := healthyCloud()
	cloud.text = detect.Failed[detect.TextReport](errors.New("timeout"))
	a := newTestAnalyzer(cloud, healthyLocal(), Config{})

	fa := a.AnalyzeImage(context.Background(), frames.Ref{}, []byte("img"))
	if !fa.CloudAvailable {
		t.Error("text failure flipped the cloud group")
	}
	if len(fa.Warnings) != 1 {
		t.Errorf("warnings = %v", fa.Warnings)
	}
	if !fa.Available[detect.FamilyText] {
		t.Error("text family should stay available through menu OCR")
	}
}

func TestAnalyzeImage_NilProvidersAreDisabled(t *testing.T) {
	a := New(Config{}, Providers{}, nil)
	fa := a.AnalyzeImage(context.Background(), frames.Ref{}, []byte("img"))
	if fa.CloudAvailable {
		t.Error("cloud available with no providers")
	}
	if !approx(fa.Overall, 100) {
		t.Errorf("overall = %v, want 100 (uniform and menu default)", fa.Overall)
	}
}

func writeFrames(t *testing.T, n int) []frames.Frame {
	t.Helper()
	dir := t.TempDir()
	out := make([]frames.Frame, n)
	for i := range out {
		path := filepath.Join(dir, fmt.Sprintf("frame-%d.jpg", i))
		if err := os.WriteFile(path, []byte{byte(i)}, 0o600); err != nil {
			t.Fatal(err)
		}
		out[i] = frames.Frame{ID: fmt.Sprintf("f%d", i), Number: i, Timestamp: float64(i), Path: path}
	}
	return out
}

func TestAnalyzeAll_BoundedAndOrdered(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	local := healthyLocal()
	local.objectsFn = func(image []byte) detect.Result[detect.ObjectReport] {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return detect.Ok(detect.ObjectReport{})
	}
	a := newTestAnalyzer(healthyCloud(), local, Config{Concurrency: 2})

	list := writeFrames(t, 8)
	results, err := a.AnalyzeAll(context.Background(), list)
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("results = %d", len(results))
	}
	for i, r := range results {
		if r.Frame.Number != i {
			t.Errorf("result %d is frame %d", i, r.Frame.Number)
		}
	}
	if m := maxInFlight.Load(); m > 2 {
		t.Errorf("max in flight = %d, want <= 2", m)
	}
}

func TestAnalyzeAll_SkipsBadFrames(t *testing.T) {
	local := healthyLocal()
	local.objectsFn = func(image []byte) detect.Result[detect.ObjectReport] {
		if image[0] == 2 {
			panic("decoder crashed")
		}
		return detect.Ok(detect.ObjectReport{})
	}
	a := newTestAnalyzer(healthyCloud(), local, Config{})

	list := writeFrames(t, 4)
	list[1].Path = filepath.Join(t.TempDir(), "missing.jpg")

	results, err := a.AnalyzeAll(context.Background(), list)
	if err != nil {
		t.Fatalf("AnalyzeAll: %v", err)
	}
	if len(results) != 2 || results[0].Frame.Number != 0 || results[1].Frame.Number != 3 {
		t.Errorf("results = %+v", results)
	}
}

func TestAnalyzeAll_CancelledContextFails(t *testing.T) {
	a := newTestAnalyzer(healthyCloud(), healthyLocal(), Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := a.AnalyzeAll(ctx, writeFrames(t, 3)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAggregate(t *testing.T) {
	if card := Aggregate(nil); card.Overall != 0 || card.Scores != (compliance.Scores{}) {
		t.Errorf("empty aggregate = %+v", card)
	}

	var s1, s2 compliance.Scores
	s1[compliance.CategorySafety] = 100
	s2[compliance.CategorySafety] = 50
	card := Aggregate([]FrameAnalysis{
		{Overall: 90, Scores: s1},
		{Overall: 60, Scores: s2},
	})
	if card.Overall != 75 {
		t.Errorf("overall = %v, want 75", card.Overall)
	}
	if card.Scores.Get(compliance.CategorySafety) != 75 {
		t.Errorf("safety = %v, want 75", card.Scores.Get(compliance.CategorySafety))
	}
}

func TestWarnings_Distinct(t *testing.T) {
	got := Warnings([]FrameAnalysis{
		{Warnings: []string{"a", "b"}},
		{Warnings: []string{"b", "c"}},
	})
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("warnings = %v", got)
	}
}
