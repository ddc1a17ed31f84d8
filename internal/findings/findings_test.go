package findings

import (
	"math"
	"testing"

	"github.com/heimdex/heimdex-inspect/internal/analyzer"
	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/detect"
	"github.com/heimdex/heimdex-inspect/internal/frames"
)

func titles(raw []Raw) []string {
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = r.Title
	}
	return out
}

func TestGenerate_ObjectRules(t *testing.T) {
	objs := []detect.Object{
		{Name: "Blocked Exit", Confidence: 0.9},
		{Name: "Spill", Confidence: 80},
		{Name: "Food Container", Confidence: 0.7},
		{Name: "Covered Container", Confidence: 0.7},
		{Name: "Cutting Board", Confidence: 0.6},
		{Name: "Rusty grease trap", Confidence: 0.65},
		{Name: "Plate", Confidence: 0.8},
		{Name: "Plating", Confidence: 0.9},
		{Name: "Wristwatch", Confidence: 0.77},
		{Name: "Coffee Cup", Confidence: 0.77},
	}
	a := analyzer.FrameAnalysis{
		Objects:     detect.GroupObjects(objs),
		PeopleCount: 13,
	}
	ref := frames.Ref{ID: "f9", Number: 9, Timestamp: 4.5}

	raw := NewGenerator(10).Generate(a, ref)

	want := []string{
		"Blocked Exit/Pathway",
		"Spill or Mess Detected",
		"Uncovered Food Container",
		"Cutting Board Detected",
		"Equipment Damage Detected",
		"Grease Buildup Detected",
		"Overcrowding Detected",
		"Review Food Presentation",
		"Jewelry Compliance Issue",
		"Food/Beverage in Work Area",
	}
	got := titles(raw)
	if len(got) != len(want) {
		t.Fatalf("titles = %v\nwant %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("finding %d = %q, want %q", i, got[i], want[i])
		}
	}

	for _, r := range raw {
		if r.Frame != ref {
			t.Errorf("%s frame = %+v", r.Title, r.Frame)
		}
		if r.RecommendedAction == "" {
			t.Errorf("%s has no recommended action", r.Title)
		}
	}
	if raw[1].Confidence != 0.8 {
		t.Errorf("spill confidence = %v, want normalized 0.8", raw[1].Confidence)
	}
	if raw[0].Severity != compliance.SeverityCritical {
		t.Errorf("blocked exit severity = %s", raw[0].Severity)
	}
	if raw[6].Description != "13 people detected in frame (max recommended: 10)" {
		t.Errorf("overcrowding description = %q", raw[6].Description)
	}
}

func TestGenerate_PPE(t *testing.T) {
	g := NewGenerator(0)
	raw := g.Generate(analyzer.FrameAnalysis{PPE: detect.PPESummary{TotalPersons: 3, WithFaceCover: 1}}, frames.Ref{})
	if len(raw) != 1 || raw[0].Title != "Missing Face Covers" || raw[0].Severity != compliance.SeverityHigh {
		t.Fatalf("raw = %+v", raw)
	}
	if raw[0].Description != "2 person(s) not wearing proper face covers" {
		t.Errorf("description = %q", raw[0].Description)
	}

	if raw := g.Generate(analyzer.FrameAnalysis{PPE: detect.PPESummary{TotalPersons: 2, WithFaceCover: 2}}, frames.Ref{}); len(raw) != 0 {
		t.Errorf("all covered produced %v", titles(raw))
	}
}

func TestGenerate_TextRules(t *testing.T) {
	a := analyzer.FrameAnalysis{Text: detect.TextReport{
		AllText: "EXP 03/14/2026 exp 04/01/26 Walk-in temp 38 F Bleach Contains peanuts",
	}}
	raw := NewGenerator(10).Generate(a, frames.Ref{})
	want := []string{
		"Expiration Date Detected",
		"Temperature Log Detected",
		"Chemical Label Detected",
		"Allergen Information Detected",
	}
	got := titles(raw)
	if len(got) != len(want) {
		t.Fatalf("titles = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("finding %d = %q, want %q", i, got[i], want[i])
		}
	}
	if raw[2].Category != compliance.CategorySafety {
		t.Errorf("chemical category = %s", raw[2].Category)
	}
}

func TestGenerate_UniformAndMenu(t *testing.T) {
	a := analyzer.FrameAnalysis{
		Uniform: &detect.UniformReport{ComplianceScore: 50},
		Menu: &detect.MenuReport{
			ComplianceScore: 70,
			Issues: []detect.MenuIssue{
				{Type: detect.MenuIssueMissingInfo, Description: "Missing prices information", Severity: compliance.SeverityMedium},
				{Type: detect.MenuIssueInsufficientTxt, Severity: compliance.SeverityLow},
			},
		},
	}
	raw := NewGenerator(10).Generate(a, frames.Ref{})
	if len(raw) != 3 {
		t.Fatalf("titles = %v", titles(raw))
	}
	if raw[0].Description != "Uniform compliance score: 50.0%" {
		t.Errorf("uniform description = %q", raw[0].Description)
	}
	if raw[1].Title != "Menu Board: Missing Required Info" || raw[1].Severity != compliance.SeverityMedium {
		t.Errorf("menu finding = %+v", raw[1])
	}
	if raw[2].Title != "Menu Board: Insufficient Content" {
		t.Errorf("menu title = %q", raw[2].Title)
	}

	a.Menu.ComplianceScore = 85
	a.Uniform.ComplianceScore = 80
	if raw := NewGenerator(10).Generate(a, frames.Ref{}); len(raw) != 0 {
		t.Errorf("above thresholds produced %v", titles(raw))
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := analyzer.FrameAnalysis{
		Objects: detect.GroupObjects([]detect.Object{{Name: "Spill", Confidence: 0.5}, {Name: "Leak", Confidence: 0.6}}),
		Text:    detect.TextReport{AllText: "sanitizer"},
	}
	g := NewGenerator(10)
	first := titles(g.Generate(a, frames.Ref{}))
	for i := 0; i < 5; i++ {
		again := titles(g.Generate(a, frames.Ref{}))
		if len(again) != len(first) {
			t.Fatal("non-deterministic length")
		}
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("order changed: %v vs %v", first, again)
			}
		}
	}
}

func raw(cat compliance.Category, sev compliance.Severity, title string, conf, ts float64, desc string) Raw {
	return Raw{
		Category: cat, Severity: sev, Title: title, Description: desc,
		Confidence: conf, Frame: frames.Ref{Timestamp: ts},
	}
}

func TestConsolidate(t *testing.T) {
	in := []Raw{
		raw(compliance.CategoryCleanliness, compliance.SeverityMedium, "Spill or Mess Detected", 0.6, 2, "first"),
		raw(compliance.CategorySafety, compliance.SeverityCritical, "Blocked Exit/Pathway", 0.9, 2, "exit"),
		raw(compliance.CategoryCleanliness, compliance.SeverityMedium, "Spill or Mess Detected", 0.9, 1, "best"),
		raw(compliance.CategoryCleanliness, compliance.SeverityMedium, "Spill or Mess Detected", 0.9, 5, "tie"),
		raw(compliance.CategoryCleanliness, compliance.SeverityLow, "Spill or Mess Detected", 0.3, 3, "other severity"),
	}
	out := Consolidate(in)
	if len(out) != 3 {
		t.Fatalf("groups = %d, want 3", len(out))
	}
	if out[0].Title != "Spill or Mess Detected" || out[1].Title != "Blocked Exit/Pathway" || out[2].Severity != compliance.SeverityLow {
		t.Errorf("group order = %+v", out)
	}

	spill := out[0]
	if spill.AffectedFrameCount != 3 || !spill.IsConsolidated() {
		t.Errorf("count = %d", spill.AffectedFrameCount)
	}
	if spill.Confidence != 0.9 || spill.Description != "best" {
		t.Errorf("representative = %q conf %v, want first max", spill.Description, spill.Confidence)
	}
	if math.Abs(spill.AverageConfidence-0.8) > 1e-9 {
		t.Errorf("average = %v, want 0.8", spill.AverageConfidence)
	}
	if spill.FirstTimestamp != 1 || spill.LastTimestamp != 5 {
		t.Errorf("timestamps = %v..%v", spill.FirstTimestamp, spill.LastTimestamp)
	}
	if out[1].IsConsolidated() {
		t.Error("single observation reported as consolidated")
	}
}

func TestConsolidate_IdempotentOnKeys(t *testing.T) {
	in := []Raw{
		raw(compliance.CategoryPPE, compliance.SeverityHigh, "Missing Face Covers", 0.9, 0, "a"),
		raw(compliance.CategoryPPE, compliance.SeverityHigh, "Missing Face Covers", 0.9, 1, "b"),
		raw(compliance.CategoryEquipment, compliance.SeverityMedium, "Grease Buildup Detected", 0.7, 1, "c"),
	}
	first := Consolidate(in)

	// Feeding the representatives back in keeps the same keys.
	var again []Raw
	for _, c := range first {
		again = append(again, Raw{Category: c.Category, Severity: c.Severity, Title: c.Title, Confidence: c.Confidence})
	}
	second := Consolidate(again)
	if len(second) != len(first) {
		t.Fatalf("keys changed: %d vs %d", len(second), len(first))
	}
	for i := range first {
		if first[i].Key() != second[i].Key() {
			t.Errorf("key %d: %+v vs %+v", i, first[i].Key(), second[i].Key())
		}
	}

	if got := Consolidate(nil); len(got) != 0 {
		t.Errorf("empty input gave %v", got)
	}
}
