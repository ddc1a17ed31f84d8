// Package compliance holds the vocabulary shared by the analysis pipeline:
// finding categories, severities, action item priorities and statuses, and
// per-category score vectors.
package compliance

import (
	"fmt"
	"strings"
)

// Category identifies a compliance area. The first NumScored categories carry
// a score; CategoryOther is only used for findings.
type Category int

const (
	CategoryPPE Category = iota
	CategorySafety
	CategoryCleanliness
	CategoryFoodSafety
	CategoryEquipment
	CategoryOperational
	CategoryFoodQuality
	CategoryStaffBehavior
	CategoryUniform
	CategoryMenuBoard
	CategoryOther
)

// NumScored is the number of categories that contribute to the overall score.
const NumScored = int(CategoryOther)

var categoryNames = [...]string{
	CategoryPPE:           "PPE",
	CategorySafety:        "SAFETY",
	CategoryCleanliness:   "CLEANLINESS",
	CategoryFoodSafety:    "FOOD_SAFETY",
	CategoryEquipment:     "EQUIPMENT",
	CategoryOperational:   "OPERATIONAL",
	CategoryFoodQuality:   "FOOD_QUALITY",
	CategoryStaffBehavior: "STAFF_BEHAVIOR",
	CategoryUniform:       "UNIFORM",
	CategoryMenuBoard:     "MENU_BOARD",
	CategoryOther:         "OTHER",
}

// ScoredCategories lists the scored categories in index order.
var ScoredCategories = [NumScored]Category{
	CategoryPPE,
	CategorySafety,
	CategoryCleanliness,
	CategoryFoodSafety,
	CategoryEquipment,
	CategoryOperational,
	CategoryFoodQuality,
	CategoryStaffBehavior,
	CategoryUniform,
	CategoryMenuBoard,
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryNames[c]
}

// Scored reports whether the category has a slot in Scores.
func (c Category) Scored() bool {
	return c >= 0 && int(c) < NumScored
}

// ParseCategory maps a stored category name back to its value. Unknown names
// are an error so corrupted rows are noticed rather than silently bucketed.
func ParseCategory(s string) (Category, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range categoryNames {
		if name == upper {
			return Category(i), nil
		}
	}
	return CategoryOther, fmt.Errorf("unknown category %q", s)
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Scores is a per-category score vector indexed by scored Category.
type Scores [NumScored]float64

// Get returns the score for c, or 0 for categories without a score.
func (s Scores) Get(c Category) float64 {
	if !c.Scored() {
		return 0
	}
	return s[c]
}

// Scorecard is the inspection-level result of averaging frame scores.
type Scorecard struct {
	Overall float64 `json:"overall_score"`
	Scores  Scores  `json:"-"`
}

// ByName returns the category scores keyed by category name, for JSON output.
func (s Scorecard) ByName() map[string]float64 {
	out := make(map[string]float64, NumScored)
	for _, c := range ScoredCategories {
		out[c.String()] = s.Scores[c]
	}
	return out
}
