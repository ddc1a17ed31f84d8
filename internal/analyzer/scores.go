package analyzer

import (
	"strings"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/detect"
)

var requiredSafetyEquipment = []string{"fire extinguisher", "exit sign"}

// categoryScores computes the ten sub-scores of a frame. Every score starts at
// 100 and is floored at 0.
func categoryScores(a *FrameAnalysis, maxPeople int) compliance.Scores {
	var s compliance.Scores

	s[compliance.CategoryPPE] = ppeScore(a.PPE)
	s[compliance.CategorySafety] = safetyScore(a.Objects[compliance.CategorySafety])

	clean := a.Objects[compliance.CategoryCleanliness]
	s[compliance.CategoryCleanliness] = deduct(
		20*detect.CountMatching(clean, "spill", "mess"),
		15*detect.CountMatching(clean, "trash", "overflow"),
	)

	s[compliance.CategoryFoodSafety] = deduct(
		15 * detect.CountMatching(a.Objects[compliance.CategoryFoodSafety], "container"),
	)

	equip := a.Objects[compliance.CategoryEquipment]
	s[compliance.CategoryEquipment] = deduct(
		25*detect.CountMatching(equip, "rust", "damage", "broken", "crack"),
		15*detect.CountMatching(equip, "grease"),
		15*detect.CountMatching(equip, "leak", "drip", "moisture"),
	)

	over := 0
	if a.PeopleCount > maxPeople {
		over = a.PeopleCount - maxPeople
	}
	s[compliance.CategoryOperational] = deduct(
		5*over,
		10*detect.CountMatching(a.Objects[compliance.CategoryOperational], "queue", "line", "crowd"),
	)

	s[compliance.CategoryFoodQuality] = 100

	staff := a.Objects[compliance.CategoryStaffBehavior]
	s[compliance.CategoryStaffBehavior] = deduct(
		15*detect.CountMatching(staff, "jewelry", "watch", "ring", "bracelet"),
		15*detect.CountMatching(staff, "phone", "mobile", "cell"),
		10*detect.CountMatching(staff, "eating", "drinking", "beverage", "cup"),
	)

	s[compliance.CategoryUniform] = 100
	if a.Uniform != nil {
		s[compliance.CategoryUniform] = clampScore(a.Uniform.ComplianceScore)
	}
	s[compliance.CategoryMenuBoard] = 100
	if a.Menu != nil {
		s[compliance.CategoryMenuBoard] = clampScore(a.Menu.ComplianceScore)
	}
	return s
}

func ppeScore(p detect.PPESummary) float64 {
	if p.TotalPersons <= 0 {
		return 100
	}
	total := float64(p.TotalPersons)
	score := (float64(p.WithFaceCover)/total*0.7 + float64(p.WithHandCover)/total*0.3) * 100
	return clampScore(score)
}

func safetyScore(objects []detect.Object) float64 {
	penalty := 30 * detect.CountMatching(objects, "blocked", "obstruction")
	for _, item := range requiredSafetyEquipment {
		if !seen(objects, item) {
			penalty += 10
		}
	}
	return deduct(penalty)
}

func seen(objects []detect.Object, item string) bool {
	for _, o := range objects {
		if strings.Contains(strings.ToLower(o.Name), item) {
			return true
		}
	}
	return false
}

func deduct(penalties ...int) float64 {
	score := 100
	for _, p := range penalties {
		score -= p
	}
	return clampScore(float64(score))
}
