package detect

import (
	"strings"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
)

type UniformStatus string

const (
	UniformCompliant    UniformStatus = "compliant"
	UniformNonCompliant UniformStatus = "non_compliant"
	UniformNeedsReview  UniformStatus = "needs_review"
	UniformUnknown      UniformStatus = "unknown"
)

var uniformClasses = map[string]UniformStatus{
	"person": UniformNeedsReview,
	"shirt":  UniformCompliant,
	"hat":    UniformCompliant,
	"apron":  UniformCompliant,
	"shoes":  UniformNonCompliant,
	"pants":  UniformUnknown,
}

type UniformObject struct {
	Class      string                  `json:"class"`
	Confidence float64                 `json:"confidence"`
	Box        *compliance.BoundingBox `json:"bounding_box,omitempty"`
	Status     UniformStatus           `json:"compliance_status"`
}

type UniformReport struct {
	Objects         []UniformObject `json:"uniform_objects"`
	ComplianceScore float64         `json:"compliance_score"`
}

// UniformCompliance keeps the uniform-related detections and scores them as
// the share of compliant items. No uniform items scores 100.
func UniformCompliance(detections []Object) UniformReport {
	report := UniformReport{ComplianceScore: 100}
	compliant := 0
	for _, d := range detections {
		class := strings.ToLower(strings.TrimSpace(d.Name))
		status, ok := uniformClasses[class]
		if !ok {
			continue
		}
		if status == UniformCompliant {
			compliant++
		}
		report.Objects = append(report.Objects, UniformObject{
			Class:      class,
			Confidence: NormalizeConfidence(d.Confidence),
			Box:        d.Box,
			Status:     status,
		})
	}
	if len(report.Objects) > 0 {
		report.ComplianceScore = float64(compliant) / float64(len(report.Objects)) * 100
	}
	return report
}
