package findings

import (
	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/frames"
)

// Key identifies a finding within an inspection.
type Key struct {
	Category compliance.Category
	Severity compliance.Severity
	Title    string
}

func (r Raw) Key() Key {
	return Key{Category: r.Category, Severity: r.Severity, Title: r.Title}
}

// Consolidated is one finding per key, summarizing every frame it was seen
// on. Description, box and frame come from the most confident observation.
type Consolidated struct {
	Category           compliance.Category     `json:"category"`
	Severity           compliance.Severity     `json:"severity"`
	Title              string                  `json:"title"`
	Description        string                  `json:"description"`
	Box                *compliance.BoundingBox `json:"bounding_box,omitempty"`
	Frame              frames.Ref              `json:"frame"`
	Confidence         float64                 `json:"confidence"`
	AverageConfidence  float64                 `json:"average_confidence"`
	AffectedFrameCount int                     `json:"affected_frame_count"`
	FirstTimestamp     float64                 `json:"first_timestamp"`
	LastTimestamp      float64                 `json:"last_timestamp"`
	RecommendedAction  string                  `json:"recommended_action"`
}

func (c Consolidated) Key() Key {
	return Key{Category: c.Category, Severity: c.Severity, Title: c.Title}
}

// IsConsolidated reports whether the finding merged several observations.
func (c Consolidated) IsConsolidated() bool {
	return c.AffectedFrameCount > 1
}

// Consolidate groups raw findings by key. Groups are returned in the order
// their key was first seen.
func Consolidate(raw []Raw) []Consolidated {
	index := make(map[Key]int)
	var out []Consolidated
	var confSums []float64

	for _, r := range raw {
		i, ok := index[r.Key()]
		if !ok {
			index[r.Key()] = len(out)
			out = append(out, Consolidated{
				Category:           r.Category,
				Severity:           r.Severity,
				Title:              r.Title,
				Description:        r.Description,
				Box:                r.Box,
				Frame:              r.Frame,
				Confidence:         r.Confidence,
				AffectedFrameCount: 1,
				FirstTimestamp:     r.Frame.Timestamp,
				LastTimestamp:      r.Frame.Timestamp,
				RecommendedAction:  r.RecommendedAction,
			})
			confSums = append(confSums, r.Confidence)
			continue
		}

		c := &out[i]
		c.AffectedFrameCount++
		confSums[i] += r.Confidence
		if r.Confidence > c.Confidence {
			c.Confidence = r.Confidence
			c.Description = r.Description
			c.Box = r.Box
			c.Frame = r.Frame
			c.RecommendedAction = r.RecommendedAction
		}
		if r.Frame.Timestamp < c.FirstTimestamp {
			c.FirstTimestamp = r.Frame.Timestamp
		}
		if r.Frame.Timestamp > c.LastTimestamp {
			c.LastTimestamp = r.Frame.Timestamp
		}
	}

	for i := range out {
		out[i].AverageConfidence = confSums[i] / float64(out[i].AffectedFrameCount)
	}
	return out
}
