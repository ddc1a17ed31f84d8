// Package detect defines the call contract of the detection capability
// providers used by the frame analyzer.
//
// Every provider call returns a tagged Result instead of an error: a provider
// that is switched off or unreachable answers Unavailable, a provider that was
// reached but failed answers Error. Neither outcome aborts a frame; the
// analyzer records the outcome and carries on with the remaining providers.
package detect

import (
	"context"
	"errors"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
)

type Status int

const (
	StatusOK Status = iota
	StatusUnavailable
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one provider call.
type Result[T any] struct {
	Status Status
	Value  T
	Reason string
}

func Ok[T any](v T) Result[T] {
	return Result[T]{Status: StatusOK, Value: v}
}

func Unavailable[T any](reason string) Result[T] {
	return Result[T]{Status: StatusUnavailable, Reason: reason}
}

// Failed wraps a call error. Errors marked with ErrUnavailable are reported
// as Unavailable rather than Error.
func Failed[T any](err error) Result[T] {
	if err == nil {
		err = errors.New("unknown provider error")
	}
	if errors.Is(err, ErrUnavailable) {
		return Result[T]{Status: StatusUnavailable, Reason: err.Error()}
	}
	return Result[T]{Status: StatusError, Reason: err.Error()}
}

func (r Result[T]) OK() bool {
	return r.Status == StatusOK
}

// ErrUnavailable marks provider errors that mean "not reachable or disabled".
var ErrUnavailable = errors.New("provider unavailable")

// Family groups capabilities that share an availability flag on a frame.
type Family int

const (
	FamilyEquipment Family = iota
	FamilyObjects
	FamilyText
	FamilyUniform
)

const NumFamilies = 4

func (f Family) String() string {
	switch f {
	case FamilyEquipment:
		return "equipment"
	case FamilyObjects:
		return "objects"
	case FamilyText:
		return "text"
	case FamilyUniform:
		return "uniform"
	default:
		return "unknown"
	}
}

// Source tells which provider produced a detection.
type Source string

const (
	SourceCloud Source = "cloud"
	SourceLocal Source = "local"
)

// Object is a labelled detection from either object detector.
type Object struct {
	Name       string                  `json:"name"`
	Confidence float64                 `json:"confidence"`
	Box        *compliance.BoundingBox `json:"bounding_box,omitempty"`
	Source     Source                  `json:"source"`
}

type ObjectReport struct {
	Objects     []Object `json:"objects"`
	PeopleCount int      `json:"people_count"`
}

// PPESummary counts persons and, per equipment type, the persons wearing it.
type PPESummary struct {
	TotalPersons  int `json:"total_persons"`
	WithFaceCover int `json:"persons_with_face_cover"`
	WithHandCover int `json:"persons_with_hand_cover"`
	WithHeadCover int `json:"persons_with_head_cover"`
}

type PPEReport struct {
	Summary PPESummary `json:"summary"`
}

type TextBlock struct {
	Text       string                  `json:"text"`
	Confidence float64                 `json:"confidence"`
	Box        *compliance.BoundingBox `json:"bounding_box,omitempty"`
}

type TextReport struct {
	Blocks  []TextBlock `json:"blocks"`
	AllText string      `json:"all_text"`
}

// NewTextReport joins block texts with single spaces.
func NewTextReport(blocks []TextBlock) TextReport {
	n := 0
	for _, b := range blocks {
		n += len(b.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, b := range blocks {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, b.Text...)
	}
	return TextReport{Blocks: blocks, AllText: string(buf)}
}

type EquipmentDetector interface {
	DetectEquipment(ctx context.Context, image []byte) Result[PPEReport]
}

type ObjectDetector interface {
	DetectObjects(ctx context.Context, image []byte) Result[ObjectReport]
}

type TextDetector interface {
	DetectText(ctx context.Context, image []byte) Result[TextReport]
}

type UniformDetector interface {
	DetectUniform(ctx context.Context, image []byte) Result[UniformReport]
}

type MenuReader interface {
	ReadMenu(ctx context.Context, image []byte) Result[MenuReport]
}

// NormalizeConfidence maps percentage confidences (> 1) onto [0,1].
func NormalizeConfidence(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Disabled answers every provider call with Unavailable. It stands in for a
// provider family that is switched off by configuration.
type Disabled struct {
	Reason string
}

func (d Disabled) reason() string {
	if d.Reason == "" {
		return "provider disabled"
	}
	return d.Reason
}

func (d Disabled) DetectEquipment(ctx context.Context, image []byte) Result[PPEReport] {
	return Unavailable[PPEReport](d.reason())
}

func (d Disabled) DetectObjects(ctx context.Context, image []byte) Result[ObjectReport] {
	return Unavailable[ObjectReport](d.reason())
}

func (d Disabled) DetectText(ctx context.Context, image []byte) Result[TextReport] {
	return Unavailable[TextReport](d.reason())
}

func (d Disabled) DetectUniform(ctx context.Context, image []byte) Result[UniformReport] {
	return Unavailable[UniformReport](d.reason())
}

func (d Disabled) ReadMenu(ctx context.Context, image []byte) Result[MenuReport] {
	return Unavailable[MenuReport](d.reason())
}

var (
	_ EquipmentDetector = Disabled{}
	_ ObjectDetector    = Disabled{}
	_ TextDetector      = Disabled{}
	_ UniformDetector   = Disabled{}
	_ MenuReader        = Disabled{}
)
