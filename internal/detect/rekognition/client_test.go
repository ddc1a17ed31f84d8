package rekognition

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/heimdex/heimdex-inspect/internal/detect"
)

type fakeAPI struct {
	ppeCalls   atomic.Int32
	labelCalls atomic.Int32

	ppeOut   *rekognition.DetectProtectiveEquipmentOutput
	labelOut *rekognition.DetectLabelsOutput
	textOut  *rekognition.DetectTextOutput
	err      error

	lastLabelInput *rekognition.DetectLabelsInput
	lastPPEInput   *rekognition.DetectProtectiveEquipmentInput
}

func (f *fakeAPI) DetectProtectiveEquipment(ctx context.Context, in *rekognition.DetectProtectiveEquipmentInput, _ ...func(*rekognition.Options)) (*rekognition.DetectProtectiveEquipmentOutput, error) {
	f.ppeCalls.Add(1)
	f.lastPPEInput = in
	if f.err != nil {
		return nil, f.err
	}
	return f.ppeOut, nil
}

func (f *fakeAPI) DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, _ ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error) {
	f.labelCalls.Add(1)
	f.lastLabelInput = in
	if f.err != nil {
		return nil, f.err
	}
	return f.labelOut, nil
}

func (f *fakeAPI) DetectText(ctx context.Context, in *rekognition.DetectTextInput, _ ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.textOut, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func covers(t types.ProtectiveEquipmentType, value bool) types.EquipmentDetection {
	return types.EquipmentDetection{
		Type:           t,
		CoversBodyPart: &types.CoversBodyPart{Value: value, Confidence: aws.Float32(95)},
	}
}

func TestDetectEquipment_CountsOncePerPerson(t *testing.T) {
	api := &fakeAPI{ppeOut: &rekognition.DetectProtectiveEquipmentOutput{
		Persons: []types.ProtectiveEquipmentPerson{
			{BodyParts: []types.ProtectiveEquipmentBodyPart{
				{Name: types.BodyPartFace, EquipmentDetections: []types.EquipmentDetection{covers(types.ProtectiveEquipmentTypeFaceCover, true)}},
				{Name: types.BodyPartLeftHand, EquipmentDetections: []types.EquipmentDetection{covers(types.ProtectiveEquipmentTypeHandCover, true)}},
				{Name: types.BodyPartRightHand, EquipmentDetections: []types.EquipmentDetection{covers(types.ProtectiveEquipmentTypeHandCover, true)}},
			}},
			{BodyParts: []types.ProtectiveEquipmentBodyPart{
				{Name: types.BodyPartFace, EquipmentDetections: []types.EquipmentDetection{covers(types.ProtectiveEquipmentTypeFaceCover, false)}},
				{Name: types.BodyPartHead, EquipmentDetections: []types.EquipmentDetection{covers(types.ProtectiveEquipmentTypeHeadCover, true)}},
			}},
			{},
		},
	}}
	c := New(api, Config{}, testLogger())

	res := c.DetectEquipment(context.Background(), []byte("jpeg"))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	want := detect.PPESummary{TotalPersons: 3, WithFaceCover: 1, WithHandCover: 1, WithHeadCover: 1}
	if res.Value.Summary != want {
		t.Errorf("summary = %+v, want %+v", res.Value.Summary, want)
	}
	if got := aws.ToFloat32(api.lastPPEInput.SummarizationAttributes.MinConfidence); got != DefaultPPEMinConfidence {
		t.Errorf("min confidence = %v", got)
	}
	if n := len(api.lastPPEInput.SummarizationAttributes.RequiredEquipmentTypes); n != 3 {
		t.Errorf("required equipment types = %d, want 3", n)
	}
}

func TestDetectObjects_PeopleAndBoxes(t *testing.T) {
	api := &fakeAPI{labelOut: &rekognition.DetectLabelsOutput{
		Labels: []types.Label{
			{Name: aws.String("Person"), Confidence: aws.Float32(99), Instances: []types.Instance{{}, {}, {}}},
			{Name: aws.String("Fire Extinguisher"), Confidence: aws.Float32(88), Instances: []types.Instance{
				{BoundingBox: &types.BoundingBox{Left: aws.Float32(0.1), Top: aws.Float32(0.2), Width: aws.Float32(0.3), Height: aws.Float32(0.4)}},
			}},
			{Name: aws.String("Kitchen"), Confidence: aws.Float32(75)},
		},
	}}
	c := New(api, Config{}, testLogger())

	res := c.DetectObjects(context.Background(), []byte("jpeg"))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if res.Value.PeopleCount != 3 {
		t.Errorf("people = %d, want 3", res.Value.PeopleCount)
	}
	if len(res.Value.Objects) != 2 {
		t.Fatalf("objects = %+v", res.Value.Objects)
	}
	ext := res.Value.Objects[0]
	if ext.Source != detect.SourceCloud || ext.Confidence < 0.879 || ext.Confidence > 0.881 {
		t.Errorf("extinguisher = %+v", ext)
	}
	if ext.Box == nil || ext.Box.Width < 0.29 || ext.Box.Width > 0.31 {
		t.Errorf("box = %+v", ext.Box)
	}
	if res.Value.Objects[1].Box != nil {
		t.Error("label without instances should have no box")
	}
	if aws.ToInt32(api.lastLabelInput.MaxLabels) != DefaultMaxLabels {
		t.Errorf("max labels = %d", aws.ToInt32(api.lastLabelInput.MaxLabels))
	}
}

func TestDetectText_LinesOnly(t *testing.T) {
	api := &fakeAPI{textOut: &rekognition.DetectTextOutput{
		TextDetections: []types.TextDetection{
			{DetectedText: aws.String("USE BY 12/04"), Type: types.TextTypesLine, Confidence: aws.Float32(97)},
			{DetectedText: aws.String("USE"), Type: types.TextTypesWord, Confidence: aws.Float32(97)},
			{DetectedText: aws.String("Bleach"), Type: types.TextTypesLine, Confidence: aws.Float32(90)},
		},
	}}
	c := New(api, Config{}, testLogger())

	res := c.DetectText(context.Background(), []byte("jpeg"))
	if !res.OK() {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Value.Blocks) != 2 {
		t.Fatalf("blocks = %+v", res.Value.Blocks)
	}
	if res.Value.AllText != "USE BY 12/04 Bleach" {
		t.Errorf("all text = %q", res.Value.AllText)
	}
}

func TestClient_ErrorsBecomeFailedResults(t *testing.T) {
	api := &fakeAPI{err: errors.New("ThrottlingException")}
	c := New(api, Config{}, testLogger())

	if r := c.DetectEquipment(context.Background(), nil); r.Status != detect.StatusError {
		t.Errorf("ppe status = %v", r.Status)
	}
	if r := c.DetectObjects(context.Background(), nil); r.Status != detect.StatusError {
		t.Errorf("labels status = %v", r.Status)
	}
	if r := c.DetectText(context.Background(), nil); r.Status != detect.StatusError {
		t.Errorf("text status = %v", r.Status)
	}
}
