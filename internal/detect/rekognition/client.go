// Package rekognition implements the cloud provider family (protective
// equipment, labels, text and people count) on AWS Rekognition.
package rekognition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/detect"
)

const (
	DefaultPPEMinConfidence   = 80
	DefaultLabelMinConfidence = 70
	DefaultMaxLabels          = 50
	personLabel               = "person"
)

// API is the subset of the Rekognition client used here.
type API interface {
	DetectProtectiveEquipment(ctx context.Context, params *rekognition.DetectProtectiveEquipmentInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectProtectiveEquipmentOutput, error)
	DetectLabels(ctx context.Context, params *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

type Config struct {
	PPEMinConfidence   float32
	LabelMinConfidence float32
	MaxLabels          int32
}

type Client struct {
	api    API
	cfg    Config
	logger *slog.Logger
}

// New wraps an existing Rekognition API client. Zero config values take the
// defaults.
func New(api API, cfg Config, logger *slog.Logger) *Client {
	if cfg.PPEMinConfidence <= 0 {
		cfg.PPEMinConfidence = DefaultPPEMinConfidence
	}
	if cfg.LabelMinConfidence <= 0 {
		cfg.LabelMinConfidence = DefaultLabelMinConfidence
	}
	if cfg.MaxLabels <= 0 {
		cfg.MaxLabels = DefaultMaxLabels
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

// NewFromRegion loads the default AWS credential chain for region.
func NewFromRegion(ctx context.Context, region string, logger *slog.Logger) (*Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(rekognition.NewFromConfig(awsCfg), Config{}, logger), nil
}

func (c *Client) DetectEquipment(ctx context.Context, image []byte) detect.Result[detect.PPEReport] {
	out, err := c.api.DetectProtectiveEquipment(ctx, &rekognition.DetectProtectiveEquipmentInput{
		Image: &types.Image{Bytes: image},
		SummarizationAttributes: &types.ProtectiveEquipmentSummarizationAttributes{
			MinConfidence: aws.Float32(c.cfg.PPEMinConfidence),
			RequiredEquipmentTypes: []types.ProtectiveEquipmentType{
				types.ProtectiveEquipmentTypeFaceCover,
				types.ProtectiveEquipmentTypeHandCover,
				types.ProtectiveEquipmentTypeHeadCover,
			},
		},
	})
	if err != nil {
		c.logger.Warn("rekognition ppe detection failed", "error", err)
		return detect.Failed[detect.PPEReport](fmt.Errorf("ppe detection: %w", err))
	}
	return detect.Ok(summarizePPE(out.Persons))
}

// summarizePPE counts each equipment type at most once per person, and only
// when the equipment actually covers the body part.
func summarizePPE(persons []types.ProtectiveEquipmentPerson) detect.PPEReport {
	var report detect.PPEReport
	report.Summary.TotalPersons = len(persons)

	for _, person := range persons {
		worn := make(map[types.ProtectiveEquipmentType]bool)
		for _, part := range person.BodyParts {
			for _, eq := range part.EquipmentDetections {
				if eq.CoversBodyPart != nil && eq.CoversBodyPart.Value {
					worn[eq.Type] = true
				}
			}
		}
		if worn[types.ProtectiveEquipmentTypeFaceCover] {
			report.Summary.WithFaceCover++
		}
		if worn[types.ProtectiveEquipmentTypeHandCover] {
			report.Summary.WithHandCover++
		}
		if worn[types.ProtectiveEquipmentTypeHeadCover] {
			report.Summary.WithHeadCover++
		}
	}
	return report
}

func (c *Client) DetectObjects(ctx context.Context, image []byte) detect.Result[detect.ObjectReport] {
	out, err := c.api.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{Bytes: image},
		MaxLabels:     aws.Int32(c.cfg.MaxLabels),
		MinConfidence: aws.Float32(c.cfg.LabelMinConfidence),
	})
	if err != nil {
		c.logger.Warn("rekognition label detection failed", "error", err)
		return detect.Failed[detect.ObjectReport](fmt.Errorf("label detection: %w", err))
	}
	return detect.Ok(labelsToObjects(out.Labels))
}

func labelsToObjects(labels []types.Label) detect.ObjectReport {
	var report detect.ObjectReport
	for _, label := range labels {
		name := aws.ToString(label.Name)
		if strings.EqualFold(name, personLabel) {
			report.PeopleCount += len(label.Instances)
			continue
		}
		obj := detect.Object{
			Name:       name,
			Confidence: detect.NormalizeConfidence(float64(aws.ToFloat32(label.Confidence))),
			Source:     detect.SourceCloud,
		}
		if len(label.Instances) > 0 {
			obj.Box = convertBox(label.Instances[0].BoundingBox)
		}
		report.Objects = append(report.Objects, obj)
	}
	return report
}

func (c *Client) DetectText(ctx context.Context, image []byte) detect.Result[detect.TextReport] {
	out, err := c.api.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: image},
	})
	if err != nil {
		c.logger.Warn("rekognition text detection failed", "error", err)
		return detect.Failed[detect.TextReport](fmt.Errorf("text detection: %w", err))
	}

	var blocks []detect.TextBlock
	for _, td := range out.TextDetections {
		if td.Type != types.TextTypesLine {
			continue
		}
		block := detect.TextBlock{
			Text:       aws.ToString(td.DetectedText),
			Confidence: detect.NormalizeConfidence(float64(aws.ToFloat32(td.Confidence))),
		}
		if td.Geometry != nil {
			block.Box = convertBox(td.Geometry.BoundingBox)
		}
		blocks = append(blocks, block)
	}
	return detect.Ok(detect.NewTextReport(blocks))
}

func convertBox(b *types.BoundingBox) *compliance.BoundingBox {
	if b == nil {
		return nil
	}
	return &compliance.BoundingBox{
		Left:   float64(aws.ToFloat32(b.Left)),
		Top:    float64(aws.ToFloat32(b.Top)),
		Width:  float64(aws.ToFloat32(b.Width)),
		Height: float64(aws.ToFloat32(b.Height)),
	}
}

var (
	_ detect.EquipmentDetector = (*Client)(nil)
	_ detect.ObjectDetector    = (*Client)(nil)
	_ detect.TextDetector      = (*Client)(nil)
)
