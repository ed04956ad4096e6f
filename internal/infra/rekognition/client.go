package rekognition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/retry"
	"go.uber.org/zap"
)

// StatusUnknown is reported when the model version is not listed.
const StatusUnknown = "UNKNOWN"

// API is the subset of the Rekognition client used here.
type API interface {
	DetectCustomLabels(ctx context.Context, in *rekognition.DetectCustomLabelsInput, opts ...func(*rekognition.Options)) (*rekognition.DetectCustomLabelsOutput, error)
	DescribeProjectVersions(ctx context.Context, in *rekognition.DescribeProjectVersionsInput, opts ...func(*rekognition.Options)) (*rekognition.DescribeProjectVersionsOutput, error)
	StartProjectVersion(ctx context.Context, in *rekognition.StartProjectVersionInput, opts ...func(*rekognition.Options)) (*rekognition.StartProjectVersionOutput, error)
	StopProjectVersion(ctx context.Context, in *rekognition.StopProjectVersionInput, opts ...func(*rekognition.Options)) (*rekognition.StopProjectVersionOutput, error)
}

type Config struct {
	Describe retry.Policy
	Start    retry.Policy
}

// Client is the classification oracle and model lifecycle manager backed by
// Rekognition Custom Labels. Images are read from the object store and sent
// inline, since the frames do not live in S3.
type Client struct {
	api    API
	images port.ObjectStore
	cfg    Config
	logger *zap.Logger
}

func NewClient(api API, images port.ObjectStore, cfg Config, logger *zap.Logger) *Client {
	return &Client{api: api, images: images, cfg: cfg, logger: logger}
}

func (c *Client) Classify(ctx context.Context, image port.ImageRef, modelRef string, minConfidence float32) ([]entity.CustomLabel, error) {
	data, err := c.images.Get(ctx, image.Bucket, image.Key)
	if err != nil {
		return nil, port.ReadError("read frame image", err)
	}

	out, err := c.api.DetectCustomLabels(ctx, &rekognition.DetectCustomLabelsInput{
		ProjectVersionArn: aws.String(modelRef),
		Image:             &types.Image{Bytes: data},
		MinConfidence:     aws.Float32(minConfidence),
	})
	if err != nil {
		return nil, classify("detect custom labels", err)
	}
	return toLabels(out.CustomLabels), nil
}

func (c *Client) DescribeModel(ctx context.Context, projectRef, modelRef string) (port.ModelStatus, error) {
	versionName, err := VersionName(modelRef)
	if err != nil {
		return port.ModelStatus{}, err
	}

	out, err := retry.Do(ctx, c.cfg.Describe, "describe project versions", func(ctx context.Context) (*rekognition.DescribeProjectVersionsOutput, error) {
		out, err := c.api.DescribeProjectVersions(ctx, &rekognition.DescribeProjectVersionsInput{
			ProjectArn:   aws.String(projectRef),
			VersionNames: []string{versionName},
			MaxResults:   aws.Int32(1),
		})
		if err != nil {
			return nil, classify("describe project versions", err)
		}
		return out, nil
	})
	if err != nil {
		return port.ModelStatus{}, err
	}

	for _, d := range out.ProjectVersionDescriptions {
		if aws.ToString(d.ProjectVersionArn) == modelRef {
			return port.ModelStatus{
				Status:         string(d.Status),
				InferenceUnits: int(aws.ToInt32(d.MinInferenceUnits)),
			}, nil
		}
	}
	return port.ModelStatus{Status: StatusUnknown}, nil
}

func (c *Client) StartModel(ctx context.Context, modelRef string, inferenceUnits int) (string, error) {
	if inferenceUnits < 1 {
		inferenceUnits = 1
	}
	out, err := retry.Do(ctx, c.cfg.Start, "start project version", func(ctx context.Context) (*rekognition.StartProjectVersionOutput, error) {
		out, err := c.api.StartProjectVersion(ctx, &rekognition.StartProjectVersionInput{
			ProjectVersionArn: aws.String(modelRef),
			MinInferenceUnits: aws.Int32(int32(inferenceUnits)),
		})
		if err != nil {
			return nil, classify("start project version", err)
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("model start requested",
		zap.String("model", modelRef),
		zap.Int("inference_units", inferenceUnits),
		zap.String("status", string(out.Status)),
	)
	return string(out.Status), nil
}

func (c *Client) StopModel(ctx context.Context, modelRef string) error {
	out, err := c.api.StopProjectVersion(ctx, &rekognition.StopProjectVersionInput{
		ProjectVersionArn: aws.String(modelRef),
	})
	if err != nil {
		return classify("stop project version", err)
	}
	c.logger.Info("model stop requested",
		zap.String("model", modelRef),
		zap.String("status", string(out.Status)),
	)
	return nil
}

// VersionName extracts the version name from a project version ARN of the
// form arn:...:project/<project>/version/<name>/<timestamp>.
func VersionName(modelRef string) (string, error) {
	parts := strings.Split(modelRef, "/")
	if len(parts) < 4 || parts[2] != "version" || parts[3] == "" {
		return "", apperror.Validationf("malformed project version arn %q", modelRef)
	}
	return parts[3], nil
}

func toLabels(in []types.CustomLabel) []entity.CustomLabel {
	labels := make([]entity.CustomLabel, 0, len(in))
	for _, l := range in {
		label := entity.CustomLabel{
			Name:       aws.ToString(l.Name),
			Confidence: aws.ToFloat32(l.Confidence),
		}
		if l.Geometry != nil && l.Geometry.BoundingBox != nil {
			bb := l.Geometry.BoundingBox
			label.Geometry = &entity.Geometry{BoundingBox: &entity.BoundingBox{
				Width:  aws.ToFloat32(bb.Width),
				Height: aws.ToFloat32(bb.Height),
				Left:   aws.ToFloat32(bb.Left),
				Top:    aws.ToFloat32(bb.Top),
			}}
		}
		labels = append(labels, label)
	}
	return labels
}

var transientCodes = map[string]bool{
	"ThrottlingException":                    true,
	"ProvisionedThroughputExceededException": true,
	"LimitExceededException":                 true,
	"InternalServerError":                    true,
	"ResourceNotReadyException":              true,
	"ServiceUnavailableException":            true,
}

// classify maps a Rekognition failure to an apperror kind. Errors without an
// API code never reached the service and are retried.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] {
			return apperror.Transient(op, err)
		}
		return apperror.Fatal(op, err)
	}
	return apperror.Transient(op, err)
}
