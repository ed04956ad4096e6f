package port

import (
	"context"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
)

type ImageRef struct {
	Bucket string
	Key    string
}

// Classifier is the rate-limited classification oracle. Errors are
// classified with apperror: transient ones may be retried.
type Classifier interface {
	Classify(ctx context.Context, image ImageRef, modelRef string, minConfidence float32) ([]entity.CustomLabel, error)
}

type ModelStatus struct {
	Status         string `json:"status"`
	InferenceUnits int    `json:"inferenceUnits,omitempty"`
}

// ModelService manages the lifecycle of a trained model version.
type ModelService interface {
	DescribeModel(ctx context.Context, projectRef, modelRef string) (ModelStatus, error)
	StartModel(ctx context.Context, modelRef string, inferenceUnits int) (string, error)
	StopModel(ctx context.Context, modelRef string) error
}
