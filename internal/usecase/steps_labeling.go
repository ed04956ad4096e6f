package usecase

import (
	"context"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/labeling"
)

func (s *Steps) prepareLabelingJob(ctx context.Context, _ entity.Invocation, p labeling.Input) (*StepOutput, error) {
	out, err := s.labeling.Prepare(ctx, labeling.ForTrainingType(p.TrainingType), p)
	if err != nil {
		return nil, err
	}
	return &StepOutput{Output: out}, nil
}

type JobCompletedPayload struct{}

func (JobCompletedPayload) Validate() error { return nil }

// jobCompleted has no work of its own; the dispatcher closes the job record
// when this state succeeds.
func (s *Steps) jobCompleted(_ context.Context, _ entity.Invocation, _ JobCompletedPayload) (*StepOutput, error) {
	return &StepOutput{}, nil
}
