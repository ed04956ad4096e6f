package usecase

import (
	"context"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/inference"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	"go.uber.org/zap"
)

// minLeaseFrames is one minute of work for a single capacity unit; smaller
// jobs still get a lease of at least that size.
const minLeaseFrames = inference.FramesPerSecondPerUnit * 60

type ModelRef struct {
	ProjectArn        string `json:"projectArn"`
	ProjectVersionArn string `json:"projectVersionArn"`
}

func (m ModelRef) Validate() error {
	if m.ProjectArn == "" || m.ProjectVersionArn == "" {
		return apperror.Validationf("projectArn and projectVersionArn are required")
	}
	return nil
}

func (s *Steps) checkModelStatus(ctx context.Context, _ entity.Invocation, p ModelRef) (*StepOutput, error) {
	status, err := s.models.DescribeModel(ctx, p.ProjectArn, p.ProjectVersionArn)
	if err != nil {
		return nil, err
	}
	return &StepOutput{Output: status}, nil
}

type StartProjectVersionPayload struct {
	ModelRef
	InferenceUnits int `json:"inferenceUnits"`
}

func (s *Steps) startProjectVersion(ctx context.Context, _ entity.Invocation, p StartProjectVersionPayload) (*StepOutput, error) {
	status, err := s.models.StartModel(ctx, p.ProjectVersionArn, max(p.InferenceUnits, 1))
	if err != nil {
		return nil, err
	}
	return &StepOutput{Output: port.ModelStatus{Status: status}}, nil
}

type ProjectVersionStartedPayload struct {
	ModelRef
	TotalFrames    int `json:"totalFrames"`
	InferenceUnits int `json:"inferenceUnits"`
}

type LeaseOutput struct {
	// TTL is the lease expiry in unix seconds.
	TTL         int64     `json:"ttl"`
	LeaseExpiry time.Time `json:"leaseExpiry"`
}

// InitialLease sizes the first lease of a started model so the whole job can
// be classified at the unit's throughput, never less than minTTL.
func InitialLease(totalFrames, inferenceUnits int, minTTL time.Duration) time.Duration {
	frames := max(totalFrames, minLeaseFrames)
	seconds := float64(frames) / float64(inference.Throughput(inferenceUnits))
	ttl := time.Duration(seconds * float64(time.Second))
	return max(ttl, minTTL)
}

// projectVersionStarted seeds the model lease. A longer lease already held by
// another job is kept.
func (s *Steps) projectVersionStarted(ctx context.Context, _ entity.Invocation, p ProjectVersionStartedPayload) (*StepOutput, error) {
	expiry := s.now().Add(InitialLease(p.TotalFrames, p.InferenceUnits, s.cfg.MinLeaseTTL)).Truncate(time.Second)

	written, err := s.leases.Renew(ctx, p.ProjectVersionArn, expiry)
	if err != nil {
		return nil, apperror.Transient("seed lease", err)
	}
	result := "seeded"
	if !written {
		result = "superseded"
	}
	metrics.LeaseRenewalsTotal.WithLabelValues(result).Inc()
	s.logger.Info("model lease seeded",
		zap.String("model", p.ProjectVersionArn),
		zap.Time("expiry", expiry),
		zap.String("result", result),
	)

	return &StepOutput{Output: LeaseOutput{TTL: expiry.Unix(), LeaseExpiry: expiry}}, nil
}
