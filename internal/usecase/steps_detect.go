package usecase

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/inference"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-analysis-service/internal/retry"
)

// DetectCustomLabelsPayload selects the frames of a video to classify. With
// FramesPerSlice zero the whole keyframe list is one unit.
type DetectCustomLabelsPayload struct {
	VideoRef
	ProjectVersionArn string    `json:"projectVersionArn"`
	InferenceUnits    int       `json:"inferenceUnits"`
	StartIndex        int       `json:"startIndex"`
	FramesPerSlice    int       `json:"framesPerSlice"`
	Cursor            int       `json:"cursor"`
	LeaseExpiry       time.Time `json:"leaseExpiry"`
}

func (p DetectCustomLabelsPayload) Validate() error {
	if err := p.VideoRef.Validate(); err != nil {
		return err
	}
	switch {
	case p.ProjectVersionArn == "":
		return apperror.Validationf("projectVersionArn is required")
	case p.StartIndex < 0 || p.FramesPerSlice < 0:
		return apperror.Validationf("invalid unit [%d,+%d)", p.StartIndex, p.FramesPerSlice)
	case p.Cursor < 0:
		return apperror.Validationf("cursor must not be negative")
	}
	return nil
}

type DetectCustomLabelsOutput struct {
	DetectCustomLabelsPayload
	RunStatus   entity.RunStatus `json:"runStatus"`
	TotalFrames int              `json:"totalFrames"`
	Classified  int              `json:"classified"`
	Prefix      string           `json:"prefix"`
}

// detectCustomLabels runs the inference runner over one unit. A processing
// result carries the cursor and lease expiry the next invocation resumes from.
func (s *Steps) detectCustomLabels(ctx context.Context, inv entity.Invocation, p DetectCustomLabelsPayload) (*StepOutput, error) {
	index, err := s.loadKeyframes(ctx, p.VideoRef)
	if err != nil {
		return nil, err
	}

	frames := index.Frames
	if p.FramesPerSlice > 0 {
		frames = index.Slice(p.StartIndex, p.FramesPerSlice)
	}
	if p.Cursor > len(frames) {
		return nil, apperror.Validationf("cursor %d past the %d frames of the unit", p.Cursor, len(frames))
	}

	leaseExpiry, err := s.currentLease(ctx, p.ProjectVersionArn, p.LeaseExpiry)
	if err != nil {
		return nil, err
	}

	req := inference.Request{
		UnitID:       fmt.Sprintf("%s/%s/%d", inv.JobID, p.Key, p.StartIndex),
		ModelRef:     p.ProjectVersionArn,
		Frames:       frames,
		ImageBucket:  p.ArtifactBucket(),
		ImagePrefix:  entity.OutputPath(p.Key, entity.StateExtractKeyframes),
		OutputBucket: p.ArtifactBucket(),
		OutputPrefix: entity.OutputPath(p.Key, entity.StateDetectCustomLabels),
		Throughput:   inference.Throughput(p.InferenceUnits),
		LeaseExpiry:  leaseExpiry,
		Deadline:     inv.Deadline,
		Cursor:       p.Cursor,
	}
	res, err := s.runner.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	next := p
	next.Cursor = res.Cursor
	next.LeaseExpiry = res.LeaseExpiry
	return &StepOutput{
		RunStatus: res.Status,
		Output: DetectCustomLabelsOutput{
			DetectCustomLabelsPayload: next,
			RunStatus:                 res.Status,
			TotalFrames:               len(frames),
			Classified:                res.Classified,
			Prefix:                    req.OutputPrefix,
		},
	}, nil
}

// currentLease prefers the expiry carried by the previous invocation and
// falls back to the stored lease. A model without a lease is treated as
// expiring now, so the first batch renews it.
func (s *Steps) currentLease(ctx context.Context, modelRef string, carried time.Time) (time.Time, error) {
	if !carried.IsZero() {
		return carried, nil
	}
	expiry, ok, err := s.leases.Get(ctx, modelRef)
	if err != nil {
		return time.Time{}, apperror.Transient("get lease", err)
	}
	if !ok {
		return s.now(), nil
	}
	return expiry, nil
}

type DetectImageLabelsPayload struct {
	VideoRef
	ProjectVersionArn string    `json:"projectVersionArn"`
	LeaseExpiry       time.Time `json:"leaseExpiry"`
}

func (p DetectImageLabelsPayload) Validate() error {
	if err := p.VideoRef.Validate(); err != nil {
		return err
	}
	if p.ProjectVersionArn == "" {
		return apperror.Validationf("projectVersionArn is required")
	}
	return nil
}

type DetectImageLabelsOutput struct {
	Key         string    `json:"key"`
	Labels      int       `json:"labels"`
	LeaseExpiry time.Time `json:"leaseExpiry"`
}

// detectImageLabels classifies a single uploaded image and stores the result
// as <name>.json next to the other detection artifacts.
func (s *Steps) detectImageLabels(ctx context.Context, _ entity.Invocation, p DetectImageLabelsPayload) (*StepOutput, error) {
	leaseExpiry, err := s.currentLease(ctx, p.ProjectVersionArn, p.LeaseExpiry)
	if err != nil {
		return nil, err
	}
	if now := s.now(); leaseExpiry.Sub(now) < s.cfg.NearExpiry {
		leaseExpiry = now.Add(s.cfg.LeaseExtension)
		if _, err := s.leases.Renew(ctx, p.ProjectVersionArn, leaseExpiry); err != nil {
			return nil, apperror.Transient("renew lease", err)
		}
		metrics.LeaseRenewalsTotal.WithLabelValues("extended").Inc()
	}

	labels, err := retry.Do(ctx, s.cfg.Classify, "classify", func(ctx context.Context) ([]entity.CustomLabel, error) {
		labels, err := s.classifier.Classify(ctx, port.ImageRef{Bucket: p.Bucket, Key: p.Key}, p.ProjectVersionArn, s.cfg.MinConfidence)
		metrics.OracleCallsTotal.WithLabelValues(inference.Outcome(err)).Inc()
		return labels, err
	})
	if err != nil {
		return nil, err
	}

	detection := entity.NewDetection(entity.Frame{}, labels)
	key := path.Join(entity.OutputPath(p.Key, entity.StateDetectCustomLabels), entity.SafeName(p.Key)+".json")
	if err := s.putJSON(ctx, p.ArtifactBucket(), key, detection); err != nil {
		return nil, err
	}
	return &StepOutput{Output: DetectImageLabelsOutput{Key: key, Labels: len(labels), LeaseExpiry: leaseExpiry}}, nil
}
