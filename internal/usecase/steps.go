package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/inference"
	"github.com/fiapx/fiapx-analysis-service/internal/labeling"
	"github.com/fiapx/fiapx-analysis-service/internal/retry"
	"go.uber.org/zap"
)

const keyframesFile = "keyframes.json"

type StepsConfig struct {
	TempDir           string
	PresignExpiry     time.Duration
	FramesPerSlice    int
	UploadConcurrency int
	ShotWindowMillis  int64

	SpriteTileWidth int
	SpriteMaxPerRow int
	SpriteBorder    int
	SpriteQuality   int

	// MinLeaseTTL is the shortest lease seeded when a model starts.
	MinLeaseTTL    time.Duration
	NearExpiry     time.Duration
	LeaseExtension time.Duration
	MinConfidence  float32

	Store    retry.Policy
	Classify retry.Policy
}

// Steps holds the collaborators shared by every pipeline state.
type Steps struct {
	store      port.ObjectStore
	media      port.MediaSource
	prober     port.Prober
	extractor  port.FrameExtractor
	models     port.ModelService
	classifier port.Classifier
	leases     port.LeaseStore
	runner     *inference.Runner
	labeling   *labeling.Preparer
	cfg        StepsConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewSteps(
	store port.ObjectStore,
	media port.MediaSource,
	prober port.Prober,
	extractor port.FrameExtractor,
	models port.ModelService,
	classifier port.Classifier,
	leases port.LeaseStore,
	runner *inference.Runner,
	preparer *labeling.Preparer,
	cfg StepsConfig,
	logger *zap.Logger,
) *Steps {
	return &Steps{
		store:      store,
		media:      media,
		prober:     prober,
		extractor:  extractor,
		models:     models,
		classifier: classifier,
		leases:     leases,
		runner:     runner,
		labeling:   preparer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the time source used for lease arithmetic.
func (s *Steps) WithClock(now func() time.Time) *Steps {
	s.now = now
	return s
}

// All lists every pipeline state this worker can run.
func (s *Steps) All() []Step {
	return []Step{
		NewStep(entity.StateProbeVideoPreproc, s.probeVideoPreproc),
		NewStep(entity.StateProbeVideo, s.probeVideo),
		NewStep(entity.StateExtractKeyframes, s.extractKeyframes),
		NewStep(entity.StateExtractKeyframesPostproc, s.extractKeyframesPostproc),
		NewStep(entity.StatePrepareLabelingJob, s.prepareLabelingJob),
		NewStep(entity.StateCheckModelStatus, s.checkModelStatus),
		NewStep(entity.StateStartProjectVersion, s.startProjectVersion),
		NewStep(entity.StateProjectVersionStarted, s.projectVersionStarted),
		NewStep(entity.StateDetectCustomLabels, s.detectCustomLabels),
		NewStep(entity.StateDetectImageLabels, s.detectImageLabels),
		NewStep(entity.StateMapFramesShots, s.mapFramesShots),
		NewStep(entity.StateCreateSpriteImagesPreproc, s.createSpriteImagesPreproc),
		NewStep(entity.StateCreateSpriteImages, s.createSpriteImages),
		NewStep(entity.StateJobCompleted, s.jobCompleted),
	}
}

// VideoRef locates a source video and the bucket its artifacts go to.
type VideoRef struct {
	Bucket       string `json:"bucket"`
	Key          string `json:"key"`
	OutputBucket string `json:"outputBucket,omitempty"`
}

func (v VideoRef) Validate() error {
	if v.Bucket == "" || v.Key == "" {
		return apperror.Validationf("bucket and key are required")
	}
	return nil
}

// ArtifactBucket is where every artifact derived from the video is stored.
func (v VideoRef) ArtifactBucket() string {
	if v.OutputBucket != "" {
		return v.OutputBucket
	}
	return v.Bucket
}

func (v VideoRef) keyframesKey() string {
	return path.Join(entity.OutputPath(v.Key, entity.StateExtractKeyframes), keyframesFile)
}

func (s *Steps) loadKeyframes(ctx context.Context, v VideoRef) (*entity.KeyframeIndex, error) {
	data, err := s.store.Get(ctx, v.ArtifactBucket(), v.keyframesKey())
	if err != nil {
		return nil, port.ReadError("load keyframes", err)
	}
	var index entity.KeyframeIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, apperror.Fatal("decode keyframes", err)
	}
	return &index, nil
}

// putObject writes an artifact, retrying transient store failures.
func (s *Steps) putObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := retry.Do(ctx, s.cfg.Store, "put "+path.Base(key), func(ctx context.Context) (struct{}, error) {
		if err := s.store.Put(ctx, bucket, key, data, contentType); err != nil {
			return struct{}{}, apperror.Transient("put "+key, err)
		}
		return struct{}{}, nil
	})
	return err
}

func (s *Steps) putJSON(ctx context.Context, bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.putObject(ctx, bucket, key, data, "application/json")
}
