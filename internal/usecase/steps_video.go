package usecase

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-analysis-service/internal/labeling"
	"github.com/fiapx/fiapx-analysis-service/internal/partition"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ProbeVideoPreprocPayload struct {
	ProjectName string   `json:"projectName"`
	Bucket      string   `json:"bucket"`
	Keys        []string `json:"keys"`
}

func (p ProbeVideoPreprocPayload) Validate() error {
	if p.ProjectName == "" || p.Bucket == "" {
		return apperror.Validationf("projectName and bucket are required")
	}
	return nil
}

type ProbeVideoPreprocOutput struct {
	Iterators []VideoRef `json:"iterators"`
	Bucket    string     `json:"bucket"`
	Prefix    string     `json:"prefix"`
}

// probeVideoPreproc fans out one probe per video of a labeling project.
// Images need no probing.
func (s *Steps) probeVideoPreproc(_ context.Context, _ entity.Invocation, p ProbeVideoPreprocPayload) (*StepOutput, error) {
	_, videos := labeling.SplitByMediaType(p.Keys)
	out := ProbeVideoPreprocOutput{
		Iterators: make([]VideoRef, 0, len(videos)),
		Bucket:    p.Bucket,
		Prefix:    path.Join(p.ProjectName, string(entity.StateExtractKeyframes)),
	}
	for _, key := range videos {
		out.Iterators = append(out.Iterators, VideoRef{Bucket: p.Bucket, Key: key})
	}
	return &StepOutput{Output: out}, nil
}

// ExtractKeyframesPayload is one extraction unit over a probed video.
type ExtractKeyframesPayload struct {
	VideoRef
	StartIndex     int `json:"startIndex"`
	FramesPerSlice int `json:"framesPerSlice"`
}

func (p ExtractKeyframesPayload) Validate() error {
	if err := p.VideoRef.Validate(); err != nil {
		return err
	}
	if p.StartIndex < 0 || p.FramesPerSlice <= 0 {
		return apperror.Validationf("invalid unit [%d,+%d)", p.StartIndex, p.FramesPerSlice)
	}
	return nil
}

type ProbeVideoOutput struct {
	Bucket         string                    `json:"bucket"`
	Prefix         string                    `json:"prefix"`
	KeyframesJSON  string                    `json:"keyframesJson"`
	Stream         entity.StreamInfo         `json:"stream"`
	DurationMillis int64                     `json:"durationMillis"`
	TotalKeyframes int                       `json:"totalKeyframes"`
	Iterators      []ExtractKeyframesPayload `json:"iterators"`
}

func (s *Steps) probeVideo(ctx context.Context, _ entity.Invocation, p VideoRef) (*StepOutput, error) {
	url, err := s.media.PresignGet(ctx, p.Bucket, p.Key, s.cfg.PresignExpiry)
	if err != nil {
		return nil, port.ReadError("presign video", err)
	}

	index, err := s.prober.Probe(ctx, url)
	if err != nil {
		return nil, err
	}

	if err := s.putJSON(ctx, p.ArtifactBucket(), p.keyframesKey(), index); err != nil {
		return nil, err
	}

	out := ProbeVideoOutput{
		Bucket:         p.ArtifactBucket(),
		Prefix:         entity.OutputPath(p.Key, entity.StateExtractKeyframes),
		KeyframesJSON:  p.keyframesKey(),
		Stream:         index.Stream,
		DurationMillis: index.Stream.DurationMillis,
		TotalKeyframes: len(index.Frames),
	}
	for _, u := range partition.Units(len(index.Frames), s.cfg.FramesPerSlice) {
		out.Iterators = append(out.Iterators, ExtractKeyframesPayload{
			VideoRef:       p,
			StartIndex:     u.StartIndex,
			FramesPerSlice: u.FramesPerSlice,
		})
	}
	return &StepOutput{Output: out}, nil
}

type ExtractKeyframesOutput struct {
	Processed int `json:"processed"`
}

// extractKeyframes decodes one unit's keyframes and stores each as
// <prefix>/<frameNumber>.jpg.
func (s *Steps) extractKeyframes(ctx context.Context, inv entity.Invocation, p ExtractKeyframesPayload) (*StepOutput, error) {
	index, err := s.loadKeyframes(ctx, p.VideoRef)
	if err != nil {
		return nil, err
	}

	frames := index.Slice(p.StartIndex, p.FramesPerSlice)
	if len(frames) == 0 {
		return &StepOutput{Output: ExtractKeyframesOutput{}}, nil
	}
	numbers := make([]int, len(frames))
	for i, f := range frames {
		numbers[i] = f.FrameNumber
	}

	workDir := filepath.Join(s.cfg.TempDir, inv.JobID.String(), uuid.NewString())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, apperror.Fatal("create workdir", err)
	}
	defer os.RemoveAll(workDir)

	url, err := s.media.PresignGet(ctx, p.Bucket, p.Key, s.cfg.PresignExpiry)
	if err != nil {
		return nil, port.ReadError("presign video", err)
	}

	paths, err := s.extractor.ExtractFrames(ctx, url, numbers, workDir)
	if err != nil {
		return nil, err
	}

	for _, n := range numbers {
		if _, ok := paths[n]; !ok {
			return nil, apperror.Fatal("extract keyframes", errMissingFrame(n))
		}
	}

	prefix := entity.OutputPath(p.Key, entity.StateExtractKeyframes)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.UploadConcurrency, 1))
	for _, n := range numbers {
		file := paths[n]
		g.Go(func() error {
			data, err := os.ReadFile(file)
			if err != nil {
				return apperror.Fatal("read frame", err)
			}
			return s.putObject(gctx, p.ArtifactBucket(), path.Join(prefix, frameImageName(n)), data, "image/jpeg")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.KeyframesExtractedTotal.Add(float64(len(numbers)))
	s.logger.Info("keyframes uploaded",
		zap.String("key", p.Key),
		zap.Int("start_index", p.StartIndex),
		zap.Int("count", len(numbers)),
	)
	return &StepOutput{Output: ExtractKeyframesOutput{Processed: len(numbers)}}, nil
}

// ExtractKeyframesPostprocPayload carries the per-unit counts of every
// extraction unit.
type ExtractKeyframesPostprocPayload struct {
	Processed []int `json:"processed"`
}

func (p ExtractKeyframesPostprocPayload) Validate() error {
	for i, n := range p.Processed {
		if n < 0 {
			return apperror.Validationf("unit %d reported %d frames", i, n)
		}
	}
	return nil
}

type ExtractKeyframesPostprocOutput struct {
	TotalFrames int `json:"totalFrames"`
}

func (s *Steps) extractKeyframesPostproc(_ context.Context, _ entity.Invocation, p ExtractKeyframesPostprocPayload) (*StepOutput, error) {
	total := 0
	for _, n := range p.Processed {
		total += n
	}
	return &StepOutput{Output: ExtractKeyframesPostprocOutput{TotalFrames: total}}, nil
}
