package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/inference"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-analysis-service/internal/labeling"
	"github.com/fiapx/fiapx-analysis-service/internal/retry"
	"github.com/fiapx/fiapx-analysis-service/internal/sprite"
	"github.com/fiapx/fiapx-analysis-service/internal/testutil"
	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const modelArn = "arn:aws:rekognition:us-east-1:123456789012:project/logos/version/logos.2026-03-01/1"

type fakeProber struct {
	index *entity.KeyframeIndex
	err   error
	urls  []string
}

func (f *fakeProber) Probe(_ context.Context, url string) (*entity.KeyframeIndex, error) {
	f.urls = append(f.urls, url)
	return f.index, f.err
}

// fakeExtractor writes one small file per requested frame, named like ffmpeg
// names its output, unless the frame is listed in skip.
type fakeExtractor struct {
	skip  map[int]bool
	calls [][]int
}

func (f *fakeExtractor) ExtractFrames(_ context.Context, _ string, numbers []int, outDir string) (map[int]string, error) {
	f.calls = append(f.calls, append([]int(nil), numbers...))
	paths := make(map[int]string, len(numbers))
	for i, n := range numbers {
		if f.skip[n] {
			continue
		}
		p := filepath.Join(outDir, fmt.Sprintf("%d.jpg", i+1))
		if err := os.WriteFile(p, []byte(fmt.Sprintf("frame-%d", n)), 0o644); err != nil {
			return nil, err
		}
		paths[n] = p
	}
	return paths, nil
}

type fakeModels struct {
	mu           sync.Mutex
	status       port.ModelStatus
	startedUnits []int
	stopped      []string
	stopErr      error
}

func (f *fakeModels) DescribeModel(_ context.Context, _, _ string) (port.ModelStatus, error) {
	return f.status, nil
}

func (f *fakeModels) StartModel(_ context.Context, _ string, units int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedUnits = append(f.startedUnits, units)
	return "STARTING", nil
}

func (f *fakeModels) StopModel(_ context.Context, modelRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, modelRef)
	return nil
}

func (f *fakeModels) Stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

type stubClassifier struct {
	mu     sync.Mutex
	calls  int
	onCall func(n int)
	// failures makes the first n calls fail as throttled.
	failures int
}

func (c *stubClassifier) Classify(_ context.Context, _ port.ImageRef, _ string, _ float32) ([]entity.CustomLabel, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	hook := c.onCall
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if n <= c.failures {
		return nil, apperror.Transient("detect custom labels", errors.New("ThrottlingException"))
	}
	return []entity.CustomLabel{{Name: "logo", Confidence: 88}}, nil
}

type stepsHarness struct {
	store      *testutil.ObjectStore
	leases     *testutil.LeaseStore
	clock      *testutil.Clock
	prober     *fakeProber
	extractor  *fakeExtractor
	models     *fakeModels
	classifier *stubClassifier
	steps      *Steps
	registry   *Registry
	jobID      uuid.UUID
}

func newStepsHarness(t *testing.T) *stepsHarness {
	t.Helper()
	fast := retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	h := &stepsHarness{
		store:      testutil.NewObjectStore(),
		leases:     testutil.NewLeaseStore(),
		clock:      testutil.NewClock(t0),
		prober:     &fakeProber{},
		extractor:  &fakeExtractor{},
		models:     &fakeModels{},
		classifier: &stubClassifier{},
		jobID:      uuid.New(),
	}

	runnerCfg := inference.DefaultConfig()
	runnerCfg.Pace = false
	runnerCfg.Classify = fast
	runnerCfg.Store = fast
	runner := inference.NewRunner(h.classifier, h.store, h.leases, testutil.NewCursorStore(), runnerCfg, zap.NewNop()).
		WithClock(h.clock.Now)

	cfg := StepsConfig{
		TempDir:           t.TempDir(),
		PresignExpiry:     time.Hour,
		FramesPerSlice:    4,
		UploadConcurrency: 3,
		ShotWindowMillis:  60000,
		SpriteTileWidth:   sprite.DefaultTileWidth,
		SpriteMaxPerRow:   2,
		SpriteBorder:      sprite.DefaultBorder,
		SpriteQuality:     sprite.DefaultQuality,
		MinLeaseTTL:       2 * time.Minute,
		NearExpiry:        30 * time.Second,
		LeaseExtension:    120 * time.Second,
		MinConfidence:     50,
		Store:             fast,
		Classify:          fast,
	}
	h.steps = NewSteps(h.store, h.store, h.prober, h.extractor, h.models, h.classifier, h.leases, runner,
		labeling.NewPreparer(h.store, zap.NewNop()), cfg, zap.NewNop()).WithClock(h.clock.Now)

	reg, err := NewRegistry(h.steps.All())
	require.NoError(t, err)
	h.registry = reg
	return h
}

func (h *stepsHarness) run(t *testing.T, state entity.State, payload any) (*StepOutput, error) {
	t.Helper()
	step, ok := h.registry.Lookup(state)
	require.True(t, ok, "state %s not registered", state)
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	inv := entity.Invocation{JobID: h.jobID, Deadline: h.clock.Now().Add(15 * time.Minute)}
	return step.Run(context.Background(), inv, raw)
}

func (h *stepsHarness) seedKeyframes(t *testing.T, v VideoRef, index entity.KeyframeIndex) {
	t.Helper()
	data, err := json.Marshal(index)
	require.NoError(t, err)
	require.NoError(t, h.store.Put(context.Background(), v.ArtifactBucket(), v.keyframesKey(), data, "application/json"))
}

func (h *stepsHarness) getJSON(t *testing.T, bucket, key string, v any) {
	t.Helper()
	data, err := h.store.Get(context.Background(), bucket, key)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

var clip = VideoRef{Bucket: "uploads", Key: "media/clip.mp4"}

func numberedFrames(n int) []entity.Frame {
	frames := make([]entity.Frame, n)
	for i := range frames {
		frames[i] = entity.Frame{FrameNumber: i * 12, TimestampMillis: int64(i) * 500}
	}
	return frames
}

func TestAllRegistersEveryState(t *testing.T) {
	h := newStepsHarness(t)
	for _, state := range []entity.State{
		entity.StateProbeVideoPreproc, entity.StateProbeVideo, entity.StateExtractKeyframes,
		entity.StateExtractKeyframesPostproc, entity.StatePrepareLabelingJob, entity.StateCheckModelStatus,
		entity.StateStartProjectVersion, entity.StateProjectVersionStarted, entity.StateDetectCustomLabels,
		entity.StateDetectImageLabels, entity.StateMapFramesShots, entity.StateCreateSpriteImagesPreproc,
		entity.StateCreateSpriteImages, entity.StateJobCompleted,
	} {
		_, ok := h.registry.Lookup(state)
		assert.True(t, ok, state)
	}
	assert.Len(t, h.steps.All(), 14)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	h := newStepsHarness(t)
	steps := append(h.steps.All(), h.steps.All()[0])
	_, err := NewRegistry(steps)
	assert.ErrorContains(t, err, "registered twice")
}

func TestPayloadErrorsAreValidation(t *testing.T) {
	h := newStepsHarness(t)
	step, _ := h.registry.Lookup(entity.StateProbeVideo)

	_, err := step.Run(context.Background(), entity.Invocation{}, json.RawMessage(`{"bucket":5}`))
	assert.True(t, apperror.IsValidation(err))

	_, err = h.run(t, entity.StateProbeVideo, VideoRef{Bucket: "uploads"})
	assert.True(t, apperror.IsValidation(err))
}

func TestProbeVideoPreprocSkipsImages(t *testing.T) {
	h := newStepsHarness(t)
	out, err := h.run(t, entity.StateProbeVideoPreproc, ProbeVideoPreprocPayload{
		ProjectName: "logos",
		Bucket:      "uploads",
		Keys:        []string{"media/a.mp4", "media/b.jpg", "media/c.mov"},
	})
	require.NoError(t, err)

	res := out.Output.(ProbeVideoPreprocOutput)
	assert.Equal(t, []VideoRef{
		{Bucket: "uploads", Key: "media/a.mp4"},
		{Bucket: "uploads", Key: "media/c.mov"},
	}, res.Iterators)
	assert.Equal(t, "logos/extract-keyframes", res.Prefix)
}

func TestProbeVideoStoresIndexAndFansOut(t *testing.T) {
	h := newStepsHarness(t)
	h.prober.index = &entity.KeyframeIndex{
		Stream: entity.StreamInfo{CodecName: "h264", Width: 1920, Height: 1080, DurationMillis: 4500},
		Frames: numberedFrames(10),
	}

	out, err := h.run(t, entity.StateProbeVideo, clip)
	require.NoError(t, err)
	assert.Equal(t, []string{"memory://uploads/media/clip.mp4"}, h.prober.urls)

	res := out.Output.(ProbeVideoOutput)
	assert.Equal(t, "media/clip/extract-keyframes/keyframes.json", res.KeyframesJSON)
	assert.Equal(t, int64(4500), res.DurationMillis)
	assert.Equal(t, 10, res.TotalKeyframes)
	require.Len(t, res.Iterators, 3)
	for i, want := range [][2]int{{0, 4}, {4, 4}, {8, 2}} {
		assert.Equal(t, want[0], res.Iterators[i].StartIndex)
		assert.Equal(t, want[1], res.Iterators[i].FramesPerSlice)
		assert.Equal(t, clip, res.Iterators[i].VideoRef)
	}

	var stored entity.KeyframeIndex
	h.getJSON(t, "uploads", res.KeyframesJSON, &stored)
	assert.Equal(t, *h.prober.index, stored)
}

func TestProbeVideoWritesToOutputBucket(t *testing.T) {
	h := newStepsHarness(t)
	h.prober.index = &entity.KeyframeIndex{Frames: numberedFrames(1)}
	v := VideoRef{Bucket: "uploads", Key: "clip.mp4", OutputBucket: "results"}

	_, err := h.run(t, entity.StateProbeVideo, v)
	require.NoError(t, err)

	_, err = h.store.Get(context.Background(), "results", "clip/extract-keyframes/keyframes.json")
	assert.NoError(t, err)
}

func TestExtractKeyframesUploadsUnit(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: numberedFrames(10)})

	out, err := h.run(t, entity.StateExtractKeyframes, ExtractKeyframesPayload{VideoRef: clip, StartIndex: 4, FramesPerSlice: 4})
	require.NoError(t, err)
	assert.Equal(t, ExtractKeyframesOutput{Processed: 4}, out.Output)
	assert.Equal(t, [][]int{{48, 60, 72, 84}}, h.extractor.calls)

	for _, n := range []int{48, 60, 72, 84} {
		key := fmt.Sprintf("media/clip/extract-keyframes/%d.jpg", n)
		data, err := h.store.Get(context.Background(), "uploads", key)
		require.NoError(t, err, key)
		assert.Equal(t, fmt.Sprintf("frame-%d", n), string(data))
		assert.Equal(t, "image/jpeg", h.store.ContentType("uploads", key))
	}
}

func TestExtractKeyframesMissingOutputIsFatal(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: numberedFrames(10)})
	h.extractor.skip = map[int]bool{60: true}

	_, err := h.run(t, entity.StateExtractKeyframes, ExtractKeyframesPayload{VideoRef: clip, StartIndex: 4, FramesPerSlice: 4})
	require.Error(t, err)
	assert.Equal(t, apperror.KindFatal, apperror.KindOf(err))
	assert.Equal(t, 1, h.store.Puts(), "no frame may be stored when one is missing")
}

func TestExtractKeyframesWithoutIndexIsFatal(t *testing.T) {
	h := newStepsHarness(t)
	_, err := h.run(t, entity.StateExtractKeyframes, ExtractKeyframesPayload{VideoRef: clip, FramesPerSlice: 4})
	require.Error(t, err)
	assert.Equal(t, apperror.KindFatal, apperror.KindOf(err))
}

func TestExtractKeyframesPostproc(t *testing.T) {
	h := newStepsHarness(t)
	out, err := h.run(t, entity.StateExtractKeyframesPostproc, ExtractKeyframesPostprocPayload{Processed: []int{600, 600, 50}})
	require.NoError(t, err)
	assert.Equal(t, ExtractKeyframesPostprocOutput{TotalFrames: 1250}, out.Output)

	_, err = h.run(t, entity.StateExtractKeyframesPostproc, ExtractKeyframesPostprocPayload{Processed: []int{3, -1}})
	assert.True(t, apperror.IsValidation(err))
}

func TestInitialLease(t *testing.T) {
	assert.Equal(t, 60*time.Second, InitialLease(0, 1, 0))
	assert.Equal(t, 3000*time.Second, InitialLease(30000, 2, 0))
	assert.Equal(t, 2*time.Minute, InitialLease(100, 1, 2*time.Minute))
	assert.Equal(t, 600*time.Second, InitialLease(3000, 0, 0))
}

func TestModelLifecycleSteps(t *testing.T) {
	h := newStepsHarness(t)
	h.models.status = port.ModelStatus{Status: "RUNNING", InferenceUnits: 2}
	ref := ModelRef{ProjectArn: "arn:project/logos", ProjectVersionArn: modelArn}

	out, err := h.run(t, entity.StateCheckModelStatus, ref)
	require.NoError(t, err)
	assert.Equal(t, h.models.status, out.Output)

	out, err = h.run(t, entity.StateStartProjectVersion, StartProjectVersionPayload{ModelRef: ref})
	require.NoError(t, err)
	assert.Equal(t, port.ModelStatus{Status: "STARTING"}, out.Output)
	assert.Equal(t, []int{1}, h.models.startedUnits)

	_, err = h.run(t, entity.StateCheckModelStatus, ModelRef{ProjectArn: "arn:project/logos"})
	assert.True(t, apperror.IsValidation(err))
}

func TestProjectVersionStartedSeedsLease(t *testing.T) {
	h := newStepsHarness(t)
	ref := ModelRef{ProjectArn: "arn:project/logos", ProjectVersionArn: modelArn}

	out, err := h.run(t, entity.StateProjectVersionStarted, ProjectVersionStartedPayload{ModelRef: ref, TotalFrames: 3000, InferenceUnits: 1})
	require.NoError(t, err)

	want := t0.Add(600 * time.Second)
	assert.Equal(t, LeaseOutput{TTL: want.Unix(), LeaseExpiry: want}, out.Output)
	stored, ok, _ := h.leases.Get(context.Background(), modelArn)
	require.True(t, ok)
	assert.Equal(t, want, stored)
}

func TestProjectVersionStartedKeepsLongerLease(t *testing.T) {
	h := newStepsHarness(t)
	longer := t0.Add(2 * time.Hour)
	_, _ = h.leases.Renew(context.Background(), modelArn, longer)

	_, err := h.run(t, entity.StateProjectVersionStarted, ProjectVersionStartedPayload{
		ModelRef:    ModelRef{ProjectArn: "arn:project/logos", ProjectVersionArn: modelArn},
		TotalFrames: 10,
	})
	require.NoError(t, err)

	stored, _, _ := h.leases.Get(context.Background(), modelArn)
	assert.Equal(t, longer, stored)
}

func TestDetectCustomLabelsResumesAcrossInvocations(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: numberedFrames(12)})
	deadline := t0.Add(15 * time.Minute)
	h.classifier.onCall = func(n int) {
		if n == 5 {
			h.clock.Set(deadline.Add(-5 * time.Second))
		}
	}

	payload := DetectCustomLabelsPayload{VideoRef: clip, ProjectVersionArn: modelArn, InferenceUnits: 1}
	out, err := h.run(t, entity.StateDetectCustomLabels, payload)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusProcessing, out.RunStatus)

	first := out.Output.(DetectCustomLabelsOutput)
	assert.Equal(t, 5, first.Cursor)
	assert.Equal(t, 12, first.TotalFrames)
	assert.Equal(t, t0.Add(120*time.Second), first.LeaseExpiry, "a model without a lease is renewed on the first batch")

	h.classifier.onCall = nil
	out, err = h.run(t, entity.StateDetectCustomLabels, first.DetectCustomLabelsPayload)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusCompleted, out.RunStatus)

	second := out.Output.(DetectCustomLabelsOutput)
	assert.Equal(t, 12, second.Cursor)
	assert.Equal(t, 7, second.Classified)
	assert.Equal(t, 12, h.classifier.calls)

	objects, err := h.store.List(context.Background(), "uploads", "media/clip/detect-custom-labels/")
	require.NoError(t, err)
	assert.Len(t, objects, 12)

	var d entity.Detection
	h.getJSON(t, "uploads", "media/clip/detect-custom-labels/132.json", &d)
	assert.Equal(t, 132, d.FrameNumber)
	assert.Equal(t, []string{"logo"}, d.LabelNames())
}

func TestDetectCustomLabelsUnitSlice(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: numberedFrames(12)})

	out, err := h.run(t, entity.StateDetectCustomLabels, DetectCustomLabelsPayload{
		VideoRef: clip, ProjectVersionArn: modelArn, StartIndex: 8, FramesPerSlice: 4,
	})
	require.NoError(t, err)
	res := out.Output.(DetectCustomLabelsOutput)
	assert.Equal(t, 4, res.TotalFrames)
	assert.Equal(t, entity.RunStatusCompleted, res.RunStatus)

	_, err = h.store.Get(context.Background(), "uploads", "media/clip/detect-custom-labels/96.json")
	assert.NoError(t, err)
	_, err = h.store.Get(context.Background(), "uploads", "media/clip/detect-custom-labels/84.json")
	assert.ErrorIs(t, err, port.ErrObjectNotFound)
}

func TestDetectCustomLabelsRejectsCursorPastUnit(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: numberedFrames(3)})

	_, err := h.run(t, entity.StateDetectCustomLabels, DetectCustomLabelsPayload{VideoRef: clip, ProjectVersionArn: modelArn, Cursor: 4})
	assert.True(t, apperror.IsValidation(err))
	assert.Zero(t, h.classifier.calls)
}

func TestDetectImageLabelsStoresResult(t *testing.T) {
	h := newStepsHarness(t)

	out, err := h.run(t, entity.StateDetectImageLabels, DetectImageLabelsPayload{
		VideoRef:          VideoRef{Bucket: "uploads", Key: "images/cat.png"},
		ProjectVersionArn: modelArn,
	})
	require.NoError(t, err)

	res := out.Output.(DetectImageLabelsOutput)
	assert.Equal(t, "images/cat/detect-custom-labels/cat.json", res.Key)
	assert.Equal(t, 1, res.Labels)
	assert.Equal(t, t0.Add(120*time.Second), res.LeaseExpiry)

	var d entity.Detection
	h.getJSON(t, "uploads", res.Key, &d)
	assert.Equal(t, []string{"logo"}, d.LabelNames())
}

func TestDetectImageLabelsCountsEveryOracleCall(t *testing.T) {
	h := newStepsHarness(t)
	h.classifier.failures = 1
	throttled := promtest.ToFloat64(metrics.OracleCallsTotal.WithLabelValues("throttled"))
	succeeded := promtest.ToFloat64(metrics.OracleCallsTotal.WithLabelValues("success"))

	_, err := h.run(t, entity.StateDetectImageLabels, DetectImageLabelsPayload{
		VideoRef:          VideoRef{Bucket: "uploads", Key: "images/cat.png"},
		ProjectVersionArn: modelArn,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, h.classifier.calls)
	assert.Equal(t, throttled+1, promtest.ToFloat64(metrics.OracleCallsTotal.WithLabelValues("throttled")))
	assert.Equal(t, succeeded+1, promtest.ToFloat64(metrics.OracleCallsTotal.WithLabelValues("success")))
}

func TestMapFramesShots(t *testing.T) {
	h := newStepsHarness(t)
	frames := []entity.Frame{
		{FrameNumber: 1, TimestampMillis: 0},
		{FrameNumber: 2, TimestampMillis: 30000},
		{FrameNumber: 3, TimestampMillis: 60000},
		{FrameNumber: 4, TimestampMillis: 90000},
		{FrameNumber: 5, TimestampMillis: 150000},
	}
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: frames})
	for n, labels := range map[int][]entity.CustomLabel{
		1: {{Name: "logo", Confidence: 90}},
		3: {{Name: "logo", Confidence: 80}, {Name: "car", Confidence: 70}},
		5: {{Name: "car", Confidence: 60}},
	} {
		data, _ := json.Marshal(entity.NewDetection(frames[n-1], labels))
		require.NoError(t, h.store.Put(context.Background(), "uploads", fmt.Sprintf("media/clip/detect-custom-labels/%d.json", n), data, "application/json"))
	}

	out, err := h.run(t, entity.StateMapFramesShots, clip)
	require.NoError(t, err)
	res := out.Output.(MapFramesShotsOutput)
	assert.Equal(t, MapFramesShotsOutput{Key: "media/clip/map-frames-shots/mapFramesShots.json", Windows: 2, Frames: 5}, res)

	var windows []entity.ShotWindow
	h.getJSON(t, "uploads", res.Key, &windows)
	require.Len(t, windows, 2)
	assert.Equal(t, []int{1, 2, 3}, windows[0].FrameNumbers)
	assert.Equal(t, map[string][]int{"logo": {1, 3}, "car": {3}}, windows[0].LabelToFrames)
	assert.Equal(t, int64(60000), windows[0].EndTime)
	// the last frame lies past the bound but still joins the open window
	assert.Equal(t, []int{4, 5}, windows[1].FrameNumbers)
	assert.Equal(t, map[string][]int{"car": {5}}, windows[1].LabelToFrames)
	assert.Equal(t, int64(150000), windows[1].EndTime)
}

func TestMapFramesShotsLastFrameJoinsOpenWindow(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: []entity.Frame{
		{FrameNumber: 1, TimestampMillis: 0},
		{FrameNumber: 2, TimestampMillis: 30000},
		{FrameNumber: 3, TimestampMillis: 90000},
	}})

	out, err := h.run(t, entity.StateMapFramesShots, clip)
	require.NoError(t, err)

	var windows []entity.ShotWindow
	h.getJSON(t, "uploads", out.Output.(MapFramesShotsOutput).Key, &windows)
	require.Len(t, windows, 1)
	assert.Equal(t, []int{1, 2, 3}, windows[0].FrameNumbers)
	assert.Equal(t, int64(90000), windows[0].EndTime)
}

func TestStoreReadFailuresAreTransient(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: numberedFrames(2)})
	puts := h.store.Puts()
	h.store.FailGets = 1
	h.store.GetErr = errors.New("dial tcp minio:9000: connection reset by peer")

	_, err := h.run(t, entity.StateMapFramesShots, clip)
	require.Error(t, err)
	assert.True(t, apperror.IsTransient(err))
	assert.Equal(t, puts, h.store.Puts())

	_, err = h.run(t, entity.StateMapFramesShots, clip)
	require.NoError(t, err)
}

func TestCreateSpriteImagesRetriesFlakyFrameRead(t *testing.T) {
	h := newStepsHarness(t)
	storeFrameImage(t, h, 1)
	payload := CreateSpriteImagesPayload{
		VideoRef:     clip,
		FrameNumbers: []int{1},
		Layout:       entity.SpriteLayout{TileWidth: 96, TileHeight: 54, MaxPerRow: 2},
	}
	h.store.FailGets = 1
	h.store.GetErr = errors.New("i/o timeout")

	_, err := h.run(t, entity.StateCreateSpriteImages, payload)
	require.Error(t, err)
	assert.Equal(t, apperror.KindTransient, apperror.KindOf(err))

	_, err = h.run(t, entity.StateCreateSpriteImages, payload)
	require.NoError(t, err)
}

func TestCreateSpriteImagesPreprocSkipsEmptyWindows(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{
		Stream: entity.StreamInfo{Width: 1920, Height: 1080},
		Frames: []entity.Frame{
			{FrameNumber: 1, TimestampMillis: 0},
			{FrameNumber: 2, TimestampMillis: 1000},
			{FrameNumber: 3, TimestampMillis: 150000},
			{FrameNumber: 4, TimestampMillis: 151000},
		},
	})

	out, err := h.run(t, entity.StateCreateSpriteImagesPreproc, clip)
	require.NoError(t, err)
	res := out.Output.(CreateSpriteImagesPreprocOutput)

	assert.Equal(t, entity.SpriteLayout{TileWidth: 96, TileHeight: 54, MaxPerRow: 2}, res.Layout)
	assert.Equal(t, "media/clip/create-sprite-images", res.Prefix)
	require.Len(t, res.Iterators, 2)
	assert.Equal(t, 0, res.Iterators[0].Index)
	assert.Equal(t, []int{1, 2}, res.Iterators[0].FrameNumbers)
	assert.Equal(t, 2, res.Iterators[1].Index)
	assert.Equal(t, []int{3, 4}, res.Iterators[1].FrameNumbers)
	assert.Equal(t, int64(120000), res.Iterators[1].StartTime)
}

func TestCreateSpriteImagesPreprocRejectsMissingDimensions(t *testing.T) {
	h := newStepsHarness(t)
	h.seedKeyframes(t, clip, entity.KeyframeIndex{Frames: numberedFrames(2)})

	_, err := h.run(t, entity.StateCreateSpriteImagesPreproc, clip)
	assert.True(t, apperror.IsValidation(err))
}

func storeFrameImage(t *testing.T, h *stepsHarness, n int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 192, 108))
	for y := 0; y < 108; y++ {
		for x := 0; x < 192; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(n * 40), G: 120, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, sprite.EncodeJPEG(&buf, img, 90))
	require.NoError(t, h.store.Put(context.Background(), "uploads", fmt.Sprintf("media/clip/extract-keyframes/%d.jpg", n), buf.Bytes(), "image/jpeg"))
}

func TestCreateSpriteImagesComposesSheet(t *testing.T) {
	h := newStepsHarness(t)
	for n := 1; n <= 3; n++ {
		storeFrameImage(t, h, n)
	}

	out, err := h.run(t, entity.StateCreateSpriteImages, CreateSpriteImagesPayload{
		VideoRef:     clip,
		Index:        2,
		FrameNumbers: []int{1, 2, 3},
		Layout:       entity.SpriteLayout{TileWidth: 96, TileHeight: 54, MaxPerRow: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, CreateSpriteImagesOutput{Key: "media/clip/create-sprite-images/2.jpg", Frames: 3, Width: 192, Height: 108}, out.Output)

	data, err := h.store.Get(context.Background(), "uploads", "media/clip/create-sprite-images/2.jpg")
	require.NoError(t, err)
	sheet, err := sprite.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 192, 108), sheet.Bounds())
}

func TestCreateSpriteImagesFailsOnMissingFrame(t *testing.T) {
	h := newStepsHarness(t)
	storeFrameImage(t, h, 1)

	_, err := h.run(t, entity.StateCreateSpriteImages, CreateSpriteImagesPayload{
		VideoRef:     clip,
		FrameNumbers: []int{1, 2},
		Layout:       entity.SpriteLayout{TileWidth: 96, TileHeight: 54, MaxPerRow: 2},
	})
	require.Error(t, err)
	assert.Equal(t, apperror.KindFatal, apperror.KindOf(err))
	assert.Equal(t, 1, h.store.Puts())
}

func TestPrepareLabelingJobStep(t *testing.T) {
	h := newStepsHarness(t)
	out, err := h.run(t, entity.StatePrepareLabelingJob, labeling.Input{
		ProjectName:  "logos",
		TrainingType: "classification",
		Labels:       []string{"brand-a", "brand-b"},
		Keys:         []string{"images/a.jpg", "images/b.png"},
		Bucket:       "uploads",
	})
	require.NoError(t, err)

	res := out.Output.(*labeling.Output)
	assert.Equal(t, "uploads", res.Bucket)
	_, err = h.store.Get(context.Background(), "uploads", res.DatasetManifest)
	assert.NoError(t, err)
}

func TestJobCompletedAcceptsEmptyPayload(t *testing.T) {
	h := newStepsHarness(t)
	step, _ := h.registry.Lookup(entity.StateJobCompleted)
	out, err := step.Run(context.Background(), entity.Invocation{}, nil)
	require.NoError(t, err)
	assert.Empty(t, out.RunStatus)
}
