// Package labeling prepares the input documents of a human labeling job from
// the keyframes extracted out of a project's videos and images.
package labeling

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"go.uber.org/zap"
)

// TrainingTypeConcept selects image classification; every other training
// type is labeled with bounding boxes.
const TrainingTypeConcept = "concept"

const imageSubFolder = "assorted-images"

// Job is one labeling task flavour. Variants differ in the manifest they list,
// the label category document and whether a worker UI template is shipped.
type Job interface {
	Name() string
	ManifestLines(bucket string, sequences []StoredSequence) []string
	LabelCategoryConfig(labels []string) any
	UITemplate() (name string, body []byte)
}

// ForTrainingType picks the job variant for a training type tag.
func ForTrainingType(trainingType string) Job {
	if trainingType == TrainingTypeConcept {
		return Classification{}
	}
	return BoundingBox{}
}

type FrameRef struct {
	FrameNo int    `json:"frame-no"`
	Frame   string `json:"frame"`
}

// FrameSequence is the frame sequence input document of a labeling task.
type FrameSequence struct {
	SeqNo          int        `json:"seq-no"`
	Prefix         string     `json:"prefix"`
	Frames         []FrameRef `json:"frames"`
	NumberOfFrames int        `json:"number-of-frames"`
}

type StoredSequence struct {
	Key      string
	Sequence FrameSequence
}

type Input struct {
	ProjectName  string   `json:"projectName"`
	TrainingType string   `json:"trainingType"`
	Labels       []string `json:"labels"`
	// Keys are the project's source objects, images and videos mixed.
	Keys []string `json:"keys"`
	// Bucket holds both the source images and the extracted keyframes.
	Bucket string `json:"bucket"`
}

func (in Input) Validate() error {
	switch {
	case in.ProjectName == "":
		return apperror.Validationf("projectName is required")
	case in.Bucket == "":
		return apperror.Validationf("bucket is required")
	case len(in.Keys) == 0:
		return apperror.Validationf("keys must not be empty")
	case len(in.Labels) == 0:
		return apperror.Validationf("labels must not be empty")
	}
	return nil
}

type Output struct {
	Bucket              string   `json:"bucket"`
	FrameSequences      []string `json:"frameSequences"`
	DatasetManifest     string   `json:"datasetManifest"`
	LabelCategoryConfig string   `json:"labelCategoryConfig"`
	UITemplate          string   `json:"uiTemplate,omitempty"`
}

type Preparer struct {
	store  port.ObjectStore
	logger *zap.Logger
}

func NewPreparer(store port.ObjectStore, logger *zap.Logger) *Preparer {
	return &Preparer{store: store, logger: logger}
}

// Prepare writes the frame sequences, the dataset manifest, the label
// category config and, when the variant has one, the UI template under
// <projectName>/prepare-labeling-job.
func (p *Preparer) Prepare(ctx context.Context, job Job, in Input) (*Output, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	prefix := path.Join(in.ProjectName, string(entity.StatePrepareLabelingJob))
	images, videos := SplitByMediaType(in.Keys)

	var sequences []StoredSequence
	seqNo := 1
	if len(images) > 0 {
		seq := FrameSequence{SeqNo: seqNo, Prefix: fmt.Sprintf("s3://%s/", in.Bucket)}
		for i, key := range images {
			seq.Frames = append(seq.Frames, FrameRef{FrameNo: i, Frame: key})
		}
		seq.NumberOfFrames = len(seq.Frames)
		sequences = append(sequences, StoredSequence{
			Key:      path.Join(prefix, imageSubFolder, fmt.Sprintf("frameSequence-%d.json", seqNo)),
			Sequence: seq,
		})
		seqNo++
	}

	for _, key := range videos {
		keyframesPrefix := entity.OutputPath(key, entity.StateExtractKeyframes)
		index, err := p.loadKeyframes(ctx, in.Bucket, keyframesPrefix)
		if err != nil {
			return nil, err
		}

		seq := FrameSequence{
			SeqNo:  seqNo,
			Prefix: fmt.Sprintf("s3://%s/%s/", in.Bucket, keyframesPrefix),
			Frames: make([]FrameRef, 0, len(index.Frames)),
		}
		for i, f := range index.Frames {
			seq.Frames = append(seq.Frames, FrameRef{FrameNo: i, Frame: fmt.Sprintf("%d.jpg", f.FrameNumber)})
		}
		seq.NumberOfFrames = len(seq.Frames)
		sequences = append(sequences, StoredSequence{
			Key:      path.Join(prefix, entity.SafeName(key), fmt.Sprintf("frameSequence-%d.json", seqNo)),
			Sequence: seq,
		})
		seqNo++
	}

	out := &Output{Bucket: in.Bucket}
	for _, s := range sequences {
		if err := p.putJSON(ctx, in.Bucket, s.Key, s.Sequence); err != nil {
			return nil, err
		}
		out.FrameSequences = append(out.FrameSequences, s.Key)
	}

	out.DatasetManifest = path.Join(prefix, "dataset.manifest")
	manifest := strings.Join(job.ManifestLines(in.Bucket, sequences), "\n")
	if err := p.store.Put(ctx, in.Bucket, out.DatasetManifest, []byte(manifest), "application/octet-stream"); err != nil {
		return nil, apperror.Transient("put dataset manifest", err)
	}

	out.LabelCategoryConfig = path.Join(prefix, "labelCategoryConfig.json")
	if err := p.putJSON(ctx, in.Bucket, out.LabelCategoryConfig, job.LabelCategoryConfig(in.Labels)); err != nil {
		return nil, err
	}

	if name, body := job.UITemplate(); body != nil {
		out.UITemplate = path.Join(prefix, name)
		if err := p.store.Put(ctx, in.Bucket, out.UITemplate, body, "application/octet-stream"); err != nil {
			return nil, apperror.Transient("put ui template", err)
		}
	}

	p.logger.Info("labeling job prepared",
		zap.String("project", in.ProjectName),
		zap.String("variant", job.Name()),
		zap.Int("frame_sequences", len(out.FrameSequences)),
	)
	return out, nil
}

func (p *Preparer) loadKeyframes(ctx context.Context, bucket, prefix string) (*entity.KeyframeIndex, error) {
	data, err := p.store.Get(ctx, bucket, path.Join(prefix, "keyframes.json"))
	if err != nil {
		return nil, port.ReadError("load keyframes", err)
	}
	var index entity.KeyframeIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, apperror.Fatal("decode keyframes", err)
	}
	return &index, nil
}

func (p *Preparer) putJSON(ctx context.Context, bucket, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := p.store.Put(ctx, bucket, key, data, "application/json"); err != nil {
		return apperror.Transient("put "+path.Base(key), err)
	}
	return nil
}

// SplitByMediaType separates image keys from everything else, judged by the
// file extension.
func SplitByMediaType(keys []string) (images, others []string) {
	for _, key := range keys {
		if IsImage(key) {
			images = append(images, key)
		} else {
			others = append(others, key)
		}
	}
	return images, others
}

func IsImage(key string) bool {
	typ := mime.TypeByExtension(strings.ToLower(path.Ext(key)))
	return strings.HasPrefix(typ, "image/")
}
