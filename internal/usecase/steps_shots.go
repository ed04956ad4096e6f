package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"path"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/port"
	"github.com/fiapx/fiapx-analysis-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-analysis-service/internal/partition"
	"github.com/fiapx/fiapx-analysis-service/internal/shots"
	"github.com/fiapx/fiapx-analysis-service/internal/sprite"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shotsFile = "mapFramesShots.json"

type MapFramesShotsOutput struct {
	Key     string `json:"key"`
	Windows int    `json:"windows"`
	Frames  int    `json:"frames"`
}

// mapFramesShots groups the stored detections of a video into shot windows.
// A frame without a stored detection contributes no labels.
func (s *Steps) mapFramesShots(ctx context.Context, _ entity.Invocation, p VideoRef) (*StepOutput, error) {
	index, err := s.loadKeyframes(ctx, p)
	if err != nil {
		return nil, err
	}

	prefix := entity.OutputPath(p.Key, entity.StateDetectCustomLabels)
	names := make([][]string, len(index.Frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.UploadConcurrency, 1))
	for i, f := range index.Frames {
		g.Go(func() error {
			data, err := s.store.Get(gctx, p.ArtifactBucket(), path.Join(prefix, detectionName(f.FrameNumber)))
			if errors.Is(err, port.ErrObjectNotFound) {
				return nil
			}
			if err != nil {
				return port.ReadError("load detection", err)
			}
			var d entity.Detection
			if err := json.Unmarshal(data, &d); err != nil {
				return apperror.Fatal("decode detection", err)
			}
			names[i] = d.LabelNames()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	labels := make(map[int][]string, len(index.Frames))
	for i, f := range index.Frames {
		if len(names[i]) > 0 {
			labels[f.FrameNumber] = names[i]
		}
	}

	windows := shots.Aggregate(index.Frames, labels, s.cfg.ShotWindowMillis)
	if windows == nil {
		windows = []entity.ShotWindow{}
	}

	key := path.Join(entity.OutputPath(p.Key, entity.StateMapFramesShots), shotsFile)
	if err := s.putJSON(ctx, p.ArtifactBucket(), key, windows); err != nil {
		return nil, err
	}
	return &StepOutput{Output: MapFramesShotsOutput{Key: key, Windows: len(windows), Frames: len(index.Frames)}}, nil
}

// CreateSpriteImagesPayload is one contact sheet: the frames of a single
// non-empty time window.
type CreateSpriteImagesPayload struct {
	VideoRef
	Index        int                 `json:"index"`
	StartTime    int64               `json:"startTime"`
	EndTime      int64               `json:"endTime"`
	FrameNumbers []int               `json:"frames"`
	Layout       entity.SpriteLayout `json:"layout"`
}

func (p CreateSpriteImagesPayload) Validate() error {
	if err := p.VideoRef.Validate(); err != nil {
		return err
	}
	switch {
	case p.Index < 0:
		return apperror.Validationf("index must not be negative")
	case len(p.FrameNumbers) == 0:
		return apperror.Validationf("frames must not be empty")
	case p.Layout.TileWidth <= 0 || p.Layout.TileHeight <= 0 || p.Layout.MaxPerRow <= 0:
		return apperror.Validationf("invalid sprite layout %+v", p.Layout)
	}
	return nil
}

type CreateSpriteImagesPreprocOutput struct {
	Layout    entity.SpriteLayout         `json:"layout"`
	Prefix    string                      `json:"prefix"`
	Iterators []CreateSpriteImagesPayload `json:"iterators"`
}

func (s *Steps) createSpriteImagesPreproc(ctx context.Context, _ entity.Invocation, p VideoRef) (*StepOutput, error) {
	index, err := s.loadKeyframes(ctx, p)
	if err != nil {
		return nil, err
	}

	layout := sprite.ComputeLayout(index.Stream.Width, index.Stream.Height, s.cfg.SpriteTileWidth, s.cfg.SpriteMaxPerRow)
	if layout.TileWidth <= 0 || layout.TileHeight <= 0 {
		return nil, apperror.Validationf("video stream has no usable dimensions (%dx%d)", index.Stream.Width, index.Stream.Height)
	}

	out := CreateSpriteImagesPreprocOutput{
		Layout:    layout,
		Prefix:    entity.OutputPath(p.Key, entity.StateCreateSpriteImages),
		Iterators: []CreateSpriteImagesPayload{},
	}
	for _, w := range partition.ByTime(index.Frames, s.cfg.ShotWindowMillis) {
		if len(w.Frames) == 0 {
			continue
		}
		numbers := make([]int, len(w.Frames))
		for i, f := range w.Frames {
			numbers[i] = f.FrameNumber
		}
		out.Iterators = append(out.Iterators, CreateSpriteImagesPayload{
			VideoRef:     p,
			Index:        w.Index,
			StartTime:    w.Start,
			EndTime:      w.End,
			FrameNumbers: numbers,
			Layout:       layout,
		})
	}
	return &StepOutput{Output: out}, nil
}

type CreateSpriteImagesOutput struct {
	Key    string `json:"key"`
	Frames int    `json:"frames"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// createSpriteImages composes one contact sheet. Any missing or unreadable
// frame fails the whole sheet.
func (s *Steps) createSpriteImages(ctx context.Context, _ entity.Invocation, p CreateSpriteImagesPayload) (*StepOutput, error) {
	prefix := entity.OutputPath(p.Key, entity.StateExtractKeyframes)
	frames := make([]image.Image, len(p.FrameNumbers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.UploadConcurrency, 1))
	for i, n := range p.FrameNumbers {
		g.Go(func() error {
			data, err := s.store.Get(gctx, p.ArtifactBucket(), path.Join(prefix, frameImageName(n)))
			if err != nil {
				return port.ReadError("load frame image", err)
			}
			img, err := sprite.Decode(data)
			if err != nil {
				return apperror.Fatal("decode frame image", err)
			}
			frames[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sheet, err := sprite.Compose(frames, p.Layout, s.cfg.SpriteBorder)
	if err != nil {
		return nil, apperror.Fatal("compose sprite", err)
	}

	var buf bytes.Buffer
	if err := sprite.EncodeJPEG(&buf, sheet, s.cfg.SpriteQuality); err != nil {
		return nil, apperror.Fatal("encode sprite", err)
	}

	key := path.Join(entity.OutputPath(p.Key, entity.StateCreateSpriteImages), frameImageName(p.Index))
	if err := s.putObject(ctx, p.ArtifactBucket(), key, buf.Bytes(), "image/jpeg"); err != nil {
		return nil, err
	}

	metrics.SpriteSheetsTotal.Inc()
	bounds := sheet.Bounds()
	s.logger.Debug("sprite sheet stored", zap.String("key", key), zap.Int("frames", len(frames)))
	return &StepOutput{Output: CreateSpriteImagesOutput{
		Key:    key,
		Frames: len(frames),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}}, nil
}
