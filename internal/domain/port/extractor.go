package port

import (
	"context"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
)

// Prober lists the keyframes of a video and describes its video stream.
type Prober interface {
	Probe(ctx context.Context, videoURL string) (*entity.KeyframeIndex, error)
}

// FrameExtractor decodes the given frame numbers into JPEG files under
// outputDir and returns the file path of each frame number.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoURL string, frameNumbers []int, outputDir string) (map[int]string, error)
}
