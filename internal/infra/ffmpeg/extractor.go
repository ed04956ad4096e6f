package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"go.uber.org/zap"
)

type Extractor struct {
	threads int
	logger  *zap.Logger
}

func NewExtractor(threads int, logger *zap.Logger) *Extractor {
	return &Extractor{threads: threads, logger: logger}
}

// ExtractFrames decodes exactly the given frames as high quality JPEGs. The
// result maps each distinct frame number to its file.
func (e *Extractor) ExtractFrames(ctx context.Context, videoURL string, frameNumbers []int, outputDir string) (map[int]string, error) {
	if len(frameNumbers) == 0 {
		return map[int]string{}, nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	frames := decodeOrder(frameNumbers)
	cmd := exec.CommandContext(ctx, "ffmpeg", e.args(videoURL, frames, outputDir)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, apperror.Fatal("ffmpeg", fmt.Errorf("%w, output: %s", err, string(output)))
	}

	paths, err := collect(frames, outputDir)
	if err != nil {
		return nil, err
	}
	e.logger.Info("frames extracted", zap.Int("count", len(paths)))
	return paths, nil
}

// decodeOrder returns the distinct frame numbers ascending, which is the
// order ffmpeg emits selected frames in.
func decodeOrder(frameNumbers []int) []int {
	frames := slices.Clone(frameNumbers)
	slices.Sort(frames)
	return slices.Compact(frames)
}

// collect pairs ffmpeg's outputs 1..N with frames, which must be in decode order.
func collect(frames []int, outputDir string) (map[int]string, error) {
	paths := make(map[int]string, len(frames))
	for i, n := range frames {
		p := filepath.Join(outputDir, fmt.Sprintf("%d.jpg", i+1))
		if _, err := os.Stat(p); err != nil {
			return nil, apperror.Fatal("ffmpeg", fmt.Errorf("frame %d was not extracted: %w", n, err))
		}
		paths[n] = p
	}
	return paths, nil
}

func (e *Extractor) args(videoURL string, frameNumbers []int, outputDir string) []string {
	return []string{
		"-threads", strconv.Itoa(max(e.threads, 1)),
		"-y",
		"-v", "quiet",
		"-i", videoURL,
		"-map", "0:v",
		"-vf", SelectFilter(frameNumbers),
		"-vsync", "0",
		"-q:v", "1",
		filepath.Join(outputDir, "%d.jpg"),
	}
}

// SelectFilter builds a select expression matching each frame number.
func SelectFilter(frameNumbers []int) string {
	terms := make([]string, len(frameNumbers))
	for i, n := range frameNumbers {
		terms[i] = fmt.Sprintf(`eq(n\,%d)`, n)
	}
	return "select='" + strings.Join(terms, "+") + "'"
}
