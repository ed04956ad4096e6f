package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/apperror"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"go.uber.org/zap"
)

// maxProbeSeconds bounds how much of the input ffprobe reads.
const maxProbeSeconds = 3600

type Prober struct {
	threads int
	logger  *zap.Logger
}

func NewProber(threads int, logger *zap.Logger) *Prober {
	return &Prober{threads: threads, logger: logger}
}

// Probe lists the I-frames of the first video stream. Frame numbers are the
// 0-based position of the frame among all decoded frames, the same n the
// extractor's select filter matches on.
func (p *Prober) Probe(ctx context.Context, videoURL string) (*entity.KeyframeIndex, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-threads", strconv.Itoa(max(p.threads, 1)),
		"-v", "quiet",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_name,codec_type,width,height,duration,bit_rate,nb_frames,r_frame_rate"+
			":frame=pict_type,best_effort_timestamp_time",
		"-read_intervals", fmt.Sprintf("%%+%d", maxProbeSeconds),
		"-of", "json",
		videoURL,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, apperror.Fatal("ffprobe", fmt.Errorf("%w: %s", err, stderrOf(err)))
	}

	index, err := ParseProbe(output)
	if err != nil {
		return nil, err
	}

	p.logger.Info("video probed",
		zap.Int("keyframes", len(index.Frames)),
		zap.Int("total_frames", index.Stream.TotalFrames),
		zap.Int64("duration_ms", index.Stream.DurationMillis),
	)
	return index, nil
}

type probeOutput struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
		BitRate   string `json:"bit_rate"`
		NbFrames  string `json:"nb_frames"`
		FrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Frames []probeFrame `json:"frames"`
}

type probeFrame struct {
	PictType       string `json:"pict_type"`
	BestEffortTime string `json:"best_effort_timestamp_time"`
	SideDataList   []struct {
		Timecodes []struct {
			Value string `json:"value"`
		} `json:"timecodes"`
	} `json:"side_data_list"`
}

func (f probeFrame) timecode() string {
	for _, sd := range f.SideDataList {
		for _, tc := range sd.Timecodes {
			if tc.Value != "" {
				return tc.Value
			}
		}
	}
	return ""
}

// ParseProbe turns ffprobe JSON output into a keyframe index.
func ParseProbe(data []byte) (*entity.KeyframeIndex, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperror.Fatal("parse ffprobe output", err)
	}
	if len(out.Streams) == 0 {
		return nil, apperror.Validationf("no video stream found")
	}

	s := out.Streams[0]
	index := &entity.KeyframeIndex{
		Stream: entity.StreamInfo{
			CodecName:      s.CodecName,
			Width:          s.Width,
			Height:         s.Height,
			DurationMillis: secondsToMillis(s.Duration),
			FrameRate:      s.FrameRate,
			BitRate:        parseInt(s.BitRate),
			TotalFrames:    int(parseInt(s.NbFrames)),
		},
		Frames: []entity.Frame{},
	}
	if index.Stream.TotalFrames == 0 {
		index.Stream.TotalFrames = len(out.Frames)
	}

	for n, f := range out.Frames {
		if f.PictType != "I" {
			continue
		}
		index.Frames = append(index.Frames, entity.Frame{
			FrameNumber:     n,
			TimestampMillis: secondsToMillis(f.BestEffortTime),
			TimecodeSMPTE:   f.timecode(),
		})
	}
	return index, nil
}

func secondsToMillis(s string) int64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * 1000))
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func stderrOf(err error) string {
	if ee, ok := err.(*exec.ExitError); ok {
		return string(ee.Stderr)
	}
	return ""
}
