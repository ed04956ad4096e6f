// Package shots folds per-frame detections into per-window shot summaries.
package shots

import (
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/fiapx/fiapx-analysis-service/internal/partition"
)

// DefaultWindowMillis is one minute.
const DefaultWindowMillis int64 = 60 * 1000

// Aggregate groups timestamp-sorted frames into windows of windowMillis and
// indexes, per window, which frames each label was detected in. labels maps a
// frame number to its detected label names; a frame without an entry simply
// has no labels. A label lists a frame at most once.
func Aggregate(frames []entity.Frame, labels map[int][]string, windowMillis int64) []entity.ShotWindow {
	windows := partition.ByTime(frames, windowMillis)
	shots := make([]entity.ShotWindow, 0, len(windows))

	for _, w := range windows {
		shot := entity.ShotWindow{
			WindowIndex:   w.Index,
			StartTime:     w.Start,
			EndTime:       w.End,
			FrameNumbers:  make([]int, 0, len(w.Frames)),
			LabelToFrames: map[string][]int{},
		}
		seen := map[string]map[int]struct{}{}
		for _, f := range w.Frames {
			shot.FrameNumbers = append(shot.FrameNumbers, f.FrameNumber)
			for _, name := range labels[f.FrameNumber] {
				if seen[name] == nil {
					seen[name] = map[int]struct{}{}
				}
				if _, dup := seen[name][f.FrameNumber]; dup {
					continue
				}
				seen[name][f.FrameNumber] = struct{}{}
				shot.LabelToFrames[name] = append(shot.LabelToFrames[name], f.FrameNumber)
			}
		}
		shots = append(shots, shot)
	}
	return shots
}
