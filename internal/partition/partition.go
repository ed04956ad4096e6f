// Package partition splits ordered keyframe lists into the units that are
// fanned out to independent step invocations.
package partition

import "github.com/fiapx/fiapx-analysis-service/internal/domain/entity"

// Units covers total items with consecutive units of size items; only the
// last unit may be shorter. A non-positive size yields a single unit.
func Units(total, size int) []entity.ExtractionUnit {
	if total <= 0 {
		return nil
	}
	if size <= 0 {
		size = total
	}

	units := make([]entity.ExtractionUnit, 0, (total+size-1)/size)
	for start := 0; start < total; start += size {
		count := size
		if start+count > total {
			count = total - start
		}
		units = append(units, entity.ExtractionUnit{
			Index:          len(units),
			StartIndex:     start,
			FramesPerSlice: count,
		})
	}
	return units
}

// Chunk returns the items grouped by Units(len(items), size). The groups
// share the backing array of items.
func Chunk[T any](items []T, size int) [][]T {
	units := Units(len(items), size)
	chunks := make([][]T, 0, len(units))
	for _, u := range units {
		chunks = append(chunks, items[u.StartIndex:u.StartIndex+u.FramesPerSlice])
	}
	return chunks
}

// Window is one fixed-duration bucket produced by ByTime.
type Window struct {
	Index int
	Start int64
	// End is the nominal bound Start+size, except for the last window where
	// it is the timestamp of the last frame consumed.
	End        int64
	StartIndex int
	Frames     []entity.Frame
}

// ByTime walks frames in order and assigns each to the window
// [index*size, (index+1)*size]. A frame exactly on a bound stays in the
// earlier window. A frame past the bound closes the window and is tried
// against the next one, unless it is the last frame, which always joins the
// open window. Frames earlier than the open window are dropped. Windows are
// contiguous, so a gap in the timestamps produces empty windows.
func ByTime(frames []entity.Frame, size int64) []Window {
	if len(frames) == 0 {
		return nil
	}
	if size <= 0 {
		size = 1
	}

	var windows []Window
	i := 0
	for index := 0; i < len(frames); index++ {
		w := Window{
			Index:      index,
			Start:      int64(index) * size,
			End:        int64(index+1) * size,
			StartIndex: -1,
		}
		var last int64
		for i < len(frames) {
			f := frames[i]
			last = f.TimestampMillis
			if f.TimestampMillis < w.Start {
				i++
				continue
			}
			if f.TimestampMillis > w.End && i < len(frames)-1 {
				break
			}
			if w.StartIndex < 0 {
				w.StartIndex = i
			}
			w.Frames = append(w.Frames, f)
			i++
		}
		if i == len(frames) {
			w.End = last
		}
		if w.StartIndex < 0 {
			w.StartIndex = i
		}
		windows = append(windows, w)
	}
	return windows
}
