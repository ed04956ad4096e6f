package entity

// Frame is one decoded keyframe of a source video. FrameNumber is the
// decoder's frame ordinal, so numbers are increasing but not contiguous.
type Frame struct {
	FrameNumber     int    `json:"frameNumber"`
	TimestampMillis int64  `json:"timestampMillis"`
	TimecodeSMPTE   string `json:"timecodeSMPTE,omitempty"`
}

type StreamInfo struct {
	CodecName      string `json:"codecName"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	DurationMillis int64  `json:"durationMillis"`
	FrameRate      string `json:"frameRate,omitempty"`
	BitRate        int64  `json:"bitRate,omitempty"`
	TotalFrames    int    `json:"totalFrames,omitempty"`
}

// KeyframeIndex is the keyframes.json document written by the probe step and
// read by every later step.
type KeyframeIndex struct {
	Stream StreamInfo `json:"stream"`
	Frames []Frame    `json:"frames"`
}

// Slice returns the frames in [start, start+count), clamped to the index.
func (k KeyframeIndex) Slice(start, count int) []Frame {
	if start < 0 {
		start = 0
	}
	if start >= len(k.Frames) || count <= 0 {
		return nil
	}
	end := start + count
	if end > len(k.Frames) {
		end = len(k.Frames)
	}
	return k.Frames[start:end]
}

// ExtractionUnit is a contiguous slice of a keyframe list assigned to one
// fan-out invocation.
type ExtractionUnit struct {
	Index          int `json:"index"`
	StartIndex     int `json:"startIndex"`
	FramesPerSlice int `json:"framesPerSlice"`
}
