package entity

type BoundingBox struct {
	Width  float32 `json:"Width"`
	Height float32 `json:"Height"`
	Left   float32 `json:"Left"`
	Top    float32 `json:"Top"`
}

type Geometry struct {
	BoundingBox *BoundingBox `json:"BoundingBox,omitempty"`
}

// CustomLabel is one scored detection returned by the classification oracle.
// Confidence is in [0,100].
type CustomLabel struct {
	Name       string    `json:"Name"`
	Confidence float32   `json:"Confidence"`
	Geometry   *Geometry `json:"Geometry,omitempty"`
}

// Detection is the stored result of classifying one frame, persisted as
// <frameNumber>.json. Field names follow the layout the web UI reads.
type Detection struct {
	FrameNumber     int           `json:"FrameNumber"`
	TimestampMillis int64         `json:"TimestampMillis"`
	TimecodeSMPTE   *string       `json:"TimecodeSMPTE"`
	CustomLabels    []CustomLabel `json:"CustomLabels"`
}

// LabelNames returns the label names in detection order, duplicates included.
func (d Detection) LabelNames() []string {
	names := make([]string, 0, len(d.CustomLabels))
	for _, l := range d.CustomLabels {
		names = append(names, l.Name)
	}
	return names
}

// NewDetection pairs a frame with the oracle's labels.
func NewDetection(f Frame, labels []CustomLabel) Detection {
	d := Detection{
		FrameNumber:     f.FrameNumber,
		TimestampMillis: f.TimestampMillis,
		CustomLabels:    labels,
	}
	if d.CustomLabels == nil {
		d.CustomLabels = []CustomLabel{}
	}
	if f.TimecodeSMPTE != "" {
		tc := f.TimecodeSMPTE
		d.TimecodeSMPTE = &tc
	}
	return d
}
