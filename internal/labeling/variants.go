package labeling

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed template/imageClassification.liquid
var classificationTemplate []byte

// placeholderLabel pads classification jobs that have a single label, since
// the classification UI needs at least two choices.
const placeholderLabel = "PLACE_HOLDER"

type labelEntry struct {
	Label string `json:"label"`
}

func labelEntries(labels []string) []labelEntry {
	entries := make([]labelEntry, len(labels))
	for i, l := range labels {
		entries[i] = labelEntry{Label: l}
	}
	return entries
}

func sourceRef(ref string) string {
	data, _ := json.Marshal(map[string]string{"source-ref": ref})
	return string(data)
}

// BoundingBox labels objects across the frames of each sequence; every
// frame sequence document is one manifest entry.
type BoundingBox struct{}

func (BoundingBox) Name() string { return "bounding-box" }

func (BoundingBox) ManifestLines(bucket string, sequences []StoredSequence) []string {
	lines := make([]string, len(sequences))
	for i, s := range sequences {
		lines[i] = sourceRef(fmt.Sprintf("s3://%s/%s", bucket, s.Key))
	}
	return lines
}

type boundingBoxConfig struct {
	DocumentVersion          string       `json:"document-version"`
	Labels                   []labelEntry `json:"labels"`
	CategoryGlobalAttributes []any        `json:"categoryGlobalAttributes"`
	Instructions             struct {
		ShortInstruction string `json:"shortInstruction"`
		FullInstruction  string `json:"fullInstruction"`
	} `json:"instructions"`
}

const boundingBoxFullInstruction = "<ul>" +
	"<li>Use the navigation bar in the bottom-left corner to see all video frames included in this task. Label each frame.</li>" +
	"<li>Each time the same object or person appears in multiple frames, it is called an <em>instance</em>. " +
	"Use predict next, or the shortcut <strong>P</strong>, to infer the location of the box in the following frames, then adjust it as needed.</li>" +
	"<li>After you add a bounding box, adjust it to fit tightly around the boundaries of the object.</li>" +
	"<li>Once you add a bounding box, select the associated label in the <strong>Labels</strong> menu.</li>" +
	"<li>Use the <strong>Shortcuts</strong> menu to see keyboard shortcuts that you can use to label objects faster.</li>" +
	"</ul>"

func (BoundingBox) LabelCategoryConfig(labels []string) any {
	cfg := boundingBoxConfig{
		DocumentVersion:          "2020-03-01",
		Labels:                   labelEntries(labels),
		CategoryGlobalAttributes: []any{},
	}
	cfg.Instructions.ShortInstruction = fmt.Sprintf("Draw bounding box around %s objects.", strings.Join(labels, ", "))
	cfg.Instructions.FullInstruction = boundingBoxFullInstruction
	return cfg
}

func (BoundingBox) UITemplate() (string, []byte) { return "", nil }

// Classification labels individual frames; every frame is a manifest entry.
type Classification struct{}

func (Classification) Name() string { return "classification" }

func (Classification) ManifestLines(_ string, sequences []StoredSequence) []string {
	var lines []string
	for _, s := range sequences {
		for _, f := range s.Sequence.Frames {
			lines = append(lines, sourceRef(s.Sequence.Prefix+f.Frame))
		}
	}
	return lines
}

type classificationConfig struct {
	DocumentVersion string       `json:"document-version"`
	Labels          []labelEntry `json:"labels"`
}

func (Classification) LabelCategoryConfig(labels []string) any {
	padded := append([]string(nil), labels...)
	if len(padded) < 2 {
		padded = append(padded, placeholderLabel)
	}
	return classificationConfig{
		DocumentVersion: "2018-11-28",
		Labels:          labelEntries(padded),
	}
}

func (Classification) UITemplate() (string, []byte) {
	return "imageClassificationTemplate.liquid", classificationTemplate
}
