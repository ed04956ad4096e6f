package entity

import (
	"path"
	"regexp"
	"strings"
)

// State names a pipeline step. The names double as the path segment under
// which a step writes its artifacts.
type State string

const (
	StateProbeVideoPreproc         State = "probe-video-preproc"
	StateProbeVideo                State = "probe-video"
	StateExtractKeyframes          State = "extract-keyframes"
	StateExtractKeyframesPostproc  State = "extract-keyframes-postproc"
	StatePrepareLabelingJob        State = "prepare-labeling-job"
	StateCheckModelStatus          State = "check-model-status"
	StateStartProjectVersion       State = "start-project-version"
	StateProjectVersionStarted     State = "project-version-started"
	StateDetectCustomLabels        State = "detect-custom-labels"
	StateDetectImageLabels         State = "detect-image-labels"
	StateMapFramesShots            State = "map-frames-shots"
	StateCreateSpriteImagesPreproc State = "create-sprite-images-preproc"
	StateCreateSpriteImages        State = "create-sprite-images"
	StateJobCompleted              State = "job-completed"
)

// RunStatus is what a resumable step reports back to the orchestrator.
type RunStatus string

const (
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SafeName strips the extension and every character outside [a-zA-Z0-9_-]
// from the base name of an object key.
func SafeName(key string) string {
	base := path.Base(key)
	base = strings.TrimSuffix(base, path.Ext(base))
	return unsafeNameChars.ReplaceAllString(base, "")
}

// OutputPath is the prefix a step writes to for a given source key:
// dir(key)/SafeName(key)/state.
func OutputPath(key string, state State) string {
	dir := path.Dir(key)
	if dir == "." {
		dir = ""
	}
	return path.Join(dir, SafeName(key), string(state))
}
