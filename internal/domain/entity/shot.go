package entity

// ShotWindow aggregates the frames and labels of one fixed-duration window.
// The JSON layout is the mapFramesShots.json contract.
type ShotWindow struct {
	WindowIndex   int              `json:"minIndex"`
	StartTime     int64            `json:"startTime"`
	EndTime       int64            `json:"endTime"`
	FrameNumbers  []int            `json:"frames"`
	LabelToFrames map[string][]int `json:"customLabels"`
}

// SpriteLayout is the tile geometry of a contact sheet.
type SpriteLayout struct {
	TileWidth  int `json:"width"`
	TileHeight int `json:"height"`
	MaxPerRow  int `json:"maxPerRow"`
}
