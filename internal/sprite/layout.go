// Package sprite plans and composes contact sheets from keyframe images.
package sprite

import (
	"math"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
)

const (
	DefaultTileWidth = 96
	DefaultMaxPerRow = 20
	DefaultBorder    = 1
	DefaultQuality   = 80
)

// ComputeLayout scales a sourceWidth x sourceHeight frame down to
// targetTileWidth and truncates both tile sides to an even number of pixels.
func ComputeLayout(sourceWidth, sourceHeight, targetTileWidth, maxPerRow int) entity.SpriteLayout {
	layout := entity.SpriteLayout{MaxPerRow: maxPerRow}
	if sourceWidth <= 0 || sourceHeight <= 0 || targetTileWidth <= 0 {
		return layout
	}

	downscale := float64(sourceWidth) / float64(targetTileWidth)
	layout.TileWidth = truncateEven(roundHalfUp(float64(sourceWidth) / downscale))
	layout.TileHeight = truncateEven(roundHalfUp(float64(sourceHeight) / downscale))
	return layout
}

// truncateEven clears the low bit, so odd sizes round down.
func truncateEven(x int) int {
	return (x >> 1) << 1
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
