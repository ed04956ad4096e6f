package sprite

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
)

var ErrNoFrames = errors.New("sprite: no frames to compose")

// Grid returns the column and row count of a sheet holding total tiles.
func Grid(total, maxPerRow int) (cols, rows int) {
	if total <= 0 || maxPerRow <= 0 {
		return 0, 0
	}
	cols = min(total, maxPerRow)
	rows = total / maxPerRow
	if total%maxPerRow > 0 {
		rows++
	}
	return cols, rows
}

// Compose tiles frames row-major onto an opaque black canvas. Each frame is
// scaled to the tile width, keeping its aspect ratio, clipped to the tile and
// trimmed by border pixels on every edge before it is placed inside its cell.
func Compose(frames []image.Image, layout entity.SpriteLayout, border int) (*image.NRGBA, error) {
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	if layout.TileWidth <= 2*border || layout.TileHeight <= 2*border || layout.MaxPerRow <= 0 {
		return nil, fmt.Errorf("sprite: invalid layout %dx%d (%d per row, border %d)",
			layout.TileWidth, layout.TileHeight, layout.MaxPerRow, border)
	}

	cols, rows := Grid(len(frames), layout.MaxPerRow)
	canvas := imaging.New(cols*layout.TileWidth, rows*layout.TileHeight, color.NRGBA{A: 255})

	for i, frame := range frames {
		if frame == nil {
			return nil, fmt.Errorf("sprite: frame %d is missing", i)
		}
		scaled := imaging.Resize(frame, layout.TileWidth, 0, imaging.Lanczos)
		// The layout truncates tile sizes to even, the resize does not.
		w := min(scaled.Bounds().Dx(), layout.TileWidth)
		h := min(scaled.Bounds().Dy(), layout.TileHeight)
		if w <= 2*border || h <= 2*border {
			return nil, fmt.Errorf("sprite: frame %d too small after scaling (%dx%d)", i, w, h)
		}
		cropped := imaging.Crop(scaled, image.Rect(border, border, w-border, h-border))

		col := i % layout.MaxPerRow
		row := i / layout.MaxPerRow
		canvas = imaging.Paste(canvas, cropped, image.Pt(col*layout.TileWidth+border, row*layout.TileHeight+border))
	}
	return canvas, nil
}

// Decode reads one stored keyframe image.
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("sprite: decode frame: %w", err)
	}
	return img, nil
}

func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}
