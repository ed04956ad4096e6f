package sprite

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrames(n int, c color.Color) []image.Image {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = imaging.New(192, 108, c)
	}
	return frames
}

func isRed(c color.NRGBA) bool { return c.R > 200 && c.G < 60 && c.B < 60 }

func isBlack(c color.NRGBA) bool { return c.R == 0 && c.G == 0 && c.B == 0 && c.A == 255 }

func TestGrid(t *testing.T) {
	cols, rows := Grid(45, 20)
	assert.Equal(t, 20, cols)
	assert.Equal(t, 3, rows)

	cols, rows = Grid(7, 20)
	assert.Equal(t, 7, cols)
	assert.Equal(t, 1, rows)

	cols, rows = Grid(40, 20)
	assert.Equal(t, 20, cols)
	assert.Equal(t, 2, rows)
}

func TestComposeFortyFiveFrames(t *testing.T) {
	layout := ComputeLayout(192, 108, DefaultTileWidth, DefaultMaxPerRow)
	sheet, err := Compose(solidFrames(45, color.NRGBA{R: 255, A: 255}), layout, DefaultBorder)
	require.NoError(t, err)

	assert.Equal(t, 20*96, sheet.Bounds().Dx())
	assert.Equal(t, 3*54, sheet.Bounds().Dy())

	// border pixels keep the background
	assert.True(t, isBlack(sheet.NRGBAAt(0, 0)))
	assert.True(t, isBlack(sheet.NRGBAAt(96, 54)))
	// first tile interior
	assert.True(t, isRed(sheet.NRGBAAt(10, 10)))
	// last tile lives in row 2, column 4
	assert.True(t, isRed(sheet.NRGBAAt(4*96+10, 2*54+10)))
	// the rest of the last row is empty
	assert.True(t, isBlack(sheet.NRGBAAt(5*96+10, 2*54+10)))
	assert.True(t, isBlack(sheet.NRGBAAt(19*96+10, 2*54+10)))
}

func TestComposeKeepsBorderForOddScaledHeight(t *testing.T) {
	// 1280x544 scales to 96x41, while the layout tile is 96x40.
	layout := ComputeLayout(1280, 544, DefaultTileWidth, DefaultMaxPerRow)
	require.Equal(t, 40, layout.TileHeight)

	frames := []image.Image{imaging.New(1280, 544, color.White), imaging.New(1280, 544, color.White)}
	sheet, err := Compose(frames, layout, DefaultBorder)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2*96, 40), sheet.Bounds())

	for _, x := range []int{10, 96 + 10} {
		assert.True(t, isBlack(sheet.NRGBAAt(x, 0)), "top border at x=%d", x)
		assert.True(t, sheet.NRGBAAt(x, 38).R > 200, "interior at x=%d", x)
		assert.True(t, isBlack(sheet.NRGBAAt(x, 39)), "bottom border at x=%d", x)
	}
}

func TestComposeFailsFast(t *testing.T) {
	layout := ComputeLayout(192, 108, DefaultTileWidth, DefaultMaxPerRow)

	_, err := Compose(nil, layout, DefaultBorder)
	assert.ErrorIs(t, err, ErrNoFrames)

	frames := solidFrames(3, color.White)
	frames[1] = nil
	_, err = Compose(frames, layout, DefaultBorder)
	assert.Error(t, err)

	_, err = Compose(solidFrames(1, color.White), ComputeLayout(0, 0, 96, 20), DefaultBorder)
	assert.Error(t, err)
}

func TestDecodeRejectsCorruptImage(t *testing.T) {
	_, err := Decode([]byte("not a jpeg"))
	assert.Error(t, err)
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	layout := ComputeLayout(192, 108, DefaultTileWidth, DefaultMaxPerRow)
	sheet, err := Compose(solidFrames(3, color.NRGBA{G: 255, A: 255}), layout, DefaultBorder)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeJPEG(&buf, sheet, DefaultQuality))

	decoded, err := jpeg.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, sheet.Bounds(), decoded.Bounds())
}
