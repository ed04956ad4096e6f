package sprite

import (
	"testing"

	"github.com/fiapx/fiapx-analysis-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
)

func TestComputeLayout(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		target        int
		want          entity.SpriteLayout
	}{
		{"full hd", 1920, 1080, 96, entity.SpriteLayout{TileWidth: 96, TileHeight: 54, MaxPerRow: 20}},
		{"hd", 1280, 720, 96, entity.SpriteLayout{TileWidth: 96, TileHeight: 54, MaxPerRow: 20}},
		{"4:3", 640, 480, 96, entity.SpriteLayout{TileWidth: 96, TileHeight: 72, MaxPerRow: 20}},
		{"odd source", 854, 480, 96, entity.SpriteLayout{TileWidth: 96, TileHeight: 54, MaxPerRow: 20}},
		{"low bit truncated", 100, 150, 95, entity.SpriteLayout{TileWidth: 94, TileHeight: 142, MaxPerRow: 20}},
		{"zero width", 0, 480, 96, entity.SpriteLayout{MaxPerRow: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeLayout(tt.width, tt.height, tt.target, DefaultMaxPerRow)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ComputeLayout(tt.width, tt.height, tt.target, DefaultMaxPerRow))
			assert.Zero(t, got.TileWidth%2)
			assert.Zero(t, got.TileHeight%2)
		})
	}
}
