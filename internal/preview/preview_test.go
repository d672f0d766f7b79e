package preview

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/protocol"
)

func screenPlan(t *testing.T) *protocol.Plan {
	t.Helper()
	plan, err := protocol.Build(config.ScreenDefault().Protocol)
	require.NoError(t, err)
	return plan
}

func TestRenderScreenPlan(t *testing.T) {
	plan := screenPlan(t)
	cfg := config.CanvasConfig{Width: 640, Height: 480, Focal: 100}

	sheet, err := Render(plan, cfg, Options{Columns: 4, TileWidth: 120})
	require.NoError(t, err)
	require.Len(t, sheet.Tiles, plan.Len())
	assert.Empty(t, sheet.Missing())

	// 12 phases in 3 rows of 90px tiles under a 112px header
	assert.Equal(t, 4*(120+8)+8, sheet.Image.Bounds().Dx())
	assert.Equal(t, 112+3*(90+16+8)+8, sheet.Image.Bounds().Dy())

	first := sheet.Tiles[0]
	assert.Equal(t, image.Pt(320, 240), first.Expected)
	assert.True(t, first.Blob.Contains(first.Expected))

	// +200 on the x axis, pixel space
	assert.Equal(t, image.Pt(520, 240), sheet.Tiles[4].Expected)
	assert.InDelta(t, 520, sheet.Tiles[4].Blob.Center.X, 1)
}

func TestRenderFlagsOffFrameStimuli(t *testing.T) {
	plan := screenPlan(t)
	cfg := config.CanvasConfig{Width: 300, Height: 300, Focal: 100}

	sheet, err := Render(plan, cfg, Options{})
	require.NoError(t, err)

	// every peripheral red and blue flash falls outside a 300px frame
	missing := sheet.Missing()
	require.Len(t, missing, 8)
	for _, tile := range missing {
		assert.Contains(t, []string{"Red", "Blue"}, tile.Label)
	}
	assert.True(t, sheet.Tiles[10].Found, "adaptation field")
	assert.True(t, sheet.Tiles[11].Found, "long flash at the centre")
}

func TestRenderWorldPlan(t *testing.T) {
	plan, err := protocol.Build(config.Default().Protocol)
	require.NoError(t, err)
	cfg := config.CanvasConfig{Width: 320, Height: 180, Focal: 150}

	sheet, err := Render(plan, cfg, Options{Columns: 5, TileWidth: 64})
	require.NoError(t, err)
	assert.Empty(t, sheet.Missing())
	assert.Equal(t, image.Pt(160, 90), sheet.Tiles[0].Expected)
}

func TestRenderRejectsBadInput(t *testing.T) {
	_, err := Render(nil, config.CanvasConfig{Width: 10, Height: 10}, Options{})
	assert.ErrorIs(t, err, protocol.ErrConfiguration)

	_, err = Render(screenPlan(t), config.CanvasConfig{}, Options{})
	assert.Error(t, err)
}

func TestWritePNG(t *testing.T) {
	sheet, err := Render(screenPlan(t), config.CanvasConfig{Width: 160, Height: 120, Focal: 100}, Options{TileWidth: 80})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "preview.png")
	require.NoError(t, WritePNG(sheet.Image, path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, sheet.Image.Bounds(), img.Bounds())
}

func TestFit(t *testing.T) {
	assert.Equal(t, "short", fit("short", 70))
	assert.Equal(t, "0123456~", fit("0123456789", 56))
	assert.Equal(t, "", fit("abc", 7))
}
