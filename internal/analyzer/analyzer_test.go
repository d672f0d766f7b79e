package analyzer

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pupilstim/internal/colorimetry"
	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/display"
	"github.com/ivlev/pupilstim/internal/geom"
)

func TestContrastDetectorSquare(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	draw.Draw(img, image.Rect(50, 50, 150, 150), image.White, image.Point{}, draw.Src)

	blobs, err := NewContrastDetector().Detect(img)
	require.NoError(t, err)
	require.Len(t, blobs, 1)

	b := blobs[0]
	assert.Equal(t, image.Rect(50, 50, 150, 150), b.Rect)
	assert.Equal(t, 100*100, b.Area)
	assert.Equal(t, image.Pt(100, 100), b.Center)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, b.Color)
}

func TestContrastDetectorOnRenderedFrame(t *testing.T) {
	c := display.NewCanvas(config.CanvasConfig{Width: 200, Height: 100, Focal: 100}, config.SpaceScreen)
	_, err := c.Show(display.Stimulus{Shape: display.ShapeField, Color: colorimetry.White, Luminance: 0.04, Layer: display.LayerBackground})
	require.NoError(t, err)
	_, err = c.Show(display.Stimulus{Shape: display.ShapeDisc, Color: colorimetry.Red, Luminance: 1, Position: geom.V(30, 0, 0), Size: 20, Layer: display.LayerStimulus})
	require.NoError(t, err)
	_, err = c.Show(display.Stimulus{Shape: display.ShapeDisc, Color: colorimetry.White, Luminance: 0.5, Position: geom.V(-60, 20, 0), Size: 6, Layer: display.LayerFixation})
	require.NoError(t, err)

	frame := c.Snapshot()
	defer c.Release(frame)

	assert.Equal(t, colorimetry.Scale(colorimetry.White, 0.04).NRGBA(), Background(frame))

	blobs, err := NewContrastDetector().Detect(frame)
	require.NoError(t, err)
	require.Len(t, blobs, 2)

	// largest first
	red := blobs[0]
	assert.InDelta(t, 130, red.Center.X, 1)
	assert.InDelta(t, 50, red.Center.Y, 1)
	assert.Equal(t, uint8(255), red.Color.R)
	assert.Zero(t, red.Color.B)

	fix, ok := Nearest(blobs, image.Pt(40, 30))
	require.True(t, ok)
	assert.True(t, fix.Contains(image.Pt(40, 30)))
	assert.Less(t, fix.Area, red.Area)
}

func TestContrastDetectorMinArea(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	img.Set(3, 3, color.White)
	img.Set(10, 10, color.White)
	img.Set(11, 10, color.White)
	img.Set(10, 11, color.White)
	img.Set(11, 11, color.White)

	blobs, err := NewContrastDetector().Detect(img)
	require.NoError(t, err)
	require.Len(t, blobs, 1)
	assert.Equal(t, image.Rect(10, 10, 12, 12), blobs[0].Rect)
}

func TestDetectEmpty(t *testing.T) {
	_, err := NewContrastDetector().Detect(image.NewRGBA(image.Rectangle{}))
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, ok := Nearest(nil, image.Point{})
	assert.False(t, ok)
}
