package display

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pupilstim/internal/colorimetry"
	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/geom"
	"github.com/ivlev/pupilstim/internal/motion"
)

func screenCanvas() *Canvas {
	return NewCanvas(config.CanvasConfig{Width: 200, Height: 100, Focal: 100}, config.SpaceScreen)
}

func TestCanvasShowHide(t *testing.T) {
	c := screenCanvas()
	require.NoError(t, Probe(c))

	bg, err := c.Show(Stimulus{Label: "bg", Shape: ShapeField, Color: colorimetry.White, Luminance: 0.04, Layer: LayerBackground})
	require.NoError(t, err)
	red, err := c.Show(Stimulus{Label: "Red", Shape: ShapeDisc, Color: colorimetry.Red, Luminance: 1, Size: 10, Layer: LayerStimulus})
	require.NoError(t, err)
	assert.NotEqual(t, bg, red)

	require.NoError(t, c.SetPosition(red, geom.V(20, 0, 0)))
	visible := c.Visible()
	require.Len(t, visible, 2)
	assert.Equal(t, "bg", visible[0].Label)
	assert.Equal(t, geom.V(20, 0, 0), visible[1].Position)

	require.NoError(t, c.Hide(red))
	assert.ErrorIs(t, c.Hide(red), ErrUnknownHandle)
	assert.ErrorIs(t, c.SetPosition(red, geom.V(0, 0, 0)), ErrUnknownHandle)

	stats := c.Stats()
	assert.Equal(t, Stats{Shown: 2, Hidden: 1, Moves: 1, Visible: 0, MaxVisible: 1}, stats)

	events := c.Events()
	require.Len(t, events, 3)
	assert.Equal(t, OpShow, events[1].Op)
	assert.Equal(t, OpHide, events[2].Op)
	assert.Equal(t, "Red", events[2].Label)
}

func TestCanvasBreak(t *testing.T) {
	c := screenCanvas()
	h, err := c.Show(Stimulus{Label: "Red", Layer: LayerStimulus})
	require.NoError(t, err)

	c.Break(errors.New("headset unplugged"))
	assert.ErrorIs(t, c.Ready(), ErrUnavailable)
	_, err = c.Show(Stimulus{Label: "Blue"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, c.SetPosition(h, geom.V(1, 1, 0)), ErrUnavailable)
	assert.NoError(t, c.Hide(h))

	c.Break(nil)
	assert.NoError(t, c.Ready())
}

func TestCanvasSnapshot(t *testing.T) {
	c := screenCanvas()
	_, err := c.Show(Stimulus{Shape: ShapeDisc, Color: colorimetry.Red, Luminance: 1, Position: geom.V(-50, 0, 0), Size: 20, Layer: LayerStimulus})
	require.NoError(t, err)

	img := c.Snapshot()
	defer c.Release(img)

	assert.Equal(t, image.Rect(0, 0, 200, 100), img.Bounds())
	r, g, b, _ := img.At(50, 50).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Zero(t, g)
	assert.Zero(t, b)

	r, _, _, _ = img.At(150, 50).RGBA()
	assert.Zero(t, r)

	thumb := Thumbnail(img, 50)
	assert.Equal(t, image.Rect(0, 0, 50, 25), thumb.Bounds())
}

func TestCanvasWorldProjection(t *testing.T) {
	view := motion.NewStatic(geom.Pose{Rotation: geom.Identity()})
	c := NewCanvas(config.CanvasConfig{Width: 200, Height: 100, Focal: 100}, config.SpaceWorld, WithViewpoint(view))

	pose, err := view.Current()
	require.NoError(t, err)

	p, r, ok := c.Project(geom.V(0.5, 0, 2), 0.2, pose)
	require.True(t, ok)
	assert.Equal(t, image.Pt(125, 50), p)
	assert.Equal(t, 5, r)

	_, _, ok = c.Project(geom.V(0, 0, -1), 0.2, pose)
	assert.False(t, ok, "behind the viewer")

	// a stimulus anchored to a turned head stays in the middle of the view
	turned := geom.Pose{Rotation: geom.Euler(90, 0, 0)}
	p, _, ok = c.Project(turned.Anchor(geom.V(0, 0, 2)), 0.2, turned)
	require.True(t, ok)
	assert.Equal(t, image.Pt(100, 50), p)
}
