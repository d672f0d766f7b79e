package follower

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/display"
	"github.com/ivlev/pupilstim/internal/geom"
	"github.com/ivlev/pupilstim/internal/motion"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const tick = 2 * time.Millisecond

func setup(t *testing.T) (*Follower, *display.Canvas, *motion.Static) {
	t.Helper()
	canvas := display.NewCanvas(config.CanvasConfig{Width: 100, Height: 100, Focal: 100}, config.SpaceWorld)
	frames := motion.NewStatic(geom.Pose{Rotation: geom.Identity()})
	return New(canvas, frames, clock.Real(), tick, nil), canvas, frames
}

func positionOf(c *display.Canvas, label string) geom.Vec3 {
	for _, s := range c.Visible() {
		if s.Label == label {
			return s.Position
		}
	}
	return geom.Vec3{}
}

func TestFollowsReferenceFrame(t *testing.T) {
	f, canvas, frames := setup(t)
	h, err := canvas.Show(display.Stimulus{Label: "Red", Layer: display.LayerStimulus})
	require.NoError(t, err)

	task, err := f.Start(context.Background(), h, geom.V(0, 0, 2))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return positionOf(canvas, "Red") == geom.V(0, 0, 2)
	}, time.Second, tick)

	frames.Set(geom.Pose{Position: geom.V(1, 1.6, 0), Rotation: geom.Euler(90, 0, 0)})
	require.Eventually(t, func() bool {
		p := positionOf(canvas, "Red")
		return p.Sub(geom.V(3, 1.6, 0)).Len() < 1e-9
	}, time.Second, tick)

	require.NoError(t, task.Stop())
	assert.Greater(t, task.Updates(), int64(1))
	assert.Greater(t, task.StopLatency(), time.Duration(0))
}

func TestStopIsBlockingAndFinal(t *testing.T) {
	f, canvas, _ := setup(t)
	h, err := canvas.Show(display.Stimulus{Label: "Red", Layer: display.LayerStimulus})
	require.NoError(t, err)

	task, err := f.Start(context.Background(), h, geom.V(0, 0, 2))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return task.Updates() > 2 }, time.Second, tick)

	require.NoError(t, task.Stop())
	select {
	case <-task.Done():
	default:
		t.Fatal("Stop returned before the task exited")
	}
	assert.Zero(t, f.Active())

	// the handle is the sequencer's again: hiding it cannot race a late update
	moves := canvas.Stats().Moves
	require.NoError(t, canvas.Hide(h))
	time.Sleep(10 * tick)
	assert.Equal(t, moves, canvas.Stats().Moves)
	assert.NoError(t, task.Stop(), "second Stop is a no-op")
}

func TestHandleOwnership(t *testing.T) {
	f, canvas, _ := setup(t)
	h, err := canvas.Show(display.Stimulus{Label: "Red", Layer: display.LayerStimulus})
	require.NoError(t, err)

	first, err := f.Start(context.Background(), h, geom.V(0, 0, 2))
	require.NoError(t, err)

	_, err = f.Start(context.Background(), h, geom.V(0, 0, 3))
	assert.ErrorIs(t, err, ErrHandleBusy)
	assert.Equal(t, 1, f.Active())

	require.NoError(t, first.Stop())
	second, err := f.Start(context.Background(), h, geom.V(0, 0, 3))
	require.NoError(t, err)
	require.NoError(t, second.Stop())
}

func TestCollaboratorFailureEndsTask(t *testing.T) {
	f, canvas, _ := setup(t)
	h, err := canvas.Show(display.Stimulus{Label: "Red", Layer: display.LayerStimulus})
	require.NoError(t, err)

	task, err := f.Start(context.Background(), h, geom.V(0, 0, 2))
	require.NoError(t, err)
	canvas.Break(errors.New("tracking lost"))

	select {
	case <-task.Failed():
	case <-time.After(time.Second):
		t.Fatal("follower kept running on a broken display")
	}
	<-task.Done()
	assert.ErrorIs(t, task.Err(), display.ErrUnavailable)
	assert.ErrorIs(t, task.Stop(), display.ErrUnavailable)
	assert.Zero(t, f.Active())
}

func TestFrameProviderFailure(t *testing.T) {
	canvas := display.NewCanvas(config.CanvasConfig{Width: 100, Height: 100, Focal: 100}, config.SpaceWorld)
	f := New(canvas, motion.NewTrajectory(clock.Real(), nil), clock.Real(), tick, nil)
	h, err := canvas.Show(display.Stimulus{Label: "Red"})
	require.NoError(t, err)

	task, err := f.Start(context.Background(), h, geom.V(0, 0, 2))
	require.NoError(t, err)
	<-task.Done()
	assert.ErrorIs(t, task.Err(), motion.ErrNoFrame)
}

func TestParentContextCancel(t *testing.T) {
	f, canvas, _ := setup(t)
	h, err := canvas.Show(display.Stimulus{Label: "Red"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	task, err := f.Start(ctx, h, geom.V(0, 0, 2))
	require.NoError(t, err)

	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("follower ignored context cancellation")
	}
	assert.NoError(t, task.Err())
	assert.Zero(t, f.Active())
}
