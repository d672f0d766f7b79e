// Package follower keeps displayed stimuli anchored to the viewer's moving
// reference frame. Each follow runs as its own Task, bound to exactly one
// display handle; stopping a Task blocks until its goroutine has returned.
package follower

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/display"
	"github.com/ivlev/pupilstim/internal/geom"
	"github.com/ivlev/pupilstim/internal/motion"
)

// ErrHandleBusy is returned when a handle already has a running follower.
var ErrHandleBusy = errors.New("display handle already followed")

// Follower starts follow tasks and tracks which handles they own.
type Follower struct {
	display display.Display
	frames  motion.FrameProvider
	clock   clock.Clock
	tick    time.Duration
	log     *zap.Logger

	mu    sync.Mutex
	owned map[display.Handle]*Task
}

// New creates a follower updating positions every tick of nominal time.
func New(d display.Display, frames motion.FrameProvider, c clock.Clock, tick time.Duration, log *zap.Logger) *Follower {
	if log == nil {
		log = zap.NewNop()
	}
	return &Follower{
		display: d,
		frames:  frames,
		clock:   c,
		tick:    tick,
		log:     log,
		owned:   make(map[display.Handle]*Task),
	}
}

// Task is one running follow. It is only ever stopped through the value
// Start returned.
type Task struct {
	handle display.Handle
	offset geom.Vec3
	cancel context.CancelFunc
	done   chan struct{}
	failed chan struct{}
	err    error

	updates     atomic.Int64
	stopOnce    sync.Once
	stopLatency atomic.Int64
}

// Start binds a new task to h. The stimulus is kept at frame.Anchor(offset)
// until the task is stopped, ctx is cancelled or a collaborator fails.
func (f *Follower) Start(ctx context.Context, h display.Handle, offset geom.Vec3) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, busy := f.owned[h]; busy {
		return nil, fmt.Errorf("%w: %d", ErrHandleBusy, h)
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		handle: h,
		offset: offset,
		cancel: cancel,
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}
	f.owned[h] = t

	go f.run(ctx, t)
	return t, nil
}

// Active is the number of tasks still running.
func (f *Follower) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.owned)
}

func (f *Follower) run(ctx context.Context, t *Task) {
	defer close(t.done)
	defer f.release(t)

	ticker := f.clock.NewTicker(f.tick)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.update(t); err != nil {
			t.err = err
			close(t.failed)
			f.log.Warn("follower failed", zap.Uint64("handle", uint64(t.handle)), zap.Error(err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (f *Follower) update(t *Task) error {
	pose, err := f.frames.Current()
	if err != nil {
		return fmt.Errorf("reference frame: %w", err)
	}
	if err := f.display.SetPosition(t.handle, pose.Anchor(t.offset)); err != nil {
		return fmt.Errorf("set position: %w", err)
	}
	t.updates.Add(1)
	return nil
}

func (f *Follower) release(t *Task) {
	f.mu.Lock()
	if f.owned[t.handle] == t {
		delete(f.owned, t.handle)
	}
	f.mu.Unlock()
	t.cancel()
}

// Stop cancels the task and waits for its goroutine to return. It returns
// the error that ended the task early, if any. Stop is idempotent.
func (t *Task) Stop() error {
	t.stopOnce.Do(func() {
		start := time.Now()
		t.cancel()
		<-t.done
		t.stopLatency.Store(int64(time.Since(start)))
	})
	<-t.done
	return t.err
}

// Done is closed once the task's goroutine has returned.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Failed is closed when the task ended because of a collaborator error.
func (t *Task) Failed() <-chan struct{} {
	return t.failed
}

// Err reports the failure that ended the task; nil while it runs.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

func (t *Task) Handle() display.Handle {
	return t.handle
}

// Updates counts successful position writes.
func (t *Task) Updates() int64 {
	return t.updates.Load()
}

// StopLatency is the wall time Stop waited for the goroutine; zero before Stop.
func (t *Task) StopLatency() time.Duration {
	return time.Duration(t.stopLatency.Load())
}
