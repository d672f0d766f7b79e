package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/display"
	"github.com/ivlev/pupilstim/internal/follower"
	"github.com/ivlev/pupilstim/internal/marker"
	"github.com/ivlev/pupilstim/internal/motion"
	"github.com/ivlev/pupilstim/internal/protocol"
)

var (
	// ErrCollaboratorUnavailable aborts a run before the first phase.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrRuntimeAbort ends a run that was already presenting.
	ErrRuntimeAbort = errors.New("run aborted")
	// ErrAlreadyStarted is returned by a second call to Run.
	ErrAlreadyStarted = errors.New("sequencer already started")
)

type Status int

const (
	NotStarted Status = iota
	Running
	Completed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "not started"
	}
}

// RunState is a snapshot of the sequencer's progress.
type RunState struct {
	Status     Status
	Phase      int           // current or last phase, -1 before the first
	PhaseStart time.Duration // when that phase was shown
	Err        error
}

// SequencerConfig wires the collaborators of a Sequencer.
type SequencerConfig struct {
	Plan     *protocol.Plan
	Display  display.Display
	Frames   motion.FrameProvider
	Follower *follower.Follower
	Markers  *marker.Emitter
	Clock    clock.Clock
	Logger   *zap.Logger
	// OnFinish is called once with the final state, after Done is closed.
	OnFinish func(RunState)
}

// presentation pairs a shown handle with the follow task that owns it
type presentation struct {
	phase  protocol.Phase
	handle display.Handle
	task   *follower.Task
}

// Sequencer drives a Plan through time: one phase after the other, each
// shown, followed, marked, hidden and marked again.
type Sequencer struct {
	plan     *protocol.Plan
	display  display.Display
	frames   motion.FrameProvider
	follower *follower.Follower
	markers  *marker.Emitter
	clock    clock.Clock
	log      *zap.Logger
	onFinish func(RunState)

	started atomic.Bool
	done    chan struct{}

	mu             sync.Mutex
	state          RunState
	phasesRun      int
	maxStopLatency time.Duration

	// owned by the Run goroutine
	active     *presentation
	fixation   *presentation
	background display.Handle
	hasBg      bool
	intended   time.Duration
}

func NewSequencer(cfg SequencerConfig) *Sequencer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Sequencer{
		plan:     cfg.Plan,
		display:  cfg.Display,
		frames:   cfg.Frames,
		follower: cfg.Follower,
		markers:  cfg.Markers,
		clock:    cfg.Clock,
		log:      log,
		onFinish: cfg.OnFinish,
		done:     make(chan struct{}),
		state:    RunState{Status: NotStarted, Phase: -1},
	}
}

// State returns the current run state.
func (s *Sequencer) State() RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the run has completed or aborted.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// PhasesRun counts phases that were shown.
func (s *Sequencer) PhasesRun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phasesRun
}

// MaxStopLatency is the longest wait for a follower to acknowledge Stop.
func (s *Sequencer) MaxStopLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxStopLatency
}

// Run presents the whole plan. It returns nil once the plan is exhausted,
// an ErrCollaboratorUnavailable error when it cannot start, and an
// ErrRuntimeAbort error when it had to stop mid-run. Run never leaves a
// stimulus visible or a follower running behind.
func (s *Sequencer) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer func() { s.finish(err) }()

	if err := s.checkCollaborators(); err != nil {
		s.log.Error("cannot start run", zap.Error(err))
		return err
	}

	s.setStatus(Running)
	start := s.clock.Now()
	s.log.Info("run started",
		zap.Int("phases", s.plan.Len()),
		zap.String("space", s.plan.Space()),
		zap.Duration("total", s.plan.TotalDuration()))

	if err := s.showAmbient(ctx); err != nil {
		return s.abort(err)
	}

	s.intended = start + s.plan.LeadIn()
	if err := s.wait(ctx, s.intended); err != nil {
		return s.abort(err)
	}

	for _, ph := range s.plan.Phases() {
		var err error
		if ph.Kind == protocol.Background {
			err = s.runAdaptation(ctx, ph)
		} else {
			err = s.runPhase(ctx, ph)
		}
		if err != nil {
			return s.abort(err)
		}
	}

	if err := s.hideAmbient(); err != nil {
		return s.abort(err)
	}
	s.log.Info("run completed", zap.Duration("elapsed", s.clock.Now()-start))
	return nil
}

func (s *Sequencer) checkCollaborators() error {
	switch {
	case s.plan == nil || s.plan.Len() == 0:
		return fmt.Errorf("%w: empty plan", ErrCollaboratorUnavailable)
	case s.clock == nil:
		return fmt.Errorf("%w: no clock", ErrCollaboratorUnavailable)
	case s.frames == nil:
		return fmt.Errorf("%w: no reference frame provider", ErrCollaboratorUnavailable)
	case s.follower == nil:
		return fmt.Errorf("%w: no position follower", ErrCollaboratorUnavailable)
	case s.markers == nil:
		return fmt.Errorf("%w: no marker stream", ErrCollaboratorUnavailable)
	}
	if err := display.Probe(s.display); err != nil {
		return fmt.Errorf("%w: display: %w", ErrCollaboratorUnavailable, err)
	}
	if _, err := s.frames.Current(); err != nil {
		return fmt.Errorf("%w: reference frame: %w", ErrCollaboratorUnavailable, err)
	}
	return nil
}

func (s *Sequencer) runPhase(ctx context.Context, ph protocol.Phase) error {
	log := s.log.With(zap.Int("phase", ph.Index), zap.String("label", ph.Label))

	pose, err := s.frames.Current()
	if err != nil {
		return fmt.Errorf("reference frame: %w", err)
	}
	h, err := s.display.Show(display.Stimulus{
		Label:     ph.Label,
		Shape:     ph.Kind.Shape(),
		Color:     ph.Color,
		Luminance: ph.Luminance,
		Position:  pose.Anchor(ph.Location),
		Size:      ph.Size,
		Layer:     display.LayerStimulus,
	})
	if err != nil {
		return fmt.Errorf("show %s: %w", ph.Label, err)
	}
	shownAt := s.clock.Now()
	s.active = &presentation{phase: ph, handle: h}
	s.enterPhase(ph.Index, shownAt)

	if _, err := s.markers.Emit(marker.Start, ph.Index, s.intended, shownAt, ph.StartText()); err != nil {
		return err
	}
	log.Debug("phase shown", zap.Duration("at", shownAt))

	task, err := s.follower.Start(ctx, h, ph.Location)
	if err != nil {
		return fmt.Errorf("follow %s: %w", ph.Label, err)
	}
	s.active.task = task

	s.intended = shownAt + ph.DurationD()
	if err := s.wait(ctx, s.intended); err != nil {
		return err
	}

	hiddenAt, err := s.release()
	if err != nil {
		return err
	}
	if _, err := s.markers.Emit(marker.Stop, ph.Index, s.intended, hiddenAt, ph.StopText()); err != nil {
		return err
	}
	log.Debug("phase hidden", zap.Duration("at", hiddenAt), zap.Duration("visible", hiddenAt-shownAt))

	s.intended = hiddenAt + ph.IntervalD()
	return s.wait(ctx, s.intended)
}

// runAdaptation swaps the background layer and holds it for the phase
// duration. The new background stays up after the phase.
func (s *Sequencer) runAdaptation(ctx context.Context, ph protocol.Phase) error {
	h, err := s.display.Show(display.Stimulus{
		Label:     ph.Label,
		Shape:     ph.Kind.Shape(),
		Color:     ph.Color,
		Luminance: ph.Luminance,
		Layer:     display.LayerBackground,
	})
	if err != nil {
		return fmt.Errorf("show background %s: %w", ph.Label, err)
	}
	shownAt := s.clock.Now()
	s.enterPhase(ph.Index, shownAt)

	old, hadOld := s.background, s.hasBg
	s.background, s.hasBg = h, true
	if hadOld {
		if err := s.display.Hide(old); err != nil {
			return fmt.Errorf("hide previous background: %w", err)
		}
	}

	if _, err := s.markers.Emit(marker.Start, ph.Index, s.intended, shownAt, ph.StartText()); err != nil {
		return err
	}
	s.intended = shownAt + ph.DurationD()
	if err := s.wait(ctx, s.intended); err != nil {
		return err
	}

	endAt := s.clock.Now()
	if _, err := s.markers.Emit(marker.Stop, ph.Index, s.intended, endAt, ph.StopText()); err != nil {
		return err
	}
	s.intended = endAt + ph.IntervalD()
	return s.wait(ctx, s.intended)
}

// release stops the active follower, waiting for it to exit, and only then
// hides its stimulus.
func (s *Sequencer) release() (time.Duration, error) {
	p := s.active
	s.active = nil

	var err error
	if p.task != nil {
		err = p.task.Stop()
		s.noteStop(p.task.StopLatency())
	}
	if hideErr := s.display.Hide(p.handle); hideErr != nil {
		err = multierr.Append(err, fmt.Errorf("hide %s: %w", p.phase.Label, hideErr))
	}
	return s.clock.Now(), err
}

// wait suspends until the nominal deadline. Cancellation and follower
// failures end the wait early.
func (s *Sequencer) wait(ctx context.Context, deadline time.Duration) error {
	timer := s.clock.NewTimer(deadline)
	defer timer.Stop()

	var activeFailed, fixationFailed <-chan struct{}
	if s.active != nil && s.active.task != nil {
		activeFailed = s.active.task.Failed()
	}
	if s.fixation != nil && s.fixation.task != nil {
		fixationFailed = s.fixation.task.Failed()
	}

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-activeFailed:
		return fmt.Errorf("follow %s: %w", s.active.phase.Label, s.active.task.Stop())
	case <-fixationFailed:
		return fmt.Errorf("follow fixation: %w", s.fixation.task.Stop())
	}
}

func (s *Sequencer) showAmbient(ctx context.Context) error {
	if bg, ok := s.plan.Background(); ok {
		h, err := s.display.Show(display.Stimulus{
			Label:     "background",
			Shape:     display.ShapeField,
			Color:     bg.Color,
			Luminance: bg.Luminance,
			Layer:     display.LayerBackground,
		})
		if err != nil {
			return fmt.Errorf("show background: %w", err)
		}
		s.background, s.hasBg = h, true
	}

	if fx, ok := s.plan.Fixation(); ok {
		pose, err := s.frames.Current()
		if err != nil {
			return fmt.Errorf("reference frame: %w", err)
		}
		h, err := s.display.Show(display.Stimulus{
			Label:     "fixation",
			Shape:     display.ShapeDisc,
			Color:     fx.Color,
			Luminance: fx.Luminance,
			Position:  pose.Anchor(fx.Offset),
			Size:      fx.Size,
			Layer:     display.LayerFixation,
		})
		if err != nil {
			return fmt.Errorf("show fixation: %w", err)
		}
		s.fixation = &presentation{phase: protocol.Phase{Index: -1, Kind: protocol.Fixation, Label: "fixation"}, handle: h}

		task, err := s.follower.Start(ctx, h, fx.Offset)
		if err != nil {
			return fmt.Errorf("follow fixation: %w", err)
		}
		s.fixation.task = task
	}
	return nil
}

func (s *Sequencer) hideAmbient() error {
	var err error
	if s.fixation != nil {
		p := s.fixation
		s.fixation = nil
		if p.task != nil {
			err = multierr.Append(err, p.task.Stop())
		}
		err = multierr.Append(err, s.display.Hide(p.handle))
	}
	if s.hasBg {
		s.hasBg = false
		err = multierr.Append(err, s.display.Hide(s.background))
	}
	return err
}

// abort tears everything down and publishes the terminal marker.
func (s *Sequencer) abort(cause error) error {
	if !errors.Is(cause, ErrRuntimeAbort) {
		cause = fmt.Errorf("%w: %w", ErrRuntimeAbort, cause)
	}

	if s.active != nil {
		if _, err := s.release(); err != nil {
			s.log.Warn("release during abort", zap.Error(err))
		}
	}
	if err := s.hideAmbient(); err != nil {
		s.log.Warn("ambient teardown during abort", zap.Error(err))
	}

	now := s.clock.Now()
	if _, err := s.markers.Emit(marker.Terminal, s.State().Phase, now, now, marker.AbortText(cause)); err != nil {
		s.log.Error("terminal marker not published", zap.Error(err))
	}
	s.log.Error("run aborted", zap.Error(cause))
	return cause
}

func (s *Sequencer) setStatus(st Status) {
	s.mu.Lock()
	s.state.Status = st
	s.mu.Unlock()
}

func (s *Sequencer) enterPhase(index int, at time.Duration) {
	s.mu.Lock()
	s.state.Phase = index
	s.state.PhaseStart = at
	s.phasesRun++
	s.mu.Unlock()
}

func (s *Sequencer) noteStop(latency time.Duration) {
	s.mu.Lock()
	if latency > s.maxStopLatency {
		s.maxStopLatency = latency
	}
	s.mu.Unlock()
}

func (s *Sequencer) finish(err error) {
	s.mu.Lock()
	if err != nil {
		s.state.Status = Aborted
		s.state.Err = err
	} else {
		s.state.Status = Completed
	}
	st := s.state
	s.mu.Unlock()

	close(s.done)
	if s.onFinish != nil {
		s.onFinish(st)
	}
}
