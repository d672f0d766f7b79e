package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/pupilstim/internal/biosignal"
	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/display"
	"github.com/ivlev/pupilstim/internal/follower"
	"github.com/ivlev/pupilstim/internal/marker"
	"github.com/ivlev/pupilstim/internal/motion"
	"github.com/ivlev/pupilstim/internal/protocol"
	"github.com/ivlev/pupilstim/internal/stream"
)

// Experiment is one recording session: the sequencer presenting the plan
// and the sampler publishing pupil data alongside it.
type Experiment struct {
	Runtime    config.Runtime
	Plan       *protocol.Plan
	Display    display.Display
	Frames     motion.FrameProvider
	Instrument biosignal.Instrument
	Events     stream.Outlet
	Pupil      stream.Outlet
	Clock      clock.Clock
	Logger     *zap.Logger

	// OnFinish is passed through to the sequencer.
	OnFinish func(RunState)

	markers *marker.Emitter
}

// Result summarizes a session.
type Result struct {
	State          RunState
	Markers        []marker.Marker
	Phases         int
	Samples        int64
	Invalid        int64
	MaxStopLatency time.Duration
	Elapsed        time.Duration // nominal
	Wall           time.Duration
}

func NewExperiment(rt config.Runtime, plan *protocol.Plan, d display.Display, frames motion.FrameProvider, inst biosignal.Instrument, events, pupil stream.Outlet, c clock.Clock, log *zap.Logger) *Experiment {
	return &Experiment{
		Runtime:    rt,
		Plan:       plan,
		Display:    d,
		Frames:     frames,
		Instrument: inst,
		Events:     events,
		Pupil:      pupil,
		Clock:      c,
		Logger:     log,
	}
}

func (e *Experiment) check() error {
	switch {
	case e.Instrument == nil:
		return fmt.Errorf("%w: no pupil instrument", ErrCollaboratorUnavailable)
	case e.Events == nil:
		return fmt.Errorf("%w: no event stream", ErrCollaboratorUnavailable)
	case e.Pupil == nil:
		return fmt.Errorf("%w: no pupil stream", ErrCollaboratorUnavailable)
	case e.Clock == nil:
		return fmt.Errorf("%w: no clock", ErrCollaboratorUnavailable)
	}
	if info := e.Events.Info(); info.Format != stream.FormatString || info.Channels != 1 {
		return fmt.Errorf("%w: event stream %s must carry one string channel", ErrCollaboratorUnavailable, info.Name)
	}
	if info := e.Pupil.Info(); info.Format == stream.FormatString || info.Channels != 2 {
		return fmt.Errorf("%w: pupil stream %s must carry two numeric channels", ErrCollaboratorUnavailable, info.Name)
	}
	if err := e.Runtime.Validate(); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrConfiguration, err)
	}
	return nil
}

// Run executes the session and blocks until it completes or aborts. The
// sampler starts before the first phase and stops after the last marker.
func (e *Experiment) Run(ctx context.Context) (*Result, error) {
	log := e.Logger
	if log == nil {
		log = zap.NewNop()
	}
	wallStart := time.Now()

	if err := e.check(); err != nil {
		log.Error("cannot start session", zap.Error(err))
		res := &Result{State: RunState{Status: Aborted, Phase: -1, Err: err}}
		if e.OnFinish != nil {
			e.OnFinish(res.State)
		}
		return res, err
	}

	e.markers = marker.NewEmitter(e.Events, log.Named("markers"))
	tick := time.Duration(float64(time.Second) / e.Runtime.FrameRate)
	fol := follower.New(e.Display, e.Frames, e.Clock, tick, log.Named("follower"))
	seq := NewSequencer(SequencerConfig{
		Plan:     e.Plan,
		Display:  e.Display,
		Frames:   e.Frames,
		Follower: fol,
		Markers:  e.markers,
		Clock:    e.Clock,
		Logger:   log.Named("sequencer"),
		OnFinish: e.OnFinish,
	})
	sampler := biosignal.NewSampler(e.Instrument, e.Pupil, e.Clock, e.Runtime.SampleRate,
		biosignal.WithLogger(log.Named("sampler")))

	start := e.Clock.Now()
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return sampler.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		return seq.Run(gctx)
	})
	err := g.Wait()

	st := sampler.Stats()
	res := &Result{
		State:          seq.State(),
		Markers:        e.markers.Markers(),
		Phases:         seq.PhasesRun(),
		Samples:        st.Ticks,
		Invalid:        st.Invalid,
		MaxStopLatency: seq.MaxStopLatency(),
		Elapsed:        e.Clock.Now() - start,
		Wall:           time.Since(wallStart),
	}
	// the sequencer's classified error wins over the raw cause
	if res.State.Err != nil {
		err = res.State.Err
	}
	return res, err
}

// Markers exposes the emitter of the last Run, e.g. to save its log.
func (e *Experiment) Markers() *marker.Emitter {
	return e.markers
}

// Report prints the run summary.
func (r *Result) Report(w io.Writer) {
	fmt.Fprintf(w,
		"--- [RUN REPORT] ---\n"+
			"Status: %s\n"+
			"Phases: %d\n"+
			"Markers: %d\n"+
			"Pupil samples: %d (invalid values: %d)\n"+
			"Max follower stop latency: %s\n"+
			"Nominal time: %.2fs | Wall time: %.2fs\n"+
			"--------------------\n",
		r.State.Status, r.Phases, len(r.Markers), r.Samples, r.Invalid,
		r.MaxStopLatency, r.Elapsed.Seconds(), r.Wall.Seconds(),
	)
	if r.State.Err != nil {
		fmt.Fprintf(w, "[!] %v\n", r.State.Err)
	}
}
