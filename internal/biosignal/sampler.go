// Package biosignal samples the pupillometer on its own fixed cadence and
// publishes two-channel (left, right) samples to a stream outlet.
package biosignal

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/stream"
)

// Invalid is published in place of a missing or invalid reading.
const Invalid = -1.0

type Eye int

const (
	Left Eye = iota
	Right
)

func (e Eye) String() string {
	if e == Right {
		return "right"
	}
	return "left"
}

// Reading is one instrument value; Valid is false when the eye was not tracked.
type Reading struct {
	Value float64
	Valid bool
}

// Instrument reports pupil size per eye.
type Instrument interface {
	Read(eye Eye) (Reading, error)
}

// InstrumentFunc adapts a function to Instrument.
type InstrumentFunc func(eye Eye) (Reading, error)

func (f InstrumentFunc) Read(eye Eye) (Reading, error) {
	return f(eye)
}

type Stats struct {
	Ticks   int64
	Invalid int64 // channel values replaced by the sentinel
}

// Sampler reads both eyes every period and publishes [left, right].
type Sampler struct {
	inst   Instrument
	out    stream.Outlet
	clock  clock.Clock
	period time.Duration
	scale  float64
	log    *zap.Logger

	ticks   atomic.Int64
	invalid atomic.Int64
}

type Option func(*Sampler)

// WithScale multiplies valid readings, e.g. 1000 for metres to millimetres.
func WithScale(scale float64) Option {
	return func(s *Sampler) { s.scale = scale }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sampler) { s.log = l }
}

// NewSampler creates a sampler running at rate samples per nominal second.
func NewSampler(inst Instrument, out stream.Outlet, c clock.Clock, rate float64, opts ...Option) *Sampler {
	s := &Sampler{
		inst:   inst,
		out:    out,
		clock:  c,
		period: time.Duration(float64(time.Second) / rate),
		scale:  1,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick takes and publishes one sample. Only publish failures are returned.
func (s *Sampler) Tick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ts := s.clock.Now()
	values := []float64{s.read(Left), s.read(Right)}
	if err := s.out.PublishNumeric(ts, values); err != nil {
		return fmt.Errorf("publish pupil sample: %w", err)
	}
	s.ticks.Add(1)
	return nil
}

func (s *Sampler) read(eye Eye) float64 {
	r, err := s.inst.Read(eye)
	if err != nil {
		s.invalid.Add(1)
		s.log.Debug("instrument read failed", zap.Stringer("eye", eye), zap.Error(err))
		return Invalid
	}
	if !r.Valid {
		s.invalid.Add(1)
		return Invalid
	}
	return r.Value * s.scale
}

// Run ticks until ctx is cancelled. It returns nil on cancellation and the
// publish error otherwise.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.period)
	defer ticker.Stop()

	s.log.Debug("sampler started", zap.Duration("period", s.period))
	defer func() {
		st := s.Stats()
		s.log.Debug("sampler stopped", zap.Int64("ticks", st.Ticks), zap.Int64("invalid", st.Invalid))
	}()

	for {
		if err := s.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sampler) Stats() Stats {
	return Stats{Ticks: s.ticks.Load(), Invalid: s.invalid.Load()}
}

// Period is the nominal time between samples.
func (s *Sampler) Period() time.Duration {
	return s.period
}
