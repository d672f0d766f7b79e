package protocol

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/colorimetry"
	"github.com/ivlev/pupilstim/internal/geom"
)

// ErrConfiguration marks invalid plan parameters. It is only ever returned
// while building or loading a plan, never during a run.
var ErrConfiguration = errors.New("configuration error")

// PlanVersion is written into exported plan files
const PlanVersion = "1.0"

// Ambient is a presentation that stays up for the whole run (background field, fixation light).
type Ambient struct {
	Kind      Kind            `yaml:"kind"`
	Color     colorimetry.RGB `yaml:"color"`
	Luminance float64         `yaml:"luminance"`
	Size      float64         `yaml:"size"`
	Offset    geom.Vec3       `yaml:"offset"`
}

// Visible returns the colour after luminance scaling.
func (a Ambient) Visible() colorimetry.RGB {
	return colorimetry.Scale(a.Color, a.Luminance)
}

// Validate checks an ambient layer of the given kind.
func (a Ambient) Validate() error {
	name := a.Kind.String()
	if a.Kind != Background && a.Kind != Fixation {
		return fmt.Errorf("%w: ambient layer cannot be of kind %s", ErrConfiguration, name)
	}
	if !(a.Luminance > 0) || math.IsInf(a.Luminance, 1) {
		return fmt.Errorf("%w: %s luminance must be > 0, got %v", ErrConfiguration, name, a.Luminance)
	}
	if err := checkColor(a.Color); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfiguration, name, err)
	}
	if a.Kind == Fixation {
		if !(a.Size > 0) || math.IsInf(a.Size, 1) {
			return fmt.Errorf("%w: fixation size must be > 0, got %v", ErrConfiguration, a.Size)
		}
		for _, v := range []float64{a.Offset.X, a.Offset.Y} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: fixation offset %s is not finite", ErrConfiguration, a.Offset)
			}
		}
		if !(a.Offset.Z >= 0) || math.IsInf(a.Offset.Z, 1) {
			return fmt.Errorf("%w: fixation distance must be >= 0, got %v", ErrConfiguration, a.Offset.Z)
		}
	}
	return nil
}

// Plan is the ordered, immutable list of phases of a run.
type Plan struct {
	space      string
	leadIn     float64
	background *Ambient
	fixation   *Ambient
	phases     []Phase
}

// Phases returns a copy of the ordered phases.
func (p *Plan) Phases() []Phase {
	out := make([]Phase, len(p.phases))
	copy(out, p.phases)
	return out
}

// Len is the number of phases
func (p *Plan) Len() int {
	return len(p.phases)
}

// Phase returns the i-th phase.
func (p *Plan) Phase(i int) Phase {
	return p.phases[i]
}

func (p *Plan) Space() string {
	return p.space
}

// LeadIn is the wait before the first phase.
func (p *Plan) LeadIn() time.Duration {
	return clock.Seconds(p.leadIn)
}

// Background returns the ambient background layer, if any.
func (p *Plan) Background() (Ambient, bool) {
	if p.background == nil {
		return Ambient{}, false
	}
	return *p.background, true
}

// Fixation returns the ambient fixation light, if any.
func (p *Plan) Fixation() (Ambient, bool) {
	if p.fixation == nil {
		return Ambient{}, false
	}
	return *p.fixation, true
}

// TotalDuration is the nominal length of the run: lead-in plus every phase and interval.
func (p *Plan) TotalDuration() time.Duration {
	total := p.leadIn
	for _, ph := range p.phases {
		total += ph.Duration + ph.Interval
	}
	return clock.Seconds(total)
}

// Count returns how many phases of the given kind the plan holds.
func (p *Plan) Count(kind Kind) int {
	n := 0
	for _, ph := range p.phases {
		if ph.Kind == kind {
			n++
		}
	}
	return n
}

// validate indexes the phases and checks the plan as a whole; both built
// and imported plans go through it.
func (p *Plan) validate() error {
	if !clock.ValidSpan(p.leadIn) {
		return fmt.Errorf("%w: lead_in must be >= 0 and finite, got %v", ErrConfiguration, p.leadIn)
	}
	if len(p.phases) == 0 {
		return fmt.Errorf("%w: plan has no phases", ErrConfiguration)
	}

	total := p.leadIn
	for i := range p.phases {
		p.phases[i].Index = i
		if err := p.phases[i].Validate(); err != nil {
			return err
		}
		total += p.phases[i].Duration + p.phases[i].Interval
	}
	if !clock.ValidSpan(total) {
		return fmt.Errorf("%w: plan runs for %gs, longer than the clock can represent", ErrConfiguration, total)
	}

	if p.background != nil {
		if p.background.Kind != Background {
			return fmt.Errorf("%w: background layer has kind %s", ErrConfiguration, p.background.Kind)
		}
		if err := p.background.Validate(); err != nil {
			return err
		}
	}
	if p.fixation != nil {
		if p.fixation.Kind != Fixation {
			return fmt.Errorf("%w: fixation layer has kind %s", ErrConfiguration, p.fixation.Kind)
		}
		if err := p.fixation.Validate(); err != nil {
			return err
		}
	}
	return nil
}
