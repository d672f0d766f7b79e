package protocol

import (
	"fmt"
	"math"
	"time"

	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/colorimetry"
	"github.com/ivlev/pupilstim/internal/geom"
)

// Kind classifies a phase
type Kind int

const (
	Chromatic Kind = iota
	LongDuration
	Background
	Fixation
)

var kindNames = map[Kind]string{
	Chromatic:    "chromatic",
	LongDuration: "long_duration",
	Background:   "background",
	Fixation:     "fixation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalYAML() (interface{}, error) {
	return k.String(), nil
}

func (k *Kind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown phase kind %q", s)
}

// Shape returns the display shape a kind is rendered with.
func (k Kind) Shape() string {
	switch k {
	case Background:
		return "field"
	default:
		return "disc"
	}
}

// Phase is one timed stimulus presentation step.
type Phase struct {
	Index     int             `yaml:"index"`
	Kind      Kind            `yaml:"kind"`
	Label     string          `yaml:"label"`
	Pass      int             `yaml:"pass"`
	Color     colorimetry.RGB `yaml:"color"`
	Luminance float64         `yaml:"luminance"`
	Location  geom.Vec3       `yaml:"location"`
	Size      float64         `yaml:"size"`
	Duration  float64         `yaml:"duration"` // seconds visible
	Interval  float64         `yaml:"interval"` // seconds of silence after hiding
}

// DurationD returns the visible time as a time.Duration
func (p Phase) DurationD() time.Duration {
	return clock.Seconds(p.Duration)
}

// IntervalD returns the post-hide silence as a time.Duration
func (p Phase) IntervalD() time.Duration {
	return clock.Seconds(p.Interval)
}

// Visible returns the colour after luminance scaling.
func (p Phase) Visible() colorimetry.RGB {
	return colorimetry.Scale(p.Color, p.Luminance)
}

// Overlapping reports whether the phase counts toward the one-visible-stimulus rule.
func (p Phase) Overlapping() bool {
	return p.Kind != Background
}

// Validate checks the timing and appearance constraints of a single phase.
func (p Phase) Validate() error {
	// comparisons are written so that NaN fails them
	if !(p.Duration > 0) || !clock.ValidSpan(p.Duration) {
		return fmt.Errorf("%w: phase %d (%s) duration must be > 0 and finite, got %v", ErrConfiguration, p.Index, p.Label, p.Duration)
	}
	if !clock.ValidSpan(p.Interval) {
		return fmt.Errorf("%w: phase %d (%s) interval must be >= 0 and finite, got %v", ErrConfiguration, p.Index, p.Label, p.Interval)
	}
	if !(p.Luminance > 0) || math.IsInf(p.Luminance, 1) {
		return fmt.Errorf("%w: phase %d (%s) luminance must be > 0, got %v", ErrConfiguration, p.Index, p.Label, p.Luminance)
	}
	if err := checkColor(p.Color); err != nil {
		return fmt.Errorf("%w: phase %d (%s): %v", ErrConfiguration, p.Index, p.Label, err)
	}
	if p.Kind != Background && (!(p.Size > 0) || math.IsInf(p.Size, 1)) {
		return fmt.Errorf("%w: phase %d (%s) size must be > 0, got %v", ErrConfiguration, p.Index, p.Label, p.Size)
	}
	return nil
}

// StartText is the marker published when the phase becomes visible.
func (p Phase) StartText() string {
	switch p.Kind {
	case LongDuration:
		return fmt.Sprintf("Start %s Stimulation in %s for %s seconds.", p.Label, p.Location, seconds(p.Duration))
	case Background:
		return fmt.Sprintf("Start background adaptation to %s x%s for %s seconds.", p.Color, seconds(p.Luminance), seconds(p.Duration))
	default:
		return fmt.Sprintf("Start %s sphere for %s seconds in %s.", p.Label, seconds(p.Duration), p.Location)
	}
}

// StopText is the marker published when the phase is hidden.
func (p Phase) StopText() string {
	switch p.Kind {
	case LongDuration:
		return fmt.Sprintf("Stop %s Stimulation in %s.", p.Label, p.Location)
	case Background:
		return "Stop background adaptation."
	default:
		return fmt.Sprintf("Stop %s sphere in %s.", p.Label, p.Location)
	}
}

func seconds(v float64) string {
	return fmt.Sprintf("%g", v)
}

// checkColor rejects channels that are negative or not finite.
func checkColor(c colorimetry.RGB) error {
	for _, v := range []float64{c.R, c.G, c.B} {
		if !(v >= 0) || math.IsInf(v, 1) {
			return fmt.Errorf("colour %s has an invalid channel", c)
		}
	}
	return nil
}
