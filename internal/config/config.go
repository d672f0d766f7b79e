package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/geom"
)

// Config is the full description of a stimulation session.
type Config struct {
	Protocol Protocol `yaml:"protocol"`
	Runtime  Runtime  `yaml:"runtime"`
}

// Protocol holds everything the sequence plan is built from.
type Protocol struct {
	Space        string           `yaml:"space"`   // world | screen
	LeadIn       float64          `yaml:"lead_in"` // seconds before the first phase
	Locations    []geom.Vec3      `yaml:"locations"`
	Chromatic    ChromaticBlock   `yaml:"chromatic"`
	LongDuration LongBlock        `yaml:"long_duration"`
	Background   *AmbientStimulus `yaml:"background,omitempty"`
	Fixation     *FixationLight   `yaml:"fixation,omitempty"`
}

// ChromaticBlock is the short red/blue flash block.
type ChromaticBlock struct {
	Order    string     `yaml:"order"` // by_pass | by_location
	Repeats  int        `yaml:"repeats"`
	Duration float64    `yaml:"duration"`
	Interval float64    `yaml:"interval"`
	Passes   []Stimulus `yaml:"passes"`
	// Locations overrides Protocol.Locations for this block when set.
	Locations []geom.Vec3 `yaml:"locations,omitempty"`
}

// LongBlock is the long-duration (melanopsin) block.
type LongBlock struct {
	Stimulus   `yaml:",inline"`
	Repeats    int              `yaml:"repeats"`
	Duration   float64          `yaml:"duration"`
	Interval   float64          `yaml:"interval"`
	Locations  []geom.Vec3      `yaml:"locations,omitempty"`
	Background *AdaptationField `yaml:"background,omitempty"`
}

// Stimulus describes how a single flash looks.
type Stimulus struct {
	Label     string    `yaml:"label"`
	Color     ColorSpec `yaml:"color"`
	Luminance float64   `yaml:"luminance"`
	Size      float64   `yaml:"size"`
}

// ColorSpec is either an explicit RGB triple or a wavelength in nanometres.
type ColorSpec struct {
	RGB        []float64 `yaml:"rgb,omitempty"`
	Wavelength float64   `yaml:"wavelength,omitempty"`
}

// AmbientStimulus is a layer that stays visible for the whole run.
type AmbientStimulus struct {
	Color     ColorSpec `yaml:"color"`
	Luminance float64   `yaml:"luminance"`
}

// AdaptationField switches the background before a block and holds it for Adaptation seconds.
type AdaptationField struct {
	AmbientStimulus `yaml:",inline"`
	Adaptation      float64 `yaml:"adaptation"`
}

// FixationLight is kept straight ahead of the viewer at Distance.
type FixationLight struct {
	Color     ColorSpec `yaml:"color"`
	Luminance float64   `yaml:"luminance"`
	Size      float64   `yaml:"size"`
	Distance  float64   `yaml:"distance"`
}

// Runtime holds parameters of the run itself; none of them change the plan.
type Runtime struct {
	FrameRate  float64       `yaml:"frame_rate"`  // follower ticks per second
	SampleRate float64       `yaml:"sample_rate"` // biosignal samples per second
	TimeScale  float64       `yaml:"time_scale"`  // >1 compresses nominal time
	OutputDir  string        `yaml:"output_dir"`
	PlanDir    string        `yaml:"plan_dir"`
	Canvas     CanvasConfig  `yaml:"canvas"`
	HeadMotion []HeadKey     `yaml:"head_motion,omitempty"`
	Pupil      PupilSimulate `yaml:"pupil"`
}

type CanvasConfig struct {
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	Focal  float64 `yaml:"focal"` // pixels per world unit at distance 1
}

// HeadKey is one keyframe of a simulated head trajectory.
type HeadKey struct {
	Time     float64   `yaml:"time"`
	Position geom.Vec3 `yaml:"position"`
	Yaw      float64   `yaml:"yaw"`
	Pitch    float64   `yaml:"pitch"`
	Roll     float64   `yaml:"roll"`
}

// PupilSimulate drives the simulated pupillometer used for dry runs.
type PupilSimulate struct {
	Baseline  float64 `yaml:"baseline"`  // mm
	Amplitude float64 `yaml:"amplitude"` // mm
	Period    float64 `yaml:"period"`    // seconds
	Dropout   float64 `yaml:"dropout"`   // probability of an invalid reading
	Seed      int64   `yaml:"seed"`
}

// Load reads a YAML config on top of Default(), so partial files are valid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks runtime parameters. Protocol parameters are validated by protocol.Build.
func (r Runtime) Validate() error {
	if !validRate(r.FrameRate) {
		return fmt.Errorf("frame_rate must be positive and finite, got %v", r.FrameRate)
	}
	if !validRate(r.SampleRate) {
		return fmt.Errorf("sample_rate must be positive and finite, got %v", r.SampleRate)
	}
	if !(r.TimeScale >= 0) || math.IsInf(r.TimeScale, 1) {
		return fmt.Errorf("time_scale must be >= 0 and finite, got %v", r.TimeScale)
	}
	if r.Canvas.Width <= 0 || r.Canvas.Height <= 0 {
		return fmt.Errorf("canvas size must be positive, got %dx%d", r.Canvas.Width, r.Canvas.Height)
	}
	for i := 1; i < len(r.HeadMotion); i++ {
		if !(r.HeadMotion[i].Time >= r.HeadMotion[i-1].Time) {
			return fmt.Errorf("head_motion keyframe %d goes back in time", i)
		}
	}
	return nil
}

// validRate accepts a tick rate whose period fits a Duration. NaN fails.
func validRate(hz float64) bool {
	return hz > 0 && !math.IsInf(hz, 1) && clock.ValidSpan(1/hz)
}
