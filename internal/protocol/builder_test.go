package protocol

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/geom"
)

func TestBuildReferenceProtocol(t *testing.T) {
	plan, err := Build(config.Default().Protocol)
	require.NoError(t, err)

	// 2 passes x 5 locations + 5 long-duration
	assert.Equal(t, 15, plan.Len())
	assert.Equal(t, 10, plan.Count(Chromatic))
	assert.Equal(t, 5, plan.Count(LongDuration))

	phases := plan.Phases()
	for i := 0; i < 5; i++ {
		assert.Equal(t, "Red", phases[i].Label)
		assert.Equal(t, "Blue", phases[i+5].Label)
		assert.Equal(t, phases[i].Location, phases[i+5].Location)
		assert.Equal(t, "focal blue light", phases[i+10].Label)
	}
	for i, ph := range phases {
		assert.Equal(t, i, ph.Index)
		assert.Greater(t, ph.Duration, 0.0)
		assert.GreaterOrEqual(t, ph.Interval, 0.0)
	}

	fx, ok := plan.Fixation()
	require.True(t, ok)
	assert.Equal(t, geom.V(0, 0, 8.5), fx.Offset)
	_, ok = plan.Background()
	assert.False(t, ok)

	// 30s lead-in + 10 x 3.5s + 5 x 16s
	assert.Equal(t, 145.0, plan.TotalDuration().Seconds())
}

func TestBuildTwoPassScenario(t *testing.T) {
	cfg := config.Default().Protocol
	cfg.LeadIn = 0
	cfg.Locations = []geom.Vec3{geom.V(0, 0, 2)}
	cfg.LongDuration.Repeats = 0

	plan, err := Build(cfg)
	require.NoError(t, err)
	require.Equal(t, 2, plan.Len())

	assert.Equal(t, "Red", plan.Phase(0).Label)
	assert.Equal(t, "Blue", plan.Phase(1).Label)
	assert.Equal(t, 0.5, plan.Phase(0).Duration)
	assert.Equal(t, 3.0, plan.Phase(0).Interval)
}

func TestBuildScreenProtocol(t *testing.T) {
	plan, err := Build(config.ScreenDefault().Protocol)
	require.NoError(t, err)

	// by_location: red, blue at each of 5 locations; then background switch and one melanopsin flash
	require.Equal(t, 12, plan.Len())
	assert.Equal(t, "Red", plan.Phase(0).Label)
	assert.Equal(t, "Blue", plan.Phase(1).Label)
	assert.Equal(t, plan.Phase(0).Location, plan.Phase(1).Location)
	assert.Equal(t, Background, plan.Phase(10).Kind)
	assert.Equal(t, 8.0, plan.Phase(10).Duration)
	assert.Equal(t, LongDuration, plan.Phase(11).Kind)
	assert.False(t, plan.Phase(10).Overlapping())

	_, ok := plan.Background()
	assert.True(t, ok)
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(config.Default().Protocol)
	require.NoError(t, err)
	b, err := Build(config.Default().Protocol)
	require.NoError(t, err)

	if diff := cmp.Diff(a.Phases(), b.Phases()); diff != "" {
		t.Errorf("plans differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEmpty(t, a.Fingerprint())
}

func TestBuildRepeats(t *testing.T) {
	cfg := config.Default().Protocol
	cfg.Chromatic.Repeats = 3
	cfg.LongDuration.Repeats = 2

	plan, err := Build(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3*2*5+2*5, plan.Len())
}

func TestBuildWavelengthColor(t *testing.T) {
	cfg := config.Default().Protocol
	cfg.LongDuration.Color = config.ColorSpec{Wavelength: 480}

	plan, err := Build(cfg)
	require.NoError(t, err)
	long := plan.Phase(10)
	assert.Equal(t, 1.0, long.Color.B)
	assert.Greater(t, long.Color.G, 0.0)
}

func TestBuildRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Protocol)
	}{
		{"empty locations", func(p *config.Protocol) { p.Locations = nil }},
		{"empty block locations", func(p *config.Protocol) { p.Chromatic.Locations = []geom.Vec3{} }},
		{"zero duration", func(p *config.Protocol) { p.Chromatic.Duration = 0 }},
		{"negative duration", func(p *config.Protocol) { p.LongDuration.Duration = -8 }},
		{"negative interval", func(p *config.Protocol) { p.Chromatic.Interval = -0.1 }},
		{"zero luminance", func(p *config.Protocol) { p.Chromatic.Passes[0].Luminance = 0 }},
		{"zero size", func(p *config.Protocol) { p.LongDuration.Size = 0 }},
		{"negative lead-in", func(p *config.Protocol) { p.LeadIn = -1 }},
		{"negative repeats", func(p *config.Protocol) { p.Chromatic.Repeats = -1 }},
		{"no passes", func(p *config.Protocol) { p.Chromatic.Passes = nil }},
		{"bad rgb", func(p *config.Protocol) { p.Chromatic.Passes[1].Color = config.ColorSpec{RGB: []float64{0, 2, 0}} }},
		{"short rgb", func(p *config.Protocol) { p.Chromatic.Passes[1].Color = config.ColorSpec{RGB: []float64{1}} }},
		{"invisible wavelength", func(p *config.Protocol) { p.LongDuration.Color = config.ColorSpec{Wavelength: 1000} }},
		{"unknown order", func(p *config.Protocol) { p.Chromatic.Order = "random" }},
		{"unknown space", func(p *config.Protocol) { p.Space = "holodeck" }},
		{"nothing to run", func(p *config.Protocol) {
			p.Chromatic.Repeats = 0
			p.LongDuration.Repeats = 0
		}},
		{"fixation without size", func(p *config.Protocol) { p.Fixation.Size = 0 }},
		{"nan duration", func(p *config.Protocol) { p.Chromatic.Duration = math.NaN() }},
		{"nan interval", func(p *config.Protocol) { p.Chromatic.Interval = math.NaN() }},
		{"duration past the clock range", func(p *config.Protocol) { p.LongDuration.Duration = 1e12 }},
		{"infinite interval", func(p *config.Protocol) { p.LongDuration.Interval = math.Inf(1) }},
		{"nan lead-in", func(p *config.Protocol) { p.LeadIn = math.NaN() }},
		{"lead-in past the clock range", func(p *config.Protocol) { p.LeadIn = 1e10 }},
		{"plan longer than the clock range", func(p *config.Protocol) { p.LongDuration.Duration = 2e9 }},
		{"nan luminance", func(p *config.Protocol) { p.Chromatic.Passes[0].Luminance = math.NaN() }},
		{"nan size", func(p *config.Protocol) { p.LongDuration.Size = math.NaN() }},
		{"nan fixation luminance", func(p *config.Protocol) { p.Fixation.Luminance = math.NaN() }},
		{"nan fixation distance", func(p *config.Protocol) { p.Fixation.Distance = math.NaN() }},
		{"background without luminance", func(p *config.Protocol) {
			p.Background = &config.AmbientStimulus{Color: config.ColorSpec{RGB: []float64{1, 1, 1}}}
		}},
		{"adaptation without time", func(p *config.Protocol) {
			p.LongDuration.Interval = 0
			p.LongDuration.Background = &config.AdaptationField{
				AmbientStimulus: config.AmbientStimulus{Color: config.ColorSpec{RGB: []float64{0, 0, 1}}, Luminance: 0.04},
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Protocol
			tt.mutate(&cfg)

			plan, err := Build(cfg)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestPhaseMarkerText(t *testing.T) {
	plan, err := Build(config.Default().Protocol)
	require.NoError(t, err)

	red := plan.Phase(0)
	assert.Equal(t, "Start Red sphere for 0.5 seconds in (0.00, 0.00, 2.00).", red.StartText())
	assert.Equal(t, "Stop Red sphere in (0.00, 0.00, 2.00).", red.StopText())

	long := plan.Phase(11)
	assert.Equal(t, "Start focal blue light Stimulation in (-0.73, 0.00, 2.00) for 8 seconds.", long.StartText())
	assert.Equal(t, "Stop focal blue light Stimulation in (-0.73, 0.00, 2.00).", long.StopText())
}
