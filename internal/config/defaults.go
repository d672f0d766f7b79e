package config

import "github.com/ivlev/pupilstim/internal/geom"

const (
	SpaceWorld  = "world"
	SpaceScreen = "screen"

	OrderByPass     = "by_pass"
	OrderByLocation = "by_location"
)

// Default returns the head-mounted (world-space) reference protocol:
// red and blue flashes over five visual-field locations, then a long
// high-luminance blue block over the same locations.
func Default() *Config {
	return &Config{
		Protocol: Protocol{
			Space:  SpaceWorld,
			LeadIn: 30,
			Locations: []geom.Vec3{
				geom.V(0, 0, 2.0),     // centre
				geom.V(-0.73, 0, 2.0), // nasal
				geom.V(0.73, 0, 2.0),  // temporal
				geom.V(0, 0.73, 2.0),  // superior
				geom.V(0, -0.73, 2.0), // inferior
			},
			Chromatic: ChromaticBlock{
				Order:    OrderByPass,
				Repeats:  1,
				Duration: 0.5,
				Interval: 3.0,
				Passes: []Stimulus{
					{Label: "Red", Color: ColorSpec{RGB: []float64{1, 0, 0}}, Luminance: 0.3, Size: 0.1},
					{Label: "Blue", Color: ColorSpec{RGB: []float64{0, 0, 1}}, Luminance: 0.3, Size: 0.1},
				},
			},
			LongDuration: LongBlock{
				Stimulus: Stimulus{
					Label:     "focal blue light",
					Color:     ColorSpec{RGB: []float64{0, 0, 1}},
					Luminance: 6000,
					Size:      0.1,
				},
				Repeats:  1,
				Duration: 8,
				Interval: 8,
			},
			Fixation: &FixationLight{
				Color:     ColorSpec{RGB: []float64{1, 1, 1}},
				Luminance: 0.5,
				Size:      0.09,
				Distance:  8.5,
			},
		},
		Runtime: defaultRuntime(),
	}
}

// ScreenDefault returns the screen-space variant: pixel offsets, red and blue
// alternating per location, a dim white background and a melanopsin block
// on a dim blue background.
func ScreenDefault() *Config {
	return &Config{
		Protocol: Protocol{
			Space:  SpaceScreen,
			LeadIn: 0,
			Locations: []geom.Vec3{
				geom.V(0, 0, 0),
				geom.V(-200, 0, 0),
				geom.V(200, 0, 0),
				geom.V(0, 200, 0),
				geom.V(0, -200, 0),
			},
			Chromatic: ChromaticBlock{
				Order:    OrderByLocation,
				Repeats:  1,
				Duration: 0.5,
				Interval: 3.0,
				Passes: []Stimulus{
					{Label: "Red", Color: ColorSpec{RGB: []float64{1, 0, 0}}, Luminance: 1000, Size: 50},
					{Label: "Blue", Color: ColorSpec{RGB: []float64{0, 0, 1}}, Luminance: 170, Size: 50},
				},
			},
			LongDuration: LongBlock{
				Stimulus: Stimulus{
					Label:     "melanopsin blue",
					Color:     ColorSpec{RGB: []float64{0, 0, 1}},
					Luminance: 6000,
					Size:      50,
				},
				Repeats:   1,
				Duration:  8,
				Interval:  8,
				Locations: []geom.Vec3{geom.V(0, 0, 0)},
				Background: &AdaptationField{
					AmbientStimulus: AmbientStimulus{Color: ColorSpec{RGB: []float64{0, 0, 1}}, Luminance: 0.04},
				},
			},
			Background: &AmbientStimulus{
				Color:     ColorSpec{RGB: []float64{1, 1, 1}},
				Luminance: 0.04,
			},
			Fixation: &FixationLight{
				Color:     ColorSpec{RGB: []float64{1, 1, 1}},
				Luminance: 6,
				Size:      10,
			},
		},
		Runtime: defaultRuntime(),
	}
}

func defaultRuntime() Runtime {
	return Runtime{
		FrameRate:  90,
		SampleRate: 100,
		TimeScale:  1,
		OutputDir:  "output",
		PlanDir:    "plans",
		Canvas: CanvasConfig{
			Width:  1920,
			Height: 1080,
			Focal:  900,
		},
		Pupil: PupilSimulate{
			Baseline:  3.2,
			Amplitude: 0.4,
			Period:    4,
			Dropout:   0.02,
			Seed:      1,
		},
	}
}
