package protocol

import (
	"fmt"

	"github.com/ivlev/pupilstim/internal/colorimetry"
	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/geom"
)

// Build expands the protocol configuration into an ordered plan.
// The expansion is deterministic: the same configuration always yields the same plan.
func Build(cfg config.Protocol) (*Plan, error) {
	space := cfg.Space
	if space == "" {
		space = config.SpaceWorld
	}
	if space != config.SpaceWorld && space != config.SpaceScreen {
		return nil, fmt.Errorf("%w: unknown space %q", ErrConfiguration, cfg.Space)
	}
	if len(cfg.Locations) == 0 {
		return nil, fmt.Errorf("%w: location list is empty", ErrConfiguration)
	}

	plan := &Plan{space: space, leadIn: cfg.LeadIn}

	chromatic, err := expandChromatic(cfg.Chromatic, cfg.Locations)
	if err != nil {
		return nil, err
	}
	long, err := expandLong(cfg.LongDuration, cfg.Locations)
	if err != nil {
		return nil, err
	}
	plan.phases = append(chromatic, long...)

	if len(plan.phases) == 0 {
		return nil, fmt.Errorf("%w: protocol expands to no phases", ErrConfiguration)
	}

	if cfg.Background != nil {
		bg, err := ambientBackground(*cfg.Background)
		if err != nil {
			return nil, err
		}
		plan.background = &bg
	}

	if cfg.Fixation != nil {
		fx, err := ambientFixation(*cfg.Fixation)
		if err != nil {
			return nil, err
		}
		plan.fixation = &fx
	}

	if err := plan.validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// expandChromatic generates the short flash phases
func expandChromatic(b config.ChromaticBlock, defaults []geom.Vec3) ([]Phase, error) {
	if b.Repeats < 0 {
		return nil, fmt.Errorf("%w: chromatic repeats must be >= 0, got %d", ErrConfiguration, b.Repeats)
	}
	if b.Repeats == 0 {
		return nil, nil
	}
	if len(b.Passes) == 0 {
		return nil, fmt.Errorf("%w: chromatic block has no passes", ErrConfiguration)
	}

	locations := b.Locations
	if locations == nil {
		locations = defaults
	}
	if len(locations) == 0 {
		return nil, fmt.Errorf("%w: chromatic location list is empty", ErrConfiguration)
	}

	passes := make([]Phase, len(b.Passes))
	for i, s := range b.Passes {
		rgb, err := ResolveColor(s.Color)
		if err != nil {
			return nil, fmt.Errorf("%w: chromatic pass %d: %v", ErrConfiguration, i, err)
		}
		label := s.Label
		if label == "" {
			label = fmt.Sprintf("pass %d", i+1)
		}
		passes[i] = Phase{
			Kind:      Chromatic,
			Label:     label,
			Pass:      i + 1,
			Color:     rgb,
			Luminance: s.Luminance,
			Size:      s.Size,
			Duration:  b.Duration,
			Interval:  b.Interval,
		}
	}

	var phases []Phase
	for r := 0; r < b.Repeats; r++ {
		switch b.Order {
		case config.OrderByPass, "":
			for _, pass := range passes {
				for _, loc := range locations {
					ph := pass
					ph.Location = loc
					phases = append(phases, ph)
				}
			}
		case config.OrderByLocation:
			for _, loc := range locations {
				for _, pass := range passes {
					ph := pass
					ph.Location = loc
					phases = append(phases, ph)
				}
			}
		default:
			return nil, fmt.Errorf("%w: unknown chromatic order %q", ErrConfiguration, b.Order)
		}
	}

	return phases, nil
}

// expandLong generates the long-duration phases, preceded by an optional background adaptation
func expandLong(b config.LongBlock, defaults []geom.Vec3) ([]Phase, error) {
	if b.Repeats < 0 {
		return nil, fmt.Errorf("%w: long_duration repeats must be >= 0, got %d", ErrConfiguration, b.Repeats)
	}
	if b.Repeats == 0 {
		return nil, nil
	}

	locations := b.Locations
	if locations == nil {
		locations = defaults
	}
	if len(locations) == 0 {
		return nil, fmt.Errorf("%w: long_duration location list is empty", ErrConfiguration)
	}

	rgb, err := ResolveColor(b.Color)
	if err != nil {
		return nil, fmt.Errorf("%w: long_duration: %v", ErrConfiguration, err)
	}

	var phases []Phase

	if b.Background != nil {
		bg, err := ResolveColor(b.Background.Color)
		if err != nil {
			return nil, fmt.Errorf("%w: long_duration background: %v", ErrConfiguration, err)
		}
		adaptation := b.Background.Adaptation
		if adaptation == 0 {
			// default adaptation lasts one inter-phase interval
			adaptation = b.Interval
		}
		phases = append(phases, Phase{
			Kind:      Background,
			Label:     "background",
			Color:     bg,
			Luminance: b.Background.Luminance,
			Duration:  adaptation,
		})
	}

	label := b.Label
	if label == "" {
		label = "long duration"
	}
	for r := 0; r < b.Repeats; r++ {
		for _, loc := range locations {
			phases = append(phases, Phase{
				Kind:      LongDuration,
				Label:     label,
				Pass:      r + 1,
				Color:     rgb,
				Luminance: b.Luminance,
				Location:  loc,
				Size:      b.Size,
				Duration:  b.Duration,
				Interval:  b.Interval,
			})
		}
	}

	return phases, nil
}

func ambientBackground(a config.AmbientStimulus) (Ambient, error) {
	rgb, err := ResolveColor(a.Color)
	if err != nil {
		return Ambient{}, fmt.Errorf("%w: background: %v", ErrConfiguration, err)
	}
	bg := Ambient{Kind: Background, Color: rgb, Luminance: a.Luminance}
	return bg, bg.Validate()
}

func ambientFixation(f config.FixationLight) (Ambient, error) {
	rgb, err := ResolveColor(f.Color)
	if err != nil {
		return Ambient{}, fmt.Errorf("%w: fixation: %v", ErrConfiguration, err)
	}
	fx := Ambient{
		Kind:      Fixation,
		Color:     rgb,
		Luminance: f.Luminance,
		Size:      f.Size,
		Offset:    geom.V(0, 0, f.Distance),
	}
	return fx, fx.Validate()
}

// ResolveColor turns a colour spec into RGB; a wavelength wins over an explicit triple.
func ResolveColor(spec config.ColorSpec) (colorimetry.RGB, error) {
	if spec.Wavelength != 0 {
		return colorimetry.WavelengthToRGB(spec.Wavelength)
	}
	if len(spec.RGB) != 3 {
		return colorimetry.RGB{}, fmt.Errorf("color needs rgb triple or wavelength")
	}
	for _, v := range spec.RGB {
		if v < 0 || v > 1 {
			return colorimetry.RGB{}, fmt.Errorf("rgb components must be in [0, 1], got %v", spec.RGB)
		}
	}
	return colorimetry.RGB{R: spec.RGB[0], G: spec.RGB[1], B: spec.RGB[2]}, nil
}
