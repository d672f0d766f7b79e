// Package display defines the rendering collaborator the sequencer drives and
// a software Canvas implementation used for headless runs and previews.
package display

import (
	"errors"

	"github.com/ivlev/pupilstim/internal/colorimetry"
	"github.com/ivlev/pupilstim/internal/geom"
)

var (
	// ErrUnavailable means the device cannot present stimuli.
	ErrUnavailable = errors.New("display unavailable")
	// ErrUnknownHandle is returned for handles that were never shown or already hidden.
	ErrUnknownHandle = errors.New("unknown stimulus handle")
)

// Handle identifies one shown stimulus until it is hidden.
type Handle uint64

// Layer orders what is drawn over what.
type Layer int

const (
	LayerBackground Layer = iota
	LayerStimulus
	LayerFixation
)

func (l Layer) String() string {
	switch l {
	case LayerBackground:
		return "background"
	case LayerFixation:
		return "fixation"
	default:
		return "stimulus"
	}
}

const (
	ShapeDisc  = "disc"
	ShapeField = "field"
)

// Stimulus describes what to present.
type Stimulus struct {
	Label     string
	Shape     string
	Color     colorimetry.RGB
	Luminance float64
	Position  geom.Vec3
	Size      float64
	Layer     Layer
}

// Display presents stimuli. Show makes a stimulus visible and returns its
// handle; Hide removes it; SetPosition moves it while visible.
type Display interface {
	Show(s Stimulus) (Handle, error)
	Hide(h Handle) error
	SetPosition(h Handle, pos geom.Vec3) error
}

// Prober is implemented by displays that can report readiness before a run.
type Prober interface {
	Ready() error
}

// Probe checks d for readiness when it supports it.
func Probe(d Display) error {
	if d == nil {
		return ErrUnavailable
	}
	if p, ok := d.(Prober); ok {
		return p.Ready()
	}
	return nil
}
