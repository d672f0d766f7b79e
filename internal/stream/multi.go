package stream

import (
	"time"

	"go.uber.org/multierr"
)

// Multi fans samples out to several outlets sharing one stream identity,
// e.g. an in-memory recorder for the run summary and a file on disk.
type Multi struct {
	info    Info
	outlets []Outlet
}

// NewMulti takes its Info from the first outlet.
func NewMulti(outlets ...Outlet) *Multi {
	m := &Multi{outlets: outlets}
	if len(outlets) > 0 {
		m.info = outlets[0].Info()
	}
	return m
}

func (m *Multi) Info() Info {
	return m.info
}

// PublishText delivers to every outlet and combines their errors.
func (m *Multi) PublishText(ts time.Duration, text string) error {
	var err error
	for _, o := range m.outlets {
		err = multierr.Append(err, o.PublishText(ts, text))
	}
	return err
}

func (m *Multi) PublishNumeric(ts time.Duration, values []float64) error {
	var err error
	for _, o := range m.outlets {
		err = multierr.Append(err, o.PublishNumeric(ts, values))
	}
	return err
}
