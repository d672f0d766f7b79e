// Package stream publishes timestamped samples to named, typed outlets in the
// manner of lab streaming layer outlets: one event stream with a single
// string channel and one numeric stream per signal.
package stream

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChannelMismatch is returned when a sample does not match the outlet's declared shape.
	ErrChannelMismatch = errors.New("sample does not match stream channels")
	// ErrClosed is returned by outlets that were closed.
	ErrClosed = errors.New("stream closed")
)

type Format string

const (
	FormatString  Format = "string"
	FormatFloat32 Format = "float32"
)

// IrregularRate marks streams without a nominal sampling rate.
const IrregularRate = 0

// Info is the declared identity and shape of a stream.
type Info struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Channels int     `yaml:"channel_count"`
	Rate     float64 `yaml:"nominal_srate"`
	Format   Format  `yaml:"channel_format"`
	SourceID string  `yaml:"source_id"`
}

// EventInfo describes the marker stream.
func EventInfo(sourceID string) Info {
	return Info{
		Name:     "EventStream",
		Type:     "Markers",
		Channels: 1,
		Rate:     IrregularRate,
		Format:   FormatString,
		SourceID: sourceID,
	}
}

// PupilInfo describes the two-channel pupil stream (left, right).
func PupilInfo(sourceID string, rate float64) Info {
	return Info{
		Name:     "PupilData",
		Type:     "PupilDiameter",
		Channels: 2,
		Rate:     rate,
		Format:   FormatFloat32,
		SourceID: sourceID,
	}
}

// Outlet accepts samples stamped with the run clock.
type Outlet interface {
	Info() Info
	PublishText(ts time.Duration, text string) error
	PublishNumeric(ts time.Duration, values []float64) error
}

// Sample is one published item.
type Sample struct {
	Time   time.Duration
	Text   string
	Values []float64
}

// CheckText validates a text sample against info.
func CheckText(info Info) error {
	if info.Format != FormatString || info.Channels != 1 {
		return fmt.Errorf("%w: %s carries %d %s channels, got text", ErrChannelMismatch, info.Name, info.Channels, info.Format)
	}
	return nil
}

// CheckNumeric validates a numeric sample against info.
func CheckNumeric(info Info, values []float64) error {
	if info.Format == FormatString || len(values) != info.Channels {
		return fmt.Errorf("%w: %s carries %d %s channels, got %d values", ErrChannelMismatch, info.Name, info.Channels, info.Format, len(values))
	}
	return nil
}
