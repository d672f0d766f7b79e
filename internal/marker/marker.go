// Package marker publishes the phase start/stop markers of a run to the event
// stream and keeps a local log of intended versus actual times.
package marker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ivlev/pupilstim/internal/stream"
)

// ErrOutOfOrder is returned for a timestamp earlier than the previous marker.
var ErrOutOfOrder = errors.New("marker timestamp goes backwards")

type Kind int

const (
	Start Kind = iota
	Stop
	Terminal
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Stop:
		return "stop"
	default:
		return "terminal"
	}
}

// Marker is one published event.
type Marker struct {
	Seq      int
	Kind     Kind
	Phase    int // -1 when not tied to a phase
	Intended time.Duration
	Time     time.Duration
	Text     string
}

// Lateness is how far the actual instant trails the scheduled one.
func (m Marker) Lateness() time.Duration {
	return m.Time - m.Intended
}

// AbortText is the terminal marker text for a run stopped by err.
func AbortText(err error) string {
	return fmt.Sprintf("Aborted: %v.", err)
}

// Emitter publishes markers with non-decreasing timestamps.
type Emitter struct {
	out stream.Outlet
	log *zap.Logger

	mu      sync.Mutex
	markers []Marker
	last    time.Duration
}

func NewEmitter(out stream.Outlet, log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{out: out, log: log}
}

// Emit publishes text at ts. Markers that fail to publish are not logged.
func (e *Emitter) Emit(kind Kind, phase int, intended, ts time.Duration, text string) (Marker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ts < e.last {
		return Marker{}, fmt.Errorf("%w: %v after %v", ErrOutOfOrder, ts, e.last)
	}
	if err := e.out.PublishText(ts, text); err != nil {
		return Marker{}, fmt.Errorf("publish marker %q: %w", text, err)
	}

	m := Marker{
		Seq:      len(e.markers),
		Kind:     kind,
		Phase:    phase,
		Intended: intended,
		Time:     ts,
		Text:     text,
	}
	e.markers = append(e.markers, m)
	e.last = ts

	e.log.Info(text,
		zap.Stringer("kind", kind),
		zap.Int("phase", phase),
		zap.Duration("t", ts),
		zap.Duration("late", m.Lateness()))
	return m, nil
}

// Markers returns the published markers in order.
func (e *Emitter) Markers() []Marker {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Marker, len(e.markers))
	copy(out, e.markers)
	return out
}

// Save writes the marker log as CSV.
func (e *Emitter) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write([]string{"seq", "kind", "phase", "intended_s", "actual_s", "text"}); err != nil {
		f.Close()
		return err
	}
	for _, m := range e.Markers() {
		row := []string{
			strconv.Itoa(m.Seq),
			m.Kind.String(),
			strconv.Itoa(m.Phase),
			strconv.FormatFloat(m.Intended.Seconds(), 'f', 6, 64),
			strconv.FormatFloat(m.Time.Seconds(), 'f', 6, 64),
			m.Text,
		}
		if err := w.Write(row); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	return multierr.Append(w.Error(), f.Close())
}
