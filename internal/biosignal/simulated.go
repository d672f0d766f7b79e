package biosignal

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ivlev/pupilstim/internal/config"
)

// TimeSource is the part of clock.Clock the simulation needs.
type TimeSource interface {
	Now() time.Duration
}

// Simulated is a pupillometer for dry runs: a slow oscillation around a
// baseline diameter with random tracking dropouts.
type Simulated struct {
	clock     TimeSource
	baseline  float64
	amplitude float64
	period    float64
	dropout   float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulated(c TimeSource, cfg config.PupilSimulate) *Simulated {
	return &Simulated{
		clock:     c,
		baseline:  cfg.Baseline,
		amplitude: cfg.Amplitude,
		period:    cfg.Period,
		dropout:   cfg.Dropout,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (s *Simulated) Read(eye Eye) (Reading, error) {
	s.mu.Lock()
	drop := s.rng.Float64() < s.dropout
	s.mu.Unlock()
	if drop {
		return Reading{}, nil
	}

	v := s.baseline
	if s.period > 0 {
		// right eye lags a little behind the left
		phase := 0.0
		if eye == Right {
			phase = 0.1
		}
		v += s.amplitude * math.Sin(2*math.Pi*(s.clock.Now().Seconds()/s.period-phase))
	}
	return Reading{Value: v, Valid: true}, nil
}
