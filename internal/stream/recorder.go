package stream

import (
	"sync"
	"time"
)

// Recorder keeps published samples in memory.
type Recorder struct {
	info Info

	mu      sync.Mutex
	samples []Sample
	fail    error
}

func NewRecorder(info Info) *Recorder {
	return &Recorder{info: info}
}

func (r *Recorder) Info() Info {
	return r.info
}

// Fail makes every later publish return err; Fail(nil) recovers.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *Recorder) PublishText(ts time.Duration, text string) error {
	if err := CheckText(r.info); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.samples = append(r.samples, Sample{Time: ts, Text: text})
	return nil
}

func (r *Recorder) PublishNumeric(ts time.Duration, values []float64) error {
	if err := CheckNumeric(r.info, values); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	v := make([]float64, len(values))
	copy(v, values)
	r.samples = append(r.samples, Sample{Time: ts, Values: v})
	return nil
}

// Samples returns a copy of everything published so far.
func (r *Recorder) Samples() []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sample, len(r.samples))
	copy(out, r.samples)
	return out
}

// Texts returns the text payloads in publish order.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.samples {
		out = append(out, s.Text)
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}
