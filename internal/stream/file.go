package stream

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Header is written next to the samples as <name>.yaml.
type Header struct {
	Stream  Info              `yaml:"stream"`
	Session string            `yaml:"session"`
	Created time.Time         `yaml:"created"`
	Host    map[string]string `yaml:"host,omitempty"`
}

// File is an outlet recording samples to <dir>/<name>.csv.
type File struct {
	info Info
	path string

	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	closed bool
	count  int
}

// Create writes the header file and opens the sample file.
func Create(dir string, h Header) (*File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	meta, err := yaml.Marshal(h)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, h.Stream.Name+".yaml"), meta, 0644); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, h.Stream.Name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	columns := []string{"timestamp"}
	if h.Stream.Format == FormatString {
		columns = append(columns, "text")
	} else {
		for i := 1; i <= h.Stream.Channels; i++ {
			columns = append(columns, fmt.Sprintf("ch%d", i))
		}
	}
	if err := w.Write(columns); err != nil {
		f.Close()
		return nil, err
	}

	return &File{info: h.Stream, path: path, f: f, w: w}, nil
}

func (s *File) Info() Info {
	return s.info
}

// Path is the CSV sample file.
func (s *File) Path() string {
	return s.path
}

func (s *File) PublishText(ts time.Duration, text string) error {
	if err := CheckText(s.info); err != nil {
		return err
	}
	return s.write([]string{seconds(ts), text})
}

func (s *File) PublishNumeric(ts time.Duration, values []float64) error {
	if err := CheckNumeric(s.info, values); err != nil {
		return err
	}
	row := make([]string, 0, len(values)+1)
	row = append(row, seconds(ts))
	for _, v := range values {
		row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return s.write(row)
}

func (s *File) write(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", ErrClosed, s.info.Name)
	}
	if err := s.w.Write(row); err != nil {
		return err
	}
	s.count++
	return nil
}

// Count is the number of samples written.
func (s *File) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.w.Flush()
	return multierr.Append(s.w.Error(), s.f.Close())
}

func seconds(ts time.Duration) string {
	return strconv.FormatFloat(ts.Seconds(), 'f', 6, 64)
}
