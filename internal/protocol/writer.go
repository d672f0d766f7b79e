package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/pupilstim/internal/config"
)

// planFile is the on-disk form of a plan
type planFile struct {
	Version    string   `yaml:"version"`
	Space      string   `yaml:"space"`
	LeadIn     float64  `yaml:"lead_in"`
	Background *Ambient `yaml:"background,omitempty"`
	Fixation   *Ambient `yaml:"fixation,omitempty"`
	Phases     []Phase  `yaml:"phases"`
}

func (p *Plan) file() planFile {
	return planFile{
		Version:    PlanVersion,
		Space:      p.space,
		LeadIn:     p.leadIn,
		Background: p.background,
		Fixation:   p.fixation,
		Phases:     p.Phases(),
	}
}

// MarshalYAML exports the plan in the same form WritePlan writes.
func (p *Plan) MarshalYAML() (interface{}, error) {
	return p.file(), nil
}

// Fingerprint identifies the plan content; equal plans share a fingerprint.
func (p *Plan) Fingerprint() string {
	data, err := yaml.Marshal(p.file())
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:6])
}

// WritePlan writes a plan to a YAML file
func WritePlan(plan *Plan, path string) error {
	data, err := yaml.Marshal(plan.file())
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadPlan reads a plan from a YAML file and validates it the same way
// Build does, ambient layers included.
func ReadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f planFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConfiguration, path, err)
	}

	if f.Version != PlanVersion {
		return nil, fmt.Errorf("%w: %s: unsupported plan version %q", ErrConfiguration, path, f.Version)
	}
	if f.Space != config.SpaceWorld && f.Space != config.SpaceScreen {
		return nil, fmt.Errorf("%w: %s: unknown space %q", ErrConfiguration, path, f.Space)
	}

	plan := &Plan{
		space:      f.Space,
		leadIn:     f.LeadIn,
		background: f.Background,
		fixation:   f.Fixation,
		phases:     f.Phases,
	}
	if err := plan.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}
