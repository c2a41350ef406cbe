package script

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MrWong99/dialcoach/pkg/types"
	"gopkg.in/yaml.v3"
)

// Scenario is a rehearsal script loaded from YAML:
//
//	name: listing-consultation
//	instructions: You are a homeowner thinking about selling.
//	voice:
//	  id: alloy
//	lines:
//	  - label: opener
//	    text: Hi, this is Sam from Northside Realty.
type Scenario struct {
	// Name identifies the scenario in reports.
	Name string `yaml:"name"`

	// Instructions configure the counterpart's persona.
	Instructions string `yaml:"instructions"`

	// Voice selects the counterpart's synthesized voice.
	Voice types.VoiceProfile `yaml:"voice"`

	// Lines are the expected user lines in order.
	Lines []Line `yaml:"lines"`
}

// Line is one expected user line.
type Line struct {
	Label string `yaml:"label"`
	Text  string `yaml:"text"`
}

// Chunks returns the scenario's lines as user chunks.
func (s *Scenario) Chunks() []Chunk {
	out := make([]Chunk, 0, len(s.Lines))
	for _, l := range s.Lines {
		out = append(out, Chunk{Speaker: types.RoleUser, Text: l.Text, Label: l.Label})
	}
	return out
}

// Load reads and validates the scenario file at path.
func Load(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("script: open %q: %w", path, err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("script: parse %q: %w", path, err)
	}
	return s, nil
}

// Decode reads a scenario from r and validates it.
func Decode(r io.Reader) (*Scenario, error) {
	s := &Scenario{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("script: decode yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that s has at least one line and no blank lines.
func (s *Scenario) Validate() error {
	var errs []error
	if len(s.Lines) == 0 {
		errs = append(errs, errors.New("script: lines must contain at least one entry"))
	}
	for i, l := range s.Lines {
		if strings.TrimSpace(l.Text) == "" {
			errs = append(errs, fmt.Errorf("script: lines[%d].text is required", i))
		}
	}
	if f := s.Voice.SpeedFactor; f != 0 && (f < 0.5 || f > 2.0) {
		errs = append(errs, fmt.Errorf("script: voice.speed_factor %.2f is out of range [0.5, 2.0]", f))
	}
	return errors.Join(errs...)
}
