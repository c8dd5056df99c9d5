package db

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"busfleet/internal/transit"
)

// SeedFile is the YAML layout of a catalog seed:
//
//	stops:
//	  - id: college
//	    name: College
//	    latitude: 12.9716
//	    longitude: 77.5946
type SeedFile struct {
	Stops []transit.Stop `yaml:"stops"`
}

func LoadSeedFile(path string) ([]transit.Stop, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseSeed(f)
}

// ParseSeed decodes a seed and fills missing ids from the stop name.
func ParseSeed(r io.Reader) ([]transit.Stop, error) {
	var sf SeedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	seen := map[string]bool{}
	for i := range sf.Stops {
		s := &sf.Stops[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("seed stop %d has no name", i)
		}
		if s.ID == "" {
			s.ID = slug(s.Name)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("seed stop id %q listed twice", s.ID)
		}
		seen[s.ID] = true
	}
	return sf.Stops, nil
}

func slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}
