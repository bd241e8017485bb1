package config

import (
	"os"
	"strings"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// NewYAML reads settings from a YAML file. Keys missing from the file keep
// their Defaults value.
func NewYAML(path string) (IService, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading config file %s: %w", path, err)
	}

	s := Defaults()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, xerrors.Errorf("parsing config file %s: %w", path, err)
	}

	s.Decoder = strings.ToLower(s.Decoder)
	s.Detector = strings.ToLower(s.Detector)
	s.DataStore = strings.ToLower(s.DataStore)
	s.CameraFrameSize = strings.ToUpper(s.CameraFrameSize)
	for i, sink := range s.Sinks {
		s.Sinks[i] = strings.ToLower(strings.TrimSpace(sink))
	}

	return New(s), nil
}
