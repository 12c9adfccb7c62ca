package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/clubfeed/eventpipe/internal/models"
	"gopkg.in/yaml.v3"
)

// SourcesFile is the on-disk shape of the source universe.
type SourcesFile struct {
	Sources []models.Source `yaml:"sources"`
}

// LoadSources reads the ordered source universe from a YAML file. File order is
// the stable index used for rotation, so entries are never re-sorted here.
func LoadSources(path string) ([]models.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes a sources document, dropping blank and repeated handles.
func ParseSources(data []byte) ([]models.Source, error) {
	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}

	seen := make(map[string]bool, len(file.Sources))
	sources := make([]models.Source, 0, len(file.Sources))
	for _, s := range file.Sources {
		s.Handle = strings.TrimPrefix(strings.TrimSpace(s.Handle), "@")
		key := strings.ToLower(s.Handle)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		sources = append(sources, s)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("sources file lists no handles")
	}

	return sources, nil
}
