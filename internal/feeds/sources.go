package feeds

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"inkwell/internal/inkwell"
)

// LoadSources reads the feed source list from a yaml file.
//
// The file holds a top-level `sources` list of {name, url, tags, weight}.
func LoadSources(path string) ([]inkwell.FeedSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading sources file: %w", err)
	}

	var doc struct {
		Sources []inkwell.FeedSource `yaml:"sources"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("error parsing sources file: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("sources file %q lists no feeds", path)
	}

	for i, src := range doc.Sources {
		if src.Name == "" || src.URL == "" {
			return nil, fmt.Errorf("source %d is missing a name or url", i)
		}
		// Unweighted sources count as neutral.
		if src.Weight == 0 {
			doc.Sources[i].Weight = 1
		}
	}

	return doc.Sources, nil
}
