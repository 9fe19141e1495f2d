package config

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed councils.yaml
var councilsYAML []byte

// Municipality is one entry of the council catalogue.
type Municipality struct {
	Slug     string        `yaml:"slug"`
	Name     string        `yaml:"name"`
	Councils []CouncilSpec `yaml:"councils"`
}

// CouncilSpec names a council of a given type within a municipality.
type CouncilSpec struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`
}

type councilCatalogue struct {
	Municipalities []Municipality `yaml:"municipalities"`
}

// LoadCouncils parses the embedded council catalogue.
func LoadCouncils() ([]Municipality, error) {
	return ParseCouncils(councilsYAML)
}

// ParseCouncils parses a council catalogue document.
func ParseCouncils(data []byte) ([]Municipality, error) {
	var catalogue councilCatalogue
	if err := yaml.Unmarshal(data, &catalogue); err != nil {
		return nil, fmt.Errorf("failed to parse council catalogue: %w", err)
	}

	seen := make(map[string]bool)
	for _, m := range catalogue.Municipalities {
		if m.Slug == "" {
			return nil, fmt.Errorf("municipality %q has no slug", m.Name)
		}
		for _, c := range m.Councils {
			key := m.Slug + "/" + c.Type
			if seen[key] {
				return nil, fmt.Errorf("duplicate council %s", key)
			}
			seen[key] = true
		}
	}
	return catalogue.Municipalities, nil
}
