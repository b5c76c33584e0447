package alarmdomain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvelopeFixture is one on-disk rule definition: a rule id, an enabled
// flag, and the envelope itself. coresvc's startup seeding reads these
// from a directory of YAML files, one rule per file, filename ignored.
type EnvelopeFixture struct {
	RuleID   string       `yaml:"rule_id"`
	Enabled  bool         `yaml:"enabled"`
	Envelope RuleEnvelope `yaml:"envelope"`
}

// LoadEnvelopeFixtures reads every *.yaml/*.yml file in dir as an
// EnvelopeFixture, validating each envelope before returning it. A missing
// directory yields an empty, non-error result, since rule fixtures are
// optional.
func LoadEnvelopeFixtures(dir string) ([]EnvelopeFixture, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alarmdomain: read rule envelope dir %s: %w", dir, err)
	}

	var fixtures []EnvelopeFixture
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("alarmdomain: read %s: %w", path, err)
		}
		var fixture EnvelopeFixture
		if err := yaml.Unmarshal(data, &fixture); err != nil {
			return nil, fmt.Errorf("alarmdomain: parse %s: %w", path, err)
		}
		if fixture.RuleID == "" {
			return nil, fmt.Errorf("alarmdomain: %s: rule_id is required", path)
		}
		if err := fixture.Envelope.Validate(); err != nil {
			return nil, fmt.Errorf("alarmdomain: %s: %w", path, err)
		}
		fixtures = append(fixtures, fixture)
	}
	return fixtures, nil
}
