package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk rule table layout.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes and validates a YAML rule table. Duplicate priorities
// are rejected.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("policy: parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("policy: rule file defines no rules")
	}
	seen := make(map[Priority]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Priority] {
			return nil, fmt.Errorf("policy: duplicate priority %d", r.Priority)
		}
		seen[r.Priority] = true
	}
	return f.Rules, nil
}

// LoadRules reads a YAML rule table from path.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read rules: %w", err)
	}
	return ParseRules(data)
}

// MarshalRules encodes rules in the format ParseRules reads.
func MarshalRules(rules []Rule) ([]byte, error) {
	return yaml.Marshal(ruleFile{Rules: rules})
}
