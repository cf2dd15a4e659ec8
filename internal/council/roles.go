// Package council runs the fixed panel of agent roles against a sandbox
// session and collects their judgments.
package council

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role is one seat on the council
type Role struct {
	Name  string `yaml:"name"`
	Model string `yaml:"model,omitempty"`
}

// Manifest is the on-disk council definition
type Manifest struct {
	Roles []Role `yaml:"roles"`
}

// DefaultRoles returns the built-in council: planner, implementer, reviewer,
// invoked in that order.
func DefaultRoles() []Role {
	return []Role{
		{Name: "planner"},
		{Name: "implementer"},
		{Name: "reviewer"},
	}
}

// LoadManifest reads a council manifest from a YAML file. A missing file
// falls back to the default roles.
func LoadManifest(path string) ([]Role, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRoles(), nil
		}
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse council manifest: %w", err)
	}
	if len(m.Roles) == 0 {
		return nil, fmt.Errorf("council manifest %s declares no roles", path)
	}
	for _, r := range m.Roles {
		if r.Name == "" {
			return nil, fmt.Errorf("council manifest %s has a role without a name", path)
		}
	}
	return m.Roles, nil
}
