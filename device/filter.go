package device

import (
	"path"
	"strings"
)

// A Filter selects identifiers. Empty fields match anything; Name is a
// path.Match glob, so "husky::*" selects every device of the husky model.
type Filter struct {
	Name   string `yaml:"name"`
	Engine string `yaml:"engine"`
	Type   string `yaml:"type"`
}

// Match tells if the identifier is selected by the filter.
func (f Filter) Match(id Identifier) bool {
	if f.Engine != "" && f.Engine != id.engine {
		return false
	}

	if f.Type != "" && f.Type != id.typ {
		return false
	}

	if f.Name == "" {
		return true
	}

	matched, err := path.Match(f.Name, id.name)

	return err == nil && matched
}

// Validate checks that the name pattern is well formed.
func (f Filter) Validate() error {
	_, err := path.Match(f.Name, "")
	return err
}

func (f Filter) String() string {
	var b strings.Builder

	b.WriteString(orAny(f.Engine))
	b.WriteByte('/')
	b.WriteString(orAny(f.Name))
	b.WriteByte(':')
	b.WriteString(orAny(f.Type))

	return b.String()
}

func orAny(s string) string {
	if s == "" {
		return "*"
	}

	return s
}
