package device

import (
	"cmp"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrInvalidIdentifier is returned when an identifier misses its name or its
// engine.
var ErrInvalidIdentifier = errors.New("invalid device identifier")

// An Identifier addresses a device. The canonical field order is
// (name, engine, type). Two identifiers are equal iff all three fields match,
// so Identifier can be used as a map key.
type Identifier struct {
	name   string
	engine string
	typ    string
}

// MakeIdentifier creates an identifier. The name and the engine must not be
// empty. An empty type is allowed and denotes an untyped, opaque device.
func MakeIdentifier(name, engine, deviceType string) (Identifier, error) {
	if name == "" {
		return Identifier{}, fmt.Errorf("%w: empty name (engine %q)",
			ErrInvalidIdentifier, engine)
	}

	if engine == "" {
		return Identifier{}, fmt.Errorf("%w: empty engine (name %q)",
			ErrInvalidIdentifier, name)
	}

	return Identifier{name: name, engine: engine, typ: deviceType}, nil
}

// MustMakeIdentifier is MakeIdentifier that panics on error. It is meant for
// statically known identifiers.
func MustMakeIdentifier(name, engine, deviceType string) Identifier {
	id, err := MakeIdentifier(name, engine, deviceType)
	if err != nil {
		panic(err)
	}

	return id
}

// Name returns the device name, unique within its engine.
func (id Identifier) Name() string {
	return id.name
}

// Engine returns the name of the engine that owns the device.
func (id Identifier) Engine() string {
	return id.engine
}

// Type returns the device type tag.
func (id Identifier) Type() string {
	return id.typ
}

// IsZero tells if the identifier has not been constructed.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

func (id Identifier) String() string {
	return id.engine + "/" + id.name + ":" + id.typ
}

// Compare orders identifiers by name, then engine, then type.
func Compare(a, b Identifier) int {
	if c := cmp.Compare(a.name, b.name); c != 0 {
		return c
	}

	if c := cmp.Compare(a.engine, b.engine); c != 0 {
		return c
	}

	return cmp.Compare(a.typ, b.typ)
}

type identifierFields struct {
	Name   string `yaml:"name"`
	Engine string `yaml:"engine"`
	Type   string `yaml:"type"`
}

// UnmarshalYAML accepts either a mapping with name, engine and type keys, or a
// sequence of two or three scalars in the canonical (name, engine, type)
// order.
func (id *Identifier) UnmarshalYAML(node *yaml.Node) error {
	var fields identifierFields

	switch node.Kind {
	case yaml.MappingNode:
		if err := node.Decode(&fields); err != nil {
			return err
		}
	case yaml.SequenceNode:
		var parts []string
		if err := node.Decode(&parts); err != nil {
			return err
		}

		if len(parts) < 2 || len(parts) > 3 {
			return fmt.Errorf("%w: line %d: expected [name, engine, type]",
				ErrInvalidIdentifier, node.Line)
		}

		fields.Name, fields.Engine = parts[0], parts[1]
		if len(parts) == 3 {
			fields.Type = parts[2]
		}
	default:
		return fmt.Errorf("%w: line %d: unsupported yaml node",
			ErrInvalidIdentifier, node.Line)
	}

	parsed, err := MakeIdentifier(fields.Name, fields.Engine, fields.Type)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*id = parsed

	return nil
}

// MarshalYAML writes the mapping form.
func (id Identifier) MarshalYAML() (interface{}, error) {
	return identifierFields{Name: id.name, Engine: id.engine, Type: id.typ}, nil
}
