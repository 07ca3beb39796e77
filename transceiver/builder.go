package transceiver

import (
	"fmt"
	"slices"

	"github.com/sarchlab/cosim/device"
)

// Builder declares a transceiver function.
type Builder struct {
	target   string
	sources  []Source
	outputs  []device.Identifier
	fn       Func
	inactive bool
}

// MakeBuilder creates a new Builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithTargetEngine sets the engine receiving the outputs.
func (b Builder) WithTargetEngine(name string) Builder {
	b.target = name
	return b
}

// WithSingleSource binds a keyword to one device.
func (b Builder) WithSingleSource(keyword string, id device.Identifier) Builder {
	b.sources = append(slices.Clone(b.sources), Source{
		Keyword:     keyword,
		Cardinality: Single,
		ID:          id,
	})

	return b
}

// WithCollectionSource binds a keyword to all devices matching the filter.
// A positive limit caps the number of devices passed in.
func (b Builder) WithCollectionSource(
	keyword string,
	filter device.Filter,
	limit int,
) Builder {
	b.sources = append(slices.Clone(b.sources), Source{
		Keyword:     keyword,
		Cardinality: Collection,
		Filter:      filter,
		Limit:       limit,
	})

	return b
}

// WithOutput declares a device the function writes. Functions that declare
// outputs may only write those, and their dependencies are derived from
// them. A function without declared outputs is ordered as if it wrote every
// device of its target engine.
func (b Builder) WithOutput(id device.Identifier) Builder {
	b.outputs = append(slices.Clone(b.outputs), id)
	return b
}

// WithFunc sets the user mapping.
func (b Builder) WithFunc(fn Func) Builder {
	b.fn = fn
	return b
}

// WithActive sets whether the function runs before anyone toggles it.
func (b Builder) WithActive(active bool) Builder {
	b.inactive = !active
	return b
}

// Build validates the declaration and creates the function.
func (b Builder) Build(name string) (*Function, error) {
	if err := b.validate(name); err != nil {
		return nil, err
	}

	return &Function{
		name:    name,
		target:  b.target,
		sources: slices.Clone(b.sources),
		outputs: slices.Clone(b.outputs),
		fn:      b.fn,
		active:  !b.inactive,
	}, nil
}

func (b Builder) validate(name string) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: function %q: %s", ErrInvalidDeclaration, name,
			fmt.Sprintf(format, args...))
	}

	if name == "" {
		return invalid("name is empty")
	}

	if b.target == "" {
		return invalid("no target engine")
	}

	if b.fn == nil {
		return invalid("no function")
	}

	keywords := make(map[string]bool)
	for _, s := range b.sources {
		if s.Keyword == "" {
			return invalid("source without keyword")
		}

		if keywords[s.Keyword] {
			return invalid("keyword %q bound twice", s.Keyword)
		}
		keywords[s.Keyword] = true

		switch s.Cardinality {
		case Single:
			if s.ID.IsZero() {
				return invalid("source %q has no identifier", s.Keyword)
			}
		case Collection:
			if err := s.Filter.Validate(); err != nil {
				return invalid("source %q: %v", s.Keyword, err)
			}

			if s.Limit < 0 {
				return invalid("source %q has negative limit", s.Keyword)
			}
		}
	}

	for _, out := range b.outputs {
		if out.Engine() != b.target {
			return invalid("output %s is not on target engine %q",
				out, b.target)
		}

		for _, s := range b.sources {
			if s.Matches(out) {
				return fmt.Errorf("%w: function %q: %s bound by source %q",
					ErrSelfLoop, name, out, s.Keyword)
			}
		}
	}

	return nil
}
