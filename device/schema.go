package device

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"
	"sync"
)

// ErrSchemaMismatch is returned when a payload does not conform to the schema
// declared for its device type.
var ErrSchemaMismatch = errors.New("payload does not match device schema")

// Device types known out of the box.
const (
	TypeCamera  = "camera"
	TypeJoint   = "joint"
	TypeLink    = "link"
	TypeSpiking = "spiking"
	TypeGeneric = "generic"
)

// A Schema describes the payload shape accepted by a device type.
type Schema struct {
	// Kind is the required payload variant. KindNone accepts any variant.
	Kind Kind

	// RequiredKeys must all be present in a ScalarMap payload.
	RequiredKeys []string

	// AllowedKeys, if not empty, restricts the keys of a ScalarMap payload.
	AllowedKeys []string

	// Shape constrains Array payloads. A nil shape accepts any rank; a
	// negative dimension accepts any extent.
	Shape []int

	// Depth, if not zero, is the required channel count of Image payloads.
	Depth uint32
}

// Validate checks that the payload conforms to the schema. Structural
// consistency of arrays and images is always checked.
func (s Schema) Validate(p Payload) error {
	if p == nil {
		return fmt.Errorf("%w: nil payload", ErrSchemaMismatch)
	}

	if s.Kind != KindNone && p.Kind() != s.Kind {
		return fmt.Errorf("%w: expected %s, got %s",
			ErrSchemaMismatch, s.Kind, p.Kind())
	}

	switch v := p.(type) {
	case ScalarMap:
		return s.validateScalarMap(v)
	case Array:
		return s.validateArray(v)
	case Image:
		return s.validateImage(v)
	}

	return nil
}

func (s Schema) validateScalarMap(m ScalarMap) error {
	for _, k := range s.RequiredKeys {
		if _, ok := m[k]; !ok {
			return fmt.Errorf("%w: missing key %q", ErrSchemaMismatch, k)
		}
	}

	if len(s.AllowedKeys) == 0 {
		return nil
	}

	for k := range m {
		if !slices.Contains(s.AllowedKeys, k) {
			return fmt.Errorf("%w: unexpected key %q", ErrSchemaMismatch, k)
		}
	}

	return nil
}

func (s Schema) validateArray(a Array) error {
	for i, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("%w: dimension %d is negative (%d)",
				ErrSchemaMismatch, i, d)
		}
	}

	if a.Size() < 0 {
		return fmt.Errorf("%w: shape %v overflows the element count",
			ErrSchemaMismatch, a.Shape)
	}

	if a.Size() != len(a.Data) {
		return fmt.Errorf("%w: shape %v holds %d elements, data has %d",
			ErrSchemaMismatch, a.Shape, a.Size(), len(a.Data))
	}

	if s.Shape == nil {
		return nil
	}

	if len(s.Shape) != len(a.Shape) {
		return fmt.Errorf("%w: expected rank %d, got %d",
			ErrSchemaMismatch, len(s.Shape), len(a.Shape))
	}

	for i, d := range s.Shape {
		if d >= 0 && a.Shape[i] != d {
			return fmt.Errorf("%w: dimension %d is %d, expected %d",
				ErrSchemaMismatch, i, a.Shape[i], d)
		}
	}

	return nil
}

func (s Schema) validateImage(img Image) error {
	hi, expected := bits.Mul64(uint64(img.Width)*uint64(img.Height),
		uint64(img.Depth))
	if hi != 0 {
		return fmt.Errorf("%w: %dx%dx%d image overflows the byte count",
			ErrSchemaMismatch, img.Width, img.Height, img.Depth)
	}

	if uint64(len(img.Data)) != expected {
		return fmt.Errorf("%w: %dx%dx%d image needs %d bytes, got %d",
			ErrSchemaMismatch, img.Width, img.Height, img.Depth,
			expected, len(img.Data))
	}

	if s.Depth != 0 && img.Depth != s.Depth {
		return fmt.Errorf("%w: expected depth %d, got %d",
			ErrSchemaMismatch, s.Depth, img.Depth)
	}

	return nil
}

// A SchemaTable maps device types to schemas. Types without an entry are
// treated as opaque and only receive the structural checks.
type SchemaTable struct {
	lock    sync.RWMutex
	schemas map[string]Schema
}

// NewSchemaTable creates an empty table.
func NewSchemaTable() *SchemaTable {
	return &SchemaTable{schemas: make(map[string]Schema)}
}

// Register declares the schema of a device type, replacing any previous one.
func (t *SchemaTable) Register(deviceType string, s Schema) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.schemas[deviceType] = s
}

// Lookup returns the schema of a device type.
func (t *SchemaTable) Lookup(deviceType string) (Schema, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	s, ok := t.schemas[deviceType]

	return s, ok
}

// Validate checks a payload against the schema of the device type.
func (t *SchemaTable) Validate(deviceType string, p Payload) error {
	s, _ := t.Lookup(deviceType)
	if err := s.Validate(p); err != nil {
		return fmt.Errorf("device type %q: %w", deviceType, err)
	}

	return nil
}

// DefaultSchemas is the table consulted by Device.Write.
var DefaultSchemas = NewSchemaTable()

func init() {
	DefaultSchemas.Register(TypeCamera, Schema{Kind: KindImage})
	DefaultSchemas.Register(TypeJoint, Schema{
		Kind:        KindScalarMap,
		AllowedKeys: []string{"position", "velocity", "effort"},
	})
	// position(3), orientation quaternion(4), linear(3) and angular(3)
	// velocity.
	DefaultSchemas.Register(TypeLink, Schema{Kind: KindArray, Shape: []int{13}})
	DefaultSchemas.Register(TypeSpiking, Schema{Kind: KindScalarMap})
	DefaultSchemas.Register(TypeGeneric, Schema{})
}
