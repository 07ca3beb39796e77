// Package device defines the unit of data exchanged between engines.
//
// A Device is a value: copying it is safe because its payload is never
// handed out without cloning, so no two owners can observe each other's
// mutations.
package device

import (
	"fmt"

	"github.com/sarchlab/cosim/sim"
)

// A Device is a typed, generation-stamped value addressed by an Identifier.
type Device struct {
	id         Identifier
	generation uint64
	time       sim.VTimeInSec
	payload    Payload
}

// New creates a device holding a copy of the payload. The payload must
// conform to the schema of the identifier's type.
func New(id Identifier, payload Payload) (Device, error) {
	d := Device{id: id}

	if err := d.Write(payload); err != nil {
		return Device{}, err
	}

	return d, nil
}

// MustNew is New that panics on error.
func MustNew(id Identifier, payload Payload) Device {
	d, err := New(id, payload)
	if err != nil {
		panic(err)
	}

	return d
}

// ID returns the identifier of the device.
func (d Device) ID() Identifier {
	return d.id
}

// Generation returns the step that produced this value.
func (d Device) Generation() uint64 {
	return d.generation
}

// Time returns the simulation time at which this value was produced.
func (d Device) Time() sim.VTimeInSec {
	return d.time
}

// Stamped returns a copy of the device marked as produced by the given
// generation at the given time.
func (d Device) Stamped(generation uint64, t sim.VTimeInSec) Device {
	d.generation = generation
	d.time = t

	return d
}

// HasPayload tells if a payload has been written.
func (d Device) HasPayload() bool {
	return d.payload != nil
}

// Payload returns a copy of the payload.
func (d Device) Payload() Payload {
	if d.payload == nil {
		return nil
	}

	return d.payload.Clone()
}

// Read returns a copy of the payload, failing if it is not of the expected
// kind.
func (d Device) Read(kind Kind) (Payload, error) {
	if d.payload == nil {
		return nil, fmt.Errorf("%w: device %s has no payload",
			ErrSchemaMismatch, d.id)
	}

	if kind != KindNone && d.payload.Kind() != kind {
		return nil, fmt.Errorf("%w: device %s holds %s, read as %s",
			ErrSchemaMismatch, d.id, d.payload.Kind(), kind)
	}

	return d.payload.Clone(), nil
}

// Write replaces the payload with a copy of p after checking it against the
// schema of the device type.
func (d *Device) Write(p Payload) error {
	if err := DefaultSchemas.Validate(d.id.typ, p); err != nil {
		return fmt.Errorf("device %s: %w", d.id, err)
	}

	d.payload = p.Clone()

	return nil
}

// ScalarMap reads the payload as a ScalarMap.
func (d Device) ScalarMap() (ScalarMap, error) {
	p, err := d.Read(KindScalarMap)
	if err != nil {
		return nil, err
	}

	return p.(ScalarMap), nil
}

// Scalar reads one named value of a ScalarMap payload.
func (d Device) Scalar(key string) (float64, error) {
	m, err := d.ScalarMap()
	if err != nil {
		return 0, err
	}

	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("%w: device %s has no key %q",
			ErrSchemaMismatch, d.id, key)
	}

	return v, nil
}

// Image reads the payload as an Image.
func (d Device) Image() (Image, error) {
	p, err := d.Read(KindImage)
	if err != nil {
		return Image{}, err
	}

	return p.(Image), nil
}

// Array reads the payload as an Array.
func (d Device) Array() (Array, error) {
	p, err := d.Read(KindArray)
	if err != nil {
		return Array{}, err
	}

	return p.(Array), nil
}

func (d Device) String() string {
	kind := KindNone
	if d.payload != nil {
		kind = d.payload.Kind()
	}

	return fmt.Sprintf("%s@%d(%s)", d.id, d.generation, kind)
}
