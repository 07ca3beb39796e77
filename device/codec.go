package device

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sarchlab/cosim/sim"
)

// encMode produces deterministic bytes: equal devices always encode to equal
// byte strings.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		ShortestFloat: cbor.ShortestFloatNone,
		NaNConvert:    cbor.NaNConvertNone,
		InfConvert:    cbor.InfConvertNone,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create device CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create device CBOR decoder mode: %v", err))
	}
}

type wirePayload struct {
	Kind    Kind               `cbor:"1,keyasint"`
	Scalars map[string]float64 `cbor:"2,keyasint,omitempty"`
	Shape   []int              `cbor:"3,keyasint,omitempty"`
	Values  []float64          `cbor:"4,keyasint,omitempty"`
	Width   uint32             `cbor:"5,keyasint,omitempty"`
	Height  uint32             `cbor:"6,keyasint,omitempty"`
	Depth   uint32             `cbor:"7,keyasint,omitempty"`
	Pixels  []byte             `cbor:"8,keyasint,omitempty"`
}

type wireDevice struct {
	Name       string      `cbor:"1,keyasint"`
	Engine     string      `cbor:"2,keyasint"`
	Type       string      `cbor:"3,keyasint,omitempty"`
	Generation uint64      `cbor:"4,keyasint"`
	Time       float64     `cbor:"5,keyasint"`
	Payload    wirePayload `cbor:"6,keyasint"`
}

func toWirePayload(p Payload) wirePayload {
	switch v := p.(type) {
	case ScalarMap:
		return wirePayload{Kind: KindScalarMap, Scalars: v}
	case Array:
		return wirePayload{Kind: KindArray, Shape: v.Shape, Values: v.Data}
	case Image:
		return wirePayload{
			Kind:   KindImage,
			Width:  v.Width,
			Height: v.Height,
			Depth:  v.Depth,
			Pixels: v.Data,
		}
	default:
		return wirePayload{Kind: KindNone}
	}
}

func (w wirePayload) payload() (Payload, error) {
	switch w.Kind {
	case KindNone:
		return nil, nil
	case KindScalarMap:
		m := ScalarMap(w.Scalars)
		if m == nil {
			m = ScalarMap{}
		}

		return m, nil
	case KindArray:
		return Array{Shape: w.Shape, Data: w.Values}, nil
	case KindImage:
		return Image{
			Width:  w.Width,
			Height: w.Height,
			Depth:  w.Depth,
			Data:   w.Pixels,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %d",
			ErrSchemaMismatch, w.Kind)
	}
}

// MarshalPayload encodes a payload into canonical CBOR.
func MarshalPayload(p Payload) ([]byte, error) {
	return encMode.Marshal(toWirePayload(p))
}

// UnmarshalPayload decodes a payload produced by MarshalPayload.
func UnmarshalPayload(data []byte) (Payload, error) {
	var w wirePayload
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, err
	}

	return w.payload()
}

// Marshal encodes a device, including identifier and generation, into
// canonical CBOR.
func Marshal(d Device) ([]byte, error) {
	return encMode.Marshal(wireDevice{
		Name:       d.id.name,
		Engine:     d.id.engine,
		Type:       d.id.typ,
		Generation: d.generation,
		Time:       float64(d.time),
		Payload:    toWirePayload(d.payload),
	})
}

// Unmarshal decodes a device produced by Marshal. The payload is validated
// against the schema of the device type.
func Unmarshal(data []byte) (Device, error) {
	var w wireDevice
	if err := decMode.Unmarshal(data, &w); err != nil {
		return Device{}, err
	}

	id, err := MakeIdentifier(w.Name, w.Engine, w.Type)
	if err != nil {
		return Device{}, err
	}

	p, err := w.Payload.payload()
	if err != nil {
		return Device{}, err
	}

	d := Device{id: id}
	if p != nil {
		if err := d.Write(p); err != nil {
			return Device{}, err
		}
	}

	return d.Stamped(w.Generation, sim.VTimeInSec(w.Time)), nil
}
