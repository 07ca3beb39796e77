package device

import (
	"bytes"
	"maps"
	"math"
	"math/bits"
	"slices"
)

// Kind tags the variant held by a Payload.
type Kind uint8

// The payload variants.
const (
	KindNone Kind = iota
	KindScalarMap
	KindArray
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindScalarMap:
		return "scalar_map"
	case KindArray:
		return "array"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

// A Payload is the data carried by a device. The set of implementations is
// closed: ScalarMap, Array and Image.
type Payload interface {
	Kind() Kind

	// Clone returns a deep copy sharing no memory with the receiver.
	Clone() Payload

	// Equal reports bit-level equality with another payload.
	Equal(other Payload) bool
}

// ScalarMap holds named floating-point values, e.g. {"rate": 2000} for a
// spike generator or {"velocity": 1.5} for a joint.
type ScalarMap map[string]float64

// Kind returns KindScalarMap.
func (ScalarMap) Kind() Kind {
	return KindScalarMap
}

// Clone copies the map.
func (m ScalarMap) Clone() Payload {
	return maps.Clone(m)
}

// Keys returns the sorted keys.
func (m ScalarMap) Keys() []string {
	return slices.Sorted(maps.Keys(m))
}

// Equal compares the bit patterns of all values.
func (m ScalarMap) Equal(other Payload) bool {
	o, ok := other.(ScalarMap)
	if !ok || len(o) != len(m) {
		return false
	}

	for k, v := range m {
		ov, found := o[k]
		if !found || math.Float64bits(v) != math.Float64bits(ov) {
			return false
		}
	}

	return true
}

// Array is a dense row-major numeric array.
type Array struct {
	Shape []int
	Data  []float64
}

// Kind returns KindArray.
func (Array) Kind() Kind {
	return KindArray
}

// Clone copies shape and data.
func (a Array) Clone() Payload {
	return Array{Shape: slices.Clone(a.Shape), Data: slices.Clone(a.Data)}
}

// Size returns the number of elements described by the shape, or -1 if a
// dimension is negative or the count does not fit in an int.
func (a Array) Size() int {
	if len(a.Shape) == 0 {
		return 0
	}

	size := 1
	for _, d := range a.Shape {
		if d < 0 {
			return -1
		}

		if d != 0 && size > math.MaxInt/d {
			return -1
		}

		size *= d
	}

	return size
}

// Equal compares shapes and the bit patterns of the elements.
func (a Array) Equal(other Payload) bool {
	o, ok := other.(Array)
	if !ok || !slices.Equal(a.Shape, o.Shape) || len(a.Data) != len(o.Data) {
		return false
	}

	for i := range a.Data {
		if math.Float64bits(a.Data[i]) != math.Float64bits(o.Data[i]) {
			return false
		}
	}

	return true
}

// Image is an interleaved pixel buffer of Width x Height x Depth bytes.
type Image struct {
	Width  uint32
	Height uint32
	Depth  uint32
	Data   []byte
}

// Kind returns KindImage.
func (Image) Kind() Kind {
	return KindImage
}

// Clone copies the pixel buffer.
func (img Image) Clone() Payload {
	c := img
	c.Data = bytes.Clone(img.Data)

	return c
}

// Equal compares dimensions and pixels.
func (img Image) Equal(other Payload) bool {
	o, ok := other.(Image)
	if !ok {
		return false
	}

	return img.Width == o.Width &&
		img.Height == o.Height &&
		img.Depth == o.Depth &&
		bytes.Equal(img.Data, o.Data)
}

// Pixel returns the channels of the pixel at column x and row y. It returns
// nil if the pixel lies outside the image or its buffer.
func (img Image) Pixel(x, y uint32) []byte {
	if x >= img.Width || y >= img.Height {
		return nil
	}

	depth, size := uint64(img.Depth), uint64(len(img.Data))
	hi, start := bits.Mul64(uint64(y)*uint64(img.Width)+uint64(x), depth)
	if hi != 0 || depth > size || start > size-depth {
		return nil
	}

	return img.Data[start : start+depth]
}
