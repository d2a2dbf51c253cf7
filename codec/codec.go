// Package codec defines the fixed-width key and value types that can be stored
// in a blockriver index or block store.
//
// Every record in the index and block files has the same size, so keys and
// values are encoded into a fixed number of bytes. A Codec also supplies the
// ordering used to sort entries.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// bin is the byte order used for all encodings.
var bin = binary.LittleEndian

// Codec encodes values of type T into exactly Size() bytes and orders them.
type Codec[T any] interface {
	// Size is the encoded width in bytes.
	Size() int
	// Encode writes v into dst[:Size()].
	Encode(dst []byte, v T)
	// Decode reads a value from src[:Size()].
	Decode(src []byte) T
	// Compare returns -1, 0 or +1.
	Compare(a, b T) int
	// Fits reports whether v can be encoded without loss.
	Fits(v T) bool
}

// Int returns a codec for any integer type. The width follows the type, so
// an int32 takes 4 bytes and an int64 takes 8.
func Int[T constraints.Integer]() Codec[T] {
	var zero T
	return intCodec[T]{size: int(unsafe.Sizeof(zero))}
}

type intCodec[T constraints.Integer] struct {
	size int
}

func (c intCodec[T]) Size() int { return c.size }

func (c intCodec[T]) Encode(dst []byte, v T) {
	switch c.size {
	case 1:
		dst[0] = uint8(v)
	case 2:
		bin.PutUint16(dst, uint16(v))
	case 4:
		bin.PutUint32(dst, uint32(v))
	default:
		bin.PutUint64(dst, uint64(v))
	}
}

func (c intCodec[T]) Decode(src []byte) T {
	switch c.size {
	case 1:
		return T(src[0])
	case 2:
		return T(bin.Uint16(src))
	case 4:
		return T(bin.Uint32(src))
	default:
		return T(bin.Uint64(src))
	}
}

func (c intCodec[T]) Compare(a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (c intCodec[T]) Fits(T) bool { return true }

func (c intCodec[T]) String() string {
	return fmt.Sprintf("int%d", c.size*8)
}

// Float returns a codec for float32 or float64. NaN is rejected by Fits since
// it has no place in a total order.
func Float[T constraints.Float]() Codec[T] {
	var zero T
	return floatCodec[T]{size: int(unsafe.Sizeof(zero))}
}

type floatCodec[T constraints.Float] struct {
	size int
}

func (c floatCodec[T]) Size() int { return c.size }

func (c floatCodec[T]) Encode(dst []byte, v T) {
	if c.size == 4 {
		bin.PutUint32(dst, math.Float32bits(float32(v)))
		return
	}
	bin.PutUint64(dst, math.Float64bits(float64(v)))
}

func (c floatCodec[T]) Decode(src []byte) T {
	if c.size == 4 {
		return T(math.Float32frombits(bin.Uint32(src)))
	}
	return T(math.Float64frombits(bin.Uint64(src)))
}

func (c floatCodec[T]) Compare(a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (c floatCodec[T]) Fits(v T) bool {
	return !math.IsNaN(float64(v))
}

// String returns a codec for strings of at most n bytes, stored NUL padded.
// Strings containing a NUL byte do not fit.
func String(n int) Codec[string] {
	if n <= 0 {
		panic(fmt.Sprintf("codec: invalid string width %d", n))
	}
	return stringCodec{size: n}
}

type stringCodec struct {
	size int
}

func (c stringCodec) Size() int { return c.size }

func (c stringCodec) Encode(dst []byte, v string) {
	n := copy(dst[:c.size], v)
	clear(dst[n:c.size])
}

func (c stringCodec) Decode(src []byte) string {
	src = src[:c.size]
	if i := bytes.IndexByte(src, 0); i >= 0 {
		src = src[:i]
	}
	return string(src)
}

func (c stringCodec) Compare(a, b string) int {
	return strings.Compare(a, b)
}

func (c stringCodec) Fits(v string) bool {
	return len(v) <= c.size && strings.IndexByte(v, 0) < 0
}
