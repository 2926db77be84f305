// Package regval models the width-typed register values and address
// arithmetic used throughout the unwinder (component C1 of the design).
//
// This is the Go equivalent of the width-correct add/sub and sentinel tests
// that probe-rs's debug_info.rs performs on its RegisterValue enum; the
// three-variant shape (32/64/128-bit) is kept because DWARF register values
// on some architectures (SIMD/FP register banks) don't fit in a uint64.
package regval

import "fmt"

// Width is the bit width of a RegisterValue variant.
type Width int

const (
	Width32  Width = 32
	Width64  Width = 64
	Width128 Width = 128
)

// Value is a width-tagged unsigned register value. The zero Value carries no
// valid width: IsZero, IsMaxValue and Narrow panic on it and String renders
// it as invalid -- callers should always construct one of the New* functions.
type Value struct {
	width Width
	lo    uint64 // low 64 bits (or the entire value for Width32/Width64)
	hi    uint64 // high 64 bits, only meaningful for Width128
}

// New32 builds a 32-bit register value.
func New32(v uint32) Value { return Value{width: Width32, lo: uint64(v)} }

// New64 builds a 64-bit register value.
func New64(v uint64) Value { return Value{width: Width64, lo: v} }

// New128 builds a 128-bit register value from its low and high 64-bit halves.
func New128(lo, hi uint64) Value { return Value{width: Width128, lo: lo, hi: hi} }

// Width reports the bit width of the variant actually held.
func (v Value) Width() Width { return v.width }

// IsZero reports whether the value is zero for its width.
func (v Value) IsZero() bool {
	switch v.width {
	case Width32:
		return uint32(v.lo) == 0
	case Width64:
		return v.lo == 0
	case Width128:
		return v.lo == 0 && v.hi == 0
	default:
		panic(fmt.Sprintf("regval: invalid width %d", v.width))
	}
}

// IsMaxValue reports whether the value equals the all-ones pattern of its
// width (0xFFFF_FFFF for 32-bit, and so on).
func (v Value) IsMaxValue() bool {
	switch v.width {
	case Width32:
		return uint32(v.lo) == 0xFFFFFFFF
	case Width64:
		return v.lo == 0xFFFFFFFFFFFFFFFF
	case Width128:
		return v.lo == 0xFFFFFFFFFFFFFFFF && v.hi == 0xFFFFFFFFFFFFFFFF
	default:
		panic(fmt.Sprintf("regval: invalid width %d", v.width))
	}
}

// Narrow attempts a fallible narrowing conversion to a plain uint64. It
// fails only for Width128 values whose high half is non-zero -- the caller
// (typically the unwinder reading the PC register) surfaces this as
// DebugError.Register, per spec §6.
func (v Value) Narrow() (uint64, error) {
	switch v.width {
	case Width32:
		return uint64(uint32(v.lo)), nil
	case Width64:
		return v.lo, nil
	case Width128:
		if v.hi != 0 {
			return 0, fmt.Errorf("regval: 128-bit value %#x%016x does not fit in 64 bits", v.hi, v.lo)
		}
		return v.lo, nil
	default:
		panic(fmt.Sprintf("regval: invalid width %d", v.width))
	}
}

// MustNarrow is Narrow but panics on failure; used only where the caller has
// already established (e.g. via Width()) that narrowing cannot fail.
func (v Value) MustNarrow() uint64 {
	n, err := v.Narrow()
	if err != nil {
		panic(err)
	}
	return n
}

// String renders the value in the conventional hex form for its width.
func (v Value) String() string {
	switch v.width {
	case Width32:
		return fmt.Sprintf("%#08x", uint32(v.lo))
	case Width64:
		return fmt.Sprintf("%#016x", v.lo)
	case Width128:
		return fmt.Sprintf("%#016x%016x", v.hi, v.lo)
	default:
		return "<invalid regval.Value>"
	}
}

// AddToAddress performs sign-correct addition of offset to base, computed in
// the register width given by width (4 or 8 bytes -- any other value is a
// programming error and panics, per spec §4.1). On overflow it returns 0,
// the sentinel the unwinder interprets as "stop" (spec invariant 4); on
// underflow it saturates to 0.
func AddToAddress(base uint64, offset int64, width int) uint64 {
	switch width {
	case 4:
		b := int64(uint32(base))
		sum := b + offset
		if sum < 0 {
			return 0
		}
		if sum > 0xFFFFFFFF {
			return 0
		}
		return uint64(uint32(sum))
	case 8:
		if offset >= 0 {
			sum := base + uint64(offset)
			if sum < base {
				// unsigned overflow
				return 0
			}
			return sum
		}
		neg := uint64(-offset)
		if neg > base {
			return 0
		}
		return base - neg
	default:
		panic(fmt.Sprintf("regval: AddToAddress: unsupported width %d (must be 4 or 8)", width))
	}
}
