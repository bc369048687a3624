// Package userconfig holds the per-account reserve participation bitmap. Each
// reserve slot owns two adjacent bits of a 256-bit word: bit 2*id marks an
// outstanding borrow and bit 2*id+1 marks the reserve as used as collateral.
package userconfig

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

// MaxReserves is the number of reserve slots addressable by a Map.
const MaxReserves = 128

var errInvalidReserveIndex = errors.New("userconfig: reserve index out of range")

// Map is the bit-packed participation record for a single account. The zero
// value is an empty configuration.
type Map struct {
	data uint256.Int
}

// FromBytes decodes a big-endian encoded bitmap as produced by Bytes.
func FromBytes(raw []byte) Map {
	var m Map
	m.data.SetBytes(raw)
	return m
}

// Bytes returns the minimal big-endian encoding of the bitmap.
func (m Map) Bytes() []byte {
	return m.data.Bytes()
}

// Clone returns an independent copy of the bitmap.
func (m Map) Clone() Map {
	var out Map
	out.data.Set(&m.data)
	return out
}

// Equal reports whether both bitmaps hold the same bits.
func (m Map) Equal(other Map) bool {
	return m.data.Eq(&other.data)
}

// SetBorrowing flips the borrowing bit for the reserve slot.
func (m *Map) SetBorrowing(id uint16, borrowing bool) error {
	if id >= MaxReserves {
		return errInvalidReserveIndex
	}
	m.setBit(uint(id)*2, borrowing)
	return nil
}

// SetUsingAsCollateral flips the collateral bit for the reserve slot.
func (m *Map) SetUsingAsCollateral(id uint16, usingAsCollateral bool) error {
	if id >= MaxReserves {
		return errInvalidReserveIndex
	}
	m.setBit(uint(id)*2+1, usingAsCollateral)
	return nil
}

// IsUsingAsCollateralOrBorrowing reports whether either bit is set for the slot.
func (m Map) IsUsingAsCollateralOrBorrowing(id uint16) bool {
	if id >= MaxReserves {
		return false
	}
	return m.bit(uint(id)*2) || m.bit(uint(id)*2+1)
}

// IsBorrowing reports whether the account has debt in the reserve slot.
func (m Map) IsBorrowing(id uint16) bool {
	if id >= MaxReserves {
		return false
	}
	return m.bit(uint(id) * 2)
}

// IsUsingAsCollateral reports whether the reserve slot counts as collateral.
func (m Map) IsUsingAsCollateral(id uint16) bool {
	if id >= MaxReserves {
		return false
	}
	return m.bit(uint(id)*2 + 1)
}

// IsBorrowingAny reports whether any borrowing bit is set.
func (m Map) IsBorrowingAny() bool {
	return m.borrowingBits() != [4]uint64{}
}

// IsBorrowingOne reports whether exactly one borrowing bit is set.
func (m Map) IsBorrowingOne() bool {
	count := 0
	for _, word := range m.borrowingBits() {
		count += bits.OnesCount64(word)
	}
	return count == 1
}

// IsUsingAsCollateralAny reports whether any collateral bit is set.
func (m Map) IsUsingAsCollateralAny() bool {
	masked := m.data
	for i := range masked {
		masked[i] &= collateralMask
	}
	return !masked.IsZero()
}

// IsEmpty reports whether no bit is set.
func (m Map) IsEmpty() bool {
	return m.data.IsZero()
}

// FirstBorrowingIndex returns the lowest reserve slot the account borrows
// from. The boolean is false when the account has no debt.
func (m Map) FirstBorrowingIndex() (uint16, bool) {
	for i, word := range m.borrowingBits() {
		if word == 0 {
			continue
		}
		bit := bits.TrailingZeros64(word)
		return uint16((i*64 + bit) / 2), true
	}
	return 0, false
}

// Slots returns every reserve slot with at least one bit set, ascending.
func (m Map) Slots() []uint16 {
	var out []uint16
	for id := uint16(0); id < MaxReserves; id++ {
		if m.IsUsingAsCollateralOrBorrowing(id) {
			out = append(out, id)
		}
	}
	return out
}

const (
	borrowingMask  uint64 = 0x5555555555555555
	collateralMask uint64 = 0xAAAAAAAAAAAAAAAA
)

func (m Map) borrowingBits() [4]uint64 {
	var out [4]uint64
	for i := range m.data {
		out[i] = m.data[i] & borrowingMask
	}
	return out
}

func (m Map) bit(n uint) bool {
	return m.data[n/64]&(1<<(n%64)) != 0
}

func (m *Map) setBit(n uint, value bool) {
	if value {
		m.data[n/64] |= 1 << (n % 64)
		return
	}
	m.data[n/64] &^= 1 << (n % 64)
}
