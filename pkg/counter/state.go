package counter

import (
	"math"

	"github.com/code-payments/counter-program/pkg/solana/binary"
)

// StateSize is the encoded size of CounterState, a Borsh u32.
const StateSize = 4

// CounterState is the value stored at offset 0 of every counter account.
type CounterState struct {
	Counter uint32
}

// Unmarshal decodes the state from the first StateSize bytes of b. Trailing bytes
// are ignored.
func (s *CounterState) Unmarshal(b []byte) error {
	if len(b) < StateSize {
		return ErrInvalidEncoding
	}

	var offset int
	binary.GetUint32(b, &s.Counter, &offset)
	return nil
}

// Marshal returns the StateSize byte encoding of s.
func (s CounterState) Marshal() []byte {
	b := make([]byte, StateSize)
	_ = s.MarshalInto(b)
	return b
}

// MarshalInto overwrites the first StateSize bytes of dst with s, leaving the rest
// of dst untouched.
func (s CounterState) MarshalInto(dst []byte) error {
	if len(dst) < StateSize {
		return ErrInvalidEncoding
	}

	var offset int
	binary.PutUint32(dst, s.Counter, &offset)
	return nil
}

// Next returns the state after one increment. The counter never wraps: at
// math.MaxUint32 Next fails with ErrOverflow.
func (s CounterState) Next() (CounterState, error) {
	if s.Counter == math.MaxUint32 {
		return s, ErrOverflow
	}
	return CounterState{Counter: s.Counter + 1}, nil
}
