package multipart

import (
	"errors"
	"fmt"
	"math/bits"
)

// MaxPartNumber is the exclusive upper bound on part numbers.
const MaxPartNumber = 10000

// ErrPartNumberOutOfRange is returned for part numbers outside [1, MaxPartNumber).
var ErrPartNumberOutOfRange = errors.New("part number out of range")

// PartTracker records which part numbers of an upload have been seen. It is
// a growable bit set sized to the highest part number added.
type PartTracker struct {
	words []uint64
	max   int
	count int
}

// NewPartTracker returns an empty tracker.
func NewPartTracker() *PartTracker {
	return &PartTracker{}
}

func checkPartNumber(n int) error {
	if n < 1 || n >= MaxPartNumber {
		return fmt.Errorf("%w: %d", ErrPartNumberOutOfRange, n)
	}
	return nil
}

// Add records part n.
func (t *PartTracker) Add(n int) error {
	if err := checkPartNumber(n); err != nil {
		return err
	}

	word := n / 64
	if word >= len(t.words) {
		grown := make([]uint64, word+1)
		copy(grown, t.words)
		t.words = grown
	}

	mask := uint64(1) << (n % 64)
	if t.words[word]&mask == 0 {
		t.words[word] |= mask
		t.count++
	}
	if n > t.max {
		t.max = n
	}
	return nil
}

// Has reports whether part n was recorded.
func (t *PartTracker) Has(n int) (bool, error) {
	if err := checkPartNumber(n); err != nil {
		return false, err
	}
	if n > t.max {
		return false, nil
	}
	return t.words[n/64]&(uint64(1)<<(n%64)) != 0, nil
}

// Max returns the highest recorded part number, or 0 when empty.
func (t *PartTracker) Max() int {
	return t.max
}

// Len returns the number of distinct parts recorded.
func (t *PartTracker) Len() int {
	return t.count
}

// IsComplete reports whether every part in [1, Max()] was recorded. An
// empty tracker is never complete.
func (t *PartTracker) IsComplete() bool {
	if t.max == 0 {
		return false
	}
	// Bit 0 is never set, so [1, max] is complete exactly when the number
	// of set bits equals max.
	return t.count == t.max
}

// Missing returns up to limit part numbers in [1, Max()] that were not
// recorded. A limit of zero or less returns all of them.
func (t *PartTracker) Missing(limit int) []int {
	var out []int
	for i, w := range t.words {
		unset := ^w
		if i == 0 {
			unset &^= 1
		}
		for unset != 0 {
			n := i*64 + bits.TrailingZeros64(unset)
			if n > t.max {
				return out
			}
			out = append(out, n)
			if limit > 0 && len(out) == limit {
				return out
			}
			unset &= unset - 1
		}
	}
	return out
}
