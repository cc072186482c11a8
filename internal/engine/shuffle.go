package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// seedModulus bounds derived seeds to the positive int32 range.
const seedModulus = 2147483647

var (
	// ErrOddCount is returned when an odd number of indices is requested.
	ErrOddCount = errors.New("engine: index count must be even")
	// ErrNotEnoughPairs is returned when the range cannot supply the requested pairs.
	ErrNotEnoughPairs = errors.New("engine: not enough index pairs in range")
)

// SeedFromDate derives the daily seed: the first four bytes of SHA-256(date),
// read big-endian and reduced modulo 2^31-1.
func SeedFromDate(date string) uint32 {
	sum := sha256.Sum256([]byte(date))
	return binary.BigEndian.Uint32(sum[:4]) % seedModulus
}

// GenerateDistinctIndices returns count indices from [min, max] grouped as count/2
// adjacent pairs (i, i+1). Candidate pairs never overlap, so every index is distinct.
// Pairs are chosen with a Fisher-Yates shuffle and each pair's order is decided by
// a coin flip, all drawn from the seeded stream. The output is reproducible for
// identical arguments.
func GenerateDistinctIndices(seed uint32, min, max, count int) ([]int, error) {
	if count%2 != 0 {
		return nil, fmt.Errorf("%w: got %d", ErrOddCount, count)
	}
	if count < 0 || max < min {
		return nil, fmt.Errorf("engine: invalid range [%d, %d] for %d indices", min, max, count)
	}

	var candidates [][2]int
	for i := min; i+1 <= max; i += 2 {
		candidates = append(candidates, [2]int{i, i + 1})
	}

	want := count / 2
	if want > len(candidates) {
		return nil, fmt.Errorf("%w: want %d, have %d", ErrNotEnoughPairs, want, len(candidates))
	}

	bg := NewByteGenerator(seed, 0)
	for i := len(candidates) - 1; i > 0; i-- {
		j := bg.Intn(i + 1)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	out := make([]int, 0, count)
	for _, pair := range candidates[:want] {
		if bg.Bool() {
			out = append(out, pair[1], pair[0])
		} else {
			out = append(out, pair[0], pair[1])
		}
	}
	return out, nil
}
