package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strconv"
)

// ByteGenerator produces a deterministic byte stream from HMAC-SHA256 keyed by a seed.
// Each round hashes an incrementing counter, so the stream is effectively unbounded.
type ByteGenerator struct {
	key          []byte
	currentRound uint64
	currentPos   int
	buffer       [32]byte
}

// NewByteGenerator creates a generator keyed by seed, positioned at cursor bytes into the stream.
func NewByteGenerator(seed uint32, cursor uint64) *ByteGenerator {
	bg := &ByteGenerator{
		key:          []byte(strconv.FormatUint(uint64(seed), 10)),
		currentRound: cursor / 32,
		currentPos:   int(cursor % 32),
	}

	bg.generateRound()

	return bg
}

// Next returns the next byte from the generator
func (bg *ByteGenerator) Next() byte {
	if bg.currentPos >= 32 {
		bg.currentRound++
		bg.currentPos = 0
		bg.generateRound()
	}

	b := bg.buffer[bg.currentPos]
	bg.currentPos++
	return b
}

// NextFloat generates the next float in [0, 1) using exactly 4 bytes
func (bg *ByteGenerator) NextFloat() float64 {
	b0 := bg.Next()
	b1 := bg.Next()
	b2 := bg.Next()
	b3 := bg.Next()

	return bytesToFloat([4]byte{b0, b1, b2, b3})
}

// Intn returns a value in [0, n). n must be positive.
func (bg *ByteGenerator) Intn(n int) int {
	if n <= 0 {
		panic("engine: Intn called with non-positive bound")
	}
	return int(math.Floor(bg.NextFloat() * float64(n)))
}

// Bool draws a coin flip from the stream.
func (bg *ByteGenerator) Bool() bool {
	return bg.Next()&1 == 1
}

func (bg *ByteGenerator) generateRound() {
	h := hmac.New(sha256.New, bg.key)
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], bg.currentRound)
	h.Write(msg[:])
	copy(bg.buffer[:], h.Sum(nil))
}

// bytesToFloat converts exactly 4 bytes to a float64 in [0, 1)
func bytesToFloat(bytes [4]byte) float64 {
	result := 0.0
	for i, b := range bytes {
		divider := math.Pow(256, float64(i+1))
		result += float64(b) / divider
	}
	return result
}
