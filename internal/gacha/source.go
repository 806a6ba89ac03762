package gacha

import (
	"crypto/rand"
	"encoding/binary"
)

// DrawSource produces the random draw fed into Select. Implementations must
// return values uniformly distributed in [0, WeightSum). The source is
// injected into the Service so tests can substitute deterministic draws.
type DrawSource interface {
	Draw() float64
}

// cryptoSource implements DrawSource using crypto/rand.
//
// Invariant: All values produced are uniformly distributed in [0, WeightSum).
type cryptoSource struct{}

// NewCryptoSource returns a DrawSource backed by crypto/rand.
//
// Postcondition: Every value returned by Draw is in [0, WeightSum).
func NewCryptoSource() DrawSource {
	return &cryptoSource{}
}

// Draw returns a cryptographically secure uniform float64 in [0, WeightSum).
//
// Panics with "gacha: crypto/rand failure: <err>" if crypto/rand fails; a
// broken system entropy source is not a recoverable request error.
func (c *cryptoSource) Draw() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("gacha: crypto/rand failure: " + err.Error())
	}
	// 53 random mantissa bits give a uniform fraction in [0, 1) that is
	// exactly representable as a float64; scaling by WeightSum keeps the
	// result strictly below WeightSum.
	frac := float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
	return frac * WeightSum
}
