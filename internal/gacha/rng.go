package gacha

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
)

// RandomSource yields uniform floats in [0, 1). Every roll consumes exactly
// two values: one for the tier, one for the entry inside it.
type RandomSource interface {
	Float64() float64
}

// cryptoSource is the production source.
type cryptoSource struct{}

func (cryptoSource) Float64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return mrand.Float64()
	}
	// top 53 bits fill the float64 mantissa exactly
	return float64(binary.LittleEndian.Uint64(b[:])>>11) / (1 << 53)
}

// DefaultRNG returns the crypto-backed source used when none is injected.
func DefaultRNG() RandomSource { return cryptoSource{} }

type pcgSource struct{ r *mrand.Rand }

func (p *pcgSource) Float64() float64 { return p.r.Float64() }

// NewSeededRNG returns a deterministic PCG source. It is not safe for
// concurrent use.
func NewSeededRNG(seed uint64) RandomSource {
	return &pcgSource{r: mrand.New(mrand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// FuncRNG adapts a plain function to RandomSource.
type FuncRNG func() float64

func (f FuncRNG) Float64() float64 { return f() }

// Sequence replays Values in order and then keeps returning the last one.
type Sequence struct {
	Values []float64
	next   int
}

func (s *Sequence) Float64() float64 {
	switch {
	case len(s.Values) == 0:
		return 0
	case s.next >= len(s.Values):
		return s.Values[len(s.Values)-1]
	}
	v := s.Values[s.next]
	s.next++
	return v
}
