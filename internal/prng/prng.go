// SPDX-License-Identifier: MIT

// Package prng implements the seeded pseudo-random number generator used for
// server-authoritative dice rolls.
//
// # Determinism
//
// A PRNG is fully determined by its seed string. Sessions store a base seed
// and derive one generator per roll with the seed "{base}-{rollIndex}", so
// replaying a committed action log reproduces every die exactly.
package prng

import (
	"hash/fnv"
	"strconv"
)

// PRNG is a mulberry32 generator. It never suspends and is safe to copy.
type PRNG struct {
	state uint32
}

// New returns a generator seeded from the given string. The seed is folded
// through FNV-1a so arbitrary-length strings map onto the 32-bit state.
func New(seed string) *PRNG {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return &PRNG{state: h.Sum32()}
}

// RollSeed derives the per-roll seed string for a session base seed.
func RollSeed(base string, rollIndex int) string {
	return base + "-" + strconv.Itoa(rollIndex)
}

// NextUint32 advances the generator and returns the next 32-bit value.
func (p *PRNG) NextUint32() uint32 {
	p.state += 0x6D2B79F5
	z := p.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	return z ^ (z >> 14)
}

// NextFloat returns a value in [0, 1).
func (p *PRNG) NextFloat() float64 {
	return float64(p.NextUint32()) / 4294967296.0
}

// Roll returns a uniform face value in [1, faces]. faces must be positive.
func (p *PRNG) Roll(faces int) int {
	if faces <= 0 {
		return 0
	}
	return 1 + int(p.NextFloat()*float64(faces))
}
