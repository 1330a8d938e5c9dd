// Package prng implements the thread-local uniform random source the
// contention manager uses for randomized exponential backoff (spec.md
// C6). It is intentionally minimal: the core only ever needs Next and
// Jump, so that is the entire surface.
//
// Each goroutine that runs a transaction engine gets its own generator,
// seeded by copying a shared root generator and then advancing the root
// past the copy's future output with Jump — the same decorrelation
// technique xoroshiro/xoshiro generator families use to hand out
// non-overlapping streams to parallel callers from one seed.
package prng

import "sync"

// stateWords is the size of the generator's internal state, matching an
// 8-word xoshiro-family generator.
const stateWords = 8

// Generator is a small, fast, non-cryptographic PRNG. The zero value is
// not valid; use New or Root.Derive to construct one.
type Generator struct {
	s [stateWords]uint64
}

// seed is the fixed, reproducible initial state for the process-wide root
// generator. Using fixed constants (rather than a time-based seed) keeps
// runs reproducible, which matters for debugging contention manager
// backoff behavior.
var seed = [stateWords]uint64{
	0xed114a1b1329f214, 0x1b427ba78e4b653d,
	0xfce4fff14ee4f6b8, 0x12e92ae6e6d06e93,
	0x0024f3617b58cad1, 0xc4322d77c43148b3,
	0x212a99a34d466ac7, 0x785347b3b1c0e816,
}

// jumpPoly is the jump polynomial: advancing the generator by Jump is
// equivalent to 2^256 calls to Next, computed via this fixed set of
// coefficients rather than by actually looping that many times.
var jumpPoly = [stateWords]uint64{
	0x33ed89b6e7a353f9, 0x760083d7955323be,
	0x2837f2fbb5f22fae, 0x4b8c5674d309511c,
	0xb11ac47a7ba28c25, 0xf1be7667092bcc1c,
	0x53851efdb6df0aaf, 0x1ebbc8b23eaf25db,
}

func rotl(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

// New returns a Generator seeded with the module's fixed initial state.
// Most callers should go through Root instead, so that concurrently
// created generators are decorrelated via Jump.
func New() *Generator {
	g := &Generator{}
	copy(g.s[:], seed[:])
	return g
}

// Next returns the next pseudo-random 64-bit value and advances the
// generator's state.
func (g *Generator) Next() uint64 {
	result := rotl(g.s[0]+g.s[2], 17) + g.s[2]

	t := g.s[1] << 11

	g.s[2] ^= g.s[0]
	g.s[5] ^= g.s[1]
	g.s[1] ^= g.s[2]
	g.s[7] ^= g.s[3]
	g.s[3] ^= g.s[4]
	g.s[4] ^= g.s[5]
	g.s[0] ^= g.s[6]
	g.s[6] ^= g.s[7]

	g.s[6] ^= t
	g.s[7] = rotl(g.s[7], 21)

	return result
}

// Jump advances the generator's state as if Next had been called an
// astronomically large number of times, producing a stream that does not
// overlap with the stream before the jump. It is used to decorrelate
// per-thread generators derived from one shared root.
func (g *Generator) Jump() {
	var acc [stateWords]uint64
	for _, word := range jumpPoly {
		for b := 0; b < 64; b++ {
			if word&(uint64(1)<<uint(b)) != 0 {
				for w := range acc {
					acc[w] ^= g.s[w]
				}
			}
			g.Next()
		}
	}
	g.s = acc
}

// Root is a process-wide generator used only to mint per-thread
// Generators via Derive; it is never consumed directly for backoff
// decisions.
type Root struct {
	mu  sync.Mutex
	gen Generator
}

// NewRoot returns a Root seeded with the module's fixed initial state.
func NewRoot() *Root {
	r := &Root{}
	copy(r.gen.s[:], seed[:])
	return r
}

// Derive returns a new Generator copied from the root's current state,
// then advances the root with Jump so the next Derive call starts from a
// non-overlapping stream. Safe for concurrent use.
func (r *Root) Derive() *Generator {
	r.mu.Lock()
	defer r.mu.Unlock()

	child := r.gen
	r.gen.Jump()
	return &child
}
