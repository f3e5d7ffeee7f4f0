package authtest

import "fmt"

// BitSet is a fixed-size set of nonce counts, used to tell a replayed
// request from a new one.
type BitSet struct {
	words []uint64
	size  uint64
}

// NewBitSet returns an empty BitSet holding the values [0, size).
func NewBitSet(size uint64) *BitSet {
	return &BitSet{words: make([]uint64, (size+63)/64), size: size}
}

func (b *BitSet) Size() uint64 {
	return b.size
}

func (b *BitSet) locate(n uint64) (int, uint64) {
	if n >= b.size {
		panic(fmt.Errorf("nonce count %d out of range (size: %d)", n, b.size))
	}
	return int(n / 64), 1 << (n % 64)
}

// Get reports whether n was Set.
func (b *BitSet) Get(n uint64) bool {
	w, mask := b.locate(n)
	return b.words[w]&mask != 0
}

func (b *BitSet) Set(n uint64) {
	w, mask := b.locate(n)
	b.words[w] |= mask
}
