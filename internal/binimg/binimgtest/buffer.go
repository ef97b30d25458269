package binimgtest

import (
	"encoding/binary"
	"sort"
)

// Buffer lays out segment contents at known virtual addresses.
type Buffer struct {
	Base    uint64
	PtrSize int
	Order   binary.ByteOrder
	b       []byte
}

// NewBuffer returns a little-endian buffer starting at base.
func NewBuffer(base uint64, ptrSize int) *Buffer {
	return &Buffer{Base: base, PtrSize: ptrSize, Order: binary.LittleEndian}
}

// Addr returns the VA of the next byte to be written.
func (b *Buffer) Addr() uint64 { return b.Base + uint64(len(b.b)) }

// Bytes returns the contents written so far.
func (b *Buffer) Bytes() []byte { return b.b }

// Align pads to a multiple of n bytes.
func (b *Buffer) Align(n int) {
	for len(b.b)%n != 0 {
		b.b = append(b.b, 0)
	}
}

// Raw appends p and returns its VA.
func (b *Buffer) Raw(p []byte) uint64 {
	va := b.Addr()
	b.b = append(b.b, p...)
	return va
}

// Words appends pointer-width words and returns the VA of the first.
func (b *Buffer) Words(vs ...uint64) uint64 {
	va := b.Addr()
	for _, v := range vs {
		b.b = append(b.b, make([]byte, b.PtrSize)...)
		b.PutWord(b.Addr()-uint64(b.PtrSize), v)
	}
	return va
}

// Uint32s appends 32-bit values and returns the VA of the first.
func (b *Buffer) Uint32s(vs ...uint32) uint64 {
	va := b.Addr()
	for _, v := range vs {
		var w [4]byte
		b.Order.PutUint32(w[:], v)
		b.b = append(b.b, w[:]...)
	}
	return va
}

// Zero appends n zero bytes and returns their VA.
func (b *Buffer) Zero(n int) uint64 {
	va := b.Addr()
	b.b = append(b.b, make([]byte, n)...)
	return va
}

// PutWord overwrites the word at va.
func (b *Buffer) PutWord(va uint64, v uint64) {
	off := va - b.Base
	if b.PtrSize == 8 {
		b.Order.PutUint64(b.b[off:], v)
		return
	}
	b.Order.PutUint32(b.b[off:], uint32(v))
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
