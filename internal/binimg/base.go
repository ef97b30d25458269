package binimg

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// base implements the format-independent part of Image. Each format only
// supplies the section map, symbols and header facts.
type base struct {
	data      []byte
	format    Format
	container Format
	ptrSize   int
	order     binary.ByteOrder
	machine   Machine
	sections  *SectionMap

	// symbols is loaded lazily; nil func means the format has none.
	loadSymbols func() (map[string]uint64, error)
	symOnce     sync.Once
	symbols     map[string]uint64
	symErr      error
}

func (b *base) Format() Format { return b.format }

func (b *base) Container() Format {
	if b.container == FormatUnknown {
		return b.format
	}
	return b.container
}

func (b *base) PointerSize() int            { return b.ptrSize }
func (b *base) ByteOrder() binary.ByteOrder { return b.order }
func (b *base) Machine() Machine            { return b.machine }
func (b *base) Sections() *SectionMap       { return b.sections }
func (b *base) Bytes() []byte               { return b.data }

// DataSections returns non-executable sections, or every section when the
// image has a single mixed-permission mapping.
func (b *base) DataSections() []Section {
	secs := b.sections.filter(func(s Section) bool { return !s.Exec })
	if len(secs) == 0 {
		return b.sections.All()
	}
	return secs
}

func (b *base) ExecSections() []Section {
	return b.sections.filter(func(s Section) bool { return s.Exec })
}

func (b *base) MapVA(va uint64) (uint64, error) {
	return b.sections.MapVA(va)
}

func (b *base) ReadAt(va uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("binimg: negative read length %d", n)
	}
	buf, err := b.sections.span(va, uint64(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf)
	return out, nil
}

func (b *base) word(buf []byte) uint64 {
	if b.ptrSize == 8 {
		return b.order.Uint64(buf)
	}
	return uint64(b.order.Uint32(buf))
}

func (b *base) ReadPointer(va uint64) (uint64, error) {
	buf, err := b.sections.span(va, uint64(b.ptrSize))
	if err != nil {
		return 0, err
	}
	return b.word(buf), nil
}

func (b *base) ReadPointers(va uint64, count int) ([]uint64, error) {
	if count < 0 {
		return nil, fmt.Errorf("binimg: negative pointer count %d", count)
	}
	if count == 0 {
		return nil, nil
	}
	ps := uint64(b.ptrSize)
	buf, err := b.sections.span(va, uint64(count)*ps)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		out[i] = b.word(buf[uint64(i)*ps:])
	}
	return out, nil
}

func (b *base) ReadUint32(va uint64) (uint32, error) {
	buf, err := b.sections.span(va, 4)
	if err != nil {
		return 0, err
	}
	return b.order.Uint32(buf), nil
}

func (b *base) ReadInt32s(va uint64, count int) ([]int32, error) {
	if count < 0 {
		return nil, fmt.Errorf("binimg: negative int32 count %d", count)
	}
	if count == 0 {
		return nil, nil
	}
	buf, err := b.sections.span(va, uint64(count)*4)
	if err != nil {
		return nil, err
	}
	out := make([]int32, count)
	for i := range out {
		out[i] = int32(b.order.Uint32(buf[i*4:]))
	}
	return out, nil
}

// Symbol returns the address of the first name found. Each name is also
// tried with a leading underscore, the Mach-O C symbol convention.
func (b *base) Symbol(names ...string) (uint64, error) {
	b.symOnce.Do(func() {
		if b.loadSymbols == nil {
			b.symErr = ErrNoSymbols
			return
		}
		b.symbols, b.symErr = b.loadSymbols()
	})
	if b.symErr != nil {
		return 0, b.symErr
	}
	for _, name := range names {
		if va, ok := b.symbols[name]; ok {
			return va, nil
		}
		if va, ok := b.symbols["_"+name]; ok {
			return va, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrSymbolNotFound, names)
}
