// Package il2cpptest assembles synthetic version 24 IL2CPP binaries with
// a known CodeRegistration and MetadataRegistration.
package il2cpptest

import (
	"debug/elf"

	"il2cppdump/internal/binimg/binimgtest"
	"il2cppdump/internal/il2cpp"
)

const (
	Version = 24

	CodeVA = 0x400000
	DataVA = 0x600000

	codeSize  = 0x1000
	codeWords = 14 // seven pairs at version 24
	metaWords = 16 // eight pairs at version 24
	padWords  = 16
)

// Builder lays out both roots at the start of the data segment followed by
// the arrays they reference. Roots come first so scanning modes never see
// a partial candidate before the real one.
type Builder struct {
	Buf *binimgtest.Buffer

	code, meta, decoy uint64
	single            bool

	methods  []uint64
	generics []uint64
	invokers []uint64
	attrs    []uint64
	usages   []uint64
	types    []uint64
	insts    []uint64
	gmt      [][3]int32
	specs    [][3]int32
	offsets  [][]int32
}

// Options shapes the data segment.
type Options struct {
	// Decoy places a second MetadataRegistration ahead of the real one whose
	// counts are self-consistent but disagree with the type definition count.
	Decoy bool
	// SingleSegment lays code and data out in one RWX segment starting at
	// CodeVA, with the data right after the code.
	SingleSegment bool
}

func New(opts Options) *Builder {
	base := uint64(DataVA)
	if opts.SingleSegment {
		base = CodeVA + codeSize
	}
	b := &Builder{Buf: binimgtest.NewBuffer(base, 8), single: opts.SingleSegment}
	b.code = b.Buf.Zero(codeWords * 8)
	b.Buf.Zero(padWords * 8)
	if opts.Decoy {
		b.decoy = b.Buf.Zero(metaWords * 8)
		b.Buf.Zero(padWords * 8)
	}
	b.meta = b.Buf.Zero(metaWords * 8)
	b.Buf.Zero(padWords * 8)
	return b
}

// Code returns the address of the i-th function in the code segment. Each
// slot is a run of x86 ret instructions.
func Code(i int) uint64 { return CodeVA + 0x10*uint64(i) }

func (b *Builder) MethodPointers(vs ...uint64) { b.methods = append(b.methods, vs...) }
func (b *Builder) Invokers(vs ...uint64)       { b.invokers = append(b.invokers, vs...) }

func (b *Builder) AttributeGenerators(vs ...uint64) { b.attrs = append(b.attrs, vs...) }

// GenericMethod registers ptr as an instantiation of method definition
// methodDef through one method spec and one generic method table entry.
func (b *Builder) GenericMethod(methodDef int32, ptr uint64) {
	b.specs = append(b.specs, [3]int32{methodDef, -1, -1})
	b.gmt = append(b.gmt, [3]int32{int32(len(b.specs) - 1), int32(len(b.generics)), 0})
	b.generics = append(b.generics, ptr)
}

// UsageSlots allocates n metadata usage slots and returns their addresses.
func (b *Builder) UsageSlots(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = b.Buf.Words(0)
	}
	b.usages = append(b.usages, out...)
	return out
}

// FieldOffsets sets the per-type offset arrays; nil marks a type without
// instance fields. Its length is the type definition count.
func (b *Builder) FieldOffsets(perType ...[]int32) { b.offsets = perType }

// Type appends an Il2CppType and returns its handle.
func (b *Builder) Type(kind il2cpp.TypeKind, data uint64) uint64 {
	return b.Buf.Words(data, uint64(kind)<<16)
}

// GenericClass appends an Il2CppGenericClass over typeDef with the given
// argument handles and returns its address.
func (b *Builder) GenericClass(typeDef int32, args ...uint64) uint64 {
	argv := b.Buf.Words(args...)
	inst := b.Buf.Words(uint64(len(args)), argv)
	b.insts = append(b.insts, inst)
	return b.Buf.Words(uint64(uint32(typeDef)), inst, 0, 0)
}

// ArrayType appends an Il2CppArrayType and returns its address.
func (b *Builder) ArrayType(elem uint64, rank uint8) uint64 {
	return b.Buf.Words(elem, uint64(rank), 0, 0)
}

// Types sets the handle table of the MetadataRegistration.
func (b *Builder) Types(handles ...uint64) { b.types = handles }

// Image is a built binary.
type Image struct {
	Segments                  []binimgtest.Segment
	CodeRegistration          uint64
	MetadataRegistration      uint64
	DecoyMetadataRegistration uint64
}

// ELF returns the image as an x86-64 ELF shared object.
func (im *Image) ELF() []byte { return binimgtest.ELF64(elf.EM_X86_64, im.Segments...) }

func (b *Builder) array(vs []uint64) (uint64, uint64) {
	if len(vs) == 0 {
		return 0, 0
	}
	return uint64(len(vs)), b.Buf.Words(vs...)
}

func (b *Builder) triples(vs [][3]int32) (uint64, uint64) {
	if len(vs) == 0 {
		return 0, 0
	}
	va := b.Buf.Addr()
	for _, t := range vs {
		b.Buf.Uint32s(uint32(t[0]), uint32(t[1]), uint32(t[2]))
	}
	b.Buf.Align(8)
	return uint64(len(vs)), va
}

func (b *Builder) putWords(va uint64, ws ...uint64) {
	for i, w := range ws {
		b.Buf.PutWord(va+8*uint64(i), w)
	}
}

// Build writes the arrays and fills in both roots.
func (b *Builder) Build() *Image {
	if b.decoy != 0 && len(b.offsets) < 2 {
		panic("il2cpptest: a decoy needs at least two type definitions")
	}

	mpc, mp := b.array(b.methods)
	gpc, gp := b.array(b.generics)
	ipc, ip := b.array(b.invokers)
	cac, ca := b.array(b.attrs)
	b.putWords(b.code,
		mpc, mp,
		0, 0, // reversePInvokeWrappers
		gpc, gp,
		ipc, ip,
		cac, ca,
		0, 0, // unresolvedVirtualCallPointers
		0, 0, // interopData
	)

	gic, gi := b.array(b.insts)
	gmc, gm := b.triples(b.gmt)
	tc, tv := b.array(b.types)
	msc, ms := b.triples(b.specs)
	perType := make([]uint64, len(b.offsets))
	for i, fo := range b.offsets {
		if fo == nil {
			continue
		}
		perType[i] = b.Buf.Addr()
		for _, v := range fo {
			b.Buf.Uint32s(uint32(v))
		}
		b.Buf.Align(8)
	}
	foc, fov := b.array(perType)
	sizes := make([]uint64, len(b.offsets))
	for i := range sizes {
		sizes[i] = b.Buf.Words(0x10, 0x10, 0x10, 0)
	}
	tdc, tdv := b.array(sizes)
	muc, mu := b.array(b.usages)
	words := []uint64{
		0, 0, // genericClasses
		gic, gi,
		gmc, gm,
		tc, tv,
		msc, ms,
		foc, fov,
		tdc, tdv,
		muc, mu,
	}
	b.putWords(b.meta, words...)
	if b.decoy != 0 {
		words[10], words[12] = 1, 1
		b.putWords(b.decoy, words...)
	}

	text := make([]byte, codeSize)
	for i := range text {
		text[i] = 0xC3
	}
	segs := []binimgtest.Segment{
		{Name: "__TEXT", VA: CodeVA, Data: text, Exec: true},
		{Name: "__DATA", VA: DataVA, Data: b.Buf.Bytes()},
	}
	if b.single {
		segs = []binimgtest.Segment{
			{Name: "LOAD", VA: CodeVA, Data: append(text, b.Buf.Bytes()...), Exec: true, Write: true},
		}
	}
	return &Image{
		Segments:                  segs,
		CodeRegistration:          b.code,
		MetadataRegistration:      b.meta,
		DecoyMetadataRegistration: b.decoy,
	}
}
