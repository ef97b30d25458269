package binimg

import (
	"debug/elf"
	"debug/pe"
	"encoding/binary"
	"testing"

	"github.com/blacktop/go-macho/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"il2cppdump/internal/binimg/binimgtest"
)

var (
	x86Ret   = []byte{0xC3, 0x90, 0x90, 0x90}
	arm64Ret = []byte{0xC0, 0x03, 0x5F, 0xD6}
)

func codeSeg(va uint64, code []byte) binimgtest.Segment {
	return binimgtest.Segment{Name: "__TEXT", VA: va, Data: code, Exec: true}
}

func dataSeg(va uint64, n int) binimgtest.Segment {
	d := make([]byte, n)
	for i := range d {
		d[i] = byte(i)
	}
	return binimgtest.Segment{Name: "__DATA", VA: va, Data: d}
}

func TestOpenELF64(t *testing.T) {
	raw := binimgtest.ELF64(elf.EM_X86_64, codeSeg(0x1000, x86Ret), dataSeg(0x4000, 64))
	img, err := Open(raw, Options{})
	require.NoError(t, err)

	assert.Equal(t, FormatELF64, img.Format())
	assert.Equal(t, FormatELF64, img.Container())
	assert.Equal(t, 8, img.PointerSize())
	assert.Equal(t, MachineX86_64, img.Machine())
	require.Equal(t, 2, img.Sections().Len())
	require.Len(t, img.ExecSections(), 1)
	require.Len(t, img.DataSections(), 1)

	p, err := img.ReadPointer(0x4008)
	require.NoError(t, err)
	assert.Equal(t, binary.LittleEndian.Uint64([]byte{8, 9, 10, 11, 12, 13, 14, 15}), p)

	ps, err := img.ReadPointers(0x4000, 8)
	require.NoError(t, err)
	assert.Len(t, ps, 8)

	_, err = img.ReadPointers(0x4000, 9)
	require.ErrorIs(t, err, ErrUnmapped)

	u, err := img.ReadUint32(0x4004)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x07060504), u)

	is, err := img.ReadInt32s(0x4000, 2)
	require.NoError(t, err)
	assert.Equal(t, []int32{0x03020100, 0x07060504}, is)

	assert.True(t, img.ProbeCode(0x1000))
	assert.False(t, img.ProbeCode(0x4000), "data section")
	assert.False(t, img.ProbeCode(0x9000), "unmapped")

	_, err = img.Symbol("g_CodeRegistration")
	require.ErrorIs(t, err, ErrNoSymbols)
}

func TestOpenELF32(t *testing.T) {
	raw := binimgtest.ELF32(elf.EM_ARM, codeSeg(0x1000, arm64Ret), dataSeg(0x4000, 32))
	img, err := Open(raw, Options{})
	require.NoError(t, err)

	assert.Equal(t, FormatELF32, img.Format())
	assert.Equal(t, 4, img.PointerSize())
	assert.Equal(t, MachineARM, img.Machine())

	p, err := img.ReadPointer(0x4004)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x07060504), p)

	assert.True(t, img.ProbeCode(0x1001), "thumb bit")
}

func TestOpenPE64(t *testing.T) {
	const base = 0x180000000
	raw := binimgtest.PE64(pe.IMAGE_FILE_MACHINE_AMD64, base,
		binimgtest.Segment{Name: ".text", VA: base + 0x1000, Data: x86Ret, Exec: true},
		binimgtest.Segment{Name: ".data", VA: base + 0x2000, Data: make([]byte, 32)},
	)
	f, err := Detect(raw)
	require.NoError(t, err)
	require.Equal(t, FormatPE, f)

	img, err := Open(raw, Options{})
	require.NoError(t, err)
	assert.Equal(t, 8, img.PointerSize())
	assert.Equal(t, MachineX86_64, img.Machine())

	off, err := img.MapVA(base + 0x2010)
	require.NoError(t, err)
	s, ok := img.Sections().Lookup(base + 0x2010)
	require.True(t, ok)
	assert.Equal(t, ".data", s.Name)
	assert.Equal(t, s.FileStart+0x10, off)

	assert.True(t, img.ProbeCode(base+0x1000))

	_, err = img.Symbol("g_CodeRegistration")
	require.ErrorIs(t, err, ErrNoSymbols)
}

func TestOpenMachO64Symbols(t *testing.T) {
	raw := binimgtest.MachO64(types.CPUArm64,
		[]binimgtest.Segment{codeSeg(0x100000000, arm64Ret), dataSeg(0x100004000, 64)},
		map[string]uint64{"_g_CodeRegistration": 0x100004010, "_g_MetadataRegistration": 0x100004020},
	)
	img, err := Open(raw, Options{})
	require.NoError(t, err)

	assert.Equal(t, FormatMachO64, img.Format())
	assert.Equal(t, MachineARM64, img.Machine())
	assert.Equal(t, 8, img.PointerSize())
	assert.True(t, img.ProbeCode(0x100000000))

	va, err := img.Symbol("g_CodeRegistration")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100004010), va)

	_, err = img.Symbol("g_Missing")
	require.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestOpenMachO32(t *testing.T) {
	raw := binimgtest.MachO32(types.CPUArm, []binimgtest.Segment{codeSeg(0x4000, arm64Ret), dataSeg(0x8000, 16)}, nil)
	img, err := Open(raw, Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatMachO32, img.Format())
	assert.Equal(t, 4, img.PointerSize())

	_, err = img.Symbol("g_CodeRegistration")
	require.ErrorIs(t, err, ErrNoSymbols)
}

func TestOpenMachO32I386(t *testing.T) {
	raw := binimgtest.MachO32(types.CPUI386, []binimgtest.Segment{codeSeg(0x4000, x86Ret), dataSeg(0x8000, 16)}, nil)
	img, err := Open(raw, Options{})
	require.NoError(t, err)
	assert.Equal(t, MachineX86, img.Machine())
	assert.True(t, img.ProbeCode(0x4000))
}

func TestOpenELFSingleRWXSegment(t *testing.T) {
	seg := binimgtest.Segment{Name: "LOAD", VA: 0x400000, Data: x86Ret, Exec: true, Write: true}
	img, err := Open(binimgtest.ELF64(elf.EM_X86_64, seg), Options{})
	require.NoError(t, err)
	require.Len(t, img.ExecSections(), 1)
	assert.Equal(t, img.ExecSections(), img.DataSections())
}
