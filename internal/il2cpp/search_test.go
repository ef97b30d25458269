package il2cpp_test

import (
	"encoding/binary"
	"testing"

	"github.com/blacktop/go-macho/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"il2cppdump/internal/binimg"
	"il2cppdump/internal/binimg/binimgtest"
	"il2cppdump/internal/il2cpp"
	"il2cppdump/internal/il2cpp/il2cpptest"
)

var sampleEvidence = il2cpp.Evidence{MethodCount: 2, TypeDefinitionCount: 2}

// sample has two methods with code, one generic instantiation of method
// definition 2, and two type definitions of which the first has fields.
func sample(opts il2cpptest.Options) *il2cpptest.Builder {
	b := il2cpptest.New(opts)
	b.MethodPointers(il2cpptest.Code(0), il2cpptest.Code(1))
	b.GenericMethod(2, il2cpptest.Code(3))
	b.Invokers(il2cpptest.Code(4))
	b.AttributeGenerators(il2cpptest.Code(5))
	b.UsageSlots(2)
	b.FieldOffsets([]int32{0x10, 0x18}, nil)
	cls := b.Type(il2cpp.TypeClass, 0)
	i4 := b.Type(il2cpp.TypeI4, 0)
	gen := b.Type(il2cpp.TypeGenericInst, b.GenericClass(1, i4))
	b.Types(cls, i4, gen)
	return b
}

func newBinary(t *testing.T, raw []byte) *il2cpp.Binary {
	t.Helper()
	img, err := binimg.Open(raw, binimg.Options{})
	require.NoError(t, err)
	bin, err := il2cpp.New(img, il2cpptest.Version, 0)
	require.NoError(t, err)
	return bin
}

func TestLocateScanModes(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	for _, mode := range []il2cpp.Mode{il2cpp.ModeAuto, il2cpp.ModeAdvanced, il2cpp.ModePlus} {
		t.Run(mode.String(), func(t *testing.T) {
			bin := newBinary(t, im.ELF())
			require.NoError(t, bin.Locate(mode, 0, 0, sampleEvidence))

			assert.Equal(t, im.CodeRegistration, bin.CodeRegistrationAddr)
			assert.Equal(t, im.MetadataRegistration, bin.MetadataRegistrationAddr)
			assert.True(t, bin.Parsed())

			tab := bin.Tables
			assert.Equal(t, []uint64{il2cpptest.Code(0), il2cpptest.Code(1)}, tab.MethodPointers)
			assert.Equal(t, []uint64{il2cpptest.Code(3)}, tab.GenericMethodPointers)
			assert.Equal(t, []uint64{il2cpptest.Code(4)}, tab.InvokerPointers)
			assert.Len(t, tab.Types, 3)
			assert.Len(t, tab.MetadataUsages, 2)
			assert.Len(t, tab.TypeDefinitionsSizes, 2)

			assert.Equal(t, il2cpptest.Code(1), bin.MethodPointer(1, 7))
			assert.Equal(t, il2cpptest.Code(3), bin.MethodPointer(-1, 2))
			assert.Zero(t, bin.MethodPointer(-1, 5))
			assert.Zero(t, bin.MethodPointer(9, 0))
			assert.Equal(t, il2cpptest.Code(5), bin.CustomAttributeGenerator(0))
		})
	}
}

func TestParseUsesEvidence(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	bin := newBinary(t, im.ELF())
	bin.SetEvidence(sampleEvidence)
	require.True(t, bin.Parse(il2cpp.ModePlus, 0, 0))
	assert.Equal(t, im.MetadataRegistration, bin.MetadataRegistrationAddr)
}

func TestFieldOffset(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	bin := newBinary(t, im.ELF())

	_, err := bin.FieldOffset(0, 0, 0)
	require.ErrorIs(t, err, il2cpp.ErrNotParsed)

	require.NoError(t, bin.Locate(il2cpp.ModeManual, im.CodeRegistration, im.MetadataRegistration, il2cpp.Evidence{}))
	off, err := bin.FieldOffset(0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(0x18), off)

	_, err = bin.FieldOffset(1, 0, 2)
	require.ErrorIs(t, err, il2cpp.ErrNoFieldOffset)
	_, err = bin.FieldOffset(5, 0, 2)
	require.ErrorIs(t, err, il2cpp.ErrNoFieldOffset)
}

func TestManualMatchesPlus(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()

	manual := newBinary(t, im.ELF())
	require.True(t, manual.Parse(il2cpp.ModeManual, im.CodeRegistration, im.MetadataRegistration))

	plus := newBinary(t, im.ELF())
	require.NoError(t, plus.Locate(il2cpp.ModePlus, 0, 0, sampleEvidence))

	if diff := cmp.Diff(manual.Tables, plus.Tables); diff != "" {
		t.Errorf("root tables differ (-manual +plus):\n%s", diff)
	}
	assert.Equal(t, manual.Code, plus.Code)
	assert.Equal(t, manual.Meta, plus.Meta)
}

func TestManualUnmapped(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	bin := newBinary(t, im.ELF())

	err := bin.Locate(il2cpp.ModeManual, 0x900000, im.MetadataRegistration, il2cpp.Evidence{})
	require.ErrorIs(t, err, binimg.ErrUnmapped)
	var ue *binimg.UnmappedError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, uint64(0x900000), ue.VA)

	assert.False(t, bin.Parse(il2cpp.ModeManual, im.CodeRegistration, 0x10))
	assert.False(t, bin.Parsed())
}

func TestAlreadyParsed(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	bin := newBinary(t, im.ELF())
	require.True(t, bin.Parse(il2cpp.ModeManual, im.CodeRegistration, im.MetadataRegistration))

	err := bin.Locate(il2cpp.ModeAuto, 0, 0, sampleEvidence)
	require.ErrorIs(t, err, il2cpp.ErrAlreadyParsed)
	assert.False(t, bin.Parse(il2cpp.ModeManual, im.CodeRegistration, im.MetadataRegistration))
}

func TestSymbolModeWithoutSymbols(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	bin := newBinary(t, im.ELF())

	assert.False(t, bin.Parse(il2cpp.ModeSymbol, 0, 0))
	err := bin.Locate(il2cpp.ModeSymbol, 0, 0, il2cpp.Evidence{})
	require.ErrorIs(t, err, il2cpp.ErrNotFound)
}

func TestSymbolModeMachO(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	raw := binimgtest.MachO64(types.CPUAmd64, im.Segments, map[string]uint64{
		"_g_CodeRegistration":     im.CodeRegistration,
		"_g_MetadataRegistration": im.MetadataRegistration,
	})
	bin := newBinary(t, raw)

	require.True(t, bin.Parse(il2cpp.ModeSymbol, 0, 0))
	assert.Equal(t, im.CodeRegistration, bin.CodeRegistrationAddr)
	assert.Equal(t, im.MetadataRegistration, bin.MetadataRegistrationAddr)
	assert.Len(t, bin.Tables.MethodPointers, 2)
}

func TestSymbolModeMissingMetadataSymbol(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	raw := binimgtest.MachO64(types.CPUAmd64, im.Segments, map[string]uint64{
		"_g_CodeRegistration": im.CodeRegistration,
	})
	bin := newBinary(t, raw)
	err := bin.Locate(il2cpp.ModeSymbol, 0, 0, il2cpp.Evidence{})
	require.ErrorIs(t, err, il2cpp.ErrNotFound)
	require.ErrorIs(t, err, binimg.ErrSymbolNotFound)
}

func TestPlusSkipsDecoy(t *testing.T) {
	im := sample(il2cpptest.Options{Decoy: true}).Build()
	require.NotZero(t, im.DecoyMetadataRegistration)

	adv := newBinary(t, im.ELF())
	require.NoError(t, adv.Locate(il2cpp.ModeAdvanced, 0, 0, sampleEvidence))
	assert.Equal(t, im.CodeRegistration, adv.CodeRegistrationAddr)
	assert.NotEqual(t, im.MetadataRegistration, adv.MetadataRegistrationAddr)
	assert.Less(t, adv.MetadataRegistrationAddr, im.MetadataRegistration)

	plus := newBinary(t, im.ELF())
	require.NoError(t, plus.Locate(il2cpp.ModePlus, 0, 0, sampleEvidence))
	assert.Equal(t, im.MetadataRegistration, plus.MetadataRegistrationAddr)
	assert.Len(t, plus.Tables.TypeDefinitionsSizes, 2)
}

func TestAdvancedMethodCountMismatch(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	bin := newBinary(t, im.ELF())
	err := bin.Locate(il2cpp.ModeAdvanced, 0, 0, il2cpp.Evidence{MethodCount: 3, TypeDefinitionCount: 2})
	require.ErrorIs(t, err, il2cpp.ErrNotFound)
	assert.False(t, bin.Parsed())
}

func rejection(diags []il2cpp.Diag, addr uint64) (il2cpp.Diag, bool) {
	for _, d := range diags {
		if d.Addr == addr && d.Kind == il2cpp.DiagRejected {
			return d, true
		}
	}
	return il2cpp.Diag{}, false
}

func TestScanRejectsNonCodeMethodPointer(t *testing.T) {
	b := il2cpptest.New(il2cpptest.Options{})
	b.MethodPointers(il2cpptest.DataVA, il2cpptest.Code(1))
	b.GenericMethod(2, il2cpptest.Code(3))
	b.Invokers(il2cpptest.Code(4))
	b.FieldOffsets([]int32{0x10}, nil)
	i4 := b.Type(il2cpp.TypeI4, 0)
	b.Types(i4, i4, i4)
	bad := b.Build()

	for _, mode := range []il2cpp.Mode{il2cpp.ModeAuto, il2cpp.ModeAdvanced, il2cpp.ModePlus} {
		t.Run(mode.String(), func(t *testing.T) {
			bin := newBinary(t, bad.ELF())
			err := bin.Locate(mode, 0, 0, sampleEvidence)
			require.ErrorIs(t, err, il2cpp.ErrNotFound)
			d, ok := rejection(bin.Diags(), bad.CodeRegistration)
			require.True(t, ok)
			assert.Contains(t, d.Msg, "not code")
		})
	}
}

func TestCodeRegistrationOutsideMetadataRegistration(t *testing.T) {
	b := il2cpptest.New(il2cpptest.Options{SingleSegment: true})
	b.MethodPointers(il2cpptest.Code(0), il2cpptest.Code(1))
	b.FieldOffsets(nil)
	b.Types(b.Type(il2cpp.TypeClass, 0))
	im := b.Build()

	// Read from its types count on, the MetadataRegistration looks like a
	// CodeRegistration with one method whose pointer is executable.
	bin := newBinary(t, im.ELF())
	err := bin.Locate(il2cpp.ModeAdvanced, 0, 0, il2cpp.Evidence{MethodCount: 1, TypeDefinitionCount: 1})
	require.ErrorIs(t, err, il2cpp.ErrNotFound)
	assert.False(t, bin.Parsed())
}

// minimal is one method with code, one invoker and one type definition
// in a single RWX segment.
func minimal(invokers bool) *il2cpptest.Image {
	b := il2cpptest.New(il2cpptest.Options{SingleSegment: true})
	b.MethodPointers(il2cpptest.Code(0))
	if invokers {
		b.Invokers(il2cpptest.Code(1))
	}
	b.FieldOffsets(nil)
	b.Types(b.Type(il2cpp.TypeClass, 0))
	return b.Build()
}

func TestLocateMinimalImage(t *testing.T) {
	im := minimal(true)
	require.Len(t, im.Segments, 1)
	ev := il2cpp.Evidence{MethodCount: 1, TypeDefinitionCount: 1}

	for _, mode := range []il2cpp.Mode{il2cpp.ModeAuto, il2cpp.ModeAdvanced, il2cpp.ModePlus} {
		t.Run(mode.String(), func(t *testing.T) {
			bin := newBinary(t, im.ELF())
			require.Len(t, bin.Image().ExecSections(), 1)
			require.NoError(t, bin.Locate(mode, 0, 0, ev))
			assert.Equal(t, im.CodeRegistration, bin.CodeRegistrationAddr)
			assert.Equal(t, im.MetadataRegistration, bin.MetadataRegistrationAddr)
			assert.Equal(t, []uint64{il2cpptest.Code(0)}, bin.Tables.MethodPointers)
			assert.Empty(t, bin.Tables.GenericMethodPointers)
		})
	}

	bin := newBinary(t, im.ELF())
	bin.SetEvidence(ev)
	assert.False(t, bin.Parse(il2cpp.ModeSymbol, 0, 0))
}

func TestOracleModesAcceptEmptyInvokers(t *testing.T) {
	im := minimal(false)
	ev := il2cpp.Evidence{MethodCount: 1, TypeDefinitionCount: 1}
	for _, mode := range []il2cpp.Mode{il2cpp.ModeAdvanced, il2cpp.ModePlus} {
		bin := newBinary(t, im.ELF())
		require.NoError(t, bin.Locate(mode, 0, 0, ev), mode)
		assert.Equal(t, []uint64{il2cpptest.Code(0)}, bin.Tables.MethodPointers, mode)
	}

	auto := newBinary(t, im.ELF())
	require.ErrorIs(t, auto.Locate(il2cpp.ModeAuto, 0, 0, il2cpp.Evidence{}), il2cpp.ErrNotFound)
}

func TestPlusRejectsOverlappingMetadataArrays(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	data := im.Segments[1].Data
	root := im.MetadataRegistration - il2cpptest.DataVA
	types := binary.LittleEndian.Uint64(data[root+7*8:])
	binary.LittleEndian.PutUint64(data[root+13*8:], types) // typeDefinitionsSizes aliases types

	adv := newBinary(t, im.ELF())
	require.NoError(t, adv.Locate(il2cpp.ModeAdvanced, 0, 0, sampleEvidence))
	assert.Equal(t, im.MetadataRegistration, adv.MetadataRegistrationAddr)

	plus := newBinary(t, im.ELF())
	require.ErrorIs(t, plus.Locate(il2cpp.ModePlus, 0, 0, sampleEvidence), il2cpp.ErrNotFound)
	d, ok := rejection(plus.Diags(), im.MetadataRegistration)
	require.True(t, ok)
	assert.Contains(t, d.Msg, "overlaps")
}

func TestThresholdsBoundCounts(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	bin := newBinary(t, im.ELF())
	bin.SetThresholds(il2cpp.Thresholds{MaxCount: 1, MagnitudeRatio: 10})
	err := bin.Locate(il2cpp.ModeAuto, 0, 0, il2cpp.Evidence{})
	require.ErrorIs(t, err, il2cpp.ErrNotFound)
}

func TestLocateUnknownMode(t *testing.T) {
	im := sample(il2cpptest.Options{}).Build()
	bin := newBinary(t, im.ELF())
	require.Error(t, bin.Locate(il2cpp.Mode(42), 0, 0, il2cpp.Evidence{}))
}
