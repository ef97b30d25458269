// Package il2cpp locates the IL2CPP CodeRegistration and
// MetadataRegistration roots inside a native binary and reads the tables
// they point to.
package il2cpp

import (
	"errors"
	"fmt"
	"sync"

	"github.com/apex/log"

	"il2cppdump/internal/binimg"
)

var (
	ErrNotFound      = errors.New("il2cpp: registration structures not found")
	ErrAlreadyParsed = errors.New("il2cpp: root tables already initialized")
	ErrNotParsed     = errors.New("il2cpp: root tables not initialized")
	ErrNoFieldOffset = errors.New("il2cpp: no field offset")
	ErrIndex         = errors.New("il2cpp: index out of range")
)

// Evidence carries metadata-derived counts that guided searches compare
// candidates against.
type Evidence struct {
	// MethodCount counts method definitions that own a code pointer slot.
	MethodCount int
	// TypeDefinitionCount is the number of type definitions.
	TypeDefinitionCount int
}

// Thresholds bound what a scanned candidate may declare.
type Thresholds struct {
	// MaxCount is the largest plausible element count of any root array.
	MaxCount uint64
	// MagnitudeRatio bounds generic and invoker counts relative to the
	// method count in Plus mode.
	MagnitudeRatio uint64
}

var DefaultThresholds = Thresholds{MaxCount: 0x100000, MagnitudeRatio: 10}

// GenericMethodFunctions is one Il2CppGenericMethodFunctionsDefinitions.
type GenericMethodFunctions struct {
	GenericMethodIndex int32
	MethodIndex        int32
	InvokerIndex       int32
}

// MethodSpec is one Il2CppMethodSpec.
type MethodSpec struct {
	MethodDefinitionIndex int32
	ClassIndexIndex       int32
	MethodIndexIndex      int32
}

// RootTables holds the arrays reachable from both roots.
type RootTables struct {
	MethodPointers                []uint64
	ReversePInvokeWrappers        []uint64
	GenericMethodPointers         []uint64
	InvokerPointers               []uint64
	CustomAttributeGenerators     []uint64
	UnresolvedVirtualCallPointers []uint64

	GenericInsts         []uint64
	GenericMethodTable   []GenericMethodFunctions
	Types                []uint64
	MethodSpecs          []MethodSpec
	FieldOffsets         []uint64 // per-type pointers (v22+) or flat int32 values
	TypeDefinitionsSizes []uint64
	MetadataUsages       []uint64

	// GenericMethodDictionary maps a generic method definition index to
	// the code of one of its instantiations.
	GenericMethodDictionary map[int32]uint64
}

// Binary is a native IL2CPP binary being searched. Not safe for
// concurrent Parse calls; readers may share it once parsed.
type Binary struct {
	img        binimg.Image
	version    int
	maxUsages  int
	thresholds Thresholds
	evidence   Evidence

	codeLayout []regArray[CodeRegistration]
	metaLayout []regArray[MetadataRegistration]

	CodeRegistrationAddr     uint64
	MetadataRegistrationAddr uint64
	Code                     CodeRegistration
	Meta                     MetadataRegistration
	Tables                   *RootTables

	diags Diags

	typeMu sync.Mutex
	types  map[uint64]*Type
}

// New prepares img for the given metadata version. maxMetadataUsages
// sizes the usage table; zero falls back to the count the binary declares.
func New(img binimg.Image, version, maxMetadataUsages int) (*Binary, error) {
	cl, err := codeRegistrationLayout(version)
	if err != nil {
		return nil, err
	}
	ml, err := metadataRegistrationLayout(version)
	if err != nil {
		return nil, err
	}
	return &Binary{
		img:        img,
		version:    version,
		maxUsages:  maxMetadataUsages,
		thresholds: DefaultThresholds,
		codeLayout: cl,
		metaLayout: ml,
		types:      make(map[uint64]*Type),
	}, nil
}

func (b *Binary) Image() binimg.Image { return b.img }
func (b *Binary) Version() int        { return b.version }
func (b *Binary) Diags() []Diag       { return b.diags.Items() }

// SetThresholds replaces the candidate bounds used by scanning modes.
func (b *Binary) SetThresholds(t Thresholds) { b.thresholds = t }

// SetEvidence sets the counts Parse hands to guided searches.
func (b *Binary) SetEvidence(ev Evidence) { b.evidence = ev }

// Parsed reports whether the root tables are initialized.
func (b *Binary) Parsed() bool { return b.Tables != nil }

func readRoot[T any](img binimg.Image, arrays []regArray[T], va uint64, out *T) error {
	words, err := img.ReadPointers(va, 2*len(arrays))
	if err != nil {
		return err
	}
	decodeWords(arrays, words, out)
	return nil
}

// Init reads both roots at the given addresses and every table they
// reference. Only the root reads are fatal; an unreadable sub-array is
// recorded as a diagnostic and left empty.
func (b *Binary) Init(codeReg, metaReg uint64) error {
	if b.Tables != nil {
		return ErrAlreadyParsed
	}
	var code CodeRegistration
	if err := readRoot(b.img, b.codeLayout, codeReg, &code); err != nil {
		return fmt.Errorf("il2cpp: CodeRegistration at 0x%x: %w", codeReg, err)
	}
	var meta MetadataRegistration
	if err := readRoot(b.img, b.metaLayout, metaReg, &meta); err != nil {
		return fmt.Errorf("il2cpp: MetadataRegistration at 0x%x: %w", metaReg, err)
	}

	t := &RootTables{GenericMethodDictionary: make(map[int32]uint64)}
	ptrs := func(name string, base, count uint64) []uint64 {
		if count == 0 {
			return nil
		}
		if count > b.thresholds.MaxCount {
			b.diags.Addf(base, DiagTruncated, "%s: count %d exceeds %d", name, count, b.thresholds.MaxCount)
			return nil
		}
		out, err := b.img.ReadPointers(base, int(count))
		if err != nil {
			b.diags.Addf(base, DiagUnmapped, "%s: %v", name, err)
			return nil
		}
		return out
	}
	triples := func(name string, base, count uint64) [][3]int32 {
		if count == 0 {
			return nil
		}
		if count > b.thresholds.MaxCount {
			b.diags.Addf(base, DiagTruncated, "%s: count %d exceeds %d", name, count, b.thresholds.MaxCount)
			return nil
		}
		raw, err := b.img.ReadInt32s(base, int(count)*3)
		if err != nil {
			b.diags.Addf(base, DiagUnmapped, "%s: %v", name, err)
			return nil
		}
		out := make([][3]int32, count)
		for i := range out {
			copy(out[i][:], raw[i*3:])
		}
		return out
	}

	t.MethodPointers = ptrs("methodPointers", code.MethodPointers, code.MethodPointersCount)
	t.ReversePInvokeWrappers = ptrs("reversePInvokeWrappers", code.ReversePInvokeWrappers, code.ReversePInvokeWrapperCount)
	t.GenericMethodPointers = ptrs("genericMethodPointers", code.GenericMethodPointers, code.GenericMethodPointersCount)
	t.InvokerPointers = ptrs("invokerPointers", code.InvokerPointers, code.InvokerPointersCount)
	t.CustomAttributeGenerators = ptrs("customAttributeGenerators", code.CustomAttributeGenerators, code.CustomAttributeCount)
	t.UnresolvedVirtualCallPointers = ptrs("unresolvedVirtualCallPointers", code.UnresolvedVirtualCallPointers, code.UnresolvedVirtualCallCount)

	t.GenericInsts = ptrs("genericInsts", meta.GenericInsts, meta.GenericInstsCount)
	t.Types = ptrs("types", meta.Types, meta.TypesCount)
	t.TypeDefinitionsSizes = ptrs("typeDefinitionsSizes", meta.TypeDefinitionsSizes, meta.TypeDefinitionsSizesCount)
	if b.version >= perTypeFieldOffsets {
		t.FieldOffsets = ptrs("fieldOffsets", meta.FieldOffsets, meta.FieldOffsetsCount)
	} else if meta.FieldOffsetsCount > 0 {
		flat, err := b.img.ReadInt32s(meta.FieldOffsets, int(min(meta.FieldOffsetsCount, b.thresholds.MaxCount)))
		if err != nil {
			b.diags.Addf(meta.FieldOffsets, DiagUnmapped, "fieldOffsets: %v", err)
		}
		for _, v := range flat {
			t.FieldOffsets = append(t.FieldOffsets, uint64(uint32(v)))
		}
	}
	if b.version >= 19 {
		n := uint64(b.maxUsages)
		if n == 0 {
			n = meta.MetadataUsagesCount
		}
		t.MetadataUsages = ptrs("metadataUsages", meta.MetadataUsages, n)
	}
	for _, v := range triples("genericMethodTable", meta.GenericMethodTable, meta.GenericMethodTableCount) {
		t.GenericMethodTable = append(t.GenericMethodTable, GenericMethodFunctions{v[0], v[1], v[2]})
	}
	for _, v := range triples("methodSpecs", meta.MethodSpecs, meta.MethodSpecsCount) {
		t.MethodSpecs = append(t.MethodSpecs, MethodSpec{v[0], v[1], v[2]})
	}
	for _, g := range t.GenericMethodTable {
		if g.GenericMethodIndex < 0 || int(g.GenericMethodIndex) >= len(t.MethodSpecs) {
			continue
		}
		if g.MethodIndex < 0 || int(g.MethodIndex) >= len(t.GenericMethodPointers) {
			continue
		}
		def := t.MethodSpecs[g.GenericMethodIndex].MethodDefinitionIndex
		if _, ok := t.GenericMethodDictionary[def]; !ok {
			t.GenericMethodDictionary[def] = t.GenericMethodPointers[g.MethodIndex]
		}
	}

	b.CodeRegistrationAddr, b.MetadataRegistrationAddr = codeReg, metaReg
	b.Code, b.Meta, b.Tables = code, meta, t
	log.WithFields(log.Fields{
		"codeRegistration":     fmt.Sprintf("0x%x", codeReg),
		"metadataRegistration": fmt.Sprintf("0x%x", metaReg),
		"methods":              len(t.MethodPointers),
		"types":                len(t.Types),
	}).Debug("il2cpp: root tables initialized")
	return nil
}

// MethodPointer returns the code address of a method definition: its own
// slot when methodIndex is set, else the first generic instantiation.
// Zero means no code.
func (b *Binary) MethodPointer(methodIndex, methodDefIndex int32) uint64 {
	if b.Tables == nil {
		return 0
	}
	if methodIndex >= 0 {
		if int(methodIndex) < len(b.Tables.MethodPointers) {
			return b.Tables.MethodPointers[methodIndex]
		}
		return 0
	}
	return b.Tables.GenericMethodDictionary[methodDefIndex]
}

func (b *Binary) CustomAttributeGenerator(index int) uint64 {
	if b.Tables == nil || index < 0 || index >= len(b.Tables.CustomAttributeGenerators) {
		return 0
	}
	return b.Tables.CustomAttributeGenerators[index]
}

func (b *Binary) MetadataUsage(index int) uint64 {
	if b.Tables == nil || index < 0 || index >= len(b.Tables.MetadataUsages) {
		return 0
	}
	return b.Tables.MetadataUsages[index]
}

// FieldOffset returns the instance offset of a field. From v22 offsets
// live in one int32 array per type; earlier versions use a flat table
// indexed by field definition.
func (b *Binary) FieldOffset(typeIndex, fieldIndexInType, fieldIndex int) (int32, error) {
	if b.Tables == nil {
		return 0, ErrNotParsed
	}
	fo := b.Tables.FieldOffsets
	if b.version < perTypeFieldOffsets {
		if fieldIndex < 0 || fieldIndex >= len(fo) {
			return 0, fmt.Errorf("%w: field %d", ErrNoFieldOffset, fieldIndex)
		}
		return int32(uint32(fo[fieldIndex])), nil
	}
	if typeIndex < 0 || typeIndex >= len(fo) || fo[typeIndex] == 0 {
		return 0, fmt.Errorf("%w: type %d", ErrNoFieldOffset, typeIndex)
	}
	v, err := b.img.ReadUint32(fo[typeIndex] + 4*uint64(fieldIndexInType))
	if err != nil {
		return 0, fmt.Errorf("%w: type %d field %d: %v", ErrNoFieldOffset, typeIndex, fieldIndexInType, err)
	}
	return int32(v), nil
}
