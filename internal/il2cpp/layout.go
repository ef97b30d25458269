package il2cpp

import (
	"errors"
	"fmt"
)

const (
	MinVersion = 16
	MaxVersion = 24
)

var ErrVersionMismatch = errors.New("il2cpp: no layout for metadata version")

// CodeRegistration mirrors Il2CppCodeRegistration. Fields absent from the
// selected version stay zero.
type CodeRegistration struct {
	MethodPointersCount                      uint64
	MethodPointers                           uint64
	DelegateWrappersFromNativeToManagedCount uint64
	DelegateWrappersFromNativeToManaged      uint64
	ReversePInvokeWrapperCount               uint64
	ReversePInvokeWrappers                   uint64
	DelegateWrappersFromManagedToNativeCount uint64
	DelegateWrappersFromManagedToNative      uint64
	MarshalingFunctionsCount                 uint64
	MarshalingFunctions                      uint64
	CCWMarshalingFunctionsCount              uint64
	CCWMarshalingFunctions                   uint64
	GenericMethodPointersCount               uint64
	GenericMethodPointers                    uint64
	InvokerPointersCount                     uint64
	InvokerPointers                          uint64
	CustomAttributeCount                     uint64
	CustomAttributeGenerators                uint64
	GUIDCount                                uint64
	GUIDs                                    uint64
	UnresolvedVirtualCallCount               uint64
	UnresolvedVirtualCallPointers            uint64
	InteropDataCount                         uint64
	InteropData                              uint64
}

// MetadataRegistration mirrors Il2CppMetadataRegistration.
type MetadataRegistration struct {
	GenericClassesCount       uint64
	GenericClasses            uint64
	GenericInstsCount         uint64
	GenericInsts              uint64
	GenericMethodTableCount   uint64
	GenericMethodTable        uint64
	TypesCount                uint64
	Types                     uint64
	MethodSpecsCount          uint64
	MethodSpecs               uint64
	MethodReferencesCount     uint64
	MethodReferences          uint64
	FieldOffsetsCount         uint64
	FieldOffsets              uint64
	TypeDefinitionsSizesCount uint64
	TypeDefinitionsSizes      uint64
	MetadataUsagesCount       uint64
	MetadataUsages            uint64
}

// elemPtr marks arrays whose elements are pointer-width.
const elemPtr = 0

// regArray is one (count, base) word pair of a root structure.
type regArray[T any] struct {
	name     string
	min, max int
	elem     int // bytes per element; elemPtr for pointer-width
	count    func(*T) *uint64
	base     func(*T) *uint64
}

func (a regArray[T]) elemSize(ptrSize int) uint64 {
	if a.elem == elemPtr {
		return uint64(ptrSize)
	}
	return uint64(a.elem)
}

const anyVersion = 1 << 30

var codeRegistrationTable = []regArray[CodeRegistration]{
	{"methodPointers", 0, anyVersion, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.MethodPointersCount },
		func(c *CodeRegistration) *uint64 { return &c.MethodPointers }},
	{"delegateWrappersFromNativeToManaged", 0, 21, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.DelegateWrappersFromNativeToManagedCount },
		func(c *CodeRegistration) *uint64 { return &c.DelegateWrappersFromNativeToManaged }},
	{"reversePInvokeWrappers", 22, anyVersion, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.ReversePInvokeWrapperCount },
		func(c *CodeRegistration) *uint64 { return &c.ReversePInvokeWrappers }},
	{"delegateWrappersFromManagedToNative", 0, 22, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.DelegateWrappersFromManagedToNativeCount },
		func(c *CodeRegistration) *uint64 { return &c.DelegateWrappersFromManagedToNative }},
	{"marshalingFunctions", 0, 22, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.MarshalingFunctionsCount },
		func(c *CodeRegistration) *uint64 { return &c.MarshalingFunctions }},
	{"ccwMarshalingFunctions", 21, 22, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.CCWMarshalingFunctionsCount },
		func(c *CodeRegistration) *uint64 { return &c.CCWMarshalingFunctions }},
	{"genericMethodPointers", 0, anyVersion, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.GenericMethodPointersCount },
		func(c *CodeRegistration) *uint64 { return &c.GenericMethodPointers }},
	{"invokerPointers", 0, anyVersion, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.InvokerPointersCount },
		func(c *CodeRegistration) *uint64 { return &c.InvokerPointers }},
	{"customAttributeGenerators", 0, anyVersion, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.CustomAttributeCount },
		func(c *CodeRegistration) *uint64 { return &c.CustomAttributeGenerators }},
	{"guids", 21, 22, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.GUIDCount },
		func(c *CodeRegistration) *uint64 { return &c.GUIDs }},
	{"unresolvedVirtualCallPointers", 22, anyVersion, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.UnresolvedVirtualCallCount },
		func(c *CodeRegistration) *uint64 { return &c.UnresolvedVirtualCallPointers }},
	// Il2CppInteropData is seven pointers wide; the extent check only
	// needs the first.
	{"interopData", 23, anyVersion, elemPtr,
		func(c *CodeRegistration) *uint64 { return &c.InteropDataCount },
		func(c *CodeRegistration) *uint64 { return &c.InteropData }},
}

// Il2CppGenericMethodFunctionsDefinitions and Il2CppMethodSpec are three
// int32 each.
const tripleInt32 = 12

var metadataRegistrationTable = []regArray[MetadataRegistration]{
	{"genericClasses", 0, anyVersion, elemPtr,
		func(m *MetadataRegistration) *uint64 { return &m.GenericClassesCount },
		func(m *MetadataRegistration) *uint64 { return &m.GenericClasses }},
	{"genericInsts", 0, anyVersion, elemPtr,
		func(m *MetadataRegistration) *uint64 { return &m.GenericInstsCount },
		func(m *MetadataRegistration) *uint64 { return &m.GenericInsts }},
	{"genericMethodTable", 0, anyVersion, tripleInt32,
		func(m *MetadataRegistration) *uint64 { return &m.GenericMethodTableCount },
		func(m *MetadataRegistration) *uint64 { return &m.GenericMethodTable }},
	{"types", 0, anyVersion, elemPtr,
		func(m *MetadataRegistration) *uint64 { return &m.TypesCount },
		func(m *MetadataRegistration) *uint64 { return &m.Types }},
	{"methodSpecs", 0, anyVersion, tripleInt32,
		func(m *MetadataRegistration) *uint64 { return &m.MethodSpecsCount },
		func(m *MetadataRegistration) *uint64 { return &m.MethodSpecs }},
	{"methodReferences", 0, 16, 4,
		func(m *MetadataRegistration) *uint64 { return &m.MethodReferencesCount },
		func(m *MetadataRegistration) *uint64 { return &m.MethodReferences }},
	{"fieldOffsets", 0, anyVersion, elemPtr,
		func(m *MetadataRegistration) *uint64 { return &m.FieldOffsetsCount },
		func(m *MetadataRegistration) *uint64 { return &m.FieldOffsets }},
	{"typeDefinitionsSizes", 0, anyVersion, elemPtr,
		func(m *MetadataRegistration) *uint64 { return &m.TypeDefinitionsSizesCount },
		func(m *MetadataRegistration) *uint64 { return &m.TypeDefinitionsSizes }},
	{"metadataUsages", 19, anyVersion, elemPtr,
		func(m *MetadataRegistration) *uint64 { return &m.MetadataUsagesCount },
		func(m *MetadataRegistration) *uint64 { return &m.MetadataUsages }},
}

// perTypeFieldOffsets is the first version whose fieldOffsets is an array
// of per-type int32 arrays rather than one flat int32 array.
const perTypeFieldOffsets = 22

func checkVersion(version int) error {
	if version < MinVersion || version > MaxVersion {
		return fmt.Errorf("%w: %d (modeled %d-%d)", ErrVersionMismatch, version, MinVersion, MaxVersion)
	}
	return nil
}

func selectArrays[T any](table []regArray[T], version int) []regArray[T] {
	var out []regArray[T]
	for _, a := range table {
		if version >= a.min && version <= a.max {
			out = append(out, a)
		}
	}
	return out
}

// codeRegistrationLayout returns the word pairs of CodeRegistration for
// version, in memory order.
func codeRegistrationLayout(version int) ([]regArray[CodeRegistration], error) {
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	return selectArrays(codeRegistrationTable, version), nil
}

func metadataRegistrationLayout(version int) ([]regArray[MetadataRegistration], error) {
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	arrays := selectArrays(metadataRegistrationTable, version)
	if version < perTypeFieldOffsets {
		for i := range arrays {
			if arrays[i].name == "fieldOffsets" {
				arrays[i].elem = 4
			}
		}
	}
	return arrays, nil
}

// FieldNames lists the layout of both roots for version, one entry per
// pointer-width word.
func FieldNames(version int) (code, meta []string, err error) {
	cl, err := codeRegistrationLayout(version)
	if err != nil {
		return nil, nil, err
	}
	ml, err := metadataRegistrationLayout(version)
	if err != nil {
		return nil, nil, err
	}
	return pairNames(cl), pairNames(ml), nil
}

func pairNames[T any](arrays []regArray[T]) []string {
	out := make([]string, 0, 2*len(arrays))
	for _, a := range arrays {
		out = append(out, a.name+"Count", a.name)
	}
	return out
}

// decodeWords fills out from consecutive (count, base) words.
func decodeWords[T any](arrays []regArray[T], words []uint64, out *T) {
	for i, a := range arrays {
		*a.count(out) = words[2*i]
		*a.base(out) = words[2*i+1]
	}
}
