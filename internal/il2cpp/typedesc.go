package il2cpp

import (
	"fmt"
)

// TypeKind is the Il2CppTypeEnum element type code.
type TypeKind uint8

const (
	TypeEnd         TypeKind = 0x00
	TypeVoid        TypeKind = 0x01
	TypeBoolean     TypeKind = 0x02
	TypeChar        TypeKind = 0x03
	TypeI1          TypeKind = 0x04
	TypeU1          TypeKind = 0x05
	TypeI2          TypeKind = 0x06
	TypeU2          TypeKind = 0x07
	TypeI4          TypeKind = 0x08
	TypeU4          TypeKind = 0x09
	TypeI8          TypeKind = 0x0a
	TypeU8          TypeKind = 0x0b
	TypeR4          TypeKind = 0x0c
	TypeR8          TypeKind = 0x0d
	TypeString      TypeKind = 0x0e
	TypePtr         TypeKind = 0x0f
	TypeByRef       TypeKind = 0x10
	TypeValueType   TypeKind = 0x11
	TypeClass       TypeKind = 0x12
	TypeVar         TypeKind = 0x13
	TypeArray       TypeKind = 0x14
	TypeGenericInst TypeKind = 0x15
	TypeTypedByRef  TypeKind = 0x16
	TypeI           TypeKind = 0x18
	TypeU           TypeKind = 0x19
	TypeFnPtr       TypeKind = 0x1b
	TypeObject      TypeKind = 0x1c
	TypeSZArray     TypeKind = 0x1d
	TypeMVar        TypeKind = 0x1e
)

// Type is a decoded Il2CppType. Data is the klass index, element type,
// generic parameter index, generic class or array type depending on Kind.
type Type struct {
	Handle  uint64
	Data    uint64
	Attrs   uint16
	Kind    TypeKind
	NumMods uint8
	ByRef   bool
	Pinned  bool
}

// Index returns Data as a metadata index (klass or generic parameter).
func (t *Type) Index() int32 { return int32(uint32(t.Data)) }

func (t *Type) String() string {
	return fmt.Sprintf("Type{0x%x kind=0x%x data=0x%x}", t.Handle, uint8(t.Kind), t.Data)
}

// ReadType decodes the Il2CppType at handle. Results are memoized per
// handle, so repeated references return the same *Type.
func (b *Binary) ReadType(handle uint64) (*Type, error) {
	b.typeMu.Lock()
	t, ok := b.types[handle]
	b.typeMu.Unlock()
	if ok {
		return t, nil
	}

	data, err := b.img.ReadPointer(handle)
	if err != nil {
		return nil, fmt.Errorf("il2cpp: type at 0x%x: %w", handle, err)
	}
	bits, err := b.img.ReadUint32(handle + uint64(b.img.PointerSize()))
	if err != nil {
		return nil, fmt.Errorf("il2cpp: type at 0x%x: %w", handle, err)
	}
	t = &Type{
		Handle:  handle,
		Data:    data,
		Attrs:   uint16(bits),
		Kind:    TypeKind(bits >> 16),
		NumMods: uint8(bits>>24) & 0x3f,
		ByRef:   bits&(1<<30) != 0,
		Pinned:  bits&(1<<31) != 0,
	}

	b.typeMu.Lock()
	if prev, ok := b.types[handle]; ok {
		t = prev
	} else {
		b.types[handle] = t
	}
	b.typeMu.Unlock()
	return t, nil
}

// TypeAt returns entry index of the types table.
func (b *Binary) TypeAt(index int) (*Type, error) {
	if b.Tables == nil {
		return nil, ErrNotParsed
	}
	if index < 0 || index >= len(b.Tables.Types) {
		return nil, fmt.Errorf("%w: type %d", ErrIndex, index)
	}
	return b.ReadType(b.Tables.Types[index])
}

// GenericClass is an Il2CppGenericClass.
type GenericClass struct {
	TypeDefinitionIndex int32
	ClassInst           uint64
	MethodInst          uint64
	CachedClass         uint64
}

func (b *Binary) ReadGenericClass(va uint64) (*GenericClass, error) {
	w, err := b.img.ReadPointers(va, 4)
	if err != nil {
		return nil, fmt.Errorf("il2cpp: generic class at 0x%x: %w", va, err)
	}
	return &GenericClass{
		TypeDefinitionIndex: int32(uint32(w[0])),
		ClassInst:           w[1],
		MethodInst:          w[2],
		CachedClass:         w[3],
	}, nil
}

// GenericInst is an Il2CppGenericInst with its argument handles loaded.
type GenericInst struct {
	Args []uint64
}

func (b *Binary) ReadGenericInst(va uint64) (*GenericInst, error) {
	w, err := b.img.ReadPointers(va, 2)
	if err != nil {
		return nil, fmt.Errorf("il2cpp: generic inst at 0x%x: %w", va, err)
	}
	argc, argv := w[0], w[1]
	if argc > b.thresholds.MaxCount {
		return nil, fmt.Errorf("il2cpp: generic inst at 0x%x: %d arguments", va, argc)
	}
	if argc == 0 {
		return &GenericInst{}, nil
	}
	args, err := b.img.ReadPointers(argv, int(argc))
	if err != nil {
		return nil, fmt.Errorf("il2cpp: generic inst at 0x%x: %w", va, err)
	}
	return &GenericInst{Args: args}, nil
}

// ArrayType is an Il2CppArrayType.
type ArrayType struct {
	ElementType uint64
	Rank        uint8
	NumSizes    uint8
	NumLoBounds uint8
	Sizes       uint64
	LoBounds    uint64
}

func (b *Binary) ReadArrayType(va uint64) (*ArrayType, error) {
	ps := uint64(b.img.PointerSize())
	etype, err := b.img.ReadPointer(va)
	if err != nil {
		return nil, fmt.Errorf("il2cpp: array type at 0x%x: %w", va, err)
	}
	// three uint8 fields, padded to pointer alignment
	small, err := b.img.ReadAt(va+ps, 3)
	if err != nil {
		return nil, fmt.Errorf("il2cpp: array type at 0x%x: %w", va, err)
	}
	tail, err := b.img.ReadPointers(va+2*ps, 2)
	if err != nil {
		return nil, fmt.Errorf("il2cpp: array type at 0x%x: %w", va, err)
	}
	return &ArrayType{
		ElementType: etype,
		Rank:        small[0],
		NumSizes:    small[1],
		NumLoBounds: small[2],
		Sizes:       tail[0],
		LoBounds:    tail[1],
	}, nil
}
