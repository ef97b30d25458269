package il2cpp

import (
	"errors"
	"fmt"
	"strings"
)

var ErrTypeCycle = errors.New("il2cpp: type reference too deep or cyclic")

const maxTypeDepth = 32

// NameSource supplies the metadata-side names a TypeNamer needs.
// *metadata.Metadata satisfies it.
type NameSource interface {
	TypeDefinitionName(index int32) (string, error)
	GenericParameterName(index int32) (string, error)
}

// typeKeywords is indexed by TypeKind.
var typeKeywords = [...]string{
	"END", "void", "bool", "char", "sbyte", "byte", "short", "ushort",
	"int", "uint", "long", "ulong", "float", "double", "string", "PTR",
	"BYREF", "VALUETYPE", "CLASS", "T", "ARRAY", "GENERICINST", "TYPEDBYREF", "None",
	"IntPtr", "UIntPtr", "None", "FNPTR", "object", "SZARRAY", "T", "CMOD_REQD",
	"CMOD_OPT", "INTERNAL",
}

// Keyword returns the C# spelling of a primitive kind, or the kind's
// mnemonic for kinds that need resolution.
func Keyword(k TypeKind) string {
	if int(k) < len(typeKeywords) {
		return typeKeywords[k]
	}
	return fmt.Sprintf("0x%x", uint8(k))
}

// TypeNamer renders Il2CppType descriptors as C# type names.
type TypeNamer struct {
	bin   *Binary
	names NameSource
}

func NewTypeNamer(bin *Binary, names NameSource) *TypeNamer {
	return &TypeNamer{bin: bin, names: names}
}

// Name renders t.
func (n *TypeNamer) Name(t *Type) (string, error) {
	return n.name(t, 0, make(map[uint64]bool))
}

// NameAt renders entry index of the types table.
func (n *TypeNamer) NameAt(index int) (string, error) {
	t, err := n.bin.TypeAt(index)
	if err != nil {
		return "", err
	}
	return n.Name(t)
}

func (n *TypeNamer) handle(va uint64, depth int, open map[uint64]bool) (string, error) {
	t, err := n.bin.ReadType(va)
	if err != nil {
		return "", err
	}
	return n.name(t, depth+1, open)
}

func (n *TypeNamer) name(t *Type, depth int, open map[uint64]bool) (string, error) {
	if depth > maxTypeDepth || open[t.Handle] {
		return "", fmt.Errorf("%w: at 0x%x", ErrTypeCycle, t.Handle)
	}
	open[t.Handle] = true
	defer delete(open, t.Handle)

	switch t.Kind {
	case TypeClass, TypeValueType:
		return n.names.TypeDefinitionName(t.Index())

	case TypeVar, TypeMVar:
		return n.names.GenericParameterName(t.Index())

	case TypeGenericInst:
		gc, err := n.bin.ReadGenericClass(t.Data)
		if err != nil {
			return "", err
		}
		base, err := n.names.TypeDefinitionName(gc.TypeDefinitionIndex)
		if err != nil {
			return "", err
		}
		inst, err := n.bin.ReadGenericInst(gc.ClassInst)
		if err != nil {
			return "", err
		}
		args := make([]string, len(inst.Args))
		for i, a := range inst.Args {
			if args[i], err = n.handle(a, depth, open); err != nil {
				return "", err
			}
		}
		return base + "<" + strings.Join(args, ", ") + ">", nil

	case TypeSZArray:
		elem, err := n.handle(t.Data, depth, open)
		if err != nil {
			return "", err
		}
		return elem + "[]", nil

	case TypeArray:
		at, err := n.bin.ReadArrayType(t.Data)
		if err != nil {
			return "", err
		}
		elem, err := n.handle(at.ElementType, depth, open)
		if err != nil {
			return "", err
		}
		commas := 0
		if at.Rank > 1 {
			commas = int(at.Rank) - 1
		}
		return elem + "[" + strings.Repeat(",", commas) + "]", nil

	case TypePtr:
		elem, err := n.handle(t.Data, depth, open)
		if err != nil {
			return "", err
		}
		return elem + "*", nil
	}
	return Keyword(t.Kind), nil
}
