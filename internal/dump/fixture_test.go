package dump

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"il2cppdump/internal/binimg"
	"il2cppdump/internal/il2cpp"
	"il2cppdump/internal/il2cpp/il2cpptest"
	"il2cppdump/internal/metadata"
	"il2cppdump/internal/metadata/metadatatest"
)

// Binary type table indices used by the fixture.
const (
	tPlayer = iota
	tRunner
	tVoid
	tHP
	tTag
	tOutInt
	tObject
	tInt
	tObsolete
	tBool
	tChar
	tDouble
	tShort
)

type fixture struct {
	md  *metadata.Metadata
	bin *il2cpp.Binary
	im  *il2cpptest.Image

	slot     uint64
	defaults map[il2cpp.TypeKind]int32
}

func typed(b *il2cpptest.Builder, kind il2cpp.TypeKind, data uint64, attrs uint16) uint64 {
	return b.Buf.Words(data, uint64(attrs)|uint64(kind)<<16)
}

// newFixture builds an image with three types:
//
//	[ObsoleteAttribute] [Serializable] public class Game.Player : IRunner
//	public interface Game.IRunner
//	public sealed class System.ObsoleteAttribute
//
// Player has fields hp and const Tag = "abc", methods Run(out int count)
// and get_Hp, and property Hp. IRunner.Run has no code.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := il2cpptest.New(il2cpptest.Options{})
	b.MethodPointers(il2cpptest.Code(0), il2cpptest.Code(1))
	b.Invokers(il2cpptest.Code(4))
	b.AttributeGenerators(il2cpptest.Code(5))
	slot := b.UsageSlots(1)[0]
	b.FieldOffsets([]int32{0x10, 0x18}, nil, nil)
	b.Types(
		typed(b, il2cpp.TypeClass, 0, 0),
		typed(b, il2cpp.TypeClass, 1, 0),
		typed(b, il2cpp.TypeVoid, 0, 0),
		typed(b, il2cpp.TypeI4, 0, fieldPublic),
		typed(b, il2cpp.TypeString, 0, fieldPublic|fieldStatic|fieldLiteral),
		typed(b, il2cpp.TypeI4, 0, paramOut),
		typed(b, il2cpp.TypeObject, 0, 0),
		typed(b, il2cpp.TypeI4, 0, 0),
		typed(b, il2cpp.TypeClass, 2, 0),
		typed(b, il2cpp.TypeBoolean, 0, 0),
		typed(b, il2cpp.TypeChar, 0, 0),
		typed(b, il2cpp.TypeR8, 0, 0),
		typed(b, il2cpp.TypeI2, 0, 0),
	)
	im := b.Build()

	m := metadatatest.New(il2cpptest.Version)
	game := m.String("Game")
	m.Images = []metadata.ImageDefinition{{NameIndex: m.String("Assembly-CSharp.dll"), TypeStart: 0, TypeCount: 3}}
	m.TypeDefs = []metadata.TypeDefinition{
		{
			NameIndex: m.String("Player"), NamespaceIndex: game, CustomAttributeIndex: 0,
			ParentIndex: tObject, Flags: typePublic | typeSerializable,
			FieldStart: 0, FieldCount: 2, MethodStart: 0, MethodCount: 2,
			PropertyStart: 0, PropertyCount: 1, InterfacesStart: 0, InterfacesCount: 1,
		},
		{
			NameIndex: m.String("IRunner"), NamespaceIndex: game, CustomAttributeIndex: -1,
			ParentIndex: -1, Flags: typePublic | typeInterface | typeAbstract,
			MethodStart: 2, MethodCount: 1,
		},
		{
			NameIndex: m.String("ObsoleteAttribute"), NamespaceIndex: m.String("System"),
			CustomAttributeIndex: -1, ParentIndex: tObject, Flags: typePublic | typeSealed,
		},
	}
	m.FieldDefs = []metadata.FieldDefinition{
		{NameIndex: m.String("hp"), TypeIndex: tHP, CustomAttributeIndex: -1},
		{NameIndex: m.String("Tag"), TypeIndex: tTag, CustomAttributeIndex: -1},
	}
	m.FieldDefaults = []metadata.FieldDefaultValue{
		{FieldIndex: 1, TypeIndex: tTag, DataIndex: m.DefaultValue(append(binary.LittleEndian.AppendUint32(nil, 3), "abc"...))},
	}
	m.MethodDefs = []metadata.MethodDefinition{
		{
			NameIndex: m.String("Run"), ReturnType: tVoid, ParameterStart: 0, ParameterCount: 1,
			CustomAttributeIndex: -1, MethodIndex: 0, Flags: methodPublic | methodVirtual | methodNewSlot,
		},
		{
			NameIndex: m.String("get_Hp"), ReturnType: tInt, ParameterStart: 1,
			CustomAttributeIndex: -1, MethodIndex: 1, Flags: methodPublic,
		},
		{
			NameIndex: m.String("Run"), ReturnType: tVoid, ParameterStart: 1,
			CustomAttributeIndex: -1, MethodIndex: -1,
			Flags: methodPublic | methodVirtual | methodAbstract | methodNewSlot,
		},
	}
	m.ParameterDefs = []metadata.ParameterDefinition{
		{NameIndex: m.String("count"), TypeIndex: tOutInt, CustomAttributeIndex: -1},
	}
	m.PropertyDefs = []metadata.PropertyDefinition{
		{NameIndex: m.String("Hp"), Get: 1, Set: -1, CustomAttributeIndex: -1},
	}
	m.Interfaces = []int32{tRunner}
	m.AttributeRanges = []metadata.CustomAttributeTypeRange{{Start: 0, Count: 1}}
	m.AttributeTypes = []int32{tObsolete}
	m.Literal("hello\n")
	m.UsageLists = []metadata.MetadataUsageList{{Start: 0, Count: 1}}
	m.UsagePairs = []metadata.MetadataUsagePair{{DestinationIndex: 0, EncodedSourceIndex: metadata.UsageStringLiteral << 29}}

	defaults := map[il2cpp.TypeKind]int32{
		il2cpp.TypeBoolean: m.DefaultValue([]byte{1}),
		il2cpp.TypeChar:    m.DefaultValue([]byte{0x41, 0}),
		il2cpp.TypeR8:      m.DefaultValue(binary.LittleEndian.AppendUint64(nil, math.Float64bits(2.5))),
		il2cpp.TypeI2:      m.DefaultValue([]byte{0xfe, 0xff}),
	}

	md, err := metadata.New(m.Bytes())
	require.NoError(t, err)

	img, err := binimg.Open(im.ELF(), binimg.Options{})
	require.NoError(t, err)
	bin, err := il2cpp.New(img, md.Version, md.MaxMetadataUsages())
	require.NoError(t, err)
	require.NoError(t, bin.Locate(il2cpp.ModeManual, im.CodeRegistration, im.MetadataRegistration, il2cpp.Evidence{}))

	return &fixture{md: md, bin: bin, im: im, slot: slot, defaults: defaults}
}

func (f *fixture) dumper(t *testing.T, cfg Config) *Dumper {
	t.Helper()
	d, err := New(f.md, f.bin, cfg)
	require.NoError(t, err)
	return d
}
