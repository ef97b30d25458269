// Package metadatatest assembles global-metadata.dat images for tests.
package metadatatest

import (
	"encoding/binary"

	"il2cppdump/internal/metadata"
)

// Builder collects records and serializes them under one version.
type Builder struct {
	Version int

	Images            []metadata.ImageDefinition
	TypeDefs          []metadata.TypeDefinition
	MethodDefs        []metadata.MethodDefinition
	FieldDefs         []metadata.FieldDefinition
	ParameterDefs     []metadata.ParameterDefinition
	PropertyDefs      []metadata.PropertyDefinition
	FieldDefaults     []metadata.FieldDefaultValue
	ParameterDefaults []metadata.ParameterDefaultValue
	AttributeRanges   []metadata.CustomAttributeTypeRange
	AttributeTypes    []int32
	Interfaces        []int32
	NestedTypes       []int32
	GenericParameters []metadata.GenericParameter
	GenericContainers []metadata.GenericContainer
	UsageLists        []metadata.MetadataUsageList
	UsagePairs        []metadata.MetadataUsagePair

	strings     []byte
	interned    map[string]int32
	literals    []metadata.StringLiteral
	literalData []byte
	defaultData []byte
}

// New returns an empty builder. The string pool starts with "" at 0.
func New(version int) *Builder {
	return &Builder{Version: version, strings: []byte{0}, interned: map[string]int32{"": 0}}
}

// String interns s and returns its pool index.
func (b *Builder) String(s string) int32 {
	if i, ok := b.interned[s]; ok {
		return i
	}
	i := int32(len(b.strings))
	b.strings = append(append(b.strings, s...), 0)
	b.interned[s] = i
	return i
}

// Literal appends a string literal and returns its index.
func (b *Builder) Literal(s string) int {
	b.literals = append(b.literals, metadata.StringLiteral{
		Length:    uint32(len(s)),
		DataIndex: int32(len(b.literalData)),
	})
	b.literalData = append(b.literalData, s...)
	return len(b.literals) - 1
}

// DefaultValue appends a default value blob and returns its data index.
func (b *Builder) DefaultValue(p []byte) int32 {
	i := int32(len(b.defaultData))
	b.defaultData = append(b.defaultData, p...)
	return i
}

// Bytes serializes the metadata file.
func (b *Builder) Bytes() []byte {
	v := b.Version
	bodies := map[string][]byte{
		"stringLiteral":                     records(v, b.literals),
		"stringLiteralData":                 b.literalData,
		"string":                            b.strings,
		"properties":                        records(v, b.PropertyDefs),
		"methods":                           records(v, b.MethodDefs),
		"parameterDefaultValues":            records(v, b.ParameterDefaults),
		"fieldDefaultValues":                records(v, b.FieldDefaults),
		"fieldAndParameterDefaultValueData": b.defaultData,
		"parameters":                        records(v, b.ParameterDefs),
		"fields":                            records(v, b.FieldDefs),
		"genericParameters":                 records(v, b.GenericParameters),
		"genericContainers":                 records(v, b.GenericContainers),
		"nestedTypes":                       int32s(b.NestedTypes),
		"interfaces":                        int32s(b.Interfaces),
		"typeDefinitions":                   records(v, b.TypeDefs),
		"images":                            records(v, b.Images),
		"metadataUsageLists":                records(v, b.UsageLists),
		"metadataUsagePairs":                records(v, b.UsagePairs),
		"attributesInfo":                    records(v, b.AttributeRanges),
		"attributeTypes":                    int32s(b.AttributeTypes),
	}

	names := metadata.HeaderSections(v)
	header := 8 + 8*len(names)
	out := binary.LittleEndian.AppendUint32(nil, metadata.Sanity)
	out = binary.LittleEndian.AppendUint32(out, uint32(v))
	var body []byte
	for _, n := range names {
		for len(body)%4 != 0 {
			body = append(body, 0)
		}
		p := bodies[n]
		out = binary.LittleEndian.AppendUint32(out, uint32(header+len(body)))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(p)))
		body = append(body, p...)
	}
	return append(out, body...)
}

func records[T any](version int, recs []T) []byte {
	var out []byte
	for i := range recs {
		out = metadata.AppendRecord(out, version, &recs[i])
	}
	return out
}

func int32s(vs []int32) []byte {
	var out []byte
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint32(out, uint32(v))
	}
	return out
}
