// Package metadata decodes IL2CPP global-metadata.dat into typed record
// tables and answers the string, literal and count lookups the dumper
// needs.
package metadata

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/apex/log"
)

const (
	Sanity     uint32 = 0xFAB11BAF
	MinVersion        = 16
	MaxVersion        = 24
)

var (
	ErrBadSanity          = errors.New("metadata: bad sanity value")
	ErrUnsupportedVersion = errors.New("metadata: unsupported version")
	ErrIndex              = errors.New("metadata: index out of range")
)

// Section is an (offset, size-in-bytes) pair from the header.
type Section struct {
	Offset uint32
	Size   uint32
}

// headerSections lists the header pairs in file order with the first
// version that carries each.
var headerSections = []struct {
	name       string
	minVersion int
}{
	{"stringLiteral", 16},
	{"stringLiteralData", 16},
	{"string", 16},
	{"events", 16},
	{"properties", 16},
	{"methods", 16},
	{"parameterDefaultValues", 16},
	{"fieldDefaultValues", 16},
	{"fieldAndParameterDefaultValueData", 16},
	{"fieldMarshaledSizes", 16},
	{"parameters", 16},
	{"fields", 16},
	{"genericParameters", 16},
	{"genericParameterConstraints", 16},
	{"genericContainers", 16},
	{"nestedTypes", 16},
	{"interfaces", 16},
	{"vtableMethods", 16},
	{"interfaceOffsets", 16},
	{"typeDefinitions", 16},
	{"rgctxEntries", 16},
	{"images", 16},
	{"assemblies", 16},
	{"metadataUsageLists", 19},
	{"metadataUsagePairs", 19},
	{"fieldRefs", 19},
	{"referencedAssemblies", 20},
	{"attributesInfo", 21},
	{"attributeTypes", 21},
	{"unresolvedVirtualCallParameterTypes", 22},
	{"unresolvedVirtualCallParameterRanges", 22},
	{"windowsRuntimeTypeNames", 23},
	{"exportedTypeDefinitions", 24},
}

// Encoded metadata usage kinds.
const (
	UsageTypeInfo      = 1
	UsageType          = 2
	UsageMethodDef     = 3
	UsageFieldInfo     = 4
	UsageStringLiteral = 5
	UsageMethodRef     = 6
)

// DecodeUsage splits an encoded usage source index.
func DecodeUsage(enc uint32) (kind int, index uint32) {
	return int((enc & 0xE0000000) >> 29), enc & 0x1FFFFFFF
}

// Options tunes Parse.
type Options struct {
	// ForceVersion overrides the header version when non-zero.
	ForceVersion int
}

// Metadata is a decoded global-metadata.dat. It is read-only after
// Parse and safe for concurrent readers.
type Metadata struct {
	Version  int
	Sections map[string]Section

	Images            []ImageDefinition
	TypeDefs          []TypeDefinition
	MethodDefs        []MethodDefinition
	FieldDefs         []FieldDefinition
	ParameterDefs     []ParameterDefinition
	PropertyDefs      []PropertyDefinition
	FieldDefaults     []FieldDefaultValue
	ParameterDefaults []ParameterDefaultValue
	AttributeRanges   []CustomAttributeTypeRange
	AttributeTypes    []int32
	InterfaceIndices  []int32
	NestedTypeIndices []int32
	StringLiterals    []StringLiteral
	GenericParameters []GenericParameter
	GenericContainers []GenericContainer
	UsageLists        []MetadataUsageList
	UsagePairs        []MetadataUsagePair

	data         []byte
	fieldDefault map[int32]int
	paramDefault map[int32]int
	maxUsages    int
}

// New parses data using the version from its header.
func New(data []byte) (*Metadata, error) {
	return Parse(data, Options{})
}

// Parse decodes data.
func Parse(data []byte, opts Options) (*Metadata, error) {
	s := NewStream(data)
	sanity, err := s.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("metadata: header: %w", err)
	}
	if sanity != Sanity {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadSanity, sanity)
	}
	v, err := s.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("metadata: header: %w", err)
	}
	version := int(v)
	if opts.ForceVersion != 0 {
		log.Debugf("metadata: forcing version %d (header says %d)", opts.ForceVersion, version)
		version = opts.ForceVersion
	}
	if version < MinVersion || version > MaxVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	m := &Metadata{
		Version:      version,
		Sections:     make(map[string]Section, len(headerSections)),
		data:         data,
		fieldDefault: make(map[int32]int),
		paramDefault: make(map[int32]int),
	}
	for _, h := range headerSections {
		if version < h.minVersion {
			continue
		}
		off, err := s.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("metadata: header %s: %w", h.name, err)
		}
		size, err := s.ReadUint32()
		if err != nil {
			return nil, fmt.Errorf("metadata: header %s: %w", h.name, err)
		}
		m.Sections[h.name] = Section{Offset: off, Size: size}
	}

	if err := m.readTables(); err != nil {
		return nil, err
	}
	for i, d := range m.FieldDefaults {
		m.fieldDefault[d.FieldIndex] = i
	}
	for i, d := range m.ParameterDefaults {
		m.paramDefault[d.ParameterIndex] = i
	}
	for _, p := range m.UsagePairs {
		if n := int(p.DestinationIndex) + 1; n > m.maxUsages {
			m.maxUsages = n
		}
	}

	log.WithFields(log.Fields{
		"version": version,
		"images":  len(m.Images),
		"types":   len(m.TypeDefs),
		"methods": len(m.MethodDefs),
	}).Debug("metadata: parsed")
	return m, nil
}

func (m *Metadata) readTables() error {
	return errors.Join(
		load(m, "images", &m.Images),
		load(m, "typeDefinitions", &m.TypeDefs),
		load(m, "methods", &m.MethodDefs),
		load(m, "fields", &m.FieldDefs),
		load(m, "parameters", &m.ParameterDefs),
		load(m, "properties", &m.PropertyDefs),
		load(m, "fieldDefaultValues", &m.FieldDefaults),
		load(m, "parameterDefaultValues", &m.ParameterDefaults),
		load(m, "stringLiteral", &m.StringLiterals),
		load(m, "genericParameters", &m.GenericParameters),
		load(m, "genericContainers", &m.GenericContainers),
		load(m, "metadataUsageLists", &m.UsageLists),
		load(m, "metadataUsagePairs", &m.UsagePairs),
		load(m, "attributesInfo", &m.AttributeRanges),
		loadInt32s(m, "interfaces", &m.InterfaceIndices),
		loadInt32s(m, "nestedTypes", &m.NestedTypeIndices),
		loadInt32s(m, "attributeTypes", &m.AttributeTypes),
	)
}

func load[T any](m *Metadata, name string, dst *[]T) error {
	sec, ok := m.Sections[name]
	if !ok {
		return nil
	}
	t, err := readTable[T](m.data, m.Version, sec)
	if err != nil {
		return fmt.Errorf("metadata: %s: %w", name, err)
	}
	*dst = t
	return nil
}

func loadInt32s(m *Metadata, name string, dst *[]int32) error {
	sec, ok := m.Sections[name]
	if !ok {
		return nil
	}
	t, err := readInt32Table(m.data, sec)
	if err != nil {
		return fmt.Errorf("metadata: %s: %w", name, err)
	}
	*dst = t
	return nil
}

// String returns the NUL-terminated identifier at index in the string pool.
func (m *Metadata) String(index int32) (string, error) {
	sec := m.Sections["string"]
	if index < 0 || uint32(index) >= sec.Size {
		return "", fmt.Errorf("%w: string %d", ErrIndex, index)
	}
	s := NewStreamAt(m.data, int(sec.Offset)+int(index))
	return s.ReadCString()
}

// StringLiteral returns the literal at index, decoded as UTF-8.
func (m *Metadata) StringLiteral(index int) (string, error) {
	if index < 0 || index >= len(m.StringLiterals) {
		return "", fmt.Errorf("%w: string literal %d", ErrIndex, index)
	}
	lit := m.StringLiterals[index]
	sec := m.Sections["stringLiteralData"]
	s := NewStreamAt(m.data, int(sec.Offset)+int(lit.DataIndex))
	b, err := s.ReadBytes(int(lit.Length))
	if err != nil {
		return "", fmt.Errorf("metadata: string literal %d: %w", index, err)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD"), nil
}

// FieldDefaultValue returns the default value record of a field, if any.
func (m *Metadata) FieldDefaultValue(fieldIndex int32) (FieldDefaultValue, bool) {
	i, ok := m.fieldDefault[fieldIndex]
	if !ok {
		return FieldDefaultValue{}, false
	}
	return m.FieldDefaults[i], true
}

// ParameterDefaultValue returns the default value record of a parameter.
func (m *Metadata) ParameterDefaultValue(paramIndex int32) (ParameterDefaultValue, bool) {
	i, ok := m.paramDefault[paramIndex]
	if !ok {
		return ParameterDefaultValue{}, false
	}
	return m.ParameterDefaults[i], true
}

// DefaultValueData returns a stream positioned at a default value blob.
func (m *Metadata) DefaultValueData(dataIndex int32) (*Stream, error) {
	sec := m.Sections["fieldAndParameterDefaultValueData"]
	if dataIndex < 0 || uint32(dataIndex) >= sec.Size {
		return nil, fmt.Errorf("%w: default value data %d", ErrIndex, dataIndex)
	}
	return NewStreamAt(m.data, int(sec.Offset)+int(dataIndex)), nil
}

// AttributeTypeRange returns the attribute type range at index (v21+).
func (m *Metadata) AttributeTypeRange(index int32) (CustomAttributeTypeRange, error) {
	if index < 0 || int(index) >= len(m.AttributeRanges) {
		return CustomAttributeTypeRange{}, fmt.Errorf("%w: attribute range %d", ErrIndex, index)
	}
	return m.AttributeRanges[index], nil
}

// MethodCount is the method-count oracle. With excludeGenericTemplates
// only methods that own a code pointer slot (MethodIndex >= 0) count.
func (m *Metadata) MethodCount(excludeGenericTemplates bool) int {
	if !excludeGenericTemplates {
		return len(m.MethodDefs)
	}
	n := 0
	for i := range m.MethodDefs {
		if m.MethodDefs[i].MethodIndex >= 0 {
			n++
		}
	}
	return n
}

// TypeDefinitionCount is the type-count oracle.
func (m *Metadata) TypeDefinitionCount() int { return len(m.TypeDefs) }

// MaxMetadataUsages is one past the highest usage destination index.
func (m *Metadata) MaxMetadataUsages() int { return m.maxUsages }

// LiteralUsage binds a metadata usage slot to a string literal.
type LiteralUsage struct {
	UsageIndex   uint32
	LiteralIndex uint32
}

// StringLiteralUsages returns every usage slot that references a string
// literal, ordered by slot.
func (m *Metadata) StringLiteralUsages() []LiteralUsage {
	var out []LiteralUsage
	seen := make(map[uint32]bool)
	for _, l := range m.UsageLists {
		for i := l.Start; i < l.Start+l.Count && int(i) < len(m.UsagePairs); i++ {
			p := m.UsagePairs[i]
			kind, idx := DecodeUsage(p.EncodedSourceIndex)
			if kind != UsageStringLiteral || seen[p.DestinationIndex] {
				continue
			}
			seen[p.DestinationIndex] = true
			out = append(out, LiteralUsage{UsageIndex: p.DestinationIndex, LiteralIndex: idx})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UsageIndex < out[j].UsageIndex })
	return out
}

// TypeDefinitionName returns the simple name of a type definition.
func (m *Metadata) TypeDefinitionName(index int32) (string, error) {
	if index < 0 || int(index) >= len(m.TypeDefs) {
		return "", fmt.Errorf("%w: type definition %d", ErrIndex, index)
	}
	return m.String(m.TypeDefs[index].NameIndex)
}

// GenericParameterName returns the declared name of a generic parameter.
func (m *Metadata) GenericParameterName(index int32) (string, error) {
	if index < 0 || int(index) >= len(m.GenericParameters) {
		return "", fmt.Errorf("%w: generic parameter %d", ErrIndex, index)
	}
	return m.String(m.GenericParameters[index].NameIndex)
}

// ImageName returns the file name of an image.
func (m *Metadata) ImageName(index int) (string, error) {
	if index < 0 || index >= len(m.Images) {
		return "", fmt.Errorf("%w: image %d", ErrIndex, index)
	}
	return m.String(m.Images[index].NameIndex)
}
