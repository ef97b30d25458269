package metadata

// ImageDefinition describes one managed assembly image.
type ImageDefinition struct {
	NameIndex         int32
	AssemblyIndex     int32
	TypeStart         int32
	TypeCount         uint32
	ExportedTypeStart int32  `versioned:"min=24"`
	ExportedTypeCount uint32 `versioned:"min=24"`
	EntryPointIndex   int32
	Token             uint32 `versioned:"min=19"`
}

type TypeDefinition struct {
	NameIndex            int32
	NamespaceIndex       int32
	CustomAttributeIndex int32
	ByvalTypeIndex       int32
	ByrefTypeIndex       int32

	DeclaringTypeIndex int32
	ParentIndex        int32
	ElementTypeIndex   int32

	RGCTXStartIndex       int32
	RGCTXCount            int32
	GenericContainerIndex int32

	DelegateWrapperFromManagedToNativeIndex int32 `versioned:"max=22"`
	MarshalingFunctionsIndex                int32 `versioned:"max=22"`
	CCWFunctionIndex                        int32 `versioned:"min=21,max=22"`
	GUIDIndex                               int32 `versioned:"min=21,max=22"`

	Flags uint32

	FieldStart            int32
	MethodStart           int32
	EventStart            int32
	PropertyStart         int32
	NestedTypesStart      int32
	InterfacesStart       int32
	VTableStart           int32
	InterfaceOffsetsStart int32

	MethodCount           uint16
	PropertyCount         uint16
	FieldCount            uint16
	EventCount            uint16
	NestedTypeCount       uint16
	VTableCount           uint16
	InterfacesCount       uint16
	InterfaceOffsetsCount uint16

	// bits: valuetype, enumtype, has_finalize, has_cctor, ...
	Bitfield uint32
	Token    uint32 `versioned:"min=19"`
}

func (t *TypeDefinition) IsValueType() bool { return t.Bitfield&1 == 1 }
func (t *TypeDefinition) IsEnum() bool      { return (t.Bitfield>>1)&1 == 1 }

type MethodDefinition struct {
	NameIndex             int32
	DeclaringType         int32
	ReturnType            int32
	ParameterStart        int32
	CustomAttributeIndex  int32
	GenericContainerIndex int32
	MethodIndex           int32
	InvokerIndex          int32
	DelegateWrapperIndex  int32
	RGCTXStartIndex       int32
	RGCTXCount            int32
	Token                 uint32
	Flags                 uint16
	IFlags                uint16
	Slot                  uint16
	ParameterCount        uint16
}

type FieldDefinition struct {
	NameIndex            int32
	TypeIndex            int32
	CustomAttributeIndex int32
	Token                uint32 `versioned:"min=19"`
}

type ParameterDefinition struct {
	NameIndex            int32
	Token                uint32
	CustomAttributeIndex int32
	TypeIndex            int32
}

type PropertyDefinition struct {
	NameIndex            int32
	Get                  int32
	Set                  int32
	Attrs                uint32
	CustomAttributeIndex int32
	Token                uint32 `versioned:"min=19"`
}

type FieldDefaultValue struct {
	FieldIndex int32
	TypeIndex  int32
	DataIndex  int32
}

type ParameterDefaultValue struct {
	ParameterIndex int32
	TypeIndex      int32
	DataIndex      int32
}

// CustomAttributeTypeRange indexes AttributeTypes.
type CustomAttributeTypeRange struct {
	Start int32
	Count int32
}

type StringLiteral struct {
	Length    uint32
	DataIndex int32
}

type MetadataUsageList struct {
	Start uint32
	Count uint32
}

type MetadataUsagePair struct {
	DestinationIndex   uint32
	EncodedSourceIndex uint32
}

type GenericParameter struct {
	OwnerIndex       int32
	NameIndex        int32
	ConstraintsStart int16
	ConstraintsCount int16
	Num              uint16
	Flags            uint16
}

type GenericContainer struct {
	OwnerIndex            int32
	TypeArgc              int32
	IsMethod              int32
	GenericParameterStart int32
}
