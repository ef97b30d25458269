package dump

// ECMA-335 attribute bits used by the listing.
const (
	typeVisibilityMask    = 0x00000007
	typeNotPublic         = 0x00000000
	typePublic            = 0x00000001
	typeNestedPublic      = 0x00000002
	typeNestedPrivate     = 0x00000003
	typeNestedFamily      = 0x00000004
	typeNestedAssembly    = 0x00000005
	typeNestedFamAndAssem = 0x00000006
	typeNestedFamOrAssem  = 0x00000007
	typeInterface         = 0x00000020
	typeAbstract          = 0x00000080
	typeSealed            = 0x00000100
	typeSerializable      = 0x00002000

	fieldAccessMask  = 0x0007
	fieldPrivate     = 0x0001
	fieldFamAndAssem = 0x0002
	fieldAssembly    = 0x0003
	fieldFamily      = 0x0004
	fieldFamOrAssem  = 0x0005
	fieldPublic      = 0x0006
	fieldStatic      = 0x0010
	fieldInitOnly    = 0x0020
	fieldLiteral     = 0x0040

	methodAccessMask       = 0x0007
	methodPrivate          = 0x0001
	methodFamAndAssem      = 0x0002
	methodAssem            = 0x0003
	methodFamily           = 0x0004
	methodFamOrAssem       = 0x0005
	methodPublic           = 0x0006
	methodStatic           = 0x0010
	methodFinal            = 0x0020
	methodVirtual          = 0x0040
	methodVtableLayoutMask = 0x0100
	methodReuseSlot        = 0x0000
	methodNewSlot          = 0x0100
	methodAbstract         = 0x0400
	methodPInvokeImpl      = 0x2000

	paramOut      = 0x0002
	paramOptional = 0x0010
)
