package binimg

import (
	"encoding/binary"
	"fmt"
)

// Format is the container kind of a binary.
type Format int

const (
	FormatUnknown Format = iota
	FormatELF32
	FormatELF64
	FormatPE
	FormatMachO32
	FormatMachO64
	FormatMachOFat
)

func (f Format) String() string {
	switch f {
	case FormatELF32:
		return "elf32"
	case FormatELF64:
		return "elf64"
	case FormatPE:
		return "pe"
	case FormatMachO32:
		return "macho32"
	case FormatMachO64:
		return "macho64"
	case FormatMachOFat:
		return "macho-fat"
	}
	return "unknown"
}

// Little-endian uint32 views of the leading four bytes.
const (
	MagicPE      uint32 = 0x00905A4D
	MagicELF     uint32 = 0x464C457F
	MagicFatBE   uint32 = 0xBEBAFECA // CA FE BA BE on disk
	MagicFatLE   uint32 = 0xCAFEBABE
	MagicMachO32 uint32 = 0xFEEDFACE
	MagicMachO64 uint32 = 0xFEEDFACF
)

const elfClass64 = 2

// Detect classifies data by its leading magic.
func Detect(data []byte) (Format, error) {
	if len(data) < 4 {
		return FormatUnknown, formatErr(FormatUnknown, fmt.Errorf("%w: %d bytes", ErrUnknownFormat, len(data)))
	}
	magic := binary.LittleEndian.Uint32(data)
	switch magic {
	case MagicPE:
		return FormatPE, nil
	case MagicELF:
		if len(data) > 4 && data[4] == elfClass64 {
			return FormatELF64, nil
		}
		return FormatELF32, nil
	case MagicFatBE, MagicFatLE:
		return FormatMachOFat, nil
	case MagicMachO32:
		return FormatMachO32, nil
	case MagicMachO64:
		return FormatMachO64, nil
	}
	return FormatUnknown, formatErr(FormatUnknown, fmt.Errorf("%w: 0x%08x", ErrUnknownFormat, magic))
}
