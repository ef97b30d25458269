// Package binimg normalizes ELF, PE and Mach-O containers into one
// virtual-address resolution contract used by the structure locator.
package binimg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrFormat         = errors.New("binimg: malformed binary")
	ErrUnknownFormat  = errors.New("binimg: unknown container magic")
	ErrUnmapped       = errors.New("binimg: address not mapped")
	ErrNoSymbols      = errors.New("binimg: no symbol table")
	ErrSymbolNotFound = errors.New("binimg: symbol not found")
	ErrNoSlice        = errors.New("binimg: no decodable fat slice")
)

// FormatError reports a container that could not be decoded.
type FormatError struct {
	Format Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("binimg: %s: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() []error { return []error{ErrFormat, e.Err} }

func formatErr(f Format, err error) error {
	return &FormatError{Format: f, Err: err}
}

// UnmappedError is returned when a virtual address has no file backing.
type UnmappedError struct {
	VA uint64
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("binimg: VA 0x%x is not mapped", e.VA)
}

func (e *UnmappedError) Unwrap() error { return ErrUnmapped }

// Arch is the preferred slice width when resolving a fat Mach-O.
type Arch int

const (
	Arch64 Arch = iota
	Arch32
)

func (a Arch) String() string {
	if a == Arch32 {
		return "32"
	}
	return "64"
}

// ParseArch accepts "32" or "64"; the empty string selects Arch64.
func ParseArch(s string) (Arch, error) {
	switch s {
	case "", "64", "arm64", "x86_64":
		return Arch64, nil
	case "32", "arm", "armv7", "i386":
		return Arch32, nil
	}
	return Arch64, fmt.Errorf("binimg: unknown arch %q", s)
}

// Options tunes Open.
type Options struct {
	PreferredArch Arch
}

// Machine identifies the instruction set of an image.
type Machine int

const (
	MachineUnknown Machine = iota
	MachineARM
	MachineARM64
	MachineX86
	MachineX86_64
)

func (m Machine) String() string {
	switch m {
	case MachineARM:
		return "arm"
	case MachineARM64:
		return "arm64"
	case MachineX86:
		return "x86"
	case MachineX86_64:
		return "x86_64"
	}
	return "unknown"
}

// Image is a decoded container. All reads go through MapVA.
type Image interface {
	Format() Format
	// Container reports FormatMachOFat when the image was resolved
	// out of a fat wrapper, otherwise the same value as Format.
	Container() Format
	PointerSize() int
	ByteOrder() binary.ByteOrder
	Machine() Machine

	Sections() *SectionMap
	DataSections() []Section
	ExecSections() []Section

	MapVA(va uint64) (uint64, error)
	ReadAt(va uint64, n int) ([]byte, error)
	ReadPointer(va uint64) (uint64, error)
	ReadPointers(va uint64, count int) ([]uint64, error)
	ReadUint32(va uint64) (uint32, error)
	ReadInt32s(va uint64, count int) ([]int32, error)

	Symbol(names ...string) (uint64, error)
	ProbeCode(va uint64) bool

	// Bytes returns the raw image (the selected slice for fat inputs).
	Bytes() []byte
}

// Open detects the container format and decodes it. Fat Mach-O inputs
// are resolved to a single slice first.
func Open(data []byte, opts Options) (Image, error) {
	format, err := Detect(data)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatELF32, FormatELF64:
		img, err := openELF(data)
		if err != nil {
			return nil, err
		}
		return img, nil
	case FormatPE:
		img, err := openPE(data)
		if err != nil {
			return nil, err
		}
		return img, nil
	case FormatMachO32, FormatMachO64:
		img, err := openMachO(data)
		if err != nil {
			return nil, err
		}
		return img, nil
	case FormatMachOFat:
		slice, _, err := ResolveFat(data, opts.PreferredArch)
		if err != nil {
			return nil, err
		}
		img, err := openMachO(slice)
		if err != nil {
			return nil, err
		}
		img.container = FormatMachOFat
		return img, nil
	}
	return nil, formatErr(format, ErrUnknownFormat)
}
