package binimg

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
)

// PE is a PE32 or PE32+ image mapped through its section table.
type PE struct {
	base
	File      *pe.File
	ImageBase uint64
}

func openPE(data []byte) (*PE, error) {
	pf, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, formatErr(FormatPE, err)
	}

	img := &PE{File: pf}
	img.ptrSize = 4
	switch oh := pf.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		img.ImageBase = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		img.ImageBase = oh.ImageBase
		img.ptrSize = 8
	default:
		return nil, formatErr(FormatPE, fmt.Errorf("missing optional header"))
	}

	raw := make([]Section, 0, len(pf.Sections))
	for _, s := range pf.Sections {
		size := uint64(s.Size)
		if s.VirtualSize != 0 && uint64(s.VirtualSize) < size {
			size = uint64(s.VirtualSize)
		}
		va := img.ImageBase + uint64(s.VirtualAddress)
		raw = append(raw, Section{
			Name:      s.Name,
			VAStart:   va,
			VAEnd:     va + size,
			FileStart: uint64(s.Offset),
			FileEnd:   uint64(s.Offset) + size,
			Exec:      s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0,
		})
	}
	sm, err := NewSectionMap(data, raw)
	if err != nil {
		return nil, formatErr(FormatPE, err)
	}

	img.data = data
	img.format = FormatPE
	img.order = binary.LittleEndian
	img.machine = peMachine(pf.Machine)
	img.sections = sm
	img.loadSymbols = img.symbolTable
	return img, nil
}

func peMachine(m uint16) Machine {
	switch m {
	case pe.IMAGE_FILE_MACHINE_ARMNT, pe.IMAGE_FILE_MACHINE_ARM, pe.IMAGE_FILE_MACHINE_THUMB:
		return MachineARM
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return MachineARM64
	case pe.IMAGE_FILE_MACHINE_I386:
		return MachineX86
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return MachineX86_64
	}
	return MachineUnknown
}

// symbolTable resolves COFF symbols; stripped release builds have none.
func (f *PE) symbolTable() (map[string]uint64, error) {
	if len(f.File.Symbols) == 0 {
		return nil, ErrNoSymbols
	}
	out := make(map[string]uint64, len(f.File.Symbols))
	for _, s := range f.File.Symbols {
		n := int(s.SectionNumber)
		if n <= 0 || n > len(f.File.Sections) {
			continue
		}
		sec := f.File.Sections[n-1]
		out[s.Name] = f.ImageBase + uint64(sec.VirtualAddress) + uint64(s.Value)
	}
	return out, nil
}
