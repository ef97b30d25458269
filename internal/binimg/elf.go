package binimg

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
)

// ELF is an ELF32 or ELF64 image mapped through its PT_LOAD segments.
type ELF struct {
	base
	File *elf.File
}

func openELF(data []byte) (*ELF, error) {
	format := FormatELF32
	if len(data) > 4 && data[4] == elfClass64 {
		format = FormatELF64
	}
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, formatErr(format, err)
	}

	var raw []Section
	for i, p := range ef.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		raw = append(raw, Section{
			Name:      fmt.Sprintf("LOAD[%d]", i),
			VAStart:   p.Vaddr,
			VAEnd:     p.Vaddr + p.Filesz,
			FileStart: p.Off,
			FileEnd:   p.Off + p.Filesz,
			Exec:      p.Flags&elf.PF_X != 0,
		})
	}
	sm, err := NewSectionMap(data, raw)
	if err != nil {
		return nil, formatErr(format, err)
	}

	img := &ELF{
		base: base{
			data:     data,
			format:   format,
			ptrSize:  4,
			order:    ef.ByteOrder,
			machine:  elfMachine(ef.Machine),
			sections: sm,
		},
		File: ef,
	}
	if ef.Class == elf.ELFCLASS64 {
		img.ptrSize = 8
	}
	img.loadSymbols = img.symbolTable
	return img, nil
}

func elfMachine(m elf.Machine) Machine {
	switch m {
	case elf.EM_ARM:
		return MachineARM
	case elf.EM_AARCH64:
		return MachineARM64
	case elf.EM_386:
		return MachineX86
	case elf.EM_X86_64:
		return MachineX86_64
	}
	return MachineUnknown
}

// symbolTable merges .symtab and .dynsym; .symtab wins on conflicts.
func (f *ELF) symbolTable() (map[string]uint64, error) {
	out := make(map[string]uint64)
	found := false
	for _, load := range []func() ([]elf.Symbol, error){f.File.DynamicSymbols, f.File.Symbols} {
		syms, err := load()
		if err != nil {
			if errors.Is(err, elf.ErrNoSymbols) {
				continue
			}
			return nil, fmt.Errorf("binimg: elf symbols: %w", err)
		}
		found = true
		for _, s := range syms {
			if s.Name == "" || s.Value == 0 || s.Section == elf.SHN_UNDEF {
				continue
			}
			out[s.Name] = s.Value
		}
	}
	if !found {
		return nil, ErrNoSymbols
	}
	return out, nil
}
