package binimg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

const vmProtExecute = 0x4

// MachO is a thin Mach-O image mapped through its segments.
type MachO struct {
	base
	File *macho.File
}

func openMachO(data []byte) (*MachO, error) {
	format := FormatMachO32
	if len(data) >= 4 && binary.LittleEndian.Uint32(data) == MagicMachO64 {
		format = FormatMachO64
	}
	mf, err := newMachOFile(bytes.NewReader(data))
	if err != nil {
		return nil, formatErr(format, err)
	}

	var raw []Section
	for _, seg := range mf.Segments() {
		if seg.Filesz == 0 {
			continue
		}
		size := seg.Filesz
		if seg.Memsz != 0 && seg.Memsz < size {
			size = seg.Memsz
		}
		raw = append(raw, Section{
			Name:      seg.Name,
			VAStart:   seg.Addr,
			VAEnd:     seg.Addr + size,
			FileStart: seg.Offset,
			FileEnd:   seg.Offset + size,
			Exec:      uint32(seg.Prot)&vmProtExecute != 0,
		})
	}
	sm, err := NewSectionMap(data, raw)
	if err != nil {
		return nil, formatErr(format, err)
	}

	img := &MachO{
		base: base{
			data:     data,
			format:   format,
			ptrSize:  4,
			order:    mf.ByteOrder,
			machine:  machoMachine(mf.CPU),
			sections: sm,
		},
		File: mf,
	}
	if mf.Magic == types.Magic64 {
		img.ptrSize = 8
	}
	img.loadSymbols = img.symbolTable
	return img, nil
}

// newMachOFile recovers from decoder panics on hostile load commands.
func newMachOFile(r io.ReaderAt) (f *macho.File, err error) {
	defer func() {
		if p := recover(); p != nil {
			f, err = nil, fmt.Errorf("macho decode: %v", p)
		}
	}()
	return macho.NewFile(r)
}

func machoMachine(cpu types.CPU) Machine {
	switch cpu {
	case types.CPUArm:
		return MachineARM
	case types.CPUArm64:
		return MachineARM64
	case types.CPUI386:
		return MachineX86
	case types.CPUAmd64:
		return MachineX86_64
	}
	return MachineUnknown
}

func (f *MachO) symbolTable() (map[string]uint64, error) {
	if f.File.Symtab == nil || len(f.File.Symtab.Syms) == 0 {
		return nil, ErrNoSymbols
	}
	out := make(map[string]uint64, len(f.File.Symtab.Syms))
	for _, s := range f.File.Symtab.Syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		out[s.Name] = s.Value
	}
	return out, nil
}
