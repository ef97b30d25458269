// Package binimgtest builds minimal ELF, PE and Mach-O images for tests.
package binimgtest

import (
	"bytes"
	"debug/elf"
	"debug/pe"
	"encoding/binary"

	"github.com/blacktop/go-macho/types"
)

// Segment is one file-backed mapping of a synthetic image.
type Segment struct {
	Name string
	VA   uint64
	Data []byte
	Exec bool
	// Write also marks an executable ELF segment writable.
	Write bool
}

func align(n, a int) int { return (n + a - 1) &^ (a - 1) }

func pad(b *bytes.Buffer, to int) {
	for b.Len() < to {
		b.WriteByte(0)
	}
}

func mustWrite(b *bytes.Buffer, order binary.ByteOrder, v any) {
	if err := binary.Write(b, order, v); err != nil {
		panic(err)
	}
}

// ELF64 returns a little-endian ELF64 shared object with one PT_LOAD per
// segment.
func ELF64(machine elf.Machine, segs ...Segment) []byte {
	const ehsize, phsize = 64, 56
	var b bytes.Buffer
	offs := layout(ehsize+phsize*len(segs), segs)

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	mustWrite(&b, binary.LittleEndian, elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     uint16(len(segs)),
	})
	for i, s := range segs {
		mustWrite(&b, binary.LittleEndian, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elfFlags(s)),
			Off:    uint64(offs[i]),
			Vaddr:  s.VA,
			Paddr:  s.VA,
			Filesz: uint64(len(s.Data)),
			Memsz:  uint64(len(s.Data)),
			Align:  16,
		})
	}
	writeSegs(&b, offs, segs)
	return b.Bytes()
}

// ELF32 is ELF64 for 32-bit targets.
func ELF32(machine elf.Machine, segs ...Segment) []byte {
	const ehsize, phsize = 52, 32
	var b bytes.Buffer
	offs := layout(ehsize+phsize*len(segs), segs)

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	mustWrite(&b, binary.LittleEndian, elf.Header32{
		Ident:     ident,
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phsize,
		Phnum:     uint16(len(segs)),
	})
	for i, s := range segs {
		mustWrite(&b, binary.LittleEndian, elf.Prog32{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elfFlags(s)),
			Off:    uint32(offs[i]),
			Vaddr:  uint32(s.VA),
			Paddr:  uint32(s.VA),
			Filesz: uint32(len(s.Data)),
			Memsz:  uint32(len(s.Data)),
			Align:  16,
		})
	}
	writeSegs(&b, offs, segs)
	return b.Bytes()
}

func elfFlags(s Segment) elf.ProgFlag {
	f := elf.PF_R
	if s.Exec {
		f |= elf.PF_X
	}
	if !s.Exec || s.Write {
		f |= elf.PF_W
	}
	return f
}

// layout assigns 16-byte aligned file offsets after a header of hdr bytes.
func layout(hdr int, segs []Segment) []int {
	offs := make([]int, len(segs))
	off := align(hdr, 16)
	for i, s := range segs {
		offs[i] = off
		off = align(off+len(s.Data), 16)
	}
	return offs
}

func writeSegs(b *bytes.Buffer, offs []int, segs []Segment) {
	for i, s := range segs {
		pad(b, offs[i])
		b.Write(s.Data)
	}
}

// PE64 returns a PE32+ image. Segment VAs are absolute; they must lie
// above imageBase.
func PE64(machine uint16, imageBase uint64, segs ...Segment) []byte {
	const lfanew = 0x40
	hdr := lfanew + 4 + 20 + 240 + 40*len(segs)
	offs := layout(hdr, segs)

	var b bytes.Buffer
	dos := make([]byte, lfanew)
	copy(dos, []byte{'M', 'Z', 0x90, 0x00})
	binary.LittleEndian.PutUint32(dos[0x3c:], lfanew)
	b.Write(dos)
	b.WriteString("PE\x00\x00")
	mustWrite(&b, binary.LittleEndian, pe.FileHeader{
		Machine:              machine,
		NumberOfSections:     uint16(len(segs)),
		SizeOfOptionalHeader: 240,
		Characteristics:      pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_DLL,
	})
	mustWrite(&b, binary.LittleEndian, pe.OptionalHeader64{
		Magic:               0x20b,
		ImageBase:           imageBase,
		SectionAlignment:    0x1000,
		FileAlignment:       0x200,
		NumberOfRvaAndSizes: 16,
	})
	for i, s := range segs {
		var name [8]uint8
		copy(name[:], s.Name)
		ch := uint32(pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_CNT_INITIALIZED_DATA)
		if s.Exec {
			ch = pe.IMAGE_SCN_MEM_READ | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_CNT_CODE
		}
		mustWrite(&b, binary.LittleEndian, pe.SectionHeader32{
			Name:             name,
			VirtualSize:      uint32(len(s.Data)),
			VirtualAddress:   uint32(s.VA - imageBase),
			SizeOfRawData:    uint32(len(s.Data)),
			PointerToRawData: uint32(offs[i]),
			Characteristics:  ch,
		})
	}
	writeSegs(&b, offs, segs)
	return b.Bytes()
}

const (
	lcSegment   = 0x1
	lcSymtab    = 0x2
	lcSegment64 = 0x19
	nSect       = 0xe
	nExt        = 0x1
)

// MachO64 returns a thin little-endian Mach-O dylib. syms, if non-nil,
// becomes an LC_SYMTAB with one external symbol per entry.
func MachO64(cpu types.CPU, segs []Segment, syms map[string]uint64) []byte {
	return machO(true, cpu, segs, syms)
}

// MachO32 is MachO64 for 32-bit targets.
func MachO32(cpu types.CPU, segs []Segment, syms map[string]uint64) []byte {
	return machO(false, cpu, segs, syms)
}

func machO(is64 bool, cpu types.CPU, segs []Segment, syms map[string]uint64) []byte {
	hsize, segsize, nlsize := 28, 56, 12
	magic := types.Magic32
	if is64 {
		hsize, segsize, nlsize = 32, 72, 16
		magic = types.Magic64
	}
	ncmds := len(segs)
	cmdsize := segsize * len(segs)
	if syms != nil {
		ncmds++
		cmdsize += 24
	}
	offs := layout(hsize+cmdsize, segs)

	names := sortedKeys(syms)
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	strx := make([]uint32, len(names))
	for i, n := range names {
		strx[i] = uint32(strtab.Len())
		strtab.WriteString(n)
		strtab.WriteByte(0)
	}
	end := hsize + cmdsize
	if len(segs) > 0 {
		last := len(segs) - 1
		end = offs[last] + len(segs[last].Data)
	}
	symoff := align(end, 16)
	stroff := symoff + nlsize*len(names)

	o := binary.LittleEndian
	var b bytes.Buffer
	mustWrite(&b, o, uint32(magic))
	mustWrite(&b, o, uint32(cpu))
	mustWrite(&b, o, uint32(0))
	mustWrite(&b, o, uint32(types.MH_DYLIB))
	mustWrite(&b, o, uint32(ncmds))
	mustWrite(&b, o, uint32(cmdsize))
	mustWrite(&b, o, uint32(0))
	if is64 {
		mustWrite(&b, o, uint32(0))
	}
	for i, s := range segs {
		var name [16]byte
		copy(name[:], s.Name)
		prot := uint32(1 | 2)
		if s.Exec {
			prot = 1 | 4
		}
		if is64 {
			mustWrite(&b, o, uint32(lcSegment64))
			mustWrite(&b, o, uint32(segsize))
			b.Write(name[:])
			mustWrite(&b, o, []uint64{s.VA, uint64(len(s.Data)), uint64(offs[i]), uint64(len(s.Data))})
		} else {
			mustWrite(&b, o, uint32(lcSegment))
			mustWrite(&b, o, uint32(segsize))
			b.Write(name[:])
			mustWrite(&b, o, []uint32{uint32(s.VA), uint32(len(s.Data)), uint32(offs[i]), uint32(len(s.Data))})
		}
		mustWrite(&b, o, []uint32{prot, prot, 0, 0})
	}
	if syms != nil {
		mustWrite(&b, o, []uint32{lcSymtab, 24, uint32(symoff), uint32(len(names)), uint32(stroff), uint32(strtab.Len())})
	}
	writeSegs(&b, offs, segs)
	if syms != nil {
		pad(&b, symoff)
		for i, n := range names {
			mustWrite(&b, o, strx[i])
			b.WriteByte(nSect | nExt)
			b.WriteByte(1)
			mustWrite(&b, o, uint16(0))
			if is64 {
				mustWrite(&b, o, syms[n])
			} else {
				mustWrite(&b, o, uint32(syms[n]))
			}
		}
		b.Write(strtab.Bytes())
	}
	return b.Bytes()
}

// FatSlice is one member of a fat Mach-O.
type FatSlice struct {
	CPU  types.CPU
	Data []byte
}

// Fat wraps slices in a fat header written with order.
func Fat(order binary.ByteOrder, slices ...FatSlice) []byte {
	const sliceAlign = 0x1000
	var b bytes.Buffer
	mustWrite(&b, order, uint32(0xCAFEBABE))
	mustWrite(&b, order, uint32(len(slices)))
	off := sliceAlign
	offs := make([]int, len(slices))
	for i, s := range slices {
		offs[i] = off
		mustWrite(&b, order, []uint32{uint32(s.CPU), 0, uint32(off), uint32(len(s.Data)), 12})
		off = align(off+len(s.Data), sliceAlign)
	}
	for i, s := range slices {
		pad(&b, offs[i])
		b.Write(s.Data)
	}
	return b.Bytes()
}
