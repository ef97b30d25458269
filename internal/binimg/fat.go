package binimg

import (
	"encoding/binary"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/go-macho/types"
)

const (
	fatHeaderSize = 8
	fatArchSize   = 20
	maxFatArchs   = 64
)

// FatArch is one entry of a fat Mach-O header.
type FatArch struct {
	CPU    types.CPU
	SubCPU types.CPUSubtype
	Offset uint32
	Size   uint32
	Align  uint32
}

// FatArchs parses the fat header. The header is normally big-endian; a
// byte-swapped magic selects little-endian.
func FatArchs(data []byte) ([]FatArch, error) {
	if len(data) < fatHeaderSize {
		return nil, formatErr(FormatMachOFat, fmt.Errorf("short fat header"))
	}
	var order binary.ByteOrder
	switch binary.LittleEndian.Uint32(data) {
	case MagicFatBE:
		order = binary.BigEndian
	case MagicFatLE:
		order = binary.LittleEndian
	default:
		return nil, formatErr(FormatMachOFat, ErrUnknownFormat)
	}
	n := order.Uint32(data[4:])
	if n == 0 || n > maxFatArchs {
		return nil, formatErr(FormatMachOFat, fmt.Errorf("bad arch count %d", n))
	}
	if uint64(len(data)) < fatHeaderSize+uint64(n)*fatArchSize {
		return nil, formatErr(FormatMachOFat, fmt.Errorf("truncated arch table"))
	}
	archs := make([]FatArch, n)
	for i := range archs {
		p := data[fatHeaderSize+i*fatArchSize:]
		archs[i] = FatArch{
			CPU:    types.CPU(order.Uint32(p[0:])),
			SubCPU: types.CPUSubtype(order.Uint32(p[4:])),
			Offset: order.Uint32(p[8:]),
			Size:   order.Uint32(p[12:]),
			Align:  order.Uint32(p[16:]),
		}
	}
	return archs, nil
}

// slice returns the bytes of arch a, or nil when it runs past the file.
func (a FatArch) slice(data []byte) []byte {
	end := uint64(a.Offset) + uint64(a.Size)
	if a.Size < 4 || end > uint64(len(data)) {
		return nil
	}
	return data[a.Offset:end]
}

// ResolveFat picks one slice out of a fat Mach-O: the first whose magic
// matches pref, otherwise the first slice that decodes.
func ResolveFat(data []byte, pref Arch) ([]byte, int, error) {
	archs, err := FatArchs(data)
	if err != nil {
		return nil, -1, err
	}
	want := MagicMachO64
	if pref == Arch32 {
		want = MagicMachO32
	}
	for i, a := range archs {
		s := a.slice(data)
		if s != nil && binary.LittleEndian.Uint32(s) == want {
			log.WithFields(log.Fields{"index": i, "cpu": a.CPU, "arch": pref}).Debug("fat: preferred slice")
			return s, i, nil
		}
	}
	for i, a := range archs {
		s := a.slice(data)
		if s == nil {
			continue
		}
		if _, err := openMachO(s); err != nil {
			log.Debugf("fat: slice %d does not decode: %v", i, err)
			continue
		}
		log.WithFields(log.Fields{"index": i, "cpu": a.CPU}).Debug("fat: fallback slice")
		return s, i, nil
	}
	return nil, -1, formatErr(FormatMachOFat, ErrNoSlice)
}
