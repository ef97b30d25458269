package binimg

import (
	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

const maxInstLen = 15

// ProbeCode reports whether va lies in an executable section and the
// bytes there decode as one instruction for the image's machine.
// Unknown machines only get the section check.
func (b *base) ProbeCode(va uint64) bool {
	if b.machine == MachineARM && va&1 == 1 {
		// Thumb entry point; armasm only decodes ARM mode.
		return b.decodes(va&^1, func([]byte) error { return nil })
	}
	return b.decodes(va, func(code []byte) error {
		switch b.machine {
		case MachineARM64:
			_, err := arm64asm.Decode(code)
			return err
		case MachineARM:
			_, err := armasm.Decode(code, armasm.ModeARM)
			return err
		case MachineX86:
			_, err := x86asm.Decode(code, 32)
			return err
		case MachineX86_64:
			_, err := x86asm.Decode(code, 64)
			return err
		}
		return nil
	})
}

func (b *base) decodes(va uint64, decode func([]byte) error) bool {
	s, ok := b.sections.Lookup(va)
	if !ok || !s.Exec {
		return false
	}
	rel := va - s.VAStart
	end := rel + maxInstLen
	if end > s.Size() {
		end = s.Size()
	}
	code := s.Data[rel:end]
	if len(code) < 4 && b.machine != MachineX86 && b.machine != MachineX86_64 {
		return false
	}
	return decode(code) == nil
}
