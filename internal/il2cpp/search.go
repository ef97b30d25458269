package il2cpp

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/apex/log"
)

const (
	CodeRegistrationSymbol     = "g_CodeRegistration"
	MetadataRegistrationSymbol = "g_MetadataRegistration"
)

// Parse locates both roots with mode and initializes the root tables.
// It reports false when the roots could not be found or read; Locate
// returns the reason.
func (b *Binary) Parse(mode Mode, codeReg, metaReg uint64) bool {
	if err := b.Locate(mode, codeReg, metaReg, b.evidence); err != nil {
		log.WithError(err).WithField("mode", mode).Debug("il2cpp: parse failed")
		return false
	}
	return true
}

// Locate is Parse with an explicit error. codeReg and metaReg are only
// used by ModeManual; ev is only used by ModeAdvanced and ModePlus.
func (b *Binary) Locate(mode Mode, codeReg, metaReg uint64, ev Evidence) error {
	if b.Tables != nil {
		return ErrAlreadyParsed
	}
	switch mode {
	case ModeManual:
		return b.Init(codeReg, metaReg)
	case ModeSymbol:
		return b.symbolSearch()
	case ModeAuto, ModeAdvanced, ModePlus:
		return b.scanSearch(mode, ev)
	}
	return fmt.Errorf("il2cpp: unknown mode %d", int(mode))
}

func (b *Binary) symbolSearch() error {
	code, err := b.img.Symbol(CodeRegistrationSymbol)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	meta, err := b.img.Symbol(MetadataRegistrationSymbol)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	log.WithFields(log.Fields{
		"codeRegistration":     fmt.Sprintf("0x%x", code),
		"metadataRegistration": fmt.Sprintf("0x%x", meta),
	}).Debug("il2cpp: roots from symbols")
	return b.Init(code, meta)
}

func (b *Binary) scanSearch(mode Mode, ev Evidence) error {
	ps := b.img.PointerSize()
	meta, ok := scanRoots(b, b.metaLayout, func(va uint64, m *MetadataRegistration) bool {
		return b.acceptMeta(mode, ev, va, m)
	})
	if !ok {
		return fmt.Errorf("%w: no MetadataRegistration candidate (%s)", ErrNotFound, mode)
	}
	metaEnd := meta + rootSpan(b.metaLayout, ps)
	codeSpan := rootSpan(b.codeLayout, ps)
	code, ok := scanRoots(b, b.codeLayout, func(va uint64, c *CodeRegistration) bool {
		if va < metaEnd && meta < va+codeSpan {
			return false
		}
		return b.acceptCode(mode, ev, va, c)
	})
	if !ok {
		return fmt.Errorf("%w: no CodeRegistration candidate (%s)", ErrNotFound, mode)
	}
	log.WithFields(log.Fields{
		"mode":                 mode,
		"codeRegistration":     fmt.Sprintf("0x%x", code),
		"metadataRegistration": fmt.Sprintf("0x%x", meta),
	}).Debug("il2cpp: roots from scan")
	return b.Init(code, meta)
}

func readWord(order binary.ByteOrder, ptrSize int, buf []byte) uint64 {
	if ptrSize == 8 {
		return order.Uint64(buf)
	}
	return uint64(order.Uint32(buf))
}

// rootSpan is the size in bytes of a root structure with the given layout.
func rootSpan[T any](arrays []regArray[T], ptrSize int) uint64 {
	return uint64(2 * len(arrays) * ptrSize)
}

// scanRoots walks every pointer-aligned address of the data sections in
// VA order and returns the first one whose decoded root accept approves.
func scanRoots[T any](b *Binary, arrays []regArray[T], accept func(uint64, *T) bool) (uint64, bool) {
	ps := b.img.PointerSize()
	order := b.img.ByteOrder()
	span := rootSpan(arrays, ps)
	words := make([]uint64, 2*len(arrays))
	for _, s := range b.img.DataSections() {
		first := (s.VAStart + uint64(ps) - 1) &^ uint64(ps-1)
		for va := first; va-s.VAStart+span <= s.Size(); va += uint64(ps) {
			rel := va - s.VAStart
			for i := range words {
				words[i] = readWord(order, ps, s.Data[rel+uint64(i*ps):])
			}
			var r T
			decodeWords(arrays, words, &r)
			if accept(va, &r) {
				return va, true
			}
		}
	}
	return 0, false
}

func (b *Binary) inRange(count uint64) bool {
	return count > 0 && count <= b.thresholds.MaxCount
}

// acceptCode checks a CodeRegistration candidate. Auto has no oracle, so
// it also wants at least one invoker; Advanced and Plus rely on the
// method count instead and accept empty generic and invoker tables.
func (b *Binary) acceptCode(mode Mode, ev Evidence, va uint64, c *CodeRegistration) bool {
	if !b.inRange(c.MethodPointersCount) ||
		c.GenericMethodPointersCount > b.thresholds.MaxCount ||
		c.InvokerPointersCount > b.thresholds.MaxCount {
		return false
	}
	if mode == ModeAuto && c.InvokerPointersCount == 0 {
		return false
	}
	if mode != ModeAuto && c.MethodPointersCount != uint64(ev.MethodCount) {
		return false
	}
	if err := checkArrays(b, b.codeLayout, c); err != nil {
		b.diags.Addf(va, DiagRejected, "CodeRegistration: %v", err)
		return false
	}
	if err := b.methodsInCode(c); err != nil {
		b.diags.Addf(va, DiagRejected, "CodeRegistration: %v", err)
		return false
	}
	if mode == ModePlus {
		if err := b.plusCodeChecks(c); err != nil {
			b.diags.Addf(va, DiagRejected, "CodeRegistration: %v", err)
			return false
		}
	}
	log.WithFields(log.Fields{"addr": fmt.Sprintf("0x%x", va), "methods": c.MethodPointersCount}).Debug("il2cpp: CodeRegistration candidate")
	return true
}

func (b *Binary) acceptMeta(mode Mode, ev Evidence, va uint64, m *MetadataRegistration) bool {
	if !b.inRange(m.TypesCount) ||
		!b.inRange(m.FieldOffsetsCount) ||
		!b.inRange(m.TypeDefinitionsSizesCount) {
		return false
	}
	if b.version >= perTypeFieldOffsets && m.FieldOffsetsCount != m.TypeDefinitionsSizesCount {
		return false
	}
	if mode == ModePlus && m.TypeDefinitionsSizesCount != uint64(ev.TypeDefinitionCount) {
		return false
	}
	if err := checkArrays(b, b.metaLayout, m); err != nil {
		b.diags.Addf(va, DiagRejected, "MetadataRegistration: %v", err)
		return false
	}
	if mode == ModePlus {
		if err := disjointArrays(b, b.metaLayout, m); err != nil {
			b.diags.Addf(va, DiagRejected, "MetadataRegistration: %v", err)
			return false
		}
	}
	log.WithFields(log.Fields{"addr": fmt.Sprintf("0x%x", va), "types": m.TypeDefinitionsSizesCount}).Debug("il2cpp: MetadataRegistration candidate")
	return true
}

// extentMapped reports whether [base, base+size) lies in one section.
func (b *Binary) extentMapped(base, size uint64) bool {
	s, ok := b.img.Sections().Lookup(base)
	return ok && size <= s.VAEnd-base
}

func checkArrays[T any](b *Binary, arrays []regArray[T], r *T) error {
	ps := b.img.PointerSize()
	for _, a := range arrays {
		count, base := *a.count(r), *a.base(r)
		if count > b.thresholds.MaxCount {
			return fmt.Errorf("%s: count %d out of range", a.name, count)
		}
		if count == 0 {
			continue
		}
		if size := count * a.elemSize(ps); !b.extentMapped(base, size) {
			return fmt.Errorf("%s: [0x%x,+0x%x) not mapped", a.name, base, size)
		}
	}
	return nil
}

// methodsInCode requires every non-null method pointer to land in an
// executable section. Images without any executable section skip the
// check.
func (b *Binary) methodsInCode(c *CodeRegistration) error {
	if len(b.img.ExecSections()) == 0 {
		return nil
	}
	ptrs, err := b.img.ReadPointers(c.MethodPointers, int(c.MethodPointersCount))
	if err != nil {
		return fmt.Errorf("methodPointers: %w", err)
	}
	seen := false
	for i, p := range ptrs {
		if p == 0 {
			continue
		}
		if s, ok := b.img.Sections().Lookup(p); !ok || !s.Exec {
			return fmt.Errorf("methodPointers[%d] 0x%x is not code", i, p)
		}
		seen = true
	}
	if !seen {
		return fmt.Errorf("methodPointers: all null")
	}
	return nil
}

type extent struct {
	name       string
	start, end uint64
}

// disjointArrays fails when two non-empty arrays of r share bytes.
func disjointArrays[T any](b *Binary, arrays []regArray[T], r *T) error {
	ps := b.img.PointerSize()
	var ext []extent
	for _, a := range arrays {
		count, base := *a.count(r), *a.base(r)
		if count > 0 {
			ext = append(ext, extent{a.name, base, base + count*a.elemSize(ps)})
		}
	}
	sort.Slice(ext, func(i, j int) bool { return ext[i].start < ext[j].start })
	for i := 1; i < len(ext); i++ {
		if ext[i].start < ext[i-1].end {
			return fmt.Errorf("%s overlaps %s", ext[i].name, ext[i-1].name)
		}
	}
	return nil
}

// plusCodeChecks applies the self-consistency rules of Plus mode.
func (b *Binary) plusCodeChecks(c *CodeRegistration) error {
	limit := c.MethodPointersCount * b.thresholds.MagnitudeRatio
	if c.GenericMethodPointersCount > limit {
		return fmt.Errorf("genericMethodPointers count %d too large for %d methods", c.GenericMethodPointersCount, c.MethodPointersCount)
	}
	if c.InvokerPointersCount > limit {
		return fmt.Errorf("invokerPointers count %d too large for %d methods", c.InvokerPointersCount, c.MethodPointersCount)
	}
	if err := disjointArrays(b, b.codeLayout, c); err != nil {
		return err
	}

	first, err := b.img.ReadPointer(c.MethodPointers)
	if err != nil {
		return fmt.Errorf("methodPointers[0]: %w", err)
	}
	if !b.img.ProbeCode(first) {
		return fmt.Errorf("methodPointers[0] 0x%x does not decode", first)
	}
	return nil
}
