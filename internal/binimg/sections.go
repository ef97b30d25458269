package binimg

import (
	"fmt"
	"sort"
)

// Section is one file-backed virtual range.
type Section struct {
	Name      string
	VAStart   uint64
	VAEnd     uint64 // exclusive; VAStart + file-backed size
	FileStart uint64
	FileEnd   uint64
	Exec      bool
	Data      []byte // FileStart:FileEnd of the image
}

// Size returns the number of file-backed bytes.
func (s Section) Size() uint64 { return s.VAEnd - s.VAStart }

// Contains reports whether va falls inside the section.
func (s Section) Contains(va uint64) bool { return va >= s.VAStart && va < s.VAEnd }

// SectionMap is a VA-sorted, non-overlapping section table.
type SectionMap struct {
	secs []Section
}

// NewSectionMap validates raw against the image bytes and sorts it.
// Empty ranges are dropped; ranges running past the file are clamped.
func NewSectionMap(data []byte, raw []Section) (*SectionMap, error) {
	secs := make([]Section, 0, len(raw))
	size := uint64(len(data))
	for _, s := range raw {
		if s.VAEnd <= s.VAStart || s.FileStart >= size {
			continue
		}
		if s.FileEnd > size || s.FileEnd < s.FileStart {
			s.FileEnd = size
		}
		if n := s.FileEnd - s.FileStart; n < s.VAEnd-s.VAStart {
			s.VAEnd = s.VAStart + n
		}
		s.FileEnd = s.FileStart + (s.VAEnd - s.VAStart)
		s.Data = data[s.FileStart:s.FileEnd]
		secs = append(secs, s)
	}
	sort.Slice(secs, func(i, j int) bool { return secs[i].VAStart < secs[j].VAStart })
	for i := 1; i < len(secs); i++ {
		if secs[i].VAStart < secs[i-1].VAEnd {
			return nil, fmt.Errorf("%w: %s [0x%x,0x%x) overlaps %s [0x%x,0x%x)", ErrFormat,
				secs[i].Name, secs[i].VAStart, secs[i].VAEnd,
				secs[i-1].Name, secs[i-1].VAStart, secs[i-1].VAEnd)
		}
	}
	return &SectionMap{secs: secs}, nil
}

// All returns the sections in VA order.
func (m *SectionMap) All() []Section { return m.secs }

// Len returns the number of sections.
func (m *SectionMap) Len() int { return len(m.secs) }

// Lookup finds the section containing va.
func (m *SectionMap) Lookup(va uint64) (Section, bool) {
	i := sort.Search(len(m.secs), func(i int) bool { return m.secs[i].VAEnd > va })
	if i < len(m.secs) && m.secs[i].Contains(va) {
		return m.secs[i], true
	}
	return Section{}, false
}

// MapVA converts va to a file offset.
func (m *SectionMap) MapVA(va uint64) (uint64, error) {
	s, ok := m.Lookup(va)
	if !ok {
		return 0, &UnmappedError{VA: va}
	}
	return s.FileStart + (va - s.VAStart), nil
}

// span returns n bytes at va, all within one section.
func (m *SectionMap) span(va uint64, n uint64) ([]byte, error) {
	s, ok := m.Lookup(va)
	if !ok {
		return nil, &UnmappedError{VA: va}
	}
	rel := va - s.VAStart
	if n > s.Size()-rel {
		return nil, &UnmappedError{VA: s.VAEnd}
	}
	return s.Data[rel : rel+n], nil
}

// filter returns the sections for which keep is true.
func (m *SectionMap) filter(keep func(Section) bool) []Section {
	var out []Section
	for _, s := range m.secs {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}
