package binimg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionMapMapVA(t *testing.T) {
	data := make([]byte, 0x400)
	m, err := NewSectionMap(data, []Section{
		{Name: "data", VAStart: 0x20000, VAEnd: 0x20100, FileStart: 0x200, FileEnd: 0x300},
		{Name: "text", VAStart: 0x10000, VAEnd: 0x10100, FileStart: 0x100, FileEnd: 0x200, Exec: true},
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())
	assert.Equal(t, "text", m.All()[0].Name, "sections are VA sorted")

	for _, va := range []uint64{0x10000, 0x10001, 0x100ff, 0x20000, 0x20080, 0x200ff} {
		s, ok := m.Lookup(va)
		require.True(t, ok, "0x%x", va)
		off, err := m.MapVA(va)
		require.NoError(t, err)
		assert.Equal(t, s.FileStart+(va-s.VAStart), off)
	}

	for _, va := range []uint64{0, 0xffff, 0x10100, 0x1ffff, 0x20100, ^uint64(0)} {
		_, err := m.MapVA(va)
		require.Error(t, err, "0x%x", va)
		assert.True(t, errors.Is(err, ErrUnmapped))
		var ue *UnmappedError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, va, ue.VA)
	}
}

func TestSectionMapRejectsOverlap(t *testing.T) {
	data := make([]byte, 0x400)
	_, err := NewSectionMap(data, []Section{
		{Name: "a", VAStart: 0x1000, VAEnd: 0x1100, FileStart: 0, FileEnd: 0x100},
		{Name: "b", VAStart: 0x10ff, VAEnd: 0x1200, FileStart: 0x100, FileEnd: 0x201},
	})
	require.ErrorIs(t, err, ErrFormat)
}

func TestSectionMapClampsToFile(t *testing.T) {
	data := make([]byte, 0x180)
	m, err := NewSectionMap(data, []Section{
		{Name: "tail", VAStart: 0x1000, VAEnd: 0x1100, FileStart: 0x100, FileEnd: 0x200},
		{Name: "past", VAStart: 0x2000, VAEnd: 0x2100, FileStart: 0x200, FileEnd: 0x300},
		{Name: "empty", VAStart: 0x3000, VAEnd: 0x3000},
	})
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())
	s := m.All()[0]
	assert.Equal(t, uint64(0x1080), s.VAEnd)
	assert.Len(t, s.Data, 0x80)

	_, err = m.MapVA(0x1080)
	require.ErrorIs(t, err, ErrUnmapped)
}

func TestSpanStaysInSection(t *testing.T) {
	data := make([]byte, 0x200)
	m, err := NewSectionMap(data, []Section{
		{Name: "a", VAStart: 0x1000, VAEnd: 0x1010, FileStart: 0, FileEnd: 0x10},
		{Name: "b", VAStart: 0x1010, VAEnd: 0x1020, FileStart: 0x100, FileEnd: 0x110},
	})
	require.NoError(t, err)

	_, err = m.span(0x1008, 8)
	require.NoError(t, err)
	_, err = m.span(0x100c, 8)
	require.ErrorIs(t, err, ErrUnmapped)
}
