package binimg

import (
	"encoding/binary"
	"testing"

	"github.com/blacktop/go-macho/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"il2cppdump/internal/binimg/binimgtest"
)

func fatFixture(order binary.ByteOrder) (fat, thin32, thin64 []byte) {
	thin32 = binimgtest.MachO32(types.CPUArm, []binimgtest.Segment{dataSeg(0x4000, 16)}, nil)
	thin64 = binimgtest.MachO64(types.CPUArm64, []binimgtest.Segment{dataSeg(0x100004000, 32)}, nil)
	fat = binimgtest.Fat(order,
		binimgtest.FatSlice{CPU: types.CPUArm, Data: thin32},
		binimgtest.FatSlice{CPU: types.CPUArm64, Data: thin64},
	)
	return fat, thin32, thin64
}

func TestResolveFatPreference(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		fat, thin32, thin64 := fatFixture(order)

		s, idx, err := ResolveFat(fat, Arch64)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)
		assert.Equal(t, thin64, s)

		s, idx, err = ResolveFat(fat, Arch32)
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
		assert.Equal(t, thin32, s)
	}
}

func TestOpenFat(t *testing.T) {
	fat, _, _ := fatFixture(binary.BigEndian)

	img, err := Open(fat, Options{})
	require.NoError(t, err)
	assert.Equal(t, FormatMachO64, img.Format())
	assert.Equal(t, FormatMachOFat, img.Container())
	assert.Equal(t, 8, img.PointerSize())

	img, err = Open(fat, Options{PreferredArch: Arch32})
	require.NoError(t, err)
	assert.Equal(t, FormatMachO32, img.Format())
	assert.Equal(t, 4, img.PointerSize())
}

func TestResolveFatFallback(t *testing.T) {
	a := binimgtest.MachO64(types.CPUArm64, []binimgtest.Segment{dataSeg(0x1000, 16)}, nil)
	b := binimgtest.MachO64(types.CPUAmd64, []binimgtest.Segment{dataSeg(0x2000, 16)}, nil)
	fat := binimgtest.Fat(binary.BigEndian,
		binimgtest.FatSlice{CPU: types.CPUArm64, Data: a},
		binimgtest.FatSlice{CPU: types.CPUAmd64, Data: b},
	)

	// No 32-bit slice: the first decodable slice wins, every time.
	for range 3 {
		s, idx, err := ResolveFat(fat, Arch32)
		require.NoError(t, err)
		assert.Equal(t, 0, idx)
		assert.Equal(t, a, s)
	}

	fat = binimgtest.Fat(binary.BigEndian,
		binimgtest.FatSlice{CPU: types.CPUArm, Data: []byte("junkjunkjunk")},
		binimgtest.FatSlice{CPU: types.CPUArm64, Data: b},
	)
	_, idx, err := ResolveFat(fat, Arch32)
	require.NoError(t, err)
	assert.Equal(t, 1, idx, "undecodable first slice is skipped")

	fat = binimgtest.Fat(binary.BigEndian, binimgtest.FatSlice{CPU: types.CPUArm, Data: []byte("junkjunkjunk")})
	_, _, err = ResolveFat(fat, Arch64)
	require.ErrorIs(t, err, ErrNoSlice)
	require.ErrorIs(t, err, ErrFormat)
}

func TestFatArchsRejectsBadCount(t *testing.T) {
	_, err := FatArchs([]byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 0})
	require.ErrorIs(t, err, ErrFormat)

	_, err = FatArchs([]byte{0xCA, 0xFE, 0xBA, 0xBE, 0, 0, 0, 5})
	require.ErrorIs(t, err, ErrFormat)
}
