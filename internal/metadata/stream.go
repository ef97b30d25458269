package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

var ErrStreamEOF = errors.New("metadata: unexpected end of data")

// Stream reads little-endian metadata values.
type Stream struct {
	data []byte
	pos  int
	end  int
}

// NewStream reads data from its first byte.
func NewStream(data []byte) *Stream {
	return &Stream{data: data, end: len(data)}
}

// NewStreamAt reads data from offset. Offsets past the end yield an
// empty stream.
func NewStreamAt(data []byte, offset int) *Stream {
	if offset > len(data) {
		offset = len(data)
	}
	return &Stream{data: data, pos: offset, end: len(data)}
}

func (s *Stream) Position() int { return s.pos }

// SetPosition moves the read position, clamped to the end.
func (s *Stream) SetPosition(pos int) {
	if pos > s.end {
		pos = s.end
	}
	s.pos = pos
}

func (s *Stream) Remaining() int { return s.end - s.pos }

func (s *Stream) take(n int) ([]byte, error) {
	if n < 0 || s.pos+n > s.end {
		return nil, ErrStreamEOF
	}
	b := s.data[s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

func (s *Stream) ReadByte() (byte, error) {
	b, err := s.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBytes returns a copy of the next n bytes.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	b, err := s.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (s *Stream) ReadInt8() (int8, error) {
	b, err := s.ReadByte()
	return int8(b), err
}

func (s *Stream) ReadUint16() (uint16, error) {
	b, err := s.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Stream) ReadInt16() (int16, error) {
	v, err := s.ReadUint16()
	return int16(v), err
}

func (s *Stream) ReadUint32() (uint32, error) {
	b, err := s.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Stream) ReadInt32() (int32, error) {
	v, err := s.ReadUint32()
	return int32(v), err
}

func (s *Stream) ReadUint64() (uint64, error) {
	b, err := s.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Stream) ReadInt64() (int64, error) {
	v, err := s.ReadUint64()
	return int64(v), err
}

func (s *Stream) ReadFloat32() (float32, error) {
	v, err := s.ReadUint32()
	return math.Float32frombits(v), err
}

func (s *Stream) ReadFloat64() (float64, error) {
	v, err := s.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadCString reads a NUL-terminated string. A missing terminator reads
// to the end of the data.
func (s *Stream) ReadCString() (string, error) {
	if s.pos >= s.end {
		return "", ErrStreamEOF
	}
	rest := s.data[s.pos:s.end]
	i := bytes.IndexByte(rest, 0)
	if i < 0 {
		s.pos = s.end
		return string(rest), nil
	}
	s.pos += i + 1
	return string(rest[:i]), nil
}
