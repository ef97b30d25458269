package metadata

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Records declare per-version fields with a tag:
//
//	Token uint32 `versioned:"min=19"`
//	GUIDIndex int32 `versioned:"min=21,max=22"`
//
// Untagged fields are present in every version.

type versionRange struct {
	min, max int
}

func (r versionRange) has(v int) bool { return v >= r.min && v <= r.max }

type recordField struct {
	index int
	kind  reflect.Kind
	size  int
	vr    versionRange
}

var fieldCache sync.Map // reflect.Type -> []recordField

func recordFields(t reflect.Type) []recordField {
	if f, ok := fieldCache.Load(t); ok {
		return f.([]recordField)
	}
	fields := make([]recordField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		rf := recordField{index: i, kind: sf.Type.Kind(), vr: versionRange{0, 1 << 30}}
		switch rf.kind {
		case reflect.Int8, reflect.Uint8:
			rf.size = 1
		case reflect.Int16, reflect.Uint16:
			rf.size = 2
		case reflect.Int32, reflect.Uint32:
			rf.size = 4
		default:
			panic(fmt.Sprintf("metadata: %s.%s: unsupported kind %s", t.Name(), sf.Name, rf.kind))
		}
		if tag, ok := sf.Tag.Lookup("versioned"); ok {
			rf.vr = parseVersionTag(tag)
		}
		fields = append(fields, rf)
	}
	fieldCache.Store(t, fields)
	return fields
}

func parseVersionTag(tag string) versionRange {
	vr := versionRange{0, 1 << 30}
	for _, part := range strings.Split(tag, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			panic(fmt.Sprintf("metadata: bad version tag %q", tag))
		}
		switch k {
		case "min":
			vr.min = n
		case "max":
			vr.max = n
		}
	}
	return vr
}

// recordSize returns the encoded size of a T record under version.
func recordSize[T any](version int) int {
	n := 0
	for _, f := range recordFields(reflect.TypeFor[T]()) {
		if f.vr.has(version) {
			n += f.size
		}
	}
	return n
}

// readRecord decodes one T at the stream position.
func readRecord[T any](s *Stream, version int, out *T) error {
	rv := reflect.ValueOf(out).Elem()
	for _, f := range recordFields(rv.Type()) {
		if !f.vr.has(version) {
			continue
		}
		fv := rv.Field(f.index)
		switch f.kind {
		case reflect.Int8:
			v, err := s.ReadInt8()
			if err != nil {
				return err
			}
			fv.SetInt(int64(v))
		case reflect.Uint8:
			v, err := s.ReadByte()
			if err != nil {
				return err
			}
			fv.SetUint(uint64(v))
		case reflect.Int16:
			v, err := s.ReadInt16()
			if err != nil {
				return err
			}
			fv.SetInt(int64(v))
		case reflect.Uint16:
			v, err := s.ReadUint16()
			if err != nil {
				return err
			}
			fv.SetUint(uint64(v))
		case reflect.Int32:
			v, err := s.ReadInt32()
			if err != nil {
				return err
			}
			fv.SetInt(int64(v))
		case reflect.Uint32:
			v, err := s.ReadUint32()
			if err != nil {
				return err
			}
			fv.SetUint(uint64(v))
		}
	}
	return nil
}

// readTable decodes a section of size bytes at offset as consecutive
// T records.
func readTable[T any](data []byte, version int, sec Section) ([]T, error) {
	size := recordSize[T](version)
	if sec.Size == 0 {
		return nil, nil
	}
	if size == 0 || int(sec.Size)%size != 0 {
		var zero T
		return nil, fmt.Errorf("metadata: %T table size %d is not a multiple of %d", zero, sec.Size, size)
	}
	if uint64(sec.Offset)+uint64(sec.Size) > uint64(len(data)) {
		return nil, fmt.Errorf("metadata: section [0x%x,+0x%x): %w", sec.Offset, sec.Size, ErrStreamEOF)
	}
	s := NewStreamAt(data, int(sec.Offset))
	out := make([]T, int(sec.Size)/size)
	for i := range out {
		if err := readRecord(s, version, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readInt32Table(data []byte, sec Section) ([]int32, error) {
	if uint64(sec.Offset)+uint64(sec.Size) > uint64(len(data)) {
		return nil, fmt.Errorf("metadata: section [0x%x,+0x%x): %w", sec.Offset, sec.Size, ErrStreamEOF)
	}
	s := NewStreamAt(data, int(sec.Offset))
	out := make([]int32, sec.Size/4)
	for i := range out {
		v, err := s.ReadInt32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// AppendRecord encodes rec under version, the inverse of the table reader.
func AppendRecord[T any](dst []byte, version int, rec *T) []byte {
	rv := reflect.ValueOf(rec).Elem()
	for _, f := range recordFields(rv.Type()) {
		if !f.vr.has(version) {
			continue
		}
		fv := rv.Field(f.index)
		var u uint64
		switch f.kind {
		case reflect.Int8, reflect.Int16, reflect.Int32:
			u = uint64(fv.Int())
		default:
			u = fv.Uint()
		}
		switch f.size {
		case 1:
			dst = append(dst, byte(u))
		case 2:
			dst = binary.LittleEndian.AppendUint16(dst, uint16(u))
		case 4:
			dst = binary.LittleEndian.AppendUint32(dst, uint32(u))
		}
	}
	return dst
}

// HeaderSections returns the header section names present in version,
// in file order.
func HeaderSections(version int) []string {
	var out []string
	for _, h := range headerSections {
		if version >= h.minVersion {
			out = append(out, h.name)
		}
	}
	return out
}
