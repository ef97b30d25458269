package dump

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apex/log"

	"il2cppdump/internal/il2cpp"
	"il2cppdump/internal/metadata"
)

func at[T any](s []T, i int, what string) (*T, error) {
	if i < 0 || i >= len(s) {
		return nil, fmt.Errorf("%w: %s %d", metadata.ErrIndex, what, i)
	}
	return &s[i], nil
}

// WriteListing writes the C# listing of every image and type. A type that
// fails to render is closed with an error comment and the listing goes on.
func (d *Dumper) WriteListing(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, img := range d.md.Images {
		fmt.Fprintf(bw, "// Image %d: %s - %d\n", i, d.str(img.NameIndex), img.TypeStart)
	}
	var sb strings.Builder
	for idx := range d.md.TypeDefs {
		sb.Reset()
		if err := d.writeType(&sb, idx); err != nil {
			log.WithError(err).WithField("type", idx).Debug("dump: type failed")
			fmt.Fprintf(&sb, "/* %v */\n}\n", err)
		}
		if _, err := bw.WriteString(sb.String()); err != nil {
			return fmt.Errorf("dump: listing: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("dump: listing: %w", err)
	}
	return nil
}

func (d *Dumper) customAttributes(index int32, indent string) (string, error) {
	if !d.cfg.DumpAttribute || d.bin.Version() < 21 || index < 0 {
		return "", nil
	}
	rng, err := d.md.AttributeTypeRange(index)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	gen := d.bin.CustomAttributeGenerator(int(index))
	for i := int32(0); i < rng.Count; i++ {
		ti, err := at(d.md.AttributeTypes, int(rng.Start+i), "attribute type")
		if err != nil {
			return "", err
		}
		name, err := d.typeName(*ti)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%s[%s] // 0x%X\n", indent, name, gen)
	}
	return sb.String(), nil
}

// baseTypes splits the parent of td into the struct/enum markers and the
// extends list.
func (d *Dumper) baseTypes(td *metadata.TypeDefinition) (isStruct, isEnum bool, extends []string, err error) {
	if td.ParentIndex >= 0 {
		parent, err := d.typeName(td.ParentIndex)
		if err != nil {
			return false, false, nil, err
		}
		switch parent {
		case "ValueType":
			isStruct = true
		case "Enum":
			isEnum = true
		case "object":
		default:
			extends = append(extends, parent)
		}
	}
	for i := 0; i < int(td.InterfacesCount); i++ {
		ii, err := at(d.md.InterfaceIndices, int(td.InterfacesStart)+i, "interface")
		if err != nil {
			return false, false, nil, err
		}
		name, err := d.typeName(*ii)
		if err != nil {
			return false, false, nil, err
		}
		extends = append(extends, name)
	}
	return isStruct, isEnum, extends, nil
}

func (d *Dumper) writeType(sb *strings.Builder, idx int) error {
	td := &d.md.TypeDefs[idx]
	isStruct, isEnum, extends, err := d.baseTypes(td)
	if err != nil {
		return err
	}
	fmt.Fprintf(sb, "\n// Namespace: %s\n", d.str(td.NamespaceIndex))
	attrs, err := d.customAttributes(td.CustomAttributeIndex, "")
	if err != nil {
		return err
	}
	sb.WriteString(attrs)
	if d.cfg.DumpAttribute && td.Flags&typeSerializable != 0 {
		sb.WriteString("[Serializable]\n")
	}

	switch td.Flags & typeVisibilityMask {
	case typePublic, typeNestedPublic:
		sb.WriteString("public ")
	case typeNotPublic, typeNestedFamAndAssem, typeNestedAssembly:
		sb.WriteString("internal ")
	case typeNestedPrivate:
		sb.WriteString("private ")
	case typeNestedFamily:
		sb.WriteString("protected ")
	case typeNestedFamOrAssem:
		sb.WriteString("protected internal ")
	}
	iface := td.Flags&typeInterface != 0
	switch {
	case td.Flags&typeAbstract != 0 && td.Flags&typeSealed != 0:
		sb.WriteString("static ")
	case !iface && td.Flags&typeAbstract != 0:
		sb.WriteString("abstract ")
	case !isStruct && !isEnum && td.Flags&typeSealed != 0:
		sb.WriteString("sealed ")
	}
	switch {
	case iface:
		sb.WriteString("interface ")
	case isStruct:
		sb.WriteString("struct ")
	case isEnum:
		sb.WriteString("enum ")
	default:
		sb.WriteString("class ")
	}
	sb.WriteString(d.str(td.NameIndex))
	if len(extends) > 0 {
		sb.WriteString(" : " + strings.Join(extends, ", "))
	}
	fmt.Fprintf(sb, " // TypeDefIndex: %d\n{\n", idx)

	if d.cfg.DumpField && td.FieldCount > 0 {
		if err := d.writeFields(sb, td, idx); err != nil {
			return err
		}
	}
	if d.cfg.DumpProperty && td.PropertyCount > 0 {
		if err := d.writeProperties(sb, td); err != nil {
			return err
		}
	}
	if d.cfg.DumpMethod && td.MethodCount > 0 {
		if err := d.writeMethods(sb, td); err != nil {
			return err
		}
	}
	sb.WriteString("}\n")
	return nil
}

func (d *Dumper) writeFields(sb *strings.Builder, td *metadata.TypeDefinition, typeIndex int) error {
	sb.WriteString("\t// Fields\n")
	for k := 0; k < int(td.FieldCount); k++ {
		i := int(td.FieldStart) + k
		fd, err := at(d.md.FieldDefs, i, "field")
		if err != nil {
			return err
		}
		ft, err := d.bin.TypeAt(int(fd.TypeIndex))
		if err != nil {
			return err
		}
		attrs, err := d.customAttributes(fd.CustomAttributeIndex, "\t")
		if err != nil {
			return err
		}
		sb.WriteString(attrs)
		sb.WriteString("\t")
		switch ft.Attrs & fieldAccessMask {
		case fieldPrivate:
			sb.WriteString("private ")
		case fieldPublic:
			sb.WriteString("public ")
		case fieldFamily:
			sb.WriteString("protected ")
		case fieldAssembly, fieldFamAndAssem:
			sb.WriteString("internal ")
		case fieldFamOrAssem:
			sb.WriteString("protected internal ")
		}
		if ft.Attrs&fieldLiteral != 0 {
			sb.WriteString("const ")
		} else {
			if ft.Attrs&fieldStatic != 0 {
				sb.WriteString("static ")
			}
			if ft.Attrs&fieldInitOnly != 0 {
				sb.WriteString("readonly ")
			}
		}
		name, err := d.namer.Name(ft)
		if err != nil {
			return err
		}
		fmt.Fprintf(sb, "%s %s", name, d.str(fd.NameIndex))
		if def, ok := d.md.FieldDefaultValue(int32(i)); ok && def.DataIndex != -1 {
			v, err := d.defaultValue(def.TypeIndex, def.DataIndex)
			if err != nil {
				return err
			}
			if v != "" {
				sb.WriteString(" = " + v)
			}
		}
		if d.cfg.DumpFieldOffset {
			if off, err := d.bin.FieldOffset(typeIndex, k, i); err == nil {
				fmt.Fprintf(sb, "; // 0x%X\n", off)
				continue
			}
		}
		sb.WriteString(";\n")
	}
	sb.WriteString("\n")
	return nil
}

// defaultValue renders the constant stored for a field or parameter.
// Kinds without a literal form render as "".
func (d *Dumper) defaultValue(typeIndex, dataIndex int32) (string, error) {
	t, err := d.bin.TypeAt(int(typeIndex))
	if err != nil {
		return "", err
	}
	s, err := d.md.DefaultValueData(dataIndex)
	if err != nil {
		return "", err
	}
	var v string
	switch t.Kind {
	case il2cpp.TypeBoolean:
		var b byte
		b, err = s.ReadByte()
		v = strconv.FormatBool(b != 0)
	case il2cpp.TypeU1:
		var n byte
		n, err = s.ReadByte()
		v = strconv.FormatUint(uint64(n), 10)
	case il2cpp.TypeI1:
		var n int8
		n, err = s.ReadInt8()
		v = strconv.FormatInt(int64(n), 10)
	case il2cpp.TypeChar:
		var c uint16
		c, err = s.ReadUint16()
		v = fmt.Sprintf(`'\x%x'`, c)
	case il2cpp.TypeU2:
		var n uint16
		n, err = s.ReadUint16()
		v = strconv.FormatUint(uint64(n), 10)
	case il2cpp.TypeI2:
		var n int16
		n, err = s.ReadInt16()
		v = strconv.FormatInt(int64(n), 10)
	case il2cpp.TypeU4:
		var n uint32
		n, err = s.ReadUint32()
		v = strconv.FormatUint(uint64(n), 10)
	case il2cpp.TypeI4:
		var n int32
		n, err = s.ReadInt32()
		v = strconv.FormatInt(int64(n), 10)
	case il2cpp.TypeU8:
		var n uint64
		n, err = s.ReadUint64()
		v = strconv.FormatUint(n, 10)
	case il2cpp.TypeI8:
		var n int64
		n, err = s.ReadInt64()
		v = strconv.FormatInt(n, 10)
	case il2cpp.TypeR4:
		var f float32
		f, err = s.ReadFloat32()
		v = strconv.FormatFloat(float64(f), 'g', -1, 32)
	case il2cpp.TypeR8:
		var f float64
		f, err = s.ReadFloat64()
		v = strconv.FormatFloat(f, 'g', -1, 64)
	case il2cpp.TypeString:
		var n int32
		if n, err = s.ReadInt32(); err == nil {
			var raw []byte
			raw, err = s.ReadBytes(int(n))
			v = `"` + Escape(strings.ToValidUTF8(string(raw), "\uFFFD")) + `"`
		}
	}
	if err != nil {
		return "", fmt.Errorf("dump: default value %d: %w", dataIndex, err)
	}
	return v, nil
}

func (d *Dumper) writeProperties(sb *strings.Builder, td *metadata.TypeDefinition) error {
	sb.WriteString("\t// Properties\n")
	for k := 0; k < int(td.PropertyCount); k++ {
		pd, err := at(d.md.PropertyDefs, int(td.PropertyStart)+k, "property")
		if err != nil {
			return err
		}
		attrs, err := d.customAttributes(pd.CustomAttributeIndex, "\t")
		if err != nil {
			return err
		}
		sb.WriteString(attrs)
		sb.WriteString("\t")

		accessor := pd.Get
		if accessor < 0 {
			accessor = pd.Set
		}
		if accessor >= 0 {
			mi := td.MethodStart + accessor
			md, err := at(d.md.MethodDefs, int(mi), "method")
			if err != nil {
				return err
			}
			typeIndex := md.ReturnType
			if pd.Get < 0 {
				param, err := at(d.md.ParameterDefs, int(md.ParameterStart), "parameter")
				if err != nil {
					return err
				}
				typeIndex = param.TypeIndex
			}
			name, err := d.typeName(typeIndex)
			if err != nil {
				return err
			}
			sb.WriteString(d.mods.Modifiers(mi, md))
			fmt.Fprintf(sb, "%s %s { ", name, d.str(pd.NameIndex))
		}
		if pd.Get >= 0 {
			sb.WriteString("get; ")
		}
		if pd.Set >= 0 {
			sb.WriteString("set; ")
		}
		sb.WriteString("}\n")
	}
	sb.WriteString("\n")
	return nil
}

func (d *Dumper) writeMethods(sb *strings.Builder, td *metadata.TypeDefinition) error {
	sb.WriteString("\t// Methods\n")
	for k := 0; k < int(td.MethodCount); k++ {
		i := td.MethodStart + int32(k)
		md, err := at(d.md.MethodDefs, int(i), "method")
		if err != nil {
			return err
		}
		attrs, err := d.customAttributes(md.CustomAttributeIndex, "\t")
		if err != nil {
			return err
		}
		sb.WriteString(attrs)
		sb.WriteString("\t")
		sb.WriteString(d.mods.Modifiers(i, md))
		ret, err := d.typeName(md.ReturnType)
		if err != nil {
			return err
		}
		fmt.Fprintf(sb, "%s %s(", ret, d.str(md.NameIndex))
		params, err := d.parameters(md)
		if err != nil {
			return err
		}
		sb.WriteString(strings.Join(params, ", "))
		if ptr := d.methodPointer(i); ptr > 0 {
			fmt.Fprintf(sb, "); // 0x%X\n", ptr)
		} else {
			sb.WriteString("); // -1\n")
		}
	}
	return nil
}

func (d *Dumper) parameters(md *metadata.MethodDefinition) ([]string, error) {
	out := make([]string, 0, md.ParameterCount)
	for j := 0; j < int(md.ParameterCount); j++ {
		pd, err := at(d.md.ParameterDefs, int(md.ParameterStart)+j, "parameter")
		if err != nil {
			return nil, err
		}
		pt, err := d.bin.TypeAt(int(pd.TypeIndex))
		if err != nil {
			return nil, err
		}
		name, err := d.namer.Name(pt)
		if err != nil {
			return nil, err
		}
		var prefix string
		if pt.Attrs&paramOptional != 0 {
			prefix += "optional "
		}
		if pt.Attrs&paramOut != 0 {
			prefix += "out "
		}
		out = append(out, prefix+name+" "+d.str(pd.NameIndex))
	}
	return out, nil
}
