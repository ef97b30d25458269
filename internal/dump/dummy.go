package dump

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"il2cppdump/internal/output"
)

// DummyImage is the placeholder skeleton of one managed image.
type DummyImage struct {
	Image string      `json:"image"`
	Types []DummyType `json:"types"`
}

type DummyType struct {
	Index      int           `json:"index"`
	Namespace  string        `json:"namespace,omitempty"`
	Name       string        `json:"name"`
	Parent     string        `json:"parent,omitempty"`
	Interfaces []string      `json:"interfaces,omitempty"`
	Fields     []DummyField  `json:"fields,omitempty"`
	Methods    []DummyMethod `json:"methods,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type DummyField struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Offset string `json:"offset,omitempty"`
}

type DummyMethod struct {
	Name    string   `json:"name"`
	Return  string   `json:"return"`
	Params  []string `json:"params,omitempty"`
	Address string   `json:"address,omitempty"`
}

// WriteDummy writes one <image>.json skeleton per image into dir. Images
// whose names collide get their index appended.
func (d *Dumper) WriteDummy(fs afero.Fs, dir string) error {
	names := d.dummyFileNames()
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range d.md.Images {
		g.Go(func() error {
			return output.WriteJSON(fs, filepath.Join(dir, names[i]), d.DummyImage(i))
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("dump: dummy: %w", err)
	}
	log.WithFields(log.Fields{"dir": dir, "images": len(d.md.Images)}).Debug("dump: dummy written")
	return nil
}

func (d *Dumper) dummyFileNames() []string {
	names := make([]string, len(d.md.Images))
	taken := make(map[string]bool, len(names))
	for i, img := range d.md.Images {
		base := strings.TrimSuffix(filepath.Base(d.str(img.NameIndex)), ".dll")
		name := base
		for n := i; taken[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		taken[name] = true
		names[i] = name + ".json"
	}
	return names
}

// DummyImage builds the skeleton of image i. Types that fail to resolve
// carry the error instead of members.
func (d *Dumper) DummyImage(i int) DummyImage {
	img := d.md.Images[i]
	out := DummyImage{Image: d.str(img.NameIndex)}
	for k := 0; k < int(img.TypeCount); k++ {
		idx := int(img.TypeStart) + k
		if idx < 0 || idx >= len(d.md.TypeDefs) {
			break
		}
		t, err := d.dummyType(idx)
		if err != nil {
			t.Error = err.Error()
		}
		out.Types = append(out.Types, t)
	}
	return out
}

func (d *Dumper) dummyType(idx int) (DummyType, error) {
	td := &d.md.TypeDefs[idx]
	t := DummyType{
		Index:     idx,
		Namespace: d.str(td.NamespaceIndex),
		Name:      d.str(td.NameIndex),
	}
	if td.ParentIndex >= 0 {
		p, err := d.typeName(td.ParentIndex)
		if err != nil {
			return t, err
		}
		t.Parent = p
	}
	for k := 0; k < int(td.InterfacesCount); k++ {
		ii, err := at(d.md.InterfaceIndices, int(td.InterfacesStart)+k, "interface")
		if err != nil {
			return t, err
		}
		name, err := d.typeName(*ii)
		if err != nil {
			return t, err
		}
		t.Interfaces = append(t.Interfaces, name)
	}
	for k := 0; k < int(td.FieldCount); k++ {
		fi := int(td.FieldStart) + k
		fd, err := at(d.md.FieldDefs, fi, "field")
		if err != nil {
			return t, err
		}
		ft, err := d.typeName(fd.TypeIndex)
		if err != nil {
			return t, err
		}
		f := DummyField{Name: d.str(fd.NameIndex), Type: ft}
		if off, err := d.bin.FieldOffset(idx, k, fi); err == nil {
			f.Offset = fmt.Sprintf("0x%X", off)
		}
		t.Fields = append(t.Fields, f)
	}
	for k := 0; k < int(td.MethodCount); k++ {
		mi := td.MethodStart + int32(k)
		md, err := at(d.md.MethodDefs, int(mi), "method")
		if err != nil {
			return t, err
		}
		ret, err := d.typeName(md.ReturnType)
		if err != nil {
			return t, err
		}
		params, err := d.parameters(md)
		if err != nil {
			return t, err
		}
		m := DummyMethod{Name: d.str(md.NameIndex), Return: ret, Params: params}
		if ptr := d.methodPointer(mi); ptr != 0 {
			m.Address = fmt.Sprintf("0x%X", ptr)
		}
		t.Methods = append(t.Methods, m)
	}
	return t, nil
}
