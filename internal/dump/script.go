package dump

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"slices"

	"github.com/samber/lo"

	"il2cppdump/internal/output"
)

//go:embed prelude.py
var scriptPrelude string

// WriteScript writes an IDA python script that names methods, comments
// string literal slots and carves function boundaries.
func (d *Dumper) WriteScript(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(scriptPrelude)
	if d.cfg.DumpMethod {
		d.eachMethod(func(label string, addr uint64) {
			fmt.Fprintf(bw, "SetMethod(0x%X, '%s')\n", addr, label)
		})
	}
	bw.WriteString("print('Make method name done')\n")

	bw.WriteString("print('Setting String...')\n")
	if d.bin.Version() > 16 {
		d.eachLiteral(func(addr uint64, lit string) {
			fmt.Fprintf(bw, "SetString(0x%X, r'%s')\n", addr, Escape(lit))
		})
	}
	bw.WriteString("print('Set string done')\n")

	if d.cfg.MakeFunction {
		bw.WriteString("print('Making function...')\n")
		addrs := d.functionStarts()
		for i := 0; i+1 < len(addrs); i++ {
			fmt.Fprintf(bw, "MakeFunction(0x%X, 0x%X)\n", addrs[i], addrs[i+1])
		}
		bw.WriteString("print('Make function done, please wait for IDA to complete the analysis')\n")
	}
	bw.WriteString("print('Script finish !')\n")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("dump: script: %w", err)
	}
	return nil
}

// eachMethod calls fn with the Type$$Method label of every method that has
// code.
func (d *Dumper) eachMethod(fn func(label string, addr uint64)) {
	for ti := range d.md.TypeDefs {
		td := &d.md.TypeDefs[ti]
		typeName := d.str(td.NameIndex)
		for k := 0; k < int(td.MethodCount); k++ {
			mi := int(td.MethodStart) + k
			if mi < 0 || mi >= len(d.md.MethodDefs) {
				break
			}
			addr := d.methodPointer(int32(mi))
			if addr == 0 {
				continue
			}
			fn(scriptLabel(typeName, d.str(d.md.MethodDefs[mi].NameIndex)), addr)
		}
	}
}

// eachLiteral calls fn for every usage slot that holds a string literal.
func (d *Dumper) eachLiteral(fn func(addr uint64, lit string)) {
	for _, u := range d.md.StringLiteralUsages() {
		addr := d.bin.MetadataUsage(int(u.UsageIndex))
		if addr == 0 {
			continue
		}
		lit, err := d.md.StringLiteral(int(u.LiteralIndex))
		if err != nil {
			continue
		}
		fn(addr, lit)
	}
}

// functionStarts is the sorted set of every recovered code pointer.
func (d *Dumper) functionStarts() []uint64 {
	t := d.bin.Tables
	all := slices.Concat(t.MethodPointers, t.GenericMethodPointers, t.InvokerPointers, t.CustomAttributeGenerators)
	addrs := lo.Uniq(lo.Filter(all, func(a uint64, _ int) bool { return a != 0 }))
	slices.Sort(addrs)
	return addrs
}

// Symbols returns the named method addresses and string literal slots.
func (d *Dumper) Symbols() []output.SymbolEntry {
	var syms []output.SymbolEntry
	d.eachMethod(func(label string, addr uint64) {
		syms = append(syms, output.SymbolEntry{Address: addr, Name: label, Kind: "method"})
	})
	if d.bin.Version() > 16 {
		d.eachLiteral(func(addr uint64, lit string) {
			syms = append(syms, output.SymbolEntry{Address: addr, Name: lit, Kind: "string"})
		})
	}
	slices.SortStableFunc(syms, func(a, b output.SymbolEntry) int {
		switch {
		case a.Address < b.Address:
			return -1
		case a.Address > b.Address:
			return 1
		}
		return 0
	})
	return syms
}
