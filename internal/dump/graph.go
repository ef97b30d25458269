package dump

import (
	"fmt"
	"io"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"
)

// BuildTypeGraph constructs a lattice.Graph of the type hierarchy. Each
// type definition becomes a node and each named base (parent other than
// object, ValueType or Enum, then interfaces) becomes an edge from it.
func (d *Dumper) BuildTypeGraph() *lattice.Graph {
	g := &lattice.Graph{}
	for idx := range d.md.TypeDefs {
		td := &d.md.TypeDefs[idx]
		name := d.str(td.NameIndex)
		g.Nodes = append(g.Nodes, name)
		_, _, bases, err := d.baseTypes(td)
		if err != nil {
			continue
		}
		for _, b := range bases {
			g.Edges = append(g.Edges, lattice.Edge{Caller: name, Callee: b})
		}
	}
	g.Dedup()
	return g
}

// WriteTypeGraph writes the type hierarchy as DOT.
func (d *Dumper) WriteTypeGraph(w io.Writer) error {
	if _, err := io.WriteString(w, render.DOT(d.BuildTypeGraph(), "types")); err != nil {
		return fmt.Errorf("dump: graph: %w", err)
	}
	return nil
}

