package il2cpp

import "fmt"

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagRejected  DiagKind = "rejected"
	DiagUnmapped  DiagKind = "unmapped"
	DiagTruncated DiagKind = "truncated"
	DiagClamped   DiagKind = "clamped"
)

// maxDiags caps candidate rejections kept per Binary.
const maxDiags = 1024

// Diag records a non-fatal issue seen while locating or reading roots.
type Diag struct {
	Addr uint64   `json:"addr"`
	Kind DiagKind `json:"kind"`
	Msg  string   `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Addr, d.Msg)
}

// Diags accumulates diagnostics up to maxDiags entries.
type Diags struct {
	items   []Diag
	dropped int
}

func (d *Diags) Add(addr uint64, kind DiagKind, msg string) {
	if len(d.items) >= maxDiags {
		d.dropped++
		return
	}
	d.items = append(d.items, Diag{Addr: addr, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(addr uint64, kind DiagKind, format string, args ...any) {
	if len(d.items) >= maxDiags {
		d.dropped++
		return
	}
	d.Add(addr, kind, fmt.Sprintf(format, args...))
}

// Items returns the kept diagnostics, with a trailing clamped entry when
// some were dropped.
func (d *Diags) Items() []Diag {
	if d.dropped == 0 {
		return d.items
	}
	out := append([]Diag(nil), d.items...)
	return append(out, Diag{Kind: DiagClamped, Msg: fmt.Sprintf("%d more diagnostics dropped", d.dropped)})
}

func (d *Diags) Len() int { return len(d.items) + d.dropped }
