// Package dump renders a parsed IL2CPP binary and its metadata as a C#
// listing, an IDA script, per-image JSON skeletons and a type graph.
package dump

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"il2cppdump/internal/il2cpp"
	"il2cppdump/internal/metadata"
)

// Config selects what the listing includes.
type Config struct {
	DumpMethod      bool
	DumpField       bool
	DumpProperty    bool
	DumpAttribute   bool
	DumpFieldOffset bool
	MakeFunction    bool

	// ModifierCacheSize bounds the method modifier cache; zero means
	// defaultModifierCacheSize.
	ModifierCacheSize int
}

// DefaultConfig enables everything except properties.
func DefaultConfig() Config {
	return Config{
		DumpMethod:      true,
		DumpField:       true,
		DumpAttribute:   true,
		DumpFieldOffset: true,
		MakeFunction:    true,
	}
}

const defaultModifierCacheSize = 1 << 14

// ModifierCache memoizes method modifier strings by method definition
// index. Safe for concurrent use.
type ModifierCache struct {
	cache *lru.Cache[int32, string]
}

func NewModifierCache(size int) (*ModifierCache, error) {
	if size <= 0 {
		size = defaultModifierCacheSize
	}
	c, err := lru.New[int32, string](size)
	if err != nil {
		return nil, fmt.Errorf("dump: modifier cache: %w", err)
	}
	return &ModifierCache{cache: c}, nil
}

// Modifiers returns the C# modifier prefix of def, e.g. "public static ".
func (c *ModifierCache) Modifiers(index int32, def *metadata.MethodDefinition) string {
	if s, ok := c.cache.Get(index); ok {
		return s
	}
	s := methodModifiers(def.Flags)
	c.cache.Add(index, s)
	return s
}

func (c *ModifierCache) Len() int { return c.cache.Len() }

func methodModifiers(flags uint16) string {
	var sb strings.Builder
	switch flags & methodAccessMask {
	case methodPrivate:
		sb.WriteString("private ")
	case methodPublic:
		sb.WriteString("public ")
	case methodFamily:
		sb.WriteString("protected ")
	case methodAssem, methodFamAndAssem:
		sb.WriteString("internal ")
	case methodFamOrAssem:
		sb.WriteString("protected internal ")
	}
	if flags&methodStatic != 0 {
		sb.WriteString("static ")
	}
	reuse := flags&methodVtableLayoutMask == methodReuseSlot
	switch {
	case flags&methodAbstract != 0:
		sb.WriteString("abstract ")
		if reuse {
			sb.WriteString("override ")
		}
	case flags&methodFinal != 0:
		if reuse {
			sb.WriteString("sealed override ")
		}
	case flags&methodVirtual != 0:
		if flags&methodVtableLayoutMask == methodNewSlot {
			sb.WriteString("virtual ")
		} else {
			sb.WriteString("override ")
		}
	}
	if flags&methodPInvokeImpl != 0 {
		sb.WriteString("extern ")
	}
	return sb.String()
}

// Dumper renders one parsed binary. Its methods may run concurrently.
type Dumper struct {
	md    *metadata.Metadata
	bin   *il2cpp.Binary
	cfg   Config
	namer *il2cpp.TypeNamer
	mods  *ModifierCache
}

// New returns a Dumper for a binary whose root tables are initialized.
func New(md *metadata.Metadata, bin *il2cpp.Binary, cfg Config) (*Dumper, error) {
	if !bin.Parsed() {
		return nil, il2cpp.ErrNotParsed
	}
	mods, err := NewModifierCache(cfg.ModifierCacheSize)
	if err != nil {
		return nil, err
	}
	return &Dumper{
		md:    md,
		bin:   bin,
		cfg:   cfg,
		namer: il2cpp.NewTypeNamer(bin, md),
		mods:  mods,
	}, nil
}

// Modifiers exposes the Dumper's modifier cache.
func (d *Dumper) Modifiers() *ModifierCache { return d.mods }

func (d *Dumper) typeName(index int32) (string, error) {
	return d.namer.NameAt(int(index))
}

func (d *Dumper) str(index int32) string {
	s, err := d.md.String(index)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return s
}

// methodPointer resolves the code address of method definition index.
func (d *Dumper) methodPointer(index int32) uint64 {
	return d.bin.MethodPointer(d.md.MethodDefs[index].MethodIndex, index)
}

var aritySuffix = regexp.MustCompile("`\\d")

// scriptLabel is the Type$$Method label used in IDA scripts.
func scriptLabel(typeName, methodName string) string {
	return Escape(aritySuffix.ReplaceAllString(typeName, "") + "$$" + methodName)
}

// Escape quotes s for a single-quoted script string or a listing literal.
func Escape(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\'':
			sb.WriteString(`\'`)
		case '"':
			sb.WriteString(`\"`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\f':
			sb.WriteString(`\f`)
		case '\b':
			sb.WriteString(`\b`)
		case '\\':
			sb.WriteString(`\\`)
		case 0:
			sb.WriteString(`\0`)
		case '\u0085':
			sb.WriteString(`\u0085`)
		case '\u2028':
			sb.WriteString(`\u2028`)
		case '\u2029':
			sb.WriteString(`\u2029`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
