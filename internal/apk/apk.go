// Package apk pulls the native IL2CPP library and its metadata file out of
// an Android package, including split APKs nested in an XAPK bundle.
package apk

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/apex/log"
)

var ErrNotFound = errors.New("apk: libil2cpp.so or global-metadata.dat not found")

const (
	libraryName  = "libil2cpp.so"
	metadataName = "global-metadata.dat"
)

// abiPreference orders library directories; anything else ranks last.
var abiPreference = []string{"lib/arm64-v8a/", "lib/armeabi-v7a/"}

// Pair is an extracted library and metadata file. Paths are zip entry
// names; entries from a nested APK are labeled outer!inner.
type Pair struct {
	Binary       []byte
	Metadata     []byte
	BinaryPath   string
	MetadataPath string
}

func abiRank(name string) int {
	for i, p := range abiPreference {
		if strings.HasPrefix(name, p) {
			return i
		}
	}
	return len(abiPreference)
}

// Extract opens the APK at name.
func Extract(name string) (*Pair, error) {
	zr, err := zip.OpenReader(name)
	if err != nil {
		return nil, fmt.Errorf("apk: open %s: %w", name, err)
	}
	defer zr.Close()
	return extract(&zr.Reader)
}

// ExtractReader reads an APK of the given size from r.
func ExtractReader(r io.ReaderAt, size int64) (*Pair, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("apk: %w", err)
	}
	return extract(zr)
}

type pick struct {
	lib, meta *zip.File
	libRank   int
	label     string
}

func scan(zr *zip.Reader) (p pick, nested []*zip.File) {
	p.libRank = len(abiPreference) + 1
	for _, f := range zr.File {
		switch base := path.Base(f.Name); {
		case base == libraryName:
			if r := abiRank(f.Name); r < p.libRank {
				p.lib, p.libRank = f, r
			}
		case base == metadataName || base == strings.TrimSuffix(metadataName, ".dat"):
			if p.meta == nil {
				p.meta = f
			}
		case strings.HasSuffix(f.Name, ".apk"):
			nested = append(nested, f)
		}
	}
	return p, nested
}

func readAll(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("apk: open %s: %w", f.Name, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("apk: read %s: %w", f.Name, err)
	}
	return b, nil
}

func extract(zr *zip.Reader) (*Pair, error) {
	top, nested := scan(zr)
	lib, meta := top, top

	// Split APKs carry the library in a per-ABI config APK and the
	// metadata in the base APK.
	if top.lib == nil || top.meta == nil || top.libRank > 0 {
		for _, f := range nested {
			raw, err := readAll(f)
			if err != nil {
				return nil, err
			}
			inner, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
			if err != nil {
				log.WithError(err).WithField("entry", f.Name).Debug("apk: nested entry is not a zip")
				continue
			}
			p, _ := scan(inner)
			p.label = f.Name + "!"
			if p.lib != nil && p.libRank < lib.libRank {
				lib = p
			}
			if meta.meta == nil && p.meta != nil {
				meta = p
			}
		}
	}
	if lib.lib == nil || meta.meta == nil {
		return nil, ErrNotFound
	}

	bin, err := readAll(lib.lib)
	if err != nil {
		return nil, err
	}
	md, err := readAll(meta.meta)
	if err != nil {
		return nil, err
	}
	pair := &Pair{
		Binary:       bin,
		Metadata:     md,
		BinaryPath:   lib.label + lib.lib.Name,
		MetadataPath: meta.label + meta.meta.Name,
	}
	log.WithFields(log.Fields{
		"binary":   pair.BinaryPath,
		"metadata": pair.MetadataPath,
	}).Debug("apk: extracted")
	return pair, nil
}
