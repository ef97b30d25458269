// Package output writes il2cppdump results to files.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Create creates path on fs, making parent directories as needed.
func Create(fs afero.Fs, path string) (afero.File, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("output: create %s: %w", path, err)
	}
	return f, nil
}

// WriteWith creates path and hands a buffered writer to fn.
func WriteWith(fs afero.Fs, path string, fn func(io.Writer) error) (err error) {
	f, err := Create(fs, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("output: close %s: %w", path, cerr)
		}
	}()
	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(fs afero.Fs, path string, v any) error {
	return WriteWith(fs, path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("output: encode %s: %w", path, err)
		}
		return nil
	})
}

// WriteText writes s to path.
func WriteText(fs afero.Fs, path, s string) error {
	return WriteWith(fs, path, func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	})
}

// SymbolEntry represents a named code address.
type SymbolEntry struct {
	Address uint64 `json:"address"`
	Name    string `json:"name"`
	Kind    string `json:"kind,omitempty"`
}

// WriteSymbolsJSON writes symbols to symbols.json.
func WriteSymbolsJSON(fs afero.Fs, dir string, symbols []SymbolEntry) error {
	return WriteJSON(fs, filepath.Join(dir, "symbols.json"), symbols)
}
