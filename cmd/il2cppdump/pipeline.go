package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/spf13/afero"

	"il2cppdump/internal/apk"
	"il2cppdump/internal/binimg"
	"il2cppdump/internal/dump"
	"il2cppdump/internal/il2cpp"
	"il2cppdump/internal/metadata"
	"il2cppdump/internal/output"
)

// inputs is a native binary and its metadata file, read into memory.
type inputs struct {
	Binary       []byte
	Metadata     []byte
	BinaryPath   string
	MetadataPath string
}

// loadInputs reads binPath and metaPath. Without a metadata path binPath
// is treated as an APK holding both files.
func loadInputs(binPath, metaPath string) (*inputs, error) {
	if metaPath == "" {
		p, err := apk.Extract(binPath)
		if err != nil {
			return nil, err
		}
		return &inputs{
			Binary:       p.Binary,
			Metadata:     p.Metadata,
			BinaryPath:   binPath + "!" + p.BinaryPath,
			MetadataPath: binPath + "!" + p.MetadataPath,
		}, nil
	}
	bin, err := os.ReadFile(binPath)
	if err != nil {
		return nil, fmt.Errorf("read binary: %w", err)
	}
	md, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	return &inputs{Binary: bin, Metadata: md, BinaryPath: binPath, MetadataPath: metaPath}, nil
}

// dumpOptions configures one run. Empty output paths are skipped, except
// Listing which is required.
type dumpOptions struct {
	Mode         il2cpp.Mode
	CodeReg      uint64
	MetaReg      uint64
	ForceVersion int
	Arch         binimg.Arch
	Config       dump.Config

	Listing string
	Script  string
	Dummy   string
	Graph   string
	Symbols string
}

// runDump parses in and writes every requested output to fs. Progress
// lines go to progress.
func runDump(fs afero.Fs, in *inputs, opts dumpOptions, progress io.Writer) error {
	fmt.Fprintln(progress, "Initializing metadata...")
	md, err := metadata.Parse(in.Metadata, metadata.Options{ForceVersion: opts.ForceVersion})
	if err != nil {
		return fmt.Errorf("metadata %s: %w", in.MetadataPath, err)
	}
	img, err := binimg.Open(in.Binary, binimg.Options{PreferredArch: opts.Arch})
	if err != nil {
		return fmt.Errorf("binary %s: %w", in.BinaryPath, err)
	}
	log.WithFields(log.Fields{
		"format":  img.Format(),
		"machine": img.Machine(),
		"version": md.Version,
	}).Debug("inputs opened")

	bin, err := il2cpp.New(img, md.Version, md.MaxMetadataUsages())
	if err != nil {
		return err
	}
	ev := il2cpp.Evidence{
		MethodCount:         md.MethodCount(true),
		TypeDefinitionCount: md.TypeDefinitionCount(),
	}
	if err := bin.Locate(opts.Mode, opts.CodeReg, opts.MetaReg, ev); err != nil {
		fmt.Fprintln(progress, "Failed to parse")
		for _, d := range bin.Diags() {
			log.Debug(d.String())
		}
		return fmt.Errorf("%s mode: %w", opts.Mode, err)
	}
	log.WithFields(log.Fields{
		"mode":                 opts.Mode,
		"codeRegistration":     fmt.Sprintf("0x%x", bin.CodeRegistrationAddr),
		"metadataRegistration": fmt.Sprintf("0x%x", bin.MetadataRegistrationAddr),
	}).Info("registration found")

	d, err := dump.New(md, bin, opts.Config)
	if err != nil {
		return err
	}

	fmt.Fprintln(progress, "Start dump...")
	if err := output.WriteWith(fs, opts.Listing, d.WriteListing); err != nil {
		return err
	}
	if opts.Script != "" {
		if err := output.WriteWith(fs, opts.Script, d.WriteScript); err != nil {
			return err
		}
	}
	if opts.Graph != "" {
		if err := output.WriteWith(fs, opts.Graph, d.WriteTypeGraph); err != nil {
			return err
		}
	}
	if opts.Symbols != "" {
		if err := output.WriteSymbolsJSON(fs, opts.Symbols, d.Symbols()); err != nil {
			return err
		}
	}
	if opts.Dummy != "" {
		fmt.Fprintln(progress, "Start dump dummy DLL files...")
		if err := d.WriteDummy(fs, opts.Dummy); err != nil {
			return err
		}
	}
	fmt.Fprintln(progress, "Done")
	return nil
}

// batchOptions derives per-input output paths under dir.
func batchOptions(base dumpOptions, dir string) dumpOptions {
	o := base
	o.Listing = filepath.Join(dir, "dump.cs")
	o.Script = filepath.Join(dir, "script.py")
	o.Graph = filepath.Join(dir, "types.dot")
	o.Symbols = dir
	o.Dummy = filepath.Join(dir, "DummyDll")
	return o
}
