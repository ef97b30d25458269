package main

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"il2cppdump/internal/binimg"
	"il2cppdump/internal/dump"
	"il2cppdump/internal/il2cpp"
	"il2cppdump/internal/il2cpp/il2cpptest"
	"il2cppdump/internal/metadata"
	"il2cppdump/internal/metadata/metadatatest"
)

// gameInputs is a binary with two methods with code and one generic
// instantiation of method definition 2, plus metadata describing the
// same two types.
func gameInputs(t *testing.T) *inputs {
	t.Helper()
	b := il2cpptest.New(il2cpptest.Options{})
	b.MethodPointers(il2cpptest.Code(0), il2cpptest.Code(1))
	b.GenericMethod(2, il2cpptest.Code(3))
	b.Invokers(il2cpptest.Code(4))
	b.AttributeGenerators(il2cpptest.Code(5))
	b.UsageSlots(2)
	b.FieldOffsets([]int32{0x10, 0x18}, nil)
	b.Types(
		b.Type(il2cpp.TypeClass, 0),
		b.Type(il2cpp.TypeI4, 0),
		b.Type(il2cpp.TypeVoid, 0),
	)
	im := b.Build()

	m := metadatatest.New(il2cpptest.Version)
	m.Images = []metadata.ImageDefinition{{NameIndex: m.String("Assembly-CSharp.dll"), TypeCount: 2}}
	m.TypeDefs = []metadata.TypeDefinition{
		{
			NameIndex: m.String("Player"), NamespaceIndex: m.String("Game"), CustomAttributeIndex: -1,
			ParentIndex: -1, Flags: 0x1, // public
			FieldCount: 2, MethodCount: 3,
		},
		{
			NameIndex: m.String("Util"), CustomAttributeIndex: -1,
			ParentIndex: -1, Flags: 0x1 | 0x80 | 0x100, // public abstract sealed
		},
	}
	m.FieldDefs = []metadata.FieldDefinition{
		{NameIndex: m.String("hp"), TypeIndex: 1, CustomAttributeIndex: -1},
		{NameIndex: m.String("id"), TypeIndex: 1, CustomAttributeIndex: -1},
	}
	m.MethodDefs = []metadata.MethodDefinition{
		{NameIndex: m.String("Run"), ReturnType: 2, CustomAttributeIndex: -1, MethodIndex: 0, Flags: 0x6},
		{NameIndex: m.String("Jump"), ReturnType: 2, CustomAttributeIndex: -1, MethodIndex: 1, Flags: 0x6},
		{NameIndex: m.String("Get"), ReturnType: 1, CustomAttributeIndex: -1, MethodIndex: -1, Flags: 0x6},
	}
	m.Literal("hi")
	m.UsageLists = []metadata.MetadataUsageList{{Start: 0, Count: 1}}
	m.UsagePairs = []metadata.MetadataUsagePair{{DestinationIndex: 1, EncodedSourceIndex: metadata.UsageStringLiteral << 29}}

	return &inputs{
		Binary:       im.ELF(),
		Metadata:     m.Bytes(),
		BinaryPath:   "libil2cpp.so",
		MetadataPath: "global-metadata.dat",
	}
}

func defaultOptions() dumpOptions {
	return dumpOptions{Mode: il2cpp.ModePlus, Config: dump.DefaultConfig()}
}

func TestRunDump(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := defaultOptions()
	opts.Listing = "/out/dump.cs"
	opts.Script = "/out/script.py"
	opts.Graph = "/out/types.dot"
	opts.Symbols = "/out"
	opts.Dummy = "/out/DummyDll"

	var progress bytes.Buffer
	require.NoError(t, runDump(fs, gameInputs(t), opts, &progress))
	assert.Equal(t, "Initializing metadata...\nStart dump...\nStart dump dummy DLL files...\nDone\n", progress.String())

	listing, err := afero.ReadFile(fs, "/out/dump.cs")
	require.NoError(t, err)
	assert.Contains(t, string(listing), "public class Player // TypeDefIndex: 0\n")
	assert.Contains(t, string(listing), "public static class Util // TypeDefIndex: 1\n")
	assert.Contains(t, string(listing), fmt.Sprintf("\tpublic void Run(); // 0x%X\n", il2cpptest.Code(0)))
	assert.Contains(t, string(listing), fmt.Sprintf("\tpublic int Get(); // 0x%X\n", il2cpptest.Code(3)))
	assert.Contains(t, string(listing), "\tint id; // 0x18\n")

	script, err := afero.ReadFile(fs, "/out/script.py")
	require.NoError(t, err)
	assert.Contains(t, string(script), fmt.Sprintf("SetMethod(0x%X, 'Player$$Jump')", il2cpptest.Code(1)))
	assert.Contains(t, string(script), "r'hi')\n")

	for _, p := range []string{"/out/types.dot", "/out/symbols.json", "/out/DummyDll/Assembly-CSharp.json"} {
		ok, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
}

func TestRunDumpModes(t *testing.T) {
	for _, mode := range []il2cpp.Mode{il2cpp.ModeAuto, il2cpp.ModeAdvanced, il2cpp.ModePlus} {
		t.Run(mode.String(), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			opts := defaultOptions()
			opts.Mode = mode
			opts.Listing = "/dump.cs"
			require.NoError(t, runDump(fs, gameInputs(t), opts, &bytes.Buffer{}))
		})
	}
}

func TestRunDumpFailedToParse(t *testing.T) {
	fs := afero.NewMemMapFs()
	opts := defaultOptions()
	opts.Mode = il2cpp.ModeSymbol
	opts.Listing = "/dump.cs"

	var progress bytes.Buffer
	err := runDump(fs, gameInputs(t), opts, &progress)
	require.ErrorIs(t, err, il2cpp.ErrNotFound)
	assert.Contains(t, progress.String(), "Failed to parse\n")
	assert.NotContains(t, progress.String(), "Start dump")

	ok, _ := afero.Exists(fs, "/dump.cs")
	assert.False(t, ok)
}

func TestRunDumpBadInputs(t *testing.T) {
	in := gameInputs(t)
	opts := defaultOptions()
	opts.Listing = "/dump.cs"

	bad := *in
	bad.Metadata = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	err := runDump(afero.NewMemMapFs(), &bad, opts, &bytes.Buffer{})
	require.ErrorIs(t, err, metadata.ErrBadSanity)

	bad = *in
	bad.Binary = []byte("not a binary at all")
	err = runDump(afero.NewMemMapFs(), &bad, opts, &bytes.Buffer{})
	require.ErrorIs(t, err, binimg.ErrUnknownFormat)
}

func writeAPK(t *testing.T, path string, files map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestRunBatch(t *testing.T) {
	in := gameInputs(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.apk")
	writeAPK(t, good, map[string][]byte{
		"lib/arm64-v8a/libil2cpp.so": in.Binary,
		"assets/bin/Data/Managed/Metadata/global-metadata.dat": in.Metadata,
	})
	broken := filepath.Join(dir, "broken.apk")
	writeAPK(t, broken, map[string][]byte{"lib/arm64-v8a/libil2cpp.so": in.Binary})

	fs := afero.NewMemMapFs()
	results, err := runBatch(fs, []string{good, broken}, "/out", 2, defaultOptions())
	require.ErrorContains(t, err, "1 of 2 inputs failed")
	require.Len(t, results, 2)
	assert.Equal(t, broken, results[0].Input)
	assert.NotEmpty(t, results[0].Error)
	assert.Equal(t, good, results[1].Input)
	assert.Empty(t, results[1].Error)
	assert.Equal(t, good+"!lib/arm64-v8a/libil2cpp.so", results[1].Binary)

	for _, p := range []string{"/out/good/dump.cs", "/out/good/script.py", "/out/good/symbols.json", "/out/good/DummyDll/Assembly-CSharp.json"} {
		ok, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}

	raw, err := afero.ReadFile(fs, "/out/batch.json")
	require.NoError(t, err)
	var saved []batchResult
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, results, saved)
}

func TestParseAddr(t *testing.T) {
	for in, want := range map[string]uint64{
		"":         0,
		"0x1A2B30": 0x1a2b30,
		"1a2b30":   0x1a2b30,
		"4096":     4096,
		" 0x10 ":   0x10,
	} {
		got, err := parseAddr(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseAddr("zz")
	require.Error(t, err)
}

func TestPrintScan(t *testing.T) {
	color.NoColor = true
	img, err := binimg.Open(gameInputs(t).Binary, binimg.Options{})
	require.NoError(t, err)

	var buf bytes.Buffer
	printScan(&buf, img)
	out := buf.String()
	assert.Contains(t, out, "Format: elf64, 64-bit x86_64")
	assert.Contains(t, out, "Sections: 2\n")
	assert.Contains(t, out, "exec")
	assert.Contains(t, out, il2cpp.CodeRegistrationSymbol)
	assert.Contains(t, out, "no symbol table")
}
