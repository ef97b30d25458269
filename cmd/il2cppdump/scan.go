package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"il2cppdump/internal/binimg"
	"il2cppdump/internal/il2cpp"
)

var (
	colorHeader = color.New(color.Bold, color.FgHiBlue).SprintFunc()
	colorAddr   = color.New(color.FgMagenta).SprintfFunc()
	colorExec   = color.New(color.FgGreen).SprintFunc()
	colorMiss   = color.New(color.FgHiBlack).SprintFunc()
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().String("arch", "64", "preferred fat Mach-O slice (32|64)")
	viper.BindPFlag("scan.arch", scanCmd.Flags().Lookup("arch"))

	rootCmd.AddCommand(a2oCmd)
	a2oCmd.Flags().String("arch", "64", "preferred fat Mach-O slice (32|64)")
	viper.BindPFlag("a2o.arch", a2oCmd.Flags().Lookup("arch"))
}

func openImage(path, arch string) (binimg.Image, error) {
	a, err := binimg.ParseArch(arch)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return binimg.Open(data, binimg.Options{PreferredArch: a})
}

// printScan writes the container summary, sections and root symbols.
func printScan(w io.Writer, img binimg.Image) {
	fmt.Fprintf(w, "%s %s", colorHeader("Format:"), img.Format())
	if img.Container() != img.Format() {
		fmt.Fprintf(w, " (from %s)", img.Container())
	}
	fmt.Fprintf(w, ", %d-bit %s, %s\n", img.PointerSize()*8, img.Machine(), humanize.Bytes(uint64(len(img.Bytes()))))

	secs := img.Sections().All()
	fmt.Fprintf(w, "%s %d\n", colorHeader("Sections:"), len(secs))
	for _, s := range secs {
		kind := "data"
		if s.Exec {
			kind = colorExec("exec")
		}
		fmt.Fprintf(w, "  %-20s %s-%s %8s %s\n",
			s.Name, colorAddr("0x%08x", s.VAStart), colorAddr("0x%08x", s.VAEnd), humanize.IBytes(s.Size()), kind)
	}

	fmt.Fprintln(w, colorHeader("Symbols:"))
	for _, name := range []string{il2cpp.CodeRegistrationSymbol, il2cpp.MetadataRegistrationSymbol} {
		if va, err := img.Symbol(name); err == nil {
			fmt.Fprintf(w, "  %-24s %s\n", name, colorAddr("0x%x", va))
		} else {
			fmt.Fprintf(w, "  %-24s %s\n", name, colorMiss(err))
		}
	}
}

var scanCmd = &cobra.Command{
	Use:           "scan <binary>",
	Short:         "Print container format, sections and root symbols",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := openImage(args[0], viper.GetString("scan.arch"))
		if err != nil {
			return err
		}
		printScan(cmd.OutOrStdout(), img)
		return nil
	},
}

var a2oCmd = &cobra.Command{
	Use:           "a2o <binary> <vaddr>",
	Short:         "Convert a virtual address to a file offset",
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		va, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("bad address %q: %w", args[1], err)
		}
		img, err := openImage(args[0], viper.GetString("a2o.arch"))
		if err != nil {
			return err
		}
		off, err := img.MapVA(va)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "0x%x\n", off)
		return nil
	},
}
