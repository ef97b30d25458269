package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"il2cppdump/internal/binimg"
	"il2cppdump/internal/dump"
	"il2cppdump/internal/il2cpp"
)

func init() {
	rootCmd.AddCommand(dumpCmd)
	f := dumpCmd.Flags()
	f.StringP("metadata", "g", "", "global-metadata.dat path (omit when the input is an APK)")
	f.StringP("ida", "i", "", "IDA python script output path")
	f.StringP("dummy", "d", "", "placeholder assembly output directory")
	f.StringP("mode", "m", il2cpp.ModePlus.String(), "search mode: manual|auto|advanced|plus|symbol or 0-4")
	f.StringP("code-registration", "r", "", "CodeRegistration address (manual mode)")
	f.StringP("metadata-registration", "e", "", "MetadataRegistration address (manual mode)")
	f.BoolP("no-method", "M", false, "do not dump methods")
	f.BoolP("no-field", "F", false, "do not dump fields")
	f.BoolP("property", "p", false, "dump properties")
	f.BoolP("no-attribute", "A", false, "do not dump custom attributes")
	f.BoolP("no-field-offset", "O", false, "do not dump field offsets")
	f.BoolP("no-make-function", "N", false, "do not emit MakeFunction directives")
	f.IntP("force-version", "V", 0, "override the metadata version")
	f.String("arch", "64", "preferred fat Mach-O slice (32|64)")
	f.String("graph", "", "type graph DOT output path")
	f.String("symbols", "", "directory for symbols.json")
	for _, name := range []string{
		"metadata", "ida", "dummy", "mode", "code-registration", "metadata-registration",
		"no-method", "no-field", "property", "no-attribute", "no-field-offset",
		"no-make-function", "force-version", "arch", "graph", "symbols",
	} {
		viper.BindPFlag("dump."+name, f.Lookup(name))
	}
}

// parseAddr accepts 0x-prefixed hex, bare hex or decimal. Empty is zero.
func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("bad address %q", s)
	}
	return v, nil
}

// dumpOptionsFromViper collects the dump.* settings shared by dump and
// batch.
func dumpOptionsFromViper() (dumpOptions, error) {
	var opts dumpOptions
	mode, err := il2cpp.ParseMode(viper.GetString("dump.mode"))
	if err != nil {
		return opts, err
	}
	opts.Mode = mode
	if opts.CodeReg, err = parseAddr(viper.GetString("dump.code-registration")); err != nil {
		return opts, err
	}
	if opts.MetaReg, err = parseAddr(viper.GetString("dump.metadata-registration")); err != nil {
		return opts, err
	}
	if mode == il2cpp.ModeManual && (opts.CodeReg == 0 || opts.MetaReg == 0) {
		return opts, fmt.Errorf("manual mode needs --code-registration and --metadata-registration")
	}
	if opts.Arch, err = binimg.ParseArch(viper.GetString("dump.arch")); err != nil {
		return opts, err
	}
	opts.ForceVersion = viper.GetInt("dump.force-version")

	cfg := dump.DefaultConfig()
	cfg.DumpMethod = !viper.GetBool("dump.no-method")
	cfg.DumpField = !viper.GetBool("dump.no-field")
	cfg.DumpProperty = viper.GetBool("dump.property")
	cfg.DumpAttribute = !viper.GetBool("dump.no-attribute")
	cfg.DumpFieldOffset = !viper.GetBool("dump.no-field-offset")
	cfg.MakeFunction = !viper.GetBool("dump.no-make-function")
	opts.Config = cfg
	return opts, nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump <libil2cpp|apk> <output.cs>",
	Short: "Dump types, fields and methods as a C# listing",
	Example: `  il2cppdump dump libil2cpp.so -g global-metadata.dat dump.cs -i script.py
  il2cppdump dump game.apk dump.cs -m advanced
  il2cppdump dump UnityFramework -g global-metadata.dat dump.cs -m manual -r 0x1a2b30 -e 0x1a2c40`,
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := dumpOptionsFromViper()
		if err != nil {
			return err
		}
		opts.Listing = args[1]
		opts.Script = viper.GetString("dump.ida")
		opts.Dummy = viper.GetString("dump.dummy")
		opts.Graph = viper.GetString("dump.graph")
		opts.Symbols = viper.GetString("dump.symbols")

		in, err := loadInputs(args[0], viper.GetString("dump.metadata"))
		if err != nil {
			return err
		}
		return runDump(afero.NewOsFs(), in, opts, os.Stdout)
	},
}
