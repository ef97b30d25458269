package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"il2cppdump/internal/il2cpp"
	"il2cppdump/internal/metadata"
)

// AppVersion is set at build time with -ldflags "-X main.AppVersion=...".
var AppVersion = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and supported metadata versions",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "il2cppdump %s (metadata v%d-v%d, modes %s)\n",
			AppVersion, metadata.MinVersion, metadata.MaxVersion, modeList())
	},
}

func modeList() string {
	var s string
	for m := il2cpp.ModeManual; m <= il2cpp.ModeSymbol; m++ {
		if s != "" {
			s += "|"
		}
		s += m.String()
	}
	return s
}
