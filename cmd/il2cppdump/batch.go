package main

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"il2cppdump/internal/il2cpp"
	"il2cppdump/internal/output"
)

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringP("out", "o", "out", "output directory; one subdirectory per input")
	batchCmd.Flags().IntP("jobs", "j", runtime.GOMAXPROCS(0), "inputs processed concurrently")
	batchCmd.Flags().StringP("mode", "m", "plus", "search mode: auto|advanced|plus|symbol")
	viper.BindPFlag("batch.out", batchCmd.Flags().Lookup("out"))
	viper.BindPFlag("batch.jobs", batchCmd.Flags().Lookup("jobs"))
	viper.BindPFlag("batch.mode", batchCmd.Flags().Lookup("mode"))
}

// batchResult is one line of batch.json.
type batchResult struct {
	Input    string `json:"input"`
	Dir      string `json:"dir,omitempty"`
	Binary   string `json:"binary,omitempty"`
	Metadata string `json:"metadata,omitempty"`
	Elapsed  string `json:"elapsed"`
	Error    string `json:"error,omitempty"`
}

// runBatch dumps every APK in paths into its own directory under outDir.
// Failures are recorded per input; the returned error only reports how
// many inputs failed.
func runBatch(fs afero.Fs, paths []string, outDir string, jobs int, base dumpOptions) ([]batchResult, error) {
	var (
		mu      sync.Mutex
		results []batchResult
	)
	g := new(errgroup.Group)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for _, p := range paths {
		g.Go(func() error {
			start := time.Now()
			name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
			dir := filepath.Join(outDir, name)
			r := batchResult{Input: p, Dir: dir}

			in, err := loadInputs(p, "")
			if err == nil {
				r.Binary, r.Metadata = in.BinaryPath, in.MetadataPath
				err = runDump(fs, in, batchOptions(base, dir), io.Discard)
			}
			if err != nil {
				r.Error = err.Error()
				log.WithError(err).WithField("input", p).Warn("batch: dump failed")
			} else {
				log.WithField("input", p).Info("batch: done")
			}
			r.Elapsed = time.Since(start).Round(time.Millisecond).String()

			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Input < results[j].Input })
	if err := output.WriteJSON(fs, filepath.Join(outDir, "batch.json"), results); err != nil {
		return results, err
	}
	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return results, fmt.Errorf("batch: %d of %d inputs failed", failed, len(results))
	}
	return results, nil
}

var batchCmd = &cobra.Command{
	Use:           "batch <apk>...",
	Short:         "Dump many APKs concurrently",
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := dumpOptionsFromViper()
		if err != nil {
			return err
		}
		if opts.Mode, err = il2cpp.ParseMode(viper.GetString("batch.mode")); err != nil {
			return err
		}
		if opts.Mode == il2cpp.ModeManual {
			return fmt.Errorf("batch: manual mode needs per-input addresses")
		}
		_, err = runBatch(afero.NewOsFs(), args, viper.GetString("batch.out"), viper.GetInt("batch.jobs"), opts)
		return err
	},
}
