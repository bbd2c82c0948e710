// Command stacs is the CLI surface for the scanner: positional root
// paths plus the flags spec.md §6 names, wired through cobra/viper the
// way nabbar-golib's config layer binds flags to a Viper instance.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github/sabouaram/stacs/internal/obslog"
	"github/sabouaram/stacs/internal/report"
	"github/sabouaram/stacs/internal/scan"
)

// Exit codes, per spec.md §6.
const (
	exitOK           = 0
	exitFindings     = 100
	exitSetupFailure = -1
	exitScanFailure  = -2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	v := viper.New()
	code := exitOK
	root := newRootCommand(v, &code)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		return exitSetupFailure
	}

	return code
}

func newRootCommand(v *viper.Viper, code *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stacs [paths...]",
		Short: "Scan file trees, including nested archives, for exposed secrets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = runScan(cmd, v, args)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("pretty", false, "render a colorized tree instead of SARIF")
	flags.Int("threads", 10, "worker count for discovery and rule matching")
	flags.String("rule-pack", "", "path to the resolved rule-pack JSON file")
	flags.String("ignore-list", "", "path to the resolved ignore-list JSON file")
	flags.Bool("skip-unprocessable", false, "log and continue past per-file access errors")
	flags.String("cache-directory", os.TempDir(), "parent directory for the per-run extraction cache")

	_ = v.BindPFlag("debug", flags.Lookup("debug"))
	_ = v.BindPFlag("pretty", flags.Lookup("pretty"))
	_ = v.BindPFlag("threads", flags.Lookup("threads"))
	_ = v.BindPFlag("rule-pack", flags.Lookup("rule-pack"))
	_ = v.BindPFlag("ignore-list", flags.Lookup("ignore-list"))
	_ = v.BindPFlag("skip-unprocessable", flags.Lookup("skip-unprocessable"))
	_ = v.BindPFlag("cache-directory", flags.Lookup("cache-directory"))

	return cmd
}

func runScan(cmd *cobra.Command, v *viper.Viper, roots []string) int {
	log := obslog.New(v.GetBool("debug"))

	if v.GetString("rule-pack") == "" {
		log.Error("--rule-pack is required", obslog.Fields{})
		return exitSetupFailure
	}

	result, err := scan.Run(context.Background(), scan.Options{
		Roots:          roots,
		CacheDirectory: v.GetString("cache-directory"),
		Workers:        v.GetInt("threads"),
		SkipOnCorrupt:  v.GetBool("skip-unprocessable"),
		RulePackPath:   v.GetString("rule-pack"),
		IgnoreListPath: v.GetString("ignore-list"),
		Log:            log,
	})
	if err != nil {
		log.Error("scan aborted", obslog.Fields{"error": err.Error()})
		return exitScanFailure
	}
	log.Debug("scan complete", obslog.Fields{"run_id": result.RunID, "findings": len(result.Findings)})

	if v.GetBool("pretty") {
		report.WritePretty(cmd.OutOrStdout(), result.Findings, true)
	} else if err = report.WriteSARIF(cmd.OutOrStdout(), result.Findings, result.RunID); err != nil {
		log.Error("report rendering failed", obslog.Fields{"error": err.Error()})
		return exitScanFailure
	}

	if unsuppressedCount(result.Findings) > 0 {
		return exitFindings
	}
	return exitOK
}

func unsuppressedCount(findings []report.Finding) int {
	n := 0
	for _, f := range findings {
		if f.Ignored == nil {
			n++
		}
	}
	return n
}
