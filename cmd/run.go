// ABOUTME: The `vigil run` command: execute a named crash scenario.
// ABOUTME: Results are printed and archived; a dirty verdict is a command failure.

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vigildb/vigil/scenario"
)

var (
	runDataDir   string
	runNoArchive bool

	// RunCmd executes one named crash scenario.
	RunCmd = &cobra.Command{
		Use:   "run SCENARIO",
		Short: "Run a named crash scenario and verify the survivor.",
		Long: paragraph("Runs one crash scenario: workers are spawned against a data directory, " +
			"killed at controlled moments, and the directory is verified afterwards. " +
			"Known scenarios: " + strings.Join(scenario.Names(), ", ") + "."),
		Args: cobra.ExactArgs(1),
		RunE: runScenario,
	}
)

func init() {
	RunCmd.Flags().StringVarP(&runDataDir, "data-dir", "d", "", "data directory to exercise (default: a fresh directory under the data root)")
	RunCmd.Flags().BoolVar(&runNoArchive, "no-archive", false, "skip archiving the result")
}

func runScenario(cmd *cobra.Command, args []string) error {
	name := args[0]
	cfg := getConfig()

	dataDir := runDataDir
	if dataDir == "" {
		dir, err := os.MkdirTemp(cfg.DataRoot, "run-*")
		if err != nil {
			// The data root may not exist on first use.
			if mkErr := os.MkdirAll(cfg.DataRoot, 0o755); mkErr != nil {
				return fmt.Errorf("failed to create data root: %w", mkErr)
			}
			dir, err = os.MkdirTemp(cfg.DataRoot, "run-*")
			if err != nil {
				return fmt.Errorf("failed to create scenario directory: %w", err)
			}
		}
		dataDir = filepath.Join(dir, "data")
	}

	opts := []scenario.Option{scenario.WithMetrics(scenario.NewMetrics(prometheus.DefaultRegisterer))}
	if !runNoArchive {
		store, err := scenario.OpenStore(cfg.ResultsPath)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error("failed to close results archive", "err", err)
			}
		}()
		opts = append(opts, scenario.WithStore(store))
	}

	o := scenario.New(cfg, opts...)
	r, err := o.Run(cmd.Context(), name, dataDir)
	if err != nil {
		return err
	}

	printResult(r)
	if !r.Clean() {
		return fmt.Errorf("scenario %s finished with verdict %v", name, r.Verdict)
	}
	return nil
}

func printResult(r *scenario.Result) {
	fmt.Println(keyword(r.Scenario), r.ID)
	fmt.Printf("  workers: %d, verify: %s\n", len(r.Workers), r.VerifyDuration.Round(time.Millisecond))
	if r.OpenError != "" {
		fmt.Printf("  open: %s\n", errText(r.OpenError))
	}
	for _, rep := range r.Reports {
		for _, line := range strings.Split(strings.TrimRight(rep.String(), "\n"), "\n") {
			fmt.Printf("  %s\n", line)
		}
	}
	for _, issue := range r.CrossCheckIssues {
		fmt.Printf("  %s\n", errText(issue))
	}
	if r.WriteProbeError != "" {
		fmt.Printf("  write probe: %s\n", errText(r.WriteProbeError))
	}
	if r.Clean() {
		fmt.Printf("  verdict: %s\n", keyword("clean"))
	} else {
		labels := make([]string, len(r.Verdict))
		for i, l := range r.Verdict {
			labels[i] = string(l)
		}
		fmt.Printf("  verdict: %s\n", errText(strings.Join(labels, ", ")))
	}
}
