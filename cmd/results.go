// ABOUTME: The `vigil results` command: browse the archive of past scenario runs.
// ABOUTME: Lists summaries by default; a single ID prints the full result as JSON.

package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/vigildb/vigil/scenario"
)

// ResultsCmd browses archived scenario results.
var ResultsCmd = &cobra.Command{
	Use:   "results [ID]",
	Short: "List archived scenario results, or show one in full.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResults,
}

func runResults(_ *cobra.Command, args []string) error {
	cfg := getConfig()
	store, err := scenario.OpenStore(cfg.ResultsPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close results archive", "err", err)
		}
	}()

	if len(args) == 1 {
		r, err := store.Get(args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	results, err := store.List()
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No archived results.")
		return nil
	}
	for _, r := range results {
		verdict := keyword("clean")
		if !r.Clean() {
			verdict = errText(fmt.Sprint(r.Verdict))
		}
		fmt.Printf("%s  %-22s %s  %s\n", r.ID, r.Scenario, r.StartedAt.Format("2006-01-02 15:04:05"), verdict)
	}
	return nil
}
