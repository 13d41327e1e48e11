// ABOUTME: The `vigil verify` command: reopen a data directory and report on it.
// ABOUTME: Prints the layered integrity report; damage makes the command fail.

package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/vigildb/vigil/verify"
)

var (
	verifyRequired []string
	verifyProbe    bool

	// VerifyCmd checks an existing data directory without running workers.
	VerifyCmd = &cobra.Command{
		Use:   "verify DATA_DIR",
		Short: "Open a data directory and run the integrity checks.",
		Long: paragraph("Opens the data directory with a bounded open, runs the layered " +
			"integrity checks, and prints the report. Use this on a directory left behind " +
			"by a crashed process before trusting its contents."),
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}
)

func init() {
	VerifyCmd.Flags().StringSliceVar(&verifyRequired, "require", nil, "table names that must exist")
	VerifyCmd.Flags().BoolVar(&verifyProbe, "probe", false, "also run the write probe")
}

func runVerify(_ *cobra.Command, args []string) error {
	cfg := getConfig()

	res := verify.TryOpen(args[0], cfg.OpenTimeout)
	if !res.Success() {
		if res.TimedOut {
			return fmt.Errorf("open timed out after %s; the directory may be corrupted", cfg.OpenTimeout)
		}
		return fmt.Errorf("failed to open data directory: %w", res.Err)
	}
	defer func() {
		if err := res.DB.Close(); err != nil {
			log.Error("failed to close data directory", "err", err)
		}
	}()

	if q := res.DB.Quarantined(); q != nil {
		fmt.Printf("%s partially-initialized data moved to %s\n", errText("!"), q.BackupPath)
	}

	report := verify.Integrity(res.DB, verifyRequired...)
	fmt.Print(report.String())

	if verifyProbe {
		if err := verify.WriteProbe(res.DB); err != nil {
			return fmt.Errorf("write probe failed: %w", err)
		}
		fmt.Printf("%s write probe passed\n", keyword("✓"))
	}

	if !report.Intact() {
		return fmt.Errorf("%d integrity issues found", len(report.Issues))
	}
	return nil
}
