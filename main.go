// ABOUTME: Entry point for the vigil CLI.
// ABOUTME: Wires the root command, version info, and man page generation.

package main

import (
	"fmt"
	"os"

	mcobra "github.com/muesli/mango-cobra"
	"github.com/muesli/roff"
	"github.com/spf13/cobra"

	"github.com/vigildb/vigil/cmd"
)

var (
	// Version is set by the build process.
	Version = ""
	// CommitSHA is set by the build process.
	CommitSHA = ""

	rootCmd = &cobra.Command{
		Use:   "vigil",
		Short: "Crash-safety guard and verification harness for embedded databases.",
		Long: "Vigil protects file-backed data directories from concurrent access and\n" +
			"partial initialization, and proves the protection works by crashing real\n" +
			"worker processes at controlled moments and verifying what survives.",
		SilenceUsage: true,
		RunE: func(c *cobra.Command, _ []string) error {
			return c.Help()
		},
	}

	manCmd = &cobra.Command{
		Use:    "man",
		Short:  "Generate man pages.",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(*cobra.Command, []string) error {
			manPage, err := mcobra.NewManPage(1, rootCmd)
			if err != nil {
				return err
			}
			manPage = manPage.WithSection("Copyright", "Released under the MIT license.")
			fmt.Println(manPage.Build(roff.NewDocument()))
			return nil
		},
	}
)

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.AddCommand(
		cmd.RunCmd,
		cmd.VerifyCmd,
		cmd.ResultsCmd,
		cmd.WorkerCmd,
		manCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
