// ABOUTME: The hidden `vigil worker` command: the workload child process.
// ABOUTME: The crash harness re-executes the vigil binary with this subcommand.

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vigildb/vigil/worker"
)

// WorkerCmd runs one scripted workload. It is spawned by the harness, not
// by people, so it stays out of the help output.
var WorkerCmd = &cobra.Command{
	Use:    "worker",
	Hidden: true,
	Short:  "Run a crash-scenario workload (internal).",
	Args:   cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		os.Exit(worker.Main())
	},
}
