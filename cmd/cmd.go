// Package cmd implements the Cobra commands for the vigil CLI.
package cmd

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/vigildb/vigil/scenario"
)

var (
	paragraphStyle = lipgloss.NewStyle().Width(78).Padding(0, 0, 1, 2)
	keywordStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"})
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"})

	paragraph = paragraphStyle.Render
	keyword   = keywordStyle.Render
	errText   = errorStyle.Render
)

func init() {
	// Plain output when piped; verdicts are often redirected into files.
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if os.Getenv("VIGIL_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}
}

func getConfig() *scenario.Config {
	cfg, err := scenario.ConfigFromEnv()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}
