package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var showVersion bool

var rootCmd = &cobra.Command{
	Use:   "katagollum",
	Short: "Trash-talking Go opponent backed by KataGo",
	Long: `Katagollum plays Go against you with a KataGo engine choosing the moves
and a tool-calling language model narrating them in a chosen persona.

Run "katagollum play" for a terminal game, "katagollum serve" for the HTTP
backend, or "katagollum mcp" to expose the engine tools over MCP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			fmt.Printf("katagollum %s\n", Version)
			return nil
		}
		return cmd.Help()
	},
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "Show version information")
}
