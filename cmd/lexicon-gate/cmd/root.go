// Package cmd provides the CLI commands for lexicon-gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "lexicon-gate",
	Short: "lexicon-gate - admission gateway for MCP tool dispatch",
	Long: `lexicon-gate is a request-admission gateway for Model Context
Protocol tool dispatch. Every tools/call passes through bearer-token
authentication, schema validation and sanitization, CEL admission
rules, and multi-tier rate limiting before a handler runs.

Quick start:
  1. Create a config file: lexicon-gate.yaml
  2. Run: lexicon-gate serve

Configuration:
  Config is loaded from lexicon-gate.yaml in the current directory,
  $HOME/.lexicon-gate/, or /etc/lexicon-gate/.

  Environment variables override config values with the LEXICON_GATE_
  prefix. Example: LEXICON_GATE_SERVER_PORT=9090

Commands:
  serve       Start the gateway
  hash-key    Hash an admin API key for the config file
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./lexicon-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
