// Package main is the entry point for tpmguard.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "config.yaml"
	configDirName     = "tpmguard"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tpmguard",
	Short: "Tokens-per-minute guard for LLM provider quotas",
	Long: `tpmguard keeps callers under per-provider tokens-per-minute quotas using
named token buckets. It serves bucket state over a read-only admin API and can
simulate concurrent callers against a quota.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/"+configDirName+"/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
