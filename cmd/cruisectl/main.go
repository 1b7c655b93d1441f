package main

import (
	"fmt"
	"os"

	"github.com/Domenick1991/cruisebooking/config"
	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.LoadConfig(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cruisectl",
		Short:         "Operations tool for the cruise booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultPath, "path to the YAML config")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newSweepCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	cmd.AddCommand(newCallerTokenCmd(opts))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cruisectl %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
