package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// rootState carries the few settings shared by every subcommand.
type rootState struct {
	configPath string
	verbose    bool
	log        zerolog.Logger
}

// newRootCmd builds the command tree. Construction happens per call so
// tests can execute commands against a fresh flag set.
func newRootCmd() *cobra.Command {
	st := &rootState{}

	root := &cobra.Command{
		Use:           "schpf",
		Short:         "Hierarchical Poisson factorization for sparse count matrices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&st.configPath, "config", "", "TOML file providing option defaults (flags win)")
	root.PersistentFlags().BoolVarP(&st.verbose, "verbose", "v", false, "log per-check training progress")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if st.verbose {
			level = zerolog.DebugLevel
		}
		cw := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
		st.log = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	}

	root.AddCommand(newTrainCmd(st))
	root.AddCommand(newProjectCmd(st))
	return root
}
