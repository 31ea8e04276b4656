package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gateway-ctl",
		Short:         "Operator tooling for the privacy gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init()
			logger.Log.SetOutput(cmd.ErrOrStderr())
		},
	}
	root.AddCommand(newRedactCommand())
	root.AddCommand(newTokenCommand())
	root.AddCommand(newPatientCommand())
	return root
}
