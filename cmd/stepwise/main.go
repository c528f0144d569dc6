// Command stepwise plans multi-step tool invocations from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCMD().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCMD() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "stepwise",
		Short:         "Plan multi-step tool invocations for natural-language tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/stepwise.yaml or ./stepwise.yaml)")

	root.AddCommand(
		planCMD(&cfgPath),
		routeCMD(&cfgPath),
		toolsCMD(&cfgPath),
		resolveCMD(&cfgPath),
	)
	return root
}
