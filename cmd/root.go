package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ThatCatDev/tanrenai/gemma/internal/launcher"
)

// exitCode is set by the launch run and returned from Execute.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "tanrenai-gemma",
	Short: "Serve Gemma 3 270M over an OpenAI-compatible API on the CPU",
	Long: `tanrenai-gemma starts llama-server with Gemma 3 270M Instruct on the CPU and
serves an OpenAI-compatible API on 127.0.0.1:54546.

The model is expected at Model/gemma-3-270m-it-Q8_0.gguf next to the
executable. Use "tanrenai-gemma pull" to download it.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		exitCode = launcher.New().Run(ctx)
		return nil
	},
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return exitCode
}
