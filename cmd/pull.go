package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ThatCatDev/tanrenai/gemma/internal/config"
	"github.com/ThatCatDev/tanrenai/gemma/internal/models"
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download the Gemma 3 270M GGUF next to the executable",
	Long: `Download gemma-3-270m-it-Q8_0.gguf into the Model directory next to the
executable. Interrupted downloads resume where they stopped.

Set HF_TOKEN environment variable for gated models.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		force, _ := cmd.Flags().GetBool("force")

		dest, _ := cmd.Flags().GetString("output")
		if dest == "" {
			dir, err := config.LauncherDir(os.Executable)
			if err != nil {
				return err
			}
			dest = config.ModelPath(dir)
		}

		out := cmd.OutOrStdout()
		if _, err := os.Stat(dest); err == nil && !force {
			fmt.Fprintf(out, "Model already present at %s\n", dest)
			return nil
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(out, "Downloading to %s...\n", dest)
		show := func(downloaded, total int64) {
			if total > 0 {
				pct := float64(downloaded) / float64(total) * 100
				fmt.Fprintf(out, "\r  %.1f%% (%s / %s)", pct, humanize.IBytes(uint64(downloaded)), humanize.IBytes(uint64(total)))
			} else {
				fmt.Fprintf(out, "\r  %s downloaded", humanize.IBytes(uint64(downloaded)))
			}
		}
		// Progress fires per 32KiB chunk; redraw a few times a second.
		every := rate.Sometimes{Interval: 200 * time.Millisecond}
		var last, lastTotal int64
		err := models.Download(ctx, url, dest, func(downloaded, total int64) {
			last, lastTotal = downloaded, total
			every.Do(func() { show(downloaded, total) })
		})
		if err != nil {
			return err
		}
		show(last, lastTotal)

		fmt.Fprintf(out, "\n\nSaved to %s\n", dest)
		return nil
	},
}

func init() {
	pullCmd.Flags().String("url", models.DefaultURL, "GGUF download URL")
	pullCmd.Flags().StringP("output", "o", "", "destination path (default: Model/ next to the executable)")
	pullCmd.Flags().Bool("force", false, "download even if the model file exists")
	rootCmd.AddCommand(pullCmd)
}
