package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/mp3rec/internal/play"
)

var playCmd = &cobra.Command{
	Use:   "play [take-name]",
	Short: "Play a recorded take",
	Long: `Play <take-name>.mp3 from the output directory with the first available
player (mpv, ffplay, mpg123 or vlc).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		takeName := args[0]

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		fmt.Printf("Playing take: %s\n", takeName)
		if err := play.New(cfg.Output.Directory, slog.Default()).Play(ctx, takeName); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
