package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/mp3rec/internal/service"
)

const stopTimeout = 30 * time.Second

var recordCmd = &cobra.Command{
	Use:   "record [take-name]",
	Short: "Record a take",
	Long: `Record the configured input device to <take-name>.mp3 in the output directory.
Press Ctrl+C to stop, or use --duration to stop automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		takeName := args[0]
		paused, _ := cmd.Flags().GetBool("paused")
		duration, _ := cmd.Flags().GetDuration("duration")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc := service.New(cfg, slog.Default())
		defer svc.Close()

		if err := recordTake(ctx, svc, takeName, recordOptions{paused: paused, duration: duration}); err != nil {
			return err
		}

		// Execute pipeline if specified
		return executePipeline(svc, takeName, 'r')
	},
}

type recordOptions struct {
	paused   bool
	duration time.Duration
	// waitForEnter stops on Enter instead of on ctx only.
	waitForEnter bool
}

// recordTake runs one take until ctx is done, the duration elapsed or
// Enter was pressed, then writes it.
func recordTake(ctx context.Context, svc service.Service, takeName string, opts recordOptions) error {
	slog.Info("Starting take", "take", takeName, "profile", cfg.Profile)
	if err := svc.Start(ctx, takeName, opts.paused); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}

	if opts.paused {
		fmt.Println("Take is paused - press Enter to start recording...")
		if !waitForLine(ctx) {
			return stopTake(svc)
		}
		if err := svc.Resume(); err != nil {
			return err
		}
	}

	var timeout <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		timeout = timer.C
	}
	var enter <-chan struct{}
	if opts.waitForEnter {
		enter = lineChan()
		fmt.Println("Recording - press Enter to stop...")
	} else {
		fmt.Println("Recording - press Ctrl+C to stop...")
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	showProgress := isTerminal(os.Stdout)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-timeout:
			slog.Debug("Duration reached", "duration", opts.duration)
			break loop
		case <-enter:
			break loop
		case <-ticker.C:
			st := svc.Status()
			if st.LastError != "" {
				fmt.Println()
				return fmt.Errorf("recording failed: %s", st.LastError)
			}
			if showProgress {
				fmt.Printf("\r%s  %s  backlog %d   ", st.State, st.Elapsed, st.Backlog)
			}
		}
	}
	if showProgress {
		fmt.Println()
	}

	return stopTake(svc)
}

func stopTake(svc service.Service) error {
	slog.Info("Stopping recording...")
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	take, err := svc.Stop(ctx)
	if err != nil {
		return fmt.Errorf("failed to stop recording: %w", err)
	}
	if take == nil {
		fmt.Println("Nothing was recorded")
		return nil
	}
	fmt.Printf("Saved %s (%s, %.1fs)\n", take.File, take.SizeHuman, take.ElapsedSeconds)
	return nil
}

// waitForLine blocks for one line on stdin. It returns false if ctx ended first.
func waitForLine(ctx context.Context) bool {
	select {
	case <-lineChan():
		return true
	case <-ctx.Done():
		return false
	}
}

func lineChan() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		bufio.NewScanner(os.Stdin).Scan()
		close(ch)
	}()
	return ch
}

func init() {
	recordCmd.Flags().Bool("paused", false, "open the device and wait for Enter before recording")
	recordCmd.Flags().Duration("duration", 0, "stop automatically after this long (e.g. 90s, 5m)")
}
