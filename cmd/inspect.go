package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/mp3rec/internal/inspect"
	"github.com/audiolibrelab/mp3rec/internal/output"
	"github.com/audiolibrelab/mp3rec/internal/service"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [take-name|file.mp3]",
	Short: "Decode a take and show its sample rate and duration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveTakePath(args[0])
		if err != nil {
			return err
		}

		info, err := inspect.InspectFile(path)
		if err != nil {
			return fmt.Errorf("inspect %s: %w", path, err)
		}
		printTakeInfo(service.NewTakeInfo(path, info))
		return nil
	},
}

// resolveTakePath accepts either a path to an existing .mp3 file or a take
// name inside the output directory.
func resolveTakePath(arg string) (string, error) {
	if strings.HasSuffix(strings.ToLower(arg), output.Extension) {
		if _, err := os.Stat(arg); err == nil {
			return arg, nil
		}
	}
	return output.Path(cfg.Output.Directory, arg)
}

func printTakeInfo(info *service.TakeInfo) {
	fmt.Printf("file:        %s\n", info.File)
	fmt.Printf("sample_rate: %d Hz\n", info.SampleRate)
	fmt.Printf("duration:    %s\n", info.Duration)
	fmt.Printf("size:        %s\n", info.SizeHuman)
}
