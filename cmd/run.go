package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/mp3rec/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run [take-name]",
	Short: "Execute pipeline steps on a take",
	Long: `Execute the specified pipeline steps on a take. Use -p to specify which steps to run,
for example 'rip' records, inspects and plays back the take.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		takeName := args[0]

		if pipeline == "" {
			return fmt.Errorf("no pipeline specified, use -p flag (e.g., -p rip)")
		}

		svc := service.New(cfg, slog.Default())
		defer svc.Close()

		return runSteps(svc, takeName, []rune(strings.ToLower(pipeline)))
	},
}
