package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/audiolibrelab/mp3rec/internal/device"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture sources",
	Long: `List the input devices PortAudio reports and the output ports PipeWire reports.
Use a name from this list as capture.source in the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := device.ListSources(cmd.Context(), slog.Default())
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("No capture sources found")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Backend", "Source", "Channels", "Detail", "Default"})
		for _, s := range sources {
			channels := "-"
			if s.Channels > 0 {
				channels = fmt.Sprint(s.Channels)
			}
			def := ""
			if s.Default {
				def = "*"
			}
			t.AppendRow(table.Row{s.Backend, s.Name, channels, s.Detail, def})
		}
		t.Render()
		return nil
	},
}
