package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/mp3rec/internal/device"
	"github.com/audiolibrelab/mp3rec/internal/output"
)

var infoCmd = &cobra.Command{
	Use:   "info [take-name]",
	Short: "Show resolved configuration and file paths for a take",
	Long: `Display the resolved configuration with inheritance indicators and the output path
for the given take name. Shows which values come from the selected profile, which are
inherited from the default profile and which are built in.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := output.Path(cfg.Output.Directory, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("=== FILE PATHS ===\n")
		fmt.Printf("config: %s\n", cfgFile)
		fmt.Printf("output: %s\n", path)
		fmt.Printf("clean_name: %s\n", output.CleanFileName(args[0]))

		fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", cfg.Profile)
		fmt.Printf("\n[Encoder]\n")
		fmt.Printf("lame_path: %s\n", valueOr(cfg.Encoder.LamePath, "(search PATH)"))
		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s\n", cfg.Output.Directory)

		fmt.Printf("\n[Recording]\n")
		r := cfg.Recording
		printField("gain", r.Gain, "recording.gain")
		printField("bit_rate", r.BitRate, "recording.bit_rate")
		printField("streaming", r.Streaming, "recording.streaming")
		printField("chunk_buffer_size", r.ChunkBufferSize, "recording.chunk_buffer_size")
		printField("force_fallback_transport", r.ForceFallbackTransport, "recording.force_fallback_transport")
		dc := r.DeviceConstraints
		printField("channel_count", dc.ChannelCount, "recording.device_constraints.channel_count")
		printField("auto_gain_control", dc.AutoGainControl, "recording.device_constraints.auto_gain_control")
		printField("echo_cancellation", dc.EchoCancellation, "recording.device_constraints.echo_cancellation")
		printField("noise_suppression", dc.NoiseSuppression, "recording.device_constraints.noise_suppression")

		fmt.Printf("\n[Capture]\n")
		c := cfg.Capture
		printField("backend", c.Backend, "capture.backend")
		printField("source", valueOr(c.Source, "(default)"), "capture.source")
		printField("sample_rate", c.SampleRate, "capture.sample_rate")
		printField("frames_per_buffer", c.FramesPerBuffer, "capture.frames_per_buffer")

		_, backend := device.New(cfg.Capture, slog.Default())
		fmt.Printf("resolved_backend: %s\n", backend)

		return nil
	},
}

func printField(name string, value any, field string) {
	fmt.Printf("%s: %v %s\n", name, value, getInheritanceIndicator(cfg.Inheritance[field]))
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "built-in":
		return "[built-in]"
	default:
		return "[unknown]"
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
