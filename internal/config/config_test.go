package config

import (
	"os"
	"path/filepath"
	"testing"
)

func intPtr(v int) *int           { return &v }
func boolPtr(v bool) *bool        { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestMergeProfiles_SelectionAndFallback(t *testing.T) {
	base := &ConfigProfile{
		Recording: RecordingProfile{
			Gain:    floatPtr(0.8),
			BitRate: intPtr(128),
			DeviceConstraints: ConstraintsProfile{
				EchoCancellation: boolPtr(false),
			},
		},
		Capture: CaptureProfile{
			Backend:    BackendPipeWire,
			SampleRate: 48000,
		},
	}
	profile := &ConfigProfile{
		Recording: RecordingProfile{
			BitRate:   intPtr(192),
			Streaming: boolPtr(true),
			DeviceConstraints: ConstraintsProfile{
				ChannelCount: intPtr(2),
			},
		},
		Capture: CaptureProfile{
			Source: "alsa_input.usb-Focusrite",
		},
	}

	result := mergeProfiles(base, profile)

	// Profile values win
	if result.Recording.BitRate != 192 {
		t.Errorf("Expected bit rate 192, got %d", result.Recording.BitRate)
	}
	if !result.Recording.Streaming {
		t.Error("Expected streaming from profile")
	}
	if result.Recording.DeviceConstraints.ChannelCount != 2 {
		t.Errorf("Expected channel count 2, got %d", result.Recording.DeviceConstraints.ChannelCount)
	}
	if result.Capture.Source != "alsa_input.usb-Focusrite" {
		t.Errorf("Expected profile source, got %s", result.Capture.Source)
	}

	// Missing values come from the default profile
	if result.Recording.Gain != 0.8 {
		t.Errorf("Expected inherited gain 0.8, got %.2f", result.Recording.Gain)
	}
	if result.Recording.DeviceConstraints.EchoCancellation {
		t.Error("Expected echo cancellation disabled by default profile")
	}
	if result.Capture.Backend != BackendPipeWire || result.Capture.SampleRate != 48000 {
		t.Errorf("Expected inherited capture settings, got %+v", result.Capture)
	}

	// Then built-in values
	if result.Recording.ChunkBufferSize != 50000 {
		t.Errorf("Expected built-in chunk size 50000, got %d", result.Recording.ChunkBufferSize)
	}
	if !result.Recording.DeviceConstraints.NoiseSuppression {
		t.Error("Expected built-in noise suppression enabled")
	}

	tests := []struct{ field, want string }{
		{"recording.bit_rate", profileSpecific},
		{"recording.gain", inherited},
		{"recording.chunk_buffer_size", builtIn},
		{"recording.device_constraints.channel_count", profileSpecific},
		{"recording.device_constraints.echo_cancellation", inherited},
		{"recording.device_constraints.noise_suppression", builtIn},
		{"capture.backend", inherited},
		{"capture.source", profileSpecific},
		{"capture.frames_per_buffer", builtIn},
	}
	for _, tt := range tests {
		if got := result.Inheritance[tt.field]; got != tt.want {
			t.Errorf("Inheritance[%s] = %q, want %q", tt.field, got, tt.want)
		}
	}
}

func TestMergeProfiles_ExplicitFalseOverridesDefault(t *testing.T) {
	base := &ConfigProfile{Recording: RecordingProfile{Streaming: boolPtr(true)}}
	profile := &ConfigProfile{Recording: RecordingProfile{Streaming: boolPtr(false)}}

	result := mergeProfiles(base, profile)
	if result.Recording.Streaming {
		t.Error("Expected explicit false in profile to win over default profile")
	}
	if result.Inheritance["recording.streaming"] != profileSpecific {
		t.Errorf("Expected profile-specific streaming, got %s", result.Inheritance["recording.streaming"])
	}
}

func TestMergeProfiles_EmptyProfile(t *testing.T) {
	result := mergeProfiles(nil, nil)
	want := Default()

	if result.Recording != want.Recording {
		t.Errorf("Expected built-in recording config, got %+v", result.Recording)
	}
	if result.Capture != want.Capture {
		t.Errorf("Expected built-in capture config, got %+v", result.Capture)
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/Audio/mp3rec", filepath.Join(home, "Audio/mp3rec")},
		{"/tmp/recordings", "/tmp/recordings"},
		{"relative/dir", "relative/dir"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := expandPath(tt.in); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadWithProfile_GlobalSections(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: studio
encoder:
  lame_path: /opt/lame/bin/lame
output:
  directory: /tmp/mp3rec-test
server:
  port: 9090
configs:
  default:
    recording:
      gain: 1.5
  studio:
    recording:
      bit_rate: 256
    capture:
      backend: portaudio
`)

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Profile != "studio" {
		t.Errorf("Expected active profile 'studio', got %s", cfg.Profile)
	}
	if cfg.Encoder.LamePath != "/opt/lame/bin/lame" {
		t.Errorf("Expected lame path from encoder section, got %s", cfg.Encoder.LamePath)
	}
	if cfg.Output.Directory != "/tmp/mp3rec-test" {
		t.Errorf("Expected output directory from output section, got %s", cfg.Output.Directory)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Recording.BitRate != 256 || cfg.Recording.Gain != 1.5 {
		t.Errorf("Expected bit rate 256 and inherited gain 1.5, got %+v", cfg.Recording)
	}
	if cfg.Capture.Backend != BackendPortAudio {
		t.Errorf("Expected portaudio backend, got %s", cfg.Capture.Backend)
	}
}

func TestLoadWithProfile_ProfileFlagOverridesActive(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: studio
configs:
  default:
    recording:
      bit_rate: 64
  studio:
    recording:
      bit_rate: 256
`)

	cfg, err := LoadWithProfile(configFile, "default")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Recording.BitRate != 64 {
		t.Errorf("Expected bit rate 64 from default profile, got %d", cfg.Recording.BitRate)
	}
	if cfg.Inheritance["recording.bit_rate"] != profileSpecific {
		t.Errorf("Default profile values are profile-specific, got %s", cfg.Inheritance["recording.bit_rate"])
	}

	if _, err := LoadWithProfile(configFile, "missing"); err == nil {
		t.Error("Expected error for unknown profile")
	}
}

func TestLoadWithProfile_NoFile(t *testing.T) {
	if _, err := LoadWithProfile("", ""); err == nil {
		t.Error("Expected error when no config file is given")
	}
	if _, err := LoadWithProfile(filepath.Join(t.TempDir(), "absent.yaml"), ""); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestUpdateActiveConfig(t *testing.T) {
	configFile := createTempConfig(t, `
active_config: default
configs:
  default:
    recording:
      bit_rate: 96
  podcast:
    recording:
      streaming: true
`)

	if err := UpdateActiveConfig(configFile, "podcast"); err != nil {
		t.Fatalf("Failed to update active config: %v", err)
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if cfg.Profile != "podcast" || !cfg.Recording.Streaming {
		t.Errorf("Expected podcast profile to be active, got %s", cfg.Profile)
	}

	if err := UpdateActiveConfig(configFile, "nope"); err == nil {
		t.Error("Expected error when activating unknown profile")
	}
}
