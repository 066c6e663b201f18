package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const (
	DefaultProfile = "default"

	inherited       = "inherited"
	profileSpecific = "profile-specific"
	builtIn         = "built-in"
)

// Capture backends.
const (
	BackendAuto      = "auto"
	BackendPortAudio = "portaudio"
	BackendPipeWire  = "pipewire"
)

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Encoder      *EncoderConfig            `mapstructure:"encoder,omitempty" yaml:"encoder,omitempty"`
	Output       *OutputConfig             `mapstructure:"output,omitempty" yaml:"output,omitempty"`
	Server       *ServerConfig             `mapstructure:"server,omitempty" yaml:"server,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type EncoderConfig struct {
	LamePath string `mapstructure:"lame_path" yaml:"lame_path"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// ConfigProfile is one entry of the configs map. Unset fields fall back to
// the default profile, then to built-in values.
type ConfigProfile struct {
	Recording RecordingProfile `mapstructure:"recording" yaml:"recording"`
	Capture   CaptureProfile   `mapstructure:"capture" yaml:"capture"`
}

type RecordingProfile struct {
	Gain                   *float64           `mapstructure:"gain,omitempty" yaml:"gain,omitempty"`
	BitRate                *int               `mapstructure:"bit_rate,omitempty" yaml:"bit_rate,omitempty"`
	Streaming              *bool              `mapstructure:"streaming,omitempty" yaml:"streaming,omitempty"`
	ChunkBufferSize        *int               `mapstructure:"chunk_buffer_size,omitempty" yaml:"chunk_buffer_size,omitempty"`
	ForceFallbackTransport *bool              `mapstructure:"force_fallback_transport,omitempty" yaml:"force_fallback_transport,omitempty"`
	DeviceConstraints      ConstraintsProfile `mapstructure:"device_constraints" yaml:"device_constraints"`
}

type ConstraintsProfile struct {
	ChannelCount     *int  `mapstructure:"channel_count,omitempty" yaml:"channel_count,omitempty"`
	AutoGainControl  *bool `mapstructure:"auto_gain_control,omitempty" yaml:"auto_gain_control,omitempty"`
	EchoCancellation *bool `mapstructure:"echo_cancellation,omitempty" yaml:"echo_cancellation,omitempty"`
	NoiseSuppression *bool `mapstructure:"noise_suppression,omitempty" yaml:"noise_suppression,omitempty"`
}

type CaptureProfile struct {
	Backend         string `mapstructure:"backend" yaml:"backend,omitempty"`
	Source          string `mapstructure:"source" yaml:"source,omitempty"`
	SampleRate      int    `mapstructure:"sample_rate" yaml:"sample_rate,omitempty"`
	FramesPerBuffer int    `mapstructure:"frames_per_buffer" yaml:"frames_per_buffer,omitempty"`
}

// Config is a fully resolved profile.
type Config struct {
	Profile   string          `yaml:"profile"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Output    OutputConfig    `yaml:"output"`
	Server    ServerConfig    `yaml:"server"`
	Recording RecordingConfig `yaml:"recording"`
	Capture   CaptureConfig   `yaml:"capture"`

	// Internal field to track inheritance information for info command
	Inheritance InheritanceInfo `yaml:"-"`
}

type RecordingConfig struct {
	Gain                   float64           `yaml:"gain"`
	BitRate                int               `yaml:"bit_rate"`
	Streaming              bool              `yaml:"streaming"`
	ChunkBufferSize        int               `yaml:"chunk_buffer_size"`
	ForceFallbackTransport bool              `yaml:"force_fallback_transport"`
	DeviceConstraints      DeviceConstraints `yaml:"device_constraints"`
}

type DeviceConstraints struct {
	ChannelCount     int  `yaml:"channel_count"`
	AutoGainControl  bool `yaml:"auto_gain_control"`
	EchoCancellation bool `yaml:"echo_cancellation"`
	NoiseSuppression bool `yaml:"noise_suppression"`
}

type CaptureConfig struct {
	Backend         string `yaml:"backend"`
	Source          string `yaml:"source,omitempty"`
	SampleRate      int    `yaml:"sample_rate"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

// InheritanceInfo maps a dotted field name to where its value came from:
// "profile-specific", "inherited" (from the default profile) or "built-in".
type InheritanceInfo map[string]string

// Fields returns the tracked field names in order.
func (i InheritanceInfo) Fields() []string {
	fields := make([]string, 0, len(i))
	for f := range i {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{
		Profile: DefaultProfile,
		Encoder: EncoderConfig{LamePath: "lame"},
		Output:  OutputConfig{Directory: filepath.Join(os.Getenv("HOME"), "Audio", "mp3rec")},
		Server:  ServerConfig{Port: 8080},
		Recording: RecordingConfig{
			Gain:            1,
			BitRate:         96,
			ChunkBufferSize: 50000,
			DeviceConstraints: DeviceConstraints{
				ChannelCount:     1,
				AutoGainControl:  true,
				EchoCancellation: true,
				NoiseSuppression: true,
			},
		},
		Capture: CaptureConfig{
			Backend:         BackendAuto,
			SampleRate:      44100,
			FramesPerBuffer: 1024,
		},
		Inheritance: InheritanceInfo{},
	}
	return cfg
}

// DefaultPath returns the config file used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/mp3rec.yaml")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = DefaultProfile
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	var base *ConfigProfile
	if configName != DefaultProfile {
		base = rootConfig.Configs[DefaultProfile]
	}
	cfg := mergeProfiles(base, selectedProfile)
	cfg.Profile = configName

	if rootConfig.Encoder != nil && rootConfig.Encoder.LamePath != "" {
		cfg.Encoder.LamePath = rootConfig.Encoder.LamePath
	}
	if rootConfig.Output != nil && rootConfig.Output.Directory != "" {
		cfg.Output.Directory = rootConfig.Output.Directory
	}
	if rootConfig.Server != nil && rootConfig.Server.Port != 0 {
		cfg.Server.Port = rootConfig.Server.Port
	}
	cfg.Output.Directory = expandPath(cfg.Output.Directory)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("MP3REC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required")
	}
	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' is not defined in configs", rootConfig.ActiveConfig)
		}
	}

	for _, name := range ProfileNames(&rootConfig) {
		if err := validateProfile(rootConfig.Configs[name]); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	return &rootConfig, nil
}

// ProfileNames returns the defined profile names in order.
func ProfileNames(root *RootConfig) []string {
	names := make([]string, 0, len(root.Configs))
	for name := range root.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	root, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return err
	}
	if _, ok := root.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	// Create a new viper instance to avoid interfering with the global one
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// mergeProfiles resolves profile field by field: a value set in profile wins,
// then a value set in base (the default profile), then the built-in default.
func mergeProfiles(base, profile *ConfigProfile) *Config {
	cfg := Default()
	if base == nil {
		base = &ConfigProfile{}
	}
	if profile == nil {
		profile = &ConfigProfile{}
	}
	inh := cfg.Inheritance

	rec, baseRec := profile.Recording, base.Recording
	cfg.Recording.Gain = pick(inh, "recording.gain", rec.Gain, baseRec.Gain, cfg.Recording.Gain)
	cfg.Recording.BitRate = pick(inh, "recording.bit_rate", rec.BitRate, baseRec.BitRate, cfg.Recording.BitRate)
	cfg.Recording.Streaming = pick(inh, "recording.streaming", rec.Streaming, baseRec.Streaming, cfg.Recording.Streaming)
	cfg.Recording.ChunkBufferSize = pick(inh, "recording.chunk_buffer_size", rec.ChunkBufferSize, baseRec.ChunkBufferSize, cfg.Recording.ChunkBufferSize)
	cfg.Recording.ForceFallbackTransport = pick(inh, "recording.force_fallback_transport",
		rec.ForceFallbackTransport, baseRec.ForceFallbackTransport, cfg.Recording.ForceFallbackTransport)

	dc, baseDC := rec.DeviceConstraints, baseRec.DeviceConstraints
	cons := &cfg.Recording.DeviceConstraints
	cons.ChannelCount = pick(inh, "recording.device_constraints.channel_count", dc.ChannelCount, baseDC.ChannelCount, cons.ChannelCount)
	cons.AutoGainControl = pick(inh, "recording.device_constraints.auto_gain_control", dc.AutoGainControl, baseDC.AutoGainControl, cons.AutoGainControl)
	cons.EchoCancellation = pick(inh, "recording.device_constraints.echo_cancellation", dc.EchoCancellation, baseDC.EchoCancellation, cons.EchoCancellation)
	cons.NoiseSuppression = pick(inh, "recording.device_constraints.noise_suppression", dc.NoiseSuppression, baseDC.NoiseSuppression, cons.NoiseSuppression)

	capt, baseCapt := profile.Capture, base.Capture
	cfg.Capture.Backend = pickString(inh, "capture.backend", capt.Backend, baseCapt.Backend, cfg.Capture.Backend)
	cfg.Capture.Source = pickString(inh, "capture.source", capt.Source, baseCapt.Source, cfg.Capture.Source)
	cfg.Capture.SampleRate = pickInt(inh, "capture.sample_rate", capt.SampleRate, baseCapt.SampleRate, cfg.Capture.SampleRate)
	cfg.Capture.FramesPerBuffer = pickInt(inh, "capture.frames_per_buffer", capt.FramesPerBuffer, baseCapt.FramesPerBuffer, cfg.Capture.FramesPerBuffer)

	return cfg
}

func pick[T any](inh InheritanceInfo, field string, profile, base *T, def T) T {
	switch {
	case profile != nil:
		inh[field] = profileSpecific
		return *profile
	case base != nil:
		inh[field] = inherited
		return *base
	default:
		inh[field] = builtIn
		return def
	}
}

func pickString(inh InheritanceInfo, field, profile, base, def string) string {
	var p, b *string
	if profile != "" {
		p = &profile
	}
	if base != "" {
		b = &base
	}
	return pick(inh, field, p, b, def)
}

func pickInt(inh InheritanceInfo, field string, profile, base, def int) int {
	var p, b *int
	if profile != 0 {
		p = &profile
	}
	if base != 0 {
		b = &base
	}
	return pick(inh, field, p, b, def)
}

// Validate checks the resolved values.
func (c *Config) Validate() error {
	r := c.Recording
	if r.Gain < 0 {
		return fmt.Errorf("recording.gain must be >= 0, got: %.2f", r.Gain)
	}
	if r.BitRate <= 0 {
		return fmt.Errorf("recording.bit_rate must be > 0, got: %d", r.BitRate)
	}
	if r.ChunkBufferSize <= 0 {
		return fmt.Errorf("recording.chunk_buffer_size must be > 0, got: %d", r.ChunkBufferSize)
	}
	if n := r.DeviceConstraints.ChannelCount; n < 1 || n > 2 {
		return fmt.Errorf("recording.device_constraints.channel_count must be 1 or 2, got: %d", n)
	}
	switch c.Capture.Backend {
	case BackendAuto, BackendPortAudio, BackendPipeWire:
	default:
		return fmt.Errorf("capture.backend must be 'auto', 'portaudio' or 'pipewire', got: %s", c.Capture.Backend)
	}
	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be > 0, got: %d", c.Capture.SampleRate)
	}
	if c.Capture.FramesPerBuffer <= 0 {
		return fmt.Errorf("capture.frames_per_buffer must be > 0, got: %d", c.Capture.FramesPerBuffer)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// validateProfile rejects values that are wrong regardless of inheritance.
func validateProfile(p *ConfigProfile) error {
	if p == nil {
		return nil
	}
	r := p.Recording
	if r.Gain != nil && *r.Gain < 0 {
		return fmt.Errorf("recording.gain must be >= 0, got: %.2f", *r.Gain)
	}
	if r.BitRate != nil && *r.BitRate <= 0 {
		return fmt.Errorf("recording.bit_rate must be > 0, got: %d", *r.BitRate)
	}
	if r.ChunkBufferSize != nil && *r.ChunkBufferSize <= 0 {
		return fmt.Errorf("recording.chunk_buffer_size must be > 0, got: %d", *r.ChunkBufferSize)
	}
	if n := r.DeviceConstraints.ChannelCount; n != nil && (*n < 1 || *n > 2) {
		return fmt.Errorf("recording.device_constraints.channel_count must be 1 or 2, got: %d", *n)
	}
	if b := p.Capture.Backend; b != "" && b != BackendAuto && b != BackendPortAudio && b != BackendPipeWire {
		return fmt.Errorf("capture.backend must be 'auto', 'portaudio' or 'pipewire', got: %s", b)
	}
	if p.Capture.SampleRate < 0 {
		return fmt.Errorf("capture.sample_rate must be > 0, got: %d", p.Capture.SampleRate)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
