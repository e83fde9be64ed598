// Package config provides configuration management for heygemd using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	// Per-GPU service ports. Inference containers listen on consecutive
	// ports from the base, and each GPU has a dedicated TTS sidecar on the
	// matching TTS port (GPU N -> base+N and tts_base+N).
	defaultGPUCount        = 2
	defaultBackendHost     = "127.0.0.1"
	defaultInferenceBase   = 8390
	defaultTTSBase         = 18182
	defaultQueueCapacity   = 20
	defaultSamplerInterval = 30 * time.Second

	defaultSubmitTimeout    = 30 * time.Second
	defaultQueryTimeout     = 10 * time.Second
	defaultPollInterval     = 5 * time.Second
	defaultInferenceTimeout = 30 * time.Minute
	defaultChunkTimeout     = 10 * time.Minute
	defaultMaxQueryErrors   = 5
	defaultCircuitThreshold = 5
	defaultCircuitTimeout   = 30 * time.Second

	defaultTTSTimeout      = 20 * time.Minute
	defaultTTSMinAudio     = 10 * 1024 // below this the synthesis result is garbage
	defaultTTSIdleUnload   = 10 * time.Minute
	defaultReferenceLimit  = 15 * time.Second
	defaultAudioSampleRate = 44100

	defaultChunkCount         = 3
	defaultChunkReserveWindow = 2 * time.Minute
	defaultStabilizeInterval  = 2 * time.Second
	defaultStabilizeChecks    = 3
	defaultStabilizeMinSize   = 10 * 1024
	defaultOutputMinSize      = 100 * 1024
	defaultOutputGraceWindow  = 30 * time.Second

	defaultMaxUploadSize     = 500 * 1024 * 1024
	defaultTaskRetention     = 24 * time.Hour
	defaultTaskTableCapacity = 1000
	defaultStagingMaxAge     = 48 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	GPU         GPUConfig         `mapstructure:"gpu"`
	Backend     BackendConfig     `mapstructure:"backend"`
	TTS         TTSConfig         `mapstructure:"tts"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
// The database backs the avatar catalog; task state is in-memory.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration. All directories are
// resolved relative to BaseDir unless absolute.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	StagingDir string `mapstructure:"staging_dir"` // per-GPU gpu<N> subdirs, mounted into containers
	OutputDir  string `mapstructure:"output_dir"`  // finished videos, append-only
	TempDir    string `mapstructure:"temp_dir"`    // synthesis output, extracted audio, slices
	UploadDir  string `mapstructure:"upload_dir"`  // client-uploaded reference media
	VoiceDir   string `mapstructure:"voice_dir"`   // avatar reference audio store

	// ContainerDataDir is the path at which a backend container sees its
	// GPU's staging directory. All paths sent to a backend are expressed
	// under this root.
	ContainerDataDir string `mapstructure:"container_data_dir"`

	// MaxUploadSize is the maximum allowed size for uploaded media.
	// Supports human-readable values like "500MB" or raw byte counts.
	MaxUploadSize ByteSize `mapstructure:"max_upload_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// GPUConfig describes the GPU slots the scheduler manages.
//
// The common deployment is Count identical slots with consecutive ports;
// Slots overrides individual entries when a machine is wired differently.
type GPUConfig struct {
	Count           int           `mapstructure:"count"`
	Host            string        `mapstructure:"host"`
	InferenceBase   int           `mapstructure:"inference_base_port"`
	TTSBase         int           `mapstructure:"tts_base_port"`
	SamplerInterval time.Duration `mapstructure:"sampler_interval"` // nvidia-smi cadence; 0 disables
	Slots           []GPUSlot     `mapstructure:"slots"`
}

// GPUSlot describes one GPU slot when configured explicitly.
type GPUSlot struct {
	ID            int    `mapstructure:"id"`
	InferencePort int    `mapstructure:"inference_port"`
	TTSPort       int    `mapstructure:"tts_port"`
	StagingDir    string `mapstructure:"staging_dir"` // overrides <staging>/gpu<ID>
}

// EffectiveSlots returns the fully resolved slot list: explicit Slots when
// set, otherwise Count slots generated from the base ports.
func (g *GPUConfig) EffectiveSlots() []GPUSlot {
	if len(g.Slots) > 0 {
		slots := make([]GPUSlot, len(g.Slots))
		copy(slots, g.Slots)
		for i := range slots {
			if slots[i].InferencePort == 0 {
				slots[i].InferencePort = g.InferenceBase + slots[i].ID
			}
			if slots[i].TTSPort == 0 {
				slots[i].TTSPort = g.TTSBase + slots[i].ID
			}
		}
		return slots
	}

	slots := make([]GPUSlot, g.Count)
	for i := range slots {
		slots[i] = GPUSlot{
			ID:            i,
			InferencePort: g.InferenceBase + i,
			TTSPort:       g.TTSBase + i,
		}
	}
	return slots
}

// BackendConfig holds inference backend client configuration.
type BackendConfig struct {
	SubmitTimeout    time.Duration `mapstructure:"submit_timeout"`
	QueryTimeout     time.Duration `mapstructure:"query_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
	ChunkTimeout     time.Duration `mapstructure:"chunk_timeout"`
	MaxQueryErrors   int           `mapstructure:"max_query_errors"`

	CircuitThreshold int           `mapstructure:"circuit_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_timeout"`
}

// TTSConfig holds TTS client configuration.
type TTSConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"` // long-form synthesis is slow
	MinAudioSize  ByteSize      `mapstructure:"min_audio_size"`
	Format        string        `mapstructure:"format"`
	IdleUnload    time.Duration `mapstructure:"idle_unload"` // unload models after idle; 0 disables
	ReferenceText string        `mapstructure:"reference_text"`
}

// PipelineConfig holds task pipeline configuration.
type PipelineConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`

	// Defaults used when a request omits media.
	DefaultVideo          string `mapstructure:"default_video"`
	DefaultReferenceAudio string `mapstructure:"default_reference_audio"`

	// Reference audio extraction.
	ReferenceLimit  time.Duration `mapstructure:"reference_limit"` // seconds of audio taken from a supplied video
	AudioSampleRate int           `mapstructure:"audio_sample_rate"`

	// Chunked variant.
	ChunkCount         int           `mapstructure:"chunk_count"`
	ChunkReserveWindow time.Duration `mapstructure:"chunk_reserve_window"`

	// Output stabilization.
	StabilizeInterval time.Duration `mapstructure:"stabilize_interval"`
	StabilizeChecks   int           `mapstructure:"stabilize_checks"`
	StabilizeMinSize  ByteSize      `mapstructure:"stabilize_min_size"`
	OutputMinSize     ByteSize      `mapstructure:"output_min_size"`
	OutputGraceWindow time.Duration `mapstructure:"output_grace_window"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath      string   `mapstructure:"binary_path"`      // Path to ffmpeg binary (empty = auto-detect)
	ProbePath       string   `mapstructure:"probe_path"`       // Path to ffprobe binary (empty = auto-detect)
	HWAccelPriority []string `mapstructure:"hwaccel_priority"` // Priority order for encode acceleration
}

// MaintenanceConfig holds background maintenance configuration.
type MaintenanceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	SweepCron         string        `mapstructure:"sweep_cron"` // 6-field cron expression
	TaskRetention     time.Duration `mapstructure:"task_retention"`
	TaskTableCapacity int           `mapstructure:"task_table_capacity"`
	StagingMaxAge     time.Duration `mapstructure:"staging_max_age"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with HEYGEMD_ and use underscores for
// nesting. Example: HEYGEMD_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/heygemd")
		v.AddConfigPath("$HOME/.heygemd")
	}

	// Environment variable settings
	v.SetEnvPrefix("HEYGEMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "heygemd.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.staging_dir", "staging")
	v.SetDefault("storage.output_dir", "outputs")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.voice_dir", "voices")
	v.SetDefault("storage.container_data_dir", "/code/data")
	v.SetDefault("storage.max_upload_size", defaultMaxUploadSize)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// GPU defaults
	v.SetDefault("gpu.count", defaultGPUCount)
	v.SetDefault("gpu.host", defaultBackendHost)
	v.SetDefault("gpu.inference_base_port", defaultInferenceBase)
	v.SetDefault("gpu.tts_base_port", defaultTTSBase)
	v.SetDefault("gpu.sampler_interval", defaultSamplerInterval)

	// Backend defaults
	v.SetDefault("backend.submit_timeout", defaultSubmitTimeout)
	v.SetDefault("backend.query_timeout", defaultQueryTimeout)
	v.SetDefault("backend.poll_interval", defaultPollInterval)
	v.SetDefault("backend.inference_timeout", defaultInferenceTimeout)
	v.SetDefault("backend.chunk_timeout", defaultChunkTimeout)
	v.SetDefault("backend.max_query_errors", defaultMaxQueryErrors)
	v.SetDefault("backend.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("backend.circuit_timeout", defaultCircuitTimeout)

	// TTS defaults
	v.SetDefault("tts.timeout", defaultTTSTimeout)
	v.SetDefault("tts.min_audio_size", defaultTTSMinAudio)
	v.SetDefault("tts.format", "wav")
	v.SetDefault("tts.idle_unload", defaultTTSIdleUnload)
	v.SetDefault("tts.reference_text", "")

	// Pipeline defaults
	v.SetDefault("pipeline.queue_capacity", defaultQueueCapacity)
	v.SetDefault("pipeline.default_video", "")
	v.SetDefault("pipeline.default_reference_audio", "")
	v.SetDefault("pipeline.reference_limit", defaultReferenceLimit)
	v.SetDefault("pipeline.audio_sample_rate", defaultAudioSampleRate)
	v.SetDefault("pipeline.chunk_count", defaultChunkCount)
	v.SetDefault("pipeline.chunk_reserve_window", defaultChunkReserveWindow)
	v.SetDefault("pipeline.stabilize_interval", defaultStabilizeInterval)
	v.SetDefault("pipeline.stabilize_checks", defaultStabilizeChecks)
	v.SetDefault("pipeline.stabilize_min_size", defaultStabilizeMinSize)
	v.SetDefault("pipeline.output_min_size", defaultOutputMinSize)
	v.SetDefault("pipeline.output_grace_window", defaultOutputGraceWindow)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.hwaccel_priority", []string{"cuda"})

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.sweep_cron", "0 */10 * * * *") // every 10 minutes (6-field cron)
	v.SetDefault("maintenance.task_retention", defaultTaskRetention)
	v.SetDefault("maintenance.task_table_capacity", defaultTaskTableCapacity)
	v.SetDefault("maintenance.staging_max_age", defaultStagingMaxAge)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Server validation
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	// Database validation
	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	// Storage validation
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if !strings.HasPrefix(c.Storage.ContainerDataDir, "/") {
		return fmt.Errorf("storage.container_data_dir must be an absolute path")
	}

	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	// GPU validation
	if len(c.GPU.Slots) == 0 && c.GPU.Count < 1 {
		return fmt.Errorf("gpu.count must be at least 1 when gpu.slots is empty")
	}
	seen := make(map[int]bool)
	for _, slot := range c.GPU.EffectiveSlots() {
		if slot.ID < 0 {
			return fmt.Errorf("gpu slot ids must be non-negative")
		}
		if seen[slot.ID] {
			return fmt.Errorf("duplicate gpu slot id %d", slot.ID)
		}
		seen[slot.ID] = true
	}

	// Backend validation
	if c.Backend.MaxQueryErrors < 1 {
		return fmt.Errorf("backend.max_query_errors must be at least 1")
	}
	if c.Backend.PollInterval <= 0 {
		return fmt.Errorf("backend.poll_interval must be positive")
	}

	// Pipeline validation
	if c.Pipeline.QueueCapacity < 1 {
		return fmt.Errorf("pipeline.queue_capacity must be at least 1")
	}
	if c.Pipeline.ChunkCount < 2 {
		return fmt.Errorf("pipeline.chunk_count must be at least 2")
	}
	if c.Pipeline.StabilizeChecks < 1 {
		return fmt.Errorf("pipeline.stabilize_checks must be at least 1")
	}
	if c.Pipeline.OutputMinSize < c.Pipeline.StabilizeMinSize {
		return fmt.Errorf("pipeline.output_min_size must not be below pipeline.stabilize_min_size")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StagingPath returns the full path to the staging root. Per-GPU directories
// live directly below it.
func (c *StorageConfig) StagingPath() string {
	return c.resolve(c.StagingDir)
}

// OutputPath returns the full path to the finished-video directory.
func (c *StorageConfig) OutputPath() string {
	return c.resolve(c.OutputDir)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return c.resolve(c.TempDir)
}

// UploadPath returns the full path to the upload directory.
func (c *StorageConfig) UploadPath() string {
	return c.resolve(c.UploadDir)
}

// VoicePath returns the full path to the avatar voice store.
func (c *StorageConfig) VoicePath() string {
	return c.resolve(c.VoiceDir)
}

func (c *StorageConfig) resolve(dir string) string {
	if strings.HasPrefix(dir, "/") {
		return dir
	}
	return fmt.Sprintf("%s/%s", c.BaseDir, dir)
}
