package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Twilio TwilioConfig `yaml:"twilio"`
	AWS    AWSConfig    `yaml:"aws"`
	State  StateConfig  `yaml:"state"`
	Worker WorkerConfig `yaml:"worker"`
	Media  MediaConfig  `yaml:"media"`
	Bitly  BitlyConfig  `yaml:"bitly"`
	Lambda LambdaConfig `yaml:"lambda"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// TwilioConfig holds messaging provider settings.
type TwilioConfig struct {
	AccountSID     string `yaml:"account_sid" envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken      string `yaml:"auth_token" envconfig:"TWILIO_AUTH_TOKEN"`
	WhatsAppNumber string `yaml:"whatsapp_number" envconfig:"WHATSAPP_NUMBER"`
	BaseURL        string `yaml:"base_url" envconfig:"TWILIO_BASE_URL"`
}

// AWSConfig holds storage, credential broker and secret settings.
type AWSConfig struct {
	Region              string        `yaml:"region" envconfig:"AWS_REGION"`
	BucketName          string        `yaml:"bucket_name" envconfig:"BUCKET_NAME"`
	RoleARN             string        `yaml:"role_arn" envconfig:"ROLE_ARN"`
	RoleSessionName     string        `yaml:"role_session_name" envconfig:"ROLE_SESSION_NAME"`
	RoleSessionDuration time.Duration `yaml:"role_session_duration" envconfig:"ROLE_SESSION_DURATION"`
	LinkExpiry          time.Duration `yaml:"link_expiry" envconfig:"LINK_EXPIRY"`
	ParamPrefix         string        `yaml:"param_prefix" envconfig:"PARAM_PREFIX"`
}

// StateConfig selects the conversation store. An empty table keeps state in memory.
type StateConfig struct {
	Table string        `yaml:"table" envconfig:"STATE_TABLE"`
	TTL   time.Duration `yaml:"ttl" envconfig:"STATE_TTL"`
}

// WorkerConfig holds worker pool configuration.
type WorkerConfig struct {
	Count      int           `yaml:"count" envconfig:"WORKER_COUNT"`
	QueueSize  int           `yaml:"queue_size" envconfig:"WORKER_QUEUE_SIZE"`
	JobTimeout time.Duration `yaml:"job_timeout" envconfig:"WORKER_JOB_TIMEOUT"`
}

// MediaConfig holds external tool paths and per-stage timeouts.
type MediaConfig struct {
	WorkDir          string        `yaml:"work_dir" envconfig:"WORK_DIR"`
	YtDlpPath        string        `yaml:"ytdlp_path" envconfig:"YTDLP_PATH"`
	FFmpegPath       string        `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH"`
	AudioBitrate     string        `yaml:"audio_bitrate" envconfig:"AUDIO_BITRATE"`
	MetadataTimeout  time.Duration `yaml:"metadata_timeout" envconfig:"METADATA_TIMEOUT"`
	DownloadTimeout  time.Duration `yaml:"download_timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	TranscodeTimeout time.Duration `yaml:"transcode_timeout" envconfig:"TRANSCODE_TIMEOUT"`
	UploadTimeout    time.Duration `yaml:"upload_timeout" envconfig:"UPLOAD_TIMEOUT"`
	NotifyTimeout    time.Duration `yaml:"notify_timeout" envconfig:"NOTIFY_TIMEOUT"`
}

// BitlyConfig holds the optional link shortener settings.
type BitlyConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"BITLY_ENABLED"`
	APIKey  string `yaml:"api_key" envconfig:"BITLY_API_KEY"`
	BaseURL string `yaml:"base_url" envconfig:"BITLY_BASE_URL"`
}

// LambdaConfig holds settings used only when running inside AWS Lambda.
type LambdaConfig struct {
	// JobFunction receives the asynchronous pipeline invocations. Defaults to
	// the running function.
	JobFunction string `yaml:"job_function" envconfig:"JOB_FUNCTION_NAME"`
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from file and environment variables.
// Environment variables override file values; unset values get defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	setString(&c.Server.Host, "0.0.0.0")
	setInt(&c.Server.Port, 3000)
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 15*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 30*time.Second)

	setString(&c.AWS.Region, "us-east-1")
	setString(&c.AWS.RoleSessionName, "YoutubeDownload")
	setDuration(&c.AWS.RoleSessionDuration, time.Hour)
	setDuration(&c.AWS.LinkExpiry, 30*time.Minute)

	setDuration(&c.State.TTL, 24*time.Hour)

	setInt(&c.Worker.Count, 2)
	setInt(&c.Worker.QueueSize, 32)
	setDuration(&c.Worker.JobTimeout, 30*time.Minute)

	setString(&c.Media.WorkDir, filepath.Join(os.TempDir(), "media-relay"))
	setString(&c.Media.YtDlpPath, "yt-dlp")
	setString(&c.Media.FFmpegPath, "ffmpeg")
	setString(&c.Media.AudioBitrate, "192k")
	setDuration(&c.Media.MetadataTimeout, time.Minute)
	setDuration(&c.Media.DownloadTimeout, 15*time.Minute)
	setDuration(&c.Media.TranscodeTimeout, 10*time.Minute)
	setDuration(&c.Media.UploadTimeout, 5*time.Minute)
	setDuration(&c.Media.NotifyTimeout, 30*time.Second)

	setString(&c.Lambda.JobFunction, os.Getenv("AWS_LAMBDA_FUNCTION_NAME"))
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT %d is out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Twilio.AccountSID) == "" {
		return errors.New("TWILIO_ACCOUNT_SID is required")
	}
	if strings.TrimSpace(c.Twilio.WhatsAppNumber) == "" {
		return errors.New("WHATSAPP_NUMBER is required")
	}
	if c.Twilio.AuthToken == "" && c.AWS.ParamPrefix == "" {
		return errors.New("TWILIO_AUTH_TOKEN or PARAM_PREFIX is required")
	}
	if strings.TrimSpace(c.AWS.BucketName) == "" {
		return errors.New("BUCKET_NAME is required")
	}
	if !strings.HasPrefix(c.AWS.RoleARN, "arn:") {
		return errors.New("ROLE_ARN is required and must be an ARN")
	}
	if c.AWS.LinkExpiry <= 0 || c.AWS.LinkExpiry > 7*24*time.Hour {
		return fmt.Errorf("LINK_EXPIRY %s must be between 1s and 168h", c.AWS.LinkExpiry)
	}
	if c.AWS.RoleSessionDuration < c.AWS.LinkExpiry {
		return fmt.Errorf("ROLE_SESSION_DURATION %s must not be shorter than LINK_EXPIRY %s", c.AWS.RoleSessionDuration, c.AWS.LinkExpiry)
	}
	if c.Worker.Count <= 0 {
		return errors.New("WORKER_COUNT must be positive")
	}
	if c.Worker.QueueSize <= 0 {
		return errors.New("WORKER_QUEUE_SIZE must be positive")
	}
	if c.Bitly.Enabled && c.Bitly.APIKey == "" && c.AWS.ParamPrefix == "" {
		return errors.New("BITLY_API_KEY or PARAM_PREFIX is required when BITLY_ENABLED is set")
	}
	return nil
}

// ValidateForLambda checks settings that only matter when each request may
// land on a fresh process.
func (c *Config) ValidateForLambda() error {
	if strings.TrimSpace(c.State.Table) == "" {
		return errors.New("STATE_TABLE is required in Lambda mode")
	}
	if strings.TrimSpace(c.Lambda.JobFunction) == "" {
		return errors.New("JOB_FUNCTION_NAME is required in Lambda mode")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setString(v *string, def string) {
	if strings.TrimSpace(*v) == "" {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}
