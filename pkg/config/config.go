// Package config loads the settings of every binary in the repository from defaults,
// an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log      Log      `mapstructure:"log"`
	Server   Server   `mapstructure:"server"`
	Provider Provider `mapstructure:"provider"`
	Store    Store    `mapstructure:"store"`
	Redis    Redis    `mapstructure:"redis"`
	Archive  Archive  `mapstructure:"archive"`
	Minio    Minio    `mapstructure:"minio"`
	Worker   Worker   `mapstructure:"worker"`
	Client   Client   `mapstructure:"client"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Server struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	StaticDir         string        `mapstructure:"static_dir"`
	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address for the gateway.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type Provider struct {
	Name         string        `mapstructure:"name"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CloudConvert Endpoint      `mapstructure:"cloudconvert"`
	Convertio    Endpoint      `mapstructure:"convertio"`
}

type Endpoint struct {
	Key     string `mapstructure:"key"`
	BaseURL string `mapstructure:"base_url"`
}

// Active returns the endpoint settings of the selected provider.
func (p Provider) Active() Endpoint {
	if strings.EqualFold(p.Name, "convertio") {
		return p.Convertio
	}
	return p.CloudConvert
}

type Store struct {
	Driver string `mapstructure:"driver"`
}

type Redis struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	KeyPrefix    string `mapstructure:"key_prefix"`
	ArchiveQueue string `mapstructure:"archive_queue"`
}

type Archive struct {
	Enabled bool `mapstructure:"enabled"`
}

type Minio struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

type Worker struct {
	TempDir         string        `mapstructure:"temp_dir"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

type Client struct {
	Server          string        `mapstructure:"server"`
	Format          string        `mapstructure:"format"`
	Output          string        `mapstructure:"output"`
	Attempts        int           `mapstructure:"attempts"`
	Interval        time.Duration `mapstructure:"interval"`
	UploadTimeout   time.Duration `mapstructure:"upload_timeout"`
	StatusTimeout   time.Duration `mapstructure:"status_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// legacy environment names kept from the original deployment scripts
var envAliases = map[string][]string{
	"server.port":               {"PORT"},
	"server.static_dir":         {"STATIC_DIR"},
	"provider.name":             {"PROVIDER"},
	"provider.cloudconvert.key": {"CLOUDCONVERT_KEY"},
	"provider.convertio.key":    {"CONVERTIO_KEY"},
	"store.driver":              {"STORE_DRIVER"},
	"worker.temp_dir":           {"WORKER_TMP_DIR"},
	"worker.poll_timeout":       {"QUEUE_POLL_TIMEOUT"},
	"redis.archive_queue":       {"REDIS_QUEUE_KEY"},
	"client.server":             {"CONVERTER_SERVER"},
}

// New returns a viper instance carrying the defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.static_dir", "public")
	v.SetDefault("server.max_upload_bytes", int64(100<<20))
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("provider.name", "cloudconvert")
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.cloudconvert.key", "")
	v.SetDefault("provider.cloudconvert.base_url", "https://api.cloudconvert.com/v2")
	v.SetDefault("provider.convertio.key", "")
	v.SetDefault("provider.convertio.base_url", "https://api.convertio.co")

	v.SetDefault("store.driver", "memory")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "conversion:")
	v.SetDefault("redis.archive_queue", "conversion:archive:queue")

	v.SetDefault("archive.enabled", false)

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "minio")
	v.SetDefault("minio.secret_key", "minio123")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.bucket", "conversions")
	v.SetDefault("minio.prefix", "converted")

	v.SetDefault("worker.temp_dir", "")
	v.SetDefault("worker.poll_timeout", 5*time.Second)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.download_timeout", 60*time.Second)

	v.SetDefault("client.server", "http://localhost:3002")
	v.SetDefault("client.format", "jpg")
	v.SetDefault("client.output", "")
	v.SetDefault("client.attempts", 30)
	v.SetDefault("client.interval", 5*time.Second)
	v.SetDefault("client.upload_timeout", 120*time.Second)
	v.SetDefault("client.status_timeout", 15*time.Second)
	v.SetDefault("client.download_timeout", 60*time.Second)
}

// Load reads the optional YAML file into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Worker.TempDir == "" {
		cfg.Worker.TempDir = os.TempDir()
	}
	return cfg, nil
}

// FromEnv is Load with a fresh viper instance and the file named by CONFIG_FILE.
func FromEnv() (*Config, error) {
	return Load(New(), os.Getenv("CONFIG_FILE"))
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	switch strings.ToLower(c.Provider.Name) {
	case "cloudconvert", "convertio":
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Name))
	}
	switch strings.ToLower(c.Store.Driver) {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Archive.Enabled && !strings.EqualFold(c.Store.Driver, "redis") {
		errs = append(errs, errors.New("archive.enabled requires store.driver=redis"))
	}
	if c.Worker.MaxRetries < 0 {
		errs = append(errs, errors.New("worker.max_retries must not be negative"))
	}
	if c.Worker.PollTimeout < time.Second {
		errs = append(errs, errors.New("worker.poll_timeout must be at least 1s"))
	}
	if strings.TrimSpace(c.Minio.Bucket) == "" {
		errs = append(errs, errors.New("minio.bucket must not be empty"))
	}
	if c.Client.Attempts <= 0 {
		errs = append(errs, errors.New("client.attempts must be positive"))
	}
	if c.Client.Interval < 0 {
		errs = append(errs, errors.New("client.interval must not be negative"))
	}
	return errors.Join(errs...)
}
