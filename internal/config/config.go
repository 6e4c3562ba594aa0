package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

type JudgeConfig struct {
	Workers                int   `mapstructure:"workers"`
	QueueCapacity          int   `mapstructure:"queue_capacity"`
	MaxConcurrentSandboxes int   `mapstructure:"max_concurrent_sandboxes"`
	MaxProcesses           int64 `mapstructure:"max_processes"`
	CPUQuota               int64 `mapstructure:"cpu_quota"`
	SampleIntervalMs       int   `mapstructure:"sample_interval_ms"`
	CleanupTimeoutSec      int   `mapstructure:"cleanup_timeout_sec"`
	DefaultTimeLimitMs     int64 `mapstructure:"default_time_limit_ms"`
	DefaultMemoryLimitMB   int64 `mapstructure:"default_memory_limit_mb"`
}

type LimiterConfig struct {
	GlobalRPS     float64 `mapstructure:"global_rps"`
	PerIPRPS      float64 `mapstructure:"per_ip_rps"`
	PerIPBurst    int     `mapstructure:"per_ip_burst"`
	MaxConcurrent int     `mapstructure:"max_concurrent"`
}

type DbConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type ProblemStoreConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// LanguageConfig lets deployments add languages or override the
// built-in profiles without a code change.
type LanguageConfig struct {
	ID             string   `mapstructure:"id"`
	Name           string   `mapstructure:"name"`
	Image          string   `mapstructure:"image"`
	SourceFile     string   `mapstructure:"source_file"`
	CompileCommand []string `mapstructure:"compile_command"`
	RunCommand     []string `mapstructure:"run_command"`
}

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Judge        JudgeConfig        `mapstructure:"judge"`
	Limiter      LimiterConfig      `mapstructure:"limiter"`
	Db           DbConfig           `mapstructure:"db"`
	ProblemStore ProblemStoreConfig `mapstructure:"problem_store"`
	Languages    []LanguageConfig   `mapstructure:"languages"`
}

// LoadConfig reads judgebox.yaml from the working directory or /etc/judgebox,
// with JUDGEBOX_-prefixed environment variables overriding file values.
// A missing file is fine; every setting has a default.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("judgebox")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/judgebox")

	v.SetEnvPrefix("JUDGEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.idle_timeout", 120)

	v.SetDefault("judge.workers", 5)
	v.SetDefault("judge.queue_capacity", 100)
	v.SetDefault("judge.max_concurrent_sandboxes", 4)
	v.SetDefault("judge.max_processes", 64)
	v.SetDefault("judge.cpu_quota", 100000)
	v.SetDefault("judge.sample_interval_ms", 100)
	v.SetDefault("judge.cleanup_timeout_sec", 15)
	v.SetDefault("judge.default_time_limit_ms", 2000)
	v.SetDefault("judge.default_memory_limit_mb", 256)

	v.SetDefault("limiter.global_rps", 100)
	v.SetDefault("limiter.per_ip_rps", 10)
	v.SetDefault("limiter.per_ip_burst", 20)
	v.SetDefault("limiter.max_concurrent", 50)

	v.SetDefault("db.enabled", false)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "judgebox")
	v.SetDefault("db.name", "judgebox")
	v.SetDefault("db.ssl_mode", "disable")

	v.SetDefault("problem_store.base_url", "http://localhost:3000/api/v1")
	v.SetDefault("problem_store.timeout_sec", 10)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
