package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Game      GameConfig      `yaml:"game"`
	Workers   WorkersConfig   `yaml:"workers"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host          string        `yaml:"host"`
	TCPPort       int           `yaml:"tcp_port"`
	RESTPort      int           `yaml:"rest_port"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type GameConfig struct {
	DictionaryPath string        `yaml:"dictionary_path"`
	WordLifetime   time.Duration `yaml:"word_lifetime"`
	Translate      bool          `yaml:"translate"`
	TranslateURL   string        `yaml:"translate_url"`
	LangPair       string        `yaml:"lang_pair"`
}

type WorkersConfig struct {
	PoolSize  int `yaml:"pool_size"`
	QueueSize int `yaml:"queue_size"`
}

type StorageConfig struct {
	Driver       string        `yaml:"driver"` // file | badger | redis | mysql | mongo | none
	Path         string        `yaml:"path"`
	Compress     bool          `yaml:"compress"`
	DSN          string        `yaml:"dsn"`
	Database     string        `yaml:"database"`
	KeyPrefix    string        `yaml:"key_prefix"`
	AutosaveEach time.Duration `yaml:"autosave_every"`
}

type EventBusConfig struct {
	URL     string `yaml:"url"` // пусто - in-memory шина
	Subject string `yaml:"subject"`
	Buffer  int    `yaml:"buffer"`
}

type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Files bool   `yaml:"files"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ShutdownGrace: 5 * time.Second,
		},
		Game: GameConfig{
			DictionaryPath: "words.txt",
			WordLifetime:   5 * time.Minute,
			TranslateURL:   "https://api.mymemory.translated.net/get",
			LangPair:       "en|it",
		},
		Storage: StorageConfig{
			Driver:       "file",
			Path:         "data/users.json",
			KeyPrefix:    "wordle:",
			AutosaveEach: time.Minute,
		},
		EventBus: EventBusConfig{
			Subject: "wordle.share",
			Buffer:  256,
		},
		Auth: AuthConfig{
			TokenExpiry: 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "wordle-server",
		},
		Log: LogConfig{
			Level: "info",
			Files: true,
		},
	}
}

// GetTCPPort возвращает TCP порт: config -> env -> default
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "WORDLE_TCP_PORT", 7777)
}

// GetRESTPort возвращает порт REST API и push-канала
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "WORDLE_REST_PORT", 8088)
}

// TCPAddr адрес игрового listener'а
func (s *ServerConfig) TCPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GetTCPPort())
}

// RESTAddr адрес HTTP сервера
func (s *ServerConfig) RESTAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GetRESTPort())
}

// GetPoolSize возвращает размер пула воркеров (2x GOMAXPROCS по умолчанию)
func (w *WorkersConfig) GetPoolSize() int {
	if w.PoolSize > 0 {
		return w.PoolSize
	}
	return 2 * runtime.GOMAXPROCS(0)
}

// GetQueueSize возвращает ёмкость очереди пула (по умолчанию = размеру пула)
func (w *WorkersConfig) GetQueueSize() int {
	if w.QueueSize > 0 {
		return w.QueueSize
	}
	if w.QueueSize < 0 {
		return 0
	}
	return w.GetPoolSize()
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML поверх значений по умолчанию.
// Если path == "", используется WORDLE_CONFIG; если и он пуст - только дефолты.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("WORDLE_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if secret := os.Getenv("WORDLE_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	return cfg, nil
}

// Dump сериализует конфигурацию в YAML, JWT секрет маскируется
func (c *Config) Dump() (string, error) {
	masked := *c
	if masked.Auth.JWTSecret != "" {
		masked.Auth.JWTSecret = "***"
	}
	out, err := yaml.Marshal(&masked)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}
