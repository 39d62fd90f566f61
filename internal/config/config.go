package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Procedures ProceduresConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
	// MaxConns caps concurrent HTTP connections. Zero means unlimited.
	MaxConns int
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	DSN         string
	TablePrefix string
}

type ProceduresConfig struct {
	ListLimit int
}

type LogConfig struct {
	Level string
	JSON  bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4000,
			MaxConns: 256,
		},
		Storage: StorageConfig{
			Driver:      "sqlite",
			DataDir:     defaultDataDir(),
			TablePrefix: "torva_",
		},
		Procedures: ProceduresConfig{
			ListLimit: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/torva/config.json, then environment variables (TORVA_*),
// then the secrets file at $XDG_DATA_HOME/torva/secrets.json for secrets
// still unset.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret lookup for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := kc.Get(secretsService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	switch cfg.Storage.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("missing required config: storage.dsn for the postgres driver. "+
				"Set it via environment variable TORVA_STORAGE_DSN or the secrets file %s", secretsFilePath())
		}
	default:
		return fmt.Errorf("invalid storage.driver %q: want sqlite or postgres", cfg.Storage.Driver)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConns < 0 {
		return fmt.Errorf("invalid server.max_conns %d", cfg.Server.MaxConns)
	}
	if cfg.Procedures.ListLimit <= 0 {
		return fmt.Errorf("invalid procedures.list_limit %d: must be positive", cfg.Procedures.ListLimit)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q: want debug, info, warn or error", cfg.Log.Level)
	}
	return nil
}
