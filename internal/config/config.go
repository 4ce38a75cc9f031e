// Package config loads terracotta.yaml, layered with environment overrides
// via viper so the CLI entrypoint can bind cobra flags onto the same
// struct.
package config

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every knob the controller and HTTP facade need.
type Config struct {
	MOTD       string `yaml:"motd"`
	PlayerName string `yaml:"player_name"`
	CorePath   string `yaml:"core_path"`
	CliPath    string `yaml:"cli_path"`
	DataDir    string `yaml:"data_dir"`
	HTTPPort   int    `yaml:"http_port"`
}

func defaults() Config {
	return Config{
		MOTD:       "A Terracotta Server",
		PlayerName: "Player",
		CorePath:   "easytier-core",
		CliPath:    "easytier-cli",
		DataDir:    "",
		HTTPPort:   8787,
	}
}

// Load reads path (defaulting to ~/.terracotta/terracotta.yaml when path is
// empty), falling back to built-in defaults for anything left unset, then
// lets TERRACOTTA_-prefixed environment variables override the result.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			return cfg, err
		}
		path = filepath.Join(home, ".terracotta", "terracotta.yaml")
	}

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if cfg.DataDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return cfg, err
		}
		cfg.DataDir = filepath.Join(home, ".terracotta")
	}

	v := viper.New()
	v.SetEnvPrefix("TERRACOTTA")
	v.AutomaticEnv()
	for _, key := range []string{"motd", "player_name", "core_path", "cli_path", "data_dir", "http_port"} {
		v.BindEnv(key)
		if v.IsSet(key) {
			applyOverride(&cfg, key, v)
		}
	}

	return cfg, nil
}

func applyOverride(cfg *Config, key string, v *viper.Viper) {
	switch key {
	case "motd":
		cfg.MOTD = v.GetString(key)
	case "player_name":
		cfg.PlayerName = v.GetString(key)
	case "core_path":
		cfg.CorePath = v.GetString(key)
	case "cli_path":
		cfg.CliPath = v.GetString(key)
	case "data_dir":
		cfg.DataDir = v.GetString(key)
	case "http_port":
		cfg.HTTPPort = v.GetInt(key)
	}
}

// EnsureDataDir creates DataDir if it doesn't already exist.
func (c Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o755)
}
