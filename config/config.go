package config

import (
	"os"
	"path/filepath"

	"github.com/ipfs-force-community/metrics"
	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml"

	"github.com/ipfs-force-community/sophon-provider/types"
)

const (
	// Configuration file name
	ConfigFile = "config.toml"
	// DefaultRepoPath is expanded with the user's home directory.
	DefaultRepoPath = "~/.sophon-provider"
)

type Config struct {
	API     *APIConfig
	Port    *PortConfig
	Metrics *metrics.MetricsConfig
	Trace   *metrics.TraceConfig
	Request *types.RequestConfig
}

// APIConfig is the admin jsonrpc endpoint.
type APIConfig struct {
	ListenAddress string
}

// PortConfig is the page-port websocket endpoint.
type PortConfig struct {
	ListenAddress string
}

func DefaultConfig() *Config {
	cfg := &Config{
		API:     &APIConfig{ListenAddress: "/ip4/127.0.0.1/tcp/45231"},
		Port:    &PortConfig{ListenAddress: "/ip4/127.0.0.1/tcp/45232"},
		Metrics: metrics.DefaultMetricsConfig(),
		Trace:   metrics.DefaultTraceConfig(),
		Request: types.DefaultConfig(),
	}
	namespace := "provider"
	cfg.Metrics.Exporter.Prometheus.Namespace = namespace
	cfg.Metrics.Exporter.Graphite.Namespace = namespace
	cfg.Metrics.Exporter.Prometheus.EndPoint = "/ip4/0.0.0.0/tcp/4569"
	cfg.Metrics.Exporter.Graphite.Port = 4569
	cfg.Trace.ServerName = "sophon-provider"
	cfg.Trace.JaegerEndpoint = ""

	return cfg
}

// HomePath expands the repo path and ensures the directory exists.
func HomePath(repo string) (string, error) {
	path, err := homedir.Expand(repo)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// ReadOrInitConfig loads the repo config, writing defaults on first run.
func ReadOrInitConfig(repo string) (*Config, error) {
	path, err := HomePath(repo)
	if err != nil {
		return nil, err
	}
	cfgPath := filepath.Join(path, ConfigFile)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := WriteConfig(cfgPath, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return ReadConfig(cfgPath)
}

func ReadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	err = toml.Unmarshal(data, cfg)

	return cfg, err
}

func WriteConfig(filePath string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(filePath, data, 0644)
}
