package server

import (
	"os"

	"github.com/chrisvdg/recoverycache/worker"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents a server config
type Config struct {
	ListenAddr    string     `yaml:"listenAddr"`
	TLSListenAddr string     `yaml:"tlsListenAddr"`
	TLSOnly       bool       `yaml:"tlsOnly"`
	TLS           *TLSConfig `yaml:"tls"`
	Verbose       bool       `yaml:"verbose"`
	// DataDir is where the cache generations are stored
	DataDir string `yaml:"dataDir"`
	// Origin is the site the worker sits in front of
	Origin      string   `yaml:"origin"`
	CacheName   string   `yaml:"cacheName"`
	Precache    []string `yaml:"precache"`
	OfflinePage string   `yaml:"offlinePage"`
	APIPrefix   string   `yaml:"apiPrefix"`
}

// TLSConfig represents a TLS configuration
type TLSConfig struct {
	KeyFile  string `yaml:"keyFile"`
	CertFile string `yaml:"certFile"`
}

// DefaultConfig returns a config with every optional field set
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:    ":8080",
		TLSListenAddr: ":8443",
		TLS:           &TLSConfig{},
		DataDir:       "./data/caches",
		CacheName:     worker.DefaultCacheName,
		Precache: []string{
			"/",
			"/index.html",
			worker.DefaultOfflinePage,
			"/manifest.json",
		},
		OfflinePage: worker.DefaultOfflinePage,
		APIPrefix:   worker.DefaultAPIPrefix,
	}
}

// LoadConfigFile reads a YAML config file on top of c
func LoadConfigFile(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}
	err = yaml.Unmarshal(b, c)
	if err != nil {
		return errors.Wrapf(err, "failed to parse config file %s", path)
	}
	if c.TLS == nil {
		c.TLS = &TLSConfig{}
	}

	return nil
}
