// Package config loads the broker's process interface (§6): listen
// address, peer list, mDNS port, and log level. Parsing CLI flags is
// deliberately out of scope; Load reads only from the environment, in the
// same style the teacher's config package reads CATLOCATOR_* variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config lists the broker's tunable parameters.
type Config struct {
	Bind          string
	Peers         []string
	DiscoveryPort int
	LogLevel      string
}

const (
	defaultBind          = ":7890"
	defaultDiscoveryPort = 0 // 0 disables mDNS discovery
	defaultLogLevel      = "info"
)

// Load derives configuration values from environment variables, falling
// back to defaults.
func Load() (Config, error) {
	cfg := Config{
		Bind:          defaultBind,
		DiscoveryPort: defaultDiscoveryPort,
		LogLevel:      defaultLogLevel,
	}

	if v := os.Getenv("OBJECTOPLEX_BIND"); v != "" {
		cfg.Bind = v
	}

	if v := os.Getenv("OBJECTOPLEX_PEERS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.Peers = append(cfg.Peers, p)
			}
		}
	}

	if v := os.Getenv("OBJECTOPLEX_DISCOVERY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OBJECTOPLEX_DISCOVERY_PORT: %w", err)
		}
		cfg.DiscoveryPort = port
	}

	if v := os.Getenv("OBJECTOPLEX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg, nil
}
