// Package config loads and validates the tlsrptd configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	// Server configuration
	Server struct {
		Hostname string `toml:"hostname"`
		NodeID   uint64 `toml:"node_id"`
	} `toml:"server"`

	// Event-log storage configuration
	Storage struct {
		Driver   string `toml:"driver"` // "sqlite" or "memory"
		Path     string `toml:"path"`
		MaxConns int    `toml:"max_conns"`
		Workers  int    `toml:"workers"`
	} `toml:"storage"`

	// Lookup store configuration
	Lookup struct {
		Type        string   `toml:"type"` // kv, redis, memcached, query, list, ldap
		Host        string   `toml:"host"`
		Port        int      `toml:"port"`
		Username    string   `toml:"username"`
		Password    string   `toml:"password"`
		Database    int      `toml:"database"`
		Path        string   `toml:"path"`
		Driver      string   `toml:"driver"`
		DSN         string   `toml:"dsn"`
		GetQuery    string   `toml:"get_query"`
		SetQuery    string   `toml:"set_query"`
		ExistsQuery string   `toml:"exists_query"`
		DeleteQuery string   `toml:"delete_query"`
		Entries     []string `toml:"entries"`
		BaseDN      string   `toml:"base_dn"`
		BindDN      string   `toml:"bind_dn"`
		Filter      string   `toml:"filter"`
		Attribute   string   `toml:"attribute"`
		TLSEnabled  bool     `toml:"tls_enabled"`
	} `toml:"lookup"`

	// Report generation and delivery configuration
	Report struct {
		OrgName     string `toml:"org_name"`
		ContactInfo string `toml:"contact_info"`
		FromName    string `toml:"from_name"`
		FromAddress string `toml:"from_address"`
		Submitter   string `toml:"submitter"`
		MaxSize     int    `toml:"max_size"`
		Interval    string `toml:"interval"`
		RunEvery    string `toml:"run_every"`
	} `toml:"report"`

	// Security configuration
	Security struct {
		Fail2Ban        RateConfig `toml:"fail2ban"`
		BlockedNetworks []string   `toml:"blocked_networks"`
	} `toml:"security"`

	// Admin API configuration
	API struct {
		Enabled      bool       `toml:"enabled"`
		Listen       string     `toml:"listen"`
		Username     string     `toml:"username"`
		PasswordHash string     `toml:"password_hash"`
		SessionTTL   string     `toml:"session_ttl"`
		AuthRate     RateConfig `toml:"auth_rate"`
	} `toml:"api"`
}

// RateConfig is a requests-per-period limit in configuration form.
type RateConfig struct {
	Requests int64  `toml:"requests"`
	Period   string `toml:"period"`
}

// PeriodDuration parses the configured period, 0 when unset.
func (r RateConfig) PeriodDuration() time.Duration {
	if r.Period == "" {
		return 0
	}
	d, err := time.ParseDuration(r.Period)
	if err != nil {
		return 0
	}
	return d
}

// LoadConfig reads and validates the TOML configuration at path. An
// empty path yields a configuration of defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		if hostname, err := os.Hostname(); err == nil {
			c.Server.Hostname = hostname
		} else {
			c.Server.Hostname = "localhost"
		}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" && c.Storage.Driver == "sqlite" {
		c.Storage.Path = "tlsrptd.db"
	}
	if c.Lookup.Type == "" {
		c.Lookup.Type = "kv"
	}
	if c.Report.OrgName == "" {
		c.Report.OrgName = c.Server.Hostname
	}
	if c.Report.Submitter == "" {
		c.Report.Submitter = c.Server.Hostname
	}
	if c.Report.FromAddress == "" {
		c.Report.FromAddress = "noreply-tls-reports@" + c.Server.Hostname
	}
	if c.Report.Interval == "" {
		c.Report.Interval = "24h"
	}
	if c.Report.RunEvery == "" {
		c.Report.RunEvery = "5m"
	}
	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8432"
	}
	if c.API.SessionTTL == "" {
		c.API.SessionTTL = "1h"
	}
	if c.API.AuthRate.Requests == 0 {
		c.API.AuthRate = RateConfig{Requests: 10, Period: "1m"}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}

	if d, err := time.ParseDuration(c.Report.Interval); err != nil {
		return fmt.Errorf("invalid report interval: %w", err)
	} else if d < time.Second {
		return fmt.Errorf("report interval must be at least 1s")
	}
	if _, err := time.ParseDuration(c.Report.RunEvery); err != nil {
		return fmt.Errorf("invalid report run_every: %w", err)
	}
	if _, err := time.ParseDuration(c.API.SessionTTL); err != nil {
		return fmt.Errorf("invalid api session_ttl: %w", err)
	}
	if c.Report.MaxSize < 0 {
		return fmt.Errorf("report max_size must not be negative")
	}
	if c.Security.Fail2Ban.Period != "" {
		if d, err := time.ParseDuration(c.Security.Fail2Ban.Period); err != nil {
			return fmt.Errorf("invalid fail2ban period: %w", err)
		} else if d < time.Second {
			return fmt.Errorf("fail2ban period must be at least 1s")
		}
	}
	if c.API.AuthRate.Period != "" {
		if d, err := time.ParseDuration(c.API.AuthRate.Period); err != nil {
			return fmt.Errorf("invalid api auth_rate period: %w", err)
		} else if d < time.Second {
			return fmt.Errorf("api auth_rate period must be at least 1s")
		}
	}
	if c.API.Enabled && c.API.Username == "" {
		return fmt.Errorf("api requires a username when enabled")
	}
	return nil
}

// ReportInterval returns the parsed aggregation window.
func (c *Config) ReportInterval() time.Duration {
	d, _ := time.ParseDuration(c.Report.Interval)
	return d
}

// ReportRunEvery returns the parsed scheduler tick.
func (c *Config) ReportRunEvery() time.Duration {
	d, _ := time.ParseDuration(c.Report.RunEvery)
	return d
}

// APISessionTTL returns the parsed admin session lifetime.
func (c *Config) APISessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.API.SessionTTL)
	return d
}
