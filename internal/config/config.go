// Package config handles TOML configuration parsing and validation for captive-dhcpd.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Config is the top-level configuration for captive-dhcpd.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	DNS      DNSConfig      `toml:"dns"`
	API      APIConfig      `toml:"api"`
	Hooks    HooksConfig    `toml:"hooks"`
	Hostname HostnameConfig `toml:"hostname"`
	Syslog   SyslogConfig   `toml:"syslog"`
}

// ServerConfig holds core server settings.
type ServerConfig struct {
	Interface   string          `toml:"interface"`
	BindAddress string          `toml:"bind_address"`
	ServerIP    string          `toml:"server_ip"`
	Netmask     string          `toml:"netmask"`
	LogLevel    string          `toml:"log_level"`
	LogFormat   string          `toml:"log_format"`
	AuditDB     string          `toml:"audit_db"`
	ReadTimeout string          `toml:"read_timeout"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig holds anti-starvation settings (RFC 5765).
type RateLimitConfig struct {
	Enabled               bool `toml:"enabled"`
	MaxDiscoversPerSecond int  `toml:"max_discovers_per_second"`
	MaxPerMACPerSecond    int  `toml:"max_per_mac_per_second"`
}

// DNSConfig holds the captive DNS responder settings.
type DNSConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
	TTL     uint32 `toml:"ttl"`
}

// APIConfig holds the metrics and status HTTP endpoint settings.
// AuthToken and AuthTokenHash are alternatives; the hash is a bcrypt
// digest as printed by captive-hashtoken.
type APIConfig struct {
	Enabled       bool   `toml:"enabled"`
	Listen        string `toml:"listen"`
	AuthToken     string `toml:"auth_token"`
	AuthTokenHash string `toml:"auth_token_hash"`
}

// HostnameConfig controls cleanup of client-supplied hostnames (option 12)
// before they are stored. FallbackTemplate may contain {mac}.
type HostnameConfig struct {
	Enabled          bool     `toml:"enabled"`
	Lowercase        bool     `toml:"lowercase"`
	StripEmoji       bool     `toml:"strip_emoji"`
	MaxLength        int      `toml:"max_length"`
	DenyPatterns     []string `toml:"deny_patterns"`
	AllowRegex       string   `toml:"allow_regex"`
	FallbackTemplate string   `toml:"fallback_template"`
}

// SyslogConfig holds remote syslog forwarding settings.
type SyslogConfig struct {
	Enabled  bool   `toml:"enabled"`
	Address  string `toml:"address"`
	Protocol string `toml:"protocol"` // udp or tcp
	Facility int    `toml:"facility"`
	Tag      string `toml:"tag"`
	Format   string `toml:"format"` // kv or json
}

// HooksConfig holds event hook settings.
type HooksConfig struct {
	EventBufferSize int           `toml:"event_buffer_size"`
	WebhookTimeout  string        `toml:"webhook_timeout"`
	Webhooks        []WebhookHook `toml:"webhook"`
}

// WebhookHook defines a webhook hook.
type WebhookHook struct {
	Name         string            `toml:"name"`
	Events       []string          `toml:"events"`
	URL          string            `toml:"url"`
	Method       string            `toml:"method"`
	Headers      map[string]string `toml:"headers"`
	Retries      int               `toml:"retries"`
	RetryBackoff string            `toml:"retry_backoff"`
	Secret       string            `toml:"secret"`
}

// Load reads and parses a TOML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = DefaultBindAddress
	}
	if cfg.Server.Netmask == "" {
		cfg.Server.Netmask = DefaultNetmask
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = DefaultLogFormat
	}
	if cfg.Server.ReadTimeout == "" {
		cfg.Server.ReadTimeout = DefaultReadTimeout.String()
	}
	if cfg.Server.RateLimit.MaxDiscoversPerSecond == 0 {
		cfg.Server.RateLimit.MaxDiscoversPerSecond = DefaultRateLimitDiscovers
	}
	if cfg.Server.RateLimit.MaxPerMACPerSecond == 0 {
		cfg.Server.RateLimit.MaxPerMACPerSecond = DefaultRateLimitPerMAC
	}

	// DNS defaults
	if cfg.DNS.Listen == "" {
		cfg.DNS.Listen = DefaultDNSListen
	}
	if cfg.DNS.TTL == 0 {
		cfg.DNS.TTL = DefaultDNSTTL
	}

	// API defaults
	if cfg.API.Listen == "" {
		cfg.API.Listen = DefaultAPIListen
	}

	if cfg.Hostname.FallbackTemplate == "" {
		cfg.Hostname.FallbackTemplate = DefaultHostnameFallback
	}

	// Hooks defaults
	if cfg.Hooks.EventBufferSize == 0 {
		cfg.Hooks.EventBufferSize = DefaultEventBufferSize
	}
	if cfg.Hooks.WebhookTimeout == "" {
		cfg.Hooks.WebhookTimeout = DefaultWebhookTimeout.String()
	}
	for i := range cfg.Hooks.Webhooks {
		if cfg.Hooks.Webhooks[i].Method == "" {
			cfg.Hooks.Webhooks[i].Method = "POST"
		}
		if cfg.Hooks.Webhooks[i].Retries == 0 {
			cfg.Hooks.Webhooks[i].Retries = DefaultWebhookRetries
		}
		if cfg.Hooks.Webhooks[i].RetryBackoff == "" {
			cfg.Hooks.Webhooks[i].RetryBackoff = DefaultWebhookRetryBackoff.String()
		}
	}
}

// validate checks the configuration for errors.
func validate(cfg *Config) error {
	if cfg.Server.ServerIP == "" {
		return fmt.Errorf("server.server_ip is required")
	}
	serverIP, err := dhcpv4.ParseIPAddress(cfg.Server.ServerIP)
	if err != nil {
		return fmt.Errorf("server.server_ip: %w", err)
	}
	mask, err := dhcpv4.ParseIPAddress(cfg.Server.Netmask)
	if err != nil {
		return fmt.Errorf("server.netmask: %w", err)
	}
	if mask == 0 || !dhcpv4.IsContiguousMask(mask) {
		return fmt.Errorf("server.netmask %s is not a contiguous subnet mask", mask)
	}
	if serverIP == serverIP.Mask(mask) || serverIP == serverIP.Broadcast(mask) {
		return fmt.Errorf("server.server_ip %s is not a host address in %s/%s",
			serverIP, serverIP.Mask(mask), mask)
	}
	// The allocator counts up from the server IP, so there must be room above it.
	if serverIP.Next() == serverIP.Broadcast(mask) {
		return fmt.Errorf("server.server_ip %s leaves no client addresses below the broadcast address", serverIP)
	}

	switch strings.ToLower(cfg.Server.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("server.log_format must be \"json\" or \"text\", got %q", cfg.Server.LogFormat)
	}
	if _, err := time.ParseDuration(cfg.Server.ReadTimeout); err != nil {
		return fmt.Errorf("server.read_timeout: %w", err)
	}
	if cfg.Server.RateLimit.MaxDiscoversPerSecond < 0 || cfg.Server.RateLimit.MaxPerMACPerSecond < 0 {
		return fmt.Errorf("server.rate_limit limits must be positive")
	}

	if cfg.API.AuthToken != "" && cfg.API.AuthTokenHash != "" {
		return fmt.Errorf("api: set only one of auth_token and auth_token_hash")
	}
	if h := cfg.API.AuthTokenHash; h != "" && !strings.HasPrefix(h, "$2") {
		return fmt.Errorf("api.auth_token_hash is not a bcrypt hash")
	}

	if cfg.Hostname.MaxLength < 0 || cfg.Hostname.MaxLength > 253 {
		return fmt.Errorf("hostname.max_length must be between 0 and 253")
	}
	if cfg.Hostname.AllowRegex != "" {
		if _, err := regexp.Compile(cfg.Hostname.AllowRegex); err != nil {
			return fmt.Errorf("hostname.allow_regex: %w", err)
		}
	}
	for i, p := range cfg.Hostname.DenyPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("hostname.deny_patterns[%d]: %w", i, err)
		}
	}

	if cfg.Syslog.Enabled {
		if cfg.Syslog.Address == "" {
			return fmt.Errorf("syslog.address is required when syslog is enabled")
		}
		switch cfg.Syslog.Protocol {
		case "", "udp", "tcp":
		default:
			return fmt.Errorf("syslog.protocol must be \"udp\" or \"tcp\", got %q", cfg.Syslog.Protocol)
		}
		switch cfg.Syslog.Format {
		case "", "kv", "json":
		default:
			return fmt.Errorf("syslog.format must be \"kv\" or \"json\", got %q", cfg.Syslog.Format)
		}
		if cfg.Syslog.Facility < 0 || cfg.Syslog.Facility > 23 {
			return fmt.Errorf("syslog.facility must be between 0 and 23")
		}
	}

	if _, err := time.ParseDuration(cfg.Hooks.WebhookTimeout); err != nil {
		return fmt.Errorf("hooks.webhook_timeout: %w", err)
	}
	for i, wh := range cfg.Hooks.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("hooks.webhook[%d]: url is required", i)
		}
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("hooks.webhook[%d]: invalid url %q", i, wh.URL)
		}
		if len(wh.Events) == 0 {
			return fmt.Errorf("hooks.webhook[%d]: at least one event pattern is required", i)
		}
		if _, err := time.ParseDuration(wh.RetryBackoff); err != nil {
			return fmt.Errorf("hooks.webhook[%d].retry_backoff: %w", i, err)
		}
	}

	return nil
}

// ServerIP returns the parsed server address. Valid after Load.
func (cfg *Config) ServerIP() dhcpv4.IPAddress {
	ip, _ := dhcpv4.ParseIPAddress(cfg.Server.ServerIP)
	return ip
}

// Netmask returns the parsed subnet mask. Valid after Load.
func (cfg *Config) Netmask() dhcpv4.IPAddress {
	m, _ := dhcpv4.ParseIPAddress(cfg.Server.Netmask)
	return m
}

// LastClientIP returns the highest address the allocator may hand out: the
// one below the subnet broadcast address.
func (cfg *Config) LastClientIP() dhcpv4.IPAddress {
	return cfg.ServerIP().Broadcast(cfg.Netmask()) - 1
}

// GetReadTimeout returns the DHCP socket read deadline.
func (cfg *Config) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(cfg.Server.ReadTimeout)
	if err != nil || d <= 0 {
		return DefaultReadTimeout
	}
	return d
}

// GetWebhookTimeout returns the per-request webhook timeout.
func (cfg *Config) GetWebhookTimeout() time.Duration {
	d, err := time.ParseDuration(cfg.Hooks.WebhookTimeout)
	if err != nil || d <= 0 {
		return DefaultWebhookTimeout
	}
	return d
}

// GetRetryBackoff returns the webhook's base retry delay.
func (wh WebhookHook) GetRetryBackoff() time.Duration {
	d, err := time.ParseDuration(wh.RetryBackoff)
	if err != nil {
		return DefaultWebhookRetryBackoff
	}
	return d
}
