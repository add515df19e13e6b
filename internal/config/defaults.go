package config

import "time"

// Default configuration values.
const (
	DefaultBindAddress         = "0.0.0.0:67"
	DefaultNetmask             = "255.255.255.0"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultReadTimeout         = 1 * time.Second
	DefaultRateLimitDiscovers  = 100
	DefaultRateLimitPerMAC     = 5
	DefaultDNSListen           = "0.0.0.0:53"
	DefaultDNSTTL              = 60
	DefaultAPIListen           = "0.0.0.0:8067"
	DefaultHostnameFallback    = "dhcp-{mac}"
	DefaultSyslogTag           = "captive-dhcpd"
	DefaultEventBufferSize     = 10000
	DefaultWebhookTimeout      = 10 * time.Second
	DefaultWebhookRetries      = 3
	DefaultWebhookRetryBackoff = 2 * time.Second
)
