// captive-dhcpd answers DHCP on an isolated segment and points every client
// at a captive portal (RFC 8910 option 114).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/captive-dhcpd/captive-dhcpd/internal/api"
	"github.com/captive-dhcpd/captive-dhcpd/internal/audit"
	"github.com/captive-dhcpd/captive-dhcpd/internal/captivedns"
	"github.com/captive-dhcpd/captive-dhcpd/internal/config"
	"github.com/captive-dhcpd/captive-dhcpd/internal/dhcp"
	"github.com/captive-dhcpd/captive-dhcpd/internal/events"
	"github.com/captive-dhcpd/captive-dhcpd/internal/hostname"
	"github.com/captive-dhcpd/captive-dhcpd/internal/lease"
	"github.com/captive-dhcpd/captive-dhcpd/internal/logging"
	"github.com/captive-dhcpd/captive-dhcpd/internal/metrics"
	"github.com/captive-dhcpd/captive-dhcpd/internal/syslog"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/captive-dhcpd/config.toml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

// run starts every component and blocks until SIGINT or SIGTERM. Cleanup is
// deferred in start order, so a startup failure releases what was already
// opened (the audit database in particular) before main exits.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Server.LogLevel, cfg.Server.LogFormat, os.Stdout)
	serverIP := cfg.ServerIP()
	logger.Info("captive-dhcpd starting",
		"version", version,
		"config", configPath,
		"interface", cfg.Server.Interface,
		"server_ip", serverIP.String(),
		"captive_uri", dhcp.CaptiveURI(serverIP))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(cfg.Hooks.EventBufferSize, logger)
	go bus.Start()
	defer func() {
		bus.Stop()
		logger.Info("captive-dhcpd stopped")
	}()

	// Webhook dispatcher
	dispatcherDone := make(chan struct{})
	dispatcher := events.NewDispatcher(bus, logger, cfg.GetWebhookTimeout())
	for _, wh := range cfg.Hooks.Webhooks {
		dispatcher.AddWebhook(events.WebhookConfig{
			Name:         wh.Name,
			Events:       wh.Events,
			URL:          wh.URL,
			Method:       wh.Method,
			Headers:      wh.Headers,
			Retries:      wh.Retries,
			RetryBackoff: wh.GetRetryBackoff(),
			Secret:       wh.Secret,
		})
	}
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
	}()
	// Dispatcher sees ctx cancelled, flushes its queue and waits for
	// in-flight webhooks.
	defer func() {
		stop()
		<-dispatcherDone
	}()

	// Audit log (optional)
	var auditLog *audit.Log
	if cfg.Server.AuditDB != "" {
		db, err := bolt.Open(cfg.Server.AuditDB, 0600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return fmt.Errorf("opening audit database %s: %w", cfg.Server.AuditDB, err)
		}
		defer db.Close()

		auditLog, err = audit.NewLog(db, bus, logger)
		if err != nil {
			return fmt.Errorf("initializing audit log: %w", err)
		}
		auditLog.Start()
		defer auditLog.Stop()
		logger.Info("audit database opened", "path", cfg.Server.AuditDB, "records", auditLog.Count())
	}

	if cfg.Syslog.Enabled {
		forwarder := syslog.NewForwarder(cfg.Syslog, bus, logger)
		if err := forwarder.Start(); err != nil {
			return fmt.Errorf("starting syslog forwarder: %w", err)
		}
		defer forwarder.Stop()
	}

	leases := lease.NewAllocator(lease.WithLimit(cfg.LastClientIP()))

	var limiter *dhcp.RateLimiter
	if cfg.Server.RateLimit.Enabled {
		limiter = dhcp.NewRateLimiter(cfg.Server.RateLimit.MaxDiscoversPerSecond, cfg.Server.RateLimit.MaxPerMACPerSecond)
		logger.Info("DISCOVER rate limiting enabled",
			"global_per_second", cfg.Server.RateLimit.MaxDiscoversPerSecond,
			"per_mac_per_second", cfg.Server.RateLimit.MaxPerMACPerSecond)
	}

	handler := dhcp.NewHandler(serverIP, cfg.Netmask(), leases, limiter, bus, logger)
	if cfg.Hostname.Enabled {
		sanitiser, err := hostname.NewSanitiser(cfg.Hostname, logger)
		if err != nil {
			return fmt.Errorf("initializing hostname sanitiser: %w", err)
		}
		handler.SetHostnameSanitiser(sanitiser)
	}
	dhcpServer := dhcp.NewServer(handler, dhcp.ServerConfig{
		Interface:   cfg.Server.Interface,
		Addr:        cfg.Server.BindAddress,
		ReadTimeout: cfg.GetReadTimeout(),
	}, logger)
	defer dhcpServer.Stop()

	// Captive DNS responder
	if cfg.DNS.Enabled {
		dnsServer := captivedns.NewServer(cfg.DNS.Listen, serverIP, cfg.DNS.TTL, logger)
		if err := dnsServer.Start(ctx); err != nil {
			return fmt.Errorf("starting captive DNS: %w", err)
		}
		defer dnsServer.Stop()
	}

	// Operator API. Bind synchronously so a port conflict is fatal at startup.
	if cfg.API.Enabled {
		apiOpts := []api.ServerOption{api.WithVersion(version)}
		if auditLog != nil {
			apiOpts = append(apiOpts, api.WithAuditLog(auditLog))
		}
		apiServer := api.NewServer(cfg, leases, bus, logger, apiOpts...)
		ln, err := apiServer.Listen()
		if err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		go func() {
			if err := apiServer.Serve(ln); err != nil {
				logger.Error("API server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := apiServer.Stop(shutdownCtx); err != nil {
				logger.Warn("API server shutdown", "error", err)
			}
		}()
	}

	// Blocks, retrying the bind, until port 67 is free or we are told to stop.
	if err := dhcpServer.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("starting DHCP server: %w", err)
		}
	} else {
		metrics.ServerStartTime.SetToCurrentTime()
		metrics.ServerInfo.WithLabelValues(version).Set(1)
		bus.Publish(events.Event{
			Type:      events.EventServerStarted,
			Timestamp: time.Now(),
			Reason:    dhcp.CaptiveURI(serverIP),
		})
		logger.Info("captive-dhcpd ready")
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")
	return nil
}
