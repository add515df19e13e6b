// Package syslog forwards captive-dhcpd events to a remote syslog collector
// as RFC 5424 messages, so address assignments land in the site's SIEM next
// to the portal's own logs.
package syslog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/captive-dhcpd/captive-dhcpd/internal/config"
	"github.com/captive-dhcpd/captive-dhcpd/internal/events"
)

// Facility values (RFC 5424)
const (
	FacilityDaemon = 3
	FacilityLocal0 = 16
	FacilityLocal7 = 23
)

// Severity values (RFC 5424)
const (
	SeverityEmergency = iota
	SeverityAlert
	SeverityCritical
	SeverityError
	SeverityWarning
	SeverityNotice
	SeverityInfo
	SeverityDebug
)

// Message body formats.
const (
	FormatKV   = "kv"
	FormatJSON = "json"
)

// Forwarder subscribes to the event bus and writes each event to a syslog
// connection, redialling once when a write fails.
type Forwarder struct {
	cfg      config.SyslogConfig
	bus      *events.Bus
	logger   *slog.Logger
	hostname string

	ch   chan events.Event
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	mu   sync.Mutex
	conn net.Conn
}

// NewForwarder creates a forwarder. Unset fields take their defaults.
func NewForwarder(cfg config.SyslogConfig, bus *events.Bus, logger *slog.Logger) *Forwarder {
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Facility == 0 {
		cfg.Facility = FacilityLocal0
	}
	if cfg.Tag == "" {
		cfg.Tag = config.DefaultSyslogTag
	}
	if cfg.Format == "" {
		cfg.Format = FormatKV
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "-"
	}

	return &Forwarder{
		cfg:      cfg,
		bus:      bus,
		logger:   logger,
		hostname: hostname,
		done:     make(chan struct{}),
	}
}

// Start dials the collector and begins forwarding in the background.
func (f *Forwarder) Start() error {
	if f.cfg.Address == "" {
		return fmt.Errorf("syslog address is required")
	}
	conn, err := net.DialTimeout(f.cfg.Protocol, f.cfg.Address, 5*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to syslog %s://%s: %w", f.cfg.Protocol, f.cfg.Address, err)
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	f.ch = f.bus.Subscribe(500)
	f.wg.Add(1)
	go f.loop()

	f.logger.Info("syslog forwarder started",
		"address", f.cfg.Address,
		"protocol", f.cfg.Protocol,
		"format", f.cfg.Format)
	return nil
}

// Stop unsubscribes and closes the connection.
func (f *Forwarder) Stop() {
	f.once.Do(func() {
		close(f.done)
		if f.ch != nil {
			f.bus.Unsubscribe(f.ch)
		}
		f.wg.Wait()

		f.mu.Lock()
		if f.conn != nil {
			f.conn.Close()
			f.conn = nil
		}
		f.mu.Unlock()
		f.logger.Info("syslog forwarder stopped")
	})
}

func (f *Forwarder) loop() {
	defer f.wg.Done()
	for {
		select {
		case evt, ok := <-f.ch:
			if !ok {
				return
			}
			f.send(evt)
		case <-f.done:
			return
		}
	}
}

// send writes one RFC 5424 line for evt.
func (f *Forwarder) send(evt events.Event) {
	line := f.line(evt)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return
	}
	if _, err := f.conn.Write([]byte(line)); err == nil {
		return
	}

	f.logger.Debug("syslog write failed, reconnecting", "address", f.cfg.Address)
	f.conn.Close()
	conn, err := net.DialTimeout(f.cfg.Protocol, f.cfg.Address, 3*time.Second)
	if err != nil {
		f.logger.Warn("syslog reconnect failed", "error", err)
		f.conn = nil
		return
	}
	f.conn = conn
	f.conn.Write([]byte(line))
}

// line builds "<PRI>1 TIMESTAMP HOST APP - - - MSG\n".
func (f *Forwarder) line(evt events.Event) string {
	priority := f.cfg.Facility*8 + eventSeverity(evt.Type)
	ts := evt.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z")

	var msg string
	if f.cfg.Format == FormatJSON {
		msg = formatJSON(evt)
	} else {
		msg = FormatMessage(evt)
	}
	return fmt.Sprintf("<%d>1 %s %s %s - - - %s\n", priority, ts, f.hostname, f.cfg.Tag, msg)
}

// FormatMessage renders an event as space-separated key=value pairs.
func FormatMessage(evt events.Event) string {
	parts := []string{"event=" + string(evt.Type)}

	if l := evt.Lease; l != nil {
		if !l.IP.IsZero() {
			parts = append(parts, "ip="+l.IP.String())
		}
		if l.MAC != "" {
			parts = append(parts, "mac="+l.MAC)
		}
		if l.XID != 0 {
			parts = append(parts, fmt.Sprintf("xid=0x%08x", l.XID))
		}
		if l.Hostname != "" {
			parts = append(parts, "hostname="+quoteKV(l.Hostname))
		}
		if l.VendorID != "" {
			parts = append(parts, "vendor_class="+quoteKV(l.VendorID))
		}
		if l.CaptiveURI != "" {
			parts = append(parts, "captive_uri="+l.CaptiveURI)
		}
	}
	if evt.Reason != "" {
		parts = append(parts, "reason="+quoteKV(evt.Reason))
	}
	return strings.Join(parts, " ")
}

// quoteKV quotes values that would break key=value parsing.
func quoteKV(s string) string {
	if strings.ContainsAny(s, " \"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func formatJSON(evt events.Event) string {
	data, err := json.Marshal(evt)
	if err != nil {
		return FormatMessage(evt)
	}
	return string(data)
}

// eventSeverity maps event types to syslog severity.
func eventSeverity(t events.EventType) int {
	switch t {
	case events.EventPoolExhausted:
		return SeverityWarning
	case events.EventServerStarted:
		return SeverityNotice
	default:
		return SeverityInfo
	}
}
