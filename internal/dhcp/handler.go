package dhcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/captive-dhcpd/captive-dhcpd/internal/events"
	"github.com/captive-dhcpd/captive-dhcpd/internal/lease"
	"github.com/captive-dhcpd/captive-dhcpd/internal/metrics"
	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Handler turns one received datagram into at most one reply.
//
// The exchange is DISCOVER → OFFER, REQUEST → ACK. Everything else is
// ignored. Addresses are handed out upward from the server IP.
type Handler struct {
	serverIP dhcpv4.IPAddress
	netmask  dhcpv4.IPAddress
	leases   *lease.Allocator
	limiter  *RateLimiter
	bus      *events.Bus
	logger   *slog.Logger
	now      func() time.Time

	hostnames HostnameSanitiser
}

// HostnameSanitiser cleans a client-supplied hostname before it is stored.
type HostnameSanitiser interface {
	Sanitise(name, mac string) string
}

// NewHandler creates a DHCP message handler. limiter and bus may be nil.
func NewHandler(
	serverIP, netmask dhcpv4.IPAddress,
	leases *lease.Allocator,
	limiter *RateLimiter,
	bus *events.Bus,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		serverIP: serverIP,
		netmask:  netmask,
		leases:   leases,
		limiter:  limiter,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
	}
}

// SetHostnameSanitiser makes the handler store cleaned hostnames with
// leases and events. Replies are unaffected.
func (h *Handler) SetHostnameSanitiser(s HostnameSanitiser) {
	h.hostnames = s
}

// clientHostname returns option 12 of p, cleaned if a sanitiser is set.
func (h *Handler) clientHostname(p *Packet) string {
	name := p.Hostname()
	if h.hostnames == nil || name == "" {
		return name
	}
	return h.hostnames.Sanitise(name, p.MAC())
}

// ServerIP returns the address the handler answers as.
func (h *Handler) ServerIP() dhcpv4.IPAddress {
	return h.serverIP
}

// Handle decodes a datagram and builds the reply. A nil Message with a nil
// error means the packet is valid but needs no answer.
func (h *Handler) Handle(ctx context.Context, data []byte) (Message, error) {
	pkt, err := DecodePacket(data)
	if err != nil {
		return nil, err
	}
	if !pkt.HasValidMagic() {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagicCookie, pkt.Magic)
	}
	if pkt.Op != dhcpv4.OpCodeBootRequest {
		metrics.PacketsIgnored.WithLabelValues("reply_op").Inc()
		return nil, nil
	}

	msg, err := Classify(pkt)
	if err != nil {
		metrics.PacketsIgnored.WithLabelValues("unknown_type").Inc()
		h.logger.Debug("ignoring DHCP packet",
			"mac", pkt.MAC(),
			"xid", fmt.Sprintf("%08x", pkt.XID),
			"reason", err.Error())
		return nil, nil
	}

	metrics.PacketsReceived.WithLabelValues(msg.Kind().String()).Inc()
	start := time.Now()
	defer func() {
		metrics.PacketProcessingDuration.WithLabelValues(msg.Kind().String()).
			Observe(time.Since(start).Seconds())
	}()

	switch m := msg.(type) {
	case Discover:
		return h.handleDiscover(ctx, m)
	case Request:
		return h.handleRequest(ctx, m)
	default:
		// OFFER and ACK from a client make no sense; stay quiet.
		metrics.PacketsIgnored.WithLabelValues("unhandled_type").Inc()
		h.logger.Debug("ignoring DHCP message",
			"msg_type", msg.Kind().String(),
			"mac", pkt.MAC())
		return nil, nil
	}
}

// handleDiscover processes DHCPDISCOVER → DHCPOFFER.
// RFC 2131 §4.3.1
func (h *Handler) handleDiscover(_ context.Context, d Discover) (Message, error) {
	mac := d.MAC()

	if !h.limiter.Allow(mac) {
		metrics.RateLimited.Inc()
		h.logger.Debug("DHCPDISCOVER rate limited", "mac", mac)
		return nil, nil
	}

	h.logger.Info("DHCPDISCOVER",
		"mac", mac,
		"xid", fmt.Sprintf("%08x", d.XID),
		"hostname", d.Hostname(),
		"vendor_class", d.VendorClassID())
	h.publish(events.EventLeaseDiscover, d.Packet, 0, "")

	clientIP, err := h.leases.Allocate(h.serverIP, mac)
	if err != nil {
		if errors.Is(err, lease.ErrPoolExhausted) {
			metrics.PoolExhausted.Inc()
			h.publish(events.EventPoolExhausted, d.Packet, 0, err.Error())
		}
		return nil, fmt.Errorf("allocating address: %w", err)
	}

	offer, err := BuildOffer(d, clientIP, h.serverIP, h.netmask)
	if err != nil {
		return nil, err
	}

	metrics.LeaseOperations.WithLabelValues("offer").Inc()
	h.updateLeaseGauges()
	h.logger.Info("DHCPOFFER", "mac", mac, "ip", clientIP.String())
	h.publish(events.EventLeaseOffer, d.Packet, clientIP, "")
	return offer, nil
}

// handleRequest processes DHCPREQUEST → DHCPACK. Every request is
// acknowledged; the captive portal does the gatekeeping.
// RFC 2131 §4.3.2
func (h *Handler) handleRequest(_ context.Context, r Request) (Message, error) {
	mac := r.MAC()

	ack, err := BuildAck(r, h.serverIP, h.netmask)
	if err != nil {
		return nil, err
	}

	h.logger.Info("DHCPREQUEST",
		"mac", mac,
		"xid", fmt.Sprintf("%08x", r.XID),
		"requested_ip", ack.YIAddr.String(),
		"hostname", r.Hostname())

	if _, err := h.leases.Confirm(mac, ack.YIAddr, h.clientHostname(r.Packet)); err != nil {
		h.logger.Warn("acknowledging address held by another client",
			"mac", mac,
			"ip", ack.YIAddr.String(),
			"error", err)
	}

	metrics.LeaseOperations.WithLabelValues("ack").Inc()
	h.updateLeaseGauges()
	h.logger.Info("DHCPACK",
		"mac", mac,
		"ip", ack.YIAddr.String(),
		"captive_uri", CaptiveURI(h.serverIP))
	h.publish(events.EventLeaseAck, r.Packet, ack.YIAddr, "")
	return ack, nil
}

func (h *Handler) updateLeaseGauges() {
	counts := h.leases.CountByState()
	metrics.LeasesOffered.Set(float64(counts[dhcpv4.LeaseStateOffered]))
	metrics.LeasesAcked.Set(float64(counts[dhcpv4.LeaseStateAcked]))
}

// publish fires a lease event about the client that sent p, if a bus is
// attached.
func (h *Handler) publish(t events.EventType, p *Packet, ip dhcpv4.IPAddress, reason string) {
	if h.bus == nil {
		return
	}
	data := &events.LeaseData{
		IP:       ip,
		MAC:      p.MAC(),
		XID:      p.XID,
		Hostname: h.clientHostname(p),
		VendorID: p.VendorClassID(),
		ServerIP: h.serverIP,
	}
	switch t {
	case events.EventLeaseOffer:
		data.State = string(dhcpv4.LeaseStateOffered)
	case events.EventLeaseAck:
		data.State = string(dhcpv4.LeaseStateAcked)
		data.CaptiveURI = CaptiveURI(h.serverIP)
	}
	h.bus.Publish(events.Event{
		Type:      t,
		Timestamp: h.now(),
		Lease:     data,
		Reason:    reason,
	})
}
