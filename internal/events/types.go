// Package events provides the event bus and webhook dispatcher for captive-dhcpd.
package events

import (
	"time"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// EventType represents a DHCP lifecycle event.
type EventType string

const (
	EventLeaseDiscover EventType = "lease.discover"
	EventLeaseOffer    EventType = "lease.offer"
	EventLeaseAck      EventType = "lease.ack"
	EventPoolExhausted EventType = "pool.exhausted"
	EventServerStarted EventType = "server.started"
)

// Event is the core event payload passed through the event bus.
type Event struct {
	Type      EventType  `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	Lease     *LeaseData `json:"lease,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// LeaseData carries lease information in events.
type LeaseData struct {
	IP         dhcpv4.IPAddress `json:"ip"`
	MAC        string           `json:"mac"`
	XID        uint32           `json:"xid"`
	Hostname   string           `json:"hostname,omitempty"`
	VendorID   string           `json:"vendor_class_id,omitempty"`
	ServerIP   dhcpv4.IPAddress `json:"server_ip"`
	CaptiveURI string           `json:"captive_uri,omitempty"`
	State      string           `json:"state,omitempty"`
}
