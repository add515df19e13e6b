// Package lease tracks which address each captive client has been given.
package lease

import (
	"errors"
	"time"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

var (
	// ErrPoolExhausted means no free address is left between the pool base and the limit.
	ErrPoolExhausted = errors.New("address pool exhausted")

	// ErrAddressInUse means the address is already held by a different MAC.
	ErrAddressInUse = errors.New("address already allocated to another client")
)

// Lease associates an allocated address with a client MAC.
type Lease struct {
	IP        dhcpv4.IPAddress  `json:"ip"`
	MAC       string            `json:"mac"`
	Hostname  string            `json:"hostname,omitempty"`
	State     dhcpv4.LeaseState `json:"state"`
	Allocated time.Time         `json:"allocated"`
	Confirmed time.Time         `json:"confirmed,omitzero"`
}

// Age returns how long ago the address was handed out.
func (l *Lease) Age(now time.Time) time.Duration {
	return now.Sub(l.Allocated)
}
