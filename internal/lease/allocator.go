package lease

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Allocator hands out one address per MAC, counting up from a pool base.
// Addresses are never expired or returned to the pool.
type Allocator struct {
	mu      sync.Mutex
	byIP    map[dhcpv4.IPAddress]*Lease
	byMAC   map[string]*Lease
	retired map[dhcpv4.IPAddress]struct{} // left behind by a client that moved
	limit   dhcpv4.IPAddress              // 0 = unbounded
	now     func() time.Time
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLimit sets the last address the allocator may hand out.
func WithLimit(last dhcpv4.IPAddress) Option {
	return func(a *Allocator) { a.limit = last }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Allocator) { a.now = now }
}

// NewAllocator creates an empty allocator.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		byIP:  make(map[dhcpv4.IPAddress]*Lease),
		byMAC: make(map[string]*Lease),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate returns the address for mac. A MAC that already holds an address
// gets it back. Otherwise the first free address after poolBase is recorded
// as offered and returned.
func (a *Allocator) Allocate(poolBase dhcpv4.IPAddress, mac string) (dhcpv4.IPAddress, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if l, ok := a.byMAC[mac]; ok {
		return l.IP, nil
	}

	candidate := poolBase.Next()
	for {
		if candidate == poolBase || (a.limit != 0 && candidate > a.limit) {
			return 0, fmt.Errorf("allocating for %s after %s: %w", mac, poolBase, ErrPoolExhausted)
		}
		_, taken := a.byIP[candidate]
		_, retired := a.retired[candidate]
		if !taken && !retired {
			break
		}
		candidate = candidate.Next()
	}

	l := &Lease{
		IP:        candidate,
		MAC:       mac,
		State:     dhcpv4.LeaseStateOffered,
		Allocated: a.now(),
	}
	a.byIP[candidate] = l
	a.byMAC[mac] = l
	return candidate, nil
}

// Confirm marks the lease for mac as acknowledged at ip. A client that
// requests an address it was not offered (for example after a restart) is
// moved to that address when no other MAC holds it. The address it leaves
// is retired: Allocate never hands it out again.
func (a *Allocator) Confirm(mac string, ip dhcpv4.IPAddress, hostname string) (Lease, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if holder, ok := a.byIP[ip]; ok && holder.MAC != mac {
		return Lease{}, fmt.Errorf("confirming %s for %s (held by %s): %w", ip, mac, holder.MAC, ErrAddressInUse)
	}

	now := a.now()
	l, ok := a.byMAC[mac]
	switch {
	case !ok:
		l = &Lease{IP: ip, MAC: mac, Allocated: now}
		a.byMAC[mac] = l
		a.byIP[ip] = l
	case l.IP != ip:
		delete(a.byIP, l.IP)
		a.retired[l.IP] = struct{}{}
		l.IP = ip
		a.byIP[ip] = l
	}
	delete(a.retired, ip)
	l.State = dhcpv4.LeaseStateAcked
	l.Confirmed = now
	if hostname != "" {
		l.Hostname = hostname
	}
	return *l, nil
}

// Lookup returns the lease held by mac.
func (a *Allocator) Lookup(mac string) (Lease, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.byMAC[mac]
	if !ok {
		return Lease{}, false
	}
	return *l, true
}

// Holder returns the lease for an address.
func (a *Allocator) Holder(ip dhcpv4.IPAddress) (Lease, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.byIP[ip]
	if !ok {
		return Lease{}, false
	}
	return *l, true
}

// Leases returns a snapshot of all leases ordered by address.
func (a *Allocator) Leases() []Lease {
	a.mu.Lock()
	out := make([]Lease, 0, len(a.byIP))
	for _, l := range a.byIP {
		out = append(out, *l)
	}
	a.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

// Count returns the number of allocated addresses.
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byIP)
}

// CountByState returns the number of leases in each state.
func (a *Allocator) CountByState() map[dhcpv4.LeaseState]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts := make(map[dhcpv4.LeaseState]int, 2)
	for _, l := range a.byIP {
		counts[l.State]++
	}
	return counts
}
