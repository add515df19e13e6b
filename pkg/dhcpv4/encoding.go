package dhcpv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrFormat is returned when a dotted-quad address string is malformed.
var ErrFormat = errors.New("malformed IPv4 address")

// IPAddress is an IPv4 address held as a 32-bit value in network byte order.
type IPAddress uint32

// ParseIPAddress parses a dotted-quad string such as "192.168.4.1".
func ParseIPAddress(s string) (IPAddress, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q has %d octets, want 4", ErrFormat, s, len(parts))
	}
	var v uint32
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return 0, fmt.Errorf("%w: %q octet %d is %q", ErrFormat, s, i, p)
		}
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %q octet %d: %v", ErrFormat, s, i, err)
		}
		if n > 255 {
			return 0, fmt.Errorf("%w: %q octet %d out of range: %d", ErrFormat, s, i, n)
		}
		v = v<<8 | uint32(n)
	}
	return IPAddress(v), nil
}

// MustParseIPAddress is like ParseIPAddress but panics on error. For tests and constants.
func MustParseIPAddress(s string) IPAddress {
	ip, err := ParseIPAddress(s)
	if err != nil {
		panic(err)
	}
	return ip
}

// String renders the address as a dotted quad. Zero renders as "0.0.0.0".
func (a IPAddress) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// Next returns the successor address. Wraps at 255.255.255.255.
func (a IPAddress) Next() IPAddress {
	return a + 1
}

// Bytes returns the 4-byte big-endian form.
func (a IPAddress) Bytes() []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(a))
	return b
}

// IsZero reports whether the address is 0.0.0.0.
func (a IPAddress) IsZero() bool {
	return a == 0
}

// Mask returns the network part of a under netmask.
func (a IPAddress) Mask(netmask IPAddress) IPAddress {
	return a & netmask
}

// Broadcast returns the directed broadcast address of a's subnet.
func (a IPAddress) Broadcast(netmask IPAddress) IPAddress {
	return a | ^netmask
}

// ToNetIP converts to a net.IP.
func (a IPAddress) ToNetIP() net.IP {
	return net.IPv4(byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// MarshalText implements encoding.TextMarshaler so addresses render as dotted quads in JSON.
func (a IPAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *IPAddress) UnmarshalText(text []byte) error {
	ip, err := ParseIPAddress(string(text))
	if err != nil {
		return err
	}
	*a = ip
	return nil
}

// IPAddressFromBytes converts a 4-byte slice. Returns false for any other length.
func IPAddressFromBytes(b []byte) (IPAddress, bool) {
	if len(b) != 4 {
		return 0, false
	}
	return IPAddress(binary.BigEndian.Uint32(b)), true
}

// FromNetIP converts a net.IP. Non-IPv4 addresses return false.
func FromNetIP(ip net.IP) (IPAddress, bool) {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, false
	}
	return IPAddress(binary.BigEndian.Uint32(ip4)), true
}

// IsContiguousMask reports whether m is a valid netmask (ones followed by zeros).
func IsContiguousMask(m IPAddress) bool {
	inv := ^uint32(m)
	return inv&(inv+1) == 0
}

// FormatMAC formats bytes as a MAC address string.
func FormatMAC(b []byte) string {
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, ":")
}
