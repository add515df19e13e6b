package dhcpv4

import (
	"errors"
	"net"
	"testing"
)

func TestParseIPAddress(t *testing.T) {
	tests := []struct {
		in   string
		want IPAddress
	}{
		{"0.0.0.0", 0},
		{"255.255.255.255", 0xFFFFFFFF},
		{"192.168.1.1", 0xC0A80101},
		{"10.0.0.1", 0x0A000001},
		{"172.16.0.1", 0xAC100001},
	}
	for _, tt := range tests {
		got, err := ParseIPAddress(tt.in)
		if err != nil {
			t.Errorf("ParseIPAddress(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseIPAddress(%q) = 0x%08X, want 0x%08X", tt.in, uint32(got), uint32(tt.want))
		}
	}
}

func TestParseIPAddressInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"192.168.1",
		"192.168.1.1.1",
		"192.168.1.256",
		"192.168.-1.1",
		"a.b.c.d",
		"192..1.1",
		"1.2.3.0004",
	} {
		if _, err := ParseIPAddress(in); !errors.Is(err, ErrFormat) {
			t.Errorf("ParseIPAddress(%q) error = %v, want ErrFormat", in, err)
		}
	}
}

func TestIPAddressStringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"0.0.0.0",
		"255.255.255.255",
		"192.168.56.3",
		"10.151.1.1",
		"1.2.3.4",
	} {
		ip, err := ParseIPAddress(s)
		if err != nil {
			t.Fatalf("ParseIPAddress(%q): %v", s, err)
		}
		if got := ip.String(); got != s {
			t.Errorf("roundtrip %q -> %q", s, got)
		}
	}
}

func TestIPAddressZeroString(t *testing.T) {
	if got := IPAddress(0).String(); got != "0.0.0.0" {
		t.Errorf("IPAddress(0).String() = %q, want 0.0.0.0", got)
	}
}

func TestIPAddressNext(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"192.168.1.4", "192.168.1.5"},
		{"192.168.1.255", "192.168.2.0"},
		{"10.255.255.255", "11.0.0.0"},
		{"255.255.255.255", "0.0.0.0"},
	}
	for _, tt := range tests {
		if got := MustParseIPAddress(tt.in).Next().String(); got != tt.want {
			t.Errorf("Next(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestIPAddressBytes(t *testing.T) {
	b := MustParseIPAddress("192.168.1.1").Bytes()
	if len(b) != 4 || b[0] != 192 || b[1] != 168 || b[2] != 1 || b[3] != 1 {
		t.Errorf("Bytes() = %v, want [192 168 1 1]", b)
	}

	ip, ok := IPAddressFromBytes([]byte{10, 0, 0, 1})
	if !ok || ip.String() != "10.0.0.1" {
		t.Errorf("IPAddressFromBytes = %s, %v", ip, ok)
	}
	if _, ok := IPAddressFromBytes([]byte{1, 2}); ok {
		t.Error("IPAddressFromBytes(short) should fail")
	}
}

func TestNetIPConversion(t *testing.T) {
	ip := MustParseIPAddress("172.16.254.254")
	if !ip.ToNetIP().Equal(net.IPv4(172, 16, 254, 254)) {
		t.Errorf("ToNetIP = %s", ip.ToNetIP())
	}
	back, ok := FromNetIP(ip.ToNetIP())
	if !ok || back != ip {
		t.Errorf("FromNetIP = %s, %v", back, ok)
	}
	if _, ok := FromNetIP(net.ParseIP("::1")); ok {
		t.Error("FromNetIP(::1) should fail")
	}
}

func TestMaskAndBroadcast(t *testing.T) {
	ip := MustParseIPAddress("192.168.4.1")
	mask := MustParseIPAddress("255.255.255.0")
	if got := ip.Mask(mask).String(); got != "192.168.4.0" {
		t.Errorf("Mask = %s, want 192.168.4.0", got)
	}
	if got := ip.Broadcast(mask).String(); got != "192.168.4.255" {
		t.Errorf("Broadcast = %s, want 192.168.4.255", got)
	}
}

func TestIsContiguousMask(t *testing.T) {
	tests := []struct {
		mask string
		want bool
	}{
		{"255.255.255.0", true},
		{"255.255.0.0", true},
		{"255.255.255.255", true},
		{"0.0.0.0", true},
		{"255.0.255.0", false},
		{"255.255.255.1", false},
	}
	for _, tt := range tests {
		if got := IsContiguousMask(MustParseIPAddress(tt.mask)); got != tt.want {
			t.Errorf("IsContiguousMask(%s) = %v, want %v", tt.mask, got, tt.want)
		}
	}
}

func TestIPAddressText(t *testing.T) {
	var ip IPAddress
	if err := ip.UnmarshalText([]byte("192.168.56.2")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	b, _ := ip.MarshalText()
	if string(b) != "192.168.56.2" {
		t.Errorf("MarshalText = %q", b)
	}
	if err := ip.UnmarshalText([]byte("nope")); err == nil {
		t.Error("expected error for invalid text")
	}
}

func TestFormatMAC(t *testing.T) {
	got := FormatMAC([]byte{0x8c, 0x45, 0x00, 0x1d, 0x48, 0x16})
	if got != "8c:45:00:1d:48:16" {
		t.Errorf("FormatMAC = %q", got)
	}
}
