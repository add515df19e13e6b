package dhcp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

var (
	testServerIP = dhcpv4.MustParseIPAddress("192.168.4.1")
	testNetmask  = dhcpv4.MustParseIPAddress("255.255.255.0")
)

func decodeDiscover(t *testing.T, data []byte) Discover {
	t.Helper()
	pkt, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("DecodePacket error: %v", err)
	}
	return Discover{pkt}
}

func decodeRequest(t *testing.T, data []byte) Request {
	t.Helper()
	pkt, err := DecodePacket(data)
	if err != nil {
		t.Fatalf("DecodePacket error: %v", err)
	}
	return Request{pkt}
}

func TestBuildOffer(t *testing.T) {
	d := decodeDiscover(t, discoverAndroid(t))
	clientIP := dhcpv4.MustParseIPAddress("192.168.4.250")

	offer, err := BuildOffer(d, clientIP, testServerIP, testNetmask)
	if err != nil {
		t.Fatalf("BuildOffer error: %v", err)
	}

	if offer.Op != dhcpv4.OpCodeBootReply {
		t.Errorf("Op = %d, want 2", offer.Op)
	}
	if offer.XID != 0xEABEC397 {
		t.Errorf("XID = 0x%08X, want 0xEABEC397", offer.XID)
	}
	if offer.CHAddr != d.CHAddr {
		t.Errorf("CHAddr = %08x, want %08x", offer.CHAddr, d.CHAddr)
	}
	if offer.YIAddr != clientIP {
		t.Errorf("YIAddr = %s, want %s", offer.YIAddr, clientIP)
	}
	if offer.SIAddr != testServerIP {
		t.Errorf("SIAddr = %s, want %s", offer.SIAddr, testServerIP)
	}
	if offer.CIAddr != 0 || offer.GIAddr != 0 {
		t.Errorf("CIAddr/GIAddr = %s/%s, want zero", offer.CIAddr, offer.GIAddr)
	}
	if offer.MessageType() != dhcpv4.MessageTypeOffer {
		t.Errorf("MessageType = %s", offer.MessageType())
	}

	for _, code := range []dhcpv4.OptionCode{
		dhcpv4.OptionRouter, dhcpv4.OptionServerIdentifier, dhcpv4.OptionDomainNameServer,
	} {
		if ip, _ := offer.Options.IP(code); ip != testServerIP {
			t.Errorf("option %d = %s, want %s", code, ip, testServerIP)
		}
	}
	if mask, _ := offer.Options.IP(dhcpv4.OptionSubnetMask); mask != testNetmask {
		t.Errorf("subnet mask = %s", mask)
	}
	if lt, _ := offer.Options.Integer(dhcpv4.OptionIPLeaseTime); lt.Value != 86400 {
		t.Errorf("lease time = %d, want 86400", lt.Value)
	}
	if offer.Options.Has(dhcpv4.OptionCaptivePortal) {
		t.Error("OFFER should not carry the captive portal option")
	}

	want := []dhcpv4.OptionCode{53, 3, 54, 6, 1, 51}
	got := offer.Options.Codes()
	if len(got) != len(want) {
		t.Fatalf("codes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("codes = %v, want %v", got, want)
		}
	}
}

func TestBuildOfferWire(t *testing.T) {
	d := decodeDiscover(t, discoverAndroid(t))
	offer, err := BuildOffer(d, dhcpv4.MustParseIPAddress("192.168.4.250"), testServerIP, testNetmask)
	if err != nil {
		t.Fatal(err)
	}

	b, err := offer.Encode()
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	wantOpts := unhex(t, `350102 0304c0a80401 3604c0a80401 0604c0a80401 0104ffffff00 330400015180 ff`)
	if !bytes.Equal(b[dhcpv4.OptionsOffset:], wantOpts) {
		t.Errorf("options = %x\nwant      %x", b[dhcpv4.OptionsOffset:], wantOpts)
	}
	if !bytes.Equal(b[16:24], []byte{192, 168, 4, 250, 192, 168, 4, 1}) {
		t.Errorf("yiaddr/siaddr = %v", b[16:24])
	}
}

func TestBuildOfferNilDiscover(t *testing.T) {
	if _, err := BuildOffer(Discover{}, 1, 2, 3); err == nil {
		t.Error("expected error for empty discover")
	}
}

func TestBuildAck(t *testing.T) {
	r := decodeRequest(t, requestLinux(t))
	serverIP := dhcpv4.MustParseIPAddress("192.168.56.2")

	ack, err := BuildAck(r, serverIP, testNetmask)
	if err != nil {
		t.Fatalf("BuildAck error: %v", err)
	}

	if ack.XID != 0x2ef9317f {
		t.Errorf("XID = 0x%08x, want 0x2ef9317f", ack.XID)
	}
	if ack.MAC() != "08:00:27:92:1f:ae" {
		t.Errorf("MAC = %s", ack.MAC())
	}
	if ack.YIAddr.String() != "192.168.56.3" {
		t.Errorf("YIAddr = %s, want 192.168.56.3", ack.YIAddr)
	}
	if ack.SIAddr != serverIP {
		t.Errorf("SIAddr = %s, want %s", ack.SIAddr, serverIP)
	}
	if ack.MessageType() != dhcpv4.MessageTypeAck {
		t.Errorf("MessageType = %s", ack.MessageType())
	}
	if uri, _ := ack.Options.Text(dhcpv4.OptionCaptivePortal); uri != "http://192.168.56.2" {
		t.Errorf("captive portal = %q, want http://192.168.56.2", uri)
	}
	if sid, _ := ack.Options.IP(dhcpv4.OptionServerIdentifier); sid != serverIP {
		t.Errorf("server identifier = %s", sid)
	}

	codes := ack.Options.Codes()
	if codes[0] != dhcpv4.OptionDHCPMessageType || codes[len(codes)-1] != dhcpv4.OptionCaptivePortal {
		t.Errorf("codes = %v, want 53 first and 114 last", codes)
	}
}

func TestBuildAckAndroid(t *testing.T) {
	r := decodeRequest(t, requestAndroid(t))

	ack, err := BuildAck(r, testServerIP, testNetmask)
	if err != nil {
		t.Fatalf("BuildAck error: %v", err)
	}
	if ack.YIAddr.String() != "192.168.1.166" {
		t.Errorf("YIAddr = %s, want 192.168.1.166", ack.YIAddr)
	}
	if ack.XID != 0xEABEC397 {
		t.Errorf("XID = 0x%08X", ack.XID)
	}
}

func TestBuildAckMissingRequestedIP(t *testing.T) {
	r := NewRequest()
	r.XID = 0x1234
	r.SetCHAddr([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})

	_, err := BuildAck(r, testServerIP, testNetmask)
	if !errors.Is(err, ErrMissingRequiredOption) {
		t.Fatalf("err = %v, want ErrMissingRequiredOption", err)
	}
}

func TestCaptiveURI(t *testing.T) {
	if got := CaptiveURI(dhcpv4.MustParseIPAddress("10.0.0.1")); got != "http://10.0.0.1" {
		t.Errorf("CaptiveURI = %q", got)
	}
}
