package dhcp

import (
	"fmt"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// CaptiveURI returns the landing page address advertised in option 114.
func CaptiveURI(serverIP dhcpv4.IPAddress) string {
	return "http://" + serverIP.String()
}

// setNetworkOptions writes the options shared by OFFER and ACK. The server
// is router, DHCP server and DNS resolver for the captive subnet.
func setNetworkOptions(p *Packet, serverIP, netmask dhcpv4.IPAddress) {
	p.Options.Set(dhcpv4.OptionRouter, IP(serverIP))
	p.Options.Set(dhcpv4.OptionServerIdentifier, IP(serverIP))
	p.Options.Set(dhcpv4.OptionDomainNameServer, IP(serverIP))
	p.Options.Set(dhcpv4.OptionSubnetMask, IP(netmask))
	p.Options.Set(dhcpv4.OptionIPLeaseTime, Uint(4, dhcpv4.DefaultLeaseSeconds))
}

// BuildOffer answers a DHCPDISCOVER with a DHCPOFFER for clientIP.
// RFC 2131 §4.3.1
func BuildOffer(d Discover, clientIP, serverIP, netmask dhcpv4.IPAddress) (Offer, error) {
	if d.Packet == nil {
		return Offer{}, fmt.Errorf("building offer: nil discover")
	}
	o := NewOffer()
	o.Answer(d.Packet)
	o.YIAddr = clientIP
	o.SIAddr = serverIP
	setNetworkOptions(o.Packet, serverIP, netmask)
	return o, nil
}

// BuildAck answers a DHCPREQUEST with a DHCPACK for the address the client
// asked for in option 50, and points it at the captive portal.
// RFC 2131 §4.3.2
func BuildAck(r Request, serverIP, netmask dhcpv4.IPAddress) (Ack, error) {
	if r.Packet == nil {
		return Ack{}, fmt.Errorf("building ack: nil request")
	}
	requested, ok := r.RequestedIP()
	if !ok {
		return Ack{}, fmt.Errorf("building ack for %s: %w: requested IP (option 50)",
			r.MAC(), ErrMissingRequiredOption)
	}

	a := NewAck()
	a.Answer(r.Packet)
	a.YIAddr = requested
	a.SIAddr = serverIP
	setNetworkOptions(a.Packet, serverIP, netmask)
	a.Options.Set(dhcpv4.OptionCaptivePortal, Text(CaptiveURI(serverIP)))
	return a, nil
}
