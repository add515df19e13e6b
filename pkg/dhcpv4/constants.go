// Package dhcpv4 provides constants and address helpers for DHCPv4 packets.
package dhcpv4

// DHCP Message Types (RFC 2131 §9.6)
type MessageType byte

const (
	MessageTypeDiscover MessageType = 1 // DHCPDISCOVER
	MessageTypeOffer    MessageType = 2 // DHCPOFFER
	MessageTypeRequest  MessageType = 3 // DHCPREQUEST
	MessageTypeDecline  MessageType = 4 // DHCPDECLINE
	MessageTypeAck      MessageType = 5 // DHCPACK
	MessageTypeNak      MessageType = 6 // DHCPNAK
	MessageTypeRelease  MessageType = 7 // DHCPRELEASE
	MessageTypeInform   MessageType = 8 // DHCPINFORM
)

func (m MessageType) String() string {
	switch m {
	case MessageTypeDiscover:
		return "DHCPDISCOVER"
	case MessageTypeOffer:
		return "DHCPOFFER"
	case MessageTypeRequest:
		return "DHCPREQUEST"
	case MessageTypeDecline:
		return "DHCPDECLINE"
	case MessageTypeAck:
		return "DHCPACK"
	case MessageTypeNak:
		return "DHCPNAK"
	case MessageTypeRelease:
		return "DHCPRELEASE"
	case MessageTypeInform:
		return "DHCPINFORM"
	default:
		return "UNKNOWN"
	}
}

// DHCP Op Codes (RFC 2131 §2)
type OpCode byte

const (
	OpCodeBootRequest OpCode = 1 // BOOTREQUEST
	OpCodeBootReply   OpCode = 2 // BOOTREPLY
)

// Hardware Types (RFC 1700)
type HardwareType byte

const (
	HardwareTypeEthernet HardwareType = 1
)

// DHCP Option Codes understood by the captive responder.
type OptionCode byte

const (
	OptionPad                  OptionCode = 0
	OptionSubnetMask           OptionCode = 1
	OptionRouter               OptionCode = 3
	OptionDomainNameServer     OptionCode = 6
	OptionHostname             OptionCode = 12
	OptionDomainName           OptionCode = 15
	OptionRequestedIP          OptionCode = 50
	OptionIPLeaseTime          OptionCode = 51
	OptionDHCPMessageType      OptionCode = 53
	OptionServerIdentifier     OptionCode = 54
	OptionParameterRequestList OptionCode = 55
	OptionMaxDHCPMessageSize   OptionCode = 57
	OptionRenewalTime          OptionCode = 58
	OptionRebindingTime        OptionCode = 59
	OptionVendorClassID        OptionCode = 60
	OptionClientIdentifier     OptionCode = 61
	OptionCaptivePortal        OptionCode = 114 // RFC 8910
	OptionEnd                  OptionCode = 255
)

// Fixed header layout (RFC 2131 §2).
const (
	HeaderSize       = 236 // op through file
	LegacySize       = 192 // sname (64) + file (128), always zero on the wire
	OptionsOffset    = 240 // header + magic cookie
	CHAddrGroupCount = 4
)

// DHCP Ports
const (
	ServerPort = 67
	ClientPort = 68
)

// MagicCookie is the DHCP magic cookie (RFC 2131 §3), 99.130.83.99.
const MagicCookie uint32 = 0x63825363

// DefaultLeaseSeconds is the fixed lease time handed to every client (1 day).
const DefaultLeaseSeconds = 86400

// MaxPacketSize is the receive buffer size. A datagram that fills it may
// have been cut short and is dropped.
const MaxPacketSize = 2048

// LeaseState tracks where a client is in the DISCOVER/REQUEST exchange.
type LeaseState string

const (
	LeaseStateOffered LeaseState = "offered"
	LeaseStateAcked   LeaseState = "acked"
)
