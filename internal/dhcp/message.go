package dhcp

import (
	"fmt"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Message is one of Discover, Offer, Request or Ack. The set is closed.
type Message interface {
	Kind() dhcpv4.MessageType
	Base() *Packet
	message()
}

// Discover is a DHCPDISCOVER (op 1, type 1).
type Discover struct{ *Packet }

// Offer is a DHCPOFFER (op 2, type 2).
type Offer struct{ *Packet }

// Request is a DHCPREQUEST (op 1, type 3).
type Request struct{ *Packet }

// Ack is a DHCPACK (op 2, type 5).
type Ack struct{ *Packet }

func (Discover) Kind() dhcpv4.MessageType { return dhcpv4.MessageTypeDiscover }
func (Offer) Kind() dhcpv4.MessageType    { return dhcpv4.MessageTypeOffer }
func (Request) Kind() dhcpv4.MessageType  { return dhcpv4.MessageTypeRequest }
func (Ack) Kind() dhcpv4.MessageType      { return dhcpv4.MessageTypeAck }

func (m Discover) Base() *Packet { return m.Packet }
func (m Offer) Base() *Packet    { return m.Packet }
func (m Request) Base() *Packet  { return m.Packet }
func (m Ack) Base() *Packet      { return m.Packet }

func (Discover) message() {}
func (Offer) message()    {}
func (Request) message()  {}
func (Ack) message()      {}

// newMessagePacket builds an empty packet with the op code and option 53
// set, option 53 first in encode order.
func newMessagePacket(op dhcpv4.OpCode, t dhcpv4.MessageType) *Packet {
	p := NewPacket(op)
	p.Options.Set(dhcpv4.OptionDHCPMessageType, Uint(1, uint64(t)))
	return p
}

// NewDiscover returns an empty DHCPDISCOVER.
func NewDiscover() Discover {
	return Discover{newMessagePacket(dhcpv4.OpCodeBootRequest, dhcpv4.MessageTypeDiscover)}
}

// NewOffer returns an empty DHCPOFFER.
func NewOffer() Offer {
	return Offer{newMessagePacket(dhcpv4.OpCodeBootReply, dhcpv4.MessageTypeOffer)}
}

// NewRequest returns an empty DHCPREQUEST.
func NewRequest() Request {
	return Request{newMessagePacket(dhcpv4.OpCodeBootRequest, dhcpv4.MessageTypeRequest)}
}

// NewAck returns an empty DHCPACK.
func NewAck() Ack {
	return Ack{newMessagePacket(dhcpv4.OpCodeBootReply, dhcpv4.MessageTypeAck)}
}

// Classify wraps a packet in the variant named by its option 53. Any other
// value, or a missing option, returns ErrUnknownMessageType.
func Classify(p *Packet) (Message, error) {
	switch t := p.MessageType(); t {
	case dhcpv4.MessageTypeDiscover:
		return Discover{p}, nil
	case dhcpv4.MessageTypeOffer:
		return Offer{p}, nil
	case dhcpv4.MessageTypeRequest:
		return Request{p}, nil
	case dhcpv4.MessageTypeAck:
		return Ack{p}, nil
	case 0:
		return nil, fmt.Errorf("%w: option 53 absent", ErrUnknownMessageType)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, t)
	}
}
