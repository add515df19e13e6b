// Package dhcp implements the captive DHCPv4 responder: wire codec, message
// classification, response building and the UDP server loop.
package dhcp

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Packet represents a decoded DHCPv4 message (RFC 2131 §2).
type Packet struct {
	Op     dhcpv4.OpCode       // Message op code: 1=BOOTREQUEST, 2=BOOTREPLY
	HType  dhcpv4.HardwareType // Hardware address type (1=Ethernet)
	HLen   byte                // Hardware address length (6 for Ethernet)
	Hops   byte                // Relay hops
	XID    uint32              // Transaction ID
	Secs   uint16              // Seconds elapsed
	Flags  uint16              // Flags (bit 0 = broadcast)
	CIAddr dhcpv4.IPAddress    // Client IP address
	YIAddr dhcpv4.IPAddress    // 'Your' (client) IP address
	SIAddr dhcpv4.IPAddress    // Next server IP address
	GIAddr dhcpv4.IPAddress    // Relay agent IP address
	CHAddr [dhcpv4.CHAddrGroupCount]uint32
	Magic  uint32 // Magic cookie
	// sname and file are not kept; they are written as zeros.
	Options Options
}

// NewPacket returns an empty Ethernet packet with the magic cookie set.
func NewPacket(op dhcpv4.OpCode) *Packet {
	return &Packet{
		Op:    op,
		HType: dhcpv4.HardwareTypeEthernet,
		HLen:  6,
		Magic: dhcpv4.MagicCookie,
	}
}

// DecodePacket parses a raw DHCPv4 packet from bytes.
//
// A buffer shorter than the fixed header yields the fields that fit plus
// ErrTruncatedPacket. An option whose declared length runs past the buffer
// also yields ErrTruncatedPacket; the fixed fields and the options before it
// are kept in the returned packet. A missing end option is tolerated.
func DecodePacket(data []byte) (*Packet, error) {
	p := &Packet{}
	r := fieldReader{data: data}

	p.Op = dhcpv4.OpCode(r.uint8(0))
	p.HType = dhcpv4.HardwareType(r.uint8(1))
	p.HLen = r.uint8(2)
	p.Hops = r.uint8(3)
	p.XID = r.uint32(4)
	p.Secs = r.uint16(8)
	p.Flags = r.uint16(10)
	p.CIAddr = dhcpv4.IPAddress(r.uint32(12))
	p.YIAddr = dhcpv4.IPAddress(r.uint32(16))
	p.SIAddr = dhcpv4.IPAddress(r.uint32(20))
	p.GIAddr = dhcpv4.IPAddress(r.uint32(24))
	for i := range p.CHAddr {
		p.CHAddr[i] = r.uint32(28 + 4*i)
	}
	p.Magic = r.uint32(dhcpv4.HeaderSize)

	if r.short {
		return p, fmt.Errorf("%w: %d bytes, fixed header needs %d",
			ErrTruncatedPacket, len(data), dhcpv4.OptionsOffset)
	}

	opts, err := DecodeOptions(data[dhcpv4.OptionsOffset:])
	p.Options = opts
	if err != nil {
		return p, fmt.Errorf("decoding options: %w", err)
	}
	return p, nil
}

// fieldReader reads big-endian fields at fixed offsets and never reads past
// the buffer. A field that does not fit reads as zero and sets short.
type fieldReader struct {
	data  []byte
	short bool
}

func (r *fieldReader) bytes(off, n int) []byte {
	if off+n > len(r.data) {
		r.short = true
		return nil
	}
	return r.data[off : off+n]
}

func (r *fieldReader) uint8(off int) byte {
	if b := r.bytes(off, 1); b != nil {
		return b[0]
	}
	return 0
}

func (r *fieldReader) uint16(off int) uint16 {
	if b := r.bytes(off, 2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *fieldReader) uint32(off int) uint32 {
	if b := r.bytes(off, 4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// Encode serializes the packet: fixed fields, 192 zero bytes, magic cookie,
// options in insertion order, end option.
func (p *Packet) Encode() ([]byte, error) {
	optBytes, err := p.Options.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding options: %w", err)
	}

	buf := make([]byte, dhcpv4.OptionsOffset, dhcpv4.OptionsOffset+len(optBytes)+1)
	buf[0] = byte(p.Op)
	buf[1] = byte(p.HType)
	buf[2] = p.HLen
	buf[3] = p.Hops
	binary.BigEndian.PutUint32(buf[4:8], p.XID)
	binary.BigEndian.PutUint16(buf[8:10], p.Secs)
	binary.BigEndian.PutUint16(buf[10:12], p.Flags)
	binary.BigEndian.PutUint32(buf[12:16], uint32(p.CIAddr))
	binary.BigEndian.PutUint32(buf[16:20], uint32(p.YIAddr))
	binary.BigEndian.PutUint32(buf[20:24], uint32(p.SIAddr))
	binary.BigEndian.PutUint32(buf[24:28], uint32(p.GIAddr))
	for i, g := range p.CHAddr {
		binary.BigEndian.PutUint32(buf[28+4*i:32+4*i], g)
	}
	// buf[44:236] stays zero (sname + file)
	binary.BigEndian.PutUint32(buf[dhcpv4.HeaderSize:dhcpv4.OptionsOffset], p.Magic)

	buf = append(buf, optBytes...)
	buf = append(buf, byte(dhcpv4.OptionEnd))
	return buf, nil
}

// Answer copies the transaction ID and client hardware address from src.
// Every reply starts with it.
func (p *Packet) Answer(src *Packet) {
	p.XID = src.XID
	p.CHAddr = src.CHAddr
}

// CHAddrBytes returns the 16-byte client hardware address field.
func (p *Packet) CHAddrBytes() []byte {
	b := make([]byte, 16)
	for i, g := range p.CHAddr {
		binary.BigEndian.PutUint32(b[4*i:], g)
	}
	return b
}

// SetCHAddr fills the client hardware address field from up to 16 bytes.
func (p *Packet) SetCHAddr(hw []byte) {
	b := make([]byte, 16)
	copy(b, hw)
	for i := range p.CHAddr {
		p.CHAddr[i] = binary.BigEndian.Uint32(b[4*i:])
	}
}

// MAC renders the first 6 bytes of chaddr as colon-separated hex.
func (p *Packet) MAC() string {
	return dhcpv4.FormatMAC(p.CHAddrBytes()[:6])
}

// MessageType returns the DHCP message type from option 53, or 0 if absent.
func (p *Packet) MessageType() dhcpv4.MessageType {
	v, ok := p.Options.Integer(dhcpv4.OptionDHCPMessageType)
	if !ok || v.Value > 0xFF {
		return 0
	}
	return dhcpv4.MessageType(v.Value)
}

// RequestedIP returns the address from option 50.
func (p *Packet) RequestedIP() (dhcpv4.IPAddress, bool) {
	return p.Options.IP(dhcpv4.OptionRequestedIP)
}

// Hostname returns the hostname from option 12.
func (p *Packet) Hostname() string {
	s, _ := p.Options.Text(dhcpv4.OptionHostname)
	return s
}

// VendorClassID returns the vendor class identifier from option 60.
func (p *Packet) VendorClassID() string {
	s, _ := p.Options.Text(dhcpv4.OptionVendorClassID)
	return s
}

// IsBroadcast returns true if the broadcast flag is set.
func (p *Packet) IsBroadcast() bool {
	return p.Flags&0x8000 != 0
}

// HasValidMagic reports whether the magic cookie is 99.130.83.99.
func (p *Packet) HasValidMagic() bool {
	return p.Magic == dhcpv4.MagicCookie
}

// packetView is the JSON shape used by String.
type packetView struct {
	Op      byte           `json:"op"`
	HType   byte           `json:"htype"`
	HLen    byte           `json:"hlen"`
	Hops    byte           `json:"hops"`
	XID     string         `json:"xid"`
	Secs    uint16         `json:"secs"`
	Flags   uint16         `json:"flags"`
	CIAddr  string         `json:"ciaddr"`
	YIAddr  string         `json:"yiaddr"`
	SIAddr  string         `json:"siaddr"`
	GIAddr  string         `json:"giaddr"`
	CHAddr  string         `json:"chaddr"`
	Groups  [4]string      `json:"chaddr_groups"`
	Magic   string         `json:"magic"`
	Options map[string]any `json:"options"`
}

// String renders the packet as JSON, with address options as dotted quads.
func (p *Packet) String() string {
	v := packetView{
		Op:      byte(p.Op),
		HType:   byte(p.HType),
		HLen:    p.HLen,
		Hops:    p.Hops,
		XID:     fmt.Sprintf("0x%08x", p.XID),
		Secs:    p.Secs,
		Flags:   p.Flags,
		CIAddr:  p.CIAddr.String(),
		YIAddr:  p.YIAddr.String(),
		SIAddr:  p.SIAddr.String(),
		GIAddr:  p.GIAddr.String(),
		CHAddr:  p.MAC(),
		Magic:   fmt.Sprintf("0x%08x", p.Magic),
		Options: make(map[string]any, p.Options.Len()),
	}
	for i, g := range p.CHAddr {
		v.Groups[i] = fmt.Sprintf("0x%08x", g)
	}
	for _, code := range p.Options.Codes() {
		val, _ := p.Options.Get(code)
		v.Options[strconv.Itoa(int(code))] = renderOption(code, val)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<packet xid=0x%08x: %v>", p.XID, err)
	}
	return string(b)
}

// renderOption converts a value to a JSON-friendly form.
func renderOption(code dhcpv4.OptionCode, v OptionValue) any {
	switch val := v.(type) {
	case Integer:
		if RuleFor(code).IsIP {
			return val.IP().String()
		}
		return val.Value
	case Text:
		return string(val)
	case IntegerList:
		return val.String()
	default:
		return nil
	}
}
