package dhcp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// OptionValue is the decoded value of one option. It is one of Integer,
// Text or IntegerList.
type OptionValue interface {
	optionValue()
}

// Integer is a big-endian unsigned integer option. Width is the encoded byte
// width for codes without a fixed width; 0 means the minimal width.
type Integer struct {
	Width int
	Value uint64
}

// Text is a UTF-8 string option.
type Text string

// IntegerList is a list of 1-byte integers, rendered as "1,3,6".
type IntegerList []byte

func (Integer) optionValue()     {}
func (Text) optionValue()        {}
func (IntegerList) optionValue() {}

// IP builds a 4-byte integer option holding an address.
func IP(a dhcpv4.IPAddress) Integer {
	return Integer{Width: 4, Value: uint64(a)}
}

// Uint returns an integer option of the given width.
func Uint(width int, v uint64) Integer {
	return Integer{Width: width, Value: v}
}

// IP interprets the integer as an IPv4 address.
func (i Integer) IP() dhcpv4.IPAddress {
	return dhcpv4.IPAddress(uint32(i.Value))
}

// String renders the list as comma-separated decimals.
func (l IntegerList) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = strconv.Itoa(int(v))
	}
	return strings.Join(parts, ",")
}

// ParseIntegerList parses "1,3,6,15" into an IntegerList.
func ParseIntegerList(s string) (IntegerList, error) {
	if s == "" {
		return IntegerList{}, nil
	}
	parts := strings.Split(s, ",")
	l := make(IntegerList, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("parsing integer list element %q: %w", p, err)
		}
		l = append(l, byte(n))
	}
	return l, nil
}

// minimalWidth returns the fewest bytes that hold v, at least 1.
func minimalWidth(v uint64) int {
	w := 1
	for v > 0xFF {
		v >>= 8
		w++
	}
	return w
}

// Options is an insertion-ordered map of option code to value. The zero
// value is ready to use.
type Options struct {
	codes  []dhcpv4.OptionCode
	values map[dhcpv4.OptionCode]OptionValue
}

// Set stores a value. A new code is appended to the encode order; an
// existing code keeps its position.
func (o *Options) Set(code dhcpv4.OptionCode, v OptionValue) {
	if o.values == nil {
		o.values = make(map[dhcpv4.OptionCode]OptionValue)
	}
	if _, ok := o.values[code]; !ok {
		o.codes = append(o.codes, code)
	}
	o.values[code] = v
}

// Get returns the value for a code.
func (o *Options) Get(code dhcpv4.OptionCode) (OptionValue, bool) {
	v, ok := o.values[code]
	return v, ok
}

// Has returns true if the option is present.
func (o *Options) Has(code dhcpv4.OptionCode) bool {
	_, ok := o.values[code]
	return ok
}

// Delete removes an option.
func (o *Options) Delete(code dhcpv4.OptionCode) {
	if _, ok := o.values[code]; !ok {
		return
	}
	delete(o.values, code)
	for i, c := range o.codes {
		if c == code {
			o.codes = append(o.codes[:i], o.codes[i+1:]...)
			break
		}
	}
}

// Len returns the number of options.
func (o *Options) Len() int {
	return len(o.codes)
}

// Codes returns option codes in encode order.
func (o *Options) Codes() []dhcpv4.OptionCode {
	out := make([]dhcpv4.OptionCode, len(o.codes))
	copy(out, o.codes)
	return out
}

// Integer returns an integer option value.
func (o *Options) Integer(code dhcpv4.OptionCode) (Integer, bool) {
	v, ok := o.values[code].(Integer)
	return v, ok
}

// Text returns a text option value.
func (o *Options) Text(code dhcpv4.OptionCode) (string, bool) {
	v, ok := o.values[code].(Text)
	return string(v), ok
}

// IntegerList returns a list option value.
func (o *Options) IntegerList(code dhcpv4.OptionCode) (IntegerList, bool) {
	v, ok := o.values[code].(IntegerList)
	return v, ok
}

// IP returns an address-valued option.
func (o *Options) IP(code dhcpv4.OptionCode) (dhcpv4.IPAddress, bool) {
	v, ok := o.Integer(code)
	if !ok {
		return 0, false
	}
	return v.IP(), true
}

// DecodeOptions parses the options region (everything after the magic
// cookie). It stops at OptionEnd or at the end of data. On truncation inside
// an option it returns the options decoded so far with ErrTruncatedPacket.
func DecodeOptions(data []byte) (Options, error) {
	var opts Options
	i := 0
	for i < len(data) {
		code := dhcpv4.OptionCode(data[i])
		i++

		if code == dhcpv4.OptionEnd {
			break
		}

		if i >= len(data) {
			return opts, fmt.Errorf("%w: option %d has no length byte", ErrTruncatedPacket, code)
		}
		length := int(data[i])
		i++

		if i+length > len(data) {
			return opts, fmt.Errorf("%w: option %d needs %d bytes, have %d",
				ErrTruncatedPacket, code, length, len(data)-i)
		}

		opts.Set(code, decodeValue(code, data[i:i+length]))
		i += length
	}
	return opts, nil
}

// decodeValue interprets a payload per the rule table.
func decodeValue(code dhcpv4.OptionCode, payload []byte) OptionValue {
	rule := RuleFor(code)
	switch rule.Rep {
	case RepText:
		return Text(payload)
	case RepIntegerList:
		return rawList(payload)
	}

	// Integers that cannot be re-encoded byte-identically keep their raw octets.
	if rule.Width > 0 && len(payload) != rule.Width {
		return rawList(payload)
	}
	if len(payload) == 0 || len(payload) > 8 {
		return rawList(payload)
	}
	var v uint64
	for _, b := range payload {
		v = v<<8 | uint64(b)
	}
	return Integer{Width: len(payload), Value: v}
}

func rawList(payload []byte) IntegerList {
	l := make(IntegerList, len(payload))
	copy(l, payload)
	return l
}

// Encode serializes options in insertion order, without the end marker.
func (o *Options) Encode() ([]byte, error) {
	buf := make([]byte, 0, 64)
	for _, code := range o.codes {
		if code == dhcpv4.OptionEnd {
			continue
		}
		payload, err := encodeValue(code, o.values[code])
		if err != nil {
			return nil, err
		}
		if len(payload) > 255 {
			return nil, fmt.Errorf("%w: option %d is %d bytes", ErrOptionOverflow, code, len(payload))
		}
		buf = append(buf, byte(code), byte(len(payload)))
		buf = append(buf, payload...)
	}
	return buf, nil
}

// encodeValue produces the payload bytes for one option.
func encodeValue(code dhcpv4.OptionCode, v OptionValue) ([]byte, error) {
	switch val := v.(type) {
	case Text:
		return []byte(val), nil
	case IntegerList:
		return []byte(val), nil
	case Integer:
		rule := RuleFor(code)
		width := rule.Width
		if width == 0 {
			width = minimalWidth(val.Value)
			if val.Width > width {
				width = val.Width
			}
		}
		if width > 8 || (width < 8 && val.Value>>(8*uint(width)) != 0) {
			return nil, fmt.Errorf("%w: option %d value %d does not fit %d bytes",
				ErrOptionOverflow, code, val.Value, width)
		}
		out := make([]byte, width)
		x := val.Value
		for i := width - 1; i >= 0; i-- {
			out[i] = byte(x)
			x >>= 8
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %d has unsupported value type %T", code, v)
	}
}

// Clone returns a deep copy of the options.
func (o *Options) Clone() Options {
	var c Options
	for _, code := range o.codes {
		v := o.values[code]
		if l, ok := v.(IntegerList); ok {
			v = rawList(l)
		}
		c.Set(code, v)
	}
	return c
}
