package dhcp

import "errors"

var (
	// ErrTruncatedPacket means the buffer ended inside a fixed field or a declared option value.
	ErrTruncatedPacket = errors.New("truncated DHCP packet")

	// ErrUnknownMessageType means option 53 is absent or not one of DISCOVER, OFFER, REQUEST, ACK.
	// It is a classification outcome: the packet is ignored, not answered.
	ErrUnknownMessageType = errors.New("unknown DHCP message type")

	// ErrMissingRequiredOption means a response could not be built because the request lacks an option.
	ErrMissingRequiredOption = errors.New("missing required DHCP option")

	// ErrOptionOverflow means an option value does not fit its encoded width or the 255-byte length.
	ErrOptionOverflow = errors.New("DHCP option value overflow")

	// ErrBadMagicCookie means bytes 236..240 are not 99.130.83.99.
	ErrBadMagicCookie = errors.New("invalid DHCP magic cookie")
)
