package dhcp

import (
	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Representation is the wire representation an option code decodes to.
type Representation int

const (
	RepInteger     Representation = iota // Big-endian unsigned integer
	RepText                              // UTF-8 string
	RepIntegerList                       // Sequence of 1-byte integers
)

func (r Representation) String() string {
	switch r {
	case RepInteger:
		return "integer"
	case RepText:
		return "text"
	case RepIntegerList:
		return "integer_list"
	default:
		return "unknown"
	}
}

// OptionRule defines how an option code is decoded and encoded.
type OptionRule struct {
	Code  dhcpv4.OptionCode
	Name  string
	Rep   Representation
	Width int  // fixed byte width for integers; 0 = minimal width that fits
	IsIP  bool // integer is an IPv4 address, rendered dotted
	Known bool // listed in the rule table
}

// optionRules is the complete rule table. Unlisted codes use defaultRule.
var optionRules = map[dhcpv4.OptionCode]OptionRule{
	dhcpv4.OptionSubnetMask:           {Code: 1, Name: "Subnet Mask", Rep: RepInteger, Width: 4, IsIP: true},
	dhcpv4.OptionRouter:               {Code: 3, Name: "Router", Rep: RepInteger, Width: 4, IsIP: true},
	dhcpv4.OptionDomainNameServer:     {Code: 6, Name: "DNS Server", Rep: RepInteger, Width: 4, IsIP: true},
	dhcpv4.OptionHostname:             {Code: 12, Name: "Host Name", Rep: RepText},
	dhcpv4.OptionDomainName:           {Code: 15, Name: "Domain Name", Rep: RepText},
	dhcpv4.OptionRequestedIP:          {Code: 50, Name: "Requested IP", Rep: RepInteger, Width: 4, IsIP: true},
	dhcpv4.OptionIPLeaseTime:          {Code: 51, Name: "Lease Time", Rep: RepInteger, Width: 4},
	dhcpv4.OptionDHCPMessageType:      {Code: 53, Name: "DHCP Message Type", Rep: RepInteger, Width: 1},
	dhcpv4.OptionServerIdentifier:     {Code: 54, Name: "DHCP Server", Rep: RepInteger, Width: 4, IsIP: true},
	dhcpv4.OptionParameterRequestList: {Code: 55, Name: "Parameter Request List", Rep: RepIntegerList},
	dhcpv4.OptionMaxDHCPMessageSize:   {Code: 57, Name: "Max Message Size", Rep: RepInteger, Width: 2},
	dhcpv4.OptionRenewalTime:          {Code: 58, Name: "Renewal Time (T1)", Rep: RepInteger, Width: 4},
	dhcpv4.OptionRebindingTime:        {Code: 59, Name: "Rebinding Time (T2)", Rep: RepInteger, Width: 4},
	dhcpv4.OptionVendorClassID:        {Code: 60, Name: "Vendor Class ID", Rep: RepText},
	dhcpv4.OptionCaptivePortal:        {Code: 114, Name: "Captive Portal URI", Rep: RepText},
}

func init() {
	for code, rule := range optionRules {
		rule.Known = true
		optionRules[code] = rule
	}
}

// RuleFor returns the rule for an option code. Unlisted codes get the
// minimal-width integer rule.
func RuleFor(code dhcpv4.OptionCode) OptionRule {
	if rule, ok := optionRules[code]; ok {
		return rule
	}
	return OptionRule{Code: code, Name: "Unknown", Rep: RepInteger}
}

// OptionName returns a human-readable name for an option code.
func OptionName(code dhcpv4.OptionCode) string {
	return RuleFor(code).Name
}
