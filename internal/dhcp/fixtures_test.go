package dhcp

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Captured client and server packets. Each is given as the first 44 header
// bytes (op through chaddr) and the options after the magic cookie; the
// sname/file region between them is zero.
var (
	// Samsung Galaxy S9, Android 9.
	discoverAndroidHead = `01010600 eabec397 0001 0000 00000000 00000000 00000000 00000000
		8c45001d4816 00000000000000000000`
	discoverAndroidOpts = `350101 3d07018c45001d4816 390205dc
		3c0e 616e64726f69642d646863702d39 0c09 47616c6178792d5339
		370a 0103060f1a1c333a3b2b ff`
	requestAndroidOpts = `350103 3d07018c45001d4816 3204c0a801a6 3604c0a801fe 390205dc
		3c0e 616e64726f69642d646863702d39 0c09 47616c6178792d5339
		370a 0103060f1a1c333a3b2b ff`

	// dhclient on a VirtualBox guest.
	linuxRequestHead = `01010600 2ef9317f 0000 0000 00000000 00000000 00000000 00000000
		080027921fae 00000000000000000000`
	linuxReplyHead = `02010600 2ef9317f 0000 0000 00000000 c0a83803 00000000 00000000
		080027921fae 00000000000000000000`
	discoverLinuxOpts = `350101 3204c0a83803 0c05 6d6172696f
		370d 011c02030f06770c2c2f1a792a ff`
	offerLinuxOpts = `0104ffffff00 03040a970101 06040a680108 0c09 6d6172696f2e636f6d
		0f0e 737765657477617465722e636f6d 330400015180 350102 3604c0a83802
		3a0400005460 3b040000a8c0 ff`
	requestLinuxOpts = `350103 3604c0a83802 3204c0a83803 0c05 6d6172696f
		370d 011c02030f06770c2c2f1a792a ff`
	ackLinuxOpts = `0104ffffff00 03040a970101 06040a680108 0c09 6d6172696f2e636f6d
		0f0e 737765657477617465722e636f6d 330400015180 350105 3604c0a83802
		3a0400005460 3b040000a8c0 ff`

	// A rogue-server detection packet with text in sname.
	rogueHead = `01010600 649b0363 0001 8000 00000000 00000000 00000000 00000000
		ccf411678aa7 00000000000000000000`
	rogueOpts = `350101 ff`
)

func unhex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		t.Fatalf("bad fixture hex: %v", err)
	}
	return b
}

// capture assembles a wire packet from a fixture.
func capture(t testing.TB, head, opts string) []byte {
	t.Helper()
	h := unhex(t, head)
	if len(h) != 44 {
		t.Fatalf("fixture header is %d bytes, want 44", len(h))
	}
	b := make([]byte, dhcpv4.OptionsOffset)
	copy(b, h)
	b[236], b[237], b[238], b[239] = 0x63, 0x82, 0x53, 0x63
	return append(b, unhex(t, opts)...)
}

func discoverAndroid(t testing.TB) []byte {
	return capture(t, discoverAndroidHead, discoverAndroidOpts)
}

func requestAndroid(t testing.TB) []byte {
	return capture(t, discoverAndroidHead, requestAndroidOpts)
}

func discoverLinux(t testing.TB) []byte {
	return capture(t, linuxRequestHead, discoverLinuxOpts)
}

func offerLinux(t testing.TB) []byte {
	return capture(t, linuxReplyHead, offerLinuxOpts)
}

func requestLinux(t testing.TB) []byte {
	return capture(t, linuxRequestHead, requestLinuxOpts)
}

func ackLinux(t testing.TB) []byte {
	return capture(t, linuxReplyHead, ackLinuxOpts)
}

func rogueProbe(t testing.TB) []byte {
	b := capture(t, rogueHead, rogueOpts)
	copy(b[44:], "gwifi_rouge_dhcp_detection")
	return b
}
