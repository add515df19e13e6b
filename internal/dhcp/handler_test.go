package dhcp

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/captive-dhcpd/captive-dhcpd/internal/events"
	"github.com/captive-dhcpd/captive-dhcpd/internal/lease"
	"github.com/captive-dhcpd/captive-dhcpd/internal/metrics"
	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandler(opts ...lease.Option) (*Handler, *lease.Allocator) {
	alloc := lease.NewAllocator(opts...)
	return NewHandler(testServerIP, testNetmask, alloc, nil, nil, testLogger()), alloc
}

func TestHandleDiscover(t *testing.T) {
	h, alloc := newTestHandler()

	reply, err := h.Handle(context.Background(), discoverAndroid(t))
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	offer, ok := reply.(Offer)
	if !ok {
		t.Fatalf("reply is %T, want Offer", reply)
	}
	if offer.YIAddr.String() != "192.168.4.2" {
		t.Errorf("offered %s, want 192.168.4.2", offer.YIAddr)
	}
	if offer.XID != 0xEABEC397 {
		t.Errorf("XID = 0x%08X", offer.XID)
	}

	l, ok := alloc.Lookup("8c:45:00:1d:48:16")
	if !ok || l.State != dhcpv4.LeaseStateOffered {
		t.Errorf("lease = %+v, %v", l, ok)
	}

	// A retransmitted discover gets the same address.
	reply, err = h.Handle(context.Background(), discoverAndroid(t))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Base().YIAddr != offer.YIAddr {
		t.Errorf("second offer = %s, want %s", reply.Base().YIAddr, offer.YIAddr)
	}

	reply, err = h.Handle(context.Background(), discoverLinux(t))
	if err != nil {
		t.Fatal(err)
	}
	if reply.Base().YIAddr.String() != "192.168.4.3" {
		t.Errorf("second client offered %s, want 192.168.4.3", reply.Base().YIAddr)
	}
}

func TestHandleRequest(t *testing.T) {
	h, alloc := newTestHandler()

	reply, err := h.Handle(context.Background(), requestAndroid(t))
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	ack, ok := reply.(Ack)
	if !ok {
		t.Fatalf("reply is %T, want Ack", reply)
	}
	if ack.YIAddr.String() != "192.168.1.166" {
		t.Errorf("acked %s, want 192.168.1.166", ack.YIAddr)
	}
	if uri, _ := ack.Options.Text(dhcpv4.OptionCaptivePortal); uri != "http://192.168.4.1" {
		t.Errorf("captive portal = %q", uri)
	}

	l, ok := alloc.Lookup("8c:45:00:1d:48:16")
	if !ok || l.State != dhcpv4.LeaseStateAcked || l.Hostname != "Galaxy-S9" {
		t.Errorf("lease = %+v, %v", l, ok)
	}
}

type lowerSanitiser struct{ calls int }

func (s *lowerSanitiser) Sanitise(name, mac string) string {
	s.calls++
	return strings.ToLower(name) + "-" + mac[len(mac)-2:]
}

func TestHandleRequestSanitisesHostname(t *testing.T) {
	h, alloc := newTestHandler()
	san := &lowerSanitiser{}
	h.SetHostnameSanitiser(san)

	reply, err := h.Handle(context.Background(), requestAndroid(t))
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	l, _ := alloc.Lookup("8c:45:00:1d:48:16")
	if l.Hostname != "galaxy-s9-16" {
		t.Errorf("stored hostname = %q", l.Hostname)
	}
	if san.calls == 0 {
		t.Error("sanitiser never called")
	}

	// The reply echoes nothing from option 12, so it is unchanged.
	if _, ok := reply.(Ack); !ok {
		t.Errorf("reply is %T, want Ack", reply)
	}
}

func TestHandleRequestAddressHeldByOther(t *testing.T) {
	h, alloc := newTestHandler()
	if _, err := alloc.Confirm("de:ad:be:ef:00:01", dhcpv4.MustParseIPAddress("192.168.1.166"), ""); err != nil {
		t.Fatal(err)
	}

	// Still acknowledged; the conflict is only logged.
	reply, err := h.Handle(context.Background(), requestAndroid(t))
	if err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	if _, ok := reply.(Ack); !ok {
		t.Errorf("reply is %T, want Ack", reply)
	}
	if holder, _ := alloc.Holder(dhcpv4.MustParseIPAddress("192.168.1.166")); holder.MAC != "de:ad:be:ef:00:01" {
		t.Errorf("holder = %s", holder.MAC)
	}
}

func TestHandleRequestWithoutRequestedIP(t *testing.T) {
	h, _ := newTestHandler()
	r := NewRequest()
	r.SetCHAddr([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff})
	data, err := r.Encode()
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.Handle(context.Background(), data); !errors.Is(err, ErrMissingRequiredOption) {
		t.Errorf("err = %v, want ErrMissingRequiredOption", err)
	}
}

func TestHandleIgnored(t *testing.T) {
	h, alloc := newTestHandler()

	unknown := discoverAndroid(t)
	unknown[dhcpv4.OptionsOffset+2] = byte(dhcpv4.MessageTypeDecline)

	noType := NewPacket(dhcpv4.OpCodeBootRequest)
	noTypeData, err := noType.Encode()
	if err != nil {
		t.Fatal(err)
	}

	clientOffer := NewOffer()
	clientOffer.Op = dhcpv4.OpCodeBootRequest
	clientOfferData, err := clientOffer.Encode()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		data   []byte
		reason string
	}{
		{"server reply", offerLinux(t), "reply_op"},
		{"decline", unknown, "unknown_type"},
		{"no message type", noTypeData, "unknown_type"},
		{"offer from client", clientOfferData, "unhandled_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(metrics.PacketsIgnored.WithLabelValues(tt.reason))
			reply, err := h.Handle(context.Background(), tt.data)
			if err != nil || reply != nil {
				t.Errorf("Handle = %v, %v; want nil, nil", reply, err)
			}
			if got := testutil.ToFloat64(metrics.PacketsIgnored.WithLabelValues(tt.reason)) - before; got != 1 {
				t.Errorf("ignored{%s} grew by %v, want 1", tt.reason, got)
			}
		})
	}

	if alloc.Count() != 0 {
		t.Errorf("ignored packets allocated %d leases", alloc.Count())
	}
}

func TestHandleMalformed(t *testing.T) {
	h, _ := newTestHandler()

	badMagic := discoverAndroid(t)
	badMagic[dhcpv4.HeaderSize] = 0

	truncatedOpt := discoverAndroid(t)[:dhcpv4.OptionsOffset+5]

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"bad magic", badMagic, ErrBadMagicCookie},
		{"short header", discoverAndroid(t)[:100], ErrTruncatedPacket},
		{"truncated option", truncatedOpt, ErrTruncatedPacket},
		{"empty", nil, ErrTruncatedPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := h.Handle(context.Background(), tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if reply != nil {
				t.Errorf("reply = %v, want nil", reply)
			}
		})
	}
}

func TestHandleRateLimited(t *testing.T) {
	alloc := lease.NewAllocator()
	limiter := NewRateLimiter(100, 1)
	h := NewHandler(testServerIP, testNetmask, alloc, limiter, nil, testLogger())

	if reply, err := h.Handle(context.Background(), discoverAndroid(t)); err != nil || reply == nil {
		t.Fatalf("first discover = %v, %v", reply, err)
	}

	before := testutil.ToFloat64(metrics.RateLimited)
	reply, err := h.Handle(context.Background(), discoverAndroid(t))
	if err != nil || reply != nil {
		t.Errorf("second discover = %v, %v; want nil, nil", reply, err)
	}
	if got := testutil.ToFloat64(metrics.RateLimited) - before; got != 1 {
		t.Errorf("rate limited grew by %v, want 1", got)
	}

	// Requests are not rate limited.
	if reply, err := h.Handle(context.Background(), requestAndroid(t)); err != nil || reply == nil {
		t.Errorf("request = %v, %v", reply, err)
	}
}

func TestHandlePoolExhausted(t *testing.T) {
	h, _ := newTestHandler(lease.WithLimit(dhcpv4.MustParseIPAddress("192.168.4.2")))

	if _, err := h.Handle(context.Background(), discoverAndroid(t)); err != nil {
		t.Fatalf("first discover: %v", err)
	}

	before := testutil.ToFloat64(metrics.PoolExhausted)
	_, err := h.Handle(context.Background(), discoverLinux(t))
	if !errors.Is(err, lease.ErrPoolExhausted) {
		t.Fatalf("err = %v, want ErrPoolExhausted", err)
	}
	if got := testutil.ToFloat64(metrics.PoolExhausted) - before; got != 1 {
		t.Errorf("pool exhausted grew by %v, want 1", got)
	}
}

func TestHandlePublishesEvents(t *testing.T) {
	bus := events.NewBus(16, testLogger())
	go bus.Start()
	defer bus.Stop()
	sub := bus.Subscribe(16)

	h := NewHandler(testServerIP, testNetmask, lease.NewAllocator(), nil, bus, testLogger())
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	if _, err := h.Handle(context.Background(), discoverAndroid(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Handle(context.Background(), requestAndroid(t)); err != nil {
		t.Fatal(err)
	}

	want := []events.EventType{events.EventLeaseDiscover, events.EventLeaseOffer, events.EventLeaseAck}
	var got []events.Event
	for range want {
		select {
		case evt := <-sub:
			got = append(got, evt)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	for i, evt := range got {
		if evt.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, evt.Type, want[i])
		}
		if !evt.Timestamp.Equal(fixed) {
			t.Errorf("event %d timestamp = %v", i, evt.Timestamp)
		}
		if evt.Lease == nil || evt.Lease.MAC != "8c:45:00:1d:48:16" {
			t.Fatalf("event %d lease = %+v", i, evt.Lease)
		}
		if evt.Lease.Hostname != "Galaxy-S9" || evt.Lease.VendorID != "android-dhcp-9" {
			t.Errorf("event %d client = %q/%q", i, evt.Lease.Hostname, evt.Lease.VendorID)
		}
	}

	if got[1].Lease.IP.String() != "192.168.4.2" || got[1].Lease.State != "offered" {
		t.Errorf("offer event = %+v", got[1].Lease)
	}
	ack := got[2].Lease
	if ack.IP.String() != "192.168.1.166" || ack.State != "acked" || ack.CaptiveURI != "http://192.168.4.1" {
		t.Errorf("ack event = %+v", ack)
	}
}
