package audit

import (
	"bytes"
	"encoding/csv"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/captive-dhcpd/captive-dhcpd/internal/events"
	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

func testDB(t *testing.T) *bolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestLog(t *testing.T) (*Log, *events.Bus) {
	t.Helper()
	bus := events.NewBus(100, testLogger())
	go bus.Start()
	t.Cleanup(bus.Stop)

	al, err := NewLog(testDB(t), bus, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return al, bus
}

// waitForCount polls until the log holds n records.
func waitForCount(t *testing.T, al *Log, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for al.Count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d audit records, have %d", n, al.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuditAppendAndQuery(t *testing.T) {
	al, _ := newTestLog(t)

	now := time.Now().UTC()
	records := []Record{
		{Timestamp: now.Add(-2 * time.Hour).Format(time.RFC3339Nano), Event: "lease.offer", IP: "192.168.4.2", MAC: "aa:bb:cc:dd:ee:01"},
		{Timestamp: now.Add(-1 * time.Hour).Format(time.RFC3339Nano), Event: "lease.ack", IP: "192.168.4.2", MAC: "aa:bb:cc:dd:ee:01"},
		{Timestamp: now.Add(-30 * time.Minute).Format(time.RFC3339Nano), Event: "lease.ack", IP: "192.168.4.3", MAC: "aa:bb:cc:dd:ee:02"},
		{Timestamp: now.Format(time.RFC3339Nano), Event: "lease.ack", IP: "192.168.4.2", MAC: "aa:bb:cc:dd:ee:01"},
	}
	for _, r := range records {
		if err := al.append(r); err != nil {
			t.Fatal(err)
		}
	}

	if al.Count() != 4 {
		t.Errorf("expected 4 records, got %d", al.Count())
	}

	tests := []struct {
		name   string
		params QueryParams
		want   int
	}{
		{"all", QueryParams{}, 4},
		{"by IP", QueryParams{IP: "192.168.4.2"}, 3},
		{"by IP and event", QueryParams{IP: "192.168.4.2", Event: "lease.offer"}, 1},
		{"by MAC", QueryParams{MAC: "aa:bb:cc:dd:ee:02"}, 1},
		{"by event", QueryParams{Event: "lease.ack"}, 3},
		{"unknown IP", QueryParams{IP: "10.0.0.1"}, 0},
		{"time range", QueryParams{From: now.Add(-90 * time.Minute), To: now.Add(-15 * time.Minute)}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := al.Query(tt.params)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d records, want %d", len(got), tt.want)
			}
		})
	}
}

func TestAuditPointInTimeQuery(t *testing.T) {
	al, _ := newTestLog(t)

	t1 := time.Date(2025, 2, 15, 14, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 2, 15, 16, 0, 0, 0, time.UTC)

	for _, r := range []Record{
		{Timestamp: t1.Format(time.RFC3339Nano), Event: "lease.ack", IP: "192.168.4.7", MAC: "aa:bb:cc:dd:ee:01", Hostname: "phone"},
		{Timestamp: t2.Format(time.RFC3339Nano), Event: "lease.offer", IP: "192.168.4.7", MAC: "aa:bb:cc:dd:ee:02"},
		{Timestamp: t2.Add(time.Second).Format(time.RFC3339Nano), Event: "lease.ack", IP: "192.168.4.7", MAC: "aa:bb:cc:dd:ee:02", Hostname: "laptop"},
	} {
		if err := al.append(r); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		at      time.Time
		wantMAC string
	}{
		{time.Date(2025, 2, 15, 13, 0, 0, 0, time.UTC), ""},
		{time.Date(2025, 2, 15, 15, 0, 0, 0, time.UTC), "aa:bb:cc:dd:ee:01"},
		{t2, "aa:bb:cc:dd:ee:01"}, // offered but not yet acknowledged
		{time.Date(2025, 2, 15, 17, 0, 0, 0, time.UTC), "aa:bb:cc:dd:ee:02"},
	}
	for _, tt := range tests {
		results, err := al.Query(QueryParams{IP: "192.168.4.7", At: tt.at})
		if err != nil {
			t.Fatal(err)
		}
		if tt.wantMAC == "" {
			if len(results) != 0 {
				t.Errorf("at %s: got %+v, want nothing", tt.at.Format(time.Kitchen), results)
			}
			continue
		}
		if len(results) != 1 || results[0].MAC != tt.wantMAC {
			t.Errorf("at %s: got %+v, want %s", tt.at.Format(time.Kitchen), results, tt.wantMAC)
		}
	}
}

func TestAuditEventBusIntegration(t *testing.T) {
	al, bus := newTestLog(t)
	al.Start()
	defer al.Stop()

	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	bus.Publish(events.Event{
		Type:      events.EventLeaseAck,
		Timestamp: ts,
		Lease: &events.LeaseData{
			IP:         dhcpv4.MustParseIPAddress("192.168.4.10"),
			MAC:        "aa:bb:cc:dd:ee:01",
			XID:        0xEABEC397,
			Hostname:   "test-device",
			VendorID:   "android-dhcp-9",
			ServerIP:   dhcpv4.MustParseIPAddress("192.168.4.1"),
			CaptiveURI: "http://192.168.4.1",
			State:      "acked",
		},
	})

	waitForCount(t, al, 1)

	results, err := al.Query(QueryParams{IP: "192.168.4.10"})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 audit record from event bus, got %d", len(results))
	}
	rec := results[0]
	if rec.Hostname != "test-device" || rec.VendorClass != "android-dhcp-9" {
		t.Errorf("client = %q/%q", rec.Hostname, rec.VendorClass)
	}
	if rec.XID != "0xeabec397" {
		t.Errorf("xid = %q", rec.XID)
	}
	if rec.ServerIP != "192.168.4.1" || rec.CaptiveURI != "http://192.168.4.1" {
		t.Errorf("server = %q, uri = %q", rec.ServerIP, rec.CaptiveURI)
	}
	if rec.Timestamp != ts.Format(time.RFC3339Nano) {
		t.Errorf("timestamp = %q", rec.Timestamp)
	}
}

func TestAuditLimit(t *testing.T) {
	al, _ := newTestLog(t)

	for i := 0; i < 20; i++ {
		al.append(Record{
			Timestamp: time.Now().Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano),
			Event:     "lease.ack",
			IP:        "192.168.4.2",
			MAC:       "aa:bb:cc:dd:ee:ff",
		})
	}

	results, err := al.Query(QueryParams{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Errorf("expected 5 results with limit, got %d", len(results))
	}
	if results[0].ID < results[4].ID {
		t.Error("expected results ordered newest first")
	}
}

func TestAuditNonLeaseEventsIgnored(t *testing.T) {
	al, bus := newTestLog(t)
	al.Start()
	defer al.Stop()

	bus.Publish(events.Event{Type: events.EventLeaseDiscover, Timestamp: time.Now(), Lease: &events.LeaseData{MAC: "aa:bb:cc:dd:ee:ff"}})
	bus.Publish(events.Event{Type: events.EventPoolExhausted, Timestamp: time.Now(), Reason: "no free address"})
	bus.Publish(events.Event{Type: events.EventLeaseOffer, Timestamp: time.Now()}) // no lease data
	bus.Publish(events.Event{
		Type:      events.EventLeaseOffer,
		Timestamp: time.Now(),
		Lease:     &events.LeaseData{IP: dhcpv4.MustParseIPAddress("192.168.4.2"), MAC: "aa:bb:cc:dd:ee:ff"},
	})

	waitForCount(t, al, 1)
	time.Sleep(50 * time.Millisecond)

	if al.Count() != 1 {
		t.Errorf("expected only the offer to be recorded, got %d records", al.Count())
	}
}

func TestAuditStopTwice(t *testing.T) {
	al, _ := newTestLog(t)
	al.Start()
	al.Stop()
	al.Stop()
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []Record{
		{ID: 7, Timestamp: "2025-06-01T09:00:00Z", Event: "lease.ack", IP: "192.168.4.10", MAC: "aa:bb:cc:dd:ee:01", Hostname: "a,b"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if len(rows[0]) != len(CSVHeaders) || len(rows[1]) != len(CSVHeaders) {
		t.Errorf("column counts = %d/%d, want %d", len(rows[0]), len(rows[1]), len(CSVHeaders))
	}
	if rows[1][0] != "7" || rows[1][3] != "192.168.4.10" || rows[1][6] != "a,b" {
		t.Errorf("row = %v", rows[1])
	}
}
