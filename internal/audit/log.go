// Package audit keeps a persistent history of the addresses handed to
// captive clients. Every OFFER and ACK is recorded with the client's MAC,
// hostname and vendor class, so an operator can answer "who was on this
// address at that time" after the fact. The history is write-only: leases
// are never reloaded from it.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/captive-dhcpd/captive-dhcpd/internal/events"
	"github.com/captive-dhcpd/captive-dhcpd/internal/metrics"
)

var (
	bucketAudit   = []byte("audit_log")
	bucketAuditIP = []byte("audit_ip_index") // ip → list of audit record keys
)

// Record is a single audit log entry.
type Record struct {
	ID          uint64 `json:"id"`
	Timestamp   string `json:"timestamp"`
	Event       string `json:"event"`
	IP          string `json:"ip"`
	MAC         string `json:"mac"`
	XID         string `json:"xid,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	VendorClass string `json:"vendor_class_id,omitempty"`
	ServerIP    string `json:"server_ip,omitempty"`
	CaptiveURI  string `json:"captive_uri,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// QueryParams holds filter parameters for querying the audit log.
type QueryParams struct {
	IP    string    // filter by IP address
	MAC   string    // filter by MAC address
	At    time.Time // point-in-time query: who was last given this IP at or before At?
	From  time.Time // range start (inclusive)
	To    time.Time // range end (inclusive)
	Event string    // filter by event type
	Limit int       // max results (0 = default 1000)
}

// Log provides append-only audit logging for lease events.
type Log struct {
	db     *bolt.DB
	bus    *events.Bus
	logger *slog.Logger
	ch     chan events.Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewLog creates a new audit log backed by BoltDB.
func NewLog(db *bolt.DB, bus *events.Bus, logger *slog.Logger) (*Log, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAudit); err != nil {
			return fmt.Errorf("creating audit bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketAuditIP); err != nil {
			return fmt.Errorf("creating audit IP index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Log{
		db:     db,
		bus:    bus,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start subscribes to the event bus and records lease events in the
// background until Stop. Events published after Start returns are seen.
func (l *Log) Start() {
	l.ch = l.bus.Subscribe(2000)
	l.wg.Add(1)
	go l.run()
	l.logger.Info("audit log started")
}

func (l *Log) run() {
	defer l.wg.Done()
	for {
		select {
		case evt, ok := <-l.ch:
			if !ok {
				return
			}
			l.handleEvent(evt)
		case <-l.done:
			return
		}
	}
}

// Stop shuts down the audit log subscriber.
func (l *Log) Stop() {
	l.once.Do(func() {
		close(l.done)
		if l.ch != nil {
			l.bus.Unsubscribe(l.ch)
		}
		l.wg.Wait()
		l.logger.Info("audit log stopped")
	})
}

// handleEvent converts a bus event into an audit record and persists it.
func (l *Log) handleEvent(evt events.Event) {
	switch evt.Type {
	case events.EventLeaseOffer, events.EventLeaseAck:
	default:
		return
	}
	if evt.Lease == nil {
		return
	}

	ld := evt.Lease
	rec := Record{
		Timestamp:   evt.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:       string(evt.Type),
		IP:          ld.IP.String(),
		MAC:         ld.MAC,
		XID:         fmt.Sprintf("0x%08x", ld.XID),
		Hostname:    ld.Hostname,
		VendorClass: ld.VendorID,
		ServerIP:    ld.ServerIP.String(),
		CaptiveURI:  ld.CaptiveURI,
		Reason:      evt.Reason,
	}

	if err := l.append(rec); err != nil {
		metrics.AuditRecords.WithLabelValues("error").Inc()
		l.logger.Error("failed to write audit record",
			"event", rec.Event, "ip", rec.IP, "mac", rec.MAC, "error", err)
		return
	}
	metrics.AuditRecords.WithLabelValues("ok").Inc()
}

// append persists a single audit record to BoltDB with an auto-increment ID.
func (l *Log) append(rec Record) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)

		id, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("generating audit ID: %w", err)
		}
		rec.ID = id

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshalling audit record: %w", err)
		}
		if err := b.Put(uint64Key(id), data); err != nil {
			return fmt.Errorf("storing audit record: %w", err)
		}

		if rec.IP == "" {
			return nil
		}
		idx := tx.Bucket(bucketAuditIP)
		ipKey := []byte(rec.IP)
		var ids []uint64
		if existing := idx.Get(ipKey); existing != nil {
			if err := json.Unmarshal(existing, &ids); err != nil {
				return fmt.Errorf("reading IP index for %s: %w", rec.IP, err)
			}
		}
		ids = append(ids, id)
		idData, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("marshalling IP index: %w", err)
		}
		return idx.Put(ipKey, idData)
	})
}

// Query searches the audit log, newest record first.
func (l *Log) Query(params QueryParams) ([]Record, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 1000
	}
	if !params.At.IsZero() {
		// Only the latest assignment at that moment answers "who had it".
		limit = 1
	}

	if params.IP != "" {
		return l.queryByIP(params, limit)
	}

	var results []Record
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAudit).Cursor()
		for k, v := c.Last(); k != nil && len(results) < limit; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if matchesQuery(rec, params) {
				results = append(results, rec)
			}
		}
		return nil
	})
	return results, err
}

// queryByIP uses the IP index for efficient lookups.
func (l *Log) queryByIP(params QueryParams, limit int) ([]Record, error) {
	var results []Record

	err := l.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketAuditIP)
		b := tx.Bucket(bucketAudit)

		idsData := idx.Get([]byte(params.IP))
		if idsData == nil {
			return nil
		}
		var ids []uint64
		if err := json.Unmarshal(idsData, &ids); err != nil {
			return fmt.Errorf("reading IP index for %s: %w", params.IP, err)
		}

		for i := len(ids) - 1; i >= 0 && len(results) < limit; i-- {
			data := b.Get(uint64Key(ids[i]))
			if data == nil {
				continue
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if matchesQuery(rec, params) {
				results = append(results, rec)
			}
		}
		return nil
	})

	return results, err
}

// Count returns the total number of audit records.
func (l *Log) Count() int {
	var count int
	l.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketAudit).Stats().KeyN
		return nil
	})
	return count
}

// matchesQuery returns true if a record matches all non-zero query fields.
func matchesQuery(rec Record, params QueryParams) bool {
	if params.MAC != "" && rec.MAC != params.MAC {
		return false
	}
	if params.Event != "" && rec.Event != params.Event {
		return false
	}

	recTime, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return false
	}

	// Addresses are never reclaimed, so the holder at At is whoever was
	// most recently acknowledged on it before then.
	if !params.At.IsZero() {
		return rec.Event == string(events.EventLeaseAck) && !recTime.After(params.At)
	}

	if !params.From.IsZero() && recTime.Before(params.From) {
		return false
	}
	if !params.To.IsZero() && recTime.After(params.To) {
		return false
	}
	return true
}

func uint64Key(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
