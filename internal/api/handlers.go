package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/captive-dhcpd/captive-dhcpd/internal/dhcp"
	"github.com/captive-dhcpd/captive-dhcpd/internal/lease"
	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// handleHealth returns server health status (no auth required).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"leases":    s.leases.Count(),
	})
}

// leaseResponse is the JSON representation of a lease.
type leaseResponse struct {
	IP         string `json:"ip"`
	MAC        string `json:"mac"`
	Hostname   string `json:"hostname,omitempty"`
	State      string `json:"state"`
	Allocated  int64  `json:"allocated"`
	Confirmed  int64  `json:"confirmed,omitempty"`
	AgeSeconds int64  `json:"age_seconds"`
}

func leaseToResponse(l lease.Lease, now time.Time) leaseResponse {
	resp := leaseResponse{
		IP:         l.IP.String(),
		MAC:        l.MAC,
		Hostname:   l.Hostname,
		State:      string(l.State),
		Allocated:  l.Allocated.Unix(),
		AgeSeconds: int64(l.Age(now).Seconds()),
	}
	if !l.Confirmed.IsZero() {
		resp.Confirmed = l.Confirmed.Unix()
	}
	return resp
}

// handleListLeases returns all leases with optional filtering.
// Query params: mac, hostname, state, limit, offset
func (s *Server) handleListLeases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	macFilter := strings.ToLower(q.Get("mac"))
	hostnameFilter := strings.ToLower(q.Get("hostname"))
	stateFilter := q.Get("state")

	var filtered []lease.Lease
	for _, l := range s.leases.Leases() {
		if macFilter != "" && !strings.Contains(l.MAC, macFilter) {
			continue
		}
		if hostnameFilter != "" && !strings.Contains(strings.ToLower(l.Hostname), hostnameFilter) {
			continue
		}
		if stateFilter != "" && string(l.State) != stateFilter {
			continue
		}
		filtered = append(filtered, l)
	}

	total := len(filtered)
	offset := 0
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	limit := total
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}

	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	now := time.Now()
	result := make([]leaseResponse, 0, end-offset)
	for _, l := range filtered[offset:end] {
		result = append(result, leaseToResponse(l, now))
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	JSONResponse(w, http.StatusOK, result)
}

// handleGetLease returns a single lease by IP.
func (s *Server) handleGetLease(w http.ResponseWriter, r *http.Request) {
	ip, err := dhcpv4.ParseIPAddress(r.PathValue("ip"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, "invalid_ip", "invalid IP address")
		return
	}

	l, ok := s.leases.Holder(ip)
	if !ok {
		JSONError(w, http.StatusNotFound, "not_found", "lease not found")
		return
	}

	JSONResponse(w, http.StatusOK, leaseToResponse(l, time.Now()))
}

// handleGetStats returns server statistics.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	byState := s.leases.CountByState()
	serverIP := s.cfg.ServerIP()
	last := s.cfg.LastClientIP()

	stats := map[string]interface{}{
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"server_ip":      serverIP.String(),
		"captive_uri":    dhcp.CaptiveURI(serverIP),
		"leases": map[string]interface{}{
			"total":   s.leases.Count(),
			"offered": byState[dhcpv4.LeaseStateOffered],
			"acked":   byState[dhcpv4.LeaseStateAcked],
		},
		"pool": map[string]interface{}{
			"first": serverIP.Next().String(),
			"last":  last.String(),
			"size":  uint32(last - serverIP),
		},
		"event_drops": s.bus.Drops(),
		"timestamp":   time.Now().Unix(),
	}

	if s.auditLog != nil {
		stats["audit_records"] = s.auditLog.Count()
	}

	JSONResponse(w, http.StatusOK, stats)
}

const redacted = "***REDACTED***"

// handleGetConfig returns the running configuration with secrets redacted.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *s.cfg
	if cfg.API.AuthToken != "" {
		cfg.API.AuthToken = redacted
	}
	if cfg.API.AuthTokenHash != "" {
		cfg.API.AuthTokenHash = redacted
	}

	cfg.Hooks.Webhooks = append(cfg.Hooks.Webhooks[:0:0], cfg.Hooks.Webhooks...)
	for i := range cfg.Hooks.Webhooks {
		wh := &cfg.Hooks.Webhooks[i]
		if wh.Secret != "" {
			wh.Secret = redacted
		}
		if len(wh.Headers) > 0 {
			headers := make(map[string]string, len(wh.Headers))
			for k := range wh.Headers {
				headers[k] = redacted
			}
			wh.Headers = headers
		}
	}

	JSONResponse(w, http.StatusOK, cfg)
}
