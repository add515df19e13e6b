package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/captive-dhcpd/captive-dhcpd/internal/audit"
)

// parseAuditParams reads ip, mac, event, limit, at, from and to. Times are RFC 3339.
func parseAuditParams(q url.Values) (audit.QueryParams, error) {
	params := audit.QueryParams{
		IP:    q.Get("ip"),
		MAC:   q.Get("mac"),
		Event: q.Get("event"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return params, fmt.Errorf("limit must be a positive integer")
		}
		params.Limit = n
	}

	for _, f := range []struct {
		name string
		dst  *time.Time
	}{
		{"at", &params.At},
		{"from", &params.From},
		{"to", &params.To},
	} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return params, fmt.Errorf("%s must be an RFC 3339 timestamp", f.name)
		}
		*f.dst = t
	}

	if !params.At.IsZero() && params.IP == "" {
		return params, fmt.Errorf("at requires ip")
	}
	return params, nil
}

// queryAudit runs the request's query and writes any error response itself.
func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) ([]audit.Record, bool) {
	if s.auditLog == nil {
		JSONError(w, http.StatusServiceUnavailable, "audit_disabled", "audit log not available")
		return nil, false
	}

	params, err := parseAuditParams(r.URL.Query())
	if err != nil {
		JSONError(w, http.StatusBadRequest, "bad_request", err.Error())
		return nil, false
	}

	records, err := s.auditLog.Query(params)
	if err != nil {
		JSONError(w, http.StatusInternalServerError, "query_error", err.Error())
		return nil, false
	}
	return records, true
}

// handleAuditQuery searches the audit log with query parameters.
// GET /api/v1/audit?ip=&mac=&event=&from=&to=&at=&limit=
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	records, ok := s.queryAudit(w, r)
	if !ok {
		return
	}
	if records == nil {
		records = []audit.Record{}
	}

	JSONResponse(w, http.StatusOK, map[string]interface{}{
		"count":   len(records),
		"records": records,
	})
}

// handleAuditExportCSV exports audit log records as CSV.
// GET /api/v1/audit/export?ip=&mac=&event=&from=&to=&at=&limit=
func (s *Server) handleAuditExportCSV(w http.ResponseWriter, r *http.Request) {
	records, ok := s.queryAudit(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=audit_log.csv")
	if err := audit.WriteCSV(w, records); err != nil {
		s.logger.Error("failed to write CSV export", "error", err)
	}
}
