// Package captivedns answers every DNS lookup from a captive client with the
// portal's own address, so the first page the client opens lands on the
// captive portal.
package captivedns

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"github.com/captive-dhcpd/captive-dhcpd/internal/metrics"
	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Server is a UDP DNS responder that resolves every A query to one address.
type Server struct {
	listen   string
	serverIP dhcpv4.IPAddress
	ttl      uint32
	logger   *slog.Logger

	mu      sync.Mutex
	udp     *dns.Server
	conn    net.PacketConn
	started bool
	done    chan struct{}
}

// NewServer creates a responder that answers A queries with serverIP.
func NewServer(listen string, serverIP dhcpv4.IPAddress, ttl uint32, logger *slog.Logger) *Server {
	return &Server{
		listen:   listen,
		serverIP: serverIP,
		ttl:      ttl,
		logger:   logger,
	}
}

// Start binds the UDP socket and serves in the background. The socket is
// bound before Start returns, so a port conflict is reported here.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("captive DNS already started")
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listen, err)
	}

	started := make(chan struct{})
	s.conn = conn
	s.udp = &dns.Server{
		PacketConn:        conn,
		Handler:           dns.HandlerFunc(s.handleQuery),
		MsgAcceptFunc:     acceptQueries,
		NotifyStartedFunc: func() { close(started) },
	}
	s.done = make(chan struct{})

	go func(srv *dns.Server, done chan struct{}) {
		defer close(done)
		if err := srv.ActivateAndServe(); err != nil {
			s.logger.Error("captive DNS listener error", "error", err)
		}
	}(s.udp, s.done)

	select {
	case <-started:
	case <-s.done:
		return fmt.Errorf("captive DNS on %s exited during startup", s.listen)
	}

	s.started = true
	s.logger.Info("captive DNS started",
		"addr", conn.LocalAddr().String(),
		"answer", s.serverIP.String(),
		"ttl", s.ttl)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop shuts down the listener.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if err := s.udp.Shutdown(); err != nil {
		s.logger.Warn("shutting down captive DNS", "error", err)
	}
	<-s.done
	s.started = false
	s.logger.Info("captive DNS stopped")
}

// acceptQueries is the library default except that a query with no
// question reaches handleQuery, which answers it with SERVFAIL.
func acceptQueries(dh dns.Header) dns.MsgAcceptAction {
	if dh.Qdcount == 0 {
		dh.Qdcount = 1
	}
	return dns.DefaultMsgAcceptFunc(dh)
}

// handleQuery answers A with the server IP and everything else with an
// empty authoritative NOERROR. A query with no question gets SERVFAIL.
func (s *Server) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		metrics.DNSQueries.WithLabelValues("none", "failed").Inc()
		dns.HandleFailed(w, r)
		return
	}

	q := r.Question[0]
	qtype := dns.TypeToString[q.Qtype]
	if qtype == "" {
		qtype = "other"
	}

	resp := new(dns.Msg)
	resp.SetReply(r)
	resp.Authoritative = true

	result := "empty"
	if q.Qtype == dns.TypeA && q.Qclass == dns.ClassINET {
		resp.Answer = append(resp.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: s.ttl},
			A:   s.serverIP.ToNetIP(),
		})
		result = "redirect"
	}

	if err := w.WriteMsg(resp); err != nil {
		metrics.DNSQueries.WithLabelValues(qtype, "failed").Inc()
		s.logger.Debug("writing DNS reply", "name", q.Name, "error", err)
		return
	}
	metrics.DNSQueries.WithLabelValues(qtype, result).Inc()

	source := ""
	if w.RemoteAddr() != nil {
		source = w.RemoteAddr().String()
	}
	s.logger.Debug("DNS query",
		"name", strings.ToLower(q.Name),
		"type", qtype,
		"source", source,
		"result", result)
}
