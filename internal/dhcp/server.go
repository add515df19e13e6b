package dhcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/net/ipv4"

	"github.com/captive-dhcpd/captive-dhcpd/internal/metrics"
	"github.com/captive-dhcpd/captive-dhcpd/pkg/dhcpv4"
)

// Broadcaster delivers a reply to every host on the local segment.
type Broadcaster interface {
	Broadcast(payload []byte) error
}

// ServerConfig configures the UDP transport.
type ServerConfig struct {
	Interface   string        // only accept packets received on this interface; "" = any
	Addr        string        // listen address, default ":67"
	ReadTimeout time.Duration // receive deadline, bounds shutdown latency
	BindBackoff time.Duration // first delay between bind attempts
	BindMaxWait time.Duration // cap on the delay between bind attempts
	Broadcaster Broadcaster   // nil = broadcast from the listening socket
}

// Server is the DHCPv4 UDP server. Packets are handled one at a time, in
// arrival order, on a single goroutine.
type Server struct {
	cfg     ServerConfig
	handler *Handler
	logger  *slog.Logger

	conn    net.PacketConn
	pc      *ipv4.PacketConn
	ifIndex int
	out     Broadcaster

	wg sync.WaitGroup
}

// NewServer creates a new DHCP server.
func NewServer(handler *Handler, cfg ServerConfig, logger *slog.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = fmt.Sprintf(":%d", dhcpv4.ServerPort)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.BindBackoff <= 0 {
		cfg.BindBackoff = 500 * time.Millisecond
	}
	if cfg.BindMaxWait <= 0 {
		cfg.BindMaxWait = 30 * time.Second
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		out:     cfg.Broadcaster,
	}
}

// Start binds the UDP socket, retrying with backoff until it succeeds or ctx
// is cancelled, then serves in the background until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Interface != "" {
		iface, err := net.InterfaceByName(s.cfg.Interface)
		if err != nil {
			return fmt.Errorf("looking up interface %s: %w", s.cfg.Interface, err)
		}
		s.ifIndex = iface.Index
	}

	err := retry.Do(
		func() error { return s.listen(ctx) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(s.cfg.BindBackoff),
		retry.MaxDelay(s.cfg.BindMaxWait),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			metrics.PacketErrors.WithLabelValues("bind").Inc()
			s.logger.Warn("binding DHCP socket failed, retrying",
				"address", s.cfg.Addr,
				"attempt", n+1,
				"error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.logger.Info("DHCP server started",
		"address", s.conn.LocalAddr().String(),
		"interface", s.cfg.Interface)

	s.wg.Add(1)
	go s.serve(ctx)
	return nil
}

// listen opens the socket with SO_REUSEADDR and SO_BROADCAST set and asks
// the kernel for the receiving interface of each packet.
func (s *Server) listen(ctx context.Context) error {
	lc := net.ListenConfig{Control: controlSockopts}
	conn, err := lc.ListenPacket(ctx, "udp4", s.cfg.Addr)
	if err != nil {
		return err
	}

	pc := ipv4.NewPacketConn(conn)
	if s.ifIndex != 0 {
		if err := pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
			conn.Close()
			return retry.Unrecoverable(fmt.Errorf("enabling interface control messages: %w", err))
		}
	}

	s.conn = conn
	s.pc = pc
	if s.out == nil {
		s.out = &udpBroadcaster{
			pc:      pc,
			ifIndex: s.ifIndex,
			dst:     &net.UDPAddr{IP: net.IPv4bcast, Port: dhcpv4.ClientPort},
		}
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// serve reads and answers packets until ctx is cancelled. The read deadline
// wakes the loop so cancellation is noticed even when the segment is quiet.
func (s *Server) serve(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, dhcpv4.MaxPacketSize)
	for {
		if ctx.Err() != nil {
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, cm, src, err := s.pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			metrics.PacketErrors.WithLabelValues("read").Inc()
			s.logger.Error("reading UDP packet", "error", err)
			continue
		}

		if s.ifIndex != 0 && cm != nil && cm.IfIndex != s.ifIndex {
			metrics.PacketsIgnored.WithLabelValues("wrong_interface").Inc()
			continue
		}
		if n >= len(buf) {
			metrics.PacketErrors.WithLabelValues("oversize").Inc()
			s.logger.Debug("dropping oversize datagram", "src", src.String(), "max", len(buf))
			continue
		}

		s.processPacket(ctx, buf[:n], src)
	}
}

// processPacket answers a single datagram. Every failure stays inside this
// function: it is logged and counted, and the loop moves on.
func (s *Server) processPacket(ctx context.Context, data []byte, src net.Addr) {
	reply, err := s.handler.Handle(ctx, data)
	if err != nil {
		s.reportError(err, src, len(data))
		return
	}
	if reply == nil {
		return
	}

	out, err := reply.Base().Encode()
	if err != nil {
		metrics.PacketErrors.WithLabelValues("encode").Inc()
		s.logger.Error("encoding reply",
			"error", err,
			"mac", reply.Base().MAC(),
			"msg_type", reply.Kind().String())
		return
	}

	if err := s.out.Broadcast(out); err != nil {
		metrics.PacketErrors.WithLabelValues("send").Inc()
		s.logger.Error("broadcasting reply",
			"error", err,
			"mac", reply.Base().MAC(),
			"msg_type", reply.Kind().String())
		return
	}
	metrics.PacketsSent.WithLabelValues(reply.Kind().String()).Inc()
}

// reportError classifies a handler error. Malformed input is logged at
// Debug so hostile traffic cannot flood the log; the counters still show it.
func (s *Server) reportError(err error, src net.Addr, size int) {
	srcStr := ""
	if src != nil {
		srcStr = src.String()
	}
	switch {
	case errors.Is(err, ErrTruncatedPacket):
		metrics.PacketErrors.WithLabelValues("decode").Inc()
		s.logger.Debug("dropping malformed packet", "error", err, "src", srcStr, "size", size)
	case errors.Is(err, ErrBadMagicCookie):
		metrics.PacketErrors.WithLabelValues("magic").Inc()
		s.logger.Debug("dropping non-DHCP packet", "error", err, "src", srcStr, "size", size)
	default:
		metrics.PacketErrors.WithLabelValues("handler").Inc()
		s.logger.Error("handling DHCP packet", "error", err, "src", srcStr)
	}
}

// Stop closes the socket and waits for the serve loop to exit. The caller
// cancels the context passed to Start first.
func (s *Server) Stop() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.logger.Info("DHCP server stopped")
}

// udpBroadcaster sends to 255.255.255.255:68, out of the configured
// interface when there is one.
type udpBroadcaster struct {
	pc      *ipv4.PacketConn
	ifIndex int
	dst     net.Addr
}

func (b *udpBroadcaster) Broadcast(payload []byte) error {
	var cm *ipv4.ControlMessage
	if b.ifIndex != 0 {
		cm = &ipv4.ControlMessage{IfIndex: b.ifIndex}
	}
	_, err := b.pc.WriteTo(payload, cm, b.dst)
	return err
}
