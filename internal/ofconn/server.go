// Package ofconn owns the OpenFlow 1.3 TCP sessions: accepting switch
// connections, running the Hello/Features handshake, dispatching inbound
// messages to Awareness/Monitor/Forwarder, and serializing outbound writes
// per connection (spec §5: "flow-mod messages on the same channel are
// serialized"; spec §9: "goroutines/tasks synchronized via channels... shared
// state must move behind a single-writer mutex").
package ofconn

import (
	"context"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sieve-sdn/sieve/internal/awareness"
	"github.com/sieve-sdn/sieve/internal/config"
	"github.com/sieve-sdn/sieve/internal/ofp13"
)

// lldpEmitPeriod is how often Server re-emits LLDP discovery frames out every
// known port (spec §6 leaves the LLDP cadence to "the host OpenFlow
// library"; Sieve compiles in a fixed interval).
const lldpEmitPeriod = 5 * time.Second

// PortDescHandler, PortStatsHandler and FlowStatsHandler are Monitor's
// inbound multipart-reply hooks.
type PortDescHandler interface {
	HandlePortDescReply(dpid uint64, descs []ofp13.PortDesc)
}
type PortStatsHandler interface {
	HandlePortStatsReply(dpid uint64, entries []ofp13.PortStatsEntry)
}
type FlowStatsHandler interface {
	HandleFlowStatsReply(dpid uint64, entries []ofp13.FlowStatsEntry)
}

// PacketInHandler is Forwarder's inbound packet-in hook.
type PacketInHandler interface {
	HandlePacketIn(dpid uint64, inPort, bufferID uint32, data []byte)
}

// Server accepts OpenFlow 1.3 switch connections and wires them to the three
// control-plane components (spec §9: "explicit constructor wiring: the event
// loop owns all three components and injects references once").
type Server struct {
	cfg *config.Config
	aw  *awareness.Awareness

	portDesc  PortDescHandler
	portStats PortStatsHandler
	flowStats FlowStatsHandler
	packetIn  PacketInHandler

	mu    sync.RWMutex
	conns map[uint64]*conn
}

// New builds a Server. The handler arguments are typically *monitor.Monitor
// (for the three stats handlers) and *forwarder.Forwarder (for packet-in).
func New(cfg *config.Config, aw *awareness.Awareness, portDesc PortDescHandler, portStats PortStatsHandler, flowStats FlowStatsHandler, packetIn PacketInHandler) *Server {
	return &Server{
		cfg:       cfg,
		aw:        aw,
		portDesc:  portDesc,
		portStats: portStats,
		flowStats: flowStats,
		packetIn:  packetIn,
		conns:     make(map[uint64]*conn),
	}
}

// SetHandlers wires the reply handlers after construction, for the common
// case where Server must exist before Monitor/Forwarder can be built (each
// takes Server as their outbound Sender).
func (s *Server) SetHandlers(portDesc PortDescHandler, portStats PortStatsHandler, flowStats FlowStatsHandler, packetIn PacketInHandler) {
	s.portDesc = portDesc
	s.portStats = portStats
	s.flowStats = flowStats
	s.packetIn = packetIn
}

// ListenAndServe accepts switch connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	log.WithField("addr", addr).Info("ofconn: listening for switch connections")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.WithError(err).Warn("ofconn: accept failed")
				continue
			}
		}
		go s.serve(ctx, nc)
	}
}

func (s *Server) serve(ctx context.Context, nc net.Conn) {
	c := newConn(nc)
	defer c.close()

	dpid, err := c.handshake()
	if err != nil {
		log.WithError(err).Warn("ofconn: handshake failed")
		return
	}

	s.registerConn(dpid, c)
	defer s.unregisterConn(dpid)

	s.aw.OnSwitchEnter(dpid)
	defer s.aw.OnSwitchLeave(dpid)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.lldpLoop(connCtx, dpid, c)

	if err := c.send(ofp13.PortDescRequest(c.nextXID())); err != nil {
		log.WithError(err).WithField("dpid", dpid).Warn("ofconn: initial port-desc request failed")
	}

	s.readLoop(dpid, c)
}

func (s *Server) registerConn(dpid uint64, c *conn) {
	s.mu.Lock()
	s.conns[dpid] = c
	s.mu.Unlock()
}

func (s *Server) unregisterConn(dpid uint64) {
	s.mu.Lock()
	delete(s.conns, dpid)
	s.mu.Unlock()
}

func (s *Server) connFor(dpid uint64) (*conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[dpid]
	return c, ok
}

// lldpLoop periodically emits an LLDP discovery frame out every known port
// of dpid (spec §6's "topology discovery via LLDP").
func (s *Server) lldpLoop(ctx context.Context, dpid uint64, c *conn) {
	ticker := time.NewTicker(lldpEmitPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		edge := s.cfg.TierOf(dpid) == config.TierEdge
		for _, port := range s.aw.SwitchPorts(dpid) {
			// Edge host-facing ports never connect to another switch, so
			// probing them would only waste cycles.
			if edge && !s.cfg.IsEdgeUplink(dpid, port) {
				continue
			}
			frame, err := buildLLDP(dpid, port)
			if err != nil {
				continue
			}
			out := ofp13.PacketOut(c.nextXID(), ofp13.NoBuffer, ofp13.PortController, port, frame)
			if err := c.send(out); err != nil {
				log.WithError(err).WithField("dpid", dpid).Warn("ofconn: lldp packet-out failed")
			}
		}
	}
}
