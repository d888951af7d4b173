package worker

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"sphynx/internal/config"
	"sphynx/internal/connid"
	"sphynx/internal/crypto"
	"sphynx/internal/floodguard"
	"sphynx/internal/handshake"
	"sphynx/internal/logging"
	"sphynx/internal/metrics"
	"sphynx/internal/transport"
	"sphynx/internal/wire"
)

// Server is the listening endpoint: one UDP socket, the handshake FSM, the
// Connexion Arena, and the background tickers that drive retransmission,
// ack flushing, and stale-session cleanup. Clock sync pongs are not
// ticker-driven: the server never initiates a ping, it only replies to one
// inline from the listen loop, via HandleDatagram's returned replies.
type Server struct {
	cfg config.Config

	conn  *net.UDPConn
	kp    *crypto.KeyPair
	hs    *handshake.Server
	flood *floodguard.Guard
	arena *Arena
	router *Router

	metrics *metrics.Collector

	running int32
	done    chan struct{}
}

// NewServer builds a Server bound to cfg's settings, using kp as the
// server's long-term key pair.
func NewServer(cfg config.Config, kp *crypto.KeyPair) (*Server, error) {
	jar, err := handshake.NewCookieJar()
	if err != nil {
		return nil, fmt.Errorf("worker: new cookie jar: %w", err)
	}
	arena := NewArena()
	flood := floodguard.New()

	s := &Server{
		cfg:    cfg,
		kp:     kp,
		hs:     handshake.NewServer(kp, jar),
		flood:  flood,
		arena:  arena,
		router: NewRouter(arena),
		done:   make(chan struct{}),
	}
	s.metrics = metrics.NewCollector(arena, flood)
	return s, nil
}

// Metrics returns the Prometheus collector for this server, for the
// caller to register with its own registry.
func (s *Server) Metrics() *metrics.Collector { return s.metrics }

// Start binds the UDP socket and launches the listen loop and background
// tickers. It returns once the socket is bound; the listen loop itself
// runs in a goroutine.
func (s *Server) Start() error {
	addr := &net.UDPAddr{IP: net.ParseIP(s.cfg.Host), Port: s.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("worker: bind udp socket: %w", err)
	}
	s.conn = conn
	atomic.StoreInt32(&s.running, 1)

	logging.Success("sphynx server listening on %s", conn.LocalAddr())

	go s.listenLoop()
	go s.tickLoop()
	go s.cleanupLoop()
	return nil
}

// Stop closes the socket and halts the background loops.
func (s *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return
	}
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
	logging.Info("sphynx server stopped")
}

func (s *Server) listenLoop() {
	buf := make([]byte, wire.MaximumMTU)
	for atomic.LoadInt32(&s.running) == 1 {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&s.running) == 1 {
				logging.Warn("worker: read error: %v", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		go s.handleDatagram(data, addr)
	}
}

func (s *Server) handleDatagram(data []byte, from *net.UDPAddr) {
	if conn, _, ok := s.router.Resolve(*from); ok {
		plain, err := conn.Decrypt(data)
		if err != nil {
			logging.Warn("worker: decrypt failed from %s: %v", from, err)
			return
		}
		for _, reply := range conn.HandleDatagram(plain) {
			sealed, err := conn.Encrypt(reply)
			if err != nil {
				logging.Warn("worker: encrypt reply for %s: %v", from, err)
				continue
			}
			s.send(from, sealed)
		}
		return
	}

	if len(data) == 0 {
		return
	}
	if s.flood.Check(from.IP) != floodguard.Admit {
		s.send(from, []byte{byte(wire.S2CError), byte(wire.ErrFloodDetected)})
		return
	}

	switch wire.HandshakeType(data[0]) {
	case wire.C2SHello:
		reply, err := s.hs.HandleHello(data, from)
		if err != nil {
			logging.Warn("worker: bad hello from %s: %v", from, err)
			return
		}
		s.send(from, reply)
	case wire.C2SChallenge:
		s.handleChallenge(data, from)
	default:
		logging.Warn("worker: unexpected datagram tag %d from %s pre-handshake", data[0], from)
	}
}

func (s *Server) handleChallenge(data []byte, from *net.UDPAddr) {
	pending, rawAnswer, err := s.hs.HandleChallenge(data, from)
	if err != nil {
		logging.Warn("worker: bad challenge from %s: %v", from, err)
		return
	}
	if pending == nil {
		// rawAnswer here is a cached reply to a duplicate challenge.
		s.send(from, rawAnswer)
		return
	}

	if s.arena.Population() >= s.cfg.MaxPopulation {
		s.send(from, s.hs.Reject(pending, wire.ErrServerFull))
		return
	}

	answer := s.hs.CompleteAnswer(pending, rawAnswer)
	label := []byte(s.cfg.SessionKeyLabel)
	enc, err := pending.KeyAgree.KeyEncryption(pending.KeyHash(), label)
	if err != nil {
		logging.Error("worker: derive session encryption for %s: %v", from, err)
		s.send(from, s.hs.Reject(pending, wire.ErrServerError))
		return
	}

	tc := transport.NewConnexion(enc)
	if _, ok := s.arena.Admit(*from, tc); !ok {
		s.send(from, s.hs.Reject(pending, wire.ErrServerFull))
		return
	}
	s.hs.Forget(from)
	s.send(from, answer)
	logging.Info("worker: connexion established with %s", from)
}

func (s *Server) send(to *net.UDPAddr, data []byte) {
	if _, err := s.conn.WriteToUDP(data, to); err != nil {
		logging.Warn("worker: send to %s failed: %v", to, err)
	}
}

func (s *Server) tickLoop() {
	ticker := time.NewTicker(time.Duration(wire.TickInterval) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.arena.Each(func(id connid.ID, addr net.UDPAddr, conn *transport.Connexion) {
				for _, dgram := range conn.Tick(now) {
					sealed, err := conn.Encrypt(dgram)
					if err != nil {
						logging.Warn("worker: encrypt resend for %s: %v", addr, err)
						return
					}
					s.send(&addr, sealed)
				}
				if ack := conn.BuildAckDatagram(); ack != nil {
					sealed, err := conn.Encrypt(ack)
					if err != nil {
						logging.Warn("worker: encrypt ack for %s: %v", addr, err)
						return
					}
					s.send(&addr, sealed)
				}
			})
		}
	}
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	timeout := time.Duration(wire.TimeoutDisconnect) * time.Millisecond
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.flood.Decay()
			now := time.Now()
			s.arena.Each(func(id connid.ID, addr net.UDPAddr, conn *transport.Connexion) {
				if conn.IdleSince(now) > timeout {
					s.arena.Remove(id)
					s.router.Invalidate(addr)
					logging.Info("worker: evicted idle connexion %s", addr.String())
				}
			})
		}
	}
}
