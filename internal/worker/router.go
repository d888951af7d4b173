package worker

import (
	"net"
	"sync"

	"sphynx/internal/connid"
	"sphynx/internal/transport"
)

// Router resolves an inbound datagram's source address to its Connexion.
// Real traffic arrives in bursts from the same socket, so it caches the
// single most recently routed address and skips the Arena's hash lookup
// entirely when the next datagram is from that same peer, the batching
// optimization the original's Server::OnRecvRouting applies before
// falling back to a full table lookup.
type Router struct {
	arena *Arena

	mu       sync.Mutex
	lastAddr net.UDPAddr
	lastConn *transport.Connexion
	lastID   connid.ID
	lastOK   bool
}

// NewRouter builds a Router over arena.
func NewRouter(arena *Arena) *Router {
	return &Router{arena: arena}
}

// Resolve returns the Connexion bound to addr, consulting the one-entry
// cache before falling back to the Arena.
func (r *Router) Resolve(addr net.UDPAddr) (*transport.Connexion, connid.ID, bool) {
	r.mu.Lock()
	if r.lastOK && addrEqual(r.lastAddr, addr) {
		conn, id := r.lastConn, r.lastID
		r.mu.Unlock()
		return conn, id, true
	}
	r.mu.Unlock()

	conn, id, ok := r.arena.ByAddr(addr)
	r.mu.Lock()
	if ok {
		r.lastAddr, r.lastConn, r.lastID, r.lastOK = addr, conn, id, true
	}
	r.mu.Unlock()
	return conn, id, ok
}

// Invalidate drops the cache if it currently points at addr, called when a
// Connexion bound to addr is removed so the cache can't serve a stale
// Connexion after eviction.
func (r *Router) Invalidate(addr net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastOK && addrEqual(r.lastAddr, addr) {
		r.lastOK = false
	}
}

func addrEqual(a, b net.UDPAddr) bool {
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
