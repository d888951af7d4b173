// Package worker is the server-side event loop: a UDP listener routes
// inbound datagrams to the handshake FSM or an established Connexion, a
// ticker sweeps every live Connexion for retransmits and timeouts, and an
// Arena holds the Connexion set keyed by the process-unique id minted for
// each one. This replaces the original's reference-counted back-pointer
// arena with a goroutine/channel-friendly map the way the teacher's
// Players map stands in for SA-MP's client-slot array.
package worker

import (
	"net"
	"sync"

	"sphynx/internal/connid"
	"sphynx/internal/connmap"
	"sphynx/internal/transport"
)

// peer bundles one Connexion with the routing metadata the Arena and
// Router need.
type peer struct {
	id   connid.ID
	addr net.UDPAddr
	conn *transport.Connexion
}

// Arena owns every live Connexion, indexed both by id (the authoritative
// key) and by remote address (for inbound datagram routing) via connmap.
type Arena struct {
	mu      sync.RWMutex
	byID    map[connid.ID]*peer
	addrMap *connmap.Map
}

// NewArena returns an empty Arena.
func NewArena() *Arena {
	return &Arena{
		byID:    make(map[connid.ID]*peer),
		addrMap: connmap.New(),
	}
}

// Admit adds a freshly established Connexion, returning its minted id.
// It returns false if the address-keyed table is full.
func (a *Arena) Admit(addr net.UDPAddr, conn *transport.Connexion) (connid.ID, bool) {
	id := connid.New()
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.addrMap.Insert(addr, id, nil) {
		return connid.ID{}, false
	}
	a.byID[id] = &peer{id: id, addr: addr, conn: conn}
	return id, true
}

// ByAddr looks up the Connexion currently bound to addr.
func (a *Arena) ByAddr(addr net.UDPAddr) (*transport.Connexion, connid.ID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, _, ok := a.addrMap.Lookup(addr)
	if !ok {
		return nil, connid.ID{}, false
	}
	p, ok := a.byID[id]
	if !ok {
		return nil, connid.ID{}, false
	}
	return p.conn, id, true
}

// ByID looks up a Connexion by its minted id.
func (a *Arena) ByID(id connid.ID) (*transport.Connexion, net.UDPAddr, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.byID[id]
	if !ok {
		return nil, net.UDPAddr{}, false
	}
	return p.conn, p.addr, true
}

// Remove evicts a Connexion, called on timeout or disconnect.
func (a *Arena) Remove(id connid.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.byID[id]
	if !ok {
		return
	}
	a.addrMap.Remove(p.addr)
	delete(a.byID, id)
}

// Population returns the current live Connexion count, for metrics.
func (a *Arena) Population() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byID)
}

// Capacity returns the address table's fixed capacity, for metrics.
func (a *Arena) Capacity() int {
	return connmap.Size
}

// Each invokes fn for every live Connexion, used by the tick and cleanup
// sweeps. fn runs over a snapshot with the lock released, so it may call
// back into Arena (the cleanup sweep calls Remove from fn).
func (a *Arena) Each(fn func(id connid.ID, addr net.UDPAddr, conn *transport.Connexion)) {
	a.mu.RLock()
	snapshot := make([]*peer, 0, len(a.byID))
	for _, p := range a.byID {
		snapshot = append(snapshot, p)
	}
	a.mu.RUnlock()
	for _, p := range snapshot {
		fn(p.id, p.addr, p.conn)
	}
}
