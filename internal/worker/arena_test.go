package worker

import (
	"net"
	"testing"

	"sphynx/internal/crypto"
	"sphynx/internal/transport"
)

type nullAEAD struct{}

func (nullAEAD) Encrypt(dst, plaintext []byte) ([]byte, error) { return append(dst, plaintext...), nil }
func (nullAEAD) Decrypt(ciphertext []byte) ([]byte, error)     { return ciphertext, nil }
func (nullAEAD) Overhead() int                                 { return 0 }

var _ crypto.AuthenticatedEncryption = nullAEAD{}

func mustAddr(t *testing.T, s string) net.UDPAddr {
	t.Helper()
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		t.Fatalf("ResolveUDPAddr(%q) error = %v", s, err)
	}
	return *a
}

func TestArenaAdmitAndLookup(t *testing.T) {
	a := NewArena()
	addr := mustAddr(t, "203.0.113.50:9000")
	conn := transport.NewConnexion(nullAEAD{})

	id, ok := a.Admit(addr, conn)
	if !ok {
		t.Fatalf("Admit() = false, want true")
	}
	got, gotID, ok := a.ByAddr(addr)
	if !ok || got != conn || gotID != id {
		t.Errorf("ByAddr() = (%v, %v, %v), want (%v, %v, true)", got, gotID, ok, conn, id)
	}
	if a.Population() != 1 {
		t.Errorf("Population() = %d, want 1", a.Population())
	}
}

func TestArenaRemove(t *testing.T) {
	a := NewArena()
	addr := mustAddr(t, "198.51.100.60:9100")
	conn := transport.NewConnexion(nullAEAD{})
	id, _ := a.Admit(addr, conn)

	a.Remove(id)
	if _, _, ok := a.ByAddr(addr); ok {
		t.Errorf("ByAddr() after Remove ok = true, want false")
	}
	if a.Population() != 0 {
		t.Errorf("Population() after Remove = %d, want 0", a.Population())
	}
}

func TestRouterCachesLastAddress(t *testing.T) {
	a := NewArena()
	addr := mustAddr(t, "192.0.2.70:9200")
	conn := transport.NewConnexion(nullAEAD{})
	a.Admit(addr, conn)

	r := NewRouter(a)
	got1, _, ok1 := r.Resolve(addr)
	got2, _, ok2 := r.Resolve(addr) // served from the one-entry cache
	if !ok1 || !ok2 || got1 != conn || got2 != conn {
		t.Errorf("Resolve() = (%v,%v) (%v,%v), want (%v,true) (%v,true)", got1, ok1, got2, ok2, conn, conn)
	}
}

func TestRouterInvalidateDropsCache(t *testing.T) {
	a := NewArena()
	addr := mustAddr(t, "192.0.2.80:9300")
	conn := transport.NewConnexion(nullAEAD{})
	id, _ := a.Admit(addr, conn)

	r := NewRouter(a)
	r.Resolve(addr)
	a.Remove(id)
	r.Invalidate(addr)

	if _, _, ok := r.Resolve(addr); ok {
		t.Errorf("Resolve() after eviction+invalidate ok = true, want false")
	}
}
