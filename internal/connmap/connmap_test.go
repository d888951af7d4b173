package connmap

import (
	"fmt"
	"net"
	"testing"

	"sphynx/internal/connid"
)

func mustAddr(s string) net.UDPAddr {
	a, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		panic(err)
	}
	return *a
}

func TestInsertLookupRemove(t *testing.T) {
	m := New()
	addr := mustAddr("203.0.113.5:4000")
	id := connid.New()

	if ok := m.Insert(addr, id, "session-1"); !ok {
		t.Fatalf("Insert() = false, want true")
	}
	gotID, gotVal, ok := m.Lookup(addr)
	if !ok {
		t.Fatalf("Lookup() ok = false, want true")
	}
	if gotID != id {
		t.Errorf("Lookup() id = %v, want %v", gotID, id)
	}
	if gotVal != "session-1" {
		t.Errorf("Lookup() value = %v, want session-1", gotVal)
	}

	if !m.Remove(addr) {
		t.Fatalf("Remove() = false, want true")
	}
	if _, _, ok := m.Lookup(addr); ok {
		t.Errorf("Lookup() after Remove ok = true, want false")
	}
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	m := New()
	if _, _, ok := m.Lookup(mustAddr("198.51.100.7:1234")); ok {
		t.Errorf("Lookup() on empty map ok = true, want false")
	}
}

func TestDistinctPortsDistinctEntries(t *testing.T) {
	m := New()
	ip := "192.0.2.9"
	for port := 0; port < 16; port++ {
		addr := mustAddr(fmt.Sprintf("%s:%d", ip, 5000+port))
		if !m.Insert(addr, connid.New(), port) {
			t.Fatalf("Insert() port %d = false", port)
		}
	}
	for port := 0; port < 16; port++ {
		addr := mustAddr(fmt.Sprintf("%s:%d", ip, 5000+port))
		_, val, ok := m.Lookup(addr)
		if !ok {
			t.Fatalf("Lookup() port %d ok = false", port)
		}
		if val.(int) != port {
			t.Errorf("Lookup() port %d value = %v, want %d", port, val, port)
		}
	}
	if m.Population() != 16 {
		t.Errorf("Population() = %d, want 16", m.Population())
	}
}

func TestIPv6Entry(t *testing.T) {
	m := New()
	addr := mustAddr("[2001:db8::1]:443")
	if !m.Insert(addr, connid.New(), "v6") {
		t.Fatalf("Insert() = false")
	}
	_, val, ok := m.Lookup(addr)
	if !ok || val != "v6" {
		t.Errorf("Lookup() = (%v, %v), want (true, v6)", ok, val)
	}
}

func TestRemoveDoesNotOrphanDisplacedEntry(t *testing.T) {
	ip := net.ParseIP("203.0.113.5")
	seen := make(map[uint32]net.UDPAddr)
	var a, b net.UDPAddr
	found := false
	for port := 1; port < 20000; port++ {
		addr := net.UDPAddr{IP: ip, Port: port}
		slot := hashSlot(addr)
		if prior, ok := seen[slot]; ok {
			a, b = prior, addr
			found = true
			break
		}
		seen[slot] = addr
	}
	if !found {
		t.Fatal("could not find two addresses sharing a home slot")
	}

	m := New()
	if !m.Insert(a, connid.New(), "a") {
		t.Fatalf("Insert(a) = false")
	}
	if !m.Insert(b, connid.New(), "b") {
		t.Fatalf("Insert(b) = false")
	}

	if !m.Remove(a) {
		t.Fatalf("Remove(a) = false, want true")
	}
	if _, _, ok := m.Lookup(b); !ok {
		t.Errorf("Lookup(b) after removing the entry at their shared home slot = false, want true")
	}
}

func TestThomasWangHashDeterministic(t *testing.T) {
	if thomasWangHash(42) != thomasWangHash(42) {
		t.Errorf("thomasWangHash not deterministic")
	}
	if thomasWangHash(42) == thomasWangHash(43) {
		t.Errorf("thomasWangHash(42) == thomasWangHash(43), want distinct")
	}
}
