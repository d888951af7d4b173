// Package connmap implements the fixed-size open-addressed Connexion
// table keyed by remote UDP address: a Thomas Wang avalanche hash folds
// IPv4+port into a table slot, MurmurHash32 covers IPv6, and collision
// chains are walked with a linear-congruential probe sequence instead of
// the usual linear/quadratic probing; deletions walk the chain backward
// with the multiplicative inverse of the probe step to decide which later
// entries to shift into the gap, rather than rehashing the whole chain.
package connmap

import (
	"net"
	"sync"

	"sphynx/internal/connid"
	"sphynx/internal/wire"
)

// Size is the fixed slot count. Large and prime-adjacent-free because the
// probe sequence's period already covers every slot for Size a power of
// two; it does not need Size itself to be prime.
const Size = wire.HashTableSize

// secretConstant multiplies the port before it is XORed into the 32-bit
// IPv4 address word, so two peers behind the same NAT on different ports
// land in different slots.
const secretConstant = wire.SecretConstant

// entry is one table slot.
type entry struct {
	occupied  bool
	collided  bool // a key whose home is this slot is stored further along the chain
	key       [18]byte
	keyLen    int
	id        connid.ID
	value     interface{}
}

// Map is the fixed-size Connexion lookup table. Zero value is not usable;
// construct with New.
type Map struct {
	mu      sync.RWMutex
	slots   []entry
	count   int
}

// New returns an empty Map.
func New() *Map {
	return &Map{slots: make([]entry, Size)}
}

// Population returns the current number of live entries.
func (m *Map) Population() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Capacity returns the fixed slot count.
func (m *Map) Capacity() int {
	return Size
}

func addrKey(addr net.UDPAddr) ([18]byte, int) {
	var k [18]byte
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(k[:4], ip4)
		k[4] = byte(addr.Port)
		k[5] = byte(addr.Port >> 8)
		return k, 6
	}
	ip16 := addr.IP.To16()
	copy(k[:16], ip16)
	k[16] = byte(addr.Port)
	k[17] = byte(addr.Port >> 8)
	return k, 18
}

// hashSlot computes the home slot for addr.
func hashSlot(addr net.UDPAddr) uint32 {
	key, keyLen := addrKey(addr)
	return hashSlotFromKey(key, keyLen)
}

// hashSlotFromKey recomputes the home slot directly from a stored key,
// without reconstructing a net.UDPAddr, so a chain walk can re-derive a
// displaced entry's home slot during removal.
func hashSlotFromKey(key [18]byte, keyLen int) uint32 {
	if keyLen == 6 {
		word := uint32(key[0])<<24 | uint32(key[1])<<16 | uint32(key[2])<<8 | uint32(key[3])
		port := uint32(key[4]) | uint32(key[5])<<8
		word ^= port * secretConstant
		return thomasWangHash(word) % Size
	}
	port := uint32(key[16]) | uint32(key[17])<<8
	return murmur32(key[:16], port) % Size
}

// thomasWangHash is the classic 32-bit integer avalanche mix.
func thomasWangHash(key uint32) uint32 {
	key = (key ^ 61) ^ (key >> 16)
	key = key + (key << 3)
	key = key ^ (key >> 4)
	key = key * 0x27d4eb2d
	key = key ^ (key >> 15)
	return key
}

// murmur32 is MurmurHash3's 32-bit variant, used for IPv6 addresses where
// the full 16-byte key doesn't fit in one word for the Thomas Wang mix.
func murmur32(data []byte, seed uint32) uint32 {
	const c1 = 0xcc9e2d51
	const c2 = 0x1b873593
	h := seed
	nblocks := len(data) / 4
	for i := 0; i < nblocks; i++ {
		k := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		k *= c1
		k = (k << 15) | (k >> 17)
		k *= c2
		h ^= k
		h = (h << 13) | (h >> 19)
		h = h*5 + 0xe6546b64
	}
	tail := data[nblocks*4:]
	var k uint32
	switch len(tail) {
	case 3:
		k ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint32(tail[0])
		k *= c1
		k = (k << 15) | (k >> 17)
		k *= c2
		h ^= k
	}
	h ^= uint32(len(data))
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

func nextSlot(slot uint32) uint32 {
	return (slot*wire.CollisionMultiplier + wire.CollisionIncrementer) % Size
}

// prevSlot inverts nextSlot using wire.CollisionMultInverse, the
// multiplicative inverse of the probe step's multiplier. Size divides
// 2^32, so the inverse computed mod 2^32 is also valid mod Size, and
// nextSlot(prevSlot(x)) == x for every slot.
func prevSlot(slot uint32) uint32 {
	diff := (uint64(slot) + uint64(Size) - uint64(wire.CollisionIncrementer)%uint64(Size)) % uint64(Size)
	return uint32(diff * uint64(wire.CollisionMultInverse) % uint64(Size))
}

// probeDistance counts the forward nextSlot steps from home to target by
// walking backward from target toward home via prevSlot, the mechanism
// Remove uses to decide whether a displaced entry can shift back to fill
// a gap left by a deletion.
func probeDistance(home, target uint32) int {
	d := 0
	for s := target; s != home; s = prevSlot(s) {
		d++
	}
	return d
}

// Insert adds addr -> (id, value), returning false if the table is full.
func (m *Map) Insert(addr net.UDPAddr, id connid.ID, value interface{}) bool {
	key, keyLen := addrKey(addr)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count >= Size {
		return false
	}

	home := hashSlot(addr)
	slot := home
	for i := 0; i < Size; i++ {
		e := &m.slots[slot]
		if !e.occupied {
			e.occupied = true
			e.key = key
			e.keyLen = keyLen
			e.id = id
			e.value = value
			e.collided = false
			if slot != home {
				m.slots[home].collided = true
			}
			m.count++
			return true
		}
		slot = nextSlot(slot)
	}
	return false
}

// Lookup returns the (id, value) stored for addr, if any.
func (m *Map) Lookup(addr net.UDPAddr) (connid.ID, interface{}, bool) {
	key, keyLen := addrKey(addr)
	m.mu.RLock()
	defer m.mu.RUnlock()

	home := hashSlot(addr)
	slot := home
	for i := 0; i < Size; i++ {
		e := &m.slots[slot]
		if e.occupied && e.keyLen == keyLen && e.key == key {
			return e.id, e.value, true
		}
		if !e.occupied || (slot == home && !e.collided) {
			return connid.ID{}, nil, false
		}
		slot = nextSlot(slot)
	}
	return connid.ID{}, nil, false
}

// Remove deletes addr's entry, if present, backward-shifting any later
// entry in the collision chain that would otherwise be orphaned by the
// gap, then recomputes the collided flag of the removed key's home slot.
// Other home slots keep their flag as it was, so a flag can stay set after
// its last displaced entry has moved home; a Lookup then merely walks on.
func (m *Map) Remove(addr net.UDPAddr) bool {
	key, keyLen := addrKey(addr)
	m.mu.Lock()
	defer m.mu.Unlock()

	home := hashSlot(addr)
	slot := home
	found := false
	for i := 0; i < Size; i++ {
		e := &m.slots[slot]
		if e.occupied && e.keyLen == keyLen && e.key == key {
			found = true
			break
		}
		if !e.occupied || (slot == home && !e.collided) {
			return false
		}
		slot = nextSlot(slot)
	}
	if !found {
		return false
	}

	m.deleteAndShift(slot)
	m.count--
	m.recomputeCollided(home)
	return true
}

// deleteAndShift empties gap, pulling later entries in the probe chain
// backward into it whenever their own home lies at or before gap along
// their chain — the backward-shift analogue of the forward probing
// Insert does, so no tombstone is needed and nothing beyond gap becomes
// unreachable.
func (m *Map) deleteAndShift(gap uint32) {
	next := gap
	for i := 1; i < Size; i++ {
		next = nextSlot(next)
		e := &m.slots[next]
		if !e.occupied {
			break
		}
		eHome := hashSlotFromKey(e.key, e.keyLen)
		if probeDistance(eHome, gap) > probeDistance(eHome, next) {
			continue // e's home lies past gap; it stays where it is
		}
		collided := m.slots[gap].collided // the flag belongs to the slot, not the entry
		m.slots[gap] = *e
		m.slots[gap].collided = collided
		gap = next
	}
	m.slots[gap] = entry{}
}

// recomputeCollided sets home's collided flag to whether some entry whose
// own home is exactly this slot is currently displaced elsewhere in the
// contiguous occupied run starting at home.
func (m *Map) recomputeCollided(home uint32) {
	displaced := false
	slot := home
	for i := 0; i < Size; i++ {
		e := &m.slots[slot]
		if !e.occupied {
			break
		}
		if slot != home && hashSlotFromKey(e.key, e.keyLen) == home {
			displaced = true
			break
		}
		slot = nextSlot(slot)
	}
	m.slots[home].collided = displaced
}
