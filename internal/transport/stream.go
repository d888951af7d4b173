package transport

import (
	"time"

	"sphynx/internal/wire"
)

// outMessage is one reliable message awaiting acknowledgment on a stream's
// send queue.
type outMessage struct {
	id          uint32
	data        []byte
	firstSentAt time.Time
	lastSentAt  time.Time
	retransmits int
}

// outStream is the send side of one reliable lane: it allocates
// monotonic ACK-IDs and retains unacknowledged messages for
// retransmission until the peer's ACK rolls past them.
type outStream struct {
	mode    wire.StreamMode
	nextID  uint32
	pending []*outMessage // ordered by id, oldest first
}

func newOutStream(mode wire.StreamMode) *outStream {
	return &outStream{mode: mode}
}

// Enqueue allocates the next ACK-ID for data and appends it to the
// pending retransmission queue, returning the id to stamp on the wire.
func (s *outStream) Enqueue(data []byte, now time.Time) uint32 {
	id := s.nextID
	s.nextID++
	s.pending = append(s.pending, &outMessage{
		id: id, data: data, firstSentAt: now, lastSentAt: now,
	})
	return id
}

// NextID is the id that will be assigned to the next Enqueue call, used as
// the reconstruction reference for ROLLUP/RANGE ack ids received for this
// stream.
func (s *outStream) NextID() uint32 {
	return s.nextID
}

// AckRollup drops every pending message with id < nextExpected (the
// ROLLUP semantics: everything below that id is acknowledged).
func (s *outStream) AckRollup(nextExpected uint32) {
	i := 0
	for i < len(s.pending) && s.pending[i].id < nextExpected {
		i++
	}
	s.pending = s.pending[i:]
}

// AckRange drops every pending message with id in [start, end].
func (s *outStream) AckRange(start, end uint32) {
	kept := s.pending[:0]
	for _, m := range s.pending {
		if m.id >= start && m.id <= end {
			continue
		}
		kept = append(kept, m)
	}
	s.pending = kept
}

// RetransmitDue returns every pending message whose last send is older
// than rto, stamping a fresh lastSentAt on each as it's returned.
func (s *outStream) RetransmitDue(now time.Time, rto time.Duration) []*outMessage {
	var due []*outMessage
	for _, m := range s.pending {
		if now.Sub(m.lastSentAt) >= rto {
			m.lastSentAt = now
			m.retransmits++
			due = append(due, m)
		}
	}
	return due
}

// Lost reports whether any still-pending message has been retransmitted at
// least once, the signal the flow-control AIMD estimator uses to back off.
func (s *outStream) Lost() bool {
	for _, m := range s.pending {
		if m.retransmits > 0 {
			return true
		}
	}
	return false
}

// inMessage is one received-but-not-yet-delivered message, buffered
// because it arrived ahead of the stream's delivery cursor.
type inMessage struct {
	id   uint32
	data []byte
}

// inStream is the receive side of one reliable lane: messages are
// buffered by id and released to the application in order, exactly
// mirroring an ordered stream's contract while still tolerating a bounded
// amount of reordering (OutOfOrderLimit) before a gap is considered lost
// rather than merely delayed.
type inStream struct {
	mode      wire.StreamMode
	nextWant  uint32
	buffered  map[uint32]*inMessage
	delivered []byte // scratch, reused by Deliver
}

func newInStream(mode wire.StreamMode) *inStream {
	return &inStream{mode: mode, buffered: make(map[uint32]*inMessage)}
}

// Receive records an arriving message with the given reconstructed id. It
// silently drops duplicates and anything already delivered.
func (s *inStream) Receive(id uint32, data []byte) {
	if id < s.nextWant {
		return
	}
	if id-s.nextWant > wire.OutOfOrderLimit {
		return
	}
	if _, dup := s.buffered[id]; dup {
		return
	}
	s.buffered[id] = &inMessage{id: id, data: data}
}

// Deliver returns every message now ready for in-order delivery,
// advancing nextWant past each one consumed.
func (s *inStream) Deliver() [][]byte {
	var out [][]byte
	for {
		m, ok := s.buffered[s.nextWant]
		if !ok {
			break
		}
		out = append(out, m.data)
		delete(s.buffered, s.nextWant)
		s.nextWant++
	}
	return out
}

// NextWant is the next expected id, used to build an outgoing ROLLUP ack
// item for this stream.
func (s *inStream) NextWant() uint32 {
	return s.nextWant
}

// Ranges returns the out-of-order-but-received id spans above nextWant,
// used to build outgoing RANGE ack items so the sender can stop
// retransmitting messages already buffered here.
func (s *inStream) Ranges() []wire.AckItem {
	if len(s.buffered) == 0 {
		return nil
	}
	ids := make([]uint32, 0, len(s.buffered))
	for id := range s.buffered {
		ids = append(ids, id)
	}
	sortUint32(ids)

	var items []wire.AckItem
	i := 0
	for i < len(ids) {
		start := ids[i]
		end := start
		j := i + 1
		for j < len(ids) && ids[j] == end+1 {
			end = ids[j]
			j++
		}
		if end == start {
			items = append(items, wire.AckItem{Stream: s.mode, ID: start})
		} else {
			items = append(items, wire.AckItem{Stream: s.mode, ID: start, HasEnd: true, End: end})
		}
		i = j
	}
	return items
}

func sortUint32(ids []uint32) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
