package wire

// ReconstructCounter recovers a full 32-bit monotonic counter from a
// truncated `bits`-wide wire sample, given the receiver's current estimate
// `ref` and a small non-negative `bias`. The result is the unique value
// whose low `bits` bits equal sample and that lies in
// [ref-bias, ref-bias+2^bits).
func ReconstructCounter(ref, sample uint32, bits uint, bias uint32) uint32 {
	mask := uint32(1)<<bits - 1
	base := ref - bias
	low := base & mask
	delta := (sample - low) & mask
	return base + delta
}

// Header describes one decoded message header (without its ACK-ID field).
type Header struct {
	SOP      SuperOpcode
	Reliable bool
	Explicit bool // I bit: an ACK-ID field follows (when not OOB)
	OOB      bool // out-of-band: no ACK-ID, body consumes rest of datagram
	DataLen  int  // meaningless when OOB
}

// EncodeHeader appends the HDR (and optional BHI) bytes for a message whose
// body is dataLen bytes long, to dst, returning the extended slice.
//
// oob must only be set when sop is SOPInternal or SOPData, reliable is
// false and explicit is true — the exceptional encoding from §4.2 that
// skips the ACK-ID field and lets the body consume the rest of the
// datagram.
func EncodeHeader(dst []byte, sop SuperOpcode, reliable, explicit, oob bool, dataLen int) []byte {
	var hdr byte
	blo := byte(dataLen & 0x7)
	hdr |= blo
	if explicit {
		hdr |= 1 << 3
	}
	if reliable {
		hdr |= 1 << 4
	}
	hdr |= byte(sop) << 5

	bhi := byte(dataLen>>3) & 0xFF
	needBHI := !oob && (dataLen > 7 || bhi != 0)
	if needBHI {
		hdr |= 1 << 7
	}
	dst = append(dst, hdr)
	if needBHI {
		dst = append(dst, bhi)
	}
	return dst
}

// DecodeHeader parses the HDR (and optional BHI) from the front of data.
// It returns the decoded header and the number of bytes consumed. A HDR
// byte of 0x00 is the no-op terminator: ok is true, but the caller MUST
// stop iterating the datagram (n is 1, Header is the zero value).
func DecodeHeader(data []byte) (hdr Header, n int, ok bool) {
	if len(data) == 0 {
		return Header{}, 0, false
	}
	b := data[0]
	if b == 0 {
		return Header{}, 1, true
	}
	blo := int(b & 0x7)
	i := b&(1<<3) != 0
	r := b&(1<<4) != 0
	sop := SuperOpcode((b >> 5) & 0x3)
	c := b&(1<<7) != 0

	oob := !r && i && (sop == SOPInternal || sop == SOPData)

	n = 1
	dataLen := blo
	if c {
		if len(data) < 2 {
			return Header{}, 0, false
		}
		dataLen = blo | int(data[1])<<3
		n = 2
	}
	return Header{SOP: sop, Reliable: r, Explicit: i, OOB: oob, DataLen: dataLen}, n, true
}

// EncodeAckID appends the 1-3 byte compressed ACK-ID field for the given
// stream and 20-bit id (only the low 20 bits of id are encoded).
func EncodeAckID(dst []byte, stream StreamMode, id uint32) []byte {
	idLow5 := byte(id & 0x1F)
	idMid7 := byte((id >> 5) & 0x7F)
	idHigh8 := byte((id >> 12) & 0xFF)

	b0 := byte(stream&0x3) | idLow5<<2
	if idMid7 != 0 || idHigh8 != 0 {
		b0 |= 1 << 7
		dst = append(dst, b0)
		b1 := idMid7
		if idHigh8 != 0 {
			b1 |= 1 << 7
			dst = append(dst, b1, idHigh8)
		} else {
			dst = append(dst, b1)
		}
	} else {
		dst = append(dst, b0)
	}
	return dst
}

// DecodeAckID parses the compressed ACK-ID field from the front of data,
// returning the stream, the 20-bit id sample, and bytes consumed.
func DecodeAckID(data []byte) (stream StreamMode, id uint32, n int, ok bool) {
	if len(data) < 1 {
		return 0, 0, 0, false
	}
	b0 := data[0]
	stream = StreamMode(b0 & 0x3)
	idLow5 := uint32(b0>>2) & 0x1F
	id = idLow5
	n = 1
	if b0&(1<<7) != 0 {
		if len(data) < 2 {
			return 0, 0, 0, false
		}
		b1 := data[1]
		idMid7 := uint32(b1 & 0x7F)
		id |= idMid7 << 5
		n = 2
		if b1&(1<<7) != 0 {
			if len(data) < 3 {
				return 0, 0, 0, false
			}
			idHigh8 := uint32(data[2])
			id |= idHigh8 << 12
			n = 3
		}
	}
	return stream, id, n, true
}

// EncodeTimestamp packs a 14-bit local-time sample (plus 2 reserved bits,
// left zero) into the 2-byte field appended just before the encryption
// overhead.
func EncodeTimestamp(localMS uint32) uint16 {
	return uint16(localMS & 0x3FFF)
}

// DecodeTimestamp reconstructs the full send time from a 14-bit wire sample
// using biased-counter reconstruction with TSCompressFutureTol bias, given
// the receiver's current local time estimate ref.
func DecodeTimestamp(ref uint32, sample uint16) uint32 {
	return ReconstructCounter(ref, uint32(sample&0x3FFF), 14, TSCompressFutureTol)
}
