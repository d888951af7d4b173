package wire

// AckItem is one ROLLUP or RANGE entry inside an ACK message body.
//
// A rollup acknowledges every ID strictly less than ID (for Stream). A
// range acknowledges [Start, Start] or, when HasEnd, [Start, End] on
// whichever stream the preceding rollup last selected.
type AckItem struct {
	IsRollup bool
	Stream   StreamMode
	ID       uint32 // rollup: next_recv_expected_id; range: absolute start id
	HasEnd   bool
	End      uint32 // absolute end id, only meaningful when HasEnd
}

// EncodeAck appends an ACK message body (AVGTRIP followed by the ROLLUP/
// RANGE items) to dst. A rollup ID goes on the wire as its low 21 bits,
// which the receiver rebuilds by biased-counter reconstruction against its
// own running estimate (same mechanism as an ACK-ID field but one bit
// wider).
func EncodeAck(dst []byte, avgTripMS uint16, items []AckItem) []byte {
	// AVGTRIP: 7 low bits + continuation bit; 15-bit total range.
	tlo := byte(avgTripMS & 0x7F)
	if avgTripMS > 0x7F {
		dst = append(dst, tlo|0x80, byte((avgTripMS>>7)&0xFF))
	} else {
		dst = append(dst, tlo)
	}

	var lastID uint32
	haveLast := false
	for _, it := range items {
		if it.IsRollup {
			dst = encodeRollup(dst, it.Stream, it.ID)
			lastID = it.ID
			haveLast = true
			continue
		}
		var delta uint32
		if haveLast {
			delta = it.ID - lastID
		} else {
			delta = it.ID
		}
		dst = encodeRangeStart(dst, delta, it.HasEnd)
		if it.HasEnd {
			endDelta := it.End - it.ID
			dst = encodeRangeEnd(dst, endDelta)
			lastID = it.End
		} else {
			lastID = it.ID
		}
		haveLast = true
	}
	return dst
}

func encodeRollup(dst []byte, stream StreamMode, id uint32) []byte {
	id21 := id & 0x1FFFFF
	v := uint32(1)<<23 | uint32(stream&0x3)<<21 | id21
	return append(dst, byte(v>>16), byte(v>>8), byte(v))
}

func encodeRangeStart(dst []byte, delta uint32, hasEnd bool) []byte {
	low5 := byte(delta & 0x1F)
	mid7 := byte((delta >> 5) & 0x7F)
	hi8 := byte((delta >> 12) & 0xFF)

	// bits 0-4 = delta low5, bit5 = continuation, bit6 = E, bit7 = 0 marker
	b0 := low5
	if hasEnd {
		b0 |= 1 << 6
	}
	if mid7 != 0 || hi8 != 0 {
		b0 |= 1 << 5
		dst = append(dst, b0)
		b1 := mid7
		if hi8 != 0 {
			b1 |= 1 << 7
			dst = append(dst, b1, hi8)
		} else {
			dst = append(dst, b1)
		}
	} else {
		dst = append(dst, b0)
	}
	return dst
}

func encodeRangeEnd(dst []byte, delta uint32) []byte {
	low7 := byte(delta & 0x7F)
	mid7 := byte((delta >> 7) & 0x7F)
	hi8 := byte((delta >> 14) & 0xFF)
	if mid7 != 0 || hi8 != 0 {
		dst = append(dst, low7|0x80)
		if hi8 != 0 {
			dst = append(dst, mid7|0x80, hi8)
		} else {
			dst = append(dst, mid7)
		}
	} else {
		dst = append(dst, low7)
	}
	return dst
}

// DecodeAck parses an ACK message body from the front of data, returning
// the average trip time and the ordered list of items, and the number of
// bytes consumed.
func DecodeAck(data []byte) (avgTripMS uint16, items []AckItem, n int, ok bool) {
	if len(data) < 1 {
		return 0, nil, 0, false
	}
	tlo := data[0]
	i := 1
	avgTripMS = uint16(tlo & 0x7F)
	if tlo&0x80 != 0 {
		if len(data) < 2 {
			return 0, nil, 0, false
		}
		avgTripMS |= uint16(data[1]) << 7
		i = 2
	}

	var lastID uint32
	var lastStream StreamMode
	haveLast := false
	for i < len(data) {
		b0 := data[i]
		if b0&0x80 != 0 {
			// ROLLUP: 3 bytes.
			if len(data)-i < 3 {
				return 0, nil, 0, false
			}
			v := uint32(data[i])<<16 | uint32(data[i+1])<<8 | uint32(data[i+2])
			stream := StreamMode((v >> 21) & 0x3)
			id21 := v & 0x1FFFFF
			items = append(items, AckItem{IsRollup: true, Stream: stream, ID: id21})
			lastID = id21
			lastStream = stream
			haveLast = true
			i += 3
			continue
		}
		// RANGE_START
		hasEnd := b0&0x40 != 0
		low5 := uint32(b0 & 0x1F)
		delta := low5
		i++
		if b0&0x20 != 0 {
			if i >= len(data) {
				return 0, nil, 0, false
			}
			b1 := data[i]
			i++
			mid7 := uint32(b1 & 0x7F)
			delta |= mid7 << 5
			if b1&0x80 != 0 {
				if i >= len(data) {
					return 0, nil, 0, false
				}
				hi8 := uint32(data[i])
				i++
				delta |= hi8 << 12
			}
		}
		var start uint32
		if haveLast {
			start = lastID + delta
		} else {
			start = delta
		}
		item := AckItem{IsRollup: false, Stream: lastStream, ID: start, HasEnd: hasEnd}
		if hasEnd {
			if i >= len(data) {
				return 0, nil, 0, false
			}
			eb0 := data[i]
			i++
			edelta := uint32(eb0 & 0x7F)
			if eb0&0x80 != 0 {
				if i >= len(data) {
					return 0, nil, 0, false
				}
				eb1 := data[i]
				i++
				edelta |= uint32(eb1&0x7F) << 7
				if eb1&0x80 != 0 {
					if i >= len(data) {
						return 0, nil, 0, false
					}
					eb2 := data[i]
					i++
					edelta |= uint32(eb2) << 14
				}
			}
			item.End = start + edelta
			lastID = item.End
		} else {
			lastID = start
		}
		haveLast = true
		items = append(items, item)
	}
	return avgTripMS, items, i, true
}
