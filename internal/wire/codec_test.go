package wire

import "testing"

func TestReconstructCounterNearReference(t *testing.T) {
	ref := uint32(1_000_000)
	sample := uint32(ref&0xFFFFF) + 1 // next 20-bit id
	got := ReconstructCounter(ref, sample&0xFFFFF, 20, 16)
	if got != ref+1 {
		t.Errorf("ReconstructCounter() = %d, want %d", got, ref+1)
	}
}

func TestReconstructCounterWrapAround(t *testing.T) {
	ref := uint32(1<<20 - 1) // last value before a 20-bit wrap
	sample := uint32(0)      // wrapped to zero
	got := ReconstructCounter(ref, sample, 20, 16)
	if got != 1<<20 {
		t.Errorf("ReconstructCounter() across wrap = %d, want %d", got, uint32(1<<20))
	}
}

func TestHeaderRoundTripSmall(t *testing.T) {
	for _, dataLen := range []int{0, 1, 7} {
		buf := EncodeHeader(nil, SOPData, true, true, false, dataLen)
		hdr, n, ok := DecodeHeader(buf)
		if !ok {
			t.Fatalf("DecodeHeader() failed for len %d", dataLen)
		}
		if n != 1 {
			t.Errorf("DecodeHeader() consumed %d bytes for small length, want 1 (no BHI)", n)
		}
		if hdr.DataLen != dataLen || hdr.SOP != SOPData || !hdr.Reliable || !hdr.Explicit {
			t.Errorf("DecodeHeader() = %+v, want DataLen=%d SOP=Data R=1 I=1", hdr, dataLen)
		}
	}
}

func TestHeaderRoundTripLarge(t *testing.T) {
	buf := EncodeHeader(nil, SOPFrag, true, false, false, 900)
	hdr, n, ok := DecodeHeader(buf)
	if !ok || n != 2 {
		t.Fatalf("DecodeHeader() = (ok=%v, n=%d), want ok=true n=2", ok, n)
	}
	if hdr.DataLen != 900 || hdr.SOP != SOPFrag || !hdr.Reliable || hdr.Explicit {
		t.Errorf("DecodeHeader() = %+v, want DataLen=900 SOP=Frag R=1 I=0", hdr)
	}
}

func TestHeaderZeroIsTerminator(t *testing.T) {
	_, n, ok := DecodeHeader([]byte{0x00, 0xFF, 0xFF})
	if !ok || n != 1 {
		t.Fatalf("DecodeHeader() on HDR=0 = (ok=%v, n=%d), want ok=true n=1", ok, n)
	}
}

func TestHeaderOOBEncoding(t *testing.T) {
	buf := EncodeHeader(nil, SOPInternal, false, true, true, 0)
	hdr, n, ok := DecodeHeader(buf)
	if !ok || n != 1 {
		t.Fatalf("DecodeHeader() OOB = (ok=%v, n=%d)", ok, n)
	}
	if !hdr.OOB || hdr.Reliable {
		t.Errorf("DecodeHeader() = %+v, want OOB=true R=false", hdr)
	}
}

func TestAckIDRoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 31, 32, 4095, 4096, 1<<20 - 1}
	for _, id := range cases {
		buf := EncodeAckID(nil, Stream1, id)
		stream, got, n, ok := DecodeAckID(buf)
		if !ok {
			t.Fatalf("DecodeAckID() failed for id %d", id)
		}
		if n != len(buf) {
			t.Errorf("DecodeAckID() consumed %d, encoded %d bytes for id %d", n, len(buf), id)
		}
		if stream != Stream1 || got != id {
			t.Errorf("DecodeAckID() = (stream=%d, id=%d), want (stream=%d, id=%d)", stream, got, Stream1, id)
		}
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ref := uint32(50_000)
	sample := EncodeTimestamp(ref + 10)
	got := DecodeTimestamp(ref, sample)
	if got != ref+10 {
		t.Errorf("DecodeTimestamp() = %d, want %d", got, ref+10)
	}
}

func TestAckRoundTripRollupOnly(t *testing.T) {
	items := []AckItem{{IsRollup: true, Stream: Stream2, ID: 12345}}
	buf := EncodeAck(nil, 250, items)
	trip, got, n, ok := DecodeAck(buf)
	if !ok || n != len(buf) {
		t.Fatalf("DecodeAck() = (ok=%v, n=%d), want ok=true n=%d", ok, n, len(buf))
	}
	if trip != 250 {
		t.Errorf("DecodeAck() avgTrip = %d, want 250", trip)
	}
	if len(got) != 1 || !got[0].IsRollup || got[0].Stream != Stream2 || got[0].ID != 12345 {
		t.Errorf("DecodeAck() items = %+v", got)
	}
}

func TestAckRoundTripRollupAndRanges(t *testing.T) {
	items := []AckItem{
		{IsRollup: true, Stream: Stream1, ID: 100},
		{IsRollup: false, ID: 105},
		{IsRollup: false, ID: 110, HasEnd: true, End: 114},
	}
	buf := EncodeAck(nil, 0x1234, items)
	trip, got, n, ok := DecodeAck(buf)
	if !ok || n != len(buf) {
		t.Fatalf("DecodeAck() = (ok=%v, n=%d), want ok=true n=%d", ok, n, len(buf))
	}
	if trip != 0x1234 {
		t.Errorf("DecodeAck() avgTrip = %#x, want %#x", trip, 0x1234)
	}
	if len(got) != 3 {
		t.Fatalf("DecodeAck() items len = %d, want 3", len(got))
	}
	if got[1].ID != 105 || got[1].HasEnd {
		t.Errorf("DecodeAck() range 1 = %+v, want ID=105 HasEnd=false", got[1])
	}
	if got[2].ID != 110 || !got[2].HasEnd || got[2].End != 114 {
		t.Errorf("DecodeAck() range 2 = %+v, want ID=110 HasEnd=true End=114", got[2])
	}
}

func BenchmarkEncodeHeader(b *testing.B) {
	b.ReportAllocs()
	buf := make([]byte, 0, 16)
	for i := 0; i < b.N; i++ {
		buf = EncodeHeader(buf[:0], SOPData, true, true, false, 512)
	}
}

func BenchmarkDecodeAckID(b *testing.B) {
	b.ReportAllocs()
	buf := EncodeAckID(nil, Stream1, 900000)
	for i := 0; i < b.N; i++ {
		_, _, _, _ = DecodeAckID(buf)
	}
}
