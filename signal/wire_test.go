package signal

import "testing"

func TestReadVarint(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint64
	}{
		{"zero", []byte{0x00}, 0},
		{"one byte", []byte{0x7f}, 127},
		{"two bytes", []byte{0x96, 0x01}, 150},
		{"max uint64", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}, ^uint64(0)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, n, err := readVarint(c.in)
			if err != nil {
				t.Fatalf("readVarint: %v", err)
			}
			if n != len(c.in) {
				t.Errorf("consumed %d bytes, want %d", n, len(c.in))
			}
			if got != c.want {
				t.Errorf("got %d, want %d", got, c.want)
			}
		})
	}
}

func TestReadVarintTruncated(t *testing.T) {
	if _, _, err := readVarint([]byte{0x96}); err == nil {
		t.Fatal("expected error on truncated varint")
	}
}

func TestReadVarintOverflow(t *testing.T) {
	// 10 bytes, last byte has more than 1 bit set: overflows 64 bits.
	b := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02}
	if _, _, err := readVarint(b); err == nil {
		t.Fatal("expected error on varint overflow")
	}
}

func TestWalkFieldsRejectsBadWireType(t *testing.T) {
	// field number 1, wire type 3 (start group, unsupported)
	data := []byte{0x0b}
	err := walkFields(data, func(f field) error { return nil })
	if err == nil {
		t.Fatal("expected error on unsupported wire type")
	}
}

func TestWalkFieldsRejectsFieldZero(t *testing.T) {
	// field number 0, wire type 0
	data := []byte{0x00, 0x01}
	err := walkFields(data, func(f field) error { return nil })
	if err == nil {
		t.Fatal("expected error on field number 0")
	}
}

func TestMarkSeenRejectsRepeat(t *testing.T) {
	seen := map[int]bool{}
	if err := markSeen("Msg", seen, 1); err != nil {
		t.Fatalf("first occurrence: %v", err)
	}
	if err := markSeen("Msg", seen, 1); err == nil {
		t.Fatal("expected error on repeated field")
	}
}
