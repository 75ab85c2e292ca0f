package signal

import (
	"bytes"
	"testing"
)

// encodeVarint mirrors the wire encoding readVarint expects: base-128,
// little-endian groups of 7 bits with a continuation bit.
func encodeVarint(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

func tagBytes(num int, wire WireType) []byte {
	return encodeVarint(uint64(num)<<3 | uint64(wire))
}

func varintField(num int, v uint64) []byte {
	return append(tagBytes(num, WireVarint), encodeVarint(v)...)
}

func bytesField(num int, data []byte) []byte {
	b := append(tagBytes(num, WireBytes), encodeVarint(uint64(len(data)))...)
	return append(b, data...)
}

func stringField(num int, s string) []byte {
	return bytesField(num, []byte(s))
}

func TestDecodeHeader(t *testing.T) {
	iv := bytes.Repeat([]byte{0xAB}, 16)
	salt := bytes.Repeat([]byte{0xCD}, 32)
	var msg []byte
	msg = append(msg, bytesField(1, iv)...)
	msg = append(msg, bytesField(2, salt)...)

	h, err := decodeHeader(msg)
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	if !bytes.Equal(h.IV, iv) {
		t.Errorf("IV mismatch")
	}
	if !bytes.Equal(h.Salt, salt) {
		t.Errorf("Salt mismatch")
	}
	if h.Version != 0 {
		t.Errorf("Version = %d, want 0", h.Version)
	}
}

func TestDecodeHeaderRejectsShortIV(t *testing.T) {
	var msg []byte
	msg = append(msg, bytesField(1, []byte{0x01, 0x02})...)
	if _, err := decodeHeader(msg); err == nil {
		t.Fatal("expected error for short IV")
	}
}

func TestDecodeHeaderRejectsUnknownField(t *testing.T) {
	var msg []byte
	msg = append(msg, bytesField(1, bytes.Repeat([]byte{0x01}, 16))...)
	msg = append(msg, varintField(99, 1)...)
	if _, err := decodeHeader(msg); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestDecodeSqlStatementWithParameters(t *testing.T) {
	var param1 []byte
	param1 = append(param1, stringField(1, "hi")...)

	var param2 []byte
	param2 = append(param2, varintField(2, 42)...)

	var param3 []byte
	param3 = append(param3, varintField(5, 1)...)

	var msg []byte
	msg = append(msg, stringField(1, "INSERT INTO t VALUES (?, ?, ?)")...)
	msg = append(msg, bytesField(2, param1)...)
	msg = append(msg, bytesField(2, param2)...)
	msg = append(msg, bytesField(2, param3)...)

	s, err := decodeSqlStatement(msg)
	if err != nil {
		t.Fatalf("decodeSqlStatement: %v", err)
	}
	if s.Statement != "INSERT INTO t VALUES (?, ?, ?)" {
		t.Errorf("Statement = %q", s.Statement)
	}
	if len(s.Parameters) != 3 {
		t.Fatalf("got %d parameters, want 3", len(s.Parameters))
	}
	if s.Parameters[0].Kind != ParamString || s.Parameters[0].Str != "hi" {
		t.Errorf("parameter 0 = %+v", s.Parameters[0])
	}
	if s.Parameters[1].Kind != ParamInteger || s.Parameters[1].Int != 42 {
		t.Errorf("parameter 1 = %+v", s.Parameters[1])
	}
	if s.Parameters[2].Kind != ParamNull {
		t.Errorf("parameter 2 = %+v", s.Parameters[2])
	}
}

func TestDecodeSqlStatementRejectsRepeatedStatement(t *testing.T) {
	var msg []byte
	msg = append(msg, stringField(1, "SELECT 1")...)
	msg = append(msg, stringField(1, "SELECT 2")...)
	if _, err := decodeSqlStatement(msg); err == nil {
		t.Fatal("expected error for repeated statement field")
	}
}

func TestDecodeBackupFrameDispatch(t *testing.T) {
	var version []byte
	version = append(version, varintField(1, 68)...)

	var frame []byte
	frame = append(frame, bytesField(5, version)...)

	bf, err := DecodeBackupFrame(frame)
	if err != nil {
		t.Fatalf("DecodeBackupFrame: %v", err)
	}
	if bf.Kind != FrameVersion {
		t.Fatalf("Kind = %v, want FrameVersion", bf.Kind)
	}
	if bf.Version.Version != 68 {
		t.Errorf("Version = %d, want 68", bf.Version.Version)
	}
}

func TestDecodeBackupFrameRejectsMultipleVariants(t *testing.T) {
	var version []byte
	version = append(version, varintField(1, 1)...)

	var statement []byte
	statement = append(statement, stringField(1, "SELECT 1")...)

	var frame []byte
	frame = append(frame, bytesField(5, version)...)
	frame = append(frame, bytesField(2, statement)...)

	if _, err := DecodeBackupFrame(frame); err == nil {
		t.Fatal("expected error for multiple frame variants")
	}
}

func TestDecodeBackupFrameEnd(t *testing.T) {
	frame := varintField(6, 1)
	bf, err := DecodeBackupFrame(frame)
	if err != nil {
		t.Fatalf("DecodeBackupFrame: %v", err)
	}
	if !bf.HasEnd || !bf.End {
		t.Errorf("End = %+v", bf)
	}
	if bf.Kind != FrameEnd {
		t.Errorf("Kind = %v, want FrameEnd", bf.Kind)
	}
}

func TestDecodeAttachmentRequiresLength(t *testing.T) {
	var msg []byte
	msg = append(msg, varintField(1, 10)...)
	msg = append(msg, varintField(2, 20)...)

	a, err := decodeAttachment(msg)
	if err != nil {
		t.Fatalf("decodeAttachment: %v", err)
	}
	if a.HasLength() {
		t.Error("expected HasLength() == false when length field absent")
	}

	msg = append(msg, varintField(3, 100)...)
	a, err = decodeAttachment(msg)
	if err != nil {
		t.Fatalf("decodeAttachment: %v", err)
	}
	if !a.HasLength() || a.Length != 100 {
		t.Errorf("a = %+v", a)
	}
}

func TestDecodeReactionList(t *testing.T) {
	var r1 []byte
	r1 = append(r1, varintField(1, 7)...)
	r1 = append(r1, stringField(2, "👍")...)
	r1 = append(r1, varintField(3, 1000)...)
	r1 = append(r1, varintField(4, 2000)...)

	msg := bytesField(1, r1)

	list, err := DecodeReactionList(msg)
	if err != nil {
		t.Fatalf("DecodeReactionList: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d reactions, want 1", len(list))
	}
	if list[0].Author != 7 || list[0].Emoji != "👍" || list[0].SentTime != 1000 || list[0].ReceivedTime != 2000 {
		t.Errorf("reaction = %+v", list[0])
	}
}
