package signal

import "math"

// Header is the single unencrypted frame at the start of a backup file.
// Version is the backup-file-format version; this decoder understands
// only version 0.
type Header struct {
	IV      []byte
	Salt    []byte
	Version uint32
}

func decodeHeader(data []byte) (*Header, error) {
	h := &Header{}
	seen := map[int]bool{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			if err := markSeen("Header", seen, 1); err != nil {
				return err
			}
			b, err := requireBytes("Header", f)
			if err != nil {
				return err
			}
			h.IV = b
		case 2:
			if err := markSeen("Header", seen, 2); err != nil {
				return err
			}
			b, err := requireBytes("Header", f)
			if err != nil {
				return err
			}
			h.Salt = b
		case 3:
			if err := markSeen("Header", seen, 3); err != nil {
				return err
			}
			v, err := requireVarint("Header", f)
			if err != nil {
				return err
			}
			h.Version = uint32(v)
		default:
			return formatErrorf("Header: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(h.IV) != 16 {
		return nil, formatErrorf("Header: iv must be 16 bytes, got %d", len(h.IV))
	}
	return h, nil
}

// ParamKind identifies which alternative of the SqlParameter tagged union
// is present.
type ParamKind int

const (
	ParamNull ParamKind = iota
	ParamString
	ParamInteger
	ParamDouble
	ParamBlob
)

// SqlParameter is one bound value of a recorded SQL statement. Exactly one
// field is meaningful, selected by Kind; IntegerParameter is declared
// uint64 on the wire but is carried here as int64, since the backup format
// uses it to store signed SQLite integers (including -1) and the
// database/sql driver rejects uint64 values with the high bit set.
type SqlParameter struct {
	Kind ParamKind
	Str  string
	Int  int64
	Dbl  float64
	Blob []byte
}

func decodeSqlParameter(data []byte) (*SqlParameter, error) {
	p := &SqlParameter{}
	seen := map[int]bool{}
	kindSet := false
	setKind := func(k ParamKind) error {
		if kindSet {
			return formatErrorf("SqlParameter: more than one alternative set")
		}
		kindSet = true
		p.Kind = k
		return nil
	}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			if err := markSeen("SqlParameter", seen, 1); err != nil {
				return err
			}
			b, err := requireBytes("SqlParameter", f)
			if err != nil {
				return err
			}
			if err := setKind(ParamString); err != nil {
				return err
			}
			p.Str = string(b)
		case 2:
			if err := markSeen("SqlParameter", seen, 2); err != nil {
				return err
			}
			v, err := requireVarint("SqlParameter", f)
			if err != nil {
				return err
			}
			if err := setKind(ParamInteger); err != nil {
				return err
			}
			p.Int = int64(v)
		case 3:
			if err := markSeen("SqlParameter", seen, 3); err != nil {
				return err
			}
			if f.wire != WireFixed64 {
				return formatErrorf("SqlParameter: field 3 has wrong wire type %d, expected fixed64", f.wire)
			}
			if err := setKind(ParamDouble); err != nil {
				return err
			}
			p.Dbl = math.Float64frombits(f.vint)
		case 4:
			if err := markSeen("SqlParameter", seen, 4); err != nil {
				return err
			}
			b, err := requireBytes("SqlParameter", f)
			if err != nil {
				return err
			}
			if err := setKind(ParamBlob); err != nil {
				return err
			}
			p.Blob = b
		case 5:
			if err := markSeen("SqlParameter", seen, 5); err != nil {
				return err
			}
			if _, err := requireVarint("SqlParameter", f); err != nil {
				return err
			}
			if err := setKind(ParamNull); err != nil {
				return err
			}
		default:
			return formatErrorf("SqlParameter: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SqlStatement records one parameterized SQL statement replayed against
// the in-memory database.
type SqlStatement struct {
	Statement  string
	Parameters []*SqlParameter
}

func decodeSqlStatement(data []byte) (*SqlStatement, error) {
	s := &SqlStatement{}
	seenStatement := false
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			if seenStatement {
				return formatErrorf("SqlStatement: field 1 repeated")
			}
			seenStatement = true
			b, err := requireBytes("SqlStatement", f)
			if err != nil {
				return err
			}
			s.Statement = string(b)
		case 2:
			b, err := requireBytes("SqlStatement", f)
			if err != nil {
				return err
			}
			p, err := decodeSqlParameter(b)
			if err != nil {
				return err
			}
			s.Parameters = append(s.Parameters, p)
		default:
			return formatErrorf("SqlStatement: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SharedPreference is a single Android SharedPreferences entry recorded
// for one file/key pair.
type SharedPreference struct {
	File  string
	Key   string
	Value string
}

func decodeSharedPreference(data []byte) (*SharedPreference, error) {
	p := &SharedPreference{}
	seen := map[int]bool{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1, 2, 3:
			if err := markSeen("SharedPreference", seen, f.num); err != nil {
				return err
			}
			b, err := requireBytes("SharedPreference", f)
			if err != nil {
				return err
			}
			switch f.num {
			case 1:
				p.File = string(b)
			case 2:
				p.Key = string(b)
			case 3:
				p.Value = string(b)
			}
		default:
			return formatErrorf("SharedPreference: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Attachment records a message-part attachment payload that follows this
// frame: Length ciphertext bytes plus a 10-byte MAC.
type Attachment struct {
	RowID        uint64
	AttachmentID uint64
	Length       uint32
	hasLength    bool
}

// HasLength reports whether the frame declared a payload length. Every
// Attachment frame carrying a payload must declare one.
func (a *Attachment) HasLength() bool { return a.hasLength }

func decodeAttachment(data []byte) (*Attachment, error) {
	a := &Attachment{}
	seen := map[int]bool{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			if err := markSeen("Attachment", seen, 1); err != nil {
				return err
			}
			v, err := requireVarint("Attachment", f)
			if err != nil {
				return err
			}
			a.RowID = v
		case 2:
			if err := markSeen("Attachment", seen, 2); err != nil {
				return err
			}
			v, err := requireVarint("Attachment", f)
			if err != nil {
				return err
			}
			a.AttachmentID = v
		case 3:
			if err := markSeen("Attachment", seen, 3); err != nil {
				return err
			}
			v, err := requireVarint("Attachment", f)
			if err != nil {
				return err
			}
			a.Length = uint32(v)
			a.hasLength = true
		default:
			return formatErrorf("Attachment: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Avatar records a per-recipient avatar image payload that follows this
// frame.
type Avatar struct {
	Name        string
	Length      uint32
	RecipientID string
}

func decodeAvatar(data []byte) (*Avatar, error) {
	a := &Avatar{}
	seen := map[int]bool{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			if err := markSeen("Avatar", seen, 1); err != nil {
				return err
			}
			b, err := requireBytes("Avatar", f)
			if err != nil {
				return err
			}
			a.Name = string(b)
		case 2:
			if err := markSeen("Avatar", seen, 2); err != nil {
				return err
			}
			v, err := requireVarint("Avatar", f)
			if err != nil {
				return err
			}
			a.Length = uint32(v)
		case 3:
			if err := markSeen("Avatar", seen, 3); err != nil {
				return err
			}
			b, err := requireBytes("Avatar", f)
			if err != nil {
				return err
			}
			a.RecipientID = string(b)
		default:
			return formatErrorf("Avatar: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Sticker records a sticker-pack image payload that follows this frame.
type Sticker struct {
	RowID  uint64
	Length uint32
}

func decodeSticker(data []byte) (*Sticker, error) {
	s := &Sticker{}
	seen := map[int]bool{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			if err := markSeen("Sticker", seen, 1); err != nil {
				return err
			}
			v, err := requireVarint("Sticker", f)
			if err != nil {
				return err
			}
			s.RowID = v
		case 2:
			if err := markSeen("Sticker", seen, 2); err != nil {
				return err
			}
			v, err := requireVarint("Sticker", f)
			if err != nil {
				return err
			}
			s.Length = uint32(v)
		default:
			return formatErrorf("Sticker: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DatabaseVersion announces the SQLite `user_version` to apply before
// further statements are replayed.
type DatabaseVersion struct {
	Version uint32
}

func decodeDatabaseVersion(data []byte) (*DatabaseVersion, error) {
	d := &DatabaseVersion{}
	seen := map[int]bool{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			if err := markSeen("DatabaseVersion", seen, 1); err != nil {
				return err
			}
			v, err := requireVarint("DatabaseVersion", f)
			if err != nil {
				return err
			}
			d.Version = uint32(v)
		default:
			return formatErrorf("DatabaseVersion: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// FrameKind identifies which alternative of the BackupFrame tagged union
// is present.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameHeader
	FrameStatement
	FramePreference
	FrameAttachment
	FrameVersion
	FrameEnd
	FrameAvatar
	FrameSticker
)

// BackupFrame is one decoded record from the backup's frame stream.
// Exactly one of the pointer fields (other than End) is non-nil.
type BackupFrame struct {
	Kind        FrameKind
	Header      *Header
	Statement   *SqlStatement
	Preference  *SharedPreference
	Attachment  *Attachment
	Version     *DatabaseVersion
	End         bool
	HasEnd      bool
	Avatar      *Avatar
	Sticker     *Sticker
}

// DecodeBackupFrame parses a single (already decrypted) BackupFrame
// protobuf message per the field table in the backup's wire format:
// 1 header, 2 statement, 3 preference, 4 attachment, 5 version, 6 end,
// 7 avatar, 8 sticker.
func DecodeBackupFrame(data []byte) (*BackupFrame, error) {
	bf := &BackupFrame{}
	seen := map[int]bool{}
	variants := 0

	err := walkFields(data, func(f field) error {
		if err := markSeen("BackupFrame", seen, f.num); err != nil {
			return err
		}
		switch f.num {
		case 1:
			b, err := requireBytes("BackupFrame", f)
			if err != nil {
				return err
			}
			h, err := decodeHeader(b)
			if err != nil {
				return err
			}
			bf.Header = h
			bf.Kind = FrameHeader
			variants++
		case 2:
			b, err := requireBytes("BackupFrame", f)
			if err != nil {
				return err
			}
			s, err := decodeSqlStatement(b)
			if err != nil {
				return err
			}
			bf.Statement = s
			bf.Kind = FrameStatement
			variants++
		case 3:
			b, err := requireBytes("BackupFrame", f)
			if err != nil {
				return err
			}
			p, err := decodeSharedPreference(b)
			if err != nil {
				return err
			}
			bf.Preference = p
			bf.Kind = FramePreference
			variants++
		case 4:
			b, err := requireBytes("BackupFrame", f)
			if err != nil {
				return err
			}
			a, err := decodeAttachment(b)
			if err != nil {
				return err
			}
			bf.Attachment = a
			bf.Kind = FrameAttachment
			variants++
		case 5:
			b, err := requireBytes("BackupFrame", f)
			if err != nil {
				return err
			}
			v, err := decodeDatabaseVersion(b)
			if err != nil {
				return err
			}
			bf.Version = v
			bf.Kind = FrameVersion
			variants++
		case 6:
			v, err := requireVarint("BackupFrame", f)
			if err != nil {
				return err
			}
			bf.End = v != 0
			bf.HasEnd = true
			if bf.Kind == FrameUnknown {
				bf.Kind = FrameEnd
			}
		case 7:
			b, err := requireBytes("BackupFrame", f)
			if err != nil {
				return err
			}
			a, err := decodeAvatar(b)
			if err != nil {
				return err
			}
			bf.Avatar = a
			bf.Kind = FrameAvatar
			variants++
		case 8:
			b, err := requireBytes("BackupFrame", f)
			if err != nil {
				return err
			}
			s, err := decodeSticker(b)
			if err != nil {
				return err
			}
			bf.Sticker = s
			bf.Kind = FrameSticker
			variants++
		default:
			return formatErrorf("BackupFrame: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if variants > 1 {
		return nil, formatErrorf("BackupFrame: more than one frame variant present")
	}
	return bf, nil
}

// Reaction is a single emoji reaction attached to a message.
type Reaction struct {
	Author       int64
	Emoji        string
	SentTime     int64
	ReceivedTime int64
}

func decodeReaction(data []byte) (*Reaction, error) {
	r := &Reaction{}
	seen := map[int]bool{}
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			if err := markSeen("Reaction", seen, 1); err != nil {
				return err
			}
			v, err := requireVarint("Reaction", f)
			if err != nil {
				return err
			}
			r.Author = int64(v)
		case 2:
			if err := markSeen("Reaction", seen, 2); err != nil {
				return err
			}
			b, err := requireBytes("Reaction", f)
			if err != nil {
				return err
			}
			r.Emoji = string(b)
		case 3:
			if err := markSeen("Reaction", seen, 3); err != nil {
				return err
			}
			v, err := requireVarint("Reaction", f)
			if err != nil {
				return err
			}
			r.SentTime = int64(v)
		case 4:
			if err := markSeen("Reaction", seen, 4); err != nil {
				return err
			}
			v, err := requireVarint("Reaction", f)
			if err != nil {
				return err
			}
			r.ReceivedTime = int64(v)
		default:
			return formatErrorf("Reaction: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeReactionList parses the protobuf blob stored in a message row's
// `reactions` column (schema version >= 37).
func DecodeReactionList(data []byte) ([]*Reaction, error) {
	var reactions []*Reaction
	err := walkFields(data, func(f field) error {
		switch f.num {
		case 1:
			b, err := requireBytes("ReactionList", f)
			if err != nil {
				return err
			}
			r, err := decodeReaction(b)
			if err != nil {
				return err
			}
			reactions = append(reactions, r)
		default:
			return formatErrorf("ReactionList: unknown field %d", f.num)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reactions, nil
}
