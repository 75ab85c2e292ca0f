package backup

import (
	"database/sql"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/cobalt-tools/sigback/signal"
)

// database wraps the in-memory (or exported file-backed) SQLite handle
// that the recorded SQL statements are replayed against.
type database struct {
	conn *sql.DB
}

func (d *database) close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// attachmentKey identifies one attachment payload by the message-part row
// and attachment id it belongs to.
type attachmentKey struct {
	rowID        uint64
	attachmentID uint64
}

// AttachmentIndex maps every attachment, avatar and sticker payload
// encountered during replay to the FileRef needed to decrypt it later,
// independent of the sequential frame position it was recorded at.
type AttachmentIndex struct {
	attachments map[attachmentKey]FileRef
	avatars     map[string]FileRef
	stickers    map[uint64]FileRef
	order       []attachmentKey
}

func newAttachmentIndex() *AttachmentIndex {
	return &AttachmentIndex{
		attachments: make(map[attachmentKey]FileRef),
		avatars:     make(map[string]FileRef),
		stickers:    make(map[uint64]FileRef),
	}
}

// Attachment returns the FileRef recorded for the given part row and
// attachment id, if any.
func (idx *AttachmentIndex) Attachment(rowID, attachmentID uint64) (FileRef, bool) {
	ref, ok := idx.attachments[attachmentKey{rowID, attachmentID}]
	return ref, ok
}

// Avatar returns the FileRef recorded for a recipient's avatar, if any.
func (idx *AttachmentIndex) Avatar(recipientID string) (FileRef, bool) {
	ref, ok := idx.avatars[recipientID]
	return ref, ok
}

// Sticker returns the FileRef recorded for a sticker row, if any.
func (idx *AttachmentIndex) Sticker(rowID uint64) (FileRef, bool) {
	ref, ok := idx.stickers[rowID]
	return ref, ok
}

// Avatars returns every recorded avatar payload, keyed by recipient id, for
// callers that need to enumerate them (an extraction pass, for instance)
// rather than look one up by key.
func (idx *AttachmentIndex) Avatars() map[string]FileRef {
	out := make(map[string]FileRef, len(idx.avatars))
	for k, v := range idx.avatars {
		out[k] = v
	}
	return out
}

// Stickers returns every recorded sticker payload, keyed by sticker row id.
func (idx *AttachmentIndex) Stickers() map[uint64]FileRef {
	out := make(map[uint64]FileRef, len(idx.stickers))
	for k, v := range idx.stickers {
		out[k] = v
	}
	return out
}

// replayOptions controls what a single pass over the frame stream does
// with each statement and payload, letting MaterializeDatabase and
// ExportSQLite share the same walk.
type replayOptions struct {
	buildIndex bool
	logTables  bool
}

// replayInto executes every recorded SQL statement against conn, skipping
// reserved sqlite_ table definitions, and consumes every attachment,
// avatar and sticker payload so the frame stream stays in sync. It
// returns the populated attachment index (nil if buildIndex is false) and
// the schema version announced by the backup, or an error identifying the
// first statement or payload that failed.
func replayInto(ctx *Context, conn *sql.DB, opts replayOptions) (*AttachmentIndex, uint32, error) {
	if err := ctx.Rewind(); err != nil {
		return nil, 0, err
	}

	var idx *AttachmentIndex
	if opts.buildIndex {
		idx = newAttachmentIndex()
	}

	tx, err := conn.Begin()
	if err != nil {
		return nil, 0, newError(DbError, "begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	logged := make(map[string]bool)
	var schemaVersion uint32
	sawEnd := false

	for {
		frame, _, err := ctx.nextFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}

		switch frame.Kind {
		case signal.FrameStatement:
			if err := execStatement(tx, frame.Statement, opts.logTables, logged); err != nil {
				return nil, 0, err
			}
		case signal.FrameVersion:
			schemaVersion = frame.Version.Version
			if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
				return nil, 0, newError(DbError, "set user_version", err)
			}
		case signal.FrameAttachment:
			length, ok, err := framePayloadLength(frame)
			if err != nil {
				return nil, 0, newError(FormatError, "attachment frame", err)
			}
			if ok {
				ref, err := ctx.consumePayload(length, nil)
				if err != nil {
					return nil, 0, err
				}
				if idx != nil {
					key := attachmentKey{frame.Attachment.RowID, frame.Attachment.AttachmentID}
					idx.attachments[key] = ref
					idx.order = append(idx.order, key)
				}
			}
		case signal.FrameAvatar:
			ref, err := ctx.consumePayload(frame.Avatar.Length, nil)
			if err != nil {
				return nil, 0, err
			}
			if idx != nil {
				idx.avatars[frame.Avatar.RecipientID] = ref
			}
		case signal.FrameSticker:
			ref, err := ctx.consumePayload(frame.Sticker.Length, nil)
			if err != nil {
				return nil, 0, err
			}
			if idx != nil {
				idx.stickers[frame.Sticker.RowID] = ref
			}
		case signal.FramePreference:
			// Preferences are exposed through the export path, not replayed
			// into the database.
		case signal.FrameEnd:
			sawEnd = frame.End
		}

		if frame.HasEnd && frame.End {
			sawEnd = true
			break
		}
	}

	if !sawEnd {
		return nil, 0, newError(CorruptionError, "replay", errors.New("backup stream ended without a terminal frame"))
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, newError(DbError, "commit transaction", err)
	}
	committed = true

	return idx, schemaVersion, nil
}

func execStatement(tx *sql.Tx, s *signal.SqlStatement, logTables bool, logged map[string]bool) error {
	stmt := s.Statement

	if strings.HasPrefix(strings.ToLower(stmt), "create table sqlite_") {
		log.Printf("skipping reserved table %s", tableNameFromDDL(stmt))
		return nil
	}

	if logTables {
		switch {
		case strings.HasPrefix(stmt, "INSERT INTO "), strings.HasPrefix(stmt, "UPDATE "), strings.HasPrefix(stmt, "DELETE FROM "):
			table := tableNameFromDDL(stmt)
			if table != "" && !logged[table] {
				logged[table] = true
				log.Printf("replaying table %s", table)
			}
		}
	}

	params := make([]interface{}, len(s.Parameters))
	for i, p := range s.Parameters {
		params[i] = parameterValue(p, ColumnNone)
	}

	if _, err := tx.Exec(stmt, params...); err != nil {
		return newError(DbError, fmt.Sprintf("exec: %s", stmt), err)
	}
	return nil
}

// tableNameFromDDL extracts the (optionally double-quoted) table name from
// a CREATE TABLE/INSERT INTO/DELETE FROM statement's third token, or from
// an UPDATE statement's second token.
func tableNameFromDDL(stmt string) string {
	parts := strings.SplitN(stmt, " ", 4)
	if strings.HasPrefix(stmt, "UPDATE ") && len(parts) >= 2 {
		return unwrap(parts[1], `""`)
	}
	if len(parts) < 3 {
		return ""
	}
	return unwrap(parts[2], `""`)
}
