package backup

import "database/sql"

// attachmentTransferDone is the `pending_push` value meaning an
// attachment's bytes are present in the backup.
const attachmentTransferDone = 0

// Attachment is one message-part attachment, joined against the
// AttachmentIndex entry recorded for it during replay.
type Attachment struct {
	RowID       uint64
	UniqueID    uint64
	MessageID   int64
	ContentType string
	FileName    *string
	Ref         FileRef
	HasRef      bool
}

// AttachmentsAll returns every attachment recorded in the `part` table,
// in `(unique_id, _id)` order.
func (c *Context) AttachmentsAll() ([]Attachment, error) {
	return c.queryAttachments("", nil)
}

// AttachmentsForThread returns the attachments belonging to messages in
// the given thread.
func (c *Context) AttachmentsForThread(threadID int64) ([]Attachment, error) {
	return c.queryAttachments("WHERE mid IN (SELECT _id FROM mms WHERE thread_id = ?)", []interface{}{threadID})
}

func (c *Context) queryAttachments(where string, args []interface{}) ([]Attachment, error) {
	if err := c.MaterializeDatabase(); err != nil {
		return nil, err
	}

	query := "SELECT _id, unique_id, mid, ct, pending_push, data_size, file_name FROM part " + where + " ORDER BY unique_id, _id"
	rows, err := c.db.conn.Query(query, args...)
	if err != nil {
		return nil, c.setErr(newError(DbError, "query part", err))
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var id, uniqueID uint64
		var mid int64
		var contentType sql.NullString
		var pendingPush int64
		var dataSize sql.NullInt64
		var fileName sql.NullString

		if err := rows.Scan(&id, &uniqueID, &mid, &contentType, &pendingPush, &dataSize, &fileName); err != nil {
			return nil, c.setErr(newError(DbError, "scan part", err))
		}

		a := Attachment{
			RowID:       id,
			UniqueID:    uniqueID,
			MessageID:   mid,
			ContentType: contentType.String,
			FileName:    nullableString(fileName),
		}

		if ref, ok := c.attachmentIndex.Attachment(id, uniqueID); ok {
			a.Ref = ref
			a.HasRef = true
			if pendingPush == attachmentTransferDone && dataSize.Valid && uint32(dataSize.Int64) != ref.Length {
				return nil, c.setErr(newError(CorruptionError, "attachment length mismatch", nil))
			}
		} else if pendingPush == attachmentTransferDone {
			return nil, c.setErr(newError(CorruptionError, "attachment marked done has no recorded payload", nil))
		}

		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, c.setErr(newError(DbError, "iterate part", err))
	}
	return out, nil
}
