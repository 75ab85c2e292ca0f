package backup

import "database/sql"

// Thread is one conversation.
type Thread struct {
	ID           int64
	Recipient    *Recipient
	Date         int64
	MessageCount int64
}

// Threads returns every thread ordered by _id, as the single query over
// the thread table the design calls for.
func (c *Context) Threads() ([]Thread, error) {
	cache, err := c.recipientsCache()
	if err != nil {
		return nil, err
	}

	query := "SELECT _id, recipient_ids, date, message_count FROM thread ORDER BY _id"
	if c.schemaVersion >= 24 {
		query = "SELECT _id, recipient_id, date, message_count FROM thread ORDER BY _id"
	}

	rows, err := c.db.conn.Query(query)
	if err != nil {
		return nil, c.setErr(newError(DbError, "query thread", err))
	}
	defer rows.Close()

	var threads []Thread
	for rows.Next() {
		var id, date, messageCount int64
		var recipientID sql.NullString
		var recipientIDInt sql.NullInt64

		if c.schemaVersion >= 24 {
			if err := rows.Scan(&id, &recipientIDInt, &date, &messageCount); err != nil {
				return nil, c.setErr(newError(DbError, "scan thread", err))
			}
		} else {
			if err := rows.Scan(&id, &recipientID, &date, &messageCount); err != nil {
				return nil, c.setErr(newError(DbError, "scan thread", err))
			}
		}

		var rid RecipientId
		if c.schemaVersion >= 24 {
			rid = intRecipientId(recipientIDInt.Int64)
		} else {
			rid = legacyRecipientId(recipientID.String)
		}
		recipient, ok := cache.get(rid)
		if !ok {
			return nil, c.setErr(newError(LookupError, "thread recipient", nil))
		}

		threads = append(threads, Thread{ID: id, Recipient: recipient, Date: date, MessageCount: messageCount})
	}
	if err := rows.Err(); err != nil {
		return nil, c.setErr(newError(DbError, "iterate thread", err))
	}
	return threads, nil
}
