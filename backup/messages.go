package backup

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/cobalt-tools/sigback/signal"
)

const longMessageContentType = "application/x-signal-long-text"

// mentionSchemaVersion and reactionSchemaVersion are the first schema
// versions at which the `mention` table and the `reactions` blob column
// exist, respectively.
const (
	mentionSchemaVersion   = 68
	reactionSchemaVersion  = 37
	mentionPlaceholderRune = '￼'
)

// Mention is a recipient reference bound to one occurrence of the
// mention placeholder rune in a message's text.
type Mention struct {
	Recipient   *Recipient
	RangeStart  int64
	RangeLength int64
}

// MessageReaction is a single emoji reaction attached to a message.
type MessageReaction struct {
	Recipient    *Recipient
	Emoji        string
	SentTime     int64
	ReceivedTime int64
}

// Message is one SMS- or MMS-derived conversation entry.
type Message struct {
	ThreadID     int64
	Recipient    *Recipient
	Text         string
	TimeSent     int64
	TimeReceived int64
	Type         uint64
	Attachments  []Attachment
	Mentions     []Mention
	Reactions    []MessageReaction

	mmsID      int64
	partCount  int64
}

// IsOutgoing reports whether this message was sent by the owner of the
// backup, rather than received.
func (m *Message) IsOutgoing() bool { return messageType(m.Type).isOutgoing() }

// MessagesAll returns every message across every thread, ordered by
// received time.
func (c *Context) MessagesAll() ([]Message, error) {
	return c.queryMessages("")
}

// MessagesForThread returns the messages belonging to one thread, ordered
// by received time.
func (c *Context) MessagesForThread(threadID int64) ([]Message, error) {
	return c.queryMessages(fmt.Sprintf("WHERE thread_id = %d", threadID))
}

func (c *Context) queryMessages(where string) ([]Message, error) {
	cache, err := c.recipientsCache()
	if err != nil {
		return nil, err
	}

	query := c.messagesQuery(where)
	rows, err := c.db.conn.Query(query)
	if err != nil {
		return nil, c.setErr(newError(DbError, "query messages", err))
	}
	defer rows.Close()

	withReactions := c.schemaVersion >= reactionSchemaVersion

	var messages []Message
	for rows.Next() {
		var threadID int64
		var recipientLegacy sql.NullString
		var recipientInt sql.NullInt64
		var body sql.NullString
		var dateSent, dateReceived int64
		var msgType uint64
		var partCount int64
		var mmsID int64
		var reactions sql.NullString

		dest := []interface{}{&threadID}
		if c.schemaVersion >= 24 {
			dest = append(dest, &recipientInt)
		} else {
			dest = append(dest, &recipientLegacy)
		}
		dest = append(dest, &body, &dateSent, &dateReceived, &msgType, &partCount, &mmsID)
		if withReactions {
			dest = append(dest, &reactions)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, c.setErr(newError(DbError, "scan message", err))
		}

		var rid RecipientId
		if c.schemaVersion >= 24 {
			rid = intRecipientId(recipientInt.Int64)
		} else {
			rid = legacyRecipientId(recipientLegacy.String)
		}
		recipient, ok := cache.get(rid)
		if !ok {
			return nil, c.setErr(newError(LookupError, "message recipient", nil))
		}

		msg := Message{
			ThreadID:     threadID,
			Recipient:    recipient,
			Text:         body.String,
			TimeSent:     dateSent,
			TimeReceived: dateReceived,
			Type:         msgType,
			mmsID:        mmsID,
			partCount:    partCount,
		}

		if text, ok := syntheticBody(messageType(msgType), recipient.DisplayName()); ok {
			msg.Text = text
		}

		if msg.partCount > 0 {
			if err := c.attachPartsAndLongBody(&msg); err != nil {
				return nil, err
			}
		}

		if c.schemaVersion >= mentionSchemaVersion && msg.mmsID >= 0 {
			if err := c.applyMentions(&msg, cache); err != nil {
				return nil, err
			}
		}

		if withReactions && reactions.Valid {
			list, err := signal.DecodeReactionList([]byte(reactions.String))
			if err != nil {
				return nil, c.setErr(newError(FormatError, "decode reactions", err))
			}
			for _, r := range list {
				rr, ok := cache.get(intRecipientId(r.Author))
				if !ok {
					return nil, c.setErr(newError(LookupError, "reaction recipient", nil))
				}
				msg.Reactions = append(msg.Reactions, MessageReaction{
					Recipient:    rr,
					Emoji:        r.Emoji,
					SentTime:     r.SentTime,
					ReceivedTime: r.ReceivedTime,
				})
			}
		}

		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, c.setErr(newError(DbError, "iterate messages", err))
	}
	return messages, nil
}

// messagesQuery builds the UNION ALL of the SMS and MMS tables. The two
// halves expose the same column shape so the union is well-typed: the
// recipient column is named address in both source tables, but its
// underlying type (legacy string vs. modern integer id) depends on the
// schema version, not on which half a row came from.
func (c *Context) messagesQuery(where string) string {
	reactionCol := ""
	if c.schemaVersion >= reactionSchemaVersion {
		reactionCol = ", reactions"
	}

	smsHalf := fmt.Sprintf(
		"SELECT thread_id, address, body, date_sent, date AS date_received, type AS msg_type, 0 AS part_count, -1 AS mms_id%s FROM sms",
		reactionCol)
	mmsHalf := fmt.Sprintf(
		"SELECT thread_id, address, body, date AS date_sent, date_received, msg_box AS msg_type, part_count, _id AS mms_id%s FROM mms",
		reactionCol)

	query := fmt.Sprintf("SELECT * FROM (%s UNION ALL %s)", smsHalf, mmsHalf)
	if where != "" {
		query += " " + where
	}
	query += " ORDER BY date_received"
	return query
}

// attachPartsAndLongBody fetches the message's attachments from the part
// table, verifies the DONE-transfer length invariant, and inlines a
// long-message attachment into the message text if present.
func (c *Context) attachPartsAndLongBody(msg *Message) error {
	parts, err := c.queryAttachments("WHERE mid = ?", []interface{}{msg.mmsID})
	if err != nil {
		return err
	}

	filtered := parts[:0]
	for _, p := range parts {
		if p.ContentType == longMessageContentType && p.HasRef {
			text, err := c.ReadAttachmentText(p.Ref)
			if err != nil {
				return err
			}
			msg.Text = text
			continue
		}
		filtered = append(filtered, p)
	}
	msg.Attachments = filtered
	return nil
}

// applyMentions loads the mentions recorded for this message's mms row
// and substitutes each successive mention-placeholder rune in its text
// with "@" plus the referenced recipient's display name, in range_start
// order. When the message has mention rows, the number of placeholders
// must equal the number of mentions before substitution and none may be
// left after it. A message with no mention rows is returned unchanged.
func (c *Context) applyMentions(msg *Message, cache *recipientCache) error {
	rows, err := c.db.conn.Query(
		"SELECT recipient_id, range_start, range_length FROM mention WHERE message_id = ? ORDER BY range_start",
		msg.mmsID)
	if err != nil {
		return c.setErr(newError(DbError, "query mention", err))
	}
	defer rows.Close()

	var mentions []Mention
	for rows.Next() {
		var recipientID, rangeStart, rangeLength int64
		if err := rows.Scan(&recipientID, &rangeStart, &rangeLength); err != nil {
			return c.setErr(newError(DbError, "scan mention", err))
		}
		recipient, ok := cache.get(intRecipientId(recipientID))
		if !ok {
			return c.setErr(newError(LookupError, "mention recipient", nil))
		}
		mentions = append(mentions, Mention{Recipient: recipient, RangeStart: rangeStart, RangeLength: rangeLength})
	}
	if err := rows.Err(); err != nil {
		return c.setErr(newError(DbError, "iterate mention", err))
	}
	if len(mentions) == 0 {
		return nil
	}

	placeholders := strings.Count(msg.Text, string(mentionPlaceholderRune))
	if placeholders != len(mentions) {
		return c.setErr(newError(CorruptionError, "mention placeholder count mismatch", nil))
	}

	var b strings.Builder
	i := 0
	for _, r := range msg.Text {
		if r == mentionPlaceholderRune {
			b.WriteString("@" + mentions[i].Recipient.DisplayName())
			i++
			continue
		}
		b.WriteRune(r)
	}

	msg.Text = b.String()
	msg.Mentions = mentions

	if strings.ContainsRune(msg.Text, mentionPlaceholderRune) {
		return c.setErr(newError(CorruptionError, "mention placeholder left unsubstituted", nil))
	}
	return nil
}
