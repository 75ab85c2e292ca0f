package cmd

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/cobalt-tools/sigback/backup"
)

// Character set code SyncTech's format uses for UTF-8 text parts.
const charsetUTF8 = "106"

// smsesDocument is the SyncTech SMS Backup & Restore XML root element.
// Layout follows https://www.synctech.com.au/sms-backup-restore/fields-in-xml-backup-files/
type smsesDocument struct {
	XMLName xml.Name   `xml:"smses"`
	Count   int        `xml:"count,attr"`
	SMS     []smsEntry `xml:"sms"`
	MMS     []mmsEntry `xml:"mms"`
}

// smsEntry is one plain-text, single-recipient message.
type smsEntry struct {
	XMLName      xml.Name `xml:"sms"`
	Address      string   `xml:"address,attr"`
	Date         int64    `xml:"date,attr"`
	Type         int      `xml:"type,attr"`
	Body         string   `xml:"body,attr"`
	Read         int      `xml:"read,attr"`
	Status       int      `xml:"status,attr"`
	DateSent     int64    `xml:"date_sent,attr"`
	ReadableDate string   `xml:"readable_date,attr"`
	ContactName  string   `xml:"contact_name,attr"`
}

// mmsEntry is a message carrying attachments or addressed to a group.
type mmsEntry struct {
	XMLName      xml.Name `xml:"mms"`
	Address      string   `xml:"address,attr"`
	Date         int64    `xml:"date,attr"`
	DateSent     int64    `xml:"date_sent,attr"`
	MsgBox       int      `xml:"msg_box,attr"`
	Read         int      `xml:"read,attr"`
	Seen         int      `xml:"seen,attr"`
	MSize        string   `xml:"m_size,attr"`
	Sub          string   `xml:"sub,attr"`
	RetrSt       string   `xml:"retr_st,attr"`
	ReadableDate string   `xml:"readable_date,attr"`
	ContactName  string   `xml:"contact_name,attr"`
	Parts        mmsParts `xml:"parts"`
}

type mmsParts struct {
	XMLName xml.Name  `xml:"parts"`
	Part    []mmsPart `xml:"part"`
}

type mmsPart struct {
	XMLName xml.Name `xml:"part"`
	Seq     int      `xml:"seq,attr"`
	Ct      string   `xml:"ct,attr"`
	Name    string   `xml:"name,attr"`
	ChSet   string   `xml:"chset,attr"`
	Text    string   `xml:"text,attr"`
	Data    *string  `xml:"data,attr"`
}

// SyncTechXML writes every message across every thread as a SyncTech SMS
// Backup & Restore compatible XML document. A message with no attachments
// addressed to a direct (non-group) recipient is written as an <sms>
// element; everything else (group threads, any message carrying
// attachments) is written as an <mms> element with its parts inlined as
// base64 data, decrypted directly from the backup rather than read back
// from previously extracted files.
func SyncTechXML(ctx *backup.Context, out io.Writer) error {
	messages, err := ctx.MessagesAll()
	if err != nil {
		return errors.Wrap(err, "select messages")
	}

	doc := smsesDocument{}

	for i, msg := range messages {
		outgoing := msg.IsOutgoing()
		readableDate := time.UnixMilli(msg.TimeReceived).Format("Jan 2, 2006 3:04:05 PM")
		contactName := msg.Recipient.DisplayName()
		address := contactName
		if msg.Recipient.Contact != nil && msg.Recipient.Contact.Phone != nil {
			address = *msg.Recipient.Contact.Phone
		}

		isGroup := msg.Recipient.Group != nil
		if !isGroup && len(msg.Attachments) == 0 {
			smsType := 1
			if outgoing {
				smsType = 2
			}
			doc.SMS = append(doc.SMS, smsEntry{
				Address:      address,
				Date:         msg.TimeReceived,
				Type:         smsType,
				Body:         msg.Text,
				Read:         1,
				Status:       -1,
				DateSent:     msg.TimeSent,
				ReadableDate: readableDate,
				ContactName:  contactName,
			})
			continue
		}

		msgBox := 1
		if outgoing {
			msgBox = 2
		}
		entry := mmsEntry{
			Address:      address,
			Date:         msg.TimeReceived,
			DateSent:     msg.TimeSent,
			MsgBox:       msgBox,
			Read:         1,
			Seen:         1,
			Sub:          "null",
			RetrSt:       "null",
			ReadableDate: readableDate,
			ContactName:  contactName,
		}

		seq := 0
		var totalSize uint64
		for _, a := range msg.Attachments {
			part := mmsPart{Seq: seq, Ct: a.ContentType, ChSet: charsetUTF8, Name: "null", Text: "null"}
			seq++
			if !a.HasRef {
				part.Data = nil
				entry.Parts.Part = append(entry.Parts.Part, part)
				continue
			}
			var buf bytes.Buffer
			encoder := base64.NewEncoder(base64.StdEncoding, &buf)
			if err := ctx.WriteAttachment(a.Ref, encoder); err != nil {
				return errors.Wrapf(err, "decrypt attachment for message %d", i)
			}
			if err := encoder.Close(); err != nil {
				return errors.Wrap(err, "base64 encode attachment")
			}
			data := buf.String()
			part.Data = &data
			totalSize += uint64(a.Ref.Length)
			entry.Parts.Part = append(entry.Parts.Part, part)
		}
		if msg.Text != "" {
			entry.Parts.Part = append(entry.Parts.Part, mmsPart{
				Seq:   seq,
				Ct:    "text/plain",
				Name:  "null",
				ChSet: charsetUTF8,
				Text:  msg.Text,
			})
			totalSize += uint64(len(msg.Text))
		}
		entry.MSize = fmt.Sprintf("%d", totalSize)

		doc.MMS = append(doc.MMS, entry)
	}

	doc.Count = len(doc.SMS) + len(doc.MMS)

	x, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal XML")
	}

	if _, err := out.Write([]byte("<?xml version='1.0' encoding='UTF-8' standalone='yes' ?>\n")); err != nil {
		return errors.Wrap(err, "write XML preamble")
	}
	if _, err := out.Write([]byte("<?xml-stylesheet type=\"text/xsl\" href=\"sms.xsl\" ?>\n")); err != nil {
		return errors.Wrap(err, "write XML preamble")
	}
	if _, err := out.Write(x); err != nil {
		return errors.Wrap(err, "write XML body")
	}
	return nil
}
