package backup

import (
	"database/sql"
	"os"

	_ "modernc.org/sqlite"
)

// MaterializeDatabase replays every recorded SQL statement into an
// in-memory SQLite database and builds the attachment index, so the
// semantic queries (Threads, MessagesAll, AttachmentsAll, ...) have
// something to run against. It is idempotent: calling it again after the
// first successful call is a no-op.
func (c *Context) MaterializeDatabase() error {
	if c.materialized {
		return nil
	}

	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return c.setErr(newError(DbError, "open in-memory database", err))
	}

	idx, version, err := replayInto(c, conn, replayOptions{buildIndex: true, logTables: false})
	if err != nil {
		conn.Close()
		return c.setErr(err)
	}

	c.db = &database{conn: conn}
	c.attachmentIndex = idx
	c.schemaVersion = version
	c.materialized = true
	return nil
}

// DB returns the raw handle to the in-memory database built by
// MaterializeDatabase, for callers that need to run their own queries
// (generic table dumps, for instance) rather than going through the
// semantic accessors. It returns nil if MaterializeDatabase has not been
// called yet.
func (c *Context) DB() *sql.DB {
	if c.db == nil {
		return nil
	}
	return c.db.conn
}

// AttachmentIndex returns the index built by MaterializeDatabase mapping
// every attachment, avatar and sticker payload to its FileRef. It returns
// nil if MaterializeDatabase has not been called yet.
func (c *Context) AttachmentIndex() *AttachmentIndex { return c.attachmentIndex }

// SchemaVersion returns the `PRAGMA user_version` recorded by the most
// recent DatabaseVersion frame replayed into the in-memory database. It
// is only meaningful after MaterializeDatabase has succeeded.
func (c *Context) SchemaVersion() uint32 { return c.schemaVersion }

// ExportSQLite replays every recorded SQL statement into a fresh SQLite
// database file at outPath, overwriting any existing file there. This is
// a second, independent pass over the frame stream (it does not share
// the in-memory database built by MaterializeDatabase), so it leaves the
// context's own replay state untouched.
func (c *Context) ExportSQLite(outPath string) error {
	if err := os.Remove(outPath); err != nil && !os.IsNotExist(err) {
		return c.setErr(newError(IOError, "remove existing export file", err))
	}

	conn, err := sql.Open("sqlite", outPath)
	if err != nil {
		return c.setErr(newError(DbError, "open export database", err))
	}
	defer conn.Close()

	if _, _, err := replayInto(c, conn, replayOptions{buildIndex: false, logTables: true}); err != nil {
		return c.setErr(err)
	}
	return nil
}
