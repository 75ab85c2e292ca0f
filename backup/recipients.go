package backup

import (
	"database/sql"
	"strconv"
	"strings"
)

// RecipientId identifies a row in the recipient cache. Schemas older than
// 24 address recipients by a legacy string (a phone number or an email
// address); modern schemas use an integer row id.
type RecipientId struct {
	legacy string
	id     int64
	isInt  bool
}

func legacyRecipientId(s string) RecipientId { return RecipientId{legacy: s} }
func intRecipientId(i int64) RecipientId     { return RecipientId{id: i, isInt: true} }

func (r RecipientId) key() string {
	if r.isInt {
		return "#" + strconv.FormatInt(r.id, 10)
	}
	return r.legacy
}

// Contact is a direct-message recipient.
type Contact struct {
	Phone             *string
	Email             *string
	SystemDisplayName *string
	SystemPhoneLabel  *string
	ProfileName       *string
	ProfileFamilyName *string
	ProfileJoinedName *string
}

// Group is a group-conversation recipient.
type Group struct {
	Name *string
}

// Recipient is a tagged union over Contact and Group, exactly one of
// which is non-nil.
type Recipient struct {
	ID      RecipientId
	Contact *Contact
	Group   *Group
}

// DisplayName resolves the name shown for a recipient: for a contact, the
// first non-empty of system display name, joined profile name, profile
// name, phone, email; for a group, its name; "Unknown" if nothing
// applies.
func (r *Recipient) DisplayName() string {
	if r.Contact != nil {
		candidates := []*string{
			r.Contact.SystemDisplayName,
			r.Contact.ProfileJoinedName,
			r.Contact.ProfileName,
			r.Contact.Phone,
			r.Contact.Email,
		}
		for _, v := range candidates {
			if v != nil && *v != "" {
				return *v
			}
		}
		return "Unknown"
	}
	if r.Group != nil && r.Group.Name != nil && *r.Group.Name != "" {
		return *r.Group.Name
	}
	return "Unknown"
}

// recipientCache is an arena-and-map structure: the arena owns the
// Recipient values and the map only ever holds indices into it. Threads,
// Messages, Mentions and Reactions receive the arena's *Recipient
// pointers directly, not indices or RecipientIds.
type recipientCache struct {
	arena []*Recipient
	index map[string]int
}

func newRecipientCache() *recipientCache {
	return &recipientCache{index: make(map[string]int)}
}

func (c *recipientCache) add(r *Recipient) {
	c.index[r.ID.key()] = len(c.arena)
	c.arena = append(c.arena, r)
}

func (c *recipientCache) get(id RecipientId) (*Recipient, bool) {
	i, ok := c.index[id.key()]
	if !ok {
		return nil, false
	}
	return c.arena[i], true
}

// recipientsCache lazily builds and returns the recipient cache, dispatching
// to the query variant appropriate to the backup's schema version.
func (c *Context) recipientsCache() (*recipientCache, error) {
	if err := c.MaterializeDatabase(); err != nil {
		return nil, err
	}
	if c.recipients != nil {
		return c.recipients, nil
	}

	cache := newRecipientCache()

	legacy := c.schemaVersion < 24

	var err error
	switch {
	case legacy:
		err = loadLegacyContacts(c.db.conn, cache)
	case c.schemaVersion < 43:
		err = loadModernContacts(c.db.conn, cache)
	default:
		err = loadSplitProfileContacts(c.db.conn, cache)
	}
	if err != nil {
		return nil, c.setErr(err)
	}

	if legacy {
		err = loadLegacyGroups(c.db.conn, cache)
	} else {
		err = loadModernGroups(c.db.conn, cache)
	}
	if err != nil {
		return nil, c.setErr(err)
	}

	c.recipients = cache
	return cache, nil
}

// legacyRecipientContact turns a legacy recipient id string into a
// Contact with its phone or email slot populated: an id containing `@`
// is an email address, anything else is a phone number.
func legacyRecipientContact(idStr string) *Contact {
	contact := &Contact{}
	if strings.Contains(idStr, "@") {
		contact.Email = &idStr
	} else {
		contact.Phone = &idStr
	}
	return contact
}

func loadLegacyContacts(conn *sql.DB, cache *recipientCache) error {
	rows, err := conn.Query(`
		SELECT recipient_ids, system_display_name, system_phone_label, signal_profile_name
		FROM recipient_preferences`)
	if err != nil {
		return newError(DbError, "query recipient_preferences", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var systemDisplayName, systemPhoneLabel, profileName sql.NullString
		if err := rows.Scan(&id, &systemDisplayName, &systemPhoneLabel, &profileName); err != nil {
			return newError(DbError, "scan recipient_preferences", err)
		}
		contact := legacyRecipientContact(id)
		contact.SystemDisplayName = nullableString(systemDisplayName)
		contact.SystemPhoneLabel = nullableString(systemPhoneLabel)
		contact.ProfileName = nullableString(profileName)
		cache.add(&Recipient{ID: legacyRecipientId(id), Contact: contact})
	}
	return rows.Err()
}

func loadModernContacts(conn *sql.DB, cache *recipientCache) error {
	rows, err := conn.Query(`
		SELECT _id, phone, email, system_display_name, system_phone_label, signal_profile_name
		FROM recipient WHERE group_id IS NULL`)
	if err != nil {
		return newError(DbError, "query recipient", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var phone, email, systemDisplayName, systemPhoneLabel, profileName sql.NullString
		if err := rows.Scan(&id, &phone, &email, &systemDisplayName, &systemPhoneLabel, &profileName); err != nil {
			return newError(DbError, "scan recipient", err)
		}
		contact := &Contact{
			Phone:             nullableString(phone),
			Email:             nullableString(email),
			SystemDisplayName: nullableString(systemDisplayName),
			SystemPhoneLabel:  nullableString(systemPhoneLabel),
			ProfileName:       nullableString(profileName),
		}
		cache.add(&Recipient{ID: intRecipientId(id), Contact: contact})
	}
	return rows.Err()
}

func loadSplitProfileContacts(conn *sql.DB, cache *recipientCache) error {
	rows, err := conn.Query(`
		SELECT _id, phone, email, system_display_name, system_phone_label,
		       profile_given_name, profile_family_name, profile_joined_name
		FROM recipient WHERE group_id IS NULL`)
	if err != nil {
		return newError(DbError, "query recipient", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var phone, email, systemDisplayName, systemPhoneLabel sql.NullString
		var profileName, profileFamilyName, profileJoinedName sql.NullString
		if err := rows.Scan(&id, &phone, &email, &systemDisplayName, &systemPhoneLabel,
			&profileName, &profileFamilyName, &profileJoinedName); err != nil {
			return newError(DbError, "scan recipient", err)
		}
		contact := &Contact{
			Phone:             nullableString(phone),
			Email:             nullableString(email),
			SystemDisplayName: nullableString(systemDisplayName),
			SystemPhoneLabel:  nullableString(systemPhoneLabel),
			ProfileName:       nullableString(profileName),
			ProfileFamilyName: nullableString(profileFamilyName),
			ProfileJoinedName: nullableString(profileJoinedName),
		}
		cache.add(&Recipient{ID: intRecipientId(id), Contact: contact})
	}
	return rows.Err()
}

// loadLegacyGroups adds one Group recipient per row of the `groups` table,
// keyed by its group_id exactly as it appears in recipient_ids columns
// elsewhere in a schema < 24 database.
func loadLegacyGroups(conn *sql.DB, cache *recipientCache) error {
	rows, err := conn.Query(`SELECT group_id, title FROM groups`)
	if err != nil {
		return newError(DbError, "query groups", err)
	}
	defer rows.Close()

	for rows.Next() {
		var groupID string
		var title sql.NullString
		if err := rows.Scan(&groupID, &title); err != nil {
			return newError(DbError, "scan groups", err)
		}
		cache.add(&Recipient{ID: legacyRecipientId(groupID), Group: &Group{Name: nullableString(title)}})
	}
	return rows.Err()
}

// loadModernGroups adds one Group recipient per `recipient` row that
// carries a group_id, joined against `groups` for its title, keyed by the
// recipient's own integer row id — the same id threads/messages reference
// via recipient_id for schema >= 24. Without this join, a group's own
// recipient row would otherwise be picked up by loadModernContacts/
// loadSplitProfileContacts as an empty Contact.
func loadModernGroups(conn *sql.DB, cache *recipientCache) error {
	rows, err := conn.Query(`
		SELECT recipient._id, groups.title
		FROM recipient
		JOIN groups ON groups.group_id = recipient.group_id
		WHERE recipient.group_id IS NOT NULL`)
	if err != nil {
		return newError(DbError, "query recipient/groups", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var title sql.NullString
		if err := rows.Scan(&id, &title); err != nil {
			return newError(DbError, "scan recipient/groups", err)
		}
		cache.add(&Recipient{ID: intRecipientId(id), Group: &Group{Name: nullableString(title)}})
	}
	return rows.Err()
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
