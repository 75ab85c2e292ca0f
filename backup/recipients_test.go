package backup

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func strp(s string) *string { return &s }

func TestLegacyRecipientContactPhoneVsEmail(t *testing.T) {
	c := legacyRecipientContact("+15551234567")
	if c.Phone == nil || *c.Phone != "+15551234567" {
		t.Errorf("phone id parsed as %+v", c)
	}
	if c.Email != nil {
		t.Errorf("phone id should not set Email")
	}

	c = legacyRecipientContact("alice@example.com")
	if c.Email == nil || *c.Email != "alice@example.com" {
		t.Errorf("email id parsed as %+v", c)
	}
	if c.Phone != nil {
		t.Errorf("email id should not set Phone")
	}
}

func TestRecipientIdKeyDistinguishesLegacyAndInt(t *testing.T) {
	legacy := legacyRecipientId("1")
	integer := intRecipientId(1)
	if legacy.key() == integer.key() {
		t.Error("legacy and int ids with the same numeral must not collide")
	}
}

func TestDisplayNameContactPriority(t *testing.T) {
	cases := []struct {
		name    string
		contact Contact
		want    string
	}{
		{
			name: "system display name wins over everything",
			contact: Contact{
				SystemDisplayName: strp("System Name"),
				ProfileJoinedName: strp("Profile Joined"),
				Phone:             strp("+1555"),
			},
			want: "System Name",
		},
		{
			name: "profile joined name used when no system name",
			contact: Contact{
				ProfileJoinedName: strp("Profile Joined"),
				ProfileName:       strp("Profile Name"),
			},
			want: "Profile Joined",
		},
		{
			name: "profile name used when no joined name",
			contact: Contact{
				ProfileName: strp("Profile Name"),
				Phone:       strp("+1555"),
			},
			want: "Profile Name",
		},
		{
			name:    "phone used as last resort before email",
			contact: Contact{Phone: strp("+1555"), Email: strp("a@b.com")},
			want:    "+1555",
		},
		{
			name:    "email used when nothing else is set",
			contact: Contact{Email: strp("a@b.com")},
			want:    "a@b.com",
		},
		{
			name:    "empty strings are skipped like nil",
			contact: Contact{SystemDisplayName: strp(""), Phone: strp("+1555")},
			want:    "+1555",
		},
		{
			name:    "unknown when nothing is set",
			contact: Contact{},
			want:    "Unknown",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := &Recipient{Contact: &c.contact}
			if got := r.DisplayName(); got != c.want {
				t.Errorf("DisplayName() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestDisplayNameGroup(t *testing.T) {
	r := &Recipient{Group: &Group{Name: strp("Book Club")}}
	if got := r.DisplayName(); got != "Book Club" {
		t.Errorf("DisplayName() = %q, want Book Club", got)
	}

	r = &Recipient{Group: &Group{}}
	if got := r.DisplayName(); got != "Unknown" {
		t.Errorf("DisplayName() = %q, want Unknown", got)
	}
}

// TestLoadModernGroupsResolvesByIntRecipientId exercises the schema >= 24
// path end to end: a `recipient` row with a non-null group_id must become
// a Group keyed by its own integer row id (what threads/messages actually
// look up), not an empty Contact, and must not also appear as a Contact.
func TestLoadModernGroupsResolvesByIntRecipientId(t *testing.T) {
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	ddl := []string{
		`CREATE TABLE recipient (
			_id INTEGER PRIMARY KEY, phone TEXT, email TEXT,
			system_display_name TEXT, system_phone_label TEXT,
			signal_profile_name TEXT, group_id TEXT)`,
		`CREATE TABLE groups (group_id TEXT, title TEXT)`,
	}
	for _, stmt := range ddl {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("ddl %q: %v", stmt, err)
		}
	}

	if _, err := conn.Exec(
		`INSERT INTO recipient (_id, phone, group_id) VALUES (1, '+15551234567', NULL)`); err != nil {
		t.Fatalf("insert contact: %v", err)
	}
	if _, err := conn.Exec(
		`INSERT INTO recipient (_id, group_id) VALUES (2, 'group-abc')`); err != nil {
		t.Fatalf("insert group recipient: %v", err)
	}
	if _, err := conn.Exec(
		`INSERT INTO groups (group_id, title) VALUES ('group-abc', 'Book Club')`); err != nil {
		t.Fatalf("insert group: %v", err)
	}

	cache := newRecipientCache()
	if err := loadModernContacts(conn, cache); err != nil {
		t.Fatalf("loadModernContacts: %v", err)
	}
	if err := loadModernGroups(conn, cache); err != nil {
		t.Fatalf("loadModernGroups: %v", err)
	}

	contact, ok := cache.get(intRecipientId(1))
	if !ok || contact.Contact == nil || contact.Contact.Phone == nil || *contact.Contact.Phone != "+15551234567" {
		t.Fatalf("recipient 1 = %+v, %v, want a phone contact", contact, ok)
	}

	group, ok := cache.get(intRecipientId(2))
	if !ok {
		t.Fatal("recipient 2 (the group) was not resolvable by its int recipient id")
	}
	if group.Group == nil {
		t.Fatalf("recipient 2 = %+v, want a Group", group)
	}
	if group.Group.Name == nil || *group.Group.Name != "Book Club" {
		t.Errorf("group name = %+v, want Book Club", group.Group.Name)
	}
	if group.Contact != nil {
		t.Error("group recipient must not also carry a Contact")
	}
}

func TestRecipientCacheAddAndGet(t *testing.T) {
	cache := newRecipientCache()
	id := intRecipientId(7)
	r := &Recipient{ID: id, Contact: &Contact{Phone: strp("+1555")}}
	cache.add(r)

	got, ok := cache.get(id)
	if !ok || got != r {
		t.Fatalf("get() = %+v, %v, want original recipient", got, ok)
	}

	_, ok = cache.get(intRecipientId(8))
	if ok {
		t.Error("expected lookup of unknown id to fail")
	}
}
