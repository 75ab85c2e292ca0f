package backup

import "testing"

func TestSyntheticBodyGroupUpdateOutgoing(t *testing.T) {
	typ := messageType(baseSentType) | groupUpdateBit
	text, ok := syntheticBody(typ, "Alice")
	if !ok {
		t.Fatal("expected synthetic body")
	}
	if text != "You updated the group" {
		t.Errorf("text = %q", text)
	}
}

func TestSyntheticBodyGroupUpdateIncoming(t *testing.T) {
	typ := messageType(baseInboxType) | groupUpdateBit
	text, ok := syntheticBody(typ, "Alice")
	if !ok {
		t.Fatal("expected synthetic body")
	}
	if text != "Alice updated the group" {
		t.Errorf("text = %q", text)
	}
}

func TestSyntheticBodyPriorityOrder(t *testing.T) {
	// remoteFailedBit must win over groupUpdateBit regardless of base type.
	typ := messageType(baseInboxType) | remoteFailedBit | groupUpdateBit
	text, ok := syntheticBody(typ, "Alice")
	if !ok {
		t.Fatal("expected synthetic body")
	}
	if text != "Bad encrypted message" {
		t.Errorf("text = %q, want priority to favour remoteFailedBit", text)
	}
}

func TestSyntheticBodyNoSpecialBitsUsesPlainBody(t *testing.T) {
	typ := messageType(baseInboxType)
	_, ok := syntheticBody(typ, "Alice")
	if ok {
		t.Error("expected ok == false for a plain inbox message")
	}
}

func TestSyntheticBodyCallTypes(t *testing.T) {
	cases := []struct {
		typ  messageType
		want string
	}{
		{messageType(incomingAudioCallType), "Alice called you"},
		{messageType(outgoingAudioCallType), "Called Alice"},
		{messageType(missedAudioCallType), "Missed audio call from Alice"},
		{messageType(missedVideoCallType), "Missed video call from Alice"},
		{messageType(joinedType), "Alice is on Signal"},
	}
	for _, c := range cases {
		text, ok := syntheticBody(c.typ, "Alice")
		if !ok || text != c.want {
			t.Errorf("syntheticBody(%v) = %q, %v; want %q, true", c.typ, text, ok, c.want)
		}
	}
}

func TestIsOutgoing(t *testing.T) {
	if !messageType(baseSentType).isOutgoing() {
		t.Error("baseSentType should be outgoing")
	}
	if !messageType(outgoingVideoCallType).isOutgoing() {
		t.Error("outgoingVideoCallType should be outgoing")
	}
	if messageType(baseInboxType).isOutgoing() {
		t.Error("baseInboxType should not be outgoing")
	}
}
