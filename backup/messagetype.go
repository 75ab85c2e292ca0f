package backup

import "fmt"

// messageType is the `type`/`msg_box` bitfield carried by every SMS/MMS
// row: the lowest 5 bits select a base type, the remaining bits are
// independent flags that can be layered on top of it.
type messageType uint64

const baseTypeMask messageType = 0x1f

// Base-type values, taken from Signal-Android's MessageTypes.java rather
// than assigned sequentially: the low five bits of `type`/`msg_box` are a
// single flat enumeration shared by SMS and MMS rows, and real backups
// only ever carry these specific values. 20-27 are the teacher's own
// documented SMSType mapping (types/message/sms.go's TranslateSMSType).
const (
	incomingCallType       messageType = 1
	outgoingCallType       messageType = 2
	missedAudioCallType    messageType = 3
	joinedType             messageType = 4
	unsupportedMessageType messageType = 5
	invalidMessageType     messageType = 6
	profileChangeType      messageType = 7
	missedVideoCallType    messageType = 8
	gv1MigrationType       messageType = 9
	incomingAudioCallType  messageType = 10
	incomingVideoCallType  messageType = 11
	outgoingAudioCallType  messageType = 12
	outgoingVideoCallType  messageType = 13

	baseInboxType                      messageType = 20
	baseOutboxType                     messageType = 21
	baseSendingType                    messageType = 22
	baseSentType                       messageType = 23
	baseSentFailedType                 messageType = 24
	basePendingSecureSmsFallbackType   messageType = 25
	basePendingInsecureSmsFallbackType messageType = 26
	baseDraftType                      messageType = 27
)

const (
	groupUpdateBit      messageType = 1 << 12
	groupQuitBit        messageType = 1 << 13
	endSessionBit       messageType = 1 << 14
	keIdentVerifiedBit  messageType = 1 << 15
	keIdentDefaultBit   messageType = 1 << 16
	keCorruptedBit      messageType = 1 << 17
	keInvalidVersionBit messageType = 1 << 18
	keBundleBit         messageType = 1 << 19
	keIdentityUpdateBit messageType = 1 << 20
	keBit               messageType = 1 << 21
	remoteFailedBit     messageType = 1 << 22
	remoteNoSessionBit  messageType = 1 << 23
	remoteDuplicateBit  messageType = 1 << 24
	remoteLegacyBit     messageType = 1 << 25
	remoteBit           messageType = 1 << 26
)

func (t messageType) base() messageType { return t & baseTypeMask }

func (t messageType) has(bit messageType) bool { return t&bit != 0 }

// isOutgoing reports whether a message with this type was sent by the
// owner of the backup, rather than received.
func (t messageType) isOutgoing() bool {
	switch t.base() {
	case baseOutboxType, baseSendingType, baseSentType, baseSentFailedType,
		basePendingSecureSmsFallbackType, basePendingInsecureSmsFallbackType,
		outgoingAudioCallType, outgoingVideoCallType:
		return true
	}
	return false
}

// syntheticBody computes the synthetic text for a message whose type
// carries one of the special bits or base types, in the priority order
// fixed by the field table this system reads: the first match wins, and
// combinations of simultaneous bits are resolved by that order rather
// than any on-device semantics (which are not documented for this case).
// ok is false when the type carries no special meaning and `body` should
// be used as-is.
func syntheticBody(t messageType, displayName string) (text string, ok bool) {
	out := t.isOutgoing()

	switch {
	case t.has(remoteFailedBit):
		return "Bad encrypted message", true
	case t.has(remoteNoSessionBit):
		return "Message encrypted for non-existing session", true
	case t.has(remoteDuplicateBit):
		return "Duplicate message", true
	case t.has(remoteLegacyBit) || t.has(remoteBit):
		return "Encrypted message sent from an older version of Signal that is no longer supported", true
	case t.has(groupUpdateBit):
		if out {
			return "You updated the group", true
		}
		return fmt.Sprintf("%s updated the group", displayName), true
	case t.has(groupQuitBit):
		if out {
			return "You have left the group", true
		}
		return fmt.Sprintf("%s has left the group", displayName), true
	case t.has(endSessionBit):
		if out {
			return "You reset the secure session", true
		}
		return fmt.Sprintf("%s reset the secure session", displayName), true
	case t.has(keIdentVerifiedBit):
		if out {
			return "You marked your safety number with " + displayName + " verified", true
		}
		return "You marked your safety number with " + displayName + " verified from another device", true
	case t.has(keIdentDefaultBit):
		if out {
			return "You marked your safety number with " + displayName + " unverified", true
		}
		return "You marked your safety number with " + displayName + " unverified from another device", true
	case t.has(keCorruptedBit):
		return "Corrupt key exchange message", true
	case t.has(keInvalidVersionBit):
		return "Key exchange message for invalid protocol version", true
	case t.has(keBundleBit):
		return "Message with new safety number", true
	case t.has(keIdentityUpdateBit):
		return fmt.Sprintf("Your safety number with %s has changed", displayName), true
	case t.has(keBit):
		return "Key exchange message", true
	}

	switch t.base() {
	case incomingAudioCallType, incomingVideoCallType:
		return fmt.Sprintf("%s called you", displayName), true
	case outgoingAudioCallType, outgoingVideoCallType:
		return fmt.Sprintf("Called %s", displayName), true
	case missedAudioCallType:
		return fmt.Sprintf("Missed audio call from %s", displayName), true
	case missedVideoCallType:
		return fmt.Sprintf("Missed video call from %s", displayName), true
	case joinedType:
		return fmt.Sprintf("%s is on Signal", displayName), true
	case unsupportedMessageType:
		return "Unsupported message, please update Signal", true
	case invalidMessageType:
		return "Invalid message", true
	case profileChangeType:
		return fmt.Sprintf("%s changed their profile", displayName), true
	case gv1MigrationType:
		return "This group was updated to a new group", true
	}

	return "", false
}
