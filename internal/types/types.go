// Package types defines the persisted message type bitmask and its codec.
//
// A message type is a single 32-bit value: the low 5 bits carry the base
// kind (inbox, sent, call log, ...) and the remaining bits are flags that
// qualify it (secure, group update, end session, ...). The encoding is
// stable and stored verbatim in the message tables, so the constants here
// must never be renumbered.
package types

// Raw is the persisted 32-bit type value.
type Raw uint32

// Base kinds, stored in the low 5 bits.
const (
	BaseTypeMask Raw = 0x1F

	IncomingAudioCall Raw = 1
	OutgoingAudioCall Raw = 2
	MissedAudioCall   Raw = 3
	JoinedConversation Raw = 4
	UnsupportedMessage Raw = 5
	InvalidMessage     Raw = 6
	ProfileChange      Raw = 7
	MissedVideoCall    Raw = 8
	GroupV1Migration   Raw = 9
	IncomingVideoCall  Raw = 10
	OutgoingVideoCall  Raw = 11
	GroupCall          Raw = 12
	BadDecrypt         Raw = 13
	ChangeNumber       Raw = 14
	BoostRequest       Raw = 15

	BaseInbox                    Raw = 20
	BaseOutbox                   Raw = 21
	BaseSending                  Raw = 22
	BaseSent                     Raw = 23
	BaseSentFailed               Raw = 24
	BasePendingSecureFallback    Raw = 25
	BasePendingInsecureFallback  Raw = 26
	BaseDraft                    Raw = 27
)

// Message attribute flags.
const (
	MessageAttributeMask Raw = 0xE0
	MessageForceSMSBit   Raw = 0x40
	MessageRateLimitedBit Raw = 0x80
)

// Key exchange flags.
const (
	KeyExchangeMask                Raw = 0xFF00
	KeyExchangeBit                 Raw = 0x8000
	KeyExchangeIdentityVerifiedBit Raw = 0x4000
	KeyExchangeIdentityDefaultBit  Raw = 0x2000
	KeyExchangeCorruptedBit        Raw = 0x1000
	KeyExchangeInvalidVersionBit   Raw = 0x800
	KeyExchangeBundleBit           Raw = 0x400
	KeyExchangeIdentityUpdateBit   Raw = 0x200
	KeyExchangeContentFormatBit    Raw = 0x100
)

// Group flags.
const (
	GroupUpdateBit           Raw = 0x10000
	GroupLeaveBit            Raw = 0x20000
	ExpirationTimerUpdateBit Raw = 0x40000
	GroupV2Bit               Raw = 0x80000

	// A group-v2 leave event carries all three bits at once.
	GroupV2LeaveBits = GroupV2Bit | GroupLeaveBit | GroupUpdateBit
)

// Secure message flags.
const (
	PushMessageBit   Raw = 0x200000
	EndSessionBit    Raw = 0x400000
	SecureMessageBit Raw = 0x800000
)

// Encryption status flags. The symmetric/asymmetric bits are legacy values
// that can still appear in imported rows.
const (
	EncryptionMask               Raw = 0xFF000000
	EncryptionSymmetricBit       Raw = 0x80000000
	EncryptionAsymmetricBit      Raw = 0x40000000
	EncryptionRemoteBit          Raw = 0x20000000
	EncryptionRemoteFailedBit    Raw = 0x10000000
	EncryptionRemoteNoSessionBit Raw = 0x8000000
	EncryptionRemoteDuplicateBit Raw = 0x4000000
	EncryptionRemoteLegacyBit    Raw = 0x2000000

	TotalMask Raw = 0xFFFFFFFF
)

// Base returns the base kind bits of t.
func (t Raw) Base() Raw { return t & BaseTypeMask }

func (t Raw) IsInbox() bool { return t.Base() == BaseInbox }

func (t Raw) IsOutgoing() bool {
	switch t.Base() {
	case BaseOutbox, BaseSending, BaseSent, BaseSentFailed,
		BasePendingSecureFallback, BasePendingInsecureFallback:
		return true
	}
	return false
}

func (t Raw) IsPending() bool {
	b := t.Base()
	return b == BaseOutbox || b == BaseSending
}

func (t Raw) IsSent() bool       { return t.Base() == BaseSent }
func (t Raw) IsFailed() bool     { return t.Base() == BaseSentFailed }
func (t Raw) IsDraft() bool      { return t.Base() == BaseDraft }
func (t Raw) IsJoined() bool     { return t.Base() == JoinedConversation }
func (t Raw) IsUnsupported() bool { return t.Base() == UnsupportedMessage }
func (t Raw) IsInvalid() bool    { return t.Base() == InvalidMessage }
func (t Raw) IsBadDecrypt() bool { return t.Base() == BadDecrypt }
func (t Raw) IsProfileChange() bool { return t.Base() == ProfileChange }
func (t Raw) IsChangeNumber() bool  { return t.Base() == ChangeNumber }
func (t Raw) IsBoostRequest() bool  { return t.Base() == BoostRequest }
func (t Raw) IsGroupV1Migration() bool { return t.Base() == GroupV1Migration }

func (t Raw) IsPendingSecureFallback() bool   { return t.Base() == BasePendingSecureFallback }
func (t Raw) IsPendingInsecureFallback() bool { return t.Base() == BasePendingInsecureFallback }

func (t Raw) IsCallLog() bool {
	switch t.Base() {
	case IncomingAudioCall, OutgoingAudioCall, MissedAudioCall,
		IncomingVideoCall, OutgoingVideoCall, MissedVideoCall, GroupCall:
		return true
	}
	return false
}

func (t Raw) IsMissedCall() bool {
	b := t.Base()
	return b == MissedAudioCall || b == MissedVideoCall
}

func (t Raw) IsSecure() bool      { return t&SecureMessageBit != 0 }
func (t Raw) IsPush() bool        { return t&PushMessageBit != 0 }
func (t Raw) IsEndSession() bool  { return t&EndSessionBit != 0 }
func (t Raw) IsForcedSMS() bool   { return t&MessageForceSMSBit != 0 }
func (t Raw) IsRateLimited() bool { return t&MessageRateLimitedBit != 0 }

func (t Raw) IsKeyExchange() bool      { return t&KeyExchangeBit != 0 }
func (t Raw) IsIdentityUpdate() bool   { return t&KeyExchangeIdentityUpdateBit != 0 }
func (t Raw) IsIdentityVerified() bool { return t&KeyExchangeIdentityVerifiedBit != 0 }
func (t Raw) IsIdentityDefault() bool  { return t&KeyExchangeIdentityDefaultBit != 0 }

func (t Raw) IsGroupUpdate() bool           { return t&GroupUpdateBit != 0 }
func (t Raw) IsGroupLeave() bool            { return t&GroupLeaveBit != 0 }
func (t Raw) IsGroupV2() bool               { return t&GroupV2Bit != 0 }
func (t Raw) IsExpirationTimerUpdate() bool { return t&ExpirationTimerUpdateBit != 0 }

// IsGroupV2LeaveOnly reports whether t is a bare group-v2 leave event, with
// no other update content attached.
func (t Raw) IsGroupV2LeaveOnly() bool {
	return t&GroupV2LeaveBits == GroupV2LeaveBits
}

func (t Raw) IsDecryptFailed() bool {
	return t&EncryptionRemoteFailedBit != 0 || t&EncryptionRemoteNoSessionBit != 0
}

func (t Raw) IsLegacy() bool    { return t&EncryptionRemoteLegacyBit != 0 }
func (t Raw) IsDuplicate() bool { return t&EncryptionRemoteDuplicateBit != 0 }

// IsMeaningful reports whether a message of this type counts toward a
// thread's existence. Threads that contain only non-meaningful rows
// (identity churn, profile events, bare v2 leaves) are eligible for
// deletion when reconciled.
func (t Raw) IsMeaningful() bool {
	if t&(EndSessionBit|KeyExchangeIdentityUpdateBit|KeyExchangeIdentityVerifiedBit) != 0 {
		return false
	}
	if t.IsProfileChange() || t.IsChangeNumber() || t.IsBoostRequest() {
		return false
	}
	return !t.IsGroupV2LeaveOnly()
}

// IsSilent reports whether inserting a message of this type must leave the
// thread snippet, date and unread count untouched.
func (t Raw) IsSilent() bool {
	return t.IsIdentityUpdate() || t.IsIdentityVerified() || t.IsIdentityDefault() ||
		t.IsProfileChange() || t.IsChangeNumber() || t.IsGroupV1Migration() ||
		t.IsGroupV2LeaveOnly()
}
