package types

import "fmt"

// Base is the enumerated base kind of a message, decoded from the low bits
// of a Raw value.
type Base uint8

const (
	KindIncomingAudioCall Base = Base(IncomingAudioCall)
	KindOutgoingAudioCall Base = Base(OutgoingAudioCall)
	KindMissedAudioCall   Base = Base(MissedAudioCall)
	KindJoined            Base = Base(JoinedConversation)
	KindUnsupported       Base = Base(UnsupportedMessage)
	KindInvalid           Base = Base(InvalidMessage)
	KindProfileChange     Base = Base(ProfileChange)
	KindMissedVideoCall   Base = Base(MissedVideoCall)
	KindGroupV1Migration  Base = Base(GroupV1Migration)
	KindIncomingVideoCall Base = Base(IncomingVideoCall)
	KindOutgoingVideoCall Base = Base(OutgoingVideoCall)
	KindGroupCall         Base = Base(GroupCall)
	KindBadDecrypt        Base = Base(BadDecrypt)
	KindChangeNumber      Base = Base(ChangeNumber)
	KindBoostRequest      Base = Base(BoostRequest)
	KindInbox             Base = Base(BaseInbox)
	KindOutbox            Base = Base(BaseOutbox)
	KindSending           Base = Base(BaseSending)
	KindSent              Base = Base(BaseSent)
	KindSentFailed        Base = Base(BaseSentFailed)
	KindPendingSecureFallback   Base = Base(BasePendingSecureFallback)
	KindPendingInsecureFallback Base = Base(BasePendingInsecureFallback)
	KindDraft             Base = Base(BaseDraft)
)

// InvalidTypeError reports a Raw value whose base bits do not name a known
// kind.
type InvalidTypeError struct {
	Value Raw
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("invalid message type 0x%X (base %d)", uint32(e.Value), uint32(e.Value&BaseTypeMask))
}

// Flags is the decoded form of the qualifier bits of a Raw value.
type Flags struct {
	ForceSMS    bool
	RateLimited bool

	KeyExchange      bool
	IdentityUpdate   bool
	IdentityVerified bool
	IdentityDefault  bool
	Corrupted        bool
	InvalidVersion   bool
	Bundle           bool
	ContentFormat    bool

	GroupUpdate           bool
	GroupLeave            bool
	ExpirationTimerUpdate bool
	GroupV2               bool

	Push       bool
	EndSession bool
	Secure     bool

	RemoteFailed    bool
	RemoteNoSession bool
	RemoteDuplicate bool
	RemoteLegacy    bool

	// Extra holds any flag bits not mapped above, so an unknown value
	// survives a decode/encode round trip untouched.
	Extra Raw
}

var knownBases = map[Base]bool{
	KindIncomingAudioCall: true, KindOutgoingAudioCall: true, KindMissedAudioCall: true,
	KindJoined: true, KindUnsupported: true, KindInvalid: true, KindProfileChange: true,
	KindMissedVideoCall: true, KindGroupV1Migration: true, KindIncomingVideoCall: true,
	KindOutgoingVideoCall: true, KindGroupCall: true, KindBadDecrypt: true,
	KindChangeNumber: true, KindBoostRequest: true,
	KindInbox: true, KindOutbox: true, KindSending: true, KindSent: true,
	KindSentFailed: true, KindPendingSecureFallback: true,
	KindPendingInsecureFallback: true, KindDraft: true,
}

var flagBits = []struct {
	bit Raw
	get func(*Flags) *bool
}{
	{MessageForceSMSBit, func(f *Flags) *bool { return &f.ForceSMS }},
	{MessageRateLimitedBit, func(f *Flags) *bool { return &f.RateLimited }},
	{KeyExchangeBit, func(f *Flags) *bool { return &f.KeyExchange }},
	{KeyExchangeIdentityUpdateBit, func(f *Flags) *bool { return &f.IdentityUpdate }},
	{KeyExchangeIdentityVerifiedBit, func(f *Flags) *bool { return &f.IdentityVerified }},
	{KeyExchangeIdentityDefaultBit, func(f *Flags) *bool { return &f.IdentityDefault }},
	{KeyExchangeCorruptedBit, func(f *Flags) *bool { return &f.Corrupted }},
	{KeyExchangeInvalidVersionBit, func(f *Flags) *bool { return &f.InvalidVersion }},
	{KeyExchangeBundleBit, func(f *Flags) *bool { return &f.Bundle }},
	{KeyExchangeContentFormatBit, func(f *Flags) *bool { return &f.ContentFormat }},
	{GroupUpdateBit, func(f *Flags) *bool { return &f.GroupUpdate }},
	{GroupLeaveBit, func(f *Flags) *bool { return &f.GroupLeave }},
	{ExpirationTimerUpdateBit, func(f *Flags) *bool { return &f.ExpirationTimerUpdate }},
	{GroupV2Bit, func(f *Flags) *bool { return &f.GroupV2 }},
	{PushMessageBit, func(f *Flags) *bool { return &f.Push }},
	{EndSessionBit, func(f *Flags) *bool { return &f.EndSession }},
	{SecureMessageBit, func(f *Flags) *bool { return &f.Secure }},
	{EncryptionRemoteFailedBit, func(f *Flags) *bool { return &f.RemoteFailed }},
	{EncryptionRemoteNoSessionBit, func(f *Flags) *bool { return &f.RemoteNoSession }},
	{EncryptionRemoteDuplicateBit, func(f *Flags) *bool { return &f.RemoteDuplicate }},
	{EncryptionRemoteLegacyBit, func(f *Flags) *bool { return &f.RemoteLegacy }},
}

// Decode splits a Raw value into its base kind and flags. Unknown base
// values yield an InvalidTypeError; unknown flag bits land in Flags.Extra.
func Decode(t Raw) (Base, Flags, error) {
	base := Base(t & BaseTypeMask)
	if !knownBases[base] {
		return 0, Flags{}, &InvalidTypeError{Value: t}
	}

	var f Flags
	rest := t &^ BaseTypeMask
	for _, fb := range flagBits {
		if rest&fb.bit != 0 {
			*fb.get(&f) = true
			rest &^= fb.bit
		}
	}
	f.Extra = rest
	return base, f, nil
}

// Encode packs a base kind and flags back into the persisted form.
// Encode(Decode(t)) == t for every value Decode accepts.
func Encode(base Base, f Flags) Raw {
	t := Raw(base) & BaseTypeMask
	for _, fb := range flagBits {
		if *fb.get(&f) {
			t |= fb.bit
		}
	}
	return t | (f.Extra &^ BaseTypeMask)
}
