package nostr

import "strconv"

// Kind is the numeric category code of an event. It determines the
// replacement semantics applied when the event is stored.
type Kind uint16

func (kind Kind) Num() uint16    { return uint16(kind) }
func (kind Kind) String() string { return "kind:" + strconv.Itoa(int(kind)) }

const (
	KindProfileMetadata         Kind = 0
	KindTextNote                Kind = 1
	KindFollowList              Kind = 3
	KindEncryptedDirectMessage  Kind = 4
	KindDeletion                Kind = 5
	KindRepost                  Kind = 6
	KindReaction                Kind = 7
	KindSeal                    Kind = 13
	KindDirectMessage           Kind = 14
	KindGenericRepost           Kind = 16
	KindChannelCreation         Kind = 40
	KindChannelMetadata         Kind = 41
	KindChannelMessage          Kind = 42
	KindGiftWrap                Kind = 1059
	KindFileMetadata            Kind = 1063
	KindComment                 Kind = 1111
	KindLiveChatMessage         Kind = 1311
	KindReporting               Kind = 1984
	KindLabel                   Kind = 1985
	KindZapRequest              Kind = 9734
	KindZap                     Kind = 9735
	KindHighlights              Kind = 9802
	KindMuteList                Kind = 10000
	KindPinList                 Kind = 10001
	KindRelayListMetadata       Kind = 10002
	KindBookmarkList            Kind = 10003
	KindSearchRelayList         Kind = 10007
	KindInterestList            Kind = 10015
	KindEmojiList               Kind = 10030
	KindDMRelayList             Kind = 10050
	KindClientAuthentication    Kind = 22242
	KindNostrConnect            Kind = 24133
	KindCategorizedPeopleList   Kind = 30000
	KindRelaySets               Kind = 30002
	KindBookmarkSets            Kind = 30003
	KindProfileBadges           Kind = 30008
	KindBadgeDefinition         Kind = 30009
	KindArticle                 Kind = 30023
	KindDraftArticle            Kind = 30024
	KindApplicationSpecificData Kind = 30078
	KindLiveEvent               Kind = 30311
	KindUserStatuses            Kind = 30315
	KindWikiArticle             Kind = 30818
	KindHandlerInformation      Kind = 31990
)

// IsRegular says whether the event of this kind is identified solely by its
// id, with every copy kept.
func (kind Kind) IsRegular() bool {
	return kind < 10000 && kind != 0 && kind != 3
}

// IsReplaceable says whether the event of this kind is identified by its
// (kind, pubkey) pair, with only the latest version kept.
func (kind Kind) IsReplaceable() bool {
	return kind == 0 || kind == 3 || (10000 <= kind && kind < 20000)
}

// IsEphemeral says whether the event of this kind is not meant to be stored
// at all.
func (kind Kind) IsEphemeral() bool {
	return 20000 <= kind && kind < 30000
}

// IsAddressable says whether the event of this kind is identified by its
// (kind, pubkey, d-tag) triple, with only the latest version kept.
func (kind Kind) IsAddressable() bool {
	return 30000 <= kind && kind < 40000
}
