package nostr

import (
	"encoding/hex"
	"fmt"
	"time"
)

// PubKey is an author identifier, the x-only public key of a keypair.
type PubKey [32]byte

var ZeroPubKey = PubKey{}

func (pk PubKey) Hex() string    { return hex.EncodeToString(pk[:]) }
func (pk PubKey) String() string { return pk.Hex() }

func PubKeyFromHex(pkh string) (PubKey, error) {
	pk := PubKey{}
	if len(pkh) != 64 {
		return pk, fmt.Errorf("pubkey should be 64-char hex, got '%s'", pkh)
	}
	if _, err := hex.Decode(pk[:], []byte(pkh)); err != nil {
		return pk, fmt.Errorf("'%s' is not valid hex: %w", pkh, err)
	}
	return pk, nil
}

func MustPubKeyFromHex(pkh string) PubKey {
	pk, err := PubKeyFromHex(pkh)
	if err != nil {
		panic(err)
	}
	return pk
}

// ID is a content-derived event identifier.
type ID [32]byte

var ZeroID = ID{}

func (id ID) Hex() string    { return hex.EncodeToString(id[:]) }
func (id ID) String() string { return id.Hex() }

func IDFromHex(idh string) (ID, error) {
	id := ID{}
	if len(idh) != 64 {
		return id, fmt.Errorf("id should be 64-char hex, got '%s'", idh)
	}
	if _, err := hex.Decode(id[:], []byte(idh)); err != nil {
		return id, fmt.Errorf("'%s' is not valid hex: %w", idh, err)
	}
	return id, nil
}

func MustIDFromHex(idh string) ID {
	id, err := IDFromHex(idh)
	if err != nil {
		panic(err)
	}
	return id
}

// Timestamp is a Unix timestamp in seconds.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().Unix()) }

// Time converts the timestamp into a time.Time.
func (t Timestamp) Time() time.Time { return time.Unix(int64(t), 0) }
