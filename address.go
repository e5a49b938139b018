package nostr

import (
	"fmt"
	"strconv"
	"strings"
)

// Address identifies a replaceable or addressable event across versions.
// For plain replaceable kinds the Identifier is always "".
type Address struct {
	Kind       Kind
	PubKey     PubKey
	Identifier string
}

// AddressOf derives the address of a replaceable or addressable event.
// A missing "d" tag on an addressable event yields the empty identifier.
func AddressOf(evt *Event) Address {
	addr := Address{Kind: evt.Kind, PubKey: evt.PubKey}
	if evt.Kind.IsAddressable() {
		addr.Identifier = evt.Tags.GetD()
	}
	return addr
}

// ParseAddress parses a "<kind>:<pubkey>:<identifier>" coordinate as used in
// "a" tags. The identifier may contain colons, so only the first two
// separators are meaningful.
func ParseAddress(coord string) (Address, error) {
	addr := Address{}

	parts := strings.SplitN(coord, ":", 3)
	if len(parts) < 3 {
		return addr, fmt.Errorf("invalid coordinate '%s'", coord)
	}

	kind, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return addr, fmt.Errorf("invalid kind in coordinate '%s': %w", coord, err)
	}
	addr.Kind = Kind(kind)

	if addr.PubKey, err = PubKeyFromHex(parts[1]); err != nil {
		return addr, fmt.Errorf("invalid pubkey in coordinate '%s': %w", coord, err)
	}

	addr.Identifier = parts[2]
	return addr, nil
}

func (addr Address) String() string {
	return strconv.Itoa(int(addr.Kind)) + ":" + addr.PubKey.Hex() + ":" + addr.Identifier
}
