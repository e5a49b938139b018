package nostr

import (
	"encoding/hex"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func (id ID) MarshalJSON() ([]byte, error) { return json.Marshal(id.Hex()) }

func (id *ID) UnmarshalJSON(buf []byte) error {
	var s string
	if err := json.Unmarshal(buf, &s); err != nil {
		return err
	}
	parsed, err := IDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (pk PubKey) MarshalJSON() ([]byte, error) { return json.Marshal(pk.Hex()) }

func (pk *PubKey) UnmarshalJSON(buf []byte) error {
	var s string
	if err := json.Unmarshal(buf, &s); err != nil {
		return err
	}
	parsed, err := PubKeyFromHex(s)
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// eventEnvelope is the NIP-01 wire shape of an event.
type eventEnvelope struct {
	ID        ID        `json:"id"`
	PubKey    PubKey    `json:"pubkey"`
	CreatedAt Timestamp `json:"created_at"`
	Kind      Kind      `json:"kind"`
	Tags      Tags      `json:"tags"`
	Content   string    `json:"content"`
	Sig       string    `json:"sig"`
}

func (evt Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventEnvelope{
		ID:        evt.ID,
		PubKey:    evt.PubKey,
		CreatedAt: evt.CreatedAt,
		Kind:      evt.Kind,
		Tags:      evt.Tags,
		Content:   evt.Content,
		Sig:       hex.EncodeToString(evt.Sig[:]),
	})
}

func (evt *Event) UnmarshalJSON(data []byte) error {
	var ee eventEnvelope
	if err := json.Unmarshal(data, &ee); err != nil {
		return err
	}

	evt.ID = ee.ID
	evt.PubKey = ee.PubKey
	evt.CreatedAt = ee.CreatedAt
	evt.Kind = ee.Kind
	evt.Tags = ee.Tags
	evt.Content = ee.Content

	if len(ee.Sig) == 128 {
		b, err := hex.DecodeString(ee.Sig)
		if err != nil {
			return err
		}
		copy(evt.Sig[:], b)
	}

	return nil
}

func (evt Event) String() string {
	j, _ := json.Marshal(evt)
	return string(j)
}

func (ef Filter) MarshalJSON() ([]byte, error) {
	w := make(map[string]any, 7+len(ef.Tags))

	if ef.IDs != nil {
		w["ids"] = ef.IDs
	}
	if ef.Kinds != nil {
		w["kinds"] = ef.Kinds
	}
	if ef.Authors != nil {
		w["authors"] = ef.Authors
	}
	for name, values := range ef.Tags {
		w["#"+name] = values
	}
	if ef.Since != 0 {
		w["since"] = ef.Since
	}
	if ef.Until != 0 {
		w["until"] = ef.Until
	}
	if ef.Limit != 0 || ef.LimitZero {
		w["limit"] = ef.Limit
	}
	if ef.Search != "" {
		w["search"] = ef.Search
	}

	return json.Marshal(w)
}

func (ef *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*ef = Filter{}
	for key, value := range raw {
		var err error
		switch key {
		case "ids":
			err = json.Unmarshal(value, &ef.IDs)
		case "kinds":
			err = json.Unmarshal(value, &ef.Kinds)
		case "authors":
			err = json.Unmarshal(value, &ef.Authors)
		case "since":
			err = json.Unmarshal(value, &ef.Since)
		case "until":
			err = json.Unmarshal(value, &ef.Until)
		case "limit":
			if err = json.Unmarshal(value, &ef.Limit); err == nil && ef.Limit == 0 {
				ef.LimitZero = true
			}
		case "search":
			err = json.Unmarshal(value, &ef.Search)
		default:
			if strings.HasPrefix(key, "#") && len(key) > 1 {
				if ef.Tags == nil {
					ef.Tags = make(TagMap, 2)
				}
				var values []string
				if err = json.Unmarshal(value, &values); err == nil {
					ef.Tags[key[1:]] = values
				}
			}
		}
		if err != nil {
			return fmt.Errorf("invalid '%s' field: %w", key, err)
		}
	}

	return nil
}

func (ef Filter) String() string {
	j, _ := json.Marshal(ef)
	return string(j)
}
