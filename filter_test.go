package nostr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatches(t *testing.T) {
	pk := MustPubKeyFromHex("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798")
	evt := &Event{
		ID:        ID{1},
		PubKey:    pk,
		CreatedAt: 1500,
		Kind:      KindTextNote,
		Tags:      Tags{{"t", "cat"}, {"e", "aa"}},
	}

	assert.True(t, Filter{}.Matches(evt), "the empty filter matches everything")
	assert.True(t, Filter{Kinds: []Kind{KindTextNote}}.Matches(evt))
	assert.True(t, Filter{Authors: []PubKey{pk}}.Matches(evt))
	assert.True(t, Filter{IDs: []ID{{1}, {2}}}.Matches(evt))
	assert.True(t, Filter{Tags: TagMap{"t": {"cat", "dog"}}}.Matches(evt))
	assert.True(t, Filter{Since: 1000, Until: 2000}.Matches(evt))

	assert.False(t, Filter{Kinds: []Kind{KindReaction}}.Matches(evt))
	assert.False(t, Filter{IDs: []ID{{2}}}.Matches(evt))
	assert.False(t, Filter{IDs: []ID{}}.Matches(evt), "an empty id list matches nothing")
	assert.False(t, Filter{Tags: TagMap{"t": {"dog"}}}.Matches(evt))
	assert.False(t, Filter{Tags: TagMap{"t": {"cat"}, "p": {"xx"}}}.Matches(evt),
		"every tag name is a separate conjunct")
	assert.False(t, Filter{Since: 1501}.Matches(evt))
	assert.False(t, Filter{Until: 1499}.Matches(evt))

	// a nil value list for a tag name is no constraint at all
	assert.True(t, Filter{Tags: TagMap{"q": nil}}.Matches(evt))
}

func TestFilterEqualAndClone(t *testing.T) {
	f := Filter{
		Kinds:   []Kind{KindTextNote, KindReaction},
		Authors: []PubKey{{1}, {2}},
		Tags:    TagMap{"t": {"cat"}},
		Since:   100,
		Limit:   10,
	}

	clone := f.Clone()
	assert.True(t, FilterEqual(f, clone))

	clone.Tags["t"][0] = "dog"
	assert.False(t, FilterEqual(f, clone), "clones must not share tag value arrays")

	reordered := Filter{
		Kinds:   []Kind{KindReaction, KindTextNote},
		Authors: []PubKey{{2}, {1}},
		Tags:    TagMap{"t": {"cat"}},
		Since:   100,
		Limit:   10,
	}
	assert.True(t, FilterEqual(f, reordered), "member order is irrelevant")

	assert.False(t, FilterEqual(f, Filter{}))
}

func TestFilterTheoreticalLimit(t *testing.T) {
	assert.Equal(t, 3, Filter{IDs: []ID{{1}, {2}, {3}}}.GetTheoreticalLimit())
	assert.Equal(t, 6, Filter{
		Kinds:   []Kind{KindProfileMetadata, KindFollowList},
		Authors: []PubKey{{1}, {2}, {3}},
	}.GetTheoreticalLimit())
	assert.Equal(t, 2, Filter{
		Kinds:   []Kind{KindArticle},
		Authors: []PubKey{{1}},
		Tags:    TagMap{"d": {"a", "b"}},
	}.GetTheoreticalLimit())
	assert.Equal(t, math.MaxInt, Filter{Kinds: []Kind{KindTextNote}, Authors: []PubKey{{1}}}.GetTheoreticalLimit())
	assert.Equal(t, math.MaxInt, Filter{}.GetTheoreticalLimit())
}

func TestFilterJSONRoundTrip(t *testing.T) {
	f := Filter{
		Kinds:   []Kind{KindTextNote},
		Authors: []PubKey{MustPubKeyFromHex("3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d")},
		Tags:    TagMap{"t": {"cat", "dog"}},
		Since:   100,
		Until:   200,
		Limit:   50,
		Search:  "hello",
	}

	encoded, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"#t":["cat","dog"]`)
	assert.Contains(t, string(encoded), `"limit":50`)

	var decoded Filter
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	assert.True(t, FilterEqual(f, decoded))
}

func TestFilterJSONLimitZero(t *testing.T) {
	var f Filter
	require.NoError(t, json.Unmarshal([]byte(`{"kinds":[1],"limit":0}`), &f))
	assert.True(t, f.LimitZero)

	var g Filter
	require.NoError(t, json.Unmarshal([]byte(`{"kinds":[1]}`), &g))
	assert.False(t, g.LimitZero, "an omitted limit is not limit zero")

	encoded, err := json.Marshal(f)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"limit":0`)
}
