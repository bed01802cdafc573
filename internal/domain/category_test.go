package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCategory(t *testing.T) {
	tests := []struct {
		name      string
		suggested CategoryID
		confirmed NullCategoryID
		want      CategoryID
	}{
		{"suggestion only", "groceries", NullCategoryID{}, "groceries"},
		{"override wins", "groceries", SomeCategory("dining"), "dining"},
		{"override equal to suggestion", "rent", SomeCategory("rent"), "rent"},
		{"invalid override ignored", "rent", NullCategoryID{CategoryID: "junk"}, "rent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveCategory(tt.suggested, tt.confirmed))

			tx := ParsedTransaction{SuggestedCategoryID: tt.suggested, ConfirmedCategoryID: tt.confirmed}
			assert.Equal(t, tt.want, tx.EffectiveCategoryID())
		})
	}
}

func TestNullCategoryID_JSON(t *testing.T) {
	b, err := json.Marshal(NullCategoryID{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = json.Marshal(SomeCategory("travel"))
	require.NoError(t, err)
	assert.Equal(t, `"travel"`, string(b))

	var n NullCategoryID
	require.NoError(t, json.Unmarshal([]byte(`"travel"`), &n))
	assert.Equal(t, SomeCategory("travel"), n)

	require.NoError(t, json.Unmarshal([]byte(`null`), &n))
	assert.False(t, n.Valid)
}
