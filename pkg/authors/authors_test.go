package authors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	m := New(map[string]string{
		"alice":         "Alice Liddell",
		"bob-the-dev":   "Bob Builder",
		"Carol.Danvers": "Carol",
		"":              "Nobody",
	})

	tests := []struct {
		identity string
		want     string
	}{
		{"alice", "Alice Liddell"},
		{"ALICE", "Alice Liddell"},
		{"alice-work-account", "Alice Liddell"},
		{"bob", "Bob Builder"},
		{"carol.danvers@example.com", "Carol"},
		{"mallory", "mallory"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.identity, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Lookup(tt.identity))
		})
	}
	assert.Equal(t, 3, m.Len())
}

func TestLookup_MostSpecificKeyWins(t *testing.T) {
	m := New(map[string]string{
		"al":    "Al",
		"alice": "Alice",
	})

	assert.Equal(t, "Alice", m.Lookup("alice"))
	assert.Equal(t, "Alice", m.Lookup("alice2"))
}

func TestZeroValue(t *testing.T) {
	var m Map
	assert.Equal(t, "dave", m.Lookup("dave"))
	assert.Empty(t, m.Describe())
}

func TestDescribe(t *testing.T) {
	m := New(map[string]string{"bob": "Bob", "alice": "Alice"})
	assert.Equal(t, "- alice → Alice\n- bob → Bob\n", m.Describe())
}
