package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchMatches(t *testing.T) {
	tests := []struct {
		name  string
		match Match
		line  string
		want  bool
	}{
		{"exact", NewMatch("OK", "", nil), "OK", true},
		{"prefix", NewMatch("+CSQ: ", ",", nil), "+CSQ: 21,99", true},
		{"shorter line", NewMatch("+CSQ: ", ",", nil), "+CSQ", false},
		{"mismatch", NewMatch("OK", "", nil), "ERROR", false},
		{"case sensitive", NewMatch("OK", "", nil), "ok", false},
		{"catch-all", AnyMatch("", nil), "anything", true},
		{"catch-all skips empty line", AnyMatch("", nil), "", false},
		{"catch-all with empty lines", Match{EmptyLines: true}, "", true},
		{"empty lines need a catch-all", Match{Match: "OK", EmptyLines: true}, "", false},
		{"wildcard disabled", NewMatch("+C?REG: ", "", nil), "+CEREG: 1", false},
		{"wildcard", Match{Match: "+C?REG: ", Wildcards: true}, "+CEREG: 1", true},
		{"wildcard literal", Match{Match: "+C?REG: ", Wildcards: true}, "+C?REG: 1", true},
		{"wildcard does not extend", Match{Match: "+C?REG: ", Wildcards: true}, "+CREG: 1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.match.matches([]byte(tt.line)))
		})
	}
}

func TestFindMatchOrder(t *testing.T) {
	table := []Match{
		NewMatch("+CME ERROR: ", "", nil),
		NewMatch("+CME", "", nil),
		AnyMatch("", nil),
	}

	assert.Same(t, &table[0], findMatch(table, []byte("+CME ERROR: 10")))
	assert.Same(t, &table[1], findMatch(table, []byte("+CMEE: 2")))
	assert.Same(t, &table[2], findMatch(table, []byte("OK")))
	assert.Nil(t, findMatch(table[:2], []byte("OK")))
	assert.Nil(t, findMatch(nil, []byte("OK")))
}

func TestMatchSetters(t *testing.T) {
	var m Match

	require.NoError(t, m.SetMatch("+CREG: "))
	require.NoError(t, m.SetSeparators(","))
	require.NoError(t, m.SetCallback(func(*Chat, []string, any) {}))
	m.EnableWildcards(true)
	m.SetPartial(true)

	assert.Equal(t, "+CREG: ", m.Match)
	assert.Equal(t, ",", m.Separators)
	assert.NotNil(t, m.Callback)
	assert.True(t, m.Wildcards)
	assert.True(t, m.Partial)
	assert.False(t, m.IsCatchAll())

	require.NoError(t, m.SetMatch(""))
	assert.True(t, m.IsCatchAll())

	assert.ErrorIs(t, m.SetMatch(strings.Repeat("A", MaxMatchSize+1)), ErrInvalidArgument)
	assert.ErrorIs(t, m.SetSeparators(strings.Repeat(",", MaxSeparatorsSize+1)), ErrInvalidArgument)
	assert.ErrorIs(t, m.SetCallback(nil), ErrInvalidArgument)
	assert.Empty(t, m.Match)
	assert.Equal(t, ",", m.Separators)
}
