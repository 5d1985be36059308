package chat

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptValidate(t *testing.T) {
	ok := NewMatch("OK", "", nil)

	tests := []struct {
		name    string
		script  *Script
		wantErr bool
	}{
		{
			name:   "valid",
			script: &Script{Name: "ping", ScriptChats: []ScriptChat{NewScriptChat("AT", ok)}},
		},
		{
			name:   "response none step",
			script: &Script{ScriptChats: []ScriptChat{NewScriptChatNone("AT+CFUN=1,1", time.Second)}},
		},
		{
			name:    "nil",
			wantErr: true,
		},
		{
			name:    "no chats",
			script:  &Script{Name: "empty"},
			wantErr: true,
		},
		{
			name: "negative timeout",
			script: &Script{
				ScriptChats: []ScriptChat{NewScriptChat("AT", ok)},
				Timeout:     -time.Second,
			},
			wantErr: true,
		},
		{
			name: "negative step timeout",
			script: &Script{
				ScriptChats: []ScriptChat{{Request: "AT", ResponseMatches: []Match{ok}, Timeout: -1}},
			},
			wantErr: true,
		},
		{
			name: "request too long",
			script: &Script{
				ScriptChats: []ScriptChat{NewScriptChat(strings.Repeat("A", MaxRequestSize+1), ok)},
			},
			wantErr: true,
		},
		{
			name: "abort match too long",
			script: &Script{
				ScriptChats:  []ScriptChat{NewScriptChat("AT", ok)},
				AbortMatches: []Match{NewMatch(strings.Repeat("E", MaxMatchSize+1), "", nil)},
			},
			wantErr: true,
		},
		{
			name: "response match too long",
			script: &Script{
				ScriptChats: []ScriptChat{NewScriptChat("AT", NewMatch("OK", strings.Repeat(",", MaxSeparatorsSize+1), nil))},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.script.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidScript)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScriptSetters(t *testing.T) {
	var s Script

	assert.ErrorIs(t, s.SetName(""), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetScriptChats(nil), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetCallback(nil), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetTimeout(-time.Second), ErrInvalidArgument)
	assert.ErrorIs(t, s.SetAbortMatches([]Match{NewMatch(strings.Repeat("E", MaxMatchSize+1), "", nil)}), ErrInvalidArgument)

	require.NoError(t, s.SetName("init"))
	require.NoError(t, s.SetScriptChats([]ScriptChat{NewScriptChat("AT", NewMatch("OK", "", nil))}))
	require.NoError(t, s.SetAbortMatches([]Match{NewMatch("ERROR", "", nil)}))
	require.NoError(t, s.SetCallback(func(*Chat, ScriptResult, any) {}))
	require.NoError(t, s.SetTimeout(10*time.Second))
	require.NoError(t, s.SetAbortMatches(nil))

	assert.Equal(t, "init", s.Name)
	assert.Len(t, s.ScriptChats, 1)
	assert.Empty(t, s.AbortMatches)
	assert.Equal(t, 10*time.Second, s.Timeout)
	assert.NoError(t, s.Validate())
}

func TestScriptChatSetters(t *testing.T) {
	var sc ScriptChat

	assert.ErrorIs(t, sc.SetRequest(strings.Repeat("A", MaxRequestSize+1)), ErrInvalidArgument)
	assert.ErrorIs(t, sc.SetResponseMatches(nil), ErrInvalidArgument)
	assert.ErrorIs(t, sc.SetTimeout(-1), ErrInvalidArgument)
	assert.False(t, sc.expectsResponse())

	require.NoError(t, sc.SetRequest("AT+CSQ"))
	require.NoError(t, sc.SetResponseMatches([]Match{NewMatch("+CSQ: ", ",", nil)}))
	require.NoError(t, sc.SetTimeout(time.Second))

	assert.Equal(t, "AT+CSQ", sc.Request)
	assert.True(t, sc.expectsResponse())
	assert.Equal(t, time.Second, sc.Timeout)
}

func TestScriptResultString(t *testing.T) {
	assert.Equal(t, "success", ResultSuccess.String())
	assert.Equal(t, "abort", ResultAbort.String())
	assert.Equal(t, "timeout", ResultTimeout.String())
	assert.Equal(t, "ScriptResult(7)", ScriptResult(7).String())
}
