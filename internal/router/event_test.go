package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/session-monitor/internal/model"
)

func TestDecode_StateSnapshot(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"state","data":{"turn":2,"players":["a","b"]}}`))
	require.NoError(t, err)

	snap, ok := ev.(StateSnapshot)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, TypeState, snap.Kind())
	assert.JSONEq(t, `{"turn":2,"players":["a","b"]}`, string(snap.Doc))
}

func TestDecode_StateSnapshotDoesNotAliasInput(t *testing.T) {
	raw := []byte(`{"type":"state","data":{"turn":2}}`)
	ev, err := Decode(raw)
	require.NoError(t, err)

	for i := range raw {
		raw[i] = 'x'
	}
	assert.Equal(t, `{"turn":2}`, string(ev.(StateSnapshot).Doc))
}

func TestDecode_EntityAppeared(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"entity_appeared","data":{"id":"s1","turn":0,"playerCount":2}}`))
	require.NoError(t, err)

	appeared, ok := ev.(EntityAppeared)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, model.SessionSummary{ID: "s1", Turn: 0, PlayerCount: 2}, appeared.Summary)
	assert.Equal(t, TypeEntityAppeared, appeared.Kind())
}

func TestDecode_UnknownType(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"chat","data":{"text":"hi"}}`))
	require.NoError(t, err)

	unknown, ok := ev.(Unknown)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "chat", unknown.Kind())
	assert.JSONEq(t, `{"text":"hi"}`, string(unknown.Data))
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", ``, ErrEmptyFrame},
		{"whitespace", "  \n", ErrEmptyFrame},
		{"not json", `not json`, nil},
		{"json array", `[1,2,3]`, nil},
		{"missing type", `{"data":{"turn":1}}`, ErrMissingType},
		{"state without data", `{"type":"state"}`, ErrMissingData},
		{"state with null data", `{"type":"state","data":null}`, ErrMissingData},
		{"entity without data", `{"type":"entity_appeared"}`, ErrMissingData},
		{"entity without id", `{"type":"entity_appeared","data":{"turn":1}}`, ErrMissingID},
		{"entity wrong shape", `{"type":"entity_appeared","data":"s1"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, ev)

			var perr *ParseError
			require.True(t, errors.As(err, &perr), "want *ParseError, got %T", err)
			assert.Equal(t, tt.input, string(perr.Raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestParseError_Message(t *testing.T) {
	err := &ParseError{Raw: []byte("abc"), Err: ErrMissingType}
	assert.Equal(t, "parse frame (3 bytes): envelope has no type", err.Error())
}
