package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shobu13/kindly-kappa/internal/edit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeConnect(t *testing.T) {
	req, err := Decode([]byte(`{"type":"connect","data":{"connection_type":"create","difficulty":3,"room_code":"ABCD","username":"kappa"}}`))
	require.NoError(t, err)

	assert.Equal(t, EventConnect, req.Type)
	data, ok := req.Data.(ConnectData)
	require.True(t, ok)
	assert.Equal(t, ConnectionCreate, data.ConnectionType)
	require.NotNil(t, data.Difficulty)
	assert.Equal(t, 3, *data.Difficulty)
	assert.Equal(t, "ABCD", data.RoomCode)
	assert.Equal(t, "kappa", data.Username)
}

func TestDecodeJoinWithoutDifficulty(t *testing.T) {
	req, err := Decode([]byte(`{"type":"connect","data":{"connection_type":"join","room_code":"ABCD","username":"kappa"}}`))
	require.NoError(t, err)
	assert.Nil(t, req.Data.(ConnectData).Difficulty)
}

func TestDecodePayloads(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected any
	}{
		{
			name:     "move",
			raw:      `{"type":"move","data":{"position":[1,4]}}`,
			expected: MoveData{Position: Position{1, 4}},
		},
		{
			name: "replace",
			raw:  `{"type":"replace","data":{"code":[{"from":0,"to":1,"value":"b"}]}}`,
			expected: ReplaceData{Code: []edit.Replacement{
				{From: 0, To: 1, Value: "b"},
			}},
		},
		{
			name:     "sync with empty code",
			raw:      `{"type":"sync","data":{"code":""}}`,
			expected: SyncData{Code: ""},
		},
		{
			name:     "bugs without data",
			raw:      `{"type":"bugs"}`,
			expected: BugsData{},
		},
		{
			name:     "evaluate with empty data",
			raw:      `{"type":"evaluate","data":{}}`,
			expected: EvaluateData{},
		},
		{
			name:     "disconnect",
			raw:      `{"type":"disconnect","data":{"username":"kappa"}}`,
			expected: DisconnectData{Username: "kappa"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, req.Data)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *Error
	}{
		{name: "not json", raw: `{"type":`, want: ErrInvalidRequestData},
		{name: "unknown type", raw: `{"type":"dance","data":{}}`, want: ErrInvalidRequestData},
		{name: "missing type", raw: `{"data":{}}`, want: ErrDataNotFound},
		{name: "connect without data", raw: `{"type":"connect"}`, want: ErrDataNotFound},
		{name: "connect without username", raw: `{"type":"connect","data":{"connection_type":"join","room_code":"A"}}`, want: ErrDataNotFound},
		{name: "connect with bad intent", raw: `{"type":"connect","data":{"connection_type":"spectate","room_code":"A","username":"b"}}`, want: ErrInvalidRequestData},
		{name: "move wrong arity", raw: `{"type":"move","data":{"position":[1]}}`, want: ErrInvalidRequestData},
		{name: "move missing position", raw: `{"type":"move","data":{}}`, want: ErrDataNotFound},
		{name: "replace wrong type", raw: `{"type":"replace","data":{"code":"abc"}}`, want: ErrInvalidRequestData},
		{name: "replace missing code", raw: `{"type":"replace","data":{}}`, want: ErrDataNotFound},
		{name: "sync missing code", raw: `{"type":"sync","data":{"owner_id":"x"}}`, want: ErrDataNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestErrorResponse(t *testing.T) {
	err := Errorf(RoomNotFound, "The room with code %q was not found.", "ABCD")
	assert.True(t, errors.Is(err, ErrRoomNotFound))
	assert.False(t, errors.Is(err, ErrRoomAlreadyExists))

	raw, marshalErr := json.Marshal(err.Response())
	require.NoError(t, marshalErr)
	assert.JSONEq(t, `{"type":"error","data":{"message":"The room with code \"ABCD\" was not found."},"status_code":4001}`, string(raw))
}

func TestSyncResponseShape(t *testing.T) {
	raw, err := json.Marshal(NewResponse(EventSync, SyncData{
		Code:          "print(1)\n",
		Collaborators: []Collaborator{{ID: "a", Username: "alice"}},
		Time:          Time{Min: 1, Sec: 2, Mil: 3},
		OwnerID:       "a",
		Difficulty:    2,
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "sync",
		"data": {
			"code": "print(1)\n",
			"collaborators": [{"id": "a", "username": "alice"}],
			"time": {"min": 1, "sec": 2, "mil": 3},
			"owner_id": "a",
			"difficulty": 2
		},
		"status_code": 4000
	}`, string(raw))
}
