package messages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeMessage(t *testing.T) {
	tests := []struct {
		name    string
		message *Message
		wantErr bool
	}{
		{
			name: "join room request",
			message: &Message{
				ClientID: 7,
				Type:     MessageTypeClientJoinRoom,
				Payload:  json.RawMessage(`{"roomName":"Alpha","password":"abc"}`),
			},
			wantErr: false,
		},
		{
			name: "remote call with nested args",
			message: &Message{
				ClientID: 2,
				Type:     MessageTypeClientRemoteCall,
				Payload:  json.RawMessage(`{"method":"assignAnomaly","target":"allbuffered","args":{"actor":3}}`),
			},
			wantErr: false,
		},
		{
			name: "empty payload",
			message: &Message{
				ClientID: 0,
				Type:     MessageTypeClientLeaveRoom,
			},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := SerializeMessage(tt.message)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			got, err := DeserializeMessage(b)
			require.NoError(t, err)

			assert.Equal(t, tt.message.ClientID, got.ClientID)
			assert.Equal(t, tt.message.Type, got.Type)
			assert.JSONEq(t, string(payloadOrNull(tt.message.Payload)), string(payloadOrNull(got.Payload)))
		})
	}
}

func payloadOrNull(p json.RawMessage) json.RawMessage {
	if p == nil {
		return json.RawMessage(`null`)
	}
	return p
}

func TestDeserializeMessageRejectsGarbage(t *testing.T) {
	_, err := DeserializeMessage([]byte("not zstd data"))
	assert.Error(t, err)
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(4, MessageTypeClientCreateRoom, &ClientCreateRoom{
		RoomName:   "Beta",
		MaxPlayers: 4,
		IsPrivate:  true,
		Password:   "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(4), msg.ClientID)
	assert.Equal(t, MessageTypeClientCreateRoom, msg.Type)

	var payload ClientCreateRoom
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "Beta", payload.RoomName)
	assert.True(t, payload.IsPrivate)
}
