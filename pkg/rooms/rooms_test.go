package rooms

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRoomValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    CreateRoomOptions
		wantErr string
	}{
		{
			name:    "empty name",
			opts:    CreateRoomOptions{Name: ""},
			wantErr: "room name must not be empty",
		},
		{
			name:    "name too long",
			opts:    CreateRoomOptions{Name: strings.Repeat("a", MaxRoomNameLength+1)},
			wantErr: "room name must be at most",
		},
		{
			name:    "private room with short password",
			opts:    CreateRoomOptions{Name: "Alpha", IsPrivate: true, Password: "ab"},
			wantErr: "password must be at least",
		},
		{
			name:    "capacity too large",
			opts:    CreateRoomOptions{Name: "Alpha", MaxPlayers: MaxRoomPlayers + 1},
			wantErr: "room capacity must be between",
		},
		{
			name:    "capacity too small",
			opts:    CreateRoomOptions{Name: "Alpha", MaxPlayers: 1},
			wantErr: "room capacity must be between",
		},
		{
			name: "valid public room with default capacity",
			opts: CreateRoomOptions{Name: "Alpha"},
		},
		{
			name: "valid private room",
			opts: CreateRoomOptions{Name: "Alpha", IsPrivate: true, Password: "abc"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := NewRoomManager()
			room, occupant, err := rm.CreateRoom(tt.opts, 1, "one")
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, occupant.ActorNumber)
			assert.Equal(t, occupant.ActorNumber, room.MasterActor())
			assert.Equal(t, DefaultRoomPlayers, room.MaxPlayers)
		})
	}
}

func TestCreateRoomDuplicateName(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha"}, 1, "one")
	require.NoError(t, err)

	_, _, err = rm.CreateRoom(CreateRoomOptions{Name: "Alpha"}, 2, "two")
	require.Error(t, err)
	assert.IsType(t, &ErrRoomExists{}, err)
}

func TestJoinPrivateRoomSeatsUnconditionally(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", IsPrivate: true, Password: "abc"}, 1, "one")
	require.NoError(t, err)

	// the secret is checked by the joiner, not here
	room, occupant, err := rm.JoinRoom("Alpha", 2, "two")
	require.NoError(t, err)
	assert.Equal(t, 2, occupant.ActorNumber)
	assert.Equal(t, 1, room.MasterActor())
	assert.Equal(t, "abc", room.Password())
}

func TestJoinRoomErrors(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", MaxPlayers: 2}, 1, "one")
	require.NoError(t, err)

	_, _, err = rm.JoinRoom("Beta", 2, "two")
	assert.IsType(t, &ErrRoomNotFound{}, err)

	_, _, err = rm.JoinRoom("Alpha", 2, "two")
	require.NoError(t, err)

	_, _, err = rm.JoinRoom("Alpha", 3, "three")
	assert.IsType(t, &ErrRoomFull{}, err)
}

func TestJoinClosedRoom(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", MaxPlayers: 4}, 1, "one")
	require.NoError(t, err)
	require.NoError(t, rm.CloseRoom("Alpha", 1))

	_, _, err = rm.JoinRoom("Alpha", 2, "two")
	assert.IsType(t, &ErrRoomClosed{}, err)
}

func TestCloseRoomRequiresMaster(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", MaxPlayers: 4}, 1, "one")
	require.NoError(t, err)
	_, _, err = rm.JoinRoom("Alpha", 2, "two")
	require.NoError(t, err)

	err = rm.CloseRoom("Alpha", 2)
	require.Error(t, err)

	require.NoError(t, rm.CloseRoom("Alpha", 1))
}

func TestMasterHandover(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", MaxPlayers: 4}, 1, "one")
	require.NoError(t, err)
	_, _, err = rm.JoinRoom("Alpha", 2, "two")
	require.NoError(t, err)
	_, _, err = rm.JoinRoom("Alpha", 3, "three")
	require.NoError(t, err)

	result := rm.LeaveRoom(1)
	require.True(t, result.WasOccupying)
	assert.Equal(t, 1, result.LeftActor)
	assert.True(t, result.MasterMoved)
	assert.Equal(t, 2, result.NewMaster)
	assert.Equal(t, 2, result.Room.MasterActor())

	// non-master leaving does not move the master
	result = rm.LeaveRoom(3)
	require.True(t, result.WasOccupying)
	assert.False(t, result.MasterMoved)
}

func TestLeaveRoomRemovesEmptyRoom(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha"}, 1, "one")
	require.NoError(t, err)
	rm.FlushDiff()

	result := rm.LeaveRoom(1)
	require.True(t, result.WasOccupying)
	assert.True(t, result.RoomRemoved)

	diff := rm.FlushDiff()
	require.Len(t, diff, 1)
	assert.Equal(t, "Alpha", diff[0].Name)
	assert.True(t, diff[0].RemovedFromList)

	assert.Empty(t, rm.ListVisibleRooms())
}

func TestLeaveRoomNotOccupying(t *testing.T) {
	rm := NewRoomManager()
	result := rm.LeaveRoom(42)
	assert.False(t, result.WasOccupying)
}

func TestFlushDiffCoalescesChanges(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", MaxPlayers: 4}, 1, "one")
	require.NoError(t, err)
	_, _, err = rm.JoinRoom("Alpha", 2, "two")
	require.NoError(t, err)

	diff := rm.FlushDiff()
	require.Len(t, diff, 1)
	assert.Equal(t, "Alpha", diff[0].Name)
	assert.Equal(t, 2, diff[0].PlayerCount)

	// nothing pending after a flush
	assert.Nil(t, rm.FlushDiff())
}

func TestCloseRoomHidesFromLobby(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", MaxPlayers: 4}, 1, "one")
	require.NoError(t, err)
	rm.FlushDiff()

	require.NoError(t, rm.CloseRoom("Alpha", 1))

	diff := rm.FlushDiff()
	require.Len(t, diff, 1)
	assert.True(t, diff[0].RemovedFromList)
	assert.Empty(t, rm.ListVisibleRooms())
}

func TestPrivateRoomVisibleInLobby(t *testing.T) {
	rm := NewRoomManager()
	_, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", IsPrivate: true, Password: "abc"}, 1, "one")
	require.NoError(t, err)

	infos := rm.ListVisibleRooms()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].IsPrivate)
}

func TestBufferedCallsPreserveOrder(t *testing.T) {
	rm := NewRoomManager()
	room, _, err := rm.CreateRoom(CreateRoomOptions{Name: "Alpha", MaxPlayers: 4}, 1, "one")
	require.NoError(t, err)

	room.AddBufferedCall(BufferedCall{SenderActor: 1, Method: "assignAnomaly", Args: json.RawMessage(`{"actor":2}`)})
	room.AddBufferedCall(BufferedCall{SenderActor: 1, Method: "assignAnomaly", Args: json.RawMessage(`{"actor":-1}`)})

	calls := room.BufferedCalls()
	require.Len(t, calls, 2)
	assert.JSONEq(t, `{"actor":2}`, string(calls[0].Args))
	assert.JSONEq(t, `{"actor":-1}`, string(calls[1].Args))
}
