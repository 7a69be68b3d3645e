package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/awalsh/terminus/pkg/messages"
	"github.com/awalsh/terminus/pkg/network"
	"github.com/awalsh/terminus/pkg/queue"
	relaytypes "github.com/awalsh/terminus/pkg/relay/types"
	"github.com/awalsh/terminus/pkg/rooms"
	"github.com/awalsh/terminus/pkg/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent   map[uint32][]*messages.Message
	closed map[uint32]string
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		sent:   make(map[uint32][]*messages.Message),
		closed: make(map[uint32]string),
	}
}

func (f *fakeSender) SendMessageToClient(_ context.Context, clientID uint32, msg *messages.Message) error {
	f.sent[clientID] = append(f.sent[clientID], msg)
	return nil
}

func (f *fakeSender) CloseClientConnection(_ context.Context, clientID uint32, reason string) error {
	f.closed[clientID] = reason
	return nil
}

func (f *fakeSender) lastOfType(clientID uint32, msgType string) *messages.Message {
	for i := len(f.sent[clientID]) - 1; i >= 0; i-- {
		if f.sent[clientID][i].Type == msgType {
			return f.sent[clientID][i]
		}
	}
	return nil
}

type testRelay struct {
	manager       *RelayManager
	sender        *fakeSender
	clientManager *network.ClientManager
	messageQueue  queue.Queue
	eventQueue    queue.Queue
	resultChan    chan workers.SaveSessionResultRequest
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	sender := newFakeSender()
	clientManager := network.NewClientManager()
	messageQueue := queue.NewInMemoryQueue(100)
	eventQueue := queue.NewInMemoryQueue(100)
	resultChan := make(chan workers.SaveSessionResultRequest, 10)
	manager := NewRelayManager(NewRelayManagerOptions{
		ClientManager:        clientManager,
		Sender:               sender,
		RoomManager:          rooms.NewRoomManager(),
		ClientMessageQueue:   messageQueue,
		ConnectionEventQueue: eventQueue,
		SaveResultChan:       resultChan,
	})
	return &testRelay{
		manager:       manager,
		sender:        sender,
		clientManager: clientManager,
		messageQueue:  messageQueue,
		eventQueue:    eventQueue,
		resultChan:    resultChan,
	}
}

func (tr *testRelay) connect(t *testing.T, name string) uint32 {
	t.Helper()
	clientID, err := tr.clientManager.ConnectClient(nil, name)
	require.NoError(t, err)
	return clientID
}

func (tr *testRelay) send(t *testing.T, clientID uint32, msgType string, payload interface{}) {
	t.Helper()
	msg, err := messages.NewMessage(clientID, msgType, payload)
	require.NoError(t, err)
	require.NoError(t, tr.messageQueue.Enqueue(msg))
	tr.manager.processClientMessages(context.Background())
}

func decodePayload(t *testing.T, msg *messages.Message, out interface{}) {
	t.Helper()
	require.NotNil(t, msg)
	require.NoError(t, json.Unmarshal(msg.Payload, out))
}

func TestJoinLobbySendsRoomList(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	visitor := tr.connect(t, "two")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})
	tr.send(t, visitor, messages.MessageTypeClientJoinLobby, nil)

	lobbyJoined := &messages.ServerLobbyJoined{}
	decodePayload(t, tr.sender.lastOfType(visitor, messages.MessageTypeServerLobbyJoined), lobbyJoined)
	require.Len(t, lobbyJoined.Rooms, 1)
	assert.Equal(t, "Alpha", lobbyJoined.Rooms[0].Name)
	assert.Equal(t, 1, lobbyJoined.Rooms[0].PlayerCount)
}

func TestCreateRoomSendsSnapshotToCreator(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{
		RoomName: "Alpha", MaxPlayers: 4, IsPrivate: true, Password: "abc",
	})

	roomJoined := &messages.ServerRoomJoined{}
	decodePayload(t, tr.sender.lastOfType(creator, messages.MessageTypeServerRoomJoined), roomJoined)
	assert.Equal(t, "Alpha", roomJoined.RoomName)
	assert.Equal(t, 1, roomJoined.ActorNumber)
	assert.Equal(t, 1, roomJoined.MasterActor)
	assert.True(t, roomJoined.IsPrivate)
	require.Len(t, roomJoined.Players, 1)
}

func TestCreateRoomDuplicateNameReportsError(t *testing.T) {
	tr := newTestRelay(t)
	first := tr.connect(t, "one")
	second := tr.connect(t, "two")

	tr.send(t, first, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha"})
	tr.send(t, second, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha"})

	joinError := &messages.ServerRoomJoinError{}
	decodePayload(t, tr.sender.lastOfType(second, messages.MessageTypeServerRoomJoinError), joinError)
	assert.Equal(t, messages.ErrorCodeRoomAlreadyExists, joinError.Code)
	assert.Equal(t, "A room with this name already exists.", joinError.Message)
}

func TestJoinPrivateRoomDeliversSecretInSnapshot(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	joiner := tr.connect(t, "two")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{
		RoomName: "Alpha", MaxPlayers: 4, IsPrivate: true, Password: "abc",
	})
	// the server seats the joiner regardless of any supplied password
	tr.send(t, joiner, messages.MessageTypeClientJoinRoom, &messages.ClientJoinRoom{RoomName: "Alpha"})

	roomJoined := &messages.ServerRoomJoined{}
	decodePayload(t, tr.sender.lastOfType(joiner, messages.MessageTypeServerRoomJoined), roomJoined)
	assert.True(t, roomJoined.IsPrivate)
	assert.Equal(t, "abc", roomJoined.Password)
	assert.Nil(t, tr.sender.lastOfType(joiner, messages.MessageTypeServerRoomJoinError))
}

func TestJoinRoomNotifiesOccupants(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	joiner := tr.connect(t, "two")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})
	tr.send(t, joiner, messages.MessageTypeClientJoinRoom, &messages.ClientJoinRoom{RoomName: "Alpha"})

	roomJoined := &messages.ServerRoomJoined{}
	decodePayload(t, tr.sender.lastOfType(joiner, messages.MessageTypeServerRoomJoined), roomJoined)
	assert.Equal(t, 2, roomJoined.ActorNumber)
	require.Len(t, roomJoined.Players, 2)

	playerJoined := &messages.ServerPlayerJoined{}
	decodePayload(t, tr.sender.lastOfType(creator, messages.MessageTypeServerPlayerJoined), playerJoined)
	assert.Equal(t, 2, playerJoined.ActorNumber)
	assert.Equal(t, "two", playerJoined.Name)
}

func TestBufferedRemoteCallReplayedToLateJoiner(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	joiner := tr.connect(t, "two")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})
	tr.send(t, creator, messages.MessageTypeClientRemoteCall, &messages.ClientRemoteCall{
		Method: "assignAnomaly",
		Target: messages.TargetAllBuffered,
		Args:   json.RawMessage(`{"actor":2}`),
	})

	// the buffered call was also delivered to the sender itself
	remoteCall := &messages.ServerRemoteCall{}
	decodePayload(t, tr.sender.lastOfType(creator, messages.MessageTypeServerRemoteCall), remoteCall)
	assert.Equal(t, "assignAnomaly", remoteCall.Method)

	tr.send(t, joiner, messages.MessageTypeClientJoinRoom, &messages.ClientJoinRoom{RoomName: "Alpha"})

	roomJoined := &messages.ServerRoomJoined{}
	decodePayload(t, tr.sender.lastOfType(joiner, messages.MessageTypeServerRoomJoined), roomJoined)
	require.Len(t, roomJoined.Buffered, 1)
	assert.Equal(t, "assignAnomaly", roomJoined.Buffered[0].Method)
	assert.Equal(t, 1, roomJoined.Buffered[0].SenderActor)
}

func TestRemoteCallTargetOthersSkipsSender(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	joiner := tr.connect(t, "two")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})
	tr.send(t, joiner, messages.MessageTypeClientJoinRoom, &messages.ClientJoinRoom{RoomName: "Alpha"})

	tr.send(t, creator, messages.MessageTypeClientRemoteCall, &messages.ClientRemoteCall{
		Method: "startVehicle",
		Target: messages.TargetOthers,
		Args:   json.RawMessage(`{}`),
	})

	assert.Nil(t, tr.sender.lastOfType(creator, messages.MessageTypeServerRemoteCall))
	remoteCall := &messages.ServerRemoteCall{}
	decodePayload(t, tr.sender.lastOfType(joiner, messages.MessageTypeServerRemoteCall), remoteCall)
	assert.Equal(t, "startVehicle", remoteCall.Method)
	assert.Equal(t, 1, remoteCall.SenderActor)
}

func TestCloseActorRequiresMaster(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	joiner := tr.connect(t, "two")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})
	tr.send(t, joiner, messages.MessageTypeClientJoinRoom, &messages.ClientJoinRoom{RoomName: "Alpha"})

	tr.send(t, joiner, messages.MessageTypeClientCloseActor, &messages.ClientCloseActor{ActorNumber: 1})
	assert.Empty(t, tr.sender.closed)

	tr.send(t, creator, messages.MessageTypeClientCloseActor, &messages.ClientCloseActor{ActorNumber: 2})
	assert.Equal(t, "removed by the room master", tr.sender.closed[joiner])
}

func TestDisconnectHandsOverMaster(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	joiner := tr.connect(t, "two")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})
	tr.send(t, joiner, messages.MessageTypeClientJoinRoom, &messages.ClientJoinRoom{RoomName: "Alpha"})

	require.NoError(t, tr.eventQueue.Enqueue(&relaytypes.DisconnectClientEvent{ClientID: creator}))
	tr.manager.processConnectionEvents(context.Background())

	playerLeft := &messages.ServerPlayerLeft{}
	decodePayload(t, tr.sender.lastOfType(joiner, messages.MessageTypeServerPlayerLeft), playerLeft)
	assert.Equal(t, 1, playerLeft.ActorNumber)

	masterChanged := &messages.ServerMasterChanged{}
	decodePayload(t, tr.sender.lastOfType(joiner, messages.MessageTypeServerMasterChanged), masterChanged)
	assert.Equal(t, 2, masterChanged.ActorNumber)
}

func TestStartGameClosesRoom(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	late := tr.connect(t, "three")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})
	tr.send(t, creator, messages.MessageTypeClientStartGame, nil)

	tr.send(t, late, messages.MessageTypeClientJoinRoom, &messages.ClientJoinRoom{RoomName: "Alpha"})
	joinError := &messages.ServerRoomJoinError{}
	decodePayload(t, tr.sender.lastOfType(late, messages.MessageTypeServerRoomJoinError), joinError)
	assert.Equal(t, messages.ErrorCodeRoomClosed, joinError.Code)
}

func TestSessionResultForwardedToSaveWorker(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")

	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})
	tr.send(t, creator, messages.MessageTypeClientSessionResult, &messages.ClientSessionResult{
		Outcome:         "win",
		StationsCleared: 8,
	})

	select {
	case request := <-tr.resultChan:
		assert.Equal(t, "Alpha", request.Result.RoomName)
		assert.Equal(t, "win", request.Result.Outcome)
		assert.Equal(t, 8, request.Result.StationsCleared)
		assert.Equal(t, 1, request.Result.PlayerCount)
	default:
		t.Fatal("expected a session result save request")
	}
}

func TestLobbyDiffBroadcast(t *testing.T) {
	tr := newTestRelay(t)
	creator := tr.connect(t, "one")
	watcher := tr.connect(t, "two")

	tr.send(t, watcher, messages.MessageTypeClientJoinLobby, nil)
	tr.send(t, creator, messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{RoomName: "Alpha", MaxPlayers: 4})

	tr.manager.broadcastLobbyDiffs(context.Background())

	diff := &messages.ServerRoomListDiff{}
	decodePayload(t, tr.sender.lastOfType(watcher, messages.MessageTypeServerRoomListDiff), diff)
	require.Len(t, diff.Rooms, 1)
	assert.Equal(t, "Alpha", diff.Rooms[0].Name)

	// room creator left the lobby on join and gets no diff
	assert.Nil(t, tr.sender.lastOfType(creator, messages.MessageTypeServerRoomListDiff))
}
