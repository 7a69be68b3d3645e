package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/awalsh/terminus/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func joinedSnapshot(actorNumber int, masterActor int, players ...messages.PlayerInfo) *messages.ServerRoomJoined {
	return &messages.ServerRoomJoined{
		RoomName:    "alpha",
		ActorNumber: actorNumber,
		MasterActor: masterActor,
		MaxPlayers:  4,
		Players:     players,
	}
}

func deliverCall(t *testing.T, s *Session, senderActor int, method string, args interface{}) {
	t.Helper()
	payload := mustMarshal(t, &messages.ServerRemoteCall{
		SenderActor: senderActor,
		Method:      method,
		Args:        mustMarshal(t, args),
	})
	require.NoError(t, s.HandleRemoteCall(payload))
}

func remoteCallsOf(sender *fakeSender, method string) []*messages.ClientRemoteCall {
	var calls []*messages.ClientRemoteCall
	for _, msg := range sender.sent {
		if msg.Type != messages.MessageTypeClientRemoteCall {
			continue
		}
		call, ok := msg.Payload.(*messages.ClientRemoteCall)
		if ok && call.Method == method {
			calls = append(calls, call)
		}
	}
	return calls
}

func TestSessionJoinReplaysBufferedCalls(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())

	var got []string
	s.RegisterHandler("placeObject", func(senderActor int, args json.RawMessage) error {
		got = append(got, string(args))
		return nil
	})

	snapshot := joinedSnapshot(3, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 3, Name: "Ben"},
	)
	snapshot.Buffered = []messages.BufferedRemoteCall{
		{SenderActor: 1, Method: "placeObject", Args: json.RawMessage(`{"id":1}`)},
		{SenderActor: 1, Method: "placeObject", Args: json.RawMessage(`{"id":2}`)},
	}
	s.Join(snapshot)

	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`}, got)
	assert.Equal(t, []int{1, 3}, s.Actors())
	assert.False(t, s.IsMaster())
}

func TestSessionReadinessGatesStart(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(1, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	require.True(t, s.IsMaster())
	assert.False(t, s.CanStart())
	assert.Error(t, s.Start())

	deliverCall(t, s, 2, MethodSetReady, &ReadyArgs{Actor: 2, Ready: true})
	assert.True(t, s.IsReady(2))
	assert.True(t, s.CanStart())

	require.NoError(t, s.Start())
	assert.Equal(t, 1, sender.countOf(messages.MessageTypeClientStartGame))
	assert.Len(t, remoteCallsOf(sender, MethodStartSession), 1)

	// unready again blocks a restart
	deliverCall(t, s, 2, MethodSetReady, &ReadyArgs{Actor: 2, Ready: false})
	assert.False(t, s.CanStart())
}

func TestSessionSoloMasterCanStart(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(1, 1, messages.PlayerInfo{ActorNumber: 1, Name: "Ada"}))

	assert.True(t, s.CanStart())
	require.NoError(t, s.Start())
}

func TestSessionStartAnnouncementStartsEveryone(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(2, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	started := 0
	s.SetOnStarted(func() { started++ })

	deliverCall(t, s, 1, MethodStartSession, nil)
	deliverCall(t, s, 1, MethodStartSession, nil)

	assert.True(t, s.Started())
	assert.Equal(t, 1, started)
}

func TestSessionNonMasterCannotStartOrKick(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(2, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	assert.Error(t, s.Start())
	_, err := s.KickPlayer(1)
	assert.Error(t, err)
}

func TestSessionMasterHandover(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(2, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))
	require.False(t, s.IsMaster())

	require.NoError(t, s.HandlePlayerLeft(mustMarshal(t, &messages.ServerPlayerLeft{ActorNumber: 1})))
	require.NoError(t, s.HandleMasterChanged(mustMarshal(t, &messages.ServerMasterChanged{ActorNumber: 2})))

	assert.True(t, s.IsMaster())
	assert.Equal(t, []int{2}, s.Actors())
}

func TestSessionRosterChangeResetsReadiness(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(1, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	deliverCall(t, s, 2, MethodSetReady, &ReadyArgs{Actor: 2, Ready: true})
	require.True(t, s.CanStart())

	// a new occupant voids everyone's readiness
	require.NoError(t, s.HandlePlayerJoined(mustMarshal(t, &messages.ServerPlayerJoined{ActorNumber: 3, Name: "Cam"})))
	assert.False(t, s.IsReady(2))
	assert.False(t, s.CanStart())

	deliverCall(t, s, 2, MethodSetReady, &ReadyArgs{Actor: 2, Ready: true})
	deliverCall(t, s, 3, MethodSetReady, &ReadyArgs{Actor: 3, Ready: true})
	require.True(t, s.CanStart())

	require.NoError(t, s.HandlePlayerLeft(mustMarshal(t, &messages.ServerPlayerLeft{ActorNumber: 3})))
	assert.False(t, s.IsReady(2))
}

func TestSessionOneRemovalAtATime(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(1, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
		messages.PlayerInfo{ActorNumber: 3, Name: "Cam"},
	))

	first, err := s.KickPlayer(2)
	require.NoError(t, err)

	_, err = s.KickPlayer(3)
	assert.Error(t, err)

	// repeating the same target reuses the active request
	again, err := s.KickPlayer(2)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

func TestSessionKickDepartedPlayerIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(1, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	require.NoError(t, s.HandlePlayerLeft(mustMarshal(t, &messages.ServerPlayerLeft{ActorNumber: 2})))

	// the target already left on its own, so there is nothing to do
	request, err := s.KickPlayer(2)
	require.NoError(t, err)
	assert.Nil(t, request)

	s.Update()
	assert.Empty(t, remoteCallsOf(sender, MethodKickNotice))
}

func TestSessionKickEscalationSendsCalls(t *testing.T) {
	sender := &fakeSender{}
	clock := newFakeClock()
	s := NewSession(sender, clock)
	s.Join(joinedSnapshot(1, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	request, err := s.KickPlayer(2)
	require.NoError(t, err)

	s.Update()
	// the notice goes to the target and to the rest of the room
	notices := remoteCallsOf(sender, MethodKickNotice)
	require.Len(t, notices, 2)
	assert.Equal(t, messages.TargetActor, notices[0].Target)
	assert.Equal(t, 2, notices[0].TargetActor)
	assert.Equal(t, messages.TargetOthers, notices[1].Target)

	// the target leaves before any escalation
	require.NoError(t, s.HandlePlayerLeft(mustMarshal(t, &messages.ServerPlayerLeft{ActorNumber: 2})))
	clock.Advance(time.Second)
	s.Update()

	assert.Equal(t, KickStageDone, request.Stage)
	assert.True(t, request.Succeeded)
	assert.Equal(t, 0, sender.countOf(messages.MessageTypeClientCloseActor))
}

func TestSessionKickEscalationClosesConnection(t *testing.T) {
	sender := &fakeSender{}
	clock := newFakeClock()
	s := NewSession(sender, clock)
	s.Join(joinedSnapshot(1, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	_, err := s.KickPlayer(2)
	require.NoError(t, err)

	s.Update()
	require.Len(t, remoteCallsOf(sender, MethodKickNotice), 2)

	clock.Advance(KickVoluntaryWait)
	s.Update()

	require.Equal(t, 1, sender.countOf(messages.MessageTypeClientCloseActor))
	closeActor := sender.sent[len(sender.sent)-1].Payload.(*messages.ClientCloseActor)
	assert.Equal(t, 2, closeActor.ActorNumber)

	clock.Advance(KickCloseWait)
	s.Update()
	assert.Len(t, remoteCallsOf(sender, MethodForceLeave), 1)

	clock.Advance(KickForceLeaveWait)
	s.Update()
	assert.Len(t, remoteCallsOf(sender, MethodDropLink), 1)
}

func TestSessionKickedClientLeavesOnce(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(2, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	kicked := 0
	s.SetOnKicked(func() { kicked++ })

	args := &KickArgs{TargetActor: 2, RequestID: "req-1"}
	deliverCall(t, s, 1, MethodKickNotice, args)
	deliverCall(t, s, 1, MethodKickNotice, args)
	deliverCall(t, s, 1, MethodKickNotice, args)

	assert.True(t, s.Kicked())
	assert.Equal(t, 1, kicked)
	assert.Equal(t, 1, sender.countOf(messages.MessageTypeClientLeaveRoom))
}

func TestSessionKickNoticeForOtherActorIgnored(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(2, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
		messages.PlayerInfo{ActorNumber: 3, Name: "Cam"},
	))

	deliverCall(t, s, 1, MethodKickNotice, &KickArgs{TargetActor: 3, RequestID: "req-1"})

	assert.False(t, s.Kicked())
	assert.Equal(t, 0, sender.countOf(messages.MessageTypeClientLeaveRoom))
}

func TestSessionDropLinkDisconnects(t *testing.T) {
	sender := &fakeSender{}
	s := NewSession(sender, newFakeClock())
	s.Join(joinedSnapshot(2, 1,
		messages.PlayerInfo{ActorNumber: 1, Name: "Ada"},
		messages.PlayerInfo{ActorNumber: 2, Name: "Ben"},
	))

	dropped := 0
	s.SetOnDropLink(func() { dropped++ })

	deliverCall(t, s, 1, MethodDropLink, &KickArgs{TargetActor: 2, RequestID: "req-1"})

	assert.True(t, s.Kicked())
	assert.Equal(t, 1, dropped)
}
