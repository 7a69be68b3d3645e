package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/messages"
	"github.com/awalsh/terminus/pkg/network"
	"github.com/awalsh/terminus/pkg/queue"
	relaytypes "github.com/awalsh/terminus/pkg/relay/types"
	"github.com/awalsh/terminus/pkg/repositories/models"
	"github.com/awalsh/terminus/pkg/rooms"
	"github.com/awalsh/terminus/pkg/workers"
)

const (
	// DefaultTickInterval is how often the relay loop drains its queues
	DefaultTickInterval = 50 * time.Millisecond
	// DefaultLobbyBroadcastInterval is how often room list diffs go out
	DefaultLobbyBroadcastInterval = 3 * time.Second
)

// MessageSender delivers messages to connected clients.
type MessageSender interface {
	SendMessageToClient(ctx context.Context, clientID uint32, msg *messages.Message) error
	CloseClientConnection(ctx context.Context, clientID uint32, reason string) error
}

// RelayManager runs the session directory loop. It drains connection
// events and client messages each tick and periodically pushes room
// list diffs to lobby clients.
type RelayManager struct {
	clientManager          *network.ClientManager
	sender                 MessageSender
	roomManager            *rooms.RoomManager
	clientMessageQueue     queue.Queue
	connectionEventQueue   queue.Queue
	saveResultChan         chan<- workers.SaveSessionResultRequest
	tickInterval           time.Duration
	lobbyBroadcastInterval time.Duration

	// lobbyClients is only touched from the relay loop
	lobbyClients       map[uint32]bool
	lastLobbyBroadcast time.Time
}

// NewRelayManagerOptions contains options for creating a new RelayManager.
type NewRelayManagerOptions struct {
	ClientManager          *network.ClientManager
	Sender                 MessageSender
	RoomManager            *rooms.RoomManager
	ClientMessageQueue     queue.Queue
	ConnectionEventQueue   queue.Queue
	SaveResultChan         chan<- workers.SaveSessionResultRequest
	TickInterval           time.Duration
	LobbyBroadcastInterval time.Duration
}

func NewRelayManager(opts NewRelayManagerOptions) *RelayManager {
	tickInterval := opts.TickInterval
	if tickInterval == 0 {
		tickInterval = DefaultTickInterval
	}
	lobbyBroadcastInterval := opts.LobbyBroadcastInterval
	if lobbyBroadcastInterval == 0 {
		lobbyBroadcastInterval = DefaultLobbyBroadcastInterval
	}
	return &RelayManager{
		clientManager:          opts.ClientManager,
		sender:                 opts.Sender,
		roomManager:            opts.RoomManager,
		clientMessageQueue:     opts.ClientMessageQueue,
		connectionEventQueue:   opts.ConnectionEventQueue,
		saveResultChan:         opts.SaveResultChan,
		tickInterval:           tickInterval,
		lobbyBroadcastInterval: lobbyBroadcastInterval,
		lobbyClients:           make(map[uint32]bool),
	}
}

// Start starts the relay loop.
func (rm *RelayManager) Start(ctx context.Context) error {
	ticker := time.NewTicker(rm.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			if err := rm.relayTick(ctx, t); err != nil {
				log.Error("Failed to run relay tick: %v", err)
			}
		}
	}
}

// relayTick runs one iteration of the relay loop.
func (rm *RelayManager) relayTick(ctx context.Context, t time.Time) error {
	rm.processConnectionEvents(ctx)
	rm.processClientMessages(ctx)
	if t.Sub(rm.lastLobbyBroadcast) >= rm.lobbyBroadcastInterval {
		rm.broadcastLobbyDiffs(ctx)
		rm.lastLobbyBroadcast = t
	}

	return nil
}

// processConnectionEvents processes all pending connection events in
// the queue and removes dropped clients from the lobby and their room.
func (rm *RelayManager) processConnectionEvents(ctx context.Context) {
	pendingEvents, err := rm.connectionEventQueue.ReadAllMessages()
	if err != nil {
		log.Error("Failed to read connection events: %v", err)
		return
	}
	for _, item := range pendingEvents {
		switch event := item.(type) {
		case *relaytypes.ConnectClientEvent:
			log.Debug("Client %d entered the relay", event.ClientID)
		case *relaytypes.DisconnectClientEvent:
			delete(rm.lobbyClients, event.ClientID)
			result := rm.roomManager.LeaveRoom(event.ClientID)
			if result.WasOccupying && !result.RoomRemoved {
				rm.notifyDeparture(ctx, result)
			}
		default:
			log.Error("unhandled connection event type: %T", event)
		}
	}
}

// processClientMessages processes all pending client messages in the queue.
func (rm *RelayManager) processClientMessages(ctx context.Context) {
	pendingMessages, err := rm.clientMessageQueue.ReadAllMessages()
	if err != nil {
		log.Error("Failed to read client messages: %v", err)
		return
	}
	for _, item := range pendingMessages {
		message, ok := item.(*messages.Message)
		if !ok {
			log.Error("Failed to cast message to messages.Message")
			continue
		}

		if !rm.clientManager.Exists(message.ClientID) {
			log.Warn("Received message from %d, but client is not connected", message.ClientID)
			continue
		}

		switch message.Type {
		case messages.MessageTypeClientJoinLobby:
			if err := rm.handleJoinLobby(ctx, message.ClientID); err != nil {
				log.Error("Failed to handle join lobby: %v", err)
			}
		case messages.MessageTypeClientLeaveLobby:
			delete(rm.lobbyClients, message.ClientID)
		case messages.MessageTypeClientCreateRoom:
			if err := rm.handleCreateRoom(ctx, message); err != nil {
				log.Error("Failed to handle create room: %v", err)
			}
		case messages.MessageTypeClientJoinRoom:
			if err := rm.handleJoinRoom(ctx, message); err != nil {
				log.Error("Failed to handle join room: %v", err)
			}
		case messages.MessageTypeClientLeaveRoom:
			rm.handleLeaveRoom(ctx, message.ClientID)
		case messages.MessageTypeClientStartGame:
			if err := rm.handleStartGame(message.ClientID); err != nil {
				log.Error("Failed to handle start game: %v", err)
			}
		case messages.MessageTypeClientRemoteCall:
			if err := rm.handleRemoteCall(ctx, message); err != nil {
				log.Error("Failed to handle remote call: %v", err)
			}
		case messages.MessageTypeClientCloseActor:
			if err := rm.handleCloseActor(ctx, message); err != nil {
				log.Error("Failed to handle close actor: %v", err)
			}
		case messages.MessageTypeClientSessionResult:
			if err := rm.handleSessionResult(message); err != nil {
				log.Error("Failed to handle session result: %v", err)
			}
		default:
			log.Error("Unhandled message type: %s", message.Type)
		}
	}
}

func (rm *RelayManager) handleJoinLobby(ctx context.Context, clientID uint32) error {
	rm.lobbyClients[clientID] = true

	msg, err := messages.NewMessage(0, messages.MessageTypeServerLobbyJoined, &messages.ServerLobbyJoined{
		Rooms: rm.roomManager.ListVisibleRooms(),
	})
	if err != nil {
		return fmt.Errorf("failed to create lobby joined message: %v", err)
	}

	return rm.sender.SendMessageToClient(ctx, clientID, msg)
}

func (rm *RelayManager) handleCreateRoom(ctx context.Context, message *messages.Message) error {
	createRoom := &messages.ClientCreateRoom{}
	if err := json.Unmarshal(message.Payload, createRoom); err != nil {
		return fmt.Errorf("failed to unmarshal create room: %v", err)
	}

	client, err := rm.clientManager.GetClient(message.ClientID)
	if err != nil {
		return fmt.Errorf("failed to get client %d: %v", message.ClientID, err)
	}

	room, occupant, err := rm.roomManager.CreateRoom(rooms.CreateRoomOptions{
		Name:       createRoom.RoomName,
		MaxPlayers: createRoom.MaxPlayers,
		IsPrivate:  createRoom.IsPrivate,
		Password:   createRoom.Password,
	}, message.ClientID, client.Name)
	if err != nil {
		return rm.sendRoomJoinError(ctx, message.ClientID, err)
	}

	log.Info("Client %d created room %s", message.ClientID, room.Name)
	delete(rm.lobbyClients, message.ClientID)

	return rm.sendRoomJoined(ctx, message.ClientID, room, occupant)
}

func (rm *RelayManager) handleJoinRoom(ctx context.Context, message *messages.Message) error {
	joinRoom := &messages.ClientJoinRoom{}
	if err := json.Unmarshal(message.Payload, joinRoom); err != nil {
		return fmt.Errorf("failed to unmarshal join room: %v", err)
	}

	client, err := rm.clientManager.GetClient(message.ClientID)
	if err != nil {
		return fmt.Errorf("failed to get client %d: %v", message.ClientID, err)
	}

	room, occupant, err := rm.roomManager.JoinRoom(joinRoom.RoomName, message.ClientID, client.Name)
	if err != nil {
		return rm.sendRoomJoinError(ctx, message.ClientID, err)
	}

	log.Info("Client %d joined room %s as actor %d", message.ClientID, room.Name, occupant.ActorNumber)
	delete(rm.lobbyClients, message.ClientID)

	if err := rm.sendRoomJoined(ctx, message.ClientID, room, occupant); err != nil {
		return err
	}

	joined, err := messages.NewMessage(0, messages.MessageTypeServerPlayerJoined, &messages.ServerPlayerJoined{
		ActorNumber: occupant.ActorNumber,
		Name:        occupant.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to create player joined message: %v", err)
	}
	rm.sendToRoom(ctx, room, joined, occupant.ActorNumber)

	return nil
}

func (rm *RelayManager) handleLeaveRoom(ctx context.Context, clientID uint32) {
	result := rm.roomManager.LeaveRoom(clientID)
	if result.WasOccupying && !result.RoomRemoved {
		rm.notifyDeparture(ctx, result)
	}
}

func (rm *RelayManager) handleStartGame(clientID uint32) error {
	room, ok := rm.roomManager.GetRoomByClient(clientID)
	if !ok {
		return fmt.Errorf("client %d is not in a room", clientID)
	}
	occupant, ok := room.OccupantByClient(clientID)
	if !ok {
		return fmt.Errorf("client %d has no seat in room %s", clientID, room.Name)
	}

	if err := rm.roomManager.CloseRoom(room.Name, occupant.ActorNumber); err != nil {
		return fmt.Errorf("failed to close room %s: %v", room.Name, err)
	}

	log.Info("Room %s closed for session start", room.Name)
	return nil
}

func (rm *RelayManager) handleRemoteCall(ctx context.Context, message *messages.Message) error {
	remoteCall := &messages.ClientRemoteCall{}
	if err := json.Unmarshal(message.Payload, remoteCall); err != nil {
		return fmt.Errorf("failed to unmarshal remote call: %v", err)
	}

	room, ok := rm.roomManager.GetRoomByClient(message.ClientID)
	if !ok {
		return fmt.Errorf("client %d is not in a room", message.ClientID)
	}
	sender, ok := room.OccupantByClient(message.ClientID)
	if !ok {
		return fmt.Errorf("client %d has no seat in room %s", message.ClientID, room.Name)
	}

	if remoteCall.Target == messages.TargetAllBuffered {
		room.AddBufferedCall(rooms.BufferedCall{
			SenderActor: sender.ActorNumber,
			Method:      remoteCall.Method,
			Args:        remoteCall.Args,
		})
	}

	forwarded, err := messages.NewMessage(0, messages.MessageTypeServerRemoteCall, &messages.ServerRemoteCall{
		SenderActor: sender.ActorNumber,
		Method:      remoteCall.Method,
		Args:        remoteCall.Args,
	})
	if err != nil {
		return fmt.Errorf("failed to create remote call message: %v", err)
	}

	switch remoteCall.Target {
	case messages.TargetAll, messages.TargetAllBuffered:
		rm.sendToRoom(ctx, room, forwarded, 0)
	case messages.TargetOthers:
		rm.sendToRoom(ctx, room, forwarded, sender.ActorNumber)
	case messages.TargetActor:
		target, ok := room.GetOccupant(remoteCall.TargetActor)
		if !ok {
			return fmt.Errorf("actor %d is not in room %s", remoteCall.TargetActor, room.Name)
		}
		if err := rm.sender.SendMessageToClient(ctx, target.ClientID, forwarded); err != nil {
			return fmt.Errorf("failed to send remote call to actor %d: %v", remoteCall.TargetActor, err)
		}
	default:
		return fmt.Errorf("unknown remote call target: %s", remoteCall.Target)
	}

	return nil
}

func (rm *RelayManager) handleCloseActor(ctx context.Context, message *messages.Message) error {
	closeActor := &messages.ClientCloseActor{}
	if err := json.Unmarshal(message.Payload, closeActor); err != nil {
		return fmt.Errorf("failed to unmarshal close actor: %v", err)
	}

	room, ok := rm.roomManager.GetRoomByClient(message.ClientID)
	if !ok {
		return fmt.Errorf("client %d is not in a room", message.ClientID)
	}
	sender, ok := room.OccupantByClient(message.ClientID)
	if !ok {
		return fmt.Errorf("client %d has no seat in room %s", message.ClientID, room.Name)
	}
	if room.MasterActor() != sender.ActorNumber {
		return fmt.Errorf("client %d is not the master of room %s", message.ClientID, room.Name)
	}

	target, ok := room.GetOccupant(closeActor.ActorNumber)
	if !ok {
		// already gone, nothing to close
		return nil
	}

	log.Info("Master of room %s is closing actor %d", room.Name, closeActor.ActorNumber)
	return rm.sender.CloseClientConnection(ctx, target.ClientID, "removed by the room master")
}

func (rm *RelayManager) handleSessionResult(message *messages.Message) error {
	sessionResult := &messages.ClientSessionResult{}
	if err := json.Unmarshal(message.Payload, sessionResult); err != nil {
		return fmt.Errorf("failed to unmarshal session result: %v", err)
	}

	room, ok := rm.roomManager.GetRoomByClient(message.ClientID)
	if !ok {
		return fmt.Errorf("client %d is not in a room", message.ClientID)
	}

	if rm.saveResultChan == nil {
		return nil
	}

	rm.saveResultChan <- workers.SaveSessionResultRequest{
		Result: &models.SessionResult{
			RoomName:        room.Name,
			Outcome:         sessionResult.Outcome,
			StationsCleared: sessionResult.StationsCleared,
			PlayerCount:     len(room.Occupants()),
			FinishedAt:      time.Now().UnixMilli(),
		},
	}

	return nil
}

// notifyDeparture tells remaining occupants who left and, when the
// master changed, who took over.
func (rm *RelayManager) notifyDeparture(ctx context.Context, result rooms.LeaveResult) {
	left, err := messages.NewMessage(0, messages.MessageTypeServerPlayerLeft, &messages.ServerPlayerLeft{
		ActorNumber: result.LeftActor,
	})
	if err != nil {
		log.Error("Failed to create player left message: %v", err)
		return
	}
	rm.sendToRoom(ctx, result.Room, left, 0)

	if !result.MasterMoved {
		return
	}

	masterChanged, err := messages.NewMessage(0, messages.MessageTypeServerMasterChanged, &messages.ServerMasterChanged{
		ActorNumber: result.NewMaster,
	})
	if err != nil {
		log.Error("Failed to create master changed message: %v", err)
		return
	}
	rm.sendToRoom(ctx, result.Room, masterChanged, 0)
}

// sendRoomJoined sends the room snapshot, including buffered remote
// calls so a late joiner can catch up.
func (rm *RelayManager) sendRoomJoined(ctx context.Context, clientID uint32, room *rooms.Room, occupant *rooms.Occupant) error {
	players := make([]messages.PlayerInfo, 0)
	for _, o := range room.Occupants() {
		players = append(players, messages.PlayerInfo{
			ActorNumber: o.ActorNumber,
			Name:        o.Name,
		})
	}

	var buffered []messages.BufferedRemoteCall
	for _, call := range room.BufferedCalls() {
		buffered = append(buffered, messages.BufferedRemoteCall{
			SenderActor: call.SenderActor,
			Method:      call.Method,
			Args:        call.Args,
		})
	}

	msg, err := messages.NewMessage(0, messages.MessageTypeServerRoomJoined, &messages.ServerRoomJoined{
		RoomName:    room.Name,
		ActorNumber: occupant.ActorNumber,
		MasterActor: room.MasterActor(),
		MaxPlayers:  room.MaxPlayers,
		IsPrivate:   room.IsPrivate,
		Password:    room.Password(),
		Players:     players,
		Buffered:    buffered,
	})
	if err != nil {
		return fmt.Errorf("failed to create room joined message: %v", err)
	}

	return rm.sender.SendMessageToClient(ctx, clientID, msg)
}

func (rm *RelayManager) sendRoomJoinError(ctx context.Context, clientID uint32, joinErr error) error {
	code, reason := roomErrorCode(joinErr)
	msg, err := messages.NewMessage(0, messages.MessageTypeServerRoomJoinError, &messages.ServerRoomJoinError{
		Code:    code,
		Message: reason,
	})
	if err != nil {
		return fmt.Errorf("failed to create room join error message: %v", err)
	}

	return rm.sender.SendMessageToClient(ctx, clientID, msg)
}

// roomErrorCode maps a room error to a wire code and user-facing text.
func roomErrorCode(err error) (int16, string) {
	switch err.(type) {
	case *rooms.ErrRoomExists:
		return messages.ErrorCodeRoomAlreadyExists, "A room with this name already exists."
	case *rooms.ErrRoomFull:
		return messages.ErrorCodeRoomFull, "This room is full."
	case *rooms.ErrRoomClosed:
		return messages.ErrorCodeRoomClosed, "This room is closed."
	case *rooms.ErrRoomNotFound:
		return messages.ErrorCodeRoomDoesNotExist, "This room no longer exists."
	default:
		return messages.ErrorCodeSlotUnavailable, err.Error()
	}
}

// sendToRoom sends a message to every occupant except skipActor (0 skips no one).
func (rm *RelayManager) sendToRoom(ctx context.Context, room *rooms.Room, msg *messages.Message, skipActor int) {
	for _, occupant := range room.Occupants() {
		if occupant.ActorNumber == skipActor {
			continue
		}
		if err := rm.sender.SendMessageToClient(ctx, occupant.ClientID, msg); err != nil {
			log.Error("Failed to send message to actor %d: %v", occupant.ActorNumber, err)
		}
	}
}

// broadcastLobbyDiffs pushes accumulated room list changes to lobby clients.
func (rm *RelayManager) broadcastLobbyDiffs(ctx context.Context) {
	diff := rm.roomManager.FlushDiff()
	if len(diff) == 0 || len(rm.lobbyClients) == 0 {
		return
	}

	msg, err := messages.NewMessage(0, messages.MessageTypeServerRoomListDiff, &messages.ServerRoomListDiff{
		Rooms: diff,
	})
	if err != nil {
		log.Error("Failed to create room list diff message: %v", err)
		return
	}

	for clientID := range rm.lobbyClients {
		if err := rm.sender.SendMessageToClient(ctx, clientID, msg); err != nil {
			log.Error("Failed to send room list diff to client %d: %v", clientID, err)
		}
	}
}
