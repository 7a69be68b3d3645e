package messages

import "encoding/json"

const (
	// MessageBufferSize represents the maximum size of a message
	MessageBufferSize = 4096
)

// Message types
const (
	MessageTypeClientPing          = "ping"
	MessageTypeServerPong          = "pong"
	MessageTypeClientHello         = "hello"
	MessageTypeServerWelcome       = "welcome"
	MessageTypeClientJoinLobby     = "joinlobby"
	MessageTypeClientLeaveLobby    = "leavelobby"
	MessageTypeServerLobbyJoined   = "lobbyjoined"
	MessageTypeServerRoomListDiff  = "roomlistdiff"
	MessageTypeClientCreateRoom    = "createroom"
	MessageTypeClientJoinRoom      = "joinroom"
	MessageTypeClientLeaveRoom     = "leaveroom"
	MessageTypeClientStartGame     = "startgame"
	MessageTypeServerRoomJoined    = "roomjoined"
	MessageTypeServerRoomJoinError = "roomjoinerror"
	MessageTypeServerPlayerJoined  = "playerjoined"
	MessageTypeServerPlayerLeft    = "playerleft"
	MessageTypeServerMasterChanged = "masterchanged"
	MessageTypeClientRemoteCall    = "rpc"
	MessageTypeServerRemoteCall    = "srpc"
	MessageTypeClientCloseActor    = "closeactor"
	MessageTypeClientSessionResult = "sessionresult"
	MessageTypeServerDisconnect    = "disconnect"
)

// Room error codes returned with MessageTypeServerRoomJoinError
const (
	ErrorCodeRoomAlreadyExists int16 = 1
	ErrorCodeRoomFull          int16 = 2
	ErrorCodeRoomClosed        int16 = 3
	ErrorCodeRoomDoesNotExist  int16 = 4
	ErrorCodeSlotUnavailable   int16 = 5
	ErrorCodeWrongPassword     int16 = 6
)

// Remote call targets
const (
	TargetAll         = "all"
	TargetOthers      = "others"
	TargetActor       = "actor"
	TargetAllBuffered = "allbuffered"
)

// Message represents a generic message for serialization/deserialization
type Message struct {
	ClientID uint32          `json:"clientID"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
}

// ClientPing is sent by clients to measure round trip time.
type ClientPing struct {
	Timestamp int64 `json:"timestamp"`
}

// ServerPong is the reply to a ClientPing.
type ServerPong struct {
	Timestamp       int64 `json:"timestamp"`
	ClientTimestamp int64 `json:"clientTimestamp"`
}

// ClientHello sets the client's display name.
// An empty name requests a server-generated one.
type ClientHello struct {
	Name string `json:"name"`
}

// ServerWelcome acknowledges a ClientHello with the assigned identity.
type ServerWelcome struct {
	ClientID uint32 `json:"clientID"`
	Name     string `json:"name"`
}

// RoomInfo describes a room as seen from the lobby.
// RemovedFromList marks a diff entry whose room is gone.
type RoomInfo struct {
	Name            string `json:"name"`
	PlayerCount     int    `json:"playerCount"`
	MaxPlayers      int    `json:"maxPlayers"`
	IsOpen          bool   `json:"isOpen"`
	IsVisible       bool   `json:"isVisible"`
	IsPrivate       bool   `json:"isPrivate"`
	RemovedFromList bool   `json:"removedFromList"`
}

// ServerLobbyJoined carries the full room list on lobby entry.
type ServerLobbyJoined struct {
	Rooms []RoomInfo `json:"rooms"`
}

// ServerRoomListDiff carries incremental changes to the room list.
type ServerRoomListDiff struct {
	Rooms []RoomInfo `json:"rooms"`
}

// ClientCreateRoom requests creation of a new room.
type ClientCreateRoom struct {
	RoomName   string `json:"roomName"`
	MaxPlayers int    `json:"maxPlayers"`
	IsPrivate  bool   `json:"isPrivate"`
	Password   string `json:"password"`
}

// ClientJoinRoom requests joining an existing room by name. Private
// room passwords are validated by the joiner against the room secret
// in its snapshot, not by the server.
type ClientJoinRoom struct {
	RoomName string `json:"roomName"`
}

// PlayerInfo describes an occupant of a room.
type PlayerInfo struct {
	ActorNumber int    `json:"actorNumber"`
	Name        string `json:"name"`
}

// BufferedRemoteCall is a remote call retained by the room for late joiners.
type BufferedRemoteCall struct {
	SenderActor int             `json:"senderActor"`
	Method      string          `json:"method"`
	Args        json.RawMessage `json:"args"`
}

// ServerRoomJoined confirms room entry with a full room snapshot.
type ServerRoomJoined struct {
	RoomName    string               `json:"roomName"`
	ActorNumber int                  `json:"actorNumber"`
	MasterActor int                  `json:"masterActor"`
	MaxPlayers  int                  `json:"maxPlayers"`
	IsPrivate   bool                 `json:"isPrivate"`
	Password    string               `json:"pwd,omitempty"`
	Players     []PlayerInfo         `json:"players"`
	Buffered    []BufferedRemoteCall `json:"buffered,omitempty"`
}

// ServerRoomJoinError reports a failed create or join attempt.
type ServerRoomJoinError struct {
	Code    int16  `json:"code"`
	Message string `json:"message"`
}

// ServerPlayerJoined announces a new occupant to the rest of the room.
type ServerPlayerJoined struct {
	ActorNumber int    `json:"actorNumber"`
	Name        string `json:"name"`
}

// ServerPlayerLeft announces a departed occupant.
type ServerPlayerLeft struct {
	ActorNumber int `json:"actorNumber"`
}

// ServerMasterChanged announces a new room master.
type ServerMasterChanged struct {
	ActorNumber int `json:"actorNumber"`
}

// ClientRemoteCall invokes a named procedure on other room occupants.
type ClientRemoteCall struct {
	Method      string          `json:"method"`
	Target      string          `json:"target"`
	TargetActor int             `json:"targetActor,omitempty"`
	Args        json.RawMessage `json:"args"`
}

// ServerRemoteCall delivers a remote call to a room occupant.
type ServerRemoteCall struct {
	SenderActor int             `json:"senderActor"`
	Method      string          `json:"method"`
	Args        json.RawMessage `json:"args"`
}

// ClientCloseActor asks the server to drop another occupant's connection.
// Only honored when the sender is the room master.
type ClientCloseActor struct {
	ActorNumber int `json:"actorNumber"`
}

// ClientSessionResult reports the outcome of a finished session.
// Sent by the room master when the session ends.
type ClientSessionResult struct {
	Outcome         string `json:"outcome"`
	StationsCleared int    `json:"stationsCleared"`
}

// ServerDisconnect tells a client the server is closing its connection.
type ServerDisconnect struct {
	Reason string `json:"reason"`
}
