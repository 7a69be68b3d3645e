package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/messages"
	"github.com/google/uuid"
)

const (
	// JoinLobbyMaxAttempts is how many times a lobby join is attempted
	JoinLobbyMaxAttempts = 3
	// JoinLobbyTimeout is how long to wait for each lobby join attempt
	JoinLobbyTimeout = 10 * time.Second
	// JoinLobbyBackoff is the wait between lobby join attempts
	JoinLobbyBackoff = 2 * time.Second
	// WrongPasswordDelay is how long a failed private join is displayed
	// before the client leaves the room and returns to the lobby
	WrongPasswordDelay = 2 * time.Second
	// LobbyMonitorInterval is how long the directory may sit connected
	// but outside the lobby before re-establishing membership
	LobbyMonitorInterval = 3 * time.Second
	// MaxRoomNameLength is the maximum length of a room name
	MaxRoomNameLength = 20
	// MinPasswordLength is the minimum length of a private room password
	MinPasswordLength = 3
)

// Status is the connection status of the directory.
type Status int

const (
	StatusDisconnected Status = iota
	StatusJoiningLobby
	StatusInLobby
	StatusCreatingRoom
	StatusJoiningRoom
	StatusInRoom
	StatusLeavingRoom
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusJoiningLobby:
		return "joining lobby"
	case StatusInLobby:
		return "in lobby"
	case StatusCreatingRoom:
		return "creating room"
	case StatusJoiningRoom:
		return "joining room"
	case StatusInRoom:
		return "in room"
	case StatusLeavingRoom:
		return "leaving room"
	default:
		return "unknown"
	}
}

// Sender delivers typed messages to the relay.
type Sender interface {
	Send(msgType string, payload interface{}) error
}

// joinAttempt is the local record of a pending create or join.
// A room the client created itself never gets a password recheck,
// which is decided by this record rather than any identity check.
type joinAttempt struct {
	ID        string
	RoomName  string
	Password  string
	Creating  bool
	StartedAt time.Time
}

// Directory tracks the lobby connection and the cached room list.
// It is driven by Update calls and incoming server messages, both
// from the client's main loop.
type Directory struct {
	sender Sender
	clock  Clock

	status            Status
	rooms             map[string]messages.RoomInfo
	attempt           *joinAttempt
	lastError         *messages.ServerRoomJoinError
	errorClearAt      time.Time
	leaveAt           time.Time
	monitorAt         time.Time
	joinLobbyAttempts int
	joinLobbySentAt   time.Time
	joinLobbyRetryAt  time.Time
}

// NewDirectory creates a Directory. A nil clock uses system time.
func NewDirectory(sender Sender, clock Clock) *Directory {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Directory{
		sender: sender,
		clock:  clock,
		status: StatusDisconnected,
		rooms:  make(map[string]messages.RoomInfo),
	}
}

func (d *Directory) Status() Status {
	return d.status
}

// LastError returns the most recent join failure, if still displayed.
func (d *Directory) LastError() *messages.ServerRoomJoinError {
	return d.lastError
}

// Rooms returns the cached room list sorted by name.
func (d *Directory) Rooms() []messages.RoomInfo {
	rooms := make([]messages.RoomInfo, 0, len(d.rooms))
	for _, info := range d.rooms {
		rooms = append(rooms, info)
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].Name < rooms[j].Name
	})
	return rooms
}

// JoinLobby requests lobby entry. Retries happen in Update.
func (d *Directory) JoinLobby() error {
	if d.status != StatusDisconnected && d.status != StatusInLobby {
		return fmt.Errorf("cannot join lobby while %s", d.status)
	}

	d.joinLobbyAttempts = 0
	return d.sendJoinLobby()
}

func (d *Directory) sendJoinLobby() error {
	d.joinLobbyAttempts++
	d.joinLobbySentAt = d.clock.Now()
	d.status = StatusJoiningLobby
	if err := d.sender.Send(messages.MessageTypeClientJoinLobby, nil); err != nil {
		return fmt.Errorf("failed to send join lobby: %v", err)
	}
	return nil
}

// CreateRoom requests a new room with the client as its first occupant.
func (d *Directory) CreateRoom(name string, maxPlayers int, isPrivate bool, password string) error {
	if d.status != StatusInLobby {
		return fmt.Errorf("cannot create a room while %s", d.status)
	}
	if name == "" {
		return fmt.Errorf("room name must not be empty")
	}
	if len(name) > MaxRoomNameLength {
		return fmt.Errorf("room name must be at most %d characters", MaxRoomNameLength)
	}
	if isPrivate && len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}

	d.attempt = &joinAttempt{
		ID:        uuid.NewString(),
		RoomName:  name,
		Password:  password,
		Creating:  true,
		StartedAt: d.clock.Now(),
	}
	d.status = StatusCreatingRoom
	d.lastError = nil

	if err := d.sender.Send(messages.MessageTypeClientCreateRoom, &messages.ClientCreateRoom{
		RoomName:   name,
		MaxPlayers: maxPlayers,
		IsPrivate:  isPrivate,
		Password:   password,
	}); err != nil {
		d.attempt = nil
		d.status = StatusInLobby
		return fmt.Errorf("failed to send create room: %v", err)
	}

	return nil
}

// JoinRoom requests entry into an existing room.
func (d *Directory) JoinRoom(name string, password string) error {
	if d.status != StatusInLobby {
		return fmt.Errorf("cannot join a room while %s", d.status)
	}

	d.attempt = &joinAttempt{
		ID:        uuid.NewString(),
		RoomName:  name,
		Password:  password,
		StartedAt: d.clock.Now(),
	}
	d.status = StatusJoiningRoom
	d.lastError = nil

	if err := d.sender.Send(messages.MessageTypeClientJoinRoom, &messages.ClientJoinRoom{
		RoomName: name,
	}); err != nil {
		d.attempt = nil
		d.status = StatusInLobby
		return fmt.Errorf("failed to send join room: %v", err)
	}

	return nil
}

// LeaveRoom returns to the lobby.
func (d *Directory) LeaveRoom() error {
	if d.status != StatusInRoom {
		return fmt.Errorf("cannot leave a room while %s", d.status)
	}

	if err := d.sender.Send(messages.MessageTypeClientLeaveRoom, nil); err != nil {
		return fmt.Errorf("failed to send leave room: %v", err)
	}

	d.status = StatusDisconnected
	return d.JoinLobby()
}

// HandleLobbyJoined applies the full room list sent on lobby entry.
func (d *Directory) HandleLobbyJoined(payload json.RawMessage) error {
	lobbyJoined := &messages.ServerLobbyJoined{}
	if err := json.Unmarshal(payload, lobbyJoined); err != nil {
		return fmt.Errorf("failed to unmarshal lobby joined: %v", err)
	}

	d.status = StatusInLobby
	d.joinLobbyAttempts = 0
	d.monitorAt = time.Time{}
	d.rooms = make(map[string]messages.RoomInfo)
	for _, info := range lobbyJoined.Rooms {
		d.rooms[info.Name] = info
	}

	log.Info("Joined lobby with %d visible rooms", len(d.rooms))
	return nil
}

// HandleRoomListDiff applies an incremental room list update. Applying
// the same diff twice converges to the same cache.
func (d *Directory) HandleRoomListDiff(payload json.RawMessage) error {
	diff := &messages.ServerRoomListDiff{}
	if err := json.Unmarshal(payload, diff); err != nil {
		return fmt.Errorf("failed to unmarshal room list diff: %v", err)
	}

	for _, info := range diff.Rooms {
		if info.RemovedFromList {
			delete(d.rooms, info.Name)
			continue
		}
		d.rooms[info.Name] = info
	}

	return nil
}

// HandleRoomJoined finalizes a pending create or join attempt. The
// result is validated against the attempt the participant actually
// made: a result with no matching attempt is stale (the attempt was
// cancelled or superseded) and the room is left again, and a private
// room whose secret does not match the supplied password is left after
// a short delay with a wrong-password error. Creators are exempt from
// the secret check, decided by their own attempt record.
func (d *Directory) HandleRoomJoined(payload json.RawMessage) (*messages.ServerRoomJoined, error) {
	roomJoined := &messages.ServerRoomJoined{}
	if err := json.Unmarshal(payload, roomJoined); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room joined: %v", err)
	}

	attempt := d.attempt
	d.attempt = nil

	if attempt == nil || attempt.RoomName != roomJoined.RoomName {
		log.Warn("Leaving room %s joined by a stale attempt", roomJoined.RoomName)
		if err := d.sender.Send(messages.MessageTypeClientLeaveRoom, nil); err != nil {
			log.Error("Failed to leave stale room: %v", err)
		}
		d.status = StatusDisconnected
		d.monitorAt = d.clock.Now().Add(LobbyMonitorInterval)
		return nil, nil
	}

	if roomJoined.IsPrivate && !attempt.Creating && attempt.Password != roomJoined.Password {
		log.Warn("Wrong password for room %s (attempt %s), leaving shortly", roomJoined.RoomName, attempt.ID)
		d.lastError = &messages.ServerRoomJoinError{
			Code:    messages.ErrorCodeWrongPassword,
			Message: "Wrong password.",
		}
		d.status = StatusLeavingRoom
		d.leaveAt = d.clock.Now().Add(WrongPasswordDelay)
		return nil, nil
	}

	d.status = StatusInRoom
	d.lastError = nil
	d.monitorAt = time.Time{}

	return roomJoined, nil
}

// HandleJoinError records a failed attempt and returns to the lobby.
func (d *Directory) HandleJoinError(payload json.RawMessage) error {
	joinError := &messages.ServerRoomJoinError{}
	if err := json.Unmarshal(payload, joinError); err != nil {
		return fmt.Errorf("failed to unmarshal room join error: %v", err)
	}

	log.Warn("Room join failed: %s", joinError.Message)
	d.lastError = joinError
	d.attempt = nil
	d.status = StatusInLobby
	return nil
}

// LeftRoom resets the directory after the server dropped the client
// from its room.
func (d *Directory) LeftRoom() {
	if d.status == StatusInRoom || d.status == StatusLeavingRoom {
		d.status = StatusDisconnected
		d.monitorAt = d.clock.Now().Add(LobbyMonitorInterval)
	}
}

// Disconnected clears every in-flight operation after a connection
// loss. Nothing pending may survive as a stale indicator.
func (d *Directory) Disconnected() {
	d.status = StatusDisconnected
	d.attempt = nil
	d.lastError = nil
	d.errorClearAt = time.Time{}
	d.joinLobbyAttempts = 0
	d.joinLobbyRetryAt = time.Time{}
	d.leaveAt = time.Time{}
	d.monitorAt = time.Time{}
	d.rooms = make(map[string]messages.RoomInfo)
}

// Update advances lobby join retries, performs the delayed leave after
// a failed private join, and re-establishes lobby membership when the
// directory finds itself outside of it.
func (d *Directory) Update() {
	now := d.clock.Now()

	if d.lastError != nil && d.lastError.Code == messages.ErrorCodeWrongPassword && !d.errorClearAt.IsZero() {
		if now.After(d.errorClearAt) {
			d.lastError = nil
			d.errorClearAt = time.Time{}
		}
	}

	if d.status == StatusLeavingRoom && !d.leaveAt.IsZero() && now.After(d.leaveAt) {
		d.leaveAt = time.Time{}
		if err := d.sender.Send(messages.MessageTypeClientLeaveRoom, nil); err != nil {
			log.Error("Failed to leave the room: %v", err)
		}
		d.errorClearAt = now.Add(WrongPasswordDelay)
		d.joinLobbyAttempts = 0
		if err := d.sendJoinLobby(); err != nil {
			log.Error("Failed to rejoin lobby: %v", err)
		}
		return
	}

	if d.status == StatusDisconnected && !d.monitorAt.IsZero() && now.After(d.monitorAt) {
		d.monitorAt = time.Time{}
		if err := d.JoinLobby(); err != nil {
			log.Error("Failed to re-establish lobby membership: %v", err)
		}
		return
	}

	if d.status == StatusJoiningLobby {
		if !d.joinLobbyRetryAt.IsZero() {
			if now.After(d.joinLobbyRetryAt) {
				d.joinLobbyRetryAt = time.Time{}
				if err := d.sendJoinLobby(); err != nil {
					log.Error("Failed to retry lobby join: %v", err)
				}
			}
			return
		}
		if now.Sub(d.joinLobbySentAt) > JoinLobbyTimeout {
			if d.joinLobbyAttempts >= JoinLobbyMaxAttempts {
				log.Error("Failed to join lobby after %d attempts", d.joinLobbyAttempts)
				d.status = StatusDisconnected
				d.monitorAt = now.Add(LobbyMonitorInterval)
				return
			}
			log.Warn("Lobby join attempt %d timed out, retrying", d.joinLobbyAttempts)
			d.joinLobbyRetryAt = now.Add(JoinLobbyBackoff)
		}
	}
}
