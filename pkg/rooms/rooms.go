package rooms

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/awalsh/terminus/pkg/messages"
)

const (
	// MaxRoomNameLength is the maximum length of a room name
	MaxRoomNameLength = 20
	// MinPasswordLength is the minimum length of a private room password
	MinPasswordLength = 3
	// MinRoomPlayers is the smallest allowed room capacity
	MinRoomPlayers = 2
	// MaxRoomPlayers is the largest allowed room capacity
	MaxRoomPlayers = 20
	// DefaultRoomPlayers is the capacity used when none is given
	DefaultRoomPlayers = 2
)

type ErrRoomExists struct {
	Name string
}

func (e *ErrRoomExists) Error() string {
	return fmt.Sprintf("room %s already exists", e.Name)
}

type ErrRoomNotFound struct {
	Name string
}

func (e *ErrRoomNotFound) Error() string {
	return fmt.Sprintf("room %s does not exist", e.Name)
}

type ErrRoomFull struct {
	Name string
}

func (e *ErrRoomFull) Error() string {
	return fmt.Sprintf("room %s is full", e.Name)
}

type ErrRoomClosed struct {
	Name string
}

func (e *ErrRoomClosed) Error() string {
	return fmt.Sprintf("room %s is closed", e.Name)
}

type ErrInvalidRoom struct {
	Reason string
}

func (e *ErrInvalidRoom) Error() string {
	return e.Reason
}

// Occupant is a client seated in a room.
type Occupant struct {
	ActorNumber int
	ClientID    uint32
	Name        string
}

// BufferedCall is a remote call retained for replay to late joiners.
type BufferedCall struct {
	SenderActor int
	Method      string
	Args        json.RawMessage
}

// Room holds the occupants and retained state of a single session.
type Room struct {
	Name       string
	MaxPlayers int
	IsPrivate  bool
	IsOpen     bool
	IsVisible  bool

	password    string
	occupants   map[int]*Occupant
	masterActor int
	nextActor   int
	buffered    []BufferedCall
}

// Occupants returns the room's occupants ordered by actor number.
func (r *Room) Occupants() []*Occupant {
	occupants := make([]*Occupant, 0, len(r.occupants))
	for _, occupant := range r.occupants {
		occupants = append(occupants, occupant)
	}
	sort.Slice(occupants, func(i, j int) bool {
		return occupants[i].ActorNumber < occupants[j].ActorNumber
	})
	return occupants
}

// MasterActor returns the actor number of the current room master.
func (r *Room) MasterActor() int {
	return r.masterActor
}

// Password returns the room secret. Delivered to joiners in their room
// snapshot, never in the lobby-visible room info.
func (r *Room) Password() string {
	return r.password
}

// GetOccupant returns the occupant with the given actor number, if seated.
func (r *Room) GetOccupant(actorNumber int) (*Occupant, bool) {
	occupant, ok := r.occupants[actorNumber]
	return occupant, ok
}

// OccupantByClient returns the occupant seated for the given client, if any.
func (r *Room) OccupantByClient(clientID uint32) (*Occupant, bool) {
	for _, occupant := range r.occupants {
		if occupant.ClientID == clientID {
			return occupant, true
		}
	}
	return nil, false
}

// BufferedCalls returns the retained remote calls in arrival order.
func (r *Room) BufferedCalls() []BufferedCall {
	calls := make([]BufferedCall, len(r.buffered))
	copy(calls, r.buffered)
	return calls
}

// AddBufferedCall retains a remote call for replay to late joiners.
func (r *Room) AddBufferedCall(call BufferedCall) {
	r.buffered = append(r.buffered, call)
}

func (r *Room) info() messages.RoomInfo {
	return messages.RoomInfo{
		Name:        r.Name,
		PlayerCount: len(r.occupants),
		MaxPlayers:  r.MaxPlayers,
		IsOpen:      r.IsOpen,
		IsVisible:   r.IsVisible,
		IsPrivate:   r.IsPrivate,
	}
}

// RoomManager tracks all rooms and accumulates room list changes
// for lobby broadcasts.
type RoomManager struct {
	lock        sync.RWMutex
	rooms       map[string]*Room
	clientRooms map[uint32]string
	pendingDiff map[string]messages.RoomInfo
}

// NewRoomManager creates a new RoomManager
func NewRoomManager() *RoomManager {
	return &RoomManager{
		rooms:       make(map[string]*Room),
		clientRooms: make(map[uint32]string),
		pendingDiff: make(map[string]messages.RoomInfo),
	}
}

// CreateRoomOptions are the room parameters supplied by the creator.
type CreateRoomOptions struct {
	Name       string
	MaxPlayers int
	IsPrivate  bool
	Password   string
}

// CreateRoom creates a room and seats the creator as actor 1 and master.
func (rm *RoomManager) CreateRoom(opts CreateRoomOptions, clientID uint32, clientName string) (*Room, *Occupant, error) {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	if opts.Name == "" {
		return nil, nil, &ErrInvalidRoom{Reason: "room name must not be empty"}
	}
	if len(opts.Name) > MaxRoomNameLength {
		return nil, nil, &ErrInvalidRoom{Reason: fmt.Sprintf("room name must be at most %d characters", MaxRoomNameLength)}
	}
	if opts.IsPrivate && len(opts.Password) < MinPasswordLength {
		return nil, nil, &ErrInvalidRoom{Reason: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	}
	if _, ok := rm.rooms[opts.Name]; ok {
		return nil, nil, &ErrRoomExists{Name: opts.Name}
	}
	if _, ok := rm.clientRooms[clientID]; ok {
		return nil, nil, &ErrInvalidRoom{Reason: "client is already in a room"}
	}

	maxPlayers := opts.MaxPlayers
	if maxPlayers == 0 {
		maxPlayers = DefaultRoomPlayers
	}
	if maxPlayers < MinRoomPlayers || maxPlayers > MaxRoomPlayers {
		return nil, nil, &ErrInvalidRoom{Reason: fmt.Sprintf("room capacity must be between %d and %d", MinRoomPlayers, MaxRoomPlayers)}
	}

	room := &Room{
		Name:       opts.Name,
		MaxPlayers: maxPlayers,
		IsPrivate:  opts.IsPrivate,
		IsOpen:     true,
		IsVisible:  true,
		password:   opts.Password,
		occupants:  make(map[int]*Occupant),
		nextActor:  1,
	}

	occupant := room.seat(clientID, clientName)
	rm.rooms[room.Name] = room
	rm.clientRooms[clientID] = room.Name
	rm.recordDiff(room)

	return room, occupant, nil
}

// JoinRoom seats a client in an existing room. Private room passwords
// are not checked here: the join succeeds at the transport level and
// the joiner validates the room secret from its snapshot, leaving
// shortly after on a mismatch.
func (rm *RoomManager) JoinRoom(name string, clientID uint32, clientName string) (*Room, *Occupant, error) {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	room, ok := rm.rooms[name]
	if !ok {
		return nil, nil, &ErrRoomNotFound{Name: name}
	}
	if _, ok := rm.clientRooms[clientID]; ok {
		return nil, nil, &ErrInvalidRoom{Reason: "client is already in a room"}
	}
	if !room.IsOpen {
		return nil, nil, &ErrRoomClosed{Name: name}
	}
	if len(room.occupants) >= room.MaxPlayers {
		return nil, nil, &ErrRoomFull{Name: name}
	}

	occupant := room.seat(clientID, clientName)
	rm.clientRooms[clientID] = room.Name
	rm.recordDiff(room)

	return room, occupant, nil
}

// seat assigns the next actor number. The first occupant becomes master.
func (r *Room) seat(clientID uint32, clientName string) *Occupant {
	occupant := &Occupant{
		ActorNumber: r.nextActor,
		ClientID:    clientID,
		Name:        clientName,
	}
	r.nextActor++
	r.occupants[occupant.ActorNumber] = occupant
	if len(r.occupants) == 1 {
		r.masterActor = occupant.ActorNumber
	}
	return occupant
}

// LeaveResult describes the effect of a client leaving its room.
type LeaveResult struct {
	Room         *Room
	LeftActor    int
	MasterMoved  bool
	NewMaster    int
	RoomRemoved  bool
	WasOccupying bool
}

// LeaveRoom removes a client from its room, if any. When the master
// leaves, the occupant with the lowest actor number takes over. An
// empty room is removed.
func (rm *RoomManager) LeaveRoom(clientID uint32) LeaveResult {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	name, ok := rm.clientRooms[clientID]
	if !ok {
		return LeaveResult{}
	}
	delete(rm.clientRooms, clientID)

	room, ok := rm.rooms[name]
	if !ok {
		return LeaveResult{}
	}

	result := LeaveResult{Room: room, WasOccupying: true}
	for actor, occupant := range room.occupants {
		if occupant.ClientID == clientID {
			result.LeftActor = actor
			delete(room.occupants, actor)
			break
		}
	}

	if len(room.occupants) == 0 {
		delete(rm.rooms, name)
		result.RoomRemoved = true
		rm.recordRemoval(room)
		return result
	}

	if room.masterActor == result.LeftActor {
		lowest := -1
		for actor := range room.occupants {
			if lowest == -1 || actor < lowest {
				lowest = actor
			}
		}
		room.masterActor = lowest
		result.MasterMoved = true
		result.NewMaster = lowest
	}

	rm.recordDiff(room)
	return result
}

// CloseRoom marks a room closed and hidden so no one else can join.
// Only the room master may close it.
func (rm *RoomManager) CloseRoom(name string, requesterActor int) error {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	room, ok := rm.rooms[name]
	if !ok {
		return &ErrRoomNotFound{Name: name}
	}
	if room.masterActor != requesterActor {
		return fmt.Errorf("actor %d is not the master of room %s", requesterActor, name)
	}

	room.IsOpen = false
	room.IsVisible = false
	rm.recordDiff(room)

	return nil
}

// GetRoomByClient returns the room a client occupies, if any.
func (rm *RoomManager) GetRoomByClient(clientID uint32) (*Room, bool) {
	rm.lock.RLock()
	defer rm.lock.RUnlock()

	name, ok := rm.clientRooms[clientID]
	if !ok {
		return nil, false
	}
	room, ok := rm.rooms[name]
	return room, ok
}

// ListVisibleRooms returns lobby entries for every visible room.
func (rm *RoomManager) ListVisibleRooms() []messages.RoomInfo {
	rm.lock.RLock()
	defer rm.lock.RUnlock()

	var infos []messages.RoomInfo
	for _, room := range rm.rooms {
		if !room.IsVisible {
			continue
		}
		infos = append(infos, room.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// FlushDiff returns the accumulated room list changes and clears them.
func (rm *RoomManager) FlushDiff() []messages.RoomInfo {
	rm.lock.Lock()
	defer rm.lock.Unlock()

	if len(rm.pendingDiff) == 0 {
		return nil
	}

	diff := make([]messages.RoomInfo, 0, len(rm.pendingDiff))
	for _, info := range rm.pendingDiff {
		diff = append(diff, info)
	}
	sort.Slice(diff, func(i, j int) bool {
		return diff[i].Name < diff[j].Name
	})
	rm.pendingDiff = make(map[string]messages.RoomInfo)

	return diff
}

// recordDiff notes a room change for the next lobby broadcast.
// A hidden room is reported as removed from the list.
func (rm *RoomManager) recordDiff(room *Room) {
	if !room.IsVisible {
		rm.recordRemoval(room)
		return
	}
	rm.pendingDiff[room.Name] = room.info()
}

func (rm *RoomManager) recordRemoval(room *Room) {
	rm.pendingDiff[room.Name] = messages.RoomInfo{
		Name:            room.Name,
		RemovedFromList: true,
	}
}
