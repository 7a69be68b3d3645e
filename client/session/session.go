package session

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/messages"
)

// Remote call methods used by the session itself.
const (
	MethodSetReady     = "setReady"
	MethodStartSession = "startSession"
	MethodKickNotice   = "kickNotice"
	MethodForceLeave   = "forceLeave"
	MethodDropLink     = "dropLink"
)

// RemoteCallHandler handles a remote call from another occupant.
// Calls can arrive more than once and out of order, so handlers must
// be idempotent.
type RemoteCallHandler func(senderActor int, args json.RawMessage) error

// ReadyArgs is the payload of a MethodSetReady call.
type ReadyArgs struct {
	Actor int  `json:"actor"`
	Ready bool `json:"ready"`
}

// KickArgs is the payload of the kick escalation calls.
type KickArgs struct {
	TargetActor int    `json:"targetActor"`
	RequestID   string `json:"requestID"`
}

// Session is the in-room state of this client: its seat, the occupant
// roster, the remote call registry, the readiness gate, and the kick
// escalation engine.
type Session struct {
	sender Sender
	clock  Clock

	roomName    string
	actorNumber int
	masterActor int
	maxPlayers  int
	players     map[int]string

	handlers  map[string]RemoteCallHandler
	readyGate *ReadyGate
	kicks     *KickEngine

	started          bool
	kicked           bool
	seenKickRequests map[string]bool
	onKicked         func()
	onDropLink       func()
	onStarted        func()
	onReadyChanged   func(actorNumber int, ready bool)
}

// NewSession creates a Session. A nil clock uses system time.
func NewSession(sender Sender, clock Clock) *Session {
	if clock == nil {
		clock = NewRealClock()
	}
	s := &Session{
		sender:           sender,
		clock:            clock,
		players:          make(map[int]string),
		handlers:         make(map[string]RemoteCallHandler),
		readyGate:        newReadyGate(),
		seenKickRequests: make(map[string]bool),
	}
	s.kicks = newKickEngine(s, clock)
	s.registerDefaultHandlers()
	return s
}

// SetOnKicked sets the callback invoked when this client is removed.
func (s *Session) SetOnKicked(fn func()) {
	s.onKicked = fn
}

// SetOnDropLink sets the callback invoked when the link must be dropped.
func (s *Session) SetOnDropLink(fn func()) {
	s.onDropLink = fn
}

// SetOnStarted sets the callback invoked when the session starts.
func (s *Session) SetOnStarted(fn func()) {
	s.onStarted = fn
}

// SetOnReadyChanged sets the callback invoked when any occupant's
// readiness changes.
func (s *Session) SetOnReadyChanged(fn func(actorNumber int, ready bool)) {
	s.onReadyChanged = fn
}

// SetOnKickOutcome sets the callback invoked when a removal finishes.
func (s *Session) SetOnKickOutcome(fn func(targetActor int, succeeded bool)) {
	s.kicks.onFinished = func(request *KickRequest) {
		fn(request.TargetActor, request.Succeeded)
	}
}

// RegisterHandler registers a remote call handler for a method.
// Registering before Join ensures buffered calls replay through it.
func (s *Session) RegisterHandler(method string, handler RemoteCallHandler) {
	s.handlers[method] = handler
}

// Join seats this client using the room snapshot and replays buffered
// remote calls so a late joiner catches up on retained state.
func (s *Session) Join(snapshot *messages.ServerRoomJoined) {
	s.roomName = snapshot.RoomName
	s.actorNumber = snapshot.ActorNumber
	s.masterActor = snapshot.MasterActor
	s.maxPlayers = snapshot.MaxPlayers
	s.players = make(map[int]string)
	for _, player := range snapshot.Players {
		s.players[player.ActorNumber] = player.Name
	}

	for _, call := range snapshot.Buffered {
		if err := s.dispatch(call.SenderActor, call.Method, call.Args); err != nil {
			log.Error("Failed to replay buffered call %s: %v", call.Method, err)
		}
	}
}

func (s *Session) RoomName() string {
	return s.roomName
}

func (s *Session) ActorNumber() int {
	return s.actorNumber
}

func (s *Session) MasterActor() int {
	return s.masterActor
}

// IsMaster reports whether this client holds the room authority.
func (s *Session) IsMaster() bool {
	return s.actorNumber == s.masterActor
}

func (s *Session) Started() bool {
	return s.started
}

func (s *Session) Kicked() bool {
	return s.kicked
}

// Actors returns the seated actor numbers in order.
func (s *Session) Actors() []int {
	actors := make([]int, 0, len(s.players))
	for actor := range s.players {
		actors = append(actors, actor)
	}
	sort.Ints(actors)
	return actors
}

// PlayerName returns the display name of a seated actor.
func (s *Session) PlayerName(actorNumber int) (string, bool) {
	name, ok := s.players[actorNumber]
	return name, ok
}

// Call invokes a method on other occupants via the relay.
func (s *Session) Call(method string, target string, targetActor int, args interface{}) error {
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("failed to marshal call args: %v", err)
		}
		raw = b
	}

	if err := s.sender.Send(messages.MessageTypeClientRemoteCall, &messages.ClientRemoteCall{
		Method:      method,
		Target:      target,
		TargetActor: targetActor,
		Args:        raw,
	}); err != nil {
		return fmt.Errorf("failed to send remote call %s: %v", method, err)
	}

	return nil
}

// SetReady declares this client's readiness to every occupant.
func (s *Session) SetReady(ready bool) error {
	return s.Call(MethodSetReady, messages.TargetAll, 0, &ReadyArgs{
		Actor: s.actorNumber,
		Ready: ready,
	})
}

// CanStart reports whether the session can start: only the master may
// start, and every other occupant must be ready. A room holding only
// the master is immediately eligible.
func (s *Session) CanStart() bool {
	if !s.IsMaster() {
		return false
	}
	var others []int
	for actor := range s.players {
		if actor == s.actorNumber {
			continue
		}
		others = append(others, actor)
	}
	return s.readyGate.AllReady(others)
}

// Start closes the room to new joiners and announces the session start.
func (s *Session) Start() error {
	if !s.IsMaster() {
		return fmt.Errorf("only the room master can start the session")
	}
	if !s.CanStart() {
		return fmt.Errorf("not every occupant is ready")
	}

	if err := s.sender.Send(messages.MessageTypeClientStartGame, nil); err != nil {
		return fmt.Errorf("failed to send start game: %v", err)
	}
	if err := s.Call(MethodStartSession, messages.TargetAll, 0, nil); err != nil {
		return fmt.Errorf("failed to announce session start: %v", err)
	}

	return nil
}

// KickPlayer begins the removal escalation for another occupant.
// Only the master may remove occupants. Repeated calls for the same
// target reuse the active request.
func (s *Session) KickPlayer(targetActor int) (*KickRequest, error) {
	if !s.IsMaster() {
		return nil, fmt.Errorf("only the room master can remove occupants")
	}
	if targetActor == s.actorNumber {
		return nil, fmt.Errorf("the room master cannot remove itself")
	}
	if _, ok := s.players[targetActor]; !ok {
		// The target already left on its own. Nothing to remove.
		log.Info("Actor %d is no longer in the room, skipping removal", targetActor)
		return nil, nil
	}
	if active, ok := s.kicks.Active(); ok && active.TargetActor != targetActor {
		return nil, fmt.Errorf("removal of actor %d is already in progress", active.TargetActor)
	}

	return s.kicks.Begin(targetActor), nil
}

// KickRequestFor returns the removal request for a target, if any.
func (s *Session) KickRequestFor(targetActor int) (*KickRequest, bool) {
	return s.kicks.Request(targetActor)
}

// Update advances the kick escalation. Call it from the main loop.
func (s *Session) Update() {
	s.kicks.Step()
}

// HandlePlayerJoined seats a new occupant.
func (s *Session) HandlePlayerJoined(payload json.RawMessage) error {
	playerJoined := &messages.ServerPlayerJoined{}
	if err := json.Unmarshal(payload, playerJoined); err != nil {
		return fmt.Errorf("failed to unmarshal player joined: %v", err)
	}

	s.players[playerJoined.ActorNumber] = playerJoined.Name
	s.readyGate.Reset()
	log.Info("%s joined as actor %d", playerJoined.Name, playerJoined.ActorNumber)
	return nil
}

// HandlePlayerLeft removes a departed occupant and its readiness.
func (s *Session) HandlePlayerLeft(payload json.RawMessage) error {
	playerLeft := &messages.ServerPlayerLeft{}
	if err := json.Unmarshal(payload, playerLeft); err != nil {
		return fmt.Errorf("failed to unmarshal player left: %v", err)
	}

	delete(s.players, playerLeft.ActorNumber)
	s.readyGate.Reset()
	log.Info("Actor %d left the room", playerLeft.ActorNumber)
	return nil
}

// HandleMasterChanged installs the new room authority.
func (s *Session) HandleMasterChanged(payload json.RawMessage) error {
	masterChanged := &messages.ServerMasterChanged{}
	if err := json.Unmarshal(payload, masterChanged); err != nil {
		return fmt.Errorf("failed to unmarshal master changed: %v", err)
	}

	s.masterActor = masterChanged.ActorNumber
	if s.IsMaster() {
		log.Info("This client is now the room master")
	}
	return nil
}

// HandleRemoteCall dispatches an incoming remote call.
func (s *Session) HandleRemoteCall(payload json.RawMessage) error {
	remoteCall := &messages.ServerRemoteCall{}
	if err := json.Unmarshal(payload, remoteCall); err != nil {
		return fmt.Errorf("failed to unmarshal remote call: %v", err)
	}

	return s.dispatch(remoteCall.SenderActor, remoteCall.Method, remoteCall.Args)
}

func (s *Session) dispatch(senderActor int, method string, args json.RawMessage) error {
	handler, ok := s.handlers[method]
	if !ok {
		log.Warn("No handler registered for remote call %s", method)
		return nil
	}
	return handler(senderActor, args)
}

// IsReady reports whether an actor has declared itself ready.
func (s *Session) IsReady(actorNumber int) bool {
	return s.readyGate.IsReady(actorNumber)
}

func (s *Session) registerDefaultHandlers() {
	s.handlers[MethodSetReady] = func(_ int, args json.RawMessage) error {
		readyArgs := &ReadyArgs{}
		if err := json.Unmarshal(args, readyArgs); err != nil {
			return fmt.Errorf("failed to unmarshal ready args: %v", err)
		}
		s.readyGate.SetReady(readyArgs.Actor, readyArgs.Ready)
		if s.onReadyChanged != nil {
			s.onReadyChanged(readyArgs.Actor, readyArgs.Ready)
		}
		return nil
	}

	s.handlers[MethodStartSession] = func(_ int, _ json.RawMessage) error {
		if s.started {
			return nil
		}
		s.started = true
		if s.onStarted != nil {
			s.onStarted()
		}
		return nil
	}

	s.handlers[MethodKickNotice] = func(_ int, args json.RawMessage) error {
		kickArgs := &KickArgs{}
		if err := json.Unmarshal(args, kickArgs); err != nil {
			return fmt.Errorf("failed to unmarshal kick args: %v", err)
		}
		if kickArgs.TargetActor != s.actorNumber {
			log.Info("Actor %d is being removed from the room", kickArgs.TargetActor)
			return nil
		}
		if s.seenKickRequests[kickArgs.RequestID] {
			return nil
		}
		s.seenKickRequests[kickArgs.RequestID] = true
		s.leaveKicked()
		return nil
	}

	s.handlers[MethodForceLeave] = func(_ int, args json.RawMessage) error {
		kickArgs := &KickArgs{}
		if err := json.Unmarshal(args, kickArgs); err != nil {
			return fmt.Errorf("failed to unmarshal kick args: %v", err)
		}
		if kickArgs.TargetActor != s.actorNumber {
			return nil
		}
		s.leaveKicked()
		return nil
	}

	s.handlers[MethodDropLink] = func(_ int, args json.RawMessage) error {
		kickArgs := &KickArgs{}
		if err := json.Unmarshal(args, kickArgs); err != nil {
			return fmt.Errorf("failed to unmarshal kick args: %v", err)
		}
		if kickArgs.TargetActor != s.actorNumber {
			return nil
		}
		s.kicked = true
		if s.onDropLink != nil {
			s.onDropLink()
		}
		return nil
	}
}

// leaveKicked leaves the room after a removal notice. Safe to call
// more than once.
func (s *Session) leaveKicked() {
	if s.kicked {
		return
	}
	s.kicked = true
	log.Warn("This client was removed from the room")
	if err := s.sender.Send(messages.MessageTypeClientLeaveRoom, nil); err != nil {
		log.Error("Failed to leave the room: %v", err)
	}
	if s.onKicked != nil {
		s.onKicked()
	}
}

// sendKickNotice delivers the notice directly to the target and as a
// broadcast so the rest of the room sees the removal.
func (s *Session) sendKickNotice(targetActor int, requestID string) error {
	args := &KickArgs{TargetActor: targetActor, RequestID: requestID}
	if err := s.Call(MethodKickNotice, messages.TargetActor, targetActor, args); err != nil {
		return err
	}
	return s.Call(MethodKickNotice, messages.TargetOthers, 0, args)
}

func (s *Session) sendCloseConnection(targetActor int) error {
	return s.sender.Send(messages.MessageTypeClientCloseActor, &messages.ClientCloseActor{
		ActorNumber: targetActor,
	})
}

func (s *Session) sendForceLeave(targetActor int, requestID string) error {
	return s.Call(MethodForceLeave, messages.TargetActor, targetActor, &KickArgs{
		TargetActor: targetActor,
		RequestID:   requestID,
	})
}

func (s *Session) sendDropLink(targetActor int, requestID string) error {
	return s.Call(MethodDropLink, messages.TargetActor, targetActor, &KickArgs{
		TargetActor: targetActor,
		RequestID:   requestID,
	})
}

func (s *Session) actorPresent(targetActor int) bool {
	_, ok := s.players[targetActor]
	return ok
}
