package game

import (
	"encoding/json"
	"fmt"
	"math/rand"

	"github.com/awalsh/terminus/client/session"
	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/messages"
	"github.com/awalsh/terminus/pkg/queue"
)

// WinStationTarget is how many anomaly stations clear the run.
const WinStationTarget = 8

// Remote call methods for the shared world objects. The anomaly
// assignment is buffered so late joiners receive the current one;
// everything else is fire-and-forget.
const (
	MethodStartVehicle   = "startVehicle"
	MethodTeleportReturn = "teleportReturn"
	MethodAssignAnomaly  = "assignAnomaly"
	MethodStationArrived = "stationArrived"
	MethodSessionOutcome = "sessionOutcome"
)

const (
	OutcomeWin  = "win"
	OutcomeLose = "lose"
)

// AnomalyArgs is the payload of a MethodAssignAnomaly call.
type AnomalyArgs struct {
	AnomalyID int `json:"anomalyID"`
}

// StationArgs is the payload of a MethodStationArrived call.
type StationArgs struct {
	Count int `json:"count"`
}

// OutcomeArgs is the payload of a MethodSessionOutcome call.
type OutcomeArgs struct {
	Outcome  string `json:"outcome"`
	Stations int    `json:"stations"`
}

// Callbacks are the presentation hooks the game raises. All optional.
type Callbacks struct {
	OnStationArrival  func(count int)
	OnOutcome         func(outcome string, stations int)
	OnRoomListChanged func(rooms []messages.RoomInfo)
	OnReadyChanged    func(actorNumber int, ready bool)
	OnKickOutcome     func(targetActor int, succeeded bool)
	OnKicked          func()
	// OnRiderTeleport is called with the vehicle's teleport delta so
	// riders can be translated by the same amount.
	OnRiderTeleport func(delta float64)
}

// NewGameOptions are the options for creating a Game.
type NewGameOptions struct {
	Sender session.Sender
	// MessageQueue delivers server messages to the update loop.
	MessageQueue queue.Queue
	Clock        session.Clock
	Rng          *rand.Rand
	Callbacks    Callbacks
}

// Game is the headless client loop: it drains server messages, routes
// them to the lobby directory and the room session, and advances the
// shared world replica. When this client is the room authority it also
// originates the vehicle and anomaly broadcasts.
type Game struct {
	sender       session.Sender
	messageQueue queue.Queue
	clock        session.Clock
	callbacks    Callbacks

	directory *session.Directory
	session   *session.Session

	train          *Train
	counter        StationCounter
	assigner       *Assigner
	currentAnomaly int
	teleportSent   bool
	playing        bool
	outcome        string
}

func NewGame(opts NewGameOptions) *Game {
	if opts.Clock == nil {
		opts.Clock = session.NewRealClock()
	}
	g := &Game{
		sender:         opts.Sender,
		messageQueue:   opts.MessageQueue,
		clock:          opts.Clock,
		callbacks:      opts.Callbacks,
		directory:      session.NewDirectory(opts.Sender, opts.Clock),
		assigner:       NewAssigner(opts.Rng),
		currentAnomaly: NormalAnomaly,
	}
	g.resetRoomState()
	return g
}

func (g *Game) Directory() *session.Directory {
	return g.directory
}

func (g *Game) Session() *session.Session {
	return g.session
}

func (g *Game) Train() *Train {
	return g.train
}

func (g *Game) CurrentAnomaly() int {
	return g.currentAnomaly
}

func (g *Game) StationCount() int {
	return g.counter.Count()
}

func (g *Game) Playing() bool {
	return g.playing
}

// Outcome returns the finished run's outcome, if any.
func (g *Game) Outcome() string {
	return g.outcome
}

// resetRoomState builds a fresh session and world replica. Called on
// creation and again on every room entry, since rooms never share
// state.
func (g *Game) resetRoomState() {
	g.session = session.NewSession(g.sender, g.clock)
	g.train = NewTrain(NewTrainOptions{
		Doors:      []*Door{NewDoor(), NewDoor()},
		OnTeleport: g.callbacks.OnRiderTeleport,
	})
	g.counter = StationCounter{}
	g.currentAnomaly = NormalAnomaly
	g.teleportSent = false
	g.playing = false
	g.outcome = ""

	g.session.SetOnStarted(g.handleSessionStarted)
	g.session.SetOnReadyChanged(func(actorNumber int, ready bool) {
		if g.callbacks.OnReadyChanged != nil {
			g.callbacks.OnReadyChanged(actorNumber, ready)
		}
	})
	if g.callbacks.OnKickOutcome != nil {
		g.session.SetOnKickOutcome(g.callbacks.OnKickOutcome)
	}
	g.session.SetOnKicked(func() {
		g.directory.LeftRoom()
		if g.callbacks.OnKicked != nil {
			g.callbacks.OnKicked()
		}
		if err := g.directory.JoinLobby(); err != nil {
			log.Error("Failed to rejoin lobby after removal: %v", err)
		}
	})

	g.session.RegisterHandler(MethodStartVehicle, func(_ int, _ json.RawMessage) error {
		if err := g.train.Start(); err != nil {
			log.Debug("Ignoring duplicate vehicle start: %v", err)
		}
		return nil
	})
	g.session.RegisterHandler(MethodTeleportReturn, func(_ int, _ json.RawMessage) error {
		g.train.TeleportAndReturn()
		return nil
	})
	g.session.RegisterHandler(MethodAssignAnomaly, func(_ int, args json.RawMessage) error {
		anomalyArgs := &AnomalyArgs{}
		if err := json.Unmarshal(args, anomalyArgs); err != nil {
			return fmt.Errorf("failed to unmarshal anomaly args: %v", err)
		}
		g.currentAnomaly = anomalyArgs.AnomalyID
		log.Debug("Current anomaly is now %s", VariantName(g.currentAnomaly))
		return nil
	})
	g.session.RegisterHandler(MethodStationArrived, func(_ int, args json.RawMessage) error {
		stationArgs := &StationArgs{}
		if err := json.Unmarshal(args, stationArgs); err != nil {
			return fmt.Errorf("failed to unmarshal station args: %v", err)
		}
		if g.callbacks.OnStationArrival != nil {
			g.callbacks.OnStationArrival(stationArgs.Count)
		}
		return nil
	})
	g.session.RegisterHandler(MethodSessionOutcome, func(_ int, args json.RawMessage) error {
		outcomeArgs := &OutcomeArgs{}
		if err := json.Unmarshal(args, outcomeArgs); err != nil {
			return fmt.Errorf("failed to unmarshal outcome args: %v", err)
		}
		if g.outcome != "" {
			return nil
		}
		g.outcome = outcomeArgs.Outcome
		g.playing = false
		if g.callbacks.OnOutcome != nil {
			g.callbacks.OnOutcome(outcomeArgs.Outcome, outcomeArgs.Stations)
		}
		return nil
	})
}

// handleSessionStarted flips into play. The authority also rolls and
// broadcasts the first anomaly assignment.
func (g *Game) handleSessionStarted() {
	g.playing = true
	if !g.session.IsMaster() {
		return
	}
	g.assignNextAnomaly(0)
}

func (g *Game) assignNextAnomaly(stationCount int) {
	next := g.assigner.Assign(stationCount)
	g.currentAnomaly = next
	if err := g.session.Call(MethodAssignAnomaly, messages.TargetAllBuffered, 0, &AnomalyArgs{AnomalyID: next}); err != nil {
		log.Error("Failed to broadcast anomaly assignment: %v", err)
	}
}

// DepartStation starts the next run. Authority only, vehicle must be
// idle. A scheduled station-counter reset takes effect here.
func (g *Game) DepartStation() error {
	if !g.session.IsMaster() {
		return fmt.Errorf("only the room master can start the vehicle")
	}
	if !g.playing {
		return fmt.Errorf("the session has not started")
	}
	if g.train.State() != TrainIdle {
		return fmt.Errorf("cannot depart while the vehicle is %s", g.train.State())
	}

	g.counter.Depart()
	if err := g.train.Start(); err != nil {
		return fmt.Errorf("failed to start the vehicle: %v", err)
	}
	g.teleportSent = false
	if err := g.session.Call(MethodStartVehicle, messages.TargetOthers, 0, nil); err != nil {
		return fmt.Errorf("failed to broadcast vehicle start: %v", err)
	}
	return nil
}

// ReportLoss ends the run as lost. Authority only.
func (g *Game) ReportLoss() error {
	if !g.session.IsMaster() {
		return fmt.Errorf("only the room master can end the session")
	}
	return g.finishSession(OutcomeLose, g.counter.Count())
}

func (g *Game) finishSession(outcome string, stations int) error {
	if g.outcome == "" {
		g.outcome = outcome
		g.playing = false
		if g.callbacks.OnOutcome != nil {
			g.callbacks.OnOutcome(outcome, stations)
		}
	}
	if err := g.session.Call(MethodSessionOutcome, messages.TargetOthers, 0, &OutcomeArgs{
		Outcome:  outcome,
		Stations: stations,
	}); err != nil {
		return fmt.Errorf("failed to broadcast outcome: %v", err)
	}
	if err := g.sender.Send(messages.MessageTypeClientSessionResult, &messages.ClientSessionResult{
		Outcome:         outcome,
		StationsCleared: stations,
	}); err != nil {
		return fmt.Errorf("failed to report session result: %v", err)
	}
	return nil
}

// handleArrival runs the authority's station bookkeeping after the
// vehicle pulls back in.
func (g *Game) handleArrival() {
	g.teleportSent = false
	if !g.session.IsMaster() {
		return
	}

	count := g.counter.Arrive(g.currentAnomaly)
	if err := g.session.Call(MethodStationArrived, messages.TargetOthers, 0, &StationArgs{Count: count}); err != nil {
		log.Error("Failed to broadcast station arrival: %v", err)
	}
	if g.callbacks.OnStationArrival != nil {
		g.callbacks.OnStationArrival(count)
	}

	if count >= WinStationTarget {
		if err := g.finishSession(OutcomeWin, count); err != nil {
			log.Error("Failed to finish the session: %v", err)
		}
		return
	}

	g.assignNextAnomaly(count)
}

// HandleMessage routes one server message.
func (g *Game) HandleMessage(msg *messages.Message) error {
	switch msg.Type {
	case messages.MessageTypeServerLobbyJoined:
		if err := g.directory.HandleLobbyJoined(msg.Payload); err != nil {
			return err
		}
		g.notifyRoomList()
	case messages.MessageTypeServerRoomListDiff:
		if err := g.directory.HandleRoomListDiff(msg.Payload); err != nil {
			return err
		}
		g.notifyRoomList()
	case messages.MessageTypeServerRoomJoined:
		snapshot, err := g.directory.HandleRoomJoined(msg.Payload)
		if err != nil {
			return err
		}
		if snapshot == nil {
			// The directory declined the room and is leaving it.
			return nil
		}
		g.resetRoomState()
		g.session.Join(snapshot)
	case messages.MessageTypeServerRoomJoinError:
		return g.directory.HandleJoinError(msg.Payload)
	case messages.MessageTypeServerPlayerJoined:
		return g.session.HandlePlayerJoined(msg.Payload)
	case messages.MessageTypeServerPlayerLeft:
		return g.session.HandlePlayerLeft(msg.Payload)
	case messages.MessageTypeServerMasterChanged:
		return g.session.HandleMasterChanged(msg.Payload)
	case messages.MessageTypeServerRemoteCall:
		return g.session.HandleRemoteCall(msg.Payload)
	case messages.MessageTypeServerDisconnect:
		disconnect := &messages.ServerDisconnect{}
		if err := json.Unmarshal(msg.Payload, disconnect); err != nil {
			return fmt.Errorf("failed to unmarshal disconnect: %v", err)
		}
		log.Warn("Disconnected by the server: %s", disconnect.Reason)
		g.directory.Disconnected()
	default:
		log.Warn("Unhandled server message type: %s", msg.Type)
	}
	return nil
}

// Update drains pending server messages and advances the world by dt
// seconds. Call it once per tick.
func (g *Game) Update(dt float64) error {
	if g.messageQueue != nil {
		pending, err := g.messageQueue.ReadAllMessages()
		if err != nil {
			return fmt.Errorf("failed to read server messages: %v", err)
		}
		for _, item := range pending {
			msg, ok := item.(*messages.Message)
			if !ok {
				log.Error("Unexpected message queue item: %T", item)
				continue
			}
			if err := g.HandleMessage(msg); err != nil {
				log.Error("Failed to handle %s message: %v", msg.Type, err)
			}
		}
	}

	g.directory.Update()
	g.session.Update()

	if !g.playing {
		return nil
	}

	if g.session.IsMaster() && g.train.AtTrigger() && !g.teleportSent {
		g.teleportSent = true
		g.train.TeleportAndReturn()
		if err := g.session.Call(MethodTeleportReturn, messages.TargetOthers, 0, nil); err != nil {
			log.Error("Failed to broadcast teleport: %v", err)
		}
	}

	if arrived := g.train.Update(dt); arrived {
		g.handleArrival()
	}

	return nil
}

func (g *Game) notifyRoomList() {
	if g.callbacks.OnRoomListChanged != nil {
		g.callbacks.OnRoomListChanged(g.directory.Rooms())
	}
}
