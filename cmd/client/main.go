package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/awalsh/terminus/client/game"
	"github.com/awalsh/terminus/client/network"
	"github.com/awalsh/terminus/client/session"
	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/messages"
	"github.com/awalsh/terminus/pkg/queue"
	"github.com/awalsh/terminus/pkg/version"
)

const clientTickInterval = 50 * time.Millisecond

// stationDwell is how long the master idles at a station before
// departing again.
const stationDwell = 5 * time.Second

func main() {
	serverAddr := flag.String("addr", network.DefaultServerAddr, "Server address")
	name := flag.String("name", "", "Display name")
	roomName := flag.String("room", "", "Room to join, created if missing")
	password := flag.String("password", "", "Room password")
	isPrivate := flag.Bool("private", false, "Create the room as private")
	maxPlayers := flag.Int("max-players", 2, "Room capacity when creating")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		fmt.Printf("Error: failed to parse log level: %v\n", err)
		os.Exit(1)
	}
	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Client version: %s", version.Get())

	messageQueue := queue.NewInMemoryQueue(1024)
	networkManager := network.NewNetworkManager(*serverAddr, messageQueue)

	g := game.NewGame(game.NewGameOptions{
		Sender:       networkManager,
		MessageQueue: messageQueue,
		Callbacks: game.Callbacks{
			OnRoomListChanged: func(rooms []messages.RoomInfo) {
				for _, info := range rooms {
					log.Info("Room %s (%d/%d)", info.Name, info.PlayerCount, info.MaxPlayers)
				}
			},
			OnStationArrival: func(count int) {
				log.Info("Arrived at station %d", count)
			},
			OnOutcome: func(outcome string, stations int) {
				log.Info("Session over: %s after %d stations", outcome, stations)
			},
			OnReadyChanged: func(actorNumber int, ready bool) {
				log.Info("Actor %d ready: %t", actorNumber, ready)
			},
			OnKickOutcome: func(targetActor int, succeeded bool) {
				log.Info("Removal of actor %d succeeded: %t", targetActor, succeeded)
			},
			OnKicked: func() {
				log.Warn("Removed from the room")
			},
		},
	})

	if err := networkManager.Start(*name); err != nil {
		log.Error("Failed to connect: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := networkManager.Stop(); err != nil {
			log.Error("Failed to stop network manager: %v", err)
		}
	}()
	log.Info("Connected as %s", networkManager.ClientName())

	if err := g.Directory().JoinLobby(); err != nil {
		log.Error("Failed to join lobby: %v", err)
		os.Exit(1)
	}

	run(g, networkManager, *roomName, *password, *isPrivate, *maxPlayers)
}

// run drives the game loop until the network drops or the session
// finishes.
func run(g *game.Game, networkManager *network.NetworkManager, roomName string, password string, isPrivate bool, maxPlayers int) {
	ticker := time.NewTicker(clientTickInterval)
	defer ticker.Stop()

	var ready bool
	var arrivedAt time.Time
	last := time.Now()

	for {
		select {
		case err := <-networkManager.ErrChan():
			log.Error("Network error: %v", err)
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			if err := g.Update(dt); err != nil {
				log.Error("Failed to update: %v", err)
				return
			}

			if err := autopilot(g, roomName, password, isPrivate, maxPlayers, &ready, &arrivedAt); err != nil {
				log.Error("Failed to act: %v", err)
			}

			if g.Outcome() != "" {
				return
			}
		}
	}
}

// autopilot takes the place of a player at the controls: it enters the
// requested room, readies up, and when this client holds authority it
// departs after a dwell at each station.
func autopilot(g *game.Game, roomName string, password string, isPrivate bool, maxPlayers int, ready *bool, arrivedAt *time.Time) error {
	directory := g.Directory()
	s := g.Session()

	if directory.Status() == session.StatusInLobby && roomName != "" {
		for _, info := range directory.Rooms() {
			if info.Name == roomName {
				return directory.JoinRoom(roomName, password)
			}
		}
		return directory.CreateRoom(roomName, maxPlayers, isPrivate, password)
	}

	if directory.Status() != session.StatusInRoom {
		return nil
	}

	if !s.Started() {
		if !s.IsMaster() && !*ready {
			*ready = true
			return s.SetReady(true)
		}
		if s.CanStart() {
			return s.Start()
		}
		return nil
	}

	if s.IsMaster() && g.Playing() && g.Train().State() == game.TrainIdle {
		if arrivedAt.IsZero() {
			*arrivedAt = time.Now()
			return nil
		}
		if time.Since(*arrivedAt) >= stationDwell {
			*arrivedAt = time.Time{}
			return g.DepartStation()
		}
	}

	return nil
}
