package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/network"
	"github.com/awalsh/terminus/pkg/queue"
	"github.com/awalsh/terminus/pkg/relay"
	"github.com/awalsh/terminus/pkg/repositories"
	"github.com/awalsh/terminus/pkg/rooms"
	"github.com/awalsh/terminus/pkg/version"
	"github.com/awalsh/terminus/pkg/workers"
)

func main() {
	wsPort := flag.Int("ws-port", 8888, "WebSocket port to listen on")
	certFile := flag.String("cert-file", "", "TLS certificate file")
	keyFile := flag.String("key-file", "", "TLS key file")
	dbPath := flag.String("db-path", "terminus.db", "Path to the SQLite database file")
	migrations := flag.String("migrations", "migrations/sqlite", "Path to the SQLite migrations directory")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	parsedLogLevel, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		panic(fmt.Sprintf("Failed to parse log level: %v", err))
	}

	logger := log.New(os.Stdout, "", log.DefaultLoggerFlag, parsedLogLevel)
	log.SetDefaultLogger(logger)
	log.Info("Log level set to %s", parsedLogLevel)

	log.Info("Starting server version %s", version.Get())
	ctx := context.Background()

	var repository repositories.Repository
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		repository, err = repositories.NewPostgresRepository(ctx, connStr)
		if err != nil {
			panic(fmt.Sprintf("Failed to create postgres repository: %v", err))
		}
	} else {
		repository, err = repositories.NewSQLiteRepository(ctx, *dbPath, *migrations)
		if err != nil {
			panic(fmt.Sprintf("Failed to create sqlite repository: %v", err))
		}
	}
	defer repository.Close(ctx)

	var tlsConfig *network.TLSConfig
	if *certFile != "" && *keyFile != "" {
		tlsConfig = &network.TLSConfig{
			CertFile: *certFile,
			KeyFile:  *keyFile,
		}
	}

	clientManager := network.NewClientManager()
	clientMessageQueue := queue.NewInMemoryQueue(10000)
	networkManager := network.NewNetworkManager(network.NewNetworkManagerOptions{
		ClientManager: clientManager,
		MessageQueue:  clientMessageQueue,
		Repository:    repository,
		WSPort:        *wsPort,
		WSServerTLS:   tlsConfig,
	})
	networkManager.Start(ctx)

	connectionEventQueue := queue.NewInMemoryQueue(1000)
	connectionEventWorker := workers.NewConnectionEventWorker(workers.NewConnectionEventWorkerOptions{
		ClientEventChan:  clientManager.GetClientEventChan(),
		ServerEventQueue: connectionEventQueue,
	})
	go connectionEventWorker.Start(ctx)

	saveResultChan := make(chan workers.SaveSessionResultRequest, 100)
	saveSessionResultWorker := workers.NewSaveSessionResultWorker(workers.NewSaveSessionResultWorkerOptions{
		Repository:     repository,
		SaveResultChan: saveResultChan,
	})
	go saveSessionResultWorker.Start(ctx)

	relayManager := relay.NewRelayManager(relay.NewRelayManagerOptions{
		ClientManager:        clientManager,
		Sender:               networkManager,
		RoomManager:          rooms.NewRoomManager(),
		ClientMessageQueue:   clientMessageQueue,
		ConnectionEventQueue: connectionEventQueue,
		SaveResultChan:       saveResultChan,
	})

	log.Info("Starting relay manager")
	if err := relayManager.Start(ctx); err != nil {
		panic(fmt.Sprintf("Relay manager stopped: %v", err))
	}
}
