package network

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/messages"
	"github.com/awalsh/terminus/pkg/queue"
	"github.com/awalsh/terminus/pkg/repositories"
	"nhooyr.io/websocket"
)

const (
	// MaxDisplayNameLength is the maximum length of a client display name
	MaxDisplayNameLength = 20
)

type NetworkManager struct {
	ClientManager *ClientManager
	MessageQueue  queue.Queue
	Repository    repositories.Repository
	WSServer      *WSServer
}

type NewNetworkManagerOptions struct {
	ClientManager *ClientManager
	MessageQueue  queue.Queue
	Repository    repositories.Repository
	WSPort        int
	WSServerTLS   *TLSConfig
}

func NewNetworkManager(options NewNetworkManagerOptions) *NetworkManager {
	return &NetworkManager{
		ClientManager: options.ClientManager,
		MessageQueue:  options.MessageQueue,
		Repository:    options.Repository,
		WSServer: NewWSServer(NewWSServerOptions{
			Port: options.WSPort,
			TLS:  options.WSServerTLS,
		}),
	}
}

func (n *NetworkManager) Start(ctx context.Context) {
	go n.WSServer.Start(ctx, n.handleDisconnect, n.handleMessage)
}

type DisconnectHandler func(wsConn *websocket.Conn)

func (n *NetworkManager) handleDisconnect(wsConn *websocket.Conn) {
	clientID := n.ClientManager.GetClientIDByWSConn(wsConn)
	if clientID == 0 {
		log.Warn("Unknown client disconnected")
		return
	}

	n.ClientManager.DisconnectClient(clientID)
	log.Info("Client %d disconnected", clientID)
}

type MessageHandler func(ctx context.Context, wsConn *websocket.Conn, message *messages.Message)

func (n *NetworkManager) handleMessage(ctx context.Context, wsConn *websocket.Conn, message *messages.Message) {
	if message.ClientID == 0 && message.Type != messages.MessageTypeClientHello {
		log.Warn("Received message from unknown client that is not a hello message")
		return
	}

	switch message.Type {
	case messages.MessageTypeClientHello:
		clientID, err := n.handleClientHello(ctx, wsConn, message)
		if err != nil {
			log.Error("Failed to handle client hello: %v", err)
			return
		}
		log.Info("Client %d connected", clientID)
	case messages.MessageTypeClientPing:
		if err := n.handleClientPing(ctx, message); err != nil {
			log.Error("Failed to handle client ping: %v", err)
		}
	default:
		if err := n.MessageQueue.Enqueue(message); err != nil {
			log.Error("Failed to enqueue message: %v", err)
		}
	}
}

// handleClientHello registers the connection and replies with the assigned
// client ID and display name. An empty name gets a generated one.
func (n *NetworkManager) handleClientHello(ctx context.Context, wsConn *websocket.Conn, message *messages.Message) (uint32, error) {
	clientHello := &messages.ClientHello{}
	if err := json.Unmarshal(message.Payload, clientHello); err != nil {
		return 0, fmt.Errorf("failed to unmarshal client hello: %v", err)
	}

	name := clientHello.Name
	if name == "" {
		name = fmt.Sprintf("Player%04d", rand.Intn(10000))
	}
	if len(name) > MaxDisplayNameLength {
		name = name[:MaxDisplayNameLength]
	}

	if n.Repository != nil {
		if _, err := n.Repository.UpsertProfile(ctx, name, time.Now().UnixMilli()); err != nil {
			log.Error("Failed to upsert profile for %s: %v", name, err)
		}
	}

	clientID, err := n.ClientManager.ConnectClient(wsConn, name)
	if err != nil {
		return 0, fmt.Errorf("failed to connect client: %v", err)
	}

	welcome, err := messages.NewMessage(0, messages.MessageTypeServerWelcome, &messages.ServerWelcome{
		ClientID: clientID,
		Name:     name,
	})
	if err != nil {
		return clientID, fmt.Errorf("failed to create welcome message: %v", err)
	}

	if err := n.SendMessageToClient(ctx, clientID, welcome); err != nil {
		return clientID, fmt.Errorf("failed to send welcome message: %v", err)
	}

	return clientID, nil
}

func (n *NetworkManager) handleClientPing(ctx context.Context, message *messages.Message) error {
	clientPing := &messages.ClientPing{}
	if err := json.Unmarshal(message.Payload, clientPing); err != nil {
		return fmt.Errorf("failed to unmarshal client ping: %v", err)
	}

	pong, err := messages.NewMessage(0, messages.MessageTypeServerPong, &messages.ServerPong{
		Timestamp:       time.Now().UnixMilli(),
		ClientTimestamp: clientPing.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to create pong message: %v", err)
	}

	if err := n.SendMessageToClient(ctx, message.ClientID, pong); err != nil {
		return fmt.Errorf("failed to send pong message: %v", err)
	}

	return nil
}

func (n *NetworkManager) SendMessageToClient(ctx context.Context, clientID uint32, msg *messages.Message) error {
	client, err := n.ClientManager.GetClient(clientID)
	if err != nil {
		return fmt.Errorf("failed to get client %d: %v", clientID, err)
	}

	if err := WriteMessageToWS(ctx, client.WSConn, msg); err != nil {
		return fmt.Errorf("failed to write message to client %d: %v", clientID, err)
	}

	return nil
}

func (n *NetworkManager) SendMessageToAll(ctx context.Context, msg *messages.Message) {
	for _, client := range n.ClientManager.GetClients() {
		if err := WriteMessageToWS(ctx, client.WSConn, msg); err != nil {
			log.Error("Failed to send message to client %d: %v", client.ID, err)
		}
	}
}

// CloseClientConnection sends a disconnect notice and drops the connection.
func (n *NetworkManager) CloseClientConnection(ctx context.Context, clientID uint32, reason string) error {
	client, err := n.ClientManager.GetClient(clientID)
	if err != nil {
		return fmt.Errorf("failed to get client %d: %v", clientID, err)
	}

	notice, err := messages.NewMessage(0, messages.MessageTypeServerDisconnect, &messages.ServerDisconnect{
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("failed to create disconnect message: %v", err)
	}

	if err := WriteMessageToWS(ctx, client.WSConn, notice); err != nil {
		log.Warn("Failed to send disconnect notice to client %d: %v", clientID, err)
	}

	if err := client.WSConn.Close(websocket.StatusNormalClosure, reason); err != nil {
		return fmt.Errorf("failed to close connection for client %d: %v", clientID, err)
	}

	return nil
}
