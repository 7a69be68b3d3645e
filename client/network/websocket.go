package network

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/messages"
	"github.com/awalsh/terminus/pkg/queue"
	"nhooyr.io/websocket"
)

// WSClient represents a WebSocket client.
type WSClient struct {
	serverAddr   string
	messageQueue queue.Queue
	welcomeChan  chan<- *messages.ServerWelcome
	pongChan     chan<- *messages.ServerPong
	conn         *websocket.Conn
	writeLock    sync.Mutex
}

// NewWSClient creates a new WebSocket client.
func NewWSClient(serverAddr string, messageQueue queue.Queue, welcomeChan chan<- *messages.ServerWelcome, pongChan chan<- *messages.ServerPong) *WSClient {
	return &WSClient{
		serverAddr:   serverAddr,
		messageQueue: messageQueue,
		welcomeChan:  welcomeChan,
		pongChan:     pongChan,
	}
}

// Connect establishes a connection to the WebSocket server.
func (c *WSClient) Connect(ctx context.Context) error {
	log.Info("Connecting to WebSocket server at %s", c.serverAddr)
	conn, _, err := websocket.Dial(ctx, c.serverAddr, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %v", err)
	}
	c.conn = conn
	return nil
}

// HandleMessages handles incoming messages from the WebSocket server.
func (c *WSClient) HandleMessages(ctx context.Context) error {
	defer c.conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, b, err := c.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Trace("Connection closed by server")
				return &ErrConnectionClosedByServer{}
			}
			if ctx.Err() != nil {
				return &ErrConnectionClosedByClient{}
			}
			return err
		}

		if err := c.handleMessage(b); err != nil {
			log.Error("Failed to handle message: %v", err)
		}
	}
}

// handleMessage processes a received message.
func (c *WSClient) handleMessage(b []byte) error {
	msg, err := messages.DeserializeMessage(b)
	if err != nil {
		return fmt.Errorf("failed to deserialize message: %v", err)
	}
	log.Trace("Received message from WebSocket server of type %s", msg.Type)

	switch msg.Type {
	case messages.MessageTypeServerWelcome:
		welcome := &messages.ServerWelcome{}
		if err := json.Unmarshal(msg.Payload, welcome); err != nil {
			return fmt.Errorf("failed to deserialize server welcome message: %v", err)
		}
		c.welcomeChan <- welcome
	case messages.MessageTypeServerPong:
		pong := &messages.ServerPong{}
		if err := json.Unmarshal(msg.Payload, pong); err != nil {
			return fmt.Errorf("failed to deserialize server pong message: %v", err)
		}
		c.pongChan <- pong
	case messages.MessageTypeServerLobbyJoined,
		messages.MessageTypeServerRoomListDiff,
		messages.MessageTypeServerRoomJoined,
		messages.MessageTypeServerRoomJoinError,
		messages.MessageTypeServerPlayerJoined,
		messages.MessageTypeServerPlayerLeft,
		messages.MessageTypeServerMasterChanged,
		messages.MessageTypeServerRemoteCall,
		messages.MessageTypeServerDisconnect:
		if err := c.messageQueue.Enqueue(msg); err != nil {
			return fmt.Errorf("failed to enqueue message: %v", err)
		}
	default:
		return fmt.Errorf("received unexpected message type from WebSocket server: %s", msg.Type)
	}

	return nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	if c.conn == nil {
		log.Warn("WebSocket connection is already closed")
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// SendMessage sends a message to the WebSocket server.
func (c *WSClient) SendMessage(ctx context.Context, msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return fmt.Errorf("failed to write message to WebSocket connection: %v", err)
	}

	return nil
}
